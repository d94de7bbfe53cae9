package detect

import "math"

const (
	// SampleSize bounds the window examined by the entropy gate and the
	// validity oracle.
	SampleSize = 1024

	// EntropyThreshold in bits per byte. Plaintext SWF substructures rarely
	// exceed it.
	EntropyThreshold = 7.0
)

// Sample returns the first SampleSize bytes of data, or all of it.
func Sample(data []byte) []byte {
	if len(data) > SampleSize {
		return data[:SampleSize]
	}
	return data
}

// Entropy is the Shannon entropy of data's byte-value distribution in bits
// per byte: H = -sum(p_i * log2(p_i)). Empty input has entropy 0.
func Entropy(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}

	var counts [256]int
	for _, b := range data {
		counts[b]++
	}

	n := float64(len(data))
	h := 0.0
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / n
		h -= p * math.Log2(p)
	}
	return h
}

// SampleEntropy is Entropy over Sample(data).
func SampleEntropy(data []byte) float64 {
	return Entropy(Sample(data))
}
