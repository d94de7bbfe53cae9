package detect

import "bytes"

// Oracle thresholds.
const (
	MinValidLength    = 8
	MinUniqueBytes    = 20 // exclusive
	MaxFrequencyRatio = 0.3
)

// LooksValid decides whether a candidate plaintext is plausible Flash
// content. A known marker in the first SampleSize bytes accepts
// immediately; otherwise the sample needs more than MinUniqueBytes distinct
// byte values and no byte may make up MaxFrequencyRatio or more of it.
func LooksValid(candidate []byte) bool {
	if len(candidate) < MinValidLength {
		return false
	}

	sample := Sample(candidate)
	if hasMarker(sample) {
		return true
	}

	unique, maxRatio := distribution(sample)
	return unique > MinUniqueBytes && maxRatio < MaxFrequencyRatio
}

func hasMarker(sample []byte) bool {
	for _, m := range flashMarkers {
		if bytes.Contains(sample, m) {
			return true
		}
	}
	return false
}

// distribution returns the number of distinct byte values in sample and
// the share of the most frequent one.
func distribution(sample []byte) (unique int, maxRatio float64) {
	if len(sample) == 0 {
		return 0, 0
	}

	var counts [256]int
	maxCount := 0
	for _, b := range sample {
		counts[b]++
		if counts[b] == 1 {
			unique++
		}
		if counts[b] > maxCount {
			maxCount = counts[b]
		}
	}
	return unique, float64(maxCount) / float64(len(sample))
}
