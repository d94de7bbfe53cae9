// Package detect decides whether a tag payload is encrypted and how.
package detect

import (
	"bytes"
	"encoding/binary"
	"log/slog"
	"slices"

	"github.com/samber/lo"
	"github.com/sourcegraph/conc/iter"

	"github.com/ossyrian/evoswf/internal/cache"
	"github.com/ossyrian/evoswf/internal/swf"
	swftypes "github.com/ossyrian/evoswf/internal/types"
)

type Options struct {
	Cache  cache.Cache
	Logger *slog.Logger
	// PositionXOR adds position-seeded dualkey and window trials for
	// high-entropy tags of unknown codes.
	PositionXOR bool
}

// Classifier produces an EncryptionInfo per tag. It holds no per-tag state
// and is safe for concurrent use when its cache is.
type Classifier struct {
	cache       cache.Cache
	logger      *slog.Logger
	positionXOR bool
}

func NewClassifier(opts Options) *Classifier {
	c := &Classifier{
		cache:       opts.Cache,
		logger:      opts.Logger,
		positionXOR: opts.PositionXOR,
	}
	if c.cache == nil {
		c.cache = cache.Nop{}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Classify returns the verdict for tag. An encrypted verdict carries the
// plaintext of payload[HeaderSize:] in Decrypted.
func (c *Classifier) Classify(tag swf.TagRecord) swftypes.EncryptionInfo {
	if tag.IsEnd() || len(tag.Payload) == 0 {
		return swftypes.Plain(swftypes.BasisNone)
	}

	key := c.CacheKey(tag)
	if info, ok := c.cache.Get(key); ok {
		if info, ok = c.reopen(tag, info); ok {
			return info
		}
	}

	info := c.classify(tag)
	c.cache.Set(key, info)
	return info
}

// CacheKey is the cache key of tag under this classifier's options, so
// verdicts reached with position-seeded trials are not served to a
// classifier without them.
func (c *Classifier) CacheKey(tag swf.TagRecord) string {
	variant := "std"
	if c.positionXOR {
		variant = "posxor"
	}
	return cache.Key(variant, tag.Code, tag.Payload)
}

// ClassifyAll classifies tags on up to workers goroutines. Results are in
// tag order.
func (c *Classifier) ClassifyAll(tags []swf.TagRecord, workers int) []swftypes.EncryptionInfo {
	if workers < 1 {
		workers = 1
	}
	mapper := iter.Mapper[swf.TagRecord, swftypes.EncryptionInfo]{MaxGoroutines: workers}
	return mapper.Map(tags, func(t *swf.TagRecord) swftypes.EncryptionInfo {
		return c.Classify(*t)
	})
}

// reopen rebuilds the plaintext of a cached verdict.
func (c *Classifier) reopen(tag swf.TagRecord, info swftypes.EncryptionInfo) (swftypes.EncryptionInfo, bool) {
	if !info.Encrypted {
		return info, true
	}
	out, err := swf.Open(tag.Payload, info)
	if err != nil {
		c.logger.Warn("cached verdict no longer applies", "code", tag.Code, "offset", tag.Offset, "error", err)
		return swftypes.EncryptionInfo{}, false
	}
	info.Decrypted = out[info.HeaderSize:]
	return info, true
}

func (c *Classifier) classify(tag swf.TagRecord) swftypes.EncryptionInfo {
	if info, ok := embeddedKey(tag); ok {
		c.logger.Debug("embedded key", "code", tag.Code, "offset", tag.Offset, "key", info.Key)
		return info
	}
	if rule, ok := RuleFor(tag.Code); ok {
		return c.applyRule(tag, rule)
	}
	return c.heuristic(tag)
}

func embeddedKey(tag swf.TagRecord) (swftypes.EncryptionInfo, bool) {
	if tag.Code != swf.TagDoABC && tag.Code != swf.TagDoABC1 {
		return swftypes.EncryptionInfo{}, false
	}
	if len(tag.Payload) < embeddedKeyHeaderSize || !bytes.HasPrefix(tag.Payload, embeddedKeyMarker) {
		return swftypes.EncryptionInfo{}, false
	}

	key := slices.Clone(tag.Payload[2:embeddedKeyHeaderSize])
	return swftypes.EncryptionInfo{
		Encrypted:  true,
		Method:     swftypes.MethodXOR,
		Key:        key,
		Mode:       swftypes.XORKeyed,
		HeaderSize: embeddedKeyHeaderSize,
		Confidence: ConfidenceEmbeddedKey,
		Basis:      swftypes.BasisEmbeddedKey,
		Decrypted:  swf.KeyedXOR(tag.Payload[embeddedKeyHeaderSize:], binary.BigEndian.Uint32(key)),
	}, true
}

// candidates expands a rule into the verdicts to try, in order.
func (r Rule) candidates() []swftypes.EncryptionInfo {
	base := swftypes.EncryptionInfo{
		Encrypted:  true,
		Method:     r.Method,
		HeaderSize: r.HeaderSize,
		Confidence: ConfidenceKnownRule,
		Basis:      swftypes.BasisKnownRule,
	}
	if r.Method == swftypes.MethodMulti {
		base.Layers = r.Layers
		return []swftypes.EncryptionInfo{base}
	}
	keyed := lo.Map(r.Keys, func(k []byte, _ int) swftypes.EncryptionInfo {
		info := base
		info.Key = k
		return info
	})
	patterns := lo.Map(r.Patterns, func(l swftypes.Layer, _ int) swftypes.EncryptionInfo {
		info := base
		info.Method = l.Method
		info.Key = l.Key
		info.Mode = l.Mode
		return info
	})
	return append(keyed, patterns...)
}

// applyRule returns the first candidate whose plaintext is plausible. When
// none does, the first candidate is still applied: the code alone is
// evidence of the scheme.
func (c *Classifier) applyRule(tag swf.TagRecord, rule Rule) swftypes.EncryptionInfo {
	if len(tag.Payload) <= rule.HeaderSize {
		return swftypes.Plain(swftypes.BasisKnownRule)
	}
	body := tag.Payload[rule.HeaderSize:]

	candidates := rule.candidates()
	var fallback *swftypes.EncryptionInfo
	for i := range candidates {
		info := candidates[i]
		out, err := trial(body, info)
		if err != nil {
			c.logger.Debug("candidate failed", "code", tag.Code, "rule", rule.Name, "error", err)
			continue
		}
		info.Decrypted = out
		if plausible(out) {
			c.logger.Debug("known rule matched", "code", tag.Code, "offset", tag.Offset, "rule", rule.Name, "scheme", info.String())
			return info
		}
		if fallback == nil {
			fallback = &info
		}
	}

	if fallback == nil {
		return swftypes.Plain(swftypes.BasisKnownRule)
	}
	c.logger.Debug("known rule applied without validation", "code", tag.Code, "offset", tag.Offset, "rule", rule.Name)
	return *fallback
}

// heuristic handles tags of unknown codes. Low entropy means plaintext; high
// entropy needs a plausible trial decryption.
func (c *Classifier) heuristic(tag swf.TagRecord) swftypes.EncryptionInfo {
	if SampleEntropy(tag.Payload) <= EntropyThreshold {
		return swftypes.Plain(swftypes.BasisLowEntropy)
	}

	for _, info := range c.trialCandidates(tag) {
		out, err := trial(tag.Payload, info)
		if err != nil {
			continue
		}
		if plausible(out) {
			info.Decrypted = out
			c.logger.Debug("heuristic match", "code", tag.Code, "offset", tag.Offset, "scheme", info.String())
			return info
		}
	}

	c.logger.Debug("no candidate validated", "code", tag.Code, "offset", tag.Offset, "length", tag.Length)
	return swftypes.Plain(swftypes.BasisAmbiguous)
}

func (c *Classifier) trialCandidates(tag swf.TagRecord) []swftypes.EncryptionInfo {
	heuristicInfo := func(method swftypes.Method, key []byte, mode swftypes.XORMode, conf float64) swftypes.EncryptionInfo {
		return swftypes.EncryptionInfo{
			Encrypted:  true,
			Method:     method,
			Key:        key,
			Mode:       mode,
			Confidence: conf,
			Basis:      swftypes.BasisHeuristic,
		}
	}

	out := make([]swftypes.EncryptionInfo, 0, len(globalKeys)+len(xorPatterns)+2)
	for _, k := range globalKeys {
		out = append(out, heuristicInfo(swftypes.MethodRC4, k, swftypes.XORRepeat, ConfidenceRC4))
	}
	for _, p := range xorPatterns {
		out = append(out, heuristicInfo(swftypes.MethodXOR, p, swftypes.XORRepeat, ConfidenceXOR))
	}
	if c.positionXOR {
		pos := swf.PositionKey(uint32(tag.Offset + tag.HeaderSize))
		out = append(out,
			heuristicInfo(swftypes.MethodXOR, pos, swftypes.XORDualKey, ConfidenceXOR),
			heuristicInfo(swftypes.MethodXOR, pos, swftypes.XORWindow, ConfidenceXOR),
		)
	}
	return out
}

// plausible accepts a trial plaintext that passes the oracle and is below
// the entropy gate. Wrong keys yield noise, which has the byte diversity
// the oracle looks for.
func plausible(out []byte) bool {
	return LooksValid(out) && SampleEntropy(out) <= EntropyThreshold
}

func trial(body []byte, info swftypes.EncryptionInfo) ([]byte, error) {
	cipher, err := swf.CipherFor(info)
	if err != nil {
		return nil, err
	}
	return cipher.Apply(body, swf.Decrypt)
}
