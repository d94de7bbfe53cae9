// Package cache memoizes tag classification results.
//
// Entries are keyed by classifier variant, tag code and payload hash and carry the time they
// were stored; an entry older than its TTL is a miss. The decrypted buffer
// of a verdict is never cached.
package cache

import (
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"

	swftypes "github.com/ossyrian/evoswf/internal/types"
)

// DefaultTTL is how long a classification stays valid.
const DefaultTTL = time.Hour

// Cache stores classification verdicts. Implementations are safe for
// concurrent use.
type Cache interface {
	Get(key string) (swftypes.EncryptionInfo, bool)
	Set(key string, info swftypes.EncryptionInfo)
	Close() error
}

// Entry is a stored verdict with its timestamp.
type Entry struct {
	Info   swftypes.EncryptionInfo `msgpack:"info"`
	Stored time.Time               `msgpack:"stored"`
}

func (e Entry) expired(now time.Time, ttl time.Duration) bool {
	return ttl > 0 && now.Sub(e.Stored) > ttl
}

// Key derives the cache key of a tag. variant fingerprints the classifier
// options the verdict depends on.
func Key(variant string, code uint16, payload []byte) string {
	return fmt.Sprintf("%s:%d:%016x", variant, code, xxhash.Sum64(payload))
}

func strip(info swftypes.EncryptionInfo) swftypes.EncryptionInfo {
	info.Decrypted = nil
	return info
}

// Nop never stores anything.
type Nop struct{}

func (Nop) Get(string) (swftypes.EncryptionInfo, bool) { return swftypes.EncryptionInfo{}, false }
func (Nop) Set(string, swftypes.EncryptionInfo)        {}
func (Nop) Close() error                               { return nil }

var _ Cache = Nop{}
