package cache

import (
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	swftypes "github.com/ossyrian/evoswf/internal/types"
)

// DefaultMaxEntries bounds the in-memory cache.
const DefaultMaxEntries = 1 << 16

// Memory is a bounded in-process cache. Every entry costs 1, so the
// bound is an entry count.
type Memory struct {
	store *ristretto.Cache[string, Entry]
	ttl   time.Duration
	now   func() time.Time
}

var _ Cache = (*Memory)(nil)

// NewMemory creates a cache holding at most maxEntries verdicts for ttl.
func NewMemory(maxEntries int64, ttl time.Duration) (*Memory, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	store, err := ristretto.NewCache(&ristretto.Config[string, Entry]{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,

		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create memory cache: %w", err)
	}
	return &Memory{store: store, ttl: ttl, now: time.Now}, nil
}

// SetClock replaces the time source used to stamp and expire entries.
func (m *Memory) SetClock(now func() time.Time) {
	m.now = now
}

func (m *Memory) Get(key string) (swftypes.EncryptionInfo, bool) {
	e, ok := m.store.Get(key)
	if !ok || e.expired(m.now(), m.ttl) {
		return swftypes.EncryptionInfo{}, false
	}
	return e.Info, true
}

// Set stores info and waits for the write to become visible.
func (m *Memory) Set(key string, info swftypes.EncryptionInfo) {
	m.store.SetWithTTL(key, Entry{Info: strip(info), Stored: m.now()}, 1, m.ttl)
	m.store.Wait()
}

func (m *Memory) Close() error {
	m.store.Close()
	return nil
}
