package cache

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	swftypes "github.com/ossyrian/evoswf/internal/types"
)

// Badger persists verdicts on disk so repeated runs over the same client
// build skip trial decryption. Values are msgpack-encoded Entries stored
// with a badger TTL.
type Badger struct {
	db     *badger.DB
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

var _ Cache = (*Badger)(nil)

// OpenBadger opens (or creates) a cache database in dir. An empty dir
// keeps the database in memory.
func OpenBadger(dir string, ttl time.Duration, logger *slog.Logger) (*Badger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "cache")

	opts := badger.DefaultOptions(dir).WithLogger(badgerLogger{logger})
	if dir == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache at %q: %w", dir, err)
	}
	return &Badger{db: db, ttl: ttl, now: time.Now, logger: logger}, nil
}

// SetClock replaces the time source used to stamp and expire entries.
func (b *Badger) SetClock(now func() time.Time) {
	b.now = now
}

func (b *Badger) Get(key string) (swftypes.EncryptionInfo, bool) {
	var e Entry
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return msgpack.Unmarshal(val, &e)
		})
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			b.logger.Warn("cache read failed", "key", key, "error", err)
		}
		return swftypes.EncryptionInfo{}, false
	}
	if e.expired(b.now(), b.ttl) {
		return swftypes.EncryptionInfo{}, false
	}
	return e.Info, true
}

// Set stores info. Write failures are logged; the cache is best effort.
func (b *Badger) Set(key string, info swftypes.EncryptionInfo) {
	val, err := msgpack.Marshal(Entry{Info: strip(info), Stored: b.now()})
	if err != nil {
		b.logger.Warn("cache encode failed", "key", key, "error", err)
		return
	}

	err = b.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), val)
		if b.ttl > 0 {
			entry = entry.WithTTL(b.ttl)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		b.logger.Warn("cache write failed", "key", key, "error", err)
	}
}

func (b *Badger) Close() error {
	return b.db.Close()
}

// badgerLogger routes badger's printf-style logging into slog.
type badgerLogger struct {
	logger *slog.Logger
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
