// Package badger persists samples in an embedded BadgerDB.
package badger

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"codeberg.org/mutker/healthsynth/internal/errors"
	"codeberg.org/mutker/healthsynth/internal/store"
	"codeberg.org/mutker/healthsynth/internal/timerange"
	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
)

// Key layout: [type hash (8)][start unix nanos (8)][sample id (16)].
// Keys of one type sort by start time.
const keyLen = 32

const gcDiscardRatio = 0.5

// Storage implements store.Store using BadgerDB.
type Storage struct {
	db       *badger.DB
	grants   store.Grants
	inMemory bool
}

// Config holds BadgerDB configuration
type Config struct {
	// Path to store database files
	Path string

	// InMemory mode (for testing)
	InMemory bool

	Grants store.Grants
}

// New opens a BadgerDB store.
func New(cfg Config) (*Storage, error) {
	errFactory := errors.New()

	if cfg.Path == "" && !cfg.InMemory {
		return nil, errFactory.New(store.ErrInvalidDBPath)
	}

	opts := badger.DefaultOptions(cfg.Path).
		WithInMemory(cfg.InMemory).
		WithLogger(nil).
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(16 << 20).
		WithNumCompactors(2).
		WithValueLogFileSize(64 << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errFactory.Wrap(store.ErrStorageInit, err)
	}

	return &Storage{db: db, grants: cfg.Grants, inMemory: cfg.InMemory}, nil
}

func (s *Storage) RequestAuthorization(ctx context.Context, types []store.SampleType) (bool, error) {
	return s.grants.Authorize(ctx, types)
}

func (s *Storage) Supports(t store.SampleType) bool {
	return store.Supports(t)
}

// Save writes samples through a write batch so large days do not hit
// badger's transaction size limit.
func (s *Storage) Save(ctx context.Context, samples []store.Sample) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, sample := range samples {
		if err := store.ValidateSample(sample); err != nil {
			return err
		}
	}

	return s.run(ctx, "save", func() error {
		wb := s.db.NewWriteBatch()
		defer wb.Cancel()

		for i, sample := range samples {
			if i%100 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}

			value, err := json.Marshal(sample)
			if err != nil {
				return fmt.Errorf("failed to encode sample: %w", err)
			}
			if err := wb.Set(makeKey(sample), value); err != nil {
				return fmt.Errorf("failed to write sample: %w", err)
			}
		}
		return flush(ctx, wb)
	})
}

// Delete removes samples of type t overlapping r.
func (s *Storage) Delete(ctx context.Context, t store.SampleType, r timerange.Range) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.run(ctx, "delete", func() error {
		var keys [][]byte
		err := s.scan(ctx, t, r, func(key []byte, _ store.Sample) {
			keys = append(keys, key)
		})
		if err != nil {
			return err
		}

		wb := s.db.NewWriteBatch()
		defer wb.Cancel()
		for _, key := range keys {
			if err := wb.Delete(key); err != nil {
				return err
			}
		}
		return flush(ctx, wb)
	})
}

// Count returns the number of samples of type t overlapping r.
func (s *Storage) Count(ctx context.Context, t store.SampleType, r timerange.Range) (int, error) {
	n := 0
	err := s.run(ctx, "count", func() error {
		return s.scan(ctx, t, r, func([]byte, store.Sample) { n++ })
	})
	return n, err
}

// Close shuts down BadgerDB cleanly
func (s *Storage) Close() error {
	if err := s.db.Close(); err != nil {
		return errors.New().Wrap(store.ErrStorageClose, err)
	}
	return nil
}

// Compact reclaims value log space left behind by deletes. Finding
// nothing worth rewriting is not an error.
func (s *Storage) Compact() error {
	if s.inMemory {
		return nil
	}
	err := s.db.RunValueLogGC(gcDiscardRatio)
	if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
		return err
	}
	return nil
}

// flush commits wb unless ctx is already done, so a job that run has
// reported as cancelled does not land its writes afterwards.
func flush(ctx context.Context, wb *badger.WriteBatch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return wb.Flush()
}

// run executes fn in a goroutine and gives up waiting when ctx is done.
// fn only commits through flush, which rechecks ctx first; a flush already
// underway when ctx ends may still complete.
func (s *Storage) run(ctx context.Context, op string, fn func() error) error {
	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%s operation cancelled: %w", op, ctx.Err())
	}
}

// scan visits samples of type t overlapping r. A sample starting before
// r.Start may still reach into it, so iteration begins at the type prefix
// and stops at the first key starting at or after r.End.
func (s *Storage) scan(ctx context.Context, t store.SampleType, r timerange.Range, fn func(key []byte, sample store.Sample)) error {
	prefix := typePrefix(t)

	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchSize = 100

		it := txn.NewIterator(opts)
		defer it.Close()

		var iterCount int
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			iterCount++
			if iterCount%1000 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}

			item := it.Item()
			if !startOf(item.Key()).Before(r.End) {
				break
			}

			var sample store.Sample
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &sample)
			}); err != nil {
				return fmt.Errorf("failed to decode sample: %w", err)
			}

			if r.Overlaps(sample.Start, sample.End) {
				fn(item.KeyCopy(nil), sample)
			}
		}
		return nil
	})
}

func typePrefix(t store.SampleType) []byte {
	prefix := make([]byte, 8)
	binary.BigEndian.PutUint64(prefix, xxhash.Sum64String(string(t)))
	return prefix
}

func makeKey(sample store.Sample) []byte {
	var buf bytes.Buffer
	buf.Grow(keyLen)
	buf.Write(typePrefix(sample.Type))

	ts := make([]byte, 8)
	binary.BigEndian.PutUint64(ts, uint64(sample.Start.UnixNano()))
	buf.Write(ts)

	id := sample.ID
	buf.Write(id[:])
	return buf.Bytes()
}

func startOf(key []byte) time.Time {
	return time.Unix(0, int64(binary.BigEndian.Uint64(key[8:16])))
}
