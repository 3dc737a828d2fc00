// Package memory is an in-process sample store. Data is lost on exit;
// it backs dry runs and tests.
package memory

import (
	"context"
	"sync"

	"codeberg.org/mutker/healthsynth/internal/errors"
	"codeberg.org/mutker/healthsynth/internal/store"
	"codeberg.org/mutker/healthsynth/internal/timerange"
)

// Storage stores samples in memory.
type Storage struct {
	grants  store.Grants
	samples []store.Sample
	closed  bool
	mu      sync.RWMutex
}

// New creates an in-memory store that authorizes according to grants.
func New(grants store.Grants) *Storage {
	return &Storage{
		grants:  grants,
		samples: make([]store.Sample, 0, 10000),
	}
}

func (s *Storage) RequestAuthorization(ctx context.Context, types []store.SampleType) (bool, error) {
	return s.grants.Authorize(ctx, types)
}

func (s *Storage) Supports(t store.SampleType) bool {
	return store.Supports(t)
}

// Save appends samples after validating all of them; nothing is written
// if any sample is invalid.
func (s *Storage) Save(ctx context.Context, samples []store.Sample) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, sample := range samples {
		if err := store.ValidateSample(sample); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New().New(store.ErrClosed)
	}
	s.samples = append(s.samples, samples...)
	return nil
}

// Delete removes samples of type t overlapping r.
func (s *Storage) Delete(ctx context.Context, t store.SampleType, r timerange.Range) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New().New(store.ErrClosed)
	}

	kept := s.samples[:0]
	for _, sample := range s.samples {
		if sample.Type == t && r.Overlaps(sample.Start, sample.End) {
			continue
		}
		kept = append(kept, sample)
	}
	clear(s.samples[len(kept):])
	s.samples = kept
	return nil
}

// Count returns the number of samples of type t overlapping r.
func (s *Storage) Count(ctx context.Context, t store.SampleType, r timerange.Range) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, sample := range s.samples {
		if sample.Type == t && r.Overlaps(sample.Start, sample.End) {
			n++
		}
	}
	return n, nil
}

// Samples returns a copy of everything stored.
func (s *Storage) Samples() []store.Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]store.Sample, len(s.samples))
	copy(out, s.samples)
	return out
}

func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
