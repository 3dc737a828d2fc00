// Package generator produces synthetic samples for a metric over a range.
// Generation is pure apart from the caller's random source: every call is
// independent, so many metrics can be generated concurrently as long as
// each goroutine owns its *rand.Rand.
package generator

import (
	"iter"
	"math"
	"math/rand/v2"
	"time"

	"codeberg.org/mutker/healthsynth/internal/catalog"
	"codeberg.org/mutker/healthsynth/internal/store"
	"codeberg.org/mutker/healthsynth/internal/timerange"
	"github.com/google/uuid"
)

// For returns the sample sequence for m over r, dispatching on m.Kind.
func For(m catalog.Metric, r timerange.Range, rng *rand.Rand) iter.Seq[store.Sample] {
	if m.Kind == catalog.Category {
		return CategoryDaily(m, r, rng)
	}
	return Quantity(m, r, rng)
}

// Quantity tiles r with consecutive intervals of m.Interval, the last one
// clamped to r.End, and draws one uniform value per interval. Ranging over
// the sequence again replays the tiling with fresh values.
func Quantity(m catalog.Metric, r timerange.Range, rng *rand.Rand) iter.Seq[store.Sample] {
	return func(yield func(store.Sample) bool) {
		if m.Interval <= 0 {
			return
		}
		for cursor := r.Start; cursor.Before(r.End); {
			end := cursor.Add(m.Interval)
			if end.After(r.End) {
				end = r.End
			}
			if !yield(newSample(m, Value(m, rng), cursor, end)) {
				return
			}
			cursor = end
		}
	}
}

// CategoryDaily emits one sample per calendar day touched by r, starting at
// the day's wall clock m.Offset and lasting m.Duration. The sample may run
// past r.End; an overnight sleep belongs to the day it started on.
func CategoryDaily(m catalog.Metric, r timerange.Range, _ *rand.Rand) iter.Seq[store.Sample] {
	return func(yield func(store.Sample) bool) {
		for _, day := range timerange.Split(r) {
			start := atOffset(day.Start, m.Offset)
			s := newSample(m, 0, start, start.Add(m.Duration))
			s.Category = m.CategoryValue
			if !yield(s) {
				return
			}
		}
	}
}

// Value draws a uniform value in [m.Min, m.Max]; whole numbers when
// m.Integral is set.
func Value(m catalog.Metric, rng *rand.Rand) float64 {
	if m.Integral {
		lo, hi := int64(math.Ceil(m.Min)), int64(math.Floor(m.Max))
		return float64(lo + rng.Int64N(hi-lo+1))
	}
	if m.Max == m.Min {
		return m.Min
	}
	return m.Min + rng.Float64()*(m.Max-m.Min)
}

// Collect materializes a sequence for a store batch.
func Collect(seq iter.Seq[store.Sample]) []store.Sample {
	var out []store.Sample
	for s := range seq {
		out = append(out, s)
	}
	return out
}

// NewRand returns a random source for one job. A zero seed picks a
// random one.
func NewRand(seed uint64) *rand.Rand {
	if seed == 0 {
		seed = rand.Uint64()
	}
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

func newSample(m catalog.Metric, value float64, start, end time.Time) store.Sample {
	return store.Sample{
		ID:     uuid.New(),
		Type:   m.Type,
		Metric: m.Name,
		Value:  value,
		Unit:   m.Unit,
		Start:  start,
		End:    end,
		Device: m.Device,
	}
}

// atOffset sets the wall clock of t's day to offset after midnight.
func atOffset(t time.Time, offset time.Duration) time.Time {
	y, mo, d := t.Date()
	h := int(offset / time.Hour)
	mi := int(offset % time.Hour / time.Minute)
	s := int(offset % time.Minute / time.Second)
	return time.Date(y, mo, d, h, mi, s, 0, t.Location())
}
