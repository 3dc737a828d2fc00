package badger

import (
	"context"
	"testing"
	"time"

	"codeberg.org/mutker/healthsynth/internal/store"
	"codeberg.org/mutker/healthsynth/internal/timerange"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func heartRate(start time.Time, n int) []store.Sample {
	out := make([]store.Sample, 0, n)
	for i := 0; i < n; i++ {
		s := start.Add(time.Duration(i) * 5 * time.Minute)
		out = append(out, store.Sample{
			ID:     uuid.New(),
			Type:   store.HeartRate,
			Metric: "Heart Rate",
			Value:  72,
			Unit:   "count/min",
			Start:  s,
			End:    s.Add(5 * time.Minute),
			Device: "Apple Watch",
		})
	}
	return out
}

func TestBadgerStorage_SaveAndCount(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	day := time.Date(2025, 5, 16, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.Save(ctx, heartRate(day, 288)))

	n, err := s.Count(ctx, store.HeartRate, timerange.Range{Start: day, End: day.Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	n, err = s.Count(ctx, store.StepCount, timerange.Range{Start: day, End: day.Add(24 * time.Hour)})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestBadgerStorage_DeleteByOverlap(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	day := time.Date(2025, 5, 16, 0, 0, 0, 0, time.UTC)

	sleep := store.Sample{
		ID:       uuid.New(),
		Type:     store.SleepAnalysis,
		Metric:   "Sleep",
		Unit:     "category",
		Start:    day.Add(-time.Hour),
		End:      day.Add(7 * time.Hour),
		Category: "asleep",
	}
	require.NoError(t, s.Save(ctx, []store.Sample{sleep}))
	require.NoError(t, s.Save(ctx, heartRate(day.Add(-time.Hour), 24)))

	r := timerange.Range{Start: day, End: day.Add(24 * time.Hour)}
	require.NoError(t, s.Delete(ctx, store.SleepAnalysis, r))
	require.NoError(t, s.Delete(ctx, store.HeartRate, r))

	n, err := s.Count(ctx, store.SleepAnalysis, timerange.Range{Start: day.Add(-48 * time.Hour), End: r.End})
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = s.Count(ctx, store.HeartRate, timerange.Range{Start: day.Add(-2 * time.Hour), End: r.End})
	require.NoError(t, err)
	assert.Equal(t, 12, n, "heart rate samples from the previous hour survive")
}

func TestBadgerStorage_CancelledContext(t *testing.T) {
	s := newTestStorage(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Save(ctx, heartRate(time.Now(), 1))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFlushSkipsCommitAfterCancel(t *testing.T) {
	s := newTestStorage(t)
	samples := heartRate(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 1)
	r := timerange.Range{Start: samples[0].Start, End: samples[0].End}

	ctx, cancel := context.WithCancel(context.Background())
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	require.NoError(t, wb.Set(makeKey(samples[0]), []byte(`{}`)))

	cancel()
	assert.ErrorIs(t, flush(ctx, wb), context.Canceled)

	n, err := s.Count(context.Background(), store.HeartRate, r)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCompact(t *testing.T) {
	mem := newTestStorage(t)
	assert.NoError(t, mem.Compact())

	disk, err := New(Config{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { disk.Close() })

	ctx := context.Background()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, disk.Save(ctx, heartRate(start, 50)))
	require.NoError(t, disk.Delete(ctx, store.HeartRate, timerange.Range{Start: start, End: start.Add(24 * time.Hour)}))

	assert.NoError(t, disk.Compact())
}

func TestMakeKeyOrdersByStart(t *testing.T) {
	day := time.Date(2025, 5, 16, 0, 0, 0, 0, time.UTC)
	samples := heartRate(day, 2)

	a, b := makeKey(samples[0]), makeKey(samples[1])
	assert.Len(t, a, keyLen)
	assert.Equal(t, a[:8], b[:8])
	assert.Less(t, string(a), string(b))
	assert.Equal(t, day, startOf(a).UTC())
}
