package memory

import (
	"context"
	"testing"
	"time"

	"codeberg.org/mutker/healthsynth/internal/errors"
	"codeberg.org/mutker/healthsynth/internal/store"
	"codeberg.org/mutker/healthsynth/internal/timerange"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample(t store.SampleType, start time.Time, d time.Duration) store.Sample {
	return store.Sample{
		ID:     uuid.New(),
		Type:   t,
		Metric: string(t),
		Value:  1,
		Start:  start,
		End:    start.Add(d),
	}
}

func TestMemoryStorage_SaveAndDelete(t *testing.T) {
	s := New(store.Grants{})
	defer s.Close()

	ctx := context.Background()
	day := time.Date(2025, 5, 16, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.Save(ctx, []store.Sample{
		sample(store.StepCount, day, time.Minute),
		sample(store.StepCount, day.Add(-time.Hour), time.Minute),
		sample(store.HeartRate, day, 5*time.Minute),
		// Overnight sleep starting the previous evening overlaps the day.
		sample(store.SleepAnalysis, day.Add(-time.Hour), 8*time.Hour),
	}))

	r := timerange.Range{Start: day, End: day.Add(24 * time.Hour)}
	require.NoError(t, s.Delete(ctx, store.StepCount, r))
	require.NoError(t, s.Delete(ctx, store.SleepAnalysis, r))

	remaining := s.Samples()
	require.Len(t, remaining, 2)
	for _, smp := range remaining {
		assert.NotEqual(t, store.SleepAnalysis, smp.Type)
	}

	n, err := s.Count(ctx, store.HeartRate, r)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMemoryStorage_SaveRejectsInvalidBatch(t *testing.T) {
	s := New(store.Grants{})
	ctx := context.Background()
	now := time.Now()

	err := s.Save(ctx, []store.Sample{
		sample(store.StepCount, now, time.Minute),
		sample(store.SampleType("blood_glucose"), now, time.Minute),
	})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, store.ErrTypeUnavailable))
	assert.Empty(t, s.Samples())
}

func TestMemoryStorage_Authorization(t *testing.T) {
	ctx := context.Background()

	ok, err := New(store.Grants{}).RequestAuthorization(ctx, store.KnownTypes)
	require.NoError(t, err)
	assert.True(t, ok)

	limited := New(store.Grants{Allow: []store.SampleType{store.StepCount}})
	ok, err = limited.RequestAuthorization(ctx, []store.SampleType{store.StepCount, store.HeartRate})
	assert.False(t, ok)
	assert.True(t, errors.HasCode(err, errors.ErrUnauthorized))
}

func TestMemoryStorage_ClosedRejectsWrites(t *testing.T) {
	s := New(store.Grants{})
	require.NoError(t, s.Close())

	err := s.Save(context.Background(), []store.Sample{sample(store.StepCount, time.Now(), time.Minute)})
	assert.True(t, errors.HasCode(err, store.ErrClosed))
}
