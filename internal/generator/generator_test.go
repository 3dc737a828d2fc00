package generator_test

import (
	"testing"
	"time"

	"codeberg.org/mutker/healthsynth/internal/catalog"
	"codeberg.org/mutker/healthsynth/internal/generator"
	"codeberg.org/mutker/healthsynth/internal/store"
	"codeberg.org/mutker/healthsynth/internal/timerange"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func steps() catalog.Metric {
	return catalog.Metric{
		Name: "Steps", Type: store.StepCount, Kind: catalog.Quantity, Unit: "count",
		Min: 5, Max: 40, Integral: true, Interval: 60 * time.Second, Device: "iPhone",
	}
}

func requireTiles(t *testing.T, samples []store.Sample, r timerange.Range) {
	t.Helper()

	require.NotEmpty(t, samples)
	assert.Equal(t, r.Start, samples[0].Start, "first sample must start at range start")
	assert.Equal(t, r.End, samples[len(samples)-1].End, "last sample must end at range end")
	for i, s := range samples {
		assert.True(t, s.Start.Before(s.End), "sample %d is empty", i)
		if i > 0 {
			assert.Equal(t, samples[i-1].End, s.Start, "gap or overlap before sample %d", i)
		}
	}
}

func TestQuantity_StepsOverOneHour(t *testing.T) {
	start := time.Date(2025, 5, 16, 8, 0, 0, 0, time.UTC)
	r := timerange.Range{Start: start, End: start.Add(time.Hour)}

	samples := generator.Collect(generator.Quantity(steps(), r, generator.NewRand(1)))

	require.Len(t, samples, 60)
	requireTiles(t, samples, r)
	for _, s := range samples {
		assert.Equal(t, time.Minute, s.End.Sub(s.Start))
		assert.GreaterOrEqual(t, s.Value, 5.0)
		assert.LessOrEqual(t, s.Value, 40.0)
		assert.Equal(t, s.Value, float64(int(s.Value)), "step counts are whole numbers")
		assert.Equal(t, store.StepCount, s.Type)
		assert.Equal(t, "iPhone", s.Device)
		assert.Equal(t, "count", s.Unit)
	}
}

func TestQuantity_ClampsLastIntervalOnShortDSTDay(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	// 2025-03-09 is 23 hours long in New York.
	day := timerange.Day(time.Date(2025, 3, 9, 12, 0, 0, 0, loc), 0)
	require.Equal(t, 23*time.Hour, day.Duration())

	m := steps()
	m.Interval = 3600 * time.Second

	samples := generator.Collect(generator.Quantity(m, day, generator.NewRand(2)))
	require.Len(t, samples, 23)
	requireTiles(t, samples, day)
}

func TestQuantity_ClampsPartialFinalInterval(t *testing.T) {
	start := time.Date(2025, 5, 16, 0, 0, 0, 0, time.UTC)
	r := timerange.Range{Start: start, End: start.Add(150 * time.Minute)}
	m := steps()
	m.Interval = time.Hour

	samples := generator.Collect(generator.Quantity(m, r, generator.NewRand(3)))
	require.Len(t, samples, 3)
	requireTiles(t, samples, r)
	assert.Equal(t, 30*time.Minute, samples[2].End.Sub(samples[2].Start))
}

func TestQuantity_RangeShorterThanInterval(t *testing.T) {
	start := time.Date(2025, 5, 16, 0, 0, 0, 0, time.UTC)
	m := steps()
	m.Interval = time.Hour

	for _, d := range []time.Duration{time.Second, 30 * time.Minute, time.Hour} {
		r := timerange.Range{Start: start, End: start.Add(d)}
		samples := generator.Collect(generator.Quantity(m, r, generator.NewRand(4)))
		require.Len(t, samples, 1, "range of %s", d)
		assert.Equal(t, r.Start, samples[0].Start)
		assert.Equal(t, r.End, samples[0].End)
	}
}

func TestQuantity_ValuesStayInRange(t *testing.T) {
	start := time.Date(2025, 5, 16, 0, 0, 0, 0, time.UTC)
	r := timerange.Range{Start: start, End: start.Add(24 * time.Hour)}
	rng := generator.NewRand(0)

	for _, m := range catalog.Default() {
		if m.Kind != catalog.Quantity {
			continue
		}
		for s := range generator.Quantity(m, r, rng) {
			assert.GreaterOrEqual(t, s.Value, m.Min, m.Name)
			assert.LessOrEqual(t, s.Value, m.Max, m.Name)
		}
	}
}

func TestQuantity_SequenceIsRestartable(t *testing.T) {
	start := time.Date(2025, 5, 16, 0, 0, 0, 0, time.UTC)
	r := timerange.Range{Start: start, End: start.Add(time.Hour)}
	seq := generator.Quantity(steps(), r, generator.NewRand(5))

	first := generator.Collect(seq)
	second := generator.Collect(seq)

	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].Start, second[i].Start)
		assert.Equal(t, first[i].End, second[i].End)
	}

	// Stopping early must not panic or leak.
	n := 0
	for range seq {
		n++
		if n == 3 {
			break
		}
	}
	assert.Equal(t, 3, n)
}

func TestQuantity_SameSeedSameValues(t *testing.T) {
	start := time.Date(2025, 5, 16, 0, 0, 0, 0, time.UTC)
	r := timerange.Range{Start: start, End: start.Add(time.Hour)}

	a := generator.Collect(generator.Quantity(steps(), r, generator.NewRand(42)))
	b := generator.Collect(generator.Quantity(steps(), r, generator.NewRand(42)))
	for i := range a {
		assert.Equal(t, a[i].Value, b[i].Value)
	}
}

func TestCategoryDaily_SleepAtElevenForEightHours(t *testing.T) {
	var sleep catalog.Metric
	for _, m := range catalog.Default() {
		if m.Type == store.SleepAnalysis {
			sleep = m
		}
	}
	day := timerange.Day(time.Date(2025, 5, 16, 12, 0, 0, 0, time.UTC), 0)

	samples := generator.Collect(generator.For(sleep, day, generator.NewRand(6)))
	require.Len(t, samples, 1)
	assert.Equal(t, time.Date(2025, 5, 16, 23, 0, 0, 0, time.UTC), samples[0].Start)
	assert.Equal(t, time.Date(2025, 5, 17, 7, 0, 0, 0, time.UTC), samples[0].End)
	assert.Equal(t, "asleep", samples[0].Category)
	assert.Equal(t, store.SleepAnalysis, samples[0].Type)
}

func TestCategoryDaily_IgnoresInterval(t *testing.T) {
	m := catalog.Metric{
		Name: "Sleep", Type: store.SleepAnalysis, Kind: catalog.Category, Unit: "category",
		Offset: 22*time.Hour + 30*time.Minute, Duration: 7 * time.Hour, CategoryValue: "asleep",
		Interval: time.Minute,
	}
	start := time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC)
	r := timerange.Range{Start: start, End: start.Add(3 * 24 * time.Hour)}

	samples := generator.Collect(generator.CategoryDaily(m, r, nil))
	require.Len(t, samples, 3)
	assert.Equal(t, 22, samples[0].Start.Hour())
	assert.Equal(t, 30, samples[0].Start.Minute())
}
