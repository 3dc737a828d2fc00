package store

import (
	"context"
	"time"

	"codeberg.org/mutker/healthsynth/internal/timerange"
	"github.com/google/uuid"
)

// SampleType identifies a category of health sample recognised by a store.
type SampleType string

const (
	StepCount            SampleType = "step_count"
	HeartRate            SampleType = "heart_rate"
	HeartRateVariability SampleType = "heart_rate_variability_sdnn"
	RestingHeartRate     SampleType = "resting_heart_rate"
	RespiratoryRate      SampleType = "respiratory_rate"
	BodyTemperature      SampleType = "body_temperature"
	ActiveEnergyBurned   SampleType = "active_energy_burned"
	SleepAnalysis        SampleType = "sleep_analysis"
)

// KnownTypes lists every sample type the bundled backends accept.
var KnownTypes = []SampleType{
	StepCount,
	HeartRate,
	HeartRateVariability,
	RestingHeartRate,
	RespiratoryRate,
	BodyTemperature,
	ActiveEnergyBurned,
	SleepAnalysis,
}

// Sample is a single timestamped record written to a store.
type Sample struct {
	ID       uuid.UUID  `json:"id"`
	Type     SampleType `json:"type"`
	Metric   string     `json:"metric"`
	Value    float64    `json:"value"`
	Unit     string     `json:"unit"`
	Start    time.Time  `json:"start"`
	End      time.Time  `json:"end"`
	Device   string     `json:"device"`
	Category string     `json:"category,omitempty"`
}

// Store is the sink that synthetic samples are written to and deleted from.
// Every call blocks until the store reports an outcome or ctx is done.
type Store interface {
	// RequestAuthorization asks for write access to all of types.
	RequestAuthorization(ctx context.Context, types []SampleType) (bool, error)

	// Save writes samples in one batch.
	Save(ctx context.Context, samples []Sample) error

	// Delete removes every sample of type t overlapping r.
	Delete(ctx context.Context, t SampleType, r timerange.Range) error

	Close() error
}

// TypeResolver is implemented by stores that only accept some sample types.
type TypeResolver interface {
	Supports(t SampleType) bool
}

// Counter is implemented by stores that can count stored samples.
type Counter interface {
	Count(ctx context.Context, t SampleType, r timerange.Range) (int, error)
}

// Compactor is implemented by stores that reclaim space after deletes.
type Compactor interface {
	Compact() error
}
