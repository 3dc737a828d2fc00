package catalog

import (
	"fmt"
	"math"
	"time"

	"codeberg.org/mutker/healthsynth/internal/errors"
	"codeberg.org/mutker/healthsynth/internal/store"
)

// Kind selects how a metric's samples are laid out over a day.
type Kind string

const (
	// Quantity samples tile a range at a fixed interval.
	Quantity Kind = "quantity"
	// Category samples are one fixed-offset record per day.
	Category Kind = "category"
)

// Metric describes one synthetic series.
type Metric struct {
	Name     string           `mapstructure:"name" json:"name"`
	Type     store.SampleType `mapstructure:"type" json:"type"`
	Kind     Kind             `mapstructure:"kind" json:"kind"`
	Unit     string           `mapstructure:"unit" json:"unit"`
	Min      float64          `mapstructure:"min" json:"min"`
	Max      float64          `mapstructure:"max" json:"max"`
	Integral bool             `mapstructure:"integral" json:"integral"`
	Interval time.Duration    `mapstructure:"interval" json:"interval"`
	Device   string           `mapstructure:"device" json:"device"`
	Selected bool             `mapstructure:"selected" json:"selected"`

	// Category layout: one sample at day start + Offset lasting Duration.
	Offset        time.Duration `mapstructure:"offset" json:"offset,omitempty"`
	Duration      time.Duration `mapstructure:"duration" json:"duration,omitempty"`
	CategoryValue string        `mapstructure:"category_value" json:"category_value,omitempty"`
}

// Validate checks the invariants generation relies on.
func (m Metric) Validate() error {
	invalid := func(reason string) error {
		return errors.New().WithData(ErrInvalidMetric, fmt.Sprintf("%q: %s", m.Name, reason))
	}

	if m.Name == "" {
		return invalid("name is required")
	}
	if m.Type == "" {
		return invalid("sample type is required")
	}
	if m.Min > m.Max {
		return invalid(fmt.Sprintf("min %g is greater than max %g", m.Min, m.Max))
	}

	switch m.Kind {
	case Quantity:
		if m.Interval <= 0 {
			return invalid("interval must be positive")
		}
		if m.Integral && math.Ceil(m.Min) > math.Floor(m.Max) {
			return invalid("range holds no whole number")
		}
	case Category:
		if m.Duration <= 0 {
			return invalid("duration must be positive")
		}
		if m.Offset < 0 || m.Offset >= 24*time.Hour {
			return invalid("offset must fall within the day")
		}
		if m.CategoryValue == "" {
			return invalid("category value is required")
		}
	default:
		return invalid(fmt.Sprintf("unknown kind %q", m.Kind))
	}

	return nil
}

// Default returns the built-in metric set, all selected.
func Default() []Metric {
	return []Metric{
		{
			Name: "Steps", Type: store.StepCount, Kind: Quantity, Unit: "count",
			Min: 5, Max: 40, Integral: true, Interval: time.Minute, Device: "iPhone", Selected: true,
		},
		{
			Name: "Heart Rate", Type: store.HeartRate, Kind: Quantity, Unit: "count/min",
			Min: 60, Max: 100, Integral: true, Interval: 5 * time.Minute, Device: "Apple Watch", Selected: true,
		},
		{
			Name: "HRV", Type: store.HeartRateVariability, Kind: Quantity, Unit: "ms",
			Min: 20, Max: 100, Integral: true, Interval: time.Hour, Device: "Apple Watch", Selected: true,
		},
		{
			Name: "Resting Heart Rate", Type: store.RestingHeartRate, Kind: Quantity, Unit: "count/min",
			Min: 50, Max: 70, Integral: true, Interval: 24 * time.Hour, Device: "Apple Watch", Selected: true,
		},
		{
			Name: "Respiratory Rate", Type: store.RespiratoryRate, Kind: Quantity, Unit: "count/min",
			Min: 12, Max: 20, Interval: time.Hour, Device: "Apple Watch", Selected: true,
		},
		{
			Name: "Body Temperature", Type: store.BodyTemperature, Kind: Quantity, Unit: "degC",
			Min: 36.1, Max: 37.2, Interval: 4 * time.Hour, Device: "Oura", Selected: true,
		},
		{
			Name: "Active Energy", Type: store.ActiveEnergyBurned, Kind: Quantity, Unit: "kcal",
			Min: 0.5, Max: 12, Interval: 15 * time.Minute, Device: "Apple Watch", Selected: true,
		},
		{
			Name: "Sleep", Type: store.SleepAnalysis, Kind: Category, Unit: "category",
			Offset: 23 * time.Hour, Duration: 8 * time.Hour, CategoryValue: "asleep",
			Device: "Apple Watch", Selected: true,
		},
	}
}
