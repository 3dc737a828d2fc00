package orchestrator

import (
	"time"

	"codeberg.org/mutker/healthsynth/internal/logger"
	"codeberg.org/mutker/healthsynth/internal/telemetry"
)

type Option func(*Orchestrator)

func WithRecorder(rec telemetry.Recorder) Option {
	return func(o *Orchestrator) { o.recorder = rec }
}

func WithLogger(log logger.Logger) Option {
	return func(o *Orchestrator) { o.log = log }
}

// WithClock sets the source of "now" for runs that do not carry one.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithLocation sets the time zone whose midnights delimit days.
func WithLocation(loc *time.Location) Option {
	return func(o *Orchestrator) {
		if loc != nil {
			o.loc = loc
		}
	}
}

// WithDays sets the trailing window length.
func WithDays(days int) Option {
	return func(o *Orchestrator) {
		if days > 0 {
			o.days = days
		}
	}
}

// WithMaxInFlight caps concurrent store jobs per phase; 0 means no cap.
func WithMaxInFlight(n int) Option {
	return func(o *Orchestrator) { o.maxInFlight = n }
}

// WithJobTimeout bounds each store call; 0 means no timeout.
func WithJobTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.jobTimeout = d }
}

// WithSeed makes generated values reproducible; 0 draws a random seed
// per job.
func WithSeed(seed uint64) Option {
	return func(o *Orchestrator) { o.seed = seed }
}
