package telemetry

import (
	"net/http"
	"time"
)

// Job statuses
const (
	StatusOK      = "ok"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// Recorder receives job and phase outcomes from the orchestrator.
type Recorder interface {
	JobFinished(phase, sampleType, status string, samples int)
	PhaseFinished(phase string, d time.Duration)
	// Handler serves the recorded metrics, or 404 when disabled.
	Handler() http.Handler
}
