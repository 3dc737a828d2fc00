package orchestrator

import (
	"sync"
	"time"

	"codeberg.org/mutker/healthsynth/internal/errors"
	"codeberg.org/mutker/healthsynth/internal/store"
	"codeberg.org/mutker/healthsynth/internal/telemetry"
	"codeberg.org/mutker/healthsynth/internal/timerange"
	"github.com/google/uuid"
)

// State is the position of a run in its state machine:
// Idle → Deleting → Generating → Done for generation,
// Idle → Deleting → Done for deletion.
type State string

const (
	StateIdle       State = "idle"
	StateDeleting   State = "deleting"
	StateGenerating State = "generating"
	StateDone       State = "done"
)

// Phase names
const (
	PhaseDelete   = "delete"
	PhaseGenerate = "generate"
)

// Outcome is the result of one store job.
type Outcome struct {
	Label   string
	Phase   string
	Type    store.SampleType
	Samples int
	Skipped bool
	Err     error
}

func (o Outcome) Succeeded() bool {
	return o.Err == nil && !o.Skipped
}

func (o Outcome) status() string {
	switch {
	case o.Skipped:
		return telemetry.StatusSkipped
	case o.Err != nil:
		return telemetry.StatusFailed
	default:
		return telemetry.StatusOK
	}
}

// PhaseReport tallies the outcomes of one phase.
type PhaseReport struct {
	Jobs      int           `json:"jobs"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Samples   int           `json:"samples"`
	Duration  time.Duration `json:"duration"`
}

// Report is what a run returns to its caller.
type Report struct {
	RunID    uuid.UUID       `json:"run_id"`
	Kind     string          `json:"kind"`
	State    State           `json:"state"`
	Window   timerange.Range `json:"window"`
	Days     int             `json:"days"`
	Metrics  []string        `json:"metrics,omitempty"`
	Delete   PhaseReport     `json:"delete"`
	Generate PhaseReport     `json:"generate"`
	Started  time.Time       `json:"started"`
	Finished time.Time       `json:"finished"`
}

// Failed reports whether any job in the run failed.
func (r Report) Failed() bool {
	return r.Delete.Failed > 0 || r.Generate.Failed > 0
}

// tally accumulates outcomes reported from concurrent jobs.
type tally struct {
	mu     sync.Mutex
	report PhaseReport
}

func (t *tally) add(o Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.report.Jobs++
	switch {
	case o.Skipped:
		t.report.Skipped++
	case o.Err != nil:
		t.report.Failed++
	default:
		t.report.Succeeded++
		t.report.Samples += o.Samples
	}
}

func (t *tally) snapshot(d time.Duration) PhaseReport {
	t.mu.Lock()
	defer t.mu.Unlock()

	r := t.report
	r.Duration = d
	return r
}

func isUnavailable(err error) bool {
	return errors.HasCode(err, store.ErrTypeUnavailable)
}
