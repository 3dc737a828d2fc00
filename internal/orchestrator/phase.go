package orchestrator

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// phase is a barrier over a set of jobs. Jobs never report errors to the
// group: a failed job completes the same way a successful one does, and
// Wait returns only after every submitted job has returned.
type phase struct {
	group     errgroup.Group
	started   time.Time
	completed atomic.Int64

	once     sync.Once
	finished int
	elapsed  time.Duration
}

// newPhase caps concurrently running jobs at limit; limit <= 0 runs every
// job as soon as it is submitted.
func newPhase(limit int) *phase {
	p := &phase{started: time.Now()}
	if limit > 0 {
		p.group.SetLimit(limit)
	}
	return p
}

// Go submits job. With a limit in place it blocks until a slot frees up.
func (p *phase) Go(job func()) {
	p.group.Go(func() error {
		defer p.completed.Add(1)
		job()
		return nil
	})
}

// Wait blocks until every submitted job has returned and reports how many
// did. Later calls return the same result.
func (p *phase) Wait() int {
	p.once.Do(func() {
		_ = p.group.Wait()
		p.finished = int(p.completed.Load())
		p.elapsed = time.Since(p.started)
	})
	return p.finished
}

func (p *phase) Elapsed() time.Duration {
	p.Wait()
	return p.elapsed
}
