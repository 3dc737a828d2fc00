// Package orchestrator sequences store jobs for a run: every tracked sample
// type is deleted over the window, and only once all deletes have finished
// are the selected metrics generated day by day. Each job's outcome becomes
// one line in the job log; no job failure aborts the run.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"codeberg.org/mutker/healthsynth/internal/catalog"
	"codeberg.org/mutker/healthsynth/internal/errors"
	"codeberg.org/mutker/healthsynth/internal/generator"
	"codeberg.org/mutker/healthsynth/internal/joblog"
	"codeberg.org/mutker/healthsynth/internal/logger"
	"codeberg.org/mutker/healthsynth/internal/store"
	"codeberg.org/mutker/healthsynth/internal/telemetry"
	"codeberg.org/mutker/healthsynth/internal/timerange"
	"github.com/google/uuid"
)

const dayFormat = "2006-01-02"

// Request carries the per-call state of a run.
type Request struct {
	// Now anchors the trailing window. Zero uses the orchestrator clock.
	Now time.Time
	// From and To pick an explicit, inclusive range of calendar days
	// instead of the trailing window. Both must be set to take effect.
	From, To time.Time
	// Selection overrides the catalog's selection flags by metric name.
	Selection map[string]bool
}

type Orchestrator struct {
	store    store.Store
	catalog  *catalog.Catalog
	sink     *joblog.Sink
	recorder telemetry.Recorder
	log      logger.Logger

	now         func() time.Time
	loc         *time.Location
	days        int
	maxInFlight int
	jobTimeout  time.Duration
	seed        uint64

	mu         sync.Mutex
	state      State
	running    bool
	authorized bool
}

func New(st store.Store, cat *catalog.Catalog, sink *joblog.Sink, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:    st,
		catalog:  cat,
		sink:     sink,
		recorder: telemetry.NewService(telemetry.DefaultConfig()),
		log:      logger.Component("orchestrator"),
		now:      time.Now,
		loc:      time.Local,
		days:     timerange.DefaultDays,
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State returns the state of the current or most recent run.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) Authorized() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.authorized
}

// Authorize requests write access to every tracked sample type. The
// outcome gates both runs until Authorize is called again.
func (o *Orchestrator) Authorize(ctx context.Context) error {
	types := o.catalog.TrackedTypes()
	granted, err := o.store.RequestAuthorization(ctx, types)

	o.mu.Lock()
	o.authorized = granted && err == nil
	o.mu.Unlock()

	if granted && err == nil {
		o.sink.Append("✅ Authorized")
		o.log.Info().Int("types", len(types)).Msg("Store access authorized")
		return nil
	}

	o.sink.Appendf("❌ Authorization failed: %s", describe(err))
	appErr := errors.New().Wrap(ErrUnauthorized, err)
	o.log.ErrorWithCode(appErr).Msg("Store access denied")
	return appErr
}

// RunGeneration deletes every tracked type over the window, waits for all
// deletes, then saves one batch per selected metric and day and waits for
// all saves. It returns once the terminal log line has been written.
func (o *Orchestrator) RunGeneration(ctx context.Context, req Request) (Report, error) {
	run, err := o.begin(PhaseGenerate, req)
	if err != nil {
		return Report{}, err
	}
	return o.generate(ctx, run), nil
}

// RunDeletion deletes every tracked type over the window.
func (o *Orchestrator) RunDeletion(ctx context.Context, req Request) (Report, error) {
	run, err := o.begin(PhaseDelete, req)
	if err != nil {
		return Report{}, err
	}
	return o.delete(ctx, run), nil
}

// StartGeneration checks the run gates synchronously and runs generation
// in the background. The channel receives the report and is then closed.
func (o *Orchestrator) StartGeneration(ctx context.Context, req Request) (<-chan Report, error) {
	run, err := o.begin(PhaseGenerate, req)
	if err != nil {
		return nil, err
	}
	out := make(chan Report, 1)
	go func() {
		defer close(out)
		out <- o.generate(ctx, run)
	}()
	return out, nil
}

// StartDeletion is the background counterpart of RunDeletion.
func (o *Orchestrator) StartDeletion(ctx context.Context, req Request) (<-chan Report, error) {
	run, err := o.begin(PhaseDelete, req)
	if err != nil {
		return nil, err
	}
	out := make(chan Report, 1)
	go func() {
		defer close(out)
		out <- o.delete(ctx, run)
	}()
	return out, nil
}

// plan is everything a run needs, fixed before the first job starts.
type plan struct {
	report  Report
	days    []timerange.Range
	types   []store.SampleType
	metrics []catalog.Metric
	log     logger.Logger
}

func (o *Orchestrator) begin(kind string, req Request) (*plan, error) {
	errFactory := errors.New()

	window, days, err := o.window(req)
	if err != nil {
		return nil, err
	}

	var metrics []catalog.Metric
	if kind == PhaseGenerate {
		if metrics, err = o.catalog.Selected(req.Selection); err != nil {
			return nil, err
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.authorized {
		o.sink.Append("❌ Not authorized, request access first")
		return nil, errFactory.New(ErrUnauthorized)
	}
	if o.running {
		return nil, errFactory.New(ErrBusy)
	}
	o.running = true
	o.state = StateIdle

	id := uuid.New()
	names := make([]string, 0, len(metrics))
	for _, m := range metrics {
		names = append(names, m.Name)
	}

	return &plan{
		report: Report{
			RunID:   id,
			Kind:    kind,
			State:   StateIdle,
			Window:  window,
			Days:    len(days),
			Metrics: names,
			Started: o.now(),
		},
		days:    days,
		types:   o.catalog.TrackedTypes(),
		metrics: metrics,
		log:     o.log.With("run_id", id.String()),
	}, nil
}

func (o *Orchestrator) window(req Request) (timerange.Range, []timerange.Range, error) {
	if !req.From.IsZero() && !req.To.IsZero() {
		from := o.date(req.From)
		to := timerange.AddDays(o.date(req.To), 1)
		window, err := timerange.New(from, to)
		if err != nil {
			return timerange.Range{}, nil, errors.New().Wrap(ErrInvalidWindow, err)
		}
		return window, timerange.Split(window), nil
	}

	now := req.Now
	if now.IsZero() {
		now = o.now()
	}
	now = now.In(o.loc)
	return timerange.Trailing(now, o.days), timerange.Days(now, o.days), nil
}

// date is the midnight in o.loc of t's calendar date, wherever t was parsed.
func (o *Orchestrator) date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, o.loc)
}

func (o *Orchestrator) setState(run *plan, s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()

	run.report.State = s
	run.log.Debug().Str("state", string(s)).Msg("Run state changed")
}

func (o *Orchestrator) finish(run *plan) Report {
	o.setState(run, StateDone)
	run.report.Finished = o.now()

	o.mu.Lock()
	o.running = false
	o.mu.Unlock()

	run.log.Info().
		Str("kind", run.report.Kind).
		Int("deleted_ok", run.report.Delete.Succeeded).
		Int("deleted_failed", run.report.Delete.Failed).
		Int("generated_ok", run.report.Generate.Succeeded).
		Int("generated_failed", run.report.Generate.Failed).
		Int("samples", run.report.Generate.Samples).
		Msg("Run finished")

	return run.report
}

func (o *Orchestrator) generate(ctx context.Context, run *plan) Report {
	run.log.Info().
		Str("window", run.report.Window.String()).
		Int("days", len(run.days)).
		Int("metrics", len(run.metrics)).
		Msg("Starting generation run")

	o.setState(run, StateDeleting)
	run.report.Delete = o.deletePhase(ctx, run)

	o.setState(run, StateGenerating)
	o.sink.Append("🚀 Starting data generation...")
	run.report.Generate = o.generatePhase(ctx, run)

	g := run.report.Generate
	o.sink.Appendf("🏁 Finished generating %d samples (%d ok, %d failed, %d skipped)",
		g.Samples, g.Succeeded, g.Failed, g.Skipped)

	return o.finish(run)
}

func (o *Orchestrator) delete(ctx context.Context, run *plan) Report {
	run.log.Info().
		Str("window", run.report.Window.String()).
		Int("types", len(run.types)).
		Msg("Starting deletion run")

	o.setState(run, StateDeleting)
	run.report.Delete = o.deletePhase(ctx, run)

	d := run.report.Delete
	o.sink.Appendf("🏁 Finished deleting %d sample types (%d ok, %d failed, %d skipped)",
		d.Jobs, d.Succeeded, d.Failed, d.Skipped)

	return o.finish(run)
}

func (o *Orchestrator) deletePhase(ctx context.Context, run *plan) PhaseReport {
	p := newPhase(o.maxInFlight)
	var t tally

	for _, st := range run.types {
		p.Go(func() {
			out := o.deleteJob(ctx, st, run.report.Window)
			o.record(run, out)
			t.add(out)
		})
	}

	p.Wait()
	o.compact(run)
	o.recorder.PhaseFinished(PhaseDelete, p.Elapsed())
	return t.snapshot(p.Elapsed())
}

// compact runs once the delete barrier clears, before any sample is saved.
func (o *Orchestrator) compact(run *plan) {
	c, ok := o.store.(store.Compactor)
	if !ok {
		return
	}
	if err := c.Compact(); err != nil {
		run.log.Warn().Err(err).Msg("Compaction failed")
	}
}

func (o *Orchestrator) generatePhase(ctx context.Context, run *plan) PhaseReport {
	p := newPhase(o.maxInFlight)
	var t tally

	for di, day := range run.days {
		for mi, m := range run.metrics {
			seed := o.jobSeed(di, mi, len(run.metrics))
			p.Go(func() {
				out := o.saveJob(ctx, m, day, seed)
				o.record(run, out)
				t.add(out)
			})
		}
	}

	p.Wait()
	o.recorder.PhaseFinished(PhaseGenerate, p.Elapsed())
	return t.snapshot(p.Elapsed())
}

func (o *Orchestrator) deleteJob(ctx context.Context, st store.SampleType, window timerange.Range) Outcome {
	out := Outcome{Label: string(st), Phase: PhaseDelete, Type: st}

	if !o.supports(st) {
		out.Skipped = true
		out.Err = errors.New().WithData(store.ErrTypeUnavailable, st)
		return out
	}

	jctx, cancel := o.jobContext(ctx)
	defer cancel()

	if err := o.store.Delete(jctx, st, window); err != nil {
		out.Err = errors.New().Wrap(store.ErrDeleteFailed, err)
		out.Skipped = isUnavailable(err)
	}
	return out
}

func (o *Orchestrator) saveJob(ctx context.Context, m catalog.Metric, day timerange.Range, seed uint64) Outcome {
	out := Outcome{
		Label: fmt.Sprintf("%s for %s", m.Name, day.Start.Format(dayFormat)),
		Phase: PhaseGenerate,
		Type:  m.Type,
	}

	if !o.supports(m.Type) {
		out.Skipped = true
		out.Err = errors.New().WithData(store.ErrTypeUnavailable, m.Type)
		return out
	}

	samples := generator.Collect(generator.For(m, day, generator.NewRand(seed)))
	out.Samples = len(samples)

	jctx, cancel := o.jobContext(ctx)
	defer cancel()

	if err := o.store.Save(jctx, samples); err != nil {
		out.Err = errors.New().Wrap(store.ErrSaveFailed, err)
		out.Skipped = isUnavailable(err)
	}
	return out
}

// record turns an outcome into its log line and telemetry.
func (o *Orchestrator) record(run *plan, out Outcome) {
	o.recorder.JobFinished(out.Phase, string(out.Type), out.status(), out.Samples)

	switch {
	case out.Skipped:
		o.sink.Appendf("⏭️ Skipped %s: %s", out.Label, describe(out.Err))
	case out.Err != nil:
		if out.Phase == PhaseDelete {
			o.sink.Appendf("❌ Delete failed for %s: %s", out.Label, describe(out.Err))
		} else {
			o.sink.Appendf("❌ %s error: %s", out.Label, describe(out.Err))
		}
	case out.Phase == PhaseDelete:
		o.sink.Appendf("🗑️ Deleted %s", out.Label)
	default:
		o.sink.Appendf("✅ %s (%d samples)", out.Label, out.Samples)
	}

	if out.Err != nil {
		ev := run.log.Warn()
		if !out.Skipped {
			ev = run.log.Error()
		}
		ev.Str("phase", out.Phase).
			Str("type", string(out.Type)).
			Str("label", out.Label).
			Str("error_code", string(errors.CodeOf(out.Err))).
			Err(out.Err).
			Msg("Store job did not succeed")
	}
}

func (o *Orchestrator) supports(st store.SampleType) bool {
	if r, ok := o.store.(store.TypeResolver); ok {
		return r.Supports(st)
	}
	return true
}

func (o *Orchestrator) jobContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.jobTimeout > 0 {
		return context.WithTimeout(ctx, o.jobTimeout)
	}
	return context.WithCancel(ctx)
}

// jobSeed derives a per-job seed from the configured seed and the job's
// position, so reruns reproduce values regardless of completion order.
func (o *Orchestrator) jobSeed(day, metric, metrics int) uint64 {
	if o.seed == 0 {
		return 0
	}
	return o.seed*1_000_003 + uint64(day*metrics+metric+1)
}

// describe renders the innermost error text for a log line.
func describe(err error) string {
	if err == nil {
		return "unknown"
	}
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}
