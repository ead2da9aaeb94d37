package macro

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/macroforge-core/internal/device"
	"github.com/nerrad567/macroforge-core/internal/events"
	"github.com/nerrad567/macroforge-core/internal/infrastructure/config"
	"github.com/nerrad567/macroforge-core/internal/matcher"
)

// Engine defaults.
const (
	defaultMaxSteps    = 10000
	defaultPollMS      = 500
	defaultSwipeMS     = 300
	persistTimeout     = 5 * time.Second
	maxFinishedHandles = 100
)

// Logger defines the logging interface used by the Engine and Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Matcher evaluates a template against a frame. *matcher.Matcher
// satisfies it.
type Matcher interface {
	Evaluate(ctx context.Context, frame image.Image, template string, region *image.Rectangle, threshold float64) (matcher.Result, error)
	DefaultThreshold() float64
}

// Humanizer perturbs coordinates and timings. *humanize.Humanizer
// satisfies it.
type Humanizer interface {
	PerturbPoint(x, y int, bounds image.Rectangle) (int, int)
	StepDelay() time.Duration
	SwipeDuration(ms int) int
	HoldDuration() time.Duration
}

// Metrics receives per-run measurements. *influxdb.Client satisfies it.
type Metrics interface {
	WriteRunMetric(script, status string, duration time.Duration, counters map[string]int)
}

// RunStore persists run history.
type RunStore interface {
	CreateRun(ctx context.Context, run *RunResult) error
	UpdateRun(ctx context.Context, run *RunResult) error
}

// Engine interprets scripts. Each started run executes on its own
// goroutine; all device input goes through the gateway given at
// construction, which should be gated when other loops share the device.
//
// Thread Safety: all methods are safe for concurrent use.
type Engine struct {
	cfg       config.EngineConfig
	gateway   device.Gateway
	matcher   Matcher
	humanizer Humanizer
	logger    Logger

	store   RunStore
	events  events.Publisher
	metrics Metrics

	mu      sync.Mutex
	handles map[string]*RunHandle
	wg      sync.WaitGroup

	// last frame bounds seen by any run
	boundsMu sync.Mutex
	bounds   image.Rectangle
}

// NewEngine creates an engine.
//
// Parameters:
//   - cfg: loop guard and default poll interval
//   - gateway: device I/O, normally a *device.Gated
//   - m: template evaluation
//   - h: coordinate and timing perturbation
//   - logger: may be nil
func NewEngine(cfg config.EngineConfig, gateway device.Gateway, m Matcher, h Humanizer, logger Logger) *Engine {
	if logger == nil {
		logger = noopLogger{}
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = defaultMaxSteps
	}
	if cfg.DefaultPollMS <= 0 {
		cfg.DefaultPollMS = defaultPollMS
	}
	return &Engine{
		cfg:       cfg,
		gateway:   gateway,
		matcher:   m,
		humanizer: h,
		logger:    logger,
		handles:   make(map[string]*RunHandle),
	}
}

// SetRunStore enables run history persistence.
func (e *Engine) SetRunStore(store RunStore) { e.store = store }

// SetPublisher enables status events.
func (e *Engine) SetPublisher(p events.Publisher) { e.events = p }

// SetMetrics enables run metrics.
func (e *Engine) SetMetrics(m Metrics) { e.metrics = m }

// Start checks that script can be interpreted and begins running a
// private copy of it. Only structural problems (see CheckRunnable) fail
// with ErrInvalidScript, and they do so before any step runs. Library
// limits such as name length or step count are enforced on save, not
// here.
//
// The run is not bound to ctx's cancellation; use the handle to cancel.
func (e *Engine) Start(ctx context.Context, script *Script) (*RunHandle, error) {
	if err := CheckRunnable(script); err != nil {
		return nil, err
	}
	s := script.DeepCopy()

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h := &RunHandle{
		cancel: cancel,
		done:   make(chan struct{}),
		pauser: NewPauser(),
		result: RunResult{
			RunID:      GenerateID(),
			ScriptID:   s.ID,
			ScriptName: s.Name,
			Status:     StatusRunning,
			FailedStep: -1,
			StartedAt:  time.Now().UTC(),
		},
	}

	e.mu.Lock()
	e.handles[h.result.RunID] = h
	e.pruneLocked()
	e.mu.Unlock()

	snapshot := h.Status()
	if e.store != nil {
		pctx, pcancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
		if err := e.store.CreateRun(pctx, &snapshot); err != nil {
			e.logger.Error("failed to create run record", "run_id", snapshot.RunID, "error", err)
		}
		pcancel()
	}

	e.logger.Info("run started", "run_id", snapshot.RunID, "script", s.Name, "steps", len(s.Steps))
	e.publish(snapshot)

	e.wg.Add(1)
	go e.run(runCtx, h, s)
	return h, nil
}

func (e *Engine) run(ctx context.Context, h *RunHandle, s *Script) {
	defer e.wg.Done()
	defer h.cancel()
	defer close(h.done)

	rc := NewRunContext(h.ID())
	rc.StartedAt = h.Status().StartedAt
	rc.SetPauser(h.pauser)
	rc.OnStep(func(i int, _ Step) {
		h.setStep(i)
		e.publish(h.Status())
	})

	err := e.RunSteps(ctx, rc, s.Steps)
	result := h.finish(rc, err)

	if e.store != nil {
		pctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		if perr := e.store.UpdateRun(pctx, &result); perr != nil {
			e.logger.Error("failed to update run record", "run_id", result.RunID, "error", perr)
		}
		cancel()
	}
	if e.metrics != nil {
		e.metrics.WriteRunMetric(result.ScriptName, string(result.Status), result.EndedAt.Sub(result.StartedAt), result.Stats.Map())
	}

	e.logger.Info("run finished",
		"run_id", result.RunID,
		"script", result.ScriptName,
		"status", result.Status,
		"reason", result.Reason,
		"steps", result.Stats.Steps,
	)
	e.publish(result)
}

func (e *Engine) publish(r RunResult) {
	if e.events == nil {
		return
	}
	ev := events.Event{
		Kind:    events.KindRun,
		Subject: r.RunID,
		State:   string(r.Status),
		Step:    events.StepPtr(r.Step),
		Reason:  r.Reason,
		Data: map[string]any{
			"script": r.ScriptName,
		},
	}
	if r.Status.Terminal() {
		ev.Data["stats"] = r.Stats
	}
	e.events.Publish(ev)
}

// Get returns the handle of a live or recently finished run.
func (e *Engine) Get(runID string) (*RunHandle, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.handles[runID]
	return h, ok
}

// List returns the status of live and recently finished runs, newest first.
func (e *Engine) List() []RunResult {
	e.mu.Lock()
	out := make([]RunResult, 0, len(e.handles))
	for _, h := range e.handles {
		out = append(out, h.Status())
	}
	e.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// Cancel cancels a run by ID. Cancelling a finished run is a no-op.
func (e *Engine) Cancel(runID string) error {
	h, ok := e.Get(runID)
	if !ok {
		return ErrRunNotFound
	}
	h.Cancel()
	return nil
}

// Pause holds a run at its next step boundary or wait tick. Pausing a
// paused or finished run is a no-op.
func (e *Engine) Pause(runID string) error {
	h, ok := e.Get(runID)
	if !ok {
		return ErrRunNotFound
	}
	if h.Pause() {
		e.logger.Info("run paused", "run_id", runID)
		e.publish(h.Status())
	}
	return nil
}

// Resume releases a paused run. Resuming a running or finished run is a
// no-op.
func (e *Engine) Resume(runID string) error {
	h, ok := e.Get(runID)
	if !ok {
		return ErrRunNotFound
	}
	if h.Resume() {
		e.logger.Info("run resumed", "run_id", runID)
		e.publish(h.Status())
	}
	return nil
}

// CancelAll cancels every live run.
func (e *Engine) CancelAll() {
	e.mu.Lock()
	handles := make([]*RunHandle, 0, len(e.handles))
	for _, h := range e.handles {
		handles = append(handles, h)
	}
	e.mu.Unlock()

	for _, h := range handles {
		h.Cancel()
	}
}

// Shutdown cancels every run and waits for them to finish or ctx to end.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.CancelAll()
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for runs: %w", ctx.Err())
	}
}

// pruneLocked drops the oldest finished handles beyond the retention limit.
func (e *Engine) pruneLocked() {
	var finished []*RunHandle
	for _, h := range e.handles {
		if h.Status().Status.Terminal() {
			finished = append(finished, h)
		}
	}
	if len(finished) <= maxFinishedHandles {
		return
	}
	sort.Slice(finished, func(i, j int) bool {
		return finished[i].Status().StartedAt.Before(finished[j].Status().StartedAt)
	})
	for _, h := range finished[:len(finished)-maxFinishedHandles] {
		delete(e.handles, h.ID())
	}
}

// RunHandle controls one run started by Engine.Start.
type RunHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
	pauser *Pauser

	mu     sync.Mutex
	result RunResult
}

// ID returns the run ID.
func (h *RunHandle) ID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result.RunID
}

// Cancel requests cancellation. It is idempotent and a no-op once the run
// is terminal. The run observes it at the next step boundary or wait tick.
func (h *RunHandle) Cancel() {
	h.cancel()
}

// Pause asks the run to hold at its next step boundary or wait tick. It
// reports false if the run was already paused or is terminal. A paused
// run can still be cancelled.
func (h *RunHandle) Pause() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.result.Status.Terminal() || !h.pauser.Pause() {
		return false
	}
	h.result.Status = StatusPaused
	return true
}

// Resume releases a paused run. It reports false if the run was not
// paused or is terminal.
func (h *RunHandle) Resume() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.result.Status.Terminal() || !h.pauser.Resume() {
		return false
	}
	h.result.Status = StatusRunning
	return true
}

// Done is closed when the run reaches a terminal state.
func (h *RunHandle) Done() <-chan struct{} {
	return h.done
}

// Status returns a snapshot of the run.
func (h *RunHandle) Status() RunResult {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result
}

// Wait blocks until the run is terminal or ctx ends.
func (h *RunHandle) Wait(ctx context.Context) (RunResult, error) {
	select {
	case <-h.done:
		return h.Status(), nil
	case <-ctx.Done():
		return h.Status(), ctx.Err()
	}
}

func (h *RunHandle) setStep(i int) {
	h.mu.Lock()
	h.result.Step = i
	h.mu.Unlock()
}

// finish records the terminal state derived from err. done is closed by
// the caller once the result has been persisted and published.
func (h *RunHandle) finish(rc *RunContext, err error) RunResult {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now().UTC()
	r := &h.result
	r.Stats = rc.Stats
	r.Step = rc.Cursor
	r.EndedAt = &now
	r.Err = err

	var se *StepError
	switch {
	case err == nil:
		r.Status = StatusCompleted
		r.Reason = fmt.Sprintf("completed at step %d: %d steps executed", rc.Cursor, rc.Stats.Steps)
	case errors.As(err, &se) && errors.Is(se.Kind, errCancelled):
		r.Status = StatusCancelled
		r.Step = se.Step
		r.Reason = se.Error()
	case errors.As(err, &se):
		r.Status = StatusFailed
		r.Step = se.Step
		r.FailedStep = se.Step
		r.Reason = se.Error()
	default:
		r.Status = StatusFailed
		r.FailedStep = rc.Cursor
		r.Reason = stepError(rc.Cursor, err).Error()
	}
	return *r
}
