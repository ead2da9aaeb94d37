package background

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/macroforge-core/internal/events"
	"github.com/nerrad567/macroforge-core/internal/macro"
)

// Action states reported by List and in events.
const (
	StateRunning = "running"
	StatePaused  = "paused"
	StateStopped = "stopped"
)

// Runner interprets a step group. *macro.Engine satisfies it.
type Runner interface {
	RunSteps(ctx context.Context, rc *macro.RunContext, steps []macro.Step) error
}

// Jitter draws the extra per-cycle delay. *humanize.Humanizer satisfies it.
type Jitter interface {
	JitterDelay(minMs, maxMs int) (time.Duration, error)
}

// Metrics receives per-cycle measurements. *influxdb.Client satisfies it.
type Metrics interface {
	WriteBackgroundCycle(action string, ok bool, duration time.Duration)
}

// Logger is the logging interface used by the Scheduler.
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

// ActionStatus is a snapshot of one action.
type ActionStatus struct {
	Name       string     `json:"name"`
	State      string     `json:"state"`
	IntervalMs int        `json:"interval_ms"`
	JitterMs   int        `json:"jitter_ms,omitempty"`
	Cycles     int        `json:"cycles"`
	Failures   int        `json:"failures"`
	LastError  string     `json:"last_error,omitempty"`
	LastStart  *time.Time `json:"last_start,omitempty"`
	LastEnd    *time.Time `json:"last_end,omitempty"`
}

// Scheduler runs background actions.
//
// Thread Safety: all methods are safe for concurrent use.
type Scheduler struct {
	runner Runner
	jitter Jitter
	logger Logger

	events  events.Publisher
	metrics Metrics

	mu      sync.Mutex
	actions map[string]*actionLoop
}

type actionLoop struct {
	action Action
	cancel context.CancelFunc
	done   chan struct{}
	pauser *macro.Pauser

	mu     sync.Mutex
	status ActionStatus
}

func (l *actionLoop) snapshot() ActionStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

// New creates a scheduler.
//
// Parameters:
//   - runner: interprets each cycle's steps, normally the *macro.Engine
//   - jitter: draws the per-cycle interval jitter; may be nil when no
//     action sets jitter_ms
//   - logger: may be nil
//
// Returns:
//   - *Scheduler: with no actions; call Start for each
func New(runner Runner, jitter Jitter, logger Logger) *Scheduler {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Scheduler{
		runner:  runner,
		jitter:  jitter,
		logger:  logger,
		actions: make(map[string]*actionLoop),
	}
}

// SetPublisher enables status events.
func (s *Scheduler) SetPublisher(p events.Publisher) { s.events = p }

// SetMetrics enables per-cycle metrics.
func (s *Scheduler) SetMetrics(m Metrics) { s.metrics = m }

// Start validates a and begins running it. The first cycle starts
// immediately. A stopped action with the same name is replaced. The
// scheduler keeps its own copy of a's steps.
//
// The loop is not bound to ctx's cancellation; use Stop.
func (s *Scheduler) Start(ctx context.Context, a Action) error {
	if err := a.Validate(); err != nil {
		return err
	}
	if a.JitterMs > 0 && s.jitter == nil {
		return fmt.Errorf("%w: action %s: jitter_ms set but no jitter source", macro.ErrInvalidScript, a.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.actions[a.Name]; ok && existing.snapshot().State != StateStopped {
		return fmt.Errorf("%w: %s", ErrActionRunning, a.Name)
	}

	a.Steps = a.Steps.Clone()
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	l := &actionLoop{
		action: a,
		cancel: cancel,
		done:   make(chan struct{}),
		pauser: macro.NewPauser(),
		status: ActionStatus{
			Name:       a.Name,
			State:      StateRunning,
			IntervalMs: a.IntervalMs,
			JitterMs:   a.JitterMs,
		},
	}
	s.actions[a.Name] = l

	s.logger.Info("background action started", "action", a.Name, "interval_ms", a.IntervalMs, "steps", len(a.Steps))
	s.publish(l.snapshot(), "")

	go s.loop(loopCtx, l)
	return nil
}

// Stop cancels the named action and waits for its loop to exit. An
// in-flight gesture completes first. Stopping a stopped action is a no-op.
func (s *Scheduler) Stop(name string) error {
	s.mu.Lock()
	l, ok := s.actions[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrActionNotFound, name)
	}

	l.cancel()
	<-l.done
	return nil
}

// Pause holds the named action at its next step boundary or wait tick,
// or before its next cycle. Pausing a paused or stopped action is a
// no-op.
func (s *Scheduler) Pause(name string) error {
	return s.setPaused(name, true)
}

// Resume releases a paused action. Time spent paused does not count
// towards the interval. Resuming a running or stopped action is a no-op.
func (s *Scheduler) Resume(name string) error {
	return s.setPaused(name, false)
}

func (s *Scheduler) setPaused(name string, paused bool) error {
	s.mu.Lock()
	l, ok := s.actions[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrActionNotFound, name)
	}

	from, to, change := StateRunning, StatePaused, l.pauser.Pause
	if !paused {
		from, to, change = StatePaused, StateRunning, l.pauser.Resume
	}

	l.mu.Lock()
	changed := l.status.State == from && change()
	if changed {
		l.status.State = to
	}
	snap := l.status
	l.mu.Unlock()

	if changed {
		s.logger.Info("background action state changed", "action", name, "state", to)
		s.publish(snap, "")
	}
	return nil
}

// StopAll stops every action.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	loops := make([]*actionLoop, 0, len(s.actions))
	for _, l := range s.actions {
		loops = append(loops, l)
	}
	s.mu.Unlock()

	for _, l := range loops {
		l.cancel()
	}
	for _, l := range loops {
		<-l.done
	}
}

// List returns the status of every known action sorted by name.
func (s *Scheduler) List() []ActionStatus {
	s.mu.Lock()
	out := make([]ActionStatus, 0, len(s.actions))
	for _, l := range s.actions {
		out = append(out, l.snapshot())
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get returns the status of one action.
func (s *Scheduler) Get(name string) (ActionStatus, error) {
	s.mu.Lock()
	l, ok := s.actions[name]
	s.mu.Unlock()
	if !ok {
		return ActionStatus{}, fmt.Errorf("%w: %s", ErrActionNotFound, name)
	}
	return l.snapshot(), nil
}

func (s *Scheduler) loop(ctx context.Context, l *actionLoop) {
	defer close(l.done)
	defer func() {
		l.mu.Lock()
		l.status.State = StateStopped
		l.mu.Unlock()
		s.logger.Info("background action stopped", "action", l.action.Name)
		s.publish(l.snapshot(), "")
	}()

	name := l.action.Name
	for cycle := 1; ; cycle++ {
		start := time.Now()
		l.mu.Lock()
		l.status.LastStart = &start
		l.mu.Unlock()

		rc := macro.NewRunContext(fmt.Sprintf("%s#%d", name, cycle))
		rc.SetPauser(l.pauser)
		err := s.runner.RunSteps(ctx, rc, l.action.Steps)
		if ctx.Err() != nil {
			// Stopped mid-cycle; not a failure.
			return
		}
		end := time.Now()
		s.recordCycle(l, start, end, err)

		if err := l.pauser.Sleep(ctx, s.nextDelay(l.action)); err != nil {
			return
		}
	}
}

func (s *Scheduler) recordCycle(l *actionLoop, start, end time.Time, err error) {
	name := l.action.Name

	l.mu.Lock()
	l.status.Cycles++
	l.status.LastEnd = &end
	reason := ""
	if err != nil {
		l.status.Failures++
		l.status.LastError = err.Error()
		reason = err.Error()
	}
	snap := l.status
	l.mu.Unlock()

	if err != nil {
		s.logger.Warn("background cycle failed", "action", name, "cycle", snap.Cycles, "error", err)
	} else {
		s.logger.Debug("background cycle completed", "action", name, "cycle", snap.Cycles, "duration", end.Sub(start))
	}
	if s.metrics != nil {
		s.metrics.WriteBackgroundCycle(name, err == nil, end.Sub(start))
	}
	s.publish(snap, reason)
}

// nextDelay is the interval shifted by a uniform draw from
// [-jitter_ms, +jitter_ms], never below zero.
func (s *Scheduler) nextDelay(a Action) time.Duration {
	d := time.Duration(a.IntervalMs) * time.Millisecond
	if a.JitterMs > 0 && s.jitter != nil {
		j, err := s.jitter.JitterDelay(0, 2*a.JitterMs)
		if err != nil {
			s.logger.Warn("jitter unavailable", "action", a.Name, "error", err)
			return d
		}
		d += j - time.Duration(a.JitterMs)*time.Millisecond
	}
	return max(d, 0)
}

func (s *Scheduler) publish(st ActionStatus, reason string) {
	if s.events == nil {
		return
	}
	s.events.Publish(events.Event{
		Kind:    events.KindBackground,
		Subject: st.Name,
		State:   st.State,
		Reason:  reason,
		Data: map[string]any{
			"cycles":   st.Cycles,
			"failures": st.Failures,
		},
	})
}
