package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/macroforge-core/internal/events"
	"github.com/nerrad567/macroforge-core/internal/infrastructure/config"
	"github.com/nerrad567/macroforge-core/internal/macro"
)

const persistTimeout = 5 * time.Second

// Engine starts script runs. *macro.Engine satisfies it.
type Engine interface {
	Start(ctx context.Context, script *macro.Script) (*macro.RunHandle, error)
}

// Store persists queue history. *SQLiteStore satisfies it.
type Store interface {
	Create(ctx context.Context, p *Progress) error
	Update(ctx context.Context, p *Progress) error
}

// Logger is the logging interface used by the Sequencer.
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

// Sequencer runs one queue at a time.
//
// Thread Safety: all methods are safe for concurrent use.
type Sequencer struct {
	engine   Engine
	resolver Resolver
	defaults config.QueueConfig
	logger   Logger

	store  Store
	events events.Publisher

	mu       sync.Mutex
	progress *Progress
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewSequencer creates a sequencer.
//
// Parameters:
//   - engine: starts each entry's runs, normally the *macro.Engine
//   - resolver: maps entry script references to scripts
//   - defaults: policy and retry budget for definitions that leave them
//     unset; an empty policy means skip
//   - logger: may be nil
//
// Returns:
//   - *Sequencer: idle, without history persistence until SetStore
func NewSequencer(engine Engine, resolver Resolver, defaults config.QueueConfig, logger Logger) *Sequencer {
	if logger == nil {
		logger = noopLogger{}
	}
	if defaults.Policy == "" {
		defaults.Policy = config.PolicySkip
	}
	return &Sequencer{
		engine:   engine,
		resolver: resolver,
		defaults: defaults,
		logger:   logger,
	}
}

// SetStore enables queue history persistence.
func (s *Sequencer) SetStore(store Store) { s.store = store }

// SetPublisher enables progress events.
func (s *Sequencer) SetPublisher(p events.Publisher) { s.events = p }

// Start validates def and begins running it in the background. It returns
// the initial progress snapshot.
//
// The queue is not bound to ctx's cancellation; use Cancel.
func (s *Sequencer) Start(ctx context.Context, def Definition) (Progress, error) {
	if err := def.Validate(); err != nil {
		return Progress{}, err
	}

	s.mu.Lock()
	if s.progress != nil && !s.progress.Terminal() {
		s.mu.Unlock()
		return Progress{}, ErrQueueRunning
	}

	p := newProgress(def, s.defaults)
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.progress = p
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	snap := p.clone()
	s.mu.Unlock()

	s.persist(&snap, true)
	s.logger.Info("queue started", "queue_id", snap.ID, "entries", len(snap.Entries), "policy", snap.Policy, "rounds", snap.Rounds)
	s.publish(snap)

	go func() {
		defer close(done)
		defer cancel()
		s.run(runCtx, def)
	}()
	return snap, nil
}

// Run starts def and blocks until it finishes or ctx ends. Ending ctx
// cancels the queue.
func (s *Sequencer) Run(ctx context.Context, def Definition) (Progress, error) {
	if _, err := s.Start(ctx, def); err != nil {
		return Progress{}, err
	}
	p, err := s.Wait(ctx)
	if err != nil {
		_ = s.Cancel() //nolint:errcheck // the queue may already be finished
		return s.Wait(context.Background())
	}
	return p, nil
}

// Wait blocks until the current queue finishes or ctx ends.
func (s *Sequencer) Wait(ctx context.Context) (Progress, error) {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return Progress{}, ErrQueueNotRunning
	}

	select {
	case <-done:
		p, _ := s.Progress()
		return p, nil
	case <-ctx.Done():
		p, _ := s.Progress()
		return p, ctx.Err()
	}
}

// Cancel stops the active queue: the in-flight run is cancelled and
// entries not yet run are marked cancelled. Repeated calls while the
// queue winds down are no-ops.
func (s *Sequencer) Cancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.progress == nil || s.progress.Terminal() {
		return ErrQueueNotRunning
	}
	s.cancel()
	return nil
}

// Progress returns a snapshot of the current or most recent queue.
func (s *Sequencer) Progress() (Progress, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.progress == nil {
		return Progress{}, false
	}
	return s.progress.clone(), true
}

func newProgress(def Definition, defaults config.QueueConfig) *Progress {
	p := &Progress{
		ID:         uuid.New().String(),
		Policy:     def.Policy,
		MaxRetries: def.MaxRetries,
		Status:     StatusRunning,
		Rounds:     max(def.Repeats, 1),
		Round:      1,
		StartedAt:  time.Now().UTC(),
		Entries:    make([]EntryStatus, len(def.Entries)),
	}
	if p.Policy == "" {
		p.Policy = defaults.Policy
	}
	if p.MaxRetries == 0 {
		p.MaxRetries = defaults.MaxRetries
	}
	for i, e := range def.Entries {
		p.Entries[i] = EntryStatus{
			Index:  i,
			Script: e.Script,
			Repeat: max(e.Repeat, 1),
			State:  EntryPending,
		}
	}
	return p
}

// run consumes the queue. Only this goroutine mutates entry states.
func (s *Sequencer) run(ctx context.Context, def Definition) {
	snap, _ := s.Progress()
	rounds, policy := snap.Rounds, snap.Policy

	status := StatusCompleted
rounds:
	for round := 1; round <= rounds; round++ {
		if round > 1 {
			s.update(func(p *Progress) {
				p.Round = round
				for i := range p.Entries {
					p.Entries[i].State = EntryPending
					p.Entries[i].Reason = ""
				}
			})
		}

		for i := range def.Entries {
			if ctx.Err() != nil {
				status = StatusCancelled
				break rounds
			}

			state, reason := s.runEntry(ctx, i)
			snap := s.update(func(p *Progress) {
				p.Entries[i].State = state
				p.Entries[i].Reason = reason
			})
			s.persist(&snap, false)

			switch {
			case state == EntryCancelled:
				status = StatusCancelled
				break rounds
			case state == EntryFailed && policy == config.PolicyAbort:
				status = StatusAborted
				break rounds
			}
		}
	}

	now := time.Now().UTC()
	final := s.update(func(p *Progress) {
		fill := EntryCancelled
		if status == StatusAborted {
			fill = EntrySkipped
		}
		for i := range p.Entries {
			if p.Entries[i].State == EntryPending {
				p.Entries[i].State = fill
			}
		}
		p.Status = status
		p.EndedAt = &now
	})

	s.persist(&final, false)
	s.logger.Info("queue finished", "queue_id", final.ID, "status", final.Status)
}

// runEntry runs entry i Repeat times, applying the retry policy to each
// repetition. It returns the entry's terminal state.
func (s *Sequencer) runEntry(ctx context.Context, i int) (EntryState, string) {
	snap, _ := s.Progress()
	entry := snap.Entries[i]
	retries := 0
	if snap.Policy == config.PolicyRetry {
		retries = snap.MaxRetries
	}

	for rep := 0; rep < entry.Repeat; rep++ {
		var (
			res macro.RunResult
			err error
		)
		for attempt := 0; attempt <= retries; attempt++ {
			if ctx.Err() != nil {
				return EntryCancelled, "queue cancelled"
			}
			res, err = s.runOnce(ctx, i, entry.Script)
			if err == nil && res.Status == macro.StatusCompleted {
				break
			}
			if ctx.Err() != nil {
				return EntryCancelled, "queue cancelled"
			}
			if attempt < retries {
				s.logger.Info("retrying queue entry", "entry", i, "script", entry.Script, "attempt", attempt+1)
			}
		}

		if err != nil {
			return EntryFailed, err.Error()
		}
		if res.Status != macro.StatusCompleted {
			// Under skip and retry the remaining repetitions of a failed
			// entry are not attempted.
			return EntryFailed, res.Reason
		}
	}
	return EntryCompleted, ""
}

// runOnce starts one run of script and waits for it. A queue cancel
// cancels the run and waits for its terminal state.
func (s *Sequencer) runOnce(ctx context.Context, i int, ref string) (macro.RunResult, error) {
	s.update(func(p *Progress) {
		p.Current = i
		p.Entries[i].State = EntryRunning
		p.Entries[i].Runs++
	})

	script, err := s.resolver.Resolve(ctx, ref)
	if err != nil {
		s.recordFailure(i)
		s.logger.Warn("queue entry unresolved", "entry", i, "script", ref, "error", err)
		return macro.RunResult{}, fmt.Errorf("resolving %s: %w", ref, err)
	}

	h, err := s.engine.Start(ctx, script)
	if err != nil {
		s.recordFailure(i)
		s.logger.Warn("queue entry rejected", "entry", i, "script", ref, "error", err)
		return macro.RunResult{}, err
	}
	s.update(func(p *Progress) {
		p.Entries[i].RunIDs = append(p.Entries[i].RunIDs, h.ID())
	})

	select {
	case <-h.Done():
	case <-ctx.Done():
		h.Cancel()
		<-h.Done()
	}

	res := h.Status()
	if res.Status != macro.StatusCompleted && ctx.Err() == nil {
		s.recordFailure(i)
		s.logger.Warn("queue entry run did not complete", "entry", i, "run_id", res.RunID, "status", res.Status, "reason", res.Reason)
	}
	return res, nil
}

func (s *Sequencer) recordFailure(i int) {
	s.update(func(p *Progress) { p.Entries[i].Failures++ })
}

// update applies fn under the lock, publishes the result and returns it.
func (s *Sequencer) update(fn func(p *Progress)) Progress {
	s.mu.Lock()
	fn(s.progress)
	snap := s.progress.clone()
	s.mu.Unlock()

	s.publish(snap)
	return snap
}

func (s *Sequencer) publish(p Progress) {
	if s.events == nil {
		return
	}
	s.events.Publish(events.Event{
		Kind:    events.KindQueue,
		Subject: p.ID,
		State:   p.Status,
		Step:    events.StepPtr(p.Current),
		Data: map[string]any{
			"round":   p.Round,
			"rounds":  p.Rounds,
			"entries": p.Entries,
		},
	})
}

func (s *Sequencer) persist(p *Progress, create bool) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	var err error
	if create {
		err = s.store.Create(ctx, p)
	} else {
		err = s.store.Update(ctx, p)
	}
	if err != nil {
		s.logger.Error("failed to persist queue run", "queue_id", p.ID, "error", err)
	}
}
