// Package controller ties the engine, background scheduler and queue
// sequencer together behind the system-wide stop operation and the
// remote run and action controls.
package controller

import (
	"errors"
	"sync"

	"github.com/nerrad567/macroforge-core/internal/queue"
)

// Engine is the run control used by the controller. *macro.Engine satisfies it.
type Engine interface {
	Cancel(runID string) error
	Pause(runID string) error
	Resume(runID string) error
	CancelAll()
}

// Scheduler controls background actions. *background.Scheduler satisfies it.
type Scheduler interface {
	Pause(name string) error
	Resume(name string) error
	StopAll()
}

var (
	errNoEngine    = errors.New("controller: no engine")
	errNoScheduler = errors.New("controller: no background scheduler")
)

// Sequencer cancels the active queue. *queue.Sequencer satisfies it.
type Sequencer interface {
	Cancel() error
}

// Logger is the logging interface used by the Controller.
type Logger interface {
	Info(msg string, args ...any)
}

// Controller implements events.Controller for MQTT commands and backs
// the stop-all endpoints of the API and MCP server.
type Controller struct {
	engine    Engine
	scheduler Scheduler
	sequencer Sequencer
	logger    Logger

	stopMu sync.Mutex // serialises StopAll
}

// New creates a controller. Any dependency may be nil when that part of
// the system is not running.
func New(engine Engine, scheduler Scheduler, sequencer Sequencer, logger Logger) *Controller {
	return &Controller{engine: engine, scheduler: scheduler, sequencer: sequencer, logger: logger}
}

// StopAll cancels the queue, every in-flight run and every background
// action. It is idempotent and safe to call from any goroutine.
//
// The queue goes first so it cannot start another run after the engine
// has been cleared.
func (c *Controller) StopAll() {
	c.stopMu.Lock()
	defer c.stopMu.Unlock()

	if c.sequencer != nil {
		_ = c.sequencer.Cancel() //nolint:errcheck // no active queue is fine
	}
	if c.engine != nil {
		c.engine.CancelAll()
	}
	if c.scheduler != nil {
		c.scheduler.StopAll()
	}
	if c.logger != nil {
		c.logger.Info("stop-all executed")
	}
}

// CancelRun cancels one run.
func (c *Controller) CancelRun(runID string) error {
	if c.engine == nil {
		return errNoEngine
	}
	return c.engine.Cancel(runID)
}

// PauseRun holds one run at its next step boundary or wait tick.
func (c *Controller) PauseRun(runID string) error {
	if c.engine == nil {
		return errNoEngine
	}
	return c.engine.Pause(runID)
}

// ResumeRun releases a paused run.
func (c *Controller) ResumeRun(runID string) error {
	if c.engine == nil {
		return errNoEngine
	}
	return c.engine.Resume(runID)
}

// PauseBackground holds one background action.
func (c *Controller) PauseBackground(name string) error {
	if c.scheduler == nil {
		return errNoScheduler
	}
	return c.scheduler.Pause(name)
}

// ResumeBackground releases a paused background action.
func (c *Controller) ResumeBackground(name string) error {
	if c.scheduler == nil {
		return errNoScheduler
	}
	return c.scheduler.Resume(name)
}

// CancelQueue cancels the active queue.
func (c *Controller) CancelQueue() error {
	if c.sequencer == nil {
		return queue.ErrQueueNotRunning
	}
	return c.sequencer.Cancel()
}
