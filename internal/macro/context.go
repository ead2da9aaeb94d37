package macro

import (
	"image"
	"time"
)

// RunContext is the mutable state of one script run or one background
// cycle. It belongs to the goroutine interpreting it and is never shared.
type RunContext struct {
	ID        string
	Cursor    int
	StartedAt time.Time
	Stats     Stats

	// bounds of the most recent frame, used to clamp humanized taps.
	bounds image.Rectangle
	onStep func(index int, step Step)
	pauser *Pauser
}

// NewRunContext returns a context positioned at step 0.
func NewRunContext(id string) *RunContext {
	return &RunContext{ID: id, StartedAt: time.Now().UTC()}
}

// OnStep registers fn to be called before each step executes.
func (rc *RunContext) OnStep(fn func(index int, step Step)) {
	rc.onStep = fn
}

// SetPauser makes the run hold while p is paused.
func (rc *RunContext) SetPauser(p *Pauser) {
	rc.pauser = p
}
