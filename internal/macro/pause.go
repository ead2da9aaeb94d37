package macro

import (
	"context"
	"sync"
	"time"
)

// Pauser holds a run at its next step boundary or wait tick while
// paused. A nil *Pauser is never paused.
//
// Thread Safety: all methods are safe for concurrent use.
type Pauser struct {
	mu     sync.Mutex
	paused bool
	change chan struct{} // closed and replaced on every state change
}

// NewPauser returns a running (unpaused) Pauser.
func NewPauser() *Pauser {
	return &Pauser{change: make(chan struct{})}
}

// Pause reports whether the state changed.
func (p *Pauser) Pause() bool { return p.set(true) }

// Resume reports whether the state changed.
func (p *Pauser) Resume() bool { return p.set(false) }

// Paused reports the current state.
func (p *Pauser) Paused() bool {
	if p == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

func (p *Pauser) set(v bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.paused == v {
		return false
	}
	p.paused = v
	close(p.change)
	p.change = make(chan struct{})
	return true
}

func (p *Pauser) state() (bool, <-chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused, p.change
}

// Hold blocks while p is paused. It returns ctx's error if ctx ends
// first, or immediately if ctx has already ended.
func (p *Pauser) Hold(ctx context.Context) error {
	if p == nil {
		return ctx.Err()
	}
	for {
		paused, ch := p.state()
		if !paused {
			return ctx.Err()
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Sleep waits for d of unpaused time or until ctx ends. Time spent
// paused does not count towards d.
func (p *Pauser) Sleep(ctx context.Context, d time.Duration) error {
	if p == nil {
		return sleep(ctx, d)
	}
	for {
		paused, ch := p.state()
		if paused {
			select {
			case <-ch:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if d <= 0 {
			return ctx.Err()
		}

		start := time.Now()
		t := time.NewTimer(d)
		select {
		case <-t.C:
			return nil
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-ch:
			t.Stop()
			d -= time.Since(start)
		}
	}
}
