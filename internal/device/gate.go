package device

import (
	"context"
	"image"

	"golang.org/x/sync/semaphore"
)

// Gate serialises input dispatch: one gesture at a time, waiters served
// first-come-first-served, acquisition abandoned when ctx ends.
type Gate struct {
	sem *semaphore.Weighted
}

// NewGate returns an open gate.
func NewGate() *Gate {
	return &Gate{sem: semaphore.NewWeighted(1)}
}

// Do runs fn while holding the gate. fn runs to completion even if ctx is
// cancelled after the gate was acquired, so a gesture is never cut short.
func (g *Gate) Do(ctx context.Context, fn func() error) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer g.sem.Release(1)
	return fn()
}

// Gated wraps a Gateway so every input call goes through gate. Capture is
// read-only and bypasses the gate.
type Gated struct {
	inner Gateway
	gate  *Gate
}

// NewGated shares gate between every Gated built from it; the engine and
// the background scheduler must use the same Gate.
func NewGated(inner Gateway, gate *Gate) *Gated {
	return &Gated{inner: inner, gate: gate}
}

// CaptureFrame is not gated.
func (g *Gated) CaptureFrame(ctx context.Context) (image.Image, error) {
	return g.inner.CaptureFrame(ctx)
}

// Tap dispatches a tap under the gate.
func (g *Gated) Tap(ctx context.Context, x, y int) error {
	return g.gate.Do(ctx, func() error {
		return g.inner.Tap(context.WithoutCancel(ctx), x, y)
	})
}

// Swipe dispatches a swipe under the gate.
func (g *Gated) Swipe(ctx context.Context, x1, y1, x2, y2, durationMs int) error {
	return g.gate.Do(ctx, func() error {
		return g.inner.Swipe(context.WithoutCancel(ctx), x1, y1, x2, y2, durationMs)
	})
}

// KeyEvent dispatches a key press under the gate.
func (g *Gated) KeyEvent(ctx context.Context, keycode int) error {
	return g.gate.Do(ctx, func() error {
		return g.inner.KeyEvent(context.WithoutCancel(ctx), keycode)
	})
}
