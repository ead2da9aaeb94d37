package macro

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/nerrad567/macroforge-core/internal/humanize"
	"github.com/nerrad567/macroforge-core/internal/matcher"
)

// RunSteps interprets steps on the calling goroutine, starting at
// rc.Cursor, until they complete, one fails, or ctx ends. Cancellation is
// checked before every step and at every wait tick; it is reported as a
// *StepError of the cancelled kind. A paused run holds at the same
// points until resumed.
//
// The background scheduler calls this directly for each cycle.
func (e *Engine) RunSteps(ctx context.Context, rc *RunContext, steps []Step) error {
	executed := 0
	for rc.Cursor < len(steps) {
		if rc.pauser.Hold(ctx) != nil {
			return cancelledAt(rc.Cursor)
		}
		if executed >= e.cfg.MaxSteps {
			return &StepError{Kind: ErrInvalidScript, Step: rc.Cursor,
				Err: fmt.Errorf("exceeded %d executed steps; check branch loops", e.cfg.MaxSteps)}
		}
		executed++

		step := steps[rc.Cursor]
		if rc.onStep != nil {
			rc.onStep(rc.Cursor, step)
		}
		e.logger.Debug("executing step", "run_id", rc.ID, "step", rc.Cursor, "type", step.Type(), "label", step.Label())

		next, err := e.execStep(ctx, rc, step, len(steps))
		if err != nil {
			if ctx.Err() != nil {
				return cancelledAt(rc.Cursor)
			}
			return stepError(rc.Cursor, err)
		}
		rc.Stats.Steps++

		if dispatchesInput(step) && next < len(steps) {
			if err := rc.pauser.Sleep(ctx, e.humanizer.StepDelay()); err != nil {
				return cancelledAt(next)
			}
		}
		rc.Cursor = next
	}
	return nil
}

func cancelledAt(step int) *StepError {
	return &StepError{Kind: errCancelled, Step: step, Err: errors.New("cancel requested")}
}

func dispatchesInput(s Step) bool {
	switch s.(type) {
	case *TapStep, *SwipeStep, *LongPressStep, *KeyPressStep, *ImageClickStep:
		return true
	}
	return false
}

// execStep runs one step and returns the next cursor position.
func (e *Engine) execStep(ctx context.Context, rc *RunContext, step Step, count int) (int, error) {
	next := rc.Cursor + 1

	switch s := step.(type) {
	case *TapStep:
		if err := e.tap(ctx, rc, s.X, s.Y); err != nil {
			return 0, err
		}
		rc.Stats.Taps++

	case *SwipeStep:
		bounds, err := e.screenBounds(ctx, rc)
		if err != nil {
			return 0, err
		}
		x1, y1 := e.humanizer.PerturbPoint(s.X1, s.Y1, bounds)
		x2, y2 := e.humanizer.PerturbPoint(s.X2, s.Y2, bounds)
		dur := s.DurationMs
		if dur == 0 {
			dur = defaultSwipeMS
		}
		if err := deviceErr(e.gateway.Swipe(ctx, x1, y1, x2, y2, e.humanizer.SwipeDuration(dur))); err != nil {
			return 0, err
		}
		rc.Stats.Swipes++

	case *LongPressStep:
		bounds, err := e.screenBounds(ctx, rc)
		if err != nil {
			return 0, err
		}
		x, y := e.humanizer.PerturbPoint(s.X, s.Y, bounds)
		if err := deviceErr(e.gateway.Swipe(ctx, x, y, x, y, s.DurationMs)); err != nil {
			return 0, err
		}
		rc.Stats.LongPress++

	case *KeyPressStep:
		if err := deviceErr(e.gateway.KeyEvent(ctx, s.Keycode)); err != nil {
			return 0, err
		}
		rc.Stats.Keys++

	case *WaitStep:
		if err := rc.pauser.Sleep(ctx, ms(s.DurationMs)); err != nil {
			return 0, err
		}
		rc.Stats.Waits++

	case *ImageClickStep:
		res, found, err := e.pollImage(ctx, rc, s.ImageMatch, ms(s.TimeoutMs), ms(e.cfg.DefaultPollMS))
		if err != nil {
			return 0, err
		}
		if !found {
			e.logger.Debug("image not found", "run_id", rc.ID, "template", s.Template, "best_score", res.Score)
			return 0, &StepError{Kind: ErrImageNotFound, Step: rc.Cursor,
				Err: fmt.Errorf("template %s not matched within %dms", s.Template, s.TimeoutMs)}
		}
		if err := e.tap(ctx, rc, res.Location.X, res.Location.Y); err != nil {
			return 0, err
		}
		rc.Stats.Taps++

	case *WaitForImageStep:
		poll := s.PollMs
		if poll <= 0 {
			poll = e.cfg.DefaultPollMS
		}
		_, found, err := e.pollImage(ctx, rc, s.ImageMatch, ms(s.TimeoutMs), ms(poll))
		if err != nil {
			return 0, err
		}
		if !found {
			return 0, &StepError{Kind: ErrImageTimeout, Step: rc.Cursor,
				Err: fmt.Errorf("template %s did not appear within %dms", s.Template, s.TimeoutMs)}
		}

	case *BranchStep:
		res, err := e.evaluate(ctx, rc, s.ImageMatch)
		if err != nil {
			return 0, err
		}
		next = s.OnNoMatch
		if res.Found {
			next = s.OnMatch
		}
		if next < 0 || next >= count {
			return 0, &StepError{Kind: ErrInvalidScript, Step: rc.Cursor,
				Err: fmt.Errorf("branch target %d out of range [0,%d)", next, count)}
		}
		e.logger.Debug("branch evaluated", "run_id", rc.ID, "template", s.Template, "found", res.Found, "next", next)

	default:
		return 0, &StepError{Kind: ErrInvalidScript, Step: rc.Cursor,
			Err: fmt.Errorf("unsupported step type %q", step.Type())}
	}

	return next, nil
}

// tap sends a humanized tap. Holds longer than humanize.LongHoldThreshold
// are sent as a swipe to the same point.
func (e *Engine) tap(ctx context.Context, rc *RunContext, x, y int) error {
	bounds, err := e.screenBounds(ctx, rc)
	if err != nil {
		return err
	}
	px, py := e.humanizer.PerturbPoint(x, y, bounds)
	if hold := e.humanizer.HoldDuration(); hold > humanize.LongHoldThreshold {
		return deviceErr(e.gateway.Swipe(ctx, px, py, px, py, int(hold.Milliseconds())))
	}
	return deviceErr(e.gateway.Tap(ctx, px, py))
}

// pollImage evaluates m until it is found or timeout elapses. A zero
// timeout evaluates once.
func (e *Engine) pollImage(ctx context.Context, rc *RunContext, m ImageMatch, timeout, poll time.Duration) (matcher.Result, bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		res, err := e.evaluate(ctx, rc, m)
		if err != nil {
			return res, false, err
		}
		if res.Found {
			return res, true, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return res, false, nil
		}
		if err := rc.pauser.Sleep(ctx, min(poll, remaining)); err != nil {
			return res, false, err
		}
	}
}

// evaluate captures a fresh frame and matches m against it.
func (e *Engine) evaluate(ctx context.Context, rc *RunContext, m ImageMatch) (matcher.Result, error) {
	frame, err := e.capture(ctx, rc)
	if err != nil {
		return matcher.Result{}, err
	}

	threshold := e.matcher.DefaultThreshold()
	if m.Threshold != nil {
		threshold = *m.Threshold
	}

	rc.Stats.Matches++
	res, err := e.matcher.Evaluate(ctx, frame, m.Template, m.Region.Rect(), threshold)
	if err != nil {
		return matcher.Result{}, err
	}
	if res.Found {
		rc.Stats.MatchFound++
	}
	return res, nil
}

// capture grabs a frame and records its bounds on rc and the engine.
func (e *Engine) capture(ctx context.Context, rc *RunContext) (image.Image, error) {
	frame, err := e.gateway.CaptureFrame(ctx)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, ErrCapture) || errors.Is(err, ErrDevice) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrCapture, err)
	}
	if frame == nil || frame.Bounds().Empty() {
		return nil, fmt.Errorf("%w: empty frame", ErrCapture)
	}
	rc.bounds = frame.Bounds()
	e.boundsMu.Lock()
	e.bounds = rc.bounds
	e.boundsMu.Unlock()
	return frame, nil
}

// screenBounds returns the frame bounds used to clamp perturbed input.
// Before the run's first capture it falls back to the last frame any
// run saw, and failing that captures one. If that capture fails the
// input goes ahead with empty bounds, which clamps only at zero.
func (e *Engine) screenBounds(ctx context.Context, rc *RunContext) (image.Rectangle, error) {
	if !rc.bounds.Empty() {
		return rc.bounds, nil
	}
	e.boundsMu.Lock()
	b := e.bounds
	e.boundsMu.Unlock()
	if !b.Empty() {
		rc.bounds = b
		return b, nil
	}

	if _, err := e.capture(ctx, rc); err != nil {
		if ctx.Err() != nil {
			return image.Rectangle{}, ctx.Err()
		}
		e.logger.Warn("screen bounds unknown, clamping input at origin only", "run_id", rc.ID, "error", err)
	}
	return rc.bounds, nil
}

// deviceErr makes sure gesture failures carry ErrDevice.
func deviceErr(err error) error {
	if err == nil || errors.Is(err, ErrDevice) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrDevice, err)
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

// sleep waits for d or until ctx ends.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
