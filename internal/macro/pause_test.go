package macro

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/macroforge-core/internal/events"
)

// ─── Pauser ─────────────────────────────────────────────────────────────────

func TestPauser_ReportsStateChanges(t *testing.T) {
	p := NewPauser()
	if !p.Pause() || p.Pause() {
		t.Error("Pause() should change state exactly once")
	}
	if !p.Paused() {
		t.Error("Paused() = false after Pause")
	}
	if !p.Resume() || p.Resume() {
		t.Error("Resume() should change state exactly once")
	}

	var none *Pauser
	if none.Paused() {
		t.Error("nil Pauser reports paused")
	}
	if err := none.Hold(context.Background()); err != nil {
		t.Errorf("nil Hold() error = %v", err)
	}
}

func TestPauser_SleepExcludesPausedTime(t *testing.T) {
	p := NewPauser()
	p.Pause()
	go func() {
		time.Sleep(80 * time.Millisecond)
		p.Resume()
	}()

	start := time.Now()
	if err := p.Sleep(context.Background(), 40*time.Millisecond); err != nil {
		t.Fatalf("Sleep() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 110*time.Millisecond {
		t.Errorf("Sleep() returned after %v, want paused time plus 40ms", elapsed)
	}
}

func TestPauser_CancelWhilePaused(t *testing.T) {
	p := NewPauser()
	p.Pause()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	if err := p.Hold(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Hold() error = %v, want deadline exceeded", err)
	}
	if err := p.Sleep(ctx, time.Second); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Sleep() error = %v, want deadline exceeded", err)
	}
}

// ─── Engine ─────────────────────────────────────────────────────────────────

func TestEngine_PauseHoldsRunUntilResume(t *testing.T) {
	e, gw, _ := setupEngine(t)
	bus := events.NewBus()
	ch, unsubscribe := bus.Subscribe(64)
	defer unsubscribe()
	e.SetPublisher(bus)

	h, err := e.Start(context.Background(), script(wait(60), tap(1, 1), tap(2, 2)))
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	// Lands during the wait, so the run holds at a wait tick.
	time.Sleep(20 * time.Millisecond)
	if err := e.Pause(h.ID()); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	if st := h.Status().Status; st != StatusPaused {
		t.Fatalf("Status = %s, want paused", st)
	}

	time.Sleep(150 * time.Millisecond)
	if n := gw.count("tap"); n != 0 {
		t.Fatalf("%d taps sent while paused", n)
	}

	if err := e.Resume(h.ID()); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	res := waitResult(t, h)
	if res.Status != StatusCompleted || gw.count("tap") != 2 {
		t.Errorf("Status = %s, taps = %d; want completed with 2", res.Status, gw.count("tap"))
	}

	var states []string
	for len(ch) > 0 {
		states = append(states, (<-ch).State)
	}
	want := []string{"running", "running", "paused", "running"}
	for i, s := range want {
		if i >= len(states) || states[i] != s {
			t.Fatalf("states = %v, want prefix %v", states, want)
		}
	}
}

func TestEngine_CancelPausedRun(t *testing.T) {
	e, gw, _ := setupEngine(t)

	h, err := e.Start(context.Background(), script(wait(5000), tap(1, 1)))
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !h.Pause() {
		t.Fatal("Pause() = false on a live run")
	}
	h.Cancel()

	res := waitResult(t, h)
	if res.Status != StatusCancelled {
		t.Errorf("Status = %s, want cancelled", res.Status)
	}
	if gw.count("tap") != 0 {
		t.Error("tap sent after cancel")
	}
}

func TestEngine_PauseFinishedOrUnknownRun(t *testing.T) {
	e, _, _ := setupEngine(t)

	if err := e.Pause("nope"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Pause(unknown) error = %v, want ErrRunNotFound", err)
	}
	if err := e.Resume("nope"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Resume(unknown) error = %v, want ErrRunNotFound", err)
	}

	h, err := e.Start(context.Background(), script(tap(1, 1)))
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitResult(t, h)

	if h.Pause() || h.Resume() {
		t.Error("a finished run accepted pause or resume")
	}
	if st := h.Status().Status; st != StatusCompleted {
		t.Errorf("Status = %s, want completed to stick", st)
	}
}
