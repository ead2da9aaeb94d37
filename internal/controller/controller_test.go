package controller

import (
	"errors"
	"sync"
	"testing"

	"github.com/nerrad567/macroforge-core/internal/events"
	"github.com/nerrad567/macroforge-core/internal/queue"
)

var _ events.Controller = (*Controller)(nil)

// recorder logs the order in which components were stopped.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, s)
}

type mockEngine struct{ r *recorder }

func (m mockEngine) Cancel(id string) error {
	if id == "missing" {
		return errors.New("run: not found")
	}
	m.r.add("cancel:" + id)
	return nil
}
func (m mockEngine) Pause(id string) error  { m.r.add("pause:" + id); return nil }
func (m mockEngine) Resume(id string) error { m.r.add("resume:" + id); return nil }
func (m mockEngine) CancelAll()             { m.r.add("engine") }

type mockScheduler struct{ r *recorder }

func (m mockScheduler) Pause(name string) error  { m.r.add("pause-bg:" + name); return nil }
func (m mockScheduler) Resume(name string) error { m.r.add("resume-bg:" + name); return nil }
func (m mockScheduler) StopAll()                 { m.r.add("background") }

type mockSequencer struct {
	r   *recorder
	err error
}

func (m mockSequencer) Cancel() error {
	m.r.add("queue")
	return m.err
}

func TestController_StopAllOrder(t *testing.T) {
	r := &recorder{}
	c := New(mockEngine{r}, mockScheduler{r}, mockSequencer{r: r, err: queue.ErrQueueNotRunning}, nil)

	c.StopAll()
	c.StopAll()

	want := []string{"queue", "engine", "background", "queue", "engine", "background"}
	if len(r.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", r.calls, want)
	}
	for i := range want {
		if r.calls[i] != want[i] {
			t.Fatalf("calls = %v, want %v", r.calls, want)
		}
	}
}

func TestController_ConcurrentStopAll(t *testing.T) {
	r := &recorder{}
	c := New(mockEngine{r}, mockScheduler{r}, mockSequencer{r: r}, nil)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.StopAll()
		}()
	}
	wg.Wait()

	if len(r.calls) != 24 {
		t.Errorf("calls = %d, want 24", len(r.calls))
	}
}

func TestController_NilComponents(t *testing.T) {
	c := New(nil, nil, nil, nil)
	c.StopAll()

	if err := c.CancelQueue(); !errors.Is(err, queue.ErrQueueNotRunning) {
		t.Errorf("CancelQueue() error = %v", err)
	}
	if err := c.CancelRun("x"); err == nil {
		t.Error("CancelRun() without engine succeeded")
	}
	if err := c.PauseRun("x"); !errors.Is(err, errNoEngine) {
		t.Errorf("PauseRun() error = %v, want errNoEngine", err)
	}
	if err := c.ResumeRun("x"); !errors.Is(err, errNoEngine) {
		t.Errorf("ResumeRun() error = %v, want errNoEngine", err)
	}
	if err := c.PauseBackground("x"); !errors.Is(err, errNoScheduler) {
		t.Errorf("PauseBackground() error = %v, want errNoScheduler", err)
	}
	if err := c.ResumeBackground("x"); !errors.Is(err, errNoScheduler) {
		t.Errorf("ResumeBackground() error = %v, want errNoScheduler", err)
	}
}

func TestController_CancelRun(t *testing.T) {
	r := &recorder{}
	c := New(mockEngine{r}, nil, nil, nil)

	if err := c.CancelRun("abc"); err != nil {
		t.Fatalf("CancelRun() error = %v", err)
	}
	if err := c.CancelRun("missing"); err == nil {
		t.Error("CancelRun(missing) succeeded")
	}
	if len(r.calls) != 1 || r.calls[0] != "cancel:abc" {
		t.Errorf("calls = %v", r.calls)
	}
}

func TestController_PauseResumeRouting(t *testing.T) {
	r := &recorder{}
	c := New(mockEngine{r}, mockScheduler{r}, nil, nil)

	for _, err := range []error{
		c.PauseRun("r1"),
		c.ResumeRun("r1"),
		c.PauseBackground("claim"),
		c.ResumeBackground("claim"),
	} {
		if err != nil {
			t.Fatalf("unexpected error %v", err)
		}
	}

	want := []string{"pause:r1", "resume:r1", "pause-bg:claim", "resume-bg:claim"}
	if len(r.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", r.calls, want)
	}
	for i := range want {
		if r.calls[i] != want[i] {
			t.Fatalf("calls = %v, want %v", r.calls, want)
		}
	}
}
