package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/nerrad567/macroforge-core/internal/auth"
	"github.com/nerrad567/macroforge-core/internal/background"
	"github.com/nerrad567/macroforge-core/internal/macro"
	"github.com/nerrad567/macroforge-core/internal/queue"
)

// ─── Runs ───────────────────────────────────────────────────────────────────

func startRun(t *testing.T, e *testEnv, name string) *macro.RunHandle {
	t.Helper()
	script, err := e.registry.Resolve(context.Background(), name)
	if err != nil {
		t.Fatalf("Resolve(%s) error = %v", name, err)
	}
	h, err := e.engine.Start(context.Background(), script)
	if err != nil {
		t.Fatalf("Start(%s) error = %v", name, err)
	}
	return h
}

func waitRun(t *testing.T, h *macro.RunHandle) macro.RunResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := h.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	return res
}

func TestRuns_GetListAndHistory(t *testing.T) {
	e := newTestEnv(t, testSecret)
	viewer := tokenFor(t, auth.RoleViewer)
	createScript(t, e, "quick", tapStep(1, 1))

	h := startRun(t, e, "quick")
	waitRun(t, h)

	w := e.do(t, http.MethodGet, "/api/v1/runs/"+h.ID(), "", viewer)
	expectStatus(t, w, http.StatusOK)
	if got := decode[macro.RunResult](t, w); got.Status != macro.StatusCompleted {
		t.Errorf("run = %+v", got)
	}

	w = e.do(t, http.MethodGet, "/api/v1/runs", "", viewer)
	expectStatus(t, w, http.StatusOK)
	if got := decode[map[string]any](t, w); got["count"] != float64(1) {
		t.Errorf("runs = %v", got)
	}

	w = e.do(t, http.MethodGet, "/api/v1/runs/history?limit=10", "", viewer)
	expectStatus(t, w, http.StatusOK)
	history := decode[struct {
		Runs []macro.RunResult `json:"runs"`
	}](t, w)
	if len(history.Runs) != 1 || history.Runs[0].RunID != h.ID() || history.Runs[0].Status != macro.StatusCompleted {
		t.Errorf("history = %+v", history.Runs)
	}

	w = e.do(t, http.MethodGet, "/api/v1/runs/history?limit=0", "", viewer)
	expectStatus(t, w, http.StatusBadRequest)

	w = e.do(t, http.MethodGet, "/api/v1/runs/missing", "", viewer)
	expectStatus(t, w, http.StatusNotFound)
}

func TestRuns_Cancel(t *testing.T) {
	e := newTestEnv(t, testSecret)
	operator := tokenFor(t, auth.RoleOperator)
	createScript(t, e, "slow", tapStep(1, 1), waitStep(10000))

	h := startRun(t, e, "slow")
	waitFor(t, time.Second, func() bool { return e.gateway.tapCount() == 1 })

	w := e.do(t, http.MethodPost, "/api/v1/runs/"+h.ID()+"/cancel", "", operator)
	expectStatus(t, w, http.StatusAccepted)

	if res := waitRun(t, h); res.Status != macro.StatusCancelled {
		t.Errorf("status = %s, want cancelled", res.Status)
	}

	// Cancelling a finished run is a no-op.
	w = e.do(t, http.MethodPost, "/api/v1/runs/"+h.ID()+"/cancel", "", operator)
	expectStatus(t, w, http.StatusAccepted)

	w = e.do(t, http.MethodPost, "/api/v1/runs/missing/cancel", "", operator)
	expectStatus(t, w, http.StatusNotFound)

	w = e.do(t, http.MethodPost, "/api/v1/runs/"+h.ID()+"/cancel", "", tokenFor(t, auth.RoleViewer))
	expectStatus(t, w, http.StatusForbidden)
}

func TestRuns_PauseResume(t *testing.T) {
	e := newTestEnv(t, testSecret)
	operator := tokenFor(t, auth.RoleOperator)
	createScript(t, e, "paced", tapStep(1, 1), waitStep(150), tapStep(2, 2))

	h := startRun(t, e, "paced")
	waitFor(t, time.Second, func() bool { return e.gateway.tapCount() == 1 })

	w := e.do(t, http.MethodPost, "/api/v1/runs/"+h.ID()+"/pause", "", operator)
	expectStatus(t, w, http.StatusOK)
	if got := decode[macro.RunResult](t, w); got.Status != macro.StatusPaused {
		t.Errorf("status after pause = %s", got.Status)
	}

	time.Sleep(300 * time.Millisecond)
	if n := e.gateway.tapCount(); n != 1 {
		t.Fatalf("taps while paused = %d, want 1", n)
	}

	w = e.do(t, http.MethodPost, "/api/v1/runs/"+h.ID()+"/resume", "", operator)
	expectStatus(t, w, http.StatusOK)
	if res := waitRun(t, h); res.Status != macro.StatusCompleted || e.gateway.tapCount() != 2 {
		t.Errorf("status = %s, taps = %d; want completed with 2", res.Status, e.gateway.tapCount())
	}

	w = e.do(t, http.MethodPost, "/api/v1/runs/missing/pause", "", operator)
	expectStatus(t, w, http.StatusNotFound)

	w = e.do(t, http.MethodPost, "/api/v1/runs/"+h.ID()+"/pause", "", tokenFor(t, auth.RoleViewer))
	expectStatus(t, w, http.StatusForbidden)
}

// ─── Background ─────────────────────────────────────────────────────────────

func TestBackground_Lifecycle(t *testing.T) {
	e := newTestEnv(t, testSecret)
	operator := tokenFor(t, auth.RoleOperator)
	body := `{"name":"collect","interval_ms":20,"jitter_ms":5,"steps":[{"type":"tap","x":3,"y":3}]}`

	w := e.do(t, http.MethodPost, "/api/v1/background", body, operator)
	expectStatus(t, w, http.StatusCreated)
	if st := decode[background.ActionStatus](t, w); st.State != background.StateRunning || st.JitterMs != 5 {
		t.Errorf("status = %+v", st)
	}

	w = e.do(t, http.MethodPost, "/api/v1/background", body, operator)
	expectStatus(t, w, http.StatusConflict)

	waitFor(t, 2*time.Second, func() bool {
		st, _ := e.scheduler.Get("collect")
		return st.Cycles >= 2
	})

	w = e.do(t, http.MethodGet, "/api/v1/background", "", operator)
	expectStatus(t, w, http.StatusOK)
	if got := decode[map[string]any](t, w); got["count"] != float64(1) {
		t.Errorf("list = %v", got)
	}

	w = e.do(t, http.MethodPost, "/api/v1/background/collect/stop", "", operator)
	expectStatus(t, w, http.StatusOK)
	if st := decode[background.ActionStatus](t, w); st.State != background.StateStopped {
		t.Errorf("state after stop = %s", st.State)
	}

	w = e.do(t, http.MethodPost, "/api/v1/background/missing/stop", "", operator)
	expectStatus(t, w, http.StatusNotFound)
}

func TestBackground_PauseResume(t *testing.T) {
	e := newTestEnv(t, testSecret)
	operator := tokenFor(t, auth.RoleOperator)
	body := `{"name":"collect","interval_ms":10,"steps":[{"type":"tap","x":3,"y":3}]}`

	w := e.do(t, http.MethodPost, "/api/v1/background", body, operator)
	expectStatus(t, w, http.StatusCreated)
	defer e.scheduler.StopAll()

	w = e.do(t, http.MethodPost, "/api/v1/background/collect/pause", "", operator)
	expectStatus(t, w, http.StatusOK)
	if st := decode[background.ActionStatus](t, w); st.State != background.StatePaused {
		t.Fatalf("state after pause = %s", st.State)
	}

	// At most the cycle in flight when the pause landed may finish.
	before, _ := e.scheduler.Get("collect")
	time.Sleep(100 * time.Millisecond)
	if st, _ := e.scheduler.Get("collect"); st.Cycles > before.Cycles+1 {
		t.Errorf("cycles advanced %d -> %d while paused", before.Cycles, st.Cycles)
	}

	w = e.do(t, http.MethodPost, "/api/v1/background/collect/resume", "", operator)
	expectStatus(t, w, http.StatusOK)
	if st := decode[background.ActionStatus](t, w); st.State != background.StateRunning {
		t.Errorf("state after resume = %s", st.State)
	}
	paused, _ := e.scheduler.Get("collect")
	waitFor(t, 2*time.Second, func() bool {
		st, _ := e.scheduler.Get("collect")
		return st.Cycles >= paused.Cycles+2
	})

	w = e.do(t, http.MethodPost, "/api/v1/background/missing/pause", "", operator)
	expectStatus(t, w, http.StatusNotFound)
}

func TestBackground_RejectsBranch(t *testing.T) {
	e := newTestEnv(t, testSecret)

	body := `{"name":"branchy","interval_ms":100,"steps":[{"type":"branch","template":"a.png","on_match":0,"on_no_match":0}]}`
	w := e.do(t, http.MethodPost, "/api/v1/background", body, tokenFor(t, auth.RoleOperator))
	expectStatus(t, w, http.StatusUnprocessableEntity)

	if len(e.scheduler.List()) != 0 {
		t.Error("rejected action was registered")
	}
}

// ─── Queue ──────────────────────────────────────────────────────────────────

func TestQueue_StartProgressAndHistory(t *testing.T) {
	e := newTestEnv(t, testSecret)
	operator := tokenFor(t, auth.RoleOperator)
	createScript(t, e, "first", tapStep(1, 1))
	createScript(t, e, "second", tapStep(2, 2))

	w := e.do(t, http.MethodGet, "/api/v1/queue", "", operator)
	expectStatus(t, w, http.StatusNotFound)

	w = e.do(t, http.MethodPost, "/api/v1/queue",
		`{"entries":[{"script":"first"},{"script":"second","repeat":2}]}`, operator)
	expectStatus(t, w, http.StatusAccepted)
	started := decode[queue.Progress](t, w)
	if started.ID == "" || len(started.Entries) != 2 {
		t.Fatalf("started = %+v", started)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := e.sequencer.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	w = e.do(t, http.MethodGet, "/api/v1/queue", "", operator)
	expectStatus(t, w, http.StatusOK)
	p := decode[queue.Progress](t, w)
	if p.Status != queue.StatusCompleted || p.Entries[1].Runs != 2 {
		t.Errorf("progress = %+v", p)
	}
	if e.gateway.tapCount() != 3 {
		t.Errorf("taps = %d, want 3", e.gateway.tapCount())
	}

	w = e.do(t, http.MethodGet, "/api/v1/queue/history", "", operator)
	expectStatus(t, w, http.StatusOK)
	if got := decode[map[string]any](t, w); got["count"] != float64(1) {
		t.Errorf("history = %v", got)
	}

	w = e.do(t, http.MethodGet, "/api/v1/queue/history/"+started.ID, "", operator)
	expectStatus(t, w, http.StatusOK)
	if got := decode[queue.Progress](t, w); got.Status != queue.StatusCompleted {
		t.Errorf("stored queue = %+v", got)
	}

	w = e.do(t, http.MethodGet, "/api/v1/queue/history/missing", "", operator)
	expectStatus(t, w, http.StatusNotFound)
}

func TestQueue_Errors(t *testing.T) {
	e := newTestEnv(t, testSecret)
	operator := tokenFor(t, auth.RoleOperator)
	createScript(t, e, "slow", waitStep(10000))

	tests := []struct {
		name string
		body string
		want int
	}{
		{"invalid JSON", "{", http.StatusBadRequest},
		{"no entries", `{"entries":[]}`, http.StatusUnprocessableEntity},
		{"bad policy", `{"policy":"ignore","entries":[{"script":"slow"}]}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := e.do(t, http.MethodPost, "/api/v1/queue", tt.body, operator)
			expectStatus(t, w, tt.want)
		})
	}

	w := e.do(t, http.MethodPost, "/api/v1/queue/cancel", "", operator)
	expectStatus(t, w, http.StatusConflict)

	w = e.do(t, http.MethodPost, "/api/v1/queue", `{"entries":[{"script":"slow"}]}`, operator)
	expectStatus(t, w, http.StatusAccepted)

	w = e.do(t, http.MethodPost, "/api/v1/queue", `{"entries":[{"script":"slow"}]}`, operator)
	expectStatus(t, w, http.StatusConflict)

	w = e.do(t, http.MethodPost, "/api/v1/queue/cancel", "", operator)
	expectStatus(t, w, http.StatusAccepted)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p, err := e.sequencer.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if p.Status != queue.StatusCancelled {
		t.Errorf("status = %s, want cancelled", p.Status)
	}
}

// ─── Stop All ───────────────────────────────────────────────────────────────

func TestStopAll(t *testing.T) {
	e := newTestEnv(t, testSecret)
	createScript(t, e, "slow", tapStep(1, 1), waitStep(10000))

	if err := e.scheduler.Start(context.Background(), background.Action{
		Name:       "bg",
		IntervalMs: 20,
		Steps:      macro.StepList{tapStep(5, 5)},
	}); err != nil {
		t.Fatalf("scheduler.Start() error = %v", err)
	}
	h := startRun(t, e, "slow")
	waitFor(t, time.Second, func() bool { return e.gateway.tapCount() >= 2 })

	w := e.do(t, http.MethodPost, "/api/v1/stop-all", "", tokenFor(t, auth.RoleOperator))
	expectStatus(t, w, http.StatusOK)

	if res := waitRun(t, h); res.Status != macro.StatusCancelled {
		t.Errorf("run status = %s, want cancelled", res.Status)
	}
	if st, _ := e.scheduler.Get("bg"); st.State != background.StateStopped {
		t.Errorf("background state = %s, want stopped", st.State)
	}
}
