package macro

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/macroforge-core/internal/humanize"
	"github.com/nerrad567/macroforge-core/internal/infrastructure/config"
	"github.com/nerrad567/macroforge-core/internal/matcher"
)

// ─── Mock Dependencies ──────────────────────────────────────────────────────

type gatewayCall struct {
	Op   string // tap, swipe, key
	Args []int
}

// mockGateway records input calls and serves a blank frame.
type mockGateway struct {
	mu         sync.Mutex
	calls      []gatewayCall
	captures   int
	captureErr error
	inputErr   error
}

func (g *mockGateway) CaptureFrame(context.Context) (image.Image, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.captures++
	if g.captureErr != nil {
		return nil, g.captureErr
	}
	return image.NewRGBA(image.Rect(0, 0, 720, 1280)), nil
}

func (g *mockGateway) record(op string, args ...int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, gatewayCall{Op: op, Args: args})
	return g.inputErr
}

func (g *mockGateway) Tap(_ context.Context, x, y int) error { return g.record("tap", x, y) }

func (g *mockGateway) Swipe(_ context.Context, x1, y1, x2, y2, d int) error {
	return g.record("swipe", x1, y1, x2, y2, d)
}

func (g *mockGateway) KeyEvent(_ context.Context, code int) error { return g.record("key", code) }

func (g *mockGateway) getCalls() []gatewayCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	cpy := make([]gatewayCall, len(g.calls))
	copy(cpy, g.calls)
	return cpy
}

func (g *mockGateway) count(op string) int {
	n := 0
	for _, c := range g.getCalls() {
		if c.Op == op {
			n++
		}
	}
	return n
}

// mockMatcher answers per template. A template listed in foundAfter is
// found from its Nth evaluation onwards (1-based); 0 means never.
type mockMatcher struct {
	mu         sync.Mutex
	foundAfter map[string]int
	location   image.Point
	evals      map[string]int
	thresholds []float64
	err        error
}

func newMockMatcher() *mockMatcher {
	return &mockMatcher{
		foundAfter: map[string]int{},
		evals:      map[string]int{},
		location:   image.Pt(360, 640),
	}
}

func (m *mockMatcher) Evaluate(_ context.Context, _ image.Image, template string, _ *image.Rectangle, threshold float64) (matcher.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return matcher.Result{}, m.err
	}
	m.evals[template]++
	m.thresholds = append(m.thresholds, threshold)

	after := m.foundAfter[template]
	if after > 0 && m.evals[template] >= after {
		return matcher.Result{Found: true, Location: m.location, Score: 0.99, Scale: 1}, nil
	}
	return matcher.Result{Score: 0.2, Scale: 1}, nil
}

func (m *mockMatcher) DefaultThreshold() float64 { return 0.85 }

func (m *mockMatcher) evalCount(template string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.evals[template]
}

// mockRunStore records persisted runs.
type mockRunStore struct {
	mu      sync.Mutex
	created []RunResult
	updated []RunResult
}

func (s *mockRunStore) CreateRun(_ context.Context, r *RunResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, *r)
	return nil
}

func (s *mockRunStore) UpdateRun(_ context.Context, r *RunResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updated = append(s.updated, *r)
	return errors.New("disk full") // persistence failures must not fail runs
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func newTestHumanizer(t *testing.T, cfg config.HumanizerConfig) *humanize.Humanizer {
	t.Helper()
	h, err := humanize.New(cfg)
	if err != nil {
		t.Fatalf("humanize.New() error = %v", err)
	}
	return h
}

func setupEngine(t *testing.T) (*Engine, *mockGateway, *mockMatcher) {
	t.Helper()
	gw := &mockGateway{}
	m := newMockMatcher()
	h := newTestHumanizer(t, config.HumanizerConfig{})
	e := NewEngine(config.EngineConfig{MaxSteps: 100, DefaultPollMS: 20}, gw, m, h, nil)
	return e, gw, m
}

func waitResult(t *testing.T, h *RunHandle) RunResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := h.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	return res
}

func script(steps ...Step) *Script {
	return &Script{Name: "test", Steps: steps}
}

func tap(x, y int) *TapStep { return &TapStep{X: x, Y: y} }

func wait(ms int) *WaitStep { return &WaitStep{DurationMs: ms} }

func imageClick(tpl string, timeoutMs int) *ImageClickStep {
	return &ImageClickStep{ImageMatch: ImageMatch{Template: tpl}, TimeoutMs: timeoutMs}
}

func waitForImage(tpl string, timeoutMs, pollMs int) *WaitForImageStep {
	return &WaitForImageStep{ImageMatch: ImageMatch{Template: tpl}, TimeoutMs: timeoutMs, PollMs: pollMs}
}

func branch(tpl string, onMatch, onNoMatch int) *BranchStep {
	return &BranchStep{ImageMatch: ImageMatch{Template: tpl}, OnMatch: onMatch, OnNoMatch: onNoMatch}
}
