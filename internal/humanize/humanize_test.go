package humanize

import (
	"errors"
	"image"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/nerrad567/macroforge-core/internal/infrastructure/config"
)

func testConfig() config.HumanizerConfig {
	return config.HumanizerConfig{OffsetRange: 5, MinDelayMS: 300, MaxDelayMS: 1200, HoldMinMS: 50, HoldMaxMS: 150}
}

func newTest(t *testing.T, cfg config.HumanizerConfig) *Humanizer {
	t.Helper()
	h, err := New(cfg, WithSource(rand.NewPCG(1, 2)))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return h
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.HumanizerConfig)
		ok     bool
	}{
		{"defaults", func(*config.HumanizerConfig) {}, true},
		{"zero offset", func(c *config.HumanizerConfig) { c.OffsetRange = 0 }, true},
		{"equal delays", func(c *config.HumanizerConfig) { c.MinDelayMS, c.MaxDelayMS = 500, 500 }, true},
		{"negative offset", func(c *config.HumanizerConfig) { c.OffsetRange = -1 }, false},
		{"min over max delay", func(c *config.HumanizerConfig) { c.MinDelayMS, c.MaxDelayMS = 900, 100 }, false},
		{"min over max hold", func(c *config.HumanizerConfig) { c.HoldMinMS, c.HoldMaxMS = 200, 100 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			_, err := New(cfg)
			if tt.ok && err != nil {
				t.Errorf("New() error = %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrConfig) {
				t.Errorf("New() error = %v, want ErrConfig", err)
			}
		})
	}
}

func TestPerturbPoint_WithinRangeAndBounds(t *testing.T) {
	h := newTest(t, testConfig())
	bounds := image.Rect(0, 0, 100, 100)

	for i := 0; i < 2000; i++ {
		x, y := h.PerturbPoint(50, 50, bounds)
		if x < 45 || x > 55 || y < 45 || y > 55 {
			t.Fatalf("PerturbPoint(50,50) = (%d,%d) outside ±5", x, y)
		}
	}

	for i := 0; i < 2000; i++ {
		x, y := h.PerturbPoint(0, 99, bounds)
		if x < 0 || x > 4 || y < 94 || y > 99 {
			t.Fatalf("PerturbPoint(0,99) = (%d,%d) not clamped", x, y)
		}
	}
}

func TestPerturbPoint_CoversRange(t *testing.T) {
	h := newTest(t, testConfig())
	seen := map[int]bool{}
	for i := 0; i < 5000; i++ {
		x, _ := h.PerturbPoint(50, 50, image.Rectangle{})
		seen[x-50] = true
	}
	for d := -5; d <= 5; d++ {
		if !seen[d] {
			t.Errorf("offset %d never drawn", d)
		}
	}
}

func TestPerturbPoint_UnknownBoundsStayOnScreen(t *testing.T) {
	h := newTest(t, testConfig())
	for i := 0; i < 2000; i++ {
		x, y := h.PerturbPoint(0, 2, image.Rectangle{})
		if x < 0 || x > 5 || y < 0 || y > 7 {
			t.Fatalf("PerturbPoint(0,2) with no bounds = (%d,%d)", x, y)
		}
	}
}

func TestPerturbPoint_ZeroRangeIsIdentity(t *testing.T) {
	cfg := testConfig()
	cfg.OffsetRange = 0
	h := newTest(t, cfg)
	if x, y := h.PerturbPoint(12, 34, image.Rect(0, 0, 100, 100)); x != 12 || y != 34 {
		t.Errorf("PerturbPoint() = (%d,%d)", x, y)
	}
}

func TestJitterDelay(t *testing.T) {
	h := newTest(t, testConfig())

	for i := 0; i < 1000; i++ {
		d, err := h.JitterDelay(100, 200)
		if err != nil {
			t.Fatalf("JitterDelay() error = %v", err)
		}
		if d < 100*time.Millisecond || d > 200*time.Millisecond {
			t.Fatalf("JitterDelay(100,200) = %v", d)
		}
	}

	d, err := h.JitterDelay(250, 250)
	if err != nil || d != 250*time.Millisecond {
		t.Errorf("JitterDelay(250,250) = %v, %v", d, err)
	}

	if _, err := h.JitterDelay(300, 100); !errors.Is(err, ErrConfig) {
		t.Errorf("JitterDelay(300,100) error = %v, want ErrConfig", err)
	}
}

func TestStepDelayAndHold(t *testing.T) {
	h := newTest(t, testConfig())
	for i := 0; i < 500; i++ {
		if d := h.StepDelay(); d < 300*time.Millisecond || d > 1200*time.Millisecond {
			t.Fatalf("StepDelay() = %v", d)
		}
		if d := h.HoldDuration(); d < 50*time.Millisecond || d > 150*time.Millisecond {
			t.Fatalf("HoldDuration() = %v", d)
		}
	}
}

func TestSwipeDuration(t *testing.T) {
	h := newTest(t, testConfig())
	for i := 0; i < 500; i++ {
		if got := h.SwipeDuration(1000); got < 850 || got > 1150 {
			t.Fatalf("SwipeDuration(1000) = %d", got)
		}
	}
	if got := h.SwipeDuration(0); got != 0 {
		t.Errorf("SwipeDuration(0) = %d", got)
	}
}
