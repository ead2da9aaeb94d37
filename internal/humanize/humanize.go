// Package humanize randomises input coordinates and timings so that
// dispatched gestures do not land on identical pixels at identical
// intervals.
package humanize

import (
	"errors"
	"fmt"
	"image"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/nerrad567/macroforge-core/internal/infrastructure/config"
)

// ErrConfig indicates an invalid humanizer configuration or delay range.
var ErrConfig = errors.New("humanize: invalid configuration")

// LongHoldThreshold is the hold above which a tap is sent as a swipe to
// the same point, since "input tap" cannot hold.
const LongHoldThreshold = 80 * time.Millisecond

// Swipe durations are scaled by a factor drawn from this range.
const (
	swipeJitterMin = 0.85
	swipeJitterMax = 1.15
)

// Humanizer draws perturbations from a single random source. It is safe
// for concurrent use.
type Humanizer struct {
	cfg config.HumanizerConfig

	mu  sync.Mutex
	rng *rand.Rand
}

// Option configures a Humanizer.
type Option func(*Humanizer)

// WithSource replaces the random source, for deterministic tests.
func WithSource(src rand.Source) Option {
	return func(h *Humanizer) { h.rng = rand.New(src) }
}

// New validates cfg and returns a Humanizer seeded from the runtime.
func New(cfg config.HumanizerConfig, opts ...Option) (*Humanizer, error) {
	if cfg.OffsetRange < 0 {
		return nil, fmt.Errorf("%w: offset_range %d is negative", ErrConfig, cfg.OffsetRange)
	}
	if cfg.MinDelayMS < 0 || cfg.MinDelayMS > cfg.MaxDelayMS {
		return nil, fmt.Errorf("%w: delay range %d..%d ms", ErrConfig, cfg.MinDelayMS, cfg.MaxDelayMS)
	}
	if cfg.HoldMinMS < 0 || cfg.HoldMinMS > cfg.HoldMaxMS {
		return nil, fmt.Errorf("%w: hold range %d..%d ms", ErrConfig, cfg.HoldMinMS, cfg.HoldMaxMS)
	}

	h := &Humanizer{cfg: cfg, rng: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))} //nolint:gosec // not security sensitive
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// intIn returns a uniform integer in [lo, hi].
func (h *Humanizer) intIn(lo, hi int) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return lo + h.rng.IntN(hi-lo+1)
}

func (h *Humanizer) floatIn(lo, hi float64) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return lo + h.rng.Float64()*(hi-lo)
}

// PerturbPoint offsets (x, y) by an independent uniform amount in
// [-offset_range, +offset_range] per axis and clamps the result into
// bounds. With empty bounds the screen size is unknown, so the result
// is only kept non-negative.
func (h *Humanizer) PerturbPoint(x, y int, bounds image.Rectangle) (int, int) {
	r := h.cfg.OffsetRange
	if r > 0 {
		x += h.intIn(-r, r)
		y += h.intIn(-r, r)
	}
	if bounds.Empty() {
		return max(x, 0), max(y, 0)
	}
	return clamp(x, bounds.Min.X, bounds.Max.X-1), clamp(y, bounds.Min.Y, bounds.Max.Y-1)
}

// JitterDelay returns a uniform duration in [minMs, maxMs] milliseconds.
// minMs > maxMs is a configuration error; the bounds are never swapped.
func (h *Humanizer) JitterDelay(minMs, maxMs int) (time.Duration, error) {
	if minMs < 0 || minMs > maxMs {
		return 0, fmt.Errorf("%w: delay range %d..%d ms", ErrConfig, minMs, maxMs)
	}
	return time.Duration(h.intIn(minMs, maxMs)) * time.Millisecond, nil
}

// StepDelay returns the pause inserted between device steps.
func (h *Humanizer) StepDelay() time.Duration {
	d, err := h.JitterDelay(h.cfg.MinDelayMS, h.cfg.MaxDelayMS)
	if err != nil {
		// New rejects this range.
		return 0
	}
	return d
}

// SwipeDuration scales a swipe duration by a factor in [0.85, 1.15].
func (h *Humanizer) SwipeDuration(ms int) int {
	if ms <= 0 {
		return ms
	}
	scaled := int(float64(ms) * h.floatIn(swipeJitterMin, swipeJitterMax))
	return max(scaled, 1)
}

// HoldDuration returns how long a tap is held.
func (h *Humanizer) HoldDuration() time.Duration {
	return time.Duration(h.intIn(h.cfg.HoldMinMS, h.cfg.HoldMaxMS)) * time.Millisecond
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
