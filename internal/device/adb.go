package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/macroforge-core/internal/infrastructure/config"
)

// Runner executes the adb binary with args and returns its stdout.
type Runner interface {
	Run(ctx context.Context, args ...string) ([]byte, error)
}

type execRunner struct {
	path string
}

func (r execRunner) Run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, r.path, args...) //nolint:gosec // adb path from config
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return out, fmt.Errorf("adb %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

// Logger is the logging surface used by ADB.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Option configures an ADB gateway.
type Option func(*ADB)

// WithRunner replaces the exec-based runner. Used by tests.
func WithRunner(r Runner) Option {
	return func(a *ADB) { a.run = r }
}

// WithLogger sets the gateway logger.
func WithLogger(l Logger) Option {
	return func(a *ADB) { a.logger = l }
}

// WithServerPort points adb at a non-default server port (adb -P).
func WithServerPort(port int) Option {
	return func(a *ADB) { a.serverPort = port }
}

// ADB is a Gateway backed by the adb command line.
//
// The device is selected with -s <serial>. Without a configured serial the
// gateway runs "adb connect host:port" and uses that address as serial.
// A failed screenshot or "wm size" triggers one reconnect and one retry.
// Input commands are retried only when adb reports that it never reached
// the device, so a gesture that may have landed is never sent twice.
type ADB struct {
	run        Runner
	logger     Logger
	serial     string
	network    bool
	serverPort int
	timeout    time.Duration

	mu         sync.Mutex
	calibrated bool
	scaleX     float64
	scaleY     float64
}

// NewADB builds a gateway from the device config section.
func NewADB(cfg config.DeviceConfig, opts ...Option) *ADB {
	a := &ADB{
		run:     execRunner{path: cfg.ADBPath},
		logger:  noopLogger{},
		serial:  cfg.Serial,
		timeout: time.Duration(cfg.CommandTimeout) * time.Second,
		scaleX:  1,
		scaleY:  1,
	}
	if a.serial == "" {
		a.serial = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
		a.network = true
	}
	if a.timeout <= 0 {
		a.timeout = 10 * time.Second
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Serial returns the adb device selector in use.
func (a *ADB) Serial() string {
	return a.serial
}

func (a *ADB) exec(ctx context.Context, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	full := make([]string, 0, len(args)+4)
	if a.serverPort > 0 {
		full = append(full, "-P", strconv.Itoa(a.serverPort))
	}
	full = append(full, args...)
	return a.run.Run(ctx, full...)
}

// Connect attaches to the device. For a network device it runs
// "adb connect"; in every case it checks "get-state" reports "device".
func (a *ADB) Connect(ctx context.Context) error {
	if a.network {
		out, err := a.exec(ctx, "connect", a.serial)
		if err != nil {
			return fmt.Errorf("%w: connect %s: %w", ErrDevice, a.serial, err)
		}
		msg := strings.ToLower(string(out))
		if !strings.Contains(msg, "connected to") {
			return fmt.Errorf("%w: connect %s: %s", ErrDevice, a.serial, strings.TrimSpace(string(out)))
		}
	}

	out, err := a.exec(ctx, "-s", a.serial, "get-state")
	if err != nil {
		return fmt.Errorf("%w: get-state %s: %w", ErrDevice, a.serial, err)
	}
	if state := strings.TrimSpace(string(out)); state != "device" {
		return fmt.Errorf("%w: device %s is %q", ErrDevice, a.serial, state)
	}
	return nil
}

// unreachable lists adb error output meaning the command never reached
// the device.
var unreachable = []string{
	"device offline",
	"no devices",
	"not found",
	"connection refused",
	"connection reset",
	"cannot connect",
	"failed to connect",
	"closed",
}

// isUnreachable reports whether err shows that adb could not talk to the
// device at all.
func isUnreachable(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, s := range unreachable {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// query runs an idempotent device-scoped command, reconnecting and
// retrying once on any failure.
func (a *ADB) query(ctx context.Context, args ...string) ([]byte, error) {
	return a.device(ctx, func(error) bool { return true }, args...)
}

// device runs a device-scoped command. After a failure it reconnects and
// retries once if retry approves the error.
func (a *ADB) device(ctx context.Context, retry func(error) bool, args ...string) ([]byte, error) {
	full := append([]string{"-s", a.serial}, args...)

	out, err := a.exec(ctx, full...)
	if err == nil {
		return out, nil
	}
	if ctx.Err() != nil || !retry(err) {
		return nil, err
	}

	a.logger.Warn("adb command failed, reconnecting", "serial", a.serial, "error", err)
	if cerr := a.Connect(ctx); cerr != nil {
		return nil, errors.Join(err, cerr)
	}
	return a.exec(ctx, full...)
}

// CaptureFrame takes a PNG screenshot via "exec-out screencap -p".
func (a *ADB) CaptureFrame(ctx context.Context) (image.Image, error) {
	out, err := a.query(ctx, "exec-out", "screencap", "-p")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCapture, err)
	}
	frame, err := DecodeFrame(out)
	if err != nil {
		return nil, err
	}

	a.calibrate(ctx, frame.Bounds().Size())
	return frame, nil
}

// calibrate compares the screenshot size with "wm size" once and derives
// the screenshot→input coordinate scale. Failures leave the scale at 1.
func (a *ADB) calibrate(ctx context.Context, shot image.Point) {
	a.mu.Lock()
	done := a.calibrated
	a.mu.Unlock()
	if done || shot.X == 0 || shot.Y == 0 {
		return
	}

	screen, err := a.ScreenSize(ctx)
	if err != nil {
		a.logger.Warn("screen size calibration failed", "error", err)
		return
	}
	// wm size reports the natural orientation.
	if (shot.X > shot.Y) != (screen.X > screen.Y) {
		screen.X, screen.Y = screen.Y, screen.X
	}

	a.mu.Lock()
	a.scaleX = float64(screen.X) / float64(shot.X)
	a.scaleY = float64(screen.Y) / float64(shot.Y)
	a.calibrated = true
	a.mu.Unlock()

	a.logger.Debug("coordinate scale calibrated", "screen", screen, "screenshot", shot)
}

var wmSizeRE = regexp.MustCompile(`(Physical|Override) size:\s*(\d+)x(\d+)`)

// ScreenSize returns the display size from "wm size", preferring the
// override size when one is set.
func (a *ADB) ScreenSize(ctx context.Context) (image.Point, error) {
	out, err := a.query(ctx, "shell", "wm", "size")
	if err != nil {
		return image.Point{}, fmt.Errorf("%w: wm size: %w", ErrDevice, err)
	}
	return parseWMSize(string(out))
}

func parseWMSize(out string) (image.Point, error) {
	var size image.Point
	for _, m := range wmSizeRE.FindAllStringSubmatch(out, -1) {
		w, _ := strconv.Atoi(m[2]) //nolint:errcheck // regexp guarantees digits
		h, _ := strconv.Atoi(m[3]) //nolint:errcheck // regexp guarantees digits
		if m[1] == "Override" || size == (image.Point{}) {
			size = image.Pt(w, h)
		}
	}
	if size.X == 0 || size.Y == 0 {
		return image.Point{}, fmt.Errorf("%w: unexpected wm size output %q", ErrDevice, strings.TrimSpace(out))
	}
	return size, nil
}

func (a *ADB) toInput(x, y int) (int, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return int(math.Round(float64(x) * a.scaleX)), int(math.Round(float64(y) * a.scaleY))
}

func (a *ADB) input(ctx context.Context, args ...string) error {
	if _, err := a.device(ctx, isUnreachable, append([]string{"shell", "input"}, args...)...); err != nil {
		return fmt.Errorf("%w: input %s: %w", ErrDevice, args[0], err)
	}
	return nil
}

// Tap sends "input tap".
func (a *ADB) Tap(ctx context.Context, x, y int) error {
	ix, iy := a.toInput(x, y)
	return a.input(ctx, "tap", strconv.Itoa(ix), strconv.Itoa(iy))
}

// Swipe sends "input swipe". A swipe to the same point is a long press.
func (a *ADB) Swipe(ctx context.Context, x1, y1, x2, y2, durationMs int) error {
	ix1, iy1 := a.toInput(x1, y1)
	ix2, iy2 := a.toInput(x2, y2)
	return a.input(ctx, "swipe",
		strconv.Itoa(ix1), strconv.Itoa(iy1), strconv.Itoa(ix2), strconv.Itoa(iy2), strconv.Itoa(durationMs))
}

// KeyEvent sends "input keyevent".
func (a *ADB) KeyEvent(ctx context.Context, keycode int) error {
	return a.input(ctx, "keyevent", strconv.Itoa(keycode))
}
