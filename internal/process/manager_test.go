package process

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func TestNewManager_Defaults(t *testing.T) {
	m := NewManager(Config{Name: "adb", Binary: "/usr/bin/adb"})

	if m.config.RestartDelay != defaultRestartDelay {
		t.Errorf("RestartDelay = %v", m.config.RestartDelay)
	}
	if m.config.MaxRestartDelay != defaultMaxRestartDelay {
		t.Errorf("MaxRestartDelay = %v", m.config.MaxRestartDelay)
	}
	if m.config.StableThreshold != defaultStableThreshold {
		t.Errorf("StableThreshold = %v", m.config.StableThreshold)
	}
	if m.config.GracefulTimeout != defaultGracefulTimeout {
		t.Errorf("GracefulTimeout = %v", m.config.GracefulTimeout)
	}
	if m.config.HealthCheckInterval != defaultHealthCheckInterval {
		t.Errorf("HealthCheckInterval = %v", m.config.HealthCheckInterval)
	}
	if m.Status() != StatusStopped || m.PID() != 0 || m.LastError() != nil {
		t.Errorf("unexpected initial state: %+v", m.Stats())
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("adb-server", "adb", []string{"nodaemon", "server"})
	if !cfg.RestartOnFailure || cfg.MaxRestartAttempts != 10 {
		t.Errorf("DefaultConfig = %+v", cfg)
	}
	if len(cfg.Args) != 2 {
		t.Errorf("Args = %v", cfg.Args)
	}
}

func TestBackoff(t *testing.T) {
	m := NewManager(Config{
		Name:            "t",
		Binary:          "/bin/true",
		RestartDelay:    time.Second,
		MaxRestartDelay: 30 * time.Second,
	})

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{20, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := m.backoff(tt.attempt); got != tt.want {
			t.Errorf("backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

// ─── Lifecycle (real processes) ─────────────────────────────────────

func TestManager_StartAndStop(t *testing.T) {
	var started atomic.Bool
	stopped := make(chan error, 1)
	m := NewManager(Config{
		Name:            "sleeper",
		Binary:          "/bin/sleep",
		Args:            []string{"60"},
		GracefulTimeout: 2 * time.Second,
		OnStart:         func() { started.Store(true) },
		OnStop:          func(err error) { stopped <- err },
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !m.IsRunning() || m.PID() == 0 || !started.Load() {
		t.Fatalf("not running after Start: %+v", m.Stats())
	}
	if err := m.Start(ctx); err == nil {
		t.Error("second Start() should fail while running")
	}

	if err := m.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if m.Status() != StatusStopped {
		t.Errorf("Status() = %q after Stop", m.Status())
	}
	select {
	case err := <-stopped:
		if err != nil {
			t.Errorf("OnStop(err) = %v, want nil for requested stop", err)
		}
	case <-time.After(time.Second):
		t.Error("OnStop not called")
	}

	// Idempotent.
	if err := m.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}

func TestManager_StopBeforeStart(t *testing.T) {
	m := NewManager(Config{Name: "t", Binary: "/bin/true"})
	if err := m.Stop(); err != nil {
		t.Errorf("Stop() before Start = %v", err)
	}
}

func TestManager_InvalidBinary(t *testing.T) {
	m := NewManager(Config{Name: "bad", Binary: "/nonexistent/binary"})
	if err := m.Start(context.Background()); err == nil {
		t.Fatal("Start() with missing binary should fail")
	}
	if m.Status() != StatusFailed || m.LastError() == nil {
		t.Errorf("state after failed start: %+v", m.Stats())
	}
	if err := m.Stop(); err != nil {
		t.Errorf("Stop() after failed start = %v", err)
	}
}

func TestManager_RestartsOnExit(t *testing.T) {
	var restarts atomic.Int32
	m := NewManager(Config{
		Name:               "flaky",
		Binary:             "/bin/sh",
		Args:               []string{"-c", "exit 3"},
		RestartOnFailure:   true,
		RestartDelay:       10 * time.Millisecond,
		MaxRestartDelay:    20 * time.Millisecond,
		MaxRestartAttempts: 2,
		GracefulTimeout:    time.Second,
		OnRestart:          func(int) { restarts.Add(1) },
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if !waitFor(t, 3*time.Second, func() bool { return m.RestartCount() > 2 }) {
		t.Fatalf("RestartCount() = %d, want attempts exhausted", m.RestartCount())
	}
	if got := restarts.Load(); got != 2 {
		t.Errorf("OnRestart calls = %d, want 2", got)
	}
	if m.Status() != StatusFailed {
		t.Errorf("Status() = %q, want failed", m.Status())
	}
	if m.LastError() == nil {
		t.Error("LastError() = nil after crash loop")
	}
	if err := m.Stop(); err != nil {
		t.Errorf("Stop() after crash loop = %v", err)
	}
}

func TestManager_HealthCheckKillsHungProcess(t *testing.T) {
	stopped := make(chan error, 1)
	m := NewManager(Config{
		Name:                "hung",
		Binary:              "/bin/sleep",
		Args:                []string{"60"},
		HealthCheckFunc:     func(context.Context) error { return errors.New("no response") },
		HealthCheckInterval: 10 * time.Millisecond,
		GracefulTimeout:     time.Second,
		OnStop:              func(err error) { stopped <- err },
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	select {
	case err := <-stopped:
		if err == nil {
			t.Error("expected health-check kill error")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("process was not killed by the health watchdog")
	}
}
