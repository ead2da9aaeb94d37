package adbd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/nerrad567/macroforge-core/internal/infrastructure/config"
	"github.com/nerrad567/macroforge-core/internal/process"
)

const (
	readyTimeout      = 10 * time.Second
	readyPollInterval = 100 * time.Millisecond
	dialTimeout       = time.Second

	healthCheckInterval = 30 * time.Second
	gracefulTimeout     = 5 * time.Second
)

// Logger is the logging surface used by Manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Manager runs a private adb server ("adb -P <port> nodaemon server") under
// process supervision. When managed_server.enabled is false it does nothing
// and the gateway talks to whatever adb server is already running.
type Manager struct {
	binary string
	cfg    config.ManagedServerConfig
	logger Logger

	process *process.Manager
}

// NewManager validates the device section and returns a Manager.
func NewManager(cfg config.DeviceConfig) (*Manager, error) {
	if cfg.ADBPath == "" {
		return nil, errors.New("adbd: adb_path is empty")
	}
	if cfg.ManagedServer.Enabled && (cfg.ManagedServer.Port <= 0 || cfg.ManagedServer.Port > 65535) {
		return nil, fmt.Errorf("adbd: invalid server port %d", cfg.ManagedServer.Port)
	}
	return &Manager{binary: cfg.ADBPath, cfg: cfg.ManagedServer, logger: noopLogger{}}, nil
}

// SetLogger sets the logger. Call before Start.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// IsManaged reports whether this process owns the adb server.
func (m *Manager) IsManaged() bool {
	return m.cfg.Enabled
}

// Address is the adb server's TCP endpoint.
func (m *Manager) Address() string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(m.cfg.Port))
}

// Args returns the adb server command line.
func (m *Manager) Args() []string {
	return []string{"-P", strconv.Itoa(m.cfg.Port), "nodaemon", "server"}
}

// Start launches the server and waits until its port accepts connections.
func (m *Manager) Start(ctx context.Context) error {
	if !m.cfg.Enabled {
		m.logger.Info("adb server management disabled, using external server")
		return nil
	}

	m.process = process.NewManager(process.Config{
		Name:               "adb-server",
		Binary:             m.binary,
		Args:               m.Args(),
		RestartOnFailure:   m.cfg.RestartOnFailure,
		RestartDelay:       time.Duration(m.cfg.RestartDelaySeconds) * time.Second,
		MaxRestartAttempts: m.cfg.MaxRestartAttempts,
		GracefulTimeout:    gracefulTimeout,
		OnStop: func(err error) {
			if err != nil {
				m.logger.Warn("adb server stopped", "error", err)
			}
		},
		OnRestart: func(attempt int) {
			m.logger.Info("adb server restarting", "attempt", attempt)
		},
		HealthCheckInterval: healthCheckInterval,
		HealthCheckFunc:     m.HealthCheck,
	})
	m.process.SetLogger(m.logger)

	if err := m.process.Start(ctx); err != nil {
		return fmt.Errorf("starting adb server: %w", err)
	}

	if err := m.waitForReady(ctx); err != nil {
		if stopErr := m.process.Stop(); stopErr != nil {
			m.logger.Warn("stopping adb server after failed readiness check", "error", stopErr)
		}
		return fmt.Errorf("adb server failed to become ready: %w", err)
	}

	m.logger.Info("adb server ready", "address", m.Address(), "pid", m.process.PID())
	return nil
}

func (m *Manager) waitForReady(ctx context.Context) error {
	deadline := time.Now().Add(readyTimeout)
	for {
		if !m.process.IsRunning() {
			if err := m.process.LastError(); err != nil {
				return fmt.Errorf("adb server exited: %w", err)
			}
			return errors.New("adb server exited")
		}
		if err := m.HealthCheck(ctx); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timeout waiting for %s after %v", m.Address(), readyTimeout)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(readyPollInterval):
		}
	}
}

// HealthCheck dials the server port.
func (m *Manager) HealthCheck(ctx context.Context) error {
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", m.Address())
	if err != nil {
		return fmt.Errorf("adb server not reachable: %w", err)
	}
	return conn.Close()
}

// Stop terminates a managed server. No-op when unmanaged.
func (m *Manager) Stop() error {
	if m.process == nil {
		return nil
	}
	m.logger.Info("stopping adb server")
	return m.process.Stop()
}

// Stats describes the managed server for the health endpoint.
type Stats struct {
	Managed      bool   `json:"managed"`
	Address      string `json:"address,omitempty"`
	Status       string `json:"status"`
	PID          int    `json:"pid,omitempty"`
	RestartCount int    `json:"restart_count"`
	LastError    string `json:"last_error,omitempty"`
}

// Stats returns a snapshot of the server state.
func (m *Manager) Stats() Stats {
	s := Stats{Managed: m.cfg.Enabled}
	switch {
	case !m.cfg.Enabled:
		s.Status = "external"
	case m.process == nil:
		s.Address = m.Address()
		s.Status = string(process.StatusStopped)
	default:
		ps := m.process.Stats()
		s.Address = m.Address()
		s.Status = string(ps.Status)
		s.PID = ps.PID
		s.RestartCount = ps.RestartCount
		s.LastError = ps.LastError
	}
	return s
}
