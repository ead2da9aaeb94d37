package adbd

import (
	"context"
	"net"
	"strconv"
	"testing"

	"github.com/nerrad567/macroforge-core/internal/infrastructure/config"
)

func TestNewManager_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.DeviceConfig
		wantErr bool
	}{
		{"unmanaged", config.DeviceConfig{ADBPath: "adb"}, false},
		{"managed", config.DeviceConfig{ADBPath: "adb", ManagedServer: config.ManagedServerConfig{Enabled: true, Port: 5037}}, false},
		{"empty adb path", config.DeviceConfig{}, true},
		{"bad port", config.DeviceConfig{ADBPath: "adb", ManagedServer: config.ManagedServerConfig{Enabled: true, Port: 70000}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewManager(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewManager() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestArgsAndAddress(t *testing.T) {
	m, err := NewManager(config.DeviceConfig{ADBPath: "adb", ManagedServer: config.ManagedServerConfig{Enabled: true, Port: 5099}})
	if err != nil {
		t.Fatal(err)
	}

	args := m.Args()
	want := []string{"-P", "5099", "nodaemon", "server"}
	if len(args) != len(want) {
		t.Fatalf("Args() = %v", args)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Errorf("Args()[%d] = %q, want %q", i, args[i], want[i])
		}
	}
	if m.Address() != "127.0.0.1:5099" {
		t.Errorf("Address() = %q", m.Address())
	}
}

func TestUnmanaged_StartStopAreNoops(t *testing.T) {
	m, err := NewManager(config.DeviceConfig{ADBPath: "adb"})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Start(context.Background()); err != nil {
		t.Errorf("Start() = %v", err)
	}
	if err := m.Stop(); err != nil {
		t.Errorf("Stop() = %v", err)
	}
	if s := m.Stats(); s.Managed || s.Status != "external" {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestHealthCheck(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port

	m, err := NewManager(config.DeviceConfig{ADBPath: "adb", ManagedServer: config.ManagedServerConfig{Enabled: true, Port: port}})
	if err != nil {
		t.Fatal(err)
	}

	if err := m.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() with listener = %v", err)
	}

	ln.Close() //nolint:errcheck // closing to make the port unreachable
	if err := m.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() after close should fail")
	}

	if s := m.Stats(); s.Status != "stopped" || s.Address != "127.0.0.1:"+strconv.Itoa(port) {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestStart_MissingBinary(t *testing.T) {
	m, err := NewManager(config.DeviceConfig{
		ADBPath:       "/nonexistent/adb",
		ManagedServer: config.ManagedServerConfig{Enabled: true, Port: 5037},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Start(context.Background()); err == nil {
		t.Fatal("Start() with missing adb should fail")
	}
}
