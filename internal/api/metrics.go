package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/macroforge-core/internal/background"
	"github.com/nerrad567/macroforge-core/internal/macro"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string            `json:"timestamp"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Runtime       RuntimeMetrics    `json:"runtime"`
	WebSocket     WSMetrics         `json:"websocket"`
	Events        EventMetrics      `json:"events"`
	MQTT          *MQTTMetrics      `json:"mqtt,omitempty"`
	Runs          RunMetrics        `json:"runs"`
	Background    BackgroundMetrics `json:"background"`
	Scripts       int               `json:"scripts"`
	Database      *DatabaseMetrics  `json:"database,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// EventMetrics contains status stream statistics.
type EventMetrics struct {
	Dropped uint64 `json:"dropped"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Connected bool `json:"connected"`
}

// RunMetrics counts retained run handles by status.
type RunMetrics struct {
	Retained int            `json:"retained"`
	Active   int            `json:"active"`
	ByStatus map[string]int `json:"by_status"`
}

// BackgroundMetrics counts background actions.
type BackgroundMetrics struct {
	Total   int `json:"total"`
	Running int `json:"running"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// handleMetrics returns system metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
		},
		Scripts: s.registry.Count(),
	}

	if s.bus != nil {
		metrics.Events.Dropped = s.bus.Dropped()
	}
	if s.mqtt != nil {
		metrics.MQTT = &MQTTMetrics{Connected: s.mqtt.IsConnected()}
	}

	runs := s.engine.List()
	metrics.Runs = RunMetrics{Retained: len(runs), Active: activeRuns(runs), ByStatus: make(map[string]int)}
	for _, run := range runs {
		metrics.Runs.ByStatus[string(run.Status)]++
	}

	for _, a := range s.scheduler.List() {
		metrics.Background.Total++
		if a.State == background.StateRunning {
			metrics.Background.Running++
		}
	}

	if s.db != nil {
		dbStats := s.db.Stats()
		metrics.Database = &DatabaseMetrics{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}

// activeRuns counts runs that have not reached a terminal status.
func activeRuns(runs []macro.RunResult) int {
	n := 0
	for _, r := range runs {
		if !r.Status.Terminal() {
			n++
		}
	}
	return n
}
