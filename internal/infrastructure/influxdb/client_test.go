package influxdb

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/macroforge-core/internal/infrastructure/config"
)

func tags(p *write.Point) map[string]string {
	out := make(map[string]string)
	for _, t := range p.TagList() {
		out[t.Key] = t.Value
	}
	return out
}

func fields(p *write.Point) map[string]interface{} {
	out := make(map[string]interface{})
	for _, f := range p.FieldList() {
		out[f.Key] = f.Value
	}
	return out
}

func TestConnect_Disabled(t *testing.T) {
	_, err := Connect(context.Background(), config.InfluxDBConfig{Enabled: false})
	if !errors.Is(err, ErrDisabled) {
		t.Fatalf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestNilClient_IsSafe(t *testing.T) {
	var c *Client
	if c.IsConnected() {
		t.Error("nil client reports connected")
	}
	c.WriteRunMetric("s", "completed", time.Second, nil)
	c.WriteMatchScore("t.png", 0.9, true, 1.0)
	c.WriteBackgroundCycle("a", true, time.Second)
	c.Flush()
	if err := c.Close(); err != nil {
		t.Errorf("Close() on nil = %v", err)
	}
}

func TestRunPoint(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	p := runPoint("daily-login", "failed", 1500*time.Millisecond, map[string]int{"taps": 3, "waits": 2}, at)

	if p.Name() != measurementRuns {
		t.Errorf("Name() = %q", p.Name())
	}
	if got := tags(p); got["script"] != "daily-login" || got["status"] != "failed" {
		t.Errorf("tags = %v", got)
	}
	f := fields(p)
	if f["duration_ms"] != int64(1500) {
		t.Errorf("duration_ms = %v (%T)", f["duration_ms"], f["duration_ms"])
	}
	if f["taps"] != int64(3) || f["waits"] != int64(2) {
		t.Errorf("counters = %v", f)
	}
	if !p.Time().Equal(at) {
		t.Errorf("Time() = %v", p.Time())
	}
}

func TestMatchPoint(t *testing.T) {
	p := matchPoint("templates/ok.png", 0.91, true, 1.1, time.Now())

	if p.Name() != measurementMatches {
		t.Errorf("Name() = %q", p.Name())
	}
	if tags(p)["template"] != "templates/ok.png" {
		t.Errorf("tags = %v", tags(p))
	}
	f := fields(p)
	if f["score"] != 0.91 || f["found"] != true || f["scale"] != 1.1 {
		t.Errorf("fields = %v", f)
	}
}

func TestBackgroundPoint(t *testing.T) {
	tests := []struct {
		ok     bool
		status string
	}{
		{true, "ok"},
		{false, "failed"},
	}
	for _, tt := range tests {
		p := backgroundPoint("heal", tt.ok, 250*time.Millisecond, time.Now())
		if got := tags(p); got["action"] != "heal" || got["status"] != tt.status {
			t.Errorf("ok=%v tags = %v", tt.ok, got)
		}
	}
}

// TestConnect_Server needs a local InfluxDB and skips when none answers.
func TestConnect_Server(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping InfluxDB test in short mode")
	}
	c, err := Connect(context.Background(), config.InfluxDBConfig{
		Enabled:       true,
		URL:           "http://127.0.0.1:8086",
		Token:         "macroforge-dev-token",
		Org:           "macroforge",
		Bucket:        "metrics",
		FlushInterval: 1,
	})
	if err != nil {
		t.Skipf("InfluxDB not available: %v", err)
	}
	defer c.Close() //nolint:errcheck // test cleanup

	c.WriteMatchScore("t.png", 0.5, false, 1.0)
	c.Flush()
	if err := c.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}
