package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	measurementRuns       = "macro_runs"
	measurementMatches    = "template_matches"
	measurementBackground = "background_cycles"
)

// WriteRunMetric records one finished engine run. counters carries the
// run statistics (taps, swipes, waits, matches, keys, steps).
func (c *Client) WriteRunMetric(script, status string, duration time.Duration, counters map[string]int) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(runPoint(script, status, duration, counters, time.Now()))
}

// WriteMatchScore records the best score of one template evaluation.
func (c *Client) WriteMatchScore(template string, score float64, found bool, scale float64) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(matchPoint(template, score, found, scale, time.Now()))
}

// WriteBackgroundCycle records one background action cycle.
func (c *Client) WriteBackgroundCycle(action string, ok bool, duration time.Duration) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(backgroundPoint(action, ok, duration, time.Now()))
}

func runPoint(script, status string, duration time.Duration, counters map[string]int, at time.Time) *write.Point {
	fields := map[string]interface{}{
		"duration_ms": duration.Milliseconds(),
	}
	for k, v := range counters {
		fields[k] = v
	}
	return write.NewPoint(measurementRuns,
		map[string]string{"script": script, "status": status},
		fields, at)
}

func matchPoint(template string, score float64, found bool, scale float64, at time.Time) *write.Point {
	return write.NewPoint(measurementMatches,
		map[string]string{"template": template},
		map[string]interface{}{"score": score, "found": found, "scale": scale},
		at)
}

func backgroundPoint(action string, ok bool, duration time.Duration, at time.Time) *write.Point {
	status := "ok"
	if !ok {
		status = "failed"
	}
	return write.NewPoint(measurementBackground,
		map[string]string{"action": action, "status": status},
		map[string]interface{}{"duration_ms": duration.Milliseconds()},
		at)
}
