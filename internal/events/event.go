package events

import "time"

// Kind names an event stream.
type Kind string

const (
	KindRun        Kind = "run.status"
	KindBackground Kind = "background.status"
	KindQueue      Kind = "queue.progress"
)

// Topic returns the short name used in MQTT topics ("run", "background", "queue").
func (k Kind) Topic() string {
	switch k {
	case KindRun:
		return "run"
	case KindBackground:
		return "background"
	case KindQueue:
		return "queue"
	default:
		return string(k)
	}
}

// Event is one status change.
type Event struct {
	Kind    Kind           `json:"kind"`
	Subject string         `json:"subject"` // run id, action name or queue id
	State   string         `json:"state"`
	Step    *int           `json:"step,omitempty"`
	Reason  string         `json:"reason,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
	Time    time.Time      `json:"time"`
}

// StepPtr is a helper for filling Event.Step.
func StepPtr(i int) *int {
	return &i
}
