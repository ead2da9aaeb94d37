package queue

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/macroforge-core/internal/infrastructure/config"
)

// Entry references a script by ID, name or file path.
type Entry struct {
	Script string `yaml:"script" json:"script"`
	Repeat int    `yaml:"repeat,omitempty" json:"repeat,omitempty"`
}

// Definition is a queue.yaml document. An empty Policy or zero MaxRetries
// falls back to the configured defaults.
type Definition struct {
	Policy     string  `yaml:"policy,omitempty" json:"policy,omitempty"`
	MaxRetries int     `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`
	Repeats    int     `yaml:"repeats,omitempty" json:"repeats,omitempty"`
	Entries    []Entry `yaml:"entries" json:"entries"`
}

// Validate checks the definition shape.
func (d *Definition) Validate() error {
	if len(d.Entries) == 0 {
		return fmt.Errorf("%w: no entries", ErrInvalidQueue)
	}
	switch d.Policy {
	case "", config.PolicySkip, config.PolicyAbort, config.PolicyRetry:
	default:
		return fmt.Errorf("%w: policy %q must be skip, abort or retry", ErrInvalidQueue, d.Policy)
	}
	if d.MaxRetries < 0 || d.Repeats < 0 {
		return fmt.Errorf("%w: max_retries and repeats cannot be negative", ErrInvalidQueue)
	}
	for i, e := range d.Entries {
		if strings.TrimSpace(e.Script) == "" {
			return fmt.Errorf("%w: entry %d has no script", ErrInvalidQueue, i)
		}
		if e.Repeat < 0 {
			return fmt.Errorf("%w: entry %d repeat %d is negative", ErrInvalidQueue, i, e.Repeat)
		}
	}
	return nil
}

// ParseDefinition decodes and validates a queue document.
func ParseDefinition(data []byte) (*Definition, error) {
	var d Definition
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidQueue, err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// LoadDefinition reads a queue file.
func LoadDefinition(path string) (*Definition, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("reading queue: %w", err)
	}
	d, err := ParseDefinition(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil
}

// EntryState is the progress of one entry.
type EntryState string

const (
	EntryPending   EntryState = "pending"
	EntryRunning   EntryState = "running"
	EntryCompleted EntryState = "completed"
	EntryFailed    EntryState = "failed"
	EntryCancelled EntryState = "cancelled"
	EntrySkipped   EntryState = "skipped"
)

// Queue-level states.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusAborted   = "aborted"
	StatusCancelled = "cancelled"
)

// EntryStatus reports one entry.
type EntryStatus struct {
	Index    int        `json:"index"`
	Script   string     `json:"script"`
	Repeat   int        `json:"repeat"`
	State    EntryState `json:"state"`
	Reason   string     `json:"reason,omitempty"`
	Runs     int        `json:"runs"`
	Failures int        `json:"failures"`
	RunIDs   []string   `json:"run_ids,omitempty"`
}

// Progress is a snapshot of a queue run.
type Progress struct {
	ID         string        `json:"id"`
	Policy     string        `json:"policy"`
	MaxRetries int           `json:"max_retries"`
	Status     string        `json:"status"`
	Current    int           `json:"current"`
	Round      int           `json:"round"`
	Rounds     int           `json:"rounds"`
	Entries    []EntryStatus `json:"entries"`
	StartedAt  time.Time     `json:"started_at"`
	EndedAt    *time.Time    `json:"ended_at,omitempty"`
}

// Terminal reports whether the queue has finished.
func (p *Progress) Terminal() bool {
	return p.Status != "" && p.Status != StatusRunning
}

// clone deep-copies p.
func (p *Progress) clone() Progress {
	cpy := *p
	cpy.Entries = make([]EntryStatus, len(p.Entries))
	for i, e := range p.Entries {
		e.RunIDs = append([]string(nil), e.RunIDs...)
		cpy.Entries[i] = e
	}
	if p.EndedAt != nil {
		t := *p.EndedAt
		cpy.EndedAt = &t
	}
	return cpy
}
