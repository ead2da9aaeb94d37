package background

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/macroforge-core/internal/macro"
)

// Action is a periodic step group. Branch steps are not allowed.
type Action struct {
	Name       string         `yaml:"name" json:"name"`
	Steps      macro.StepList `yaml:"steps" json:"steps"`
	IntervalMs int            `yaml:"interval_ms" json:"interval_ms"`
	JitterMs   int            `yaml:"jitter_ms,omitempty" json:"jitter_ms,omitempty"`
	Enabled    *bool          `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

// IsEnabled reports whether the action should be started. Actions are
// enabled unless explicitly disabled.
func (a *Action) IsEnabled() bool {
	return a.Enabled == nil || *a.Enabled
}

// Validate checks the action. Problems wrap macro.ErrInvalidScript;
// step-level problems are *macro.StepError values.
func (a *Action) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return fmt.Errorf("%w: action name cannot be empty", macro.ErrInvalidScript)
	}
	if a.IntervalMs <= 0 {
		return fmt.Errorf("%w: action %s: interval_ms must be positive", macro.ErrInvalidScript, a.Name)
	}
	if a.JitterMs < 0 {
		return fmt.Errorf("%w: action %s: jitter_ms is negative", macro.ErrInvalidScript, a.Name)
	}
	if len(a.Steps) == 0 {
		return fmt.Errorf("%w: action %s has no steps", macro.ErrInvalidScript, a.Name)
	}

	for i, step := range a.Steps {
		if _, ok := step.(*macro.BranchStep); ok {
			return &macro.StepError{Kind: macro.ErrInvalidScript, Step: i,
				Err: errors.New("branch steps are not allowed in background actions")}
		}
		if err := macro.ValidateStep(step, len(a.Steps)); err != nil {
			return &macro.StepError{Kind: macro.ErrInvalidScript, Step: i, Err: err}
		}
	}
	return nil
}

// ActionSet is a background.yaml document.
type ActionSet struct {
	Name    string   `yaml:"name" json:"name"`
	Actions []Action `yaml:"actions" json:"actions"`
}

// Enabled returns the actions that are not disabled.
func (s *ActionSet) Enabled() []Action {
	out := make([]Action, 0, len(s.Actions))
	for _, a := range s.Actions {
		if a.IsEnabled() {
			out = append(out, a)
		}
	}
	return out
}

// ParseActionSet decodes and validates an action set. Names must be unique.
func ParseActionSet(data []byte) (*ActionSet, error) {
	var set ActionSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		if errors.Is(err, macro.ErrInvalidScript) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", macro.ErrInvalidScript, err)
	}

	seen := make(map[string]bool, len(set.Actions))
	for i := range set.Actions {
		a := &set.Actions[i]
		if err := a.Validate(); err != nil {
			return nil, fmt.Errorf("action %d: %w", i, err)
		}
		if seen[a.Name] {
			return nil, fmt.Errorf("%w: duplicate action name %q", macro.ErrInvalidScript, a.Name)
		}
		seen[a.Name] = true
	}
	return &set, nil
}

// LoadActionSet reads and decodes an action set file.
func LoadActionSet(path string) (*ActionSet, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("reading action set: %w", err)
	}
	set, err := ParseActionSet(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return set, nil
}
