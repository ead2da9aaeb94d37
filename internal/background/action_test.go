package background

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/nerrad567/macroforge-core/internal/macro"
)

const sampleSet = `
name: idle-farm
actions:
  - name: collect
    interval_ms: 30000
    jitter_ms: 5000
    steps:
      - type: image_click
        template: collect.png
        timeout_ms: 0
  - name: close-popup
    interval_ms: 10000
    enabled: false
    steps:
      - type: key_press
        keycode: 4
`

func TestParseActionSet(t *testing.T) {
	set, err := ParseActionSet([]byte(sampleSet))
	if err != nil {
		t.Fatalf("ParseActionSet() error = %v", err)
	}
	if set.Name != "idle-farm" || len(set.Actions) != 2 {
		t.Fatalf("set = %+v", set)
	}

	collect := set.Actions[0]
	if collect.IntervalMs != 30000 || collect.JitterMs != 5000 || !collect.IsEnabled() {
		t.Errorf("collect = %+v", collect)
	}
	if collect.Steps[0].Type() != macro.StepImageClick {
		t.Errorf("step type = %s", collect.Steps[0].Type())
	}

	enabled := set.Enabled()
	if len(enabled) != 1 || enabled[0].Name != "collect" {
		t.Errorf("Enabled() = %+v", enabled)
	}
}

func TestParseActionSet_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"branch step", `
actions:
  - name: a
    interval_ms: 100
    steps:
      - type: branch
        template: x.png
        on_match: 0
        on_no_match: 0
`},
		{"duplicate names", `
actions:
  - name: a
    interval_ms: 100
    steps: [{type: wait, duration_ms: 1}]
  - name: a
    interval_ms: 100
    steps: [{type: wait, duration_ms: 1}]
`},
		{"unknown step type", `
actions:
  - name: a
    interval_ms: 100
    steps: [{type: hover}]
`},
		{"missing interval", `
actions:
  - name: a
    steps: [{type: wait, duration_ms: 1}]
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseActionSet([]byte(tt.doc)); !errors.Is(err, macro.ErrInvalidScript) {
				t.Errorf("ParseActionSet() error = %v, want ErrInvalidScript", err)
			}
		})
	}
}

func TestLoadActionSet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "background.yaml")
	if err := os.WriteFile(path, []byte(sampleSet), 0o600); err != nil {
		t.Fatal(err)
	}
	set, err := LoadActionSet(path)
	if err != nil {
		t.Fatalf("LoadActionSet() error = %v", err)
	}
	if len(set.Actions) != 2 {
		t.Errorf("actions = %d", len(set.Actions))
	}
}
