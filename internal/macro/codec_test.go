package macro

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleScript = `
name: daily-login
description: Collect the daily reward
steps:
  - type: tap
    x: 540
    y: 1200
    label: open app
  - type: wait
    duration_ms: 1500
  - type: wait_for_image
    template: lobby.png
    timeout_ms: 10000
    poll_ms: 250
  - type: branch
    template: reward.png
    threshold: 0.9
    region: {x: 0, y: 800, width: 1080, height: 400}
    on_match: 4
    on_no_match: 6
  - type: image_click
    template: reward.png
    timeout_ms: 3000
  - type: swipe
    x1: 100
    y1: 900
    x2: 900
    y2: 900
    duration_ms: 400
  - type: key_press
    keycode: 4
  - type: long_press
    x: 300
    y: 300
    duration_ms: 1200
`

func TestParseScript(t *testing.T) {
	s, err := ParseScript([]byte(sampleScript))
	if err != nil {
		t.Fatalf("ParseScript() error = %v", err)
	}
	if s.Name != "daily-login" || len(s.Steps) != 8 {
		t.Fatalf("parsed %q with %d steps", s.Name, len(s.Steps))
	}

	wantTypes := []StepType{
		StepTap, StepWait, StepWaitForImage, StepBranch,
		StepImageClick, StepSwipe, StepKeyPress, StepLongPress,
	}
	for i, want := range wantTypes {
		if got := s.Steps[i].Type(); got != want {
			t.Errorf("step %d type = %s, want %s", i, got, want)
		}
	}

	if got := s.Steps[0].Label(); got != "open app" {
		t.Errorf("label = %q", got)
	}
	br, ok := s.Steps[3].(*BranchStep)
	if !ok {
		t.Fatalf("step 3 is %T", s.Steps[3])
	}
	if br.OnMatch != 4 || br.OnNoMatch != 6 || br.Template != "reward.png" {
		t.Errorf("branch = %+v", br)
	}
	if br.Threshold == nil || *br.Threshold != 0.9 {
		t.Errorf("threshold = %v", br.Threshold)
	}
	if br.Region == nil || br.Region.Height != 400 || br.Region.Y != 800 {
		t.Errorf("region = %+v", br.Region)
	}
	if wfi := s.Steps[2].(*WaitForImageStep); wfi.PollMs != 250 || wfi.TimeoutMs != 10000 {
		t.Errorf("wait_for_image = %+v", wfi)
	}

	if err := ValidateScript(s); err != nil {
		t.Errorf("ValidateScript() error = %v", err)
	}
}

func TestParseScript_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown type", "name: x\nsteps:\n  - type: teleport\n"},
		{"missing type", "name: x\nsteps:\n  - x: 1\n"},
		{"steps not a list", "name: x\nsteps: {a: 1}\n"},
		{"bad field type", "name: x\nsteps:\n  - type: tap\n    x: left\n"},
		{"not yaml", "name: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScript([]byte(tt.doc))
			if !errors.Is(err, ErrInvalidScript) {
				t.Errorf("ParseScript() error = %v, want ErrInvalidScript", err)
			}
		})
	}
}

func TestEncodeScript_RoundTrip(t *testing.T) {
	s, err := ParseScript([]byte(sampleScript))
	if err != nil {
		t.Fatalf("ParseScript() error = %v", err)
	}

	out, err := EncodeScript(s)
	if err != nil {
		t.Fatalf("EncodeScript() error = %v", err)
	}
	if !strings.Contains(string(out), "- type: tap") {
		t.Errorf("encoded steps do not lead with type:\n%s", out)
	}

	again, err := ParseScript(out)
	if err != nil {
		t.Fatalf("re-parse error = %v\n%s", err, out)
	}
	assertSameSteps(t, s.Steps, again.Steps)
}

func TestStepList_JSON(t *testing.T) {
	s, err := ParseScript([]byte(sampleScript))
	if err != nil {
		t.Fatalf("ParseScript() error = %v", err)
	}

	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	if !strings.Contains(string(data), `"type":"branch"`) {
		t.Errorf("JSON lacks type tags: %s", data)
	}

	var decoded Script
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	assertSameSteps(t, s.Steps, decoded.Steps)

	var bad StepList
	if err := json.Unmarshal([]byte(`[{"type":"fly"}]`), &bad); !errors.Is(err, ErrInvalidScript) {
		t.Errorf("unknown JSON type error = %v, want ErrInvalidScript", err)
	}
}

func TestLoadScript(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "s.yaml")
	if err := os.WriteFile(path, []byte(sampleScript), 0o600); err != nil {
		t.Fatal(err)
	}

	s, err := LoadScript(path)
	if err != nil {
		t.Fatalf("LoadScript() error = %v", err)
	}
	if len(s.Steps) != 8 {
		t.Errorf("steps = %d", len(s.Steps))
	}

	if _, err := LoadScript(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("LoadScript() of missing file succeeded")
	}
}

func assertSameSteps(t *testing.T, want, got StepList) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("steps = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Type() != want[i].Type() || got[i].Describe() != want[i].Describe() || got[i].Label() != want[i].Label() {
			t.Errorf("step %d = %s, want %s", i, got[i].Describe(), want[i].Describe())
		}
	}
}
