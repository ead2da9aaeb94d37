package macro

import (
	"fmt"
	"image"
	"time"
)

// StepType identifies a step kind in script documents.
type StepType string

// Step kinds.
const (
	StepImageClick   StepType = "image_click"
	StepTap          StepType = "tap"
	StepSwipe        StepType = "swipe"
	StepWait         StepType = "wait"
	StepWaitForImage StepType = "wait_for_image"
	StepBranch       StepType = "branch"
	StepKeyPress     StepType = "key_press"
	StepLongPress    StepType = "long_press"
)

// AllStepTypes returns every step kind.
func AllStepTypes() []StepType {
	return []StepType{
		StepImageClick, StepTap, StepSwipe, StepWait,
		StepWaitForImage, StepBranch, StepKeyPress, StepLongPress,
	}
}

// Step is one instruction of a script. The set of implementations is
// closed: only the step types in this package satisfy it.
type Step interface {
	Type() StepType
	Label() string
	Describe() string
	sealed()
}

// BaseStep holds the fields every step shares. The step kind is not
// stored here: each concrete type reports its own, so a value's kind
// always agrees with its Go type.
type BaseStep struct {
	StepLabel string `yaml:"label,omitempty" json:"label,omitempty"`
}

// Label returns the optional author label.
func (b *BaseStep) Label() string { return b.StepLabel }

func (*BaseStep) sealed() {}

// Region is a search rectangle in frame coordinates.
type Region struct {
	X      int `yaml:"x" json:"x"`
	Y      int `yaml:"y" json:"y"`
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`
}

// Rect converts r to an image rectangle. A nil region yields nil.
func (r *Region) Rect() *image.Rectangle {
	if r == nil {
		return nil
	}
	rect := image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
	return &rect
}

// ImageMatch holds the fields shared by template-driven steps.
type ImageMatch struct {
	Template  string   `yaml:"template" json:"template"`
	Region    *Region  `yaml:"region,omitempty" json:"region,omitempty"`
	Threshold *float64 `yaml:"threshold,omitempty" json:"threshold,omitempty"`
}

func (m ImageMatch) clone() ImageMatch {
	if m.Region != nil {
		r := *m.Region
		m.Region = &r
	}
	if m.Threshold != nil {
		t := *m.Threshold
		m.Threshold = &t
	}
	return m
}

// ImageClickStep waits for a template and taps its centre.
type ImageClickStep struct {
	BaseStep   `yaml:",inline"`
	ImageMatch `yaml:",inline"`
	TimeoutMs  int `yaml:"timeout_ms" json:"timeout_ms"`
}

// Type implements Step.
func (*ImageClickStep) Type() StepType { return StepImageClick }

// Describe implements Step.
func (s *ImageClickStep) Describe() string {
	return fmt.Sprintf("image_click %s (timeout %dms)", s.Template, s.TimeoutMs)
}

// TapStep taps a fixed coordinate.
type TapStep struct {
	BaseStep `yaml:",inline"`
	X        int `yaml:"x" json:"x"`
	Y        int `yaml:"y" json:"y"`
}

// Type implements Step.
func (*TapStep) Type() StepType { return StepTap }

// Describe implements Step.
func (s *TapStep) Describe() string { return fmt.Sprintf("tap (%d,%d)", s.X, s.Y) }

// SwipeStep swipes between two coordinates.
type SwipeStep struct {
	BaseStep   `yaml:",inline"`
	X1         int `yaml:"x1" json:"x1"`
	Y1         int `yaml:"y1" json:"y1"`
	X2         int `yaml:"x2" json:"x2"`
	Y2         int `yaml:"y2" json:"y2"`
	DurationMs int `yaml:"duration_ms" json:"duration_ms"`
}

// Type implements Step.
func (*SwipeStep) Type() StepType { return StepSwipe }

// Describe implements Step.
func (s *SwipeStep) Describe() string {
	return fmt.Sprintf("swipe (%d,%d)->(%d,%d) %dms", s.X1, s.Y1, s.X2, s.Y2, s.DurationMs)
}

// WaitStep pauses the run.
type WaitStep struct {
	BaseStep   `yaml:",inline"`
	DurationMs int `yaml:"duration_ms" json:"duration_ms"`
}

// Type implements Step.
func (*WaitStep) Type() StepType { return StepWait }

// Describe implements Step.
func (s *WaitStep) Describe() string { return fmt.Sprintf("wait %dms", s.DurationMs) }

// WaitForImageStep polls until a template appears.
type WaitForImageStep struct {
	BaseStep   `yaml:",inline"`
	ImageMatch `yaml:",inline"`
	TimeoutMs  int `yaml:"timeout_ms" json:"timeout_ms"`
	PollMs     int `yaml:"poll_ms,omitempty" json:"poll_ms,omitempty"`
}

// Type implements Step.
func (*WaitForImageStep) Type() StepType { return StepWaitForImage }

// Describe implements Step.
func (s *WaitForImageStep) Describe() string {
	return fmt.Sprintf("wait_for_image %s (timeout %dms)", s.Template, s.TimeoutMs)
}

// BranchStep evaluates a template once and jumps.
type BranchStep struct {
	BaseStep   `yaml:",inline"`
	ImageMatch `yaml:",inline"`
	OnMatch    int `yaml:"on_match" json:"on_match"`
	OnNoMatch  int `yaml:"on_no_match" json:"on_no_match"`
}

// Type implements Step.
func (*BranchStep) Type() StepType { return StepBranch }

// Describe implements Step.
func (s *BranchStep) Describe() string {
	return fmt.Sprintf("branch %s ? %d : %d", s.Template, s.OnMatch, s.OnNoMatch)
}

// KeyPressStep sends an Android key code.
type KeyPressStep struct {
	BaseStep `yaml:",inline"`
	Keycode  int `yaml:"keycode" json:"keycode"`
}

// Type implements Step.
func (*KeyPressStep) Type() StepType { return StepKeyPress }

// Describe implements Step.
func (s *KeyPressStep) Describe() string { return fmt.Sprintf("key_press %d", s.Keycode) }

// LongPressStep holds a coordinate.
type LongPressStep struct {
	BaseStep   `yaml:",inline"`
	X          int `yaml:"x" json:"x"`
	Y          int `yaml:"y" json:"y"`
	DurationMs int `yaml:"duration_ms" json:"duration_ms"`
}

// Type implements Step.
func (*LongPressStep) Type() StepType { return StepLongPress }

// Describe implements Step.
func (s *LongPressStep) Describe() string {
	return fmt.Sprintf("long_press (%d,%d) %dms", s.X, s.Y, s.DurationMs)
}

// newStep returns an empty step of kind t.
func newStep(t StepType) (Step, error) {
	switch t {
	case StepImageClick:
		return &ImageClickStep{}, nil
	case StepTap:
		return &TapStep{}, nil
	case StepSwipe:
		return &SwipeStep{}, nil
	case StepWait:
		return &WaitStep{}, nil
	case StepWaitForImage:
		return &WaitForImageStep{}, nil
	case StepBranch:
		return &BranchStep{}, nil
	case StepKeyPress:
		return &KeyPressStep{}, nil
	case StepLongPress:
		return &LongPressStep{}, nil
	}
	return nil, fmt.Errorf("%w: unknown step type %q", ErrInvalidScript, t)
}

// cloneStep returns an independent copy of s.
func cloneStep(s Step) Step {
	switch v := s.(type) {
	case *ImageClickStep:
		c := *v
		c.ImageMatch = v.ImageMatch.clone()
		return &c
	case *WaitForImageStep:
		c := *v
		c.ImageMatch = v.ImageMatch.clone()
		return &c
	case *BranchStep:
		c := *v
		c.ImageMatch = v.ImageMatch.clone()
		return &c
	case *TapStep:
		c := *v
		return &c
	case *SwipeStep:
		c := *v
		return &c
	case *WaitStep:
		c := *v
		return &c
	case *KeyPressStep:
		c := *v
		return &c
	case *LongPressStep:
		c := *v
		return &c
	}
	return s
}

// Script is a named, ordered list of steps.
type Script struct {
	ID          string    `yaml:"id,omitempty" json:"id"`
	Name        string    `yaml:"name" json:"name"`
	Version     int       `yaml:"version,omitempty" json:"version"`
	Description string    `yaml:"description,omitempty" json:"description,omitempty"`
	Steps       StepList  `yaml:"steps" json:"steps"`
	CreatedAt   time.Time `yaml:"-" json:"created_at"`
	UpdatedAt   time.Time `yaml:"-" json:"updated_at"`
}

// DeepCopy returns a copy sharing no mutable state with s.
func (s *Script) DeepCopy() *Script {
	if s == nil {
		return nil
	}
	cpy := *s
	cpy.Steps = s.Steps.Clone()
	return &cpy
}

// Clone returns a copy of l whose steps share no mutable state with l.
func (l StepList) Clone() StepList {
	if l == nil {
		return nil
	}
	out := make(StepList, len(l))
	for i, step := range l {
		out[i] = cloneStep(step)
	}
	return out
}

// Status is a run's lifecycle state.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Stats counts what a run did.
type Stats struct {
	Steps      int `json:"steps"`
	Taps       int `json:"taps"`
	Swipes     int `json:"swipes"`
	LongPress  int `json:"long_presses"`
	Keys       int `json:"keys"`
	Waits      int `json:"waits"`
	Matches    int `json:"matches"`
	MatchFound int `json:"matches_found"`
}

// Map returns the counters keyed by name, for metrics.
func (s Stats) Map() map[string]int {
	return map[string]int{
		"steps":         s.Steps,
		"taps":          s.Taps,
		"swipes":        s.Swipes,
		"long_presses":  s.LongPress,
		"keys":          s.Keys,
		"waits":         s.Waits,
		"matches":       s.Matches,
		"matches_found": s.MatchFound,
	}
}

// RunResult is the observable state of a run. FailedStep is -1 unless
// the run failed.
type RunResult struct {
	RunID      string     `json:"run_id"`
	ScriptID   string     `json:"script_id,omitempty"`
	ScriptName string     `json:"script_name"`
	Status     Status     `json:"status"`
	Step       int        `json:"step"`
	Reason     string     `json:"reason,omitempty"`
	FailedStep int        `json:"failed_step"`
	Stats      Stats      `json:"stats"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	Err        error      `json:"-"`
}
