package macro

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Validation limits.
const (
	maxNameLength     = 100
	maxDescriptionLen = 500
	maxStepsPerScript = 1000
	maxDurationMS     = 600000 // 10 minutes
)

// CheckRunnable reports what would make s impossible to interpret: a
// nil script or step, an image step without a template or with a
// threshold outside [0,1], or a branch target that indexes no step.
// Anything else is the author's business and runs as written.
func CheckRunnable(s *Script) error {
	if s == nil {
		return fmt.Errorf("%w: nil script", ErrInvalidScript)
	}
	for i, step := range s.Steps {
		if err := checkStep(step, len(s.Steps)); err != nil {
			return &StepError{Kind: ErrInvalidScript, Step: i, Err: err}
		}
	}
	return nil
}

// checkStep is the structural subset of ValidateStep.
func checkStep(step Step, stepCount int) error {
	switch s := step.(type) {
	case nil:
		return fmt.Errorf("empty step")
	case *TapStep, *SwipeStep, *LongPressStep, *KeyPressStep, *WaitStep:
		return nil
	case *ImageClickStep:
		return checkMatch(s.ImageMatch)
	case *WaitForImageStep:
		return checkMatch(s.ImageMatch)
	case *BranchStep:
		if err := checkMatch(s.ImageMatch); err != nil {
			return err
		}
		if err := validateTarget("on_match", s.OnMatch, stepCount); err != nil {
			return err
		}
		return validateTarget("on_no_match", s.OnNoMatch, stepCount)
	}
	return fmt.Errorf("unsupported step type %q", step.Type())
}

// ValidateScript is the stricter check applied before a script is
// saved: CheckRunnable plus the name, description, size and duration
// limits of the script library. The returned error wraps
// ErrInvalidScript; step-level problems are *StepError values.
func ValidateScript(s *Script) error {
	if err := CheckRunnable(s); err != nil {
		return err
	}
	if err := ValidateName(s.Name); err != nil {
		return err
	}
	if len(s.Description) > maxDescriptionLen {
		return fmt.Errorf("%w: description exceeds %d characters", ErrInvalidScript, maxDescriptionLen)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("%w: script has no steps", ErrInvalidScript)
	}
	if len(s.Steps) > maxStepsPerScript {
		return fmt.Errorf("%w: exceeds maximum of %d steps", ErrInvalidScript, maxStepsPerScript)
	}

	for i, step := range s.Steps {
		if err := ValidateStep(step, len(s.Steps)); err != nil {
			return &StepError{Kind: ErrInvalidScript, Step: i, Err: err}
		}
	}
	return nil
}

// ValidateName checks a script name.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidScript)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidScript, maxNameLength)
	}
	return nil
}

// ValidateStep checks one step. stepCount bounds branch targets.
func ValidateStep(step Step, stepCount int) error {
	switch s := step.(type) {
	case *TapStep:
		return validatePoint("x/y", s.X, s.Y)
	case *SwipeStep:
		if err := validatePoint("start", s.X1, s.Y1); err != nil {
			return err
		}
		if err := validatePoint("end", s.X2, s.Y2); err != nil {
			return err
		}
		return validateDuration("duration_ms", s.DurationMs, false)
	case *LongPressStep:
		if err := validatePoint("x/y", s.X, s.Y); err != nil {
			return err
		}
		return validateDuration("duration_ms", s.DurationMs, true)
	case *KeyPressStep:
		if s.Keycode < 0 {
			return fmt.Errorf("keycode %d is negative", s.Keycode)
		}
		return nil
	case *WaitStep:
		return validateDuration("duration_ms", s.DurationMs, false)
	case *ImageClickStep:
		if err := validateMatch(s.ImageMatch); err != nil {
			return err
		}
		return validateDuration("timeout_ms", s.TimeoutMs, false)
	case *WaitForImageStep:
		if err := validateMatch(s.ImageMatch); err != nil {
			return err
		}
		if err := validateDuration("timeout_ms", s.TimeoutMs, true); err != nil {
			return err
		}
		return validateDuration("poll_ms", s.PollMs, false)
	case *BranchStep:
		if err := validateMatch(s.ImageMatch); err != nil {
			return err
		}
		if err := validateTarget("on_match", s.OnMatch, stepCount); err != nil {
			return err
		}
		return validateTarget("on_no_match", s.OnNoMatch, stepCount)
	case nil:
		return fmt.Errorf("empty step")
	}
	return fmt.Errorf("unsupported step type %q", step.Type())
}

func validatePoint(name string, x, y int) error {
	if x < 0 || y < 0 {
		return fmt.Errorf("%s (%d,%d) is negative", name, x, y)
	}
	return nil
}

func validateDuration(name string, ms int, required bool) error {
	if ms < 0 || ms > maxDurationMS {
		return fmt.Errorf("%s must be 0-%d", name, maxDurationMS)
	}
	if required && ms == 0 {
		return fmt.Errorf("%s is required", name)
	}
	return nil
}

func checkMatch(m ImageMatch) error {
	if strings.TrimSpace(m.Template) == "" {
		return fmt.Errorf("template is required")
	}
	if m.Threshold != nil && (*m.Threshold < 0 || *m.Threshold > 1) {
		return fmt.Errorf("threshold %v outside [0,1]", *m.Threshold)
	}
	return nil
}

func validateMatch(m ImageMatch) error {
	if err := checkMatch(m); err != nil {
		return err
	}
	if r := m.Region; r != nil {
		if r.X < 0 || r.Y < 0 || r.Width <= 0 || r.Height <= 0 {
			return fmt.Errorf("region %+v is invalid", *r)
		}
	}
	return nil
}

func validateTarget(name string, target, stepCount int) error {
	if target < 0 || target >= stepCount {
		return fmt.Errorf("%s target %d out of range [0,%d)", name, target, stepCount)
	}
	return nil
}

// GenerateID creates a new UUID for a script or run.
func GenerateID() string {
	return uuid.New().String()
}
