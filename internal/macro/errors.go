package macro

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nerrad567/macroforge-core/internal/device"
	"github.com/nerrad567/macroforge-core/internal/humanize"
)

// Error kinds. A failed run's error wraps exactly one of these in a
// *StepError; check with errors.Is.
var (
	// ErrInvalidScript is returned for malformed scripts: bad branch
	// targets, unknown step types, missing fields, runaway loops.
	ErrInvalidScript = errors.New("invalid script")

	// ErrImageNotFound is returned when an image_click template is not
	// matched within the step timeout.
	ErrImageNotFound = errors.New("image not found")

	// ErrImageTimeout is returned when wait_for_image times out.
	ErrImageTimeout = errors.New("image timeout")

	// ErrCapture and ErrDevice come from the device gateway.
	ErrCapture = device.ErrCapture
	ErrDevice  = device.ErrDevice

	// ErrConfig comes from the humanizer.
	ErrConfig = humanize.ErrConfig
)

// Persistence errors.
var (
	// ErrScriptNotFound is returned when a script ID does not exist.
	ErrScriptNotFound = errors.New("script: not found")

	// ErrScriptExists is returned when a script name is already taken.
	ErrScriptExists = errors.New("script: already exists")

	// ErrRunNotFound is returned when a run ID does not exist.
	ErrRunNotFound = errors.New("run: not found")
)

// errCancelled is the cause recorded when a run is cancelled.
var errCancelled = errors.New("cancelled")

// StepError ties an error kind to the step index where it occurred.
type StepError struct {
	Kind error
	Step int
	Err  error
}

// Error renders the terminal reason: "<kind> at step <i>: <detail>".
func (e *StepError) Error() string {
	detail := strings.TrimPrefix(e.Err.Error(), e.Kind.Error()+": ")
	return fmt.Sprintf("%s at step %d: %s", e.Kind, e.Step, detail)
}

// Unwrap exposes both the kind and the underlying error to errors.Is.
func (e *StepError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// stepError classifies err and attaches the step index. An error that is
// already a *StepError is returned unchanged.
func stepError(step int, err error) *StepError {
	var se *StepError
	if errors.As(err, &se) {
		return se
	}
	return &StepError{Kind: kindOf(err), Step: step, Err: err}
}

func kindOf(err error) error {
	for _, kind := range []error{
		ErrInvalidScript, ErrImageNotFound, ErrImageTimeout,
		ErrCapture, ErrDevice, ErrConfig, errCancelled,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	// Template and threshold problems are script problems.
	return ErrInvalidScript
}
