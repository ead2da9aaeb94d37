package matcher

import "errors"

var (
	// ErrTemplate indicates a template could not be read or decoded.
	ErrTemplate = errors.New("matcher: template unavailable")

	// ErrThreshold indicates a confidence threshold outside [0,1].
	ErrThreshold = errors.New("matcher: threshold out of range")
)
