package device

import "errors"

// Transport error kinds shared with the engine. Check with errors.Is.
var (
	// ErrCapture covers screenshot failures: adb errors during capture,
	// empty output and undecodable image data.
	ErrCapture = errors.New("capture failed")

	// ErrDevice covers input dispatch and connection failures.
	ErrDevice = errors.New("device error")
)
