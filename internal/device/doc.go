// Package device is the device I/O gateway.
//
// Gateway is the narrow interface the engine and background scheduler use:
// capture a frame, tap, swipe and send key events. ADB implements it on top
// of the adb command line. Gated wraps any Gateway with the shared input
// Gate so that taps and swipes from concurrent loops never interleave:
//
//	gate := device.NewGate()
//	gw := device.NewGated(device.NewADB(cfg.Device), gate)
//
// Errors are classified as ErrCapture (screenshots) or ErrDevice (input and
// connection) and are checked with errors.Is.
package device
