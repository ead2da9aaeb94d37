package device

import (
	"context"
	"image"
)

// Gateway is the device I/O surface used by the engine and the background
// scheduler. Coordinates are in screenshot pixels.
//
// Input methods fail with ErrDevice; CaptureFrame fails with ErrCapture.
type Gateway interface {
	CaptureFrame(ctx context.Context) (image.Image, error)
	Tap(ctx context.Context, x, y int) error
	Swipe(ctx context.Context, x1, y1, x2, y2, durationMs int) error
	KeyEvent(ctx context.Context, keycode int) error
}
