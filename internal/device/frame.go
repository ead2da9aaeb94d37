package device

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
)

// DecodeFrame decodes screencap PNG output. Empty input, decode failures
// and zero-area images are ErrCapture.
func DecodeFrame(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty screenshot", ErrCapture)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: decoding screenshot: %w", ErrCapture, err)
	}
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: zero-size screenshot", ErrCapture)
	}
	return img, nil
}
