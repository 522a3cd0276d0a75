package cv

import (
	"context"
	"image"
)

// Capturer produces a snapshot of one emulator screen
type Capturer interface {
	CaptureFrame(ctx context.Context) (*image.RGBA, error)
}

// CapturerFunc adapts a function to Capturer
type CapturerFunc func(ctx context.Context) (*image.RGBA, error)

func (f CapturerFunc) CaptureFrame(ctx context.Context) (*image.RGBA, error) {
	return f(ctx)
}
