package adb

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"

	"jordanella.com/gather-bot/internal/cv"
)

// Screencap captures the screen as PNG over exec-out and decodes it
func (c *Controller) Screencap(ctx context.Context) (*image.RGBA, error) {
	out, err := c.execDevice(ctx, "exec-out", "screencap", "-p")
	if err != nil {
		return nil, fmt.Errorf("failed to capture screenshot: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("failed to capture screenshot: empty output")
	}

	img, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		return nil, fmt.Errorf("failed to decode screenshot (%d bytes): %w", len(out), err)
	}
	return cv.ToRGBA(img), nil
}

// CaptureFrame implements cv.Capturer
func (c *Controller) CaptureFrame(ctx context.Context) (*image.RGBA, error) {
	return c.Screencap(ctx)
}
