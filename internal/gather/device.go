package gather

import (
	"context"
	"fmt"
	"image"
	"time"

	"jordanella.com/gather-bot/internal/cv"
	"jordanella.com/gather-bot/internal/logging"
	"jordanella.com/gather-bot/internal/ocr"
)

// Device is the input and capture surface of one emulator instance
type Device interface {
	Tap(ctx context.Context, x, y int) error
	Swipe(ctx context.Context, x1, y1, x2, y2, durationMs int) error
	CaptureFrame(ctx context.Context) (*image.RGBA, error)
}

// Finder locates templates on a screenshot. It never fails, see cv.PerceptionResult.
type Finder interface {
	Find(screenshot *image.RGBA, templateName string, minConfidence float64) cv.PerceptionResult
	Threshold(templateName string, def float64) float64
}

// TextReader runs OCR on a region. "" means unknown.
type TextReader interface {
	Extract(ctx context.Context, region image.Image, profile ocr.Profile) string
}

// windowSizer is implemented by devices that can report their resolution
type windowSizer interface {
	WindowSize(ctx context.Context) (int, int, error)
}

// deviceIO wraps a Device with the retry policy and reference-coordinate scaling.
// Commands are issued under a context that ignores cancellation so a tap or
// screenshot already sent always completes; the retry loop itself still stops
// when ctx is cancelled. Screenshots are cached until the next input.
type deviceIO struct {
	dev    Device
	frames *cv.Service
	retry  RetryPolicy
	sleep  Sleeper
	layout Layout
	log    *logging.Logger
}

func newDeviceIO(dev Device, finder Finder, retry RetryPolicy, sleep Sleeper, log *logging.Logger) *deviceIO {
	capturer := cv.CapturerFunc(func(ctx context.Context) (*image.RGBA, error) {
		return dev.CaptureFrame(context.WithoutCancel(ctx))
	})
	return &deviceIO{
		dev:    dev,
		frames: cv.NewService(capturer, finder),
		retry:  retry,
		sleep:  sleep,
		layout: ReferenceLayout(),
		log:    log,
	}
}

// detectLayout asks the device for its resolution. The reference layout stays on failure.
func (d *deviceIO) detectLayout(ctx context.Context) {
	ws, ok := d.dev.(windowSizer)
	if !ok {
		return
	}
	w, h, err := ws.WindowSize(context.WithoutCancel(ctx))
	if err != nil {
		d.log.Warn(fmt.Sprintf("Could not read window size, assuming %dx%d: %v", ReferenceWidth, ReferenceHeight, err))
		return
	}
	layout := Layout{Width: w, Height: h}
	if layout.Validate() == nil {
		d.layout = layout
		d.log.Debug("Detected " + layout.String())
	}
}

// tap taps a point given in reference coordinates
func (d *deviceIO) tap(ctx context.Context, p image.Point) error {
	p = d.layout.Point(p)
	defer d.frames.InvalidateCache()
	return d.retry.Do(ctx, d.sleep, func() error {
		return d.dev.Tap(context.WithoutCancel(ctx), p.X, p.Y)
	})
}

// tapScreen taps a point already in device coordinates (a template hit)
func (d *deviceIO) tapScreen(ctx context.Context, p image.Point) error {
	defer d.frames.InvalidateCache()
	return d.retry.Do(ctx, d.sleep, func() error {
		return d.dev.Tap(context.WithoutCancel(ctx), p.X, p.Y)
	})
}

// tapResult taps the located point, or the scaled fallback when not found
func (d *deviceIO) tapResult(ctx context.Context, res cv.PerceptionResult, fallback image.Point) error {
	if p, ok := res.Point(); ok {
		return d.tapScreen(ctx, p)
	}
	return d.tap(ctx, fallback)
}

func (d *deviceIO) swipe(ctx context.Context, from, to image.Point, duration time.Duration) error {
	from, to = d.layout.Point(from), d.layout.Point(to)
	defer d.frames.InvalidateCache()
	return d.retry.Do(ctx, d.sleep, func() error {
		return d.dev.Swipe(context.WithoutCancel(ctx), from.X, from.Y, to.X, to.Y, int(duration.Milliseconds()))
	})
}

// capture returns the current screen, reusing the last frame when no input
// was sent since
func (d *deviceIO) capture(ctx context.Context) (*image.RGBA, error) {
	var frame *image.RGBA
	err := d.retry.Do(ctx, d.sleep, func() error {
		img, err := d.frames.CaptureFrame(ctx, true)
		frame = img
		return err
	})
	return frame, err
}

// locate finds a template on the current screen
func (d *deviceIO) locate(ctx context.Context, name string, minConfidence float64) (cv.PerceptionResult, error) {
	res := cv.NotFound(0)
	err := d.retry.Do(ctx, d.sleep, func() error {
		var err error
		res, err = d.frames.Find(ctx, name, minConfidence, true)
		return err
	})
	return res, err
}

// crop cuts a reference region out of a frame
func (d *deviceIO) crop(frame *image.RGBA, region image.Rectangle) *image.RGBA {
	return cv.CropRegion(frame, d.layout.Rect(region).Add(frame.Bounds().Min))
}
