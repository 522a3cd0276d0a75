package cv

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jordanella.com/gather-bot/internal/logging"
)

// noiseImage fills an image with a deterministic pseudo-random pattern
func noiseImage(w, h int, seed uint32) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	state := seed
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			state = state*1664525 + 1013904223
			v := uint8(state >> 24)
			img.Set(x, y, color.RGBA{R: v, G: v / 2, B: 255 - v, A: 255})
		}
	}
	return img
}

// blobImage draws a smooth radial gradient, which stays correlated under small shifts
func blobImage(size int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	c := float64(size) / 2
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			d := (float64(x)-c)*(float64(x)-c) + (float64(y)-c)*(float64(y)-c)
			v := uint8(255 * (1 - d/(2*c*c)))
			img.Set(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return img
}

func paste(dst, src *image.RGBA, at image.Point) {
	b := src.Bounds()
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			dst.Set(at.X+x, at.Y+y, src.At(b.Min.X+x, b.Min.Y+y))
		}
	}
}

type memSource struct {
	templates map[string]Template
	images    map[string]*image.RGBA
}

func (m *memSource) Get(name string) (Template, bool) {
	t, ok := m.templates[name]
	return t, ok
}

func (m *memSource) Image(name string) (*image.RGBA, error) {
	img, ok := m.images[name]
	if !ok {
		return nil, errors.New("no image")
	}
	return img, nil
}

func findTemplate(haystack, tmpl *image.RGBA, config *MatchConfig) (*MatchResult, error) {
	if config == nil {
		config = &MatchConfig{Threshold: 0.8, Stride: 1}
	}
	return findPrepared(haystack, newNeedle(tmpl), config)
}

func TestFindTemplateExactLocation(t *testing.T) {
	screen := noiseImage(120, 80, 1)
	needle := noiseImage(16, 12, 7)
	paste(screen, needle, image.Point{X: 40, Y: 30})

	res, err := findTemplate(screen, needle, nil)
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.Equal(t, image.Point{X: 40, Y: 30}, res.Location)
	assert.InDelta(t, 1.0, res.Confidence, 1e-6)
}

func TestFindTemplateStrideRefines(t *testing.T) {
	screen := noiseImage(120, 80, 3)
	needle := blobImage(20)
	paste(screen, needle, image.Point{X: 61, Y: 17})

	res, err := findTemplate(screen, needle, &MatchConfig{Threshold: 0.9, Stride: 2})
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.Equal(t, image.Point{X: 61, Y: 17}, res.Location)
}

func TestFindTemplateTooLarge(t *testing.T) {
	_, err := findTemplate(noiseImage(10, 10, 1), noiseImage(20, 5, 2), nil)
	assert.ErrorIs(t, err, ErrTemplateTooLarge)
}

func TestFindTemplateRespectsSearchRegion(t *testing.T) {
	screen := noiseImage(100, 100, 5)
	needle := noiseImage(10, 10, 11)
	paste(screen, needle, image.Point{X: 70, Y: 70})

	region := image.Rect(0, 0, 50, 50)
	res, err := findTemplate(screen, needle, &MatchConfig{Threshold: 0.9, SearchRegion: &region})
	require.NoError(t, err)
	assert.False(t, res.Found)
	assert.Less(t, res.Confidence, 0.9)
}

func TestMatcherFindReturnsCentre(t *testing.T) {
	screen := noiseImage(160, 120, 21)
	needle := noiseImage(20, 10, 4)
	paste(screen, needle, image.Point{X: 100, Y: 50})

	src := &memSource{
		templates: map[string]Template{"button": {Name: "button", Threshold: 0.85}},
		images:    map[string]*image.RGBA{"button": needle},
	}
	m := NewMatcher(src).WithLogger(logging.Nop())

	res := m.Find(screen, "button", 0.85)
	require.True(t, res.IsFound())
	p, _ := res.Point()
	assert.Equal(t, image.Point{X: 110, Y: 55}, p)
	assert.Equal(t, 0.85, m.Threshold("button", 0.5))

	// deterministic across calls
	again := m.Find(screen, "button", 0.85)
	assert.Equal(t, res, again)
}

func TestMatcherMissingTemplateIsNotFound(t *testing.T) {
	src := &memSource{
		templates: map[string]Template{"ghost": {Name: "ghost"}},
		images:    map[string]*image.RGBA{},
	}
	m := NewMatcher(src).WithLogger(logging.Nop())
	screen := noiseImage(50, 50, 1)

	assert.False(t, m.Find(screen, "ghost", 0.8).IsFound())
	assert.False(t, m.Find(screen, "unknown", 0.8).IsFound())
	assert.False(t, m.Find(nil, "ghost", 0.8).IsFound())
	assert.False(t, NewMatcher(nil).WithLogger(logging.Nop()).Find(screen, "ghost", 0.8).IsFound())
}

func TestMatcherFallbackThreshold(t *testing.T) {
	screen := noiseImage(80, 80, 2)
	needle := noiseImage(12, 12, 8)
	// paste a slightly damaged copy
	paste(screen, needle, image.Point{X: 20, Y: 20})
	for i := 0; i < 12; i++ {
		screen.Set(20+i, 20+i, color.RGBA{A: 255})
		screen.Set(31-i, 20+i, color.RGBA{A: 255})
	}

	src := &memSource{
		templates: map[string]Template{"icon": {Name: "icon"}},
		images:    map[string]*image.RGBA{"icon": needle},
	}
	m := NewMatcher(src).WithLogger(logging.Nop())

	strict := m.Find(screen, "icon", 0.999)
	assert.False(t, strict.IsFound())

	loose := m.FindWithFallback(screen, "icon", 0.999, 0.5)
	require.True(t, loose.IsFound())
	assert.Equal(t, image.Point{X: 26, Y: 26}, loose.OrElse(image.Point{}))
}

func TestMatcherUsesTemplateRegion(t *testing.T) {
	screen := noiseImage(100, 100, 13)
	needle := noiseImage(10, 10, 17)
	paste(screen, needle, image.Point{X: 5, Y: 5})

	region := NewRegion(50, 50, 100, 100)
	src := &memSource{
		templates: map[string]Template{"corner": {Name: "corner", Region: &region}},
		images:    map[string]*image.RGBA{"corner": needle},
	}
	m := NewMatcher(src).WithLogger(logging.Nop())
	assert.False(t, m.Find(screen, "corner", 0.9).IsFound())
}

func TestMatcherScalesTemplateRegion(t *testing.T) {
	// region authored at 100x100, screenshot at 200x200
	screen := noiseImage(200, 200, 19)
	needle := noiseImage(10, 10, 23)
	paste(screen, needle, image.Point{X: 120, Y: 130})

	region := NewRegion(50, 50, 100, 100)
	src := &memSource{
		templates: map[string]Template{"badge": {Name: "badge", Region: &region}},
		images:    map[string]*image.RGBA{"badge": needle},
	}

	unscaled := NewMatcher(src).WithLogger(logging.Nop())
	assert.False(t, unscaled.Find(screen, "badge", 0.9).IsFound())

	scaled := NewMatcher(src).WithLogger(logging.Nop()).WithReferenceSize(100, 100)
	res := scaled.Find(screen, "badge", 0.9)
	require.True(t, res.IsFound())
	p, _ := res.Point()
	assert.Equal(t, image.Point{X: 125, Y: 135}, p)

	// same size as the reference leaves the region as authored
	assert.Equal(t, image.Rect(50, 50, 100, 100), scaled.searchRegion(region, image.Rect(0, 0, 100, 100)))
}

func TestPerceptionResultOrElse(t *testing.T) {
	fallback := image.Point{X: 360, Y: 640}
	assert.Equal(t, fallback, NotFound(0.4).OrElse(fallback))
	assert.Equal(t, image.Point{X: 1, Y: 2}, Found(1, 2, 0.9).OrElse(fallback))
	assert.Equal(t, "NotFound(best=0.400)", NotFound(0.4).String())
}

func TestCropRegion(t *testing.T) {
	img := noiseImage(30, 30, 4)
	crop := CropRegion(img, image.Rect(10, 5, 20, 25))
	assert.Equal(t, image.Rect(0, 0, 10, 20), crop.Bounds())
	assert.Equal(t, img.At(10, 5), crop.At(0, 0))
	assert.Equal(t, img.At(19, 24), crop.At(9, 19))
}

func TestServiceCachesFrames(t *testing.T) {
	calls := 0
	frame := noiseImage(40, 40, 1)
	capturer := CapturerFunc(func(ctx context.Context) (*image.RGBA, error) {
		calls++
		return frame, nil
	})

	now := time.Unix(1000, 0)
	svc := NewService(capturer, NewMatcher(nil).WithLogger(logging.Nop()))
	svc.now = func() time.Time { return now }

	_, err := svc.CaptureFrame(context.Background(), true)
	require.NoError(t, err)
	_, err = svc.CaptureFrame(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	now = now.Add(time.Second)
	_, _ = svc.CaptureFrame(context.Background(), true)
	assert.Equal(t, 2, calls)

	svc.InvalidateCache()
	_, _ = svc.CaptureFrame(context.Background(), false)
	assert.Equal(t, 3, calls)
}

func TestServiceCaptureError(t *testing.T) {
	svc := NewService(CapturerFunc(func(ctx context.Context) (*image.RGBA, error) {
		return nil, errors.New("adb offline")
	}), NewMatcher(nil).WithLogger(logging.Nop()))

	res, err := svc.Find(context.Background(), "x", 0.8, true)
	assert.Error(t, err)
	assert.False(t, res.IsFound())
}
