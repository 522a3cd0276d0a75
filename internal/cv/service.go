package cv

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"jordanella.com/gather-bot/internal/logging"
	"jordanella.com/gather-bot/internal/metrics"
)

// TemplateSource resolves template definitions and their decoded images
type TemplateSource interface {
	Get(name string) (Template, bool)
	Image(name string) (*image.RGBA, error)
}

// Matcher locates named templates on screenshots.
// Missing or undecodable templates degrade to NotFound so macros can fall back
// to fixed coordinates.
type Matcher struct {
	source  TemplateSource
	stride  int
	refSize image.Point
	log     *logging.Logger
	metrics *metrics.Metrics

	mu      sync.RWMutex
	needles map[string]*needle
	warned  map[string]bool
}

// NewMatcher creates a matcher backed by a template source
func NewMatcher(source TemplateSource) *Matcher {
	return &Matcher{
		source:  source,
		stride:  1,
		log:     logging.NewLogger("cv"),
		needles: make(map[string]*needle),
		warned:  make(map[string]bool),
	}
}

// WithStride enables a coarse-to-fine scan
func (m *Matcher) WithStride(stride int) *Matcher {
	m.stride = stride
	return m
}

// WithReferenceSize declares the resolution template regions are authored at.
// Regions are scaled to each screenshot's size; template images are not.
func (m *Matcher) WithReferenceSize(width, height int) *Matcher {
	m.refSize = image.Pt(width, height)
	return m
}

// WithLogger replaces the logger
func (m *Matcher) WithLogger(l *logging.Logger) *Matcher {
	m.log = l
	return m
}

// WithMetrics attaches metrics
func (m *Matcher) WithMetrics(mt *metrics.Metrics) *Matcher {
	m.metrics = mt
	return m
}

// Find returns the centre of the best match of templateName, or NotFound when
// the best confidence is below minConfidence or anything could not be loaded.
func (m *Matcher) Find(screenshot *image.RGBA, templateName string, minConfidence float64) (result PerceptionResult) {
	defer func() {
		if r := recover(); r != nil {
			m.log.ErrorWithContext("Template match panicked", fmt.Errorf("%v", r), map[string]interface{}{
				"template": templateName,
			})
			result = NotFound(0)
		}
		m.metrics.ObserveTemplate(templateName, result.IsFound())
	}()

	if screenshot == nil || screenshot.Bounds().Empty() {
		return NotFound(0)
	}

	n, tmpl, err := m.prepare(templateName)
	if err != nil {
		m.warnOnce(templateName, err)
		return NotFound(0)
	}

	cfg := &MatchConfig{Threshold: minConfidence, Stride: m.stride}
	if tmpl.Region != nil {
		region := m.searchRegion(*tmpl.Region, screenshot.Bounds())
		cfg.SearchRegion = &region
	}

	mr, err := findPrepared(screenshot, n, cfg)
	if err != nil || !mr.Found {
		if mr == nil {
			return NotFound(0)
		}
		return NotFound(mr.Confidence)
	}

	return Found(mr.Location.X+n.w/2, mr.Location.Y+n.h/2, mr.Confidence)
}

// searchRegion maps a template region from the reference resolution onto bounds
func (m *Matcher) searchRegion(r Region, bounds image.Rectangle) image.Rectangle {
	rect := r.Rect()
	if m.refSize.X <= 0 || m.refSize.Y <= 0 || bounds.Size() == m.refSize {
		return rect
	}
	w, h := bounds.Dx(), bounds.Dy()
	return image.Rect(
		rect.Min.X*w/m.refSize.X, rect.Min.Y*h/m.refSize.Y,
		rect.Max.X*w/m.refSize.X, rect.Max.Y*h/m.refSize.Y,
	).Add(bounds.Min)
}

// FindWithFallback tries strict first, then loose, trading false positives for recall
func (m *Matcher) FindWithFallback(screenshot *image.RGBA, templateName string, strict, loose float64) PerceptionResult {
	if res := m.Find(screenshot, templateName, strict); res.IsFound() {
		return res
	}
	return m.Find(screenshot, templateName, loose)
}

// Threshold returns the template's configured threshold, or def
func (m *Matcher) Threshold(templateName string, def float64) float64 {
	if m.source == nil {
		return def
	}
	if t, ok := m.source.Get(templateName); ok && t.Threshold > 0 {
		return t.Threshold
	}
	return def
}

// ClearCache drops prepared templates (after templates change on disk)
func (m *Matcher) ClearCache() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.needles = make(map[string]*needle)
	m.warned = make(map[string]bool)
}

func (m *Matcher) prepare(name string) (*needle, Template, error) {
	if m.source == nil {
		return nil, Template{}, fmt.Errorf("no template source")
	}
	tmpl, ok := m.source.Get(name)
	if !ok {
		return nil, Template{}, fmt.Errorf("template '%s' not found in registry", name)
	}

	m.mu.RLock()
	n, cached := m.needles[name]
	m.mu.RUnlock()
	if cached {
		return n, tmpl, nil
	}

	img, err := m.source.Image(name)
	if err != nil {
		return nil, Template{}, fmt.Errorf("failed to load template: %w", err)
	}
	n = newNeedle(img)

	m.mu.Lock()
	m.needles[name] = n
	m.mu.Unlock()
	return n, tmpl, nil
}

func (m *Matcher) warnOnce(name string, err error) {
	m.mu.Lock()
	seen := m.warned[name]
	m.warned[name] = true
	m.mu.Unlock()

	if !seen {
		m.log.WarnWithContext("Template unavailable, treating as not found", map[string]interface{}{
			"template": name,
			"error":    err.Error(),
		})
	}
}

// Locator finds a named template on a frame. *Matcher is the production one.
type Locator interface {
	Find(screenshot *image.RGBA, templateName string, minConfidence float64) PerceptionResult
}

// Service binds a capturer to a locator with a short-lived frame cache, so
// several checks against the same screen cost one screenshot. Callers that
// change the screen invalidate the cache.
type Service struct {
	capturer Capturer
	locator  Locator

	mu              sync.Mutex
	cachedFrame     *image.RGBA
	cachedFrameTime time.Time
	cacheDuration   time.Duration
	now             func() time.Time
}

// NewService creates a CV service
func NewService(capturer Capturer, locator Locator) *Service {
	return &Service{
		capturer:      capturer,
		locator:       locator,
		cacheDuration: 500 * time.Millisecond,
		now:           time.Now,
	}
}

// WithCacheDuration sets how long a captured frame may be reused
func (s *Service) WithCacheDuration(d time.Duration) *Service {
	s.cacheDuration = d
	return s
}

// Locator returns the underlying locator
func (s *Service) Locator() Locator {
	return s.locator
}

// CaptureFrame captures current screen with optional caching
func (s *Service) CaptureFrame(ctx context.Context, useCache bool) (*image.RGBA, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Check if cached frame is still valid
	if useCache && s.cachedFrame != nil && s.now().Sub(s.cachedFrameTime) < s.cacheDuration {
		return s.cachedFrame, nil
	}

	frame, err := s.capturer.CaptureFrame(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to capture frame: %w", err)
	}
	if frame == nil || frame.Bounds().Empty() {
		return nil, fmt.Errorf("failed to capture frame: empty image")
	}

	s.cachedFrame = frame
	s.cachedFrameTime = s.now()
	return frame, nil
}

// InvalidateCache forces next capture to get fresh frame
func (s *Service) InvalidateCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cachedFrame = nil
}

// Find captures (or reuses) a frame and looks for a template. The error is only
// for capture failures; a missing template is NotFound.
func (s *Service) Find(ctx context.Context, templateName string, minConfidence float64, useCache bool) (PerceptionResult, error) {
	frame, err := s.CaptureFrame(ctx, useCache)
	if err != nil {
		return NotFound(0), err
	}
	return s.locator.Find(frame, templateName, minConfidence), nil
}
