package gather

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"

	"jordanella.com/gather-bot/internal/cv"
	"jordanella.com/gather-bot/internal/emulator"
	"jordanella.com/gather-bot/internal/logging"
	"jordanella.com/gather-bot/internal/march"
	"jordanella.com/gather-bot/internal/ocr"
)

// fakeDevice records input and returns a blank reference-sized frame
type fakeDevice struct {
	mu        sync.Mutex
	taps      []image.Point
	swipes    int
	captures  int
	tapErrors int // fail this many taps before succeeding
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{}
}

func (d *fakeDevice) Tap(ctx context.Context, x, y int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.tapErrors > 0 {
		d.tapErrors--
		return errors.New("device offline")
	}
	d.taps = append(d.taps, image.Pt(x, y))
	return nil
}

func (d *fakeDevice) Swipe(ctx context.Context, x1, y1, x2, y2, durationMs int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.swipes++
	return nil
}

func (d *fakeDevice) CaptureFrame(ctx context.Context) (*image.RGBA, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.captures++
	return image.NewRGBA(image.Rect(0, 0, ReferenceWidth, ReferenceHeight)), nil
}

func (d *fakeDevice) tapped(p image.Point) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, t := range d.taps {
		if t == p {
			n++
		}
	}
	return n
}

// fakeFinder finds exactly the templates marked present
type fakeFinder struct {
	mu      sync.Mutex
	present map[string]bool
	calls   map[string]int
}

func newFakeFinder(names ...string) *fakeFinder {
	f := &fakeFinder{present: make(map[string]bool), calls: make(map[string]int)}
	for _, n := range names {
		f.present[n] = true
	}
	return f
}

// allTemplates is every template a clean deploy needs
func allTemplates() []string {
	names := []string{
		TmplWorldIndicator, TmplQueuePanelHeader, TmplSearchButton, TmplSearchGo,
		TmplGatherButton, TmplDeployButton,
	}
	for _, r := range march.DefaultResourceLoop {
		names = append(names, ResourceTemplate(r))
	}
	return names
}

func (f *fakeFinder) Find(screenshot *image.RGBA, name string, minConfidence float64) cv.PerceptionResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
	if f.present[name] {
		return cv.Found(300, 400, 0.95)
	}
	return cv.NotFound(0.1)
}

func (f *fakeFinder) Threshold(name string, def float64) float64 {
	return def
}

func (f *fakeFinder) set(name string, present bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.present[name] = present
}

// fakeReader answers OCR by profile name
type fakeReader struct {
	mu      sync.Mutex
	answers map[string][]string // consumed in order, last one repeats
	panics  int
}

func newFakeReader(queue, marchTime string) *fakeReader {
	return &fakeReader{answers: map[string][]string{
		ocr.QueuePanelProfile().Name: {queue},
		ocr.TimeProfile().Name:       {marchTime},
	}}
}

func (r *fakeReader) Extract(ctx context.Context, region image.Image, profile ocr.Profile) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.panics > 0 {
		r.panics--
		panic("engine crashed")
	}
	list := r.answers[profile.Name]
	if len(list) == 0 {
		return ""
	}
	text := list[0]
	if len(list) > 1 {
		r.answers[profile.Name] = list[1:]
	}
	return text
}

// memSettings is an in-memory SettingsStore
type memSettings struct {
	mu       sync.Mutex
	settings map[int]Settings
	cursors  []int
}

func newMemSettings(ids ...int) *memSettings {
	m := &memSettings{settings: make(map[int]Settings)}
	for _, id := range ids {
		m.settings[id] = Settings{
			ResourceLoop: march.DefaultResourceLoop,
			MaxQueues:    6,
			Priority:     "normal",
		}
	}
	return m
}

func (m *memSettings) GatherSettings(id int) Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.settings[id]
	if !ok {
		return Settings{ResourceLoop: march.DefaultResourceLoop, MaxQueues: 6, Priority: "normal"}
	}
	return s
}

func (m *memSettings) SetCursor(id, cursor int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.settings[id]
	s.CursorIndex = cursor
	m.settings[id] = s
	m.cursors = append(m.cursors, cursor)
	return nil
}

func (m *memSettings) IDs() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int, 0, len(m.settings))
	for id := range m.settings {
		ids = append(ids, id)
	}
	return ids
}

func (m *memSettings) update(id int, fn func(*Settings)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.settings[id]
	fn(&s)
	m.settings[id] = s
}

// recordingSleeper returns immediately and remembers every wait
type recordingSleeper struct {
	mu     sync.Mutex
	waits  []time.Duration
	cancel context.CancelFunc
	limit  int // cancel after this many waits when > 0
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	n := len(s.waits)
	s.mu.Unlock()

	if s.limit > 0 && n >= s.limit && s.cancel != nil {
		s.cancel()
	}
	return ctx.Err()
}

func (s *recordingSleeper) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.waits...)
}

// fakeEmulator records lifecycle calls
type fakeEmulator struct {
	mu      sync.Mutex
	started []int
	stopped []int
}

func (e *fakeEmulator) Instances(ctx context.Context) ([]emulator.MuMuInstance, error) {
	return []emulator.MuMuInstance{
		{Index: 1, Name: "Farm One"},
		{Index: 2, Name: "Farm Two"},
	}, nil
}

func (e *fakeEmulator) Start(ctx context.Context, index int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.started = append(e.started, index)
	return nil
}

func (e *fakeEmulator) Stop(ctx context.Context, index int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopped = append(e.stopped, index)
	return nil
}

func (e *fakeEmulator) calls() ([]int, []int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int(nil), e.started...), append([]int(nil), e.stopped...)
}

// fixedClock is a settable time source
type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testDeps(finder Finder, reader TextReader, sleep Sleeper, clock *fixedClock) Deps {
	tracker := march.NewTracker().WithClock(clock.Now)
	return Deps{
		Finder:      finder,
		Reader:      reader,
		Tracker:     tracker,
		Board:       NewStatusBoard(clock.Now),
		Timings:     DefaultTimings(),
		DeviceRetry: DefaultDeviceRetry(),
		Reporter:    logging.NewErrorReporter().WithLogger(logging.Nop()),
		Sleep:       sleep,
	}
}

func newTestOrchestrator(id int, dev Device, settings SettingsStore, deps Deps) *Orchestrator {
	return NewOrchestrator(id, dev, settings, deps).WithLogger(logging.Nop())
}

const fullPanelText = "March Queue 1\nGathering\nMarch Queue 2\nIdle\nMarch Queue 3\nReturning\n" +
	"March Queue 4\nIdle\nMarch Queue 5\nIdle\nMarch Queue 6\nUnlock"
