package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"jordanella.com/gather-bot/internal/events"
	"jordanella.com/gather-bot/internal/logging"
	"jordanella.com/gather-bot/internal/metrics"
)

// Reasons passed to the unhealthy callback
const (
	ReasonStuck              = "macro_stuck"
	ReasonDeviceUnresponsive = "device_unresponsive"
)

// Pinger is the minimal device interface needed for health checking
type Pinger interface {
	Ping(ctx context.Context) error
}

// UnhealthyCallback is called when a watched instance becomes unhealthy
type UnhealthyCallback func(instanceID int, reason string, err error)

type watch struct {
	cancel       context.CancelFunc
	lastActivity time.Time
	lastStep     string
	tripped      bool
}

// Watchdog cancels cycles that stop recording activity.
// Cancellation is cooperative: the macro observes it between steps.
type Watchdog struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	watched map[int]*watch

	stuckTimeout  time.Duration
	checkInterval time.Duration
	pingTimeout   time.Duration
	now           func() time.Time

	pinger      func(instanceID int) Pinger
	bus         events.EventBus
	metrics     *metrics.Metrics
	reporter    *logging.ErrorReporter
	onUnhealthy UnhealthyCallback
	log         *logging.Logger
}

// NewWatchdog creates a watchdog; zero durations take defaults
func NewWatchdog(stuckTimeout, checkInterval time.Duration) *Watchdog {
	if stuckTimeout <= 0 {
		stuckTimeout = 3 * time.Minute
	}
	if checkInterval <= 0 {
		checkInterval = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Watchdog{
		ctx:           ctx,
		cancel:        cancel,
		watched:       make(map[int]*watch),
		stuckTimeout:  stuckTimeout,
		checkInterval: checkInterval,
		pingTimeout:   5 * time.Second,
		now:           time.Now,
		log:           logging.NewLogger("watchdog"),
	}
}

// WithClock replaces the time source
func (w *Watchdog) WithClock(now func() time.Time) *Watchdog {
	w.now = now
	return w
}

// WithPinger sets how the watchdog reaches an instance's device
func (w *Watchdog) WithPinger(fn func(instanceID int) Pinger) *Watchdog {
	w.pinger = fn
	return w
}

// WithBus publishes instance.stuck events
func (w *Watchdog) WithBus(bus events.EventBus) *Watchdog {
	w.bus = bus
	return w
}

// WithMetrics counts trips
func (w *Watchdog) WithMetrics(m *metrics.Metrics) *Watchdog {
	w.metrics = m
	return w
}

// WithReporter records trips and failed pings
func (w *Watchdog) WithReporter(r *logging.ErrorReporter) *Watchdog {
	w.reporter = r
	return w
}

// WithUnhealthyCallback sets the callback for unhealthy instances
func (w *Watchdog) WithUnhealthyCallback(callback UnhealthyCallback) *Watchdog {
	w.onUnhealthy = callback
	return w
}

// WithLogger replaces the component logger
func (w *Watchdog) WithLogger(log *logging.Logger) *Watchdog {
	w.log = log
	return w
}

// Start begins periodic checks
func (w *Watchdog) Start() {
	w.wg.Add(1)
	go w.monitorStuck()
}

// Stop stops periodic checks
func (w *Watchdog) Stop() {
	w.cancel()
	w.wg.Wait()
}

// Watch starts tracking a cycle; cancel is called if it stalls
func (w *Watchdog) Watch(instanceID int, cancel context.CancelFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.watched[instanceID] = &watch{
		cancel:       cancel,
		lastActivity: w.now(),
		lastStep:     "cycle_start",
	}
}

// Touch records progress for a watched cycle
func (w *Watchdog) Touch(instanceID int, step string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if wt, ok := w.watched[instanceID]; ok {
		wt.lastActivity = w.now()
		wt.lastStep = step
	}
}

// Release stops tracking a cycle
func (w *Watchdog) Release(instanceID int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.watched, instanceID)
}

// LastActivity returns the last step recorded for an instance
func (w *Watchdog) LastActivity(instanceID int) (string, time.Time, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	wt, ok := w.watched[instanceID]
	if !ok {
		return "", time.Time{}, false
	}
	return wt.lastStep, wt.lastActivity, true
}

func (w *Watchdog) monitorStuck() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.Check()
		}
	}
}

type trip struct {
	instanceID int
	step       string
	idle       time.Duration
}

// Check cancels every cycle idle for longer than the stuck timeout and
// returns the affected instances. A cycle trips at most once.
func (w *Watchdog) Check() []int {
	now := w.now()

	var trips []trip
	w.mu.Lock()
	for id, wt := range w.watched {
		idle := now.Sub(wt.lastActivity)
		if wt.tripped || idle <= w.stuckTimeout {
			continue
		}
		wt.tripped = true
		wt.cancel()
		trips = append(trips, trip{instanceID: id, step: wt.lastStep, idle: idle})
	}
	w.mu.Unlock()

	ids := make([]int, 0, len(trips))
	for _, t := range trips {
		w.handleTrip(t)
		ids = append(ids, t.instanceID)
	}
	return ids
}

func (w *Watchdog) handleTrip(t trip) {
	detail := fmt.Sprintf("no progress after %s for %s", t.step, t.idle.Round(time.Second))
	err := fmt.Errorf("instance %d stuck: %s", t.instanceID, detail)

	w.log.WarnWithContext("Cancelled stuck cycle", map[string]interface{}{
		"instance": t.instanceID,
		"step":     t.step,
		"idle":     t.idle.String(),
	})
	w.metrics.WatchdogTripped(t.instanceID)

	if w.bus != nil {
		ev := events.NewInstanceEvent(events.EventTypeInstanceStuck, t.instanceID, detail)
		ev.Source = "watchdog"
		w.bus.Publish(ev)
	}
	if w.reporter != nil {
		w.reporter.ReportError(logging.ErrorCategoryCycle, logging.ErrorSeverityHigh, "watchdog",
			t.instanceID, "Cycle made no progress", err, map[string]interface{}{"step": t.step})
	}
	if w.onUnhealthy != nil {
		w.onUnhealthy(t.instanceID, ReasonStuck, err)
	}

	if pingErr := w.CheckDevice(t.instanceID); pingErr != nil {
		if w.reporter != nil {
			w.reporter.ReportError(logging.ErrorCategoryDevice, logging.ErrorSeverityCritical, "watchdog",
				t.instanceID, "Device did not answer after stall", pingErr, nil)
		}
		if w.onUnhealthy != nil {
			w.onUnhealthy(t.instanceID, ReasonDeviceUnresponsive, pingErr)
		}
	}
}

// CheckDevice verifies the instance's device is responding
func (w *Watchdog) CheckDevice(instanceID int) error {
	if w.pinger == nil {
		return nil
	}
	p := w.pinger(instanceID)
	if p == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.pingTimeout)
	defer cancel()

	if err := p.Ping(ctx); err != nil {
		return fmt.Errorf("device check failed for instance %d: %w", instanceID, err)
	}
	return nil
}
