package gather

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"jordanella.com/gather-bot/internal/events"
	"jordanella.com/gather-bot/internal/logging"
	"jordanella.com/gather-bot/internal/march"
	"jordanella.com/gather-bot/internal/metrics"
	"jordanella.com/gather-bot/internal/ocr"
	"jordanella.com/gather-bot/internal/screenstate"
)

// Cycle failure reasons
const (
	ReasonQueuePanel = "queue_panel"
	ReasonCapture    = "capture"
	ReasonQueueOCR   = "queue_ocr"
	ReasonStalled    = "stalled"
	ReasonPanic      = "panic"
	ReasonUnexpected = "unexpected"
)

// panelAttempts bounds how often the queue panel button is tapped per cycle
const panelAttempts = 3

// Settings is what the gathering loop reads for one instance
type Settings struct {
	ResourceLoop []march.ResourceType
	CursorIndex  int
	MaxQueues    int
	AutoGather   bool
	AutoStart    bool
	Priority     string
}

// SettingsStore reads per-instance settings and persists the rotation cursor
type SettingsStore interface {
	CursorStore
	GatherSettings(instanceID int) Settings
	IDs() []int
}

// Watchdog cancels a cycle that stops reporting progress
type Watchdog interface {
	Watch(instanceID int, cancel context.CancelFunc)
	Touch(instanceID int, step string)
	Release(instanceID int)
}

// HibernatePolicy decides when an idle instance may be shut down
type HibernatePolicy struct {
	Enabled   bool
	Threshold time.Duration // minimum wait before hibernating is worth it
	WakeLead  time.Duration // wake this long before the next march returns
}

// Deps are the collaborators shared by every instance's loop
type Deps struct {
	Finder      Finder
	Reader      TextReader
	Tracker     *march.Tracker
	Board       *StatusBoard
	Timings     Timings
	DeviceRetry RetryPolicy
	Hibernate   HibernatePolicy

	// optional
	Bus      events.EventBus
	Metrics  *metrics.Metrics
	Reporter *logging.ErrorReporter
	Watchdog Watchdog
	Sleep    Sleeper
}

// Orchestrator is the gathering loop of one emulator instance
type Orchestrator struct {
	instanceID int
	runID      string
	deps       Deps
	settings   SettingsStore
	io         *deviceIO
	rotation   *Rotation
	macro      *macro
	log        *logging.Logger
	failures   int
}

// NewOrchestrator builds the loop for one instance. The rotation resumes at the
// persisted cursor.
func NewOrchestrator(instanceID int, dev Device, settings SettingsStore, deps Deps) *Orchestrator {
	if deps.Sleep == nil {
		deps.Sleep = ContextSleep
	}
	if deps.Board == nil {
		deps.Board = NewStatusBoard(nil)
	}
	if deps.Tracker == nil {
		deps.Tracker = march.NewTracker()
	}

	runID := uuid.New().String()
	log := logging.NewLogger(fmt.Sprintf("gather-%d", instanceID))
	s := settings.GatherSettings(instanceID)

	o := &Orchestrator{
		instanceID: instanceID,
		runID:      runID,
		deps:       deps,
		settings:   settings,
		io:         newDeviceIO(dev, deps.Finder, deps.DeviceRetry, deps.Sleep, log),
		rotation:   NewRotation(instanceID, s.ResourceLoop, s.CursorIndex, settings),
		log:        log,
	}
	o.macro = &macro{
		instanceID: instanceID,
		io:         o.io,
		finder:     deps.Finder,
		reader:     deps.Reader,
		timings:    deps.Timings,
		tracker:    deps.Tracker,
		sleep:      deps.Sleep,
		log:        log,
		touch:      o.touch,
	}
	return o
}

// WithLogger replaces the logger
func (o *Orchestrator) WithLogger(l *logging.Logger) *Orchestrator {
	o.log = l
	o.io.log = l
	o.macro.log = l
	return o
}

// RunID identifies this run in logs and events
func (o *Orchestrator) RunID() string {
	return o.runID
}

// Rotation exposes the resource rotation
func (o *Orchestrator) Rotation() *Rotation {
	return o.rotation
}

// Run polls and deploys until ctx is cancelled. A failed cycle never ends the
// loop; it backs off and starts over. The only error returned is
// *HibernateError.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.log.InfoWithContext("Gathering started", map[string]interface{}{"run_id": o.runID})
	o.setState(StateIdle, "Starting gathering")
	o.io.detectLayout(ctx)

	for {
		if ctx.Err() != nil {
			return o.stopped()
		}

		deployed, err := o.runCycle(ctx)
		if err != nil {
			var hib *HibernateError
			if errors.As(err, &hib) {
				return err
			}
			if ctx.Err() != nil {
				return o.stopped()
			}
			if werr := o.backoff(ctx, err); werr != nil {
				return o.stopped()
			}
			continue
		}

		o.failures = 0
		if werr := o.cooldown(ctx, deployed); werr != nil {
			return o.stopped()
		}
	}
}

func (o *Orchestrator) stopped() error {
	o.setState(StateStopped, "Stopped")
	o.log.Info("Gathering stopped")
	return nil
}

// runCycle runs one cycle under the watchdog and turns panics into cycle failures
func (o *Orchestrator) runCycle(ctx context.Context) (deployed int, err error) {
	cycleCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if wd := o.deps.Watchdog; wd != nil {
		wd.Watch(o.instanceID, cancel)
		defer wd.Release(o.instanceID)
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			o.log.ErrorWithContext("Cycle panicked", fmt.Errorf("%v", r), map[string]interface{}{
				"stack": string(debug.Stack()),
			})
			err = &CycleError{Reason: ReasonPanic, Err: fmt.Errorf("%v", r)}
		}
		o.deps.Metrics.ObserveCycle(time.Since(start))
	}()

	deployed, err = o.cycle(cycleCtx)
	if err != nil && ctx.Err() == nil && cycleCtx.Err() != nil {
		err = &CycleError{Reason: ReasonStalled, Err: err}
	}
	return deployed, err
}

func (o *Orchestrator) cycle(ctx context.Context) (int, error) {
	o.setState(StateSettingUpView, "Opening march queue panel")
	if err := o.openQueuePanel(ctx); err != nil {
		return 0, &CycleError{Reason: ReasonQueuePanel, Err: err}
	}

	o.setState(StatePollingQueues, "Reading march queues")
	statuses, err := o.readQueues(ctx)
	if err != nil {
		return 0, err
	}

	o.reconcile(statuses)
	o.collectDetails(ctx, statuses)
	o.closePanel(ctx)

	if ctx.Err() != nil {
		return 0, ctx.Err()
	}

	o.setState(StateDeciding, "Deciding")
	settings := o.settings.GatherSettings(o.instanceID)
	counts := excludeOutbound(screenstate.Summarize(statuses), o.deps.Tracker.ActiveFor(o.instanceID), o.deps.Tracker.Now())
	n := DeployCount(counts, settings.MaxQueues)

	o.log.DebugWithContext("Queue decision", map[string]interface{}{
		"idle":       counts.Idle,
		"active":     counts.Active,
		"max_queues": settings.MaxQueues,
		"deploy":     n,
	})

	if n == 0 {
		if err := o.checkHibernate(); err != nil {
			return 0, err
		}
		return 0, nil
	}
	return o.deployBatch(ctx, counts.Idle[:n]), nil
}

// excludeOutbound moves slots whose tracked march is still on its outbound
// leg out of Idle and counts them as active
func excludeOutbound(c screenstate.Counts, active []march.Record, now time.Time) screenstate.Counts {
	outbound := make(map[int]bool)
	for _, r := range active {
		if r.Elapsed(now) < r.MarchDuration {
			outbound[r.Slot] = true
		}
	}
	if len(outbound) == 0 {
		return c
	}

	idle := make([]int, 0, len(c.Idle))
	for _, slot := range c.Idle {
		if outbound[slot] {
			c.Active++
			c.Busy++
			continue
		}
		idle = append(idle, slot)
	}
	c.Idle = idle
	return c
}

// DeployCount is how many marches to start: min(idle, maxQueues-active), never negative
func DeployCount(c screenstate.Counts, maxQueues int) int {
	free := maxQueues - c.Active
	if len(c.Idle) == 0 || free <= 0 {
		return 0
	}
	return min(len(c.Idle), free)
}

func (o *Orchestrator) openQueuePanel(ctx context.Context) error {
	for try := 1; try <= panelAttempts; try++ {
		o.touch("open_queue_panel")
		frame, err := o.io.capture(ctx)
		if err != nil {
			return err
		}
		if o.macro.find(frame, TmplQueuePanelHeader).IsFound() {
			return nil
		}
		if try == panelAttempts {
			break
		}
		if err := o.io.tapResult(ctx, o.macro.find(frame, TmplQueuePanelButton), CoordQueuePanel); err != nil {
			return err
		}
		if err := o.deps.Sleep(ctx, o.deps.Timings.PanelOpen); err != nil {
			return err
		}
	}
	return ErrPanelNotOpen
}

func (o *Orchestrator) closePanel(ctx context.Context) {
	if err := o.io.tap(ctx, CoordPanelClose); err != nil {
		o.log.Warn(fmt.Sprintf("Failed to close queue panel: %v", err))
		return
	}
	_ = o.deps.Sleep(ctx, o.deps.Timings.TapSettle)
}

// readQueues captures the open panel and classifies every slot. Empty OCR is
// unknown and fails the cycle; it is never read as all idle.
func (o *Orchestrator) readQueues(ctx context.Context) ([]screenstate.SlotStatus, error) {
	o.touch("read_queues")
	frame, err := o.io.capture(ctx)
	if err != nil {
		return nil, &CycleError{Reason: ReasonCapture, Err: err}
	}

	text := o.deps.Reader.Extract(ctx, o.io.crop(frame, RegionQueuePanel), ocr.QueuePanelProfile())
	if strings.TrimSpace(text) == "" {
		return nil, &CycleError{Reason: ReasonQueueOCR, Err: ErrUnreadablePanel}
	}

	statuses := screenstate.Classify(screenstate.SplitLines(text))
	o.deps.Board.SetSlots(o.instanceID, statuses)

	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = s.String()
	}
	o.deps.Metrics.SetSlotStatuses(o.instanceID, names)
	o.log.DebugWithContext("Queue statuses", map[string]interface{}{"slots": names})
	return statuses, nil
}

// reconcile marks tracked marches complete when their slot reads Idle again.
// A march still on its outbound leg is left alone; the panel has no
// keyword for it and position defaults may read it as Idle.
func (o *Orchestrator) reconcile(statuses []screenstate.SlotStatus) {
	now := o.deps.Tracker.Now()
	for _, r := range o.deps.Tracker.ActiveFor(o.instanceID) {
		if r.Slot < 1 || r.Slot > len(statuses) || statuses[r.Slot-1] != screenstate.SlotIdle {
			continue
		}
		if r.Elapsed(now) < r.MarchDuration {
			continue
		}
		done, ok := o.deps.Tracker.MarkCompleted(r.InstanceID, r.Slot)
		if !ok {
			continue
		}
		o.log.InfoWithContext("March arrived home", map[string]interface{}{
			"slot":     done.Slot,
			"resource": string(done.Resource),
		})
		o.publish(events.NewMarchCompletedEvent(done, "arrival"))
		o.deps.Metrics.MarchCompleted(o.instanceID, string(done.Resource))
	}
	o.deps.Metrics.SetActiveMarches(o.instanceID, len(o.deps.Tracker.ActiveFor(o.instanceID)))
}

// collectDetails opens each gathering slot whose precise gather time is still
// an estimate and reads the remaining gather countdown
func (o *Orchestrator) collectDetails(ctx context.Context, statuses []screenstate.SlotStatus) {
	for _, r := range o.deps.Tracker.ActiveFor(o.instanceID) {
		if ctx.Err() != nil {
			return
		}
		if r.DetailsCollected || r.Slot < 1 || r.Slot > len(statuses) || statuses[r.Slot-1] != screenstate.SlotGathering {
			continue
		}
		if r.Phase(o.deps.Tracker.Now()) != march.PhaseGathering {
			continue
		}
		if err := o.readGatherTime(ctx, r); err != nil {
			o.log.Warn(fmt.Sprintf("Slot %d: could not read gather time: %v", r.Slot, err))
			return
		}
	}
}

func (o *Orchestrator) readGatherTime(ctx context.Context, r march.Record) error {
	o.touch("read_gather_time")
	if err := o.io.tap(ctx, CoordSlotRow[r.Slot-1]); err != nil {
		return err
	}
	if err := o.deps.Sleep(ctx, o.deps.Timings.PanelOpen); err != nil {
		return err
	}

	frame, err := o.io.capture(ctx)
	if err != nil {
		return err
	}
	text := o.deps.Reader.Extract(ctx, o.io.crop(frame, RegionGatherTime), ocr.TimeProfile())

	if err := o.io.tap(ctx, CoordDetailsClose); err != nil {
		return err
	}
	if err := o.deps.Sleep(ctx, o.deps.Timings.TapSettle); err != nil {
		return err
	}

	remaining, err := march.ParseDuration(ocr.FindTime(text))
	if err != nil || remaining <= 0 {
		o.log.DebugWithContext("Gather countdown unreadable", map[string]interface{}{"slot": r.Slot, "ocr": text})
		return nil
	}

	gather := PreciseGatherTime(r, o.deps.Tracker.Now(), remaining)
	updated, ok := o.deps.Tracker.UpdatePreciseGatherTime(r.InstanceID, r.Slot, gather)
	if !ok {
		return nil
	}
	o.log.InfoWithContext("Precise gather time collected", map[string]interface{}{
		"slot":   r.Slot,
		"gather": march.FormatDuration(gather),
		"total":  march.FormatDuration(updated.TotalDuration),
	})
	o.publish(events.NewMarchDetailsEvent(updated))
	return nil
}

// PreciseGatherTime turns a remaining-gather countdown read at now into the
// full gather duration of r
func PreciseGatherTime(r march.Record, now time.Time, remaining time.Duration) time.Duration {
	gathered := r.Elapsed(now) - r.MarchDuration
	if gathered < 0 {
		gathered = 0
	}
	return gathered + remaining
}

// deployBatch deploys to the given slots one after another. The first
// attempt, and any attempt after a failure, runs the full world view check.
func (o *Orchestrator) deployBatch(ctx context.Context, slots []int) int {
	deployed := 0
	first := true

	for i, slot := range slots {
		if ctx.Err() != nil {
			break
		}

		resource, err := o.rotation.Next()
		if err != nil {
			o.log.Warn(fmt.Sprintf("Failed to persist rotation cursor: %v", err))
		}

		o.setState(StateDeployingMarches, fmt.Sprintf("Deploying %s to queue %d (%d/%d)", resource, slot, i+1, len(slots)))
		record, err := o.macro.deploy(ctx, slot, resource, first)
		if err != nil {
			first = true
			o.stepFailed(slot, err)
			continue
		}

		first = false
		deployed++
		o.publish(events.NewMarchDeployedEvent(record))
		o.deps.Metrics.MarchDeployed(o.instanceID, string(resource))
	}

	o.deps.Metrics.SetActiveMarches(o.instanceID, len(o.deps.Tracker.ActiveFor(o.instanceID)))
	return deployed
}

// checkHibernate returns a *HibernateError when nothing can be deployed and
// the next return is far enough away
func (o *Orchestrator) checkHibernate() error {
	policy := o.deps.Hibernate
	if !policy.Enabled {
		return nil
	}
	next, ok := o.deps.Tracker.NextCompletion(o.instanceID)
	if !ok {
		return nil
	}
	wake := next.Add(-policy.WakeLead)
	if wake.Sub(o.deps.Tracker.Now()) < policy.Threshold {
		return nil
	}
	return &HibernateError{WakeAt: wake}
}

func (o *Orchestrator) cooldown(ctx context.Context, deployed int) error {
	t := o.deps.Timings
	wait := t.ShortCooldown
	detail := "Waiting for a free queue, next check in"
	if deployed > 0 {
		wait = t.LongCooldown
		detail = fmt.Sprintf("Deployed %d, next check in", deployed)
	}

	now := o.deps.Tracker.Now()
	if next, ok := o.deps.Tracker.NextCompletion(o.instanceID); ok {
		if d := next.Sub(now); d > 0 && d < wait {
			wait = d
		}
	}

	o.deps.Board.SetCountdown(o.instanceID, StateCoolingDown, detail, now.Add(wait))
	return o.deps.Sleep(ctx, wait)
}

func (o *Orchestrator) backoff(ctx context.Context, err error) error {
	o.failures++
	ce := cycleFailure(ReasonUnexpected, err)
	delay := o.deps.Timings.CycleBackoff.Delay(o.failures)

	o.log.ErrorWithContext("Cycle failed", ce.Err, map[string]interface{}{
		"reason":   ce.Reason,
		"failures": o.failures,
		"retry_in": delay.String(),
	})
	o.publish(events.NewCycleFailedEvent(o.instanceID, ce.Reason, ce.Err))
	o.deps.Metrics.CycleFailed(o.instanceID, ce.Reason)
	if o.deps.Reporter != nil {
		severity := logging.ErrorSeverityMedium
		if ce.Reason == ReasonPanic {
			severity = logging.ErrorSeverityHigh
		}
		o.deps.Reporter.Report(logging.ErrorReport{
			Category:    logging.ErrorCategoryCycle,
			Severity:    severity,
			Component:   "orchestrator",
			InstanceID:  o.instanceID,
			Message:     reasonText(ce.Reason),
			Err:         ce.Err.Error(),
			Context:     map[string]interface{}{"failures": o.failures, "run_id": o.runID},
			Recoverable: true,
		})
	}

	o.deps.Board.SetCountdown(o.instanceID, StateError, reasonText(ce.Reason)+", retrying in", o.deps.Tracker.Now().Add(delay))
	return o.deps.Sleep(ctx, delay)
}

func (o *Orchestrator) stepFailed(slot int, err error) {
	step := "unknown"
	var se *StepError
	if errors.As(err, &se) {
		step = se.Step
	}
	o.log.WarnWithContext("March deployment failed", map[string]interface{}{
		"slot":  slot,
		"step":  step,
		"error": err.Error(),
	})
	o.publish(events.NewStepFailedEvent(o.instanceID, slot, step, err))
	o.deps.Metrics.StepFailed(o.instanceID, step)
	if o.deps.Reporter != nil {
		o.deps.Reporter.ReportError(logging.ErrorCategoryMacro, logging.ErrorSeverityLow, "macro", o.instanceID,
			fmt.Sprintf("Deploy to queue %d failed at %s", slot, step), err, map[string]interface{}{"slot": slot, "step": step})
	}
}

func (o *Orchestrator) setState(state State, detail string) {
	o.deps.Board.Set(o.instanceID, state, detail)
}

func (o *Orchestrator) touch(step string) {
	if o.deps.Watchdog != nil {
		o.deps.Watchdog.Touch(o.instanceID, step)
	}
}

func (o *Orchestrator) publish(e events.Event) {
	if o.deps.Bus != nil {
		o.deps.Bus.Publish(e)
	}
}

// reasonText is the user-facing wording of a cycle failure
func reasonText(reason string) string {
	switch reason {
	case ReasonQueuePanel:
		return "Could not open the march queue panel"
	case ReasonCapture:
		return "Screenshot failed"
	case ReasonQueueOCR:
		return "Could not read the march queues"
	case ReasonStalled:
		return "Stalled, restarting cycle"
	case ReasonPanic:
		return "Unexpected error"
	default:
		return "Cycle failed"
	}
}
