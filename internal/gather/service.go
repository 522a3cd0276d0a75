package gather

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"jordanella.com/gather-bot/internal/emulator"
	"jordanella.com/gather-bot/internal/events"
	"jordanella.com/gather-bot/internal/logging"
	"jordanella.com/gather-bot/internal/march"
	"jordanella.com/gather-bot/internal/scheduler"
	"jordanella.com/gather-bot/internal/screenstate"
)

// emulatorStopTimeout bounds the shutdown of an emulator after its worker ends
const emulatorStopTimeout = 30 * time.Second

// Emulator starts and stops emulator instances
type Emulator interface {
	Instances(ctx context.Context) ([]emulator.MuMuInstance, error)
	Start(ctx context.Context, index int) error
	Stop(ctx context.Context, index int) error
}

// DeviceFunc returns the device of an instance
type DeviceFunc func(instanceID int) Device

// InstanceState is what the presentation layer shows per instance
type InstanceState struct {
	ID              int    `json:"id"`
	Name            string `json:"name"`
	EmulatorRunning bool   `json:"emulator_running"`
	Running         bool   `json:"running"`
	State           State  `json:"state"`
	Activity        string `json:"activity"`
	AutoGather      bool   `json:"auto_gather"`
	AutoStart       bool   `json:"auto_start"`
	Priority        string `json:"priority"`
}

type worker struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Service owns one worker per gathering instance and gates them through the
// instance scheduler
type Service struct {
	deps     Deps
	emu      Emulator
	devices  DeviceFunc
	settings SettingsStore
	sched    *scheduler.Scheduler
	log      *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	workers map[int]*worker
	wakers  map[int]*time.Timer
	closed  bool
}

// NewService wires the scheduler to the worker launcher
func NewService(deps Deps, emu Emulator, devices DeviceFunc, settings SettingsStore, maxConcurrent int) *Service {
	if deps.Board == nil {
		deps.Board = NewStatusBoard(nil)
	}
	if deps.Tracker == nil {
		deps.Tracker = march.NewTracker()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		deps:     deps,
		emu:      emu,
		devices:  devices,
		settings: settings,
		log:      logging.NewLogger("gather"),
		ctx:      ctx,
		cancel:   cancel,
		workers:  make(map[int]*worker),
		wakers:   make(map[int]*time.Timer),
	}
	s.sched = scheduler.New(maxConcurrent, s.launch).WithMetrics(deps.Metrics)
	return s
}

// Scheduler exposes the instance scheduler
func (s *Service) Scheduler() *scheduler.Scheduler {
	return s.sched
}

// Tracker exposes the march registry
func (s *Service) Tracker() *march.Tracker {
	return s.deps.Tracker
}

// Board exposes the status board
func (s *Service) Board() *StatusBoard {
	return s.deps.Board
}

// StartGathering starts an instance now, or queues it when every instance
// slot is taken
func (s *Service) StartGathering(instanceID int) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("service is shut down")
	}
	if _, ok := s.workers[instanceID]; ok {
		s.mu.Unlock()
		return fmt.Errorf("instance %d: %w", instanceID, ErrAlreadyRunning)
	}
	if t, ok := s.wakers[instanceID]; ok {
		t.Stop()
		delete(s.wakers, instanceID)
	}
	s.mu.Unlock()

	priority := scheduler.ParsePriority(s.settings.GatherSettings(instanceID).Priority)
	if s.sched.RequestStart(instanceID, priority) {
		s.launch(instanceID)
		return nil
	}

	s.deps.Board.Set(instanceID, StateQueued, "Queued, waiting for a free instance slot")
	s.publish(events.NewInstanceEvent(events.EventTypeInstanceQueued, instanceID, priority.String()))
	return nil
}

// StopGathering cancels the instance's worker, queue entry or pending wake-up.
// The worker finishes its current device command first.
func (s *Service) StopGathering(instanceID int) {
	s.mu.Lock()
	w := s.workers[instanceID]
	if t, ok := s.wakers[instanceID]; ok {
		t.Stop()
		delete(s.wakers, instanceID)
	}
	s.mu.Unlock()

	s.sched.Cancel(instanceID)
	if w != nil {
		w.cancel()
		return
	}
	s.deps.Board.Set(instanceID, StateStopped, "Stopped")
}

// AutoStart starts every instance configured to gather on launch
func (s *Service) AutoStart() {
	for _, id := range s.settings.IDs() {
		st := s.settings.GatherSettings(id)
		if !st.AutoStart || !st.AutoGather {
			continue
		}
		if err := s.StartGathering(id); err != nil {
			s.log.Warn(fmt.Sprintf("Auto-start of instance %d failed: %v", id, err))
		}
	}
}

// SlotStatuses returns the last classification of an instance's six slots
func (s *Service) SlotStatuses(instanceID int) [screenstate.SlotCount]screenstate.SlotStatus {
	return s.deps.Board.Slots(instanceID)
}

// ActiveMarches returns every in-flight march
func (s *Service) ActiveMarches() []march.Record {
	return s.deps.Tracker.AllActive()
}

// CompletedMarches returns the completed history kept in memory
func (s *Service) CompletedMarches() []march.Record {
	return s.deps.Tracker.AllCompleted()
}

// Status returns the user-facing status text of an instance
func (s *Service) Status(instanceID int) string {
	return s.deps.Board.Activity(instanceID)
}

// IsRunning reports whether a worker is active for the instance
func (s *Service) IsRunning(instanceID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.workers[instanceID]
	return ok
}

// Instances merges emulator, settings and status board views. When the
// emulator cannot be listed, configured instances are still returned.
func (s *Service) Instances(ctx context.Context) []InstanceState {
	byID := make(map[int]*InstanceState)
	get := func(id int) *InstanceState {
		st, ok := byID[id]
		if !ok {
			st = &InstanceState{ID: id, Name: fmt.Sprintf("Instance %d", id)}
			byID[id] = st
		}
		return st
	}

	if s.emu != nil {
		list, err := s.emu.Instances(ctx)
		if err != nil {
			s.log.Warn(fmt.Sprintf("Could not list emulator instances: %v", err))
		}
		for _, inst := range list {
			st := get(inst.Index)
			if inst.Name != "" {
				st.Name = inst.Name
			}
			st.EmulatorRunning = inst.Running()
		}
	}
	for _, id := range s.settings.IDs() {
		get(id)
	}
	for _, status := range s.deps.Board.All() {
		get(status.InstanceID)
	}

	out := make([]InstanceState, 0, len(byID))
	for id, st := range byID {
		settings := s.settings.GatherSettings(id)
		status := s.deps.Board.Get(id)
		st.Running = s.IsRunning(id)
		st.State = status.State
		st.Activity = status.Activity
		st.AutoGather = settings.AutoGather
		st.AutoStart = settings.AutoStart
		st.Priority = settings.Priority
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Shutdown stops every worker and waits for them, or for ctx
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	for id, t := range s.wakers {
		t.Stop()
		delete(s.wakers, id)
	}
	s.mu.Unlock()

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("workers did not stop: %w", ctx.Err())
	}
}

// launch is the scheduler's start side effect
func (s *Service) launch(instanceID int) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if _, ok := s.workers[instanceID]; ok {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(s.ctx)
	w := &worker{cancel: cancel, done: make(chan struct{})}
	s.workers[instanceID] = w
	s.wg.Add(1)
	s.mu.Unlock()

	go s.run(ctx, instanceID, w)
}

func (s *Service) run(ctx context.Context, instanceID int, w *worker) {
	defer s.wg.Done()
	defer close(w.done)
	defer w.cancel()

	s.deps.Board.Set(instanceID, StateStarting, "Starting emulator")
	if s.emu != nil {
		if err := s.emu.Start(ctx, instanceID); err != nil {
			if ctx.Err() == nil {
				s.report(logging.ErrorCategoryEmulator, instanceID, "Emulator failed to start", err)
				s.deps.Board.Set(instanceID, StateError, "Emulator failed to start")
				s.finish(instanceID, scheduler.StatusStopped, false)
				return
			}
			s.finish(instanceID, scheduler.StatusStopped, true)
			return
		}
	}

	s.sched.UpdateStatus(instanceID, scheduler.StatusRunning)
	s.publish(events.NewInstanceEvent(events.EventTypeInstanceStarted, instanceID, ""))

	orch := NewOrchestrator(instanceID, s.devices(instanceID), s.settings, s.deps)
	err := orch.Run(ctx)

	var hib *HibernateError
	if errors.As(err, &hib) {
		s.hibernate(instanceID, hib.WakeAt)
		return
	}
	s.finish(instanceID, scheduler.StatusStopped, true)
}

// finish releases the worker and reports to the scheduler, which may start
// the next queued instance
func (s *Service) finish(instanceID int, status scheduler.Status, stopped bool) {
	s.stopEmulator(instanceID)

	s.mu.Lock()
	delete(s.workers, instanceID)
	s.mu.Unlock()

	if stopped {
		s.deps.Board.Set(instanceID, StateStopped, "Stopped")
		s.publish(events.NewInstanceEvent(events.EventTypeInstanceStopped, instanceID, ""))
	}
	s.sched.UpdateStatus(instanceID, status)
}

func (s *Service) hibernate(instanceID int, wakeAt time.Time) {
	s.finish(instanceID, scheduler.StatusHibernating, false)

	s.deps.Board.SetCountdown(instanceID, StateHibernating, "Hibernating, wakes in", wakeAt)
	s.publish(events.NewInstanceEvent(events.EventTypeInstanceHibernated, instanceID, wakeAt.Format(time.RFC3339)))
	s.log.InfoWithContext("Instance hibernating", map[string]interface{}{
		"instance": instanceID,
		"wake_at":  wakeAt.Format(time.RFC3339),
	})

	wait := time.Until(wakeAt)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.wakers[instanceID] = time.AfterFunc(wait, func() {
		s.mu.Lock()
		delete(s.wakers, instanceID)
		s.mu.Unlock()

		s.log.Info(fmt.Sprintf("Waking instance %d", instanceID))
		if err := s.StartGathering(instanceID); err != nil {
			s.log.Warn(fmt.Sprintf("Wake of instance %d failed: %v", instanceID, err))
		}
	})
}

func (s *Service) stopEmulator(instanceID int) {
	if s.emu == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), emulatorStopTimeout)
	defer cancel()
	if err := s.emu.Stop(ctx, instanceID); err != nil {
		s.report(logging.ErrorCategoryEmulator, instanceID, "Emulator failed to stop", err)
	}
}

func (s *Service) report(category logging.ErrorCategory, instanceID int, msg string, err error) {
	if s.deps.Reporter != nil {
		s.deps.Reporter.ReportError(category, logging.ErrorSeverityHigh, "service", instanceID, msg, err, nil)
		return
	}
	s.log.ErrorWithContext(msg, err, map[string]interface{}{"instance": instanceID})
}

func (s *Service) publish(e events.Event) {
	if s.deps.Bus != nil {
		s.deps.Bus.Publish(e)
	}
}
