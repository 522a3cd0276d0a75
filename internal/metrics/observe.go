package metrics

import (
	"strconv"
	"time"
)

// The helpers below are nil-safe so components can run without metrics wired.

// ObserveTemplate counts a template lookup
func (m *Metrics) ObserveTemplate(name string, found bool) {
	if m == nil {
		return
	}
	outcome := "miss"
	if found {
		outcome = "hit"
	}
	m.TemplateLookups.WithLabelValues(name, outcome).Inc()
}

// ObserveOCR records one extraction: passes run, elapsed time and whether it came back empty
func (m *Metrics) ObserveOCR(profile string, passes int, elapsed time.Duration, empty bool) {
	if m == nil {
		return
	}
	m.OCRPasses.WithLabelValues(profile).Add(float64(passes))
	m.OCRDuration.WithLabelValues(profile).Observe(elapsed.Seconds())
	if empty {
		m.OCREmptyResults.WithLabelValues(profile).Inc()
	}
}

// MarchDeployed counts a successful deploy
func (m *Metrics) MarchDeployed(instanceID int, resource string) {
	if m == nil {
		return
	}
	m.MarchesDeployed.WithLabelValues(strconv.Itoa(instanceID), resource).Inc()
}

// MarchCompleted counts a completed march
func (m *Metrics) MarchCompleted(instanceID int, resource string) {
	if m == nil {
		return
	}
	m.MarchesCompleted.WithLabelValues(strconv.Itoa(instanceID), resource).Inc()
}

// SetActiveMarches sets the tracked in-flight count for an instance
func (m *Metrics) SetActiveMarches(instanceID, n int) {
	if m == nil {
		return
	}
	m.ActiveMarches.WithLabelValues(strconv.Itoa(instanceID)).Set(float64(n))
}

// StepFailed counts a failed deploy step
func (m *Metrics) StepFailed(instanceID int, step string) {
	if m == nil {
		return
	}
	m.StepFailures.WithLabelValues(strconv.Itoa(instanceID), step).Inc()
}

// CycleFailed counts an aborted cycle
func (m *Metrics) CycleFailed(instanceID int, reason string) {
	if m == nil {
		return
	}
	m.CycleFailures.WithLabelValues(strconv.Itoa(instanceID), reason).Inc()
}

// WatchdogTripped counts a cycle cancelled by the watchdog
func (m *Metrics) WatchdogTripped(instanceID int) {
	if m == nil {
		return
	}
	m.WatchdogTrips.WithLabelValues(strconv.Itoa(instanceID)).Inc()
}

// ObserveCycle records a cycle's duration
func (m *Metrics) ObserveCycle(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.CycleDuration.Observe(elapsed.Seconds())
}

// SetSlotStatuses publishes one gauge per slot with the current status label set to 1
func (m *Metrics) SetSlotStatuses(instanceID int, statuses []string) {
	if m == nil {
		return
	}
	instance := strconv.Itoa(instanceID)
	m.SlotStatuses.DeletePartialMatch(map[string]string{"instance": instance})
	for i, s := range statuses {
		m.SlotStatuses.WithLabelValues(instance, strconv.Itoa(i+1), s).Set(1)
	}
}

// SetScheduler publishes the scheduler counts
func (m *Metrics) SetScheduler(running, hibernating, queued int) {
	if m == nil {
		return
	}
	m.InstancesRunning.Set(float64(running))
	m.InstancesHibernated.Set(float64(hibernating))
	m.InstancesQueued.Set(float64(queued))
}
