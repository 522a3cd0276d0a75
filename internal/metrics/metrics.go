package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gatherbot"

// Metrics holds every collector the bot exports
type Metrics struct {
	registry *prometheus.Registry

	MarchesDeployed     *prometheus.CounterVec
	MarchesCompleted    *prometheus.CounterVec
	ActiveMarches       *prometheus.GaugeVec
	StepFailures        *prometheus.CounterVec
	CycleFailures       *prometheus.CounterVec
	CycleDuration       prometheus.Histogram
	WatchdogTrips       *prometheus.CounterVec
	TemplateLookups     *prometheus.CounterVec
	OCRPasses           *prometheus.CounterVec
	OCREmptyResults     *prometheus.CounterVec
	OCRDuration         *prometheus.HistogramVec
	SlotStatuses        *prometheus.GaugeVec
	InstancesRunning    prometheus.Gauge
	InstancesQueued     prometheus.Gauge
	InstancesHibernated prometheus.Gauge
}

// New creates the collectors on a private registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: reg,

		MarchesDeployed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "marches_deployed_total",
			Help:      "Marches successfully deployed",
		}, []string{"instance", "resource"}),

		MarchesCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "marches_completed_total",
			Help:      "Marches that returned or were detected idle again",
		}, []string{"instance", "resource"}),

		ActiveMarches: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_marches",
			Help:      "Marches currently tracked as in flight",
		}, []string{"instance"}),

		StepFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deploy_step_failures_total",
			Help:      "Deploy macro steps that failed, by step",
		}, []string{"instance", "step"}),

		CycleFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycle_failures_total",
			Help:      "Poll cycles aborted before completion",
		}, []string{"instance", "reason"}),

		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of one poll/deploy cycle excluding cooldown",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),

		WatchdogTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "watchdog_trips_total",
			Help:      "Cycles cancelled for making no progress",
		}, []string{"instance"}),

		TemplateLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "template_lookups_total",
			Help:      "Template match attempts by outcome",
		}, []string{"template", "outcome"}),

		OCRPasses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ocr_passes_total",
			Help:      "Recognizer passes run, by profile",
		}, []string{"profile"}),

		OCREmptyResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ocr_empty_results_total",
			Help:      "Extractions where no config produced plausible text",
		}, []string{"profile"}),

		OCRDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ocr_duration_seconds",
			Help:      "Time spent in one extraction across all configs",
			Buckets:   prometheus.DefBuckets,
		}, []string{"profile"}),

		SlotStatuses: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "slot_status",
			Help:      "Last classified status per slot (1 for the current status)",
		}, []string{"instance", "slot", "status"}),

		InstancesRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "instances_running",
			Help:      "Instances holding a run slot",
		}),

		InstancesQueued: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "instances_queued",
			Help:      "Instances waiting for a run slot",
		}),

		InstancesHibernated: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "instances_hibernating",
			Help:      "Instances stopped while their marches are out",
		}),
	}

	reg.MustRegister(
		m.MarchesDeployed,
		m.MarchesCompleted,
		m.ActiveMarches,
		m.StepFailures,
		m.CycleFailures,
		m.CycleDuration,
		m.WatchdogTrips,
		m.TemplateLookups,
		m.OCRPasses,
		m.OCREmptyResults,
		m.OCRDuration,
		m.SlotStatuses,
		m.InstancesRunning,
		m.InstancesQueued,
		m.InstancesHibernated,
	)

	return m
}

// Registry returns the registry backing these metrics
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
