package logging

import (
	"sync"
	"time"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	ErrorCategoryPerception ErrorCategory = "perception"
	ErrorCategoryDevice     ErrorCategory = "device"
	ErrorCategoryEmulator   ErrorCategory = "emulator"
	ErrorCategoryMacro      ErrorCategory = "macro"
	ErrorCategoryCycle      ErrorCategory = "cycle"
	ErrorCategoryScheduler  ErrorCategory = "scheduler"
	ErrorCategoryDatabase   ErrorCategory = "database"
	ErrorCategorySystem     ErrorCategory = "system"
)

// ErrorSeverity represents the severity of an error
type ErrorSeverity string

const (
	ErrorSeverityLow      ErrorSeverity = "low"
	ErrorSeverityMedium   ErrorSeverity = "medium"
	ErrorSeverityHigh     ErrorSeverity = "high"
	ErrorSeverityCritical ErrorSeverity = "critical"
)

// ErrorReport represents a detailed error report
type ErrorReport struct {
	Timestamp   time.Time              `json:"timestamp"`
	Category    ErrorCategory          `json:"category"`
	Severity    ErrorSeverity          `json:"severity"`
	Component   string                 `json:"component"`
	InstanceID  int                    `json:"instance_id"`
	Message     string                 `json:"message"`
	Err         string                 `json:"error,omitempty"`
	Context     map[string]interface{} `json:"context,omitempty"`
	Recoverable bool                   `json:"recoverable"`
}

// ErrorReporter keeps a bounded history of recent failures for the
// status API and fans them out to callbacks
type ErrorReporter struct {
	logger *Logger
	now    func() time.Time

	historyMu  sync.RWMutex
	history    []ErrorReport
	maxHistory int

	callbacksMu sync.RWMutex
	callbacks   map[ErrorSeverity][]ErrorCallback
}

// ErrorCallback is called when an error is reported
type ErrorCallback func(report ErrorReport)

// NewErrorReporter creates a new error reporter
func NewErrorReporter() *ErrorReporter {
	return &ErrorReporter{
		logger:     NewLogger("errors"),
		now:        time.Now,
		maxHistory: 500,
		callbacks:  make(map[ErrorSeverity][]ErrorCallback),
	}
}

// WithLogger sets the logger for the error reporter
func (er *ErrorReporter) WithLogger(logger *Logger) *ErrorReporter {
	er.logger = logger
	return er
}

// WithMaxHistory bounds the kept reports
func (er *ErrorReporter) WithMaxHistory(n int) *ErrorReporter {
	er.maxHistory = n
	return er
}

// Report records an error with full details
func (er *ErrorReporter) Report(report ErrorReport) {
	if report.Timestamp.IsZero() {
		report.Timestamp = er.now()
	}

	er.logError(report)
	er.addToHistory(report)
	er.invokeCallbacks(report)
}

// ReportError records a recoverable error for an instance
func (er *ErrorReporter) ReportError(category ErrorCategory, severity ErrorSeverity, component string, instanceID int, message string, err error, context map[string]interface{}) {
	report := ErrorReport{
		Category:    category,
		Severity:    severity,
		Component:   component,
		InstanceID:  instanceID,
		Message:     message,
		Context:     context,
		Recoverable: severity != ErrorSeverityCritical,
	}
	if err != nil {
		report.Err = err.Error()
	}
	er.Report(report)
}

func (er *ErrorReporter) logError(report ErrorReport) {
	context := map[string]interface{}{
		"category":    string(report.Category),
		"severity":    string(report.Severity),
		"instance":    report.InstanceID,
		"source":      report.Component,
		"recoverable": report.Recoverable,
	}
	if report.Err != "" {
		context["error"] = report.Err
	}
	for k, v := range report.Context {
		context[k] = v
	}

	switch report.Severity {
	case ErrorSeverityCritical, ErrorSeverityHigh:
		er.logger.ErrorWithContext(report.Message, nil, context)
	case ErrorSeverityMedium:
		er.logger.WarnWithContext(report.Message, context)
	default:
		er.logger.InfoWithContext(report.Message, context)
	}
}

func (er *ErrorReporter) addToHistory(report ErrorReport) {
	er.historyMu.Lock()
	defer er.historyMu.Unlock()

	er.history = append(er.history, report)
	if er.maxHistory > 0 && len(er.history) > er.maxHistory {
		er.history = append([]ErrorReport(nil), er.history[len(er.history)-er.maxHistory:]...)
	}
}

func (er *ErrorReporter) invokeCallbacks(report ErrorReport) {
	er.callbacksMu.RLock()
	callbacks := er.callbacks[report.Severity]
	er.callbacksMu.RUnlock()

	for _, callback := range callbacks {
		go callback(report)
	}
}

// OnError registers a callback for a specific error severity
func (er *ErrorReporter) OnError(severity ErrorSeverity, callback ErrorCallback) {
	er.callbacksMu.Lock()
	defer er.callbacksMu.Unlock()

	er.callbacks[severity] = append(er.callbacks[severity], callback)
}

// Recent returns up to n of the newest reports, newest first. n < 0 returns
// all of them; instanceID < 0 matches every instance.
func (er *ErrorReporter) Recent(n, instanceID int) []ErrorReport {
	er.historyMu.RLock()
	defer er.historyMu.RUnlock()

	if n < 0 {
		n = len(er.history)
	}

	result := make([]ErrorReport, 0, min(n, len(er.history)))
	for i := len(er.history) - 1; i >= 0 && len(result) < n; i-- {
		if instanceID >= 0 && er.history[i].InstanceID != instanceID {
			continue
		}
		result = append(result, er.history[i])
	}
	return result
}

// Stats counts the kept reports by severity and category
func (er *ErrorReporter) Stats() map[string]int {
	er.historyMu.RLock()
	defer er.historyMu.RUnlock()

	stats := map[string]int{"total": len(er.history)}
	for _, report := range er.history {
		stats["severity_"+string(report.Severity)]++
		stats["category_"+string(report.Category)]++
	}
	return stats
}

// Clear clears the error history
func (er *ErrorReporter) Clear() {
	er.historyMu.Lock()
	defer er.historyMu.Unlock()
	er.history = nil
}
