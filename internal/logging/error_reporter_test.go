package logging

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorReporterHistory(t *testing.T) {
	er := NewErrorReporter().WithLogger(Nop()).WithMaxHistory(3)

	for i := 0; i < 5; i++ {
		er.ReportError(ErrorCategoryMacro, ErrorSeverityMedium, "orchestrator", i%2, "step failed", errors.New("no search button"), nil)
	}

	all := er.Recent(10, -1)
	require.Len(t, all, 3)
	assert.Equal(t, 0, all[0].InstanceID) // newest first: i=4
	assert.Equal(t, "no search button", all[0].Err)

	one := er.Recent(10, 1)
	require.Len(t, one, 1)
	assert.Equal(t, 1, one[0].InstanceID)

	stats := er.Stats()
	assert.Equal(t, 3, stats["total"])
	assert.Equal(t, 3, stats["category_macro"])

	er.Clear()
	assert.Empty(t, er.Recent(10, -1))
}

func TestErrorReporterCallbacks(t *testing.T) {
	er := NewErrorReporter().WithLogger(Nop())
	got := make(chan ErrorReport, 1)
	er.OnError(ErrorSeverityHigh, func(r ErrorReport) { got <- r })

	er.ReportError(ErrorCategoryCycle, ErrorSeverityLow, "orchestrator", 1, "ignored", nil, nil)
	er.ReportError(ErrorCategoryCycle, ErrorSeverityHigh, "orchestrator", 2, "panel unreachable", nil, map[string]interface{}{"attempt": 3})

	select {
	case r := <-got:
		assert.Equal(t, 2, r.InstanceID)
		assert.True(t, r.Recoverable)
		assert.Equal(t, 3, r.Context["attempt"])
	case <-time.After(2 * time.Second):
		t.Fatal("callback not invoked")
	}
}
