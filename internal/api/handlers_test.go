package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jordanella.com/gather-bot/internal/database"
	"jordanella.com/gather-bot/internal/gather"
	"jordanella.com/gather-bot/internal/logging"
	"jordanella.com/gather-bot/internal/march"
	"jordanella.com/gather-bot/internal/scheduler"
	"jordanella.com/gather-bot/internal/screenstate"
)

var t0 = time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)

type fakeGatherer struct {
	mu       sync.Mutex
	started  []int
	stopped  []int
	startErr error
	active   []march.Record
}

func (g *fakeGatherer) Instances(ctx context.Context) []gather.InstanceState {
	return []gather.InstanceState{
		{ID: 1, Name: "Farm One", Running: true, State: gather.StateCoolingDown, Activity: "Next check in 00:04:00"},
		{ID: 2, Name: "Farm Two", State: gather.StateStopped, Activity: "Stopped"},
	}
}

func (g *fakeGatherer) SlotStatuses(instanceID int) [screenstate.SlotCount]screenstate.SlotStatus {
	var s [screenstate.SlotCount]screenstate.SlotStatus
	for i := range s {
		s[i] = screenstate.SlotUnavailable
	}
	s[0] = screenstate.SlotGathering
	s[1] = screenstate.SlotIdle
	return s
}

func (g *fakeGatherer) StartGathering(instanceID int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.startErr != nil {
		return g.startErr
	}
	g.started = append(g.started, instanceID)
	return nil
}

func (g *fakeGatherer) StopGathering(instanceID int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopped = append(g.stopped, instanceID)
}

func (g *fakeGatherer) ActiveMarches() []march.Record    { return g.active }
func (g *fakeGatherer) CompletedMarches() []march.Record { return nil }
func (g *fakeGatherer) Status(instanceID int) string     { return "Queued" }

type fakeScheduler struct {
	max int
}

func (s *fakeScheduler) Snapshot() scheduler.Snapshot {
	return scheduler.Snapshot{MaxConcurrent: s.max, Running: []scheduler.Entry{{InstanceID: 1, Priority: scheduler.PriorityHigh}}}
}
func (s *fakeScheduler) SetMaxConcurrent(n int)                          { s.max = n }
func (s *fakeScheduler) QueueStatus() (running, hibernating, queued int) { return 1, 0, 2 }

type fakeHistory struct {
	filter database.HistoryFilter
}

func (h *fakeHistory) QueryHistory(filter database.HistoryFilter) ([]*database.MarchHistory, error) {
	h.filter = filter
	return []*database.MarchHistory{{ID: "m1", InstanceID: 1, Slot: 2, Resource: "Wood"}}, nil
}

func (h *fakeHistory) RecentActivity(instanceID *int, limit int) ([]*database.InstanceActivity, error) {
	return nil, errors.New("database is locked")
}

func newTestServer(t *testing.T) (*Server, *fakeGatherer, *fakeScheduler, *fakeHistory) {
	t.Helper()
	g := &fakeGatherer{}
	s := &fakeScheduler{max: 2}
	hist := &fakeHistory{}

	reporter := logging.NewErrorReporter().WithLogger(logging.Nop())
	reporter.ReportError(logging.ErrorCategoryCycle, logging.ErrorSeverityMedium, "orchestrator", 1, "Could not read the march queues", nil, nil)
	reporter.ReportError(logging.ErrorCategoryMacro, logging.ErrorSeverityLow, "macro", 2, "Step failed", nil, nil)

	srv := NewServer(DefaultConfig(), zerolog.New(io.Discard))
	h := &Handler{
		Gather:    g,
		Scheduler: s,
		History:   hist,
		Errors:    reporter,
		Metrics:   http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("# metrics\n")) }),
		Now:       func() time.Time { return t0 },
	}
	h.RegisterMux(srv.Router, "/metrics")
	return srv, g, s, hist
}

func do(t *testing.T, srv *Server, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestInstancesAndSlots(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	rec := do(t, srv, http.MethodGet, "/api/instances", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var instances []map[string]any
	decode(t, rec, &instances)
	require.Len(t, instances, 2)
	assert.Equal(t, "CoolingDown", instances[0]["state"])
	assert.Equal(t, true, instances[0]["running"])

	rec = do(t, srv, http.MethodGet, "/api/instances/1/slots", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var slots struct {
		InstanceID int `json:"instance_id"`
		Slots      []struct {
			Slot   int    `json:"slot"`
			Status string `json:"status"`
		} `json:"slots"`
	}
	decode(t, rec, &slots)
	require.Len(t, slots.Slots, screenstate.SlotCount)
	assert.Equal(t, 1, slots.Slots[0].Slot)
	assert.Equal(t, "Gathering", slots.Slots[0].Status)
	assert.Equal(t, "Idle", slots.Slots[1].Status)
	assert.Equal(t, "Unavailable", slots.Slots[5].Status)

	rec = do(t, srv, http.MethodGet, "/api/instances/abc/slots", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStartStop(t *testing.T) {
	srv, g, _, _ := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/api/instances/3/start", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	rec = do(t, srv, http.MethodPost, "/api/instances/3/stop", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []int{3}, g.started)
	assert.Equal(t, []int{3}, g.stopped)

	g.startErr = gather.ErrAlreadyRunning
	rec = do(t, srv, http.MethodPost, "/api/instances/3/start", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	var body map[string]map[string]any
	decode(t, rec, &body)
	assert.Equal(t, "already_running", body["error"]["code"])

	rec = do(t, srv, http.MethodGet, "/api/instances/3/start", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestActiveMarchesView(t *testing.T) {
	srv, g, _, _ := newTestServer(t)
	g.active = []march.Record{
		march.NewRecord(1, 2, march.ResourceWood, t0.Add(-10*time.Minute), 5*time.Minute, time.Hour),
		march.NewRecord(2, 1, march.ResourceFood, t0, 5*time.Minute, time.Hour),
	}

	rec := do(t, srv, http.MethodGet, "/api/marches/active?instance=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var views []map[string]any
	decode(t, rec, &views)
	require.Len(t, views, 1)
	assert.Equal(t, "Gathering", views[0]["phase"])
	assert.Equal(t, "01:00:00", views[0]["remaining"])
	assert.Equal(t, "Wood", views[0]["resource"])

	rec = do(t, srv, http.MethodGet, "/api/marches/active?instance=x", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSchedulerMax(t *testing.T) {
	srv, _, s, _ := newTestServer(t)

	rec := do(t, srv, http.MethodPut, "/api/scheduler/max", []byte(`{"max_concurrent": 4}`))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 4, s.max)

	var snap map[string]any
	decode(t, rec, &snap)
	assert.EqualValues(t, 4, snap["max_concurrent"])

	for _, body := range []string{`{"max_concurrent": 0}`, `not json`} {
		rec = do(t, srv, http.MethodPut, "/api/scheduler/max", []byte(body))
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
	assert.Equal(t, 4, s.max)
}

func TestHistoryAndErrors(t *testing.T) {
	srv, _, _, hist := newTestServer(t)

	rec := do(t, srv, http.MethodGet, "/api/history?instance=1&resource=Wood&since=24h&limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, hist.filter.InstanceID)
	assert.Equal(t, 1, *hist.filter.InstanceID)
	assert.Equal(t, "Wood", hist.filter.Resource)
	assert.Equal(t, 5, hist.filter.Limit)
	assert.Equal(t, t0.Add(-24*time.Hour), hist.filter.Since)

	rec = do(t, srv, http.MethodGet, "/api/history?since=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/activity", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/errors?instance=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Errors []logging.ErrorReport `json:"errors"`
		Stats  map[string]int        `json:"stats"`
	}
	decode(t, rec, &body)
	require.Len(t, body.Errors, 1)
	assert.Equal(t, logging.ErrorCategoryMacro, body.Errors[0].Category)
	assert.Equal(t, 2, body.Stats["total"])
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	rec := do(t, srv, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var health map[string]any
	decode(t, rec, &health)
	assert.Equal(t, "ok", health["status"])
	assert.EqualValues(t, 2, health["queued"])

	rec = do(t, srv, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "# metrics")
}

func TestRecoverMiddleware(t *testing.T) {
	srv := NewServer(DefaultConfig(), zerolog.New(io.Discard))
	srv.Router.HandleFunc("/boom", func(w http.ResponseWriter, r *http.Request) { panic("boom") })

	rec := do(t, srv, http.MethodGet, "/boom", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
