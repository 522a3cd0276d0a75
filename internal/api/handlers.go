package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"jordanella.com/gather-bot/internal/database"
	"jordanella.com/gather-bot/internal/gather"
	"jordanella.com/gather-bot/internal/logging"
	"jordanella.com/gather-bot/internal/march"
	"jordanella.com/gather-bot/internal/scheduler"
	"jordanella.com/gather-bot/internal/screenstate"
)

const (
	routeHealth          = "/healthz"
	routeInstances       = "/api/instances"
	routeInstanceStatus  = "/api/instances/{id:[0-9]+}/status"
	routeInstanceSlots   = "/api/instances/{id:[0-9]+}/slots"
	routeInstanceStart   = "/api/instances/{id:[0-9]+}/start"
	routeInstanceStop    = "/api/instances/{id:[0-9]+}/stop"
	routeMarchesActive   = "/api/marches/active"
	routeMarchesComplete = "/api/marches/completed"
	routeScheduler       = "/api/scheduler"
	routeSchedulerMax    = "/api/scheduler/max"
	routeHistory         = "/api/history"
	routeActivity        = "/api/activity"
	routeErrors          = "/api/errors"

	RouteNameInstanceSlots = "instance-slots"
	RouteNameInstanceStart = "instance-start"
	RouteNameInstanceStop  = "instance-stop"
)

// Gatherer is the presentation surface of the gathering service
type Gatherer interface {
	Instances(ctx context.Context) []gather.InstanceState
	SlotStatuses(instanceID int) [screenstate.SlotCount]screenstate.SlotStatus
	StartGathering(instanceID int) error
	StopGathering(instanceID int)
	ActiveMarches() []march.Record
	CompletedMarches() []march.Record
	Status(instanceID int) string
}

// SchedulerControl exposes the run-slot scheduler
type SchedulerControl interface {
	Snapshot() scheduler.Snapshot
	SetMaxConcurrent(n int)
	QueueStatus() (running, hibernating, queued int)
}

// HistoryStore reads persisted marches and activity
type HistoryStore interface {
	QueryHistory(filter database.HistoryFilter) ([]*database.MarchHistory, error)
	RecentActivity(instanceID *int, limit int) ([]*database.InstanceActivity, error)
}

// ErrorSource reads recent error reports
type ErrorSource interface {
	Recent(n, instanceID int) []logging.ErrorReport
	Stats() map[string]int
}

// Handler serves the status API; History, Errors and Metrics are optional
type Handler struct {
	Gather    Gatherer
	Scheduler SchedulerControl
	History   HistoryStore
	Errors    ErrorSource
	Metrics   http.Handler
	Now       func() time.Time
}

// RegisterMux binds gorilla/mux routes.
func (h *Handler) RegisterMux(r *mux.Router, metricsPath string) {
	r.HandleFunc(routeHealth, h.handleHealth).Methods(http.MethodGet)

	r.HandleFunc(routeInstances, h.handleInstances).Methods(http.MethodGet)
	r.HandleFunc(routeInstanceStatus, h.handleInstanceStatus).Methods(http.MethodGet)
	r.HandleFunc(routeInstanceSlots, h.handleSlots).Methods(http.MethodGet).Name(RouteNameInstanceSlots)
	r.HandleFunc(routeInstanceStart, h.handleStart).Methods(http.MethodPost).Name(RouteNameInstanceStart)
	r.HandleFunc(routeInstanceStop, h.handleStop).Methods(http.MethodPost).Name(RouteNameInstanceStop)

	r.HandleFunc(routeMarchesActive, h.handleActiveMarches).Methods(http.MethodGet)
	r.HandleFunc(routeMarchesComplete, h.handleCompletedMarches).Methods(http.MethodGet)

	r.HandleFunc(routeScheduler, h.handleScheduler).Methods(http.MethodGet)
	r.HandleFunc(routeSchedulerMax, h.handleSetMax).Methods(http.MethodPut)

	r.HandleFunc(routeHistory, h.handleHistory).Methods(http.MethodGet)
	r.HandleFunc(routeActivity, h.handleActivity).Methods(http.MethodGet)
	r.HandleFunc(routeErrors, h.handleErrors).Methods(http.MethodGet)

	if h.Metrics != nil && metricsPath != "" {
		r.Handle(metricsPath, h.Metrics).Methods(http.MethodGet)
	}
}

func (h *Handler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	running, hibernating, queued := h.Scheduler.QueueStatus()
	WriteJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"running":     running,
		"hibernating": hibernating,
		"queued":      queued,
	})
}

func (h *Handler) handleInstances(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.Gather.Instances(r.Context()))
}

func (h *Handler) handleInstanceStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := instanceID(w, r)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"instance_id": id,
		"status":      h.Gather.Status(id),
	})
}

type slotView struct {
	Slot   int                    `json:"slot"`
	Status screenstate.SlotStatus `json:"status"`
}

func (h *Handler) handleSlots(w http.ResponseWriter, r *http.Request) {
	id, ok := instanceID(w, r)
	if !ok {
		return
	}

	statuses := h.Gather.SlotStatuses(id)
	slots := make([]slotView, 0, len(statuses))
	for i, s := range statuses {
		slots = append(slots, slotView{Slot: i + 1, Status: s})
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"instance_id": id,
		"slots":       slots,
	})
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	id, ok := instanceID(w, r)
	if !ok {
		return
	}

	if err := h.Gather.StartGathering(id); err != nil {
		if errors.Is(err, gather.ErrAlreadyRunning) {
			WriteError(w, r, http.StatusConflict, "already_running", err.Error(), nil)
			return
		}
		WriteError(w, r, http.StatusInternalServerError, "start_failed", err.Error(), nil)
		return
	}
	WriteJSON(w, http.StatusAccepted, map[string]any{
		"instance_id": id,
		"status":      h.Gather.Status(id),
	})
}

func (h *Handler) handleStop(w http.ResponseWriter, r *http.Request) {
	id, ok := instanceID(w, r)
	if !ok {
		return
	}
	h.Gather.StopGathering(id)
	WriteJSON(w, http.StatusAccepted, map[string]any{
		"instance_id": id,
		"status":      h.Gather.Status(id),
	})
}

// marchView adds derived progress to a record
type marchView struct {
	march.Record
	Phase     string  `json:"phase"`
	Remaining string  `json:"remaining"`
	Progress  float64 `json:"progress_percent"`
	ReturnsAt string  `json:"returns_at"`
}

func (h *Handler) marchViews(records []march.Record, instance *int) []marchView {
	now := h.now()
	views := make([]marchView, 0, len(records))
	for _, rec := range records {
		if instance != nil && rec.InstanceID != *instance {
			continue
		}
		views = append(views, marchView{
			Record:    rec,
			Phase:     rec.Phase(now).String(),
			Remaining: march.FormatDuration(rec.TimeRemaining(now)),
			Progress:  rec.ProgressPercent(now),
			ReturnsAt: rec.CompletesAt().UTC().Format(time.RFC3339),
		})
	}
	return views
}

func (h *Handler) handleActiveMarches(w http.ResponseWriter, r *http.Request) {
	instance, ok := optionalInt(w, r, "instance")
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, h.marchViews(h.Gather.ActiveMarches(), instance))
}

func (h *Handler) handleCompletedMarches(w http.ResponseWriter, r *http.Request) {
	instance, ok := optionalInt(w, r, "instance")
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, h.marchViews(h.Gather.CompletedMarches(), instance))
}

func (h *Handler) handleScheduler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.Scheduler.Snapshot())
}

type setMaxRequest struct {
	MaxConcurrent int `json:"max_concurrent"`
}

func (h *Handler) handleSetMax(w http.ResponseWriter, r *http.Request) {
	var req setMaxRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, r, http.StatusBadRequest, "invalid_body", "expected {\"max_concurrent\": n}", err.Error())
		return
	}
	if req.MaxConcurrent < 1 {
		WriteError(w, r, http.StatusBadRequest, "invalid_value", "max_concurrent must be at least 1", nil)
		return
	}

	h.Scheduler.SetMaxConcurrent(req.MaxConcurrent)
	WriteJSON(w, http.StatusOK, h.Scheduler.Snapshot())
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	if h.History == nil {
		WriteError(w, r, http.StatusServiceUnavailable, "history_disabled", "march history is not enabled", nil)
		return
	}

	instance, ok := optionalInt(w, r, "instance")
	if !ok {
		return
	}
	limit, ok := optionalInt(w, r, "limit")
	if !ok {
		return
	}

	filter := database.HistoryFilter{
		InstanceID: instance,
		Resource:   r.URL.Query().Get("resource"),
	}
	if limit != nil {
		filter.Limit = *limit
	}
	if since := r.URL.Query().Get("since"); since != "" {
		d, err := time.ParseDuration(since)
		if err != nil || d <= 0 {
			WriteError(w, r, http.StatusBadRequest, "invalid_since", "since must be a positive duration like 24h", nil)
			return
		}
		filter.Since = h.now().Add(-d)
	}

	history, err := h.History.QueryHistory(filter)
	if err != nil {
		WriteError(w, r, http.StatusInternalServerError, "query_failed", err.Error(), nil)
		return
	}
	WriteJSON(w, http.StatusOK, history)
}

func (h *Handler) handleActivity(w http.ResponseWriter, r *http.Request) {
	if h.History == nil {
		WriteError(w, r, http.StatusServiceUnavailable, "history_disabled", "march history is not enabled", nil)
		return
	}

	instance, ok := optionalInt(w, r, "instance")
	if !ok {
		return
	}
	limit, ok := optionalInt(w, r, "limit")
	if !ok {
		return
	}
	n := 0
	if limit != nil {
		n = *limit
	}

	activity, err := h.History.RecentActivity(instance, n)
	if err != nil {
		WriteError(w, r, http.StatusInternalServerError, "query_failed", err.Error(), nil)
		return
	}
	WriteJSON(w, http.StatusOK, activity)
}

func (h *Handler) handleErrors(w http.ResponseWriter, r *http.Request) {
	if h.Errors == nil {
		WriteJSON(w, http.StatusOK, map[string]any{"errors": []logging.ErrorReport{}, "stats": map[string]int{}})
		return
	}

	instance, ok := optionalInt(w, r, "instance")
	if !ok {
		return
	}
	limit, ok := optionalInt(w, r, "limit")
	if !ok {
		return
	}

	id, n := -1, 50
	if instance != nil {
		id = *instance
	}
	if limit != nil {
		n = *limit
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"errors": h.Errors.Recent(n, id),
		"stats":  h.Errors.Stats(),
	})
}

func instanceID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil || id < 0 {
		WriteError(w, r, http.StatusBadRequest, "invalid_instance", "instance id must be a non-negative integer", nil)
		return 0, false
	}
	return id, true
}

func optionalInt(w http.ResponseWriter, r *http.Request, name string) (*int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		WriteError(w, r, http.StatusBadRequest, "invalid_"+name, name+" must be a non-negative integer", nil)
		return nil, false
	}
	return &v, true
}
