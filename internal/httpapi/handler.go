// Package httpapi serves the task and schedule REST API.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"taskplanner/internal/agenda"
	"taskplanner/internal/calendar"
	"taskplanner/internal/eventbus"
	"taskplanner/internal/planner"
	rtsup "taskplanner/internal/runtime/supervisor"
	"taskplanner/internal/storage"
	logx "taskplanner/pkg/logx"
)

const (
	defaultLimit = 100
	maxBodyBytes = 1 << 20
)

// LatestSource exposes the last scheduled agenda.
type LatestSource interface {
	Latest() *agenda.Agenda
	Next() time.Time
}

// Deps are the collaborators behind the routes. Bus and Latest may be nil.
type Deps struct {
	Store   storage.Store
	Builder *agenda.Builder
	Latest  LatestSource
	Bus     eventbus.Bus
	// Days returns the default horizon when a request has no ?days.
	Days func() int
	// Goroutines reports supervised goroutines for /healthz; optional.
	Goroutines func() rtsup.Snapshot
	Log        logx.Logger
}

type handler struct {
	Deps
}

// NewRouter registers every route on a gorilla/mux router.
func NewRouter(d Deps) *mux.Router {
	if d.Days == nil {
		d.Days = func() int { return 7 }
	}
	h := &handler{Deps: d}

	r := mux.NewRouter().StrictSlash(true)
	r.Use(h.cors, h.accessLog)
	r.Methods(http.MethodGet).Path("/").HandlerFunc(h.root)
	r.Methods(http.MethodGet).Path("/healthz").HandlerFunc(h.health)

	api := r.PathPrefix("/api").Subrouter()
	api.Methods(http.MethodGet).Path("/tasks").HandlerFunc(h.listTasks)
	api.Methods(http.MethodPost).Path("/tasks").HandlerFunc(h.createTask)
	api.Methods(http.MethodGet).Path("/tasks/{id}").HandlerFunc(h.getTask)
	api.Methods(http.MethodPut).Path("/tasks/{id}").HandlerFunc(h.updateTask)
	api.Methods(http.MethodDelete).Path("/tasks/{id}").HandlerFunc(h.deleteTask)
	api.Methods(http.MethodPost).Path("/tasks/{id}/complete").HandlerFunc(h.completeTask)
	api.Methods(http.MethodGet).Path("/calendar-events").HandlerFunc(h.calendarEvents)
	api.Methods(http.MethodGet).Path("/schedule").HandlerFunc(h.schedule)
	api.Methods(http.MethodGet).Path("/schedule/latest").HandlerFunc(h.latestSchedule)

	// Preflight for any path.
	r.Methods(http.MethodOptions).PathPrefix("/").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return r
}

// cors allows every origin, method and header.
func (h *handler) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hdr := w.Header()
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}
		hdr.Set("Access-Control-Allow-Origin", origin)
		hdr.Set("Access-Control-Allow-Credentials", "true")
		hdr.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		if req := r.Header.Get("Access-Control-Request-Headers"); req != "" {
			hdr.Set("Access-Control-Allow-Headers", req)
		} else {
			hdr.Set("Access-Control-Allow-Headers", "*")
		}
		hdr.Add("Vary", "Origin")
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (h *handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		h.Log.Debug("http request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", rec.status),
			logx.Duration("took", time.Since(start)))
	})
}

func (h *handler) root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Task Planner API"})
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{"status": "ok"}
	if h.Latest != nil {
		if next := h.Latest.Next(); !next.IsZero() {
			out["next_replan"] = next
		}
		if a := h.Latest.Latest(); a != nil {
			out["last_replan"] = a.GeneratedAt
		}
	}
	if h.Goroutines != nil {
		snap := h.Goroutines()
		out["goroutines"] = snap
		if snap.FirstError != "" {
			out["status"] = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// ---- tasks ----

// taskInput is the request body for create and update. due_date accepts
// RFC3339, a naive date-time (planner timezone) or a bare date. On update,
// null (or an empty due_date) clears due_date, duration_minutes and
// priority; an absent key leaves them unchanged.
type taskInput struct {
	Title           *string          `json:"title"`
	Description     *string          `json:"description"`
	DueDate         optional[string] `json:"due_date"`
	DurationMinutes optional[int]    `json:"duration_minutes"`
	Priority        optional[int]    `json:"priority"`
	Status          *planner.Status  `json:"status"`
}

// optional records whether a key was present, so explicit null can be told
// apart from an absent field.
type optional[T any] struct {
	Set   bool
	Value *T
}

func (o *optional[T]) UnmarshalJSON(b []byte) error {
	o.Set = true
	if string(b) == "null" {
		o.Value = nil
		return nil
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	o.Value = &v
	return nil
}

func (o optional[T]) cleared() bool { return o.Set && o.Value == nil }

func (in taskInput) patch(loc *time.Location) (storage.TaskPatch, error) {
	p := storage.TaskPatch{
		Title:                in.Title,
		Description:          in.Description,
		DurationMinutes:      in.DurationMinutes.Value,
		Priority:             in.Priority.Value,
		Status:               in.Status,
		ClearDueDate:         in.DueDate.cleared(),
		ClearDurationMinutes: in.DurationMinutes.cleared(),
		ClearPriority:        in.Priority.cleared(),
	}
	if v := in.DueDate.Value; v != nil {
		if strings.TrimSpace(*v) == "" {
			p.ClearDueDate = true
			return p, nil
		}
		due, ok := calendar.ParseInstant(*v, loc)
		if !ok {
			return p, errors.New("due_date: unrecognized time format")
		}
		p.DueDate = &due
	}
	return p, nil
}

// listTasks pages with skip and limit. limit=0 returns every task after skip.
func (h *handler) listTasks(w http.ResponseWriter, r *http.Request) {
	skip, err := intParam(r, "skip", 0)
	if err != nil || skip < 0 {
		writeError(w, http.StatusBadRequest, "skip must be a non-negative integer")
		return
	}
	limit, err := intParam(r, "limit", defaultLimit)
	if err != nil || limit < 0 {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	tasks, err := h.Store.ListTasks(r.Context(), storage.ListOptions{Skip: skip, Limit: limit})
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (h *handler) getTask(w http.ResponseWriter, r *http.Request) {
	t, err := h.Store.GetTask(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *handler) createTask(w http.ResponseWriter, r *http.Request) {
	in, ok := decodeBody(w, r)
	if !ok {
		return
	}
	p, err := in.patch(h.Builder.Location())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	t := &storage.Task{}
	applyPatch(t, p)
	if err := h.Store.CreateTask(r.Context(), t); err != nil {
		h.fail(w, err)
		return
	}
	h.changed(t.ID)
	writeJSON(w, http.StatusOK, t)
}

func applyPatch(t *storage.Task, p storage.TaskPatch) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	t.DueDate = p.DueDate
	t.DurationMinutes = p.DurationMinutes
	t.Priority = p.Priority
	if p.Status != nil {
		t.Status = *p.Status
	}
}

func (h *handler) updateTask(w http.ResponseWriter, r *http.Request) {
	in, ok := decodeBody(w, r)
	if !ok {
		return
	}
	p, err := in.patch(h.Builder.Location())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	t, err := h.Store.UpdateTask(r.Context(), mux.Vars(r)["id"], p)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.changed(t.ID)
	writeJSON(w, http.StatusOK, t)
}

func (h *handler) completeTask(w http.ResponseWriter, r *http.Request) {
	t, err := h.Store.CompleteTask(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, err)
		return
	}
	h.changed(t.ID)
	writeJSON(w, http.StatusOK, t)
}

func (h *handler) deleteTask(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.Store.DeleteTask(r.Context(), id); err != nil {
		h.fail(w, err)
		return
	}
	h.changed(id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) changed(id string) {
	if h.Bus != nil {
		h.Bus.Publish(eventbus.Event{Type: eventbus.TopicTasksChanged, Data: id})
	}
}

// ---- calendar / schedule ----

func (h *handler) calendarEvents(w http.ResponseWriter, r *http.Request) {
	days, ok := h.daysParam(w, r)
	if !ok {
		return
	}
	events, err := h.Builder.Events(r.Context(), days)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *handler) schedule(w http.ResponseWriter, r *http.Request) {
	days, ok := h.daysParam(w, r)
	if !ok {
		return
	}
	a, err := h.Builder.Build(r.Context(), days)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.Entries())
}

type latestResponse struct {
	GeneratedAt time.Time      `json:"generated_at"`
	From        time.Time      `json:"from"`
	To          time.Time      `json:"to"`
	Entries     []agenda.Entry `json:"entries"`
	Unscheduled []string       `json:"unscheduled"`
}

func (h *handler) latestSchedule(w http.ResponseWriter, r *http.Request) {
	var a *agenda.Agenda
	if h.Latest != nil {
		a = h.Latest.Latest()
	}
	if a == nil {
		writeError(w, http.StatusNotFound, "no agenda built yet")
		return
	}
	resp := latestResponse{
		GeneratedAt: a.GeneratedAt,
		From:        a.From,
		To:          a.To,
		Entries:     a.Entries(),
		Unscheduled: make([]string, 0, len(a.Result.Unscheduled)),
	}
	for _, t := range a.Result.Unscheduled {
		resp.Unscheduled = append(resp.Unscheduled, t.ID)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) daysParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	days, err := intParam(r, "days", h.Days())
	if err != nil || days < 1 || days > agenda.MaxDays {
		writeError(w, http.StatusBadRequest, "days must be an integer within 1..366")
		return 0, false
	}
	return days, true
}

// ---- helpers ----

func (h *handler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "Task not found")
	case errors.Is(err, storage.ErrInvalid),
		errors.Is(err, agenda.ErrInvalidHorizon),
		errors.Is(err, planner.ErrInvalidDuration),
		errors.Is(err, planner.ErrInvalidInterval):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.Canceled):
		// client went away
	default:
		h.Log.Error("request failed", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request) (taskInput, bool) {
	var in taskInput
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return in, false
	}
	return in, true
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"detail": msg})
}
