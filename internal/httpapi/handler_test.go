package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"taskplanner/internal/agenda"
	"taskplanner/internal/calendar"
	"taskplanner/internal/eventbus"
	"taskplanner/internal/planner"
	rtsup "taskplanner/internal/runtime/supervisor"
	"taskplanner/internal/storage"
	logx "taskplanner/pkg/logx"
)

type fakeLatest struct {
	a    *agenda.Agenda
	next time.Time
}

func (f fakeLatest) Latest() *agenda.Agenda { return f.a }
func (f fakeLatest) Next() time.Time        { return f.next }

type testEnv struct {
	store storage.Store
	bus   eventbus.Bus
	h     http.Handler
}

func newEnv(t *testing.T, cal calendar.Provider, latest LatestSource) *testEnv {
	t.Helper()
	if cal == nil {
		cal = calendar.ProviderFunc(func(ctx context.Context, from, to time.Time) ([]calendar.Event, error) {
			return []calendar.Event{}, nil
		})
	}
	st := storage.NewMemory()
	bus := eventbus.New()
	h := NewRouter(Deps{
		Store:   st,
		Builder: agenda.NewBuilder(st, cal, time.UTC, logx.Nop()),
		Latest:  latest,
		Bus:     bus,
		Log:     logx.Nop(),
	})
	return &testEnv{store: st, bus: bus, h: h}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	resp := httptest.NewRecorder()
	e.h.ServeHTTP(resp, req)
	return resp
}

func decode[T any](t *testing.T, resp *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(resp.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", resp.Body.String(), err)
	}
	return v
}

func TestRootAndCORS(t *testing.T) {
	t.Parallel()
	env := newEnv(t, nil, nil)
	resp := env.do(t, http.MethodGet, "/", "")
	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), "Task Planner API") {
		t.Fatalf("GET / = %d %s", resp.Code, resp.Body.String())
	}
	if got := resp.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("allow origin = %q", got)
	}

	req := httptest.NewRequest(http.MethodOptions, "/api/tasks", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Headers", "content-type")
	pre := httptest.NewRecorder()
	env.h.ServeHTTP(pre, req)
	if pre.Code != http.StatusNoContent {
		t.Fatalf("preflight = %d", pre.Code)
	}
	if got := pre.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("preflight allow origin = %q", got)
	}
}

func TestTaskCRUD(t *testing.T) {
	t.Parallel()
	env := newEnv(t, nil, nil)
	changes, unsub := env.bus.Subscribe(8, eventbus.TopicTasksChanged)
	defer unsub()

	resp := env.do(t, http.MethodPost, "/api/tasks", `{"title":"write report","due_date":"2024-05-03","duration_minutes":90,"priority":1}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("create = %d %s", resp.Code, resp.Body.String())
	}
	created := decode[storage.Task](t, resp)
	if created.ID == "" || created.Status != planner.StatusPending || created.DueDate == nil ||
		!created.DueDate.Equal(time.Date(2024, 5, 3, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("created = %+v", created)
	}

	resp = env.do(t, http.MethodPut, "/api/tasks/"+created.ID, `{"title":"write final report"}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("update = %d %s", resp.Code, resp.Body.String())
	}
	if got := decode[storage.Task](t, resp); got.Title != "write final report" || *got.DurationMinutes != 90 {
		t.Fatalf("updated = %+v", got)
	}

	resp = env.do(t, http.MethodPost, "/api/tasks/"+created.ID+"/complete", "")
	if got := decode[storage.Task](t, resp); resp.Code != http.StatusOK || got.Status != planner.StatusCompleted {
		t.Fatalf("complete = %d %+v", resp.Code, got)
	}

	resp = env.do(t, http.MethodGet, "/api/tasks", "")
	if got := decode[[]storage.Task](t, resp); len(got) != 1 {
		t.Fatalf("list = %+v", got)
	}

	resp = env.do(t, http.MethodDelete, "/api/tasks/"+created.ID, "")
	if resp.Code != http.StatusNoContent {
		t.Fatalf("delete = %d", resp.Code)
	}
	if resp = env.do(t, http.MethodGet, "/api/tasks/"+created.ID, ""); resp.Code != http.StatusNotFound {
		t.Fatalf("get after delete = %d", resp.Code)
	}
	if len(changes) != 4 {
		t.Fatalf("tasks.changed events = %d, want 4", len(changes))
	}
}

func TestTaskErrors(t *testing.T) {
	t.Parallel()
	env := newEnv(t, nil, nil)
	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"missing title", http.MethodPost, "/api/tasks", `{"duration_minutes":10}`, http.StatusBadRequest},
		{"bad json", http.MethodPost, "/api/tasks", `{"title":`, http.StatusBadRequest},
		{"bad due date", http.MethodPost, "/api/tasks", `{"title":"x","due_date":"next week"}`, http.StatusBadRequest},
		{"zero duration", http.MethodPost, "/api/tasks", `{"title":"x","duration_minutes":0}`, http.StatusBadRequest},
		{"bad status", http.MethodPost, "/api/tasks", `{"title":"x","status":"archived"}`, http.StatusBadRequest},
		{"update missing", http.MethodPut, "/api/tasks/nope", `{"title":"x"}`, http.StatusNotFound},
		{"complete missing", http.MethodPost, "/api/tasks/nope/complete", "", http.StatusNotFound},
		{"delete missing", http.MethodDelete, "/api/tasks/nope", "", http.StatusNotFound},
		{"bad skip", http.MethodGet, "/api/tasks?skip=-1", "", http.StatusBadRequest},
		{"bad limit", http.MethodGet, "/api/tasks?limit=abc", "", http.StatusBadRequest},
		{"bad days", http.MethodGet, "/api/schedule?days=0", "", http.StatusBadRequest},
		{"days too large", http.MethodGet, "/api/calendar-events?days=1000", "", http.StatusBadRequest},
		{"no latest", http.MethodGet, "/api/schedule/latest", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if resp := env.do(t, tt.method, tt.path, tt.body); resp.Code != tt.want {
				t.Fatalf("%s %s = %d (%s), want %d", tt.method, tt.path, resp.Code, resp.Body.String(), tt.want)
			}
		})
	}
}

func TestListPaging(t *testing.T) {
	t.Parallel()
	env := newEnv(t, nil, nil)
	for _, title := range []string{"a", "b", "c"} {
		if resp := env.do(t, http.MethodPost, "/api/tasks", `{"title":"`+title+`"}`); resp.Code != http.StatusOK {
			t.Fatalf("create %s = %d", title, resp.Code)
		}
	}
	got := decode[[]storage.Task](t, env.do(t, http.MethodGet, "/api/tasks?skip=1&limit=1", ""))
	if len(got) != 1 || got[0].Title != "b" {
		t.Fatalf("page = %+v", got)
	}
	got = decode[[]storage.Task](t, env.do(t, http.MethodGet, "/api/tasks?skip=1&limit=0", ""))
	if len(got) != 2 || got[0].Title != "b" || got[1].Title != "c" {
		t.Fatalf("limit=0 page = %+v", got)
	}
}

func TestUpdateClearsWithNull(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name     string
		body     string
		due      bool
		priority bool
		duration bool
	}{
		{"absent keys keep values", `{"title":"renamed"}`, true, true, true},
		{"null clears all", `{"due_date":null,"priority":null,"duration_minutes":null}`, false, false, false},
		{"empty due date clears", `{"due_date":""}`, false, true, true},
		{"null priority only", `{"priority":null}`, true, false, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			env := newEnv(t, nil, nil)
			resp := env.do(t, http.MethodPost, "/api/tasks", `{"title":"x","due_date":"2024-05-03","duration_minutes":90,"priority":1}`)
			created := decode[storage.Task](t, resp)

			resp = env.do(t, http.MethodPut, "/api/tasks/"+created.ID, tc.body)
			if resp.Code != http.StatusOK {
				t.Fatalf("update = %d %s", resp.Code, resp.Body.String())
			}
			got := decode[storage.Task](t, resp)
			if (got.DueDate != nil) != tc.due || (got.Priority != nil) != tc.priority || (got.DurationMinutes != nil) != tc.duration {
				t.Fatalf("updated = %+v", got)
			}
		})
	}
}

func TestScheduleEndpoint(t *testing.T) {
	t.Parallel()
	env := newEnv(t, nil, nil)
	env.do(t, http.MethodPost, "/api/tasks", `{"title":"later","duration_minutes":60}`)
	env.do(t, http.MethodPost, "/api/tasks", `{"title":"urgent","due_date":"2000-01-01T00:00:00Z"}`)
	done := decode[storage.Task](t, env.do(t, http.MethodPost, "/api/tasks", `{"title":"done"}`))
	env.do(t, http.MethodPost, "/api/tasks/"+done.ID+"/complete", "")

	resp := env.do(t, http.MethodGet, "/api/schedule?days=1", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("schedule = %d %s", resp.Code, resp.Body.String())
	}
	entries := decode[[]agenda.Entry](t, resp)
	if len(entries) != 2 || entries[0].Title != "urgent" || entries[1].Title != "later" {
		t.Fatalf("entries = %+v", entries)
	}
	if got := entries[0].End.Sub(entries[0].Start); got != planner.DefaultDuration {
		t.Fatalf("default duration = %v", got)
	}
	if !entries[1].Start.Equal(entries[0].End) {
		t.Fatalf("second task should start where the first ended: %+v", entries)
	}
}

func TestCalendarEventsAndFailures(t *testing.T) {
	t.Parallel()
	cal := calendar.ProviderFunc(func(ctx context.Context, from, to time.Time) ([]calendar.Event, error) {
		return []calendar.Event{{ID: "e1", Summary: "standup", Start: "2024-05-01T09:00:00Z", End: "2024-05-01T09:15:00Z"}}, nil
	})
	env := newEnv(t, cal, nil)
	events := decode[[]calendar.Event](t, env.do(t, http.MethodGet, "/api/calendar-events", ""))
	if len(events) != 1 || events[0].Summary != "standup" {
		t.Fatalf("events = %+v", events)
	}

	broken := calendar.ProviderFunc(func(ctx context.Context, from, to time.Time) ([]calendar.Event, error) {
		return nil, errors.New("upstream unavailable")
	})
	env = newEnv(t, broken, nil)
	if resp := env.do(t, http.MethodGet, "/api/schedule", ""); resp.Code != http.StatusInternalServerError {
		t.Fatalf("schedule with broken calendar = %d", resp.Code)
	}
}

func TestLatestSchedule(t *testing.T) {
	t.Parallel()
	from := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	a := &agenda.Agenda{
		GeneratedAt: from,
		From:        from,
		To:          from.AddDate(0, 0, 1),
		Result: planner.Result{
			Assignments: []planner.Assignment{{Task: planner.Task{ID: "t1", Title: "one"}, Start: from, End: from.Add(time.Hour)}},
			Unscheduled: []planner.Task{{ID: "t2", Title: "two"}},
		},
	}
	env := newEnv(t, nil, fakeLatest{a: a, next: from.Add(time.Hour)})
	resp := env.do(t, http.MethodGet, "/api/schedule/latest", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("latest = %d", resp.Code)
	}
	got := decode[latestResponse](t, resp)
	if len(got.Entries) != 1 || got.Entries[0].TaskID != "t1" || len(got.Unscheduled) != 1 || got.Unscheduled[0] != "t2" {
		t.Fatalf("latest = %+v", got)
	}

	health := decode[map[string]any](t, env.do(t, http.MethodGet, "/healthz", ""))
	if health["status"] != "ok" || health["next_replan"] == nil {
		t.Fatalf("health = %+v", health)
	}
}

func TestHealthGoroutines(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		fail   bool
		status string
	}{
		{name: "running", status: "ok"},
		{name: "failed", fail: true, status: "degraded"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			sup := rtsup.New(ctx, rtsup.WithLogger(logx.Nop()))
			sup.Go("worker", func(c context.Context) error {
				if tc.fail {
					return errors.New("boom")
				}
				return nil
			})
			if err := sup.Wait(ctx); tc.fail != (err != nil) {
				t.Fatalf("wait err = %v", err)
			}

			st := storage.NewMemory()
			h := NewRouter(Deps{
				Store:      st,
				Builder:    agenda.NewBuilder(st, calendar.ProviderFunc(func(context.Context, time.Time, time.Time) ([]calendar.Event, error) { return nil, nil }), time.UTC, logx.Nop()),
				Bus:        eventbus.New(),
				Goroutines: sup.Snapshot,
				Log:        logx.Nop(),
			})
			env := &testEnv{store: st, h: h}
			health := decode[map[string]any](t, env.do(t, http.MethodGet, "/healthz", ""))
			if health["status"] != tc.status {
				t.Fatalf("status = %v, want %s", health["status"], tc.status)
			}
			g, ok := health["goroutines"].(map[string]any)
			if !ok {
				t.Fatalf("goroutines missing: %+v", health)
			}
			list, _ := g["goroutines"].([]any)
			if len(list) != 1 || list[0].(map[string]any)["name"] != "worker" {
				t.Fatalf("goroutines = %+v", g)
			}
		})
	}
}
