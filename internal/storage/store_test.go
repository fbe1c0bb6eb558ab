package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"taskplanner/internal/planner"
	logx "taskplanner/pkg/logx"
)

func intPtr(v int) *int { return &v }

func openDrivers(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	out := map[string]Store{}
	for _, cfg := range []Config{
		{Driver: "memory"},
		{Driver: "file", Path: filepath.Join(dir, "tasks.json")},
		{Driver: "sqlite", Path: filepath.Join(dir, "tasks.db"), BusyTimeout: time.Second},
	} {
		st, err := Open(cfg, logx.Nop())
		if err != nil {
			t.Fatalf("Open(%s): %v", cfg.Driver, err)
		}
		t.Cleanup(func() { _ = st.Close() })
		out[cfg.Driver] = st
	}
	return out
}

func TestStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	for name, st := range openDrivers(t) {
		st := st
		t.Run(name, func(t *testing.T) {
			due := time.Date(2024, 5, 3, 17, 0, 0, 0, time.UTC)
			a := &Task{Title: "write report", DueDate: &due, DurationMinutes: intPtr(90), Priority: intPtr(1)}
			if err := st.CreateTask(ctx, a); err != nil {
				t.Fatalf("CreateTask: %v", err)
			}
			if a.ID == "" || a.Status != planner.StatusPending || a.CreatedAt.IsZero() {
				t.Fatalf("defaults not applied: %+v", a)
			}
			b := &Task{Title: "call bank"}
			if err := st.CreateTask(ctx, b); err != nil {
				t.Fatalf("CreateTask: %v", err)
			}

			got, err := st.GetTask(ctx, a.ID)
			if err != nil {
				t.Fatalf("GetTask: %v", err)
			}
			if got.Title != a.Title || got.DueDate == nil || !got.DueDate.Equal(due) || *got.DurationMinutes != 90 || *got.Priority != 1 {
				t.Fatalf("GetTask = %+v", got)
			}
			if b2, _ := st.GetTask(ctx, b.ID); b2.DueDate != nil || b2.Priority != nil || b2.DurationMinutes != nil {
				t.Fatalf("optional fields should stay nil: %+v", b2)
			}

			title := "write final report"
			up, err := st.UpdateTask(ctx, a.ID, TaskPatch{Title: &title, Priority: intPtr(0)})
			if err != nil {
				t.Fatalf("UpdateTask: %v", err)
			}
			if up.Title != title || *up.Priority != 0 || *up.DurationMinutes != 90 {
				t.Fatalf("UpdateTask = %+v", up)
			}

			done, err := st.CompleteTask(ctx, b.ID)
			if err != nil {
				t.Fatalf("CompleteTask: %v", err)
			}
			if done.Status != planner.StatusCompleted {
				t.Fatalf("status = %s", done.Status)
			}

			all, err := st.ListTasks(ctx, ListOptions{})
			if err != nil {
				t.Fatalf("ListTasks: %v", err)
			}
			if len(all) != 2 || all[0].ID != a.ID || all[1].ID != b.ID {
				t.Fatalf("ListTasks order = %+v", all)
			}
			pending, err := PendingPlannerTasks(ctx, st)
			if err != nil {
				t.Fatalf("PendingPlannerTasks: %v", err)
			}
			if len(pending) != 1 || pending[0].ID != a.ID {
				t.Fatalf("pending = %+v", pending)
			}

			if err := st.DeleteTask(ctx, a.ID); err != nil {
				t.Fatalf("DeleteTask: %v", err)
			}
			if _, err := st.GetTask(ctx, a.ID); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound after delete, got %v", err)
			}
		})
	}
}

func TestStoreClearOptionalFields(t *testing.T) {
	ctx := context.Background()
	for name, st := range openDrivers(t) {
		st := st
		t.Run(name, func(t *testing.T) {
			due := time.Date(2024, 5, 3, 17, 0, 0, 0, time.UTC)
			a := &Task{Title: "file taxes", DueDate: &due, DurationMinutes: intPtr(45), Priority: intPtr(2)}
			if err := st.CreateTask(ctx, a); err != nil {
				t.Fatalf("CreateTask: %v", err)
			}

			up, err := st.UpdateTask(ctx, a.ID, TaskPatch{ClearDueDate: true, ClearPriority: true})
			if err != nil {
				t.Fatalf("UpdateTask: %v", err)
			}
			if up.DueDate != nil || up.Priority != nil || up.DurationMinutes == nil || *up.DurationMinutes != 45 {
				t.Fatalf("after clear = %+v", up)
			}

			// Clear wins over a value in the same patch.
			up, err = st.UpdateTask(ctx, a.ID, TaskPatch{DurationMinutes: intPtr(10), ClearDurationMinutes: true})
			if err != nil {
				t.Fatalf("UpdateTask: %v", err)
			}
			if up.DurationMinutes != nil {
				t.Fatalf("duration = %v, want nil", *up.DurationMinutes)
			}

			got, err := st.GetTask(ctx, a.ID)
			if err != nil {
				t.Fatalf("GetTask: %v", err)
			}
			if got.DueDate != nil || got.Priority != nil || got.DurationMinutes != nil {
				t.Fatalf("persisted = %+v", got)
			}
		})
	}
}

func TestStoreNotFoundAndValidation(t *testing.T) {
	ctx := context.Background()
	for name, st := range openDrivers(t) {
		st := st
		t.Run(name, func(t *testing.T) {
			if _, err := st.GetTask(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("GetTask: %v", err)
			}
			if _, err := st.CompleteTask(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("CompleteTask: %v", err)
			}
			if err := st.DeleteTask(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("DeleteTask: %v", err)
			}
			if err := st.CreateTask(ctx, &Task{Title: "  "}); !errors.Is(err, ErrInvalid) {
				t.Fatalf("blank title: %v", err)
			}
			if err := st.CreateTask(ctx, &Task{Title: "x", DurationMinutes: intPtr(0)}); !errors.Is(err, ErrInvalid) {
				t.Fatalf("zero duration: %v", err)
			}
			ok := &Task{Title: "x"}
			if err := st.CreateTask(ctx, ok); err != nil {
				t.Fatalf("CreateTask: %v", err)
			}
			bad := planner.Status("archived")
			if _, err := st.UpdateTask(ctx, ok.ID, TaskPatch{Status: &bad}); !errors.Is(err, ErrInvalid) {
				t.Fatalf("bad status: %v", err)
			}
			if got, _ := st.GetTask(ctx, ok.ID); got.Status != planner.StatusPending {
				t.Fatalf("rejected update was applied: %+v", got)
			}
		})
	}
}

func TestStorePaging(t *testing.T) {
	ctx := context.Background()
	for name, st := range openDrivers(t) {
		st := st
		t.Run(name, func(t *testing.T) {
			var ids []string
			for _, title := range []string{"a", "b", "c", "d", "e"} {
				task := &Task{Title: title}
				if err := st.CreateTask(ctx, task); err != nil {
					t.Fatalf("CreateTask: %v", err)
				}
				ids = append(ids, task.ID)
			}
			got, err := st.ListTasks(ctx, ListOptions{Skip: 1, Limit: 2})
			if err != nil {
				t.Fatalf("ListTasks: %v", err)
			}
			if len(got) != 2 || got[0].ID != ids[1] || got[1].ID != ids[2] {
				t.Fatalf("page = %+v", got)
			}
			got, _ = st.ListTasks(ctx, ListOptions{Skip: 3})
			if len(got) != 2 || got[0].ID != ids[3] {
				t.Fatalf("skip-only page = %+v", got)
			}
		})
	}
}

func TestFileStoreReload(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "tasks.json")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	task := &Task{Title: "persist me", Priority: intPtr(2)}
	if err := st.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	_ = st.Close()

	again, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, err := again.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask after reopen: %v", err)
	}
	if got.Title != "persist me" || *got.Priority != 2 {
		t.Fatalf("reloaded = %+v", got)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("expected error")
	}
}
