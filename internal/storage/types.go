package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"taskplanner/internal/planner"
)

var (
	ErrNotFound = errors.New("task not found")
	ErrInvalid  = errors.New("invalid task")
)

// Config configures storage.
//
// Driver values:
//   - "memory" (default when empty)
//   - "file":   JSON snapshot at Path
//   - "sqlite": SQLite database file at Path
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Task is the stored form of a task.
type Task struct {
	ID              string         `json:"id"`
	Title           string         `json:"title"`
	Description     string         `json:"description,omitempty"`
	DueDate         *time.Time     `json:"due_date"`
	DurationMinutes *int           `json:"duration_minutes"`
	Priority        *int           `json:"priority"`
	Status          planner.Status `json:"status"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Validate checks the fields a caller may set.
func (t *Task) Validate() error {
	if strings.TrimSpace(t.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalid)
	}
	if t.DurationMinutes != nil && *t.DurationMinutes <= 0 {
		return fmt.Errorf("%w: duration_minutes must be > 0", ErrInvalid)
	}
	if !t.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalid, t.Status)
	}
	return nil
}

// Planner returns the read-only view used by the planner.
func (t *Task) Planner() planner.Task {
	return planner.Task{
		ID:              t.ID,
		Title:           t.Title,
		DueDate:         t.DueDate,
		Priority:        t.Priority,
		DurationMinutes: t.DurationMinutes,
		Status:          t.Status,
	}
}

// TaskPatch carries a partial update. Nil fields are left unchanged;
// the Clear flags reset the optional fields to unset.
type TaskPatch struct {
	Title           *string         `json:"title"`
	Description     *string         `json:"description"`
	DueDate         *time.Time      `json:"due_date"`
	DurationMinutes *int            `json:"duration_minutes"`
	Priority        *int            `json:"priority"`
	Status          *planner.Status `json:"status"`

	ClearDueDate         bool `json:"-"`
	ClearDurationMinutes bool `json:"-"`
	ClearPriority        bool `json:"-"`
}

func (p TaskPatch) apply(t *Task) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.ClearDueDate {
		t.DueDate = nil
	} else if p.DueDate != nil {
		d := *p.DueDate
		t.DueDate = &d
	}
	if p.ClearDurationMinutes {
		t.DurationMinutes = nil
	} else if p.DurationMinutes != nil {
		v := *p.DurationMinutes
		t.DurationMinutes = &v
	}
	if p.ClearPriority {
		t.Priority = nil
	} else if p.Priority != nil {
		v := *p.Priority
		t.Priority = &v
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
}

// ListOptions filters and pages ListTasks. Limit <= 0 means no limit.
type ListOptions struct {
	Skip             int
	Limit            int
	ExcludeCompleted bool
}

// Store is the task persistence API. Listing order is creation order.
type Store interface {
	CreateTask(ctx context.Context, t *Task) error
	GetTask(ctx context.Context, id string) (*Task, error)
	ListTasks(ctx context.Context, opt ListOptions) ([]*Task, error)
	UpdateTask(ctx context.Context, id string, patch TaskPatch) (*Task, error)
	CompleteTask(ctx context.Context, id string) (*Task, error)
	DeleteTask(ctx context.Context, id string) error
	Close() error
}

// PendingPlannerTasks lists non-completed tasks in the planner's view.
func PendingPlannerTasks(ctx context.Context, s Store) ([]planner.Task, error) {
	rows, err := s.ListTasks(ctx, ListOptions{ExcludeCompleted: true})
	if err != nil {
		return nil, err
	}
	out := make([]planner.Task, 0, len(rows))
	for _, t := range rows {
		out = append(out, t.Planner())
	}
	return out, nil
}

// prepareNew fills id, timestamps and the default status.
func prepareNew(t *Task, now time.Time) error {
	if t.Status == "" {
		t.Status = planner.StatusPending
	}
	if err := t.Validate(); err != nil {
		return err
	}
	if t.ID == "" {
		t.ID = newID()
	}
	t.CreatedAt = now
	t.UpdatedAt = now
	return nil
}

func clone(t *Task) *Task {
	cp := *t
	if t.DueDate != nil {
		d := *t.DueDate
		cp.DueDate = &d
	}
	if t.DurationMinutes != nil {
		v := *t.DurationMinutes
		cp.DurationMinutes = &v
	}
	if t.Priority != nil {
		v := *t.Priority
		cp.Priority = &v
	}
	return &cp
}

func page(in []*Task, opt ListOptions) []*Task {
	out := make([]*Task, 0, len(in))
	skipped := 0
	for _, t := range in {
		if opt.ExcludeCompleted && t.Status == planner.StatusCompleted {
			continue
		}
		if skipped < opt.Skip {
			skipped++
			continue
		}
		if opt.Limit > 0 && len(out) >= opt.Limit {
			break
		}
		out = append(out, clone(t))
	}
	return out
}
