package planner

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// DefaultDuration is used for tasks without an explicit duration.
const DefaultDuration = 30 * time.Minute

// MaxInstant stands in for a missing due date so undated tasks sort last.
var MaxInstant = time.Date(9999, time.December, 31, 23, 59, 59, 999999999, time.UTC)

var (
	ErrInvalidInterval = errors.New("free interval ends before it starts")
	ErrInvalidDuration = errors.New("task duration must be positive")
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted:
		return true
	default:
		return false
	}
}

// Task is the read-only view of a task the planner works with.
// Optional fields are nil when unset; use the accessors to resolve defaults.
type Task struct {
	ID              string
	Title           string
	DueDate         *time.Time
	Priority        *int
	DurationMinutes *int
	Status          Status
}

// Due returns the due date, or MaxInstant when the task has none.
func (t Task) Due() time.Time {
	if t.DueDate == nil {
		return MaxInstant
	}
	return *t.DueDate
}

// PriorityOrDefault returns the priority, or 0 when unset.
func (t Task) PriorityOrDefault() int {
	if t.Priority == nil {
		return 0
	}
	return *t.Priority
}

// maxMinutes is the largest minute count a time.Duration can hold.
const maxMinutes = int64(math.MaxInt64 / int64(time.Minute))

// Duration returns the time the task needs. Unset and zero durations
// resolve to DefaultDuration. Durations beyond the time.Duration range
// saturate at math.MaxInt64.
func (t Task) Duration() time.Duration {
	m := t.minutes()
	if m > maxMinutes {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(m) * time.Minute
}

// minutes is the resolved duration in whole minutes.
func (t Task) minutes() int64 {
	if t.DurationMinutes == nil || *t.DurationMinutes == 0 {
		return int64(DefaultDuration / time.Minute)
	}
	return int64(*t.DurationMinutes)
}

// FreeInterval is a span of time with no conflicting calendar event.
type FreeInterval struct {
	Start time.Time
	End   time.Time
}

// Capacity is the length of the interval.
func (f FreeInterval) Capacity() time.Duration { return f.End.Sub(f.Start) }

// fits reports whether t needs no more than the remaining capacity of f.
// The comparison is in whole minutes so oversized requests can't overflow.
func (f FreeInterval) fits(t Task) bool {
	return int64(f.Capacity()/time.Minute) >= t.minutes()
}

// Assignment places one task into free time. Slot is the index of the
// free interval (in the caller's list) it was carved from.
type Assignment struct {
	Task  Task
	Start time.Time
	End   time.Time
	Slot  int
}

// IntervalError reports a malformed free interval.
type IntervalError struct {
	Index    int
	Interval FreeInterval
}

func (e *IntervalError) Error() string {
	return fmt.Sprintf("free interval %d [%s, %s]: %v",
		e.Index, e.Interval.Start.Format(time.RFC3339), e.Interval.End.Format(time.RFC3339), ErrInvalidInterval)
}

func (e *IntervalError) Unwrap() error { return ErrInvalidInterval }

// TaskError reports a task the planner cannot place for structural reasons.
type TaskError struct {
	TaskID string
	Err    error
}

func (e *TaskError) Error() string { return fmt.Sprintf("task %q: %v", e.TaskID, e.Err) }

func (e *TaskError) Unwrap() error { return e.Err }
