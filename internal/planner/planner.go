package planner

import (
	"math"
	"time"
)

// Result is the outcome of a planning pass.
type Result struct {
	Assignments []Assignment
	// Unscheduled holds the tasks that found no capacity, in priority order.
	Unscheduled []Task
}

// Schedule validates the inputs, orders tasks and allocates them to free.
//
// Callers must pass non-completed tasks and non-overlapping intervals in
// the intended scan order.
func Schedule(tasks []Task, free []FreeInterval) ([]Assignment, error) {
	if err := Validate(tasks, free); err != nil {
		return nil, err
	}
	return Allocate(Order(tasks), free), nil
}

// Plan is Schedule plus the list of tasks left without a slot.
func Plan(tasks []Task, free []FreeInterval) (Result, error) {
	if err := Validate(tasks, free); err != nil {
		return Result{}, err
	}
	ordered := Order(tasks)
	assigned, skipped := allocate(ordered, free)

	res := Result{Assignments: assigned}
	for _, i := range skipped {
		res.Unscheduled = append(res.Unscheduled, ordered[i])
	}
	return res, nil
}

// Validate rejects inputs that would produce negative-length assignments.
func Validate(tasks []Task, free []FreeInterval) error {
	for i, f := range free {
		if f.End.Before(f.Start) {
			return &IntervalError{Index: i, Interval: f}
		}
	}
	for _, t := range tasks {
		if t.DurationMinutes != nil && *t.DurationMinutes < 0 {
			return &TaskError{TaskID: t.ID, Err: ErrInvalidDuration}
		}
	}
	return nil
}

// Demand is the total duration of all assigned and unscheduled tasks.
func (r Result) Demand() time.Duration {
	var d time.Duration
	for _, a := range r.Assignments {
		d = addSat(d, a.End.Sub(a.Start))
	}
	for _, t := range r.Unscheduled {
		d = addSat(d, t.Duration())
	}
	return d
}

// addSat adds two non-negative durations, saturating at math.MaxInt64.
func addSat(a, b time.Duration) time.Duration {
	if a > time.Duration(math.MaxInt64)-b {
		return time.Duration(math.MaxInt64)
	}
	return a + b
}

// Capacity sums the capacity of the given intervals.
func Capacity(free []FreeInterval) time.Duration {
	var d time.Duration
	for _, f := range free {
		d += f.Capacity()
	}
	return d
}
