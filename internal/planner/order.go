package planner

import "sort"

// Order returns a copy of tasks sorted by due date (undated last), then by
// priority (lower first). Tasks with equal keys keep their input order.
func Order(tasks []Task) []Task {
	out := make([]Task, len(tasks))
	copy(out, tasks)
	sort.SliceStable(out, func(i, j int) bool {
		di, dj := out[i].Due(), out[j].Due()
		if !di.Equal(dj) {
			return di.Before(dj)
		}
		return out[i].PriorityOrDefault() < out[j].PriorityOrDefault()
	})
	return out
}
