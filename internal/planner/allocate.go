package planner

// Allocate assigns ordered tasks to free time, greedy first-fit.
//
// Each task takes the first interval (in list order) whose remaining capacity
// covers its duration. The assignment starts at the interval start and the
// interval shrinks to the residual (assignment end, interval end) in place.
// Tasks that fit nowhere are skipped. The free slice is not modified.
//
// The result is in processing order, not chronological order.
func Allocate(ordered []Task, free []FreeInterval) []Assignment {
	out, _ := allocate(ordered, free)
	return out
}

// allocate also returns the indexes (into ordered) of tasks that did not fit.
func allocate(ordered []Task, free []FreeInterval) ([]Assignment, []int) {
	pool := make([]FreeInterval, len(free))
	copy(pool, free)

	out := make([]Assignment, 0, len(ordered))
	var skipped []int
	for ti, t := range ordered {
		placed := false
		for i := range pool {
			if !pool[i].fits(t) {
				continue
			}
			start := pool[i].Start
			end := start.Add(t.Duration())
			out = append(out, Assignment{Task: t, Start: start, End: end, Slot: i})
			pool[i].Start = end
			placed = true
			break
		}
		if !placed {
			skipped = append(skipped, ti)
		}
	}
	return out, skipped
}
