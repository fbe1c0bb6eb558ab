// Package planner places pending tasks into free calendar time.
//
// Two steps, both pure:
//   - Order sorts tasks by deadline (undated last), then priority (lower first).
//     Ties keep their input order.
//   - Allocate walks the ordered tasks once and gives each one the first free
//     interval with enough capacity, carving the assignment from the start of
//     that interval. The unused suffix stays in place for later tasks.
//
// Free intervals are scanned in the order the caller supplies them. They are
// never re-sorted here; callers are expected to pass them start-ascending.
package planner
