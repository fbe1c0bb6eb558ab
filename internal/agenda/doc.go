// Package agenda turns stored tasks and calendar events into a plan.
//
// Builder does one pass: horizon, busy events, free intervals, pending
// tasks, planner. Trigger reruns the builder on a schedule and keeps the
// latest result.
package agenda
