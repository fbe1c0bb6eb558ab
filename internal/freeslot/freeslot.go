// Package freeslot turns busy calendar events into the free intervals the
// planner consumes.
package freeslot

import (
	"sort"
	"time"

	"taskplanner/internal/calendar"
	"taskplanner/internal/planner"
)

// Busy is a calendar event normalized to instants.
type Busy struct {
	ID    string
	Start time.Time
	End   time.Time
}

// Normalize converts raw events to instants.
//
// Unparsable values never fail the call: an unparsable start is treated as
// the horizon start and an unparsable end as the event's own start, so the
// event contributes no busy time.
func Normalize(events []calendar.Event, from time.Time, loc *time.Location) []Busy {
	out := make([]Busy, 0, len(events))
	for _, ev := range events {
		start, ok := calendar.ParseInstant(ev.Start, loc)
		if !ok {
			start = from
		}
		end, ok := calendar.ParseInstant(ev.End, loc)
		if !ok {
			end = start
		}
		out = append(out, Busy{ID: ev.ID, Start: start, End: end})
	}
	return out
}

// Derive returns the gaps between events within [from, to], start-ascending.
func Derive(events []calendar.Event, from, to time.Time, loc *time.Location) []planner.FreeInterval {
	return Gaps(Normalize(events, from, loc), from, to)
}

// Gaps computes free intervals from normalized busy spans.
//
// Busy spans are stably sorted by start. The cursor only moves forward, so
// overlapping or nested events are merged naturally. Gaps are clamped to the
// horizon; an empty or inverted horizon yields no intervals.
func Gaps(busy []Busy, from, to time.Time) []planner.FreeInterval {
	if !from.Before(to) {
		return []planner.FreeInterval{}
	}
	sorted := make([]Busy, len(busy))
	copy(sorted, busy)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	out := make([]planner.FreeInterval, 0, len(sorted)+1)
	cursor := from
	for _, b := range sorted {
		if !cursor.Before(to) {
			break
		}
		if b.Start.After(cursor) {
			end := b.Start
			if end.After(to) {
				end = to
			}
			out = append(out, planner.FreeInterval{Start: cursor, End: end})
		}
		if b.End.After(cursor) {
			cursor = b.End
		}
	}
	if cursor.Before(to) {
		out = append(out, planner.FreeInterval{Start: cursor, End: to})
	}
	return out
}
