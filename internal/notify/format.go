package notify

import (
	"fmt"
	"html"
	"sort"
	"strings"
	"time"

	"taskplanner/internal/agenda"
	"taskplanner/internal/planner"
)

// TextLimit stays under Telegram's 4096 character cap.
const TextLimit = 4000

// Message is a rendered agenda. Body excludes the header so two runs with
// the same plan hash equally.
type Message struct {
	Header string
	Body   string
}

func (m Message) Text() string { return m.Header + "\n\n" + m.Body }

// Render formats a as Telegram HTML: assignments grouped by day in time
// order, then unscheduled task titles.
func Render(a *agenda.Agenda, loc *time.Location) Message {
	if loc == nil {
		loc = a.From.Location()
	}
	header := fmt.Sprintf("<b>Agenda</b> %s – %s",
		a.From.In(loc).Format("Mon 02 Jan 15:04"),
		a.To.In(loc).Format("Mon 02 Jan 15:04"))

	as := make([]planner.Assignment, len(a.Result.Assignments))
	copy(as, a.Result.Assignments)
	sort.SliceStable(as, func(i, j int) bool { return as[i].Start.Before(as[j].Start) })

	var b strings.Builder
	if len(as) == 0 {
		b.WriteString("No tasks scheduled.")
	}
	day := ""
	for _, x := range as {
		start, end := x.Start.In(loc), x.End.In(loc)
		if d := start.Format("Mon 02 Jan"); d != day {
			if day != "" {
				b.WriteString("\n")
			}
			day = d
			fmt.Fprintf(&b, "<b>%s</b>\n", d)
		}
		fmt.Fprintf(&b, "• %s–%s %s\n", start.Format("15:04"), end.Format("15:04"), html.EscapeString(x.Task.Title))
	}

	if n := len(a.Result.Unscheduled); n > 0 {
		fmt.Fprintf(&b, "\n<b>Unscheduled (%d)</b>\n", n)
		for _, t := range a.Result.Unscheduled {
			fmt.Fprintf(&b, "• %s (%s)\n", html.EscapeString(t.Title), t.Duration())
		}
	}
	return Message{Header: header, Body: strings.TrimRight(b.String(), "\n")}
}

// SplitText cuts s into chunks of at most limit runes, preferring line
// breaks and never cutting inside an HTML tag.
func SplitText(s string, limit int) []string {
	if limit <= 0 {
		limit = TextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i > start+limit/3; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
			}
			lastOpen, lastClose := -1, -1
			for i := start; i < end; i++ {
				switch rs[i] {
				case '<':
					lastOpen = i
				case '>':
					lastClose = i
				}
			}
			if lastOpen > lastClose && lastOpen > start {
				end = lastOpen
			}
		}
		if chunk := strings.TrimRight(string(rs[start:end]), "\n"); chunk != "" {
			out = append(out, chunk)
		}
		start = end
	}
	return out
}
