package calendar

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"

	logx "taskplanner/pkg/logx"
)

// fileProvider serves events from a local YAML or JSON file. The file is
// re-read on every call so edits show up on the next planning run.
//
// Accepted shapes (JSON is parsed as YAML):
//
//	items:
//	  - id: standup
//	    summary: Daily standup
//	    start: {dateTime: "2024-05-01T09:00:00+02:00"}
//	    end:   {dateTime: "2024-05-01T09:15:00+02:00"}
//	  - id: offsite
//	    start: {date: "2024-05-03"}
//	    end:   {date: "2024-05-04"}
//
// or the same list at the top level. Plain strings are accepted for start/end.
type fileProvider struct {
	path       string
	maxResults int
	loc        *time.Location
	log        logx.Logger
}

type fileDoc struct {
	Items []fileEvent `yaml:"items"`
}

type fileEvent struct {
	ID      string    `yaml:"id"`
	Summary string    `yaml:"summary"`
	Start   eventTime `yaml:"start"`
	End     eventTime `yaml:"end"`
}

// eventTime mirrors the {dateTime|date} object calendar APIs use.
type eventTime struct {
	DateTime string `yaml:"dateTime"`
	Date     string `yaml:"date"`
}

func (t *eventTime) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		t.DateTime = n.Value
		return nil
	}
	type plain eventTime
	var p plain
	if err := n.Decode(&p); err != nil {
		return err
	}
	*t = eventTime(p)
	return nil
}

func (t eventTime) raw() string {
	if strings.TrimSpace(t.DateTime) != "" {
		return strings.TrimSpace(t.DateTime)
	}
	return strings.TrimSpace(t.Date)
}

func newFileProvider(cfg Config, log logx.Logger) (*fileProvider, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("calendar.path is required for file driver")
	}
	return &fileProvider{path: path, maxResults: cfg.MaxResults, loc: cfg.Location, log: log}, nil
}

func (p *fileProvider) Events(ctx context.Context, from, to time.Time) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("read calendar file: %w", err)
	}
	items, err := decodeEvents(b)
	if err != nil {
		return nil, fmt.Errorf("decode calendar file %s: %w", p.path, err)
	}

	type keyed struct {
		ev    Event
		start time.Time
	}
	out := make([]keyed, 0, len(items))
	for _, it := range items {
		ev := Event{
			ID:      it.ID,
			Summary: it.Summary,
			Start:   it.Start.raw(),
			End:     it.End.raw(),
			AllDay:  IsDateOnly(it.Start.raw()),
		}
		start, okS := ParseInstant(ev.Start, p.loc)
		end, okE := ParseInstant(ev.End, p.loc)
		if !okS {
			// Unparsable values are passed through; the deriver applies its fallback.
			p.log.Debug("calendar event with unparsable start", logx.String("id", ev.ID), logx.String("start", ev.Start))
			start = from
		}
		if okS && !start.Before(to) {
			continue
		}
		if okE && !end.After(from) {
			continue
		}
		out = append(out, keyed{ev: ev, start: start})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].start.Before(out[j].start) })

	if p.maxResults > 0 && len(out) > p.maxResults {
		out = out[:p.maxResults]
	}
	events := make([]Event, len(out))
	for i := range out {
		events[i] = out[i].ev
	}
	return events, nil
}

func decodeEvents(b []byte) ([]fileEvent, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(b, &root); err != nil {
		return nil, err
	}
	if len(root.Content) == 0 {
		return nil, nil
	}
	doc := root.Content[0]
	if doc.Kind == yaml.SequenceNode {
		var items []fileEvent
		if err := doc.Decode(&items); err != nil {
			return nil, err
		}
		return items, nil
	}
	var d fileDoc
	if err := doc.Decode(&d); err != nil {
		return nil, err
	}
	return d.Items, nil
}
