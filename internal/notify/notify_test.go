package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"taskplanner/internal/agenda"
	"taskplanner/internal/eventbus"
	"taskplanner/internal/planner"
	logx "taskplanner/pkg/logx"
)

type recordSender struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (r *recordSender) Send(ctx context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, text)
	return nil
}

func (r *recordSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func intPtr(v int) *int { return &v }

func sampleAgenda(from time.Time) *agenda.Agenda {
	day := func(d, h, m int) time.Time { return time.Date(2024, 5, d, h, m, 0, 0, time.UTC) }
	return &agenda.Agenda{
		GeneratedAt: from,
		From:        from,
		To:          from.AddDate(0, 0, 2),
		Result: planner.Result{
			Assignments: []planner.Assignment{
				{Task: planner.Task{ID: "b", Title: "review <draft>"}, Start: day(2, 9, 0), End: day(2, 9, 30)},
				{Task: planner.Task{ID: "a", Title: "report"}, Start: day(1, 10, 0), End: day(1, 11, 0)},
			},
			Unscheduled: []planner.Task{{ID: "c", Title: "move house", DurationMinutes: intPtr(600)}},
		},
	}
}

func TestRenderGroupsByDayAndEscapes(t *testing.T) {
	t.Parallel()
	msg := Render(sampleAgenda(time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)), time.UTC)
	if !strings.HasPrefix(msg.Header, "<b>Agenda</b> Wed 01 May 08:00") {
		t.Fatalf("header = %q", msg.Header)
	}
	want := strings.Join([]string{
		"<b>Wed 01 May</b>",
		"• 10:00–11:00 report",
		"",
		"<b>Thu 02 May</b>",
		"• 09:00–09:30 review &lt;draft&gt;",
		"",
		"<b>Unscheduled (1)</b>",
		"• move house (10h0m0s)",
	}, "\n")
	if msg.Body != want {
		t.Fatalf("body =\n%s\nwant\n%s", msg.Body, want)
	}
}

func TestRenderEmpty(t *testing.T) {
	t.Parallel()
	from := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	msg := Render(&agenda.Agenda{From: from, To: from.Add(time.Hour)}, nil)
	if msg.Body != "No tasks scheduled." {
		t.Fatalf("body = %q", msg.Body)
	}
}

func TestSplitText(t *testing.T) {
	t.Parallel()
	if got := SplitText("short", 10); len(got) != 1 || got[0] != "short" {
		t.Fatalf("short = %q", got)
	}

	lines := strings.Repeat("0123456789\n", 10)
	chunks := SplitText(lines, 25)
	if strings.Join(chunks, "\n") != strings.TrimRight(lines, "\n") {
		t.Fatalf("chunks lost content: %q", chunks)
	}
	for _, c := range chunks {
		if len([]rune(c)) > 25 {
			t.Fatalf("chunk too long: %q", c)
		}
	}

	tagged := strings.Repeat("x", 18) + "<b>bold</b>"
	chunks = SplitText(tagged, 20)
	if chunks[0] != strings.Repeat("x", 18) {
		t.Fatalf("split inside tag: %q", chunks)
	}
}

func TestDeliverSkipsUnchanged(t *testing.T) {
	t.Parallel()
	rec := &recordSender{}
	n := New(Config{RatePerSec: 1000}, rec, eventbus.New(), logx.Nop())
	ctx := context.Background()

	a := sampleAgenda(time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC))
	if sent, err := n.Deliver(ctx, a); err != nil || !sent {
		t.Fatalf("first Deliver = %v, %v", sent, err)
	}
	// Same plan, later horizon start: only the header differs.
	b := sampleAgenda(time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC))
	if sent, err := n.Deliver(ctx, b); err != nil || sent {
		t.Fatalf("unchanged Deliver = %v, %v", sent, err)
	}
	b.Result.Unscheduled = nil
	if sent, err := n.Deliver(ctx, b); err != nil || !sent {
		t.Fatalf("changed Deliver = %v, %v", sent, err)
	}
	if rec.count() != 2 {
		t.Fatalf("sent %d messages, want 2", rec.count())
	}
}

func TestDeliverErrors(t *testing.T) {
	t.Parallel()
	a := sampleAgenda(time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC))
	n := New(Config{}, nil, eventbus.New(), logx.Nop())
	if _, err := n.Deliver(context.Background(), a); !errors.Is(err, ErrNoSender) {
		t.Fatalf("err = %v", err)
	}

	boom := errors.New("boom")
	n.SetSender(&recordSender{err: boom})
	if _, err := n.Deliver(context.Background(), a); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	// A failed send must not mark the agenda as delivered.
	rec := &recordSender{}
	n.SetSender(rec)
	if sent, _ := n.Deliver(context.Background(), a); !sent {
		t.Fatal("agenda should be sent after a failed attempt")
	}
}

func TestRunConsumesAgendaEvents(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	rec := &recordSender{}
	n := New(Config{RatePerSec: 1000}, rec, bus, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()

	a := sampleAgenda(time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC))
	deadline := time.Now().Add(3 * time.Second)
	for rec.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("agenda was not pushed")
		}
		bus.Publish(eventbus.Event{Type: eventbus.TopicAgendaBuilt, Data: a})
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestTelegramSenderPostsHTML(t *testing.T) {
	t.Parallel()
	type call struct {
		path string
		body map[string]any
	}
	calls := make(chan call, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(raw, &body)
		calls <- call{path: r.URL.Path, body: body}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"private"},"text":"hi"}}`)
	}))
	defer srv.Close()

	s, err := NewTelegramSender(TelegramConfig{Token: "123:abc", ChatID: 42, URL: srv.URL})
	if err != nil {
		t.Fatalf("NewTelegramSender: %v", err)
	}
	if err := s.Send(context.Background(), "<b>hi</b>"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	got := <-calls
	if got.path != "/bot123:abc/sendMessage" {
		t.Fatalf("path = %s", got.path)
	}
	if got.body["text"] != "<b>hi</b>" || got.body["parse_mode"] != "HTML" {
		t.Fatalf("body = %+v", got.body)
	}
}

func TestNewTelegramSenderValidates(t *testing.T) {
	t.Parallel()
	if _, err := NewTelegramSender(TelegramConfig{ChatID: 1}); err == nil {
		t.Fatal("expected error without token")
	}
	if _, err := NewTelegramSender(TelegramConfig{Token: "x"}); err == nil {
		t.Fatal("expected error without chat id")
	}
}
