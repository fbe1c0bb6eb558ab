// Package notify pushes the scheduled agenda to a Telegram chat.
package notify

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"taskplanner/internal/agenda"
	"taskplanner/internal/eventbus"
	logx "taskplanner/pkg/logx"
)

var ErrNoSender = errors.New("notify: no sender configured")

// Sender delivers one message chunk.
type Sender interface {
	Send(ctx context.Context, text string) error
}

// Config controls delivery. Zero RatePerSec means 1 message per second.
type Config struct {
	RatePerSec float64
	Location   *time.Location
}

// Notifier formats agendas published on the bus and sends them when their
// content changed since the last delivery.
type Notifier struct {
	bus eventbus.Bus
	log logx.Logger

	mu       sync.Mutex
	sender   Sender
	limiter  *rate.Limiter
	loc      *time.Location
	lastHash uint64
}

func New(cfg Config, sender Sender, bus eventbus.Bus, log logx.Logger) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	n := &Notifier{bus: bus, log: log, sender: sender}
	n.Apply(cfg)
	return n
}

// Apply updates the rate and the display zone.
func (n *Notifier) Apply(cfg Config) {
	perSec := cfg.RatePerSec
	if perSec <= 0 {
		perSec = 1
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.loc = cfg.Location
	if n.limiter == nil {
		n.limiter = rate.NewLimiter(rate.Limit(perSec), 1)
		return
	}
	n.limiter.SetLimit(rate.Limit(perSec))
}

// SetSender swaps the delivery channel; nil disables sending.
func (n *Notifier) SetSender(s Sender) {
	n.mu.Lock()
	n.sender = s
	n.lastHash = 0
	n.mu.Unlock()
}

// Run consumes agenda events until ctx is done.
func (n *Notifier) Run(ctx context.Context) error {
	ch, unsub := n.bus.Subscribe(4, eventbus.TopicAgendaBuilt)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			a, _ := e.Data.(*agenda.Agenda)
			if a == nil {
				continue
			}
			_, err := n.Deliver(ctx, a)
			switch {
			case err == nil, errors.Is(err, context.Canceled):
			case errors.Is(err, ErrNoSender):
				n.log.Debug("agenda push skipped; telegram disabled")
			default:
				n.log.Warn("agenda push failed", logx.Err(err))
			}
		}
	}
}

// Deliver sends a unless its content matches the last delivered agenda.
// It reports whether anything was sent.
func (n *Notifier) Deliver(ctx context.Context, a *agenda.Agenda) (bool, error) {
	n.mu.Lock()
	sender, limiter, loc, last := n.sender, n.limiter, n.loc, n.lastHash
	n.mu.Unlock()
	if sender == nil {
		return false, ErrNoSender
	}

	msg := Render(a, loc)
	h := hashString(msg.Body)
	if h == last {
		n.log.Debug("agenda unchanged; push skipped")
		return false, nil
	}

	for _, chunk := range SplitText(msg.Text(), TextLimit) {
		if err := limiter.Wait(ctx); err != nil {
			return false, err
		}
		if err := sender.Send(ctx, chunk); err != nil {
			return false, err
		}
	}

	n.mu.Lock()
	n.lastHash = h
	n.mu.Unlock()
	n.log.Info("agenda pushed",
		logx.Int("assigned", len(a.Result.Assignments)),
		logx.Int("unscheduled", len(a.Result.Unscheduled)))
	return true, nil
}

func hashString(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}
