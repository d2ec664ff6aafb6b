package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/attaboy/matchsync/internal/domain"
	"github.com/attaboy/matchsync/internal/infra"
	"github.com/attaboy/matchsync/internal/projection"
)

// Event names pushed to change-stream clients.
const (
	EventStateChanged  = "state.changed"
	EventTicketSettled = "ticket.settled"
)

const publishTimeout = 5 * time.Second

// StateChange tells clients which parts of the state moved in a commit.
type StateChange struct {
	Version uint64   `json:"version"`
	Domains []string `json:"domains"`
}

// TicketSettled is emitted once per ticket leaving the pending status.
type TicketSettled struct {
	TicketID     string              `json:"ticket_id"`
	Name         string              `json:"name"`
	Status       domain.TicketStatus `json:"status"`
	Stake        decimal.Decimal     `json:"stake"`
	CombinedOdds decimal.Decimal     `json:"combined_odds"`
	Profit       *decimal.Decimal    `json:"profit,omitempty"`
	SettledAt    time.Time           `json:"settled_at"`
}

// Publisher is the event sink for settled tickets.
type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// Notifier turns store commits into change-stream and broker events.
type Notifier struct {
	hub    *infra.WSHub
	broker Publisher
	topic  string
	logger *slog.Logger

	inflight sync.WaitGroup
}

// NewNotifier creates a Notifier. hub and broker may be nil.
func NewNotifier(hub *infra.WSHub, broker Publisher, topic string, logger *slog.Logger) *Notifier {
	return &Notifier{hub: hub, broker: broker, topic: topic, logger: logger}
}

// Observe is a projection.Subscriber.
func (n *Notifier) Observe(prev, next projection.State) {
	domains := changedDomains(prev, next)
	if n.hub != nil && len(domains) > 0 {
		n.hub.Publish(infra.RoomState, EventStateChanged, StateChange{Version: next.Version, Domains: domains})
	}

	for _, t := range settledTickets(prev, next) {
		ev := TicketSettled{
			TicketID:     t.ID,
			Name:         t.Name,
			Status:       t.Status,
			Stake:        t.Stake,
			CombinedOdds: t.CombinedOdds,
			Profit:       t.Profit,
			SettledAt:    next.UpdatedAt,
		}
		n.logger.Info("ticket settled", "ticket_id", t.ID, "status", t.Status)
		if n.hub != nil {
			n.hub.Publish(infra.RoomTickets, EventTicketSettled, ev)
		}
		n.publish(ev)
	}
}

// publish hands the event to the broker without holding up the committer.
func (n *Notifier) publish(ev TicketSettled) {
	if n.broker == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		n.logger.Error("marshal settled event", "ticket_id", ev.TicketID, "error", err)
		return
	}

	n.inflight.Add(1)
	go func() {
		defer n.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := n.broker.Publish(ctx, n.topic, []byte(ev.TicketID), payload); err != nil {
			n.logger.Warn("settled event not published", "ticket_id", ev.TicketID, "topic", n.topic, "error", err)
		}
	}()
}

// Wait blocks until pending broker publishes finish.
func (n *Notifier) Wait() { n.inflight.Wait() }

func sameMap(a, b interface{}) bool {
	return reflect.ValueOf(a).UnsafePointer() == reflect.ValueOf(b).UnsafePointer()
}

func sameSlice[T any](a, b []T) bool {
	if len(a) != len(b) {
		return false
	}
	return len(a) == 0 || &a[0] == &b[0]
}

// changedDomains lists the state areas a commit touched. Merges replace
// maps and slices instead of editing them, so identity tells them apart.
func changedDomains(prev, next projection.State) []string {
	var out []string
	if prev.Window.Generation != next.Window.Generation || prev.WindowStatus != next.WindowStatus ||
		prev.WindowError != next.WindowError || !sameSlice(prev.Window.Dates, next.Window.Dates) {
		out = append(out, "window")
	}
	if !sameMap(prev.Fixtures, next.Fixtures) {
		out = append(out, "fixtures")
	}
	if !sameMap(prev.Groups, next.Groups) || !sameMap(prev.SelectedGroups, next.SelectedGroups) {
		out = append(out, "groups")
	}
	if prev.LiveActive != next.LiveActive || prev.LiveSession != next.LiveSession {
		out = append(out, "live")
	}
	if !sameSlice(prev.Tickets, next.Tickets) {
		out = append(out, "tickets")
	}
	if prev.SettlementActive != next.SettlementActive || !prev.SettlementNextTick.Equal(next.SettlementNextTick) {
		out = append(out, "settlement")
	}
	if !sameSlice(prev.Leagues, next.Leagues) || !sameSlice(prev.Bookmakers, next.Bookmakers) {
		out = append(out, "reference")
	}
	return out
}

// settledTickets returns tickets that were pending in prev and are terminal
// in next.
func settledTickets(prev, next projection.State) []domain.Ticket {
	if sameSlice(prev.Tickets, next.Tickets) {
		return nil
	}
	pending := make(map[string]bool, len(prev.Tickets))
	for _, t := range prev.Tickets {
		if t.Pending() {
			pending[t.ID] = true
		}
	}
	var out []domain.Ticket
	for _, t := range next.Tickets {
		if pending[t.ID] && t.Status.Terminal() {
			out = append(out, t)
		}
	}
	return out
}
