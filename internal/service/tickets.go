package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/attaboy/matchsync/internal/domain"
	"github.com/attaboy/matchsync/internal/guard"
	"github.com/attaboy/matchsync/internal/projection"
	"github.com/attaboy/matchsync/internal/provider"
)

// Settler schedules settlement polling. Start reports whether a new run
// began; it is safe to call while running.
type Settler interface {
	Start(ctx context.Context) bool
}

// TicketService creates, deletes and loads tickets.
type TicketService struct {
	store   *projection.Store
	backend provider.TicketBackend
	settler Settler
	idem    *guard.IdempotencyGuard
	now     func() time.Time
	logger  *slog.Logger
}

// NewTicketService creates a TicketService.
func NewTicketService(store *projection.Store, backend provider.TicketBackend, settler Settler, logger *slog.Logger) *TicketService {
	return &TicketService{
		store:   store,
		backend: backend,
		settler: settler,
		idem:    guard.NewIdempotencyGuard(),
		now:     time.Now,
		logger:  logger,
	}
}

// Create submits a draft and inserts the created ticket at the front of the
// collection. A second submission of the same draft while the first is in
// flight is rejected.
func (s *TicketService) Create(ctx context.Context, draft domain.TicketDraft) (domain.Ticket, error) {
	draft = draft.Normalize(s.now())
	if err := draft.Validate(); err != nil {
		return domain.Ticket{}, err
	}

	key := draft.Fingerprint()
	if res := s.idem.Check(ctx, key); !res.Allowed {
		return domain.Ticket{}, domain.ErrConflict(res.Reason)
	}
	defer s.idem.Release(key)

	t, err := s.backend.CreateTicket(ctx, draft)
	if err != nil {
		return domain.Ticket{}, fmt.Errorf("create ticket: %w", err)
	}
	if _, err := s.store.Apply(projection.TicketCreated(t)); err != nil {
		return t, err
	}

	s.logger.Info("ticket created",
		"ticket_id", t.ID,
		"selections", len(t.Selections),
		"stake", t.Stake.String(),
		"combined_odds", t.CombinedOdds.StringFixed(2),
	)
	if t.Pending() {
		s.settler.Start(ctx)
	}
	return t, nil
}

// Delete removes a ticket remotely, then locally. A ticket the server no
// longer knows is dropped locally as well.
func (s *TicketService) Delete(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.ErrValidation("ticket id is required")
	}

	err := s.backend.DeleteTicket(ctx, id)
	switch {
	case domain.HasCode(err, domain.CodeNotFound):
		s.logger.Info("ticket already gone remotely", "ticket_id", id)
	case err != nil:
		return fmt.Errorf("delete ticket %s: %w", id, err)
	}

	if _, err := s.store.Apply(projection.TicketDeleted(id)); err != nil {
		return err
	}
	s.logger.Info("ticket deleted", "ticket_id", id)
	return nil
}

// Load replaces the collection with the server's list and starts settlement
// polling when any ticket is pending. A list overtaken by a local create or
// delete is discarded; the next settlement pass reconciles it.
func (s *TicketService) Load(ctx context.Context) (projection.State, error) {
	rev := s.store.Snapshot().TicketRevision

	tickets, err := s.backend.ListTickets(ctx)
	if err != nil {
		return s.store.Snapshot(), fmt.Errorf("list tickets: %w", err)
	}

	st, err := s.store.Apply(projection.TicketsReplaced(rev, tickets))
	switch {
	case domain.IsStale(err):
		s.logger.Debug("ticket list discarded", "revision", rev, "error", err)
		st = s.store.Snapshot()
	case err != nil:
		return st, err
	}

	if pending := st.PendingTickets(); pending > 0 {
		s.logger.Debug("pending tickets loaded", "pending", pending)
		s.settler.Start(ctx)
	}
	return st, nil
}

// Stats summarizes the current ticket collection.
func (s *TicketService) Stats() domain.TicketStats {
	return domain.SummarizeTickets(s.store.Snapshot().Tickets)
}
