// Package settlement keeps pending tickets in step with the server's
// settlement results.
package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/attaboy/matchsync/internal/domain"
	"github.com/attaboy/matchsync/internal/infra"
	"github.com/attaboy/matchsync/internal/projection"
	"github.com/attaboy/matchsync/internal/provider"
)

// Config tunes the settlement poller.
type Config struct {
	Interval time.Duration
	Ticker   infra.TickerFunc
}

// Poller asks the server to evaluate pending tickets and folds the result
// into the store. It stops itself once no ticket is pending.
type Poller struct {
	store    *projection.Store
	backend  provider.TicketBackend
	poller   *infra.Poller
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger

	// mu orders the stop decision of a tick with Start.
	mu sync.Mutex
}

// NewPoller creates a stopped settlement Poller.
func NewPoller(store *projection.Store, backend provider.TicketBackend, cfg Config, logger *slog.Logger) *Poller {
	p := &Poller{
		store:    store,
		backend:  backend,
		interval: cfg.Interval,
		now:      time.Now,
		logger:   logger,
	}
	p.poller = infra.NewPoller(infra.PollerConfig{
		Name:     "settlement",
		Interval: cfg.Interval,
		Ticker:   cfg.Ticker,
	}, p.tick, logger)
	return p
}

// Start schedules settlement passes. It keeps a running poller alive past a
// pass that was about to stop it.
func (p *Poller) Start(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	started := p.poller.Start(context.WithoutCancel(ctx))
	next := p.poller.NextTick()
	if next.IsZero() {
		next = p.now().Add(p.interval)
	}
	if _, err := p.store.Apply(projection.SettlementScheduled(next)); err != nil {
		p.logger.Warn("settlement schedule not recorded", "error", err)
	}
	return started
}

// Stop ends polling and waits for an in-flight pass.
func (p *Poller) Stop() {
	p.poller.Stop()

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.store.Apply(projection.SettlementStopped()); err != nil {
		p.logger.Warn("settlement stop not recorded", "error", err)
	}
}

// Running reports whether passes are scheduled.
func (p *Poller) Running() bool { return p.poller.Running() }

// Skipped counts passes dropped because the previous one was outstanding.
func (p *Poller) Skipped() int64 { return p.poller.Skipped() }

// Runs counts executed passes.
func (p *Poller) Runs() int64 { return p.poller.Runs() }

func (p *Poller) tick(ctx context.Context) error {
	rev := p.store.Snapshot().TicketRevision

	stats, err := p.backend.TriggerSettlement(ctx)
	if err != nil {
		return fmt.Errorf("trigger settlement: %w", err)
	}
	if stats.Updated > 0 {
		p.logger.Info("settlement pass",
			"pending", stats.TotalPending,
			"updated", stats.Updated,
			"won", stats.Won,
			"lost", stats.Lost,
		)
	}

	tickets, err := p.backend.ListTickets(ctx)
	if err != nil {
		return fmt.Errorf("list tickets: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	_, err = p.store.Apply(projection.TicketsReplaced(rev, tickets))
	switch {
	case domain.IsStale(err):
		p.logger.Debug("settlement list discarded", "revision", rev, "error", err)
	case err != nil:
		return err
	}

	if p.store.Snapshot().PendingTickets() == 0 {
		if _, err := p.store.Apply(projection.SettlementStopped()); err != nil {
			p.logger.Warn("settlement stop not recorded", "error", err)
		}
		return infra.ErrStop
	}
	if _, err := p.store.Apply(projection.SettlementScheduled(p.poller.NextTick())); err != nil {
		p.logger.Warn("settlement schedule not recorded", "error", err)
	}
	return nil
}
