package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/attaboy/matchsync/internal/domain"
	"github.com/attaboy/matchsync/internal/guard"
	"github.com/attaboy/matchsync/internal/infra"
	"github.com/attaboy/matchsync/internal/projection"
	"github.com/attaboy/matchsync/internal/provider"
	"github.com/attaboy/matchsync/internal/service"
	"github.com/attaboy/matchsync/internal/settlement"
)

// Options assembles an Engine.
type Options struct {
	Config  infra.Config
	Gateway provider.Gateway
	// Hub receives change-stream events; nil disables them.
	Hub *infra.WSHub
	// Broker receives settled-ticket events; nil disables them.
	Broker Publisher
	// LiveTicker and SettlementTicker override the pollers' clocks.
	LiveTicker       infra.TickerFunc
	SettlementTicker infra.TickerFunc
	Logger           *slog.Logger
}

// Engine is the entry point used by the presentation layer. It owns the
// store and every component that writes to it.
type Engine struct {
	store      *projection.Store
	gateway    provider.Gateway
	coord      *service.FixtureCoordinator
	live       *service.LiveTracker
	tickets    *service.TicketService
	settlement *settlement.Poller
	notifier   *Notifier
	cfg        infra.Config
	logger     *slog.Logger
}

// NewEngine wires the synchronization components around a fresh store.
func NewEngine(opts Options) *Engine {
	logger := opts.Logger
	cfg := opts.Config
	store := projection.NewStore()

	live := service.NewLiveTracker(store, opts.Gateway, service.LiveTrackerConfig{
		Interval: cfg.LiveInterval,
		Ticker:   opts.LiveTicker,
	}, logger.With("component", "live"))

	coord := service.NewFixtureCoordinator(store, opts.Gateway, live, service.FixtureCoordinatorConfig{
		MaxGroupFetches: cfg.MaxGroupFetches,
		RefreshLimiter:  guard.NewRateLimiter(cfg.RefreshLimit, cfg.RefreshWindow),
	}, logger.With("component", "fixtures"))

	settler := settlement.NewPoller(store, opts.Gateway, settlement.Config{
		Interval: cfg.SettlementInterval,
		Ticker:   opts.SettlementTicker,
	}, logger.With("component", "settlement"))

	tickets := service.NewTicketService(store, opts.Gateway, settler, logger.With("component", "tickets"))

	notifier := NewNotifier(opts.Hub, opts.Broker, cfg.KafkaTopic, logger.With("component", "notifier"))
	store.Subscribe(notifier.Observe)

	return &Engine{
		store:      store,
		gateway:    opts.Gateway,
		coord:      coord,
		live:       live,
		tickets:    tickets,
		settlement: settler,
		notifier:   notifier,
		cfg:        cfg,
		logger:     logger,
	}
}

// Snapshot returns the current state.
func (e *Engine) Snapshot() projection.State { return e.store.Snapshot() }

// Subscribe registers fn for every future commit.
func (e *Engine) Subscribe(fn projection.Subscriber) { e.store.Subscribe(fn) }

// SelectWindow tracks a new date window and loads its fixtures.
func (e *Engine) SelectWindow(ctx context.Context, days int) (projection.State, error) {
	return e.coord.SelectWindow(ctx, days)
}

// SelectGroups loads odds for the given groups and waits for the result.
func (e *Engine) SelectGroups(ctx context.Context, ids []string) error {
	return e.coord.SelectGroups(ctx, ids)
}

// SelectGroupsAsync starts odds loads and returns the groups issued.
func (e *Engine) SelectGroupsAsync(ctx context.Context, ids []string) ([]string, error) {
	return e.coord.SelectGroupsAsync(ctx, ids)
}

// RefreshFixture reloads one fixture's odds and match state.
func (e *Engine) RefreshFixture(ctx context.Context, id string) (domain.Fixture, error) {
	return e.coord.RefreshFixture(ctx, id)
}

// StartLive begins live status polling.
func (e *Engine) StartLive(ctx context.Context) (projection.State, error) {
	return e.live.Start(ctx)
}

// StopLive ends live status polling.
func (e *Engine) StopLive() projection.State {
	e.live.Stop()
	return e.store.Snapshot()
}

// CreateTicket submits a ticket draft.
func (e *Engine) CreateTicket(ctx context.Context, draft domain.TicketDraft) (domain.Ticket, error) {
	return e.tickets.Create(ctx, draft)
}

// DeleteTicket removes a ticket.
func (e *Engine) DeleteTicket(ctx context.Context, id string) error {
	return e.tickets.Delete(ctx, id)
}

// LoadTickets reloads the ticket collection from the server.
func (e *Engine) LoadTickets(ctx context.Context) (projection.State, error) {
	return e.tickets.Load(ctx)
}

// TicketStats summarizes the ticket collection.
func (e *Engine) TicketStats() domain.TicketStats { return e.tickets.Stats() }

// Analyze requests predictions for fixtures. An empty strategy means
// BALANCED.
func (e *Engine) Analyze(ctx context.Context, fixtureIDs []string, strategy domain.Strategy) ([]domain.Prediction, error) {
	ids := make([]string, 0, len(fixtureIDs))
	for _, id := range fixtureIDs {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, domain.ErrValidation("at least one match id is required")
	}
	if strategy == "" {
		strategy = domain.StrategyBalanced
	}
	if err := domain.ValidateStrategy(strategy); err != nil {
		return nil, err
	}

	predictions, err := e.gateway.Analyze(ctx, ids, strategy)
	if err != nil {
		return nil, fmt.Errorf("analyze %d matches: %w", len(ids), err)
	}
	e.logger.Info("analysis completed", "matches", len(ids), "strategy", strategy, "predictions", len(predictions))
	return predictions, nil
}

// AutoLoad selects the default window and loads the ticket collection, as
// a client does on first open. Both steps run even if one fails.
func (e *Engine) AutoLoad(ctx context.Context) error {
	var errs []error
	if _, err := e.SelectWindow(ctx, e.cfg.DefaultWindowDays); err != nil {
		errs = append(errs, fmt.Errorf("default window: %w", err))
	}
	if _, err := e.LoadTickets(ctx); err != nil {
		errs = append(errs, fmt.Errorf("tickets: %w", err))
	}
	return errors.Join(errs...)
}

// Close stops both pollers and waits for outstanding background work.
func (e *Engine) Close() {
	e.live.Stop()
	e.settlement.Stop()
	e.coord.Close()
	e.notifier.Wait()
	e.logger.Info("engine stopped")
}
