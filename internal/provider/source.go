package provider

import (
	"context"

	"github.com/attaboy/matchsync/internal/domain"
)

// FixtureSource is what the fetch coordinator needs from the remote service.
type FixtureSource interface {
	Preload(ctx context.Context, days int) (domain.PreloadResult, error)
	FetchFixtures(ctx context.Context, window domain.Window) ([]domain.Fixture, error)
	FetchOddsForGroup(ctx context.Context, groupID string, dates []string) (map[string]domain.Odds, error)
	RefreshFixtureOdds(ctx context.Context, fixtureID string) (domain.FixtureRefresh, error)
	Leagues(ctx context.Context) ([]domain.League, error)
	Bookmakers(ctx context.Context) ([]domain.Bookmaker, error)
}

// LiveSource yields live status deltas.
type LiveSource interface {
	FetchLiveDeltas(ctx context.Context) ([]domain.LiveDelta, error)
}

// TicketBackend owns ticket persistence and settlement.
type TicketBackend interface {
	CreateTicket(ctx context.Context, draft domain.TicketDraft) (domain.Ticket, error)
	ListTickets(ctx context.Context) ([]domain.Ticket, error)
	DeleteTicket(ctx context.Context, id string) error
	TriggerSettlement(ctx context.Context) (domain.SettlementStats, error)
}

// Analyzer runs the remote prediction analysis.
type Analyzer interface {
	Analyze(ctx context.Context, fixtureIDs []string, strategy domain.Strategy) ([]domain.Prediction, error)
}

// Gateway is the full remote surface.
type Gateway interface {
	FixtureSource
	LiveSource
	TicketBackend
	Analyzer
}

var _ Gateway = (*Client)(nil)
