// Package providertest provides an in-memory remote service for tests.
package providertest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/attaboy/matchsync/internal/domain"
	"github.com/attaboy/matchsync/internal/provider"
)

// Operation names used for call counting, error injection and gates.
const (
	OpPreload           = "Preload"
	OpFetchFixtures     = "FetchFixtures"
	OpFetchOdds         = "FetchOddsForGroup"
	OpRefresh           = "RefreshFixtureOdds"
	OpLive              = "FetchLiveDeltas"
	OpLeagues           = "Leagues"
	OpBookmakers        = "Bookmakers"
	OpCreateTicket      = "CreateTicket"
	OpListTickets       = "ListTickets"
	OpDeleteTicket      = "DeleteTicket"
	OpTriggerSettlement = "TriggerSettlement"
	OpAnalyze           = "Analyze"
)

var _ provider.Gateway = (*Fake)(nil)

type gate struct {
	ch   chan struct{}
	once sync.Once
}

func (g *gate) open() { g.once.Do(func() { close(g.ch) }) }

// Fake is a programmable Gateway. Gates do not observe context
// cancellation: like a real transport whose response is merely ignored, a
// gated call returns only when released.
type Fake struct {
	mu sync.Mutex

	preload    domain.PreloadResult
	fixtures   []domain.Fixture
	groupOdds  map[string]map[string]domain.Odds
	refresh    map[string]domain.FixtureRefresh
	live       []domain.LiveDelta
	leagues    []domain.League
	bookmakers []domain.Bookmaker

	tickets []domain.Ticket
	settle  func(domain.Ticket) domain.Ticket
	nextID  int
	now     time.Time

	errs       map[string]error
	groupErrs  map[string]error
	gates      map[string]*gate
	calls      map[string]int
	groupCalls map[string]int
}

// NewFake creates an empty fake service.
func NewFake() *Fake {
	return &Fake{
		groupOdds:  map[string]map[string]domain.Odds{},
		refresh:    map[string]domain.FixtureRefresh{},
		errs:       map[string]error{},
		groupErrs:  map[string]error{},
		gates:      map[string]*gate{},
		calls:      map[string]int{},
		groupCalls: map[string]int{},
		now:        time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC),
	}
}

// ── Programming ──

// SetWindow sets the preload answer and the fixtures of the window.
func (f *Fake) SetWindow(preload domain.PreloadResult, fixtures []domain.Fixture) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.preload = preload
	f.fixtures = append([]domain.Fixture(nil), fixtures...)
}

// SetGroupOdds sets the odds returned for one group.
func (f *Fake) SetGroupOdds(groupID string, odds map[string]domain.Odds) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groupOdds[groupID] = odds
}

// SetRefresh sets the answer of a single-fixture refresh.
func (f *Fake) SetRefresh(r domain.FixtureRefresh) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh[r.FixtureID] = r
}

// SetLive sets the live deltas returned by every poll.
func (f *Fake) SetLive(deltas []domain.LiveDelta) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.live = append([]domain.LiveDelta(nil), deltas...)
}

// SetReference sets league and bookmaker lists.
func (f *Fake) SetReference(leagues []domain.League, bookmakers []domain.Bookmaker) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leagues = leagues
	f.bookmakers = bookmakers
}

// SetTickets replaces the server-side ticket collection.
func (f *Fake) SetTickets(tickets []domain.Ticket) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tickets = append([]domain.Ticket(nil), tickets...)
}

// SetSettlement installs the rule TriggerSettlement applies to each
// pending ticket.
func (f *Fake) SetSettlement(fn func(domain.Ticket) domain.Ticket) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settle = fn
}

// Fail makes every call of op return err until cleared with a nil err.
func (f *Fake) Fail(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errs, op)
		return
	}
	f.errs[op] = err
}

// FailGroup makes odds fetches of one group return err; nil clears it.
func (f *Fake) FailGroup(groupID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.groupErrs, groupID)
		return
	}
	f.groupErrs[groupID] = err
}

// Block holds every call of key until the returned func is called. Keys are
// operation names, or OpFetchOdds+":"+groupID for one group.
func (f *Fake) Block(key string) (release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g := &gate{ch: make(chan struct{})}
	f.gates[key] = g
	return func() {
		g.open()
		f.mu.Lock()
		if f.gates[key] == g {
			delete(f.gates, key)
		}
		f.mu.Unlock()
	}
}

// ReleaseAll opens every gate.
func (f *Fake) ReleaseAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, g := range f.gates {
		g.open()
		delete(f.gates, key)
	}
}

// GroupKey is the gate key for one group's odds fetch.
func GroupKey(groupID string) string { return OpFetchOdds + ":" + groupID }

// ── Inspection ──

// Calls returns how many times op was invoked.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// GroupCalls returns how many odds fetches were issued for groupID.
func (f *Fake) GroupCalls(groupID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.groupCalls[groupID]
}

// ServerTickets returns the server-side collection.
func (f *Fake) ServerTickets() []domain.Ticket {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Ticket(nil), f.tickets...)
}

// enter records a call and returns the injected error plus any gates to wait on.
func (f *Fake) enter(op string, keys ...string) ([]*gate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	var gates []*gate
	for _, k := range append([]string{op}, keys...) {
		if g, ok := f.gates[k]; ok {
			gates = append(gates, g)
		}
	}
	return gates, f.errs[op]
}

func wait(gates []*gate) {
	for _, g := range gates {
		<-g.ch
	}
}

func (f *Fake) call(op string, keys ...string) error {
	gates, err := f.enter(op, keys...)
	wait(gates)
	return err
}

// ── provider.Gateway ──

func (f *Fake) Preload(_ context.Context, days int) (domain.PreloadResult, error) {
	if err := f.call(OpPreload); err != nil {
		return domain.PreloadResult{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	res := f.preload
	res.Days = days
	return res, nil
}

func (f *Fake) FetchFixtures(_ context.Context, _ domain.Window) ([]domain.Fixture, error) {
	if err := f.call(OpFetchFixtures); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Fixture, len(f.fixtures))
	for i, fx := range f.fixtures {
		fx.Odds = fx.Odds.Clone()
		out[i] = fx
	}
	return out, nil
}

func (f *Fake) FetchOddsForGroup(_ context.Context, groupID string, _ []string) (map[string]domain.Odds, error) {
	f.mu.Lock()
	f.groupCalls[groupID]++
	groupErr := f.groupErrs[groupID]
	f.mu.Unlock()

	if err := f.call(OpFetchOdds, GroupKey(groupID)); err != nil {
		return nil, err
	}
	if groupErr != nil {
		return nil, groupErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]domain.Odds, len(f.groupOdds[groupID]))
	for id, o := range f.groupOdds[groupID] {
		out[id] = o.Clone()
	}
	return out, nil
}

func (f *Fake) RefreshFixtureOdds(_ context.Context, fixtureID string) (domain.FixtureRefresh, error) {
	if err := f.call(OpRefresh); err != nil {
		return domain.FixtureRefresh{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.refresh[fixtureID]
	if !ok {
		return domain.FixtureRefresh{}, domain.ErrNotFound("match", fixtureID)
	}
	r.Odds = r.Odds.Clone()
	return r, nil
}

func (f *Fake) FetchLiveDeltas(_ context.Context) ([]domain.LiveDelta, error) {
	if err := f.call(OpLive); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.LiveDelta(nil), f.live...), nil
}

func (f *Fake) Leagues(_ context.Context) ([]domain.League, error) {
	if err := f.call(OpLeagues); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.League{}, f.leagues...), nil
}

func (f *Fake) Bookmakers(_ context.Context) ([]domain.Bookmaker, error) {
	if err := f.call(OpBookmakers); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Bookmaker{}, f.bookmakers...), nil
}

func (f *Fake) CreateTicket(_ context.Context, draft domain.TicketDraft) (domain.Ticket, error) {
	if err := f.call(OpCreateTicket); err != nil {
		return domain.Ticket{}, err
	}
	if err := draft.Validate(); err != nil {
		return domain.Ticket{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	t := domain.Ticket{
		ID:              fmt.Sprintf("tk-%d", f.nextID),
		Name:            draft.Name,
		Stake:           draft.Stake,
		CombinedOdds:    draft.CombinedOdds(),
		PotentialReturn: draft.PotentialReturn(),
		BookmakerID:     draft.BookmakerID,
		Status:          domain.TicketPending,
		Selections:      append([]domain.Selection(nil), draft.Selections...),
		CreatedAt:       f.now.Add(time.Duration(f.nextID) * time.Minute),
	}
	f.tickets = append([]domain.Ticket{t}, f.tickets...)
	return t, nil
}

func (f *Fake) ListTickets(_ context.Context) ([]domain.Ticket, error) {
	if err := f.call(OpListTickets); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return cloneTickets(f.tickets), nil
}

func (f *Fake) DeleteTicket(_ context.Context, id string) error {
	if err := f.call(OpDeleteTicket); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, t := range f.tickets {
		if t.ID == id {
			f.tickets = append(f.tickets[:i:i], f.tickets[i+1:]...)
			return nil
		}
	}
	return domain.ErrNotFound("ticket", id)
}

func (f *Fake) TriggerSettlement(_ context.Context) (domain.SettlementStats, error) {
	if err := f.call(OpTriggerSettlement); err != nil {
		return domain.SettlementStats{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	var stats domain.SettlementStats
	for i, t := range f.tickets {
		if !t.Pending() {
			continue
		}
		stats.TotalPending++
		if f.settle == nil {
			continue
		}
		next := f.settle(t)
		if next.Status == t.Status {
			continue
		}
		next.Profit = domain.SettledProfit(next)
		f.tickets[i] = next
		stats.Updated++
		switch next.Status {
		case domain.TicketWon:
			stats.Won++
		case domain.TicketLost:
			stats.Lost++
		}
	}
	return stats, nil
}

func (f *Fake) Analyze(_ context.Context, fixtureIDs []string, strategy domain.Strategy) ([]domain.Prediction, error) {
	if err := f.call(OpAnalyze); err != nil {
		return nil, err
	}
	out := make([]domain.Prediction, 0, len(fixtureIDs))
	for _, id := range fixtureIDs {
		out = append(out, domain.Prediction{
			ID:           "pred-" + id,
			FixtureID:    id,
			StrategyUsed: string(strategy),
			Predictions: []domain.MarketPrediction{
				{Market: "MATCH_WINNER", PredictedOutcome: "HOME", Confidence: 0.6, Odds: 1.9},
			},
		})
	}
	return out, nil
}

func cloneTickets(in []domain.Ticket) []domain.Ticket {
	out := make([]domain.Ticket, len(in))
	for i, t := range in {
		t.Selections = append([]domain.Selection(nil), t.Selections...)
		out[i] = t
	}
	return out
}

// LoseSelection returns a settlement rule that marks the ticket lost when it
// holds a selection on fixtureID, and won otherwise.
func LoseSelection(fixtureID string) func(domain.Ticket) domain.Ticket {
	return func(t domain.Ticket) domain.Ticket {
		t.Status = domain.TicketWon
		t.Selections = append([]domain.Selection(nil), t.Selections...)
		for i, s := range t.Selections {
			result := "WON"
			if s.FixtureID == fixtureID {
				result = "LOST"
				t.Status = domain.TicketLost
			}
			t.Selections[i].Settlement = &domain.SelectionSettlement{Result: result, FinalScore: "1 x 0", StatusShort: "FT"}
		}
		return t
	}
}
