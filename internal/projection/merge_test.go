package projection

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attaboy/matchsync/internal/domain"
)

func intp(v int) *int { return &v }

func fixture(id, group string) domain.Fixture {
	return domain.Fixture{
		ID:       id,
		GroupID:  group,
		Kickoff:  time.Date(2026, 10, 14, 18, 0, 0, 0, time.UTC),
		Date:     "2026-10-14",
		HomeTeam: domain.Team{ID: id + "-h", Name: "Home " + id},
		AwayTeam: domain.Team{ID: id + "-a", Name: "Away " + id},
		Status:   domain.StatusNotStarted,
	}
}

func odds(provider string, home float64) domain.Odds {
	return domain.Odds{provider: {Home: home, Draw: 3.2, Away: 4.1}}
}

// loadedStore returns a store with window generation 1 ready and fixtures
// a1, a2 in group A, b1 in group B and c1 in group C.
func loadedStore(t *testing.T) (*Store, uint64) {
	t.Helper()
	s := NewStore()
	st, err := s.Apply(BeginWindow(3))
	require.NoError(t, err)
	gen := st.Window.Generation

	_, err = s.Apply(FixturesLoaded(gen, domain.PreloadResult{
		Days:  3,
		From:  "2026-10-14",
		To:    "2026-10-16",
		Dates: []string{"2026-10-14", "2026-10-15", "2026-10-16"},
	}, []domain.Fixture{fixture("a1", "A"), fixture("a2", "A"), fixture("b1", "B"), fixture("c1", "C")}))
	require.NoError(t, err)
	return s, gen
}

func beginLoads(t *testing.T, s *Store, gen uint64, ids ...string) []string {
	t.Helper()
	st, changed, err := s.Commit(BeginGroupLoad(gen, ids))
	require.NoError(t, err)
	if !changed {
		return nil
	}
	return StartedLoads(st, ids)
}

// --- Window ---

func TestFixturesLoaded_CreatesGroupRecords(t *testing.T) {
	s, gen := loadedStore(t)
	st := s.Snapshot()

	assert.Equal(t, domain.WindowFixturesReady, st.WindowStatus)
	assert.Equal(t, []string{"2026-10-14", "2026-10-15", "2026-10-16"}, st.Window.Dates)
	require.Len(t, st.Groups, 3)
	assert.Equal(t, domain.GroupLoad{GroupID: "A", State: domain.LoadNotRequested, Generation: gen, FixtureCount: 2}, st.Groups["A"])
	for _, f := range st.Fixtures {
		assert.NotNil(t, f.Odds)
		assert.False(t, f.HasOdds())
	}
}

func TestBeginWindow_DiscardsPreviousWindow(t *testing.T) {
	s, gen := loadedStore(t)
	_, err := s.Apply(SelectGroups(gen, []string{"A"}))
	require.NoError(t, err)
	_, err = s.Apply(LiveStarted())
	require.NoError(t, err)

	st, err := s.Apply(BeginWindow(7))
	require.NoError(t, err)

	assert.Equal(t, gen+1, st.Window.Generation)
	assert.Equal(t, 7, st.Window.Days)
	assert.Equal(t, domain.WindowFetchingFixtures, st.WindowStatus)
	assert.Empty(t, st.Fixtures)
	assert.Empty(t, st.Groups)
	assert.Empty(t, st.SelectedGroups)
	assert.False(t, st.LiveActive)
}

func TestFixturesLoaded_StaleGenerationDiscarded(t *testing.T) {
	s, gen := loadedStore(t)
	_, err := s.Apply(BeginWindow(1))
	require.NoError(t, err)
	before := s.Snapshot()

	_, err = s.Apply(FixturesLoaded(gen, domain.PreloadResult{}, []domain.Fixture{fixture("x", "X")}))
	assert.True(t, domain.IsStale(err))
	assert.Equal(t, before.Version, s.Snapshot().Version)
	assert.Empty(t, s.Snapshot().Fixtures)
}

func TestWindowFailed(t *testing.T) {
	s := NewStore()
	st, _ := s.Apply(BeginWindow(3))

	st, err := s.Apply(WindowFailed(st.Window.Generation, errors.New("TRANSPORT_ERROR: boom")))
	require.NoError(t, err)
	assert.Equal(t, domain.WindowFailed, st.WindowStatus)
	assert.Equal(t, "TRANSPORT_ERROR: boom", st.WindowError)
}

// --- Groups ---

func TestBeginGroupLoad_OnlyNotRequestedStart(t *testing.T) {
	s, gen := loadedStore(t)

	assert.Equal(t, []string{"A"}, beginLoads(t, s, gen, "A"))
	// In flight: no second fetch.
	assert.Empty(t, beginLoads(t, s, gen, "A"))
	assert.Equal(t, []string{"B"}, beginLoads(t, s, gen, "A", "B", "B"))

	_, err := s.Apply(GroupOddsLoaded(gen, "A", map[string]domain.Odds{"a1": odds("bet365", 1.8)}))
	require.NoError(t, err)
	// Complete: still no fetch.
	assert.Empty(t, beginLoads(t, s, gen, "A"))
	assert.Equal(t, domain.LoadComplete, s.Snapshot().Groups["A"].State)
}

func TestBeginGroupLoad_RequiresReadyWindow(t *testing.T) {
	s := NewStore()
	st, _ := s.Apply(BeginWindow(3))

	_, err := s.Apply(BeginGroupLoad(st.Window.Generation, []string{"A"}))
	assert.True(t, domain.HasCode(err, domain.CodeConflict))
}

func TestGroupOddsLoaded_OnlyTouchesOwnGroup(t *testing.T) {
	s, gen := loadedStore(t)
	beginLoads(t, s, gen, "A")

	_, err := s.Apply(GroupOddsLoaded(gen, "A", map[string]domain.Odds{
		"a1": odds("bet365", 1.8),
		"b1": odds("bet365", 2.5), // belongs to B
	}))
	require.NoError(t, err)

	st := s.Snapshot()
	assert.True(t, st.Fixtures["a1"].HasOdds())
	assert.False(t, st.Fixtures["a2"].HasOdds())
	assert.False(t, st.Fixtures["b1"].HasOdds())
}

func TestGroupOddsLoaded_CommutesAcrossGroups(t *testing.T) {
	payloadA := map[string]domain.Odds{"a1": odds("bet365", 1.8), "a2": odds("betano", 2.0)}
	payloadB := map[string]domain.Odds{"b1": odds("bet365", 2.5)}

	run := func(order ...string) State {
		s, gen := loadedStore(t)
		beginLoads(t, s, gen, "A", "B")
		for _, g := range order {
			payload := payloadA
			if g == "B" {
				payload = payloadB
			}
			_, err := s.Apply(GroupOddsLoaded(gen, g, payload))
			require.NoError(t, err)
		}
		return s.Snapshot()
	}

	ab, ba := run("A", "B"), run("B", "A")
	for _, id := range []string{"a1", "a2", "b1", "c1"} {
		assert.Equal(t, ab.Fixtures[id].Odds, ba.Fixtures[id].Odds, id)
	}
	assert.False(t, ab.Fixtures["c1"].HasOdds())
}

func TestGroupOddsLoaded_UpsertsPerProvider(t *testing.T) {
	s, gen := loadedStore(t)
	beginLoads(t, s, gen, "A")
	_, err := s.Apply(FixtureRefreshed(gen, domain.FixtureRefresh{FixtureID: "a1", Odds: odds("betano", 1.9)}))
	require.NoError(t, err)

	// a2 had no refresh; a1 was refreshed after issue and is skipped.
	_, err = s.Apply(GroupOddsLoaded(gen, "A", map[string]domain.Odds{
		"a1": odds("bet365", 1.8),
		"a2": odds("bet365", 2.2),
	}))
	require.NoError(t, err)

	st := s.Snapshot()
	assert.Equal(t, odds("betano", 1.9), st.Fixtures["a1"].Odds)
	assert.Equal(t, odds("bet365", 2.2), st.Fixtures["a2"].Odds)
}

func TestGroupOddsLoaded_RefreshBeforeIssueIsUpserted(t *testing.T) {
	s, gen := loadedStore(t)
	_, err := s.Apply(FixtureRefreshed(gen, domain.FixtureRefresh{FixtureID: "a1", Odds: odds("betano", 1.9)}))
	require.NoError(t, err)
	beginLoads(t, s, gen, "A")

	_, err = s.Apply(GroupOddsLoaded(gen, "A", map[string]domain.Odds{
		"a1": {"bet365": {Home: 1.8}},
		"a2": {},
	}))
	require.NoError(t, err)

	st := s.Snapshot()
	assert.Len(t, st.Fixtures["a1"].Odds, 2)
	assert.Contains(t, st.Fixtures["a1"].Odds, "betano")
	assert.Contains(t, st.Fixtures["a1"].Odds, "bet365")
	// An empty payload never clears odds.
	assert.NotNil(t, st.Fixtures["a2"].Odds)
}

func TestGroupOddsLoaded_StaleAfterWindowChange(t *testing.T) {
	s, gen := loadedStore(t)
	beginLoads(t, s, gen, "A")

	st, err := s.Apply(BeginWindow(7))
	require.NoError(t, err)
	next := st.Window.Generation
	_, err = s.Apply(FixturesLoaded(next, domain.PreloadResult{}, []domain.Fixture{fixture("a1", "A"), fixture("z1", "Z")}))
	require.NoError(t, err)
	before := s.Snapshot()

	_, err = s.Apply(GroupOddsLoaded(gen, "A", map[string]domain.Odds{"a1": odds("bet365", 1.8)}))
	assert.True(t, domain.IsStale(err))

	after := s.Snapshot()
	assert.Equal(t, before.Version, after.Version)
	assert.Equal(t, before.Fixtures, after.Fixtures)
	assert.Equal(t, domain.LoadNotRequested, after.Groups["A"].State)
}

func TestGroupLoadFailed_ResetsForRetry(t *testing.T) {
	s, gen := loadedStore(t)
	beginLoads(t, s, gen, "A")

	_, err := s.Apply(GroupLoadFailed(gen, "A", errors.New("TRANSPORT_ERROR: 503")))
	require.NoError(t, err)

	g := s.Snapshot().Groups["A"]
	assert.Equal(t, domain.LoadNotRequested, g.State)
	assert.Equal(t, "TRANSPORT_ERROR: 503", g.LastError)

	assert.Equal(t, []string{"A"}, beginLoads(t, s, gen, "A"))
	assert.Empty(t, s.Snapshot().Groups["A"].LastError)
}

func TestGroupLoadFailed_NotInFlightIsStale(t *testing.T) {
	s, gen := loadedStore(t)
	_, err := s.Apply(GroupLoadFailed(gen, "A", errors.New("x")))
	assert.True(t, domain.IsStale(err))
}

func TestSelectGroups(t *testing.T) {
	s, gen := loadedStore(t)

	st, changed, err := s.Commit(SelectGroups(gen, []string{"B", "A"}))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, []string{"A", "B"}, st.SelectedGroupIDs())

	_, changed, err = s.Commit(SelectGroups(gen, []string{"A"}))
	require.NoError(t, err)
	assert.False(t, changed)
}

// --- Refresh ---

func TestFixtureRefreshed_ReplacesOddsAndState(t *testing.T) {
	s, gen := loadedStore(t)
	beginLoads(t, s, gen, "A")
	_, err := s.Apply(GroupOddsLoaded(gen, "A", map[string]domain.Odds{
		"a1": {"bet365": {Home: 1.8}, "betano": {Home: 1.85}},
	}))
	require.NoError(t, err)

	_, err = s.Apply(FixtureRefreshed(gen, domain.FixtureRefresh{
		FixtureID:  "a1",
		Odds:       odds("pinnacle", 1.75),
		Status:     domain.StatusSecondHalf,
		StatusLong: "Second Half",
		Elapsed:    intp(63),
		Score:      &domain.Score{Home: intp(1), Away: intp(0)},
	}))
	require.NoError(t, err)

	st := s.Snapshot()
	f := st.Fixtures["a1"]
	assert.Equal(t, odds("pinnacle", 1.75), f.Odds)
	assert.Equal(t, domain.StatusSecondHalf, f.Status)
	assert.Equal(t, 63, *f.Elapsed)
	assert.Equal(t, 1, *f.Score.Home)
	assert.Equal(t, st.Version, f.RefreshSeq)
	assert.Equal(t, domain.LoadComplete, st.Groups["A"].State, "group record untouched")
}

func TestFixtureRefreshed_UnknownFixture(t *testing.T) {
	s, gen := loadedStore(t)
	_, err := s.Apply(FixtureRefreshed(gen, domain.FixtureRefresh{FixtureID: "nope"}))
	assert.True(t, domain.HasCode(err, domain.CodeNotFound))
}

// --- Live ---

func TestLiveDeltasApplied_NeverTouchesOdds(t *testing.T) {
	s, gen := loadedStore(t)
	beginLoads(t, s, gen, "A")
	_, err := s.Apply(GroupOddsLoaded(gen, "A", map[string]domain.Odds{"a1": odds("bet365", 1.8)}))
	require.NoError(t, err)
	st, err := s.Apply(LiveStarted())
	require.NoError(t, err)

	_, err = s.Apply(LiveDeltasApplied(gen, st.LiveSession, []domain.LiveDelta{
		{FixtureID: "a1", Status: domain.StatusFirstHalf, Elapsed: intp(12), Score: &domain.Score{Home: intp(0), Away: intp(1)}},
		{FixtureID: "unknown", Status: domain.StatusFirstHalf},
	}))
	require.NoError(t, err)

	after := s.Snapshot()
	a1 := after.Fixtures["a1"]
	assert.Equal(t, odds("bet365", 1.8), a1.Odds)
	assert.Equal(t, domain.StatusFirstHalf, a1.Status)
	assert.Equal(t, 12, *a1.Elapsed)
	assert.Equal(t, 1, *a1.Score.Away)
	assert.Equal(t, fixture("a2", "A").Status, after.Fixtures["a2"].Status, "absent fixture unchanged")
	assert.NotContains(t, after.Fixtures, "unknown")
}

func TestLiveDeltasApplied_FinishedClearsElapsed(t *testing.T) {
	s, gen := loadedStore(t)
	st, _ := s.Apply(LiveStarted())

	_, err := s.Apply(LiveDeltasApplied(gen, st.LiveSession, []domain.LiveDelta{{FixtureID: "a1", Status: domain.StatusSecondHalf, Elapsed: intp(88)}}))
	require.NoError(t, err)
	_, err = s.Apply(LiveDeltasApplied(gen, st.LiveSession, []domain.LiveDelta{{FixtureID: "a1", Status: domain.StatusFullTime, Elapsed: intp(90)}}))
	require.NoError(t, err)

	assert.Nil(t, s.Snapshot().Fixtures["a1"].Elapsed)
}

func TestLiveDeltasApplied_StaleSession(t *testing.T) {
	s, gen := loadedStore(t)
	st, _ := s.Apply(LiveStarted())
	session := st.LiveSession
	_, err := s.Apply(LiveStopped())
	require.NoError(t, err)

	_, err = s.Apply(LiveDeltasApplied(gen, session, []domain.LiveDelta{{FixtureID: "a1", Status: domain.StatusFirstHalf}}))
	assert.True(t, domain.IsStale(err))
	assert.Equal(t, domain.StatusNotStarted, s.Snapshot().Fixtures["a1"].Status)
}

func TestLiveStarted_NeedsFixtures(t *testing.T) {
	s := NewStore()
	_, err := s.Apply(LiveStarted())
	assert.True(t, domain.HasCode(err, domain.CodeConflict))

	s, _ = loadedStore(t)
	st, err := s.Apply(LiveStarted())
	require.NoError(t, err)
	assert.True(t, st.LiveActive)

	_, changed, err := s.Commit(LiveStarted())
	require.NoError(t, err)
	assert.False(t, changed)
}

// --- Tickets ---

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func pendingTicket(id string) domain.Ticket {
	sels := []domain.Selection{
		{FixtureID: "a1", Market: "MATCH_WINNER", PredictedOutcome: "HOME", Odds: dec("1.80")},
		{FixtureID: "b1", Market: "MATCH_WINNER", PredictedOutcome: "AWAY", Odds: dec("2.10")},
	}
	return domain.Ticket{
		ID:              id,
		Name:            "Ticket " + id,
		Stake:           dec("10"),
		CombinedOdds:    domain.CombinedOdds(sels),
		PotentialReturn: domain.PotentialReturn(dec("10"), sels),
		Status:          domain.TicketPending,
		Selections:      sels,
	}
}

func TestTicketCreatedAndDeleted(t *testing.T) {
	s := NewStore()
	_, err := s.Apply(TicketCreated(pendingTicket("t1")))
	require.NoError(t, err)
	st, err := s.Apply(TicketCreated(pendingTicket("t2")))
	require.NoError(t, err)

	require.Len(t, st.Tickets, 2)
	assert.Equal(t, "t2", st.Tickets[0].ID, "newest first")
	assert.Equal(t, uint64(2), st.TicketRevision)
	assert.Equal(t, 2, st.PendingTickets())

	st, err = s.Apply(TicketDeleted("t1"))
	require.NoError(t, err)
	require.Len(t, st.Tickets, 1)
	assert.Equal(t, uint64(3), st.TicketRevision)

	_, changed, err := s.Commit(TicketDeleted("t1"))
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestTicketsReplaced_KeepsImmutableFields(t *testing.T) {
	s := NewStore()
	st, _ := s.Apply(TicketCreated(pendingTicket("t1")))

	remote := pendingTicket("t1")
	remote.Status = domain.TicketLost
	remote.Stake = dec("999")
	remote.CombinedOdds = dec("1.01")
	remote.Selections[0].Odds = dec("9.99")
	remote.Selections[0].Settlement = &domain.SelectionSettlement{Result: "WON", FinalScore: "2-1", StatusShort: "FT"}
	remote.Selections[1].Settlement = &domain.SelectionSettlement{Result: "LOST", FinalScore: "1-1", StatusShort: "FT"}

	other := pendingTicket("t9")

	st, err := s.Apply(TicketsReplaced(st.TicketRevision, []domain.Ticket{remote, other}))
	require.NoError(t, err)

	require.Len(t, st.Tickets, 2)
	got, ok := st.Ticket("t1")
	require.True(t, ok)
	assert.Equal(t, domain.TicketLost, got.Status)
	assert.Equal(t, "3.78", got.CombinedOdds.StringFixed(2))
	assert.Equal(t, "37.80", got.PotentialReturn.StringFixed(2))
	assert.True(t, got.Stake.Equal(dec("10")))
	assert.True(t, got.Selections[0].Odds.Equal(dec("1.80")))
	assert.Equal(t, "LOST", got.Selections[1].Settlement.Result)
	require.NotNil(t, got.Profit)
	assert.True(t, got.Profit.Equal(dec("-10")))

	_, ok = st.Ticket("t9")
	assert.True(t, ok, "server membership is authoritative")
}

func TestTicketsReplaced_ProfitDerivedFromStatus(t *testing.T) {
	s := NewStore()
	st, _ := s.Apply(TicketCreated(pendingTicket("t1")))

	reported := dec("27.80")
	lost := pendingTicket("t1")
	lost.Status = domain.TicketLost
	lost.Profit = &reported
	open := pendingTicket("t2")
	open.Profit = &reported
	won := pendingTicket("t3")
	won.Status = domain.TicketWon
	won.Profit = &reported

	st, err := s.Apply(TicketsReplaced(st.TicketRevision, []domain.Ticket{lost, open, won}))
	require.NoError(t, err)

	got, _ := st.Ticket("t1")
	require.NotNil(t, got.Profit)
	assert.Equal(t, "-10", got.Profit.String())

	got, _ = st.Ticket("t2")
	assert.Nil(t, got.Profit, "pending tickets have no realized profit")

	got, _ = st.Ticket("t3")
	require.NotNil(t, got.Profit)
	assert.Equal(t, "27.80", got.Profit.StringFixed(2))
}

func TestTicketsReplaced_DropsUnknownLocally(t *testing.T) {
	s := NewStore()
	st, _ := s.Apply(TicketCreated(pendingTicket("t1")))

	st, err := s.Apply(TicketsReplaced(st.TicketRevision, nil))
	require.NoError(t, err)
	assert.Empty(t, st.Tickets)
}

func TestTicketsReplaced_StaleAfterLocalMutation(t *testing.T) {
	s := NewStore()
	st, _ := s.Apply(TicketCreated(pendingTicket("t1")))
	rev := st.TicketRevision

	_, err := s.Apply(TicketCreated(pendingTicket("t2")))
	require.NoError(t, err)

	_, err = s.Apply(TicketsReplaced(rev, []domain.Ticket{pendingTicket("t1")}))
	assert.True(t, domain.IsStale(err))
	assert.Len(t, s.Snapshot().Tickets, 2)
}

func TestSettlementScheduledAndStopped(t *testing.T) {
	s := NewStore()
	next := time.Date(2026, 10, 14, 18, 0, 5, 0, time.UTC)

	st, err := s.Apply(SettlementScheduled(next))
	require.NoError(t, err)
	assert.True(t, st.SettlementActive)
	assert.Equal(t, next, st.SettlementNextTick)

	st, err = s.Apply(SettlementStopped())
	require.NoError(t, err)
	assert.False(t, st.SettlementActive)
	assert.True(t, st.SettlementNextTick.IsZero())
}

func TestReferenceLoaded(t *testing.T) {
	s := NewStore()
	st, err := s.Apply(ReferenceLoaded([]domain.League{{ID: "39", Name: "Premier League"}}, nil))
	require.NoError(t, err)
	assert.Len(t, st.Leagues, 1)

	st, err = s.Apply(ReferenceLoaded(nil, []domain.Bookmaker{{ID: "bet365", Name: "Bet365"}}))
	require.NoError(t, err)
	assert.Len(t, st.Leagues, 1)
	assert.Len(t, st.Bookmakers, 1)
}
