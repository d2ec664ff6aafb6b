package projection

import (
	"fmt"
	"time"

	"github.com/attaboy/matchsync/internal/domain"
)

func stale(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", domain.ErrStaleResponse, fmt.Sprintf(format, args...))
}

func checkWindow(st State, gen uint64) error {
	if gen != st.Window.Generation {
		return stale("window generation %d, current %d", gen, st.Window.Generation)
	}
	return nil
}

func cloneFixtures(in map[string]domain.Fixture) map[string]domain.Fixture {
	out := make(map[string]domain.Fixture, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneGroups(in map[string]domain.GroupLoad) map[string]domain.GroupLoad {
	out := make(map[string]domain.GroupLoad, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// --- Window ---

// BeginWindow starts a new window generation. Fixtures, group records and
// the group selection of the previous window are discarded and live
// tracking ends.
func BeginWindow(days int) Merge {
	return func(st State) (State, error) {
		st.Window = domain.Window{Days: days, Generation: st.Window.Generation + 1}
		st.WindowStatus = domain.WindowFetchingFixtures
		st.WindowError = ""
		st.Fixtures = map[string]domain.Fixture{}
		st.Groups = map[string]domain.GroupLoad{}
		st.SelectedGroups = map[string]bool{}
		if st.LiveActive {
			st.LiveActive = false
			st.LiveSession++
		}
		return st, nil
	}
}

// FixturesLoaded completes phase 1 of window gen. Every group seen in the
// fixture list gets a NotRequested record.
func FixturesLoaded(gen uint64, preload domain.PreloadResult, fixtures []domain.Fixture) Merge {
	return func(st State) (State, error) {
		if err := checkWindow(st, gen); err != nil {
			return st, err
		}

		st.Window.From = preload.From
		st.Window.To = preload.To
		st.Window.Dates = append([]string(nil), preload.Dates...)
		if len(preload.Leagues) > 0 {
			st.Leagues = append([]domain.League(nil), preload.Leagues...)
		}

		st.Fixtures = make(map[string]domain.Fixture, len(fixtures))
		st.Groups = map[string]domain.GroupLoad{}
		for _, f := range fixtures {
			if f.Odds == nil {
				f.Odds = domain.Odds{}
			}
			st.Fixtures[f.ID] = f

			g := st.Groups[f.GroupID]
			if g.GroupID == "" {
				g = domain.GroupLoad{GroupID: f.GroupID, State: domain.LoadNotRequested, Generation: gen}
			}
			g.FixtureCount++
			st.Groups[f.GroupID] = g
		}

		st.WindowStatus = domain.WindowFixturesReady
		return st, nil
	}
}

// WindowFailed records a phase-1 failure for window gen.
func WindowFailed(gen uint64, cause error) Merge {
	return func(st State) (State, error) {
		if err := checkWindow(st, gen); err != nil {
			return st, err
		}
		st.WindowStatus = domain.WindowFailed
		st.WindowError = cause.Error()
		return st, nil
	}
}

// --- Groups ---

// SelectGroups adds ids to the opted-in set of window gen.
func SelectGroups(gen uint64, ids []string) Merge {
	return func(st State) (State, error) {
		if err := checkWindow(st, gen); err != nil {
			return st, err
		}
		selected := make(map[string]bool, len(st.SelectedGroups)+len(ids))
		for id := range st.SelectedGroups {
			selected[id] = true
		}
		added := false
		for _, id := range ids {
			if !selected[id] {
				selected[id] = true
				added = true
			}
		}
		if !added {
			return st, ErrNoChange
		}
		st.SelectedGroups = selected
		return st, nil
	}
}

// BeginGroupLoad moves every listed group that is NotRequested to InFlight,
// stamped with the version of this commit. Groups already InFlight or
// Complete are left alone; use StartedLoads on the result to see which
// fetches to issue.
func BeginGroupLoad(gen uint64, ids []string) Merge {
	return func(st State) (State, error) {
		if err := checkWindow(st, gen); err != nil {
			return st, err
		}
		if st.WindowStatus != domain.WindowFixturesReady {
			return st, domain.ErrConflict("fixtures for the window are not loaded yet")
		}

		issued := st.Version + 1
		groups := cloneGroups(st.Groups)
		started := 0
		for _, id := range ids {
			g, ok := groups[id]
			if !ok {
				g = domain.GroupLoad{GroupID: id, State: domain.LoadNotRequested, Generation: gen}
			}
			if g.State != domain.LoadNotRequested {
				continue
			}
			g.State = domain.LoadInFlight
			g.IssuedAt = issued
			g.LastError = ""
			groups[id] = g
			started++
		}
		if started == 0 {
			return st, ErrNoChange
		}
		st.Groups = groups
		return st, nil
	}
}

// StartedLoads returns the ids among ids whose fetch was issued by the
// commit that produced st. Only meaningful when that commit happened.
func StartedLoads(st State, ids []string) []string {
	var out []string
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		g, ok := st.Groups[id]
		if ok && !seen[id] && g.State == domain.LoadInFlight && g.IssuedAt == st.Version {
			out = append(out, id)
		}
		seen[id] = true
	}
	return out
}

func checkGroupInFlight(st State, gen uint64, groupID string) (domain.GroupLoad, error) {
	if err := checkWindow(st, gen); err != nil {
		return domain.GroupLoad{}, err
	}
	g, ok := st.Groups[groupID]
	if !ok || g.Generation != gen || g.State != domain.LoadInFlight {
		return domain.GroupLoad{}, stale("group %s is not in flight", groupID)
	}
	return g, nil
}

// GroupOddsLoaded merges one group's odds fetch. Only fixtures of that group
// are touched and odds are upserted per provider, so groups commute. A
// fixture refreshed individually after the fetch was issued keeps its odds.
func GroupOddsLoaded(gen uint64, groupID string, odds map[string]domain.Odds) Merge {
	return func(st State) (State, error) {
		g, err := checkGroupInFlight(st, gen, groupID)
		if err != nil {
			return st, err
		}

		fixtures := cloneFixtures(st.Fixtures)
		for id, incoming := range odds {
			f, ok := fixtures[id]
			if !ok || f.GroupID != groupID || len(incoming) == 0 {
				continue
			}
			if f.RefreshSeq > g.IssuedAt {
				continue
			}
			merged := f.Odds.Clone()
			for provider, o := range incoming {
				merged[provider] = o
			}
			f.Odds = merged
			fixtures[id] = f
		}

		groups := cloneGroups(st.Groups)
		g.State = domain.LoadComplete
		g.LastError = ""
		groups[groupID] = g

		st.Fixtures = fixtures
		st.Groups = groups
		return st, nil
	}
}

// GroupLoadFailed resets an in-flight group so a later selection retries it.
func GroupLoadFailed(gen uint64, groupID string, cause error) Merge {
	return func(st State) (State, error) {
		g, err := checkGroupInFlight(st, gen, groupID)
		if err != nil {
			return st, err
		}
		groups := cloneGroups(st.Groups)
		g.State = domain.LoadNotRequested
		g.LastError = cause.Error()
		groups[groupID] = g
		st.Groups = groups
		return st, nil
	}
}

// --- Fixtures ---

// FixtureRefreshed overwrites one fixture's odds and match state with a
// single-fixture refresh. The odds map is replaced as a whole. Group
// records are not affected.
func FixtureRefreshed(gen uint64, r domain.FixtureRefresh) Merge {
	return func(st State) (State, error) {
		if err := checkWindow(st, gen); err != nil {
			return st, err
		}
		f, ok := st.Fixtures[r.FixtureID]
		if !ok {
			return st, domain.ErrNotFound("fixture", r.FixtureID)
		}

		f.Odds = r.Odds.Clone()
		if r.Status != "" {
			f.Status = r.Status
			f.StatusLong = r.StatusLong
		}
		applyClock(&f, r.Elapsed, r.Score)
		f.RefreshSeq = st.Version + 1

		fixtures := cloneFixtures(st.Fixtures)
		fixtures[f.ID] = f
		st.Fixtures = fixtures
		return st, nil
	}
}

// applyClock sets elapsed time, which only exists while the match is in
// progress, and the score when one is reported.
func applyClock(f *domain.Fixture, elapsed *int, score *domain.Score) {
	if f.Status.InProgress() {
		f.Elapsed = elapsed
	} else {
		f.Elapsed = nil
	}
	if score != nil {
		s := *score
		f.Score = &s
	}
}

// --- Live ---

// LiveStarted opens a new live session. The window must have fixtures.
func LiveStarted() Merge {
	return func(st State) (State, error) {
		if st.LiveActive {
			return st, ErrNoChange
		}
		if st.WindowStatus != domain.WindowFixturesReady || len(st.Fixtures) == 0 {
			return st, domain.ErrConflict("live tracking needs a loaded window with fixtures")
		}
		st.LiveActive = true
		st.LiveSession++
		return st, nil
	}
}

// LiveStopped closes the live session; outstanding ticks become stale.
func LiveStopped() Merge {
	return func(st State) (State, error) {
		if !st.LiveActive {
			return st, ErrNoChange
		}
		st.LiveActive = false
		st.LiveSession++
		return st, nil
	}
}

// LiveDeltasApplied folds one live poll into the fixtures of window gen.
// Only status, elapsed time and score are written; fixtures missing from
// deltas are unchanged.
func LiveDeltasApplied(gen, session uint64, deltas []domain.LiveDelta) Merge {
	return func(st State) (State, error) {
		if err := checkWindow(st, gen); err != nil {
			return st, err
		}
		if !st.LiveActive || st.LiveSession != session {
			return st, stale("live session %d, current %d", session, st.LiveSession)
		}

		var fixtures map[string]domain.Fixture
		for _, d := range deltas {
			f, ok := st.Fixtures[d.FixtureID]
			if !ok {
				continue
			}
			if fixtures == nil {
				fixtures = cloneFixtures(st.Fixtures)
			}
			if d.Status != "" {
				f.Status = d.Status
				f.StatusLong = d.StatusLong
			}
			applyClock(&f, d.Elapsed, d.Score)
			fixtures[f.ID] = f
		}
		if fixtures == nil {
			return st, ErrNoChange
		}
		st.Fixtures = fixtures
		return st, nil
	}
}

// --- Tickets ---

// TicketCreated inserts a new ticket at the front of the collection.
func TicketCreated(t domain.Ticket) Merge {
	return func(st State) (State, error) {
		tickets := make([]domain.Ticket, 0, len(st.Tickets)+1)
		tickets = append(tickets, t)
		for _, existing := range st.Tickets {
			if existing.ID != t.ID {
				tickets = append(tickets, existing)
			}
		}
		st.Tickets = tickets
		st.TicketRevision++
		return st, nil
	}
}

// TicketDeleted removes a ticket from the collection.
func TicketDeleted(id string) Merge {
	return func(st State) (State, error) {
		tickets := make([]domain.Ticket, 0, len(st.Tickets))
		for _, t := range st.Tickets {
			if t.ID != id {
				tickets = append(tickets, t)
			}
		}
		if len(tickets) == len(st.Tickets) {
			return st, ErrNoChange
		}
		st.Tickets = tickets
		st.TicketRevision++
		return st, nil
	}
}

// TicketsReplaced replaces the ticket collection with the server's list,
// fetched while the local revision was rev. Membership and status follow
// the server; tickets already known keep their local stake, selections
// and odds, taking only settlement fields from the server.
func TicketsReplaced(rev uint64, incoming []domain.Ticket) Merge {
	return func(st State) (State, error) {
		if rev != st.TicketRevision {
			return st, stale("ticket revision %d, current %d", rev, st.TicketRevision)
		}

		known := make(map[string]domain.Ticket, len(st.Tickets))
		for _, t := range st.Tickets {
			known[t.ID] = t
		}

		tickets := make([]domain.Ticket, 0, len(incoming))
		for _, remote := range incoming {
			local, ok := known[remote.ID]
			if !ok {
				remote.Profit = domain.SettledProfit(remote)
				tickets = append(tickets, remote)
				continue
			}
			tickets = append(tickets, settle(local, remote))
		}
		st.Tickets = tickets
		return st, nil
	}
}

// settle applies the server's settlement fields to a locally known ticket.
func settle(local, remote domain.Ticket) domain.Ticket {
	t := local
	t.Status = remote.Status
	t.Profit = domain.SettledProfit(t)

	results := make(map[string]*domain.SelectionSettlement, len(remote.Selections))
	for _, s := range remote.Selections {
		results[s.FixtureID] = s.Settlement
	}
	t.Selections = make([]domain.Selection, len(local.Selections))
	for i, s := range local.Selections {
		if r, ok := results[s.FixtureID]; ok {
			s.Settlement = r
		}
		t.Selections[i] = s
	}
	return t
}

// SettlementScheduled marks the settlement poller active with its next tick.
func SettlementScheduled(next time.Time) Merge {
	return func(st State) (State, error) {
		if st.SettlementActive && st.SettlementNextTick.Equal(next) {
			return st, ErrNoChange
		}
		st.SettlementActive = true
		st.SettlementNextTick = next
		return st, nil
	}
}

// SettlementStopped marks the settlement poller inactive.
func SettlementStopped() Merge {
	return func(st State) (State, error) {
		if !st.SettlementActive {
			return st, ErrNoChange
		}
		st.SettlementActive = false
		st.SettlementNextTick = time.Time{}
		return st, nil
	}
}

// --- Reference data ---

// ReferenceLoaded stores league and bookmaker lists; a nil list is kept as is.
func ReferenceLoaded(leagues []domain.League, bookmakers []domain.Bookmaker) Merge {
	return func(st State) (State, error) {
		if leagues == nil && bookmakers == nil {
			return st, ErrNoChange
		}
		if leagues != nil {
			st.Leagues = append([]domain.League(nil), leagues...)
		}
		if bookmakers != nil {
			st.Bookmakers = append([]domain.Bookmaker(nil), bookmakers...)
		}
		return st, nil
	}
}
