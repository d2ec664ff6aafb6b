package projection

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/attaboy/matchsync/internal/domain"
)

// ErrNoChange is returned by a merge that has nothing to do. Apply treats it
// as success and commits nothing.
var ErrNoChange = errors.New("merge produced no change")

// State is one committed snapshot of the synchronized data. Maps and slices
// are copy-on-write: merges never modify the ones they receive, so a
// snapshot stays valid after later commits.
type State struct {
	Version uint64

	Window       domain.Window
	WindowStatus domain.WindowStatus
	WindowError  string

	Fixtures       map[string]domain.Fixture
	Groups         map[string]domain.GroupLoad
	SelectedGroups map[string]bool

	Leagues    []domain.League
	Bookmakers []domain.Bookmaker

	LiveActive  bool
	LiveSession uint64

	Tickets []domain.Ticket
	// TicketRevision counts local ticket mutations (create, delete).
	TicketRevision     uint64
	SettlementActive   bool
	SettlementNextTick time.Time

	UpdatedAt time.Time
}

// Merge computes the next state from the current one.
type Merge func(State) (State, error)

// Subscriber observes every commit with the states before and after it.
type Subscriber func(prev, next State)

// Store holds the current State and serializes all mutations.
type Store struct {
	mu    sync.Mutex
	state State
	subs  []Subscriber
	now   func() time.Time
}

// NewStore creates an empty store in the idle window state.
func NewStore() *Store {
	return &Store{
		state: State{
			WindowStatus:   domain.WindowIdle,
			Fixtures:       map[string]domain.Fixture{},
			Groups:         map[string]domain.GroupLoad{},
			SelectedGroups: map[string]bool{},
		},
		now: time.Now,
	}
}

// Snapshot returns the current committed state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe registers fn for all future commits.
func (s *Store) Subscribe(fn Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

// Apply runs m against the current state and commits the result atomically.
// On error nothing is committed and the current state is returned with it;
// ErrNoChange is swallowed. Subscribers run after the lock is released.
func (s *Store) Apply(m Merge) (State, error) {
	st, _, err := s.Commit(m)
	return st, err
}

// Commit is Apply that also reports whether a new version was committed.
func (s *Store) Commit(m Merge) (State, bool, error) {
	s.mu.Lock()
	prev := s.state
	next, err := m(prev)
	if err != nil {
		s.mu.Unlock()
		if errors.Is(err, ErrNoChange) {
			return prev, false, nil
		}
		return prev, false, err
	}

	next.Version = prev.Version + 1
	next.UpdatedAt = s.now()
	s.state = next
	subs := s.subs
	s.mu.Unlock()

	for _, fn := range subs {
		fn(prev, next)
	}
	return next, true, nil
}

// FixtureList returns the window's fixtures ordered by kickoff, optionally
// restricted to one group.
func (st State) FixtureList(groupID string) []domain.Fixture {
	out := make([]domain.Fixture, 0, len(st.Fixtures))
	for _, f := range st.Fixtures {
		if groupID == "" || f.GroupID == groupID {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Kickoff.Equal(out[j].Kickoff) {
			return out[i].Kickoff.Before(out[j].Kickoff)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// GroupList returns the group-load records ordered by group id.
func (st State) GroupList() []domain.GroupLoad {
	out := make([]domain.GroupLoad, 0, len(st.Groups))
	for _, g := range st.Groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GroupID < out[j].GroupID })
	return out
}

// SelectedGroupIDs returns the opted-in groups in sorted order.
func (st State) SelectedGroupIDs() []string {
	out := make([]string, 0, len(st.SelectedGroups))
	for id := range st.SelectedGroups {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// PendingTickets counts tickets still awaiting settlement.
func (st State) PendingTickets() int {
	n := 0
	for _, t := range st.Tickets {
		if t.Pending() {
			n++
		}
	}
	return n
}

// Ticket looks up a ticket by id.
func (st State) Ticket(id string) (domain.Ticket, bool) {
	for _, t := range st.Tickets {
		if t.ID == id {
			return t, true
		}
	}
	return domain.Ticket{}, false
}
