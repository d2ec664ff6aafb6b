package domain

import "time"

// FixtureStatus is the short lifecycle code reported by the remote service
// ("NS", "1H", "HT", "FT", ...).
type FixtureStatus string

const (
	StatusNotStarted   FixtureStatus = "NS"
	StatusToBeDefined  FixtureStatus = "TBD"
	StatusFirstHalf    FixtureStatus = "1H"
	StatusHalfTime     FixtureStatus = "HT"
	StatusSecondHalf   FixtureStatus = "2H"
	StatusExtraTime    FixtureStatus = "ET"
	StatusBreakTime    FixtureStatus = "BT"
	StatusPenalties    FixtureStatus = "P"
	StatusLive         FixtureStatus = "LIVE"
	StatusSuspended    FixtureStatus = "SUSP"
	StatusInterrupted  FixtureStatus = "INT"
	StatusFullTime     FixtureStatus = "FT"
	StatusAfterExtra   FixtureStatus = "AET"
	StatusAfterPenalty FixtureStatus = "PEN"
	StatusPostponed    FixtureStatus = "PST"
	StatusCancelled    FixtureStatus = "CANC"
	StatusAbandoned    FixtureStatus = "ABD"
	StatusAwarded      FixtureStatus = "AWD"
	StatusWalkover     FixtureStatus = "WO"
)

// Phase groups status codes into the fixture lifecycle.
type Phase int

const (
	PhaseNotStarted Phase = iota
	PhaseInProgress
	PhaseSuspended
	PhaseFinished
	PhaseAbandoned
)

func (p Phase) String() string {
	switch p {
	case PhaseInProgress:
		return "in_progress"
	case PhaseSuspended:
		return "suspended"
	case PhaseFinished:
		return "finished"
	case PhaseAbandoned:
		return "abandoned"
	default:
		return "not_started"
	}
}

// Phase maps a status code to its lifecycle phase. Unknown codes are
// treated as not started.
func (s FixtureStatus) Phase() Phase {
	switch s {
	case StatusFirstHalf, StatusHalfTime, StatusSecondHalf, StatusExtraTime,
		StatusBreakTime, StatusPenalties, StatusLive:
		return PhaseInProgress
	case StatusSuspended, StatusInterrupted:
		return PhaseSuspended
	case StatusFullTime, StatusAfterExtra, StatusAfterPenalty:
		return PhaseFinished
	case StatusPostponed, StatusCancelled, StatusAbandoned, StatusAwarded, StatusWalkover:
		return PhaseAbandoned
	default:
		return PhaseNotStarted
	}
}

// InProgress reports whether the match clock is running (or paused at a break).
func (s FixtureStatus) InProgress() bool { return s.Phase() == PhaseInProgress }

// Team is one fixture participant.
type Team struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Logo    string `json:"logo,omitempty"`
	Country string `json:"country,omitempty"`
}

// Venue is where a fixture is played.
type Venue struct {
	Name string `json:"name"`
	City string `json:"city"`
}

// Round describes the competition stage of a fixture.
type Round struct {
	Type   string `json:"type"`
	Number int    `json:"number,omitempty"`
	Name   string `json:"name"`
}

// Score holds goals; either side is nil until the provider reports it.
type Score struct {
	Home *int `json:"home"`
	Away *int `json:"away"`
}

// BookmakerOdds is one provider's price record for a fixture.
type BookmakerOdds struct {
	Home    float64  `json:"home"`
	Draw    float64  `json:"draw"`
	Away    float64  `json:"away"`
	Over25  *float64 `json:"over_25,omitempty"`
	Under25 *float64 `json:"under_25,omitempty"`
	BTTSYes *float64 `json:"btts_yes,omitempty"`
	BTTSNo  *float64 `json:"btts_no,omitempty"`
}

// Odds maps provider id to its price record.
type Odds map[string]BookmakerOdds

// Clone returns an independent copy.
func (o Odds) Clone() Odds {
	out := make(Odds, len(o))
	for k, v := range o {
		out[k] = v
	}
	return out
}

// Fixture is one scheduled match.
type Fixture struct {
	ID         string        `json:"id"`
	Kickoff    time.Time     `json:"kickoff"`
	Date       string        `json:"date"`
	GroupID    string        `json:"group_id"`
	League     League        `json:"league"`
	HomeTeam   Team          `json:"home_team"`
	AwayTeam   Team          `json:"away_team"`
	Round      Round         `json:"round"`
	Venue      Venue         `json:"venue"`
	Status     FixtureStatus `json:"status"`
	StatusLong string        `json:"status_long,omitempty"`
	Elapsed    *int          `json:"elapsed,omitempty"`
	Score      *Score        `json:"score,omitempty"`
	Odds       Odds          `json:"odds"`

	// RefreshSeq is the store version at which the fixture was last
	// refreshed individually; zero if never.
	RefreshSeq uint64 `json:"-"`
}

// HasOdds reports whether phase 2 (or a refresh) has populated any provider.
func (f Fixture) HasOdds() bool { return len(f.Odds) > 0 }

// LiveDelta is the live state of one trackable fixture.
type LiveDelta struct {
	FixtureID  string        `json:"fixture_id"`
	Status     FixtureStatus `json:"status"`
	StatusLong string        `json:"status_long,omitempty"`
	Elapsed    *int          `json:"elapsed,omitempty"`
	Score      *Score        `json:"score,omitempty"`
}

// FixtureRefresh is the result of a single-fixture odds refresh: fresh odds
// plus the current match state.
type FixtureRefresh struct {
	FixtureID  string
	Odds       Odds
	Status     FixtureStatus
	StatusLong string
	Elapsed    *int
	Score      *Score
}
