package handler

import (
	"time"

	"github.com/attaboy/matchsync/internal/domain"
	"github.com/attaboy/matchsync/internal/projection"
)

// LiveView is the live-tracking part of a state response.
type LiveView struct {
	Active  bool   `json:"active"`
	Session uint64 `json:"session"`
}

// SettlementView is the settlement-polling part of a state response.
type SettlementView struct {
	Active   bool       `json:"active"`
	NextTick *time.Time `json:"next_tick,omitempty"`
	Pending  int        `json:"pending"`
}

// StateView is the JSON rendering of one committed state.
type StateView struct {
	Version        uint64              `json:"version"`
	Window         domain.Window       `json:"window"`
	WindowStatus   domain.WindowStatus `json:"window_status"`
	WindowError    string              `json:"window_error,omitempty"`
	Fixtures       []domain.Fixture    `json:"fixtures"`
	Groups         []domain.GroupLoad  `json:"groups"`
	SelectedGroups []string            `json:"selected_groups"`
	Leagues        []domain.League     `json:"leagues"`
	Bookmakers     []domain.Bookmaker  `json:"bookmakers"`
	Live           LiveView            `json:"live"`
	Tickets        []domain.Ticket     `json:"tickets"`
	Settlement     SettlementView      `json:"settlement"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

// NewStateView renders st.
func NewStateView(st projection.State) StateView {
	v := StateView{
		Version:        st.Version,
		Window:         st.Window,
		WindowStatus:   st.WindowStatus,
		WindowError:    st.WindowError,
		Fixtures:       st.FixtureList(""),
		Groups:         st.GroupList(),
		SelectedGroups: st.SelectedGroupIDs(),
		Leagues:        nonNil(st.Leagues),
		Bookmakers:     nonNil(st.Bookmakers),
		Live:           LiveView{Active: st.LiveActive, Session: st.LiveSession},
		Tickets:        nonNil(st.Tickets),
		Settlement:     SettlementView{Active: st.SettlementActive, Pending: st.PendingTickets()},
		UpdatedAt:      st.UpdatedAt,
	}
	if !st.SettlementNextTick.IsZero() {
		next := st.SettlementNextTick
		v.Settlement.NextTick = &next
	}
	return v
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
