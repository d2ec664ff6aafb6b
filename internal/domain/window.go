package domain

import "fmt"

// AllowedWindowDays are the window lengths the remote service accepts.
// One day is the "today" window loaded at startup.
var AllowedWindowDays = []int{1, 3, 7, 14}

// ValidateWindowDays checks a requested window length.
func ValidateWindowDays(days int) error {
	for _, d := range AllowedWindowDays {
		if d == days {
			return nil
		}
	}
	return ErrValidation(fmt.Sprintf("window days must be one of %v, got %d", AllowedWindowDays, days))
}

// Window is the currently tracked date range. Generation increases on every
// selection and stamps all work issued for the window.
type Window struct {
	Days       int      `json:"days"`
	From       string   `json:"date_from,omitempty"`
	To         string   `json:"date_to,omitempty"`
	Dates      []string `json:"dates,omitempty"`
	Generation uint64   `json:"generation"`
}

// WindowStatus is the phase-1 state of a window.
type WindowStatus string

const (
	WindowIdle             WindowStatus = "idle"
	WindowFetchingFixtures WindowStatus = "fetching_fixtures"
	WindowFixturesReady    WindowStatus = "fixtures_ready"
	WindowFailed           WindowStatus = "failed"
)

// PreloadResult is what the service returns after populating a window.
type PreloadResult struct {
	Days          int
	From          string
	To            string
	Dates         []string
	Leagues       []League
	TotalFixtures int
}

// LoadState is the tri-state marker of a group's odds load.
type LoadState string

const (
	LoadNotRequested LoadState = "not_requested"
	LoadInFlight     LoadState = "in_flight"
	LoadComplete     LoadState = "complete"
)

// GroupLoad tracks the phase-2 odds load of one group within one window.
type GroupLoad struct {
	GroupID    string    `json:"group_id"`
	State      LoadState `json:"state"`
	Generation uint64    `json:"generation"`
	// IssuedAt is the store version when the fetch was issued.
	IssuedAt     uint64 `json:"-"`
	FixtureCount int    `json:"fixture_count"`
	LastError    string `json:"last_error,omitempty"`
}
