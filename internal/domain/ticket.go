package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// TicketStatus tracks the lifecycle of a wagering ticket.
type TicketStatus string

const (
	TicketPending      TicketStatus = "PENDING"
	TicketWon          TicketStatus = "WON"
	TicketLost         TicketStatus = "LOST"
	TicketPartiallyWon TicketStatus = "PARTIALLY_WON"
)

// Terminal reports whether settlement has finished for the ticket.
func (s TicketStatus) Terminal() bool { return s != TicketPending }

// SelectionSettlement is the known outcome of one selection.
type SelectionSettlement struct {
	Result      string `json:"result,omitempty"`
	FinalScore  string `json:"final_score,omitempty"`
	Status      string `json:"status,omitempty"`
	StatusShort string `json:"status_short,omitempty"`
}

// Selection is one leg of a ticket. Odds are the price at selection time.
type Selection struct {
	FixtureID        string               `json:"match_id"`
	HomeTeam         string               `json:"home_team"`
	AwayTeam         string               `json:"away_team"`
	League           string               `json:"league"`
	Date             string               `json:"date,omitempty"`
	Market           string               `json:"market"`
	PredictedOutcome string               `json:"predicted_outcome"`
	Odds             decimal.Decimal      `json:"odds"`
	Confidence       float64              `json:"confidence"`
	BookmakerID      string               `json:"bookmaker_id,omitempty"`
	Settlement       *SelectionSettlement `json:"settlement,omitempty"`
}

// Ticket is a placed multiple. Stake and selections never change after
// creation; only Status, Profit and per-selection Settlement do.
type Ticket struct {
	ID              string           `json:"id"`
	Name            string           `json:"name"`
	Stake           decimal.Decimal  `json:"stake"`
	CombinedOdds    decimal.Decimal  `json:"combined_odds"`
	PotentialReturn decimal.Decimal  `json:"potential_return"`
	BookmakerID     string           `json:"bookmaker_id"`
	Status          TicketStatus     `json:"status"`
	Profit          *decimal.Decimal `json:"profit,omitempty"`
	Selections      []Selection      `json:"selections"`
	CreatedAt       time.Time        `json:"created_at"`
}

// Pending reports whether the ticket still awaits settlement.
func (t Ticket) Pending() bool { return t.Status == TicketPending }

// CombinedOdds multiplies the odds of all selections, rounded to 2 places.
// An empty list yields 1.
func CombinedOdds(selections []Selection) decimal.Decimal {
	return productOdds(selections).Round(2)
}

// PotentialReturn is stake times the unrounded combined odds, rounded to 2 places.
func PotentialReturn(stake decimal.Decimal, selections []Selection) decimal.Decimal {
	return stake.Mul(productOdds(selections)).Round(2)
}

func productOdds(selections []Selection) decimal.Decimal {
	product := decimal.NewFromInt(1)
	for _, s := range selections {
		product = product.Mul(s.Odds)
	}
	return product
}

// SettledProfit returns the realized profit for a terminal ticket, nil otherwise.
func SettledProfit(t Ticket) *decimal.Decimal {
	var p decimal.Decimal
	switch t.Status {
	case TicketWon:
		p = t.PotentialReturn.Sub(t.Stake)
	case TicketLost:
		p = t.Stake.Neg()
	default:
		return nil
	}
	return &p
}

// TicketDraft is a ticket under construction, before submission.
type TicketDraft struct {
	Name        string          `json:"name"`
	Stake       decimal.Decimal `json:"stake"`
	BookmakerID string          `json:"bookmaker_id"`
	Selections  []Selection     `json:"bets"`
}

// DefaultBookmaker is used when a draft names none.
const DefaultBookmaker = "bet365"

// Add appends a selection, replacing any existing selection on the same fixture.
func (d *TicketDraft) Add(sel Selection) {
	kept := d.Selections[:0]
	for _, s := range d.Selections {
		if s.FixtureID != sel.FixtureID {
			kept = append(kept, s)
		}
	}
	d.Selections = append(kept, sel)
}

// Remove drops the selection on the given fixture.
func (d *TicketDraft) Remove(fixtureID string) {
	kept := d.Selections[:0]
	for _, s := range d.Selections {
		if s.FixtureID != fixtureID {
			kept = append(kept, s)
		}
	}
	d.Selections = kept
}

// CombinedOdds of the draft's current selections.
func (d TicketDraft) CombinedOdds() decimal.Decimal { return CombinedOdds(d.Selections) }

// PotentialReturn of the draft at its current stake.
func (d TicketDraft) PotentialReturn() decimal.Decimal { return PotentialReturn(d.Stake, d.Selections) }

// Normalize fills defaults for name and bookmaker.
func (d TicketDraft) Normalize(now time.Time) TicketDraft {
	d.Name = strings.TrimSpace(d.Name)
	if d.Name == "" {
		d.Name = "Ticket " + now.Format("2006-01-02 15:04:05")
	}
	if d.BookmakerID == "" {
		if len(d.Selections) > 0 && d.Selections[0].BookmakerID != "" {
			d.BookmakerID = d.Selections[0].BookmakerID
		} else {
			d.BookmakerID = DefaultBookmaker
		}
	}
	return d
}

// Validate checks the draft against the service's ticket rules.
func (d TicketDraft) Validate() error {
	if n := utf8.RuneCountInString(d.Name); n < 3 || n > 100 {
		return ErrValidation("ticket name must be between 3 and 100 characters")
	}
	if !d.Stake.IsPositive() {
		return ErrValidation("stake must be greater than zero")
	}
	if len(d.Selections) == 0 {
		return ErrValidation("ticket needs at least one selection")
	}
	one := decimal.NewFromInt(1)
	seen := make(map[string]bool, len(d.Selections))
	for i, s := range d.Selections {
		if s.FixtureID == "" {
			return ErrValidation(fmt.Sprintf("selection %d: match id is required", i))
		}
		if seen[s.FixtureID] {
			return ErrValidation(fmt.Sprintf("selection %d: duplicate match %s", i, s.FixtureID))
		}
		seen[s.FixtureID] = true
		if s.Market == "" || s.PredictedOutcome == "" {
			return ErrValidation(fmt.Sprintf("selection %d: market and outcome are required", i))
		}
		if !s.Odds.GreaterThan(one) {
			return ErrValidation(fmt.Sprintf("selection %d: odds must be greater than 1.0", i))
		}
		if s.Confidence < 0 || s.Confidence > 1 {
			return ErrValidation(fmt.Sprintf("selection %d: confidence must be within [0, 1]", i))
		}
	}
	return nil
}

// Fingerprint identifies the draft's content, independent of selection order.
func (d TicketDraft) Fingerprint() string {
	parts := make([]string, 0, len(d.Selections))
	for _, s := range d.Selections {
		parts = append(parts, fmt.Sprintf("%s|%s|%s|%s", s.FixtureID, s.Market, s.PredictedOutcome, s.Odds.String()))
	}
	sort.Strings(parts)
	return fmt.Sprintf("%s;%s;%s", d.Stake.String(), d.BookmakerID, strings.Join(parts, ","))
}

// SettlementStats is the server's report of one settlement evaluation pass.
type SettlementStats struct {
	TotalPending int `json:"total_pending"`
	Updated      int `json:"updated"`
	Won          int `json:"won"`
	Lost         int `json:"lost"`
}

// TicketStats summarizes a ticket collection for dashboards.
type TicketStats struct {
	Total       int             `json:"total_tickets"`
	Won         int             `json:"won_tickets"`
	Lost        int             `json:"lost_tickets"`
	Pending     int             `json:"pending_tickets"`
	SuccessRate float64         `json:"success_rate"`
	TotalStaked decimal.Decimal `json:"total_staked"`
	TotalProfit decimal.Decimal `json:"total_profit"`
}

// SummarizeTickets computes dashboard statistics. SuccessRate is the
// percentage of all tickets that won.
func SummarizeTickets(tickets []Ticket) TicketStats {
	stats := TicketStats{Total: len(tickets), TotalStaked: decimal.Zero, TotalProfit: decimal.Zero}
	for _, t := range tickets {
		stats.TotalStaked = stats.TotalStaked.Add(t.Stake)
		switch t.Status {
		case TicketWon:
			stats.Won++
		case TicketLost:
			stats.Lost++
		case TicketPending:
			stats.Pending++
		}
		if p := SettledProfit(t); p != nil {
			stats.TotalProfit = stats.TotalProfit.Add(*p)
		}
	}
	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Won) / float64(stats.Total) * 100
	}
	return stats
}
