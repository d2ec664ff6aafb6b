package provider

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/attaboy/matchsync/internal/domain"
)

// ── Envelope ──

// envelope carries the success flag every response wraps its payload in.
type envelope struct {
	Success *bool  `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (e *envelope) failure() (string, bool) {
	if e.Success == nil || *e.Success {
		return "", false
	}
	if e.Error != "" {
		return e.Error, true
	}
	if e.Message != "" {
		return e.Message, true
	}
	return "request reported success=false", true
}

type enveloped interface {
	failure() (string, bool)
}

// ── Fixtures ──

type logoDTO struct {
	URL  string `json:"url"`
	Type string `json:"type"`
}

// logoField accepts either a plain string or a {url, type} object.
type logoField string

func (l *logoField) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*l = logoField(s)
		return nil
	}
	var obj logoDTO
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*l = logoField(obj.URL)
	return nil
}

type teamDTO struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Logo    logoField `json:"logo"`
	Country string    `json:"country"`
}

func (t teamDTO) toDomain() domain.Team {
	return domain.Team{ID: t.ID, Name: t.Name, Logo: string(t.Logo), Country: t.Country}
}

type leagueDTO struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Country string    `json:"country"`
	Logo    logoField `json:"logo"`
	Type    string    `json:"type"`
}

func (l leagueDTO) toDomain() domain.League {
	return domain.League{ID: l.ID, Name: l.Name, Country: l.Country, Logo: string(l.Logo), Type: l.Type}
}

type goalsDTO struct {
	Home *int `json:"home"`
	Away *int `json:"away"`
}

func (g *goalsDTO) toDomain() *domain.Score {
	if g == nil || (g.Home == nil && g.Away == nil) {
		return nil
	}
	return &domain.Score{Home: g.Home, Away: g.Away}
}

type matchDTO struct {
	ID          string       `json:"id"`
	League      leagueDTO    `json:"league"`
	HomeTeam    teamDTO      `json:"home_team"`
	AwayTeam    teamDTO      `json:"away_team"`
	Date        string       `json:"date"`
	Timestamp   string       `json:"timestamp"`
	Status      string       `json:"status"`
	StatusShort string       `json:"status_short"`
	Elapsed     *int         `json:"elapsed"`
	Goals       *goalsDTO    `json:"goals"`
	Round       domain.Round `json:"round"`
	Venue       domain.Venue `json:"venue"`
	Odds        domain.Odds  `json:"odds"`
}

// splitStatus separates the short code from the long description. Older
// payloads carry only the code in "status".
func splitStatus(status, short string) (domain.FixtureStatus, string) {
	if short != "" {
		return domain.FixtureStatus(strings.ToUpper(short)), status
	}
	return domain.FixtureStatus(strings.ToUpper(status)), ""
}

func (m matchDTO) toDomain() domain.Fixture {
	status, long := splitStatus(m.Status, m.StatusShort)
	f := domain.Fixture{
		ID:         m.ID,
		Date:       m.Timestamp,
		GroupID:    m.League.ID,
		League:     m.League.toDomain(),
		HomeTeam:   m.HomeTeam.toDomain(),
		AwayTeam:   m.AwayTeam.toDomain(),
		Round:      m.Round,
		Venue:      m.Venue,
		Status:     status,
		StatusLong: long,
		Score:      m.Goals.toDomain(),
		Odds:       m.Odds,
	}
	if kickoff, err := time.Parse(time.RFC3339, m.Date); err == nil {
		f.Kickoff = kickoff.UTC()
		if f.Date == "" {
			f.Date = f.Kickoff.Format("2006-01-02")
		}
	}
	if status.InProgress() {
		f.Elapsed = m.Elapsed
	}
	if f.Odds == nil {
		f.Odds = domain.Odds{}
	}
	return f
}

type matchesResponse struct {
	envelope
	Count   int        `json:"count"`
	Matches []matchDTO `json:"matches"`
}

type preloadResponse struct {
	envelope
	Days          int               `json:"days"`
	DateFrom      string            `json:"date_from"`
	DateTo        string            `json:"date_to"`
	TotalFixtures int               `json:"total_fixtures"`
	Leagues       []json.RawMessage `json:"leagues"`
	Dates         []string          `json:"dates"`
}

// leagues decodes the preload league list, which may hold full league
// objects or bare ids.
func (p preloadResponse) leagues() []domain.League {
	out := make([]domain.League, 0, len(p.Leagues))
	for _, raw := range p.Leagues {
		var id string
		if err := json.Unmarshal(raw, &id); err == nil {
			out = append(out, domain.League{ID: id})
			continue
		}
		var l leagueDTO
		if err := json.Unmarshal(raw, &l); err == nil && l.ID != "" {
			out = append(out, l.toDomain())
		}
	}
	return out
}

type groupOddsRequest struct {
	LeagueID string   `json:"league_id"`
	Dates    []string `json:"dates"`
}

type groupOddsResponse struct {
	envelope
	LeagueID  string                 `json:"league_id"`
	TotalOdds int                    `json:"total_odds"`
	Odds      map[string]domain.Odds `json:"odds"`
	Matches   []matchDTO             `json:"matches"`
}

// byFixture flattens the response into fixture id -> odds. Servers answer
// with an odds map or with the refreshed match list.
func (r groupOddsResponse) byFixture() map[string]domain.Odds {
	out := make(map[string]domain.Odds, len(r.Odds)+len(r.Matches))
	for id, o := range r.Odds {
		out[id] = o
	}
	for _, m := range r.Matches {
		if len(m.Odds) > 0 {
			out[m.ID] = m.Odds
		}
	}
	return out
}

type refreshResponse struct {
	envelope
	Odds        domain.Odds `json:"odds"`
	Status      string      `json:"status"`
	StatusShort string      `json:"status_short"`
	Elapsed     *int        `json:"elapsed"`
	Goals       *goalsDTO   `json:"goals"`
}

type liveUpdateDTO struct {
	ID          string    `json:"id"`
	Status      string    `json:"status"`
	StatusShort string    `json:"status_short"`
	Elapsed     *int      `json:"elapsed"`
	Goals       *goalsDTO `json:"goals"`
}

type liveResponse struct {
	envelope
	Updates []liveUpdateDTO `json:"updates"`
}

type leaguesResponse struct {
	envelope
	Leagues []leagueDTO `json:"leagues"`
}

type bookmakersResponse struct {
	envelope
	Bookmakers []domain.Bookmaker `json:"bookmakers"`
}

// ── Tickets ──

// ticketStatus maps server status labels, localized or not, to TicketStatus.
func ticketStatus(s string) domain.TicketStatus {
	switch strings.ToUpper(s) {
	case "GANHOU", "WON":
		return domain.TicketWon
	case "PERDEU", "LOST":
		return domain.TicketLost
	case "PARCIAL", "PARTIALLY_WON":
		return domain.TicketPartiallyWon
	default:
		return domain.TicketPending
	}
}

type betDTO struct {
	MatchID          string          `json:"match_id"`
	HomeTeam         string          `json:"home_team"`
	AwayTeam         string          `json:"away_team"`
	League           string          `json:"league"`
	Date             string          `json:"date,omitempty"`
	Market           string          `json:"market"`
	PredictedOutcome string          `json:"predicted_outcome"`
	Odds             decimal.Decimal `json:"odds"`
	Confidence       float64         `json:"confidence"`
	BookmakerID      string          `json:"bookmaker_id,omitempty"`
	Result           *string         `json:"result"`
	FinalScore       *string         `json:"final_score"`
	Status           *string         `json:"status"`
	StatusShort      *string         `json:"status_short"`
}

// betResult normalizes a selection outcome label; empty means unsettled.
func betResult(s string) string {
	switch strings.ToUpper(s) {
	case "":
		return ""
	case "GANHOU", "WON":
		return "WON"
	case "PERDEU", "LOST":
		return "LOST"
	default:
		return strings.ToUpper(s)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (b betDTO) toDomain() domain.Selection {
	sel := domain.Selection{
		FixtureID:        b.MatchID,
		HomeTeam:         b.HomeTeam,
		AwayTeam:         b.AwayTeam,
		League:           b.League,
		Date:             b.Date,
		Market:           b.Market,
		PredictedOutcome: b.PredictedOutcome,
		Odds:             b.Odds,
		Confidence:       b.Confidence,
		BookmakerID:      b.BookmakerID,
	}
	if b.Result != nil || b.FinalScore != nil || b.Status != nil || b.StatusShort != nil {
		sel.Settlement = &domain.SelectionSettlement{
			Result:      betResult(deref(b.Result)),
			FinalScore:  deref(b.FinalScore),
			Status:      deref(b.Status),
			StatusShort: deref(b.StatusShort),
		}
	}
	return sel
}

type ticketDTO struct {
	ID              string           `json:"id"`
	Name            string           `json:"name"`
	Bets            []betDTO         `json:"bets"`
	Stake           decimal.Decimal  `json:"stake"`
	CombinedOdds    decimal.Decimal  `json:"combined_odds"`
	PotentialReturn decimal.Decimal  `json:"potential_return"`
	BookmakerID     string           `json:"bookmaker_id"`
	Status          string           `json:"status"`
	CreatedAt       string           `json:"created_at"`
}

func (t ticketDTO) toDomain() domain.Ticket {
	ticket := domain.Ticket{
		ID:              t.ID,
		Name:            t.Name,
		Stake:           t.Stake,
		CombinedOdds:    t.CombinedOdds,
		PotentialReturn: t.PotentialReturn,
		BookmakerID:     t.BookmakerID,
		Status:          ticketStatus(t.Status),
		Selections:      make([]domain.Selection, 0, len(t.Bets)),
	}
	for _, b := range t.Bets {
		ticket.Selections = append(ticket.Selections, b.toDomain())
	}
	// The service reports potential profit for every status; realized
	// profit is derived from the status instead.
	ticket.Profit = domain.SettledProfit(ticket)
	if created, err := time.Parse(time.RFC3339, t.CreatedAt); err == nil {
		ticket.CreatedAt = created
	} else if created, err := time.Parse("2006-01-02T15:04:05.999999", t.CreatedAt); err == nil {
		ticket.CreatedAt = created.UTC()
	}
	return ticket
}

type createBetRequest struct {
	MatchID          string  `json:"match_id"`
	HomeTeam         string  `json:"home_team"`
	AwayTeam         string  `json:"away_team"`
	League           string  `json:"league"`
	Market           string  `json:"market"`
	PredictedOutcome string  `json:"predicted_outcome"`
	Odds             float64 `json:"odds"`
	Confidence       float64 `json:"confidence"`
}

type createTicketRequest struct {
	Name        string             `json:"name"`
	Stake       float64            `json:"stake"`
	Bets        []createBetRequest `json:"bets"`
	BookmakerID string             `json:"bookmaker_id"`
}

func newCreateTicketRequest(d domain.TicketDraft) createTicketRequest {
	req := createTicketRequest{
		Name:        d.Name,
		Stake:       d.Stake.InexactFloat64(),
		BookmakerID: d.BookmakerID,
		Bets:        make([]createBetRequest, 0, len(d.Selections)),
	}
	for _, s := range d.Selections {
		req.Bets = append(req.Bets, createBetRequest{
			MatchID:          s.FixtureID,
			HomeTeam:         s.HomeTeam,
			AwayTeam:         s.AwayTeam,
			League:           s.League,
			Market:           s.Market,
			PredictedOutcome: s.PredictedOutcome,
			Odds:             s.Odds.InexactFloat64(),
			Confidence:       s.Confidence,
		})
	}
	return req
}

type ticketResponse struct {
	envelope
	Ticket *ticketDTO `json:"ticket"`
}

type ticketsResponse struct {
	envelope
	Count   int         `json:"count"`
	Tickets []ticketDTO `json:"tickets"`
}

type settlementResponse struct {
	envelope
	Stats domain.SettlementStats `json:"stats"`
}

// ── Analysis ──

type analyzeRequest struct {
	MatchIDs []string `json:"match_ids"`
	Strategy string   `json:"strategy"`
}

type analyzeResponse struct {
	envelope
	Strategy    string              `json:"strategy"`
	Predictions []domain.Prediction `json:"predictions"`
}
