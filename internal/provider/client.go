package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/attaboy/matchsync/internal/domain"
)

const maxResponseBytes = 16 << 20

// ClientConfig configures the remote service client.
type ClientConfig struct {
	BaseURL string
	Timeout time.Duration
	// HTTPClient overrides the default client; Timeout is then ignored.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client talks to the remote fixtures, odds and tickets service. It keeps
// no state and never retries; every failure is returned as a domain error.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates a client for cfg.BaseURL.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    hc,
		logger:  logger,
	}
}

// ── Fixtures ──

// Preload asks the service to populate a window of days and returns its dates
// and leagues.
func (c *Client) Preload(ctx context.Context, days int) (domain.PreloadResult, error) {
	if err := domain.ValidateWindowDays(days); err != nil {
		return domain.PreloadResult{}, err
	}

	var resp preloadResponse
	q := url.Values{"days": {strconv.Itoa(days)}}
	if err := c.do(ctx, http.MethodPost, "/preload/fetch", q, struct{}{}, &resp); err != nil {
		return domain.PreloadResult{}, err
	}

	return domain.PreloadResult{
		Days:          days,
		From:          resp.DateFrom,
		To:            resp.DateTo,
		Dates:         resp.Dates,
		Leagues:       resp.leagues(),
		TotalFixtures: resp.TotalFixtures,
	}, nil
}

// FetchFixtures lists the fixtures of a window, without odds.
func (c *Client) FetchFixtures(ctx context.Context, window domain.Window) ([]domain.Fixture, error) {
	if window.From == "" || window.To == "" {
		return nil, domain.ErrValidation("window date range is required")
	}

	var resp matchesResponse
	q := url.Values{"date_from": {window.From}, "date_to": {window.To}}
	if err := c.do(ctx, http.MethodGet, "/matches", q, nil, &resp); err != nil {
		return nil, err
	}

	fixtures := make([]domain.Fixture, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		if m.ID == "" {
			continue
		}
		fixtures = append(fixtures, m.toDomain())
	}
	return fixtures, nil
}

// FetchOddsForGroup loads odds for every fixture of one league across dates.
func (c *Client) FetchOddsForGroup(ctx context.Context, groupID string, dates []string) (map[string]domain.Odds, error) {
	if groupID == "" {
		return nil, domain.ErrValidation("group id is required")
	}
	if len(dates) == 0 {
		return nil, domain.ErrValidation("at least one date is required")
	}

	var resp groupOddsResponse
	body := groupOddsRequest{LeagueID: groupID, Dates: dates}
	if err := c.do(ctx, http.MethodPost, "/preload/odds/league", nil, body, &resp); err != nil {
		return nil, err
	}
	return resp.byFixture(), nil
}

// RefreshFixtureOdds re-prices one fixture and returns its current match state.
func (c *Client) RefreshFixtureOdds(ctx context.Context, fixtureID string) (domain.FixtureRefresh, error) {
	if fixtureID == "" {
		return domain.FixtureRefresh{}, domain.ErrValidation("fixture id is required")
	}

	var resp refreshResponse
	path := "/matches/" + url.PathEscape(fixtureID) + "/odds/refresh"
	if err := c.do(ctx, http.MethodPost, path, nil, struct{}{}, &resp); err != nil {
		return domain.FixtureRefresh{}, err
	}

	status, long := splitStatus(resp.Status, resp.StatusShort)
	r := domain.FixtureRefresh{
		FixtureID:  fixtureID,
		Odds:       resp.Odds,
		Status:     status,
		StatusLong: long,
		Elapsed:    resp.Elapsed,
		Score:      resp.Goals.toDomain(),
	}
	if r.Odds == nil {
		r.Odds = domain.Odds{}
	}
	return r, nil
}

// FetchLiveDeltas returns the live state of every trackable fixture.
func (c *Client) FetchLiveDeltas(ctx context.Context) ([]domain.LiveDelta, error) {
	var resp liveResponse
	if err := c.do(ctx, http.MethodGet, "/matches/live", nil, nil, &resp); err != nil {
		return nil, err
	}

	deltas := make([]domain.LiveDelta, 0, len(resp.Updates))
	for _, u := range resp.Updates {
		status, long := splitStatus(u.Status, u.StatusShort)
		deltas = append(deltas, domain.LiveDelta{
			FixtureID:  u.ID,
			Status:     status,
			StatusLong: long,
			Elapsed:    u.Elapsed,
			Score:      u.Goals.toDomain(),
		})
	}
	return deltas, nil
}

// Leagues lists the competitions the service knows about.
func (c *Client) Leagues(ctx context.Context) ([]domain.League, error) {
	var resp leaguesResponse
	if err := c.do(ctx, http.MethodGet, "/leagues", nil, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]domain.League, 0, len(resp.Leagues))
	for _, l := range resp.Leagues {
		out = append(out, l.toDomain())
	}
	return out, nil
}

// Bookmakers lists the odds providers.
func (c *Client) Bookmakers(ctx context.Context) ([]domain.Bookmaker, error) {
	var resp bookmakersResponse
	if err := c.do(ctx, http.MethodGet, "/bookmakers", nil, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Bookmakers == nil {
		resp.Bookmakers = []domain.Bookmaker{}
	}
	return resp.Bookmakers, nil
}

// ── Tickets ──

// CreateTicket submits a draft and returns the placed ticket.
func (c *Client) CreateTicket(ctx context.Context, draft domain.TicketDraft) (domain.Ticket, error) {
	if err := draft.Validate(); err != nil {
		return domain.Ticket{}, err
	}

	var resp ticketResponse
	if err := c.do(ctx, http.MethodPost, "/tickets", nil, newCreateTicketRequest(draft), &resp); err != nil {
		return domain.Ticket{}, err
	}
	if resp.Ticket == nil || resp.Ticket.ID == "" {
		return domain.Ticket{}, domain.ErrTransport("POST /tickets: response has no ticket", nil)
	}
	return resp.Ticket.toDomain(), nil
}

// ListTickets returns the full ticket collection.
func (c *Client) ListTickets(ctx context.Context) ([]domain.Ticket, error) {
	var resp ticketsResponse
	if err := c.do(ctx, http.MethodGet, "/tickets", nil, nil, &resp); err != nil {
		return nil, err
	}
	tickets := make([]domain.Ticket, 0, len(resp.Tickets))
	for _, t := range resp.Tickets {
		tickets = append(tickets, t.toDomain())
	}
	return tickets, nil
}

// DeleteTicket removes a ticket on the server.
func (c *Client) DeleteTicket(ctx context.Context, id string) error {
	if id == "" {
		return domain.ErrValidation("ticket id is required")
	}
	var resp envelope
	return c.do(ctx, http.MethodDelete, "/tickets/"+url.PathEscape(id), nil, nil, &resp)
}

// TriggerSettlement asks the service to evaluate all pending tickets.
func (c *Client) TriggerSettlement(ctx context.Context) (domain.SettlementStats, error) {
	var resp settlementResponse
	if err := c.do(ctx, http.MethodPost, "/tickets/update-results", nil, struct{}{}, &resp); err != nil {
		return domain.SettlementStats{}, err
	}
	return resp.Stats, nil
}

// ── Analysis ──

// Analyze requests predictions for fixtures under a strategy.
func (c *Client) Analyze(ctx context.Context, fixtureIDs []string, strategy domain.Strategy) ([]domain.Prediction, error) {
	if len(fixtureIDs) == 0 {
		return nil, domain.ErrValidation("at least one match id is required")
	}
	if err := domain.ValidateStrategy(strategy); err != nil {
		return nil, err
	}

	var resp analyzeResponse
	body := analyzeRequest{MatchIDs: fixtureIDs, Strategy: string(strategy)}
	if err := c.do(ctx, http.MethodPost, "/analyze", nil, body, &resp); err != nil {
		return nil, err
	}
	return resp.Predictions, nil
}

// ── HTTP helper ──

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	op := method + " " + path

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return domain.ErrValidation(fmt.Sprintf("%s: encode request: %v", op, err))
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return domain.ErrValidation(fmt.Sprintf("%s: build request: %v", op, err))
	}
	requestID := uuid.NewString()
	req.Header.Set("X-Request-ID", requestID)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return domain.ErrTransport(op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return domain.ErrTransport(op+": read body", err)
	}

	c.logger.Debug("remote request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
		"request_id", requestID,
	)

	if err := statusError(op, resp.StatusCode, data); err != nil {
		return err
	}

	if out == nil {
		return nil
	}
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return domain.ErrTransport(op+": decode response", err)
		}
	}
	if e, ok := out.(enveloped); ok {
		if msg, failed := e.failure(); failed {
			return domain.ErrTransport(op+": "+msg, nil)
		}
	}
	return nil
}

// statusError maps a non-2xx response to the error taxonomy.
func statusError(op string, status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}
	detail := errorDetail(status, body)
	switch {
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return domain.ErrValidation(fmt.Sprintf("%s: %s", op, detail))
	case status == http.StatusNotFound:
		return &domain.AppError{Code: domain.CodeNotFound, Message: fmt.Sprintf("%s: %s", op, detail), Status: http.StatusNotFound}
	default:
		return domain.ErrTransport(fmt.Sprintf("%s: status %d", op, status), fmt.Errorf("%s", detail))
	}
}

// errorDetail extracts a human readable message from an error body.
const maxDetailRunes = 200

func errorDetail(status int, body []byte) string {
	var parsed struct {
		Detail  json.RawMessage `json:"detail"`
		Message string          `json:"message"`
		Error   string          `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		var s string
		switch {
		case len(parsed.Detail) > 0 && json.Unmarshal(parsed.Detail, &s) == nil:
			return s
		case len(parsed.Detail) > 0:
			return string(parsed.Detail)
		case parsed.Message != "":
			return parsed.Message
		case parsed.Error != "":
			return parsed.Error
		}
	}
	text := strings.TrimSpace(string(body))
	if r := []rune(text); len(r) > maxDetailRunes {
		text = string(r[:maxDetailRunes])
	}
	if text == "" {
		return http.StatusText(status)
	}
	return text
}
