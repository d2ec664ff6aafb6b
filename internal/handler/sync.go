package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/attaboy/matchsync/internal/domain"
	"github.com/attaboy/matchsync/internal/projection"
	"github.com/attaboy/matchsync/internal/service"
)

// Engine is the synchronization surface the handlers drive.
type Engine interface {
	Snapshot() projection.State
	SelectWindow(ctx context.Context, days int) (projection.State, error)
	SelectGroups(ctx context.Context, ids []string) error
	SelectGroupsAsync(ctx context.Context, ids []string) ([]string, error)
	RefreshFixture(ctx context.Context, id string) (domain.Fixture, error)
	StartLive(ctx context.Context) (projection.State, error)
	StopLive() projection.State
	CreateTicket(ctx context.Context, draft domain.TicketDraft) (domain.Ticket, error)
	DeleteTicket(ctx context.Context, id string) error
	LoadTickets(ctx context.Context) (projection.State, error)
	TicketStats() domain.TicketStats
	Analyze(ctx context.Context, fixtureIDs []string, strategy domain.Strategy) ([]domain.Prediction, error)
}

// SyncHandler handles window, fixture, group and live endpoints.
type SyncHandler struct {
	engine Engine
}

// NewSyncHandler creates a new SyncHandler.
func NewSyncHandler(engine Engine) *SyncHandler {
	return &SyncHandler{engine: engine}
}

type selectWindowRequest struct {
	Days int `json:"days"`
}

type selectGroupsRequest struct {
	GroupIDs []string `json:"group_ids"`
}

type groupsAccepted struct {
	Started []string           `json:"started"`
	Groups  []domain.GroupLoad `json:"groups"`
}

// GetState handles GET /state.
func (h *SyncHandler) GetState(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, NewStateView(h.engine.Snapshot()))
}

// ListFixtures handles GET /fixtures, optionally filtered by ?group=.
func (h *SyncHandler) ListFixtures(w http.ResponseWriter, r *http.Request) {
	st := h.engine.Snapshot()
	RespondJSON(w, http.StatusOK, st.FixtureList(r.URL.Query().Get("group")))
}

// GetFixture handles GET /fixtures/{id}.
func (h *SyncHandler) GetFixture(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	f, ok := h.engine.Snapshot().Fixtures[id]
	if !ok {
		RespondError(w, domain.ErrNotFound("fixture", id))
		return
	}
	RespondJSON(w, http.StatusOK, f)
}

// ListGroups handles GET /groups.
func (h *SyncHandler) ListGroups(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, h.engine.Snapshot().GroupList())
}

// SelectWindow handles POST /window.
func (h *SyncHandler) SelectWindow(w http.ResponseWriter, r *http.Request) {
	var req selectWindowRequest
	if err := DecodeJSON(r, &req); err != nil {
		RespondError(w, domain.ErrValidation("invalid request body"))
		return
	}
	st, err := h.engine.SelectWindow(r.Context(), req.Days)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, NewStateView(st))
}

// SelectGroups handles POST /groups. The odds load runs in the background
// and the response is 202, unless ?wait=true asks to wait for it.
func (h *SyncHandler) SelectGroups(w http.ResponseWriter, r *http.Request) {
	var req selectGroupsRequest
	if err := DecodeJSON(r, &req); err != nil {
		RespondError(w, domain.ErrValidation("invalid request body"))
		return
	}

	if r.URL.Query().Get("wait") == "true" {
		if err := h.engine.SelectGroups(r.Context(), req.GroupIDs); err != nil {
			respondGroupError(w, err)
			return
		}
		RespondJSON(w, http.StatusOK, h.engine.Snapshot().GroupList())
		return
	}

	started, err := h.engine.SelectGroupsAsync(r.Context(), req.GroupIDs)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusAccepted, groupsAccepted{
		Started: nonNil(started),
		Groups:  h.engine.Snapshot().GroupList(),
	})
}

func respondGroupError(w http.ResponseWriter, err error) {
	var ge service.GroupErrors
	if !errors.As(err, &ge) {
		RespondError(w, err)
		return
	}
	groups := make(map[string]string, len(ge))
	for id, gerr := range ge {
		groups[id] = gerr.Error()
	}
	RespondJSON(w, http.StatusBadGateway, map[string]interface{}{
		"code":    "GROUP_LOAD_FAILED",
		"message": "odds could not be loaded for some groups",
		"groups":  groups,
	})
}

// RefreshFixture handles POST /fixtures/{id}/refresh.
func (h *SyncHandler) RefreshFixture(w http.ResponseWriter, r *http.Request) {
	f, err := h.engine.RefreshFixture(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, f)
}

// StartLive handles POST /live/start.
func (h *SyncHandler) StartLive(w http.ResponseWriter, r *http.Request) {
	st, err := h.engine.StartLive(r.Context())
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, LiveView{Active: st.LiveActive, Session: st.LiveSession})
}

// StopLive handles POST /live/stop.
func (h *SyncHandler) StopLive(w http.ResponseWriter, r *http.Request) {
	st := h.engine.StopLive()
	RespondJSON(w, http.StatusOK, LiveView{Active: st.LiveActive, Session: st.LiveSession})
}
