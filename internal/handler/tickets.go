package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/attaboy/matchsync/internal/domain"
)

// TicketHandler handles ticket and analysis endpoints.
type TicketHandler struct {
	engine Engine
}

// NewTicketHandler creates a new TicketHandler.
func NewTicketHandler(engine Engine) *TicketHandler {
	return &TicketHandler{engine: engine}
}

type analyzeRequest struct {
	MatchIDs []string        `json:"match_ids"`
	Strategy domain.Strategy `json:"strategy"`
}

// ListTickets handles GET /tickets.
func (h *TicketHandler) ListTickets(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, nonNil(h.engine.Snapshot().Tickets))
}

// GetTicket handles GET /tickets/{id}.
func (h *TicketHandler) GetTicket(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	t, ok := h.engine.Snapshot().Ticket(id)
	if !ok {
		RespondError(w, domain.ErrNotFound("ticket", id))
		return
	}
	RespondJSON(w, http.StatusOK, t)
}

// Stats handles GET /tickets/stats.
func (h *TicketHandler) Stats(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, h.engine.TicketStats())
}

// CreateTicket handles POST /tickets.
func (h *TicketHandler) CreateTicket(w http.ResponseWriter, r *http.Request) {
	var draft domain.TicketDraft
	if err := DecodeJSON(r, &draft); err != nil {
		RespondError(w, domain.ErrValidation("invalid request body"))
		return
	}
	t, err := h.engine.CreateTicket(r.Context(), draft)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusCreated, t)
}

// Reload handles POST /tickets/reload.
func (h *TicketHandler) Reload(w http.ResponseWriter, r *http.Request) {
	st, err := h.engine.LoadTickets(r.Context())
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, nonNil(st.Tickets))
}

// DeleteTicket handles DELETE /tickets/{id}.
func (h *TicketHandler) DeleteTicket(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.DeleteTicket(r.Context(), chi.URLParam(r, "id")); err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusNoContent, nil)
}

// Analyze handles POST /analyze.
func (h *TicketHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := DecodeJSON(r, &req); err != nil {
		RespondError(w, domain.ErrValidation("invalid request body"))
		return
	}
	predictions, err := h.engine.Analyze(r.Context(), req.MatchIDs, req.Strategy)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, nonNil(predictions))
}
