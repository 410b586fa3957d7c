package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/booktalk/internal/persona"
	"github.com/ent0n29/booktalk/internal/plan"
	"github.com/ent0n29/booktalk/internal/quota"
)

type reserveSessionRequest struct {
	UserID string `json:"user_id"`
	BookID string `json:"book_id"`
}

type endSessionRequest struct {
	DurationSeconds int `json:"duration_seconds"`
}

// handleReserveSession always answers 200 with a decision; denials are
// part of the decision, not HTTP errors.
func (s *Server) handleReserveSession(w http.ResponseWriter, r *http.Request) {
	var req reserveSessionRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	decision, err := s.authority.Reserve(r.Context(), req.UserID, req.BookID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, decision)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}
	var req endSessionRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	sess, err := s.authority.End(r.Context(), id, req.DurationSeconds)
	if errors.Is(err, quota.ErrUnknownSession) {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.authority.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, quota.ErrUnknownSession) {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

type planSummary struct {
	Tier plan.Tier `json:"tier"`
	plan.Limits
}

func (s *Server) handleListPlans(w http.ResponseWriter, _ *http.Request) {
	out := make([]planSummary, 0, len(plan.Tiers()))
	for _, t := range plan.Tiers() {
		out = append(out, planSummary{Tier: t, Limits: plan.LimitsFor(t)})
	}
	respondJSON(w, http.StatusOK, map[string]any{"plans": out})
}

type listVoicesResponse struct {
	DefaultPersona string          `json:"default_persona"`
	Voices         []persona.Voice `json:"voices"`
}

func (s *Server) handleListVoices(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, listVoicesResponse{
		DefaultPersona: persona.DefaultPersona,
		Voices:         persona.Voices(),
	})
}
