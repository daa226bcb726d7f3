package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/parleyhq/parley/services"
)

type PollHandler struct {
	pollSvc *services.PollService
}

func NewPollHandler(pollSvc *services.PollService) *PollHandler {
	return &PollHandler{pollSvc: pollSvc}
}

func (h *PollHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())

	var req services.CreatePollInput
	if !decodeBody(w, r, &req) {
		return
	}

	poll, err := h.pollSvc.Create(r.Context(), userID, req)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, poll, http.StatusCreated)
}

func (h *PollHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	pollID := chi.URLParam(r, "id")

	poll, err := h.pollSvc.Get(r.Context(), userID, pollID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, poll, http.StatusOK)
}

func (h *PollHandler) GetByMessage(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	msgID := chi.URLParam(r, "id")

	poll, err := h.pollSvc.GetByMessage(r.Context(), userID, msgID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, poll, http.StatusOK)
}

// Vote replaces the caller's previous selection with the given options.
func (h *PollHandler) Vote(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	pollID := chi.URLParam(r, "id")

	var req struct {
		OptionIDs []string `json:"option_ids"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	poll, err := h.pollSvc.Vote(r.Context(), userID, pollID, req.OptionIDs)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, poll, http.StatusOK)
}

func (h *PollHandler) Close(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	pollID := chi.URLParam(r, "id")

	poll, err := h.pollSvc.Close(r.Context(), userID, pollID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, poll, http.StatusOK)
}
