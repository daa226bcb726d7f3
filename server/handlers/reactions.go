package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/parleyhq/parley/services"
)

type ReactionHandler struct {
	reactionSvc *services.ReactionService
}

func NewReactionHandler(reactionSvc *services.ReactionService) *ReactionHandler {
	return &ReactionHandler{reactionSvc: reactionSvc}
}

func (h *ReactionHandler) Add(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	msgID := chi.URLParam(r, "id")

	var req struct {
		Emoji string `json:"emoji"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	reaction, err := h.reactionSvc.Add(r.Context(), userID, msgID, req.Emoji)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, reaction, http.StatusCreated)
}

func (h *ReactionHandler) Remove(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	msgID := chi.URLParam(r, "id")
	emoji := r.URL.Query().Get("emoji")

	if err := h.reactionSvc.Remove(r.Context(), userID, msgID, emoji); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}
