package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/parleyhq/parley/services"
)

type UserHandler struct {
	userSvc *services.UserService
}

func NewUserHandler(userSvc *services.UserService) *UserHandler {
	return &UserHandler{userSvc: userSvc}
}

func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())

	user, err := h.userSvc.Me(r.Context(), userID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, user, http.StatusOK)
}

func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	targetID := chi.URLParam(r, "id")

	user, err := h.userSvc.Get(r.Context(), targetID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, user, http.StatusOK)
}

func (h *UserHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())

	var req struct {
		Settings map[string]any `json:"settings"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.userSvc.UpdateSettings(r.Context(), userID, req.Settings); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

func (h *UserHandler) Block(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	targetID := chi.URLParam(r, "id")

	if err := h.userSvc.Block(r.Context(), userID, targetID); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "ok"}, http.StatusCreated)
}

func (h *UserHandler) Unblock(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	targetID := chi.URLParam(r, "id")

	if err := h.userSvc.Unblock(r.Context(), userID, targetID); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

func (h *UserHandler) Blocked(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())

	users, err := h.userSvc.Blocked(r.Context(), userID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, map[string]any{"data": users}, http.StatusOK)
}

// Online lists user ids with an unexpired presence heartbeat.
func (h *UserHandler) Online(w http.ResponseWriter, r *http.Request) {
	ids, err := h.userSvc.Online(r.Context())
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	respondJSON(w, map[string]any{"data": ids}, http.StatusOK)
}
