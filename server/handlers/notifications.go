package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/parleyhq/parley/services"
)

type NotificationHandler struct {
	notifSvc *services.NotificationService
}

func NewNotificationHandler(notifSvc *services.NotificationService) *NotificationHandler {
	return &NotificationHandler{notifSvc: notifSvc}
}

func (h *NotificationHandler) Preferences(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())

	prefs, err := h.notifSvc.Preferences(r.Context(), userID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, prefs, http.StatusOK)
}

func (h *NotificationHandler) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())

	var req services.UpdatePreferencesInput
	if !decodeBody(w, r, &req) {
		return
	}

	prefs, err := h.notifSvc.UpdatePreferences(r.Context(), userID, req)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, prefs, http.StatusOK)
}

func (h *NotificationHandler) Mute(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	convID := chi.URLParam(r, "id")

	var req struct {
		Until *time.Time `json:"until"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.notifSvc.Mute(r.Context(), userID, convID, req.Until); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

func (h *NotificationHandler) Unmute(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	convID := chi.URLParam(r, "id")

	if err := h.notifSvc.Unmute(r.Context(), userID, convID); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

func (h *NotificationHandler) Muted(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())

	muted, err := h.notifSvc.Muted(r.Context(), userID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, map[string]any{"data": muted}, http.StatusOK)
}
