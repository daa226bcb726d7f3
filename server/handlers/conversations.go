package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/parleyhq/parley/services"
)

type ConversationHandler struct {
	convSvc     *services.ConversationService
	msgSvc      *services.MessageService
	deliverySvc *services.DeliveryService
}

func NewConversationHandler(convSvc *services.ConversationService, msgSvc *services.MessageService, deliverySvc *services.DeliveryService) *ConversationHandler {
	return &ConversationHandler{convSvc: convSvc, msgSvc: msgSvc, deliverySvc: deliverySvc}
}

func (h *ConversationHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())

	var req services.CreateConversationInput
	if !decodeBody(w, r, &req) {
		return
	}

	conv, err := h.convSvc.Create(r.Context(), userID, req)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, conv, http.StatusCreated)
}

func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	limit, cursor := pageParams(r)

	convs, hasMore, err := h.convSvc.List(r.Context(), userID, limit, cursor)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	next := ""
	if hasMore && len(convs) > 0 {
		next = convs[len(convs)-1].ID
	}
	respondPage(w, convs, next, hasMore, limit)
}

func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	convID := chi.URLParam(r, "id")

	conv, err := h.convSvc.Get(r.Context(), userID, convID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, conv, http.StatusOK)
}

func (h *ConversationHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	convID := chi.URLParam(r, "id")

	var req services.UpdateConversationInput
	if !decodeBody(w, r, &req) {
		return
	}

	conv, err := h.convSvc.Update(r.Context(), userID, convID, req)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, conv, http.StatusOK)
}

func (h *ConversationHandler) AddMembers(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	convID := chi.URLParam(r, "id")

	var req struct {
		UserIDs []string `json:"user_ids"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.convSvc.AddMembers(r.Context(), userID, convID, req.UserIDs); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

func (h *ConversationHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	convID := chi.URLParam(r, "id")
	memberID := chi.URLParam(r, "userID")

	if err := h.convSvc.RemoveMember(r.Context(), userID, convID, memberID); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

func (h *ConversationHandler) Leave(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	convID := chi.URLParam(r, "id")

	if err := h.convSvc.Leave(r.Context(), userID, convID); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

func (h *ConversationHandler) Search(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	limit, _ := pageParams(r)

	query := r.URL.Query().Get("q")
	if query == "" {
		respondError(w, "missing query", http.StatusBadRequest)
		return
	}

	convs, err := h.convSvc.Search(r.Context(), userID, query, limit)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, map[string]any{"data": convs}, http.StatusOK)
}

func (h *ConversationHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	convID := chi.URLParam(r, "id")

	var req struct {
		IsMuted   bool       `json:"is_muted"`
		MuteUntil *time.Time `json:"mute_until"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.convSvc.UpdateMemberSettings(r.Context(), userID, convID, req.IsMuted, req.MuteUntil); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

// MarkRead marks everything in the conversation as read for the caller.
func (h *ConversationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	convID := chi.URLParam(r, "id")

	if err := h.deliverySvc.MarkConversationRead(r.Context(), userID, convID); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

func (h *ConversationHandler) Unread(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	convID := chi.URLParam(r, "id")

	count, err := h.deliverySvc.UnreadCount(r.Context(), userID, convID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, map[string]int{"unread": count}, http.StatusOK)
}

// Clear hides the conversation's history for the caller only.
func (h *ConversationHandler) Clear(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	convID := chi.URLParam(r, "id")

	cleared, err := h.msgSvc.Clear(r.Context(), userID, convID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, map[string]int64{"cleared": cleared}, http.StatusOK)
}
