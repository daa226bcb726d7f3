package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/parleyhq/parley/services"
	"github.com/parleyhq/parley/store"
)

type MessageHandler struct {
	msgSvc      *services.MessageService
	deliverySvc *services.DeliveryService
}

func NewMessageHandler(msgSvc *services.MessageService, deliverySvc *services.DeliveryService) *MessageHandler {
	return &MessageHandler{msgSvc: msgSvc, deliverySvc: deliverySvc}
}

func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())

	var req services.SendMessageInput
	if !decodeBody(w, r, &req) {
		return
	}
	req.ConversationID = chi.URLParam(r, "id")

	msg, err := h.msgSvc.Send(r.Context(), userID, req)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, msg, http.StatusCreated)
}

// Upload accepts a multipart form with a "file" part and sends it as a
// message in the conversation.
func (h *MessageHandler) Upload(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	convID := chi.URLParam(r, "id")

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, "missing file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	encrypted := r.FormValue("encrypted") == "true"
	var duration *float64
	if v := r.FormValue("duration"); v != "" {
		if d, err := strconv.ParseFloat(v, 64); err == nil {
			duration = &d
		}
	}

	msg, err := h.msgSvc.SendFile(r.Context(), userID, convID, header.Filename, file,
		header.Header.Get("Content-Type"), encrypted, duration)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, msg, http.StatusCreated)
}

func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	convID := chi.URLParam(r, "id")
	limit, cursor := pageParams(r)

	msgs, hasMore, err := h.msgSvc.List(r.Context(), userID, convID, limit, cursor)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	next := ""
	if hasMore && len(msgs) > 0 {
		next = msgs[len(msgs)-1].ID
	}
	respondPage(w, msgs, next, hasMore, limit)
}

func (h *MessageHandler) Edit(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	msgID := chi.URLParam(r, "id")

	var req struct {
		Content string `json:"content"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	msg, err := h.msgSvc.Edit(r.Context(), userID, msgID, req.Content)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, msg, http.StatusOK)
}

func (h *MessageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	msgID := chi.URLParam(r, "id")

	if err := h.msgSvc.DeleteForEveryone(r.Context(), userID, msgID); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

func (h *MessageHandler) DeleteForMe(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	msgID := chi.URLParam(r, "id")

	if err := h.msgSvc.DeleteForMe(r.Context(), userID, msgID); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

func (h *MessageHandler) Search(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	limit, _ := pageParams(r)

	params := store.SearchMessagesParams{
		UserID:         userID,
		Query:          r.URL.Query().Get("q"),
		ConversationID: r.URL.Query().Get("conversation_id"),
		SenderID:       r.URL.Query().Get("sender_id"),
		Limit:          limit,
	}
	if v := r.URL.Query().Get("date_from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			params.DateFrom = &t
		}
	}
	if v := r.URL.Query().Get("date_to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			params.DateTo = &t
		}
	}

	msgs, err := h.msgSvc.Search(r.Context(), userID, params)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, map[string]any{"data": msgs}, http.StatusOK)
}

// Statuses returns per-recipient delivery states. Senders only.
func (h *MessageHandler) Statuses(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	msgID := chi.URLParam(r, "id")

	statuses, err := h.deliverySvc.Statuses(r.Context(), userID, msgID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, map[string]any{"data": statuses}, http.StatusOK)
}

func (h *MessageHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())

	var req struct {
		MessageIDs []string `json:"message_ids"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.MessageIDs) == 0 {
		respondError(w, "no message ids", http.StatusBadRequest)
		return
	}

	if err := h.deliverySvc.MarkRead(r.Context(), userID, req.MessageIDs); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

func (h *MessageHandler) MarkDelivered(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())

	var req struct {
		MessageIDs []string `json:"message_ids"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.MessageIDs) == 0 {
		respondError(w, "no message ids", http.StatusBadRequest)
		return
	}

	if err := h.deliverySvc.MarkDelivered(r.Context(), userID, req.MessageIDs); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

// AllUnread returns unread counts for every conversation of the caller.
func (h *MessageHandler) AllUnread(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())

	counts, err := h.deliverySvc.AllUnread(r.Context(), userID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, map[string]any{"data": counts}, http.StatusOK)
}
