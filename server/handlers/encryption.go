package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/parleyhq/parley/domain"
	"github.com/parleyhq/parley/services"
)

type EncryptionHandler struct {
	encSvc *services.EncryptionService
}

func NewEncryptionHandler(encSvc *services.EncryptionService) *EncryptionHandler {
	return &EncryptionHandler{encSvc: encSvc}
}

func (h *EncryptionHandler) UploadBundle(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())

	var req services.UploadBundleInput
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.encSvc.UploadBundle(r.Context(), userID, req); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "ok"}, http.StatusCreated)
}

// GetBundle returns the target user's bundle and consumes one of their
// one-time pre-keys, so each call serves exactly one new session.
func (h *EncryptionHandler) GetBundle(w http.ResponseWriter, r *http.Request) {
	targetID := chi.URLParam(r, "userID")

	bundle, err := h.encSvc.GetBundle(r.Context(), targetID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, bundle, http.StatusOK)
}

func (h *EncryptionHandler) Replenish(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())

	var req struct {
		PreKeys []services.PreKeyInput `json:"prekeys"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	added, err := h.encSvc.Replenish(r.Context(), userID, req.PreKeys)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, map[string]int64{"added": added}, http.StatusCreated)
}

func (h *EncryptionHandler) PreKeyCount(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())

	count, err := h.encSvc.PreKeyCount(r.Context(), userID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, map[string]int{"count": count}, http.StatusOK)
}

func (h *EncryptionHandler) DistributeSenderKey(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())

	var req services.DistributeSenderKeyInput
	if !decodeBody(w, r, &req) {
		return
	}
	req.ConversationID = chi.URLParam(r, "id")

	if err := h.encSvc.DistributeSenderKey(r.Context(), userID, req); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "ok"}, http.StatusCreated)
}

func (h *EncryptionHandler) SenderKeys(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	convID := chi.URLParam(r, "id")

	keys, err := h.encSvc.SenderKeys(r.Context(), userID, convID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, map[string]any{"data": keys}, http.StatusOK)
}

func (h *EncryptionHandler) SaveBackup(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())

	var backup domain.KeyBackup
	if !decodeBody(w, r, &backup) {
		return
	}
	backup.UserID = userID

	if err := h.encSvc.SaveBackup(r.Context(), &backup); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "ok"}, http.StatusCreated)
}

func (h *EncryptionHandler) GetBackup(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())

	backup, err := h.encSvc.GetBackup(r.Context(), userID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, backup, http.StatusOK)
}

func (h *EncryptionHandler) SaveConversationBackup(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())

	var backup domain.ConversationKeyBackup
	if !decodeBody(w, r, &backup) {
		return
	}
	backup.UserID = userID
	backup.ConversationID = chi.URLParam(r, "id")

	if err := h.encSvc.SaveConversationBackup(r.Context(), &backup); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "ok"}, http.StatusCreated)
}

func (h *EncryptionHandler) GetConversationBackup(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	convID := chi.URLParam(r, "id")

	backup, err := h.encSvc.GetConversationBackup(r.Context(), userID, convID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, backup, http.StatusOK)
}

func (h *EncryptionHandler) ListConversationBackups(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())

	backups, err := h.encSvc.ListConversationBackups(r.Context(), userID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, map[string]any{"data": backups}, http.StatusOK)
}
