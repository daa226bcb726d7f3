package handlers

import (
	"io"
	"net/http"
	"strconv"

	"github.com/parleyhq/parley/files"
)

// FileHandler streams stored objects through the API so storage credentials
// never reach clients.
type FileHandler struct {
	storage *files.Storage
}

func NewFileHandler(storage *files.Storage) *FileHandler {
	return &FileHandler{storage: storage}
}

func (h *FileHandler) Proxy(w http.ResponseWriter, r *http.Request) {
	if h.storage == nil {
		respondError(w, "file storage not configured", http.StatusServiceUnavailable)
		return
	}

	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		respondError(w, "missing url", http.StatusBadRequest)
		return
	}

	body, contentType, size, err := h.storage.Fetch(r.Context(), rawURL)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	defer body.Close()

	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	if size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	w.Header().Set("Cache-Control", "private, max-age=3600")

	if _, err := io.Copy(w, body); err != nil {
		// Headers are already out; nothing to do but log at the caller.
		return
	}
}
