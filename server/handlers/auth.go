package handlers

import (
	"net/http"

	"github.com/parleyhq/parley/identity"
)

// AuthHandler proxies credential logins to the external identity provider.
// When the provider is not configured the endpoint reports 503; tokens are
// then expected to come from elsewhere and are still verified locally.
type AuthHandler struct {
	client *identity.Client
}

func NewAuthHandler(client *identity.Client) *AuthHandler {
	return &AuthHandler{client: client}
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if h.client == nil {
		respondError(w, "identity provider not configured", http.StatusServiceUnavailable)
		return
	}

	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		respondError(w, "email and password required", http.StatusBadRequest)
		return
	}

	token, profile, err := h.client.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, map[string]any{
		"token": token,
		"user":  profile,
	}, http.StatusOK)
}
