package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/parleyhq/parley/domain"
)

// Profile is a user record as the external directory represents it.
type Profile struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Name      string `json:"name"`
	Image     string `json:"image"`
	Title     string `json:"title"`
	Division  string `json:"division"`
	Role      string `json:"role"`
	IsActive  bool   `json:"is_active"`
	IsLeader  bool   `json:"is_leader"`
}

// Client talks to the external identity provider. Failures map to
// domain.ErrUpstreamUnavailable so callers can degrade instead of failing.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

// Login proxies a credential check to the provider and returns its token.
func (c *Client) Login(ctx context.Context, email, password string) (string, *Profile, error) {
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return "", nil, fmt.Errorf("encode login request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/login", bytes.NewReader(body))
	if err != nil {
		return "", nil, fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("identity login: %w", domain.ErrUpstreamUnavailable)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return "", nil, domain.ErrUnauthenticated
	case resp.StatusCode >= 500:
		return "", nil, fmt.Errorf("identity login status %d: %w", resp.StatusCode, domain.ErrUpstreamUnavailable)
	case resp.StatusCode != http.StatusOK:
		return "", nil, fmt.Errorf("identity login status %d: %w", resp.StatusCode, domain.ErrValidation)
	}

	var out struct {
		Token   string   `json:"token"`
		Profile *Profile `json:"user"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", nil, fmt.Errorf("decode login response: %w", err)
	}
	return out.Token, out.Profile, nil
}

// Profiles batch-fetches directory profiles by external id.
func (c *Client) Profiles(ctx context.Context, externalIDs []string) ([]*Profile, error) {
	if len(externalIDs) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(map[string][]string{"ids": externalIDs})
	if err != nil {
		return nil, fmt.Errorf("encode profiles request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/users/batch", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build profiles request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch profiles: %w", domain.ErrUpstreamUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch profiles status %d: %w", resp.StatusCode, domain.ErrUpstreamUnavailable)
	}

	var out struct {
		Users []*Profile `json:"users"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode profiles response: %w", err)
	}
	return out.Users, nil
}

// Health pings the provider.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("identity health: %w", domain.ErrUpstreamUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("identity health status %d: %w", resp.StatusCode, domain.ErrUpstreamUnavailable)
	}
	return nil
}
