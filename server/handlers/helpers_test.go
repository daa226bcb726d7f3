package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/domain"
)

func TestRespondDomainErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{domain.ErrUnauthenticated, http.StatusUnauthorized},
		{domain.ErrNotMember, http.StatusForbidden},
		{domain.ErrNotAdmin, http.StatusForbidden},
		{domain.ErrNotSender, http.StatusForbidden},
		{fmt.Errorf("%w: conversation conv_1", domain.ErrNotFound), http.StatusNotFound},
		{domain.ErrDuplicateReaction, http.StatusConflict},
		{domain.ErrRateLimited, http.StatusTooManyRequests},
		{domain.ErrUpstreamUnavailable, http.StatusServiceUnavailable},
		{domain.ErrEmptyContent, http.StatusBadRequest},
		{domain.ErrDMImmutable, http.StatusBadRequest},
		{domain.ErrPollExpired, http.StatusBadRequest},
		{domain.ErrFileTooLarge, http.StatusBadRequest},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		rec := httptest.NewRecorder()
		respondDomainError(rec, tc.err)
		assert.Equal(t, tc.status, rec.Code, "error %v", tc.err)

		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.NotEmpty(t, body["error"])
	}
}

func TestInternalErrorsDoNotLeakDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	respondDomainError(rec, errors.New("pq: password authentication failed"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "internal server error", body["error"])
}

func TestPageParamsClamping(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=500&cursor=msg_9", nil)
	limit, cursor := pageParams(req)
	assert.Equal(t, maxPageLimit, limit)
	assert.Equal(t, "msg_9", cursor)

	req = httptest.NewRequest(http.MethodGet, "/?limit=-3", nil)
	limit, _ = pageParams(req)
	assert.Equal(t, 1, limit)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	limit, cursor = pageParams(req)
	assert.Equal(t, defaultPageLimit, limit)
	assert.Empty(t, cursor)
}

func TestRespondPageShape(t *testing.T) {
	rec := httptest.NewRecorder()
	respondPage(rec, []string{"a", "b"}, "cur_b", true, 2)

	var body struct {
		Data       []string `json:"data"`
		Pagination struct {
			NextCursor string `json:"next_cursor"`
			HasMore    bool   `json:"has_more"`
			Limit      int    `json:"limit"`
		} `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []string{"a", "b"}, body.Data)
	assert.Equal(t, "cur_b", body.Pagination.NextCursor)
	assert.True(t, body.Pagination.HasMore)
	assert.Equal(t, 2, body.Pagination.Limit)
}

func TestUserContextRoundTrip(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	user := &domain.User{ID: "usr_1", Name: "Ada"}

	ctx := SetUserInContext(req.Context(), user)
	assert.Equal(t, "usr_1", UserIDFromContext(ctx))
	assert.Equal(t, user, UserFromContext(ctx))

	assert.Empty(t, UserIDFromContext(req.Context()))
	assert.Nil(t, UserFromContext(req.Context()))
}
