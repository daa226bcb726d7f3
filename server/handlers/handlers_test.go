package handlers

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/cache"
	"github.com/parleyhq/parley/domain"
	"github.com/parleyhq/parley/services"
	"github.com/parleyhq/parley/store"
)

// testRouter wires real services over a pgxmock connection. A middleware
// places the mock at the store's transaction slot and the test user on the
// context, so requests run the same code paths as production.
func testRouter(t *testing.T, userID string, register func(chi.Router)) (chi.Router, pgxmock.PgxPoolIface) {
	t.Helper()

	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := store.ContextWithTx(req.Context(), mock)
			ctx = SetUserInContext(ctx, &domain.User{ID: userID, Name: "Tester"})
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	register(r)
	return r, mock
}

func TestGetConversationNotFound(t *testing.T) {
	convSvc := services.NewConversationService(store.New(nil), cache.New(nil), services.NopBroadcaster{}, slog.Default())
	h := NewConversationHandler(convSvc, nil, nil)

	router, mock := testRouter(t, "usr_1", func(r chi.Router) {
		r.Get("/conversations/{id}", h.Get)
	})

	mock.ExpectQuery(`FROM parley_conversations WHERE id`).
		WithArgs("conv_missing").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "type", "name", "avatar_url", "avatar_object_key", "created_by", "created_at", "updated_at",
		}))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/conversations/conv_missing", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSendMessageEmptyContentRejected(t *testing.T) {
	msgSvc := services.NewMessageService(store.New(nil), cache.New(nil), nil, nil, services.NopBroadcaster{}, slog.Default())
	h := NewMessageHandler(msgSvc, nil)

	router, mock := testRouter(t, "usr_1", func(r chi.Router) {
		r.Post("/conversations/{id}/messages", h.Send)
	})

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("conv_1", "usr_1").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	req := httptest.NewRequest(http.MethodPost, "/conversations/conv_1/messages",
		strings.NewReader(`{"content":""}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSendMessageBadBody(t *testing.T) {
	msgSvc := services.NewMessageService(store.New(nil), cache.New(nil), nil, nil, services.NopBroadcaster{}, slog.Default())
	h := NewMessageHandler(msgSvc, nil)

	router, _ := testRouter(t, "usr_1", func(r chi.Router) {
		r.Post("/conversations/{id}/messages", h.Send)
	})

	req := httptest.NewRequest(http.MethodPost, "/conversations/conv_1/messages",
		strings.NewReader(`{not json`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMarkReadRequiresIDs(t *testing.T) {
	deliverySvc := services.NewDeliveryService(store.New(nil), cache.New(nil), services.NopBroadcaster{}, slog.Default(), 0)
	h := NewMessageHandler(nil, deliverySvc)

	router, _ := testRouter(t, "usr_1", func(r chi.Router) {
		r.Post("/messages/read", h.MarkRead)
	})

	req := httptest.NewRequest(http.MethodPost, "/messages/read",
		strings.NewReader(`{"message_ids":[]}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLoginWithoutProviderReturns503(t *testing.T) {
	h := NewAuthHandler(nil)

	req := httptest.NewRequest(http.MethodPost, "/auth/login",
		strings.NewReader(`{"email":"a@example.com","password":"pw"}`))
	rec := httptest.NewRecorder()
	h.Login(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestFileProxyWithoutStorageReturns503(t *testing.T) {
	h := NewFileHandler(nil)

	rec := httptest.NewRecorder()
	h.Proxy(rec, httptest.NewRequest(http.MethodGet, "/files/proxy?url=https://x/y", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
