package services

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/domain"
	"github.com/parleyhq/parley/protocol"
	"github.com/parleyhq/parley/store"
)

// newMock returns a pgxmock pool and a context that routes every store call
// to it, bypassing the real pool.
func newMock(t *testing.T) (pgxmock.PgxPoolIface, context.Context) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, store.ContextWithTx(context.Background(), mock)
}

type sentEvent struct {
	Target string
	Event  protocol.EventType
	Data   any
}

// recordingBroadcaster captures fanout calls in order.
type recordingBroadcaster struct {
	conversation []sentEvent
	user         []sentEvent
}

func (b *recordingBroadcaster) ToConversation(conversationID string, event protocol.EventType, data any) {
	b.conversation = append(b.conversation, sentEvent{conversationID, event, data})
}

func (b *recordingBroadcaster) ToUser(userID string, event protocol.EventType, data any) {
	b.user = append(b.user, sentEvent{userID, event, data})
}

type stubDirectory struct {
	users map[string]*domain.User
	err   error
}

func (d *stubDirectory) Users(_ context.Context, ids []string) (map[string]*domain.User, error) {
	if d.err != nil {
		return nil, d.err
	}
	out := map[string]*domain.User{}
	for _, id := range ids {
		if u, ok := d.users[id]; ok {
			out[id] = u
		}
	}
	return out, nil
}

func testLogger() *slog.Logger {
	return slog.Default()
}

func messageColumns() []string {
	return []string{
		"id", "conversation_id", "sender_id", "content", "type", "metadata", "reply_to_id",
		"is_edited", "sequence_number", "encrypted", "encryption_version", "sender_key_id",
		"created_at", "updated_at", "deleted_at",
	}
}

func messageRow(id, conversationID, senderID, content string, deletedAt *time.Time) *pgxmock.Rows {
	return pgxmock.NewRows(messageColumns()).AddRow(
		id, conversationID, senderID, content, domain.MessageTypeText, map[string]any(nil), nil,
		false, int64(1), false, nil, nil,
		time.Now().UTC(), nil, deletedAt,
	)
}

func expectIsMember(mock pgxmock.PgxPoolIface, conversationID, userID string, member bool) {
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(conversationID, userID).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(member))
}
