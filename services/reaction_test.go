package services

import (
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/domain"
	"github.com/parleyhq/parley/protocol"
	"github.com/parleyhq/parley/store"
)

func expectGetReaction(mock pgxmock.PgxPoolIface, messageID, userID, emoji string) {
	mock.ExpectQuery(`SELECT id, message_id, user_id, emoji, created_at FROM parley_message_reactions`).
		WithArgs(messageID, userID).
		WillReturnRows(pgxmock.NewRows([]string{"id", "message_id", "user_id", "emoji", "created_at"}).
			AddRow("react_old", messageID, userID, emoji, time.Now().UTC()))
}

func TestReactionAdd_SwitchReplacesAndBroadcastsInOrder(t *testing.T) {
	mock, ctx := newMock(t)
	b := &recordingBroadcaster{}
	svc := NewReactionService(store.New(nil), b, testLogger())

	mock.ExpectQuery(`FROM parley_messages WHERE id`).
		WithArgs("msg_1").
		WillReturnRows(messageRow("msg_1", "conv_1", "usr_9", "hello", nil))
	expectIsMember(mock, "conv_1", "usr_1", true)
	expectGetReaction(mock, "msg_1", "usr_1", "👍")
	mock.ExpectExec(`DELETE FROM parley_message_reactions`).
		WithArgs("msg_1", "usr_1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(`INSERT INTO parley_message_reactions`).
		WithArgs(pgxmock.AnyArg(), "msg_1", "usr_1", "❤️", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	reaction, err := svc.Add(ctx, "usr_1", "msg_1", "❤️")
	require.NoError(t, err)
	assert.Equal(t, "❤️", reaction.Emoji)

	require.Len(t, b.conversation, 2)
	assert.Equal(t, protocol.EventReactionRemoved, b.conversation[0].Event)
	assert.Equal(t, protocol.EventReactionAdded, b.conversation[1].Event)
	assert.Equal(t, "conv_1", b.conversation[0].Target)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReactionAdd_SameEmojiConflicts(t *testing.T) {
	mock, ctx := newMock(t)
	b := &recordingBroadcaster{}
	svc := NewReactionService(store.New(nil), b, testLogger())

	mock.ExpectQuery(`FROM parley_messages WHERE id`).
		WithArgs("msg_1").
		WillReturnRows(messageRow("msg_1", "conv_1", "usr_9", "hello", nil))
	expectIsMember(mock, "conv_1", "usr_1", true)
	expectGetReaction(mock, "msg_1", "usr_1", "👍")

	_, err := svc.Add(ctx, "usr_1", "msg_1", "👍")
	assert.ErrorIs(t, err, domain.ErrDuplicateReaction)
	assert.Empty(t, b.conversation)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReactionAdd_DeletedMessage(t *testing.T) {
	mock, ctx := newMock(t)
	svc := NewReactionService(store.New(nil), &recordingBroadcaster{}, testLogger())

	deleted := time.Now().UTC()
	mock.ExpectQuery(`FROM parley_messages WHERE id`).
		WithArgs("msg_1").
		WillReturnRows(messageRow("msg_1", "conv_1", "usr_9", "", &deleted))

	_, err := svc.Add(ctx, "usr_1", "msg_1", "👍")
	assert.ErrorIs(t, err, domain.ErrMessageDeleted)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReactionAdd_NonMember(t *testing.T) {
	mock, ctx := newMock(t)
	svc := NewReactionService(store.New(nil), &recordingBroadcaster{}, testLogger())

	mock.ExpectQuery(`FROM parley_messages WHERE id`).
		WithArgs("msg_1").
		WillReturnRows(messageRow("msg_1", "conv_1", "usr_9", "hello", nil))
	expectIsMember(mock, "conv_1", "usr_5", false)

	_, err := svc.Add(ctx, "usr_5", "msg_1", "👍")
	assert.ErrorIs(t, err, domain.ErrNotMember)

	require.NoError(t, mock.ExpectationsWereMet())
}
