package services

import (
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/cache"
	"github.com/parleyhq/parley/domain"
	"github.com/parleyhq/parley/protocol"
	"github.com/parleyhq/parley/store"
)

func newMessageService(dir ProfileDirectory, b Broadcaster) *MessageService {
	return NewMessageService(store.New(nil), cache.New(nil), dir, nil, b, testLogger())
}

func TestSend_PersistsStatusesAndBroadcasts(t *testing.T) {
	mock, ctx := newMock(t)
	b := &recordingBroadcaster{}
	dir := &stubDirectory{users: map[string]*domain.User{
		"usr_1": {ID: "usr_1", Name: "Ada"},
	}}
	svc := newMessageService(dir, b)

	expectIsMember(mock, "conv_1", "usr_1", true)
	mock.ExpectQuery(`SELECT user_id FROM parley_conversation_members`).
		WithArgs("conv_1").
		WillReturnRows(pgxmock.NewRows([]string{"user_id"}).AddRow("usr_1").AddRow("usr_2"))
	mock.ExpectQuery(`SELECT blocker_id FROM parley_user_blocks`).
		WithArgs("usr_1", []string{"usr_2"}).
		WillReturnRows(pgxmock.NewRows([]string{"blocker_id"}))
	mock.ExpectQuery(`SELECT id FROM parley_conversations WHERE id (.+) FOR UPDATE`).
		WithArgs("conv_1").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("conv_1"))
	mock.ExpectQuery(`INSERT INTO parley_messages`).
		WithArgs(pgxmock.AnyArg(), "conv_1", "usr_1", "hello", domain.MessageTypeText,
			pgxmock.AnyArg(), pgxmock.AnyArg(), false, "conv_1", false,
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"sequence_number"}).AddRow(int64(7)))
	mock.ExpectExec(`INSERT INTO parley_message_statuses`).
		WithArgs(pgxmock.AnyArg(), []string{"usr_1", "usr_2"},
			[]string{domain.StatusRead, domain.StatusSent}, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectExec(`UPDATE parley_conversations SET updated_at`).
		WithArgs("conv_1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	view, err := svc.Send(ctx, "usr_1", SendMessageInput{
		ConversationID: "conv_1",
		Content:        "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), view.SequenceNumber)
	assert.Equal(t, domain.StatusSent, view.Status)
	require.NotNil(t, view.Sender)
	assert.Equal(t, "Ada", view.Sender.Name)

	require.Len(t, b.conversation, 1)
	assert.Equal(t, protocol.EventMessageNew, b.conversation[0].Event)
	assert.Equal(t, "conv_1", b.conversation[0].Target)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSend_ReplyMustStayInConversation(t *testing.T) {
	mock, ctx := newMock(t)
	svc := newMessageService(&stubDirectory{}, &recordingBroadcaster{})

	expectIsMember(mock, "conv_1", "usr_1", true)
	mock.ExpectQuery(`FROM parley_messages WHERE id`).
		WithArgs("msg_elsewhere").
		WillReturnRows(messageRow("msg_elsewhere", "conv_2", "usr_2", "other", nil))

	replyTo := "msg_elsewhere"
	_, err := svc.Send(ctx, "usr_1", SendMessageInput{
		ConversationID: "conv_1",
		Content:        "hello",
		ReplyToID:      &replyTo,
	})
	assert.ErrorIs(t, err, domain.ErrReplyCrossesConv)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSend_EmptyTextRejected(t *testing.T) {
	mock, ctx := newMock(t)
	svc := newMessageService(&stubDirectory{}, &recordingBroadcaster{})

	expectIsMember(mock, "conv_1", "usr_1", true)

	_, err := svc.Send(ctx, "usr_1", SendMessageInput{ConversationID: "conv_1"})
	assert.ErrorIs(t, err, domain.ErrEmptyContent)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSend_NonMember(t *testing.T) {
	mock, ctx := newMock(t)
	svc := newMessageService(&stubDirectory{}, &recordingBroadcaster{})

	expectIsMember(mock, "conv_1", "usr_5", false)

	_, err := svc.Send(ctx, "usr_5", SendMessageInput{ConversationID: "conv_1", Content: "hi"})
	assert.ErrorIs(t, err, domain.ErrNotMember)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEdit_SenderOnly(t *testing.T) {
	mock, ctx := newMock(t)
	svc := newMessageService(&stubDirectory{}, &recordingBroadcaster{})

	mock.ExpectQuery(`FROM parley_messages WHERE id`).
		WithArgs("msg_1").
		WillReturnRows(messageRow("msg_1", "conv_1", "usr_9", "original", nil))

	_, err := svc.Edit(ctx, "usr_1", "msg_1", "changed")
	assert.ErrorIs(t, err, domain.ErrNotSender)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteForEveryone_TombstoneIsFinal(t *testing.T) {
	mock, ctx := newMock(t)
	svc := newMessageService(&stubDirectory{}, &recordingBroadcaster{})

	deleted := time.Now().UTC()
	mock.ExpectQuery(`FROM parley_messages WHERE id`).
		WithArgs("msg_1").
		WillReturnRows(messageRow("msg_1", "conv_1", "usr_1", "", &deleted))

	err := svc.DeleteForEveryone(ctx, "usr_1", "msg_1")
	assert.ErrorIs(t, err, domain.ErrMessageDeleted)

	require.NoError(t, mock.ExpectationsWereMet())
}
