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

func newDeliveryService(b Broadcaster) *DeliveryService {
	return NewDeliveryService(store.New(nil), cache.New(nil), b, testLogger(), time.Minute)
}

func TestMarkRead_AdvancesWatermarkAndBroadcasts(t *testing.T) {
	mock, ctx := newMock(t)
	b := &recordingBroadcaster{}
	svc := newDeliveryService(b)

	t1 := time.Now().UTC().Add(-time.Minute)
	t2 := time.Now().UTC()

	mock.ExpectQuery(`UPDATE parley_message_statuses ms`).
		WithArgs("usr_1", []string{"msg_1", "msg_2"}, domain.StatusRead, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"message_id", "conversation_id", "created_at"}).
			AddRow("msg_1", "conv_1", t1).
			AddRow("msg_2", "conv_1", t2))
	mock.ExpectExec(`UPDATE parley_conversation_members SET last_read_at`).
		WithArgs("conv_1", "usr_1", t2).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := svc.MarkRead(ctx, "usr_1", []string{"msg_1", "msg_2"})
	require.NoError(t, err)

	require.Len(t, b.conversation, 2)
	for _, ev := range b.conversation {
		assert.Equal(t, protocol.EventMessageStatus, ev.Event)
		assert.Equal(t, "conv_1", ev.Target)
		update := ev.Data.(protocol.StatusUpdate)
		assert.Equal(t, domain.StatusRead, update.Status)
		assert.Equal(t, "usr_1", update.UserID)
	}

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkRead_NoChangesNoBroadcast(t *testing.T) {
	mock, ctx := newMock(t)
	b := &recordingBroadcaster{}
	svc := newDeliveryService(b)

	mock.ExpectQuery(`UPDATE parley_message_statuses ms`).
		WithArgs("usr_1", []string{"msg_1"}, domain.StatusRead, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"message_id", "conversation_id", "created_at"}))

	err := svc.MarkRead(ctx, "usr_1", []string{"msg_1"})
	require.NoError(t, err)
	assert.Empty(t, b.conversation)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkConversationRead_NonMember(t *testing.T) {
	mock, ctx := newMock(t)
	svc := newDeliveryService(&recordingBroadcaster{})

	expectIsMember(mock, "conv_1", "usr_1", false)

	err := svc.MarkConversationRead(ctx, "usr_1", "conv_1")
	assert.ErrorIs(t, err, domain.ErrNotMember)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUnreadCount_FallsThroughToStore(t *testing.T) {
	mock, ctx := newMock(t)
	svc := newDeliveryService(&recordingBroadcaster{})

	mock.ExpectQuery(`SELECT m.conversation_id, COUNT`).
		WithArgs("usr_1", []string{"conv_1"}).
		WillReturnRows(pgxmock.NewRows([]string{"conversation_id", "count"}).AddRow("conv_1", 3))

	count, err := svc.UnreadCount(ctx, "usr_1", "conv_1")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPromoteOnConnect_BroadcastsDelivered(t *testing.T) {
	mock, ctx := newMock(t)
	b := &recordingBroadcaster{}
	svc := newDeliveryService(b)

	mock.ExpectQuery(`UPDATE parley_message_statuses ms`).
		WithArgs("usr_1", domain.StatusDelivered, pgxmock.AnyArg(), domain.StatusSent).
		WillReturnRows(pgxmock.NewRows([]string{"message_id", "conversation_id", "created_at"}).
			AddRow("msg_1", "conv_1", time.Now().UTC()))

	err := svc.PromoteOnConnect(ctx, "usr_1")
	require.NoError(t, err)

	require.Len(t, b.conversation, 1)
	update := b.conversation[0].Data.(protocol.StatusUpdate)
	assert.Equal(t, domain.StatusDelivered, update.Status)

	require.NoError(t, mock.ExpectationsWereMet())
}
