package services

import (
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/domain"
	"github.com/parleyhq/parley/store"
)

func pollColumns() []string {
	return []string{"id", "message_id", "question", "multiple_choice", "expires_at", "created_at"}
}

func TestPollVote_SingleChoiceRejectsMultipleOptions(t *testing.T) {
	mock, ctx := newMock(t)
	svc := NewPollService(store.New(nil), &recordingBroadcaster{}, testLogger())

	mock.ExpectQuery(`FROM parley_polls WHERE id`).
		WithArgs("poll_1").
		WillReturnRows(pgxmock.NewRows(pollColumns()).
			AddRow("poll_1", "msg_1", "lunch?", false, nil, time.Now().UTC()))
	mock.ExpectQuery(`FROM parley_messages WHERE id`).
		WithArgs("msg_1").
		WillReturnRows(messageRow("msg_1", "conv_1", "usr_9", "lunch?", nil))
	expectIsMember(mock, "conv_1", "usr_1", true)
	mock.ExpectQuery(`FROM parley_polls WHERE id (.+) FOR UPDATE`).
		WithArgs("poll_1").
		WillReturnRows(pgxmock.NewRows(pollColumns()).
			AddRow("poll_1", "msg_1", "lunch?", false, nil, time.Now().UTC()))

	_, err := svc.Vote(ctx, "usr_1", "poll_1", []string{"opt_1", "opt_2"})
	assert.ErrorIs(t, err, domain.ErrSingleChoicePoll)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPollVote_ExpiredPoll(t *testing.T) {
	mock, ctx := newMock(t)
	svc := NewPollService(store.New(nil), &recordingBroadcaster{}, testLogger())

	expired := time.Now().UTC().Add(-time.Hour)
	mock.ExpectQuery(`FROM parley_polls WHERE id`).
		WithArgs("poll_1").
		WillReturnRows(pgxmock.NewRows(pollColumns()).
			AddRow("poll_1", "msg_1", "lunch?", true, &expired, time.Now().UTC()))
	mock.ExpectQuery(`FROM parley_messages WHERE id`).
		WithArgs("msg_1").
		WillReturnRows(messageRow("msg_1", "conv_1", "usr_9", "lunch?", nil))
	expectIsMember(mock, "conv_1", "usr_1", true)
	mock.ExpectQuery(`FROM parley_polls WHERE id (.+) FOR UPDATE`).
		WithArgs("poll_1").
		WillReturnRows(pgxmock.NewRows(pollColumns()).
			AddRow("poll_1", "msg_1", "lunch?", true, &expired, time.Now().UTC()))

	_, err := svc.Vote(ctx, "usr_1", "poll_1", []string{"opt_1"})
	assert.ErrorIs(t, err, domain.ErrPollExpired)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPollVote_UnknownOption(t *testing.T) {
	mock, ctx := newMock(t)
	svc := NewPollService(store.New(nil), &recordingBroadcaster{}, testLogger())

	mock.ExpectQuery(`FROM parley_polls WHERE id`).
		WithArgs("poll_1").
		WillReturnRows(pgxmock.NewRows(pollColumns()).
			AddRow("poll_1", "msg_1", "lunch?", true, nil, time.Now().UTC()))
	mock.ExpectQuery(`FROM parley_messages WHERE id`).
		WithArgs("msg_1").
		WillReturnRows(messageRow("msg_1", "conv_1", "usr_9", "lunch?", nil))
	expectIsMember(mock, "conv_1", "usr_1", true)
	mock.ExpectQuery(`FROM parley_polls WHERE id (.+) FOR UPDATE`).
		WithArgs("poll_1").
		WillReturnRows(pgxmock.NewRows(pollColumns()).
			AddRow("poll_1", "msg_1", "lunch?", true, nil, time.Now().UTC()))
	mock.ExpectQuery(`FROM parley_poll_options`).
		WithArgs("poll_1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "poll_id", "option_text", "position"}).
			AddRow("opt_1", "poll_1", "pizza", 0).
			AddRow("opt_2", "poll_1", "sushi", 1))

	_, err := svc.Vote(ctx, "usr_1", "poll_1", []string{"opt_9"})
	assert.ErrorIs(t, err, domain.ErrUnknownPollOption)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPollCreate_OptionBounds(t *testing.T) {
	mock, ctx := newMock(t)
	svc := NewPollService(store.New(nil), &recordingBroadcaster{}, testLogger())

	expectIsMember(mock, "conv_1", "usr_1", true)
	_, err := svc.Create(ctx, "usr_1", CreatePollInput{
		ConversationID: "conv_1",
		Question:       "lunch?",
		Options:        []string{"pizza"},
	})
	assert.ErrorIs(t, err, domain.ErrValidation)

	require.NoError(t, mock.ExpectationsWereMet())
}
