package store

import (
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/parleyhq/parley/domain"
	"github.com/pashagolub/pgxmock/v4"
)

func TestCreateMessage_AssignsSequence(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	s := New(nil)

	msg := &domain.Message{
		ID:             "msg_1",
		ConversationID: "conv_1",
		SenderID:       "usr_1",
		Content:        "hello",
		Type:           domain.MessageTypeText,
		CreatedAt:      time.Now().UTC(),
	}

	mock.ExpectQuery("SELECT id FROM parley_conversations").
		WithArgs("conv_1").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("conv_1"))

	mock.ExpectQuery("INSERT INTO parley_messages").
		WithArgs(
			msg.ID, msg.ConversationID, msg.SenderID, msg.Content, msg.Type, msg.Metadata, msg.ReplyToID,
			msg.IsEdited, msg.ConversationID, msg.Encrypted, msg.EncryptionVersion, msg.SenderKeyID, msg.CreatedAt,
		).
		WillReturnRows(pgxmock.NewRows([]string{"sequence_number"}).AddRow(int64(7)))

	ctx := setupMockContext(mock)
	if err := s.CreateMessage(ctx, msg); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	if msg.SequenceNumber != 7 {
		t.Errorf("expected sequence 7, got %d", msg.SequenceNumber)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestCreateMessage_ConversationMissing(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	s := New(nil)

	mock.ExpectQuery("SELECT id FROM parley_conversations").
		WithArgs("conv_missing").
		WillReturnError(pgx.ErrNoRows)

	ctx := setupMockContext(mock)
	err = s.CreateMessage(ctx, &domain.Message{
		ID:             "msg_1",
		ConversationID: "conv_missing",
		SenderID:       "usr_1",
		Type:           domain.MessageTypeText,
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestListMessages_FirstPage(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	s := New(nil)
	now := time.Now().UTC()

	rows := pgxmock.NewRows([]string{
		"id", "conversation_id", "sender_id", "content", "type", "metadata", "reply_to_id",
		"is_edited", "sequence_number", "encrypted", "encryption_version", "sender_key_id",
		"created_at", "updated_at", "deleted_at",
	}).
		AddRow("msg_2", "conv_1", "usr_1", "second", "TEXT", map[string]any(nil), nil,
			false, int64(2), false, nil, nil, now, nil, nil).
		AddRow("msg_1", "conv_1", "usr_2", "first", "TEXT", map[string]any(nil), nil,
			false, int64(1), false, nil, nil, now.Add(-time.Minute), nil, nil)

	mock.ExpectQuery("SELECT (.+) FROM parley_messages").
		WithArgs("conv_1", "usr_1", 50).
		WillReturnRows(rows)

	ctx := setupMockContext(mock)
	msgs, err := s.ListMessages(ctx, "conv_1", "usr_1", 50, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].SequenceNumber != 2 || msgs[1].SequenceNumber != 1 {
		t.Errorf("expected descending sequence, got %d then %d", msgs[0].SequenceNumber, msgs[1].SequenceNumber)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestListMessages_CursorResolved(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	s := New(nil)
	cursorAt := time.Now().UTC()

	mock.ExpectQuery("SELECT sequence_number, created_at FROM parley_messages").
		WithArgs("msg_10").
		WillReturnRows(pgxmock.NewRows([]string{"sequence_number", "created_at"}).AddRow(int64(10), cursorAt))

	mock.ExpectQuery("SELECT (.+) FROM parley_messages").
		WithArgs("conv_1", "usr_1", int64(10), cursorAt, "msg_10", 20).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "conversation_id", "sender_id", "content", "type", "metadata", "reply_to_id",
			"is_edited", "sequence_number", "encrypted", "encryption_version", "sender_key_id",
			"created_at", "updated_at", "deleted_at",
		}))

	ctx := setupMockContext(mock)
	msgs, err := s.ListMessages(ctx, "conv_1", "usr_1", 20, "msg_10")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("expected empty page, got %d", len(msgs))
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestSoftDeleteMessage_AlreadyDeleted(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	s := New(nil)

	mock.ExpectExec("UPDATE parley_messages").
		WithArgs("msg_1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ctx := setupMockContext(mock)
	err = s.SoftDeleteMessage(ctx, "msg_1", time.Now().UTC())
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestMarkDeletedForUser_Idempotent(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	s := New(nil)

	mock.ExpectExec("INSERT INTO parley_user_deleted_messages").
		WithArgs("usr_1", "msg_1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	ctx := setupMockContext(mock)
	if err := s.MarkDeletedForUser(ctx, "usr_1", "msg_1"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
