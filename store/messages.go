package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/parleyhq/parley/domain"
)

// CreateMessage assigns the next sequence number and inserts the message.
// Must run inside a transaction: the conversation row is locked first so
// concurrent sends to the same conversation serialize and sequence numbers
// stay strictly increasing.
func (s *Store) CreateMessage(ctx context.Context, msg *domain.Message) error {
	var locked string
	err := s.conn(ctx).QueryRow(ctx,
		`SELECT id FROM parley_conversations WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`,
		msg.ConversationID).Scan(&locked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("lock conversation: %w", err)
	}

	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	// The conversation id is bound twice ($2 and $9): pgx cannot infer the
	// type of $2 reused inside the subselect.
	query := `
		INSERT INTO parley_messages (
			id, conversation_id, sender_id, content, type, metadata, reply_to_id,
			is_edited, sequence_number, encrypted, encryption_version, sender_key_id, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8,
			COALESCE((
				SELECT MAX(sequence_number) + 1
				FROM parley_messages
				WHERE conversation_id = $9
			), 1),
			$10, $11, $12, $13
		)
		RETURNING sequence_number`

	err = s.conn(ctx).QueryRow(ctx, query,
		msg.ID, msg.ConversationID, msg.SenderID, msg.Content, msg.Type, msg.Metadata, msg.ReplyToID,
		msg.IsEdited,
		msg.ConversationID, // $9 - duplicate for subquery
		msg.Encrypted, msg.EncryptionVersion, msg.SenderKeyID, msg.CreatedAt,
	).Scan(&msg.SequenceNumber)
	if err != nil {
		return WrapConflict("create message", err)
	}
	return nil
}

// GetMessage retrieves a message by id. Soft-deleted messages are returned
// with deleted_at set; callers decide whether a tombstone is acceptable.
func (s *Store) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	query := messageSelect + ` WHERE id = $1`

	msg := &domain.Message{}
	err := s.conn(ctx).QueryRow(ctx, query, id).Scan(messageFields(msg)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	return msg, nil
}

// UpdateMessageContent edits a message in place and flags it as edited.
func (s *Store) UpdateMessageContent(ctx context.Context, id, content string) (*domain.Message, error) {
	query := `
		UPDATE parley_messages
		SET content = $2, is_edited = true, updated_at = $3
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING id, conversation_id, sender_id, content, type, metadata, reply_to_id,
		          is_edited, sequence_number, encrypted, encryption_version, sender_key_id,
		          created_at, updated_at, deleted_at`

	msg := &domain.Message{}
	err := s.conn(ctx).QueryRow(ctx, query, id, content, time.Now().UTC()).Scan(messageFields(msg)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("update message content: %w", err)
	}
	return msg, nil
}

// SoftDeleteMessage deletes a message for everyone. The row remains and
// renders as a tombstone.
func (s *Store) SoftDeleteMessage(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE parley_messages SET deleted_at = $2 WHERE id = $1 AND deleted_at IS NULL`
	result, err := s.conn(ctx).Exec(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("soft delete message: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkDeletedForUser hides a message from one user's listings. Idempotent.
func (s *Store) MarkDeletedForUser(ctx context.Context, userID, messageID string) error {
	query := `
		INSERT INTO parley_user_deleted_messages (user_id, message_id, deleted_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, message_id) DO NOTHING`

	_, err := s.conn(ctx).Exec(ctx, query, userID, messageID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark deleted for user: %w", err)
	}
	return nil
}

// ClearConversationForUser hides every current message of a conversation from
// the user. Returns how many were newly hidden.
func (s *Store) ClearConversationForUser(ctx context.Context, conversationID, userID string) (int64, error) {
	query := `
		INSERT INTO parley_user_deleted_messages (user_id, message_id, deleted_at)
		SELECT $2, id, $3 FROM parley_messages WHERE conversation_id = $1
		ON CONFLICT (user_id, message_id) DO NOTHING`

	result, err := s.conn(ctx).Exec(ctx, query, conversationID, userID, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("clear conversation: %w", err)
	}
	return result.RowsAffected(), nil
}

// ListMessages pages a conversation newest-first. Soft-deleted messages are
// included (tombstones); messages the viewer deleted for themselves are not.
// The cursor is the last message id of the previous page, resolved to its
// (sequence_number, created_at) so the page filter is a strict keyset.
func (s *Store) ListMessages(ctx context.Context, conversationID, viewerID string, limit int, cursor string) ([]*domain.Message, error) {
	query := messageSelect + `
		WHERE conversation_id = $1
		  AND NOT EXISTS (
			SELECT 1 FROM parley_user_deleted_messages udm
			WHERE udm.message_id = parley_messages.id AND udm.user_id = $2
		  )`
	args := []any{conversationID, viewerID}

	if cursor != "" {
		var cursorSeq int64
		var cursorCreatedAt time.Time
		err := s.conn(ctx).QueryRow(ctx,
			`SELECT sequence_number, created_at FROM parley_messages WHERE id = $1`,
			cursor).Scan(&cursorSeq, &cursorCreatedAt)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, domain.ErrNotFound
			}
			return nil, fmt.Errorf("resolve message cursor: %w", err)
		}
		query += ` AND (sequence_number, created_at, id) < ($3, $4, $5)`
		args = append(args, cursorSeq, cursorCreatedAt, cursor)
	}

	query += fmt.Sprintf(`
		ORDER BY sequence_number DESC, created_at DESC, id DESC
		LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := s.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// SearchMessagesParams filters full-text message search. UserID is required;
// results are always limited to conversations the user belongs to.
type SearchMessagesParams struct {
	UserID         string
	Query          string
	ConversationID string
	SenderID       string
	DateFrom       *time.Time
	DateTo         *time.Time
	Limit          int
}

// SearchMessages matches message content with tsvector, falling back to a
// substring match for partial words.
func (s *Store) SearchMessages(ctx context.Context, params SearchMessagesParams) ([]*domain.Message, error) {
	query := `
		SELECT m.id, m.conversation_id, m.sender_id, m.content, m.type, m.metadata, m.reply_to_id,
		       m.is_edited, m.sequence_number, m.encrypted, m.encryption_version, m.sender_key_id,
		       m.created_at, m.updated_at, m.deleted_at
		FROM parley_messages m
		JOIN parley_conversation_members cm
		  ON cm.conversation_id = m.conversation_id AND cm.user_id = $1
		WHERE m.deleted_at IS NULL
		  AND NOT EXISTS (
			SELECT 1 FROM parley_user_deleted_messages udm
			WHERE udm.message_id = m.id AND udm.user_id = $1
		  )
		  AND (to_tsvector('simple', m.content) @@ plainto_tsquery('simple', $2)
		       OR m.content ILIKE '%' || $2 || '%')`
	args := []any{params.UserID, params.Query}

	if params.ConversationID != "" {
		args = append(args, params.ConversationID)
		query += fmt.Sprintf(` AND m.conversation_id = $%d`, len(args))
	}
	if params.SenderID != "" {
		args = append(args, params.SenderID)
		query += fmt.Sprintf(` AND m.sender_id = $%d`, len(args))
	}
	if params.DateFrom != nil {
		args = append(args, *params.DateFrom)
		query += fmt.Sprintf(` AND m.created_at >= $%d`, len(args))
	}
	if params.DateTo != nil {
		args = append(args, *params.DateTo)
		query += fmt.Sprintf(` AND m.created_at <= $%d`, len(args))
	}

	args = append(args, params.Limit)
	query += fmt.Sprintf(`
		ORDER BY m.created_at DESC
		LIMIT $%d`, len(args))

	rows, err := s.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

const messageSelect = `
	SELECT id, conversation_id, sender_id, content, type, metadata, reply_to_id,
	       is_edited, sequence_number, encrypted, encryption_version, sender_key_id,
	       created_at, updated_at, deleted_at
	FROM parley_messages`

func messageFields(m *domain.Message) []any {
	return []any{
		&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.Type, &m.Metadata, &m.ReplyToID,
		&m.IsEdited, &m.SequenceNumber, &m.Encrypted, &m.EncryptionVersion, &m.SenderKeyID,
		&m.CreatedAt, &m.UpdatedAt, &m.DeletedAt,
	}
}

func scanMessages(rows pgx.Rows) ([]*domain.Message, error) {
	var msgs []*domain.Message
	for rows.Next() {
		msg := &domain.Message{}
		if err := rows.Scan(messageFields(msg)...); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}
