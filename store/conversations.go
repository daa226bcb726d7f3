package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/parleyhq/parley/domain"
)

// CreateConversation inserts a conversation row. Members are added separately.
func (s *Store) CreateConversation(ctx context.Context, conv *domain.Conversation) error {
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now().UTC()
	}
	conv.UpdatedAt = conv.CreatedAt

	query := `
		INSERT INTO parley_conversations (id, type, name, avatar_url, avatar_object_key, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.conn(ctx).Exec(ctx, query,
		conv.ID, conv.Type, conv.Name, conv.AvatarURL, conv.AvatarObjectKey,
		conv.CreatedBy, conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		return WrapConflict("create conversation", err)
	}
	return nil
}

// GetConversation retrieves a conversation by id.
func (s *Store) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	query := `
		SELECT id, type, name, avatar_url, avatar_object_key, created_by, created_at, updated_at
		FROM parley_conversations
		WHERE id = $1 AND deleted_at IS NULL`

	conv := &domain.Conversation{}
	err := s.conn(ctx).QueryRow(ctx, query, id).Scan(
		&conv.ID, &conv.Type, &conv.Name, &conv.AvatarURL, &conv.AvatarObjectKey,
		&conv.CreatedBy, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return conv, nil
}

// FindDMBetween returns the existing DM conversation between two users,
// or domain.ErrNotFound if none exists.
func (s *Store) FindDMBetween(ctx context.Context, userA, userB string) (*domain.Conversation, error) {
	query := `
		SELECT c.id, c.type, c.name, c.avatar_url, c.avatar_object_key, c.created_by, c.created_at, c.updated_at
		FROM parley_conversations c
		JOIN parley_conversation_members ma ON ma.conversation_id = c.id AND ma.user_id = $1
		JOIN parley_conversation_members mb ON mb.conversation_id = c.id AND mb.user_id = $2
		WHERE c.type = $3 AND c.deleted_at IS NULL
		ORDER BY c.created_at ASC
		LIMIT 1`

	conv := &domain.Conversation{}
	err := s.conn(ctx).QueryRow(ctx, query, userA, userB, domain.ConversationTypeDM).Scan(
		&conv.ID, &conv.Type, &conv.Name, &conv.AvatarURL, &conv.AvatarObjectKey,
		&conv.CreatedBy, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find dm: %w", err)
	}
	return conv, nil
}

// ListConversations returns conversations the user belongs to, newest activity
// first. The cursor is the last conversation id of the previous page; it is
// resolved to its updated_at so the page filter is (updated_at, id) descending.
func (s *Store) ListConversations(ctx context.Context, userID string, limit int, cursor string) ([]*domain.Conversation, error) {
	query := `
		SELECT c.id, c.type, c.name, c.avatar_url, c.avatar_object_key, c.created_by, c.created_at, c.updated_at
		FROM parley_conversations c
		JOIN parley_conversation_members cm ON cm.conversation_id = c.id
		WHERE cm.user_id = $1 AND c.deleted_at IS NULL`
	args := []any{userID}

	if cursor != "" {
		var cursorUpdatedAt time.Time
		err := s.conn(ctx).QueryRow(ctx,
			`SELECT updated_at FROM parley_conversations WHERE id = $1`, cursor).Scan(&cursorUpdatedAt)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, domain.ErrNotFound
			}
			return nil, fmt.Errorf("resolve conversation cursor: %w", err)
		}
		query += ` AND (c.updated_at, c.id) < ($2, $3)`
		args = append(args, cursorUpdatedAt, cursor)
	}

	query += fmt.Sprintf(`
		ORDER BY c.updated_at DESC, c.id DESC
		LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := s.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	return scanConversations(rows)
}

// UpdateConversation updates the mutable group fields.
func (s *Store) UpdateConversation(ctx context.Context, conv *domain.Conversation) error {
	query := `
		UPDATE parley_conversations
		SET name = $2, avatar_url = $3, avatar_object_key = $4, updated_at = $5
		WHERE id = $1 AND deleted_at IS NULL`

	conv.UpdatedAt = time.Now().UTC()
	result, err := s.conn(ctx).Exec(ctx, query,
		conv.ID, conv.Name, conv.AvatarURL, conv.AvatarObjectKey, conv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// TouchConversation bumps updated_at, moving the conversation to the top of
// every member's list.
func (s *Store) TouchConversation(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE parley_conversations SET updated_at = $2 WHERE id = $1`
	_, err := s.conn(ctx).Exec(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return nil
}

// LastMessages returns the newest message per conversation in one query.
// Soft-deleted messages are included so lists can show tombstones.
func (s *Store) LastMessages(ctx context.Context, conversationIDs []string) (map[string]*domain.Message, error) {
	if len(conversationIDs) == 0 {
		return map[string]*domain.Message{}, nil
	}

	query := `
		SELECT DISTINCT ON (conversation_id)
		       id, conversation_id, sender_id, content, type, metadata, reply_to_id,
		       is_edited, sequence_number, encrypted, encryption_version, sender_key_id,
		       created_at, updated_at, deleted_at
		FROM parley_messages
		WHERE conversation_id = ANY($1)
		ORDER BY conversation_id, sequence_number DESC`

	rows, err := s.conn(ctx).Query(ctx, query, conversationIDs)
	if err != nil {
		return nil, fmt.Errorf("last messages: %w", err)
	}
	defer rows.Close()

	last := make(map[string]*domain.Message, len(conversationIDs))
	for rows.Next() {
		msg := &domain.Message{}
		if err := rows.Scan(messageFields(msg)...); err != nil {
			return nil, fmt.Errorf("scan last message: %w", err)
		}
		last[msg.ConversationID] = msg
	}
	return last, rows.Err()
}

// UnreadCounts returns, per conversation, the number of messages newer than
// the user's read watermark and not authored by them, in one query.
func (s *Store) UnreadCounts(ctx context.Context, userID string, conversationIDs []string) (map[string]int, error) {
	if len(conversationIDs) == 0 {
		return map[string]int{}, nil
	}

	query := `
		SELECT m.conversation_id, COUNT(*)
		FROM parley_messages m
		JOIN parley_conversation_members cm
		  ON cm.conversation_id = m.conversation_id AND cm.user_id = $1
		WHERE m.conversation_id = ANY($2)
		  AND m.sender_id <> $1
		  AND m.deleted_at IS NULL
		  AND m.created_at > COALESCE(cm.last_read_at, 'epoch'::timestamptz)
		GROUP BY m.conversation_id`

	rows, err := s.conn(ctx).Query(ctx, query, userID, conversationIDs)
	if err != nil {
		return nil, fmt.Errorf("unread counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int, len(conversationIDs))
	for rows.Next() {
		var convID string
		var count int
		if err := rows.Scan(&convID, &count); err != nil {
			return nil, fmt.Errorf("scan unread count: %w", err)
		}
		counts[convID] = count
	}
	return counts, rows.Err()
}

// SearchConversations fuzzy-matches the user's conversations. Group matches
// weight name similarity at 60% and member-name similarity at 40%; DMs score
// on member names alone. Substring hits pass regardless of trigram score.
func (s *Store) SearchConversations(ctx context.Context, userID, search string, limit int) ([]*domain.Conversation, error) {
	query := `
		SELECT id, type, name, avatar_url, avatar_object_key, created_by, created_at, updated_at
		FROM (
			SELECT c.id, c.type, c.name, c.avatar_url, c.avatar_object_key, c.created_by, c.created_at, c.updated_at,
			       CASE WHEN c.type = $4
			            THEN 0.6 * similarity(COALESCE(c.name, ''), $2) + 0.4 * COALESCE(MAX(similarity(u.name, $2)), 0)
			            ELSE COALESCE(MAX(similarity(u.name, $2)), 0)
			       END AS score,
			       COALESCE(bool_or(c.name ILIKE '%' || $2 || '%' OR u.name ILIKE '%' || $2 || '%'), false) AS substr
			FROM parley_conversations c
			JOIN parley_conversation_members me ON me.conversation_id = c.id AND me.user_id = $1
			LEFT JOIN parley_conversation_members om ON om.conversation_id = c.id AND om.user_id <> $1
			LEFT JOIN parley_users u ON u.id = om.user_id
			WHERE c.deleted_at IS NULL
			GROUP BY c.id
		) ranked
		WHERE score >= 0.25 OR substr
		ORDER BY score DESC, updated_at DESC
		LIMIT $3`

	rows, err := s.conn(ctx).Query(ctx, query, userID, search, limit, domain.ConversationTypeGroup)
	if err != nil {
		return nil, fmt.Errorf("search conversations: %w", err)
	}
	defer rows.Close()

	return scanConversations(rows)
}

func scanConversations(rows pgx.Rows) ([]*domain.Conversation, error) {
	var convs []*domain.Conversation
	for rows.Next() {
		conv := &domain.Conversation{}
		if err := rows.Scan(
			&conv.ID, &conv.Type, &conv.Name, &conv.AvatarURL, &conv.AvatarObjectKey,
			&conv.CreatedBy, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}
