package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/parleyhq/parley/domain"
)

// StatusChange identifies a message whose status row moved, with enough
// context to broadcast the transition and advance read watermarks.
type StatusChange struct {
	MessageID      string
	ConversationID string
	CreatedAt      time.Time
}

// CreateStatuses inserts one status row per recipient in a single statement.
// Duplicate rows are skipped so retried sends stay idempotent.
func (s *Store) CreateStatuses(ctx context.Context, messageID string, userIDs, statuses []string, at time.Time) error {
	if len(userIDs) == 0 {
		return nil
	}

	query := `
		INSERT INTO parley_message_statuses (message_id, user_id, status, timestamp)
		SELECT $1, t.user_id, t.status, $4
		FROM unnest($2::text[], $3::text[]) AS t(user_id, status)
		ON CONFLICT (message_id, user_id) DO NOTHING`

	_, err := s.conn(ctx).Exec(ctx, query, messageID, userIDs, statuses, at)
	if err != nil {
		return fmt.Errorf("create statuses: %w", err)
	}
	return nil
}

// UpdateStatus moves one status row forward. The rank comparison mirrors
// domain.StatusRank so transitions never regress. Returns false when the row
// is absent or already at (or past) the requested state.
func (s *Store) UpdateStatus(ctx context.Context, messageID, userID, status string) (bool, error) {
	query := `
		UPDATE parley_message_statuses
		SET status = $3, timestamp = $4
		WHERE message_id = $1 AND user_id = $2
		  AND CASE status WHEN 'sent' THEN 1 WHEN 'delivered' THEN 2 WHEN 'read' THEN 3 ELSE 0 END
		    < CASE $3 WHEN 'sent' THEN 1 WHEN 'delivered' THEN 2 WHEN 'read' THEN 3 ELSE 0 END`

	result, err := s.conn(ctx).Exec(ctx, query, messageID, userID, status, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("update status: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// MarkRead promotes the user's status rows for the given messages to read.
// Rows already read are untouched, which keeps the call idempotent.
func (s *Store) MarkRead(ctx context.Context, userID string, messageIDs []string) ([]StatusChange, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}

	query := `
		UPDATE parley_message_statuses ms
		SET status = $3, timestamp = $4
		FROM parley_messages m
		WHERE ms.message_id = ANY($2) AND ms.user_id = $1
		  AND m.id = ms.message_id
		  AND ms.status <> $3
		RETURNING ms.message_id, m.conversation_id, m.created_at`

	rows, err := s.conn(ctx).Query(ctx, query, userID, messageIDs, domain.StatusRead, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("mark read: %w", err)
	}
	defer rows.Close()

	return scanStatusChanges(rows)
}

// MarkConversationRead promotes every unread status row the user holds in the
// conversation, skipping their own messages.
func (s *Store) MarkConversationRead(ctx context.Context, conversationID, userID string) ([]StatusChange, error) {
	query := `
		UPDATE parley_message_statuses ms
		SET status = $3, timestamp = $4
		FROM parley_messages m
		WHERE m.conversation_id = $1
		  AND ms.message_id = m.id
		  AND ms.user_id = $2
		  AND ms.status <> $3
		  AND m.sender_id <> $2
		RETURNING ms.message_id, m.conversation_id, m.created_at`

	rows, err := s.conn(ctx).Query(ctx, query, conversationID, userID, domain.StatusRead, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("mark conversation read: %w", err)
	}
	defer rows.Close()

	return scanStatusChanges(rows)
}

// MarkDelivered promotes sent rows to delivered for the given messages.
func (s *Store) MarkDelivered(ctx context.Context, userID string, messageIDs []string) ([]StatusChange, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}

	query := `
		UPDATE parley_message_statuses ms
		SET status = $3, timestamp = $4
		FROM parley_messages m
		WHERE ms.message_id = ANY($2) AND ms.user_id = $1
		  AND m.id = ms.message_id
		  AND ms.status = $5
		RETURNING ms.message_id, m.conversation_id, m.created_at`

	rows, err := s.conn(ctx).Query(ctx, query,
		userID, messageIDs, domain.StatusDelivered, time.Now().UTC(), domain.StatusSent)
	if err != nil {
		return nil, fmt.Errorf("mark delivered: %w", err)
	}
	defer rows.Close()

	return scanStatusChanges(rows)
}

// PromoteSentToDelivered flips every sent row the user holds to delivered.
// Called when the user comes online.
func (s *Store) PromoteSentToDelivered(ctx context.Context, userID string) ([]StatusChange, error) {
	query := `
		UPDATE parley_message_statuses ms
		SET status = $2, timestamp = $3
		FROM parley_messages m
		WHERE ms.user_id = $1 AND ms.status = $4 AND m.id = ms.message_id
		RETURNING ms.message_id, m.conversation_id, m.created_at`

	rows, err := s.conn(ctx).Query(ctx, query,
		userID, domain.StatusDelivered, time.Now().UTC(), domain.StatusSent)
	if err != nil {
		return nil, fmt.Errorf("promote sent to delivered: %w", err)
	}
	defer rows.Close()

	return scanStatusChanges(rows)
}

// GetStatusesForMessage returns every per-recipient status row of a message.
func (s *Store) GetStatusesForMessage(ctx context.Context, messageID string) ([]*domain.MessageStatus, error) {
	query := `
		SELECT message_id, user_id, status, timestamp
		FROM parley_message_statuses
		WHERE message_id = $1
		ORDER BY timestamp ASC`

	rows, err := s.conn(ctx).Query(ctx, query, messageID)
	if err != nil {
		return nil, fmt.Errorf("get statuses: %w", err)
	}
	defer rows.Close()

	var statuses []*domain.MessageStatus
	for rows.Next() {
		st := &domain.MessageStatus{}
		if err := rows.Scan(&st.MessageID, &st.UserID, &st.Status, &st.Timestamp); err != nil {
			return nil, fmt.Errorf("scan status: %w", err)
		}
		statuses = append(statuses, st)
	}
	return statuses, rows.Err()
}

// StatusCounts tallies recipient states for one message.
type StatusCounts struct {
	Sent      int
	Delivered int
	Read      int
}

// GetStatusCounts batch-tallies recipient rows for the given messages,
// excluding the given user (the sender's own row never counts toward the
// aggregate the sender sees).
func (s *Store) GetStatusCounts(ctx context.Context, messageIDs []string, excludeUserID string) (map[string]StatusCounts, error) {
	if len(messageIDs) == 0 {
		return map[string]StatusCounts{}, nil
	}

	query := `
		SELECT message_id,
		       COUNT(*) FILTER (WHERE status = 'sent'),
		       COUNT(*) FILTER (WHERE status = 'delivered'),
		       COUNT(*) FILTER (WHERE status = 'read')
		FROM parley_message_statuses
		WHERE message_id = ANY($1) AND user_id <> $2
		GROUP BY message_id`

	rows, err := s.conn(ctx).Query(ctx, query, messageIDs, excludeUserID)
	if err != nil {
		return nil, fmt.Errorf("get status counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]StatusCounts, len(messageIDs))
	for rows.Next() {
		var messageID string
		var c StatusCounts
		if err := rows.Scan(&messageID, &c.Sent, &c.Delivered, &c.Read); err != nil {
			return nil, fmt.Errorf("scan status counts: %w", err)
		}
		counts[messageID] = c
	}
	return counts, rows.Err()
}

// GetViewerStatuses returns the viewer's own status per message.
func (s *Store) GetViewerStatuses(ctx context.Context, viewerID string, messageIDs []string) (map[string]string, error) {
	if len(messageIDs) == 0 {
		return map[string]string{}, nil
	}

	query := `
		SELECT message_id, status
		FROM parley_message_statuses
		WHERE message_id = ANY($1) AND user_id = $2`

	rows, err := s.conn(ctx).Query(ctx, query, messageIDs, viewerID)
	if err != nil {
		return nil, fmt.Errorf("get viewer statuses: %w", err)
	}
	defer rows.Close()

	statuses := make(map[string]string, len(messageIDs))
	for rows.Next() {
		var messageID, status string
		if err := rows.Scan(&messageID, &status); err != nil {
			return nil, fmt.Errorf("scan viewer status: %w", err)
		}
		statuses[messageID] = status
	}
	return statuses, rows.Err()
}

// AllUnreadCounts returns unread counts for every conversation the user
// belongs to, keyed by conversation id. Conversations without unread messages
// are omitted.
func (s *Store) AllUnreadCounts(ctx context.Context, userID string) (map[string]int, error) {
	query := `
		SELECT m.conversation_id, COUNT(*)
		FROM parley_messages m
		JOIN parley_conversation_members cm
		  ON cm.conversation_id = m.conversation_id AND cm.user_id = $1
		WHERE m.sender_id <> $1
		  AND m.deleted_at IS NULL
		  AND m.created_at > COALESCE(cm.last_read_at, 'epoch'::timestamptz)
		GROUP BY m.conversation_id`

	rows, err := s.conn(ctx).Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("all unread counts: %w", err)
	}
	defer rows.Close()

	counts := map[string]int{}
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

func scanStatusChanges(rows pgx.Rows) ([]StatusChange, error) {
	var changes []StatusChange
	for rows.Next() {
		var c StatusChange
		if err := rows.Scan(&c.MessageID, &c.ConversationID, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan status change: %w", err)
		}
		changes = append(changes, c)
	}
	return changes, rows.Err()
}
