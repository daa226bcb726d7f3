package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/parleyhq/parley/domain"
)

// GetReactionByUser returns the user's reaction on a message, if any.
// At most one exists per (message, user).
func (s *Store) GetReactionByUser(ctx context.Context, messageID, userID string) (*domain.MessageReaction, error) {
	query := `
		SELECT id, message_id, user_id, emoji, created_at
		FROM parley_message_reactions
		WHERE message_id = $1 AND user_id = $2`

	r := &domain.MessageReaction{}
	err := s.conn(ctx).QueryRow(ctx, query, messageID, userID).Scan(
		&r.ID, &r.MessageID, &r.UserID, &r.Emoji, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get reaction: %w", err)
	}
	return r, nil
}

// InsertReaction adds a reaction row.
func (s *Store) InsertReaction(ctx context.Context, r *domain.MessageReaction) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO parley_message_reactions (id, message_id, user_id, emoji, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := s.conn(ctx).Exec(ctx, query, r.ID, r.MessageID, r.UserID, r.Emoji, r.CreatedAt)
	if err != nil {
		return WrapConflict("insert reaction", err)
	}
	return nil
}

// DeleteReaction removes the user's reaction regardless of emoji.
func (s *Store) DeleteReaction(ctx context.Context, messageID, userID string) error {
	query := `DELETE FROM parley_message_reactions WHERE message_id = $1 AND user_id = $2`
	result, err := s.conn(ctx).Exec(ctx, query, messageID, userID)
	if err != nil {
		return fmt.Errorf("delete reaction: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DeleteReactionByEmoji removes the user's reaction only if it matches the
// given emoji.
func (s *Store) DeleteReactionByEmoji(ctx context.Context, messageID, userID, emoji string) error {
	query := `DELETE FROM parley_message_reactions WHERE message_id = $1 AND user_id = $2 AND emoji = $3`
	result, err := s.conn(ctx).Exec(ctx, query, messageID, userID, emoji)
	if err != nil {
		return fmt.Errorf("delete reaction by emoji: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListReactionsForMessages batch-fetches reactions for a page of messages.
func (s *Store) ListReactionsForMessages(ctx context.Context, messageIDs []string) (map[string][]*domain.MessageReaction, error) {
	if len(messageIDs) == 0 {
		return map[string][]*domain.MessageReaction{}, nil
	}

	query := `
		SELECT id, message_id, user_id, emoji, created_at
		FROM parley_message_reactions
		WHERE message_id = ANY($1)
		ORDER BY created_at ASC`

	rows, err := s.conn(ctx).Query(ctx, query, messageIDs)
	if err != nil {
		return nil, fmt.Errorf("list reactions: %w", err)
	}
	defer rows.Close()

	reactions := make(map[string][]*domain.MessageReaction, len(messageIDs))
	for rows.Next() {
		r := &domain.MessageReaction{}
		if err := rows.Scan(&r.ID, &r.MessageID, &r.UserID, &r.Emoji, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reaction: %w", err)
		}
		reactions[r.MessageID] = append(reactions[r.MessageID], r)
	}
	return reactions, rows.Err()
}
