package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/parleyhq/parley/domain"
)

// Returns nil if not found (caller should apply defaults).
func (s *Store) GetNotificationPreferences(ctx context.Context, userID string) (*domain.NotificationPreferences, error) {
	query := `
		SELECT user_id, messages_enabled, mentions_only, sound_enabled, settings, updated_at
		FROM parley_notification_preferences
		WHERE user_id = $1`

	prefs := &domain.NotificationPreferences{}
	err := s.conn(ctx).QueryRow(ctx, query, userID).Scan(
		&prefs.UserID, &prefs.MessagesEnabled, &prefs.MentionsOnly, &prefs.SoundEnabled,
		&prefs.Settings, &prefs.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get notification preferences: %w", err)
	}
	return prefs, nil
}

func (s *Store) UpsertNotificationPreferences(ctx context.Context, prefs *domain.NotificationPreferences) error {
	prefs.UpdatedAt = time.Now().UTC()

	query := `
		INSERT INTO parley_notification_preferences (
			user_id, messages_enabled, mentions_only, sound_enabled, settings, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE SET
			messages_enabled = EXCLUDED.messages_enabled,
			mentions_only = EXCLUDED.mentions_only,
			sound_enabled = EXCLUDED.sound_enabled,
			settings = EXCLUDED.settings,
			updated_at = EXCLUDED.updated_at`

	_, err := s.conn(ctx).Exec(ctx, query,
		prefs.UserID, prefs.MessagesEnabled, prefs.MentionsOnly, prefs.SoundEnabled,
		prefs.Settings, prefs.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert notification preferences: %w", err)
	}
	return nil
}

// MuteConversation records a per-conversation mute. Re-muting refreshes the
// mute_until window.
func (s *Store) MuteConversation(ctx context.Context, userID, conversationID string, until *time.Time) error {
	query := `
		INSERT INTO parley_muted_conversations (user_id, conversation_id, muted_at, mute_until)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, conversation_id) DO UPDATE SET
			muted_at = EXCLUDED.muted_at,
			mute_until = EXCLUDED.mute_until`

	_, err := s.conn(ctx).Exec(ctx, query, userID, conversationID, time.Now().UTC(), until)
	if err != nil {
		return fmt.Errorf("mute conversation: %w", err)
	}
	return nil
}

// UnmuteConversation removes a mute. Unmuting an unmuted conversation is a
// no-op.
func (s *Store) UnmuteConversation(ctx context.Context, userID, conversationID string) error {
	query := `DELETE FROM parley_muted_conversations WHERE user_id = $1 AND conversation_id = $2`
	_, err := s.conn(ctx).Exec(ctx, query, userID, conversationID)
	if err != nil {
		return fmt.Errorf("unmute conversation: %w", err)
	}
	return nil
}

func (s *Store) ListMutedConversations(ctx context.Context, userID string) ([]*domain.MutedConversation, error) {
	query := `
		SELECT user_id, conversation_id, muted_at, mute_until
		FROM parley_muted_conversations
		WHERE user_id = $1
		ORDER BY muted_at DESC`

	rows, err := s.conn(ctx).Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list muted conversations: %w", err)
	}
	defer rows.Close()

	var muted []*domain.MutedConversation
	for rows.Next() {
		m := &domain.MutedConversation{}
		if err := rows.Scan(&m.UserID, &m.ConversationID, &m.MutedAt, &m.MuteUntil); err != nil {
			return nil, fmt.Errorf("scan muted conversation: %w", err)
		}
		muted = append(muted, m)
	}
	return muted, rows.Err()
}
