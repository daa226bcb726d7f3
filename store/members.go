package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/parleyhq/parley/domain"
)

// AddMembers inserts membership rows and returns the user ids actually added.
// Existing members are skipped, which makes re-adds idempotent.
func (s *Store) AddMembers(ctx context.Context, conversationID string, userIDs, roles []string) ([]string, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}

	query := `
		INSERT INTO parley_conversation_members (conversation_id, user_id, role, joined_at)
		SELECT $1, t.user_id, t.role, $4
		FROM unnest($2::text[], $3::text[]) AS t(user_id, role)
		ON CONFLICT (conversation_id, user_id) DO NOTHING
		RETURNING user_id`

	rows, err := s.conn(ctx).Query(ctx, query, conversationID, userIDs, roles, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("add members: %w", err)
	}
	defer rows.Close()

	var added []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("scan added member: %w", err)
		}
		added = append(added, userID)
	}
	return added, rows.Err()
}

// RemoveMember deletes a membership row.
func (s *Store) RemoveMember(ctx context.Context, conversationID, userID string) error {
	query := `DELETE FROM parley_conversation_members WHERE conversation_id = $1 AND user_id = $2`
	result, err := s.conn(ctx).Exec(ctx, query, conversationID, userID)
	if err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetMember retrieves a membership row, or domain.ErrNotFound.
func (s *Store) GetMember(ctx context.Context, conversationID, userID string) (*domain.ConversationMember, error) {
	query := `
		SELECT conversation_id, user_id, role, joined_at, last_read_at, is_muted, mute_until
		FROM parley_conversation_members
		WHERE conversation_id = $1 AND user_id = $2`

	member := &domain.ConversationMember{}
	err := s.conn(ctx).QueryRow(ctx, query, conversationID, userID).Scan(
		&member.ConversationID, &member.UserID, &member.Role, &member.JoinedAt,
		&member.LastReadAt, &member.IsMuted, &member.MuteUntil)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get member: %w", err)
	}
	return member, nil
}

// IsMember reports whether the user belongs to the conversation.
func (s *Store) IsMember(ctx context.Context, conversationID, userID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM parley_conversation_members
			WHERE conversation_id = $1 AND user_id = $2
		)`

	var member bool
	if err := s.conn(ctx).QueryRow(ctx, query, conversationID, userID).Scan(&member); err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return member, nil
}

// ListMembers returns all members of a conversation with their user rows.
func (s *Store) ListMembers(ctx context.Context, conversationID string) ([]*domain.ConversationMember, error) {
	query := `
		SELECT cm.conversation_id, cm.user_id, cm.role, cm.joined_at, cm.last_read_at, cm.is_muted, cm.mute_until,
		       u.id, u.external_user_id, u.email, u.first_name, u.last_name, u.name, u.image,
		       u.title, u.division, u.role, u.is_active, u.is_leader, u.settings, u.last_synced_at, u.created_at
		FROM parley_conversation_members cm
		JOIN parley_users u ON u.id = cm.user_id
		WHERE cm.conversation_id = $1
		ORDER BY cm.joined_at ASC`

	rows, err := s.conn(ctx).Query(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var members []*domain.ConversationMember
	for rows.Next() {
		member := &domain.ConversationMember{User: &domain.User{}}
		fields := []any{
			&member.ConversationID, &member.UserID, &member.Role, &member.JoinedAt,
			&member.LastReadAt, &member.IsMuted, &member.MuteUntil,
		}
		fields = append(fields, userFields(member.User)...)
		if err := rows.Scan(fields...); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, member)
	}
	return members, rows.Err()
}

// MembersForConversations batch-fetches members with user rows for a page of
// conversations, keyed by conversation id.
func (s *Store) MembersForConversations(ctx context.Context, conversationIDs []string) (map[string][]*domain.ConversationMember, error) {
	if len(conversationIDs) == 0 {
		return map[string][]*domain.ConversationMember{}, nil
	}

	query := `
		SELECT cm.conversation_id, cm.user_id, cm.role, cm.joined_at, cm.last_read_at, cm.is_muted, cm.mute_until,
		       u.id, u.external_user_id, u.email, u.first_name, u.last_name, u.name, u.image,
		       u.title, u.division, u.role, u.is_active, u.is_leader, u.settings, u.last_synced_at, u.created_at
		FROM parley_conversation_members cm
		JOIN parley_users u ON u.id = cm.user_id
		WHERE cm.conversation_id = ANY($1)
		ORDER BY cm.conversation_id, cm.joined_at ASC`

	rows, err := s.conn(ctx).Query(ctx, query, conversationIDs)
	if err != nil {
		return nil, fmt.Errorf("members for conversations: %w", err)
	}
	defer rows.Close()

	members := make(map[string][]*domain.ConversationMember, len(conversationIDs))
	for rows.Next() {
		member := &domain.ConversationMember{User: &domain.User{}}
		fields := []any{
			&member.ConversationID, &member.UserID, &member.Role, &member.JoinedAt,
			&member.LastReadAt, &member.IsMuted, &member.MuteUntil,
		}
		fields = append(fields, userFields(member.User)...)
		if err := rows.Scan(fields...); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members[member.ConversationID] = append(members[member.ConversationID], member)
	}
	return members, rows.Err()
}

// ListMemberIDs returns the user ids of all conversation members.
func (s *Store) ListMemberIDs(ctx context.Context, conversationID string) ([]string, error) {
	query := `SELECT user_id FROM parley_conversation_members WHERE conversation_id = $1`

	rows, err := s.conn(ctx).Query(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list member ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan member id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpdateMemberSettings sets the per-member mute flags.
func (s *Store) UpdateMemberSettings(ctx context.Context, conversationID, userID string, isMuted bool, muteUntil *time.Time) error {
	query := `
		UPDATE parley_conversation_members
		SET is_muted = $3, mute_until = $4
		WHERE conversation_id = $1 AND user_id = $2`

	result, err := s.conn(ctx).Exec(ctx, query, conversationID, userID, isMuted, muteUntil)
	if err != nil {
		return fmt.Errorf("update member settings: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// AdvanceLastReadAt moves the member's read watermark forward. The watermark
// never goes backwards.
func (s *Store) AdvanceLastReadAt(ctx context.Context, conversationID, userID string, readAt time.Time) error {
	query := `
		UPDATE parley_conversation_members
		SET last_read_at = GREATEST(COALESCE(last_read_at, 'epoch'::timestamptz), $3)
		WHERE conversation_id = $1 AND user_id = $2`

	result, err := s.conn(ctx).Exec(ctx, query, conversationID, userID, readAt)
	if err != nil {
		return fmt.Errorf("advance last_read_at: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MemberConversationIDs returns every conversation the user belongs to.
func (s *Store) MemberConversationIDs(ctx context.Context, userID string) ([]string, error) {
	query := `SELECT conversation_id FROM parley_conversation_members WHERE user_id = $1`

	rows, err := s.conn(ctx).Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list member conversations: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan conversation id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
