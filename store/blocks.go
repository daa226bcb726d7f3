package store

import (
	"context"
	"fmt"
	"time"

	"github.com/parleyhq/parley/domain"
)

// BlockUser records a block. Blocking twice is a no-op.
func (s *Store) BlockUser(ctx context.Context, blockerID, blockedID string) error {
	query := `
		INSERT INTO parley_user_blocks (blocker_id, blocked_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (blocker_id, blocked_id) DO NOTHING`

	_, err := s.conn(ctx).Exec(ctx, query, blockerID, blockedID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("block user: %w", err)
	}
	return nil
}

// UnblockUser removes a block.
func (s *Store) UnblockUser(ctx context.Context, blockerID, blockedID string) error {
	query := `DELETE FROM parley_user_blocks WHERE blocker_id = $1 AND blocked_id = $2`
	result, err := s.conn(ctx).Exec(ctx, query, blockerID, blockedID)
	if err != nil {
		return fmt.Errorf("unblock user: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListBlockedIDs returns the ids the user has blocked.
func (s *Store) ListBlockedIDs(ctx context.Context, blockerID string) ([]string, error) {
	query := `SELECT blocked_id FROM parley_user_blocks WHERE blocker_id = $1 ORDER BY created_at DESC`

	rows, err := s.conn(ctx).Query(ctx, query, blockerID)
	if err != nil {
		return nil, fmt.Errorf("list blocked ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan blocked id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// BlockersOf returns which of the candidate users have blocked the given
// user. Used at send time to suppress status rows for blockers.
func (s *Store) BlockersOf(ctx context.Context, userID string, candidateIDs []string) (map[string]bool, error) {
	if len(candidateIDs) == 0 {
		return map[string]bool{}, nil
	}

	query := `
		SELECT blocker_id FROM parley_user_blocks
		WHERE blocked_id = $1 AND blocker_id = ANY($2)`

	rows, err := s.conn(ctx).Query(ctx, query, userID, candidateIDs)
	if err != nil {
		return nil, fmt.Errorf("find blockers: %w", err)
	}
	defer rows.Close()

	blockers := map[string]bool{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan blocker id: %w", err)
		}
		blockers[id] = true
	}
	return blockers, rows.Err()
}
