package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/parleyhq/parley/domain"
)

// UpsertUser syncs a user row from identity-provider claims. Matching is
// dual-key: external id first, then email, so the local id (and with it
// conversation history) survives upstream id resets and email changes.
func (s *Store) UpsertUser(ctx context.Context, user *domain.User) error {
	now := time.Now().UTC()
	user.LastSyncedAt = &now

	byExternalID := `
		UPDATE parley_users
		SET email = $2, first_name = $3, last_name = $4, name = $5, image = $6,
		    title = $7, division = $8, role = $9, is_active = $10, is_leader = $11,
		    last_synced_at = $12
		WHERE external_user_id = $1
		RETURNING id, settings, created_at`

	err := s.conn(ctx).QueryRow(ctx, byExternalID,
		user.ExternalUserID, user.Email, user.FirstName, user.LastName, user.Name, user.Image,
		user.Title, user.Division, user.Role, user.IsActive, user.IsLeader,
		user.LastSyncedAt).Scan(&user.ID, &user.Settings, &user.CreatedAt)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("upsert user by external id: %w", err)
	}

	// The provider reissued the external id; claim the row by email.
	byEmail := `
		UPDATE parley_users
		SET external_user_id = $1, first_name = $3, last_name = $4, name = $5, image = $6,
		    title = $7, division = $8, role = $9, is_active = $10, is_leader = $11,
		    last_synced_at = $12
		WHERE email = $2
		RETURNING id, settings, created_at`

	err = s.conn(ctx).QueryRow(ctx, byEmail,
		user.ExternalUserID, user.Email, user.FirstName, user.LastName, user.Name, user.Image,
		user.Title, user.Division, user.Role, user.IsActive, user.IsLeader,
		user.LastSyncedAt).Scan(&user.ID, &user.Settings, &user.CreatedAt)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("upsert user by email: %w", err)
	}

	if user.ID == "" {
		user.ID = NewUserID()
	}
	user.CreatedAt = now

	insert := `
		INSERT INTO parley_users (
			id, external_user_id, email, first_name, last_name, name, image,
			title, division, role, is_active, is_leader, last_synced_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err = s.conn(ctx).Exec(ctx, insert,
		user.ID, user.ExternalUserID, user.Email, user.FirstName, user.LastName, user.Name, user.Image,
		user.Title, user.Division, user.Role, user.IsActive, user.IsLeader,
		user.LastSyncedAt, user.CreatedAt)
	if err != nil {
		return WrapConflict("insert user", err)
	}
	return nil
}

// GetUser retrieves a user by local id.
func (s *Store) GetUser(ctx context.Context, id string) (*domain.User, error) {
	query := userSelect + ` WHERE id = $1`

	user := &domain.User{}
	err := s.conn(ctx).QueryRow(ctx, query, id).Scan(userFields(user)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// GetUserByExternalID retrieves a user by the identity provider's id.
func (s *Store) GetUserByExternalID(ctx context.Context, externalID string) (*domain.User, error) {
	query := userSelect + ` WHERE external_user_id = $1`

	user := &domain.User{}
	err := s.conn(ctx).QueryRow(ctx, query, externalID).Scan(userFields(user)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get user by external id: %w", err)
	}
	return user, nil
}

// GetUsersByIDs batch-fetches users. Missing ids are silently omitted.
func (s *Store) GetUsersByIDs(ctx context.Context, ids []string) (map[string]*domain.User, error) {
	if len(ids) == 0 {
		return map[string]*domain.User{}, nil
	}

	query := userSelect + ` WHERE id = ANY($1)`

	rows, err := s.conn(ctx).Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("get users by ids: %w", err)
	}
	defer rows.Close()

	users := make(map[string]*domain.User, len(ids))
	for rows.Next() {
		user := &domain.User{}
		if err := rows.Scan(userFields(user)...); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users[user.ID] = user
	}
	return users, rows.Err()
}

// ExistingUserIDs returns the subset of ids that have a user row.
func (s *Store) ExistingUserIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	if len(ids) == 0 {
		return map[string]bool{}, nil
	}

	query := `SELECT id FROM parley_users WHERE id = ANY($1)`

	rows, err := s.conn(ctx).Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("check user ids: %w", err)
	}
	defer rows.Close()

	existing := make(map[string]bool, len(ids))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		existing[id] = true
	}
	return existing, rows.Err()
}

// UpdateUserSettings replaces the opaque settings blob.
func (s *Store) UpdateUserSettings(ctx context.Context, userID string, settings map[string]any) error {
	query := `UPDATE parley_users SET settings = $2 WHERE id = $1`
	result, err := s.conn(ctx).Exec(ctx, query, userID, settings)
	if err != nil {
		return fmt.Errorf("update user settings: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

const userSelect = `
	SELECT id, external_user_id, email, first_name, last_name, name, image,
	       title, division, role, is_active, is_leader, settings, last_synced_at, created_at
	FROM parley_users`

func userFields(u *domain.User) []any {
	return []any{
		&u.ID, &u.ExternalUserID, &u.Email, &u.FirstName, &u.LastName, &u.Name, &u.Image,
		&u.Title, &u.Division, &u.Role, &u.IsActive, &u.IsLeader, &u.Settings, &u.LastSyncedAt, &u.CreatedAt,
	}
}
