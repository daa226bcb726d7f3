package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/parleyhq/parley/domain"
)

// UpsertKeyBundle stores or replaces the stable part of a user's key bundle.
func (s *Store) UpsertKeyBundle(ctx context.Context, bundle *domain.UserKeyBundle) error {
	now := time.Now().UTC()
	if bundle.CreatedAt.IsZero() {
		bundle.CreatedAt = now
	}
	bundle.UpdatedAt = now

	query := `
		INSERT INTO parley_key_bundles (
			user_id, identity_key, signed_prekey, signed_prekey_signature, signed_prekey_id,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO UPDATE SET
			identity_key = EXCLUDED.identity_key,
			signed_prekey = EXCLUDED.signed_prekey,
			signed_prekey_signature = EXCLUDED.signed_prekey_signature,
			signed_prekey_id = EXCLUDED.signed_prekey_id,
			updated_at = EXCLUDED.updated_at`

	_, err := s.conn(ctx).Exec(ctx, query,
		bundle.UserID, bundle.IdentityKey, bundle.SignedPreKey, bundle.SignedPreKeySignature,
		bundle.SignedPreKeyID, bundle.CreatedAt, bundle.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert key bundle: %w", err)
	}
	return nil
}

// GetKeyBundle retrieves the stable part of a user's bundle.
func (s *Store) GetKeyBundle(ctx context.Context, userID string) (*domain.UserKeyBundle, error) {
	query := `
		SELECT user_id, identity_key, signed_prekey, signed_prekey_signature, signed_prekey_id,
		       created_at, updated_at
		FROM parley_key_bundles
		WHERE user_id = $1`

	bundle := &domain.UserKeyBundle{}
	err := s.conn(ctx).QueryRow(ctx, query, userID).Scan(
		&bundle.UserID, &bundle.IdentityKey, &bundle.SignedPreKey, &bundle.SignedPreKeySignature,
		&bundle.SignedPreKeyID, &bundle.CreatedAt, &bundle.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get key bundle: %w", err)
	}
	return bundle, nil
}

// InsertPreKeys adds one-time pre-keys, skipping ids the user already
// uploaded. Returns how many were new.
func (s *Store) InsertPreKeys(ctx context.Context, userID string, keys []*domain.OneTimePreKey) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}

	ids := make([]string, len(keys))
	preKeyIDs := make([]int32, len(keys))
	publicKeys := make([]string, len(keys))
	for i, k := range keys {
		ids[i] = k.ID
		preKeyIDs[i] = int32(k.PreKeyID)
		publicKeys[i] = k.PublicKey
	}

	query := `
		INSERT INTO parley_one_time_prekeys (id, user_id, prekey_id, public_key, created_at)
		SELECT t.id, $1, t.prekey_id, t.public_key, $5
		FROM unnest($2::text[], $3::int[], $4::text[]) AS t(id, prekey_id, public_key)
		ON CONFLICT (user_id, prekey_id) DO NOTHING`

	result, err := s.conn(ctx).Exec(ctx, query, userID, ids, preKeyIDs, publicKeys, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("insert prekeys: %w", err)
	}
	return result.RowsAffected(), nil
}

// ConsumePreKey deletes and returns the user's lowest-numbered one-time
// pre-key. SKIP LOCKED guarantees two concurrent fetches never consume the
// same row. Returns nil when the user has none left.
func (s *Store) ConsumePreKey(ctx context.Context, userID string) (*domain.OneTimePreKey, error) {
	query := `
		DELETE FROM parley_one_time_prekeys
		WHERE id = (
			SELECT id FROM parley_one_time_prekeys
			WHERE user_id = $1
			ORDER BY prekey_id ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, user_id, prekey_id, public_key, created_at`

	key := &domain.OneTimePreKey{}
	err := s.conn(ctx).QueryRow(ctx, query, userID).Scan(
		&key.ID, &key.UserID, &key.PreKeyID, &key.PublicKey, &key.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("consume prekey: %w", err)
	}
	return key, nil
}

// CountPreKeys returns the user's remaining one-time pre-keys.
func (s *Store) CountPreKeys(ctx context.Context, userID string) (int, error) {
	query := `SELECT COUNT(*) FROM parley_one_time_prekeys WHERE user_id = $1`

	var count int
	if err := s.conn(ctx).QueryRow(ctx, query, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count prekeys: %w", err)
	}
	return count, nil
}

// UpsertSenderKey stores or rotates a member's group sender key. One key per
// (conversation, sender).
func (s *Store) UpsertSenderKey(ctx context.Context, key *domain.GroupSenderKey) error {
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO parley_sender_keys (id, conversation_id, sender_id, sender_key_id, public_key, chain_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (conversation_id, sender_id) DO UPDATE SET
			sender_key_id = EXCLUDED.sender_key_id,
			public_key = EXCLUDED.public_key,
			chain_key = EXCLUDED.chain_key,
			created_at = EXCLUDED.created_at`

	_, err := s.conn(ctx).Exec(ctx, query,
		key.ID, key.ConversationID, key.SenderID, key.SenderKeyID, key.PublicKey, key.ChainKey, key.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert sender key: %w", err)
	}
	return nil
}

// ListSenderKeys returns every member's sender key for a conversation.
func (s *Store) ListSenderKeys(ctx context.Context, conversationID string) ([]*domain.GroupSenderKey, error) {
	query := `
		SELECT id, conversation_id, sender_id, sender_key_id, public_key, chain_key, created_at
		FROM parley_sender_keys
		WHERE conversation_id = $1
		ORDER BY created_at ASC`

	rows, err := s.conn(ctx).Query(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list sender keys: %w", err)
	}
	defer rows.Close()

	var keys []*domain.GroupSenderKey
	for rows.Next() {
		key := &domain.GroupSenderKey{}
		if err := rows.Scan(
			&key.ID, &key.ConversationID, &key.SenderID, &key.SenderKeyID,
			&key.PublicKey, &key.ChainKey, &key.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan sender key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// UpsertKeyBackup stores or replaces the user's PIN-encrypted identity
// backup. Only ciphertext and KDF parameters are kept.
func (s *Store) UpsertKeyBackup(ctx context.Context, backup *domain.KeyBackup) error {
	now := time.Now().UTC()
	if backup.CreatedAt.IsZero() {
		backup.CreatedAt = now
	}
	backup.UpdatedAt = now

	query := `
		INSERT INTO parley_key_backups (
			user_id, encrypted_data, nonce, salt, kdf_name, version, identity_key_hash,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id) DO UPDATE SET
			encrypted_data = EXCLUDED.encrypted_data,
			nonce = EXCLUDED.nonce,
			salt = EXCLUDED.salt,
			kdf_name = EXCLUDED.kdf_name,
			version = EXCLUDED.version,
			identity_key_hash = EXCLUDED.identity_key_hash,
			updated_at = EXCLUDED.updated_at`

	_, err := s.conn(ctx).Exec(ctx, query,
		backup.UserID, backup.EncryptedData, backup.Nonce, backup.Salt, backup.KDFName,
		backup.Version, backup.IdentityKeyHash, backup.CreatedAt, backup.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert key backup: %w", err)
	}
	return nil
}

// GetKeyBackup retrieves the user's identity backup.
func (s *Store) GetKeyBackup(ctx context.Context, userID string) (*domain.KeyBackup, error) {
	query := `
		SELECT user_id, encrypted_data, nonce, salt, kdf_name, version, identity_key_hash,
		       created_at, updated_at
		FROM parley_key_backups
		WHERE user_id = $1`

	backup := &domain.KeyBackup{}
	err := s.conn(ctx).QueryRow(ctx, query, userID).Scan(
		&backup.UserID, &backup.EncryptedData, &backup.Nonce, &backup.Salt, &backup.KDFName,
		&backup.Version, &backup.IdentityKeyHash, &backup.CreatedAt, &backup.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get key backup: %w", err)
	}
	return backup, nil
}

// UpsertConversationKeyBackup stores or replaces one per-conversation key
// backup. One per (user, conversation).
func (s *Store) UpsertConversationKeyBackup(ctx context.Context, backup *domain.ConversationKeyBackup) error {
	now := time.Now().UTC()
	if backup.CreatedAt.IsZero() {
		backup.CreatedAt = now
	}
	backup.UpdatedAt = now

	query := `
		INSERT INTO parley_conversation_key_backups (
			id, user_id, conversation_id, encrypted_key, nonce, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, conversation_id) DO UPDATE SET
			encrypted_key = EXCLUDED.encrypted_key,
			nonce = EXCLUDED.nonce,
			version = EXCLUDED.version,
			updated_at = EXCLUDED.updated_at`

	_, err := s.conn(ctx).Exec(ctx, query,
		backup.ID, backup.UserID, backup.ConversationID, backup.EncryptedKey, backup.Nonce,
		backup.Version, backup.CreatedAt, backup.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert conversation key backup: %w", err)
	}
	return nil
}

// GetConversationKeyBackup retrieves one per-conversation key backup.
func (s *Store) GetConversationKeyBackup(ctx context.Context, userID, conversationID string) (*domain.ConversationKeyBackup, error) {
	query := conversationKeyBackupSelect + ` WHERE user_id = $1 AND conversation_id = $2`

	backup := &domain.ConversationKeyBackup{}
	err := s.conn(ctx).QueryRow(ctx, query, userID, conversationID).Scan(conversationKeyBackupFields(backup)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get conversation key backup: %w", err)
	}
	return backup, nil
}

// ListConversationKeyBackups returns all of the user's per-conversation key
// backups.
func (s *Store) ListConversationKeyBackups(ctx context.Context, userID string) ([]*domain.ConversationKeyBackup, error) {
	query := conversationKeyBackupSelect + ` WHERE user_id = $1 ORDER BY created_at ASC`

	rows, err := s.conn(ctx).Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversation key backups: %w", err)
	}
	defer rows.Close()

	var backups []*domain.ConversationKeyBackup
	for rows.Next() {
		backup := &domain.ConversationKeyBackup{}
		if err := rows.Scan(conversationKeyBackupFields(backup)...); err != nil {
			return nil, fmt.Errorf("scan conversation key backup: %w", err)
		}
		backups = append(backups, backup)
	}
	return backups, rows.Err()
}

const conversationKeyBackupSelect = `
	SELECT id, user_id, conversation_id, encrypted_key, nonce, version, created_at, updated_at
	FROM parley_conversation_key_backups`

func conversationKeyBackupFields(b *domain.ConversationKeyBackup) []any {
	return []any{
		&b.ID, &b.UserID, &b.ConversationID, &b.EncryptedKey, &b.Nonce,
		&b.Version, &b.CreatedAt, &b.UpdatedAt,
	}
}
