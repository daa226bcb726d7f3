package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/parleyhq/parley/cache"
	"github.com/parleyhq/parley/domain"
	"github.com/parleyhq/parley/protocol"
	"github.com/parleyhq/parley/store"
)

// EncryptionService is the E2EE key plane. The server only ever stores public
// key material and client-side ciphertext; it cannot decrypt anything.
type EncryptionService struct {
	store       *store.Store
	cache       *cache.Cache
	broadcaster Broadcaster
	logger      *slog.Logger
	bundleTTL   time.Duration
}

func NewEncryptionService(s *store.Store, c *cache.Cache, b Broadcaster, logger *slog.Logger, bundleTTL time.Duration) *EncryptionService {
	return &EncryptionService{store: s, cache: c, broadcaster: b, logger: logger, bundleTTL: bundleTTL}
}

type UploadBundleInput struct {
	IdentityKey           string `json:"identity_key"`
	SignedPreKey          string `json:"signed_prekey"`
	SignedPreKeySignature string `json:"signed_prekey_signature"`
	SignedPreKeyID        int    `json:"signed_prekey_id"`
	OneTimePreKeys        []struct {
		PreKeyID  int    `json:"prekey_id"`
		PublicKey string `json:"public_key"`
	} `json:"one_time_prekeys"`
}

// UploadBundle stores the stable bundle and any one-time pre-keys in one
// transaction. Duplicate pre-key ids are skipped.
func (s *EncryptionService) UploadBundle(ctx context.Context, userID string, input UploadBundleInput) error {
	if input.IdentityKey == "" || input.SignedPreKey == "" || input.SignedPreKeySignature == "" {
		return fmt.Errorf("%w: incomplete key bundle", domain.ErrValidation)
	}

	bundle := &domain.UserKeyBundle{
		UserID:                userID,
		IdentityKey:           input.IdentityKey,
		SignedPreKey:          input.SignedPreKey,
		SignedPreKeySignature: input.SignedPreKeySignature,
		SignedPreKeyID:        input.SignedPreKeyID,
	}
	keys := make([]*domain.OneTimePreKey, len(input.OneTimePreKeys))
	for i, k := range input.OneTimePreKeys {
		keys[i] = &domain.OneTimePreKey{
			ID:        store.NewOneTimePreKeyID(),
			UserID:    userID,
			PreKeyID:  k.PreKeyID,
			PublicKey: k.PublicKey,
		}
	}

	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		if err := s.store.UpsertKeyBundle(ctx, bundle); err != nil {
			return err
		}
		_, err := s.store.InsertPreKeys(ctx, userID, keys)
		return err
	})
	if err != nil {
		return err
	}

	if err := s.cache.Delete(ctx, cache.KeyBundleKey(userID)); err != nil {
		s.logger.Warn("bundle invalidation failed", "user_id", userID, "error", err)
	}
	return nil
}

// GetBundle fetches a peer's bundle for session establishment. The stable
// part is served through the cache; the one-time pre-key is consumed in its
// own transaction and never cached, so no two sessions share one.
func (s *EncryptionService) GetBundle(ctx context.Context, targetUserID string) (*domain.KeyBundleView, error) {
	var bundle domain.UserKeyBundle
	err := s.cache.Get(ctx, cache.KeyBundleKey(targetUserID), &bundle)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			s.logger.Warn("bundle cache read failed", "error", err)
		}
		stored, err := s.store.GetKeyBundle(ctx, targetUserID)
		if err != nil {
			return nil, err
		}
		bundle = *stored
		if err := s.cache.Set(ctx, cache.KeyBundleKey(targetUserID), stored, s.bundleTTL); err != nil {
			s.logger.Warn("bundle cache write failed", "error", err)
		}
	}

	var oneTime *domain.OneTimePreKey
	err = s.store.WithTx(ctx, func(ctx context.Context) error {
		var err error
		oneTime, err = s.store.ConsumePreKey(ctx, targetUserID)
		return err
	})
	if err != nil {
		return nil, err
	}

	return &domain.KeyBundleView{
		UserID:                bundle.UserID,
		IdentityKey:           bundle.IdentityKey,
		SignedPreKey:          bundle.SignedPreKey,
		SignedPreKeySignature: bundle.SignedPreKeySignature,
		SignedPreKeyID:        bundle.SignedPreKeyID,
		OneTimePreKey:         oneTime,
	}, nil
}

type PreKeyInput struct {
	PreKeyID  int    `json:"prekey_id"`
	PublicKey string `json:"public_key"`
}

// Replenish tops up the user's one-time pre-keys. Returns how many were new.
func (s *EncryptionService) Replenish(ctx context.Context, userID string, inputs []PreKeyInput) (int64, error) {
	if len(inputs) == 0 {
		return 0, fmt.Errorf("%w: no prekeys given", domain.ErrValidation)
	}

	keys := make([]*domain.OneTimePreKey, len(inputs))
	for i, k := range inputs {
		if k.PublicKey == "" {
			return 0, fmt.Errorf("%w: empty public key", domain.ErrValidation)
		}
		keys[i] = &domain.OneTimePreKey{
			ID:        store.NewOneTimePreKeyID(),
			UserID:    userID,
			PreKeyID:  k.PreKeyID,
			PublicKey: k.PublicKey,
		}
	}
	return s.store.InsertPreKeys(ctx, userID, keys)
}

// PreKeyCount returns the user's remaining one-time pre-keys.
func (s *EncryptionService) PreKeyCount(ctx context.Context, userID string) (int, error) {
	return s.store.CountPreKeys(ctx, userID)
}

type DistributeSenderKeyInput struct {
	ConversationID string   `json:"conversation_id"`
	SenderKeyID    string   `json:"sender_key_id"`
	PublicKey      string   `json:"public_key"`
	ChainKey       *string  `json:"chain_key"`
	RecipientIDs   []string `json:"recipient_ids"`
}

// DistributeSenderKey stores the sender's group key and relays it to each
// recipient's sessions over the fanout plane, skipping the sender.
func (s *EncryptionService) DistributeSenderKey(ctx context.Context, senderID string, input DistributeSenderKeyInput) error {
	if input.SenderKeyID == "" || input.PublicKey == "" {
		return fmt.Errorf("%w: incomplete sender key", domain.ErrValidation)
	}
	if err := s.requireMember(ctx, input.ConversationID, senderID); err != nil {
		return err
	}

	key := &domain.GroupSenderKey{
		ID:             store.NewSenderKeyID(),
		ConversationID: input.ConversationID,
		SenderID:       senderID,
		SenderKeyID:    input.SenderKeyID,
		PublicKey:      input.PublicKey,
		ChainKey:       input.ChainKey,
	}
	if err := s.store.UpsertSenderKey(ctx, key); err != nil {
		return err
	}

	payload := protocol.SenderKeyDistribution{
		ConversationID: input.ConversationID,
		SenderID:       senderID,
		SenderKeyID:    input.SenderKeyID,
		PublicKey:      input.PublicKey,
	}
	if input.ChainKey != nil {
		payload.ChainKey = *input.ChainKey
	}
	for _, id := range dedupe(input.RecipientIDs, senderID) {
		s.broadcaster.ToUser(id, protocol.EventSenderKey, payload)
	}
	return nil
}

// SenderKeys lists every member's sender key for a conversation. Members
// only.
func (s *EncryptionService) SenderKeys(ctx context.Context, userID, conversationID string) ([]*domain.GroupSenderKey, error) {
	if err := s.requireMember(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	return s.store.ListSenderKeys(ctx, conversationID)
}

// SaveBackup stores the user's PIN-encrypted identity backup.
func (s *EncryptionService) SaveBackup(ctx context.Context, backup *domain.KeyBackup) error {
	if backup.EncryptedData == "" || backup.Nonce == "" || backup.Salt == "" {
		return fmt.Errorf("%w: incomplete backup", domain.ErrValidation)
	}
	return s.store.UpsertKeyBackup(ctx, backup)
}

// GetBackup retrieves the user's identity backup.
func (s *EncryptionService) GetBackup(ctx context.Context, userID string) (*domain.KeyBackup, error) {
	return s.store.GetKeyBackup(ctx, userID)
}

// SaveConversationBackup stores one per-conversation key backup.
func (s *EncryptionService) SaveConversationBackup(ctx context.Context, backup *domain.ConversationKeyBackup) error {
	if backup.EncryptedKey == "" || backup.Nonce == "" {
		return fmt.Errorf("%w: incomplete backup", domain.ErrValidation)
	}
	if err := s.requireMember(ctx, backup.ConversationID, backup.UserID); err != nil {
		return err
	}
	if backup.ID == "" {
		backup.ID = store.NewConvKeyBackupID()
	}
	return s.store.UpsertConversationKeyBackup(ctx, backup)
}

// GetConversationBackup retrieves one per-conversation key backup.
func (s *EncryptionService) GetConversationBackup(ctx context.Context, userID, conversationID string) (*domain.ConversationKeyBackup, error) {
	return s.store.GetConversationKeyBackup(ctx, userID, conversationID)
}

// ListConversationBackups returns all of the user's per-conversation key
// backups.
func (s *EncryptionService) ListConversationBackups(ctx context.Context, userID string) ([]*domain.ConversationKeyBackup, error) {
	return s.store.ListConversationKeyBackups(ctx, userID)
}

func (s *EncryptionService) requireMember(ctx context.Context, conversationID, userID string) error {
	member, err := s.store.IsMember(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if !member {
		return domain.ErrNotMember
	}
	return nil
}
