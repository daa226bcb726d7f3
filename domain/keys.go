package domain

import "time"

// Key material below is always public or client-encrypted. Private keys
// never reach the server.

type UserKeyBundle struct {
	UserID                string    `json:"user_id"`
	IdentityKey           string    `json:"identity_key"`
	SignedPreKey          string    `json:"signed_prekey"`
	SignedPreKeySignature string    `json:"signed_prekey_signature"`
	SignedPreKeyID        int       `json:"signed_prekey_id"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

type OneTimePreKey struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	PreKeyID  int       `json:"prekey_id"`
	PublicKey string    `json:"public_key"`
	CreatedAt time.Time `json:"created_at"`
}

// KeyBundleView is what a session-initiating peer fetches: the stable part of
// the bundle plus at most one one-time pre-key, consumed on fetch.
type KeyBundleView struct {
	UserID                string         `json:"user_id"`
	IdentityKey           string         `json:"identity_key"`
	SignedPreKey          string         `json:"signed_prekey"`
	SignedPreKeySignature string         `json:"signed_prekey_signature"`
	SignedPreKeyID        int            `json:"signed_prekey_id"`
	OneTimePreKey         *OneTimePreKey `json:"one_time_prekey,omitempty"`
}

type GroupSenderKey struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	SenderKeyID    string    `json:"sender_key_id"`
	PublicKey      string    `json:"public_key"`
	ChainKey       *string   `json:"chain_key,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

type KeyBackup struct {
	UserID          string    `json:"user_id"`
	EncryptedData   string    `json:"encrypted_data"`
	Nonce           string    `json:"nonce"`
	Salt            string    `json:"salt"`
	KDFName         string    `json:"kdf_name"`
	Version         int       `json:"version"`
	IdentityKeyHash string    `json:"identity_key_hash"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type ConversationKeyBackup struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	ConversationID string    `json:"conversation_id"`
	EncryptedKey   string    `json:"encrypted_key"`
	Nonce          string    `json:"nonce"`
	Version        int       `json:"version"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
