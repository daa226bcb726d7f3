package services

import (
	"context"
	"time"

	"github.com/parleyhq/parley/domain"
	"github.com/parleyhq/parley/store"
)

type NotificationService struct {
	store *store.Store
}

func NewNotificationService(s *store.Store) *NotificationService {
	return &NotificationService{store: s}
}

// Preferences returns the user's notification preferences, or the defaults
// when they never saved any.
func (s *NotificationService) Preferences(ctx context.Context, userID string) (*domain.NotificationPreferences, error) {
	prefs, err := s.store.GetNotificationPreferences(ctx, userID)
	if err != nil {
		return nil, err
	}
	if prefs == nil {
		prefs = &domain.NotificationPreferences{
			UserID:          userID,
			MessagesEnabled: true,
			SoundEnabled:    true,
		}
	}
	return prefs, nil
}

type UpdatePreferencesInput struct {
	MessagesEnabled bool           `json:"messages_enabled"`
	MentionsOnly    bool           `json:"mentions_only"`
	SoundEnabled    bool           `json:"sound_enabled"`
	Settings        map[string]any `json:"settings"`
}

func (s *NotificationService) UpdatePreferences(ctx context.Context, userID string, input UpdatePreferencesInput) (*domain.NotificationPreferences, error) {
	prefs := &domain.NotificationPreferences{
		UserID:          userID,
		MessagesEnabled: input.MessagesEnabled,
		MentionsOnly:    input.MentionsOnly,
		SoundEnabled:    input.SoundEnabled,
		Settings:        input.Settings,
	}
	if err := s.store.UpsertNotificationPreferences(ctx, prefs); err != nil {
		return nil, err
	}
	return prefs, nil
}

// Mute silences a conversation, optionally until a deadline. Re-muting
// refreshes the window.
func (s *NotificationService) Mute(ctx context.Context, userID, conversationID string, until *time.Time) error {
	member, err := s.store.IsMember(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if !member {
		return domain.ErrNotMember
	}
	return s.store.MuteConversation(ctx, userID, conversationID, until)
}

func (s *NotificationService) Unmute(ctx context.Context, userID, conversationID string) error {
	return s.store.UnmuteConversation(ctx, userID, conversationID)
}

func (s *NotificationService) Muted(ctx context.Context, userID string) ([]*domain.MutedConversation, error) {
	return s.store.ListMutedConversations(ctx, userID)
}
