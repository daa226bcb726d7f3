package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/parleyhq/parley/domain"
	"github.com/parleyhq/parley/protocol"
	"github.com/parleyhq/parley/store"
)

// ReactionService keeps at most one reaction per (message, user).
type ReactionService struct {
	store       *store.Store
	broadcaster Broadcaster
	logger      *slog.Logger
}

func NewReactionService(s *store.Store, b Broadcaster, logger *slog.Logger) *ReactionService {
	return &ReactionService{store: s, broadcaster: b, logger: logger}
}

// Add reacts to a message. A different existing emoji is switched out:
// delete old, insert new, broadcast removed then added in that order.
// Re-adding the same emoji is a conflict.
func (s *ReactionService) Add(ctx context.Context, userID, messageID, emoji string) (*domain.MessageReaction, error) {
	if emoji == "" {
		return nil, fmt.Errorf("%w: empty emoji", domain.ErrValidation)
	}

	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.Deleted() {
		return nil, domain.ErrMessageDeleted
	}
	if err := s.requireMember(ctx, msg.ConversationID, userID); err != nil {
		return nil, err
	}

	existing, err := s.store.GetReactionByUser(ctx, messageID, userID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if existing != nil && existing.Emoji == emoji {
		return nil, domain.ErrDuplicateReaction
	}

	reaction := &domain.MessageReaction{
		ID:        store.NewReactionID(),
		MessageID: messageID,
		UserID:    userID,
		Emoji:     emoji,
	}

	err = s.store.WithTx(ctx, func(ctx context.Context) error {
		if existing != nil {
			if err := s.store.DeleteReaction(ctx, messageID, userID); err != nil {
				return err
			}
		}
		return s.store.InsertReaction(ctx, reaction)
	})
	if err != nil {
		return nil, err
	}

	if existing != nil {
		s.broadcaster.ToConversation(msg.ConversationID, protocol.EventReactionRemoved, existing)
	}
	s.broadcaster.ToConversation(msg.ConversationID, protocol.EventReactionAdded, reaction)
	return reaction, nil
}

// Remove deletes the user's reaction. Removing an absent reaction is
// not-found, which makes retried removals harmless.
func (s *ReactionService) Remove(ctx context.Context, userID, messageID, emoji string) error {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}

	existing, err := s.store.GetReactionByUser(ctx, messageID, userID)
	if err != nil {
		return err
	}
	if emoji != "" && existing.Emoji != emoji {
		return domain.ErrNotFound
	}

	if err := s.store.DeleteReaction(ctx, messageID, userID); err != nil {
		return err
	}

	s.broadcaster.ToConversation(msg.ConversationID, protocol.EventReactionRemoved, existing)
	return nil
}

func (s *ReactionService) requireMember(ctx context.Context, conversationID, userID string) error {
	member, err := s.store.IsMember(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if !member {
		return domain.ErrNotMember
	}
	return nil
}
