package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/parleyhq/parley/cache"
	"github.com/parleyhq/parley/domain"
	"github.com/parleyhq/parley/protocol"
	"github.com/parleyhq/parley/store"
)

// DeliveryService moves per-recipient delivery states forward and keeps the
// read watermark and unread counts in step.
type DeliveryService struct {
	store       *store.Store
	cache       *cache.Cache
	broadcaster Broadcaster
	logger      *slog.Logger
	unreadTTL   time.Duration
}

func NewDeliveryService(s *store.Store, c *cache.Cache, b Broadcaster, logger *slog.Logger, unreadTTL time.Duration) *DeliveryService {
	return &DeliveryService{store: s, cache: c, broadcaster: b, logger: logger, unreadTTL: unreadTTL}
}

// MarkRead promotes the user's status rows for the given messages and
// advances the read watermark of each touched conversation.
func (s *DeliveryService) MarkRead(ctx context.Context, userID string, messageIDs []string) error {
	var changes []store.StatusChange
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		var err error
		changes, err = s.store.MarkRead(ctx, userID, messageIDs)
		if err != nil {
			return err
		}
		return s.advanceWatermarks(ctx, userID, changes)
	})
	if err != nil {
		return err
	}

	s.finishStatusChanges(ctx, userID, domain.StatusRead, changes)
	return nil
}

// MarkConversationRead promotes every unread row the user holds in the
// conversation, skipping their own messages.
func (s *DeliveryService) MarkConversationRead(ctx context.Context, userID, conversationID string) error {
	member, err := s.store.IsMember(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if !member {
		return domain.ErrNotMember
	}

	var changes []store.StatusChange
	err = s.store.WithTx(ctx, func(ctx context.Context) error {
		var err error
		changes, err = s.store.MarkConversationRead(ctx, conversationID, userID)
		if err != nil {
			return err
		}
		// Advance even when nothing moved, so older unstatused messages stop
		// counting as unread.
		at := time.Now().UTC()
		for _, c := range changes {
			if c.CreatedAt.After(at) {
				at = c.CreatedAt
			}
		}
		err = s.store.AdvanceLastReadAt(ctx, conversationID, userID, at)
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrNotMember
		}
		return err
	})
	if err != nil {
		return err
	}

	s.finishStatusChanges(ctx, userID, domain.StatusRead, changes)
	if err := s.cache.Delete(ctx, cache.UnreadKey(userID, conversationID)); err != nil {
		s.logger.Warn("unread invalidation failed", "conversation_id", conversationID, "error", err)
	}
	return nil
}

// MarkDelivered promotes sent rows to delivered, typically when a client
// opens a conversation.
func (s *DeliveryService) MarkDelivered(ctx context.Context, userID string, messageIDs []string) error {
	changes, err := s.store.MarkDelivered(ctx, userID, messageIDs)
	if err != nil {
		return err
	}
	s.finishStatusChanges(ctx, userID, domain.StatusDelivered, changes)
	return nil
}

// PromoteOnConnect flips every sent row the user holds to delivered. Called
// by the fanout plane when the user's first session connects.
func (s *DeliveryService) PromoteOnConnect(ctx context.Context, userID string) error {
	changes, err := s.store.PromoteSentToDelivered(ctx, userID)
	if err != nil {
		return err
	}
	s.finishStatusChanges(ctx, userID, domain.StatusDelivered, changes)
	return nil
}

// UnreadCount serves one conversation's unread count through the cache.
func (s *DeliveryService) UnreadCount(ctx context.Context, userID, conversationID string) (int, error) {
	key := cache.UnreadKey(userID, conversationID)

	var cached int
	err := s.cache.Get(ctx, key, &cached)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, cache.ErrMiss) {
		s.logger.Warn("unread cache read failed", "error", err)
	}

	counts, err := s.store.UnreadCounts(ctx, userID, []string{conversationID})
	if err != nil {
		return 0, err
	}
	count := counts[conversationID]
	if err := s.cache.Set(ctx, key, count, s.unreadTTL); err != nil {
		s.logger.Warn("unread cache write failed", "error", err)
	}
	return count, nil
}

// AllUnread returns unread counts for every conversation the user belongs to.
func (s *DeliveryService) AllUnread(ctx context.Context, userID string) (map[string]int, error) {
	return s.store.AllUnreadCounts(ctx, userID)
}

// Statuses returns every per-recipient row of a message. Sender only.
func (s *DeliveryService) Statuses(ctx context.Context, userID, messageID string) ([]*domain.MessageStatus, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != userID {
		return nil, domain.ErrNotSender
	}
	return s.store.GetStatusesForMessage(ctx, messageID)
}

// advanceWatermarks moves last_read_at per touched conversation to the newest
// read message. Runs in the caller's transaction.
func (s *DeliveryService) advanceWatermarks(ctx context.Context, userID string, changes []store.StatusChange) error {
	newest := map[string]time.Time{}
	for _, c := range changes {
		if c.CreatedAt.After(newest[c.ConversationID]) {
			newest[c.ConversationID] = c.CreatedAt
		}
	}
	for convID, at := range newest {
		if err := s.store.AdvanceLastReadAt(ctx, convID, userID, at); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				// Left the conversation since; the status row moved anyway.
				continue
			}
			return err
		}
	}
	return nil
}

// finishStatusChanges invalidates unread counts and broadcasts one
// message:status per moved row.
func (s *DeliveryService) finishStatusChanges(ctx context.Context, userID, status string, changes []store.StatusChange) {
	convs := map[string]bool{}
	for _, c := range changes {
		convs[c.ConversationID] = true
	}
	keys := make([]string, 0, len(convs))
	for convID := range convs {
		keys = append(keys, cache.UnreadKey(userID, convID))
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		s.logger.Warn("unread invalidation failed", "error", err)
	}

	for _, c := range changes {
		s.broadcaster.ToConversation(c.ConversationID, protocol.EventMessageStatus, protocol.StatusUpdate{
			MessageID:      c.MessageID,
			ConversationID: c.ConversationID,
			UserID:         userID,
			Status:         status,
		})
	}
}
