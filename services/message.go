package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/parleyhq/parley/cache"
	"github.com/parleyhq/parley/domain"
	"github.com/parleyhq/parley/files"
	"github.com/parleyhq/parley/metrics"
	"github.com/parleyhq/parley/protocol"
	"github.com/parleyhq/parley/store"
)

// ProfileDirectory batch-resolves user profiles for enrichment. Satisfied by
// identity.Directory.
type ProfileDirectory interface {
	Users(ctx context.Context, ids []string) (map[string]*domain.User, error)
}

type MessageService struct {
	store       *store.Store
	cache       *cache.Cache
	directory   ProfileDirectory
	storage     *files.Storage
	broadcaster Broadcaster
	logger      *slog.Logger
}

// NewMessageService builds the message engine. storage may be nil when no
// object store is configured; file sends then fail with a validation error.
func NewMessageService(s *store.Store, c *cache.Cache, dir ProfileDirectory, storage *files.Storage, b Broadcaster, logger *slog.Logger) *MessageService {
	return &MessageService{store: s, cache: c, directory: dir, storage: storage, broadcaster: b, logger: logger}
}

type SendMessageInput struct {
	ConversationID    string         `json:"conversation_id"`
	Content           string         `json:"content"`
	Type              string         `json:"type"`
	Metadata          map[string]any `json:"metadata"`
	ReplyToID         *string        `json:"reply_to_id"`
	Encrypted         bool           `json:"encrypted"`
	EncryptionVersion *int           `json:"encryption_version"`
	SenderKeyID       *string        `json:"sender_key_id"`
}

// Send validates, persists, and fans out one message. The message insert,
// per-recipient status rows, and the conversation bump commit atomically;
// the broadcast happens after commit and its failure does not undo the send.
func (s *MessageService) Send(ctx context.Context, senderID string, input SendMessageInput) (*domain.MessageView, error) {
	if err := s.requireMember(ctx, input.ConversationID, senderID); err != nil {
		return nil, err
	}

	if input.Type == "" {
		input.Type = domain.MessageTypeText
	}
	if input.Content == "" && input.Type == domain.MessageTypeText {
		return nil, domain.ErrEmptyContent
	}

	if input.ReplyToID != nil {
		target, err := s.store.GetMessage(ctx, *input.ReplyToID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, fmt.Errorf("%w: reply target", domain.ErrNotFound)
			}
			return nil, err
		}
		if target.ConversationID != input.ConversationID {
			return nil, domain.ErrReplyCrossesConv
		}
	}

	memberIDs, err := s.store.ListMemberIDs(ctx, input.ConversationID)
	if err != nil {
		return nil, err
	}
	recipients := make([]string, 0, len(memberIDs))
	for _, id := range memberIDs {
		if id != senderID {
			recipients = append(recipients, id)
		}
	}

	// Recipients who blocked the sender get no status row; the message still
	// lands in the conversation.
	blockers, err := s.store.BlockersOf(ctx, senderID, recipients)
	if err != nil {
		return nil, err
	}
	online, err := s.cache.AreOnline(ctx, recipients)
	if err != nil {
		s.logger.Warn("presence lookup failed, assuming offline", "error", err)
		online = map[string]bool{}
	}

	statusUsers := []string{senderID}
	statuses := []string{domain.StatusRead}
	for _, id := range recipients {
		if blockers[id] {
			continue
		}
		statusUsers = append(statusUsers, id)
		if online[id] {
			statuses = append(statuses, domain.StatusDelivered)
		} else {
			statuses = append(statuses, domain.StatusSent)
		}
	}

	msg := &domain.Message{
		ID:                store.NewMessageID(),
		ConversationID:    input.ConversationID,
		SenderID:          senderID,
		Content:           input.Content,
		Type:              input.Type,
		Metadata:          input.Metadata,
		ReplyToID:         input.ReplyToID,
		Encrypted:         input.Encrypted,
		EncryptionVersion: input.EncryptionVersion,
		SenderKeyID:       input.SenderKeyID,
	}

	err = s.store.WithTx(ctx, func(ctx context.Context) error {
		if err := s.store.CreateMessage(ctx, msg); err != nil {
			return err
		}
		if err := s.store.CreateStatuses(ctx, msg.ID, statusUsers, statuses, msg.CreatedAt); err != nil {
			return err
		}
		return s.store.TouchConversation(ctx, input.ConversationID, msg.CreatedAt)
	})
	if err != nil {
		return nil, err
	}
	metrics.MessagesSent.Inc()

	s.invalidateUnread(ctx, input.ConversationID, recipients)

	view := &domain.MessageView{Message: *msg, Status: domain.AggregateStatus(countStatuses(statuses[1:]))}
	if sender, err := s.directory.Users(ctx, []string{senderID}); err == nil {
		view.Sender = sender[senderID]
	} else {
		s.logger.Warn("sender enrichment failed", "message_id", msg.ID, "error", err)
	}

	s.broadcaster.ToConversation(input.ConversationID, protocol.EventMessageNew, view)
	return view, nil
}

// SendFile uploads an attachment and sends the message carrying it. For
// encrypted uploads the declared MIME classifies the message; the blob itself
// is opaque to the server.
func (s *MessageService) SendFile(ctx context.Context, senderID, conversationID, fileName string, body io.Reader, declaredMIME string, encrypted bool, duration *float64) (*domain.MessageView, error) {
	if s.storage == nil {
		return nil, fmt.Errorf("%w: file uploads are not configured", domain.ErrValidation)
	}
	if err := s.requireMember(ctx, conversationID, senderID); err != nil {
		return nil, err
	}

	up, err := s.storage.Store(ctx, conversationID, fileName, body, declaredMIME, encrypted)
	if err != nil {
		return nil, err
	}

	metadata := map[string]any{
		"fileName":  fileName,
		"fileSize":  up.Size,
		"fileUrl":   up.FileURL,
		"mimeType":  up.MimeType,
		"objectKey": up.ObjectKey,
	}
	if up.ThumbnailURL != "" {
		metadata["thumbnailUrl"] = up.ThumbnailURL
	}
	if duration != nil {
		metadata["duration"] = *duration
	}
	if encrypted {
		metadata["encryption"] = map[string]any{"mimeType": declaredMIME}
	}

	return s.Send(ctx, senderID, SendMessageInput{
		ConversationID: conversationID,
		Type:           files.MessageType(up.MimeType),
		Metadata:       metadata,
		Encrypted:      encrypted,
	})
}

// Edit replaces a message's content. Sender only; tombstones are immutable.
func (s *MessageService) Edit(ctx context.Context, userID, messageID, content string) (*domain.Message, error) {
	if content == "" {
		return nil, domain.ErrEmptyContent
	}

	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != userID {
		return nil, domain.ErrNotSender
	}
	if msg.Deleted() {
		return nil, domain.ErrMessageDeleted
	}

	updated, err := s.store.UpdateMessageContent(ctx, messageID, content)
	if err != nil {
		return nil, err
	}

	s.broadcaster.ToConversation(updated.ConversationID, protocol.EventMessageEdited, updated)
	return updated, nil
}

// DeleteForEveryone tombstones a message. Sender only; deleting a tombstone
// again is an error.
func (s *MessageService) DeleteForEveryone(ctx context.Context, userID, messageID string) error {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.SenderID != userID {
		return domain.ErrNotSender
	}
	if msg.Deleted() {
		return domain.ErrMessageDeleted
	}

	if err := s.store.SoftDeleteMessage(ctx, messageID, time.Now().UTC()); err != nil {
		return err
	}

	s.broadcaster.ToConversation(msg.ConversationID, protocol.EventMessageDeleted, protocol.MessageDeleted{
		MessageID:      messageID,
		ConversationID: msg.ConversationID,
	})
	return nil
}

// DeleteForMe hides a message from the caller's listings only. Idempotent.
func (s *MessageService) DeleteForMe(ctx context.Context, userID, messageID string) error {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if err := s.requireMember(ctx, msg.ConversationID, userID); err != nil {
		return err
	}
	return s.store.MarkDeletedForUser(ctx, userID, messageID)
}

// List pages a conversation newest-first, enriched with sender profiles (one
// batched directory call), reactions, and the status the viewer should see.
func (s *MessageService) List(ctx context.Context, viewerID, conversationID string, limit int, cursor string) ([]*domain.MessageView, bool, error) {
	if err := s.requireMember(ctx, conversationID, viewerID); err != nil {
		return nil, false, err
	}

	msgs, err := s.store.ListMessages(ctx, conversationID, viewerID, limit+1, cursor)
	if err != nil {
		return nil, false, err
	}
	hasMore := len(msgs) > limit
	if hasMore {
		msgs = msgs[:limit]
	}
	if len(msgs) == 0 {
		return []*domain.MessageView{}, false, nil
	}

	views, err := s.enrich(ctx, viewerID, msgs)
	if err != nil {
		return nil, false, err
	}
	return views, hasMore, nil
}

// Search matches message content across the user's conversations, optionally
// narrowed by conversation, sender, and date range.
func (s *MessageService) Search(ctx context.Context, userID string, params store.SearchMessagesParams) ([]*domain.MessageView, error) {
	if params.Query == "" {
		return nil, fmt.Errorf("%w: empty search", domain.ErrValidation)
	}
	params.UserID = userID
	if params.ConversationID != "" {
		if err := s.requireMember(ctx, params.ConversationID, userID); err != nil {
			return nil, err
		}
	}

	msgs, err := s.store.SearchMessages(ctx, params)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return []*domain.MessageView{}, nil
	}
	return s.enrich(ctx, userID, msgs)
}

// Clear hides every current message of a conversation from the caller.
func (s *MessageService) Clear(ctx context.Context, userID, conversationID string) (int64, error) {
	if err := s.requireMember(ctx, conversationID, userID); err != nil {
		return 0, err
	}
	return s.store.ClearConversationForUser(ctx, conversationID, userID)
}

func (s *MessageService) enrich(ctx context.Context, viewerID string, msgs []*domain.Message) ([]*domain.MessageView, error) {
	ids := make([]string, len(msgs))
	senderSet := map[string]bool{}
	var senderIDs, ownIDs, otherIDs []string
	for i, m := range msgs {
		ids[i] = m.ID
		if !senderSet[m.SenderID] {
			senderSet[m.SenderID] = true
			senderIDs = append(senderIDs, m.SenderID)
		}
		if m.SenderID == viewerID {
			ownIDs = append(ownIDs, m.ID)
		} else {
			otherIDs = append(otherIDs, m.ID)
		}
	}

	// Profile fetch failures degrade to unenriched messages.
	senders, err := s.directory.Users(ctx, senderIDs)
	if err != nil {
		s.logger.Warn("sender enrichment failed", "error", err)
		senders = map[string]*domain.User{}
	}

	reactions, err := s.store.ListReactionsForMessages(ctx, ids)
	if err != nil {
		return nil, err
	}
	counts, err := s.store.GetStatusCounts(ctx, ownIDs, viewerID)
	if err != nil {
		return nil, err
	}
	viewerStatuses, err := s.store.GetViewerStatuses(ctx, viewerID, otherIDs)
	if err != nil {
		return nil, err
	}

	views := make([]*domain.MessageView, len(msgs))
	for i, m := range msgs {
		view := &domain.MessageView{
			Message:   *m,
			Sender:    senders[m.SenderID],
			Reactions: reactions[m.ID],
		}
		if m.Deleted() {
			// Tombstones keep their place in the timeline but lose content.
			view.Content = ""
			view.Metadata = nil
			view.Reactions = nil
		}
		if m.SenderID == viewerID {
			c := counts[m.ID]
			view.Status = domain.AggregateStatus(c.Sent, c.Delivered, c.Read)
		} else {
			view.Status = viewerStatuses[m.ID]
		}
		views[i] = view
	}
	return views, nil
}

func (s *MessageService) requireMember(ctx context.Context, conversationID, userID string) error {
	member, err := s.store.IsMember(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if !member {
		return domain.ErrNotMember
	}
	return nil
}

func (s *MessageService) invalidateUnread(ctx context.Context, conversationID string, userIDs []string) {
	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = cache.UnreadKey(id, conversationID)
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		s.logger.Warn("unread invalidation failed", "conversation_id", conversationID, "error", err)
	}
}

func countStatuses(statuses []string) (sent, delivered, read int) {
	for _, st := range statuses {
		switch st {
		case domain.StatusSent:
			sent++
		case domain.StatusDelivered:
			delivered++
		case domain.StatusRead:
			read++
		}
	}
	return sent, delivered, read
}
