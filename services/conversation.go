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

type ConversationService struct {
	store       *store.Store
	cache       *cache.Cache
	broadcaster Broadcaster
	logger      *slog.Logger
}

func NewConversationService(s *store.Store, c *cache.Cache, b Broadcaster, logger *slog.Logger) *ConversationService {
	return &ConversationService{store: s, cache: c, broadcaster: b, logger: logger}
}

type CreateConversationInput struct {
	Type      string   `json:"type"`
	Name      string   `json:"name"`
	MemberIDs []string `json:"member_ids"`
}

// Create starts a conversation. Creating a DM that already exists between the
// two users returns the existing conversation instead of a duplicate.
func (s *ConversationService) Create(ctx context.Context, creatorID string, input CreateConversationInput) (*domain.ConversationView, error) {
	memberIDs := dedupe(input.MemberIDs, creatorID)

	switch input.Type {
	case domain.ConversationTypeDM:
		if len(memberIDs) != 1 {
			return nil, domain.ErrInvalidDMMembers
		}
	case domain.ConversationTypeGroup:
		if input.Name == "" {
			return nil, domain.ErrEmptyGroupName
		}
	default:
		return nil, fmt.Errorf("%w: unknown conversation type %q", domain.ErrValidation, input.Type)
	}

	existing, err := s.store.ExistingUserIDs(ctx, memberIDs)
	if err != nil {
		return nil, err
	}
	for _, id := range memberIDs {
		if !existing[id] {
			return nil, fmt.Errorf("%w: unknown user %s", domain.ErrValidation, id)
		}
	}

	if input.Type == domain.ConversationTypeDM {
		dm, err := s.store.FindDMBetween(ctx, creatorID, memberIDs[0])
		if err == nil {
			return s.view(ctx, creatorID, dm)
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	}

	conv := &domain.Conversation{
		ID:        store.NewConversationID(),
		Type:      input.Type,
		CreatedBy: &creatorID,
	}
	if input.Type == domain.ConversationTypeGroup {
		conv.Name = &input.Name
	}

	allMembers := append([]string{creatorID}, memberIDs...)
	roles := make([]string, len(allMembers))
	for i := range roles {
		roles[i] = domain.MemberRoleMember
	}
	if input.Type == domain.ConversationTypeGroup {
		roles[0] = domain.MemberRoleAdmin
	}

	err = s.store.WithTx(ctx, func(ctx context.Context) error {
		if err := s.store.CreateConversation(ctx, conv); err != nil {
			return err
		}
		_, err := s.store.AddMembers(ctx, conv.ID, allMembers, roles)
		return err
	})
	if err != nil {
		return nil, err
	}

	view, err := s.view(ctx, creatorID, conv)
	if err != nil {
		return nil, err
	}
	for _, id := range allMembers {
		s.broadcaster.ToUser(id, protocol.EventConversationUpdated, view.Conversation)
	}
	return view, nil
}

// List pages the user's conversations, newest activity first. Enrichment is
// batched: one query each for members, last messages, and unread counts.
func (s *ConversationService) List(ctx context.Context, userID string, limit int, cursor string) ([]*domain.ConversationView, bool, error) {
	convs, err := s.store.ListConversations(ctx, userID, limit+1, cursor)
	if err != nil {
		return nil, false, err
	}

	hasMore := len(convs) > limit
	if hasMore {
		convs = convs[:limit]
	}
	if len(convs) == 0 {
		return []*domain.ConversationView{}, false, nil
	}

	ids := make([]string, len(convs))
	for i, c := range convs {
		ids[i] = c.ID
	}

	members, err := s.store.MembersForConversations(ctx, ids)
	if err != nil {
		return nil, false, err
	}
	lastMessages, err := s.store.LastMessages(ctx, ids)
	if err != nil {
		return nil, false, err
	}
	unread, err := s.store.UnreadCounts(ctx, userID, ids)
	if err != nil {
		return nil, false, err
	}

	views := make([]*domain.ConversationView, len(convs))
	for i, conv := range convs {
		views[i] = &domain.ConversationView{
			Conversation: *conv,
			DisplayName:  displayName(conv, members[conv.ID], userID),
			Members:      members[conv.ID],
			LastMessage:  lastMessages[conv.ID],
			UnreadCount:  unread[conv.ID],
		}
	}
	return views, hasMore, nil
}

// Get returns one conversation with members, for members only.
func (s *ConversationService) Get(ctx context.Context, userID, conversationID string) (*domain.ConversationView, error) {
	if err := s.requireMember(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, userID, conv)
}

type UpdateConversationInput struct {
	Name      *string `json:"name"`
	AvatarURL *string `json:"avatar_url"`
}

// Update renames a group or changes its avatar. Group admins only; DMs have
// nothing to update.
func (s *ConversationService) Update(ctx context.Context, actorID, conversationID string, input UpdateConversationInput) (*domain.ConversationView, error) {
	conv, err := s.requireGroupAdmin(ctx, conversationID, actorID)
	if err != nil {
		return nil, err
	}

	if input.Name != nil {
		if *input.Name == "" {
			return nil, domain.ErrEmptyGroupName
		}
		conv.Name = input.Name
	}
	if input.AvatarURL != nil {
		conv.AvatarURL = input.AvatarURL
	}

	var sysMsg *domain.Message
	err = s.store.WithTx(ctx, func(ctx context.Context) error {
		if err := s.store.UpdateConversation(ctx, conv); err != nil {
			return err
		}
		sysMsg, err = s.systemMessage(ctx, conversationID, actorID, domain.SystemConversationUpdated, nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	view, err := s.view(ctx, actorID, conv)
	if err != nil {
		return nil, err
	}
	s.broadcaster.ToConversation(conversationID, protocol.EventConversationUpdated, view.Conversation)
	s.broadcaster.ToConversation(conversationID, protocol.EventMessageNew, sysMsg)
	return view, nil
}

// AddMembers adds users to a group. Admins only. Already-present users are
// skipped silently.
func (s *ConversationService) AddMembers(ctx context.Context, actorID, conversationID string, userIDs []string) error {
	if _, err := s.requireGroupAdmin(ctx, conversationID, actorID); err != nil {
		return err
	}

	userIDs = dedupe(userIDs, "")
	if len(userIDs) == 0 {
		return fmt.Errorf("%w: no members given", domain.ErrValidation)
	}
	existing, err := s.store.ExistingUserIDs(ctx, userIDs)
	if err != nil {
		return err
	}
	for _, id := range userIDs {
		if !existing[id] {
			return fmt.Errorf("%w: unknown user %s", domain.ErrValidation, id)
		}
	}

	roles := make([]string, len(userIDs))
	for i := range roles {
		roles[i] = domain.MemberRoleMember
	}

	var added []string
	var sysMsg *domain.Message
	err = s.store.WithTx(ctx, func(ctx context.Context) error {
		added, err = s.store.AddMembers(ctx, conversationID, userIDs, roles)
		if err != nil || len(added) == 0 {
			return err
		}
		sysMsg, err = s.systemMessage(ctx, conversationID, actorID, domain.SystemMemberAdded,
			map[string]any{"user_ids": added})
		return err
	})
	if err != nil {
		return err
	}
	if len(added) == 0 {
		return domain.ErrAlreadyMember
	}

	s.invalidateUnread(ctx, conversationID, added)
	for _, id := range added {
		s.broadcaster.ToConversation(conversationID, protocol.EventMemberAdded, protocol.MemberChange{
			ConversationID: conversationID,
			UserID:         id,
			ActorID:        actorID,
		})
	}
	s.broadcaster.ToConversation(conversationID, protocol.EventMessageNew, sysMsg)
	return nil
}

// RemoveMember kicks a user from a group. Admins only.
func (s *ConversationService) RemoveMember(ctx context.Context, actorID, conversationID, userID string) error {
	if _, err := s.requireGroupAdmin(ctx, conversationID, actorID); err != nil {
		return err
	}
	if userID == actorID {
		return fmt.Errorf("%w: use leave instead", domain.ErrValidation)
	}

	var sysMsg *domain.Message
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		if err := s.store.RemoveMember(ctx, conversationID, userID); err != nil {
			return err
		}
		var err error
		sysMsg, err = s.systemMessage(ctx, conversationID, actorID, domain.SystemMemberRemoved,
			map[string]any{"user_ids": []string{userID}})
		return err
	})
	if err != nil {
		return err
	}

	s.invalidateUnread(ctx, conversationID, []string{userID})
	s.broadcaster.ToConversation(conversationID, protocol.EventMemberRemoved, protocol.MemberChange{
		ConversationID: conversationID,
		UserID:         userID,
		ActorID:        actorID,
	})
	s.broadcaster.ToConversation(conversationID, protocol.EventMessageNew, sysMsg)
	return nil
}

// Leave removes the caller from a group.
func (s *ConversationService) Leave(ctx context.Context, userID, conversationID string) error {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv.Type == domain.ConversationTypeDM {
		return domain.ErrDMImmutable
	}
	if err := s.requireMember(ctx, conversationID, userID); err != nil {
		return err
	}

	var sysMsg *domain.Message
	err = s.store.WithTx(ctx, func(ctx context.Context) error {
		if err := s.store.RemoveMember(ctx, conversationID, userID); err != nil {
			return err
		}
		var err error
		sysMsg, err = s.systemMessage(ctx, conversationID, userID, domain.SystemMemberLeft, nil)
		return err
	})
	if err != nil {
		return err
	}

	s.invalidateUnread(ctx, conversationID, []string{userID})
	s.broadcaster.ToConversation(conversationID, protocol.EventMemberLeft, protocol.MemberChange{
		ConversationID: conversationID,
		UserID:         userID,
	})
	s.broadcaster.ToConversation(conversationID, protocol.EventMessageNew, sysMsg)
	return nil
}

// Search fuzzy-matches the user's conversations by group name and member
// names.
func (s *ConversationService) Search(ctx context.Context, userID, query string, limit int) ([]*domain.ConversationView, error) {
	if query == "" {
		return nil, fmt.Errorf("%w: empty search", domain.ErrValidation)
	}

	convs, err := s.store.SearchConversations(ctx, userID, query, limit)
	if err != nil {
		return nil, err
	}
	if len(convs) == 0 {
		return []*domain.ConversationView{}, nil
	}

	ids := make([]string, len(convs))
	for i, c := range convs {
		ids[i] = c.ID
	}
	members, err := s.store.MembersForConversations(ctx, ids)
	if err != nil {
		return nil, err
	}

	views := make([]*domain.ConversationView, len(convs))
	for i, conv := range convs {
		views[i] = &domain.ConversationView{
			Conversation: *conv,
			DisplayName:  displayName(conv, members[conv.ID], userID),
			Members:      members[conv.ID],
		}
	}
	return views, nil
}

// UpdateMemberSettings sets the caller's per-conversation mute flags.
func (s *ConversationService) UpdateMemberSettings(ctx context.Context, userID, conversationID string, isMuted bool, muteUntil *time.Time) error {
	if err := s.requireMember(ctx, conversationID, userID); err != nil {
		return err
	}
	return s.store.UpdateMemberSettings(ctx, conversationID, userID, isMuted, muteUntil)
}

func (s *ConversationService) view(ctx context.Context, viewerID string, conv *domain.Conversation) (*domain.ConversationView, error) {
	members, err := s.store.ListMembers(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	return &domain.ConversationView{
		Conversation: *conv,
		DisplayName:  displayName(conv, members, viewerID),
		Members:      members,
	}, nil
}

func (s *ConversationService) requireMember(ctx context.Context, conversationID, userID string) error {
	member, err := s.store.IsMember(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if !member {
		return domain.ErrNotMember
	}
	return nil
}

// requireGroupAdmin loads the conversation and checks the actor is an admin
// member of a group.
func (s *ConversationService) requireGroupAdmin(ctx context.Context, conversationID, actorID string) (*domain.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.Type == domain.ConversationTypeDM {
		return nil, domain.ErrDMImmutable
	}

	member, err := s.store.GetMember(ctx, conversationID, actorID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrNotMember
		}
		return nil, err
	}
	if member.Role != domain.MemberRoleAdmin {
		return nil, domain.ErrNotAdmin
	}
	return conv, nil
}

// systemMessage records a membership or settings change in the timeline.
// Runs inside the caller's transaction.
func (s *ConversationService) systemMessage(ctx context.Context, conversationID, actorID, action string, extra map[string]any) (*domain.Message, error) {
	metadata := map[string]any{"action": action}
	for k, v := range extra {
		metadata[k] = v
	}

	msg := &domain.Message{
		ID:             store.NewMessageID(),
		ConversationID: conversationID,
		SenderID:       actorID,
		Type:           domain.MessageTypeSystem,
		Metadata:       metadata,
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}
	if err := s.store.TouchConversation(ctx, conversationID, msg.CreatedAt); err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *ConversationService) invalidateUnread(ctx context.Context, conversationID string, userIDs []string) {
	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = cache.UnreadKey(id, conversationID)
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		s.logger.Warn("unread invalidation failed", "conversation_id", conversationID, "error", err)
	}
}

// displayName picks what the viewer's client should label the conversation:
// the group name, or the other member's name in a DM.
func displayName(conv *domain.Conversation, members []*domain.ConversationMember, viewerID string) string {
	if conv.Type == domain.ConversationTypeGroup {
		if conv.Name != nil {
			return *conv.Name
		}
		return ""
	}
	for _, m := range members {
		if m.UserID != viewerID && m.User != nil {
			if m.User.Name != "" {
				return m.User.Name
			}
			return m.User.Email
		}
	}
	return ""
}

// dedupe drops duplicates and the excluded id, preserving order.
func dedupe(ids []string, exclude string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || id == exclude || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
