package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/parleyhq/parley/domain"
	"github.com/parleyhq/parley/protocol"
	"github.com/parleyhq/parley/store"
)

const (
	minPollOptions = 2
	maxPollOptions = 10
)

type PollService struct {
	store       *store.Store
	broadcaster Broadcaster
	logger      *slog.Logger
}

func NewPollService(s *store.Store, b Broadcaster, logger *slog.Logger) *PollService {
	return &PollService{store: s, broadcaster: b, logger: logger}
}

type CreatePollInput struct {
	ConversationID string     `json:"conversation_id"`
	Question       string     `json:"question"`
	Options        []string   `json:"options"`
	MultipleChoice bool       `json:"multiple_choice"`
	ExpiresAt      *time.Time `json:"expires_at"`
}

// Create inserts the POLL message, the poll, and its options in one
// transaction.
func (s *PollService) Create(ctx context.Context, userID string, input CreatePollInput) (*domain.PollView, error) {
	if err := s.requireMember(ctx, input.ConversationID, userID); err != nil {
		return nil, err
	}
	if input.Question == "" {
		return nil, fmt.Errorf("%w: empty question", domain.ErrValidation)
	}
	if len(input.Options) < minPollOptions || len(input.Options) > maxPollOptions {
		return nil, fmt.Errorf("%w: polls take %d to %d options", domain.ErrValidation, minPollOptions, maxPollOptions)
	}
	if input.ExpiresAt != nil && input.ExpiresAt.Before(time.Now().UTC()) {
		return nil, fmt.Errorf("%w: expiry is in the past", domain.ErrValidation)
	}

	msg := &domain.Message{
		ID:             store.NewMessageID(),
		ConversationID: input.ConversationID,
		SenderID:       userID,
		Content:        input.Question,
		Type:           domain.MessageTypePoll,
	}
	poll := &domain.Poll{
		ID:             store.NewPollID(),
		MessageID:      msg.ID,
		Question:       input.Question,
		MultipleChoice: input.MultipleChoice,
		ExpiresAt:      input.ExpiresAt,
	}
	options := make([]*domain.PollOption, len(input.Options))
	for i, text := range input.Options {
		if text == "" {
			return nil, fmt.Errorf("%w: empty option", domain.ErrValidation)
		}
		options[i] = &domain.PollOption{
			ID:         store.NewPollOptionID(),
			PollID:     poll.ID,
			OptionText: text,
			Position:   i,
		}
	}

	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		if err := s.store.CreateMessage(ctx, msg); err != nil {
			return err
		}
		if err := s.store.CreatePoll(ctx, poll, options); err != nil {
			return err
		}
		return s.store.TouchConversation(ctx, input.ConversationID, msg.CreatedAt)
	})
	if err != nil {
		return nil, err
	}

	view := s.buildView(poll, options, nil, userID)
	s.broadcaster.ToConversation(input.ConversationID, protocol.EventNewPoll, view)
	return view, nil
}

// Vote replaces the user's votes on a poll. The poll row is locked for the
// transaction, so concurrent votes serialize; a lost race against the same
// user's other device returns current state instead of an error.
func (s *PollService) Vote(ctx context.Context, userID, pollID string, optionIDs []string) (*domain.PollView, error) {
	poll, err := s.store.GetPoll(ctx, pollID)
	if err != nil {
		return nil, err
	}
	conversationID, err := s.pollConversation(ctx, poll)
	if err != nil {
		return nil, err
	}
	if err := s.requireMember(ctx, conversationID, userID); err != nil {
		return nil, err
	}

	optionIDs = dedupe(optionIDs, "")
	if len(optionIDs) == 0 {
		return nil, fmt.Errorf("%w: no options selected", domain.ErrValidation)
	}

	err = s.store.WithTx(ctx, func(ctx context.Context) error {
		locked, err := s.store.LockPoll(ctx, pollID)
		if err != nil {
			return err
		}
		if pollClosed(locked) {
			return domain.ErrPollExpired
		}
		if !locked.MultipleChoice && len(optionIDs) > 1 {
			return domain.ErrSingleChoicePoll
		}

		options, err := s.store.GetPollOptions(ctx, pollID)
		if err != nil {
			return err
		}
		valid := make(map[string]bool, len(options))
		for _, opt := range options {
			valid[opt.ID] = true
		}
		for _, id := range optionIDs {
			if !valid[id] {
				return domain.ErrUnknownPollOption
			}
		}

		if err := s.store.DeleteVotesByUser(ctx, pollID, userID); err != nil {
			return err
		}
		votes := make([]*domain.PollVote, len(optionIDs))
		for i, optionID := range optionIDs {
			votes[i] = &domain.PollVote{
				ID:       store.NewPollVoteID(),
				PollID:   pollID,
				OptionID: optionID,
				UserID:   userID,
			}
		}
		return s.store.InsertVotes(ctx, votes)
	})
	if err != nil && !errors.Is(err, domain.ErrConflict) {
		return nil, err
	}

	view, err := s.Get(ctx, userID, pollID)
	if err != nil {
		return nil, err
	}
	s.broadcaster.ToConversation(conversationID, protocol.EventPollVote, view)
	return view, nil
}

// Close expires the poll now. Only the poll's creator may close it.
func (s *PollService) Close(ctx context.Context, userID, pollID string) (*domain.PollView, error) {
	poll, err := s.store.GetPoll(ctx, pollID)
	if err != nil {
		return nil, err
	}
	msg, err := s.store.GetMessage(ctx, poll.MessageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != userID {
		return nil, domain.ErrNotSender
	}

	if err := s.store.ClosePoll(ctx, pollID, time.Now().UTC()); err != nil {
		return nil, err
	}

	view, err := s.Get(ctx, userID, pollID)
	if err != nil {
		return nil, err
	}
	s.broadcaster.ToConversation(msg.ConversationID, protocol.EventPollClosed, view)
	return view, nil
}

// Get returns the poll with per-option tallies and the viewer's selections.
// Members only.
func (s *PollService) Get(ctx context.Context, userID, pollID string) (*domain.PollView, error) {
	poll, err := s.store.GetPoll(ctx, pollID)
	if err != nil {
		return nil, err
	}
	conversationID, err := s.pollConversation(ctx, poll)
	if err != nil {
		return nil, err
	}
	if err := s.requireMember(ctx, conversationID, userID); err != nil {
		return nil, err
	}

	options, err := s.store.GetPollOptions(ctx, pollID)
	if err != nil {
		return nil, err
	}
	votes, err := s.store.ListVotes(ctx, pollID)
	if err != nil {
		return nil, err
	}
	return s.buildView(poll, options, votes, userID), nil
}

// GetByMessage resolves the poll attached to a POLL message.
func (s *PollService) GetByMessage(ctx context.Context, userID, messageID string) (*domain.PollView, error) {
	poll, err := s.store.GetPollByMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, userID, poll.ID)
}

func (s *PollService) buildView(poll *domain.Poll, options []*domain.PollOption, votes []*domain.PollVote, viewerID string) *domain.PollView {
	view := &domain.PollView{
		Poll:      *poll,
		Options:   make([]*domain.PollOptionView, len(options)),
		UserVotes: []string{},
		Closed:    pollClosed(poll),
	}

	byOption := map[string][]string{}
	for _, v := range votes {
		byOption[v.OptionID] = append(byOption[v.OptionID], v.UserID)
		if v.UserID == viewerID {
			view.UserVotes = append(view.UserVotes, v.OptionID)
		}
	}

	for i, opt := range options {
		voters := byOption[opt.ID]
		view.Options[i] = &domain.PollOptionView{
			PollOption: *opt,
			VoteCount:  len(voters),
			Voters:     voters,
		}
		view.TotalVotes += len(voters)
	}
	return view
}

func (s *PollService) pollConversation(ctx context.Context, poll *domain.Poll) (string, error) {
	msg, err := s.store.GetMessage(ctx, poll.MessageID)
	if err != nil {
		return "", err
	}
	return msg.ConversationID, nil
}

func (s *PollService) requireMember(ctx context.Context, conversationID, userID string) error {
	member, err := s.store.IsMember(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if !member {
		return domain.ErrNotMember
	}
	return nil
}

func pollClosed(poll *domain.Poll) bool {
	return poll.ExpiresAt != nil && !poll.ExpiresAt.After(time.Now().UTC())
}
