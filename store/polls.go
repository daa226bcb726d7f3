package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/parleyhq/parley/domain"
)

// CreatePoll inserts the poll and its options. Callers run this in the same
// transaction as the POLL message insert.
func (s *Store) CreatePoll(ctx context.Context, poll *domain.Poll, options []*domain.PollOption) error {
	if poll.CreatedAt.IsZero() {
		poll.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO parley_polls (id, message_id, question, multiple_choice, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.conn(ctx).Exec(ctx, query,
		poll.ID, poll.MessageID, poll.Question, poll.MultipleChoice, poll.ExpiresAt, poll.CreatedAt)
	if err != nil {
		return WrapConflict("create poll", err)
	}

	for _, opt := range options {
		_, err := s.conn(ctx).Exec(ctx,
			`INSERT INTO parley_poll_options (id, poll_id, option_text, position) VALUES ($1, $2, $3, $4)`,
			opt.ID, opt.PollID, opt.OptionText, opt.Position)
		if err != nil {
			return fmt.Errorf("create poll option: %w", err)
		}
	}
	return nil
}

// GetPoll retrieves a poll by id.
func (s *Store) GetPoll(ctx context.Context, id string) (*domain.Poll, error) {
	return s.getPoll(ctx, `WHERE id = $1`, id)
}

// GetPollByMessage retrieves the poll attached to a message.
func (s *Store) GetPollByMessage(ctx context.Context, messageID string) (*domain.Poll, error) {
	return s.getPoll(ctx, `WHERE message_id = $1`, messageID)
}

func (s *Store) getPoll(ctx context.Context, where string, arg any) (*domain.Poll, error) {
	query := `
		SELECT id, message_id, question, multiple_choice, expires_at, created_at
		FROM parley_polls ` + where

	poll := &domain.Poll{}
	err := s.conn(ctx).QueryRow(ctx, query, arg).Scan(
		&poll.ID, &poll.MessageID, &poll.Question, &poll.MultipleChoice, &poll.ExpiresAt, &poll.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get poll: %w", err)
	}
	return poll, nil
}

// LockPoll loads the poll under a row-level lock. Must run inside a
// transaction; concurrent votes on the same poll serialize behind it.
func (s *Store) LockPoll(ctx context.Context, id string) (*domain.Poll, error) {
	query := `
		SELECT id, message_id, question, multiple_choice, expires_at, created_at
		FROM parley_polls
		WHERE id = $1
		FOR UPDATE`

	poll := &domain.Poll{}
	err := s.conn(ctx).QueryRow(ctx, query, id).Scan(
		&poll.ID, &poll.MessageID, &poll.Question, &poll.MultipleChoice, &poll.ExpiresAt, &poll.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("lock poll: %w", err)
	}
	return poll, nil
}

// GetPollOptions returns the poll's options in display order.
func (s *Store) GetPollOptions(ctx context.Context, pollID string) ([]*domain.PollOption, error) {
	query := `
		SELECT id, poll_id, option_text, position
		FROM parley_poll_options
		WHERE poll_id = $1
		ORDER BY position ASC`

	rows, err := s.conn(ctx).Query(ctx, query, pollID)
	if err != nil {
		return nil, fmt.Errorf("get poll options: %w", err)
	}
	defer rows.Close()

	var options []*domain.PollOption
	for rows.Next() {
		opt := &domain.PollOption{}
		if err := rows.Scan(&opt.ID, &opt.PollID, &opt.OptionText, &opt.Position); err != nil {
			return nil, fmt.Errorf("scan poll option: %w", err)
		}
		options = append(options, opt)
	}
	return options, rows.Err()
}

// DeleteVotesByUser clears all of the user's votes on a poll. Re-voting is
// delete-then-insert under the poll lock.
func (s *Store) DeleteVotesByUser(ctx context.Context, pollID, userID string) error {
	query := `DELETE FROM parley_poll_votes WHERE poll_id = $1 AND user_id = $2`
	_, err := s.conn(ctx).Exec(ctx, query, pollID, userID)
	if err != nil {
		return fmt.Errorf("delete votes: %w", err)
	}
	return nil
}

// InsertVotes adds vote rows in one statement.
func (s *Store) InsertVotes(ctx context.Context, votes []*domain.PollVote) error {
	if len(votes) == 0 {
		return nil
	}

	ids := make([]string, len(votes))
	optionIDs := make([]string, len(votes))
	now := time.Now().UTC()
	for i, v := range votes {
		if v.CreatedAt.IsZero() {
			v.CreatedAt = now
		}
		ids[i] = v.ID
		optionIDs[i] = v.OptionID
	}

	query := `
		INSERT INTO parley_poll_votes (id, poll_id, option_id, user_id, created_at)
		SELECT t.id, $1, t.option_id, $2, $5
		FROM unnest($3::text[], $4::text[]) AS t(id, option_id)`

	_, err := s.conn(ctx).Exec(ctx, query, votes[0].PollID, votes[0].UserID, ids, optionIDs, now)
	if err != nil {
		return WrapConflict("insert votes", err)
	}
	return nil
}

// ListVotes returns every vote on a poll.
func (s *Store) ListVotes(ctx context.Context, pollID string) ([]*domain.PollVote, error) {
	query := `
		SELECT id, poll_id, option_id, user_id, created_at
		FROM parley_poll_votes
		WHERE poll_id = $1
		ORDER BY created_at ASC`

	rows, err := s.conn(ctx).Query(ctx, query, pollID)
	if err != nil {
		return nil, fmt.Errorf("list votes: %w", err)
	}
	defer rows.Close()

	var votes []*domain.PollVote
	for rows.Next() {
		v := &domain.PollVote{}
		if err := rows.Scan(&v.ID, &v.PollID, &v.OptionID, &v.UserID, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan vote: %w", err)
		}
		votes = append(votes, v)
	}
	return votes, rows.Err()
}

// ClosePoll expires the poll immediately.
func (s *Store) ClosePoll(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE parley_polls SET expires_at = $2 WHERE id = $1`
	result, err := s.conn(ctx).Exec(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("close poll: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
