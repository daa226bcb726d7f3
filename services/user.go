package services

import (
	"context"
	"fmt"

	"github.com/parleyhq/parley/cache"
	"github.com/parleyhq/parley/domain"
	"github.com/parleyhq/parley/store"
)

type UserService struct {
	store     *store.Store
	cache     *cache.Cache
	directory ProfileDirectory
}

func NewUserService(s *store.Store, c *cache.Cache, dir ProfileDirectory) *UserService {
	return &UserService{store: s, cache: c, directory: dir}
}

// Me returns the caller's own row straight from the store.
func (s *UserService) Me(ctx context.Context, userID string) (*domain.User, error) {
	return s.store.GetUser(ctx, userID)
}

// Get resolves another user's profile through the directory cache.
func (s *UserService) Get(ctx context.Context, targetID string) (*domain.User, error) {
	users, err := s.directory.Users(ctx, []string{targetID})
	if err != nil {
		return nil, err
	}
	user, ok := users[targetID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return user, nil
}

// UpdateSettings replaces the caller's opaque settings blob.
func (s *UserService) UpdateSettings(ctx context.Context, userID string, settings map[string]any) error {
	if err := s.store.UpdateUserSettings(ctx, userID, settings); err != nil {
		return err
	}
	_ = s.cache.Delete(ctx, cache.ProfileKey(userID))
	return nil
}

// Block stops the target from producing delivery states toward the caller.
// Blocking yourself is rejected; blocking twice is a no-op.
func (s *UserService) Block(ctx context.Context, userID, targetID string) error {
	if userID == targetID {
		return fmt.Errorf("%w: cannot block yourself", domain.ErrValidation)
	}
	if _, err := s.store.GetUser(ctx, targetID); err != nil {
		return err
	}
	return s.store.BlockUser(ctx, userID, targetID)
}

func (s *UserService) Unblock(ctx context.Context, userID, targetID string) error {
	return s.store.UnblockUser(ctx, userID, targetID)
}

// Blocked returns the users the caller has blocked, with profiles.
func (s *UserService) Blocked(ctx context.Context, userID string) ([]*domain.User, error) {
	ids, err := s.store.ListBlockedIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []*domain.User{}, nil
	}

	users, err := s.directory.Users(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.User, 0, len(ids))
	for _, id := range ids {
		if u, ok := users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

// Online returns the ids of all currently online users.
func (s *UserService) Online(ctx context.Context) ([]string, error) {
	return s.cache.OnlineUsers(ctx)
}
