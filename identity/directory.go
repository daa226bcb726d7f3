package identity

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/parleyhq/parley/cache"
	"github.com/parleyhq/parley/domain"
)

const profileTTL = 10 * time.Minute

type userReader interface {
	GetUsersByIDs(ctx context.Context, ids []string) (map[string]*domain.User, error)
}

// Directory serves user profiles: cache first, then the local users table.
// The provider is only a background refresh source; when it is down the
// directory keeps answering from local rows.
type Directory struct {
	store  userReader
	cache  *cache.Cache
	client *Client
	logger *slog.Logger
}

// NewDirectory builds a directory. client may be nil when no external
// provider is configured.
func NewDirectory(store userReader, c *cache.Cache, client *Client, logger *slog.Logger) *Directory {
	return &Directory{store: store, cache: c, client: client, logger: logger}
}

// Users batch-resolves profiles by local id. Missing ids are omitted.
func (d *Directory) Users(ctx context.Context, ids []string) (map[string]*domain.User, error) {
	out := make(map[string]*domain.User, len(ids))

	var misses []string
	for _, id := range ids {
		var u domain.User
		err := d.cache.Get(ctx, cache.ProfileKey(id), &u)
		switch {
		case err == nil:
			out[id] = &u
		case errors.Is(err, cache.ErrMiss):
			misses = append(misses, id)
		default:
			d.logger.Warn("profile cache read failed", "user_id", id, "error", err)
			misses = append(misses, id)
		}
	}
	if len(misses) == 0 {
		return out, nil
	}

	fromStore, err := d.store.GetUsersByIDs(ctx, misses)
	if err != nil {
		return nil, err
	}
	for id, u := range fromStore {
		out[id] = u
		if err := d.cache.Set(ctx, cache.ProfileKey(id), u, profileTTL); err != nil {
			d.logger.Warn("profile cache write failed", "user_id", id, "error", err)
		}
	}
	return out, nil
}

// User resolves a single profile, or domain.ErrNotFound.
func (d *Directory) User(ctx context.Context, id string) (*domain.User, error) {
	users, err := d.Users(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	user, ok := users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return user, nil
}

// Refresh pulls fresh profiles from the provider for users with the given
// external ids and drops their cached copies. Provider outages are logged
// and swallowed; local rows keep serving.
func (d *Directory) Refresh(ctx context.Context, upserter userUpserter, externalIDs []string) {
	if d.client == nil || len(externalIDs) == 0 {
		return
	}

	profiles, err := d.client.Profiles(ctx, externalIDs)
	if err != nil {
		d.logger.Warn("directory refresh failed, serving local rows", "error", err)
		return
	}

	for _, p := range profiles {
		user := &domain.User{
			ExternalUserID: p.ID,
			Email:          p.Email,
			FirstName:      p.FirstName,
			LastName:       p.LastName,
			Name:           p.Name,
			Image:          p.Image,
			Title:          p.Title,
			Division:       p.Division,
			Role:           p.Role,
			IsActive:       p.IsActive,
			IsLeader:       p.IsLeader,
		}
		if user.Role == "" {
			user.Role = domain.UserRoleMember
		}
		if err := upserter.UpsertUser(ctx, user); err != nil {
			d.logger.Warn("directory refresh upsert failed", "external_id", p.ID, "error", err)
			continue
		}
		_ = d.cache.Delete(ctx, cache.ProfileKey(user.ID), cache.ResolvedUserKey(p.ID))
	}
}
