package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/parleyhq/parley/cache"
	"github.com/parleyhq/parley/domain"
)

const resolvedTTL = 5 * time.Minute

type userUpserter interface {
	UpsertUser(ctx context.Context, user *domain.User) error
}

// Gateway turns bearer tokens into local users. Verified claims are synced
// into the users table so a token is all a client ever needs.
type Gateway struct {
	verifier *TokenVerifier
	store    userUpserter
	cache    *cache.Cache
	logger   *slog.Logger
}

func NewGateway(verifier *TokenVerifier, store userUpserter, c *cache.Cache, logger *slog.Logger) *Gateway {
	return &Gateway{verifier: verifier, store: store, cache: c, logger: logger}
}

// Resolve verifies the token and returns the local user, upserting the row
// from the claims. Resolution is cached briefly per external id.
func (g *Gateway) Resolve(ctx context.Context, token string) (*domain.User, error) {
	claims, err := g.verifier.Verify(token)
	if err != nil {
		return nil, err
	}

	var cached domain.User
	if err := g.cache.Get(ctx, cache.ResolvedUserKey(claims.ExternalUserID), &cached); err == nil {
		return &cached, nil
	} else if !errors.Is(err, cache.ErrMiss) {
		g.logger.Warn("resolved-user cache read failed", "error", err)
	}

	user := &domain.User{
		ExternalUserID: claims.ExternalUserID,
		Email:          claims.Email,
		Name:           claims.Name,
		Image:          claims.Image,
		Role:           claims.Role,
		IsActive:       true,
	}
	if user.Role == "" {
		user.Role = domain.UserRoleMember
	}

	if err := g.store.UpsertUser(ctx, user); err != nil {
		return nil, fmt.Errorf("sync user from claims: %w", err)
	}

	if err := g.cache.Set(ctx, cache.ResolvedUserKey(claims.ExternalUserID), user, resolvedTTL); err != nil {
		g.logger.Warn("resolved-user cache write failed", "error", err)
	}
	_ = g.cache.Delete(ctx, cache.ProfileKey(user.ID))

	return user, nil
}
