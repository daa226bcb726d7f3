// Package identity validates bearer tokens issued by the external identity
// provider and resolves them to local user rows.
package identity

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/parleyhq/parley/domain"
)

// Claims is the subset of the provider's JWT payload the core trusts.
// The external user id comes from "sub", falling back to "id".
type Claims struct {
	ExternalUserID string
	Email          string
	Name           string
	Role           string
	Image          string
}

type TokenVerifier struct {
	secret    []byte
	clockSkew time.Duration
	tokenTTL  time.Duration
}

func NewTokenVerifier(secret string, clockSkew, tokenTTL time.Duration) *TokenVerifier {
	return &TokenVerifier{
		secret:    []byte(secret),
		clockSkew: clockSkew,
		tokenTTL:  tokenTTL,
	}
}

// Verify parses a compact HS256 JWT signed with the shared secret. exp and
// iat are required; any parse or signature failure maps to
// domain.ErrUnauthenticated.
func (v *TokenVerifier) Verify(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, domain.ErrUnauthenticated
	}

	token, err := jwt.Parse(tokenString,
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return v.secret, nil
		},
		jwt.WithLeeway(v.clockSkew),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)
	if err != nil || !token.Valid {
		return nil, domain.ErrUnauthenticated
	}

	mc, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, domain.ErrUnauthenticated
	}

	claims := &Claims{
		ExternalUserID: stringClaim(mc, "sub"),
		Email:          stringClaim(mc, "email"),
		Name:           stringClaim(mc, "name"),
		Role:           stringClaim(mc, "role"),
		Image:          stringClaim(mc, "image"),
	}
	if claims.ExternalUserID == "" {
		claims.ExternalUserID = stringClaim(mc, "id")
	}
	if claims.ExternalUserID == "" {
		return nil, domain.ErrUnauthenticated
	}
	return claims, nil
}

// Issue signs a token for the given claims. Used by the login endpoint when
// the deployment runs without an external provider.
func (v *TokenVerifier) Issue(claims *Claims) (string, error) {
	now := time.Now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   claims.ExternalUserID,
		"email": claims.Email,
		"name":  claims.Name,
		"role":  claims.Role,
		"image": claims.Image,
		"iat":   now.Unix(),
		"exp":   now.Add(v.tokenTTL).Unix(),
	})

	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func stringClaim(mc jwt.MapClaims, key string) string {
	v, _ := mc[key].(string)
	return v
}
