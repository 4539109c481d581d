package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"school-admin/internal/model"
	"school-admin/pkg/apierror"
)

const refreshTokenBytes = 32

// TokenIssuer signs access tokens and mints, rotates and revokes the opaque
// refresh tokens behind them.
type TokenIssuer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	tokens     TokenStore
	now        func() time.Time
}

func NewTokenIssuer(secret string, accessTTL time.Duration, refreshTTL time.Duration, tokens TokenStore) *TokenIssuer {
	return &TokenIssuer{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		tokens:     tokens,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (i *TokenIssuer) AccessTTL() time.Duration  { return i.accessTTL }
func (i *TokenIssuer) RefreshTTL() time.Duration { return i.refreshTTL }

// Issue signs a fresh access token for owner and persists a new refresh
// record.
func (i *TokenIssuer) Issue(ctx context.Context, owner model.TokenOwner) (model.TokenPair, error) {
	now := i.now()

	access, err := i.SignAccess(owner, now)
	if err != nil {
		return model.TokenPair{}, err
	}

	raw, record, err := i.newRefresh(owner, now)
	if err != nil {
		return model.TokenPair{}, err
	}

	if err := i.tokens.Create(ctx, record); err != nil {
		return model.TokenPair{}, fmt.Errorf("persist refresh token: %w", err)
	}

	return model.TokenPair{
		AccessToken:      access,
		RefreshToken:     raw,
		RefreshExpiresAt: record.ExpiresAt,
	}, nil
}

// Rotate consumes the presented refresh token and issues its replacement in
// the same store transaction. It returns the owner of the consumed record.
func (i *TokenIssuer) Rotate(ctx context.Context, rawRefresh string) (model.TokenOwner, model.TokenPair, error) {
	now := i.now()
	var pair model.TokenPair

	consumed, err := i.tokens.Consume(ctx, HashRefreshToken(rawRefresh), now,
		func(owner model.TokenOwner) (model.RefreshToken, error) {
			access, err := i.SignAccess(owner, now)
			if err != nil {
				return model.RefreshToken{}, err
			}
			raw, record, err := i.newRefresh(owner, now)
			if err != nil {
				return model.RefreshToken{}, err
			}

			pair = model.TokenPair{
				AccessToken:      access,
				RefreshToken:     raw,
				RefreshExpiresAt: record.ExpiresAt,
			}
			return record, nil
		})
	if err != nil {
		return model.TokenOwner{}, model.TokenPair{}, err
	}

	return consumed.Owner, pair, nil
}

// Revoke deletes every record matching the raw token and reports how many
// went.
func (i *TokenIssuer) Revoke(ctx context.Context, rawRefresh string) (int64, error) {
	return i.tokens.DeleteByHash(ctx, HashRefreshToken(rawRefresh))
}

func (i *TokenIssuer) SignAccess(owner model.TokenOwner, now time.Time) (string, error) {
	claims := model.AccessClaims{
		ID:   owner.ID,
		Type: owner.Type,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.accessTTL)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// Verify checks signature, algorithm and expiry, then the payload shape.
// Failures are returned as *apierror.APIError with TOKEN_EXPIRED or
// TOKEN_INVALID.
func (i *TokenIssuer) Verify(token string) (model.AccessClaims, error) {
	var claims model.AccessClaims

	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if errors.Is(err, jwt.ErrTokenExpired) {
		return model.AccessClaims{}, apierror.Unauthorized(apierror.CodeTokenExpired, "access token expired")
	}
	if err != nil {
		return model.AccessClaims{}, apierror.Unauthorized(apierror.CodeTokenInvalid, "invalid access token")
	}

	if claims.ID == "" || !claims.Type.Valid() {
		return model.AccessClaims{}, apierror.Unauthorized(apierror.CodeTokenInvalid, "invalid token payload")
	}

	return claims, nil
}

func (i *TokenIssuer) newRefresh(owner model.TokenOwner, now time.Time) (string, model.RefreshToken, error) {
	buf := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", model.RefreshToken{}, fmt.Errorf("generate refresh token: %w", err)
	}
	raw := base64.RawURLEncoding.EncodeToString(buf)

	return raw, model.RefreshToken{
		ID:        uuid.NewString(),
		TokenHash: HashRefreshToken(raw),
		Owner:     owner,
		ExpiresAt: now.Add(i.refreshTTL),
		CreatedAt: now,
	}, nil
}

// HashRefreshToken is the lookup key stored in place of the raw token.
func HashRefreshToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
