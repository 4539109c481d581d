package boltstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"school-admin/internal/model"
)

// TokenRepository keys refresh tokens by their hash, so a lookup for a
// presented token is a single Get.
type TokenRepository struct {
	db *DB
}

func NewTokenRepository(db *DB) *TokenRepository {
	return &TokenRepository{db: db}
}

func (r *TokenRepository) Create(ctx context.Context, token model.RefreshToken) error {
	return r.db.update(ctx, func(tx *bbolt.Tx) error {
		return putToken(tx, token)
	})
}

// Consume deletes the record for tokenHash and stores the replacement built by
// replace in the same write transaction. bbolt serialises writers, so two
// callers presenting the same token cannot both find it. Expired records and
// records whose owner no longer exists are deleted and that deletion is
// committed before the error is returned.
func (r *TokenRepository) Consume(
	ctx context.Context,
	tokenHash string,
	now time.Time,
	replace func(owner model.TokenOwner) (model.RefreshToken, error),
) (model.RefreshToken, error) {
	var consumed model.RefreshToken
	var outcome error

	err := r.db.update(ctx, func(tx *bbolt.Tx) error {
		tokens := tx.Bucket(bucketRefreshTokens)
		found, err := getJSON(tokens, tokenHash, &consumed)
		if err != nil {
			return err
		}
		if !found {
			return model.ErrTokenNotFound
		}
		if err := tokens.Delete([]byte(tokenHash)); err != nil {
			return err
		}

		if consumed.ExpiredAt(now) {
			outcome = model.ErrTokenExpired
			return nil
		}
		if !ownerExists(tx, consumed.Owner) {
			outcome = model.ErrOwnerNotFound
			return nil
		}

		next, err := replace(consumed.Owner)
		if err != nil {
			return err
		}
		return putToken(tx, next)
	})
	if err != nil {
		return model.RefreshToken{}, err
	}
	return consumed, outcome
}

func (r *TokenRepository) DeleteByHash(ctx context.Context, tokenHash string) (int64, error) {
	var n int64
	err := r.db.update(ctx, func(tx *bbolt.Tx) error {
		tokens := tx.Bucket(bucketRefreshTokens)
		if tokens.Get([]byte(tokenHash)) == nil {
			return nil
		}
		n = 1
		return tokens.Delete([]byte(tokenHash))
	})
	return n, err
}

func (r *TokenRepository) DeleteForOwner(ctx context.Context, owner model.TokenOwner) (int64, error) {
	var n int64
	err := r.db.update(ctx, func(tx *bbolt.Tx) error {
		var err error
		n, err = deleteTokensWhere(tx, func(t model.RefreshToken) bool {
			return t.Owner == owner
		})
		return err
	})
	return n, err
}

func (r *TokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	err := r.db.update(ctx, func(tx *bbolt.Tx) error {
		var err error
		n, err = deleteTokensWhere(tx, func(t model.RefreshToken) bool {
			return t.ExpiredAt(now)
		})
		return err
	})
	return n, err
}

func putToken(tx *bbolt.Tx, token model.RefreshToken) error {
	if !ownerExists(tx, token.Owner) {
		return model.ErrOwnerNotFound
	}
	return putJSON(tx.Bucket(bucketRefreshTokens), token.TokenHash, token)
}

func ownerExists(tx *bbolt.Tx, owner model.TokenOwner) bool {
	switch owner.Type {
	case model.EntityUser:
		return tx.Bucket(bucketUsers).Get([]byte(owner.ID)) != nil
	case model.EntityStudent:
		return tx.Bucket(bucketStudents).Get([]byte(owner.ID)) != nil
	default:
		return false
	}
}

// deleteTokensWhere collects matching keys first; deleting while a cursor
// walks the bucket skips entries.
func deleteTokensWhere(tx *bbolt.Tx, match func(model.RefreshToken) bool) (int64, error) {
	tokens := tx.Bucket(bucketRefreshTokens)

	var doomed [][]byte
	err := tokens.ForEach(func(k, v []byte) error {
		var t model.RefreshToken
		if err := json.Unmarshal(v, &t); err != nil {
			return fmt.Errorf("decode refresh token: %w", err)
		}
		if match(t) {
			doomed = append(doomed, append([]byte(nil), k...))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, k := range doomed {
		if err := tokens.Delete(k); err != nil {
			return 0, err
		}
	}
	return int64(len(doomed)), nil
}
