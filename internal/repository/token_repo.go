package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"school-admin/internal/model"
)

const pgForeignKeyViolation = "23503"

type TokenRepository struct {
	pool *pgxpool.Pool
}

func NewTokenRepository(pool *pgxpool.Pool) *TokenRepository {
	return &TokenRepository{pool: pool}
}

func (r *TokenRepository) Create(ctx context.Context, token model.RefreshToken) error {
	if err := insertRefreshToken(ctx, r.pool, token); err != nil {
		return fmt.Errorf("store refresh token: %w", err)
	}
	return nil
}

// Consume deletes the record for tokenHash and, in the same transaction,
// inserts the record produced by replace. DELETE ... RETURNING takes the row
// lock, so of two concurrent callers presenting the same token only one gets
// a row back. An expired record is still deleted (and the deletion
// committed) before ErrTokenExpired is returned.
func (r *TokenRepository) Consume(
	ctx context.Context,
	tokenHash string,
	now time.Time,
	replace func(owner model.TokenOwner) (model.RefreshToken, error),
) (model.RefreshToken, error) {
	var consumed model.RefreshToken
	expired := false

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var userID, studentID *string
		err := tx.QueryRow(ctx,
			`DELETE FROM refresh_tokens WHERE token_hash = $1
			 RETURNING id, token_hash, user_id, estudiante_id, expires_at, created_at`, tokenHash).
			Scan(&consumed.ID, &consumed.TokenHash, &userID, &studentID, &consumed.ExpiresAt, &consumed.CreatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ErrTokenNotFound
		}
		if err != nil {
			return fmt.Errorf("consume refresh token: %w", err)
		}

		consumed.Owner = ownerFromColumns(userID, studentID)
		if consumed.ExpiredAt(now) {
			expired = true
			return nil
		}

		next, err := replace(consumed.Owner)
		if err != nil {
			return err
		}
		if err := insertRefreshToken(ctx, tx, next); err != nil {
			return fmt.Errorf("rotate refresh token: %w", err)
		}
		return nil
	})
	if err != nil {
		return model.RefreshToken{}, err
	}
	if expired {
		return consumed, model.ErrTokenExpired
	}

	return consumed, nil
}

func (r *TokenRepository) DeleteByHash(ctx context.Context, tokenHash string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM refresh_tokens WHERE token_hash = $1`, tokenHash)
	if err != nil {
		return 0, fmt.Errorf("revoke refresh token: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *TokenRepository) DeleteForOwner(ctx context.Context, owner model.TokenOwner) (int64, error) {
	column := "user_id"
	if owner.Type == model.EntityStudent {
		column = "estudiante_id"
	}

	tag, err := r.pool.Exec(ctx, `DELETE FROM refresh_tokens WHERE `+column+` = $1`, owner.ID)
	if err != nil {
		return 0, fmt.Errorf("revoke refresh tokens for owner: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *TokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM refresh_tokens WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("clean expired tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}

type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

func insertRefreshToken(ctx context.Context, db execer, token model.RefreshToken) error {
	var userID, studentID *string
	switch token.Owner.Type {
	case model.EntityUser:
		userID = &token.Owner.ID
	case model.EntityStudent:
		studentID = &token.Owner.ID
	default:
		return fmt.Errorf("unknown token owner type %q", token.Owner.Type)
	}

	_, err := db.Exec(ctx,
		`INSERT INTO refresh_tokens (id, token_hash, user_id, estudiante_id, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		token.ID, token.TokenHash, userID, studentID, token.ExpiresAt, token.CreatedAt)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
		return model.ErrOwnerNotFound
	}
	return err
}

func ownerFromColumns(userID *string, studentID *string) model.TokenOwner {
	if userID != nil {
		return model.TokenOwner{Type: model.EntityUser, ID: *userID}
	}
	if studentID != nil {
		return model.TokenOwner{Type: model.EntityStudent, ID: *studentID}
	}
	return model.TokenOwner{}
}
