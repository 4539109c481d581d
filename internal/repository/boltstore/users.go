package boltstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"school-admin/internal/model"
)

type UserRepository struct {
	db *DB
}

func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (model.User, error) {
	var u model.User
	err := r.db.view(ctx, func(tx *bbolt.Tx) error {
		found, err := getJSON(tx.Bucket(bucketUsers), id, &u)
		if err != nil {
			return err
		}
		if !found {
			return model.ErrUserNotFound
		}
		return nil
	})
	return u, err
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (model.User, error) {
	var u model.User
	err := r.db.view(ctx, func(tx *bbolt.Tx) error {
		id := tx.Bucket(bucketUsersByEmail).Get([]byte(model.NormalizeEmail(email)))
		if id == nil {
			return model.ErrUserNotFound
		}
		found, err := getJSON(tx.Bucket(bucketUsers), string(id), &u)
		if err != nil {
			return err
		}
		if !found {
			return model.ErrUserNotFound
		}
		return nil
	})
	return u, err
}

func (r *UserRepository) Create(ctx context.Context, u model.User) error {
	return r.db.update(ctx, func(tx *bbolt.Tx) error {
		byEmail := tx.Bucket(bucketUsersByEmail)
		key := []byte(model.NormalizeEmail(u.Email))
		if byEmail.Get(key) != nil {
			return model.ErrUserAlreadyExists
		}
		if err := byEmail.Put(key, []byte(u.ID)); err != nil {
			return err
		}
		return putJSON(tx.Bucket(bucketUsers), u.ID, u)
	})
}

func (r *UserRepository) UpdateRole(ctx context.Context, id string, role model.Role, updatedAt time.Time) error {
	return r.db.update(ctx, func(tx *bbolt.Tx) error {
		users := tx.Bucket(bucketUsers)
		var u model.User
		found, err := getJSON(users, id, &u)
		if err != nil {
			return err
		}
		if !found {
			return model.ErrUserNotFound
		}
		u.Role = role
		u.UpdatedAt = updatedAt
		return putJSON(users, id, u)
	})
}

// Delete removes the user, its email index entry and every refresh token it
// owns in one transaction.
func (r *UserRepository) Delete(ctx context.Context, id string) error {
	return r.db.update(ctx, func(tx *bbolt.Tx) error {
		users := tx.Bucket(bucketUsers)
		var u model.User
		found, err := getJSON(users, id, &u)
		if err != nil {
			return err
		}
		if !found {
			return model.ErrUserNotFound
		}
		if err := tx.Bucket(bucketUsersByEmail).Delete([]byte(model.NormalizeEmail(u.Email))); err != nil {
			return err
		}
		if _, err := deleteTokensWhere(tx, func(t model.RefreshToken) bool {
			return t.Owner.Type == model.EntityUser && t.Owner.ID == id
		}); err != nil {
			return err
		}
		return users.Delete([]byte(id))
	})
}

func (r *UserRepository) List(ctx context.Context) ([]model.User, error) {
	users := make([]model.User, 0)
	err := r.db.view(ctx, func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketUsers).ForEach(func(k, v []byte) error {
			var u model.User
			if err := json.Unmarshal(v, &u); err != nil {
				return fmt.Errorf("decode user %s: %w", k, err)
			}
			users = append(users, u)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(users, func(i, j int) bool {
		return model.NormalizeEmail(users[i].Email) < model.NormalizeEmail(users[j].Email)
	})
	return users, nil
}

func (r *UserRepository) CountByRole(ctx context.Context, role model.Role) (int, error) {
	count := 0
	err := r.db.view(ctx, func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketUsers).ForEach(func(_, v []byte) error {
			var u model.User
			if err := json.Unmarshal(v, &u); err != nil {
				return err
			}
			if u.Role == role {
				count++
			}
			return nil
		})
	})
	return count, err
}
