package boltstore

import (
	"context"
	"encoding/json"
	"sort"

	"go.etcd.io/bbolt"

	"school-admin/internal/model"
)

type StudentRepository struct {
	db *DB
}

func NewStudentRepository(db *DB) *StudentRepository {
	return &StudentRepository{db: db}
}

func (r *StudentRepository) FindByID(ctx context.Context, id string) (model.Student, error) {
	var s model.Student
	err := r.db.view(ctx, func(tx *bbolt.Tx) error {
		found, err := getJSON(tx.Bucket(bucketStudents), id, &s)
		if err != nil {
			return err
		}
		if !found {
			return model.ErrStudentNotFound
		}
		return nil
	})
	return s, err
}

func (r *StudentRepository) Create(ctx context.Context, s model.Student) error {
	return r.db.update(ctx, func(tx *bbolt.Tx) error {
		byEmail := tx.Bucket(bucketStudentsEmail)
		key := []byte(model.NormalizeEmail(s.Email))
		if byEmail.Get(key) != nil {
			return model.ErrStudentExists
		}
		if err := byEmail.Put(key, []byte(s.ID)); err != nil {
			return err
		}
		return putJSON(tx.Bucket(bucketStudents), s.ID, s)
	})
}

func (r *StudentRepository) List(ctx context.Context) ([]model.Student, error) {
	students := make([]model.Student, 0)
	err := r.db.view(ctx, func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketStudents).ForEach(func(_, v []byte) error {
			var s model.Student
			if err := json.Unmarshal(v, &s); err != nil {
				return err
			}
			students = append(students, s)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(students, func(i, j int) bool {
		if students[i].Name == students[j].Name {
			return students[i].ID < students[j].ID
		}
		return students[i].Name < students[j].Name
	})
	return students, nil
}

func (r *StudentRepository) Count(ctx context.Context) (int, error) {
	count := 0
	err := r.db.view(ctx, func(tx *bbolt.Tx) error {
		count = tx.Bucket(bucketStudents).Stats().KeyN
		return nil
	})
	return count, err
}
