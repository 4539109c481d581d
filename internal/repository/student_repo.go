package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"school-admin/internal/model"
)

type StudentRepository struct {
	pool *pgxpool.Pool
}

func NewStudentRepository(pool *pgxpool.Pool) *StudentRepository {
	return &StudentRepository{pool: pool}
}

func (r *StudentRepository) FindByID(ctx context.Context, id string) (model.Student, error) {
	if !isUUID(id) {
		return model.Student{}, model.ErrStudentNotFound
	}

	var s model.Student
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, email, created_at, updated_at FROM estudiantes WHERE id = $1`, id).
		Scan(&s.ID, &s.Name, &s.Email, &s.CreatedAt, &s.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return model.Student{}, model.ErrStudentNotFound
	}
	if err != nil {
		return model.Student{}, fmt.Errorf("find student by id: %w", err)
	}
	return s, nil
}

func (r *StudentRepository) Create(ctx context.Context, s model.Student) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO estudiantes (id, name, email, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		s.ID, s.Name, s.Email, s.CreatedAt, s.UpdatedAt)
	if isUniqueViolation(err) {
		return model.ErrStudentExists
	}
	if err != nil {
		return fmt.Errorf("create student: %w", err)
	}
	return nil
}

func (r *StudentRepository) List(ctx context.Context) ([]model.Student, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, email, created_at, updated_at FROM estudiantes ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	defer rows.Close()

	students := make([]model.Student, 0)
	for rows.Next() {
		var s model.Student
		if err := rows.Scan(&s.ID, &s.Name, &s.Email, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan student: %w", err)
		}
		students = append(students, s)
	}
	return students, rows.Err()
}

func (r *StudentRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM estudiantes`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count students: %w", err)
	}
	return count, nil
}
