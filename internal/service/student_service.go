package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"school-admin/internal/event"
	"school-admin/internal/model"
	"school-admin/internal/util"
)

type StudentService struct {
	students StudentStore
	bus      event.Bus
}

func NewStudentService(students StudentStore, bus event.Bus) *StudentService {
	return &StudentService{students: students, bus: bus}
}

func (s *StudentService) Create(ctx context.Context, actor model.Principal, req model.CreateStudentRequest) (model.Student, error) {
	email := model.NormalizeEmail(req.Email)
	if email == "" {
		return model.Student{}, model.ErrInvalidInput
	}
	name, err := util.SanitizeDisplayName(req.Name)
	if err != nil {
		return model.Student{}, err
	}

	now := time.Now().UTC()
	student := model.Student{
		ID:        uuid.NewString(),
		Name:      name,
		Email:     email,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.students.Create(ctx, student); err != nil {
		return model.Student{}, err
	}

	if s.bus != nil {
		s.bus.Publish(event.New(event.TypeStudentAdded, actor, student.ID, event.StatusSuccess))
	}
	return student, nil
}

func (s *StudentService) Get(ctx context.Context, id string) (model.Student, error) {
	return s.students.FindByID(ctx, id)
}

func (s *StudentService) List(ctx context.Context) ([]model.Student, error) {
	return s.students.List(ctx)
}

// DashboardService aggregates the admin overview counts.
type DashboardService struct {
	users    UserStore
	students StudentStore
}

func NewDashboardService(users UserStore, students StudentStore) *DashboardService {
	return &DashboardService{users: users, students: students}
}

func (s *DashboardService) Summary(ctx context.Context) (model.DashboardSummary, error) {
	admins, err := s.users.CountByRole(ctx, model.RoleAdmin)
	if err != nil {
		return model.DashboardSummary{}, err
	}
	profesores, err := s.users.CountByRole(ctx, model.RoleProfesor)
	if err != nil {
		return model.DashboardSummary{}, err
	}
	students, err := s.students.Count(ctx)
	if err != nil {
		return model.DashboardSummary{}, err
	}

	return model.DashboardSummary{Admins: admins, Profesores: profesores, Students: students}, nil
}
