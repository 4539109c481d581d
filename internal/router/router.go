package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"school-admin/internal/config"
	"school-admin/internal/handler"
	"school-admin/internal/middleware"
	"school-admin/internal/model"
)

type Handlers struct {
	Auth        *handler.AuthHandler
	Admin       *handler.AdminHandler
	Profesor    *handler.ProfesorHandler
	Student     *handler.StudentHandler
	Dashboard   *handler.DashboardHandler
	Audit       *handler.AuditHandler
	AuditStream *handler.AuditStreamHandler
	Docs        *handler.DocsHandler
	Health      *handler.HealthHandler
	Metrics     http.Handler
}

const (
	streamMaxDuration = time.Hour
	streamIdleTimeout = time.Minute
)

func New(
	cfg *config.Config,
	authMiddleware *middleware.AuthMiddleware,
	rateLimit *middleware.RateLimitMiddleware,
	h Handlers,
) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logging)
	r.Use(middleware.Recovery)
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	r.Use(rateLimit.Handler)

	r.Get("/health", h.Health.Health)
	if h.Metrics != nil {
		r.Handle("/metrics", h.Metrics)
	}
	if h.Docs != nil {
		r.Get("/openapi.yaml", h.Docs.OpenAPI)
		r.Get("/docs", h.Docs.SwaggerUI)
	}

	requireAuth := authMiddleware.RequireAuth
	adminOnly := authMiddleware.RequireRoles(model.RoleAdmin)
	profesorOnly := authMiddleware.RequireRoles(model.RoleProfesor)
	staff := authMiddleware.RequireRoles(model.RoleAdmin, model.RoleProfesor)

	timeout := middleware.Timeout(cfg.RequestTimeout)

	r.Route("/admin", func(admin chi.Router) {
		admin.Group(func(api chi.Router) {
			api.Use(timeout)
			api.With(authMiddleware.OptionalAuth).Post("/crear-admin", h.Admin.CreateAdmin)
			api.With(requireAuth, adminOnly).Get("/usuarios", h.Admin.ListUsers)
			api.With(requireAuth, adminOnly).Put("/usuarios/{id}/rol", h.Admin.UpdateRole)
			api.With(requireAuth, adminOnly).Delete("/usuarios/{id}", h.Admin.DeleteUser)
			api.With(requireAuth, adminOnly).Get("/auditoria", h.Audit.List)
		})

		if h.AuditStream != nil {
			admin.With(middleware.StreamingTimeout(streamMaxDuration, streamIdleTimeout), requireAuth, adminOnly).
				Get("/auditoria/stream", h.AuditStream.Stream)
		}
	})

	r.Group(func(api chi.Router) {
		api.Use(timeout)

		api.Route("/auth", func(auth chi.Router) {
			auth.Post("/login", h.Auth.Login)
			auth.Post("/refresh-token", h.Auth.Refresh)
			auth.Post("/logout", h.Auth.Logout)
			auth.With(requireAuth).Get("/me", h.Auth.Me)
		})

		api.Route("/profesores", func(profesores chi.Router) {
			profesores.With(requireAuth, adminOnly).Post("/", h.Profesor.Create)
			profesores.With(requireAuth, adminOnly).Get("/", h.Profesor.List)
			profesores.With(requireAuth, profesorOnly).Get("/perfil", h.Profesor.Profile)
		})

		api.Route("/estudiantes", func(estudiantes chi.Router) {
			estudiantes.With(requireAuth, staff).Post("/", h.Student.Create)
			estudiantes.With(requireAuth, staff).Get("/", h.Student.List)
			estudiantes.With(requireAuth, staff).Get("/{id}", h.Student.Get)
		})

		api.With(requireAuth, adminOnly).Get("/dashboard", h.Dashboard.Summary)
	})

	return r
}
