package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"school-admin/api"
	"school-admin/internal/config"
	"school-admin/internal/event"
	"school-admin/internal/handler"
	"school-admin/internal/metrics"
	"school-admin/internal/middleware"
	"school-admin/internal/router"
	"school-admin/internal/service"
	"school-admin/internal/stream"
)

type App struct {
	server       *http.Server
	background   []func(ctx context.Context)
	cleanupFuncs []func()
}

// components is everything behind the HTTP handler, assembled once so the
// server and the end-to-end tests share the same wiring.
type components struct {
	handler   http.Handler
	auth      *service.AuthService
	audit     *service.AuditService
	bus       *event.InMemoryBus
	runAudit  func(ctx context.Context)
	runStream func(ctx context.Context)
}

func New(cfg *config.Config) (*App, error) {
	stores, err := OpenStores(context.Background(), cfg)
	if err != nil {
		return nil, err
	}

	redisClient := connectRedis(cfg.RedisURL)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	c, err := build(cfg, stores, redisClient, registry)
	if err != nil {
		stores.Close()
		return nil, err
	}

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           c.handler,
		ReadHeaderTimeout: cfg.ServerReadHeaderTimeout,
		WriteTimeout:      cfg.ServerWriteTimeout,
		IdleTimeout:       cfg.ServerIdleTimeout,
	}

	// Open event streams would hold Shutdown until its deadline; closing the
	// hub ends them as soon as shutdown starts.
	streamCtx, stopStream := context.WithCancel(context.Background())
	server.RegisterOnShutdown(stopStream)

	cleanup := []func(){stopStream, stores.Close}
	if redisClient != nil {
		cleanup = append(cleanup, func() { _ = redisClient.Close() })
	}

	return &App{
		server: server,
		background: []func(ctx context.Context){
			c.runAudit,
			func(context.Context) { c.runStream(streamCtx) },
			func(ctx context.Context) { c.auth.StartCleanupTicker(ctx, cfg.TokenCleanupInterval) },
		},
		cleanupFuncs: cleanup,
	}, nil
}

func build(cfg *config.Config, stores *Stores, redisClient *redis.Client, registry *prometheus.Registry) (*components, error) {
	bus := event.NewBus()
	m := metrics.New(registry)
	m.WatchDroppedEvents(registry, bus.Dropped)

	issuer := service.NewTokenIssuer(cfg.JWTSecret, cfg.JWTAccessTTL, cfg.RefreshTTL(), stores.Tokens)
	authService, err := service.NewAuthService(stores.Users, stores.Students, issuer, bus, m, cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize auth service: %w", err)
	}
	adminService := service.NewAdminService(stores.Users, stores.Tokens, bus, cfg.BcryptCost)
	studentService := service.NewStudentService(stores.Students, bus)
	dashboardService := service.NewDashboardService(stores.Users, stores.Students)
	auditService := service.NewAuditService(stores.Audit)
	runAudit := auditService.Attach(bus)
	hub := stream.NewHub(bus)

	authMiddleware := middleware.NewAuthMiddleware(authService, m)

	var shared middleware.SharedLimiter
	if limiter := middleware.NewRedisLimiter(redisClient); limiter != nil {
		shared = limiter
	}
	clientIP, err := middleware.NewClientIPResolver(cfg.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("failed to parse TRUSTED_PROXIES: %w", err)
	}
	rateLimit := middleware.NewRateLimitMiddleware(cfg.RateLimitRPM, cfg.AuthRateLimitRPM, shared, clientIP)

	cookie := handler.NewRefreshCookie(cfg.RefreshCookieName, cfg.RefreshTTL(), cfg.IsProduction())

	appRouter := router.New(cfg, authMiddleware, rateLimit, router.Handlers{
		Auth:        handler.NewAuthHandler(authService, cookie),
		Admin:       handler.NewAdminHandler(adminService),
		Profesor:    handler.NewProfesorHandler(adminService),
		Student:     handler.NewStudentHandler(studentService),
		Dashboard:   handler.NewDashboardHandler(dashboardService),
		Audit:       handler.NewAuditHandler(auditService),
		AuditStream: handler.NewAuditStreamHandler(hub, authService),
		Docs:        handler.NewDocsHandler(api.OpenAPI),
		Health:      handler.NewHealthHandler(healthFunc(stores.Health)),
		Metrics:     metrics.Handler(registry),
	})

	return &components{
		handler:   appRouter,
		auth:      authService,
		audit:     auditService,
		bus:       bus,
		runAudit:  runAudit,
		runStream: hub.Run,
	}, nil
}

// connectRedis returns nil when REDIS_URL is unset or unusable; the auth
// rate limit then stays per-process.
func connectRedis(url string) *redis.Client {
	if url == "" {
		return nil
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		slog.Warn("invalid REDIS_URL, shared rate limiting disabled", "error", err)
		return nil
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		slog.Warn("redis unreachable, shared rate limiter will fail open", "error", err)
	} else {
		slog.Info("redis connected", "addr", opts.Addr)
	}
	return client
}

type healthFunc func(ctx context.Context) error

func (f healthFunc) Health(ctx context.Context) error { return f(ctx) }

func (a *App) Run() error {
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()
	for _, run := range a.background {
		go run(bgCtx)
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
	case err := <-serveErr:
		if err != nil {
			a.cleanup()
			return fmt.Errorf("server failed: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	shutdownErr := a.server.Shutdown(ctx)
	bgCancel()
	a.cleanup()

	if shutdownErr != nil {
		return fmt.Errorf("graceful shutdown failed: %w", shutdownErr)
	}

	slog.Info("server stopped")
	return nil
}

func (a *App) cleanup() {
	for _, fn := range a.cleanupFuncs {
		fn()
	}
}
