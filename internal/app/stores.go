package app

import (
	"context"
	"fmt"
	"log/slog"

	"school-admin/internal/config"
	"school-admin/internal/database"
	"school-admin/internal/repository"
	"school-admin/internal/repository/boltstore"
	"school-admin/internal/service"
)

// Stores bundles the persistence ports for the configured driver.
type Stores struct {
	Users    service.UserStore
	Students service.StudentStore
	Tokens   service.TokenStore
	Audit    service.AuditStore
	Health   func(ctx context.Context) error

	close func()
}

func (s *Stores) Close() {
	if s != nil && s.close != nil {
		s.close()
	}
}

// OpenStores connects the driver selected by STORE_DRIVER. For Postgres the
// schema is ensured before returning.
func OpenStores(ctx context.Context, cfg *config.Config) (*Stores, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		slog.Info("connecting to PostgreSQL")
		db, err := database.New(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		if err := db.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to ensure database schema: %w", err)
		}

		return &Stores{
			Users:    repository.NewUserRepository(db.Pool),
			Students: repository.NewStudentRepository(db.Pool),
			Tokens:   repository.NewTokenRepository(db.Pool),
			Audit:    repository.NewAuditRepository(db.Pool),
			Health:   db.Health,
			close:    db.Close,
		}, nil

	case config.StoreDriverBolt:
		slog.Info("opening bbolt store", "path", cfg.BoltPath)
		db, err := boltstore.Open(cfg.BoltPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open bolt store: %w", err)
		}

		return &Stores{
			Users:    boltstore.NewUserRepository(db),
			Students: boltstore.NewStudentRepository(db),
			Tokens:   boltstore.NewTokenRepository(db),
			Audit:    boltstore.NewAuditRepository(db),
			Health:   db.Health,
			close: func() {
				if err := db.Close(); err != nil {
					slog.Warn("failed to close bolt store", "error", err)
				}
			},
		}, nil

	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
}
