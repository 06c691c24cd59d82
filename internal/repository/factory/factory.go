// Package factory opens the configured database and builds repositories on it.
package factory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/prn-tf/keygate/internal/config"
	"github.com/prn-tf/keygate/internal/repository"
	"github.com/prn-tf/keygate/internal/repository/postgres"
	"github.com/prn-tf/keygate/internal/repository/sqlite"
)

// Store is an opened database together with its repositories.
type Store struct {
	Repos    *repository.Repositories
	Database repository.DatabaseHealth
	Migrator repository.Migrator
	Driver   string

	// Collector exports connection pool statistics.
	Collector prometheus.Collector
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.Database.Close()
}

// Open connects to the database selected by cfg.Driver.
// Migrations are not applied; callers decide via cfg.AutoMigrate or keygate-migrate.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (*Store, error) {
	switch cfg.Driver {
	case "sqlite":
		return openSQLite(ctx, cfg, logger)
	case "postgres":
		return openPostgres(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func openSQLite(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (*Store, error) {
	if cfg.Path != sqlite.MemoryPath {
		if dir := filepath.Dir(cfg.Path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sqlite.NewDB(ctx, sqlite.ConfigFromDatabase(cfg), logger)
	if err != nil {
		return nil, err
	}

	return &Store{
		Repos: &repository.Repositories{
			Keys:  sqlite.NewKeyRepository(db),
			Audit: sqlite.NewAuditRepository(db),
		},
		Database:  db,
		Migrator:  db,
		Driver:    cfg.Driver,
		Collector: collectors.NewDBStatsCollector(db.DB(), cfg.Driver),
	}, nil
}

func openPostgres(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (*Store, error) {
	db, err := postgres.NewDB(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	return &Store{
		Repos: &repository.Repositories{
			Keys:  postgres.NewKeyRepository(db),
			Audit: postgres.NewAuditRepository(db),
		},
		Database:  db,
		Migrator:  db,
		Driver:    cfg.Driver,
		Collector: db.Collector(),
	}, nil
}
