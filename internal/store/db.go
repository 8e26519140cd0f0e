package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/subtitler/internal/config"
)

const applicationName = "subtitler"

// Open connects to Postgres, applies pending migrations and returns a store
// that owns the pool.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*PostgresStore, error) {
	pool, err := Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}

	version, err := RunMigrations(cfg.URL, cfg.MigrationsDir)
	if err != nil {
		pool.Close()
		return nil, err
	}
	slog.Info("database ready", "schema_version", version)

	return NewPostgresStore(pool), nil
}

// Connect builds the pool and pings once so a bad URL or unreachable server
// fails at startup rather than on the first job write.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	}
	poolCfg.MinConns = int32(min(cfg.MaxIdleConns, int(poolCfg.MaxConns)))
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	poolCfg.HealthCheckPeriod = 30 * time.Second
	poolCfg.ConnConfig.RuntimeParams["application_name"] = applicationName

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// RunMigrations applies every pending migration in dir and returns the
// resulting schema version. A dirty schema is refused.
func RunMigrations(databaseURL, dir string) (uint, error) {
	m, err := migrate.New("file://"+dir, databaseURL)
	if err != nil {
		return 0, fmt.Errorf("init migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("schema version %d is dirty", version)
	}
	return version, nil
}
