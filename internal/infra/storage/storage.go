// Package storage picks the backend named in the config and hands out the
// store implementations the domain services need.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/Spok95/quote-rates/internal/config"
	"github.com/Spok95/quote-rates/internal/domain/quotes"
	"github.com/Spok95/quote-rates/internal/domain/rates"
	"github.com/Spok95/quote-rates/internal/infra/db"
	"github.com/Spok95/quote-rates/internal/infra/sqlite"
)

const migrationsDir = "migrations"

type Backend struct {
	Rates  rates.Store
	Quotes quotes.Store
	close  func()
}

func (b *Backend) Close() {
	if b.close != nil {
		b.close()
	}
}

// MigratePostgres applies the SQL migrations from ./migrations.
func MigratePostgres(dsn string) error {
	sqlDB, err := goose.OpenDBWithDriver("postgres", dsn)
	if err != nil {
		return err
	}
	defer func() { _ = sqlDB.Close() }()
	return goose.Up(sqlDB, migrationsDir)
}

// Open connects to the configured backend. PostgreSQL is migrated first;
// SQLite migrates itself from embedded files.
func Open(ctx context.Context, cfg config.Config, log *slog.Logger) (*Backend, error) {
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		if err := MigratePostgres(cfg.Postgres.DSN); err != nil {
			return nil, fmt.Errorf("migrations: %w", err)
		}
		log.Info("migrations applied")

		pool, err := db.Connect(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, fmt.Errorf("db connect: %w", err)
		}
		log.Info("db connected", "driver", cfg.Store.Driver)
		return &Backend{
			Rates:  rates.NewRepo(pool),
			Quotes: quotes.NewRepo(pool),
			close:  pool.Close,
		}, nil

	case config.DriverSQLite:
		if dir := filepath.Dir(cfg.SQLite.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
		}
		st, err := sqlite.Open(ctx, cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		log.Info("db connected", "driver", cfg.Store.Driver, "path", cfg.SQLite.Path)
		return &Backend{
			Rates:  st,
			Quotes: st,
			close:  func() { _ = st.Close() },
		}, nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
