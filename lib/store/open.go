package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/getAlby/knostr.go/db"
	"github.com/getAlby/knostr.go/db/migrations"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
	"github.com/ziflex/lecho/v3"
)

const badgerScheme = "badger://"

// Open picks the storage engine from the DATABASE_URI scheme:
// postgres://, postgresql:// and unix:// use Postgres, badger://<path> an
// embedded badger database and a bare badger:// an in-memory one.
func Open(ctx context.Context, config db.Config, logger *lecho.Logger) (EventStore, error) {
	switch {
	case strings.HasPrefix(config.URI, badgerScheme):
		path := strings.TrimPrefix(config.URI, badgerScheme)
		if path == "" {
			logger.Warn("Using an in-memory badger store, events are lost on shutdown")
		}
		return NewBadgerStore(path, logger)
	case db.IsPostgres(config.URI):
		dbConn, err := db.Open(config)
		if err != nil {
			return nil, err
		}
		if err := waitForDB(ctx, dbConn, logger); err != nil {
			dbConn.Close()
			return nil, err
		}
		if err := migrateDB(ctx, dbConn); err != nil {
			dbConn.Close()
			return nil, err
		}
		return NewPostgresStore(dbConn), nil
	default:
		return nil, fmt.Errorf("Invalid database connection string %s, only (postgres|postgresql|unix|badger):// is supported", config.URI)
	}
}

func waitForDB(ctx context.Context, dbConn *bun.DB, logger *lecho.Logger) error {
	exponentialBackoff := backoff.NewExponentialBackOff()
	exponentialBackoff.MaxElapsedTime = time.Minute
	return backoff.RetryNotify(func() error {
		return dbConn.PingContext(ctx)
	}, backoff.WithContext(exponentialBackoff, ctx), func(err error, wait time.Duration) {
		logger.Errorf("Database not reachable, retrying in %s: %v", wait, err)
	})
}

func migrateDB(ctx context.Context, dbConn *bun.DB) error {
	migrator := migrate.NewMigrator(dbConn, migrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		return fmt.Errorf("Error initializing db migrator: %w", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		return fmt.Errorf("Error migrating database: %w", err)
	}
	return nil
}
