// Package postgres persists fences, tracking points and alert events.
// Fence reads and activation writes go through pgx directly; the append-only
// tracking and alert logs and the schema bootstrap go through gorm on the
// same pool.
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	sharedretry "github.com/couchcryptid/storm-data-shared/retry"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// DB owns the connection pool shared by every repository.
type DB struct {
	Pool *pgxpool.Pool
	Gorm *gorm.DB
}

// Open connects with retry, then creates or migrates the schema.
func Open(ctx context.Context, dsn string, attempts int, delay time.Duration, logger *slog.Logger) (*DB, error) {
	if attempts < 1 {
		attempts = 1
	}

	var (
		pool    *pgxpool.Pool
		lastErr error
	)
	for i := 1; i <= attempts; i++ {
		pool, lastErr = connect(ctx, dsn)
		if lastErr == nil {
			break
		}
		logger.Warn("database connect failed",
			"attempt", i,
			"attempts", attempts,
			"error", lastErr,
		)
		if i == attempts || !sharedretry.SleepWithContext(ctx, delay) {
			break
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("db connect failed after %d attempts: %w", attempts, lastErr)
	}

	gdb, err := gorm.Open(gormpostgres.New(gormpostgres.Config{
		Conn: stdlib.OpenDBFromPool(pool),
	}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("open gorm: %w", err)
	}

	db := &DB{Pool: pool, Gorm: gdb}
	if err := db.bootstrap(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}
	return db, nil
}

func connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func (d *DB) bootstrap(ctx context.Context) error {
	return d.Gorm.WithContext(ctx).AutoMigrate(
		&fenceRecord{},
		&trackingPointRecord{},
		&alertEventRecord{},
	)
}

// CheckReadiness pings the database.
func (d *DB) CheckReadiness(ctx context.Context) error {
	if err := d.Pool.Ping(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	return nil
}

// Close releases the gorm handle and the pool.
func (d *DB) Close() error {
	var err error
	if sqlDB, dbErr := d.Gorm.DB(); dbErr == nil {
		err = sqlDB.Close()
	}
	d.Pool.Close()
	return err
}
