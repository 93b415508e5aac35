package database

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-dashboards/pkg/retry"
)

const applicationName = "ekaya-dashboards"

// DB wraps a pgxpool connection pool.
type DB struct {
	*pgxpool.Pool
}

// Config holds database connection configuration. Zero values fall back to
// the pool defaults below.
type Config struct {
	URL              string
	MaxConnections   int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	StatementTimeout time.Duration
}

// NewConnection creates a connection pool and pings it once.
func NewConnection(ctx context.Context, cfg *Config) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	poolConfig.MaxConns = cfg.MaxConnections
	if poolConfig.MaxConns == 0 {
		poolConfig.MaxConns = 25
	}
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	if poolConfig.MaxConnLifetime == 0 {
		poolConfig.MaxConnLifetime = time.Hour
	}
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	if poolConfig.MaxConnIdleTime == 0 {
		poolConfig.MaxConnIdleTime = 30 * time.Minute
	}

	params := poolConfig.ConnConfig.RuntimeParams
	params["application_name"] = applicationName
	if cfg.StatementTimeout > 0 {
		params["statement_timeout"] = strconv.FormatInt(cfg.StatementTimeout.Milliseconds(), 10)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Open connects, retrying while the server is still starting, then applies
// pending migrations. Authentication and missing-database errors are not retried.
func Open(ctx context.Context, cfg *Config, retryCfg *retry.Config, logger *zap.Logger) (*DB, error) {
	logger = logger.Named("database")
	if retryCfg == nil {
		retryCfg = retry.DefaultConfig()
	}
	rc := *retryCfg
	rc.OnRetry = func(attempt int, err error, delay time.Duration) {
		logger.Warn("Database not reachable, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
	}

	db, err := retry.DoWithResult(ctx, &rc, func(ctx context.Context) (*DB, error) {
		db, err := NewConnection(ctx, cfg)
		if err != nil && isFatalConnectError(err) {
			return nil, retry.Permanent(err)
		}
		return db, err
	})
	if err != nil {
		return nil, err
	}

	sqlDB := stdlib.OpenDBFromPool(db.Pool)
	defer func() {
		if err := sqlDB.Close(); err != nil {
			logger.Warn("Failed to close migration connection", zap.Error(err))
		}
	}()
	if err := RunMigrations(sqlDB, logger); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// isFatalConnectError reports server answers that a retry cannot fix.
func isFatalConnectError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "28000", "28P01": // invalid authorization, invalid password
		return true
	case "3D000": // invalid catalog name
		return true
	}
	return false
}

// Close closes the connection pool.
func (db *DB) Close() {
	db.Pool.Close()
}
