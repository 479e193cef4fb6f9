// Package db provides a HikariCP-style connection pool wrapper around
// database/sql, grounded on the teacher's pkg/db.Pool.
package db

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	_ "github.com/mattn/go-sqlite3"    // registers the "sqlite3" driver
)

// PoolConfig configures the underlying connection pool.
type PoolConfig struct {
	DSN             string
	DriverName      string // "pgx" or "sqlite3"
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultPoolConfig returns sane pool defaults for the given driver/DSN.
func DefaultPoolConfig(driverName, dsn string) PoolConfig {
	return PoolConfig{
		DSN:             dsn,
		DriverName:      driverName,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 10 * time.Minute,
	}
}

// Pool owns a *sql.DB configured per PoolConfig.
type Pool struct {
	db     *sql.DB
	config PoolConfig
}

// NewPool validates config, opens the pool, and pings it fail-fast.
func NewPool(config PoolConfig) (*Pool, error) {
	if config.DSN == "" {
		return nil, &ConfigError{Message: "DSN cannot be empty"}
	}
	if config.DriverName == "" {
		return nil, &ConfigError{Message: "DriverName cannot be empty"}
	}
	if config.MaxOpenConns <= 0 {
		return nil, &ConfigError{Message: "MaxOpenConns must be positive"}
	}
	if config.MaxIdleConns < 0 || config.MaxIdleConns > config.MaxOpenConns {
		return nil, &ConfigError{Message: "MaxIdleConns must be between 0 and MaxOpenConns"}
	}

	sqlDB, err := sql.Open(config.DriverName, config.DSN)
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, err
	}

	return &Pool{db: sqlDB, config: config}, nil
}

// DB exposes the underlying *sql.DB for package store to drive queries on.
func (p *Pool) DB() *sql.DB { return p.db }

// Driver reports which SQL dialect this pool speaks ("pgx" or "sqlite3"),
// so callers can branch on syntax differences (e.g. placeholder style).
func (p *Pool) Driver() string { return p.config.DriverName }

// Close releases the pool's connections.
func (p *Pool) Close() error { return p.db.Close() }

// ConfigError signals a misconfigured pool.
type ConfigError struct{ Message string }

func (e *ConfigError) Error() string { return "db config: " + e.Message }
