// Package repository persists extraction runs and reads the feedback store. Queries are built with
// ent's dialect-aware SQL builder so the same code serves Postgres (pgx pool) and SQLite.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Supported database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	Driver           string
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// DB is an open database with the ent SQL driver wrapped around it.
type DB struct {
	drv     *entsql.Driver
	db      *sql.DB
	pool    *pgxpool.Pool
	dialect string
	logger  *slog.Logger
}

// Open connects according to cfg.Driver.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Driver {
	case DriverPostgres:
		return openPostgres(ctx, cfg, logger)
	case DriverSQLite, "":
		return openSQLite(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func openPostgres(ctx context.Context, cfg Config, logger *slog.Logger) (*DB, error) {
	logger.Info("db.connect", "driver", DriverPostgres)
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		logger.Error("db.connect.failed", "error", err)
		return nil, err
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	pc.MinConns = cfg.MinConns
	if cfg.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	pc.ConnConfig.RuntimeParams["application_name"] = "order-extractor"
	if cfg.StatementTimeout > 0 {
		pc.ConnConfig.RuntimeParams["statement_timeout"] = fmt.Sprint(cfg.StatementTimeout.Milliseconds())
	}

	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(dctx, pc)
	if err != nil {
		logger.Error("db.connect.failed", "error", err)
		return nil, err
	}

	// Wrap pool as *sql.DB for the ent driver.
	db := stdlib.OpenDBFromPool(pool)
	logger.Info("db.connect.ok", "driver", DriverPostgres)
	return &DB{drv: entsql.OpenDB(dialect.Postgres, db), db: db, pool: pool, dialect: dialect.Postgres, logger: logger}, nil
}

func openSQLite(ctx context.Context, cfg Config, logger *slog.Logger) (*DB, error) {
	logger.Info("db.connect", "driver", DriverSQLite, "dsn", cfg.DSN)
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	// SQLite serialises writers; one connection avoids SQLITE_BUSY under concurrent runs.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		logger.Error("db.connect.failed", "error", err)
		return nil, err
	}
	return &DB{drv: entsql.OpenDB(dialect.SQLite, db), db: db, dialect: dialect.SQLite, logger: logger}, nil
}

// Close closes the database connections gracefully.
func (d *DB) Close() {
	d.logger.Info("db.close")
	if err := d.db.Close(); err != nil {
		d.logger.Error("db.close.failed", "error", err)
	}
	if d.pool != nil {
		d.pool.Close()
	}
}

// HealthCheck pings the database.
func (d *DB) HealthCheck(ctx context.Context, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return d.db.PingContext(ctx)
}

// Migrate creates the tables and indexes when missing.
func (d *DB) Migrate(ctx context.Context) error {
	types := map[string]string{"json": "TEXT", "ts": "TIMESTAMP", "float": "REAL"}
	if d.dialect == dialect.Postgres {
		types = map[string]string{"json": "JSONB", "ts": "TIMESTAMPTZ", "float": "DOUBLE PRECISION"}
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ` + tableRuns + ` (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL,
			tenant_id TEXT NOT NULL,
			variant TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at ` + types["ts"] + ` NOT NULL,
			started_at ` + types["ts"] + `,
			finished_at ` + types["ts"] + `,
			confidence ` + types["float"] + ` NOT NULL DEFAULT 0,
			output ` + types["json"] + `,
			metrics ` + types["json"] + ` NOT NULL,
			error_code TEXT,
			error_message TEXT,
			error_retryable BOOLEAN NOT NULL DEFAULT FALSE,
			pipeline_version TEXT NOT NULL,
			layout_fingerprint TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS extraction_runs_document_idx ON ` + tableRuns + ` (document_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS extraction_runs_fp_idx ON ` + tableRuns + ` (tenant_id, layout_fingerprint)`,
		`CREATE TABLE IF NOT EXISTS ` + tableFeedback + ` (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			layout_fingerprint TEXT NOT NULL,
			before_snippet TEXT NOT NULL,
			after_snippet TEXT NOT NULL,
			created_at ` + types["ts"] + ` NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS extraction_feedback_fp_idx ON ` + tableFeedback + ` (tenant_id, layout_fingerprint, created_at)`,
	}
	for _, stmt := range stmts {
		if err := d.drv.Exec(ctx, stmt, []any{}, nil); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	d.logger.Info("db.migrate.ok", "dialect", d.dialect)
	return nil
}

func (d *DB) builder() *entsql.DialectBuilder {
	return entsql.Dialect(d.dialect)
}
