// Package store is the persistence contract (§4.8): the narrow set of
// operations the scheduler, cognitive cycle, and guardrails use to read and
// write agent state. Everything else in the module depends on the Store
// interface, never on *sqlx.DB directly.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/nfa-labs/agentrunner/internal/config"
	"github.com/nfa-labs/agentrunner/pkg/logger"
)

// DB wraps the pooled Postgres connection used by the sqlx-backed Store.
type DB struct {
	conn *sqlx.DB
}

// NewDB opens and pings a pooled Postgres connection.
func NewDB(cfg *config.DatabaseConfig) (*DB, error) {
	conn, err := sqlx.Connect("postgres", cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("database", cfg.Name),
	)

	return &DB{conn: conn}, nil
}

func (db *DB) Close() error {
	logger.Info("closing database connection")
	return db.conn.Close()
}

func (db *DB) Conn() *sql.DB   { return db.conn.DB }
func (db *DB) SQLX() *sqlx.DB  { return db.conn }

// WrapConn adapts an already-open *sqlx.DB (e.g. a test harness connection)
// into a *DB without dialing again.
func WrapConn(conn *sqlx.DB) *DB { return &DB{conn: conn} }

func (db *DB) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := db.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}
