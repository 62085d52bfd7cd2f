// Package testdb gives store integration tests a disposable Postgres
// connection with automatic rollback, the same shape the teacher's
// test/testdb helper used for its CEX trading tables.
package testdb

import (
	"context"
	"os"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// TestDB holds a test database connection and a transaction that Teardown
// rolls back. Only work done through Tx() is rolled back; writes made
// through Conn are committed.
type TestDB struct {
	Conn *sqlx.DB
	tx   *sqlx.Tx
}

// Setup connects to TEST_DATABASE_URL (or a local default) and begins a
// transaction that Teardown always rolls back. Rows written through Conn
// rather than Tx() are outside that transaction and stay in the database.
func Setup(t *testing.T) *TestDB {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		dsn = "host=localhost port=5432 user=agentrunner password=agentrunner dbname=agentrunner_test sslmode=disable"
	}

	conn, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		t.Fatalf("failed to connect to test database: %v", err)
	}

	tx, err := conn.BeginTxx(context.Background(), nil)
	if err != nil {
		t.Fatalf("failed to begin transaction: %v", err)
	}

	tdb := &TestDB{Conn: conn, tx: tx}
	t.Cleanup(func() { tdb.Teardown(t) })
	return tdb
}

func (tdb *TestDB) Teardown(t *testing.T) {
	t.Helper()
	if tdb.tx != nil {
		if err := tdb.tx.Rollback(); err != nil {
			t.Logf("warning: failed to rollback transaction: %v", err)
		}
	}
	if tdb.Conn != nil {
		if err := tdb.Conn.Close(); err != nil {
			t.Logf("warning: failed to close database: %v", err)
		}
	}
}

// Tx returns the underlying transaction for direct table setup/assertions.
func (tdb *TestDB) Tx() *sqlx.Tx { return tdb.tx }
