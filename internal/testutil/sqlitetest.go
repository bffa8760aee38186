package testutil

import (
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"
)

// SQLiteTest opens a private in-memory SQLite database. The pool is pinned
// to one connection since every :memory: connection is its own database.
func SQLiteTest(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("sqlitetest: open: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}
