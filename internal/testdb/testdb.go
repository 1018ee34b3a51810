// Package testdb opens throwaway SQLite databases shaped like the tables the
// upgrade steps touch.
package testdb

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/denismitr/heron/internal/database/sqlgateway"
	"github.com/denismitr/heron/internal/database/sqlgateway/sqlite"
	"github.com/denismitr/heron/internal/logger"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

// Open creates a database file in a temporary directory and loads the
// fixture schema into it
func Open(t *testing.T) *sqlx.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000", filepath.Join(t.TempDir(), "heron.db"))
	db, err := sqlx.Open(sqlite.DriverName, dsn)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = db.Close()
	})

	for _, q := range schema {
		_, err := db.Exec(q)
		require.NoError(t, err, q)
	}

	return db
}

// Session returns a session running every query directly on db
func Session(db *sqlx.DB) *sqlgateway.Session {
	return sqlgateway.NewSession(db, sqlite.NewDialect(), logger.NullLogger{}, 2)
}

func Exec(t *testing.T, db *sqlx.DB, queries ...string) {
	t.Helper()

	for _, q := range queries {
		_, err := db.ExecContext(context.Background(), q)
		require.NoError(t, err, q)
	}
}

// Count returns the result of a COUNT(*) query
func Count(t *testing.T, db *sqlx.DB, query string, args ...interface{}) int {
	t.Helper()

	var n int
	require.NoError(t, db.Get(&n, query, args...))
	return n
}
