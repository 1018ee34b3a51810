package heron

import (
	"database/sql"
	"time"

	"github.com/denismitr/heron/internal/database/sqlgateway"
	"github.com/denismitr/heron/internal/database/sqlgateway/sqlite"
)

type SqliteOptionFunc func(*sqlite.Options, *sqlgateway.ConnectOptions)

func UseSqlite(db *sql.DB, options ...SqliteOptionFunc) OptionFunc {
	return func(r *Runner) error {
		sqliteOpts := &sqlite.Options{}
		connectOpts := sqlgateway.NewDefaultConnectOptions()

		for _, oFunc := range options {
			oFunc(sqliteOpts, connectOpts)
		}

		conn, err := connect(sqlite.DriverName, db, connectOpts)
		if err != nil {
			return err
		}

		gw, err := sqlgateway.NewSqliteGateway(conn, sqliteOpts)
		if err != nil {
			_ = conn.Close()
			return err
		}

		r.gateway = gw

		return nil
	}
}

func WithSqliteStepsTable(table string) SqliteOptionFunc {
	return func(sqliteOpts *sqlite.Options, _ *sqlgateway.ConnectOptions) {
		sqliteOpts.StepsTable = table
	}
}

func WithSqliteVersionsTable(table, moduleColumn, versionColumn string) SqliteOptionFunc {
	return func(sqliteOpts *sqlite.Options, _ *sqlgateway.ConnectOptions) {
		sqliteOpts.VersionsTable = table
		sqliteOpts.VersionModuleColumn = moduleColumn
		sqliteOpts.VersionColumn = versionColumn
		sqliteOpts.ExternalVersions = true
	}
}

func WithSqliteBatchSize(size int) SqliteOptionFunc {
	return func(sqliteOpts *sqlite.Options, _ *sqlgateway.ConnectOptions) {
		sqliteOpts.BatchSize = size
	}
}

func WithSqliteMaxConnectionAttempts(attempts int) SqliteOptionFunc {
	return func(_ *sqlite.Options, connectOpts *sqlgateway.ConnectOptions) {
		connectOpts.MaxAttempts = attempts
	}
}

func WithSqliteConnectionTimeout(timeout time.Duration) SqliteOptionFunc {
	return func(_ *sqlite.Options, connectOpts *sqlgateway.ConnectOptions) {
		connectOpts.MaxTimeout = timeout
	}
}

// WithSqliteIsolation sets the isolation level of step transactions:
// serializable, repeatable read or read committed
func WithSqliteIsolation(level string) SqliteOptionFunc {
	return func(sqliteOpts *sqlite.Options, _ *sqlgateway.ConnectOptions) {
		sqliteOpts.Isolation = level
	}
}
