package heron

import (
	"database/sql"
	"time"

	"github.com/denismitr/heron/internal/database/sqlgateway"
	"github.com/denismitr/heron/internal/database/sqlgateway/postgres"
)

type PostgresOptionFunc func(*postgres.Options, *sqlgateway.ConnectOptions)

func UsePostgres(db *sql.DB, options ...PostgresOptionFunc) OptionFunc {
	return func(r *Runner) error {
		pgOpts := &postgres.Options{LockKey: postgres.DefaultLockKey}
		connectOpts := sqlgateway.NewDefaultConnectOptions()

		for _, oFunc := range options {
			oFunc(pgOpts, connectOpts)
		}

		conn, err := connect(postgres.DriverName, db, connectOpts)
		if err != nil {
			return err
		}

		gw, err := sqlgateway.NewPostgresGateway(conn, pgOpts)
		if err != nil {
			_ = conn.Close()
			return err
		}

		r.gateway = gw

		return nil
	}
}

func WithPostgresNoLock() PostgresOptionFunc {
	return func(pgOpts *postgres.Options, _ *sqlgateway.ConnectOptions) {
		pgOpts.NoLock = true
	}
}

func WithPostgresLockKey(key int64) PostgresOptionFunc {
	return func(pgOpts *postgres.Options, _ *sqlgateway.ConnectOptions) {
		pgOpts.LockKey = key
	}
}

func WithPostgresStepsTable(table string) PostgresOptionFunc {
	return func(pgOpts *postgres.Options, _ *sqlgateway.ConnectOptions) {
		pgOpts.StepsTable = table
	}
}

// WithPostgresVersionsTable reads module versions from a table of the host
// application, for instance ir_module_module with name and latest_version
func WithPostgresVersionsTable(table, moduleColumn, versionColumn string) PostgresOptionFunc {
	return func(pgOpts *postgres.Options, _ *sqlgateway.ConnectOptions) {
		pgOpts.VersionsTable = table
		pgOpts.VersionModuleColumn = moduleColumn
		pgOpts.VersionColumn = versionColumn
		pgOpts.ExternalVersions = true
	}
}

func WithPostgresBatchSize(size int) PostgresOptionFunc {
	return func(pgOpts *postgres.Options, _ *sqlgateway.ConnectOptions) {
		pgOpts.BatchSize = size
	}
}

func WithPostgresConnectionTimeout(timeout time.Duration) PostgresOptionFunc {
	return func(_ *postgres.Options, connectOpts *sqlgateway.ConnectOptions) {
		connectOpts.MaxTimeout = timeout
	}
}

func WithPostgresMaxConnectionAttempts(attempts int) PostgresOptionFunc {
	return func(_ *postgres.Options, connectOpts *sqlgateway.ConnectOptions) {
		connectOpts.MaxAttempts = attempts
	}
}

// WithPostgresIsolation sets the isolation level of step transactions:
// serializable, repeatable read or read committed
func WithPostgresIsolation(level string) PostgresOptionFunc {
	return func(pgOpts *postgres.Options, _ *sqlgateway.ConnectOptions) {
		pgOpts.Isolation = level
	}
}
