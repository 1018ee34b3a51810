package heron

import (
	"database/sql"
	"time"

	"github.com/denismitr/heron/internal/database/sqlgateway"
	"github.com/denismitr/heron/internal/database/sqlgateway/mysql"
)

type MySQLOptionFunc func(*mysql.Options, *sqlgateway.ConnectOptions)

func UseMySQL(db *sql.DB, options ...MySQLOptionFunc) OptionFunc {
	return func(r *Runner) error {
		mysqlOpts := &mysql.Options{
			LockFor: mysql.DefaultLockSeconds,
			LockKey: mysql.DefaultLockKey,
		}

		connectOpts := sqlgateway.NewDefaultConnectOptions()

		for _, oFunc := range options {
			oFunc(mysqlOpts, connectOpts)
		}

		conn, err := connect(mysql.DriverName, db, connectOpts)
		if err != nil {
			return err
		}

		gw, err := sqlgateway.NewMySQLGateway(conn, mysqlOpts)
		if err != nil {
			_ = conn.Close()
			return err
		}

		r.gateway = gw

		return nil
	}
}

func WithMySQLNoLock() MySQLOptionFunc {
	return func(mysqlOpts *mysql.Options, _ *sqlgateway.ConnectOptions) {
		mysqlOpts.NoLock = true
	}
}

func WithMySQLLockKey(key string) MySQLOptionFunc {
	return func(mysqlOpts *mysql.Options, _ *sqlgateway.ConnectOptions) {
		mysqlOpts.LockKey = key
	}
}

func WithMySQLLockFor(lockFor int) MySQLOptionFunc {
	return func(mysqlOpts *mysql.Options, _ *sqlgateway.ConnectOptions) {
		mysqlOpts.LockFor = lockFor
	}
}

func WithMySQLCharset(charset string) MySQLOptionFunc {
	return func(mysqlOpts *mysql.Options, _ *sqlgateway.ConnectOptions) {
		mysqlOpts.Charset = charset
	}
}

func WithMySQLStepsTable(table string) MySQLOptionFunc {
	return func(mysqlOpts *mysql.Options, _ *sqlgateway.ConnectOptions) {
		mysqlOpts.StepsTable = table
	}
}

// WithMySQLVersionsTable reads module versions from a table of the host
// application, which is never created by the runner
func WithMySQLVersionsTable(table, moduleColumn, versionColumn string) MySQLOptionFunc {
	return func(mysqlOpts *mysql.Options, _ *sqlgateway.ConnectOptions) {
		mysqlOpts.VersionsTable = table
		mysqlOpts.VersionModuleColumn = moduleColumn
		mysqlOpts.VersionColumn = versionColumn
		mysqlOpts.ExternalVersions = true
	}
}

func WithMySQLBatchSize(size int) MySQLOptionFunc {
	return func(mysqlOpts *mysql.Options, _ *sqlgateway.ConnectOptions) {
		mysqlOpts.BatchSize = size
	}
}

func WithMySQLConnectionTimeout(timeout time.Duration) MySQLOptionFunc {
	return func(_ *mysql.Options, connectOpts *sqlgateway.ConnectOptions) {
		connectOpts.MaxTimeout = timeout
	}
}

func WithMySQLMaxConnectionAttempts(attempts int) MySQLOptionFunc {
	return func(_ *mysql.Options, connectOpts *sqlgateway.ConnectOptions) {
		connectOpts.MaxAttempts = attempts
	}
}

// WithMySQLIsolation sets the isolation level of step transactions:
// serializable, repeatable read or read committed
func WithMySQLIsolation(level string) MySQLOptionFunc {
	return func(mysqlOpts *mysql.Options, _ *sqlgateway.ConnectOptions) {
		mysqlOpts.Isolation = level
	}
}
