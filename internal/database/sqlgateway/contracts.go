package sqlgateway

import (
	"context"
	"database/sql"

	"github.com/Masterminds/squirrel"
	"github.com/denismitr/heron/internal/database"
	"github.com/jmoiron/sqlx"
)

type CtxExecutor = database.CtxExecutor

// Executor is what a session needs to run step queries. *sqlx.DB, *sqlx.Conn
// and *sqlx.Tx all satisfy it.
type Executor interface {
	sqlx.QueryerContext
	sqlx.ExecerContext
}

// Beginner opens transactions, *sqlx.DB and *sqlx.Conn both satisfy it
type Beginner interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

type Locker interface {
	Lock(context.Context, CtxExecutor) error
	Unlock(context.Context, CtxExecutor) error
}

// Dialect holds everything that differs between database engines
type Dialect interface {
	Name() string
	BindType() int
	Placeholder() squirrel.PlaceholderFormat

	InitQueries(o database.CommonOptions) []string
	DropQueries(o database.CommonOptions) []string
	ShowTablesQuery() string

	// TableExistsQuery takes the table name and returns a count
	TableExistsQuery() string
	// ColumnExistsQuery takes table and column names and returns a count
	ColumnExistsQuery() string
	// ColumnTypeQuery takes table and column names and returns the declared type
	ColumnTypeQuery() string

	IsDeadlock(err error) bool
}
