package step

import (
	"context"

	"github.com/denismitr/heron/internal/logger"
)

// BatchFunc processes one chunk of identifiers with a session bound to the
// transaction the chunk runs in.
type BatchFunc func(ctx context.Context, s Session, batch []int64) error

// Session is the database handle a step works with. Queries use ? bind
// variables, slice arguments are expanded for IN (?) clauses and the query
// is rebound for the target dialect.
type Session interface {
	Exec(ctx context.Context, query string, args ...interface{}) (int64, error)
	Select(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	Get(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectIDs(ctx context.Context, query string, args ...interface{}) ([]int64, error)

	TableExists(ctx context.Context, table string) (bool, error)
	ColumnExists(ctx context.Context, table, column string) (bool, error)
	ColumnType(ctx context.Context, table, column string) (string, error)

	// Chunked calls fn for consecutive batches of ids, every id exactly once
	Chunked(ctx context.Context, ids []int64, size int, fn BatchFunc) error

	Dialect() string
	Logger() logger.Logger
}
