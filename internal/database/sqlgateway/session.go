package sqlgateway

import (
	"context"
	"database/sql"
	"strings"

	"github.com/denismitr/heron/internal/chunk"
	"github.com/denismitr/heron/internal/logger"
	"github.com/denismitr/heron/step"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// Session runs step queries on a transaction, or on a bare connection when
// the step commits per batch.
type Session struct {
	ex        Executor
	beginner  Beginner
	txm       TxManager
	dialect   Dialect
	lg        logger.Logger
	batchSize int
}

var _ step.Session = (*Session)(nil)

// NewSession binds a session to ex. Chunked batches run inline on ex.
func NewSession(ex Executor, d Dialect, lg logger.Logger, batchSize int) *Session {
	if lg == nil {
		lg = logger.NullLogger{}
	}

	if batchSize <= 0 {
		batchSize = chunk.DefaultSize
	}

	return &Session{ex: ex, dialect: d, lg: lg, batchSize: batchSize}
}

// newBatchSession returns a session whose Chunked batches each commit in
// their own transaction opened on b
func newBatchSession(ex Executor, b Beginner, txm TxManager, d Dialect, lg logger.Logger, batchSize int) *Session {
	s := NewSession(ex, d, lg, batchSize)
	s.beginner = b
	s.txm = txm
	return s
}

func (s *Session) Dialect() string {
	return s.dialect.Name()
}

func (s *Session) Logger() logger.Logger {
	return s.lg
}

func (s *Session) Exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	q, params, err := s.prepare(query, args)
	if err != nil {
		return 0, err
	}

	res, err := s.ex.ExecContext(ctx, q, params...)
	if err != nil {
		return 0, errors.Wrapf(err, "could not execute [%s]", compact(query))
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "could not read affected rows")
	}

	return affected, nil
}

func (s *Session) Select(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	q, params, err := s.prepare(query, args)
	if err != nil {
		return err
	}

	if err := sqlx.SelectContext(ctx, s.ex, dest, q, params...); err != nil {
		return errors.Wrapf(err, "could not select [%s]", compact(query))
	}

	return nil
}

func (s *Session) Get(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	q, params, err := s.prepare(query, args)
	if err != nil {
		return err
	}

	if err := sqlx.GetContext(ctx, s.ex, dest, q, params...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return err
		}

		return errors.Wrapf(err, "could not get [%s]", compact(query))
	}

	return nil
}

func (s *Session) SelectIDs(ctx context.Context, query string, args ...interface{}) ([]int64, error) {
	var ids []int64
	if err := s.Select(ctx, &ids, query, args...); err != nil {
		return nil, err
	}

	return ids, nil
}

func (s *Session) TableExists(ctx context.Context, table string) (bool, error) {
	var count int
	if err := s.Get(ctx, &count, s.dialect.TableExistsQuery(), table); err != nil {
		return false, errors.Wrapf(err, "could not check table %s", table)
	}

	return count > 0, nil
}

func (s *Session) ColumnExists(ctx context.Context, table, column string) (bool, error) {
	var count int
	if err := s.Get(ctx, &count, s.dialect.ColumnExistsQuery(), table, column); err != nil {
		return false, errors.Wrapf(err, "could not check column %s.%s", table, column)
	}

	return count > 0, nil
}

// ColumnType returns the lower cased declared type, or an empty string when
// the column does not exist
func (s *Session) ColumnType(ctx context.Context, table, column string) (string, error) {
	var columnType string
	if err := s.Get(ctx, &columnType, s.dialect.ColumnTypeQuery(), table, column); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}

		return "", errors.Wrapf(err, "could not read type of %s.%s", table, column)
	}

	return strings.ToLower(strings.TrimSpace(columnType)), nil
}

func (s *Session) Chunked(ctx context.Context, ids []int64, size int, fn step.BatchFunc) error {
	if size <= 0 {
		size = s.batchSize
	}

	return chunk.Each(ctx, ids, size, func(ctx context.Context, index int, batch []int64) error {
		s.lg.Debugf("processing chunk %d with %d ids", index+1, len(batch))

		if s.beginner == nil {
			return fn(ctx, s, batch)
		}

		return s.txm.ReadWrite(ctx, s.beginner, func(ctx context.Context, tx *sqlx.Tx) error {
			return fn(ctx, NewSession(tx, s.dialect, s.lg, s.batchSize), batch)
		})
	})
}

// prepare expands slice arguments for IN (?) clauses and rebinds the query
// for the dialect
func (s *Session) prepare(query string, args []interface{}) (string, []interface{}, error) {
	q, params, err := sqlx.In(query, args...)
	if err != nil {
		return "", nil, errors.Wrapf(err, "could not expand arguments of [%s]", compact(query))
	}

	q = sqlx.Rebind(s.dialect.BindType(), q)
	s.lg.SQL(q, params...)

	return q, params, nil
}

func compact(query string) string {
	return strings.Join(strings.Fields(query), " ")
}
