package sqlgateway

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/benbjohnson/clock"
	"github.com/denismitr/heron/internal/database"
	"github.com/denismitr/heron/internal/database/sqlgateway/mysql"
	"github.com/denismitr/heron/internal/database/sqlgateway/postgres"
	"github.com/denismitr/heron/internal/database/sqlgateway/sqlite"
	"github.com/denismitr/heron/internal/logger"
	"github.com/denismitr/heron/step"
	"github.com/hashicorp/go-multierror"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

var (
	_ database.Gateway = (*SQLGateway)(nil)
	_ Dialect          = (*mysql.Dialect)(nil)
	_ Dialect          = (*postgres.Dialect)(nil)
	_ Dialect          = (*sqlite.Dialect)(nil)
	_ Locker           = (*mysql.Locker)(nil)
	_ Locker           = (*postgres.Locker)(nil)
	_ Locker           = NullLocker{}
)

type SQLGateway struct {
	locker  Locker
	lg      logger.Logger
	clock   clock.Clock
	conn    *sqlx.Conn
	dialect Dialect
	txm     TxManager
	options database.CommonOptions
}

func newGateway(conn *sqlx.Conn, d Dialect, l Locker, o database.CommonOptions) (*SQLGateway, error) {
	iso, err := ParseISO(o.Isolation)
	if err != nil {
		return nil, err
	}

	return &SQLGateway{
		locker:  l,
		lg:      logger.NullLogger{},
		clock:   clock.New(),
		conn:    conn,
		dialect: d,
		txm:     NewTxManager(d.IsDeadlock, iso),
		options: o.WithDefaults(),
	}, nil
}

// NewMySQLGateway - creates a gateway working over a dedicated MySQL connection
func NewMySQLGateway(conn *sqlx.Conn, o *mysql.Options) (*SQLGateway, error) {
	return newGateway(
		conn,
		mysql.NewDialect(o.Charset),
		mysql.NewLocker(o.LockKey, o.LockFor, o.NoLock),
		o.CommonOptions,
	)
}

func NewPostgresGateway(conn *sqlx.Conn, o *postgres.Options) (*SQLGateway, error) {
	return newGateway(
		conn,
		postgres.NewDialect(),
		postgres.NewLocker(o.LockKey, o.NoLock),
		o.CommonOptions,
	)
}

// NewSqliteGateway - sqlite has no advisory locks, a database file is
// expected to be upgraded by a single runner
func NewSqliteGateway(conn *sqlx.Conn, o *sqlite.Options) (*SQLGateway, error) {
	return newGateway(conn, sqlite.NewDialect(), NullLocker{}, o.CommonOptions)
}

func (g *SQLGateway) SetLogger(lg logger.Logger) {
	g.lg = lg
}

func (g *SQLGateway) SetClock(c clock.Clock) {
	g.clock = c
}

func (g *SQLGateway) Dialect() Dialect {
	return g.dialect
}

// Run executes the steps that the schedule lets through, one by one, and
// stops at the first failure. Steps completed before the failure stay
// committed and recorded.
func (g *SQLGateway) Run(ctx context.Context, steps step.Steps, p database.Plan) (database.Reports, error) {
	var reports database.Reports

	f := func() error {
		versions, err := g.ReadVersions(ctx)
		if err != nil {
			return err
		}

		records, err := g.ReadRecords(ctx)
		if err != nil {
			return err
		}

		scheduled, skipped := database.Schedule(steps, versions, records, p)
		for i := range skipped {
			g.lg.Debugf("step %s %s", skipped[i].Key, skipped[i].Outcome)
		}

		reports = append(reports, skipped...)

		if len(scheduled) == 0 {
			return database.ErrNoChangesRequired
		}

		for _, s := range scheduled {
			report, err := g.runOne(ctx, s)
			report.Recorded = versions[s.Key.Module]
			reports = append(reports, report)
			if err != nil {
				return err
			}
		}

		return nil
	}

	if err := g.execUnderLock(ctx, f); err != nil {
		return reports, err
	}

	return reports, nil
}

func (g *SQLGateway) runOne(ctx context.Context, s *step.Step) (database.Report, error) {
	report := database.Report{Key: s.Key, Name: s.Name}
	started := g.clock.Now()

	g.lg.Infof("running step %s [%s]", s.Key, s.Name)

	var err error
	if s.Mode == step.TxPerBatch {
		err = g.runWithBatchCommits(ctx, s, started)
	} else {
		err = g.txm.ReadWrite(ctx, g.conn, func(ctx context.Context, tx *sqlx.Tx) error {
			if err := s.Func(ctx, NewSession(tx, g.dialect, g.lg, g.options.BatchSize)); err != nil {
				return err
			}

			return g.writeRecord(ctx, tx, s.Key, started)
		})
	}

	report.Duration = g.clock.Since(started)

	if err != nil {
		report.Outcome = database.Failed
		stepErr := &database.StepError{Key: s.Key, Err: err}
		g.lg.Error(stepErr)
		return report, stepErr
	}

	report.Outcome = database.Executed
	g.lg.Successf("completed step %s [%s] in %s", s.Key, s.Name, report.Duration)

	return report, nil
}

// runWithBatchCommits runs the step on the bare connection, each chunk it
// processes commits on its own. The completion record is written only after
// the whole step succeeded.
func (g *SQLGateway) runWithBatchCommits(ctx context.Context, s *step.Step, started time.Time) error {
	sess := newBatchSession(g.conn, g.conn, g.txm, g.dialect, g.lg, g.options.BatchSize)
	if err := s.Func(ctx, sess); err != nil {
		return err
	}

	return g.txm.ReadWrite(ctx, g.conn, func(ctx context.Context, tx *sqlx.Tx) error {
		return g.writeRecord(ctx, tx, s.Key, started)
	})
}

func (g *SQLGateway) writeRecord(ctx context.Context, ex CtxExecutor, k step.Key, started time.Time) error {
	builder := squirrel.StatementBuilder.PlaceholderFormat(g.dialect.Placeholder())

	deleteQuery, deleteArgs, err := builder.
		Delete(g.options.StepsTable).
		Where(squirrel.Eq{"module": k.Module, "from_version": k.From, "to_version": k.To, "phase": string(k.Phase)}).
		ToSql()
	if err != nil {
		return errors.Wrap(database.ErrStepIsMalformed, err.Error())
	}

	now := g.clock.Now()
	insertQuery, insertArgs, err := builder.
		Insert(g.options.StepsTable).
		Columns("module", "from_version", "to_version", "phase", "completed_at", "duration_ms").
		Values(k.Module, k.From, k.To, string(k.Phase), now.UTC(), now.Sub(started).Milliseconds()).
		ToSql()
	if err != nil {
		return errors.Wrap(database.ErrStepIsMalformed, err.Error())
	}

	g.lg.SQL(deleteQuery, deleteArgs...)
	if _, err := ex.ExecContext(ctx, deleteQuery, deleteArgs...); err != nil {
		return errors.Wrapf(err, "could not clear completion record of %s", k)
	}

	g.lg.SQL(insertQuery, insertArgs...)
	if _, err := ex.ExecContext(ctx, insertQuery, insertArgs...); err != nil {
		return errors.Wrapf(err, "could not write completion record of %s", k)
	}

	return nil
}

func (g *SQLGateway) ReadVersions(ctx context.Context) (database.Versions, error) {
	return g.readVersions(ctx, g.conn)
}

func (g *SQLGateway) readVersions(ctx context.Context, qr sqlx.QueryerContext) (database.Versions, error) {
	q, args, err := squirrel.StatementBuilder.
		PlaceholderFormat(g.dialect.Placeholder()).
		Select(g.options.VersionModuleColumn, g.options.VersionColumn).
		From(g.options.VersionsTable).
		ToSql()
	if err != nil {
		return nil, err
	}

	g.lg.SQL(q, args...)

	rows, err := qr.QueryxContext(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read module versions from %s", g.options.VersionsTable)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			g.lg.Error(closeErr)
		}
	}()

	result := make(database.Versions)
	for rows.Next() {
		var module string
		var version sql.NullString
		if err := rows.Scan(&module, &version); err != nil {
			return nil, errors.Wrap(err, "could not scan module version")
		}

		if version.Valid {
			result[module] = version.String
		}
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "read module versions iteration failed")
	}

	return result, nil
}

type recordRow struct {
	Module      string    `db:"module"`
	From        string    `db:"from_version"`
	To          string    `db:"to_version"`
	Phase       string    `db:"phase"`
	CompletedAt time.Time `db:"completed_at"`
	DurationMs  int64     `db:"duration_ms"`
}

func (g *SQLGateway) ReadRecords(ctx context.Context) (database.Records, error) {
	return g.readRecords(ctx, g.conn)
}

func (g *SQLGateway) readRecords(ctx context.Context, qr sqlx.QueryerContext) (database.Records, error) {
	q, args, err := squirrel.StatementBuilder.
		PlaceholderFormat(g.dialect.Placeholder()).
		Select("module", "from_version", "to_version", "phase", "completed_at", "duration_ms").
		From(g.options.StepsTable).
		OrderBy("completed_at ASC").
		ToSql()
	if err != nil {
		return nil, err
	}

	g.lg.SQL(q, args...)

	var rows []recordRow
	if err := sqlx.SelectContext(ctx, qr, &rows, q, args...); err != nil {
		return nil, errors.Wrapf(err, "could not read completion records from %s", g.options.StepsTable)
	}

	result := make(database.Records, 0, len(rows))
	for _, r := range rows {
		result = append(result, database.Record{
			Key:         step.Key{Module: r.Module, From: r.From, To: r.To, Phase: step.Phase(r.Phase)},
			CompletedAt: r.CompletedAt,
			Duration:    time.Duration(r.DurationMs) * time.Millisecond,
		})
	}

	return result, nil
}

// WriteVersion records the schema version of a module. A host owned
// versions table is only updated, modules it does not know stay unknown.
func (g *SQLGateway) WriteVersion(ctx context.Context, module, version string) error {
	if _, err := step.ParseVersion(version); err != nil {
		return err
	}

	return g.execUnderLock(ctx, func() error {
		return g.txm.ReadWrite(ctx, g.conn, func(ctx context.Context, tx *sqlx.Tx) error {
			builder := squirrel.StatementBuilder.PlaceholderFormat(g.dialect.Placeholder())

			if g.options.ExternalVersions {
				q, args, err := builder.
					Update(g.options.VersionsTable).
					Set(g.options.VersionColumn, version).
					Where(squirrel.Eq{g.options.VersionModuleColumn: module}).
					ToSql()
				if err != nil {
					return err
				}

				g.lg.SQL(q, args...)
				_, err = tx.ExecContext(ctx, q, args...)
				return errors.Wrapf(err, "could not update version of module %s", module)
			}

			deleteQuery, deleteArgs, err := builder.
				Delete(g.options.VersionsTable).
				Where(squirrel.Eq{g.options.VersionModuleColumn: module}).
				ToSql()
			if err != nil {
				return err
			}

			insertQuery, insertArgs, err := builder.
				Insert(g.options.VersionsTable).
				Columns(g.options.VersionModuleColumn, g.options.VersionColumn).
				Values(module, version).
				ToSql()
			if err != nil {
				return err
			}

			g.lg.SQL(deleteQuery, deleteArgs...)
			if _, err := tx.ExecContext(ctx, deleteQuery, deleteArgs...); err != nil {
				return errors.Wrapf(err, "could not clear version of module %s", module)
			}

			g.lg.SQL(insertQuery, insertArgs...)
			if _, err := tx.ExecContext(ctx, insertQuery, insertArgs...); err != nil {
				return errors.Wrapf(err, "could not write version of module %s", module)
			}

			return nil
		})
	})
}

func (g *SQLGateway) CreateStateTables(ctx context.Context) error {
	for _, q := range g.dialect.InitQueries(g.options) {
		g.lg.SQL(q)
		if _, err := g.conn.ExecContext(ctx, q); err != nil {
			return errors.Wrap(err, "could not create state tables")
		}
	}

	return nil
}

// ReadState reads module versions and completion records in one read-only
// transaction. State tables that do not exist yet read as empty, nothing is
// created.
func (g *SQLGateway) ReadState(ctx context.Context) (database.Versions, database.Records, error) {
	versions := make(database.Versions)
	records := make(database.Records, 0)

	err := g.txm.ReadOnly(ctx, g.conn, func(ctx context.Context, tx *sqlx.Tx) error {
		tables, err := g.showTables(ctx, tx)
		if err != nil {
			return err
		}

		existing := make(map[string]bool, len(tables))
		for _, t := range tables {
			existing[strings.ToLower(t)] = true
		}

		if existing[strings.ToLower(g.options.VersionsTable)] {
			if versions, err = g.readVersions(ctx, tx); err != nil {
				return err
			}
		}

		if existing[strings.ToLower(g.options.StepsTable)] {
			if records, err = g.readRecords(ctx, tx); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	return versions, records, nil
}

// Reset drops the state tables the runner owns, every step counts as not
// completed afterwards. A host owned versions table is left alone.
func (g *SQLGateway) Reset(ctx context.Context) error {
	if err := g.locker.Lock(ctx, g.conn); err != nil {
		return errors.Wrap(err, "database lock failed")
	}

	if err := g.DropStateTables(ctx); err != nil {
		return g.handleError(ctx, err)
	}

	return g.locker.Unlock(ctx, g.conn)
}

func (g *SQLGateway) DropStateTables(ctx context.Context) error {
	for _, q := range g.dialect.DropQueries(g.options) {
		g.lg.SQL(q)
		if _, err := g.conn.ExecContext(ctx, q); err != nil {
			return errors.Wrap(err, "could not drop state tables")
		}
	}

	return nil
}

func (g *SQLGateway) showTables(ctx context.Context, qr sqlx.QueryerContext) ([]string, error) {
	q := g.dialect.ShowTablesQuery()
	g.lg.SQL(q)

	var result []string
	if err := sqlx.SelectContext(ctx, qr, &result, q); err != nil {
		return nil, errors.Wrap(err, "could not list all tables")
	}

	return result, nil
}

func (g *SQLGateway) Close() error {
	return g.conn.Close()
}

func (g *SQLGateway) execUnderLock(ctx context.Context, f func() error) error {
	if err := g.locker.Lock(ctx, g.conn); err != nil {
		return errors.Wrap(err, "database lock failed")
	}

	if err := g.CreateStateTables(ctx); err != nil {
		return g.handleError(ctx, err)
	}

	if err := f(); err != nil {
		return g.handleError(ctx, err)
	}

	return g.locker.Unlock(ctx, g.conn)
}

// handleError releases the lock and keeps the original error first in line,
// errors.Is keeps working on the result
func (g *SQLGateway) handleError(ctx context.Context, err error) error {
	if unlockErr := g.locker.Unlock(ctx, g.conn); unlockErr != nil {
		return multierror.Append(err, unlockErr)
	}

	return err
}
