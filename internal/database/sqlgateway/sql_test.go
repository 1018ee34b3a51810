package sqlgateway

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/VividCortex/mysqlerr"
	"github.com/benbjohnson/clock"
	"github.com/denismitr/heron/internal/database"
	"github.com/denismitr/heron/internal/database/sqlgateway/mysql"
	"github.com/denismitr/heron/internal/database/sqlgateway/postgres"
	"github.com/denismitr/heron/internal/database/sqlgateway/sqlite"
	"github.com/denismitr/heron/step"
	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mockConn(t *testing.T) (sqlmock.Sqlmock, *sqlx.Conn) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	conn, err := sqlx.NewDb(db, "sqlmock").Connx(context.Background())
	require.NoError(t, err)

	return mock, conn
}

func expectPostgresPrelude(mock sqlmock.Sqlmock, versions *sqlmock.Rows) {
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_lock($1)")).
		WithArgs(int64(postgres.DefaultLockKey)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS heron_steps").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS heron_module_versions").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT module, version FROM heron_module_versions")).WillReturnRows(versions)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT module, from_version, to_version, phase, completed_at, duration_ms FROM heron_steps")).
		WillReturnRows(sqlmock.NewRows([]string{"module", "from_version", "to_version", "phase", "completed_at", "duration_ms"}))
}

func expectRecord(mock sqlmock.Sqlmock, k step.Key) {
	mock.ExpectExec("DELETE FROM heron_steps WHERE").
		WithArgs(k.From, k.Module, string(k.Phase), k.To).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO heron_steps").
		WithArgs(k.Module, k.From, k.To, string(k.Phase), sqlmock.AnyArg(), int64(0)).
		WillReturnResult(sqlmock.NewResult(1, 1))
}

func newMockPostgresGateway(t *testing.T, conn *sqlx.Conn) *SQLGateway {
	t.Helper()

	g, err := NewPostgresGateway(conn, &postgres.Options{})
	require.NoError(t, err)
	g.SetClock(clock.NewMock())
	return g
}

func newMockMySQLGateway(t *testing.T, conn *sqlx.Conn, o *mysql.Options) *SQLGateway {
	t.Helper()

	g, err := NewMySQLGateway(conn, o)
	require.NoError(t, err)
	return g
}

func TestSQLGateway_Run(t *testing.T) {
	t.Run("it runs a step in a transaction and records its completion", func(t *testing.T) {
		mock, conn := mockConn(t)
		g := newMockPostgresGateway(t, conn)

		s := step.MustNew("base", "9.0.1.3", "10.0.1.3", step.Pre, func(ctx context.Context, sess step.Session) error {
			_, err := sess.Exec(ctx, "UPDATE res_partner SET active = ? WHERE id IN (?)", true, []int64{1, 2})
			return err
		})

		expectPostgresPrelude(mock, sqlmock.NewRows([]string{"module", "version"}).AddRow("base", "9.0.1.3"))
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("UPDATE res_partner SET active = $1 WHERE id IN ($2, $3)")).
			WithArgs(true, 1, 2).
			WillReturnResult(sqlmock.NewResult(0, 2))
		expectRecord(mock, s.Key)
		mock.ExpectCommit()
		mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_unlock($1)")).WillReturnResult(sqlmock.NewResult(0, 0))

		reports, err := g.Run(context.Background(), step.Steps{s}, database.Plan{Phase: step.Pre})
		require.NoError(t, err)
		require.Len(t, reports, 1)
		assert.Equal(t, database.Executed, reports[0].Outcome)
		assert.Equal(t, "9.0.1.3", reports[0].Recorded)

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("a failing step is rolled back and reported", func(t *testing.T) {
		mock, conn := mockConn(t)
		g := newMockPostgresGateway(t, conn)

		cause := errors.New("relation does not exist")
		s := step.MustNew("base", "9.0.1.3", "10.0.1.3", step.Pre, func(ctx context.Context, sess step.Session) error {
			_, err := sess.Exec(ctx, "DELETE FROM ir_ui_view WHERE id = ?", 10)
			return err
		})

		expectPostgresPrelude(mock, sqlmock.NewRows([]string{"module", "version"}).AddRow("base", "9.0.1.3"))
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM ir_ui_view WHERE id = $1")).WithArgs(10).WillReturnError(cause)
		mock.ExpectRollback()
		mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_unlock($1)")).WillReturnResult(sqlmock.NewResult(0, 0))

		reports, err := g.Run(context.Background(), step.Steps{s}, database.Plan{Phase: step.Pre})
		require.Error(t, err)
		assert.True(t, errors.Is(err, cause))

		var stepErr *database.StepError
		require.True(t, errors.As(err, &stepErr))
		assert.Equal(t, s.Key, stepErr.Key)

		require.Len(t, reports, 1)
		assert.Equal(t, database.Failed, reports[0].Outcome)

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("nothing runs when every module is at another version", func(t *testing.T) {
		mock, conn := mockConn(t)
		g := newMockPostgresGateway(t, conn)

		s := step.MustNew("base", "9.0.1.3", "10.0.1.3", step.Pre, func(context.Context, step.Session) error {
			return errors.New("must not run")
		})

		expectPostgresPrelude(mock, sqlmock.NewRows([]string{"module", "version"}).AddRow("base", "10.0.1.3"))
		mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_unlock($1)")).WillReturnResult(sqlmock.NewResult(0, 0))

		reports, err := g.Run(context.Background(), step.Steps{s}, database.Plan{Phase: step.Pre})
		assert.True(t, errors.Is(err, database.ErrNoChangesRequired))
		require.Len(t, reports, 1)
		assert.Equal(t, database.SkippedVersion, reports[0].Outcome)

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("a step with batch commits commits every chunk on its own", func(t *testing.T) {
		mock, conn := mockConn(t)
		g := newMockPostgresGateway(t, conn)

		s := step.MustNew("sale_mrp", "8.0.1.0", "9.0.1.0", step.Post, func(ctx context.Context, sess step.Session) error {
			return sess.Chunked(ctx, []int64{1, 2, 3}, 2, func(ctx context.Context, sess step.Session, batch []int64) error {
				_, err := sess.Exec(ctx, "UPDATE sale_order_line SET qty_delivered = 0 WHERE id IN (?)", batch)
				return err
			})
		}, step.WithBatchCommits())

		expectPostgresPrelude(mock, sqlmock.NewRows([]string{"module", "version"}).AddRow("sale_mrp", "8.0.1.0"))
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("WHERE id IN ($1, $2)")).WithArgs(1, 2).WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectCommit()
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("WHERE id IN ($1)")).WithArgs(3).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
		mock.ExpectBegin()
		expectRecord(mock, s.Key)
		mock.ExpectCommit()
		mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_unlock($1)")).WillReturnResult(sqlmock.NewResult(0, 0))

		_, err := g.Run(context.Background(), step.Steps{s}, database.Plan{Phase: step.Post})
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("a deadlocked step is started over", func(t *testing.T) {
		mock, conn := mockConn(t)
		g := newMockPostgresGateway(t, conn)

		s := step.MustNew("stock", "8.0.1.1", "9.0.1.1", step.Post, func(ctx context.Context, sess step.Session) error {
			_, err := sess.Exec(ctx, "UPDATE stock_move SET state = 'done' WHERE id = ?", 7)
			return err
		})

		expectPostgresPrelude(mock, sqlmock.NewRows([]string{"module", "version"}).AddRow("stock", "8.0.1.1"))
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE stock_move").WillReturnError(&pq.Error{Code: "40P01"})
		mock.ExpectRollback()
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE stock_move").WithArgs(7).WillReturnResult(sqlmock.NewResult(0, 1))
		expectRecord(mock, s.Key)
		mock.ExpectCommit()
		mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_unlock($1)")).WillReturnResult(sqlmock.NewResult(0, 0))

		reports, err := g.Run(context.Background(), step.Steps{s}, database.Plan{Phase: step.Post})
		require.NoError(t, err)
		assert.Equal(t, 1, reports.Count(database.Executed))
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSQLGateway_WriteVersion(t *testing.T) {
	t.Run("it replaces the version in its own table", func(t *testing.T) {
		mock, conn := mockConn(t)
		g := newMockMySQLGateway(t, conn, &mysql.Options{})

		mock.ExpectQuery(regexp.QuoteMeta("SELECT GET_LOCK(?, ?)")).
			WithArgs(mysql.DefaultLockKey, mysql.DefaultLockSeconds).
			WillReturnRows(sqlmock.NewRows([]string{"acquired"}).AddRow(1))
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS heron_steps").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS heron_module_versions").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM heron_module_versions WHERE module = ?")).
			WithArgs("sale_stock").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO heron_module_versions (module,version) VALUES (?,?)")).
			WithArgs("sale_stock", "10.0.1.0").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()
		mock.ExpectExec(regexp.QuoteMeta("SELECT RELEASE_LOCK(?)")).WillReturnResult(sqlmock.NewResult(0, 0))

		require.NoError(t, g.WriteVersion(context.Background(), "sale_stock", "10.0.1.0"))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("a host owned table is only updated", func(t *testing.T) {
		mock, conn := mockConn(t)
		g := newMockMySQLGateway(t, conn, &mysql.Options{
			CommonOptions: database.CommonOptions{
				VersionsTable:       "ir_module_module",
				VersionModuleColumn: "name",
				VersionColumn:       "latest_version",
				ExternalVersions:    true,
			},
			NoLock: true,
		})

		mock.ExpectExec("CREATE TABLE IF NOT EXISTS heron_steps").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("UPDATE ir_module_module SET latest_version = ? WHERE name = ?")).
			WithArgs("9.0.1.1", "stock").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, g.WriteVersion(context.Background(), "stock", "9.0.1.1"))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("it rejects an invalid version", func(t *testing.T) {
		_, conn := mockConn(t)
		g := newMockMySQLGateway(t, conn, &mysql.Options{})

		err := g.WriteVersion(context.Background(), "stock", "nine")
		assert.True(t, errors.Is(err, step.ErrInvalidVersion))
	})
}

func TestDialects(t *testing.T) {
	t.Run("mysql recognizes lock errors", func(t *testing.T) {
		d := mysql.NewDialect("")
		assert.True(t, d.IsDeadlock(&mysqldriver.MySQLError{Number: mysqlerr.ER_LOCK_DEADLOCK}))
		assert.True(t, d.IsDeadlock(errors.Wrap(&mysqldriver.MySQLError{Number: mysqlerr.ER_LOCK_WAIT_TIMEOUT}, "update")))
		assert.False(t, d.IsDeadlock(&mysqldriver.MySQLError{Number: mysqlerr.ER_DUP_ENTRY}))
		assert.False(t, d.IsDeadlock(errors.New("deadlock in the message only")))
	})

	t.Run("postgres recognizes deadlock and serialization failures", func(t *testing.T) {
		d := postgres.NewDialect()
		assert.True(t, d.IsDeadlock(&pq.Error{Code: "40P01"}))
		assert.True(t, d.IsDeadlock(&pq.Error{Code: "40001"}))
		assert.False(t, d.IsDeadlock(&pq.Error{Code: "23505"}))
	})

	t.Run("versions table is not created when owned by the host", func(t *testing.T) {
		o := database.CommonOptions{VersionsTable: "ir_module_module", ExternalVersions: true}.WithDefaults()
		queries := postgres.NewDialect().InitQueries(o)
		require.Len(t, queries, 1)
		assert.Contains(t, queries[0], "heron_steps")
		assert.Len(t, postgres.NewDialect().DropQueries(o), 1)
	})
}

func TestSQLGateway_ReadState(t *testing.T) {
	recordColumns := []string{"module", "from_version", "to_version", "phase", "completed_at", "duration_ms"}

	t.Run("it reads versions and records in one read-only transaction", func(t *testing.T) {
		mock, conn := mockConn(t)
		g := newMockPostgresGateway(t, conn)
		completedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

		mock.ExpectBegin()
		mock.ExpectQuery("FROM pg_catalog.pg_tables").
			WillReturnRows(sqlmock.NewRows([]string{"table_name"}).AddRow("heron_module_versions").AddRow("heron_steps"))
		mock.ExpectQuery(regexp.QuoteMeta("SELECT module, version FROM heron_module_versions")).
			WillReturnRows(sqlmock.NewRows([]string{"module", "version"}).AddRow("stock", "9.0.1.1").AddRow("crm", nil))
		mock.ExpectQuery(regexp.QuoteMeta("SELECT module, from_version, to_version, phase, completed_at, duration_ms FROM heron_steps")).
			WillReturnRows(sqlmock.NewRows(recordColumns).AddRow("stock", "8.0.1.1", "9.0.1.1", "post", completedAt, int64(1500)))
		mock.ExpectCommit()

		versions, records, err := g.ReadState(context.Background())
		require.NoError(t, err)
		assert.Equal(t, database.Versions{"stock": "9.0.1.1"}, versions)
		require.Len(t, records, 1)
		assert.Equal(t, step.Key{Module: "stock", From: "8.0.1.1", To: "9.0.1.1", Phase: step.Post}, records[0].Key)
		assert.Equal(t, 1500*time.Millisecond, records[0].Duration)

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing state tables read as empty", func(t *testing.T) {
		mock, conn := mockConn(t)
		g := newMockPostgresGateway(t, conn)

		mock.ExpectBegin()
		mock.ExpectQuery("FROM pg_catalog.pg_tables").
			WillReturnRows(sqlmock.NewRows([]string{"table_name"}).AddRow("res_partner"))
		mock.ExpectCommit()

		versions, records, err := g.ReadState(context.Background())
		require.NoError(t, err)
		assert.Empty(t, versions)
		assert.Empty(t, records)

		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSQLGateway_Reset(t *testing.T) {
	t.Run("it drops the state tables under the lock", func(t *testing.T) {
		mock, conn := mockConn(t)
		g := newMockMySQLGateway(t, conn, &mysql.Options{})

		mock.ExpectQuery(regexp.QuoteMeta("SELECT GET_LOCK(?, ?)")).
			WillReturnRows(sqlmock.NewRows([]string{"acquired"}).AddRow(1))
		mock.ExpectExec("DROP TABLE IF EXISTS heron_steps").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("DROP TABLE IF EXISTS heron_module_versions").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(regexp.QuoteMeta("SELECT RELEASE_LOCK(?)")).WillReturnResult(sqlmock.NewResult(0, 0))

		require.NoError(t, g.Reset(context.Background()))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("a host owned versions table is kept", func(t *testing.T) {
		mock, conn := mockConn(t)
		g := newMockPostgresGateway(t, conn)
		g.options.VersionsTable = "ir_module_module"
		g.options.ExternalVersions = true

		mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_lock($1)")).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("DROP TABLE IF EXISTS heron_steps").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_unlock($1)")).WillReturnResult(sqlmock.NewResult(0, 0))

		require.NoError(t, g.Reset(context.Background()))
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestMySQLLocker(t *testing.T) {
	t.Run("a lock that timed out stops the command", func(t *testing.T) {
		mock, conn := mockConn(t)
		g := newMockMySQLGateway(t, conn, &mysql.Options{})

		mock.ExpectQuery(regexp.QuoteMeta("SELECT GET_LOCK(?, ?)")).
			WithArgs(mysql.DefaultLockKey, mysql.DefaultLockSeconds).
			WillReturnRows(sqlmock.NewRows([]string{"acquired"}).AddRow(0))

		err := g.WriteVersion(context.Background(), "stock", "9.0.1.1")
		require.Error(t, err)
		assert.True(t, errors.Is(err, mysql.ErrLockNotAcquired))

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("a lock that failed with NULL stops the command", func(t *testing.T) {
		mock, conn := mockConn(t)
		g := newMockMySQLGateway(t, conn, &mysql.Options{})

		mock.ExpectQuery(regexp.QuoteMeta("SELECT GET_LOCK(?, ?)")).
			WillReturnRows(sqlmock.NewRows([]string{"acquired"}).AddRow(nil))

		_, err := g.Run(context.Background(), nil, database.Plan{Phase: step.Pre})
		assert.True(t, errors.Is(err, mysql.ErrLockNotAcquired))

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no lock is taken when locking is off", func(t *testing.T) {
		mock, conn := mockConn(t)

		require.NoError(t, mysql.NewLocker("", 0, true).Lock(context.Background(), conn))
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

type recordingBeginner struct {
	Beginner
	opts []*sql.TxOptions
}

func (b *recordingBeginner) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	b.opts = append(b.opts, opts)
	return b.Beginner.BeginTxx(ctx, opts)
}

func TestParseISO(t *testing.T) {
	tt := []struct {
		level string
		iso   ISO
		txIso sql.IsolationLevel
	}{
		{level: "", iso: Default, txIso: sql.LevelDefault},
		{level: "serializable", iso: Serializable, txIso: sql.LevelSerializable},
		{level: "REPEATABLE READ", iso: RepeatableRead, txIso: sql.LevelRepeatableRead},
		{level: "read_committed", iso: ReadCommitted, txIso: sql.LevelReadCommitted},
	}

	for _, tc := range tt {
		t.Run("it reads ["+tc.level+"]", func(t *testing.T) {
			iso, err := ParseISO(tc.level)
			require.NoError(t, err)
			assert.Equal(t, tc.iso, iso)

			var txCfg TxConfig
			Isolation(iso)(&txCfg)
			assert.Equal(t, tc.txIso, txCfg.Iso)
		})
	}

	t.Run("an unknown level is rejected", func(t *testing.T) {
		_, err := ParseISO("snapshot")
		assert.True(t, errors.Is(err, ErrUnknownIsolation))
	})

	t.Run("a gateway with an unknown level is not created", func(t *testing.T) {
		_, conn := mockConn(t)
		_, err := NewSqliteGateway(conn, &sqlite.Options{CommonOptions: database.CommonOptions{Isolation: "snapshot"}})
		assert.True(t, errors.Is(err, ErrUnknownIsolation))
	})
}

func TestSqlxTxManager(t *testing.T) {
	t.Run("transactions use the configured isolation level", func(t *testing.T) {
		mock, conn := mockConn(t)
		b := &recordingBeginner{Beginner: conn}
		txm := NewTxManager(nil, ReadCommitted)
		noop := func(context.Context, *sqlx.Tx) error { return nil }

		mock.ExpectBegin()
		mock.ExpectCommit()
		mock.ExpectBegin()
		mock.ExpectCommit()

		require.NoError(t, txm.ReadOnly(context.Background(), b, noop))
		require.NoError(t, txm.ReadWrite(context.Background(), b, noop, Isolation(Serializable)))

		require.Len(t, b.opts, 2)
		assert.Equal(t, &sql.TxOptions{ReadOnly: true, Isolation: sql.LevelReadCommitted}, b.opts[0])
		assert.Equal(t, &sql.TxOptions{ReadOnly: false, Isolation: sql.LevelSerializable}, b.opts[1])

		require.NoError(t, mock.ExpectationsWereMet())
	})
}
