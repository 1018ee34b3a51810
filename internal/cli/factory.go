package cli

import (
	"context"
	"database/sql"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/denismitr/heron"
	"github.com/denismitr/heron/internal/database/sqlgateway/mysql"
	"github.com/denismitr/heron/internal/database/sqlgateway/postgres"
	"github.com/denismitr/heron/internal/database/sqlgateway/sqlite"
	"github.com/denismitr/heron/internal/source"
	"github.com/denismitr/heron/upgrades"
	"github.com/pkg/errors"
	"github.com/xo/dburl"
	"go.uber.org/zap"
)

type (
	runnerFactory    func(db *sql.DB, cfg Config) (heron.OptionFunc, error)
	runnerFactoryMap map[string]runnerFactory
)

var factories = runnerFactoryMap{
	mysql.DriverName:    createMySQLOption,
	postgres.DriverName: createPostgresOption,
	sqlite.DriverName:   createSqliteOption,
}

// parseDatabaseURL resolves the go driver name and its DSN
func parseDatabaseURL(raw string) (string, string, error) {
	u, err := dburl.Parse(raw)
	if err != nil {
		return "", "", errors.Wrapf(err, "could not parse database url")
	}

	dsn := u.DSN
	if u.Driver == mysql.DriverName && !strings.Contains(dsn, "parseTime") {
		if strings.Contains(dsn, "?") {
			dsn += "&parseTime=true"
		} else {
			dsn += "?parseTime=true"
		}
	}

	return u.Driver, dsn, nil
}

func createRunner(cfg Config) (*heron.Runner, heron.CloserFunc, error) {
	driver, dsn, err := parseDatabaseURL(cfg.Database.URL)
	if err != nil {
		return nil, nil, err
	}

	factory, ok := factories[driver]
	if !ok {
		return nil, nil, errors.Errorf("could not find factory for driver [%s]", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "could not open %s database", driver)
	}

	registry, err := upgrades.NewRegistry(cfg.Upgrades)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	if cfg.StepsFolder != "" {
		fileSteps, err := source.NewLocalFSSource(cfg.StepsFolder, nil).Select(context.Background(), source.Filter{})
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}

		if err := registry.Register(fileSteps...); err != nil {
			_ = db.Close()
			return nil, nil, errors.Wrap(err, "step files clash with the upgrade catalogue")
		}
	}

	dbOption, err := factory(db, cfg)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	logOption, syncLog, err := createLoggerOption(cfg.Logging)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	r, closer, err := heron.NewRunner(logOption, heron.UseRegistry(registry), dbOption)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	return r, func() error {
		defer syncLog()

		if err := closer(); err != nil {
			_ = db.Close()
			return err
		}

		return db.Close()
	}, nil
}

func createLoggerOption(cfg Logging) (heron.OptionFunc, func(), error) {
	switch cfg.Format {
	case LogJSON:
		zcfg := zap.NewProductionConfig()
		if cfg.Debug {
			zcfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		}

		zl, err := zcfg.Build()
		if err != nil {
			return nil, nil, errors.Wrap(err, "could not build zap logger")
		}

		return heron.UseZapLogger(zl, cfg.SQL), func() { _ = zl.Sync() }, nil
	case LogPlain:
		return heron.UseLogger(log.New(os.Stdout, "", 0), cfg.SQL, cfg.Debug), func() {}, nil
	default:
		return heron.UseColorLogger(log.New(os.Stdout, "", 0), cfg.SQL, cfg.Debug), func() {}, nil
	}
}

func createMySQLOption(db *sql.DB, cfg Config) (heron.OptionFunc, error) {
	var opts []heron.MySQLOptionFunc

	if cfg.Database.StepsTable != "" {
		opts = append(opts, heron.WithMySQLStepsTable(cfg.Database.StepsTable))
	}

	if cfg.Database.VersionsTable != "" {
		opts = append(opts, heron.WithMySQLVersionsTable(
			cfg.Database.VersionsTable, cfg.Database.ModuleColumn, cfg.Database.VersionColumn,
		))
	}

	if cfg.Database.LockKey != "" {
		opts = append(opts, heron.WithMySQLLockKey(cfg.Database.LockKey))
	}

	if cfg.Database.NoLock {
		opts = append(opts, heron.WithMySQLNoLock())
	}

	if cfg.Database.BatchSize > 0 {
		opts = append(opts, heron.WithMySQLBatchSize(cfg.Database.BatchSize))
	}

	if cfg.Database.ConnectTimeout > 0 {
		opts = append(opts, heron.WithMySQLConnectionTimeout(cfg.Database.ConnectTimeout))
	}

	if cfg.Database.Isolation != "" {
		opts = append(opts, heron.WithMySQLIsolation(cfg.Database.Isolation))
	}

	return heron.UseMySQL(db, opts...), nil
}

func createPostgresOption(db *sql.DB, cfg Config) (heron.OptionFunc, error) {
	var opts []heron.PostgresOptionFunc

	if cfg.Database.StepsTable != "" {
		opts = append(opts, heron.WithPostgresStepsTable(cfg.Database.StepsTable))
	}

	if cfg.Database.VersionsTable != "" {
		opts = append(opts, heron.WithPostgresVersionsTable(
			cfg.Database.VersionsTable, cfg.Database.ModuleColumn, cfg.Database.VersionColumn,
		))
	}

	if cfg.Database.LockKey != "" {
		key, err := strconv.ParseInt(cfg.Database.LockKey, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "postgres lock key [%s] must be an integer", cfg.Database.LockKey)
		}
		opts = append(opts, heron.WithPostgresLockKey(key))
	}

	if cfg.Database.NoLock {
		opts = append(opts, heron.WithPostgresNoLock())
	}

	if cfg.Database.BatchSize > 0 {
		opts = append(opts, heron.WithPostgresBatchSize(cfg.Database.BatchSize))
	}

	if cfg.Database.ConnectTimeout > 0 {
		opts = append(opts, heron.WithPostgresConnectionTimeout(cfg.Database.ConnectTimeout))
	}

	if cfg.Database.Isolation != "" {
		opts = append(opts, heron.WithPostgresIsolation(cfg.Database.Isolation))
	}

	return heron.UsePostgres(db, opts...), nil
}

func createSqliteOption(db *sql.DB, cfg Config) (heron.OptionFunc, error) {
	var opts []heron.SqliteOptionFunc

	if cfg.Database.StepsTable != "" {
		opts = append(opts, heron.WithSqliteStepsTable(cfg.Database.StepsTable))
	}

	if cfg.Database.VersionsTable != "" {
		opts = append(opts, heron.WithSqliteVersionsTable(
			cfg.Database.VersionsTable, cfg.Database.ModuleColumn, cfg.Database.VersionColumn,
		))
	}

	if cfg.Database.BatchSize > 0 {
		opts = append(opts, heron.WithSqliteBatchSize(cfg.Database.BatchSize))
	}

	if cfg.Database.ConnectTimeout > 0 {
		opts = append(opts, heron.WithSqliteConnectionTimeout(cfg.Database.ConnectTimeout))
	}

	if cfg.Database.Isolation != "" {
		opts = append(opts, heron.WithSqliteIsolation(cfg.Database.Isolation))
	}

	return heron.UseSqlite(db, opts...), nil
}
