package sqlite

import (
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/denismitr/heron/internal/database"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

const DriverName = "sqlite3"

type Dialect struct{}

func NewDialect() *Dialect {
	return &Dialect{}
}

func (Dialect) Name() string {
	return DriverName
}

func (Dialect) BindType() int {
	return sqlx.QUESTION
}

func (Dialect) Placeholder() squirrel.PlaceholderFormat {
	return squirrel.Question
}

func (Dialect) InitQueries(o database.CommonOptions) []string {
	const createSteps = `
		CREATE TABLE IF NOT EXISTS %s (
			module VARCHAR(255) NOT NULL,
			from_version VARCHAR(64) NOT NULL,
			to_version VARCHAR(64) NOT NULL,
			phase VARCHAR(8) NOT NULL,
			completed_at TIMESTAMP NOT NULL,
			duration_ms BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (module, from_version, to_version, phase)
		);
	`

	const createVersions = `
		CREATE TABLE IF NOT EXISTS %s (
			%s VARCHAR(255) PRIMARY KEY,
			%s VARCHAR(64)
		);
	`

	queries := []string{fmt.Sprintf(createSteps, o.StepsTable)}
	if !o.ExternalVersions {
		queries = append(queries, fmt.Sprintf(createVersions, o.VersionsTable, o.VersionModuleColumn, o.VersionColumn))
	}

	return queries
}

func (Dialect) DropQueries(o database.CommonOptions) []string {
	queries := []string{fmt.Sprintf("DROP TABLE IF EXISTS %s;", o.StepsTable)}
	if !o.ExternalVersions {
		queries = append(queries, fmt.Sprintf("DROP TABLE IF EXISTS %s;", o.VersionsTable))
	}

	return queries
}

func (Dialect) ShowTablesQuery() string {
	return "SELECT name as table_name FROM sqlite_master WHERE type='table' ORDER BY name;"
}

func (Dialect) TableExistsQuery() string {
	return "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?"
}

func (Dialect) ColumnExistsQuery() string {
	return "SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?"
}

func (Dialect) ColumnTypeQuery() string {
	return "SELECT type FROM pragma_table_info(?) WHERE name = ?"
}

// IsDeadlock reports lock contention, sqlite has no deadlock detection
// of its own and reports a busy or locked database instead
func (Dialect) IsDeadlock(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}

	return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
}
