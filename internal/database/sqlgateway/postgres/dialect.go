package postgres

import (
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/denismitr/heron/internal/database"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
)

const DriverName = "postgres"

const (
	deadlockDetected     = "40P01"
	serializationFailure = "40001"
)

type Dialect struct{}

func NewDialect() *Dialect {
	return &Dialect{}
}

func (Dialect) Name() string {
	return DriverName
}

func (Dialect) BindType() int {
	return sqlx.DOLLAR
}

func (Dialect) Placeholder() squirrel.PlaceholderFormat {
	return squirrel.Dollar
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
	return "SELECT tablename AS table_name FROM pg_catalog.pg_tables WHERE schemaname = current_schema() ORDER BY tablename;"
}

func (Dialect) TableExistsQuery() string {
	return `SELECT COUNT(*) FROM information_schema.tables
		WHERE table_schema = current_schema() AND table_name = ?`
}

func (Dialect) ColumnExistsQuery() string {
	return `SELECT COUNT(*) FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = ? AND column_name = ?`
}

func (Dialect) ColumnTypeQuery() string {
	return `SELECT data_type FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = ? AND column_name = ?`
}

func (Dialect) IsDeadlock(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}

	return pqErr.Code == deadlockDetected || pqErr.Code == serializationFailure
}
