package mysql

import (
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/VividCortex/mysqlerr"
	"github.com/denismitr/heron/internal/database"
	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

const DriverName = "mysql"
const DefaultCharset = "utf8mb4"

type Dialect struct {
	charset string
}

func NewDialect(charset string) *Dialect {
	if charset == "" {
		charset = DefaultCharset
	}

	return &Dialect{charset: charset}
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

func (d Dialect) InitQueries(o database.CommonOptions) []string {
	const createSteps = "CREATE TABLE IF NOT EXISTS %s (" +
		"`module` VARCHAR(255) NOT NULL," +
		"`from_version` VARCHAR(64) NOT NULL," +
		"`to_version` VARCHAR(64) NOT NULL," +
		"`phase` VARCHAR(8) NOT NULL," +
		"`completed_at` TIMESTAMP NOT NULL," +
		"`duration_ms` BIGINT NOT NULL DEFAULT 0," +
		"PRIMARY KEY (`module`, `from_version`, `to_version`, `phase`)" +
		") ENGINE=InnoDB CHARACTER SET=%s"

	const createVersions = "CREATE TABLE IF NOT EXISTS %s (" +
		"`%s` VARCHAR(255) PRIMARY KEY," +
		"`%s` VARCHAR(64)" +
		") ENGINE=InnoDB CHARACTER SET=%s"

	queries := []string{fmt.Sprintf(createSteps, o.StepsTable, d.charset)}
	if !o.ExternalVersions {
		queries = append(queries, fmt.Sprintf(createVersions, o.VersionsTable, o.VersionModuleColumn, o.VersionColumn, d.charset))
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
	return "SHOW TABLES;"
}

func (Dialect) TableExistsQuery() string {
	return "SELECT COUNT(*) FROM information_schema.TABLES WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?"
}

func (Dialect) ColumnExistsQuery() string {
	return "SELECT COUNT(*) FROM information_schema.COLUMNS WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ? AND COLUMN_NAME = ?"
}

func (Dialect) ColumnTypeQuery() string {
	return "SELECT DATA_TYPE FROM information_schema.COLUMNS WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ? AND COLUMN_NAME = ?"
}

func (Dialect) IsDeadlock(err error) bool {
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) {
		return false
	}

	return myErr.Number == mysqlerr.ER_LOCK_DEADLOCK || myErr.Number == mysqlerr.ER_LOCK_WAIT_TIMEOUT
}
