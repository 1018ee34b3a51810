// Package schema holds the declarative building blocks steps use to reshape
// the database: column renames and copies, value mappings, field, property
// and module renames, identity mappings. Every operation checks the current
// state first, running it again is a no-op.
package schema

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/denismitr/heron/step"
	"github.com/pkg/errors"
)

var (
	ErrRenameCollision = errors.New("column rename collides with an existing column")
	ErrInvalidSpec     = errors.New("invalid schema spec")
)

const LegacyPrefix = "openupgrade_legacy"

type (
	// ColumnRename renames Old to New, an empty New means the legacy name
	ColumnRename struct {
		Old string
		New string
	}

	// RenameSpec maps a table to the renames of its columns
	RenameSpec map[string][]ColumnRename

	// ColumnCopy copies Old into New, an empty New means the legacy name and
	// an empty Type means the type of Old
	ColumnCopy struct {
		Old  string
		New  string
		Type string
	}

	CopySpec map[string][]ColumnCopy

	ValueMapping struct {
		From string
		To   string
	}

	Column struct {
		Name string
		Type string
	}
)

// LegacyName returns the name a column is kept under after the upgrade away
// from version, e.g. openupgrade_legacy_9_0_invoice_state
func LegacyName(version, column string) string {
	parts := strings.SplitN(version, ".", 3)
	for len(parts) < 2 {
		parts = append(parts, "0")
	}

	return fmt.Sprintf("%s_%s_%s_%s", LegacyPrefix, parts[0], parts[1], column)
}

// RenameColumns renames the columns of spec. Columns already renamed are
// skipped, as are columns that are gone altogether.
func RenameColumns(ctx context.Context, s step.Session, version string, spec RenameSpec) error {
	if err := validateRenames(version, spec); err != nil {
		return err
	}

	for _, table := range sortedTables(spec) {
		for _, r := range spec[table] {
			newName := r.New
			if newName == "" {
				newName = LegacyName(version, r.Old)
			}

			oldExists, err := s.ColumnExists(ctx, table, r.Old)
			if err != nil {
				return err
			}

			newExists, err := s.ColumnExists(ctx, table, newName)
			if err != nil {
				return err
			}

			switch {
			case !oldExists && newExists:
				s.Logger().Debugf("column %s.%s already renamed to %s", table, r.Old, newName)
				continue
			case !oldExists:
				s.Logger().Warnf("column %s.%s does not exist, nothing to rename", table, r.Old)
				continue
			case newExists:
				return errors.Wrapf(ErrRenameCollision, "%s.%s -> %s", table, r.Old, newName)
			}

			q := fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s", table, r.Old, newName)
			if _, err := s.Exec(ctx, q); err != nil {
				return err
			}
		}
	}

	return nil
}

// CopyColumns keeps a copy of the current values of a column, typically
// before the column changes meaning
func CopyColumns(ctx context.Context, s step.Session, version string, spec CopySpec) error {
	for _, table := range sortedCopyTables(spec) {
		for _, c := range spec[table] {
			newName := c.New
			if newName == "" {
				newName = LegacyName(version, c.Old)
			}

			oldExists, err := s.ColumnExists(ctx, table, c.Old)
			if err != nil {
				return err
			}

			if !oldExists {
				s.Logger().Warnf("column %s.%s does not exist, nothing to copy", table, c.Old)
				continue
			}

			newExists, err := s.ColumnExists(ctx, table, newName)
			if err != nil {
				return err
			}

			if newExists {
				s.Logger().Debugf("column %s.%s already copied to %s", table, c.Old, newName)
				continue
			}

			columnType := c.Type
			if columnType == "" {
				if columnType, err = s.ColumnType(ctx, table, c.Old); err != nil {
					return err
				}
			}

			if _, err := s.Exec(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, newName, columnType)); err != nil {
				return err
			}

			if _, err := s.Exec(ctx, fmt.Sprintf("UPDATE %s SET %s = %s", table, newName, c.Old)); err != nil {
				return err
			}
		}
	}

	return nil
}

// MapValues writes the mapped value of source into target for every row
// whose source holds a mapped value
func MapValues(ctx context.Context, s step.Session, table, source, target string, mappings []ValueMapping) error {
	ok, err := s.ColumnExists(ctx, table, source)
	if err != nil {
		return err
	}

	if !ok {
		s.Logger().Warnf("column %s.%s does not exist, no values to map", table, source)
		return nil
	}

	for _, m := range mappings {
		q := fmt.Sprintf("UPDATE %s SET %s = ? WHERE %s = ?", table, target, source)
		n, err := s.Exec(ctx, q, m.To, m.From)
		if err != nil {
			return err
		}

		s.Logger().Debugf("mapped %d rows of %s.%s from %s to %s", n, table, target, m.From, m.To)
	}

	return nil
}

// AddColumns adds the columns that are missing
func AddColumns(ctx context.Context, s step.Session, table string, columns ...Column) error {
	for _, c := range columns {
		if c.Name == "" || c.Type == "" {
			return errors.Wrapf(ErrInvalidSpec, "column of %s needs a name and a type", table)
		}

		ok, err := s.ColumnExists(ctx, table, c.Name)
		if err != nil {
			return err
		}

		if ok {
			continue
		}

		if _, err := s.Exec(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, c.Name, c.Type)); err != nil {
			return err
		}
	}

	return nil
}

func validateRenames(version string, spec RenameSpec) error {
	for table, renames := range spec {
		targets := make(map[string]struct{}, len(renames))
		for _, r := range renames {
			if r.Old == "" {
				return errors.Wrapf(ErrInvalidSpec, "rename in %s has no source column", table)
			}

			newName := r.New
			if newName == "" {
				newName = LegacyName(version, r.Old)
			}

			if _, dup := targets[newName]; dup {
				return errors.Wrapf(ErrRenameCollision, "%s.%s is the target of more than one rename", table, newName)
			}

			targets[newName] = struct{}{}
		}
	}

	return nil
}

func sortedTables(spec RenameSpec) []string {
	tables := make([]string, 0, len(spec))
	for table := range spec {
		tables = append(tables, table)
	}
	sort.Strings(tables)
	return tables
}

func sortedCopyTables(spec CopySpec) []string {
	tables := make([]string, 0, len(spec))
	for table := range spec {
		tables = append(tables, table)
	}
	sort.Strings(tables)
	return tables
}
