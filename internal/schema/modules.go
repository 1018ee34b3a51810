package schema

import (
	"context"
	"database/sql"

	"github.com/denismitr/heron/step"
	"github.com/pkg/errors"
)

// ModuleRename moves everything a module owns under a new name
type ModuleRename struct {
	Old string `yaml:"old"`
	New string `yaml:"new"`
}

// IsModuleInstalled reports whether the module is installed or about to be
// upgraded
func IsModuleInstalled(ctx context.Context, s step.Session, module string) (bool, error) {
	var count int
	if err := s.Get(ctx, &count,
		"SELECT COUNT(*) FROM ir_module_module WHERE name = ? AND state IN ('installed', 'to upgrade')",
		module,
	); err != nil {
		return false, err
	}

	return count > 0, nil
}

// AddXMLID maps module.name to the record unless the mapping exists. It
// reports whether a mapping was created.
func AddXMLID(ctx context.Context, s step.Session, module, name, model string, resID int64, noupdate bool) (bool, error) {
	n, err := s.Exec(ctx, `
		INSERT INTO ir_model_data (module, name, model, res_id, noupdate)
		SELECT ?, ?, ?, ?, ?
		WHERE NOT EXISTS (
			SELECT 1 FROM ir_model_data WHERE module = ? AND name = ?)`,
		module, name, model, resID, noupdate, module, name,
	)
	if err != nil {
		return false, errors.Wrapf(err, "could not add xmlid %s.%s", module, name)
	}

	return n > 0, nil
}

// RenameModules renames modules, their data and dependencies. A module is
// merged into the new one instead when merge is set and the new one exists.
func RenameModules(ctx context.Context, s step.Session, renames []ModuleRename, merge bool) error {
	for _, r := range renames {
		if r.Old == "" || r.New == "" || r.Old == r.New {
			return errors.Wrapf(ErrInvalidSpec, "module rename %s -> %s", r.Old, r.New)
		}

		oldExists, err := moduleExists(ctx, s, r.Old)
		if err != nil {
			return err
		}

		if !oldExists {
			s.Logger().Debugf("module %s is not known, nothing to rename", r.Old)
			continue
		}

		newExists, err := moduleExists(ctx, s, r.New)
		if err != nil {
			return err
		}

		if newExists && !merge {
			return errors.Wrapf(ErrInvalidSpec, "cannot rename module %s, module %s exists", r.Old, r.New)
		}

		if newExists {
			err = mergeModule(ctx, s, r)
		} else {
			err = renameModule(ctx, s, r)
		}

		if err != nil {
			return errors.Wrapf(err, "module %s -> %s", r.Old, r.New)
		}
	}

	return nil
}

func MergeModules(ctx context.Context, s step.Session, merges []ModuleRename) error {
	return RenameModules(ctx, s, merges, true)
}

func renameModule(ctx context.Context, s step.Session, r ModuleRename) error {
	s.Logger().Infof("renaming module %s to %s", r.Old, r.New)

	queries := []struct {
		q    string
		args []interface{}
	}{
		{"UPDATE ir_module_module SET name = ? WHERE name = ?", []interface{}{r.New, r.Old}},
		{"UPDATE ir_model_data SET module = ? WHERE module = ?", []interface{}{r.New, r.Old}},
		{
			"UPDATE ir_model_data SET name = ? WHERE name = ? AND module = 'base' AND model = 'ir.module.module'",
			[]interface{}{"module_" + r.New, "module_" + r.Old},
		},
		{"UPDATE ir_module_module_dependency SET name = ? WHERE name = ?", []interface{}{r.New, r.Old}},
	}

	for _, q := range queries {
		if _, err := s.Exec(ctx, q.q, q.args...); err != nil {
			return err
		}
	}

	return nil
}

func mergeModule(ctx context.Context, s step.Session, r ModuleRename) error {
	s.Logger().Infof("merging module %s into %s", r.Old, r.New)

	queries := []struct {
		q    string
		args []interface{}
	}{
		{`
			UPDATE ir_module_module
			SET state = (SELECT m.state FROM ir_module_module m WHERE m.name = ?)
			WHERE name = ? AND state = 'uninstalled'`,
			[]interface{}{r.Old, r.New},
		},
		{`
			UPDATE ir_model_data SET module = ?
			WHERE module = ? AND NOT EXISTS (
				SELECT 1 FROM ir_model_data d2 WHERE d2.module = ? AND d2.name = ir_model_data.name)`,
			[]interface{}{r.New, r.Old, r.New},
		},
		{"DELETE FROM ir_model_data WHERE module = ?", []interface{}{r.Old}},
		{
			"DELETE FROM ir_model_data WHERE name = ? AND module = 'base' AND model = 'ir.module.module'",
			[]interface{}{"module_" + r.Old},
		},
		{`
			UPDATE ir_module_module_dependency SET name = ?
			WHERE name = ? AND NOT EXISTS (
				SELECT 1 FROM ir_module_module_dependency d2
				WHERE d2.module_id = ir_module_module_dependency.module_id AND d2.name = ?)`,
			[]interface{}{r.New, r.Old, r.New},
		},
		{"DELETE FROM ir_module_module_dependency WHERE name = ?", []interface{}{r.Old}},
		{
			"DELETE FROM ir_module_module_dependency WHERE module_id IN (SELECT id FROM ir_module_module WHERE name = ?)",
			[]interface{}{r.Old},
		},
		{"DELETE FROM ir_module_module WHERE name = ?", []interface{}{r.Old}},
	}

	for _, q := range queries {
		if _, err := s.Exec(ctx, q.q, q.args...); err != nil {
			return err
		}
	}

	return nil
}

func moduleExists(ctx context.Context, s step.Session, module string) (bool, error) {
	var id int64
	err := s.Get(ctx, &id, "SELECT id FROM ir_module_module WHERE name = ?", module)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}

	return err == nil, err
}
