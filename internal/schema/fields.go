package schema

import (
	"context"
	"fmt"
	"strings"

	"github.com/denismitr/heron/step"
	"github.com/pkg/errors"
)

// FieldRename renames a model field together with its column and the
// metadata that refers to it by name
type FieldRename struct {
	Model string
	Table string
	Old   string
	New   string
}

// PropertyRename renames company dependent values of a model field
type PropertyRename struct {
	Model string
	Old   string
	New   string
}

func RenameFields(ctx context.Context, s step.Session, renames []FieldRename) error {
	for _, r := range renames {
		if r.Model == "" || r.Table == "" || r.Old == "" || r.New == "" {
			return errors.Wrapf(ErrInvalidSpec, "field rename %+v is incomplete", r)
		}

		if err := RenameColumns(ctx, s, "", RenameSpec{r.Table: {{Old: r.Old, New: r.New}}}); err != nil {
			return err
		}

		if _, err := s.Exec(ctx,
			"UPDATE ir_model_fields SET name = ? WHERE model = ? AND name = ?",
			r.New, r.Model, r.Old,
		); err != nil {
			return err
		}

		if _, err := s.Exec(ctx,
			"UPDATE ir_model_data SET name = ? WHERE model = 'ir.model.fields' AND name = ?",
			fieldXMLID(r.Model, r.New), fieldXMLID(r.Model, r.Old),
		); err != nil {
			return err
		}

		if err := renameTranslations(ctx, s, r); err != nil {
			return err
		}

		if err := RenameProperties(ctx, s, []PropertyRename{{Model: r.Model, Old: r.Old, New: r.New}}); err != nil {
			return err
		}
	}

	return nil
}

// RenameProperties renames ir_property rows of the field. The field itself
// may carry either name at this point, so both are accepted.
func RenameProperties(ctx context.Context, s step.Session, renames []PropertyRename) error {
	ok, err := s.TableExists(ctx, "ir_property")
	if err != nil || !ok {
		return err
	}

	for _, r := range renames {
		n, err := s.Exec(ctx, `
			UPDATE ir_property SET name = ?
			WHERE name = ? AND fields_id IN (
				SELECT imf.id FROM ir_model_fields imf
				WHERE imf.model = ? AND imf.name IN (?, ?))`,
			r.New, r.Old, r.Model, r.Old, r.New,
		)
		if err != nil {
			return err
		}

		s.Logger().Debugf("renamed %d properties %s.%s to %s", n, r.Model, r.Old, r.New)
	}

	return nil
}

func renameTranslations(ctx context.Context, s step.Session, r FieldRename) error {
	ok, err := s.TableExists(ctx, "ir_translation")
	if err != nil || !ok {
		return err
	}

	_, err = s.Exec(ctx,
		"UPDATE ir_translation SET name = ? WHERE name = ? AND type IN ('field', 'help')",
		r.Model+","+r.New, r.Model+","+r.Old,
	)

	return err
}

func fieldXMLID(model, field string) string {
	return fmt.Sprintf("field_%s_%s", strings.ReplaceAll(model, ".", "_"), field)
}
