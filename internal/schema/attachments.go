package schema

import (
	"context"
	"fmt"

	"github.com/denismitr/heron/step"
)

// Field describes a stored model field. Steps receive a list of these
// instead of introspecting the host application's models.
type Field struct {
	Model            string `yaml:"model"`
	Table            string `yaml:"table"`
	Column           string `yaml:"column"`
	Type             string `yaml:"type"`
	Attachment       bool   `yaml:"attachment"`
	Computed         bool   `yaml:"computed"`
	CompanyDependent bool   `yaml:"company_dependent"`
	Transient        bool   `yaml:"transient"`
}

// BinaryAttachmentFields picks the binary fields meant to live in attachments
// whose column is still present in the database
func BinaryAttachmentFields(ctx context.Context, s step.Session, fields []Field) ([]Field, error) {
	type target struct{ table, column string }
	seen := make(map[target]struct{})

	var result []Field
	for _, f := range fields {
		if f.Type != "binary" || !f.Attachment || f.Computed || f.CompanyDependent || f.Transient {
			continue
		}

		t := target{f.Table, f.Column}
		if _, dup := seen[t]; dup {
			continue
		}

		ok, err := s.ColumnExists(ctx, f.Table, f.Column)
		if err != nil {
			return nil, err
		}

		if !ok {
			continue
		}

		seen[t] = struct{}{}
		result = append(result, f)
	}

	return result, nil
}

type binaryRow struct {
	ID   int64  `db:"id"`
	Data []byte `db:"data"`
}

// ConvertBinaryToAttachment moves the values of binary columns into
// ir_attachment rows and clears the column, batch by batch. It returns the
// number of attachments created.
func ConvertBinaryToAttachment(ctx context.Context, s step.Session, fields []Field, batchSize int) (int, error) {
	created := 0

	for _, f := range fields {
		ids, err := s.SelectIDs(ctx,
			fmt.Sprintf("SELECT id FROM %s WHERE %s IS NOT NULL ORDER BY id", f.Table, f.Column))
		if err != nil {
			return created, err
		}

		if len(ids) == 0 {
			continue
		}

		s.Logger().Infof("converting %d values of %s.%s to attachments", len(ids), f.Model, f.Column)

		err = s.Chunked(ctx, ids, batchSize, func(ctx context.Context, bs step.Session, batch []int64) error {
			var rows []binaryRow
			if err := bs.Select(ctx, &rows,
				fmt.Sprintf("SELECT id, %s AS data FROM %s WHERE id IN (?) AND %s IS NOT NULL", f.Column, f.Table, f.Column),
				batch,
			); err != nil {
				return err
			}

			for _, r := range rows {
				n, err := bs.Exec(ctx, `
					INSERT INTO ir_attachment (name, res_model, res_field, res_id, type, db_datas, file_size)
					SELECT ?, ?, ?, ?, 'binary', ?, ?
					WHERE NOT EXISTS (
						SELECT 1 FROM ir_attachment WHERE res_model = ? AND res_field = ? AND res_id = ?)`,
					f.Column, f.Model, f.Column, r.ID, r.Data, len(r.Data),
					f.Model, f.Column, r.ID,
				)
				if err != nil {
					return err
				}

				created += int(n)
			}

			_, err := bs.Exec(ctx, fmt.Sprintf("UPDATE %s SET %s = NULL WHERE id IN (?)", f.Table, f.Column), batch)
			return err
		})
		if err != nil {
			return created, err
		}
	}

	return created, nil
}
