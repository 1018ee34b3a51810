// Package salemrp migrates sale_mrp from 8.0 to 9.0.
package salemrp

import (
	"context"

	"github.com/denismitr/heron/step"
	"github.com/pkg/errors"
)

const (
	Module = "sale_mrp"
	From   = "8.0.1.0"
	To     = "9.0.1.0"
)

type Config struct {
	BatchSize int
}

// Steps commit every batch on its own, the step touches every kit line of
// the database
func Steps(cfg Config) step.Steps {
	return step.Steps{
		step.MustNew(Module, From, To, step.Post, PostMigration(cfg), step.WithBatchCommits()),
	}
}

type kitLine struct {
	ID        int64 `db:"id"`
	Delivered bool  `db:"delivered"`
}

// PostMigration marks a kit line delivered when its non cancelled pickings
// have moves and all of them are done. A delivered line has delivered its
// ordered quantity, any other kit line nothing.
func PostMigration(cfg Config) step.Func {
	return func(ctx context.Context, s step.Session) error {
		var lines []kitLine
		if err := s.Select(ctx, &lines, `
			SELECT kit_lines.id,
				EXISTS (
					SELECT 1 FROM procurement_order po
						JOIN stock_move sm ON sm.procurement_id = po.id
						JOIN stock_picking sp ON sm.picking_id = sp.id
					WHERE po.sale_line_id = kit_lines.id AND COALESCE(sp.state, '') != 'cancel'
				) AND NOT EXISTS (
					SELECT 1 FROM procurement_order po
						JOIN stock_move sm ON sm.procurement_id = po.id
						JOIN stock_picking sp ON sm.picking_id = sp.id
					WHERE po.sale_line_id = kit_lines.id AND COALESCE(sp.state, '') != 'cancel' AND COALESCE(sm.state, '') != 'done'
				) AS delivered
			FROM (
				SELECT DISTINCT sol.id
				FROM sale_order_line sol
					JOIN product_product pp ON sol.product_id = pp.id
					JOIN product_template pt ON pt.id = pp.product_tmpl_id
					JOIN mrp_bom mb ON mb.type = 'phantom'
						AND (mb.product_id = pp.id OR (mb.product_tmpl_id = pt.id AND mb.product_id IS NULL))
			) kit_lines
			ORDER BY kit_lines.id`,
		); err != nil {
			return errors.Wrap(err, "could not read kit lines")
		}

		delivered := make(map[int64]bool, len(lines))
		ids := make([]int64, 0, len(lines))
		for _, l := range lines {
			delivered[l.ID] = l.Delivered
			ids = append(ids, l.ID)
		}

		s.Logger().Infof("updating delivered quantities of %d sale order lines with kit products", len(ids))

		return s.Chunked(ctx, ids, cfg.BatchSize, func(ctx context.Context, s step.Session, batch []int64) error {
			var full, none []int64
			for _, id := range batch {
				if delivered[id] {
					full = append(full, id)
				} else {
					none = append(none, id)
				}
			}

			if len(full) > 0 {
				if _, err := s.Exec(ctx, `
					UPDATE sale_order_line SET qty_delivered = product_uom_qty
					WHERE id IN (?) AND (qty_delivered IS NULL OR qty_delivered != product_uom_qty)`,
					full,
				); err != nil {
					return err
				}
			}

			if len(none) > 0 {
				if _, err := s.Exec(ctx, `
					UPDATE sale_order_line SET qty_delivered = 0
					WHERE id IN (?) AND (qty_delivered IS NULL OR qty_delivered != 0)`,
					none,
				); err != nil {
					return err
				}
			}

			return nil
		})
	}
}
