// Package stock migrates stock from 8.0 to 9.0 after the schema change.
package stock

import (
	"context"
	"fmt"

	"github.com/denismitr/heron/internal/schema"
	"github.com/denismitr/heron/step"
	"github.com/pkg/errors"
)

const (
	Module = "stock"
	From   = "8.0.1.1"
	To     = "9.0.1.1"
)

func Steps() step.Steps {
	return step.Steps{
		step.MustNew(Module, From, To, step.Post, PostMigration),
	}
}

func PostMigration(ctx context.Context, s step.Session) error {
	if err := migrateTracking(ctx, s); err != nil {
		return errors.Wrap(err, "could not migrate product tracking")
	}

	if err := migratePackOperations(ctx, s); err != nil {
		return errors.Wrap(err, "could not migrate pack operations")
	}

	if err := fillPickingLocations(ctx, s); err != nil {
		return errors.Wrap(err, "could not fill picking locations")
	}

	return errors.Wrap(setLotParams(ctx, s), "could not set lot parameters")
}

// migrateTracking turns the three tracking flags into a tracking mode. Lot
// tracked products become serial tracked when product_unique_serial was
// installed, or otherwise when every lot holds exactly one unit.
func migrateTracking(ctx context.Context, s step.Session) error {
	if _, err := s.Exec(ctx, `
		UPDATE product_template SET tracking = 'lot'
		WHERE (track_all OR track_incoming OR track_outgoing) AND tracking = 'none'`,
	); err != nil {
		return err
	}

	var uniqueSerial int
	if err := s.Get(ctx, &uniqueSerial, `
		SELECT COUNT(*) FROM ir_model_data
		WHERE name = 'view_product_unique_serial_form' AND module = 'stock'`,
	); err != nil {
		return err
	}

	hasUniqueFlag, err := s.ColumnExists(ctx, "product_template", "lot_unique_ok")
	if err != nil {
		return err
	}

	var n int64
	if uniqueSerial > 0 && hasUniqueFlag {
		n, err = s.Exec(ctx, "UPDATE product_template SET tracking = 'serial' WHERE lot_unique_ok AND tracking = 'lot'")
	} else {
		n, err = s.Exec(ctx, `
			WITH lot_quantities AS (
				SELECT l.id, pp.product_tmpl_id, SUM(q.qty) AS sum_qty
				FROM stock_production_lot l
					JOIN product_product pp ON pp.id = l.product_id
					JOIN stock_quant q ON q.lot_id = l.id
				GROUP BY l.id, pp.product_tmpl_id
			)
			UPDATE product_template SET tracking = 'serial'
			WHERE tracking = 'lot'
				AND id IN (SELECT product_tmpl_id FROM lot_quantities)
				AND NOT EXISTS (
					SELECT 1 FROM lot_quantities lq
					WHERE lq.product_tmpl_id = product_template.id AND lq.sum_qty <> 1)`,
		)
	}

	if err != nil {
		return err
	}

	s.Logger().Infof("%d products are now serial tracked", n)
	return nil
}

// migratePackOperations creates the pack operation lots that did not exist
// before 9.0 and fills the new pack operation fields
func migratePackOperations(ctx context.Context, s step.Session) error {
	lotColumn := schema.LegacyName(To, "lot_id")
	ok, err := s.ColumnExists(ctx, "stock_pack_operation", lotColumn)
	if err != nil {
		return err
	}

	if ok {
		n, err := s.Exec(ctx, fmt.Sprintf(`
			INSERT INTO stock_pack_operation_lot (
				lot_id, operation_id, qty_todo, qty,
				create_uid, write_uid, create_date, write_date)
			SELECT o.%[1]s, o.id,
				CASE WHEN p.state != 'done' THEN o.product_qty ELSE 0 END,
				CASE WHEN p.state = 'done' THEN o.product_qty ELSE 0 END,
				o.create_uid, o.write_uid, o.create_date, o.write_date
			FROM stock_pack_operation o
				JOIN stock_picking p ON o.picking_id = p.id
			WHERE o.%[1]s IS NOT NULL AND NOT EXISTS (
				SELECT 1 FROM stock_pack_operation_lot opl
				WHERE opl.operation_id = o.id AND opl.lot_id = o.%[1]s)`, lotColumn),
		)
		if err != nil {
			return err
		}

		s.Logger().Infof("created %d pack operation lots", n)
	} else {
		s.Logger().Warnf("column stock_pack_operation.%s does not exist, no pack operation lots to create", lotColumn)
	}

	processedColumn := schema.LegacyName(To, "processed")
	ok, err = s.ColumnExists(ctx, "stock_pack_operation", processedColumn)
	if err != nil {
		return err
	}

	if ok {
		if _, err := s.Exec(ctx, fmt.Sprintf(
			"UPDATE stock_pack_operation SET fresh_record = (%s = 'false')", processedColumn,
		)); err != nil {
			return err
		}
	}

	_, err = s.Exec(ctx, `
		UPDATE stock_pack_operation SET qty_done = product_qty
		WHERE picking_id IN (SELECT id FROM stock_picking WHERE state = 'done')`,
	)

	return err
}

func fillPickingLocations(ctx context.Context, s step.Session) error {
	n, err := s.Exec(ctx, `
		UPDATE stock_picking
		SET location_id = COALESCE(location_id, (
				SELECT t.default_location_src_id FROM stock_picking_type t
				WHERE t.id = stock_picking.picking_type_id)),
			location_dest_id = COALESCE(location_dest_id, (
				SELECT t.default_location_dest_id FROM stock_picking_type t
				WHERE t.id = stock_picking.picking_type_id))
		WHERE (location_id IS NULL OR location_dest_id IS NULL)
			AND picking_type_id IN (SELECT id FROM stock_picking_type)`,
	)
	if err != nil {
		return err
	}

	s.Logger().Debugf("filled locations of %d pickings", n)
	return nil
}

func setLotParams(ctx context.Context, s step.Session) error {
	if _, err := s.Exec(ctx, "UPDATE stock_picking_type SET use_create_lots = (code = 'incoming')"); err != nil {
		return err
	}

	_, err := s.Exec(ctx, "UPDATE stock_picking_type SET use_existing_lots = (code IN ('outgoing', 'internal'))")
	return err
}
