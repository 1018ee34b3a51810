// Package salestock migrates sale_stock from 9.0 to 10.0. Returned moves get
// the new to_refund_so flag and the delivered and invoicing fields of the
// sale order lines they touch are recomputed.
package salestock

import (
	"context"
	"fmt"
	"sort"

	"github.com/denismitr/heron/internal/chunk"
	"github.com/denismitr/heron/internal/derived"
	"github.com/denismitr/heron/internal/schema"
	"github.com/denismitr/heron/step"
	"github.com/pkg/errors"
)

const (
	Module = "sale_stock"
	From   = "9.0.1.0"
	To     = "10.0.1.0"
)

type Config struct {
	// Computer computes delivered quantities of lines the bulk update
	// cannot handle, derived.UomComputer when nil
	Computer  derived.Computer
	BatchSize int
}

func Steps(cfg Config) step.Steps {
	return step.Steps{
		step.MustNew(Module, From, To, step.Post, PostMigration(cfg)),
	}
}

// PostMigration flags refundable returns and recomputes the lines they
// belong to, in bulk where every move shares the unit of the line and
// through the computer otherwise
func PostMigration(cfg Config) step.Func {
	if cfg.Computer == nil {
		cfg.Computer = derived.UomComputer{}
	}

	return func(ctx context.Context, s step.Session) error {
		m := &refundMigration{cfg: cfg, orders: make(map[int64]struct{})}
		return m.run(ctx, s)
	}
}

type refundMigration struct {
	cfg    Config
	orders map[int64]struct{}
	bulk   int
	slow   int
}

func (m *refundMigration) run(ctx context.Context, s step.Session) error {
	refundable, err := refundableMoves(ctx, s)
	if err != nil {
		return err
	}

	moveIDs, err := s.SelectIDs(ctx, "SELECT id FROM stock_move WHERE "+refundable("")+" ORDER BY id")
	if err != nil {
		return err
	}

	if len(moveIDs) == 0 {
		s.Logger().Infof("no returned moves, nothing to do")
		return nil
	}

	if _, err := s.Exec(ctx, "UPDATE stock_move SET to_refund_so = TRUE WHERE "+refundable("")); err != nil {
		return errors.Wrap(err, "could not flag refundable moves")
	}

	phantoms, err := phantomProductsQuery(ctx, s)
	if err != nil {
		return err
	}

	lineIDs, err := s.SelectIDs(ctx, `
		SELECT DISTINCT sol.id
		FROM sale_order_line sol
			JOIN procurement_order po ON po.sale_line_id = sol.id
			JOIN stock_move sm ON sm.procurement_id = po.id
		WHERE `+refundable("sm.")+` AND sol.product_id NOT IN (`+phantoms+`)
		ORDER BY sol.id`,
	)
	if err != nil {
		return err
	}

	s.Logger().Infof("recomputing %d sale order lines touched by %d returned moves", len(lineIDs), len(moveIDs))

	if err := s.Chunked(ctx, lineIDs, m.cfg.BatchSize, m.recompute); err != nil {
		return err
	}

	if err := updateOrderStatuses(ctx, s, m.orderIDs()); err != nil {
		return err
	}

	s.Logger().Infof("sale order lines recomputed: %d in bulk, %d one by one", m.bulk, m.slow)
	return nil
}

func (m *refundMigration) recompute(ctx context.Context, s step.Session, lines []int64) error {
	done, err := updateDeliveredQtys(ctx, s, lines)
	if err != nil {
		return err
	}

	remaining := chunk.Difference(lines, done)
	for _, id := range remaining {
		qty, err := m.cfg.Computer.DeliveredQty(ctx, s, id)
		if err != nil {
			return err
		}

		if _, err := s.Exec(ctx, "UPDATE sale_order_line SET qty_delivered = ? WHERE id = ?", qty, id); err != nil {
			return err
		}
	}

	m.bulk += len(done)
	m.slow += len(remaining)

	orders, err := updateInvoicing(ctx, s, lines)
	if err != nil {
		return err
	}

	for _, id := range orders {
		m.orders[id] = struct{}{}
	}

	return nil
}

func (m *refundMigration) orderIDs() []int64 {
	ids := make([]int64, 0, len(m.orders))
	for id := range m.orders {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// refundableMoves returns the condition selecting returned moves of the
// stock_move table aliased as alias. A database upgraded from 8.0 still
// knows which returns were not meant to be invoiced.
func refundableMoves(ctx context.Context, s step.Session) (func(alias string) string, error) {
	invoiceState := schema.LegacyName("9.0", "invoice_state")
	legacy, err := s.ColumnExists(ctx, "stock_move", invoiceState)
	if err != nil {
		return nil, err
	}

	return func(alias string) string {
		cond := alias + "origin_returned_move_id IS NOT NULL"
		if legacy {
			cond += fmt.Sprintf(" AND %s%s != 'none'", alias, invoiceState)
		}

		return cond
	}, nil
}

// phantomProductsQuery selects the products sold as kits, their lines are
// recomputed by sale_mrp
func phantomProductsQuery(ctx context.Context, s step.Session) (string, error) {
	installed, err := schema.IsModuleInstalled(ctx, s, "sale_mrp")
	if err != nil {
		return "", err
	}

	if !installed {
		return "SELECT 0", nil
	}

	return `
		SELECT mb.product_id FROM mrp_bom mb
		WHERE mb.active AND mb.type = 'phantom' AND mb.product_id IS NOT NULL
		UNION
		SELECT pp.id FROM product_product pp
			JOIN mrp_bom mb ON mb.product_tmpl_id = pp.product_tmpl_id
		WHERE mb.active AND mb.type = 'phantom' AND mb.product_id IS NULL`, nil
}

// updateDeliveredQtys sums the delivered moves of lines whose moves all use
// the unit of the line and returns the ids of the lines it updated
func updateDeliveredQtys(ctx context.Context, s step.Session, lines []int64) ([]int64, error) {
	done, err := s.SelectIDs(ctx, `
		WITH qtys AS (
			SELECT sol.id AS line_id,
				SUM(CASE WHEN sl.usage = 'customer' THEN 1 ELSE -1 END * sm.product_uom_qty) AS qty_delivered,
				MAX(ABS(sol.product_uom - sm.product_uom)) AS other_uom
			FROM sale_order_line sol
				JOIN procurement_order po ON sol.id = po.sale_line_id
				JOIN stock_move sm ON sm.procurement_id = po.id
				JOIN stock_location sl ON sm.location_dest_id = sl.id
			WHERE sol.id IN (?) AND `+derived.DeliveredMovesCondition+`
			GROUP BY sol.id
		)
		UPDATE sale_order_line AS sol
		SET qty_delivered = qtys.qty_delivered
		FROM qtys
		WHERE sol.id = qtys.line_id AND qtys.other_uom = 0
		RETURNING id`,
		lines,
	)

	return done, errors.Wrap(err, "could not update delivered quantities")
}

// roundedToInvoice rounds qty_delivered - qty_invoiced to the rounding of
// the product unit, pu aliases product_uom
const roundedToInvoice = `CASE WHEN pu.rounding > 0
	THEN ROUND((sale_order_line.qty_delivered - sale_order_line.qty_invoiced) / pu.rounding) * pu.rounding
	ELSE sale_order_line.qty_delivered - sale_order_line.qty_invoiced END`

// updateInvoicing recomputes the quantity to invoice and the invoice status
// of lines of products invoiced on delivery. It returns the orders of the
// lines whose status changed.
func updateInvoicing(ctx context.Context, s step.Session, lines []int64) ([]int64, error) {
	if _, err := s.Exec(ctx, `
		UPDATE sale_order_line
		SET qty_to_invoice = (
			SELECT `+roundedToInvoice+`
			FROM product_product pp
				JOIN product_template pt ON pt.id = pp.product_tmpl_id
				JOIN product_uom pu ON pu.id = pt.uom_id
			WHERE pp.id = sale_order_line.product_id)
		WHERE id IN (?) AND product_id IN (`+deliveryPolicyProducts+`)`,
		lines,
	); err != nil {
		return nil, errors.Wrap(err, "could not update quantities to invoice")
	}

	orders, err := s.SelectIDs(ctx, `
		UPDATE sale_order_line
		SET invoice_status = CASE WHEN qty_to_invoice > 0 THEN ? ELSE ? END
		WHERE id IN (?) AND state IN ('sale', 'done') AND product_id IN (`+deliveryPolicyProducts+`)
		RETURNING order_id`,
		derived.ToInvoice, derived.Invoiced, lines,
	)

	return chunk.Unique(orders), errors.Wrap(err, "could not update line invoice statuses")
}

const deliveryPolicyProducts = `
	SELECT pp.id FROM product_product pp
		JOIN product_template pt ON pt.id = pp.product_tmpl_id
		JOIN product_uom pu ON pu.id = pt.uom_id
	WHERE pt.invoice_policy = 'delivery'`

type lineStatus struct {
	OrderID int64  `db:"order_id"`
	Status  string `db:"invoice_status"`
}

// updateOrderStatuses derives the invoice status of every order from the
// statuses of its lines
func updateOrderStatuses(ctx context.Context, s step.Session, orders []int64) error {
	return s.Chunked(ctx, orders, 0, func(ctx context.Context, s step.Session, batch []int64) error {
		var lines []lineStatus
		if err := s.Select(ctx, &lines, `
			SELECT order_id, COALESCE(invoice_status, '') AS invoice_status
			FROM sale_order_line WHERE order_id IN (?)`,
			batch,
		); err != nil {
			return err
		}

		byOrder := make(map[int64][]string, len(batch))
		for _, l := range lines {
			byOrder[l.OrderID] = append(byOrder[l.OrderID], l.Status)
		}

		byStatus := make(map[string][]int64)
		for _, id := range batch {
			status := derived.OrderInvoiceStatus(byOrder[id])
			byStatus[status] = append(byStatus[status], id)
		}

		for _, status := range []string{derived.ToInvoice, derived.Invoiced, derived.Upselling, derived.No} {
			ids := byStatus[status]
			if len(ids) == 0 {
				continue
			}

			if _, err := s.Exec(ctx, "UPDATE sale_order SET invoice_status = ? WHERE id IN (?)", status, ids); err != nil {
				return errors.Wrapf(err, "could not set invoice status %q on orders", status)
			}
		}

		return nil
	})
}
