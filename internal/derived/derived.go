// Package derived recomputes stored fields of sale order lines and orders
// the way the upgraded application computes them.
package derived

import (
	"context"
	"math"

	"github.com/denismitr/heron/step"
	"github.com/pkg/errors"
)

// Invoice statuses of sale order lines and orders
const (
	ToInvoice = "to invoice"
	Invoiced  = "invoiced"
	Upselling = "upselling"
	No        = "no"
)

// DeliveredMovesCondition selects the stock moves that count towards the
// delivered quantity of a sale order line. It expects the aliases sm for
// stock_move and sl for its destination stock_location.
const DeliveredMovesCondition = `sm.state = 'done' AND sm.scrapped IS NOT TRUE
	AND ((sl.usage = 'customer' AND (sm.origin_returned_move_id IS NULL OR sm.to_refund_so))
		OR (sl.usage != 'customer' AND sm.to_refund_so))`

// Computer computes the delivered quantity of one sale order line, it is
// used for lines the bulk update cannot classify
type Computer interface {
	DeliveredQty(ctx context.Context, s step.Session, lineID int64) (float64, error)
}

// OrderInvoiceStatus derives the status of an order from its lines. An
// order without lines counts as invoiced.
func OrderInvoiceStatus(lines []string) string {
	upselling := false
	settled := true

	for _, status := range lines {
		switch status {
		case ToInvoice:
			return ToInvoice
		case Invoiced:
		case Upselling:
			upselling = true
		default:
			settled = false
		}
	}

	switch {
	case settled && !upselling:
		return Invoiced
	case settled:
		return Upselling
	default:
		return No
	}
}

// Round rounds value to a multiple of rounding, half away from zero
func Round(value, rounding float64) float64 {
	if rounding <= 0 {
		return value
	}

	return math.Round(value/rounding) * rounding
}

type deliveredMove struct {
	Qty        float64 `db:"qty"`
	Sign       int     `db:"sign"`
	MoveFactor float64 `db:"move_factor"`
	LineFactor float64 `db:"line_factor"`
	Rounding   float64 `db:"rounding"`
}

// UomComputer converts every delivered move into the unit of measure of the
// sale order line through the unit factors
type UomComputer struct{}

var _ Computer = UomComputer{}

func (UomComputer) DeliveredQty(ctx context.Context, s step.Session, lineID int64) (float64, error) {
	var moves []deliveredMove
	if err := s.Select(ctx, &moves, `
		SELECT sm.product_uom_qty AS qty,
			CASE WHEN sl.usage = 'customer' THEN 1 ELSE -1 END AS sign,
			COALESCE(mu.factor, 1) AS move_factor,
			COALESCE(lu.factor, 1) AS line_factor,
			COALESCE(lu.rounding, 0) AS rounding
		FROM sale_order_line sol
			JOIN procurement_order po ON po.sale_line_id = sol.id
			JOIN stock_move sm ON sm.procurement_id = po.id
			JOIN stock_location sl ON sm.location_dest_id = sl.id
			LEFT JOIN product_uom mu ON mu.id = sm.product_uom
			LEFT JOIN product_uom lu ON lu.id = sol.product_uom
		WHERE sol.id = ? AND `+DeliveredMovesCondition,
		lineID,
	); err != nil {
		return 0, errors.Wrapf(err, "could not read delivered moves of sale order line %d", lineID)
	}

	total := 0.0
	rounding := 0.0
	for _, m := range moves {
		if m.MoveFactor == 0 {
			return 0, errors.Errorf("unit of measure of a move of sale order line %d has no factor", lineID)
		}

		total += float64(m.Sign) * m.Qty / m.MoveFactor * m.LineFactor
		rounding = m.Rounding
	}

	return Round(total, rounding), nil
}
