// Package deferred holds the steps that run once every module finished its
// post migration. They are written to be run any number of times.
package deferred

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/denismitr/heron/internal/schema"
	"github.com/denismitr/heron/step"
	"github.com/pkg/errors"
)

const (
	Module = "base"
	From   = "8.0.1.3"
	To     = "9.0.1.3"

	DefaultUomPrecision = 3
	DefaultTagLang      = "en_GB"
)

type (
	// TaxTags converts the tax group tree of a site into account tags
	TaxTags struct {
		Enabled           bool
		ExcludedCompanies []int64
		// Lang selects the translation the tag names are taken from
		Lang string
	}

	Config struct {
		// BinaryFields describes the binary fields of the installed models
		BinaryFields []schema.Field
		TaxTags      TaxTags
		BatchSize    int
	}
)

func Steps(cfg Config) step.Steps {
	return step.Steps{
		step.MustNew(Module, From, To, step.End, Migration(cfg), step.WithName("deferred_9_0")),
	}
}

func Migration(cfg Config) step.Func {
	return func(ctx context.Context, s step.Session) error {
		installed, err := schema.IsModuleInstalled(ctx, s, "sale")
		if err != nil {
			return err
		}

		if installed {
			if err := ComputeInvoicingFields(ctx, s); err != nil {
				return errors.Wrap(err, "could not compute invoicing fields of sale order lines")
			}
		}

		fields, err := schema.BinaryAttachmentFields(ctx, s, cfg.BinaryFields)
		if err != nil {
			return err
		}

		created, err := schema.ConvertBinaryToAttachment(ctx, s, fields, cfg.BatchSize)
		if err != nil {
			return errors.Wrap(err, "could not convert binary fields to attachments")
		}
		s.Logger().Infof("created %d attachments from %d binary fields", created, len(fields))

		if !cfg.TaxTags.Enabled {
			return nil
		}

		return errors.Wrap(ConvertTaxGroupsToTags(ctx, s, cfg.TaxTags), "could not convert tax groups to tags")
	}
}

// ComputeInvoicingFields sets the stored invoicing fields of every sale order
// line and order. It depends on the delivered quantities computed by
// sale_stock and sale_mrp.
func ComputeInvoicingFields(ctx context.Context, s step.Session) error {
	precision, err := uomPrecision(ctx, s)
	if err != nil {
		return err
	}

	if _, err := s.Exec(ctx, `
		UPDATE sale_order_line
		SET qty_to_invoice = CASE
			WHEN order_id IN (SELECT so.id FROM sale_order so WHERE so.state IN ('sale', 'done')) THEN
				CASE WHEN product_id IN (`+orderPolicyProducts+`)
					THEN product_uom_qty - qty_invoiced
					ELSE qty_delivered - qty_invoiced
				END
			ELSE 0.0
		END
		WHERE order_id IN (SELECT id FROM sale_order) AND product_id IN (`+templatedProducts+`)`,
	); err != nil {
		return err
	}

	if _, err := s.Exec(ctx, fmt.Sprintf(`
		UPDATE sale_order_line
		SET invoice_status = CASE
			WHEN state NOT IN ('sale', 'done') THEN 'no'
			WHEN ROUND(qty_to_invoice, %[1]d) != 0 THEN 'to invoice'
			WHEN state = 'sale' AND product_id IN (`+orderPolicyProducts+`)
				AND ROUND(qty_delivered, %[1]d) > ROUND(product_uom_qty, %[1]d) THEN 'upselling'
			WHEN ROUND(qty_invoiced, %[1]d) >= ROUND(product_uom_qty, %[1]d) THEN 'invoiced'
			ELSE 'no'
		END
		WHERE product_id IN (`+templatedProducts+`)`, precision),
	); err != nil {
		return err
	}

	n, err := s.Exec(ctx, `
		UPDATE sale_order
		SET invoice_status = CASE
			WHEN state NOT IN ('sale', 'done') THEN 'no'
			WHEN EXISTS (
				SELECT 1 FROM sale_order_line sol
				WHERE sol.order_id = sale_order.id AND sol.invoice_status = 'to invoice'
			) THEN 'to invoice'
			WHEN NOT EXISTS (
				SELECT 1 FROM sale_order_line sol
				WHERE sol.order_id = sale_order.id AND COALESCE(sol.invoice_status, '') != 'invoiced'
			) THEN 'invoiced'
			WHEN NOT EXISTS (
				SELECT 1 FROM sale_order_line sol
				WHERE sol.order_id = sale_order.id
					AND COALESCE(sol.invoice_status, '') NOT IN ('invoiced', 'upselling')
			) AND EXISTS (
				SELECT 1 FROM sale_order_line sol
				WHERE sol.order_id = sale_order.id AND sol.invoice_status = 'upselling'
			) THEN 'upselling'
			ELSE 'no'
		END`,
	)
	if err != nil {
		return err
	}

	s.Logger().Infof("invoice status computed for %d sale orders", n)
	return nil
}

const (
	templatedProducts = `
		SELECT pp.id FROM product_product pp
			JOIN product_template pt ON pt.id = pp.product_tmpl_id`

	orderPolicyProducts = templatedProducts + `
		WHERE pt.invoice_policy = 'order'`
)

func uomPrecision(ctx context.Context, s step.Session) (int, error) {
	ok, err := s.TableExists(ctx, "decimal_precision")
	if err != nil || !ok {
		return DefaultUomPrecision, err
	}

	var digits int
	err = s.Get(ctx, &digits, "SELECT digits FROM decimal_precision WHERE name = 'Product Unit of Measure'")
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultUomPrecision, nil
	}

	return digits, err
}

// ConvertTaxGroupsToTags creates a tax reporting tag for every root tax group
// and tags every tax with the tag of the root of its group
func ConvertTaxGroupsToTags(ctx context.Context, s step.Session, cfg TaxTags) error {
	if cfg.Lang == "" {
		cfg.Lang = DefaultTagLang
	}

	if err := schema.AddColumns(ctx, s, "account_account_tag",
		schema.Column{Name: "code_id", Type: "INTEGER"},
		schema.Column{Name: "tax_reporting", Type: "BOOLEAN"},
	); err != nil {
		return err
	}

	insertTags := `
		INSERT INTO account_account_tag (name, code_id, applicability, tax_reporting)
		SELECT g.name, g.id, 'taxes', TRUE
		FROM account_tax_group g
		WHERE g.parent_id IS NULL AND NOT EXISTS (
			SELECT 1 FROM account_account_tag t WHERE t.code_id = g.id AND t.tax_reporting)`
	var args []interface{}
	if len(cfg.ExcludedCompanies) > 0 {
		insertTags += " AND g.company_id NOT IN (?)"
		args = append(args, cfg.ExcludedCompanies)
	}

	tags, err := s.Exec(ctx, insertTags, args...)
	if err != nil {
		return err
	}

	links, err := s.Exec(ctx, `
		WITH RECURSIVE group2root (group_id, root_id) AS (
			SELECT id, id FROM account_tax_group WHERE parent_id IS NULL
			UNION
			SELECT g.id, g2r.root_id
			FROM account_tax_group g
				JOIN group2root g2r ON g.parent_id = g2r.group_id
		)
		INSERT INTO account_tax_account_tag (account_tax_id, account_account_tag_id)
		SELECT DISTINCT tx.id, tag.id
		FROM account_tax tx
			JOIN group2root g2r ON tx.tax_group_id = g2r.group_id
			JOIN account_account_tag tag ON tag.code_id = g2r.root_id AND tag.tax_reporting
		WHERE NOT EXISTS (
			SELECT 1 FROM account_tax_account_tag link
			WHERE link.account_tax_id = tx.id AND link.account_account_tag_id = tag.id)`,
	)
	if err != nil {
		return err
	}

	if _, err := s.Exec(ctx, `
		UPDATE account_account_tag
		SET name = (
			SELECT irt.value FROM ir_translation irt
			WHERE irt.name = 'account.tax.code,name' AND irt.lang = ? AND irt.res_id = account_account_tag.code_id
			ORDER BY irt.id DESC LIMIT 1)
		WHERE tax_reporting AND EXISTS (
			SELECT 1 FROM ir_translation irt
			WHERE irt.name = 'account.tax.code,name' AND irt.lang = ? AND irt.res_id = account_account_tag.code_id)`,
		cfg.Lang, cfg.Lang,
	); err != nil {
		return err
	}

	s.Logger().Infof("created %d tax reporting tags and %d tax tag links", tags, links)
	return nil
}
