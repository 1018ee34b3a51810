// Package stockaccount migrates stock_account from 8.0 to 9.0: the
// valuation properties and accounts of product categories got new names.
package stockaccount

import (
	"context"

	"github.com/denismitr/heron/internal/schema"
	"github.com/denismitr/heron/step"
)

const (
	Module = "stock_account"
	From   = "8.0.1.1"
	To     = "9.0.1.1"
)

var propertyRenames = []schema.PropertyRename{
	{Model: "product.template", Old: "cost_method", New: "property_cost_method"},
	{Model: "product.template", Old: "valuation", New: "property_valuation"},
}

var fieldRenames = []schema.FieldRename{
	{
		Model: "product.category",
		Table: "product_category",
		Old:   "property_stock_account_input_categ",
		New:   "property_stock_account_input_categ_id",
	},
	{
		Model: "product.category",
		Table: "product_category",
		Old:   "property_stock_account_output_categ",
		New:   "property_stock_account_output_categ_id",
	},
}

func Steps() step.Steps {
	return step.Steps{
		step.MustNew(Module, From, To, step.Pre, PreMigration),
	}
}

// PreMigration renames the properties only, the fields of product.template
// are renamed by the application itself
func PreMigration(ctx context.Context, s step.Session) error {
	if err := schema.RenameProperties(ctx, s, propertyRenames); err != nil {
		return err
	}

	return schema.RenameFields(ctx, s, fieldRenames)
}
