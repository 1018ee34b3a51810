package schema

import (
	"context"
	"testing"

	"github.com/denismitr/heron/internal/testdb"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLegacyName(t *testing.T) {
	assert.Equal(t, "openupgrade_legacy_10_0_birthdate", LegacyName("10.0.1.3", "birthdate"))
	assert.Equal(t, "openupgrade_legacy_9_0_invoice_state", LegacyName("9.0", "invoice_state"))
	assert.Equal(t, "openupgrade_legacy_9_0_lot_id", LegacyName("9", "lot_id"))
}

func TestRenameColumns(t *testing.T) {
	ctx := context.Background()

	t.Run("it renames to the legacy name and is a no-op on rerun", func(t *testing.T) {
		db := testdb.Open(t)
		s := testdb.Session(db)
		testdb.Exec(t, db, `INSERT INTO res_partner (id, name, birthdate) VALUES (1, 'Ann', '1980-01-01')`)

		spec := RenameSpec{"res_partner": {{Old: "birthdate"}}}
		require.NoError(t, RenameColumns(ctx, s, "10.0.1.3", spec))
		require.NoError(t, RenameColumns(ctx, s, "10.0.1.3", spec))

		var birthdate string
		require.NoError(t, db.Get(&birthdate, "SELECT openupgrade_legacy_10_0_birthdate FROM res_partner WHERE id = 1"))
		assert.Equal(t, "1980-01-01", birthdate)

		ok, err := s.ColumnExists(ctx, "res_partner", "birthdate")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("it refuses colliding renames", func(t *testing.T) {
		db := testdb.Open(t)
		s := testdb.Session(db)

		err := RenameColumns(ctx, s, "10.0", RenameSpec{"res_partner": {
			{Old: "name", New: "display_name"},
			{Old: "type", New: "display_name"},
		}})
		assert.True(t, errors.Is(err, ErrRenameCollision))

		err = RenameColumns(ctx, s, "10.0", RenameSpec{"res_partner": {{Old: "name", New: "type"}}})
		assert.True(t, errors.Is(err, ErrRenameCollision))
	})
}

func TestCopyColumnsAndMapValues(t *testing.T) {
	ctx := context.Background()
	db := testdb.Open(t)
	s := testdb.Session(db)

	testdb.Exec(t, db,
		`INSERT INTO ir_act_window (id, name, target) VALUES (1, 'a', 'inlineview'), (2, 'b', 'current')`,
	)

	for i := 0; i < 2; i++ {
		require.NoError(t, CopyColumns(ctx, s, "10.0.1.3", CopySpec{"ir_act_window": {{Old: "target"}}}))
		require.NoError(t, MapValues(ctx, s, "ir_act_window", LegacyName("10.0.1.3", "target"), "target",
			[]ValueMapping{{From: "inlineview", To: "inline"}}))
	}

	type row struct {
		Target string `db:"target"`
		Legacy string `db:"openupgrade_legacy_10_0_target"`
	}
	var rows []row
	require.NoError(t, db.Select(&rows, "SELECT target, openupgrade_legacy_10_0_target FROM ir_act_window ORDER BY id"))
	assert.Equal(t, []row{{"inline", "inlineview"}, {"current", "current"}}, rows)
}

func TestAddColumns(t *testing.T) {
	ctx := context.Background()
	db := testdb.Open(t)
	s := testdb.Session(db)

	cols := []Column{{Name: "store", Type: "BOOLEAN"}}
	require.NoError(t, AddColumns(ctx, s, "ir_model_fields", cols...))
	require.NoError(t, AddColumns(ctx, s, "ir_model_fields", cols...))

	ok, err := s.ColumnExists(ctx, "ir_model_fields", "store")
	require.NoError(t, err)
	assert.True(t, ok)

	err = AddColumns(ctx, s, "ir_model_fields", Column{Name: "ttype"})
	assert.True(t, errors.Is(err, ErrInvalidSpec))
}

func TestRenameFieldsAndProperties(t *testing.T) {
	ctx := context.Background()
	db := testdb.Open(t)
	s := testdb.Session(db)

	testdb.Exec(t, db,
		`INSERT INTO ir_model_fields (id, model, name) VALUES
			(1, 'product.category', 'property_stock_account_input_categ'),
			(2, 'product.template', 'cost_method')`,
		`INSERT INTO ir_model_data (module, name, model, res_id) VALUES
			('stock_account', 'field_product_category_property_stock_account_input_categ', 'ir.model.fields', 1)`,
		`INSERT INTO ir_property (id, name, fields_id) VALUES
			(1, 'property_stock_account_input_categ', 1),
			(2, 'cost_method', 2),
			(3, 'cost_method', 99)`,
		`INSERT INTO ir_translation (id, name, type) VALUES
			(1, 'product.category,property_stock_account_input_categ', 'field')`,
	)

	props := []PropertyRename{{Model: "product.template", Old: "cost_method", New: "property_cost_method"}}
	fields := []FieldRename{{
		Model: "product.category",
		Table: "product_category",
		Old:   "property_stock_account_input_categ",
		New:   "property_stock_account_input_categ_id",
	}}

	for i := 0; i < 2; i++ {
		require.NoError(t, RenameProperties(ctx, s, props))
		require.NoError(t, RenameFields(ctx, s, fields))
	}

	var names []string
	require.NoError(t, db.Select(&names, "SELECT name FROM ir_property ORDER BY id"))
	assert.Equal(t, []string{"property_stock_account_input_categ_id", "property_cost_method", "cost_method"}, names)

	assert.Equal(t, 1, testdb.Count(t, db,
		"SELECT COUNT(*) FROM ir_model_fields WHERE name = 'property_stock_account_input_categ_id'"))
	assert.Equal(t, 1, testdb.Count(t, db,
		"SELECT COUNT(*) FROM ir_model_data WHERE name = 'field_product_category_property_stock_account_input_categ_id'"))
	assert.Equal(t, 1, testdb.Count(t, db,
		"SELECT COUNT(*) FROM ir_translation WHERE name = 'product.category,property_stock_account_input_categ_id'"))

	ok, err := s.ColumnExists(ctx, "product_category", "property_stock_account_input_categ_id")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestModules(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) *sqlx.DB {
		db := testdb.Open(t)
		testdb.Exec(t, db,
			`INSERT INTO ir_module_module (id, name, state) VALUES
				(1, 'web_kanban', 'installed'),
				(2, 'web', 'installed'),
				(3, 'marketing_crm', 'installed'),
				(4, 'crm', 'uninstalled')`,
			`INSERT INTO ir_module_module_dependency (module_id, name) VALUES (2, 'web_kanban'), (3, 'crm')`,
			`INSERT INTO ir_model_data (module, name, model, res_id) VALUES
				('base', 'module_web_kanban', 'ir.module.module', 1),
				('web_kanban', 'view_a', 'ir.ui.view', 10),
				('marketing_crm', 'menu_x', 'ir.ui.menu', 20),
				('marketing_crm', 'shared', 'ir.ui.view', 21),
				('crm', 'shared', 'ir.ui.view', 22)`,
		)
		return db
	}

	t.Run("it renames a module with its data", func(t *testing.T) {
		db := setup(t)
		s := testdb.Session(db)
		renames := []ModuleRename{{Old: "web_kanban", New: "web_kanban_new"}}

		require.NoError(t, RenameModules(ctx, s, renames, false))
		require.NoError(t, RenameModules(ctx, s, renames, false))

		ok, err := IsModuleInstalled(ctx, s, "web_kanban_new")
		require.NoError(t, err)
		assert.True(t, ok)

		assert.Equal(t, 1, testdb.Count(t, db, "SELECT COUNT(*) FROM ir_model_data WHERE module = 'web_kanban_new'"))
		assert.Equal(t, 1, testdb.Count(t, db, "SELECT COUNT(*) FROM ir_model_data WHERE name = 'module_web_kanban_new'"))
		assert.Equal(t, 1, testdb.Count(t, db, "SELECT COUNT(*) FROM ir_module_module_dependency WHERE name = 'web_kanban_new'"))
	})

	t.Run("renaming onto an existing module needs a merge", func(t *testing.T) {
		db := setup(t)
		s := testdb.Session(db)

		err := RenameModules(ctx, s, []ModuleRename{{Old: "marketing_crm", New: "crm"}}, false)
		assert.True(t, errors.Is(err, ErrInvalidSpec))
	})

	t.Run("it merges a module into another", func(t *testing.T) {
		db := setup(t)
		s := testdb.Session(db)
		merges := []ModuleRename{{Old: "marketing_crm", New: "crm"}}

		require.NoError(t, MergeModules(ctx, s, merges))
		require.NoError(t, MergeModules(ctx, s, merges))

		ok, err := IsModuleInstalled(ctx, s, "crm")
		require.NoError(t, err)
		assert.True(t, ok)

		assert.Equal(t, 0, testdb.Count(t, db, "SELECT COUNT(*) FROM ir_module_module WHERE name = 'marketing_crm'"))
		assert.Equal(t, 0, testdb.Count(t, db, "SELECT COUNT(*) FROM ir_model_data WHERE module = 'marketing_crm'"))
		assert.Equal(t, 2, testdb.Count(t, db, "SELECT COUNT(*) FROM ir_model_data WHERE module = 'crm'"))
		assert.Equal(t, 0, testdb.Count(t, db, "SELECT COUNT(*) FROM ir_module_module_dependency WHERE module_id = 3"))
	})
}
