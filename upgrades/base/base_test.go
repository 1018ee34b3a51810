package base

import (
	"context"
	"testing"

	"github.com/denismitr/heron/internal/refdata"
	"github.com/denismitr/heron/internal/schema"
	"github.com/denismitr/heron/internal/testdb"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixture(t *testing.T) *sqlx.DB {
	db := testdb.Open(t)
	testdb.Exec(t, db,
		`INSERT INTO ir_module_module (id, name, state, latest_version) VALUES
			(1, 'base', 'installed', '9.0.1.3'),
			(2, 'web_kanban', 'installed', '9.0.1.0'),
			(3, 'web', 'installed', '9.0.1.0'),
			(4, 'marketing', 'installed', '9.0.1.0')`,
		`INSERT INTO ir_model_data (module, name, model, res_id) VALUES
			('web_kanban', 'kanban_view', 'ir.ui.view', 1),
			('base', 'us', 'res.country', 1)`,
		`INSERT INTO ir_act_window (id, name, target) VALUES (1, 'Partners', 'current'), (2, 'Wizard', 'inlineview')`,
		`INSERT INTO ir_ui_view (id, name, type) VALUES (1, 'Dashboard', 'sales_team_dashboard'), (2, 'Form', 'form')`,
		`INSERT INTO res_currency (id, name, symbol) VALUES (1, 'EUR', NULL), (2, 'USD', '$')`,
		`INSERT INTO res_lang (id, name, code) VALUES (1, 'French', 'fr_FR'), (2, 'English', 'en_US'), (3, 'Basque', 'eu')`,
		`INSERT INTO res_country (id, name, code) VALUES (1, 'United States', 'US')`,
		`INSERT INTO res_country_state (id, name, code, country_id) VALUES (5, 'Texas', 'TX', 1)`,
		`INSERT INTO res_partner (id, name, is_company, commercial_partner_id, parent_id, type, use_parent_address, birthdate) VALUES
			(1, 'Acme', TRUE, 1, NULL, 'contact', FALSE, NULL),
			(2, 'Jane', FALSE, 1, 1, 'other', TRUE, '1980-02-01'),
			(3, 'Billing', FALSE, 1, 1, 'contact', FALSE, NULL),
			(4, 'John', FALSE, 4, NULL, 'contact', FALSE, NULL)`,
		`INSERT INTO res_users (id, partner_id, active, share) VALUES (1, 2, TRUE, FALSE), (2, 4, TRUE, TRUE)`,
	)

	return db
}

func config() Config {
	return Config{
		RenamedModules: []schema.ModuleRename{{Old: "marketing", New: "marketing_campaign"}},
		MergedModules:  []schema.ModuleRename{{Old: "web_kanban", New: "web"}},
		StateSeeds:     []refdata.StateSeed{{XMLID: "state_us_tx", Country: "base.us", Name: "Texas", Code: "TX"}},
	}
}

func TestPreMigration(t *testing.T) {
	ctx := context.Background()
	db := fixture(t)
	migrate := PreMigration(config())

	require.NoError(t, migrate(ctx, testdb.Session(db)))

	t.Run("modules are renamed and merged", func(t *testing.T) {
		assert.Equal(t, 1, testdb.Count(t, db, "SELECT COUNT(*) FROM ir_module_module WHERE name = 'marketing_campaign'"))
		assert.Equal(t, 0, testdb.Count(t, db, "SELECT COUNT(*) FROM ir_module_module WHERE name IN ('marketing', 'web_kanban')"))
		assert.Equal(t, 1, testdb.Count(t, db, "SELECT COUNT(*) FROM ir_model_data WHERE module = 'web' AND name = 'kanban_view'"))
	})

	t.Run("birthdate is kept under its legacy name", func(t *testing.T) {
		var birthdate string
		require.NoError(t, db.Get(&birthdate, "SELECT openupgrade_legacy_10_0_birthdate FROM res_partner WHERE id = 2"))
		assert.Equal(t, "1980-02-01", birthdate)
	})

	t.Run("window targets are copied and mapped", func(t *testing.T) {
		var target, legacy string
		require.NoError(t, db.QueryRowx("SELECT target, openupgrade_legacy_10_0_target FROM ir_act_window WHERE id = 2").Scan(&target, &legacy))
		assert.Equal(t, "inline", target)
		assert.Equal(t, "inlineview", legacy)
	})

	t.Run("views and currencies are fixed", func(t *testing.T) {
		assert.Equal(t, 0, testdb.Count(t, db, "SELECT COUNT(*) FROM ir_ui_view WHERE type = 'sales_team_dashboard'"))
		assert.Equal(t, 0, testdb.Count(t, db, "SELECT COUNT(*) FROM res_currency WHERE symbol IS NULL"))
	})

	t.Run("languages get xmlids", func(t *testing.T) {
		var names []string
		require.NoError(t, db.Select(&names, "SELECT name FROM ir_model_data WHERE model = 'res.lang' ORDER BY res_id"))
		assert.Equal(t, []string{"lang_fr", "lang_en_US", "lang_eu"}, names)
	})

	t.Run("the hand made state is linked to the seed", func(t *testing.T) {
		assert.Equal(t, 1, testdb.Count(t, db,
			"SELECT COUNT(*) FROM ir_model_data WHERE module = 'base' AND name = 'state_us_tx' AND res_id = 5"))
	})

	t.Run("partner fields are precomputed", func(t *testing.T) {
		assert.Equal(t, 3, testdb.Count(t, db, "SELECT COUNT(*) FROM res_partner WHERE commercial_company_name = 'Acme'"))
		assert.Equal(t, 0, testdb.Count(t, db, "SELECT COUNT(*) FROM res_partner WHERE id = 4 AND commercial_company_name IS NOT NULL"))

		var shared []int64
		require.NoError(t, db.Select(&shared, "SELECT id FROM res_partner WHERE partner_share ORDER BY id"))
		assert.Equal(t, []int64{1, 3, 4}, shared)
	})

	t.Run("partner types follow use_parent_address", func(t *testing.T) {
		var types []string
		require.NoError(t, db.Select(&types, "SELECT type FROM res_partner ORDER BY id"))
		assert.Equal(t, []string{"contact", "contact", "other", "contact"}, types)
	})

	t.Run("running it again changes nothing", func(t *testing.T) {
		before := testdb.Count(t, db, "SELECT COUNT(*) FROM ir_model_data")

		require.NoError(t, migrate(ctx, testdb.Session(db)))

		assert.Equal(t, before, testdb.Count(t, db, "SELECT COUNT(*) FROM ir_model_data"))
		assert.Equal(t, 1, testdb.Count(t, db, "SELECT COUNT(*) FROM ir_act_window WHERE target = 'inline'"))
	})
}

func TestSteps(t *testing.T) {
	steps := Steps(Config{})
	require.Len(t, steps, 1)
	assert.Equal(t, "base@9.0.1.3->10.0.1.3:pre", steps[0].Key.String())
}
