package refdata

import (
	"context"
	"strings"
	"testing"

	"github.com/denismitr/heron/internal/testdb"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const seedCSV = `"id","country_id:id","name","code"
"state_us_tx","base.us","Texas","TX"
"state_us_ca","base.us","California","CA"
"state_es_m","base.es","Madrid","M"
`

func TestReadStateSeeds(t *testing.T) {
	t.Run("it reads the seed file", func(t *testing.T) {
		seeds, err := ReadStateSeeds(strings.NewReader(seedCSV))
		require.NoError(t, err)
		require.Len(t, seeds, 3)

		assert.Equal(t, StateSeed{XMLID: "state_us_tx", Country: "base.us", Name: "Texas", Code: "TX"}, seeds[0])
		assert.Equal(t, "state_us_tx", seeds[0].Key())
		assert.Equal(t, "us", seeds[0].CountryKey())
	})

	t.Run("it rejects entries without a code", func(t *testing.T) {
		_, err := ReadStateSeeds(strings.NewReader("id,country_id:id,name,code\nstate_x,base.us,X,\n"))
		assert.True(t, errors.Is(err, ErrInvalidSeed))
	})
}

func setupCountries(t *testing.T, db *sqlx.DB) {
	testdb.Exec(t, db,
		`INSERT INTO res_country (id, name, code) VALUES (1, 'United States', 'US'), (2, 'Spain', 'ES')`,
		`INSERT INTO ir_model_data (module, name, model, res_id) VALUES
			('base', 'us', 'res.country', 1),
			('base', 'es', 'res.country', 2)`,
	)
}

func mappingOf(t *testing.T, db *sqlx.DB, module, name string) int64 {
	var resID int64
	require.NoError(t, db.Get(&resID,
		"SELECT res_id FROM ir_model_data WHERE module = ? AND name = ? AND model = 'res.country.state'",
		module, name))
	return resID
}

func TestReconcileStates(t *testing.T) {
	ctx := context.Background()

	t.Run("a state entered by hand gets the canonical mapping", func(t *testing.T) {
		db := testdb.Open(t)
		setupCountries(t, db)
		testdb.Exec(t, db, `INSERT INTO res_country_state (id, name, code, country_id) VALUES (7, 'Texas', 'TX', 1)`)

		seeds := []StateSeed{{XMLID: "US_TX", Country: "US", Name: "Texas", Code: "TX"}}
		report, err := ReconcileStates(ctx, testdb.Session(db), seeds)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Linked)

		assert.Equal(t, int64(7), mappingOf(t, db, "base", "US_TX"))
		assert.Equal(t, 1, testdb.Count(t, db, "SELECT COUNT(*) FROM res_country_state"))

		report, err = ReconcileStates(ctx, testdb.Session(db), seeds)
		require.NoError(t, err)
		assert.Equal(t, Report{Matched: 1}, report)
		assert.Equal(t, 1, testdb.Count(t, db, "SELECT COUNT(*) FROM ir_model_data WHERE model = 'res.country.state'"))
	})

	t.Run("codes follow the seed and exact matches are left alone", func(t *testing.T) {
		db := testdb.Open(t)
		setupCountries(t, db)
		testdb.Exec(t, db,
			`INSERT INTO res_country_state (id, name, code, country_id) VALUES (3, 'Madrid', 'MAD', 2)`,
			`INSERT INTO ir_model_data (module, name, model, res_id) VALUES ('base', 'state_es_m', 'res.country.state', 3)`,
		)

		seeds, err := ReadStateSeeds(strings.NewReader(seedCSV))
		require.NoError(t, err)

		report, err := ReconcileStates(ctx, testdb.Session(db), seeds)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Corrected)
		assert.Equal(t, 1, report.Matched)
		assert.Equal(t, 2, report.Skipped)

		var code string
		require.NoError(t, db.Get(&code, "SELECT code FROM res_country_state WHERE id = 3"))
		assert.Equal(t, "M", code)
	})

	t.Run("a mapping made by hand is adopted keeping the state id", func(t *testing.T) {
		db := testdb.Open(t)
		setupCountries(t, db)
		testdb.Exec(t, db,
			`INSERT INTO res_country_state (id, name, code, country_id) VALUES (10, 'Tejas', 'TX', 1), (11, 'Texas old', 'TX', 1)`,
			`INSERT INTO ir_model_data (id, module, name, model, res_id) VALUES
				(100, '__export__', 'res_country_state_10', 'res.country.state', 10),
				(101, '__export__', 'res_country_state_11', 'res.country.state', 11)`,
		)

		seeds := []StateSeed{{XMLID: "state_us_tx", Country: "base.us", Name: "Texas", Code: "TX"}}
		report, err := ReconcileStates(ctx, testdb.Session(db), seeds)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Adopted)
		assert.Equal(t, 1, report.Stale)

		assert.Equal(t, int64(11), mappingOf(t, db, "base", "state_us_tx"))
		assert.Equal(t, int64(10), mappingOf(t, db, "__export__", "res_country_state_10_old_10"))

		var name string
		require.NoError(t, db.Get(&name, "SELECT name FROM res_country_state WHERE id = 11"))
		assert.Equal(t, "Texas", name)

		again, err := ReconcileStates(ctx, testdb.Session(db), seeds)
		require.NoError(t, err)
		assert.Equal(t, Report{Matched: 1}, again)
	})

	t.Run("at most one live mapping remains per code and country", func(t *testing.T) {
		db := testdb.Open(t)
		setupCountries(t, db)
		testdb.Exec(t, db,
			`INSERT INTO res_country_state (id, name, code, country_id) VALUES
				(20, 'California', 'CA', 1), (21, 'Calif.', 'CA', 1), (22, 'Cali', 'CA', 1)`,
			`INSERT INTO ir_model_data (id, module, name, model, res_id) VALUES
				(200, 'base', 'state_us_ca', 'res.country.state', 20),
				(201, 'custom', 'ca', 'res.country.state', 21),
				(202, 'custom', 'ca2', 'res.country.state', 22)`,
		)

		report, err := ReconcileStates(ctx, testdb.Session(db), nil)
		require.NoError(t, err)
		assert.Equal(t, 2, report.Stale)

		assert.Equal(t, int64(20), mappingOf(t, db, "base", "state_us_ca"))
		assert.Equal(t, 2, testdb.Count(t, db, "SELECT COUNT(*) FROM ir_model_data WHERE name LIKE '%old%'"))

		again, err := ReconcileStates(ctx, testdb.Session(db), nil)
		require.NoError(t, err)
		assert.Equal(t, 0, again.Stale)
	})

	t.Run("a taken stale name falls back to one carrying the mapping id", func(t *testing.T) {
		db := testdb.Open(t)
		setupCountries(t, db)
		testdb.Exec(t, db,
			`INSERT INTO res_country_state (id, name, code, country_id) VALUES (20, 'California', 'CA', 1), (21, 'Calif.', 'CA', 1)`,
			`INSERT INTO ir_model_data (id, module, name, model, res_id) VALUES
				(200, 'base', 'state_us_ca', 'res.country.state', 20),
				(201, 'custom', 'ca', 'res.country.state', 21),
				(202, 'custom', 'ca_old_21', 'res.partner', 5)`,
		)

		report, err := ReconcileStates(ctx, testdb.Session(db), nil)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Stale)
		assert.Equal(t, 0, report.Ambiguous)

		assert.Equal(t, int64(21), mappingOf(t, db, "custom", "ca_old_21_201"))
		assert.Equal(t, 0, testdb.Count(t, db, "SELECT COUNT(*) FROM ir_model_data WHERE module = 'custom' AND name = 'ca'"))

		again, err := ReconcileStates(ctx, testdb.Session(db), nil)
		require.NoError(t, err)
		assert.Equal(t, 0, again.Stale)
	})
}
