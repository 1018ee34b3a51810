// Package refdata reconciles reference data already present in the database
// with the canonical seed data shipped by the host application.
package refdata

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	"github.com/denismitr/heron/internal/schema"
	"github.com/denismitr/heron/step"
	"github.com/pkg/errors"
)

const (
	stateModel      = "res.country.state"
	canonicalModule = "base"
)

var staleName = regexp.MustCompile(`_old_\d+(_\d+)?$`)

var ErrStaleNameTaken = errors.New("every stale name of a duplicate state mapping is taken")

// Report counts what every pass of a reconciliation did
type Report struct {
	Corrected int
	Matched   int
	Adopted   int
	Linked    int
	Skipped   int
	Ambiguous int
	Stale     int
}

func (r Report) String() string {
	return fmt.Sprintf(
		"corrected %d, matched %d, adopted %d, linked %d, skipped %d, ambiguous %d, stale %d",
		r.Corrected, r.Matched, r.Adopted, r.Linked, r.Skipped, r.Ambiguous, r.Stale,
	)
}

type stateReconciler struct {
	s       step.Session
	report  Report
	claimed map[int64]string
}

// ReconcileStates aligns country states with the seeds so that loading the
// seed file afterwards neither duplicates states nor breaks the unique
// (country, code) constraint
func ReconcileStates(ctx context.Context, s step.Session, seeds []StateSeed) (Report, error) {
	r := &stateReconciler{s: s, claimed: make(map[int64]string)}

	for _, seed := range seeds {
		if err := r.reconcile(ctx, seed); err != nil {
			return r.report, errors.Wrapf(err, "state seed %s", seed.XMLID)
		}
	}

	if err := r.renameDuplicates(ctx); err != nil {
		return r.report, err
	}

	s.Logger().Infof("country states reconciled: %s", r.report)

	return r.report, nil
}

func (r *stateReconciler) reconcile(ctx context.Context, seed StateSeed) error {
	key := seed.Key()

	if err := r.correctCode(ctx, key, seed.Code); err != nil {
		return err
	}

	exact, err := r.exactMatch(ctx, key, seed)
	if err != nil {
		return err
	}

	if exact != 0 {
		r.report.Matched++
		r.claimed[exact] = key
		return nil
	}

	fuzzy, err := r.fuzzyMatch(ctx, seed)
	if err != nil {
		return err
	}

	if fuzzy != 0 {
		return r.adopt(ctx, fuzzy, key, seed)
	}

	return r.link(ctx, key, seed)
}

// correctCode makes the seed authoritative for the code of the state it
// already maps to
func (r *stateReconciler) correctCode(ctx context.Context, key, code string) error {
	n, err := r.s.Exec(ctx, `
		UPDATE res_country_state SET code = ?
		WHERE (code IS NULL OR code != ?) AND id IN (
			SELECT imd.res_id FROM ir_model_data imd
			WHERE imd.model = ? AND imd.name = ?)`,
		code, code, stateModel, key,
	)
	if err != nil {
		return err
	}

	r.report.Corrected += int(n)
	return nil
}

func (r *stateReconciler) exactMatch(ctx context.Context, key string, seed StateSeed) (int64, error) {
	return r.firstID(ctx, `
		SELECT imd.id
		FROM ir_model_data imd
		JOIN res_country_state rcs ON imd.model = ? AND imd.res_id = rcs.id
		LEFT JOIN res_country rc ON rcs.country_id = rc.id
		JOIN ir_model_data imd2 ON rc.id = imd2.res_id AND imd2.model = 'res.country'
		WHERE imd2.name = ? AND rcs.code = ? AND imd.name = ?
		ORDER BY imd.id DESC
		LIMIT 1`,
		stateModel, seed.CountryKey(), seed.Code, key,
	)
}

// fuzzyMatch finds a mapped state with the seed code in the seed country no
// matter its mapping name, the most recent mapping wins
func (r *stateReconciler) fuzzyMatch(ctx context.Context, seed StateSeed) (int64, error) {
	return r.firstID(ctx, `
		SELECT imd.id
		FROM ir_model_data imd
		JOIN res_country_state rcs ON imd.model = ? AND imd.res_id = rcs.id
		LEFT JOIN res_country rc ON rcs.country_id = rc.id
		JOIN ir_model_data imd2 ON rc.id = imd2.res_id AND imd2.model = 'res.country'
		WHERE imd2.name = ? AND rcs.code = ?
		ORDER BY imd.id DESC
		LIMIT 1`,
		stateModel, seed.CountryKey(), seed.Code,
	)
}

// adopt moves the matched mapping under the canonical identity, the state
// row keeps its id
func (r *stateReconciler) adopt(ctx context.Context, imdID int64, key string, seed StateSeed) error {
	if other, ok := r.claimed[imdID]; ok && other != key {
		r.report.Ambiguous++
		r.s.Logger().Warnf("state seeds %s and %s resolve to the same mapping %d, left for a merge", other, key, imdID)
		return nil
	}

	var canonical int64
	err := r.s.Get(ctx, &canonical,
		"SELECT id FROM ir_model_data WHERE module = ? AND name = ?",
		canonicalModule, key,
	)
	switch {
	case err == nil && canonical != imdID:
		r.report.Ambiguous++
		r.s.Logger().Warnf("state mapping %s.%s exists on another row, mapping %d left alone", canonicalModule, key, imdID)
		return nil
	case err != nil && !errors.Is(err, sql.ErrNoRows):
		return err
	}

	if _, err := r.s.Exec(ctx,
		"UPDATE ir_model_data SET name = ?, module = ? WHERE id = ? AND model = ?",
		key, canonicalModule, imdID, stateModel,
	); err != nil {
		return err
	}

	if _, err := r.s.Exec(ctx, `
		UPDATE res_country_state SET name = ?
		WHERE id IN (SELECT res_id FROM ir_model_data WHERE id = ? AND model = ?)`,
		seed.Name, imdID, stateModel,
	); err != nil {
		return err
	}

	r.claimed[imdID] = key
	r.report.Adopted++
	return nil
}

// link creates the missing mapping for a state entered by hand
func (r *stateReconciler) link(ctx context.Context, key string, seed StateSeed) error {
	var stateID int64
	err := r.s.Get(ctx, &stateID, `
		SELECT rcs.id
		FROM res_country_state rcs
		LEFT JOIN res_country rc ON rc.id = rcs.country_id
		WHERE rcs.code = ? AND rc.code = ?
		ORDER BY rcs.id
		LIMIT 1`,
		strings.ToUpper(seed.Code), strings.ToUpper(seed.CountryKey()),
	)
	if errors.Is(err, sql.ErrNoRows) {
		r.report.Skipped++
		return nil
	}

	if err != nil {
		return err
	}

	var mapped int64
	err = r.s.Get(ctx, &mapped,
		"SELECT res_id FROM ir_model_data WHERE module = ? AND name = ?",
		canonicalModule, key,
	)
	switch {
	case err == nil && mapped == stateID:
		r.report.Matched++
		return nil
	case err == nil:
		r.report.Ambiguous++
		r.s.Logger().Warnf("state %d matches seed %s but %s.%s maps state %d", stateID, seed.XMLID, canonicalModule, key, mapped)
		return nil
	case !errors.Is(err, sql.ErrNoRows):
		return err
	}

	if _, err := schema.AddXMLID(ctx, r.s, canonicalModule, key, stateModel, stateID, false); err != nil {
		return err
	}

	r.report.Linked++
	return nil
}

type stateMapping struct {
	ID        int64         `db:"id"`
	Module    string        `db:"module"`
	Name      string        `db:"name"`
	ResID     int64         `db:"res_id"`
	Code      string        `db:"code"`
	CountryID sql.NullInt64 `db:"country_id"`
}

// renameDuplicates keeps one mapping per (code, country) and marks the rest
// stale, merging them is left to a later step. The canonical module wins,
// then the most recent mapping.
func (r *stateReconciler) renameDuplicates(ctx context.Context) error {
	var mappings []stateMapping
	if err := r.s.Select(ctx, &mappings, `
		SELECT imd.id, imd.module, imd.name, imd.res_id, COALESCE(rcs.code, '') AS code, rcs.country_id
		FROM ir_model_data imd
		JOIN res_country_state rcs ON imd.model = ? AND imd.res_id = rcs.id
		ORDER BY CASE WHEN imd.module = ? THEN 0 ELSE 1 END, imd.id DESC`,
		stateModel, canonicalModule,
	); err != nil {
		return err
	}

	type group struct {
		code    string
		country sql.NullInt64
	}
	kept := make(map[group]int64)

	for _, m := range mappings {
		if staleName.MatchString(m.Name) {
			continue
		}

		g := group{code: m.Code, country: m.CountryID}
		if keeper, ok := kept[g]; ok {
			if err := r.markStale(ctx, m, keeper); err != nil {
				return err
			}
			continue
		}

		kept[g] = m.ID
	}

	return nil
}

// markStale renames a duplicate mapping to <name>_old_<res_id>, or to
// <name>_old_<res_id>_<id> when the module already has that name
func (r *stateReconciler) markStale(ctx context.Context, m stateMapping, keeper int64) error {
	candidates := []string{
		fmt.Sprintf("%s_old_%d", m.Name, m.ResID),
		fmt.Sprintf("%s_old_%d_%d", m.Name, m.ResID, m.ID),
	}

	for _, stale := range candidates {
		n, err := r.s.Exec(ctx, `
			UPDATE ir_model_data SET name = ?
			WHERE id = ? AND model = ? AND NOT EXISTS (
				SELECT 1 FROM ir_model_data d2 WHERE d2.module = ? AND d2.name = ?)`,
			stale, m.ID, stateModel, m.Module, stale,
		)
		if err != nil {
			return err
		}

		if n > 0 {
			r.report.Stale++
			r.s.Logger().Warnf("state mapping %s.%s duplicates mapping %d, renamed to %s", m.Module, m.Name, keeper, stale)
			return nil
		}
	}

	return errors.Wrapf(ErrStaleNameTaken, "%s.%s duplicates mapping %d", m.Module, m.Name, keeper)
}

func (r *stateReconciler) firstID(ctx context.Context, query string, args ...interface{}) (int64, error) {
	var id int64
	err := r.s.Get(ctx, &id, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}

	return id, err
}
