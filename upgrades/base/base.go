// Package base migrates the data of the base module from 9.0 to 10.0.
package base

import (
	"context"

	"github.com/denismitr/heron/internal/refdata"
	"github.com/denismitr/heron/internal/schema"
	"github.com/denismitr/heron/step"
	"github.com/pkg/errors"
)

const (
	Module = "base"
	From   = "9.0.1.3"
	To     = "10.0.1.3"
)

type Config struct {
	// RenamedModules are renamed before anything else touches module data
	RenamedModules []schema.ModuleRename
	// MergedModules are folded into their successor once the step is done
	MergedModules []schema.ModuleRename
	StateSeeds    []refdata.StateSeed
}

var columnRenames = schema.RenameSpec{
	"res_partner": {{Old: "birthdate"}},
}

func Steps(cfg Config) step.Steps {
	return step.Steps{
		step.MustNew(Module, From, To, step.Pre, PreMigration(cfg)),
	}
}

// PreMigration prepares base data for the 10.0 schema
func PreMigration(cfg Config) step.Func {
	return func(ctx context.Context, s step.Session) error {
		if err := schema.RenameModules(ctx, s, cfg.RenamedModules, false); err != nil {
			return errors.Wrap(err, "could not rename modules")
		}

		if err := schema.RenameColumns(ctx, s, To, columnRenames); err != nil {
			return err
		}

		// the value is written by the application once it loads the models
		if err := schema.AddColumns(ctx, s, "ir_model_fields", schema.Column{Name: "store", Type: "BOOLEAN"}); err != nil {
			return err
		}

		if err := migrateWindowTargets(ctx, s); err != nil {
			return err
		}

		if _, err := s.Exec(ctx, "UPDATE ir_ui_view SET type = 'kanban' WHERE type = 'sales_team_dashboard'"); err != nil {
			return err
		}

		if _, err := s.Exec(ctx, "UPDATE res_currency SET symbol = name WHERE symbol IS NULL"); err != nil {
			return err
		}

		if err := addLanguageXMLIDs(ctx, s); err != nil {
			return err
		}

		if _, err := refdata.ReconcileStates(ctx, s, cfg.StateSeeds); err != nil {
			return errors.Wrap(err, "could not reconcile country states")
		}

		if err := precomputePartnerFields(ctx, s); err != nil {
			return err
		}

		if err := alignPartnerTypes(ctx, s); err != nil {
			return err
		}

		return errors.Wrap(schema.MergeModules(ctx, s, cfg.MergedModules), "could not merge modules")
	}
}

func migrateWindowTargets(ctx context.Context, s step.Session) error {
	if err := schema.CopyColumns(ctx, s, To, schema.CopySpec{
		"ir_act_window": {{Old: "target"}},
	}); err != nil {
		return err
	}

	return schema.MapValues(ctx, s, "ir_act_window", schema.LegacyName(To, "target"), "target", []schema.ValueMapping{
		{From: "inlineview", To: "inline"},
	})
}

// addLanguageXMLIDs maps every installed language to base.lang_<code>, where
// codes like fr_FR are shortened to fr
func addLanguageXMLIDs(ctx context.Context, s step.Session) error {
	n, err := s.Exec(ctx, `
		INSERT INTO ir_model_data (module, name, model, res_id)
		SELECT 'base', l.xmlid, 'res.lang', l.id
		FROM (
			SELECT id, 'lang_' || CASE
				WHEN LENGTH(code) > 2 AND UPPER(SUBSTR(code, 1, 2)) = UPPER(SUBSTR(code, 4, 2))
					THEN SUBSTR(code, 1, 2)
				ELSE code
			END AS xmlid
			FROM res_lang
		) l
		WHERE NOT EXISTS (
			SELECT 1 FROM ir_model_data imd WHERE imd.module = 'base' AND imd.name = l.xmlid)`,
	)
	if err != nil {
		return errors.Wrap(err, "could not create language xmlids")
	}

	s.Logger().Debugf("created %d language xmlids", n)
	return nil
}

// precomputePartnerFields fills the stored computed fields new in 10.0 so
// the application does not recompute them partner by partner
func precomputePartnerFields(ctx context.Context, s step.Session) error {
	if err := schema.AddColumns(ctx, s, "res_partner",
		schema.Column{Name: "commercial_company_name", Type: "VARCHAR"},
		schema.Column{Name: "partner_share", Type: "BOOLEAN"},
	); err != nil {
		return err
	}

	if _, err := s.Exec(ctx, `
		UPDATE res_partner
		SET commercial_company_name = (
			SELECT crp.name FROM res_partner crp WHERE crp.id = res_partner.commercial_partner_id)
		WHERE commercial_partner_id IN (
			SELECT crp.id FROM res_partner crp
			WHERE crp.is_company AND COALESCE(crp.name, '') != '')`,
	); err != nil {
		return errors.Wrap(err, "could not compute commercial company names")
	}

	_, err := s.Exec(ctx, `
		UPDATE res_partner
		SET partner_share = NOT EXISTS (
			SELECT 1 FROM res_users u WHERE u.partner_id = res_partner.id AND u.active
		) OR EXISTS (
			SELECT 1 FROM res_users u WHERE u.partner_id = res_partner.id AND u.active AND u.share
		)`,
	)

	return errors.Wrap(err, "could not compute partner share")
}

// alignPartnerTypes replaces use_parent_address with the address type: a
// contact is synced with its parent, any other type is not
func alignPartnerTypes(ctx context.Context, s step.Session) error {
	ok, err := s.ColumnExists(ctx, "res_partner", "use_parent_address")
	if err != nil || !ok {
		return err
	}

	toContact, err := s.Exec(ctx, `
		UPDATE res_partner SET type = 'contact'
		WHERE type = 'other' AND use_parent_address AND parent_id IS NOT NULL`,
	)
	if err != nil {
		return err
	}

	toOther, err := s.Exec(ctx, `
		UPDATE res_partner SET type = 'other'
		WHERE type = 'contact' AND use_parent_address IS NOT TRUE AND parent_id IS NOT NULL`,
	)
	if err != nil {
		return err
	}

	s.Logger().Infof("partner types aligned: %d to contact, %d to other", toContact, toOther)
	return nil
}
