// Package upgrades assembles the catalogue of upgrade steps into a registry.
package upgrades

import (
	"os"

	"github.com/denismitr/heron/internal/derived"
	"github.com/denismitr/heron/internal/refdata"
	"github.com/denismitr/heron/internal/schema"
	"github.com/denismitr/heron/step"
	"github.com/denismitr/heron/upgrades/base"
	"github.com/denismitr/heron/upgrades/deferred"
	"github.com/denismitr/heron/upgrades/salemrp"
	"github.com/denismitr/heron/upgrades/salestock"
	"github.com/denismitr/heron/upgrades/stock"
	"github.com/denismitr/heron/upgrades/stockaccount"
	"github.com/pkg/errors"
)

type (
	TaxTags struct {
		Enabled           bool    `yaml:"enabled"`
		ExcludedCompanies []int64 `yaml:"excluded_companies"`
		Lang              string  `yaml:"lang"`
	}

	Config struct {
		RenamedModules []schema.ModuleRename `yaml:"renamed_modules"`
		MergedModules  []schema.ModuleRename `yaml:"merged_modules"`
		// StateSeeds is the path of the country state seed file
		StateSeeds   string         `yaml:"state_seeds"`
		BinaryFields []schema.Field `yaml:"binary_fields"`
		TaxTags      TaxTags        `yaml:"tax_tags"`
		BatchSize    int            `yaml:"batch_size"`

		// DeliveredQty replaces the computation of delivered quantities
		// for sale order lines the bulk update skips
		DeliveredQty derived.Computer `yaml:"-"`
	}
)

// NewRegistry registers every upgrade step. Modules are registered in the
// order the host application upgrades them.
func NewRegistry(cfg Config) (*step.Registry, error) {
	var seeds []refdata.StateSeed
	if cfg.StateSeeds != "" {
		var err error
		if seeds, err = LoadStateSeeds(cfg.StateSeeds); err != nil {
			return nil, err
		}
	}

	var steps step.Steps
	steps = append(steps, base.Steps(base.Config{
		RenamedModules: cfg.RenamedModules,
		MergedModules:  cfg.MergedModules,
		StateSeeds:     seeds,
	})...)
	steps = append(steps, stockaccount.Steps()...)
	steps = append(steps, stock.Steps()...)
	steps = append(steps, salestock.Steps(salestock.Config{
		Computer:  cfg.DeliveredQty,
		BatchSize: cfg.BatchSize,
	})...)
	steps = append(steps, salemrp.Steps(salemrp.Config{BatchSize: cfg.BatchSize})...)
	steps = append(steps, deferred.Steps(deferred.Config{
		BinaryFields: cfg.BinaryFields,
		TaxTags: deferred.TaxTags{
			Enabled:           cfg.TaxTags.Enabled,
			ExcludedCompanies: cfg.TaxTags.ExcludedCompanies,
			Lang:              cfg.TaxTags.Lang,
		},
		BatchSize: cfg.BatchSize,
	})...)

	r := step.NewRegistry()
	if err := r.Register(steps...); err != nil {
		return nil, err
	}

	return r, nil
}

func LoadStateSeeds(path string) ([]refdata.StateSeed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "could not open state seed file")
	}

	defer func() {
		_ = f.Close()
	}()

	return refdata.ReadStateSeeds(f)
}
