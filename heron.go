// Package heron runs versioned, idempotent data migration steps against the
// database of an application being upgraded.
package heron

import (
	"context"

	"github.com/benbjohnson/clock"
	"github.com/denismitr/heron/internal/database"
	"github.com/denismitr/heron/internal/logger"
	"github.com/denismitr/heron/internal/metrics"
	"github.com/denismitr/heron/step"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ErrGatewayNotInitialized = errors.New("database gateway has not been initialized")
	ErrNoChangesRequired     = database.ErrNoChangesRequired
)

type (
	CloserFunc func() error

	Report    = database.Report
	Reports   = database.Reports
	Record    = database.Record
	Records   = database.Records
	Versions  = database.Versions
	Outcome   = database.Outcome
	StepError = database.StepError

	// Status is what the state tables know about the upgrade
	Status struct {
		Versions Versions
		Records  Records
	}
)

const (
	Executed            = database.Executed
	SkippedCompleted    = database.SkippedCompleted
	SkippedVersion      = database.SkippedVersion
	SkippedNotInstalled = database.SkippedNotInstalled
	Failed              = database.Failed
)

type Runner struct {
	lg        logger.Logger
	gateway   database.Gateway
	registry  *step.Registry
	clock     clock.Clock
	metrics   *metrics.StepMetrics
	registrar prometheus.Registerer
}

// NewRunner creates a runner configured by the option callbacks. A database
// option is mandatory, everything else has a default.
func NewRunner(opts ...OptionFunc) (*Runner, CloserFunc, error) {
	r := &Runner{
		lg:       logger.NullLogger{},
		registry: step.NewRegistry(),
		clock:    clock.New(),
		metrics:  metrics.NewStepMetrics(),
	}

	for _, oFunc := range opts {
		if err := oFunc(r); err != nil {
			if r.gateway != nil {
				_ = r.gateway.Close()
			}

			return nil, nil, err
		}
	}

	if r.gateway == nil {
		return nil, nil, ErrGatewayNotInitialized
	}

	if r.registrar != nil {
		for _, c := range r.metrics.PrometheusCollectors() {
			if err := r.registrar.Register(c); err != nil {
				_ = r.gateway.Close()
				return nil, nil, errors.Wrap(err, "could not register step metrics")
			}
		}
	}

	r.gateway.SetLogger(r.lg)
	r.gateway.SetClock(r.clock)

	return r, r.close, nil
}

// Run executes the registered steps of a phase, pre unless configured
// otherwise. Reports cover skipped steps too. When nothing had to run the
// error is ErrNoChangesRequired.
func (r *Runner) Run(ctx context.Context, cfs ...ActionConfigurator) (Reports, error) {
	act := newAction()
	for _, f := range cfs {
		f(act)
	}

	steps := r.registry.Select(act.phase, act.modules...)
	r.lg.Infof("%d steps registered for the %s phase", len(steps), act.phase)

	reports, err := r.gateway.Run(ctx, steps, database.Plan{
		Phase:   act.phase,
		Modules: act.modules,
		Force:   act.force,
	})

	r.metrics.Observe(reports)

	if err != nil {
		if !errors.Is(err, database.ErrNoChangesRequired) {
			r.lg.Error(err)
		}

		return reports, err
	}

	r.lg.Successf("%d steps of the %s phase executed", reports.Count(database.Executed), act.phase)

	return reports, nil
}

// Status reads the recorded module versions and completion records. It
// writes nothing, a database the runner never touched has an empty status.
func (r *Runner) Status(ctx context.Context) (*Status, error) {
	versions, records, err := r.gateway.ReadState(ctx)
	if err != nil {
		return nil, err
	}

	return &Status{Versions: versions, Records: records}, nil
}

// Reset forgets every completed step by dropping the state tables of the
// runner. Steps run again on the next Run when their module versions match.
func (r *Runner) Reset(ctx context.Context) error {
	if err := r.gateway.Reset(ctx); err != nil {
		r.lg.Error(err)
		return err
	}

	r.lg.Successf("completion records dropped")
	return nil
}

// SetVersion records the schema version a module was brought to
func (r *Runner) SetVersion(ctx context.Context, module, version string) error {
	if err := r.gateway.WriteVersion(ctx, module, version); err != nil {
		r.lg.Error(err)
		return err
	}

	r.lg.Successf("module %s is now at version %s", module, version)
	return nil
}

// Steps lists the registered steps of a phase in execution order
func (r *Runner) Steps(phase step.Phase, modules ...string) step.Steps {
	return r.registry.Select(phase, modules...)
}

// WriteMetrics writes the step metrics of every run so far to a file in the
// Prometheus text format
func (r *Runner) WriteMetrics(path string) error {
	return r.metrics.WriteTextfile(path)
}

func (r *Runner) close() error {
	if r.gateway == nil {
		return ErrGatewayNotInitialized
	}

	if err := r.gateway.Close(); err != nil {
		r.lg.Error(err)
		return err
	}

	return nil
}
