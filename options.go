package heron

import (
	"context"
	"database/sql"

	"github.com/benbjohnson/clock"
	"github.com/denismitr/heron/internal/database/sqlgateway"
	"github.com/denismitr/heron/step"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

type OptionFunc func(*Runner) error

// UseRegistry replaces the step registry of the runner
func UseRegistry(r *step.Registry) OptionFunc {
	return func(rn *Runner) error {
		if r == nil {
			return errors.New("step registry must not be nil")
		}
		rn.registry = r
		return nil
	}
}

// UseSteps registers additional steps with the runner registry
func UseSteps(steps ...*step.Step) OptionFunc {
	return func(rn *Runner) error {
		return rn.registry.Register(steps...)
	}
}

func UseClock(c clock.Clock) OptionFunc {
	return func(rn *Runner) error {
		rn.clock = c
		return nil
	}
}

// UseMetricsRegisterer registers the step metrics collectors with reg in
// addition to the runner's own registry
func UseMetricsRegisterer(reg prometheus.Registerer) OptionFunc {
	return func(rn *Runner) error {
		rn.registrar = reg
		return nil
	}
}

func connect(driver string, db *sql.DB, opts *sqlgateway.ConnectOptions) (*sqlx.Conn, error) {
	if db == nil {
		return nil, errors.Errorf("%s database handle must not be nil", driver)
	}

	connector := sqlgateway.MakeRetryingConnector(sqlx.NewDb(db, driver), opts)

	conn, err := connector.Connect(context.Background())
	if err != nil {
		return nil, errors.Wrapf(err, "could not connect to %s", driver)
	}

	return conn, nil
}
