package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/denismitr/heron/internal/logger"
	"github.com/denismitr/heron/step"
	"github.com/pkg/errors"
)

var ErrNoChangesRequired = errors.New("no changes to the database required")
var ErrStepIsMalformed = errors.New("migration step is malformed")

const (
	DefaultStepsTable          = "heron_steps"
	DefaultVersionsTable       = "heron_module_versions"
	DefaultVersionModuleColumn = "module"
	DefaultVersionColumn       = "version"
)

type CommonOptions struct {
	StepsTable          string
	VersionsTable       string
	VersionModuleColumn string
	VersionColumn       string
	// ExternalVersions marks the versions table as owned by the host
	// application, it is read but never created.
	ExternalVersions bool
	BatchSize        int
	// Isolation of step transactions, empty for the engine default
	Isolation string
}

func (o CommonOptions) WithDefaults() CommonOptions {
	if o.StepsTable == "" {
		o.StepsTable = DefaultStepsTable
	}

	if o.VersionsTable == "" {
		o.VersionsTable = DefaultVersionsTable
	}

	if o.VersionModuleColumn == "" {
		o.VersionModuleColumn = DefaultVersionModuleColumn
	}

	if o.VersionColumn == "" {
		o.VersionColumn = DefaultVersionColumn
	}

	return o
}

type (
	// Record marks a step as completed
	Record struct {
		Key         step.Key
		CompletedAt time.Time
		Duration    time.Duration
	}

	Records []Record

	// Versions maps module names to their recorded schema version
	Versions map[string]string

	Plan struct {
		Phase   step.Phase
		Modules []string
		Force   bool
	}

	Outcome string

	Report struct {
		Key      step.Key
		Name     string
		Outcome  Outcome
		Recorded string
		Duration time.Duration
	}

	Reports []Report
)

const (
	Executed            Outcome = "executed"
	SkippedCompleted    Outcome = "skipped: already completed"
	SkippedVersion      Outcome = "skipped: version mismatch"
	SkippedNotInstalled Outcome = "skipped: module version not recorded"
	Failed              Outcome = "failed"
)

// StepError is returned when a step function or its bookkeeping fails.
// The underlying error stays reachable through errors.Is and errors.Cause.
type StepError struct {
	Key step.Key
	Err error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s failed: %v", e.Key, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

func (e *StepError) Cause() error {
	return e.Err
}

func (r Records) Has(k step.Key) bool {
	for i := range r {
		if sameKey(r[i].Key, k) {
			return true
		}
	}
	return false
}

// Count returns the number of reports with the given outcome
func (r Reports) Count(o Outcome) int {
	n := 0
	for i := range r {
		if r[i].Outcome == o {
			n++
		}
	}
	return n
}

func (r Reports) Keys() (result []step.Key) {
	for i := range r {
		result = append(result, r[i].Key)
	}
	return result
}

// Schedule decides, for every candidate step, whether it runs. A step runs
// only when the recorded version of its module equals its source version
// and, unless forced, no completion record exists for it.
func Schedule(candidates step.Steps, versions Versions, completed Records, p Plan) (step.Steps, Reports) {
	var scheduled step.Steps
	var skipped Reports

	for _, s := range candidates {
		recorded, ok := versions[s.Key.Module]
		switch {
		case !ok || recorded == "":
			skipped = append(skipped, Report{Key: s.Key, Name: s.Name, Outcome: SkippedNotInstalled})
		case !step.SameVersion(recorded, s.Key.From):
			skipped = append(skipped, Report{Key: s.Key, Name: s.Name, Outcome: SkippedVersion, Recorded: recorded})
		case !p.Force && completed.Has(s.Key):
			skipped = append(skipped, Report{Key: s.Key, Name: s.Name, Outcome: SkippedCompleted, Recorded: recorded})
		default:
			scheduled = append(scheduled, s)
		}
	}

	return scheduled, skipped
}

// CtxExecutor is satisfied by *sql.Conn, *sqlx.Conn, *sqlx.DB and *sqlx.Tx
type CtxExecutor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Gateway executes scheduled steps and maintains the runner state tables
type Gateway interface {
	SetLogger(logger.Logger)
	SetClock(clock.Clock)
	Run(ctx context.Context, steps step.Steps, p Plan) (Reports, error)
	ReadState(ctx context.Context) (Versions, Records, error)
	WriteVersion(ctx context.Context, module, version string) error
	Reset(ctx context.Context) error
	Close() error
}

func sameKey(a, b step.Key) bool {
	return a.Module == b.Module &&
		a.Phase == b.Phase &&
		step.SameVersion(a.From, b.From) &&
		step.SameVersion(a.To, b.To)
}
