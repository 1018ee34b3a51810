// Package cli wires the runner from a configuration file for the heron command.
package cli

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/denismitr/heron"
	"github.com/denismitr/heron/internal/source"
	"github.com/denismitr/heron/step"
	"github.com/pkg/errors"
)

var ErrConfigAlreadyExists = errors.New("configuration file already exists")

type (
	ActionConfig struct {
		Phase   string
		Modules string
		Force   bool
	}

	App struct {
		runner *heron.Runner
		cfg    Config
	}
)

func NewFromYaml(path string) (*App, heron.CloserFunc, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, nil, err
	}

	return New(cfg)
}

func New(cfg Config) (*App, heron.CloserFunc, error) {
	r, closer, err := createRunner(cfg)
	if err != nil {
		return nil, nil, err
	}

	return &App{runner: r, cfg: cfg}, closer, nil
}

// Run runs one phase and writes the metrics textfile when one is configured.
// A run with nothing to do is not an error.
func (app *App) Run(ctx context.Context, cfg ActionConfig) (heron.Reports, error) {
	configurators, err := heron.CreateConfigurators(cfg.Phase, cfg.Modules, cfg.Force)
	if err != nil {
		return nil, err
	}

	reports, runErr := app.runner.Run(ctx, configurators...)
	if errors.Is(runErr, heron.ErrNoChangesRequired) {
		runErr = nil
	}

	if app.cfg.Metrics.Textfile != "" {
		if err := app.runner.WriteMetrics(app.cfg.Metrics.Textfile); err != nil && runErr == nil {
			runErr = err
		}
	}

	return reports, runErr
}

func (app *App) Status(ctx context.Context) (*heron.Status, error) {
	return app.runner.Status(ctx)
}

// Reset drops the completion records, see heron.Runner.Reset
func (app *App) Reset(ctx context.Context) error {
	return app.runner.Reset(ctx)
}

func (app *App) SetVersion(ctx context.Context, module, version string) error {
	return app.runner.SetVersion(ctx, module, version)
}

// Steps lists the steps of a phase, pre when phase is empty
func (app *App) Steps(phase string, modules string) (step.Steps, error) {
	p := step.Pre
	if phase != "" {
		var err error
		if p, err = step.ParsePhase(phase); err != nil {
			return nil, err
		}
	}

	var names []string
	for _, m := range strings.Split(modules, ",") {
		if m = strings.TrimSpace(m); m != "" {
			names = append(names, m)
		}
	}

	return app.runner.Steps(p, names...), nil
}

// CreateStepFile writes an empty sql step file to the steps folder
func (app *App) CreateStepFile(k step.Key, name string) (string, error) {
	if app.cfg.StepsFolder == "" {
		return "", errors.Wrap(source.ErrFolderIsNotValid, "steps folder was not defined")
	}

	if _, err := step.New(k.Module, k.From, k.To, k.Phase, func(context.Context, step.Session) error { return nil }); err != nil {
		return "", err
	}

	return source.NewLocalFSSource(app.cfg.StepsFolder, nil).Create(k, name)
}

// InitCfg writes a configuration file stub to path
func InitCfg(path string) error {
	if FileExists(path) {
		return errors.Wrapf(ErrConfigAlreadyExists, "[%s]", path)
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "could not create config file")
	}

	defer func() {
		_ = f.Close()
	}()

	if _, err := io.Copy(f, strings.NewReader(configFileStub)); err != nil {
		return errors.Wrap(err, "could not write config file")
	}

	return nil
}

func FileExists(path string) bool {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}

// SetMetricsTextfile overrides the metrics textfile of the configuration
func (app *App) SetMetricsTextfile(path string) {
	app.cfg.Metrics.Textfile = path
}
