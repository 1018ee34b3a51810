package heron

import (
	"strings"

	"github.com/denismitr/heron/step"
)

type ActionConfigurator func(a *action)

type action struct {
	phase   step.Phase
	modules []string
	force   bool
}

func newAction() *action {
	return &action{phase: step.Pre}
}

func WithPhase(phase step.Phase) ActionConfigurator {
	return func(a *action) {
		a.phase = phase
	}
}

// WithModules restricts the run to the modules, in the given order
func WithModules(modules ...string) ActionConfigurator {
	return func(a *action) {
		a.modules = modules
	}
}

// WithForce runs steps again even when they are recorded as completed
func WithForce() ActionConfigurator {
	return func(a *action) {
		a.force = true
	}
}

// CreateConfigurators turns command line values into configurators
func CreateConfigurators(phase string, modules string, force bool) ([]ActionConfigurator, error) {
	var configurators []ActionConfigurator

	if phase != "" {
		p, err := step.ParsePhase(phase)
		if err != nil {
			return nil, err
		}
		configurators = append(configurators, WithPhase(p))
	}

	var names []string
	for _, m := range strings.Split(modules, ",") {
		if m = strings.TrimSpace(m); m != "" {
			names = append(names, m)
		}
	}

	if len(names) > 0 {
		configurators = append(configurators, WithModules(names...))
	}

	if force {
		configurators = append(configurators, WithForce())
	}

	return configurators, nil
}
