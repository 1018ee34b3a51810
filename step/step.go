package step

import (
	"bytes"
	"context"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrInvalidPhase   = errors.New("invalid migration phase")
	ErrInvalidModule  = errors.New("module name must not be empty")
	ErrMissingFunc    = errors.New("migration step has no unit of work")
	ErrDuplicateStep  = errors.New("migration step is already registered")
	ErrInvalidVersion = errors.New("invalid migration version")
)

type (
	Phase string

	Mode int

	// Key identifies a step: one phase of one version transition of one module.
	Key struct {
		Module string
		From   string
		To     string
		Phase  Phase
	}

	// Func is the unit of work of a step. It must be idempotent.
	Func func(ctx context.Context, s Session) error

	Step struct {
		Key  Key
		Name string
		Mode Mode
		Func Func
	}

	Steps []*Step

	OptionFunc func(*Step)
)

const (
	Pre  Phase = "pre"
	Post Phase = "post"
	End  Phase = "end"
)

const (
	// TxPerStep runs the whole unit of work in one transaction
	TxPerStep Mode = iota
	// TxPerBatch commits every chunk of Session.Chunked on its own
	TxPerBatch
)

var phaseOrder = map[Phase]int{Pre: 0, Post: 1, End: 2}

func ParsePhase(s string) (Phase, error) {
	p := Phase(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := phaseOrder[p]; !ok {
		return "", errors.Wrapf(ErrInvalidPhase, "[%s]", s)
	}

	return p, nil
}

func (p Phase) Valid() bool {
	_, ok := phaseOrder[p]
	return ok
}

// Before reports whether p runs before other within one upgrade
func (p Phase) Before(other Phase) bool {
	return phaseOrder[p] < phaseOrder[other]
}

func (k Key) String() string {
	var b bytes.Buffer
	b.WriteString(k.Module)
	b.WriteString("@")
	b.WriteString(k.From)
	b.WriteString("->")
	b.WriteString(k.To)
	b.WriteString(":")
	b.WriteString(string(k.Phase))
	return b.String()
}

// New creates an immutable step after validating its identity
func New(module, from, to string, phase Phase, fn Func, opts ...OptionFunc) (*Step, error) {
	if strings.TrimSpace(module) == "" {
		return nil, ErrInvalidModule
	}

	if !phase.Valid() {
		return nil, errors.Wrapf(ErrInvalidPhase, "[%s] for module %s", phase, module)
	}

	if fn == nil {
		return nil, errors.Wrapf(ErrMissingFunc, "module %s, phase %s", module, phase)
	}

	fromV, err := ParseVersion(from)
	if err != nil {
		return nil, err
	}

	toV, err := ParseVersion(to)
	if err != nil {
		return nil, err
	}

	if !fromV.LessThan(toV) {
		return nil, errors.Wrapf(ErrInvalidVersion, "source version %s must precede target version %s", from, to)
	}

	s := &Step{
		Key:  Key{Module: module, From: from, To: to, Phase: phase},
		Name: module + "_" + strings.ReplaceAll(to, ".", "_") + "_" + string(phase),
		Func: fn,
	}

	for _, o := range opts {
		o(s)
	}

	return s, nil
}

// MustNew is New for package level step definitions
func MustNew(module, from, to string, phase Phase, fn Func, opts ...OptionFunc) *Step {
	s, err := New(module, from, to, phase, fn, opts...)
	if err != nil {
		panic(err)
	}

	return s
}

func WithName(name string) OptionFunc {
	return func(s *Step) {
		s.Name = name
	}
}

func WithBatchCommits() OptionFunc {
	return func(s *Step) {
		s.Mode = TxPerBatch
	}
}

func (s Steps) Keys() (result []Key) {
	for i := range s {
		result = append(result, s[i].Key)
	}
	return result
}
