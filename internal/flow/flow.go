// Package flow provides composite tasks that run a declared list of other
// tasks in series, in parallel, as a race, as a waterfall or until the first
// success.
package flow

import (
	"context"
	"fmt"

	taskerrors "github.com/maxkimambo/taskrun/internal/errors"
	"github.com/maxkimambo/taskrun/internal/logger"
	"github.com/maxkimambo/taskrun/internal/task"
)

// Kind names a composition pattern
type Kind string

const (
	KindSeries    Kind = "series"
	KindParallel  Kind = "parallel"
	KindRace      Kind = "race"
	KindWaterfall Kind = "waterfall"
	KindTry       Kind = "try"
)

// Kinds lists every composition pattern in registration order
var Kinds = []Kind{KindSeries, KindParallel, KindRace, KindWaterfall, KindTry}

// Cancelable reports whether flows of this kind forward cancellation to their steps
func (k Kind) Cancelable() bool {
	return k == KindSeries || k == KindParallel
}

type itemKind int

const (
	itemNamed itemKind = iota
	itemInline
	itemDefinition
)

// Item is one step of a flow: a registered task name, an inline function or
// a task definition run once, each with optional arguments.
type Item struct {
	kind itemKind
	name string
	fn   task.TaskFunc
	def  any
	args task.Args
}

// Named refers to a task registered on the manager
func Named(name string) Item {
	return Item{kind: itemNamed, name: name}
}

// Inline runs fn as a one-off task
func Inline(fn task.TaskFunc) Item {
	return Item{kind: itemInline, fn: fn}
}

// Define runs a registration candidate, or task.Options, as a one-off task
func Define(def any) Item {
	return Item{kind: itemDefinition, def: def}
}

// WithArgs sets the step's own arguments. The flow's shared argument wins on
// conflicting keys.
func (i Item) WithArgs(args task.Args) Item {
	i.args = args
	return i
}

func (i Item) String() string {
	switch i.kind {
	case itemInline:
		return "inline function"
	case itemDefinition:
		return fmt.Sprintf("definition %T", i.def)
	default:
		return i.name
	}
}

// Spec is the argument of a flow run
type Spec struct {
	Tasks []Item
	Arg   task.Args
}

// step is a validated item with its merged arguments
type step struct {
	item Item
	args []any
}

// base holds what every flow kind shares
type base struct {
	task.Base
	kind   Kind
	preset *Spec
}

// Layout returns the flow's kind and its preset spec, nil for flows that take
// a spec per run.
func (b *base) Layout() (Kind, *Spec) {
	return b.kind, b.preset
}

// spec returns the flow's spec. A preset flow takes an optional task.Args
// that is merged over the preset's shared argument; any other flow takes a
// single Spec.
func (b *base) spec(args []any) (*Spec, error) {
	if len(args) > 1 {
		return nil, taskerrors.NewInvalidArgumentError("a flow takes a single argument", "flow").
			WithContext("count", len(args))
	}
	var arg any
	if len(args) == 1 {
		arg = args[0]
	}

	if b.preset != nil {
		spec := *b.preset
		switch a := arg.(type) {
		case nil:
		case task.Args:
			spec.Arg = mergeArgs(spec.Arg, a)
		default:
			return nil, taskerrors.NewInvalidArgumentError(fmt.Sprintf("unexpected %T for a preset flow", arg), "flow")
		}
		return &spec, nil
	}

	switch a := arg.(type) {
	case nil:
		return &Spec{}, nil
	case Spec:
		return &a, nil
	case *Spec:
		if a == nil {
			return &Spec{}, nil
		}
		return a, nil
	default:
		return nil, taskerrors.NewInvalidArgumentError(fmt.Sprintf("expected a flow spec, got %T", arg), "flow")
	}
}

// prepare validates the run's spec against the bound manager
func (b *base) prepare(args []any) (*task.Manager, []step, error) {
	m, err := b.Manager()
	if err != nil {
		return nil, nil, err
	}
	spec, err := b.spec(args)
	if err != nil {
		return nil, nil, err
	}

	steps := make([]step, 0, len(spec.Tasks))
	for i, item := range spec.Tasks {
		if item.kind == itemNamed && !m.HasTask(item.name) {
			return nil, nil, taskerrors.NewUnknownTaskError(item.name, "flow").WithContext("step", i)
		}
		if err := validateItem(item); err != nil {
			return nil, nil, taskerrors.NewInvalidArgumentError(err.Error(), "flow").WithContext("step", i)
		}

		merged := mergeArgs(item.args, spec.Arg)
		st := step{item: item}
		if merged != nil {
			st.args = []any{merged}
		}
		steps = append(steps, st)
	}
	return m, steps, nil
}

// start launches a step: registered names through the manager, everything
// else as a one-off run.
func (b *base) start(ctx context.Context, m *task.Manager, st step, args []any) (*task.Observer, error) {
	logger.Op.WithTask(b.TaskName(), "").WithField("step", st.item.String()).Debug("Starting flow step")

	switch st.item.kind {
	case itemInline:
		return m.RunOnce(ctx, st.item.fn, args...)
	case itemDefinition:
		return m.RunOnce(ctx, st.item.def, args...)
	default:
		return m.Run(ctx, st.item.name, args...)
	}
}

// mergeArgs copies own and lays shared over it. A shared key replaces the
// item's value as a whole; nested maps are neither merged nor written to.
func mergeArgs(own, shared task.Args) task.Args {
	if own == nil && shared == nil {
		return nil
	}
	merged := make(task.Args, len(own)+len(shared))
	for k, v := range own {
		merged[k] = v
	}
	for k, v := range shared {
		merged[k] = v
	}
	return merged
}

// New returns an empty flow of the given kind
func New(kind Kind) (task.Task, error) {
	return newFlow(kind, nil)
}

func newFlow(kind Kind, preset *Spec) (task.Task, error) {
	b := base{kind: kind, preset: preset}
	switch kind {
	case KindSeries:
		return &Series{base: b}, nil
	case KindParallel:
		return &Parallel{base: b}, nil
	case KindRace:
		return &Race{base: b}, nil
	case KindWaterfall:
		return &Waterfall{base: b}, nil
	case KindTry:
		return &Try{base: b}, nil
	default:
		return nil, taskerrors.NewInvalidTaskError(fmt.Sprintf("unknown flow kind %q", kind))
	}
}

// Factory returns a constructor for flows of the given kind
func Factory(kind Kind) (task.Factory, error) {
	return Preset(kind, nil)
}

// Preset returns a constructor for flows bound to spec. Runs of a preset flow
// take an optional task.Args merged over spec.Arg. A nil spec yields plain
// flows that take a Spec per run.
func Preset(kind Kind, spec *Spec) (task.Factory, error) {
	if _, err := newFlow(kind, spec); err != nil {
		return nil, err
	}
	return func() task.Task {
		t, _ := newFlow(kind, spec)
		return t
	}, nil
}

// Register adds one flow task per kind to m, named after the kind
func Register(m *task.Manager) error {
	for _, kind := range Kinds {
		factory, err := Factory(kind)
		if err != nil {
			return err
		}
		if _, err := m.AddTask(task.Options{
			Name:        string(kind),
			Description: fmt.Sprintf("Runs the given tasks as a %s flow", kind),
			Cancelable:  task.Bool(kind.Cancelable()),
			Task:        factory,
		}); err != nil {
			return err
		}
	}
	return nil
}

// Run runs spec as a one-off flow of the given kind
func Run(ctx context.Context, m *task.Manager, kind Kind, spec Spec) (*task.Observer, error) {
	factory, err := Factory(kind)
	if err != nil {
		return nil, err
	}
	return m.RunOnce(ctx, task.Options{
		Task:       factory,
		Cancelable: task.Bool(kind.Cancelable()),
	}, spec)
}

// RunSeries runs items one after another and waits for the ordered results
func RunSeries(ctx context.Context, m *task.Manager, items []Item, arg task.Args) (any, error) {
	return runAndWait(ctx, m, KindSeries, Spec{Tasks: items, Arg: arg})
}

// RunParallel runs items concurrently and waits for the results in completion order
func RunParallel(ctx context.Context, m *task.Manager, items []Item, arg task.Args) (any, error) {
	return runAndWait(ctx, m, KindParallel, Spec{Tasks: items, Arg: arg})
}

func runAndWait(ctx context.Context, m *task.Manager, kind Kind, spec Spec) (any, error) {
	o, err := Run(ctx, m, kind, spec)
	if err != nil {
		return nil, err
	}
	return o.Result(ctx)
}
