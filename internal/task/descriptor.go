package task

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	taskerrors "github.com/maxkimambo/taskrun/internal/errors"
)

// LoadPolicy decides what AddTask does when the name is already registered
type LoadPolicy string

const (
	LoadPolicyThrow   LoadPolicy = "throw"
	LoadPolicyIgnore  LoadPolicy = "ignore"
	LoadPolicyReplace LoadPolicy = "replace"
)

// Factory constructs a fresh task instance
type Factory func() Task

// TaskFunc is a plain function registered as a task. Its return value becomes
// the run result.
type TaskFunc func(ctx context.Context, args ...any) (any, error)

// Options describe a task registration. Task is the candidate: a Factory, a
// TaskFunc, or a pointer to a struct embedding one of the bases, used as a
// prototype for fresh instances.
type Options struct {
	Name        string
	Description string
	Suspendable *bool
	Cancelable  *bool
	Singleton   *bool
	Concurrency int
	Interval    time.Duration
	Task        any
	LoadPolicy  LoadPolicy
}

// Descriptor is a registered task definition together with its run policy.
// The exported fields are fixed at registration.
type Descriptor struct {
	Name        string
	Description string
	Suspendable bool
	Cancelable  bool
	Singleton   bool
	Concurrency int
	Interval    time.Duration
	Variant     string

	factory  Factory
	throttle *Throttle

	mu       sync.Mutex
	active   map[*Observer]struct{}
	instance Task
	zombie   bool
}

// Factory returns the constructor of the task's instances
func (d *Descriptor) Factory() Factory {
	return d.factory
}

// ActiveRuns returns the number of in-flight non-singleton runs
func (d *Descriptor) ActiveRuns() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.active)
}

// Zombie reports whether the descriptor was deleted while runs were still active
func (d *Descriptor) Zombie() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.zombie
}

func (d *Descriptor) track(o *Observer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.active[o] = struct{}{}
}

// release drops a finished run and reports whether the descriptor is now a
// zombie with nothing left running.
func (d *Descriptor) release(o *Observer) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.active, o)
	return d.zombie && len(d.active) == 0
}

// singleton returns the cached instance, creating it on first use
func (d *Descriptor) singleton(create func() Task) Task {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.instance == nil {
		d.instance = create()
	}
	return d.instance
}

type funcTask struct {
	Base
	fn TaskFunc
}

func (f *funcTask) Main(ctx context.Context, args ...any) error {
	v, err := f.fn(ctx, args...)
	if err != nil {
		return err
	}
	f.SetResult(v)
	return nil
}

// candidate is a registration candidate resolved to a constructor
type candidate struct {
	factory  Factory
	typeName string
	probe    Task
}

func resolveCandidate(c any) (*candidate, error) {
	switch v := c.(type) {
	case nil:
		return nil, taskerrors.NewInvalidTaskError("no task given")
	case Factory:
		return factoryCandidate(v)
	case func() Task:
		return factoryCandidate(Factory(v))
	case TaskFunc:
		return funcCandidate(v), nil
	case func(context.Context, ...any) (any, error):
		return funcCandidate(TaskFunc(v)), nil
	case Task:
		t := reflect.TypeOf(v)
		if t.Kind() != reflect.Ptr || t.Elem().Kind() != reflect.Struct {
			return nil, taskerrors.NewInvalidTaskError(fmt.Sprintf("%T is not a pointer to a struct", v))
		}
		elem := t.Elem()
		factory := func() Task {
			return reflect.New(elem).Interface().(Task)
		}
		return factoryCandidate(factory)
	default:
		return nil, taskerrors.NewInvalidTaskError(fmt.Sprintf("%T does not implement the task contract", c))
	}
}

func factoryCandidate(f Factory) (*candidate, error) {
	if f == nil {
		return nil, taskerrors.NewInvalidTaskError("nil factory")
	}
	probe := f()
	if probe == nil {
		return nil, taskerrors.NewInvalidTaskError("factory returned nil")
	}
	if !satisfiesVariant(probe) {
		return nil, taskerrors.NewInvalidTaskError(
			fmt.Sprintf("%T does not have a Main method matching its %s base", probe, probe.variant()))
	}

	typeName := ""
	if t := reflect.TypeOf(probe); t.Kind() == reflect.Ptr {
		typeName = t.Elem().Name()
	}
	return &candidate{factory: f, typeName: typeName, probe: probe}, nil
}

func funcCandidate(fn TaskFunc) *candidate {
	f := func() Task {
		return &funcTask{fn: fn}
	}
	return &candidate{factory: f, probe: f()}
}

func (c *candidate) metadata() Metadata {
	if mp, ok := c.probe.(MetadataProvider); ok {
		return mp.TaskMetadata()
	}
	return Metadata{}
}

// buildDescriptor merges explicit options over declarative metadata over defaults
func buildDescriptor(opts Options, c *candidate, defaultInterval time.Duration) (*Descriptor, error) {
	meta := c.metadata()

	name := firstNonEmpty(opts.Name, meta.Name, c.typeName)
	if name == "" {
		return nil, taskerrors.NewInvalidTaskError("task name could not be resolved")
	}

	d := &Descriptor{
		Name:        name,
		Description: firstNonEmpty(opts.Description, meta.Description),
		Suspendable: flag(opts.Suspendable, meta.Suspendable),
		Cancelable:  flag(opts.Cancelable, meta.Cancelable),
		Singleton:   flag(opts.Singleton, meta.Singleton),
		Concurrency: opts.Concurrency,
		Interval:    opts.Interval,
		Variant:     c.probe.variant().String(),
		factory:     c.factory,
		active:      make(map[*Observer]struct{}),
	}
	if d.Concurrency <= 0 {
		d.Concurrency = meta.Concurrency
	}
	if d.Interval <= 0 {
		d.Interval = meta.Interval
	}
	if d.Interval <= 0 {
		d.Interval = defaultInterval
	}

	if d.Singleton && d.Suspendable {
		return nil, taskerrors.NewSingletonConstraintError(name, "suspendable")
	}
	if d.Singleton && d.Cancelable {
		return nil, taskerrors.NewSingletonConstraintError(name, "cancelable")
	}

	if d.Concurrency > 0 {
		d.throttle = NewThrottle(d.Concurrency, d.Interval)
	}
	return d, nil
}

func flag(explicit, declared *bool) bool {
	if explicit != nil {
		return *explicit
	}
	if declared != nil {
		return *declared
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
