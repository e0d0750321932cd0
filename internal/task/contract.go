package task

import (
	"context"
	"reflect"
	"sync"
	"time"

	taskerrors "github.com/maxkimambo/taskrun/internal/errors"
)

type variant int

const (
	variantRaw variant = iota
	variantIsomorphic
	variantAdvanced
)

func (v variant) String() string {
	switch v {
	case variantIsomorphic:
		return "isomorphic"
	case variantAdvanced:
		return "advanced"
	default:
		return "raw"
	}
}

// Task is implemented by every runnable unit. Types satisfy it by embedding
// Base, IsomorphicBase or AdvancedBase.
type Task interface {
	Result() any
	SetResult(v any)

	core() *Base
	variant() variant
}

// RawTask is the body of a task taking free-form arguments
type RawTask interface {
	Task
	Main(ctx context.Context, args ...any) error
}

// IsomorphicTask is the body of a task taking a single structured argument
type IsomorphicTask interface {
	Task
	Main(ctx context.Context, arg any) error
}

// AdvancedTask runs Initialize, Main and Uninitialize in order and routes any
// failure through HandleError.
type AdvancedTask interface {
	IsomorphicTask
	Initialize(ctx context.Context, arg any) error
	Uninitialize(ctx context.Context, arg any) error
	HandleError(ctx context.Context, err error, arg any) error
}

// Suspender is called with a signal the task resolves once it has paused
type Suspender interface {
	Suspend(sig *Signal)
}

// Resumer is called with a signal the task resolves once it has continued
type Resumer interface {
	Resume(sig *Signal)
}

// Canceler is called with a signal the task resolves once cancellation has
// taken effect. The engine never interrupts a body on its own.
type Canceler interface {
	Cancel(sig *Signal)
}

// Undoer is called after a run fails and before the failure is surfaced
type Undoer interface {
	Undo(ctx context.Context, err error) error
}

// Metadata is the declarative registration record a task type may carry.
// Explicit Options always take precedence over it.
type Metadata struct {
	Name        string
	Description string
	Suspendable *bool
	Cancelable  *bool
	Singleton   *bool
	Concurrency int
	Interval    time.Duration
}

// MetadataProvider is implemented by task types that declare their own metadata
type MetadataProvider interface {
	TaskMetadata() Metadata
}

// Args is the structured argument shape shared by flows, manifests and built-in tasks
type Args = map[string]any

// Base carries the result slot and the manager and observer back-references
// of a task instance. Its hooks acknowledge every request immediately.
type Base struct {
	mu       sync.RWMutex
	result   any
	name     string
	self     Task
	manager  *Manager
	observer *Observer
}

func (b *Base) core() *Base { return b }

func (b *Base) variant() variant { return variantRaw }

// Result returns the value last stored with SetResult
func (b *Base) Result() any {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.result
}

// SetResult stores the value the run resolves with
func (b *Base) SetResult(v any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.result = v
}

// TaskName returns the name the instance was registered under
func (b *Base) TaskName() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.name
}

// Manager returns the manager the instance is bound to
func (b *Base) Manager() (*Manager, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.manager == nil {
		return nil, taskerrors.ErrUndefinedManager
	}
	return b.manager, nil
}

// Observer returns the observer of the run currently using the instance
func (b *Base) Observer() (*Observer, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.observer == nil {
		return nil, taskerrors.ErrUndefinedObserver
	}
	return b.observer, nil
}

// Notify publishes an event to the subscribers of the bound manager
func (b *Base) Notify(event string, payload ...any) error {
	m, err := b.Manager()
	if err != nil {
		return err
	}
	b.mu.RLock()
	sender := b.self
	b.mu.RUnlock()
	m.Notify(sender, event, payload...)
	return nil
}

// Main is the default body. Tasks override it.
func (b *Base) Main(ctx context.Context, args ...any) error {
	return taskerrors.ErrNotImplemented
}

func (b *Base) Suspend(sig *Signal) { sig.Resolve() }

func (b *Base) Resume(sig *Signal) { sig.Resolve() }

func (b *Base) Cancel(sig *Signal) { sig.Resolve() }

func (b *Base) Undo(ctx context.Context, err error) error { return nil }

func (b *Base) bind(m *Manager, name string, self Task) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.manager = m
	b.name = name
	b.self = self
}

func (b *Base) attach(o *Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observer = o
}

// IsomorphicBase is embedded by tasks whose Main takes at most one argument:
// nil, a map, a struct or a pointer to a struct.
type IsomorphicBase struct {
	Base
}

func (b *IsomorphicBase) variant() variant { return variantIsomorphic }

// Main is the default body. Tasks override it.
func (b *IsomorphicBase) Main(ctx context.Context, arg any) error {
	return taskerrors.ErrNotImplemented
}

// AdvancedBase adds Initialize and Uninitialize phases around Main and a
// single error hook.
type AdvancedBase struct {
	IsomorphicBase
}

func (b *AdvancedBase) variant() variant { return variantAdvanced }

func (b *AdvancedBase) Initialize(ctx context.Context, arg any) error { return nil }

func (b *AdvancedBase) Uninitialize(ctx context.Context, arg any) error { return nil }

// HandleError receives any failure of the three phases. The default re-raises it.
func (b *AdvancedBase) HandleError(ctx context.Context, err error, arg any) error {
	return err
}

// RunAnotherTask runs a registered task on the bound manager and waits for its result
func (b *AdvancedBase) RunAnotherTask(ctx context.Context, name string, args ...any) (any, error) {
	m, err := b.Manager()
	if err != nil {
		return nil, err
	}
	return m.RunAndWait(ctx, name, args...)
}

// Arg returns the single structured argument of an isomorphic call as Args.
// Anything other than a map of strings yields an empty map.
func Arg(arg any) Args {
	if a, ok := arg.(Args); ok && a != nil {
		return a
	}
	return Args{}
}

// Bool returns a pointer to v, for the tri-state fields of Options and Metadata
func Bool(v bool) *bool {
	return &v
}

func isomorphicArg(name string, args []any) (any, error) {
	if len(args) > 1 {
		return nil, taskerrors.NewInvalidArgumentError("expected at most one argument", "run").
			WithContext("task", name).
			WithContext("count", len(args))
	}
	if len(args) == 0 || args[0] == nil {
		return nil, nil
	}

	arg := args[0]
	v := reflect.ValueOf(arg)
	switch v.Kind() {
	case reflect.Map, reflect.Struct:
		return arg, nil
	case reflect.Ptr:
		if v.Type().Elem().Kind() == reflect.Struct {
			return arg, nil
		}
	}
	return nil, taskerrors.NewInvalidArgumentError("argument must be a map or a struct", "run").
		WithContext("task", name).
		WithContext("type", v.Type().String())
}

func satisfiesVariant(t Task) bool {
	switch t.variant() {
	case variantAdvanced:
		_, ok := t.(AdvancedTask)
		return ok
	case variantIsomorphic:
		_, ok := t.(IsomorphicTask)
		return ok
	default:
		_, ok := t.(RawTask)
		return ok
	}
}

func invoke(ctx context.Context, t Task, name string, args []any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = taskerrors.NewPanicError(name, r)
		}
	}()

	switch t.variant() {
	case variantAdvanced:
		at := t.(AdvancedTask)
		arg, err := isomorphicArg(name, args)
		if err != nil {
			return err
		}
		return runAdvanced(ctx, at, arg)
	case variantIsomorphic:
		arg, err := isomorphicArg(name, args)
		if err != nil {
			return err
		}
		return t.(IsomorphicTask).Main(ctx, arg)
	default:
		return t.(RawTask).Main(ctx, args...)
	}
}

func runAdvanced(ctx context.Context, t AdvancedTask, arg any) error {
	err := t.Initialize(ctx, arg)
	if err == nil {
		err = t.Main(ctx, arg)
	}
	if err == nil {
		err = t.Uninitialize(ctx, arg)
	}
	if err != nil {
		return t.HandleError(ctx, err, arg)
	}
	return nil
}
