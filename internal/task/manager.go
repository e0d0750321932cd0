package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	taskerrors "github.com/maxkimambo/taskrun/internal/errors"
	"github.com/maxkimambo/taskrun/internal/logger"
)

// ManagerConfig holds the manager-wide defaults
type ManagerConfig struct {
	// DefaultLoadPolicy applies to registrations that do not set their own
	DefaultLoadPolicy LoadPolicy
	// DefaultInterval is the throttle window for tasks with a concurrency
	// limit but no interval
	DefaultInterval time.Duration
	// Metrics is optional
	Metrics *Metrics
}

// DefaultManagerConfig returns the default manager configuration
func DefaultManagerConfig() *ManagerConfig {
	return &ManagerConfig{
		DefaultLoadPolicy: LoadPolicyThrow,
		DefaultInterval:   time.Second,
	}
}

// Loader yields the task registrations found at a location
type Loader interface {
	Load(ctx context.Context, location string) ([]Options, error)
}

// Manager is the task registry and run dispatcher
type Manager struct {
	config *ManagerConfig

	mu    sync.RWMutex
	tasks map[string]*Descriptor
	order []string

	bus *bus
}

// NewManager creates a manager. A nil config uses DefaultManagerConfig.
func NewManager(config *ManagerConfig) *Manager {
	if config == nil {
		config = DefaultManagerConfig()
	}
	if config.DefaultLoadPolicy == "" {
		config.DefaultLoadPolicy = LoadPolicyThrow
	}
	if config.DefaultInterval <= 0 {
		config.DefaultInterval = time.Second
	}
	return &Manager{
		config: config,
		tasks:  make(map[string]*Descriptor),
		bus:    newBus(),
	}
}

// AddTask registers a task. It returns false without error when the name is
// taken and the load policy is ignore.
func (m *Manager) AddTask(opts Options) (bool, error) {
	c, err := resolveCandidate(opts.Task)
	if err != nil {
		return false, err
	}
	return m.add(opts, c)
}

// AddTasks registers each task in order and stops at the first failure
func (m *Manager) AddTasks(opts ...Options) error {
	for _, o := range opts {
		if _, err := m.AddTask(o); err != nil {
			return err
		}
	}
	return nil
}

// LoadTasks registers every task the loader finds at the given locations
func (m *Manager) LoadTasks(ctx context.Context, loader Loader, locations ...string) error {
	for _, location := range locations {
		opts, err := loader.Load(ctx, location)
		if err != nil {
			return fmt.Errorf("failed to load tasks from %s: %w", location, err)
		}
		if err := m.AddTasks(opts...); err != nil {
			return fmt.Errorf("failed to register tasks from %s: %w", location, err)
		}
		logger.Op.WithFields(map[string]interface{}{
			"location": location,
			"count":    len(opts),
		}).Debug("Tasks loaded")
	}
	return nil
}

func (m *Manager) add(opts Options, c *candidate) (bool, error) {
	d, err := buildDescriptor(opts, c, m.config.DefaultInterval)
	if err != nil {
		return false, err
	}

	policy := opts.LoadPolicy
	if policy == "" {
		policy = m.config.DefaultLoadPolicy
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, found := m.tasks[d.Name]
	if found && !existing.Zombie() {
		switch policy {
		case LoadPolicyThrow:
			return false, taskerrors.NewAlreadyExistsError(d.Name)
		case LoadPolicyIgnore:
			logger.Op.WithTask(d.Name, "").Debug("Task already registered, ignoring")
			return false, nil
		case LoadPolicyReplace:
		default:
			return false, taskerrors.NewInvalidArgumentError(fmt.Sprintf("unknown load policy %q", policy), "register task")
		}
	}

	m.tasks[d.Name] = d
	if !found {
		m.order = append(m.order, d.Name)
	}

	logger.Op.WithTask(d.Name, "").WithFields(map[string]interface{}{
		"variant":     d.Variant,
		"singleton":   d.Singleton,
		"suspendable": d.Suspendable,
		"cancelable":  d.Cancelable,
		"concurrency": d.Concurrency,
	}).Debug("Task registered")
	return true, nil
}

// DeleteTask removes a task. A task with active runs is kept as a zombie,
// invisible to lookups, until its last run settles.
func (m *Manager) DeleteTask(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.tasks[name]
	if !ok {
		return taskerrors.NewUnknownTaskError(name, "delete")
	}

	d.mu.Lock()
	if d.zombie {
		d.mu.Unlock()
		return taskerrors.NewUnknownTaskError(name, "delete")
	}
	if len(d.active) > 0 {
		d.zombie = true
		active := len(d.active)
		d.mu.Unlock()
		logger.Op.WithTask(name, "").WithField("active_runs", active).Debug("Task deleted with active runs, keeping until they finish")
		return nil
	}
	d.mu.Unlock()

	m.remove(name)
	logger.Op.WithTask(name, "").Debug("Task deleted")
	return nil
}

// DeleteAllTasks deletes every registered task
func (m *Manager) DeleteAllTasks() {
	for _, name := range m.GetTaskNames() {
		if err := m.DeleteTask(name); err != nil && !errors.Is(err, taskerrors.ErrUnknownTask) {
			logger.Op.WithTask(name, "").Warnf("Failed to delete task: %v", err)
		}
	}
}

// remove drops name from the registry. Caller holds mu.
func (m *Manager) remove(name string) {
	delete(m.tasks, name)
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

func (m *Manager) removeZombie(d *Descriptor) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// The name may have been registered again since the deletion.
	if m.tasks[d.Name] == d {
		m.remove(d.Name)
		logger.Op.WithTask(d.Name, "").Debug("Deleted task removed after its last run")
	}
}

func (m *Manager) lookup(name string, operation string) (*Descriptor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.tasks[name]
	if !ok || d.Zombie() {
		return nil, taskerrors.NewUnknownTaskError(name, operation)
	}
	return d, nil
}

// HasTask reports whether name is registered and not deleted
func (m *Manager) HasTask(name string) bool {
	_, err := m.lookup(name, "lookup")
	return err == nil
}

// GetTask returns the descriptor registered under name
func (m *Manager) GetTask(name string) (*Descriptor, error) {
	return m.lookup(name, "lookup")
}

// GetTaskFactory returns the constructor of the task registered under name
func (m *Manager) GetTaskFactory(name string) (Factory, error) {
	d, err := m.lookup(name, "lookup")
	if err != nil {
		return nil, err
	}
	return d.factory, nil
}

// GetTaskInstance returns an instance bound to the manager without running
// it. Singleton tasks return their shared instance.
func (m *Manager) GetTaskInstance(name string) (Task, error) {
	d, err := m.lookup(name, "lookup")
	if err != nil {
		return nil, err
	}
	return m.instance(d), nil
}

// GetTaskNames returns the registered names in registration order
func (m *Manager) GetTaskNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.order))
	for _, name := range m.order {
		if !m.tasks[name].Zombie() {
			names = append(names, name)
		}
	}
	return names
}

func (m *Manager) instance(d *Descriptor) Task {
	if d.Singleton {
		return d.singleton(func() Task {
			return m.newInstance(d)
		})
	}
	return m.newInstance(d)
}

func (m *Manager) newInstance(d *Descriptor) Task {
	t := d.factory()
	t.core().bind(m, d.Name, t)
	return t
}

// Run starts a run of the named task and returns its observer without
// waiting for the body.
func (m *Manager) Run(ctx context.Context, name string, args ...any) (*Observer, error) {
	d, err := m.lookup(name, "run")
	if err != nil {
		return nil, err
	}
	return m.start(ctx, d, args), nil
}

// RunAndWait runs the named task and waits for its result
func (m *Manager) RunAndWait(ctx context.Context, name string, args ...any) (any, error) {
	o, err := m.Run(ctx, name, args...)
	if err != nil {
		return nil, err
	}
	return o.Result(ctx)
}

// RunOnce registers c under a temporary name, runs it and deletes it again.
// c is any registration candidate, or Options to control the registration.
// The task's own name is used when it is free.
func (m *Manager) RunOnce(ctx context.Context, c any, args ...any) (*Observer, error) {
	opts, ok := c.(Options)
	if !ok {
		opts = Options{Task: c}
	}
	cand, err := resolveCandidate(opts.Task)
	if err != nil {
		return nil, err
	}

	opts.LoadPolicy = LoadPolicyThrow
	if opts.Name == "" {
		opts.Name = firstNonEmpty(cand.metadata().Name, cand.typeName)
	}
	if opts.Name == "" || m.HasTask(opts.Name) {
		opts.Name = uuid.NewString()
	}

	if _, err := m.add(opts, cand); err != nil {
		if !errors.Is(err, taskerrors.ErrAlreadyExists) {
			return nil, err
		}
		// Lost the name to a concurrent registration.
		opts.Name = uuid.NewString()
		if _, err := m.add(opts, cand); err != nil {
			return nil, err
		}
	}

	o, runErr := m.Run(ctx, opts.Name, args...)
	if err := m.DeleteTask(opts.Name); err != nil {
		logger.Op.WithTask(opts.Name, "").Warnf("Failed to delete one-off task: %v", err)
	}
	return o, runErr
}

func (m *Manager) start(ctx context.Context, d *Descriptor, args []any) *Observer {
	t := m.instance(d)
	o := newObserver(d, t)
	t.core().attach(o)
	if !d.Singleton {
		d.track(o)
	}

	m.config.Metrics.runStarted(d.Name)
	logger.Op.WithTask(d.Name, o.ID()).Debug("Run started")

	go m.execute(ctx, d, t, o, args)
	return o
}

func (m *Manager) execute(ctx context.Context, d *Descriptor, t Task, o *Observer, args []any) {
	started := time.Now()
	log := logger.Op.WithTask(d.Name, o.ID())

	var err error
	if d.throttle != nil {
		m.config.Metrics.throttleWait(d.Name, 1)
		err = d.throttle.Wait(ctx)
		m.config.Metrics.throttleWait(d.Name, -1)
	}
	if err == nil {
		err = invoke(ctx, t, d.Name, args)
	}
	if err != nil {
		err = m.undo(ctx, d, o, t, err)
	}

	state := o.settle(t.Result(), err)
	elapsed := time.Since(started)
	m.config.Metrics.runFinished(d.Name, state, elapsed)

	if err != nil {
		log.WithFields(map[string]interface{}{
			"state":    state,
			"duration": elapsed,
			"error":    err,
		}).Warn("Run failed")
	} else {
		log.WithFields(map[string]interface{}{
			"state":    state,
			"duration": elapsed,
		}).Debug("Run finished")
	}

	if !d.Singleton && d.release(o) {
		m.removeZombie(d)
	}
	o.finish()
}

// undo runs the task's undo hook for a failed run. If the hook fails too,
// both errors are returned together.
func (m *Manager) undo(ctx context.Context, d *Descriptor, o *Observer, t Task, cause error) error {
	u, ok := t.(Undoer)
	if !ok {
		return cause
	}

	undoErr := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = taskerrors.NewPanicError(d.Name, r).WithContext("hook", "undo")
			}
		}()
		return u.Undo(ctx, cause)
	}()
	if undoErr == nil {
		return cause
	}

	logger.Op.WithTask(d.Name, o.ID()).WithField("error", undoErr).Warn("Undo failed")
	return &taskerrors.UndoError{Err: cause, UndoErr: undoErr}
}

// OnNotification subscribes h to the notifications chosen by sel. Registering
// the same pointer handler twice for one event fails; function handlers are
// never deduplicated.
func (m *Manager) OnNotification(sel Selector, h Handler) error {
	return m.bus.subscribe(sel, h)
}

// Notify delivers an event from sender to every matching subscriber before returning
func (m *Manager) Notify(sender Task, event string, payload ...any) {
	n := Notification{
		Sender:  sender,
		Event:   event,
		Payload: payload,
	}
	if sender != nil {
		n.TaskName = sender.core().TaskName()
	}
	m.bus.publish(n)
}
