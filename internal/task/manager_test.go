package task

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	taskerrors "github.com/maxkimambo/taskrun/internal/errors"
)

type declaredTask struct {
	Base
}

func (d *declaredTask) Main(ctx context.Context, args ...any) error { return nil }

func (d *declaredTask) TaskMetadata() Metadata {
	return Metadata{
		Name:        "declared",
		Description: "from metadata",
		Cancelable:  Bool(true),
		Suspendable: Bool(true),
		Concurrency: 2,
	}
}

func TestAddTaskCandidates(t *testing.T) {
	fn := func(ctx context.Context, args ...any) (any, error) { return len(args), nil }

	tests := []struct {
		name     string
		opts     Options
		wantName string
		wantErr  error
	}{
		{"prototype uses type name", Options{Task: &counterTask{}}, "counterTask", nil},
		{"factory uses type name", Options{Task: Factory(func() Task { return &counterTask{} })}, "counterTask", nil},
		{"unnamed factory func", Options{Task: func() Task { return &counterTask{} }}, "counterTask", nil},
		{"explicit name wins", Options{Name: "count", Task: &counterTask{}}, "count", nil},
		{"function with name", Options{Name: "fn", Task: fn}, "fn", nil},
		{"typed function", Options{Name: "fn", Task: TaskFunc(fn)}, "fn", nil},
		{"function without name", Options{Task: fn}, "", taskerrors.ErrInvalidTask},
		{"nil candidate", Options{Name: "nil"}, "", taskerrors.ErrInvalidTask},
		{"non task value", Options{Name: "int", Task: 42}, "", taskerrors.ErrInvalidTask},
		{"factory returning nil", Options{Name: "nil", Task: Factory(func() Task { return nil })}, "", taskerrors.ErrInvalidTask},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(nil)
			added, err := m.AddTask(tt.opts)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.False(t, added)
				return
			}
			require.NoError(t, err)
			assert.True(t, added)
			assert.True(t, m.HasTask(tt.wantName))
		})
	}
}

func TestFunctionTaskResult(t *testing.T) {
	m := NewManager(nil)
	_, err := m.AddTask(Options{Name: "count-args", Task: func(ctx context.Context, args ...any) (any, error) {
		return len(args), nil
	}})
	require.NoError(t, err)

	got, err := m.RunAndWait(context.Background(), "count-args", 1, "two", 3.0)
	require.NoError(t, err)
	assert.Equal(t, 3, got)
}

func TestLoadPolicies(t *testing.T) {
	first := func() Task { return &gateTask{value: "first"} }
	second := func() Task { return &gateTask{value: "second"} }

	t.Run("throw", func(t *testing.T) {
		m := NewManager(nil)
		_, err := m.AddTask(Options{Name: "x", Task: Factory(first)})
		require.NoError(t, err)

		added, err := m.AddTask(Options{Name: "x", Task: Factory(second)})
		assert.ErrorIs(t, err, taskerrors.ErrAlreadyExists)
		assert.False(t, added)
	})

	t.Run("ignore", func(t *testing.T) {
		m := NewManager(nil)
		_, err := m.AddTask(Options{Name: "x", Task: Factory(first)})
		require.NoError(t, err)

		added, err := m.AddTask(Options{Name: "x", Task: Factory(second), LoadPolicy: LoadPolicyIgnore})
		require.NoError(t, err)
		assert.False(t, added)

		inst, err := m.GetTaskInstance("x")
		require.NoError(t, err)
		assert.Equal(t, "first", inst.(*gateTask).value)
	})

	t.Run("replace", func(t *testing.T) {
		m := NewManager(&ManagerConfig{DefaultLoadPolicy: LoadPolicyReplace})
		_, err := m.AddTask(Options{Name: "x", Task: Factory(first)})
		require.NoError(t, err)

		added, err := m.AddTask(Options{Name: "x", Task: Factory(second)})
		require.NoError(t, err)
		assert.True(t, added)

		inst, err := m.GetTaskInstance("x")
		require.NoError(t, err)
		assert.Equal(t, "second", inst.(*gateTask).value)
		assert.Equal(t, []string{"x"}, m.GetTaskNames())
	})

	t.Run("unknown policy", func(t *testing.T) {
		m := NewManager(nil)
		_, err := m.AddTask(Options{Name: "x", Task: Factory(first)})
		require.NoError(t, err)

		_, err = m.AddTask(Options{Name: "x", Task: Factory(second), LoadPolicy: "merge"})
		assert.ErrorIs(t, err, taskerrors.ErrInvalidArgument)
	})
}

func TestMetadataMergedUnderOptions(t *testing.T) {
	m := NewManager(nil)
	_, err := m.AddTask(Options{Task: &declaredTask{}, Suspendable: Bool(false)})
	require.NoError(t, err)

	d, err := m.GetTask("declared")
	require.NoError(t, err)
	assert.Equal(t, "from metadata", d.Description)
	assert.True(t, d.Cancelable)
	assert.False(t, d.Suspendable)
	assert.Equal(t, 2, d.Concurrency)
	assert.Equal(t, time.Second, d.Interval)
	require.NotNil(t, d.throttle)
	assert.Equal(t, 2, d.throttle.Limit())
}

func TestSingletonConstraint(t *testing.T) {
	m := NewManager(nil)

	_, err := m.AddTask(Options{Name: "s", Task: &counterTask{}, Singleton: Bool(true), Cancelable: Bool(true)})
	assert.ErrorIs(t, err, taskerrors.ErrSingletonConstraint)

	_, err = m.AddTask(Options{Name: "s", Task: &counterTask{}, Singleton: Bool(true), Suspendable: Bool(true)})
	assert.ErrorIs(t, err, taskerrors.ErrSingletonConstraint)

	_, err = m.AddTask(Options{Name: "declared", Task: &declaredTask{}, Singleton: Bool(true)})
	assert.ErrorIs(t, err, taskerrors.ErrSingletonConstraint)

	assert.Empty(t, m.GetTaskNames())
}

func TestRunsGetIndependentInstances(t *testing.T) {
	m := NewManager(nil)
	_, err := m.AddTask(Options{Task: &counterTask{}})
	require.NoError(t, err)

	ctx := context.Background()
	a, err := m.Run(ctx, "counterTask")
	require.NoError(t, err)
	b, err := m.Run(ctx, "counterTask")
	require.NoError(t, err)

	ra, err := a.Result(ctx)
	require.NoError(t, err)
	rb, err := b.Result(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, ra)
	assert.Equal(t, 1, rb)
	assert.NotSame(t, a.Task(), b.Task())
}

func TestSingletonSharesInstance(t *testing.T) {
	m := NewManager(nil)
	_, err := m.AddTask(Options{Task: &counterTask{}, Singleton: Bool(true)})
	require.NoError(t, err)

	ctx := context.Background()
	first, err := m.RunAndWait(ctx, "counterTask")
	require.NoError(t, err)
	second, err := m.RunAndWait(ctx, "counterTask")
	require.NoError(t, err)

	assert.Equal(t, 1, first)
	assert.Equal(t, 2, second)

	a, err := m.GetTaskInstance("counterTask")
	require.NoError(t, err)
	b, err := m.GetTaskInstance("counterTask")
	require.NoError(t, err)
	assert.Same(t, a, b)

	d, err := m.GetTask("counterTask")
	require.NoError(t, err)
	assert.Equal(t, 0, d.ActiveRuns())
}

func TestGetTaskNamesKeepsRegistrationOrder(t *testing.T) {
	m := NewManager(nil)
	for _, name := range []string{"c", "a", "b"} {
		_, err := m.AddTask(Options{Name: name, Task: &counterTask{}})
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"c", "a", "b"}, m.GetTaskNames())

	require.NoError(t, m.DeleteTask("a"))
	assert.Equal(t, []string{"c", "b"}, m.GetTaskNames())

	m.DeleteAllTasks()
	assert.Empty(t, m.GetTaskNames())
}

func TestLookupUnknownTask(t *testing.T) {
	m := NewManager(nil)
	ctx := context.Background()

	_, err := m.Run(ctx, "missing")
	assert.ErrorIs(t, err, taskerrors.ErrUnknownTask)

	_, err = m.RunAndWait(ctx, "missing")
	assert.ErrorIs(t, err, taskerrors.ErrUnknownTask)

	_, err = m.GetTask("missing")
	assert.ErrorIs(t, err, taskerrors.ErrUnknownTask)

	_, err = m.GetTaskFactory("missing")
	assert.ErrorIs(t, err, taskerrors.ErrUnknownTask)

	_, err = m.GetTaskInstance("missing")
	assert.ErrorIs(t, err, taskerrors.ErrUnknownTask)

	assert.ErrorIs(t, m.DeleteTask("missing"), taskerrors.ErrUnknownTask)
	assert.False(t, m.HasTask("missing"))
}

func TestDeleteWithActiveRun(t *testing.T) {
	m := NewManager(nil)
	gate := make(chan struct{})
	_, err := m.AddTask(Options{Name: "slow", Task: gateFactory(gate, "ok")})
	require.NoError(t, err)

	ctx := context.Background()
	o, err := m.Run(ctx, "slow")
	require.NoError(t, err)

	d, err := m.GetTask("slow")
	require.NoError(t, err)

	require.NoError(t, m.DeleteTask("slow"))
	assert.True(t, d.Zombie())
	assert.False(t, m.HasTask("slow"))
	assert.NotContains(t, m.GetTaskNames(), "slow")
	assert.ErrorIs(t, m.DeleteTask("slow"), taskerrors.ErrUnknownTask)

	_, err = m.Run(ctx, "slow")
	assert.ErrorIs(t, err, taskerrors.ErrUnknownTask)

	close(gate)
	got, err := o.Result(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ok", got)

	m.mu.RLock()
	_, stillThere := m.tasks["slow"]
	m.mu.RUnlock()
	assert.False(t, stillThere)
}

func TestReRegisterWhileZombie(t *testing.T) {
	m := NewManager(nil)
	gate := make(chan struct{})
	_, err := m.AddTask(Options{Name: "slow", Task: gateFactory(gate, "old")})
	require.NoError(t, err)

	ctx := context.Background()
	o, err := m.Run(ctx, "slow")
	require.NoError(t, err)
	require.NoError(t, m.DeleteTask("slow"))

	_, err = m.AddTask(Options{Name: "slow", Task: &counterTask{}})
	require.NoError(t, err)

	close(gate)
	_, err = o.Result(ctx)
	require.NoError(t, err)

	assert.True(t, m.HasTask("slow"))
	got, err := m.RunAndWait(ctx, "slow")
	require.NoError(t, err)
	assert.Equal(t, 1, got)
}

func TestRunOnce(t *testing.T) {
	ctx := context.Background()

	t.Run("uses the type name when free", func(t *testing.T) {
		m := NewManager(nil)
		gate := make(chan struct{})

		o, err := m.RunOnce(ctx, Options{Task: gateFactory(gate, "once")})
		require.NoError(t, err)
		assert.Equal(t, "gateTask", o.TaskName())
		assert.False(t, m.HasTask("gateTask"))

		close(gate)
		got, err := o.Result(ctx)
		require.NoError(t, err)
		assert.Equal(t, "once", got)
		assert.Empty(t, m.GetTaskNames())
	})

	t.Run("generates a name when taken", func(t *testing.T) {
		m := NewManager(nil)
		_, err := m.AddTask(Options{Task: &counterTask{}})
		require.NoError(t, err)

		o, err := m.RunOnce(ctx, &counterTask{})
		require.NoError(t, err)
		assert.NotEqual(t, "counterTask", o.TaskName())

		_, err = o.Result(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"counterTask"}, m.GetTaskNames())
	})

	t.Run("runs plain functions", func(t *testing.T) {
		m := NewManager(nil)
		o, err := m.RunOnce(ctx, func(ctx context.Context, args ...any) (any, error) {
			return args[0], nil
		}, "hello")
		require.NoError(t, err)

		got, err := o.Result(ctx)
		require.NoError(t, err)
		assert.Equal(t, "hello", got)
		assert.Empty(t, m.GetTaskNames())
	})

	t.Run("rejects invalid candidates", func(t *testing.T) {
		m := NewManager(nil)
		_, err := m.RunOnce(ctx, "not a task")
		assert.ErrorIs(t, err, taskerrors.ErrInvalidTask)
	})
}

func TestFailedRunIsUndoneBeforeSurfacing(t *testing.T) {
	m := NewManager(nil)
	var undone atomic.Bool
	_, err := m.AddTask(Options{Name: "fail", Task: Factory(func() Task {
		return &failingTask{undone: &undone}
	})})
	require.NoError(t, err)

	o, err := m.Run(context.Background(), "fail")
	require.NoError(t, err)

	_, err = o.Result(context.Background())
	assert.ErrorIs(t, err, errBoom)
	assert.True(t, undone.Load())
	assert.True(t, o.Failed())
	assert.Same(t, err, o.Err())
}

func TestUndoFailureWrapsBothErrors(t *testing.T) {
	m := NewManager(nil)
	var undone atomic.Bool
	undoErr := errors.New("rollback failed")
	_, err := m.AddTask(Options{Name: "fail", Task: Factory(func() Task {
		return &failingTask{undone: &undone, undoErr: undoErr}
	})})
	require.NoError(t, err)

	_, err = m.RunAndWait(context.Background(), "fail")
	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)
	assert.ErrorIs(t, err, undoErr)

	var ue *taskerrors.UndoError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, errBoom, ue.Err)
	assert.Equal(t, undoErr, ue.UndoErr)
}

func TestPanicBecomesError(t *testing.T) {
	m := NewManager(nil)
	_, err := m.AddTask(Options{Name: "panic", Task: func(ctx context.Context, args ...any) (any, error) {
		panic("kaboom")
	}})
	require.NoError(t, err)

	_, err = m.RunAndWait(context.Background(), "panic")
	assert.ErrorIs(t, err, taskerrors.ErrTaskPanicked)
	assert.Contains(t, err.Error(), "kaboom")
}

func TestLoadTasks(t *testing.T) {
	loader := staticLoader{
		"a.yaml": {{Name: "one", Task: &counterTask{}}},
		"b.yaml": {{Name: "two", Task: &counterTask{}}, {Name: "three", Task: &counterTask{}}},
	}

	m := NewManager(nil)
	require.NoError(t, m.LoadTasks(context.Background(), loader, "a.yaml", "b.yaml"))
	assert.Equal(t, []string{"one", "two", "three"}, m.GetTaskNames())

	err := m.LoadTasks(context.Background(), loader, "missing.yaml")
	assert.ErrorContains(t, err, "missing.yaml")

	err = m.LoadTasks(context.Background(), loader, "a.yaml")
	assert.ErrorIs(t, err, taskerrors.ErrAlreadyExists)
}

func TestGetTaskFactory(t *testing.T) {
	m := NewManager(nil)
	_, err := m.AddTask(Options{Task: &counterTask{}})
	require.NoError(t, err)

	f, err := m.GetTaskFactory("counterTask")
	require.NoError(t, err)
	assert.IsType(t, &counterTask{}, f())
}

func TestRunContextReachesBody(t *testing.T) {
	m := NewManager(nil)
	_, err := m.AddTask(Options{Name: "slow", Task: gateFactory(make(chan struct{}), nil)})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	o, err := m.Run(ctx, "slow")
	require.NoError(t, err)
	cancel()

	_, err = o.Result(context.Background())
	assert.ErrorIs(t, err, context.Canceled)
}
