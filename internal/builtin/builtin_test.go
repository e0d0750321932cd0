package builtin

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	taskerrors "github.com/maxkimambo/taskrun/internal/errors"
	"github.com/maxkimambo/taskrun/internal/progress"
	"github.com/maxkimambo/taskrun/internal/task"
)

func newManager(t *testing.T) *task.Manager {
	t.Helper()
	m := task.NewManager(nil)
	require.NoError(t, Register(m))
	return m
}

func TestRegister(t *testing.T) {
	m := newManager(t)
	assert.Equal(t, []string{"echo", "sleep", "fail"}, m.GetTaskNames())

	d, err := m.GetTask("sleep")
	require.NoError(t, err)
	assert.True(t, d.Suspendable)
	assert.True(t, d.Cancelable)
	assert.Equal(t, "advanced", d.Variant)

	for name := range Catalog() {
		assert.True(t, m.HasTask(name), name)
	}
}

func TestEcho(t *testing.T) {
	m := newManager(t)

	got, err := m.RunAndWait(context.Background(), "echo", task.Args{"message": "hi"})
	require.NoError(t, err)
	assert.Equal(t, task.Args{"message": "hi"}, got)
}

func TestFail(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	_, err := m.RunAndWait(ctx, "fail", task.Args{"message": "nope"})
	assert.EqualError(t, err, "nope")

	_, err = m.RunAndWait(ctx, "fail")
	assert.EqualError(t, err, "task failed")
}

func TestSleepReportsProgress(t *testing.T) {
	m := newManager(t)

	var mu sync.Mutex
	var steps []int
	require.NoError(t, m.OnNotification(task.Selector{Event: progress.Event, Task: "sleep"}, task.HandlerFunc(func(n task.Notification) {
		mu.Lock()
		defer mu.Unlock()
		steps = append(steps, n.Payload[0].(progress.Info).Step)
	})))

	got, err := m.RunAndWait(context.Background(), "sleep", task.Args{"duration": "30ms", "steps": 3})
	require.NoError(t, err)

	result := got.(task.Args)
	assert.Equal(t, 3, result["steps"])
	assert.Equal(t, false, result["cancelled"])
	assert.Equal(t, []int{1, 2, 3}, steps)
}

func TestSleepCancel(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	o, err := m.Run(ctx, "sleep", task.Args{"duration": "10s", "steps": 100})
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, o.Cancel(ctx))
	got, err := o.Result(ctx)
	require.NoError(t, err)

	assert.True(t, o.Cancelled())
	assert.Equal(t, true, got.(task.Args)["cancelled"])
}

func TestSleepSuspendStopsTheClock(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	o, err := m.Run(ctx, "sleep", task.Args{"duration": 40, "steps": 2})
	require.NoError(t, err)

	require.NoError(t, o.Suspend(ctx))
	time.Sleep(80 * time.Millisecond)
	assert.True(t, o.Suspended())
	assert.False(t, o.Finished())

	require.NoError(t, o.Resume(ctx))
	got, err := o.Result(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, got.(task.Args)["steps"])
}

func TestSleepCancelResolvesWhenInitializeFails(t *testing.T) {
	ctx := context.Background()
	s := &Sleep{}

	initErr := s.Initialize(ctx, task.Args{"duration": "soon"})
	require.ErrorIs(t, initErr, taskerrors.ErrInvalidArgument)

	sig := task.NewSignal()
	s.Cancel(sig)
	assert.False(t, sig.Resolved())

	assert.Same(t, initErr, s.HandleError(ctx, initErr, nil))
	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, sig.Wait(waitCtx))

	late := task.NewSignal()
	s.Cancel(late)
	assert.True(t, late.Resolved())
}

func TestSleepRejectsBadArguments(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	_, err := m.RunAndWait(ctx, "sleep", task.Args{"duration": "soon"})
	assert.ErrorIs(t, err, taskerrors.ErrInvalidArgument)

	_, err = m.RunAndWait(ctx, "sleep", task.Args{"steps": 0})
	assert.ErrorIs(t, err, taskerrors.ErrInvalidArgument)

	_, err = m.RunAndWait(ctx, "sleep", task.Args{"duration": []int{1}})
	assert.ErrorIs(t, err, taskerrors.ErrInvalidArgument)
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   any
		want time.Duration
	}{
		{nil, 0},
		{"1.5s", 1500 * time.Millisecond},
		{250, 250 * time.Millisecond},
		{2.5, 2500 * time.Microsecond},
		{time.Minute, time.Minute},
	}
	for _, tt := range tests {
		got, err := parseDuration(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}
