package builtin

import (
	"context"
	"fmt"
	"sync"
	"time"

	taskerrors "github.com/maxkimambo/taskrun/internal/errors"
	"github.com/maxkimambo/taskrun/internal/progress"
	"github.com/maxkimambo/taskrun/internal/task"
)

const defaultSleepSteps = 10

// Sleep waits for "duration" (a Go duration string or a number of
// milliseconds) in "steps" equal slices, publishing progress after each. It
// can be suspended, which stops the clock, and cancelled, which resolves
// early with what has elapsed.
type Sleep struct {
	task.AdvancedBase

	duration time.Duration
	steps    int

	mu        sync.Mutex
	resume    chan struct{}
	stop      chan struct{}
	cancelSig *task.Signal
	finished  bool
}

func (s *Sleep) TaskMetadata() task.Metadata {
	return task.Metadata{
		Name:        "sleep",
		Description: "Waits for a duration, reporting progress",
		Suspendable: task.Bool(true),
		Cancelable:  task.Bool(true),
	}
}

func (s *Sleep) Initialize(ctx context.Context, arg any) error {
	args := task.Arg(arg)

	d, err := parseDuration(args["duration"])
	if err != nil {
		return err
	}
	s.duration = d

	s.steps = defaultSleepSteps
	if v, ok := args["steps"]; ok {
		n, ok := v.(int)
		if !ok || n < 1 {
			return taskerrors.NewInvalidArgumentError(fmt.Sprintf("steps must be a positive integer, got %v", v), "sleep")
		}
		s.steps = n
	}

	s.mu.Lock()
	if s.stop == nil {
		s.stop = make(chan struct{})
	}
	s.mu.Unlock()
	return nil
}

func (s *Sleep) Main(ctx context.Context, arg any) error {
	defer s.acknowledge()

	started := time.Now()
	slice := s.duration / time.Duration(s.steps)

	completed := 0
	cancelled := false
	for completed < s.steps {
		stopped, err := s.wait(ctx, slice)
		if err != nil {
			return err
		}
		if stopped {
			cancelled = true
			break
		}
		completed++
		if err := s.Notify(progress.Event, progress.Info{
			Step:    completed,
			Total:   s.steps,
			Elapsed: time.Since(started),
		}); err != nil {
			return err
		}
	}

	s.SetResult(task.Args{
		"slept":     time.Since(started).Round(time.Millisecond).String(),
		"steps":     completed,
		"cancelled": cancelled,
	})
	return nil
}

// wait sleeps for d and then parks while suspended. It reports true when the
// task was cancelled.
func (s *Sleep) wait(ctx context.Context, d time.Duration) (bool, error) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-s.stop:
		return true, nil
	case <-ctx.Done():
		return false, ctx.Err()
	case <-timer.C:
	}

	s.mu.Lock()
	resume := s.resume
	s.mu.Unlock()
	if resume == nil {
		return false, nil
	}

	select {
	case <-resume:
		return false, nil
	case <-s.stop:
		return true, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (s *Sleep) Suspend(sig *task.Signal) {
	s.mu.Lock()
	if s.resume == nil {
		s.resume = make(chan struct{})
	}
	s.mu.Unlock()
	sig.Resolve()
}

func (s *Sleep) Resume(sig *task.Signal) {
	s.mu.Lock()
	if s.resume != nil {
		close(s.resume)
		s.resume = nil
	}
	s.mu.Unlock()
	sig.Resolve()
}

// Cancel stops the clock. The signal resolves once Main has returned.
func (s *Sleep) Cancel(sig *task.Signal) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished {
		sig.Resolve()
		return
	}
	s.cancelSig = sig
	if s.stop == nil {
		s.stop = make(chan struct{})
	}
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
}

// HandleError settles a cancel that arrived before Main ever ran.
func (s *Sleep) HandleError(ctx context.Context, err error, arg any) error {
	s.acknowledge()
	return err
}

func (s *Sleep) acknowledge() {
	s.mu.Lock()
	s.finished = true
	sig := s.cancelSig
	s.mu.Unlock()

	if sig != nil {
		sig.Resolve()
	}
}

func parseDuration(v any) (time.Duration, error) {
	switch d := v.(type) {
	case nil:
		return 0, nil
	case time.Duration:
		return d, nil
	case string:
		parsed, err := time.ParseDuration(d)
		if err != nil {
			return 0, taskerrors.NewInvalidArgumentError(fmt.Sprintf("bad duration %q", d), "sleep").WithOriginalError(err)
		}
		return parsed, nil
	case int:
		return time.Duration(d) * time.Millisecond, nil
	case float64:
		return time.Duration(d * float64(time.Millisecond)), nil
	default:
		return 0, taskerrors.NewInvalidArgumentError(fmt.Sprintf("unsupported duration type %T", v), "sleep")
	}
}
