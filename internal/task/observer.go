package task

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	taskerrors "github.com/maxkimambo/taskrun/internal/errors"
	"github.com/maxkimambo/taskrun/internal/logger"
)

// State is the lifecycle state of one run
type State string

const (
	// StateIdle and StateStarting precede launch and are never seen through an Observer
	StateIdle       State = "IDLE"
	StateStarting   State = "STARTING"
	StateRunning    State = "RUNNING"
	StateSuspended  State = "SUSPENDED"
	StateCancelling State = "CANCELLING"
	StateCompleted  State = "COMPLETED"
	StateFailed     State = "FAILED"
	StateCancelled  State = "CANCELLED"
)

// Terminal reports whether no further transition can leave s
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Observer is the handle of a single run. It tracks the run's state, proxies
// suspend, resume and cancel requests to the task instance and exposes the
// eventual result.
type Observer struct {
	id   string
	desc *Descriptor
	task Task

	mu         sync.Mutex
	state      State
	result     any
	err        error
	finalizers []func()
	done       chan struct{}
}

func newObserver(d *Descriptor, t Task) *Observer {
	return &Observer{
		id:    uuid.NewString(),
		desc:  d,
		task:  t,
		state: StateRunning,
		done:  make(chan struct{}),
	}
}

// ID returns the unique identifier of the run
func (o *Observer) ID() string { return o.id }

// TaskName returns the name of the task being run
func (o *Observer) TaskName() string { return o.desc.Name }

// Task returns the instance executing the run
func (o *Observer) Task() Task { return o.task }

// Suspendable reports whether the task was registered as suspendable
func (o *Observer) Suspendable() bool { return o.desc.Suspendable }

// Cancelable reports whether the task was registered as cancelable
func (o *Observer) Cancelable() bool { return o.desc.Cancelable }

// State returns the current state
func (o *Observer) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Observer) Running() bool   { return o.State() == StateRunning }
func (o *Observer) Suspended() bool { return o.State() == StateSuspended }
func (o *Observer) Cancelled() bool { return o.State() == StateCancelled }
func (o *Observer) Completed() bool { return o.State() == StateCompleted }
func (o *Observer) Failed() bool    { return o.State() == StateFailed }
func (o *Observer) Finished() bool  { return o.State().Terminal() }

// Err returns the failure of a settled run, or nil
func (o *Observer) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}

// Done is closed once the run has settled and its finalizers have run
func (o *Observer) Done() <-chan struct{} {
	return o.done
}

// Result waits for the run to settle and returns its value or failure
func (o *Observer) Result(ctx context.Context) (any, error) {
	select {
	case <-o.done:
		o.mu.Lock()
		defer o.mu.Unlock()
		return o.result, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Finally registers fn to run once when the run settles, before Result
// returns to any waiter. If the run has already settled fn runs immediately.
func (o *Observer) Finally(fn func()) {
	o.mu.Lock()
	select {
	case <-o.done:
		o.mu.Unlock()
		fn()
		return
	default:
	}
	o.finalizers = append(o.finalizers, fn)
	o.mu.Unlock()
}

// Cancel asks the task to stop and waits until it acknowledges. It does
// nothing unless the run is RUNNING.
func (o *Observer) Cancel(ctx context.Context) error {
	if !o.desc.Cancelable {
		return taskerrors.NewNotCancelableError(o.desc.Name)
	}

	o.mu.Lock()
	if o.state != StateRunning {
		o.mu.Unlock()
		return nil
	}
	o.state = StateCancelling
	o.mu.Unlock()

	logger.Op.WithTask(o.desc.Name, o.id).Debug("Cancellation requested")

	sig := NewSignal()
	if c, ok := o.task.(Canceler); ok {
		c.Cancel(sig)
	} else {
		sig.Resolve()
	}
	return sig.Wait(ctx)
}

// Suspend pauses the run until Resume is called
func (o *Observer) Suspend(ctx context.Context) error {
	return o.SuspendFor(ctx, 0, nil)
}

// SuspendFor pauses the run. When d is positive the run resumes on its own
// after d, calling callback first. On a run that has already finished the
// callback is invoked at once.
func (o *Observer) SuspendFor(ctx context.Context, d time.Duration, callback func()) error {
	if !o.desc.Suspendable {
		return taskerrors.NewNotSuspendableError(o.desc.Name, "suspend")
	}

	state := o.State()
	if state.Terminal() {
		if d > 0 && callback != nil {
			callback()
		}
		return nil
	}
	if state != StateRunning {
		return nil
	}

	sig := NewSignal()
	if s, ok := o.task.(Suspender); ok {
		s.Suspend(sig)
	} else {
		sig.Resolve()
	}
	if err := sig.Wait(ctx); err != nil {
		return err
	}

	o.mu.Lock()
	if o.state == StateRunning {
		o.state = StateSuspended
	}
	o.mu.Unlock()
	logger.Op.WithTask(o.desc.Name, o.id).Debug("Run suspended")

	if d > 0 {
		time.AfterFunc(d, func() {
			if callback != nil {
				callback()
			}
			if err := o.Resume(context.Background()); err != nil {
				logger.Op.WithTask(o.desc.Name, o.id).Warnf("Automatic resume failed: %v", err)
			}
		})
	}
	return nil
}

// Resume continues a suspended run. It does nothing unless the run is SUSPENDED.
func (o *Observer) Resume(ctx context.Context) error {
	if !o.desc.Suspendable {
		return taskerrors.NewNotSuspendableError(o.desc.Name, "resume")
	}
	if o.State() != StateSuspended {
		return nil
	}

	sig := NewSignal()
	if r, ok := o.task.(Resumer); ok {
		r.Resume(sig)
	} else {
		sig.Resolve()
	}
	if err := sig.Wait(ctx); err != nil {
		return err
	}

	o.mu.Lock()
	if o.state == StateSuspended {
		o.state = StateRunning
	}
	o.mu.Unlock()
	logger.Op.WithTask(o.desc.Name, o.id).Debug("Run resumed")
	return nil
}

// settle records the outcome and moves to the terminal state
func (o *Observer) settle(result any, err error) State {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch {
	case err != nil:
		o.state = StateFailed
		o.err = err
	case o.state == StateCancelling:
		o.state = StateCancelled
		o.result = result
	default:
		o.state = StateCompleted
		o.result = result
	}
	return o.state
}

// finish runs the finalizers and releases waiters. Finalizers registered
// while others are running are picked up before done closes.
func (o *Observer) finish() {
	for {
		o.mu.Lock()
		finalizers := o.finalizers
		o.finalizers = nil
		if len(finalizers) == 0 {
			close(o.done)
			o.mu.Unlock()
			return
		}
		o.mu.Unlock()

		for _, fn := range finalizers {
			fn()
		}
	}
}
