package task

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// counterTask counts its own runs
type counterTask struct {
	Base
	value int
}

func (c *counterTask) Main(ctx context.Context, args ...any) error {
	c.value++
	c.SetResult(c.value)
	return nil
}

// gateTask blocks until its gate is closed
type gateTask struct {
	Base
	gate  <-chan struct{}
	value any
}

func (g *gateTask) Main(ctx context.Context, args ...any) error {
	select {
	case <-g.gate:
	case <-ctx.Done():
		return ctx.Err()
	}
	g.SetResult(g.value)
	return nil
}

func gateFactory(gate <-chan struct{}, value any) Factory {
	return func() Task {
		return &gateTask{gate: gate, value: value}
	}
}

// stoppableTask runs until cancelled, acknowledging the cancel after a delay
type stoppableTask struct {
	Base
	stop     chan struct{}
	once     sync.Once
	ackDelay time.Duration
}

func newStoppable(ackDelay time.Duration) Factory {
	return func() Task {
		return &stoppableTask{stop: make(chan struct{}), ackDelay: ackDelay}
	}
}

func (s *stoppableTask) Main(ctx context.Context, args ...any) error {
	select {
	case <-s.stop:
		s.SetResult("stopped")
	case <-time.After(5 * time.Second):
		s.SetResult("timeout")
	}
	return nil
}

func (s *stoppableTask) Cancel(sig *Signal) {
	s.once.Do(func() { close(s.stop) })
	go func() {
		time.Sleep(s.ackDelay)
		sig.Resolve()
	}()
}

// pausableTask counts suspend and resume requests
type pausableTask struct {
	Base
	suspends atomic.Int32
	resumes  atomic.Int32
	release  chan struct{}
}

func (p *pausableTask) Main(ctx context.Context, args ...any) error {
	<-p.release
	p.SetResult("done")
	return nil
}

func (p *pausableTask) Suspend(sig *Signal) {
	p.suspends.Add(1)
	sig.Resolve()
}

func (p *pausableTask) Resume(sig *Signal) {
	p.resumes.Add(1)
	sig.Resolve()
}

var errBoom = errors.New("boom")

// failingTask fails and records whether its undo hook ran
type failingTask struct {
	Base
	undone  *atomic.Bool
	undoErr error
}

func (f *failingTask) Main(ctx context.Context, args ...any) error {
	return errBoom
}

func (f *failingTask) Undo(ctx context.Context, err error) error {
	time.Sleep(10 * time.Millisecond)
	f.undone.Store(true)
	return f.undoErr
}

type emptyTask struct {
	Base
}

type staticLoader map[string][]Options

func (l staticLoader) Load(ctx context.Context, location string) ([]Options, error) {
	opts, ok := l[location]
	if !ok {
		return nil, errors.New("no such location")
	}
	return opts, nil
}
