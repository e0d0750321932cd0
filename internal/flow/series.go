package flow

import (
	"context"
	"sync"

	"github.com/maxkimambo/taskrun/internal/logger"
	"github.com/maxkimambo/taskrun/internal/task"
)

// Series runs its steps one at a time in order. The result is the list of
// step results; the first failure stops the flow.
type Series struct {
	base

	mu        sync.Mutex
	current   *task.Observer
	cancelSig *task.Signal
	finished  bool
}

func (s *Series) Main(ctx context.Context, args ...any) error {
	defer s.acknowledge()

	m, steps, err := s.prepare(args)
	if err != nil {
		return err
	}

	results := make([]any, 0, len(steps))
	for _, st := range steps {
		o, err := s.start(ctx, m, st, st.args)
		if err != nil {
			return err
		}

		s.mu.Lock()
		s.current = o
		cancelling := s.cancelSig != nil
		s.mu.Unlock()
		if cancelling {
			s.cancelStep(o)
		}

		v, err := o.Result(ctx)

		s.mu.Lock()
		s.current = nil
		s.mu.Unlock()

		if err != nil {
			return err
		}
		results = append(results, v)
	}

	s.SetResult(results)
	return nil
}

// Cancel cancels the running step. Later steps still run and are cancelled
// as they start; the signal resolves once the flow body returns.
func (s *Series) Cancel(sig *task.Signal) {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		sig.Resolve()
		return
	}
	s.cancelSig = sig
	current := s.current
	s.mu.Unlock()

	if current != nil {
		s.cancelStep(current)
	}
}

func (s *Series) cancelStep(o *task.Observer) {
	if !o.Cancelable() {
		return
	}
	go func() {
		if err := o.Cancel(context.Background()); err != nil {
			logger.Op.WithTask(o.TaskName(), o.ID()).Warnf("Failed to cancel flow step: %v", err)
		}
	}()
}

func (s *Series) acknowledge() {
	s.mu.Lock()
	s.finished = true
	sig := s.cancelSig
	s.mu.Unlock()

	if sig != nil {
		sig.Resolve()
	}
}
