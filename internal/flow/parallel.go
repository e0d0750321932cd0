package flow

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/maxkimambo/taskrun/internal/logger"
	"github.com/maxkimambo/taskrun/internal/task"
)

// Parallel starts every step at once. The result lists step results in
// completion order; the flow fails with the first step failure while the
// remaining steps keep running.
type Parallel struct {
	base

	mu        sync.Mutex
	observers []*task.Observer
	cancelled bool
}

func (p *Parallel) Main(ctx context.Context, args ...any) error {
	m, steps, err := p.prepare(args)
	if err != nil {
		return err
	}

	p.mu.Lock()
	if p.cancelled {
		p.mu.Unlock()
		p.SetResult([]any{})
		return nil
	}
	observers := make([]*task.Observer, 0, len(steps))
	for _, st := range steps {
		o, err := p.start(ctx, m, st, st.args)
		if err != nil {
			p.observers = observers
			p.mu.Unlock()
			return err
		}
		observers = append(observers, o)
	}
	p.observers = observers
	p.mu.Unlock()

	var mu sync.Mutex
	results := make([]any, 0, len(observers))

	g, gctx := errgroup.WithContext(ctx)
	for _, o := range observers {
		o := o
		g.Go(func() error {
			v, err := o.Result(gctx)
			if err != nil {
				return err
			}
			mu.Lock()
			results = append(results, v)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	p.SetResult(results)
	return nil
}

// Cancel cancels every cancelable step and waits for all steps to settle
// before resolving sig.
func (p *Parallel) Cancel(sig *task.Signal) {
	p.mu.Lock()
	p.cancelled = true
	observers := append([]*task.Observer(nil), p.observers...)
	p.mu.Unlock()

	go func() {
		var g errgroup.Group
		for _, o := range observers {
			o := o
			g.Go(func() error {
				if o.Cancelable() {
					if err := o.Cancel(context.Background()); err != nil {
						return err
					}
				}
				<-o.Done()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			logger.Op.WithTask(p.TaskName(), "").Warnf("Failed to cancel parallel step: %v", err)
		}
		sig.Resolve()
	}()
}
