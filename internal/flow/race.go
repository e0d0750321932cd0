package flow

import (
	"context"
)

// Race starts every step at once and settles with whichever step settles
// first, success or failure.
type Race struct {
	base
}

type outcome struct {
	value any
	err   error
}

func (r *Race) Main(ctx context.Context, args ...any) error {
	m, steps, err := r.prepare(args)
	if err != nil {
		return err
	}
	if len(steps) == 0 {
		return nil
	}

	settled := make(chan outcome, len(steps))
	for _, st := range steps {
		o, err := r.start(ctx, m, st, st.args)
		if err != nil {
			return err
		}
		go func() {
			v, err := o.Result(ctx)
			settled <- outcome{value: v, err: err}
		}()
	}

	first := <-settled
	if first.err != nil {
		return first.err
	}
	r.SetResult(first.value)
	return nil
}
