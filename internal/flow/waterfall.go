package flow

import (
	"context"
)

// Waterfall runs its steps in order, passing each step's result as the sole
// argument of the next. The first step receives the merged arguments.
type Waterfall struct {
	base
}

func (w *Waterfall) Main(ctx context.Context, args ...any) error {
	m, steps, err := w.prepare(args)
	if err != nil {
		return err
	}

	var prev any
	for i, st := range steps {
		stepArgs := st.args
		if i > 0 {
			stepArgs = []any{prev}
		}

		o, err := w.start(ctx, m, st, stepArgs)
		if err != nil {
			return err
		}
		if prev, err = o.Result(ctx); err != nil {
			return err
		}
	}

	w.SetResult(prev)
	return nil
}
