package flow

import (
	"context"

	taskerrors "github.com/maxkimambo/taskrun/internal/errors"
	"github.com/maxkimambo/taskrun/internal/logger"
)

// Try runs its steps in order until one succeeds. If every step fails the
// flow fails with all their errors in order.
type Try struct {
	base
}

func (t *Try) Main(ctx context.Context, args ...any) error {
	m, steps, err := t.prepare(args)
	if err != nil {
		return err
	}

	var errs []error
	for _, st := range steps {
		o, err := t.start(ctx, m, st, st.args)
		if err != nil {
			return err
		}

		v, err := o.Result(ctx)
		if err == nil {
			t.SetResult(v)
			return nil
		}
		logger.Op.WithTask(t.TaskName(), "").WithField("step", st.item.String()).Debugf("Step failed, trying next: %v", err)
		errs = append(errs, err)
	}
	return &taskerrors.AggregateError{Errors: errs}
}
