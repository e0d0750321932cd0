package builtin

import (
	"context"
	"errors"

	"github.com/maxkimambo/taskrun/internal/logger"
	"github.com/maxkimambo/taskrun/internal/task"
)

// Echo resolves with its argument
type Echo struct {
	task.IsomorphicBase
}

func (e *Echo) TaskMetadata() task.Metadata {
	return task.Metadata{
		Name:        "echo",
		Description: "Resolves with its argument",
	}
}

func (e *Echo) Main(ctx context.Context, arg any) error {
	e.SetResult(arg)
	return nil
}

// Fail always fails, with the "message" argument when given
type Fail struct {
	task.IsomorphicBase
}

func (f *Fail) TaskMetadata() task.Metadata {
	return task.Metadata{
		Name:        "fail",
		Description: "Fails with the given message",
	}
}

func (f *Fail) Main(ctx context.Context, arg any) error {
	msg, _ := task.Arg(arg)["message"].(string)
	if msg == "" {
		msg = "task failed"
	}
	return errors.New(msg)
}

func (f *Fail) Undo(ctx context.Context, err error) error {
	logger.Op.WithTask(f.TaskName(), "").Debugf("Nothing to undo after: %v", err)
	return nil
}
