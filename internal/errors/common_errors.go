package errors

import "fmt"

// NewUnknownTaskError creates an error for a name that is not registered
func NewUnknownTaskError(name, operation string) *TaskError {
	return New(KindUnknownTask, fmt.Sprintf("unknown task '%s'", name), operation).
		WithContext("task", name)
}

// NewAlreadyExistsError creates an error for a name collision
func NewAlreadyExistsError(name string) *TaskError {
	return New(KindAlreadyExists, fmt.Sprintf("task already exists: %s", name), "register task").
		WithContext("task", name)
}

// NewInvalidTaskError creates an error for a candidate that cannot be registered
func NewInvalidTaskError(reason string) *TaskError {
	return New(KindInvalidTask, fmt.Sprintf("invalid task: %s", reason), "register task")
}

// NewInvalidArgumentError creates an error for a bad argument shape
func NewInvalidArgumentError(reason, operation string) *TaskError {
	return New(KindInvalidArgument, fmt.Sprintf("invalid argument: %s", reason), operation)
}

// NewSingletonConstraintError creates an error for a singleton that asks for suspend or cancel support
func NewSingletonConstraintError(name, capability string) *TaskError {
	return New(KindSingletonConstraint, fmt.Sprintf("singleton task cannot be %s", capability), "register task").
		WithContext("task", name)
}

// NewNotCancelableError creates an error for cancel on a non-cancelable run
func NewNotCancelableError(name string) *TaskError {
	return New(KindNotCancelable, "task is not cancelable", "cancel").
		WithContext("task", name)
}

// NewNotSuspendableError creates an error for suspend or resume on a non-suspendable run
func NewNotSuspendableError(name, operation string) *TaskError {
	return New(KindNotSuspendable, "task is not suspendable", operation).
		WithContext("task", name)
}

// NewPanicError wraps a recovered panic value
func NewPanicError(name string, recovered interface{}) *TaskError {
	return New(KindTaskPanicked, fmt.Sprintf("task '%s' panicked: %v", name, recovered), "run").
		WithContext("task", name)
}

// IsUserError reports whether the error was caused by how the engine was called
// rather than by a task body.
func IsUserError(err error) bool {
	if taskErr, ok := err.(*TaskError); ok {
		switch taskErr.Kind {
		case KindInvalidTask, KindInvalidArgument, KindUnknownTask, KindAlreadyExists,
			KindObserverAlreadyExists, KindSingletonConstraint:
			return true
		}
	}
	return false
}
