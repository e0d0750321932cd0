package errors

import (
	"fmt"
	"strings"
)

// Kind classifies a TaskError
type Kind string

const (
	// KindInvalidTask marks a registration candidate that does not satisfy the task contract
	KindInvalidTask Kind = "INVALID_TASK"
	// KindInvalidArgument marks a wrong argument shape or arity
	KindInvalidArgument Kind = "INVALID_ARGUMENT"
	// KindUnknownTask marks a lookup, run or delete on an absent or deleted name
	KindUnknownTask Kind = "UNKNOWN_TASK"
	// KindAlreadyExists marks a name collision under the throw load policy
	KindAlreadyExists Kind = "ALREADY_EXISTS"
	// KindObserverAlreadyExists marks a duplicate notification handler
	KindObserverAlreadyExists Kind = "OBSERVER_ALREADY_EXISTS"
	// KindSingletonConstraint marks a singleton combined with suspendable or cancelable
	KindSingletonConstraint Kind = "SINGLETON_CONSTRAINT"
	// KindNotCancelable marks cancel on a task that was not registered as cancelable
	KindNotCancelable Kind = "NOT_CANCELABLE"
	// KindNotSuspendable marks suspend/resume on a task that was not registered as suspendable
	KindNotSuspendable Kind = "NOT_SUSPENDABLE"
	// KindNotImplemented marks a task body that was never overridden
	KindNotImplemented Kind = "NOT_IMPLEMENTED"
	// KindUndefinedManager marks access to a manager before the task was bound
	KindUndefinedManager Kind = "UNDEFINED_MANAGER"
	// KindUndefinedObserver marks access to an observer before the task was run
	KindUndefinedObserver Kind = "UNDEFINED_OBSERVER"
	// KindTaskPanicked marks a task body that panicked
	KindTaskPanicked Kind = "TASK_PANICKED"
)

// TaskError is a structured error with a kind, an optional context and the error it wraps
type TaskError struct {
	Kind          Kind
	Code          string
	Message       string
	Operation     string
	Context       map[string]interface{}
	OriginalError error
}

// Error implements the error interface
func (e *TaskError) Error() string {
	var sb strings.Builder

	msg := e.Message
	if msg == "" {
		msg = defaultMessages[e.Kind]
	}
	sb.WriteString(msg)

	if e.OriginalError != nil {
		sb.WriteString(fmt.Sprintf(": %v", e.OriginalError))
	}
	return sb.String()
}

// Unwrap returns the original error for error chain compatibility
func (e *TaskError) Unwrap() error {
	return e.OriginalError
}

// Is reports whether target is a TaskError of the same kind. This lets the
// package-level sentinels match any error built for that kind.
func (e *TaskError) Is(target error) bool {
	t, ok := target.(*TaskError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New creates a new task error of the given kind
func New(kind Kind, message, operation string) *TaskError {
	return &TaskError{
		Kind:      kind,
		Code:      codes[kind],
		Message:   message,
		Operation: operation,
		Context:   make(map[string]interface{}),
	}
}

// WithContext adds context information to the error
func (e *TaskError) WithContext(key string, value interface{}) *TaskError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithOriginalError adds the original error to the task error
func (e *TaskError) WithOriginalError(err error) *TaskError {
	e.OriginalError = err
	return e
}

var defaultMessages = map[Kind]string{
	KindInvalidTask:           "invalid task",
	KindInvalidArgument:       "invalid argument",
	KindUnknownTask:           "unknown task",
	KindAlreadyExists:         "task already exists",
	KindObserverAlreadyExists: "observer already exists",
	KindSingletonConstraint:   "singleton task cannot be suspendable or cancelable",
	KindNotCancelable:         "task is not cancelable",
	KindNotSuspendable:        "task is not suspendable",
	KindNotImplemented:        "not implemented",
	KindUndefinedManager:      "undefined task manager",
	KindUndefinedObserver:     "undefined observer",
	KindTaskPanicked:          "task panicked",
}

var codes = map[Kind]string{
	KindInvalidTask:           "001",
	KindInvalidArgument:       "002",
	KindUnknownTask:           "003",
	KindAlreadyExists:         "004",
	KindObserverAlreadyExists: "005",
	KindSingletonConstraint:   "006",
	KindNotCancelable:         "007",
	KindNotSuspendable:        "008",
	KindNotImplemented:        "009",
	KindUndefinedManager:      "010",
	KindUndefinedObserver:     "011",
	KindTaskPanicked:          "012",
}

// Sentinels for errors.Is. They carry no message of their own.
var (
	ErrInvalidTask           = &TaskError{Kind: KindInvalidTask}
	ErrInvalidArgument       = &TaskError{Kind: KindInvalidArgument}
	ErrUnknownTask           = &TaskError{Kind: KindUnknownTask}
	ErrAlreadyExists         = &TaskError{Kind: KindAlreadyExists}
	ErrObserverAlreadyExists = &TaskError{Kind: KindObserverAlreadyExists}
	ErrSingletonConstraint   = &TaskError{Kind: KindSingletonConstraint}
	ErrNotCancelable         = &TaskError{Kind: KindNotCancelable}
	ErrNotSuspendable        = &TaskError{Kind: KindNotSuspendable}
	ErrNotImplemented        = &TaskError{Kind: KindNotImplemented}
	ErrUndefinedManager      = &TaskError{Kind: KindUndefinedManager}
	ErrUndefinedObserver     = &TaskError{Kind: KindUndefinedObserver}
	ErrTaskPanicked          = &TaskError{Kind: KindTaskPanicked}
)

// AggregateError collects the failures of every branch of a try flow, in the
// order the branches ran.
type AggregateError struct {
	Errors []error
}

func (e *AggregateError) Error() string {
	if len(e.Errors) == 0 {
		return "all tasks failed"
	}
	parts := make([]string, 0, len(e.Errors))
	for _, err := range e.Errors {
		parts = append(parts, err.Error())
	}
	return fmt.Sprintf("all %d tasks failed: %s", len(e.Errors), strings.Join(parts, "; "))
}

// Unwrap exposes every collected error to errors.Is and errors.As
func (e *AggregateError) Unwrap() []error {
	return e.Errors
}

// UndoError is returned when a failed task's undo hook fails as well. Err is
// the task failure, UndoErr the failure of the undo hook.
type UndoError struct {
	Err     error
	UndoErr error
}

func (e *UndoError) Error() string {
	return fmt.Sprintf("undo failed: %v (task error: %v)", e.UndoErr, e.Err)
}

// Unwrap exposes both errors
func (e *UndoError) Unwrap() []error {
	return []error{e.UndoErr, e.Err}
}
