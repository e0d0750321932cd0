package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// DisplayErrorSummary provides a brief summary of the error for logs
func DisplayErrorSummary(err error) string {
	var taskErr *TaskError
	if errors.As(err, &taskErr) {
		return fmt.Sprintf("%s-%s: %s", taskErr.Kind, taskErr.Code, taskErr.Error())
	}

	errStr := err.Error()
	if len(errStr) > 100 {
		return errStr[:97] + "..."
	}
	return errStr
}

// FormatForCLI formats an error for command-line display with proper spacing
func FormatForCLI(err error) string {
	var aggErr *AggregateError
	if errors.As(err, &aggErr) {
		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("\nError: %d tasks failed\n", len(aggErr.Errors)))
		for i, e := range aggErr.Errors {
			sb.WriteString(fmt.Sprintf("  %d. %v\n", i+1, e))
		}
		return sb.String()
	}

	var taskErr *TaskError
	if !errors.As(err, &taskErr) {
		return fmt.Sprintf("\nError: %v\n", err)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("\nError [%s-%s]\n", taskErr.Kind, taskErr.Code))
	sb.WriteString(fmt.Sprintf("  %s\n", taskErr.Error()))

	if taskErr.Operation != "" {
		sb.WriteString(fmt.Sprintf("\nFailed Operation: %s\n", taskErr.Operation))
	}

	if len(taskErr.Context) > 0 {
		keys := make([]string, 0, len(taskErr.Context))
		for key := range taskErr.Context {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		sb.WriteString("\nDetails:\n")
		for _, key := range keys {
			sb.WriteString(fmt.Sprintf("  %s: %v\n", key, taskErr.Context[key]))
		}
	}

	return sb.String()
}

// GetErrorCode extracts the error code for reporting
func GetErrorCode(err error) string {
	var taskErr *TaskError
	if errors.As(err, &taskErr) {
		return fmt.Sprintf("%s-%s", taskErr.Kind, taskErr.Code)
	}
	return "UNKNOWN"
}
