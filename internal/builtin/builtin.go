// Package builtin holds the small tasks every taskrun manager can run
// without a manifest.
package builtin

import (
	"github.com/maxkimambo/taskrun/internal/task"
)

// Catalog returns the built-in task prototypes keyed by their registered name
func Catalog() map[string]any {
	return map[string]any{
		"echo":  &Echo{},
		"sleep": &Sleep{},
		"fail":  &Fail{},
	}
}

// Register adds every built-in task to m
func Register(m *task.Manager) error {
	return m.AddTasks(
		task.Options{Task: &Echo{}},
		task.Options{Task: &Sleep{}},
		task.Options{Task: &Fail{}},
	)
}
