package flow

import (
	"context"
	"fmt"

	"github.com/maxkimambo/taskrun/internal/task"
)

// Builder assembles a flow spec step by step and validates it
type Builder struct {
	kind  Kind
	items []Item
	arg   task.Args
}

// NewBuilder creates a builder for a flow of the given kind
func NewBuilder(kind Kind) *Builder {
	return &Builder{kind: kind}
}

// Task adds a registered task as the next step
func (b *Builder) Task(name string, args task.Args) *Builder {
	b.items = append(b.items, Named(name).WithArgs(args))
	return b
}

// Func adds an inline function as the next step
func (b *Builder) Func(fn task.TaskFunc, args task.Args) *Builder {
	b.items = append(b.items, Inline(fn).WithArgs(args))
	return b
}

// Define adds a one-off task definition as the next step
func (b *Builder) Define(def any, args task.Args) *Builder {
	b.items = append(b.items, Define(def).WithArgs(args))
	return b
}

// Arg sets the argument shared by every step
func (b *Builder) Arg(arg task.Args) *Builder {
	b.arg = arg
	return b
}

// Build validates the steps and returns the spec
func (b *Builder) Build() (Spec, error) {
	if _, err := newFlow(b.kind, nil); err != nil {
		return Spec{}, err
	}
	for i, item := range b.items {
		if err := validateItem(item); err != nil {
			return Spec{}, fmt.Errorf("step %d: %w", i, err)
		}
	}

	items := make([]Item, len(b.items))
	copy(items, b.items)
	return Spec{Tasks: items, Arg: b.arg}, nil
}

// ShowOrder returns the planned steps without building the spec
func (b *Builder) ShowOrder() []string {
	order := make([]string, 0, len(b.items))
	for _, item := range b.items {
		order = append(order, item.String())
	}
	return order
}

// Run builds the spec and runs it as a one-off flow on m
func (b *Builder) Run(ctx context.Context, m *task.Manager) (*task.Observer, error) {
	spec, err := b.Build()
	if err != nil {
		return nil, err
	}
	return Run(ctx, m, b.kind, spec)
}

func validateItem(item Item) error {
	switch item.kind {
	case itemNamed:
		if item.name == "" {
			return fmt.Errorf("task name is empty")
		}
	case itemInline:
		if item.fn == nil {
			return fmt.Errorf("inline function is nil")
		}
	case itemDefinition:
		if item.def == nil {
			return fmt.Errorf("task definition is nil")
		}
	}
	return nil
}
