package flow

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	taskerrors "github.com/maxkimambo/taskrun/internal/errors"
	"github.com/maxkimambo/taskrun/internal/task"
)

// Layouter is implemented by every flow task
type Layouter interface {
	Layout() (Kind, *Spec)
}

// NodeType classifies a graph node
type NodeType string

const (
	NodeFlow       NodeType = "flow"
	NodeTask       NodeType = "task"
	NodeInline     NodeType = "inline"
	NodeDefinition NodeType = "definition"
)

// Node is a task or flow in a flow graph
type Node struct {
	ID    string    `json:"id"`
	Label string    `json:"label"`
	Type  NodeType  `json:"type"`
	Flow  Kind      `json:"flow,omitempty"`
	Args  task.Args `json:"args,omitempty"`
	Note  string    `json:"note,omitempty"`
	Steps []*Node   `json:"steps,omitempty"`
}

// Edge is an ordering between two nodes: From starts To in a parallel-style
// flow, or runs before it in a sequential one.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Graph is the expanded structure of a registered task
type Graph struct {
	Root  *Node  `json:"root"`
	Edges []Edge `json:"edges"`
}

type grapher struct {
	m     *task.Manager
	next  int
	edges []Edge
}

// Describe expands the named task into a graph. Named steps that are preset
// flows are expanded in place; a flow nested inside itself is not expanded
// again.
func Describe(m *task.Manager, name string) (*Graph, error) {
	if !m.HasTask(name) {
		return nil, taskerrors.NewUnknownTaskError(name, "describe")
	}
	g := &grapher{m: m}
	root, err := g.named(name, nil, map[string]bool{})
	if err != nil {
		return nil, err
	}
	return &Graph{Root: root, Edges: g.edges}, nil
}

func (g *grapher) node(label string, typ NodeType) *Node {
	n := &Node{ID: fmt.Sprintf("n%d", g.next), Label: label, Type: typ}
	g.next++
	return n
}

func (g *grapher) named(name string, args task.Args, stack map[string]bool) (*Node, error) {
	factory, err := g.m.GetTaskFactory(name)
	if err != nil {
		if errors.Is(err, taskerrors.ErrUnknownTask) {
			n := g.node(name, NodeTask)
			n.Args = args
			n.Note = "not registered"
			return n, nil
		}
		return nil, err
	}

	layouter, ok := factory().(Layouter)
	if !ok {
		n := g.node(name, NodeTask)
		n.Args = args
		return n, nil
	}

	kind, spec := layouter.Layout()
	n := g.node(name, NodeFlow)
	n.Flow = kind
	n.Args = args
	switch {
	case spec == nil:
		n.Note = "steps given per run"
		return n, nil
	case stack[name]:
		n.Note = "recursive"
		return n, nil
	}

	stack[name] = true
	defer delete(stack, name)

	if len(spec.Arg) > 0 {
		n.Args = mergeArgs(spec.Arg, args)
	}

	for _, item := range spec.Tasks {
		var child *Node
		switch item.kind {
		case itemInline:
			child = g.node(item.String(), NodeInline)
			child.Args = item.args
		case itemDefinition:
			child = g.node(item.String(), NodeDefinition)
			child.Args = item.args
		default:
			if child, err = g.named(item.name, item.args, stack); err != nil {
				return nil, err
			}
		}
		n.Steps = append(n.Steps, child)
	}
	g.link(n, kind)
	return n, nil
}

// link records the edges of a flow node: a chain for sequential kinds and a
// fan-out for the others.
func (g *grapher) link(n *Node, kind Kind) {
	sequential := kind == KindSeries || kind == KindWaterfall
	prev := n
	for _, step := range n.Steps {
		g.edges = append(g.edges, Edge{From: prev.ID, To: step.ID})
		if sequential {
			prev = step
		}
	}
}

// Text renders the graph as an indented tree
func (gr *Graph) Text() string {
	var sb strings.Builder
	writeTree(&sb, gr.Root, "", "")
	return sb.String()
}

func writeTree(sb *strings.Builder, n *Node, prefix, childPrefix string) {
	sb.WriteString(prefix)
	sb.WriteString(describeNode(n))
	sb.WriteString("\n")

	for i, step := range n.Steps {
		if i == len(n.Steps)-1 {
			writeTree(sb, step, childPrefix+"└── ", childPrefix+"    ")
		} else {
			writeTree(sb, step, childPrefix+"├── ", childPrefix+"│   ")
		}
	}
}

func describeNode(n *Node) string {
	s := n.Label
	if n.Type == NodeFlow {
		s += fmt.Sprintf(" [%s]", n.Flow)
	}
	if len(n.Args) > 0 {
		s += " " + formatArgs(n.Args)
	}
	if n.Note != "" {
		s += fmt.Sprintf(" (%s)", n.Note)
	}
	return s
}

func formatArgs(args task.Args) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, args[k]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// DOT renders the graph in Graphviz format
func (gr *Graph) DOT() string {
	var sb strings.Builder
	sb.WriteString("digraph flow {\n")
	sb.WriteString("  rankdir=LR;\n")
	sb.WriteString("  node [shape=box, style=filled];\n\n")

	var walk func(n *Node)
	walk = func(n *Node) {
		color := "lightgrey"
		switch n.Type {
		case NodeFlow:
			color = "lightblue"
		case NodeInline, NodeDefinition:
			color = "lightyellow"
		}
		if n.Note == "not registered" {
			color = "salmon"
		}
		label := strings.ReplaceAll(describeNode(n), `"`, `\"`)
		fmt.Fprintf(&sb, "  %q [label=\"%s\", fillcolor=%q];\n", n.ID, label, color)
		for _, step := range n.Steps {
			walk(step)
		}
	}
	walk(gr.Root)

	sb.WriteString("\n")
	for _, e := range gr.Edges {
		fmt.Fprintf(&sb, "  %q -> %q;\n", e.From, e.To)
	}
	sb.WriteString("}\n")
	return sb.String()
}
