// Package loader turns task manifests on disk into task registrations.
package loader

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	taskerrors "github.com/maxkimambo/taskrun/internal/errors"
	"github.com/maxkimambo/taskrun/internal/flow"
	"github.com/maxkimambo/taskrun/internal/logger"
	"github.com/maxkimambo/taskrun/internal/task"
)

// DefaultExtensions are the manifest file extensions a directory walk picks up
var DefaultExtensions = []string{".yaml", ".yml"}

// Manifest is the document format of a manifest file
type Manifest struct {
	Defaults Policy  `yaml:"defaults"`
	Tasks    []Entry `yaml:"tasks"`
}

// Policy is the run policy of an entry. The manifest's defaults fill every
// field an entry leaves unset.
type Policy struct {
	Suspendable *bool  `yaml:"suspendable"`
	Cancelable  *bool  `yaml:"cancelable"`
	Singleton   *bool  `yaml:"singleton"`
	Concurrency int    `yaml:"concurrency"`
	Interval    string `yaml:"interval"`
	OnConflict  string `yaml:"on_conflict"`
}

// Entry declares one task. Exactly one of Uses and Flow is set: Uses names a
// catalog task to register under Name, Flow a composition kind whose steps
// are listed in Tasks. Args is the flow's shared argument and is rejected on
// Uses entries.
type Entry struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Uses        string    `yaml:"uses"`
	Flow        flow.Kind `yaml:"flow"`
	Tasks       []Step    `yaml:"tasks"`
	Args        task.Args `yaml:"args"`
	Policy      `yaml:",inline"`
}

// Step is a flow step. In YAML it is either a bare task name or a mapping
// with name and args.
type Step struct {
	Name string    `yaml:"name"`
	Args task.Args `yaml:"args"`
}

func (s *Step) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		return node.Decode(&s.Name)
	}
	type plain Step
	return node.Decode((*plain)(s))
}

// ManifestLoader reads YAML manifests. A location is a manifest file or a
// directory searched recursively for files with one of Extensions.
type ManifestLoader struct {
	// Catalog maps the names usable in "uses" to task candidates
	Catalog map[string]any
	// Extensions defaults to DefaultExtensions
	Extensions []string
	// Filter, when set, keeps only the entries it accepts
	Filter func(name string) bool
}

// NewManifestLoader creates a loader resolving "uses" against catalog
func NewManifestLoader(catalog map[string]any) *ManifestLoader {
	return &ManifestLoader{Catalog: catalog}
}

// Load implements task.Loader
func (l *ManifestLoader) Load(ctx context.Context, location string) ([]task.Options, error) {
	info, err := os.Stat(location)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return l.loadFile(location)
	}

	files, err := l.findManifests(ctx, location)
	if err != nil {
		return nil, err
	}

	var all []task.Options
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		opts, err := l.loadFile(path)
		if err != nil {
			return nil, err
		}
		all = append(all, opts...)
	}
	return all, nil
}

func (l *ManifestLoader) findManifests(ctx context.Context, dir string) ([]string, error) {
	exts := l.Extensions
	if len(exts) == 0 {
		exts = DefaultExtensions
	}

	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		for _, e := range exts {
			if ext == e {
				files = append(files, path)
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func (l *ManifestLoader) loadFile(path string) ([]task.Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	opts := make([]task.Options, 0, len(m.Tasks))
	for i, entry := range m.Tasks {
		if l.Filter != nil && !l.Filter(entry.Name) {
			logger.Op.WithTask(entry.Name, "").Debug("Manifest entry filtered out")
			continue
		}
		if err := mergo.Merge(&entry.Policy, m.Defaults, mergo.WithoutDereference); err != nil {
			return nil, fmt.Errorf("%s: entry %d: failed to apply defaults: %w", path, i, err)
		}
		o, err := l.options(entry)
		if err != nil {
			return nil, fmt.Errorf("%s: entry %d: %w", path, i, err)
		}
		opts = append(opts, o)
	}

	logger.Op.WithFields(map[string]interface{}{
		"file":  path,
		"count": len(opts),
	}).Debug("Manifest parsed")
	return opts, nil
}

// options converts a manifest entry into registration options
func (l *ManifestLoader) options(e Entry) (task.Options, error) {
	const op = "load manifest"

	if e.Name == "" {
		return task.Options{}, taskerrors.NewInvalidArgumentError("entry has no name", op)
	}

	o := task.Options{
		Name:        e.Name,
		Description: e.Description,
		Suspendable: e.Suspendable,
		Cancelable:  e.Cancelable,
		Singleton:   e.Singleton,
		Concurrency: e.Concurrency,
		LoadPolicy:  task.LoadPolicy(e.OnConflict),
	}
	if e.Interval != "" {
		d, err := time.ParseDuration(e.Interval)
		if err != nil {
			return task.Options{}, taskerrors.NewInvalidArgumentError(fmt.Sprintf("bad interval %q", e.Interval), op).
				WithContext("task", e.Name).
				WithOriginalError(err)
		}
		o.Interval = d
	}

	switch {
	case e.Uses != "" && e.Flow != "":
		return task.Options{}, taskerrors.NewInvalidArgumentError("uses and flow are mutually exclusive", op).
			WithContext("task", e.Name)

	case e.Uses != "":
		if len(e.Args) > 0 {
			return task.Options{}, taskerrors.NewInvalidArgumentError("args only apply to flow entries", op).
				WithContext("task", e.Name)
		}
		candidate, ok := l.Catalog[e.Uses]
		if !ok {
			return task.Options{}, taskerrors.NewUnknownTaskError(e.Uses, op)
		}
		o.Task = candidate

	case e.Flow != "":
		factory, err := flowFactory(e)
		if err != nil {
			return task.Options{}, err
		}
		o.Task = factory
		if o.Cancelable == nil {
			o.Cancelable = task.Bool(e.Flow.Cancelable())
		}

	default:
		return task.Options{}, taskerrors.NewInvalidArgumentError("entry needs uses or flow", op).
			WithContext("task", e.Name)
	}
	return o, nil
}

func flowFactory(e Entry) (task.Factory, error) {
	items := make([]flow.Item, 0, len(e.Tasks))
	for i, s := range e.Tasks {
		if s.Name == "" {
			return nil, taskerrors.NewInvalidArgumentError(fmt.Sprintf("step %d has no task name", i), "load manifest").
				WithContext("task", e.Name)
		}
		items = append(items, flow.Named(s.Name).WithArgs(s.Args))
	}
	return flow.Preset(e.Flow, &flow.Spec{Tasks: items, Arg: e.Args})
}
