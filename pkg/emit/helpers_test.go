package emit

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/xtzx/Fork-webpack-sub002/pkg/engine"
)

// fixtureRef describes one reference a fixture unit emits at build time.
type fixtureRef struct {
	resource     string
	optional     bool
	nonRecursive bool
	group        string
}

// fixtureFile is one resource of the fixture universe.
type fixtureFile struct {
	content     string
	refs        []fixtureRef
	codegenDeps []string
	generator   engine.Generator
}

// fixture is an in-memory resource universe acting as factory and builder.
type fixture map[string]fixtureFile

func (f fixture) Resolve(_ context.Context, req engine.ResolveRequest) (*engine.Unit, error) {
	if _, ok := f[req.Descriptor.Resource]; !ok {
		return nil, fmt.Errorf("no such resource: %s", req.Descriptor.Resource)
	}
	return engine.NewUnit(req.Descriptor.Resource), nil
}

func (f fixture) NeedsRebuild(_ context.Context, u *engine.Unit) (bool, error) {
	return u.Content == nil, nil
}

func (f fixture) Build(_ context.Context, u *engine.Unit) error {
	file, ok := f[u.Identity]
	if !ok {
		return fmt.Errorf("no such resource: %s", u.Identity)
	}
	u.Content = []byte(file.content)
	u.CodegenDeps = file.codegenDeps
	u.Generator = file.generator

	groups := make(map[string]*engine.ReferenceGroup)
	var order []string
	for _, r := range file.refs {
		ref := &engine.Reference{
			Descriptor:   engine.ResourceDescriptor{Category: "module", Resource: r.resource},
			Optional:     r.optional,
			NonRecursive: r.nonRecursive,
		}
		if r.group == "" {
			u.AddReference(ref)
			continue
		}
		g, ok := groups[r.group]
		if !ok {
			g = &engine.ReferenceGroup{Name: r.group}
			groups[r.group] = g
			order = append(order, r.group)
		}
		g.References = append(g.References, ref)
	}
	for _, name := range order {
		u.AddGroup(groups[name])
	}
	return nil
}

// makeCompilation runs the make phase over the fixture and fails the test on
// any compilation error.
func makeCompilation(t *testing.T, files fixture, entries []engine.EntryDeclaration) *engine.Compilation {
	t.Helper()
	c := engine.NewCompilation(engine.CompilationConfig{
		Factory: files,
		Builder: files,
		Logger:  zerolog.Nop(),
	})
	if err := c.Make(context.Background(), entries); err != nil {
		t.Fatalf("make: %v", err)
	}
	if errs := c.Errors(); len(errs) != 0 {
		t.Fatalf("make errors: %v", errs)
	}
	return c
}

func entryOf(name string, resources ...string) engine.EntryDeclaration {
	e := engine.EntryDeclaration{Name: name}
	for _, r := range resources {
		e.References = append(e.References, engine.ResourceDescriptor{Category: "module", Resource: r})
	}
	return e
}

// buildOutputGraph runs the full graph-building step with default passes.
func buildOutputGraph(t *testing.T, files fixture, entries []engine.EntryDeclaration, policy Policy) (*engine.Compilation, *OutputGraph) {
	t.Helper()
	comp := makeCompilation(t, files, entries)
	builder := NewGraphBuilder(comp, entries, policy, zerolog.Nop())
	og, err := builder.Build(comp, DefaultPasses(policy))
	if err != nil {
		t.Fatalf("build output graph: %v", err)
	}
	return comp, og
}

// recordingReporter collects reported errors and warnings for direct tests
// of seal-phase components.
type recordingReporter struct {
	mu           sync.Mutex
	errors       []*engine.Error
	warnings     []*engine.Error
	inconsistent bool
}

func (r *recordingReporter) AddError(e *engine.Error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, e)
}

func (r *recordingReporter) AddWarning(e *engine.Error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warnings = append(r.warnings, e)
}

func (r *recordingReporter) MarkInconsistent() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inconsistent = true
}

// countingGenerator counts Generate invocations and emits a fixed prefix.
type countingGenerator struct {
	mu    sync.Mutex
	calls int
}

func (g *countingGenerator) Generate(_ context.Context, u *engine.Unit, runtime string) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return []byte("gen:" + u.Identity + "@" + runtime), nil
}

func (g *countingGenerator) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func groupNames(groups []*Group) []string {
	names := make([]string, len(groups))
	for i, g := range groups {
		names[i] = g.Name
	}
	return names
}

func findGroup(og *OutputGraph, name string) *Group {
	for _, g := range og.Groups() {
		if g.Name == name {
			return g
		}
	}
	return nil
}
