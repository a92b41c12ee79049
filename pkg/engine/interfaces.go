package engine

import (
	"context"
)

// ResolveOptions carries the discovery mode a resolution was requested
// under.
type ResolveOptions struct {
	// NonRecursive restricts discovery: the resolved unit is built but its
	// own dependencies are not traversed.
	NonRecursive bool
}

// ResolveRequest is the input to a factory: the set of references that
// requested the same resource, grouped by (factory, resource descriptor) to
// avoid duplicate resolution.
type ResolveRequest struct {
	// Descriptor names the requested resource.
	Descriptor ResourceDescriptor

	// References are the requesting references. Resolution failure is
	// demoted to a warning when all of them are optional.
	References []*Reference

	// Options is the discovery mode.
	Options ResolveOptions
}

// Factory maps a set of references to a concrete unit or an error.
// Resolution logic itself is external to the engine.
type Factory interface {
	Resolve(ctx context.Context, req ResolveRequest) (*Unit, error)
}

// Builder is the external build/parse capability. Build populates the
// unit's reference list and content; NeedsRebuild is the external
// change-detection predicate consulted before building.
type Builder interface {
	NeedsRebuild(ctx context.Context, u *Unit) (bool, error)
	Build(ctx context.Context, u *Unit) error
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func(ctx context.Context, req ResolveRequest) (*Unit, error)

// Resolve implements Factory.
func (f FactoryFunc) Resolve(ctx context.Context, req ResolveRequest) (*Unit, error) {
	return f(ctx, req)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, u *Unit, runtime string) ([]byte, error)

// Generate implements Generator.
func (f GeneratorFunc) Generate(ctx context.Context, u *Unit, runtime string) ([]byte, error) {
	return f(ctx, u, runtime)
}

// Hooks are ordered lists of typed callbacks registered at construction.
// All hook state is owned by the compilation; callbacks run synchronously
// on the goroutine that reached the hook point and must not retain the
// mutable graph.
type Hooks struct {
	// UnitResolved fires after a fresh unit is inserted into the graph.
	UnitResolved []func(u *Unit)

	// UnitCacheHit fires when a unit is restored from the cache and the
	// build step is skipped.
	UnitCacheHit []func(u *Unit)

	// UnitBuilt fires after the build capability populated a unit.
	UnitBuilt []func(u *Unit)

	// UnitComplete fires when a unit reaches its terminal success state.
	UnitComplete []func(u *Unit)

	// MakeDone fires once the dependency graph is complete, before seal.
	MakeDone []func(g *UnitGraph)
}

func (h *Hooks) unitResolved(u *Unit) {
	for _, fn := range h.UnitResolved {
		fn(u)
	}
}

func (h *Hooks) unitCacheHit(u *Unit) {
	for _, fn := range h.UnitCacheHit {
		fn(u)
	}
}

func (h *Hooks) unitBuilt(u *Unit) {
	for _, fn := range h.UnitBuilt {
		fn(u)
	}
}

func (h *Hooks) unitComplete(u *Unit) {
	for _, fn := range h.UnitComplete {
		fn(u)
	}
}

func (h *Hooks) makeDone(g *UnitGraph) {
	for _, fn := range h.MakeDone {
		fn(g)
	}
}
