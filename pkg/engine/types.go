package engine

import (
	"context"
	"encoding/json"
)

// UnitState is the build lifecycle state of a unit.
type UnitState string

const (
	// StateUnresolved is the initial state before the factory has produced
	// a concrete unit.
	StateUnresolved UnitState = "unresolved"

	// StateFactorized means the factory produced the unit and it has been
	// inserted into the identity index.
	StateFactorized UnitState = "factorized"

	// StateCacheHit means the unit was restored from the cache and the
	// build step was skipped entirely.
	StateCacheHit UnitState = "cache_hit"

	// StateBuilt means the build capability populated the unit's
	// references.
	StateBuilt UnitState = "built"

	// StateDepsDiscovered means dependency discovery has scheduled all of
	// the unit's reference groups.
	StateDepsDiscovered UnitState = "deps_discovered"

	// StateComplete is the terminal success state.
	StateComplete UnitState = "complete"

	// StateFailed is the terminal failure state.
	StateFailed UnitState = "failed"
)

// IsTerminal reports whether the state is complete or failed.
func (s UnitState) IsTerminal() bool {
	return s == StateComplete || s == StateFailed
}

// ResourceDescriptor names a resource a reference asks for: a category
// (which factory resolves it) plus the resource identifier itself.
type ResourceDescriptor struct {
	// Category selects the factory responsible for this resource.
	Category string `json:"category"`

	// Resource is the requested resource identifier.
	Resource string `json:"resource"`
}

// Key returns the stable string key for grouping and dedup.
func (d ResourceDescriptor) Key() string {
	return d.Category + "!" + d.Resource
}

// Reference is a pointer from a unit (or entry) to a requested resource.
// It is created once, during its owner's build step, and never reassigned
// to a different owner.
type Reference struct {
	// Descriptor names the requested resource.
	Descriptor ResourceDescriptor `json:"descriptor"`

	// Optional marks a reference whose resolution failure is tolerated.
	// A resolution error is demoted to a warning when every requesting
	// reference is optional.
	Optional bool `json:"optional,omitempty"`

	// NonRecursive requests restricted discovery: the target is resolved
	// and built, but its own dependencies are not traversed recursively.
	// Used for include/prefetch style references.
	NonRecursive bool `json:"non_recursive,omitempty"`

	// owner is the unit this reference belongs to; nil for entry
	// references.
	owner *Unit
}

// Owner returns the unit this reference belongs to, or nil for entry
// references.
func (r *Reference) Owner() *Unit {
	return r.owner
}

// ReferenceGroup is a nested, ordered group of references that marks an
// asynchronous load boundary: units reached through it land in a new output
// group rather than the owner's.
type ReferenceGroup struct {
	// Name is the requested name for the asynchronous collection, if any.
	Name string `json:"name,omitempty"`

	// References are the group's outgoing references, in source order.
	References []*Reference `json:"references"`
}

// Generator produces the generated code of a unit for one execution
// context. Units that cannot generate themselves fall back to their raw
// content.
type Generator interface {
	Generate(ctx context.Context, u *Unit, runtime string) ([]byte, error)
}

// BuildMeta is per-unit build metadata: content hashes per execution
// context and sub-artifacts produced during the build.
type BuildMeta struct {
	// Hashes maps execution context name to the unit's content hash in
	// that context.
	Hashes map[string]string `json:"hashes,omitempty"`

	// SubArtifacts names artifacts produced by the unit's own build step.
	SubArtifacts []string `json:"sub_artifacts,omitempty"`
}

// Unit is a build item with a stable string identity and a build lifecycle.
// Units are owned exclusively by the compilation's identity-keyed index;
// identity dedup is enforced at insertion and a unit instance is never
// duplicated.
type Unit struct {
	// Identity is the stable string identity.
	Identity string `json:"identity"`

	// State is the current build lifecycle state.
	State UnitState `json:"state"`

	// Content is the unit's own content after the build step.
	Content []byte `json:"content,omitempty"`

	// References are the unit's ordered outgoing references.
	References []*Reference `json:"references,omitempty"`

	// Groups are nested reference groups marking asynchronous boundaries.
	Groups []*ReferenceGroup `json:"groups,omitempty"`

	// FactoryMeta is factory-supplied metadata. On identity dedup this is
	// the only state merged into the surviving instance.
	FactoryMeta map[string]string `json:"factory_meta,omitempty"`

	// BuildMeta carries per-context hashes and produced sub-artifacts.
	BuildMeta BuildMeta `json:"build_meta"`

	// CodegenDeps lists identities whose generated output this unit's
	// generated code depends on.
	CodegenDeps []string `json:"codegen_deps,omitempty"`

	// Partial marks a unit materialized by non-recursive discovery whose
	// transitive dependencies have not been constructed.
	Partial bool `json:"partial,omitempty"`

	// Generator produces the unit's code; nil means raw content
	// passthrough.
	Generator Generator `json:"-"`

	// Errors and Warnings attached to this unit during its lifecycle.
	Errors   []*Error `json:"-"`
	Warnings []*Error `json:"-"`
}

// NewUnit creates a unit in the factorized state.
func NewUnit(identity string) *Unit {
	return &Unit{
		Identity: identity,
		State:    StateFactorized,
	}
}

// AddReference appends an outgoing reference and claims ownership of it.
// It panics if the reference already belongs to another unit, because a
// reference is created once and never reassigned.
func (u *Unit) AddReference(ref *Reference) {
	if ref.owner != nil && ref.owner != u {
		panic("engine: reference already owned by " + ref.owner.Identity)
	}
	ref.owner = u
	u.References = append(u.References, ref)
}

// AddGroup appends an asynchronous reference group, claiming ownership of
// every reference in it.
func (u *Unit) AddGroup(group *ReferenceGroup) {
	for _, ref := range group.References {
		if ref.owner != nil && ref.owner != u {
			panic("engine: reference already owned by " + ref.owner.Identity)
		}
		ref.owner = u
	}
	u.Groups = append(u.Groups, group)
}

// AllReferences returns the unit's direct references followed by the
// references of its asynchronous groups, in source order.
func (u *Unit) AllReferences() []*Reference {
	if len(u.Groups) == 0 {
		return u.References
	}
	refs := make([]*Reference, 0, len(u.References))
	refs = append(refs, u.References...)
	for _, g := range u.Groups {
		refs = append(refs, g.References...)
	}
	return refs
}

// MergeFactoryMeta merges factory-supplied metadata from a discarded
// duplicate instance without overwriting existing keys.
func (u *Unit) MergeFactoryMeta(meta map[string]string) {
	if len(meta) == 0 {
		return
	}
	if u.FactoryMeta == nil {
		u.FactoryMeta = make(map[string]string, len(meta))
	}
	for k, v := range meta {
		if _, ok := u.FactoryMeta[k]; !ok {
			u.FactoryMeta[k] = v
		}
	}
}

// snapshot is the serializable portion of a unit persisted to the cache
// after a successful build and restored on a cache hit.
type snapshot struct {
	Identity    string            `json:"identity"`
	Content     []byte            `json:"content,omitempty"`
	References  []refSnapshot     `json:"references,omitempty"`
	Groups      []groupSnapshot   `json:"groups,omitempty"`
	FactoryMeta map[string]string `json:"factory_meta,omitempty"`
	BuildMeta   BuildMeta         `json:"build_meta"`
	CodegenDeps []string          `json:"codegen_deps,omitempty"`
}

type refSnapshot struct {
	Descriptor   ResourceDescriptor `json:"descriptor"`
	Optional     bool               `json:"optional,omitempty"`
	NonRecursive bool               `json:"non_recursive,omitempty"`
}

type groupSnapshot struct {
	Name       string        `json:"name,omitempty"`
	References []refSnapshot `json:"references,omitempty"`
}

// MarshalSnapshot serializes the unit's cacheable state.
func (u *Unit) MarshalSnapshot() ([]byte, error) {
	snap := snapshot{
		Identity:    u.Identity,
		Content:     u.Content,
		FactoryMeta: u.FactoryMeta,
		BuildMeta:   u.BuildMeta,
		CodegenDeps: u.CodegenDeps,
	}
	for _, ref := range u.References {
		snap.References = append(snap.References, refSnapshot{
			Descriptor:   ref.Descriptor,
			Optional:     ref.Optional,
			NonRecursive: ref.NonRecursive,
		})
	}
	for _, g := range u.Groups {
		gs := groupSnapshot{Name: g.Name}
		for _, ref := range g.References {
			gs.References = append(gs.References, refSnapshot{
				Descriptor:   ref.Descriptor,
				Optional:     ref.Optional,
				NonRecursive: ref.NonRecursive,
			})
		}
		snap.Groups = append(snap.Groups, gs)
	}
	return json.Marshal(snap)
}

// RestoreSnapshot repopulates the unit from cached state, recreating its
// reference list and asynchronous groups.
func (u *Unit) RestoreSnapshot(data []byte) error {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	if snap.Identity != u.Identity {
		return NewInternalError("cache snapshot identity mismatch", nil).WithUnit(u.Identity)
	}
	u.Content = snap.Content
	u.FactoryMeta = snap.FactoryMeta
	u.BuildMeta = snap.BuildMeta
	u.CodegenDeps = snap.CodegenDeps
	u.References = nil
	u.Groups = nil
	for _, rs := range snap.References {
		u.AddReference(&Reference{
			Descriptor:   rs.Descriptor,
			Optional:     rs.Optional,
			NonRecursive: rs.NonRecursive,
		})
	}
	for _, gs := range snap.Groups {
		group := &ReferenceGroup{Name: gs.Name}
		for _, rs := range gs.References {
			group.References = append(group.References, &Reference{
				Descriptor:   rs.Descriptor,
				Optional:     rs.Optional,
				NonRecursive: rs.NonRecursive,
			})
		}
		u.AddGroup(group)
	}
	return nil
}
