// Package emit implements the seal phase: it projects a completed unit
// graph into output groups and collections honoring asynchronous load
// boundaries, runs optimization passes to a fixpoint, assigns deterministic
// identifiers, computes content hashes in dependency order, and generates
// the final artifacts.
package emit

import (
	"sort"
	"strconv"

	"github.com/xtzx/Fork-webpack-sub002/pkg/engine"
)

// GroupKind distinguishes how a group came to exist.
type GroupKind string

const (
	// GroupEntry is the group created for one entry declaration.
	GroupEntry GroupKind = "entry"

	// GroupAsync is a group opened at an asynchronous load boundary.
	GroupAsync GroupKind = "async"

	// GroupRuntime is a group that only carries a shared execution
	// context's bootstrap code.
	GroupRuntime GroupKind = "runtime"

	// GroupShared is a group produced by an optimization pass extracting
	// units shared across several groups.
	GroupShared GroupKind = "shared"
)

// Group is an output group: the set of units destined for one emitted
// artifact.
type Group struct {
	// Name is the group's stable name, used for deterministic ordering.
	Name string

	// Kind records how the group was created.
	Kind GroupKind

	// Runtime is the execution context the group's code runs under.
	Runtime string

	// HasRuntime marks groups that emit bootstrap/runtime code for their
	// collection and therefore hash after the groups they reference.
	HasRuntime bool

	// Hash is the group's content hash, set by the hashing pipeline.
	Hash string

	id    int
	hasID bool

	units map[string]*engine.Unit

	// collections the group belongs to.
	collections []*Collection
}

// ID returns the deterministic identifier assigned at freeze. It panics if
// called before identifier assignment, because ids are only stable for a
// frozen graph.
func (g *Group) ID() int {
	if !g.hasID {
		panic("emit: group id requested before freeze: " + g.Name)
	}
	return g.id
}

// Units returns the group's units sorted by identity.
func (g *Group) Units() []*engine.Unit {
	ids := make([]string, 0, len(g.units))
	for id := range g.units {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	units := make([]*engine.Unit, len(ids))
	for i, id := range ids {
		units[i] = g.units[id]
	}
	return units
}

// Size returns the number of units in the group.
func (g *Group) Size() int {
	return len(g.units)
}

// Has reports whether the group contains the identity.
func (g *Group) Has(identity string) bool {
	_, ok := g.units[identity]
	return ok
}

// Collections returns the collections this group belongs to.
func (g *Group) Collections() []*Collection {
	return append([]*Collection(nil), g.collections...)
}

// Collection is an ordered set of output groups reachable from one load
// point: an entrypoint or an asynchronous load group. Parent/child links
// record load order between collections.
type Collection struct {
	// Name is the collection name (entry name or async boundary name).
	Name string

	// Groups are the member groups in creation order.
	Groups []*Group

	// Parents and Children are load-order links to other collections.
	Parents  []*Collection
	Children []*Collection
}

func (c *Collection) addGroup(g *Group) {
	for _, existing := range c.Groups {
		if existing == g {
			return
		}
	}
	c.Groups = append(c.Groups, g)
	g.collections = append(g.collections, c)
}

func (c *Collection) linkChild(child *Collection) {
	for _, existing := range c.Children {
		if existing == child {
			return
		}
	}
	c.Children = append(c.Children, child)
	child.Parents = append(child.Parents, c)
}

// OutputGraph is the projection of a completed unit graph into output
// groups. It is a pure function of (unit graph, entry declarations,
// splitting policy): identical inputs produce an identical graph,
// identifiers included.
type OutputGraph struct {
	// UnitGraph is the frozen dependency graph the projection was built
	// from.
	UnitGraph *engine.UnitGraph

	groups      []*Group
	collections []*Collection

	// entries maps entry name to its collection, entryOrder preserves
	// declaration order for deterministic id assignment.
	entries    map[string]*Collection
	entryOrder []string

	// unitGroups is the identity -> member groups side-table.
	unitGroups map[string]map[*Group]struct{}

	unitIDs map[string]int
	frozen  bool
}

func newOutputGraph(ug *engine.UnitGraph) *OutputGraph {
	return &OutputGraph{
		UnitGraph:  ug,
		entries:    make(map[string]*Collection),
		unitGroups: make(map[string]map[*Group]struct{}),
		unitIDs:    make(map[string]int),
	}
}

// NewGroup creates a group and registers it.
func (og *OutputGraph) NewGroup(name string, kind GroupKind, runtime string) *Group {
	g := &Group{
		Name:    name,
		Kind:    kind,
		Runtime: runtime,
		units:   make(map[string]*engine.Unit),
	}
	og.groups = append(og.groups, g)
	return g
}

// NewCollection creates a collection and registers it.
func (og *OutputGraph) NewCollection(name string) *Collection {
	c := &Collection{Name: name}
	og.collections = append(og.collections, c)
	return c
}

// Groups returns all groups sorted by name (by id once frozen).
func (og *OutputGraph) Groups() []*Group {
	out := append([]*Group(nil), og.groups...)
	sort.SliceStable(out, func(i, j int) bool {
		if og.frozen {
			return out[i].id < out[j].id
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Collections returns all collections in creation order.
func (og *OutputGraph) Collections() []*Collection {
	return append([]*Collection(nil), og.collections...)
}

// Entry returns the collection of the named entry, or nil.
func (og *OutputGraph) Entry(name string) *Collection {
	return og.entries[name]
}

// EntryNames returns entry names in declaration order.
func (og *OutputGraph) EntryNames() []string {
	return append([]string(nil), og.entryOrder...)
}

// AddUnit puts a unit into a group, keeping the unit/group side-tables
// consistent. Returns false if the unit was already a member.
func (og *OutputGraph) AddUnit(u *engine.Unit, g *Group) bool {
	if g.Has(u.Identity) {
		return false
	}
	g.units[u.Identity] = u
	byUnit, ok := og.unitGroups[u.Identity]
	if !ok {
		byUnit = make(map[*Group]struct{})
		og.unitGroups[u.Identity] = byUnit
	}
	byUnit[g] = struct{}{}
	return true
}

// RemoveUnit takes a unit out of a group.
func (og *OutputGraph) RemoveUnit(identity string, g *Group) {
	delete(g.units, identity)
	if byUnit, ok := og.unitGroups[identity]; ok {
		delete(byUnit, g)
		if len(byUnit) == 0 {
			delete(og.unitGroups, identity)
		}
	}
}

// GroupsOf returns the groups containing identity, sorted by name.
func (og *OutputGraph) GroupsOf(identity string) []*Group {
	var out []*Group
	for g := range og.unitGroups[identity] {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RemoveGroup detaches an empty or merged-away group from the graph and
// its collections.
func (og *OutputGraph) RemoveGroup(g *Group) {
	for id := range g.units {
		og.RemoveUnit(id, g)
	}
	for _, coll := range g.collections {
		for i, member := range coll.Groups {
			if member == g {
				coll.Groups = append(coll.Groups[:i], coll.Groups[i+1:]...)
				break
			}
		}
	}
	g.collections = nil
	for i, member := range og.groups {
		if member == g {
			og.groups = append(og.groups[:i], og.groups[i+1:]...)
			break
		}
	}
}

// UnitID returns the deterministic unit id assigned at freeze.
func (og *OutputGraph) UnitID(identity string) (int, bool) {
	id, ok := og.unitIDs[identity]
	return id, ok
}

// Frozen reports whether identifiers have been assigned.
func (og *OutputGraph) Frozen() bool {
	return og.frozen
}

// Freeze assigns deterministic identifiers once the graph and its
// optimizations are final: unit ids in identity order, group ids with entry
// groups first (declaration order) followed by the remaining groups in
// name order. Ids are therefore stable for a given final shape.
func (og *OutputGraph) Freeze() {
	if og.frozen {
		return
	}

	var identities []string
	for id := range og.unitGroups {
		identities = append(identities, id)
	}
	sort.Strings(identities)
	for i, id := range identities {
		og.unitIDs[id] = i
	}

	next := 0
	assigned := make(map[*Group]bool)
	assign := func(g *Group) {
		if g == nil || assigned[g] {
			return
		}
		g.id = next
		g.hasID = true
		assigned[g] = true
		next++
	}
	for _, name := range og.entryOrder {
		coll := og.entries[name]
		for _, g := range coll.Groups {
			assign(g)
		}
	}
	rest := append([]*Group(nil), og.groups...)
	sort.Slice(rest, func(i, j int) bool { return rest[i].Name < rest[j].Name })
	for _, g := range rest {
		assign(g)
	}

	og.frozen = true
}

// asyncGroupName derives a deterministic name for an unnamed asynchronous
// boundary.
func asyncGroupName(owner string, index int) string {
	return owner + "~async" + strconv.Itoa(index)
}
