package emit

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/xtzx/Fork-webpack-sub002/pkg/engine"
)

// Policy is the explicit splitting policy for the output graph.
type Policy struct {
	// MinShareCount is how many groups must share a unit before the
	// common-unit pass extracts it. Defaults to 2.
	MinShareCount int

	// MinSharedSize excludes units with less content than this from
	// extraction.
	MinSharedSize int
}

func (p Policy) withDefaults() Policy {
	if p.MinShareCount <= 0 {
		p.MinShareCount = 2
	}
	return p
}

// Reporter accumulates errors and warnings during the seal phase. The
// engine's Compilation satisfies it.
type Reporter interface {
	AddError(e *engine.Error)
	AddWarning(e *engine.Error)
	MarkInconsistent()
}

// GraphBuilder projects a frozen unit graph into the output graph.
type GraphBuilder struct {
	comp    *engine.Compilation
	entries []engine.EntryDeclaration
	policy  Policy
	log     zerolog.Logger
}

// NewGraphBuilder creates a builder over a completed compilation.
func NewGraphBuilder(comp *engine.Compilation, entries []engine.EntryDeclaration, policy Policy, log zerolog.Logger) *GraphBuilder {
	return &GraphBuilder{
		comp:    comp,
		entries: entries,
		policy:  policy.withDefaults(),
		log:     log.With().Str("component", "output_graph").Logger(),
	}
}

// Build creates the raw output graph: one group per entry, units connected
// by synchronous traversal, new groups and collections at every
// asynchronous boundary, and BFS depths recorded on the unit graph. It then
// runs the given optimization passes to a fixpoint and freezes identifier
// assignment.
func (b *GraphBuilder) Build(rep Reporter, passes []Pass) (*OutputGraph, error) {
	og := newOutputGraph(b.comp.Graph())

	runtimes := b.resolveRuntimes(rep)
	entryGroups := b.createEntryShapes(og, runtimes)
	b.populate(og, entryGroups)
	b.relaxDepths(og)

	if err := RunPasses(og, passes, b.log); err != nil {
		return nil, err
	}
	og.Freeze()
	b.recordUsage(og)

	b.log.Debug().
		Int("groups", len(og.groups)).
		Int("collections", len(og.collections)).
		Msg("output graph frozen")
	return og, nil
}

// resolveRuntimes computes the execution context of every entry, honoring
// DependOn and Runtime relations. A circular sharing declaration between
// entries is reported as an error and each implicated entry falls back to
// an independent context.
func (b *GraphBuilder) resolveRuntimes(rep Reporter) map[string]string {
	byName := make(map[string]engine.EntryDeclaration, len(b.entries))
	for _, e := range b.entries {
		byName[e.Name] = e
	}

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int)
	runtimes := make(map[string]string)
	cyclic := make(map[string]bool)

	var resolve func(name string) string
	resolve = func(name string) string {
		if rt, ok := runtimes[name]; ok {
			return rt
		}
		entry, ok := byName[name]
		if !ok {
			return name
		}
		if state[name] == visiting {
			// Back edge: the sharing declarations form a cycle.
			cyclic[name] = true
			return name
		}
		state[name] = visiting
		rt := name
		switch {
		case len(entry.DependOn) > 0:
			rt = resolve(entry.DependOn[0])
			if cyclic[entry.DependOn[0]] || cyclic[name] {
				cyclic[name] = true
				rt = name
			}
		case entry.Runtime != "":
			rt = entry.Runtime
		}
		state[name] = done
		runtimes[name] = rt
		return rt
	}

	for _, e := range b.entries {
		resolve(e.Name)
	}
	for name := range cyclic {
		runtimes[name] = name
		rep.AddError(engine.NewCycleError(
			fmt.Sprintf("entry %q participates in a circular runtime-sharing declaration; falling back to an independent context", name), nil).
			WithResource(name))
	}
	return runtimes
}

// createEntryShapes creates the collection, entry group, and (when a shared
// context is declared) runtime group for every entry, plus the parent/child
// load-order links of DependOn relations.
func (b *GraphBuilder) createEntryShapes(og *OutputGraph, runtimes map[string]string) map[string]*Group {
	entryGroups := make(map[string]*Group, len(b.entries))
	runtimeGroups := make(map[string]*Group)

	for _, e := range b.entries {
		rt := runtimes[e.Name]
		coll := og.NewCollection(e.Name)
		og.entries[e.Name] = coll
		og.entryOrder = append(og.entryOrder, e.Name)

		grp := og.NewGroup(e.Name, GroupEntry, rt)
		coll.addGroup(grp)
		entryGroups[e.Name] = grp

		switch {
		case rt == e.Name:
			// Independent context: the entry group carries its own
			// runtime.
			grp.HasRuntime = true
		case e.Runtime != "":
			rg, ok := runtimeGroups[rt]
			if !ok {
				rg = og.NewGroup(rt, GroupRuntime, rt)
				rg.HasRuntime = true
				runtimeGroups[rt] = rg
			}
			coll.addGroup(rg)
		}
	}

	// DependOn links are resolved after all collections exist.
	for _, e := range b.entries {
		if runtimes[e.Name] == e.Name {
			continue
		}
		for _, parent := range e.DependOn {
			if pcoll := og.entries[parent]; pcoll != nil {
				pcoll.linkChild(og.entries[e.Name])
			}
		}
	}
	return entryGroups
}

// populate walks the unit graph from every entry, keeping units in the
// current group across synchronous references and opening a new group and
// collection at every asynchronous boundary. The traversal is an explicit
// worklist so deep or cyclic graphs cannot exhaust the call stack.
func (b *GraphBuilder) populate(og *OutputGraph, entryGroups map[string]*Group) {
	ug := b.comp.Graph()

	type workItem struct {
		unit  *engine.Unit
		group *Group
		coll  *Collection
	}
	var queue []workItem
	type seenKey struct {
		identity string
		group    *Group
	}
	seen := make(map[seenKey]bool)

	push := func(u *engine.Unit, g *Group, coll *Collection) {
		key := seenKey{u.Identity, g}
		if seen[key] {
			return
		}
		seen[key] = true
		og.AddUnit(u, g)
		queue = append(queue, workItem{u, g, coll})
	}

	for _, e := range b.entries {
		grp := entryGroups[e.Name]
		coll := og.entries[e.Name]
		refs := append([]*engine.Reference(nil), b.comp.EntryReferences(e.Name)...)
		refs = append(refs, b.comp.EntryIncludes(e.Name)...)
		for _, ref := range refs {
			if conn := ug.ConnectionFor(ref); conn != nil {
				push(conn.Target, grp, coll)
			}
		}
	}

	asyncGroups := make(map[string]*Group)
	asyncColls := make(map[string]*Collection)

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]
		u := item.unit

		asyncRefs := make(map[*engine.Reference]bool)
		for _, rg := range u.Groups {
			for _, ref := range rg.References {
				asyncRefs[ref] = true
			}
		}

		for _, ref := range u.References {
			if conn := ug.ConnectionFor(ref); conn != nil && !asyncRefs[conn.Ref] {
				push(conn.Target, item.group, item.coll)
			}
		}

		for gi, rg := range u.Groups {
			name := rg.Name
			if name == "" {
				name = asyncGroupName(u.Identity, gi)
			}
			agrp, ok := asyncGroups[name]
			if !ok {
				agrp = og.NewGroup(name, GroupAsync, item.group.Runtime)
				acoll := og.NewCollection(name)
				acoll.addGroup(agrp)
				asyncGroups[name] = agrp
				asyncColls[name] = acoll
			}
			item.coll.linkChild(asyncColls[name])
			for _, ref := range rg.References {
				if conn := ug.ConnectionFor(ref); conn != nil {
					push(conn.Target, agrp, asyncColls[name])
				}
			}
		}
	}
}

// relaxDepths runs breadth-first relaxation from all entry units, recording
// each unit's minimal depth on the unit graph for deterministic downstream
// tie-breaking.
func (b *GraphBuilder) relaxDepths(og *OutputGraph) {
	ug := b.comp.Graph()

	var frontier []string
	for _, e := range b.entries {
		for _, ref := range b.comp.EntryReferences(e.Name) {
			if conn := ug.ConnectionFor(ref); conn != nil {
				if ug.SetDepth(conn.Target.Identity, 0) {
					frontier = append(frontier, conn.Target.Identity)
				}
			}
		}
	}
	sort.Strings(frontier)

	for depth := 1; len(frontier) > 0; depth++ {
		var next []string
		for _, id := range frontier {
			for _, conn := range ug.Outgoing(id) {
				if ug.SetDepth(conn.Target.Identity, depth) {
					next = append(next, conn.Target.Identity)
				}
			}
		}
		sort.Strings(next)
		frontier = next
	}
}

// recordUsage writes the per-context usage side-table: a unit is used in
// every execution context whose groups contain it.
func (b *GraphBuilder) recordUsage(og *OutputGraph) {
	ug := b.comp.Graph()
	for _, g := range og.Groups() {
		for _, u := range g.Units() {
			ug.SetUsage(u.Identity, g.Runtime, engine.UsageInfo{Used: true})
		}
	}
}

// sharedGroupName derives a deterministic name for an extracted shared
// group from the names of the groups it was extracted from.
func sharedGroupName(groupNames []string) string {
	sorted := append([]string(nil), groupNames...)
	sort.Strings(sorted)
	return "shared~" + strings.Join(sorted, "~")
}
