package emit

import (
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"

	"github.com/xtzx/Fork-webpack-sub002/pkg/engine"
)

// SentinelHash is substituted when a unit's digest cannot be computed. The
// compilation is flagged inconsistent but continues.
const SentinelHash = "0000000000000000"

// HashOptions configures the hashing pipeline.
type HashOptions struct {
	// ContentOf overrides how a unit's hashable content is derived per
	// execution context. Nil uses the unit's raw content.
	ContentOf func(u *engine.Unit, runtime string) ([]byte, error)
}

// Hasher computes per-unit and per-group content hashes over a frozen
// output graph.
type Hasher struct {
	og   *OutputGraph
	rep  Reporter
	opts HashOptions
	log  zerolog.Logger
}

// NewHasher creates a hasher. The output graph must already be frozen.
func NewHasher(og *OutputGraph, rep Reporter, opts HashOptions, log zerolog.Logger) *Hasher {
	return &Hasher{
		og:   og,
		rep:  rep,
		opts: opts,
		log:  log.With().Str("component", "hashing").Logger(),
	}
}

// HashUnits digests every (unit, execution context) pair: the unit's own
// content plus the structurally relevant reference information, so a unit
// hashes differently under contexts where its usage differs. A digest
// failure substitutes the sentinel hash and flags the compilation
// inconsistent.
func (h *Hasher) HashUnits() {
	ug := h.og.UnitGraph
	for _, g := range h.og.Groups() {
		for _, u := range g.Units() {
			if u.BuildMeta.Hashes == nil {
				u.BuildMeta.Hashes = make(map[string]string)
			}
			if _, done := u.BuildMeta.Hashes[g.Runtime]; done {
				continue
			}
			u.BuildMeta.Hashes[g.Runtime] = h.hashUnit(ug, u, g.Runtime)
		}
	}
}

func (h *Hasher) hashUnit(ug *engine.UnitGraph, u *engine.Unit, runtime string) string {
	content := u.Content
	if h.opts.ContentOf != nil {
		var err error
		content, err = h.opts.ContentOf(u, runtime)
		if err != nil {
			h.rep.AddError(engine.NewHashingError("unit digest failed", err).WithUnit(u.Identity))
			h.rep.MarkInconsistent()
			return SentinelHash
		}
	}

	d := xxhash.New()
	_, _ = d.Write([]byte(u.Identity))
	_, _ = d.Write([]byte{0})
	_, _ = d.Write([]byte(runtime))
	_, _ = d.Write([]byte{0})
	_, _ = d.Write(content)

	// Structurally relevant reference information: the resolved target of
	// every outgoing connection plus the unit id it maps to, in
	// deterministic order.
	conns := ug.Outgoing(u.Identity)
	lines := make([]string, 0, len(conns))
	for _, conn := range conns {
		uid := ""
		if id, ok := h.og.UnitID(conn.Target.Identity); ok {
			uid = fmt.Sprintf("%d", id)
		}
		lines = append(lines, conn.Ref.Descriptor.Key()+"->"+conn.Target.Identity+"#"+uid)
	}
	sort.Strings(lines)
	for _, line := range lines {
		_, _ = d.Write([]byte{0})
		_, _ = d.Write([]byte(line))
	}

	if info, ok := ug.Usage(u.Identity, runtime); ok && len(info.Exports) > 0 {
		exports := append([]string(nil), info.Exports...)
		sort.Strings(exports)
		for _, exp := range exports {
			_, _ = d.Write([]byte{0})
			_, _ = d.Write([]byte(exp))
		}
	}

	return fmt.Sprintf("%016x", d.Sum64())
}

// HashGroups computes group hashes once all contained units are hashed.
// Groups that emit runtime code may reference other groups' hashes, so
// they are hashed in topological order over the inter-group reference
// graph; an unresolvable circular reference among them is a warning, and
// the implicated groups fall back to a deterministic id-sorted order.
func (h *Hasher) HashGroups() {
	groups := h.og.Groups()

	// Non-runtime groups depend only on unit hashes.
	for _, g := range groups {
		if !g.HasRuntime {
			g.Hash = h.hashGroup(g, nil)
		}
	}

	runtime := make([]*Group, 0)
	for _, g := range groups {
		if g.HasRuntime {
			runtime = append(runtime, g)
		}
	}
	refs := make(map[*Group][]*Group, len(runtime))
	indegree := make(map[*Group]int, len(runtime))
	for _, g := range runtime {
		indegree[g] = 0
	}
	for _, g := range runtime {
		for _, dep := range h.referencedGroups(g) {
			if dep.HasRuntime && dep != g {
				refs[dep] = append(refs[dep], g)
				indegree[g]++
			}
		}
	}

	var ready []*Group
	for _, g := range runtime {
		if indegree[g] == 0 {
			ready = append(ready, g)
		}
	}
	sortByID(ready)

	processed := 0
	for len(ready) > 0 {
		g := ready[0]
		ready = ready[1:]
		g.Hash = h.hashGroup(g, h.referencedGroups(g))
		processed++
		var next []*Group
		for _, dependent := range refs[g] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				next = append(next, dependent)
			}
		}
		sortByID(next)
		ready = append(ready, next...)
	}

	if processed < len(runtime) {
		var remaining []*Group
		for _, g := range runtime {
			if g.Hash == "" {
				remaining = append(remaining, g)
			}
		}
		sortByID(remaining)
		names := make([]string, len(remaining))
		for i, g := range remaining {
			names[i] = g.Name
		}
		h.rep.AddWarning(engine.NewCycleError(
			fmt.Sprintf("circular hash references between runtime groups %v; hashing in id order", names), nil).
			AsWarning())
		for _, g := range remaining {
			g.Hash = h.hashGroup(g, h.referencedGroups(g))
		}
	}
}

// referencedGroups returns the groups whose hashes a runtime group's
// bootstrap code embeds: every group reachable through its collections'
// child links, id-sorted.
func (h *Hasher) referencedGroups(g *Group) []*Group {
	seen := make(map[*Collection]bool)
	groups := make(map[*Group]bool)
	var walk func(c *Collection)
	walk = func(c *Collection) {
		if seen[c] {
			return
		}
		seen[c] = true
		for _, member := range c.Groups {
			if member != g {
				groups[member] = true
			}
		}
		for _, child := range c.Children {
			walk(child)
		}
	}
	for _, coll := range g.Collections() {
		walk(coll)
	}
	out := make([]*Group, 0, len(groups))
	for member := range groups {
		out = append(out, member)
	}
	sortByID(out)
	return out
}

// hashGroup digests a group: its identity, its units' per-context hashes,
// and, for runtime groups, the hashes of the groups it references.
func (h *Hasher) hashGroup(g *Group, referenced []*Group) string {
	d := xxhash.New()
	_, _ = d.Write([]byte(g.Name))
	_, _ = d.Write([]byte{0})
	_, _ = d.Write([]byte(g.Runtime))
	for _, u := range g.Units() {
		_, _ = d.Write([]byte{0})
		_, _ = d.Write([]byte(u.Identity))
		_, _ = d.Write([]byte(u.BuildMeta.Hashes[g.Runtime]))
	}
	for _, dep := range referenced {
		_, _ = d.Write([]byte{0})
		_, _ = d.Write([]byte(dep.Name))
		_, _ = d.Write([]byte(dep.Hash))
	}
	return fmt.Sprintf("%016x", d.Sum64())
}

func sortByID(groups []*Group) {
	sort.Slice(groups, func(i, j int) bool { return groups[i].ID() < groups[j].ID() })
}
