package engine

import (
	"sort"
	"sync"
)

// Connection is a resolved edge: one live reference mapped to its target
// unit. A reference maps to at most one connection; connections are removed
// atomically with their owning reference when a unit is invalidated.
type Connection struct {
	// Ref is the owning reference.
	Ref *Reference

	// Origin is the unit the reference belongs to; nil for entry
	// references.
	Origin *Unit

	// Target is the resolved unit.
	Target *Unit
}

// UsageInfo is per-context usage and export information for a unit.
type UsageInfo struct {
	// Used reports whether the unit is reachable in the context.
	Used bool `json:"used"`

	// Exports lists the export names consumed from the unit in the
	// context, when the build capability reports them.
	Exports []string `json:"exports,omitempty"`
}

// UnitGraph is the dependency graph of build units: an identity-keyed unit
// index, reference -> unit connections with reverse indices, per-context
// usage side-tables keyed by stable identities, and a depth metric.
//
// The graph is mutated only by the compilation orchestrator; readers during
// the seal phase see a frozen graph.
type UnitGraph struct {
	mu sync.RWMutex

	// units is the identity-keyed unit index. Identity dedup is enforced
	// at insertion.
	units map[string]*Unit

	// connections maps each live reference to its single connection.
	connections map[*Reference]*Connection

	// incoming maps target identity to connections pointing at it.
	incoming map[string][]*Connection

	// outgoing maps origin identity to connections leaving it.
	outgoing map[string][]*Connection

	// depths maps identity to BFS depth from the entry set.
	depths map[string]int

	// usage is a per-identity, per-context usage side-table.
	usage map[string]map[string]UsageInfo
}

// NewUnitGraph creates an empty unit graph.
func NewUnitGraph() *UnitGraph {
	return &UnitGraph{
		units:       make(map[string]*Unit),
		connections: make(map[*Reference]*Connection),
		incoming:    make(map[string][]*Connection),
		outgoing:    make(map[string][]*Connection),
		depths:      make(map[string]int),
		usage:       make(map[string]map[string]UsageInfo),
	}
}

// AddUnit inserts a unit, enforcing identity dedup. If an equivalent unit
// already exists the new instance is discarded, its factory metadata is
// merged into the existing one, and the existing instance is returned with
// added=false.
func (g *UnitGraph) AddUnit(u *Unit) (unit *Unit, added bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if existing, ok := g.units[u.Identity]; ok {
		existing.MergeFactoryMeta(u.FactoryMeta)
		return existing, false
	}
	g.units[u.Identity] = u
	return u, true
}

// Unit returns the unit with the given identity, or nil.
func (g *UnitGraph) Unit(identity string) *Unit {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.units[identity]
}

// Units returns all units sorted by identity.
func (g *UnitGraph) Units() []*Unit {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ids := make([]string, 0, len(g.units))
	for id := range g.units {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	units := make([]*Unit, len(ids))
	for i, id := range ids {
		units[i] = g.units[id]
	}
	return units
}

// Size returns the number of units in the graph.
func (g *UnitGraph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.units)
}

// Connect records the resolution of ref to target. Each live reference maps
// to at most one connection; connecting an already-connected reference is an
// internal error.
func (g *UnitGraph) Connect(ref *Reference, target *Unit) (*Connection, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.connections[ref]; ok {
		return nil, NewInternalError("reference already connected", nil).
			WithResource(ref.Descriptor.Key())
	}
	conn := &Connection{Ref: ref, Origin: ref.owner, Target: target}
	g.connections[ref] = conn
	g.incoming[target.Identity] = append(g.incoming[target.Identity], conn)
	if ref.owner != nil {
		g.outgoing[ref.owner.Identity] = append(g.outgoing[ref.owner.Identity], conn)
	}
	return conn, nil
}

// ConnectionFor returns the connection of a reference, or nil while it is
// unresolved.
func (g *UnitGraph) ConnectionFor(ref *Reference) *Connection {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.connections[ref]
}

// Incoming returns the connections pointing at the given identity.
func (g *UnitGraph) Incoming(identity string) []*Connection {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]*Connection(nil), g.incoming[identity]...)
}

// Outgoing returns the connections leaving the given identity.
func (g *UnitGraph) Outgoing(identity string) []*Connection {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]*Connection(nil), g.outgoing[identity]...)
}

// Invalidate removes a unit's outgoing connections together with their
// owning references, atomically, so the unit can be rebuilt. The unit
// instance itself stays in the identity index.
func (g *UnitGraph) Invalidate(identity string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	u, ok := g.units[identity]
	if !ok {
		return
	}
	for _, conn := range g.outgoing[identity] {
		delete(g.connections, conn.Ref)
		g.incoming[conn.Target.Identity] = removeConn(g.incoming[conn.Target.Identity], conn)
	}
	delete(g.outgoing, identity)
	u.References = nil
	u.Groups = nil
	u.State = StateFactorized
}

// SetDepth records depth for identity if it is lower than the current one.
// Returns true when the recorded depth changed.
func (g *UnitGraph) SetDepth(identity string, depth int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if cur, ok := g.depths[identity]; ok && cur <= depth {
		return false
	}
	g.depths[identity] = depth
	return true
}

// Depth returns the BFS depth of identity from the entry set, and whether
// one was recorded.
func (g *UnitGraph) Depth(identity string) (int, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	d, ok := g.depths[identity]
	return d, ok
}

// SetUsage records per-context usage info for a unit.
func (g *UnitGraph) SetUsage(identity, context string, info UsageInfo) {
	g.mu.Lock()
	defer g.mu.Unlock()

	byCtx, ok := g.usage[identity]
	if !ok {
		byCtx = make(map[string]UsageInfo)
		g.usage[identity] = byCtx
	}
	byCtx[context] = info
}

// Usage returns per-context usage info for a unit.
func (g *UnitGraph) Usage(identity, context string) (UsageInfo, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	info, ok := g.usage[identity][context]
	return info, ok
}

func removeConn(conns []*Connection, target *Connection) []*Connection {
	for i, c := range conns {
		if c == target {
			return append(conns[:i], conns[i+1:]...)
		}
	}
	return conns
}
