package engine

import (
	"testing"
)

func TestGraphIdentityDedup(t *testing.T) {
	g := NewUnitGraph()

	a := NewUnit("lib/a.js")
	a.FactoryMeta = map[string]string{"path": "/src/lib/a.js"}
	got, added := g.AddUnit(a)
	if !added || got != a {
		t.Fatalf("first insert: added=%v unit=%p, want added=true unit=%p", added, got, a)
	}

	dup := NewUnit("lib/a.js")
	dup.FactoryMeta = map[string]string{"path": "/other/a.js", "extra": "1"}
	got, added = g.AddUnit(dup)
	if added {
		t.Fatal("duplicate identity must not be added")
	}
	if got != a {
		t.Fatal("duplicate insert must return the surviving instance")
	}
	if a.FactoryMeta["path"] != "/src/lib/a.js" {
		t.Fatalf("merge overwrote existing meta: %q", a.FactoryMeta["path"])
	}
	if a.FactoryMeta["extra"] != "1" {
		t.Fatal("merge dropped new meta key")
	}
	if g.Size() != 1 {
		t.Fatalf("graph size = %d, want 1", g.Size())
	}
}

func TestGraphConnectRejectsDoubleConnection(t *testing.T) {
	g := NewUnitGraph()
	origin := NewUnit("origin")
	target := NewUnit("target")
	g.AddUnit(origin)
	g.AddUnit(target)

	ref := &Reference{Descriptor: ResourceDescriptor{Category: "module", Resource: "./t"}}
	origin.AddReference(ref)

	conn, err := g.Connect(ref, target)
	if err != nil {
		t.Fatalf("first connect failed: %v", err)
	}
	if conn.Origin != origin || conn.Target != target {
		t.Fatal("connection endpoints wrong")
	}

	if _, err := g.Connect(ref, target); err == nil {
		t.Fatal("connecting an already-connected reference must fail")
	}

	if got := g.ConnectionFor(ref); got != conn {
		t.Fatal("ConnectionFor did not return the recorded connection")
	}
	if in := g.Incoming("target"); len(in) != 1 || in[0] != conn {
		t.Fatalf("incoming index wrong: %v", in)
	}
	if out := g.Outgoing("origin"); len(out) != 1 || out[0] != conn {
		t.Fatalf("outgoing index wrong: %v", out)
	}
}

func TestGraphInvalidateRemovesEdgesAtomically(t *testing.T) {
	g := NewUnitGraph()
	origin := NewUnit("origin")
	target := NewUnit("target")
	g.AddUnit(origin)
	g.AddUnit(target)

	ref := &Reference{Descriptor: ResourceDescriptor{Category: "module", Resource: "./t"}}
	origin.AddReference(ref)
	if _, err := g.Connect(ref, target); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	g.Invalidate("origin")

	if g.ConnectionFor(ref) != nil {
		t.Fatal("outgoing connection survived invalidation")
	}
	if in := g.Incoming("target"); len(in) != 0 {
		t.Fatalf("reverse index survived invalidation: %v", in)
	}
	if len(origin.References) != 0 {
		t.Fatal("references survived invalidation")
	}
	if origin.State != StateFactorized {
		t.Fatalf("state after invalidation = %s, want factorized", origin.State)
	}
	if g.Unit("origin") != origin {
		t.Fatal("invalidated unit must stay in the identity index")
	}
}

func TestGraphDepthKeepsMinimum(t *testing.T) {
	g := NewUnitGraph()

	if !g.SetDepth("u", 3) {
		t.Fatal("first depth must record")
	}
	if g.SetDepth("u", 5) {
		t.Fatal("deeper depth must not overwrite")
	}
	if !g.SetDepth("u", 1) {
		t.Fatal("shallower depth must overwrite")
	}
	d, ok := g.Depth("u")
	if !ok || d != 1 {
		t.Fatalf("depth = %d,%v, want 1,true", d, ok)
	}
}

func TestGraphUnitsSortedByIdentity(t *testing.T) {
	g := NewUnitGraph()
	for _, id := range []string{"zeta", "alpha", "mid"} {
		g.AddUnit(NewUnit(id))
	}

	units := g.Units()
	want := []string{"alpha", "mid", "zeta"}
	if len(units) != len(want) {
		t.Fatalf("got %d units, want %d", len(units), len(want))
	}
	for i, u := range units {
		if u.Identity != want[i] {
			t.Fatalf("units[%d] = %s, want %s", i, u.Identity, want[i])
		}
	}
}

func TestGraphUsageSideTable(t *testing.T) {
	g := NewUnitGraph()

	if _, ok := g.Usage("u", "web"); ok {
		t.Fatal("usage reported before it was set")
	}
	g.SetUsage("u", "web", UsageInfo{Used: true, Exports: []string{"render"}})
	info, ok := g.Usage("u", "web")
	if !ok || !info.Used || len(info.Exports) != 1 || info.Exports[0] != "render" {
		t.Fatalf("usage = %+v,%v", info, ok)
	}
}
