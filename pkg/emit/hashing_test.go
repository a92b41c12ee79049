package emit

import (
	"fmt"
	"regexp"
	"testing"

	"github.com/rs/zerolog"

	"github.com/xtzx/Fork-webpack-sub002/pkg/engine"
)

var hashPattern = regexp.MustCompile(`^[0-9a-f]{16}$`)

func hashGraph(t *testing.T, files fixture, entries []engine.EntryDeclaration, opts HashOptions) (*engine.Compilation, *OutputGraph) {
	t.Helper()
	comp, og := buildOutputGraph(t, files, entries, Policy{})
	h := NewHasher(og, comp, opts, zerolog.Nop())
	h.HashUnits()
	h.HashGroups()
	return comp, og
}

func TestHashUnitsAreDeterministic(t *testing.T) {
	files := fixture{
		"main": {content: "main", refs: []fixtureRef{{resource: "lib"}}},
		"lib":  {content: "lib"},
	}
	entries := []engine.EntryDeclaration{entryOf("main", "main")}

	collect := func() map[string]string {
		_, og := hashGraph(t, files, entries, HashOptions{})
		out := make(map[string]string)
		for _, g := range og.Groups() {
			out["group:"+g.Name] = g.Hash
			for _, u := range g.Units() {
				out[u.Identity] = u.BuildMeta.Hashes[g.Runtime]
			}
		}
		return out
	}

	first := collect()
	second := collect()
	for key, h := range first {
		if !hashPattern.MatchString(h) {
			t.Errorf("%s hash %q is not a 16-hex digest", key, h)
		}
		if second[key] != h {
			t.Errorf("%s hash changed across identical builds: %s vs %s", key, h, second[key])
		}
	}
}

func TestHashChangesWithContent(t *testing.T) {
	entries := []engine.EntryDeclaration{entryOf("main", "main")}

	_, og1 := hashGraph(t, fixture{"main": {content: "v1"}}, entries, HashOptions{})
	_, og2 := hashGraph(t, fixture{"main": {content: "v2"}}, entries, HashOptions{})

	g1 := findGroup(og1, "main")
	g2 := findGroup(og2, "main")
	if g1.Hash == g2.Hash {
		t.Fatal("group hash did not change with unit content")
	}
	u1 := g1.Units()[0].BuildMeta.Hashes["main"]
	u2 := g2.Units()[0].BuildMeta.Hashes["main"]
	if u1 == u2 {
		t.Fatal("unit hash did not change with content")
	}
}

func TestHashDigestFailureSubstitutesSentinel(t *testing.T) {
	files := fixture{
		"main":   {content: "main", refs: []fixtureRef{{resource: "broken"}}},
		"broken": {content: "broken"},
	}
	entries := []engine.EntryDeclaration{entryOf("main", "main")}
	opts := HashOptions{
		ContentOf: func(u *engine.Unit, runtime string) ([]byte, error) {
			if u.Identity == "broken" {
				return nil, fmt.Errorf("source map unavailable")
			}
			return u.Content, nil
		},
	}

	comp, og := hashGraph(t, files, entries, opts)

	broken := og.UnitGraph.Unit("broken")
	if got := broken.BuildMeta.Hashes["main"]; got != SentinelHash {
		t.Fatalf("hash = %q, want sentinel %q", got, SentinelHash)
	}
	if !comp.Inconsistent() {
		t.Fatal("compilation not flagged inconsistent after digest failure")
	}
	errs := comp.Errors()
	if len(errs) != 1 || !engine.IsHashing(errs[0]) {
		t.Fatalf("errors = %v, want one hashing error", errs)
	}
	// The group still hashes, over the sentinel, so emission can proceed.
	if g := findGroup(og, "main"); !hashPattern.MatchString(g.Hash) {
		t.Fatalf("group hash missing after sentinel substitution: %q", g.Hash)
	}
}

func TestHashGroupsRuntimeAfterReferenced(t *testing.T) {
	// The runtime group's hash embeds the async group's hash, so a content
	// change behind the async boundary must ripple into the entry group.
	base := fixture{
		"main": {content: "main", refs: []fixtureRef{{resource: "lazy", group: "extra"}}},
		"lazy": {content: "lazy v1"},
	}
	entries := []engine.EntryDeclaration{entryOf("main", "main")}
	_, og1 := hashGraph(t, base, entries, HashOptions{})

	changed := fixture{
		"main": {content: "main", refs: []fixtureRef{{resource: "lazy", group: "extra"}}},
		"lazy": {content: "lazy v2"},
	}
	_, og2 := hashGraph(t, changed, entries, HashOptions{})

	if findGroup(og1, "extra").Hash == findGroup(og2, "extra").Hash {
		t.Fatal("async group hash did not change")
	}
	if findGroup(og1, "main").Hash == findGroup(og2, "main").Hash {
		t.Fatal("runtime group hash did not ripple from the referenced group")
	}
}

func TestHashGroupsCircularRuntimeReferencesFallBack(t *testing.T) {
	// Two runtime groups sharing a collection reference each other's hash;
	// the topological order is unsatisfiable and both fall back to id order
	// with a warning.
	og := newOutputGraph(engine.NewUnitGraph())
	a := og.NewGroup("a", GroupEntry, "a")
	a.HasRuntime = true
	b := og.NewGroup("b", GroupEntry, "b")
	b.HasRuntime = true
	coll := og.NewCollection("both")
	coll.addGroup(a)
	coll.addGroup(b)
	og.entries["both"] = coll
	og.entryOrder = []string{"both"}
	og.Freeze()

	rep := &recordingReporter{}
	h := NewHasher(og, rep, HashOptions{}, zerolog.Nop())
	h.HashUnits()
	h.HashGroups()

	if a.Hash == "" || b.Hash == "" {
		t.Fatal("cyclic runtime groups left unhashed")
	}
	if len(rep.warnings) != 1 || !engine.IsCycle(rep.warnings[0]) {
		t.Fatalf("warnings = %v, want one cycle warning", rep.warnings)
	}
	if len(rep.errors) != 0 {
		t.Fatalf("cycle fallback must not be fatal: %v", rep.errors)
	}
}
