package engine

import (
	"testing"
)

func TestDescriptorKey(t *testing.T) {
	d := ResourceDescriptor{Category: "module", Resource: "./src/main.js"}
	if got := d.Key(); got != "module!./src/main.js" {
		t.Fatalf("Key() = %q", got)
	}
}

func TestReferenceOwnershipIsExclusive(t *testing.T) {
	a := NewUnit("a")
	b := NewUnit("b")
	ref := &Reference{Descriptor: ResourceDescriptor{Category: "module", Resource: "./x"}}

	a.AddReference(ref)
	if ref.Owner() != a {
		t.Fatal("owner not recorded")
	}

	defer func() {
		if recover() == nil {
			t.Fatal("reassigning an owned reference must panic")
		}
	}()
	b.AddReference(ref)
}

func TestGroupOwnershipClaimsAllReferences(t *testing.T) {
	u := NewUnit("u")
	g := &ReferenceGroup{
		Name: "checkout",
		References: []*Reference{
			{Descriptor: ResourceDescriptor{Category: "module", Resource: "./a"}},
			{Descriptor: ResourceDescriptor{Category: "module", Resource: "./b"}},
		},
	}
	u.AddGroup(g)

	for _, ref := range g.References {
		if ref.Owner() != u {
			t.Fatalf("group reference %s not owned", ref.Descriptor.Key())
		}
	}

	all := u.AllReferences()
	if len(all) != 2 {
		t.Fatalf("AllReferences = %d refs, want 2", len(all))
	}
}

func TestAllReferencesPreservesSourceOrder(t *testing.T) {
	u := NewUnit("u")
	direct := &Reference{Descriptor: ResourceDescriptor{Category: "module", Resource: "./direct"}}
	u.AddReference(direct)
	u.AddGroup(&ReferenceGroup{References: []*Reference{
		{Descriptor: ResourceDescriptor{Category: "module", Resource: "./async"}},
	}})

	all := u.AllReferences()
	if len(all) != 2 {
		t.Fatalf("got %d refs", len(all))
	}
	if all[0].Descriptor.Resource != "./direct" || all[1].Descriptor.Resource != "./async" {
		t.Fatal("direct references must precede group references")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	u := NewUnit("src/main.js")
	u.Content = []byte("import \"./lib\"\n")
	u.FactoryMeta = map[string]string{"path": "/proj/src/main.js", "etag": "42:15"}
	u.BuildMeta = BuildMeta{
		Hashes:       map[string]string{"main": "deadbeefdeadbeef"},
		SubArtifacts: []string{"main.js.map"},
	}
	u.CodegenDeps = []string{"src/lib.js"}
	u.AddReference(&Reference{
		Descriptor: ResourceDescriptor{Category: "module", Resource: "./lib"},
		Optional:   true,
	})
	u.AddGroup(&ReferenceGroup{
		Name: "admin",
		References: []*Reference{
			{Descriptor: ResourceDescriptor{Category: "module", Resource: "./admin"}, NonRecursive: true},
		},
	})

	data, err := u.MarshalSnapshot()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	restored := NewUnit("src/main.js")
	if err := restored.RestoreSnapshot(data); err != nil {
		t.Fatalf("restore: %v", err)
	}

	if string(restored.Content) != string(u.Content) {
		t.Fatal("content lost")
	}
	if restored.FactoryMeta["etag"] != "42:15" {
		t.Fatal("factory meta lost")
	}
	if restored.BuildMeta.Hashes["main"] != "deadbeefdeadbeef" {
		t.Fatal("build meta lost")
	}
	if len(restored.References) != 1 || !restored.References[0].Optional {
		t.Fatalf("references wrong: %+v", restored.References)
	}
	if restored.References[0].Owner() != restored {
		t.Fatal("restored reference must be owned by the restored unit")
	}
	if len(restored.Groups) != 1 || restored.Groups[0].Name != "admin" {
		t.Fatalf("groups wrong: %+v", restored.Groups)
	}
	if !restored.Groups[0].References[0].NonRecursive {
		t.Fatal("non-recursive flag lost")
	}
	if len(restored.CodegenDeps) != 1 || restored.CodegenDeps[0] != "src/lib.js" {
		t.Fatal("codegen deps lost")
	}
}

func TestSnapshotRejectsIdentityMismatch(t *testing.T) {
	u := NewUnit("a")
	data, err := u.MarshalSnapshot()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	other := NewUnit("b")
	if err := other.RestoreSnapshot(data); err == nil {
		t.Fatal("restoring a foreign snapshot must fail")
	}
}

func TestUnitStateTerminality(t *testing.T) {
	for _, s := range []UnitState{StateUnresolved, StateFactorized, StateCacheHit, StateBuilt, StateDepsDiscovered} {
		if s.IsTerminal() {
			t.Errorf("%s must not be terminal", s)
		}
	}
	for _, s := range []UnitState{StateComplete, StateFailed} {
		if !s.IsTerminal() {
			t.Errorf("%s must be terminal", s)
		}
	}
}
