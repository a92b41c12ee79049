package emit

import (
	"testing"

	"github.com/xtzx/Fork-webpack-sub002/pkg/engine"
)

func TestArtifactSetPreservesEmissionOrder(t *testing.T) {
	rep := &recordingReporter{}
	set := NewArtifactSet()
	set.Add(&Artifact{Name: "b.bundle", Content: []byte("b")}, rep)
	set.Add(&Artifact{Name: "a.bundle", Content: []byte("a")}, rep)

	list := set.List()
	if len(list) != 2 || list[0].Name != "b.bundle" || list[1].Name != "a.bundle" {
		t.Fatalf("order = %v", list)
	}
	if got := set.Get("a.bundle"); got == nil || string(got.Content) != "a" {
		t.Fatal("Get returned the wrong artifact")
	}
	if len(rep.errors) != 0 {
		t.Fatalf("unexpected errors: %v", rep.errors)
	}
}

func TestArtifactSetConflictLastWriteWins(t *testing.T) {
	rep := &recordingReporter{}
	set := NewArtifactSet()
	set.Add(&Artifact{Name: "main.bundle", Content: []byte("first")}, rep)
	set.Add(&Artifact{Name: "main.bundle", Content: []byte("second")}, rep)

	if len(rep.errors) != 1 || !engine.IsConflict(rep.errors[0]) {
		t.Fatalf("errors = %v, want one conflict", rep.errors)
	}
	if set.Len() != 1 {
		t.Fatalf("len = %d, want 1", set.Len())
	}
	if got := string(set.Get("main.bundle").Content); got != "second" {
		t.Fatalf("content = %q, want last write", got)
	}
}

func TestArtifactSetIdenticalContentIsNotAConflict(t *testing.T) {
	rep := &recordingReporter{}
	set := NewArtifactSet()
	set.Add(&Artifact{Name: "main.bundle", Content: []byte("same")}, rep)
	set.Add(&Artifact{Name: "main.bundle", Content: []byte("same")}, rep)

	if len(rep.errors) != 0 {
		t.Fatalf("identical re-emission reported a conflict: %v", rep.errors)
	}
	if set.Len() != 1 {
		t.Fatalf("len = %d, want 1", set.Len())
	}
}
