package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/xtzx/Fork-webpack-sub002/pkg/engine"
)

func writeFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	return p
}

func resolve(t *testing.T, r *Resolver, resource string) *engine.Unit {
	t.Helper()
	u, err := r.Resolve(context.Background(), engine.ResolveRequest{
		Descriptor: engine.ResourceDescriptor{Category: CategoryModule, Resource: resource},
	})
	if err != nil {
		t.Fatalf("Resolve(%q) failed: %v", resource, err)
	}
	return u
}

func TestResolverIdentityIsRootRelative(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/main.js", "")

	r, err := NewResolver(root)
	if err != nil {
		t.Fatalf("NewResolver failed: %v", err)
	}

	u := resolve(t, r, "./src/main.js")
	if u.Identity != "src/main.js" {
		t.Fatalf("unexpected identity %q", u.Identity)
	}
	if u.State != engine.StateFactorized {
		t.Fatalf("unexpected state %q", u.State)
	}
}

func TestResolverRejectsMissingAndEscaping(t *testing.T) {
	root := t.TempDir()
	r, err := NewResolver(root)
	if err != nil {
		t.Fatalf("NewResolver failed: %v", err)
	}

	if _, err := r.Resolve(context.Background(), engine.ResolveRequest{
		Descriptor: engine.ResourceDescriptor{Category: CategoryModule, Resource: "./nope.js"},
	}); err == nil {
		t.Fatal("expected error for missing module")
	}

	if _, err := r.Resolve(context.Background(), engine.ResolveRequest{
		Descriptor: engine.ResourceDescriptor{Category: CategoryModule, Resource: "../outside.js"},
	}); err == nil {
		t.Fatal("expected error for escaping resource")
	}

	if _, err := r.Resolve(context.Background(), engine.ResolveRequest{
		Descriptor: engine.ResourceDescriptor{Category: "asset", Resource: "x"},
	}); err == nil {
		t.Fatal("expected error for unsupported category")
	}
}

func TestBuilderExtractsDirectives(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/main.js", `
import "./lib.js"
import? "./optional.js"
include "./polyfill.js"
async checkout "./checkout.js"
async checkout "./cart.js"
async "./misc.js"
var x = 1
`)
	writeFile(t, root, "src/lib.js", "")
	writeFile(t, root, "src/optional.js", "")
	writeFile(t, root, "src/polyfill.js", "")
	writeFile(t, root, "src/checkout.js", "")
	writeFile(t, root, "src/cart.js", "")
	writeFile(t, root, "src/misc.js", "")

	r, err := NewResolver(root)
	if err != nil {
		t.Fatalf("NewResolver failed: %v", err)
	}
	b := NewBuilder(r)

	u := resolve(t, r, "src/main.js")
	if err := b.Build(context.Background(), u); err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if len(u.References) != 3 {
		t.Fatalf("expected 3 direct references, got %d", len(u.References))
	}
	if u.References[0].Descriptor.Resource != "src/lib.js" {
		t.Fatalf("unexpected first reference %q", u.References[0].Descriptor.Resource)
	}
	if !u.References[1].Optional {
		t.Fatal("expected optional reference")
	}
	if !u.References[2].NonRecursive {
		t.Fatal("expected non-recursive include reference")
	}

	if len(u.Groups) != 2 {
		t.Fatalf("expected 2 async groups, got %d", len(u.Groups))
	}
	if u.Groups[0].Name != "checkout" || len(u.Groups[0].References) != 2 {
		t.Fatalf("unexpected named group: %+v", u.Groups[0])
	}
	if u.Groups[1].Name != "" || len(u.Groups[1].References) != 1 {
		t.Fatalf("unexpected anonymous group: %+v", u.Groups[1])
	}
}

func TestBuilderNeedsRebuildTracksEtag(t *testing.T) {
	root := t.TempDir()
	p := writeFile(t, root, "a.js", "one")

	r, err := NewResolver(root)
	if err != nil {
		t.Fatalf("NewResolver failed: %v", err)
	}
	b := NewBuilder(r)
	ctx := context.Background()

	u := resolve(t, r, "a.js")
	if need, _ := b.NeedsRebuild(ctx, u); !need {
		t.Fatal("fresh unit must need a build")
	}

	if err := b.Build(ctx, u); err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if need, _ := b.NeedsRebuild(ctx, u); need {
		t.Fatal("just-built unit should not need rebuilding")
	}

	// Grow the file so the size component of the etag changes.
	if err := os.WriteFile(p, []byte("one two three"), 0644); err != nil {
		t.Fatalf("rewrite failed: %v", err)
	}
	if need, _ := b.NeedsRebuild(ctx, u); !need {
		t.Fatal("changed file must need a rebuild")
	}
}

func TestResolveTargetRelativePaths(t *testing.T) {
	tests := []struct {
		base, target, want string
	}{
		{"src", "./lib.js", "src/lib.js"},
		{"src/app", "../lib.js", "src/lib.js"},
		{"src", "/vendor/x.js", "vendor/x.js"},
		{"src", "vendor/x.js", "vendor/x.js"},
	}
	for _, tt := range tests {
		if got := resolveTarget(tt.base, tt.target); got != tt.want {
			t.Errorf("resolveTarget(%q, %q) = %q, want %q", tt.base, tt.target, got, tt.want)
		}
	}
}
