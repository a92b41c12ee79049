// Package source provides the file-backed factory and builder used by the
// CLI: resources are paths under a project root, and dependencies are
// declared with import/include/async directives in the file content.
package source

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/xtzx/Fork-webpack-sub002/pkg/engine"
)

// CategoryModule is the resource category handled by this factory.
const CategoryModule = "module"

// directive matches dependency declarations in source files:
//
//	import "./lib.js"
//	import? "./maybe.js"
//	include "./polyfill.js"
//	async "./feature.js"
//	async checkout "./checkout.js"
var directive = regexp.MustCompile(`(?m)^\s*(import\??|include|async)\s+(?:([A-Za-z0-9_-]+)\s+)?"([^"]+)"`)

// Resolver maps module descriptors to file-backed units. It implements
// engine.Factory.
type Resolver struct {
	root string
}

// NewResolver creates a resolver anchored at root.
func NewResolver(root string) (*Resolver, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root %s: %w", root, err)
	}
	return &Resolver{root: abs}, nil
}

// Resolve maps a module request to a unit whose identity is the
// root-relative file path.
func (r *Resolver) Resolve(_ context.Context, req engine.ResolveRequest) (*engine.Unit, error) {
	if req.Descriptor.Category != CategoryModule {
		return nil, fmt.Errorf("unsupported category %q", req.Descriptor.Category)
	}

	identity, abs, err := r.locate(req.Descriptor.Resource)
	if err != nil {
		return nil, err
	}

	u := engine.NewUnit(identity)
	u.FactoryMeta = map[string]string{"path": abs}
	return u, nil
}

// locate normalizes a resource to (identity, absolute path), verifying the
// file exists and stays inside the root.
func (r *Resolver) locate(resource string) (string, string, error) {
	abs := resource
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(r.root, resource)
	}
	abs = filepath.Clean(abs)

	rel, err := filepath.Rel(r.root, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", "", fmt.Errorf("resource %q escapes project root", resource)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return "", "", fmt.Errorf("module %q not found: %w", resource, err)
	}
	if info.IsDir() {
		return "", "", fmt.Errorf("module %q is a directory", resource)
	}

	return filepath.ToSlash(rel), abs, nil
}

// Builder reads file content and extracts dependency directives. It
// implements engine.Builder and the optional etag extension.
type Builder struct {
	resolver *Resolver
}

// NewBuilder creates a builder sharing the resolver's root.
func NewBuilder(resolver *Resolver) *Builder {
	return &Builder{resolver: resolver}
}

// Etag derives the change-detection tag from file metadata.
func (b *Builder) Etag(_ context.Context, u *engine.Unit) (string, error) {
	p := u.FactoryMeta["path"]
	if p == "" {
		p = filepath.Join(b.resolver.root, filepath.FromSlash(u.Identity))
	}
	info, err := os.Stat(p)
	if err != nil {
		return "", fmt.Errorf("failed to stat %s: %w", p, err)
	}
	return fmt.Sprintf("%d:%d", info.ModTime().UnixNano(), info.Size()), nil
}

// NeedsRebuild reports whether the unit's content is stale against the
// file on disk.
func (b *Builder) NeedsRebuild(ctx context.Context, u *engine.Unit) (bool, error) {
	if u.Content == nil {
		return true, nil
	}
	current, err := b.Etag(ctx, u)
	if err != nil {
		return true, nil
	}
	return u.FactoryMeta["etag"] != current, nil
}

// Build reads the file and populates the unit's content and references.
func (b *Builder) Build(ctx context.Context, u *engine.Unit) error {
	p := u.FactoryMeta["path"]
	if p == "" {
		p = filepath.Join(b.resolver.root, filepath.FromSlash(u.Identity))
	}

	content, err := os.ReadFile(p)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", p, err)
	}
	u.Content = content

	etag, err := b.Etag(ctx, u)
	if err == nil {
		if u.FactoryMeta == nil {
			u.FactoryMeta = make(map[string]string, 2)
		}
		u.FactoryMeta["etag"] = etag
	}

	u.References = nil
	u.Groups = nil
	asyncGroups := make(map[string]*engine.ReferenceGroup)
	var asyncOrder []string

	base := path.Dir(u.Identity)
	for _, m := range directive.FindAllStringSubmatch(string(content), -1) {
		kind, name, target := m[1], m[2], m[3]

		ref := &engine.Reference{
			Descriptor: engine.ResourceDescriptor{
				Category: CategoryModule,
				Resource: resolveTarget(base, target),
			},
		}

		switch kind {
		case "import":
			u.AddReference(ref)
		case "import?":
			ref.Optional = true
			u.AddReference(ref)
		case "include":
			ref.NonRecursive = true
			u.AddReference(ref)
		case "async":
			g, ok := asyncGroups[name]
			if !ok {
				g = &engine.ReferenceGroup{Name: name}
				asyncGroups[name] = g
				asyncOrder = append(asyncOrder, name)
			}
			g.References = append(g.References, ref)
		}
	}

	for _, name := range asyncOrder {
		u.AddGroup(asyncGroups[name])
	}

	return nil
}

// resolveTarget interprets a directive target relative to the importing
// file; absolute-ish targets ("/x" or bare names) are root-relative.
func resolveTarget(base, target string) string {
	if strings.HasPrefix(target, "./") || strings.HasPrefix(target, "../") {
		return path.Clean(path.Join(base, target))
	}
	return path.Clean(strings.TrimPrefix(target, "/"))
}
