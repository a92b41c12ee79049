package emit

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/xtzx/Fork-webpack-sub002/pkg/engine"
)

// codegenJob is one (unit, execution context) generation.
type codegenJob struct {
	unit    *engine.Unit
	runtime string
	hash    string
}

func (j *codegenJob) key() string {
	return j.unit.Identity + "!" + j.runtime
}

// outputKey keys deduplicated generation results: a unit hashed
// identically across contexts is generated once and fanned out.
func (j *codegenJob) outputKey() string {
	return j.unit.Identity + "!" + j.hash
}

// Codegen generates unit outputs and renders group artifacts for a hashed
// output graph.
type Codegen struct {
	og    *OutputGraph
	cache engine.Cache
	rep   Reporter
	log   zerolog.Logger

	// outputs maps job outputKey to generated bytes.
	outputs map[string][]byte

	// doneUnits tracks identities whose every scheduled job finished,
	// for cross-unit codegen dependency deferral.
	pendingPerUnit map[string]int
}

// NewCodegen creates a codegen pipeline. cache may be nil.
func NewCodegen(og *OutputGraph, cache engine.Cache, rep Reporter, log zerolog.Logger) *Codegen {
	return &Codegen{
		og:             og,
		cache:          cache,
		rep:            rep,
		log:            log.With().Str("component", "codegen").Logger(),
		outputs:        make(map[string][]byte),
		pendingPerUnit: make(map[string]int),
	}
}

// Run generates every (unit, context) pair in dependency-deferred passes
// and renders one artifact per group. Jobs whose cross-unit codegen
// dependency has not generated yet are deferred to the next pass; a pass
// that makes zero progress indicates a true cycle and is fatal.
func (c *Codegen) Run(ctx context.Context) (*ArtifactSet, error) {
	jobs := c.collectJobs()
	for _, j := range jobs {
		c.pendingPerUnit[j.unit.Identity]++
	}

	pending := jobs
	for pass := 0; len(pending) > 0; pass++ {
		var deferred []*codegenJob
		progress := 0
		for _, j := range pending {
			if !c.depsReady(j.unit) {
				deferred = append(deferred, j)
				continue
			}
			if err := c.generate(ctx, j); err != nil {
				return nil, err
			}
			c.pendingPerUnit[j.unit.Identity]--
			progress++
		}
		if progress == 0 {
			names := make([]string, len(deferred))
			for i, j := range deferred {
				names[i] = j.unit.Identity
			}
			sort.Strings(names)
			err := engine.NewCycleError(
				fmt.Sprintf("codegen dependency cycle involving %v", names), nil)
			c.rep.AddError(err)
			return nil, err
		}
		c.log.Debug().Int("pass", pass).Int("generated", progress).Int("deferred", len(deferred)).
			Msg("codegen pass finished")
		pending = deferred
	}

	return c.renderGroups(ctx)
}

// collectJobs enumerates distinct (unit, context) pairs across all groups
// in deterministic order.
func (c *Codegen) collectJobs() []*codegenJob {
	seen := make(map[string]bool)
	var jobs []*codegenJob
	for _, g := range c.og.Groups() {
		for _, u := range g.Units() {
			j := &codegenJob{unit: u, runtime: g.Runtime, hash: u.BuildMeta.Hashes[g.Runtime]}
			if seen[j.key()] {
				continue
			}
			seen[j.key()] = true
			jobs = append(jobs, j)
		}
	}
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].key() < jobs[k].key() })
	return jobs
}

// depsReady reports whether every cross-unit codegen dependency of u has
// finished all of its own generation jobs.
func (c *Codegen) depsReady(u *engine.Unit) bool {
	for _, dep := range u.CodegenDeps {
		if c.pendingPerUnit[dep] > 0 {
			return false
		}
	}
	return true
}

// generate produces one job's output, reusing the artifact cache keyed by
// (identity, content hash) and the in-memory result of an identically
// hashed sibling context.
func (c *Codegen) generate(ctx context.Context, j *codegenJob) error {
	outKey := j.outputKey()
	if _, ok := c.outputs[outKey]; ok {
		// Shared verbatim across contexts with an identical hash:
		// generated once, fanned out.
		return nil
	}

	cacheKey := "artifact!" + outKey
	if c.cache != nil {
		if data, ok, err := c.cache.Get(ctx, cacheKey, j.hash); err == nil && ok {
			c.outputs[outKey] = data
			return nil
		}
	}

	var out []byte
	var err error
	if j.unit.Generator != nil {
		out, err = j.unit.Generator.Generate(ctx, j.unit, j.runtime)
	} else {
		out = j.unit.Content
	}
	if err != nil {
		e := engine.NewBuildError("code generation failed", err).WithUnit(j.unit.Identity)
		c.rep.AddError(e)
		return e
	}
	c.outputs[outKey] = out

	if c.cache != nil {
		if err := c.cache.Store(ctx, cacheKey, j.hash, out); err != nil {
			c.log.Warn().Str("unit_id", j.unit.Identity).Err(err).Msg("failed to cache generated artifact")
		}
	}
	return nil
}

// renderGroups assembles one artifact per group: the generated outputs of
// its units in unit-id order, plus, for runtime groups, a bootstrap
// section embedding the referenced groups' names and hashes.
func (c *Codegen) renderGroups(ctx context.Context) (*ArtifactSet, error) {
	_ = ctx
	set := NewArtifactSet()
	hasher := &Hasher{og: c.og}

	for _, g := range c.og.Groups() {
		var buf strings.Builder
		units := g.Units()
		sort.Slice(units, func(i, j int) bool {
			a, _ := c.og.UnitID(units[i].Identity)
			b, _ := c.og.UnitID(units[j].Identity)
			return a < b
		})
		for _, u := range units {
			id, _ := c.og.UnitID(u.Identity)
			fmt.Fprintf(&buf, "/* unit %d %s */\n", id, u.Identity)
			buf.Write(c.outputs[u.Identity+"!"+u.BuildMeta.Hashes[g.Runtime]])
			buf.WriteByte('\n')
		}

		var related []string
		if g.HasRuntime {
			buf.WriteString("/* runtime */\n")
			for _, dep := range hasher.referencedGroups(g) {
				fmt.Fprintf(&buf, "register(%d, %q, %q)\n", dep.ID(), dep.Name, dep.Hash)
				related = append(related, artifactName(dep))
			}
		}

		set.Add(&Artifact{
			Name:    artifactName(g),
			Content: []byte(buf.String()),
			Info: ArtifactInfo{
				ContentHash: g.Hash,
				HashedName:  true,
				Related:     related,
			},
		}, c.rep)
	}
	return set, nil
}

// artifactName derives a group's artifact name from its name and hash.
// Output path templating beyond this is external to the engine.
func artifactName(g *Group) string {
	hash := g.Hash
	if len(hash) > 8 {
		hash = hash[:8]
	}
	return g.Name + "." + hash + ".bundle"
}
