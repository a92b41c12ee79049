package engine

import (
	"context"
	"fmt"
	"sort"
)

// Event type constants emitted through the compilation's EventSink.
const (
	EventUnitResolved = "unit.resolved"
	EventUnitCacheHit = "unit.cache_hit"
	EventUnitBuilt    = "unit.built"
	EventUnitFailed   = "unit.failed"
	EventUnitComplete = "unit.complete"
)

// resolveTask is one deduplicated (factory, descriptor, mode) resolution.
type resolveTask struct {
	key string
	req ResolveRequest

	// fastIdentity, when set, skips the factory and restores the unit from
	// the cache under the remembered identity.
	fastIdentity string
}

// buildTask is one deduplicated per-identity build.
type buildTask struct {
	unit *Unit

	// recursive selects full transitive discovery; non-recursive builds
	// resolve and build the unit without traversing its dependencies.
	recursive bool

	// etag is the change-detection signal the cache entry is keyed with.
	etag string
}

// resolveKey is the scheduler dedup key for a resolution. The discovery
// mode is part of the key so a non-recursive include never shadows a
// recursive request for the same resource.
func resolveKey(desc ResourceDescriptor, nonRecursive bool) string {
	if nonRecursive {
		return desc.Key() + "!nr"
	}
	return desc.Key()
}

func unitCacheKey(identity string) string {
	return "unit!" + identity
}

// scheduleResolve funnels a group of references targeting one resource
// into the resolve scheduler. Every requester attaches its own completion
// so its references get connected regardless of who triggered the actual
// resolution.
func (c *Compilation) scheduleResolve(ctx context.Context, refs []*Reference, opts ResolveOptions, origin *Unit) {
	desc := refs[0].Descriptor
	key := resolveKey(desc, opts.NonRecursive)

	task := &resolveTask{
		key: key,
		req: ResolveRequest{Descriptor: desc, References: refs, Options: opts},
	}
	if c.opts.FastPathCache {
		c.mu.Lock()
		identity, ok := c.fastIndex[key]
		c.mu.Unlock()
		if ok && (c.opts.FastPathAccept == nil || c.opts.FastPathAccept(key, identity)) {
			task.fastIdentity = identity
		}
	}

	c.wg.Add(1)
	c.resolveSched.Add(ctx, key, task, func(err error) {
		defer c.wg.Done()
		c.finishResolve(ctx, key, refs, opts, origin)
	})
}

// finishResolve runs on every requester once the shared resolution has
// completed: it connects the requester's references or reports the failure
// with the requester's own optionality.
func (c *Compilation) finishResolve(ctx context.Context, key string, refs []*Reference, opts ResolveOptions, origin *Unit) {
	c.mu.Lock()
	res := c.resolutions[key]
	c.mu.Unlock()
	if res == nil {
		// Resolution was rejected before it ran (bail teardown).
		return
	}

	if res.err != nil {
		e := NewResolutionError("unit resolution failed", res.err).WithResource(key)
		if origin != nil {
			e = e.WithOrigin(origin.Identity)
		}
		if allOptional(refs) {
			c.AddWarning(e.AsWarning())
		} else {
			c.AddError(e)
		}
		return
	}

	unit := res.unit
	for _, ref := range refs {
		if c.graph.ConnectionFor(ref) != nil {
			continue
		}
		if _, err := c.graph.Connect(ref, unit); err != nil {
			c.AddError(err.(*Error))
		}
	}

	// A unit first materialized non-recursively is only partially
	// constructed; a recursive request upgrades it by running full
	// discovery once its build has completed.
	if !opts.NonRecursive {
		c.mu.Lock()
		partial := unit.Partial
		c.mu.Unlock()
		if partial {
			c.upgradePartial(ctx, unit)
		}
	}
}

// upgradePartial runs recursive discovery for a unit whose build was (or may
// have been) requested in non-recursive mode. The build request deduplicates
// onto the existing task when one is in flight.
func (c *Compilation) upgradePartial(ctx context.Context, unit *Unit) {
	c.requestBuild(ctx, unit, false, func(err error) {
		if err != nil {
			return
		}
		c.mu.Lock()
		partial := unit.Partial
		unit.Partial = false
		c.mu.Unlock()
		if partial {
			c.discoverDependencies(ctx, unit)
		}
	})
}

// processResolve is the resolve scheduler's processor: it invokes the
// factory (or the fast path), inserts the unit with identity dedup, and
// requests the build exactly once per fresh identity.
func (c *Compilation) processResolve(ctx context.Context, t *resolveTask) error {
	unit, err := c.resolveUnit(ctx, t)

	c.mu.Lock()
	c.resolutions[t.key] = &resolution{unit: unit, err: err}
	c.mu.Unlock()
	if err != nil {
		return nil // delivered per-requester by finishResolve
	}

	existing, added := c.graph.AddUnit(unit)
	if !added {
		// Requesters must connect to the surviving instance, not the
		// discarded duplicate.
		c.mu.Lock()
		c.resolutions[t.key] = &resolution{unit: existing}
		c.mu.Unlock()
		return nil
	}

	// Partial means recursive discovery has not happened yet; it is cleared
	// by processBuild or upgradePartial once discovery completes. Setting it
	// unconditionally keeps a racing non-recursive build request from
	// swallowing a recursive one.
	c.mu.Lock()
	existing.Partial = true
	c.mu.Unlock()
	c.metrics.IncUnitsResolved()
	c.hooks.unitResolved(existing)
	c.emit(ctx, EventUnitResolved, existing.Identity, "unit resolved", "info")
	if c.opts.FastPathCache {
		c.mu.Lock()
		c.fastIndex[t.key] = existing.Identity
		c.mu.Unlock()
	}

	c.mu.Lock()
	c.resolutions[t.key] = &resolution{unit: existing}
	c.mu.Unlock()

	c.requestBuild(ctx, existing, !t.req.Options.NonRecursive, nil)
	return nil
}

// resolveUnit produces the unit for a resolve task, through the factory or
// the fast-path cache.
func (c *Compilation) resolveUnit(ctx context.Context, t *resolveTask) (*Unit, error) {
	if t.fastIdentity != "" {
		if u := c.graph.Unit(t.fastIdentity); u != nil {
			return u, nil
		}
		if c.cache != nil {
			if data, ok, err := c.cache.Get(ctx, unitCacheKey(t.fastIdentity), ""); err == nil && ok {
				u := NewUnit(t.fastIdentity)
				if err := u.RestoreSnapshot(data); err == nil {
					u.State = StateCacheHit
					return u, nil
				}
			}
		}
		// Fast path unusable; fall through to the factory.
	}
	return c.factory.Resolve(ctx, t.req)
}

// requestBuild schedules the unit's build, deduplicated by identity, so N
// concurrent discoveries invoke the build capability exactly once.
func (c *Compilation) requestBuild(ctx context.Context, unit *Unit, recursive bool, done func(error)) {
	etag := ""
	if tagger, ok := c.builder.(Etagger); ok {
		if t, err := tagger.Etag(ctx, unit); err == nil {
			etag = t
		}
	}

	c.wg.Add(1)
	c.buildSched.Add(ctx, unit.Identity, &buildTask{unit: unit, recursive: recursive, etag: etag}, func(err error) {
		defer c.wg.Done()
		if done != nil {
			done(err)
		}
	})
}

// processBuild is the build scheduler's processor: cache-restore or build,
// then dependency discovery.
func (c *Compilation) processBuild(ctx context.Context, t *buildTask) error {
	u := t.unit

	restored := u.State == StateCacheHit
	if !restored && c.cache != nil {
		if data, ok, err := c.cache.Get(ctx, unitCacheKey(u.Identity), t.etag); err == nil && ok {
			if err := u.RestoreSnapshot(data); err == nil {
				restored = true
				u.State = StateCacheHit
			}
		}
	}

	if restored {
		c.metrics.IncCacheHits()
		c.hooks.unitCacheHit(u)
		c.emit(ctx, EventUnitCacheHit, u.Identity, "unit restored from cache", "info")
	} else {
		c.metrics.IncCacheMisses()
		if err := c.buildUnit(ctx, u, t.etag); err != nil {
			return err
		}
	}

	if t.recursive {
		if err := c.discoverDependencies(ctx, u); err != nil {
			return err
		}
		c.mu.Lock()
		u.Partial = false
		c.mu.Unlock()
	}
	u.State = StateDepsDiscovered

	u.State = StateComplete
	c.hooks.unitComplete(u)
	c.emit(ctx, EventUnitComplete, u.Identity, "unit complete", "info")
	return nil
}

// buildUnit consults the needs-rebuild predicate and delegates to the
// build capability, persisting the result to the cache keyed by identity.
func (c *Compilation) buildUnit(ctx context.Context, u *Unit, etag string) error {
	rebuild, err := c.builder.NeedsRebuild(ctx, u)
	if err != nil {
		e := NewBuildError("change detection failed", err).WithUnit(u.Identity)
		u.State = StateFailed
		u.Errors = append(u.Errors, e)
		c.AddError(e)
		return e
	}
	if !rebuild {
		// Still valid: keep whatever reference and metadata state the unit
		// already carries.
		u.State = StateBuilt
		return nil
	}

	if err := c.builder.Build(ctx, u); err != nil {
		e := NewBuildError("unit build failed", err).WithUnit(u.Identity)
		u.State = StateFailed
		u.Errors = append(u.Errors, e)
		c.AddError(e)
		c.emit(ctx, EventUnitFailed, u.Identity, e.Message, "error")
		return e
	}
	u.State = StateBuilt
	c.metrics.IncUnitsBuilt()
	c.hooks.unitBuilt(u)
	c.emit(ctx, EventUnitBuilt, u.Identity, "unit built", "info")

	if c.cache != nil {
		if data, err := u.MarshalSnapshot(); err == nil {
			if err := c.cache.Store(ctx, unitCacheKey(u.Identity), etag, data); err != nil {
				c.log.Warn().Str("unit_id", u.Identity).Err(err).Msg("failed to persist unit to cache")
			}
		}
	}
	return nil
}

// refGroup is one distinct (descriptor, mode) group of a unit's outgoing
// references.
type refGroup struct {
	desc         ResourceDescriptor
	nonRecursive bool
	refs         []*Reference
}

// discoverDependencies groups the unit's references by (factory, resource
// descriptor) and discovery mode, then fans each distinct group back into
// the pipeline. Recursive groups are scheduled asynchronously; recursion
// always funnels through identity dedup, so construction terminates over
// the finite resource universe even under reference cycles. Non-recursive
// groups block until their target unit has built, with building-during-
// build cycle detection instead of deadlock.
func (c *Compilation) discoverDependencies(ctx context.Context, u *Unit) error {
	groups := groupReferences(u)

	var firstErr error
	for _, g := range groups {
		if !g.nonRecursive {
			c.scheduleResolve(ctx, g.refs, ResolveOptions{}, u)
			continue
		}
		if err := c.includeReference(ctx, u, g); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// groupReferences buckets a unit's direct and group references by
// (descriptor, mode), preserving first-seen order.
func groupReferences(u *Unit) []*refGroup {
	index := make(map[string]*refGroup)
	var ordered []*refGroup
	for _, ref := range u.AllReferences() {
		key := resolveKey(ref.Descriptor, ref.NonRecursive)
		g, ok := index[key]
		if !ok {
			g = &refGroup{desc: ref.Descriptor, nonRecursive: ref.NonRecursive}
			index[key] = g
			ordered = append(ordered, g)
		}
		g.refs = append(g.refs, ref)
	}
	return ordered
}

// includeReference resolves and builds a non-recursive reference while the
// origin unit is itself mid-build. The origin's worker slot is widened away
// for the duration of the wait so recursive fan-out cannot starve the
// queue, and a building-during-build cycle raises a CycleError instead of
// deadlocking.
func (c *Compilation) includeReference(ctx context.Context, origin *Unit, g *refGroup) error {
	c.buildSched.IncreaseParallelism()
	defer c.buildSched.DecreaseParallelism()

	result := make(chan error, 1)
	opts := ResolveOptions{NonRecursive: true}
	key := resolveKey(g.desc, true)

	task := &resolveTask{key: key, req: ResolveRequest{Descriptor: g.desc, References: g.refs, Options: opts}}
	c.wg.Add(1)
	c.resolveSched.Add(ctx, key, task, func(err error) {
		defer c.wg.Done()

		c.mu.Lock()
		res := c.resolutions[key]
		c.mu.Unlock()
		if res == nil {
			result <- ErrSchedulerStopped
			return
		}
		if res.err != nil {
			e := NewResolutionError("unit resolution failed", res.err).
				WithResource(key).WithOrigin(origin.Identity)
			if allOptional(g.refs) {
				c.AddWarning(e.AsWarning())
				result <- nil
			} else {
				c.AddError(e)
				result <- e
			}
			return
		}

		target := res.unit
		for _, ref := range g.refs {
			if c.graph.ConnectionFor(ref) == nil {
				if _, cerr := c.graph.Connect(ref, target); cerr != nil {
					c.AddError(cerr.(*Error))
				}
			}
		}

		if cycleErr := c.recordWaitEdge(origin.Identity, target.Identity); cycleErr != nil {
			c.AddError(cycleErr)
			result <- cycleErr
			return
		}
		// Deduplicates onto the in-flight build when one exists, and creates
		// the non-recursive build task when the include won the race against
		// the resolver that inserted the unit.
		c.requestBuild(ctx, target, false, func(err error) {
			result <- err
		})
	})

	select {
	case err := <-result:
		c.dropWaitEdges(origin.Identity)
		return err
	case <-ctx.Done():
		c.dropWaitEdges(origin.Identity)
		return ctx.Err()
	}
}

// recordWaitEdge registers that origin's build awaits target's build. If
// the transitive closure of the relation from target reaches back to
// origin, the wait would deadlock and a CycleError is returned instead.
func (c *Compilation) recordWaitEdge(origin, target string) *Error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if origin == target || reachesLocked(c.buildingDuring, target, origin) {
		return NewCycleError(
			fmt.Sprintf("build of %s transitively awaits itself through %s", origin, target), nil).
			WithUnit(origin)
	}
	edges, ok := c.buildingDuring[origin]
	if !ok {
		edges = make(map[string]struct{})
		c.buildingDuring[origin] = edges
	}
	edges[target] = struct{}{}
	return nil
}

// dropWaitEdges clears the relation once the origin stops waiting.
func (c *Compilation) dropWaitEdges(origin string) {
	c.mu.Lock()
	delete(c.buildingDuring, origin)
	c.mu.Unlock()
}

// reachesLocked walks the building-during-build relation from start looking
// for goal. Callers must hold c.mu.
func reachesLocked(edges map[string]map[string]struct{}, start, goal string) bool {
	seen := map[string]struct{}{start: {}}
	stack := []string{start}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == goal {
			return true
		}
		next := make([]string, 0, len(edges[n]))
		for m := range edges[n] {
			if _, ok := seen[m]; !ok {
				seen[m] = struct{}{}
				next = append(next, m)
			}
		}
		// Deterministic traversal order keeps error attribution stable.
		sort.Strings(next)
		stack = append(stack, next...)
	}
	return false
}

func allOptional(refs []*Reference) bool {
	for _, ref := range refs {
		if !ref.Optional {
			return false
		}
	}
	return len(refs) > 0
}
