package engine

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Cache is the content-addressed cache capability consulted during restore,
// codegen, and artifact emission. Entries are invalidated only by etag
// mismatch, never by explicit deletion initiated by the engine.
type Cache interface {
	Get(ctx context.Context, key, etag string) (value []byte, ok bool, err error)
	Store(ctx context.Context, key, etag string, value []byte) error
}

// Etagger is an optional Builder extension that derives the cache etag for
// a unit from external change-detection signals. Builders that do not
// implement it get an empty etag, which still round-trips correctly but
// never invalidates on content change.
type Etagger interface {
	Etag(ctx context.Context, u *Unit) (string, error)
}

// MetricsRecorder receives engine counters. All methods must be safe for
// concurrent use.
type MetricsRecorder interface {
	IncUnitsResolved()
	IncUnitsBuilt()
	IncCacheHits()
	IncCacheMisses()
	IncErrors(kind string)
}

// EventSink receives typed lifecycle events.
type EventSink interface {
	Emit(ctx context.Context, eventType, unitID, message, level string)
}

// CompilationConfig wires a compilation's collaborators. Factory and
// Builder are required; everything else has a working zero value.
type CompilationConfig struct {
	Factory Factory
	Builder Builder
	Cache   Cache
	Logger  zerolog.Logger
	Metrics MetricsRecorder
	Events  EventSink
	Hooks   Hooks
	Options Options
}

// resolution is the memoized outcome of one (factory, descriptor, mode)
// resolution, shared by every requester that deduplicated onto it.
type resolution struct {
	unit *Unit
	err  error
}

// Compilation drives the make phase: it recursively discovers the unit
// graph from the entry declarations, with at-most-once processing per
// logical unit, cycle detection instead of deadlock, and deterministic
// error reporting.
type Compilation struct {
	// ID identifies this compilation run.
	ID string

	opts    Options
	graph   *UnitGraph
	factory Factory
	builder Builder
	cache   Cache
	log     zerolog.Logger
	metrics MetricsRecorder
	events  EventSink
	hooks   Hooks

	resolveSched *Scheduler[*resolveTask]
	buildSched   *Scheduler[*buildTask]

	// wg counts outstanding pipeline work across both schedulers.
	wg sync.WaitGroup

	mu           sync.Mutex
	errors       []*Error
	warnings     []*Error
	bailed       bool
	inconsistent bool

	// resolutions memoizes resolve outcomes by descriptor key + mode.
	resolutions map[string]*resolution

	// buildingDuring is the transitive building-during-build relation:
	// origin identity -> identities whose build completion it awaits.
	buildingDuring map[string]map[string]struct{}

	// fastIndex remembers descriptor key -> identity resolutions proven in
	// a prior run. Consulted only in fast-path cache mode.
	fastIndex map[string]string

	// entryRefs and entryIncludes keep the entry references alive for the
	// seal phase, keyed by entry name.
	entryRefs     map[string][]*Reference
	entryIncludes map[string][]*Reference
}

// NewCompilation creates a compilation from its collaborators.
func NewCompilation(cfg CompilationConfig) *Compilation {
	opts := cfg.Options.withDefaults()
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = nopMetrics{}
	}
	c := &Compilation{
		ID:             uuid.New().String(),
		opts:           opts,
		graph:          NewUnitGraph(),
		factory:        cfg.Factory,
		builder:        cfg.Builder,
		cache:          cfg.Cache,
		log:            cfg.Logger.With().Str("component", "compilation").Logger(),
		metrics:        metrics,
		events:         cfg.Events,
		hooks:          cfg.Hooks,
		resolutions:    make(map[string]*resolution),
		buildingDuring: make(map[string]map[string]struct{}),
		fastIndex:      make(map[string]string),
		entryRefs:      make(map[string][]*Reference),
		entryIncludes:  make(map[string][]*Reference),
	}
	c.resolveSched = NewScheduler(opts.Parallelism, c.processResolve)
	c.buildSched = NewScheduler(opts.Parallelism, c.processBuild)
	return c
}

// Graph returns the unit graph. It must be treated as frozen once Make has
// returned.
func (c *Compilation) Graph() *UnitGraph {
	return c.graph
}

// Options returns the compilation options.
func (c *Compilation) Options() Options {
	return c.opts
}

// Make discovers the full dependency graph from the entry declarations.
// In bail mode the first error tears down both schedulers and is returned;
// otherwise Make completes the whole graph and reports accumulated errors
// through Errors and Warnings.
func (c *Compilation) Make(ctx context.Context, entries []EntryDeclaration) error {
	c.log.Info().Str("compilation_id", c.ID).Int("entries", len(entries)).Msg("make phase started")

	if c.opts.FastPathCache {
		c.loadFastIndex(ctx)
	}

	for i := range entries {
		entry := entries[i]
		for _, desc := range entry.References {
			ref := &Reference{Descriptor: desc}
			c.entryRefs[entry.Name] = append(c.entryRefs[entry.Name], ref)
			c.scheduleResolve(ctx, []*Reference{ref}, ResolveOptions{}, nil)
		}
		for _, desc := range entry.Includes {
			ref := &Reference{Descriptor: desc, NonRecursive: true}
			c.entryIncludes[entry.Name] = append(c.entryIncludes[entry.Name], ref)
			c.scheduleResolve(ctx, []*Reference{ref}, ResolveOptions{NonRecursive: true}, nil)
		}
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		c.resolveSched.Stop()
		c.buildSched.Stop()
		<-done
		return ctx.Err()
	}

	if c.opts.FastPathCache {
		c.saveFastIndex(ctx)
	}

	c.hooks.makeDone(c.graph)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.log.Info().
		Str("compilation_id", c.ID).
		Int("units", c.graph.Size()).
		Int("errors", len(c.errors)).
		Int("warnings", len(c.warnings)).
		Msg("make phase finished")
	if c.bailed && len(c.errors) > 0 {
		return c.errors[0]
	}
	return nil
}

// EntryReferences returns the references evaluated for an entry, in
// declaration order.
func (c *Compilation) EntryReferences(entry string) []*Reference {
	return c.entryRefs[entry]
}

// EntryIncludes returns the references merely included with an entry.
func (c *Compilation) EntryIncludes(entry string) []*Reference {
	return c.entryIncludes[entry]
}

// Errors returns the accumulated fatal errors, deterministically sorted.
func (c *Compilation) Errors() []*Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := append([]*Error(nil), c.errors...)
	SortErrors(out)
	return out
}

// Warnings returns the accumulated warnings, deterministically sorted.
func (c *Compilation) Warnings() []*Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := append([]*Error(nil), c.warnings...)
	SortErrors(out)
	return out
}

// Inconsistent reports whether a sentinel hash was substituted somewhere
// and the output therefore cannot be trusted for exact caching.
func (c *Compilation) Inconsistent() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inconsistent
}

// MarkInconsistent flags the compilation after a hashing failure.
func (c *Compilation) MarkInconsistent() {
	c.mu.Lock()
	c.inconsistent = true
	c.mu.Unlock()
}

// InvalidateUnit removes a unit's outgoing connections and evicts its
// pipeline results so the next Make builds it again. Used by watch mode in
// response to change signals.
func (c *Compilation) InvalidateUnit(identity string) {
	c.graph.Invalidate(identity)
	c.buildSched.Invalidate(identity)
}

// InvalidateResource evicts a memoized resolution so the next request for
// the descriptor resolves again.
func (c *Compilation) InvalidateResource(desc ResourceDescriptor) {
	for _, key := range []string{resolveKey(desc, false), resolveKey(desc, true)} {
		c.resolveSched.Invalidate(key)
		c.mu.Lock()
		delete(c.resolutions, key)
		delete(c.fastIndex, key)
		c.mu.Unlock()
	}
}

// AddError records a fatal error; in bail mode it also tears down all
// in-flight scheduling.
func (c *Compilation) AddError(e *Error) {
	c.metrics.IncErrors(string(e.Kind))
	c.mu.Lock()
	c.errors = append(c.errors, e)
	bail := c.opts.Bail && !c.bailed
	if bail {
		c.bailed = true
	}
	c.mu.Unlock()

	if bail {
		c.log.Error().Err(e).Msg("bailing out on first error")
		c.resolveSched.Stop()
		c.buildSched.Stop()
	}
}

// AddWarning records a warning.
func (c *Compilation) AddWarning(e *Error) {
	c.mu.Lock()
	c.warnings = append(c.warnings, e)
	c.mu.Unlock()
}

func (c *Compilation) emit(ctx context.Context, eventType, unitID, message, level string) {
	if c.events != nil {
		c.events.Emit(ctx, eventType, unitID, message, level)
	}
}

// loadFastIndex restores the descriptor -> identity index persisted by a
// prior run.
func (c *Compilation) loadFastIndex(ctx context.Context) {
	if c.cache == nil {
		return
	}
	data, ok, err := c.cache.Get(ctx, fastIndexKey, "")
	if err != nil || !ok {
		return
	}
	index := make(map[string]string)
	if err := json.Unmarshal(data, &index); err != nil {
		c.log.Warn().Err(err).Msg("discarding corrupt fast-path index")
		return
	}
	c.mu.Lock()
	c.fastIndex = index
	c.mu.Unlock()
}

// saveFastIndex persists the descriptor -> identity index for the next run.
func (c *Compilation) saveFastIndex(ctx context.Context) {
	if c.cache == nil {
		return
	}
	c.mu.Lock()
	data, err := json.Marshal(c.fastIndex)
	c.mu.Unlock()
	if err != nil {
		return
	}
	if err := c.cache.Store(ctx, fastIndexKey, "", data); err != nil {
		c.log.Warn().Err(err).Msg("failed to persist fast-path index")
	}
}

const fastIndexKey = "fastpath!index"

// nopMetrics is the default metrics recorder.
type nopMetrics struct{}

func (nopMetrics) IncUnitsResolved() {}
func (nopMetrics) IncUnitsBuilt()    {}
func (nopMetrics) IncCacheHits()     {}
func (nopMetrics) IncCacheMisses()   {}
func (nopMetrics) IncErrors(string)  {}
