package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xtzx/Fork-webpack-sub002/pkg/cache"
	"github.com/xtzx/Fork-webpack-sub002/pkg/config"
	"github.com/xtzx/Fork-webpack-sub002/pkg/emit"
	"github.com/xtzx/Fork-webpack-sub002/pkg/engine"
	"github.com/xtzx/Fork-webpack-sub002/pkg/source"
	"github.com/xtzx/Fork-webpack-sub002/pkg/telemetry"
)

// buildEnv holds the collaborators shared by build and watch runs: the
// loaded project, telemetry, the tiered build cache, and the file-backed
// factory and builder.
type buildEnv struct {
	project  *config.Project
	tel      *telemetry.Telemetry
	memory   *cache.MemoryCache
	persist  *cache.SQLiteCache
	store    engine.Cache
	resolver *source.Resolver
	builder  *source.Builder
}

// newBuildEnv loads the project config and wires everything a build needs.
func newBuildEnv(ctx context.Context, path string) (*buildEnv, error) {
	project, cfgErrs, err := config.NewLoader().Load(path)
	if err != nil {
		return nil, err
	}
	if len(cfgErrs) > 0 {
		for _, e := range cfgErrs {
			fmt.Fprintf(os.Stderr, "config error: %s: %s\n", e.Path, e.Message)
		}
		return nil, fmt.Errorf("invalid project config %s", path)
	}

	tel, err := newTelemetry(project)
	if err != nil {
		return nil, err
	}

	env := &buildEnv{
		project: project,
		tel:     tel,
		memory:  cache.NewMemoryCache(),
	}

	if project.Cache.Enabled {
		persist, err := cache.NewSQLiteCache(cache.Config{Path: project.Cache.Path})
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(project.Cache.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
		if err := persist.Init(ctx); err != nil {
			return nil, err
		}
		if err := persist.Migrate(ctx); err != nil {
			_ = persist.Close()
			return nil, err
		}
		env.persist = persist
		env.store = cache.NewTiered(env.memory, persist)
	} else {
		env.store = env.memory
	}

	resolver, err := source.NewResolver(project.Root)
	if err != nil {
		env.closeCache()
		return nil, err
	}
	env.resolver = resolver
	env.builder = source.NewBuilder(resolver)

	if project.Telemetry.MetricsEnabled {
		if err := tel.StartMetricsServer(); err != nil {
			env.closeCache()
			return nil, err
		}
	}

	return env, nil
}

func (e *buildEnv) closeCache() {
	if e.persist != nil {
		_ = e.persist.Close()
	}
}

// Close releases the cache and flushes telemetry.
func (e *buildEnv) Close(ctx context.Context) {
	e.closeCache()
	_ = e.tel.Shutdown(ctx)
}

// newTelemetry builds telemetry from the project's settings.
func newTelemetry(project *config.Project) (*telemetry.Telemetry, error) {
	cfg := telemetry.DefaultConfig()
	cfg.Logging.Level = project.Telemetry.LogLevel
	cfg.Logging.Format = project.Telemetry.LogFormat
	if verbose {
		cfg.Logging.Level = "debug"
	}
	cfg.Metrics.Enabled = project.Telemetry.MetricsEnabled
	cfg.Metrics.ListenAddress = project.Telemetry.MetricsAddress
	cfg.Tracing.Enabled = project.Telemetry.TracingEnabled
	cfg.Tracing.Exporter = project.Telemetry.TracingExporter
	cfg.Tracing.Endpoint = project.Telemetry.TracingEndpoint
	return telemetry.NewTelemetry(cfg)
}

// runOnce executes one full compilation: make, seal, and artifact writes.
// It returns an error when the compilation produced fatal errors.
func (e *buildEnv) runOnce(ctx context.Context) (*emit.Result, error) {
	log := e.tel.Logger
	entries := e.project.EntryDeclarations()

	comp := engine.NewCompilation(engine.CompilationConfig{
		Factory: e.resolver,
		Builder: e.builder,
		Cache:   e.store,
		Logger:  log.Zerolog(),
		Metrics: e.tel.Metrics,
		Events:  e.tel.Events,
		Options: e.project.EngineOptions(),
	})

	ctx = telemetry.WithCompilationContext(e.tel.WithContext(ctx), comp.ID, len(entries))

	makeStart := time.Now()
	err := comp.Make(ctx, entries)
	e.tel.Metrics.RecordMakeDuration(statusOf(err), time.Since(makeStart))
	if err != nil {
		telemetry.EndCompilationContext(ctx, comp.ID, "failed", err)
		reportDiagnostics(log, comp.Errors(), comp.Warnings())
		return nil, err
	}

	sealStart := time.Now()
	result, err := emit.Seal(ctx, comp, entries, emit.SealOptions{
		Policy: emit.Policy{
			MinSharedSize: e.project.Build.MinSharedSize,
		},
		Cache:  e.store,
		Logger: log.Zerolog(),
	})
	e.tel.Metrics.RecordSealDuration(statusOf(err), time.Since(sealStart))
	if err != nil {
		telemetry.EndCompilationContext(ctx, comp.ID, "failed", err)
		reportDiagnostics(log, comp.Errors(), comp.Warnings())
		return result, err
	}

	reportDiagnostics(log, result.Errors, result.Warnings)

	if len(result.Errors) > 0 {
		buildErr := fmt.Errorf("build finished with %d errors", len(result.Errors))
		telemetry.EndCompilationContext(ctx, comp.ID, "failed", buildErr)
		return result, buildErr
	}

	if err := e.writeArtifacts(ctx, comp.ID, result); err != nil {
		telemetry.EndCompilationContext(ctx, comp.ID, "failed", err)
		return result, err
	}

	e.tel.Metrics.SetOutputGroups(float64(len(result.Graph.Groups())))
	_ = e.tel.Events.PublishCompilationCompleted(comp.ID, len(result.Artifacts), time.Since(makeStart))
	telemetry.EndCompilationContext(ctx, comp.ID, "success", nil)

	log.Infof("build complete: %d units, %d groups, %d artifacts",
		comp.Graph().Size(), len(result.Graph.Groups()), len(result.Artifacts))
	if result.Inconsistent {
		log.Warn("output is inconsistent: a content hash could not be computed")
	}

	return result, nil
}

// writeArtifacts persists the sealed artifacts under the output directory.
func (e *buildEnv) writeArtifacts(ctx context.Context, compilationID string, result *emit.Result) error {
	outDir := e.project.Build.OutputDir
	if !filepath.IsAbs(outDir) {
		outDir = filepath.Join(e.project.Root, outDir)
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	for _, a := range result.Artifacts {
		target := filepath.Join(outDir, a.Name)
		if err := os.WriteFile(target, a.Content, 0644); err != nil {
			e.tel.Metrics.RecordArtifactWritten("failed", 0)
			return fmt.Errorf("failed to write artifact %s: %w", a.Name, err)
		}
		e.tel.Metrics.RecordArtifactWritten("written", len(a.Content))
		_ = e.tel.Events.PublishArtifactWritten(compilationID, a.Name, len(a.Content))
	}

	return nil
}

func reportDiagnostics(log *telemetry.Logger, errs, warns []*engine.Error) {
	for _, w := range warns {
		log.WithUnit(w.UnitID).Warn(w.Message)
	}
	for _, e := range errs {
		log.WithUnit(e.UnitID).Error(e.Message)
	}
}

func statusOf(err error) string {
	if err != nil {
		return "failed"
	}
	return "success"
}
