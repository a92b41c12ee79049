package config

import (
	"time"

	"github.com/xtzx/Fork-webpack-sub002/pkg/engine"
)

// ReferenceConfig describes one resource request inside an entry.
type ReferenceConfig struct {
	// Category is the request namespace (e.g. "module", "asset").
	Category string `json:"category" yaml:"category" validate:"required"`

	// Resource is the requested resource within the category.
	Resource string `json:"resource" yaml:"resource" validate:"required"`
}

// EntryConfig declares one entry point of the build.
type EntryConfig struct {
	// Name is the entry name; it becomes the output collection name.
	Name string `json:"name" yaml:"name" validate:"required"`

	// References are the resources evaluated recursively for this entry.
	References []ReferenceConfig `json:"references" yaml:"references" validate:"required,min=1,dive"`

	// Includes are resources built with the entry but not walked further.
	Includes []ReferenceConfig `json:"includes,omitempty" yaml:"includes,omitempty" validate:"dive"`

	// DependOn names entries whose execution context this entry reuses.
	DependOn []string `json:"depend_on,omitempty" yaml:"depend_on,omitempty"`

	// Runtime names a shared execution context. Mutually exclusive with
	// DependOn.
	Runtime string `json:"runtime,omitempty" yaml:"runtime,omitempty"`
}

// BuildConfig holds compilation options.
type BuildConfig struct {
	// Parallelism bounds concurrent resolve and build operations.
	Parallelism int `json:"parallelism,omitempty" yaml:"parallelism,omitempty" validate:"gte=0"`

	// Bail stops the build at the first error.
	Bail bool `json:"bail,omitempty" yaml:"bail,omitempty"`

	// FastPathCache opts into reusing prior-run resolutions.
	FastPathCache bool `json:"fast_path_cache,omitempty" yaml:"fast_path_cache,omitempty"`

	// MinSharedSize is the threshold for extracting shared units.
	MinSharedSize int `json:"min_shared_size,omitempty" yaml:"min_shared_size,omitempty" validate:"gte=0"`

	// OutputDir is where artifacts are written.
	OutputDir string `json:"output_dir,omitempty" yaml:"output_dir,omitempty"`
}

// CacheConfig configures the persistent build cache.
type CacheConfig struct {
	// Enabled turns the persistent cache on.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Path is the SQLite database location.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// WatchConfig configures watch mode.
type WatchConfig struct {
	// Paths are the directories observed for changes.
	Paths []string `json:"paths,omitempty" yaml:"paths,omitempty"`

	// Debounce is how long to coalesce change bursts before rebuilding.
	Debounce time.Duration `json:"debounce,omitempty" yaml:"debounce,omitempty"`

	// Ignore lists path substrings excluded from watching.
	Ignore []string `json:"ignore,omitempty" yaml:"ignore,omitempty"`
}

// TelemetryConfig is the subset of telemetry settings projects may tune.
type TelemetryConfig struct {
	// LogLevel sets the minimum log level.
	LogLevel string `json:"log_level,omitempty" yaml:"log_level,omitempty" validate:"omitempty,oneof=trace debug info warn error fatal"`

	// LogFormat selects console or json output.
	LogFormat string `json:"log_format,omitempty" yaml:"log_format,omitempty" validate:"omitempty,oneof=console json"`

	// MetricsEnabled exposes a Prometheus endpoint.
	MetricsEnabled bool `json:"metrics_enabled,omitempty" yaml:"metrics_enabled,omitempty"`

	// MetricsAddress is the metrics listen address.
	MetricsAddress string `json:"metrics_address,omitempty" yaml:"metrics_address,omitempty"`

	// TracingEnabled turns on trace export.
	TracingEnabled bool `json:"tracing_enabled,omitempty" yaml:"tracing_enabled,omitempty"`

	// TracingExporter selects the trace exporter (otlp, stdout, none).
	TracingExporter string `json:"tracing_exporter,omitempty" yaml:"tracing_exporter,omitempty" validate:"omitempty,oneof=otlp stdout none"`

	// TracingEndpoint is the OTLP endpoint.
	TracingEndpoint string `json:"tracing_endpoint,omitempty" yaml:"tracing_endpoint,omitempty"`
}

// Project is the fully parsed project configuration.
type Project struct {
	// Name is the project name.
	Name string `json:"name" yaml:"name" validate:"required"`

	// Root is the directory resolution is anchored at. Defaults to the
	// directory containing the config file.
	Root string `json:"root,omitempty" yaml:"root,omitempty"`

	// Entries are the build entry points.
	Entries []EntryConfig `json:"entries" yaml:"entries" validate:"required,min=1,dive"`

	// Build holds compilation options.
	Build BuildConfig `json:"build,omitempty" yaml:"build,omitempty"`

	// Cache configures the persistent build cache.
	Cache CacheConfig `json:"cache,omitempty" yaml:"cache,omitempty"`

	// Watch configures watch mode.
	Watch WatchConfig `json:"watch,omitempty" yaml:"watch,omitempty"`

	// Telemetry holds observability settings.
	Telemetry TelemetryConfig `json:"telemetry,omitempty" yaml:"telemetry,omitempty"`

	// SourceFile is the config file the project was loaded from.
	SourceFile string `json:"-" yaml:"-"`
}

// ValidationError is a config problem with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the config path to the error (e.g. "entries[0].name").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`
}

// EntryDeclarations converts the configured entries into engine form.
func (p *Project) EntryDeclarations() []engine.EntryDeclaration {
	decls := make([]engine.EntryDeclaration, len(p.Entries))
	for i, e := range p.Entries {
		decls[i] = engine.EntryDeclaration{
			Name:       e.Name,
			References: toDescriptors(e.References),
			Includes:   toDescriptors(e.Includes),
			DependOn:   e.DependOn,
			Runtime:    e.Runtime,
		}
	}
	return decls
}

// EngineOptions converts the build section into engine options.
func (p *Project) EngineOptions() engine.Options {
	return engine.Options{
		Parallelism:   p.Build.Parallelism,
		Bail:          p.Build.Bail,
		FastPathCache: p.Build.FastPathCache,
		MinSharedSize: p.Build.MinSharedSize,
	}
}

func toDescriptors(refs []ReferenceConfig) []engine.ResourceDescriptor {
	if len(refs) == 0 {
		return nil
	}
	out := make([]engine.ResourceDescriptor, len(refs))
	for i, r := range refs {
		out[i] = engine.ResourceDescriptor{
			Category: r.Category,
			Resource: r.Resource,
		}
	}
	return out
}
