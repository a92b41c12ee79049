// Package config loads and validates project configuration. Projects are
// described in CUE or YAML: the entry declarations, compilation options,
// cache location, and telemetry settings the CLI needs to run a build.
package config
