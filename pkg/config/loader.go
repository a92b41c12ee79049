package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Loader parses project configuration from CUE or YAML files.
type Loader struct {
	ctx       *cue.Context
	validator *validator.Validate
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		ctx:       cuecontext.New(),
		validator: validator.New(),
	}
}

// Load reads, parses, and validates the project configuration at path.
// The format is chosen by extension: .cue, or .yaml/.yml.
func (l *Loader) Load(path string) (*Project, []ValidationError, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var project *Project
	var errs []ValidationError

	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		project, errs = l.parseCUE(string(content), path)
	case ".yaml", ".yml":
		project, errs = l.parseYAML(content, path)
	default:
		return nil, nil, fmt.Errorf("unsupported config format: %s", filepath.Ext(path))
	}

	if len(errs) > 0 {
		return nil, errs, nil
	}

	project.SourceFile = path
	if project.Root == "" {
		project.Root = filepath.Dir(path)
	}
	applyDefaults(project)

	if errs := l.validate(project, path); len(errs) > 0 {
		return nil, errs, nil
	}

	return project, nil, nil
}

// ParseInline parses inline CUE content, mainly for tests and tooling.
func (l *Loader) ParseInline(content string) (*Project, []ValidationError, error) {
	project, errs := l.parseCUE(content, "inline")
	if len(errs) > 0 {
		return nil, errs, nil
	}

	applyDefaults(project)
	if errs := l.validate(project, "inline"); len(errs) > 0 {
		return nil, errs, nil
	}
	return project, nil, nil
}

func (l *Loader) parseCUE(content, filename string) (*Project, []ValidationError) {
	val := l.ctx.CompileString(content, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return nil, convertCUEErrors(err)
	}

	var project Project
	if err := val.Decode(&project); err != nil {
		return nil, convertCUEErrors(err)
	}

	return &project, nil
}

func (l *Loader) parseYAML(content []byte, filename string) (*Project, []ValidationError) {
	var project Project
	if err := yaml.Unmarshal(content, &project); err != nil {
		return nil, []ValidationError{{
			File:    filename,
			Message: err.Error(),
		}}
	}
	return &project, nil
}

// validate runs struct-tag validation plus the cross-field rules tags
// cannot express.
func (l *Loader) validate(p *Project, filename string) []ValidationError {
	var errs []ValidationError

	if err := l.validator.Struct(p); err != nil {
		if fieldErrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range fieldErrs {
				errs = append(errs, ValidationError{
					File:    filename,
					Path:    fe.Namespace(),
					Message: fmt.Sprintf("failed %q validation", fe.Tag()),
				})
			}
		} else {
			errs = append(errs, ValidationError{File: filename, Message: err.Error()})
		}
	}

	names := make(map[string]bool, len(p.Entries))
	for _, e := range p.Entries {
		if names[e.Name] {
			errs = append(errs, ValidationError{
				File:    filename,
				Path:    fmt.Sprintf("entries.%s", e.Name),
				Message: "duplicate entry name",
			})
		}
		names[e.Name] = true
	}

	for _, e := range p.Entries {
		if e.Runtime != "" && len(e.DependOn) > 0 {
			errs = append(errs, ValidationError{
				File:    filename,
				Path:    fmt.Sprintf("entries.%s", e.Name),
				Message: "runtime and depend_on are mutually exclusive",
			})
		}
		for _, dep := range e.DependOn {
			if !names[dep] {
				errs = append(errs, ValidationError{
					File:    filename,
					Path:    fmt.Sprintf("entries.%s", e.Name),
					Message: fmt.Sprintf("depend_on references unknown entry %q", dep),
				})
			}
			if dep == e.Name {
				errs = append(errs, ValidationError{
					File:    filename,
					Path:    fmt.Sprintf("entries.%s", e.Name),
					Message: "entry cannot depend on itself",
				})
			}
		}
	}

	return errs
}

func applyDefaults(p *Project) {
	if p.Build.OutputDir == "" {
		p.Build.OutputDir = "dist"
	}
	if p.Cache.Enabled && p.Cache.Path == "" {
		p.Cache.Path = filepath.Join(p.Root, ".bundcache", "cache.db")
	}
	if p.Watch.Debounce == 0 {
		p.Watch.Debounce = 200 * time.Millisecond
	}
	if len(p.Watch.Paths) == 0 && p.Root != "" {
		p.Watch.Paths = []string{p.Root}
	}
	if p.Telemetry.LogLevel == "" {
		p.Telemetry.LogLevel = "info"
	}
	if p.Telemetry.LogFormat == "" {
		p.Telemetry.LogFormat = "console"
	}
	if p.Telemetry.MetricsAddress == "" {
		p.Telemetry.MetricsAddress = ":9090"
	}
	if p.Telemetry.TracingExporter == "" {
		p.Telemetry.TracingExporter = "stdout"
	}
}

// convertCUEErrors converts CUE errors to ValidationError slice.
func convertCUEErrors(err error) []ValidationError {
	var out []ValidationError

	for _, e := range cueerrors.Errors(err) {
		pos := cueerrors.Positions(e)
		var file string
		var line, column int

		if len(pos) > 0 {
			file = pos[0].Filename()
			line = pos[0].Line()
			column = pos[0].Column()
		}

		out = append(out, ValidationError{
			File:    file,
			Line:    line,
			Column:  column,
			Message: cueerrors.Details(e, nil),
		})
	}

	return out
}
