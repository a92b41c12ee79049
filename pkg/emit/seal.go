package emit

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/xtzx/Fork-webpack-sub002/pkg/engine"
)

// SealOptions configures the seal phase.
type SealOptions struct {
	// Policy is the explicit splitting policy.
	Policy Policy

	// Passes are the optimization passes; nil selects DefaultPasses.
	Passes []Pass

	// Cache is the artifact cache; may be nil.
	Cache engine.Cache

	// Hash configures unit digesting.
	Hash HashOptions

	// Logger receives seal-phase logging.
	Logger zerolog.Logger
}

// Result is the output surface of a sealed compilation: an ordered set of
// named artifacts and deterministically sorted error and warning lists.
type Result struct {
	Graph        *OutputGraph
	Artifacts    []*Artifact
	Errors       []*engine.Error
	Warnings     []*engine.Error
	Inconsistent bool
}

// Seal projects a completed compilation into its output graph, hashes it,
// and generates the final artifacts. The compilation's graph must not be
// mutated after Make has returned.
func Seal(ctx context.Context, comp *engine.Compilation, entries []engine.EntryDeclaration, opts SealOptions) (*Result, error) {
	passes := opts.Passes
	if passes == nil {
		passes = DefaultPasses(opts.Policy)
	}

	builder := NewGraphBuilder(comp, entries, opts.Policy, opts.Logger)
	og, err := builder.Build(comp, passes)
	if err != nil {
		comp.AddError(engine.NewInternalError("output graph construction failed", err))
		return collectResult(comp, og, nil), err
	}

	hasher := NewHasher(og, comp, opts.Hash, opts.Logger)
	hasher.HashUnits()
	hasher.HashGroups()

	codegen := NewCodegen(og, opts.Cache, comp, opts.Logger)
	artifacts, err := codegen.Run(ctx)
	if err != nil {
		return collectResult(comp, og, nil), err
	}

	return collectResult(comp, og, artifacts), nil
}

func collectResult(comp *engine.Compilation, og *OutputGraph, artifacts *ArtifactSet) *Result {
	res := &Result{
		Graph:        og,
		Errors:       comp.Errors(),
		Warnings:     comp.Warnings(),
		Inconsistent: comp.Inconsistent(),
	}
	if artifacts != nil {
		res.Artifacts = artifacts.List()
	}
	return res
}
