// Copyright 2026 The APEX Authors
// SPDX-License-Identifier: Apache-2.0

// Package engine is the processing facade: one call enriches a record
// and runs it through a named rule chain, resolving services against the
// registry's current generation.
package engine

import (
	"context"
	"log/slog"

	"github.com/apexrules/apex/internal/chain"
	"github.com/apexrules/apex/internal/enrichment"
	"github.com/apexrules/apex/internal/errkind"
	"github.com/apexrules/apex/internal/expr"
	"github.com/apexrules/apex/internal/registry"
)

// Result is the structured outcome returned at the library boundary.
type Result struct {
	Successful   bool
	ErrorMessage string
	ErrorKind    errkind.Kind

	// Record is the enriched input; the same map instance the caller
	// passed in.
	Record map[string]any
	// Chain is the chain execution detail, nil when processing never
	// reached the chain.
	Chain *chain.ChainResult
	// EnrichmentWarnings collects non-fatal field-level enrichment
	// failures; processing continues past them.
	EnrichmentWarnings []string
}

// Engine wires the enrichment processor and the chain engine over one
// registry. Safe for concurrent use; each request resolves against the
// generation installed when it starts.
type Engine struct {
	registry *registry.Registry
	chains   *chain.Engine
	enricher *enrichment.Processor
	logger   *slog.Logger
}

// New builds the facade. The expression cache is shared by enrichment
// conditions and chain rules.
func New(reg *registry.Registry, exprs *expr.Cache, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		registry: reg,
		chains:   chain.NewEngine(exprs, logger),
		enricher: enrichment.NewProcessor(reg, exprs, logger),
		logger:   logger.With(slog.String("component", "engine")),
	}
}

// Process enriches record with the current generation's enrichments and
// executes the named rule chain against it. Fatal enrichment failures
// and unknown chains stop before chain execution.
func (e *Engine) Process(ctx context.Context, record map[string]any, chainID string) *Result {
	result := &Result{Record: record}
	gen := e.registry.Generation()

	record, err := e.enricher.Enrich(ctx, record, gen.Enrichments)
	result.Record = record
	if err != nil {
		kind := errkind.KindOf(err)
		if kind == errkind.Fatal || kind == errkind.Cancelled {
			result.ErrorMessage = err.Error()
			result.ErrorKind = kind
			return result
		}
		// Field-level failures degrade the record but not the request.
		result.EnrichmentWarnings = append(result.EnrichmentWarnings, err.Error())
		e.logger.Warn("enrichment degraded", slog.Any("error", err))
	}

	rc, ok := gen.Chains[chainID]
	if !ok {
		classified := errkind.New(errkind.Configuration, "rule chain %q is not registered", chainID)
		result.ErrorMessage = classified.Error()
		result.ErrorKind = classified.Kind
		return result
	}

	chainResult := e.chains.Execute(ctx, rc, record)
	result.Chain = chainResult
	result.Successful = chainResult.Successful
	result.ErrorMessage = chainResult.ErrorMessage
	result.ErrorKind = chainResult.ErrorKind
	return result
}
