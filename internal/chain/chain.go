// Copyright 2026 The APEX Authors
// SPDX-License-Identifier: Apache-2.0

// Package chain executes rule chains: named compositions of rules under
// one of six orchestration patterns, each with defined state propagation
// and failure semantics.
package chain

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/apexrules/apex/internal/errkind"
	"github.com/apexrules/apex/internal/expr"
	"github.com/apexrules/apex/internal/model"
)

// Chain pattern names.
const (
	PatternConditional  = "conditional"
	PatternSequential   = "sequential"
	PatternRouting      = "routing"
	PatternAccumulative = "accumulative"
	PatternWorkflow     = "complex-workflow"
	PatternFluent       = "fluent"
)

// Final outcome labels shared across patterns.
const (
	OutcomeTriggered       = "TRIGGERED"
	OutcomeNotTriggered    = "NOT_TRIGGERED"
	OutcomeCompleted       = "COMPLETED"
	OutcomeTerminated      = "TERMINATED"
	OutcomeNoMatchingRoute = "NO_MATCHING_ROUTE"
	OutcomeSuccess         = "SUCCESS"
	OutcomePartialSuccess  = "PARTIAL_SUCCESS"
	OutcomeFailure         = "FAILURE"
	OutcomeCancelled       = "CANCELLED"
	OutcomeError           = "ERROR"
)

// StageResult is one named intermediate value in execution order.
type StageResult struct {
	Name  string
	Value any
}

// ChainResult is the structured outcome of one chain execution.
type ChainResult struct {
	RuleChainID   string
	RuleChainName string
	Pattern       string
	FinalOutcome  string
	Successful    bool
	StageResults  []StageResult
	Variables     map[string]any
	ErrorMessage  string
	ErrorKind     errkind.Kind
	ExecutionID   string
	Duration      time.Duration
}

// ChainContext is the per-invocation mutable state. It is never shared
// across requests; execution within one chain is single-threaded.
type ChainContext struct {
	Record       map[string]any
	Variables    map[string]any
	CurrentStage string

	stageOrder   []string
	stageResults map[string]any
}

// NewChainContext builds a context over a record.
func NewChainContext(record map[string]any) *ChainContext {
	return &ChainContext{
		Record:       record,
		Variables:    map[string]any{},
		stageResults: map[string]any{},
	}
}

// SetStageResult records a named intermediate value, keeping first-set
// order. Overwrites keep the original position.
func (c *ChainContext) SetStageResult(name string, value any) {
	if _, seen := c.stageResults[name]; !seen {
		c.stageOrder = append(c.stageOrder, name)
	}
	c.stageResults[name] = value
}

// StageResult returns one named intermediate value.
func (c *ChainContext) StageResult(name string) (any, bool) {
	v, ok := c.stageResults[name]
	return v, ok
}

// StageResults returns all intermediate values in execution order.
func (c *ChainContext) StageResults() []StageResult {
	out := make([]StageResult, 0, len(c.stageOrder))
	for _, name := range c.stageOrder {
		out = append(out, StageResult{Name: name, Value: c.stageResults[name]})
	}
	return out
}

// exprContext exposes the record plus chain variables and stage results
// to expressions. Variables shadow stage results on name collision.
func (c *ChainContext) exprContext() *expr.Context {
	vars := make(map[string]any, len(c.Variables)+len(c.stageResults))
	for k, v := range c.stageResults {
		vars[k] = v
	}
	for k, v := range c.Variables {
		vars[k] = v
	}
	return &expr.Context{Record: c.Record, Vars: vars}
}

// Engine executes rule chains. Safe for concurrent use; each execution
// gets its own ChainContext.
type Engine struct {
	exprs  *expr.Cache
	logger *slog.Logger
}

// NewEngine builds an engine sharing the given expression cache.
func NewEngine(exprs *expr.Cache, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{exprs: exprs, logger: logger.With(slog.String("component", "chain"))}
}

// Execute runs one chain against a record. Configuration problems and
// cancellation surface in the result; Execute never panics on bad config.
func (e *Engine) Execute(ctx context.Context, chain *model.RuleChain, record map[string]any) *ChainResult {
	started := time.Now()
	result := &ChainResult{
		RuleChainID:   chain.ID,
		RuleChainName: chain.Name,
		Pattern:       chain.Pattern,
		ExecutionID:   uuid.NewString(),
	}
	cc := NewChainContext(record)

	if err := ValidateChainConfig(chain); err != nil {
		e.fail(result, err)
		result.Duration = time.Since(started)
		return result
	}

	var err error
	switch chain.Pattern {
	case PatternConditional:
		err = e.runConditional(ctx, chain.Configuration, cc, result)
	case PatternSequential:
		err = e.runSequential(ctx, chain.Configuration, cc, result)
	case PatternRouting:
		err = e.runRouting(ctx, chain.Configuration, cc, result)
	case PatternAccumulative:
		err = e.runAccumulative(ctx, chain.Configuration, cc, result)
	case PatternWorkflow:
		err = e.runWorkflow(ctx, chain.Configuration, cc, result)
	case PatternFluent:
		err = e.runFluent(ctx, chain.Configuration, cc, result)
	default:
		err = errkind.New(errkind.Configuration, "unknown chain pattern %q", chain.Pattern)
	}

	result.StageResults = cc.StageResults()
	result.Variables = cc.Variables
	if err != nil {
		e.fail(result, err)
	}
	result.Duration = time.Since(started)
	return result
}

func (e *Engine) fail(result *ChainResult, err error) {
	result.Successful = false
	result.ErrorMessage = err.Error()
	result.ErrorKind = errkind.KindOf(err)
	if errkind.IsKind(err, errkind.Cancelled) {
		result.FinalOutcome = OutcomeCancelled
	} else {
		result.FinalOutcome = OutcomeError
	}
	e.logger.Warn("chain execution failed",
		slog.String("chain", result.RuleChainID),
		slog.String("pattern", result.Pattern),
		slog.Any("error", err))
}

// checkpoint returns a Cancelled error once the caller's context is done.
// Executors call it between stages.
func checkpoint(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errkind.Wrap(errkind.Cancelled, err)
	}
	return nil
}
