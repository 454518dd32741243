// Copyright 2026 The APEX Authors
// SPDX-License-Identifier: Apache-2.0

package chain

import (
	"context"

	"github.com/apexrules/apex/internal/errkind"
	"github.com/apexrules/apex/internal/expr"
	"github.com/apexrules/apex/internal/model"
)

// runConditional evaluates the trigger rule, then executes the on-trigger
// or on-no-trigger rules in listed order. Outcome: TRIGGERED/NOT_TRIGGERED.
func (e *Engine) runConditional(ctx context.Context, cfg map[string]any, cc *ChainContext, result *ChainResult) error {
	triggerCfg, _ := getMap(cfg, "trigger-rule")
	trigger, err := RuleFromConfig(triggerCfg)
	if err != nil {
		return err
	}

	triggered := e.evalRule(trigger, cc)
	cc.SetStageResult("rule_"+ruleLabel(trigger)+"_result", outcomeOf(triggered))

	branch := "on-no-trigger"
	if triggered {
		branch = "on-trigger"
	}
	if rules, ok := getSlice(cfg, branch); ok {
		if err := e.runRuleList(ctx, rules, cc); err != nil {
			return err
		}
	}

	result.FinalOutcome = OutcomeNotTriggered
	if triggered {
		result.FinalOutcome = OutcomeTriggered
	}
	result.Successful = true
	return nil
}

// runSequential executes stages in listed order. A stage whose rule does
// not trigger obeys failure-action: terminate stops the chain with that
// stage as the last; continue proceeds.
func (e *Engine) runSequential(ctx context.Context, cfg map[string]any, cc *ChainContext, result *ChainResult) error {
	stages, _ := getSlice(cfg, "stages")
	stageMaps, _ := asMaps(stages)

	for _, stage := range stageMaps {
		if err := checkpoint(ctx); err != nil {
			return err
		}
		id, _ := getString(stage, "id")
		cc.CurrentStage = id
		ruleCfg, _ := getMap(stage, "rule")
		rule, err := RuleFromConfig(ruleCfg)
		if err != nil {
			return errkind.WrapPath(errkind.Configuration, "stage "+id, err)
		}

		triggered := e.evalRule(rule, cc)
		e.bindStageOutputs(stage, id, rule, triggered, cc)

		if !triggered && failureAction(stage) == "terminate" {
			result.FinalOutcome = OutcomeTerminated
			result.Successful = false
			return nil
		}
	}
	result.FinalOutcome = OutcomeCompleted
	result.Successful = true
	return nil
}

// runRouting evaluates the router rule's condition as a value, selects the
// matching route and executes its rules. Unknown labels fall to
// default-route, else NO_MATCHING_ROUTE.
func (e *Engine) runRouting(ctx context.Context, cfg map[string]any, cc *ChainContext, result *ChainResult) error {
	routerCfg, _ := getMap(cfg, "router-rule")
	condition, _ := getString(routerCfg, "condition")
	value, err := e.exprs.Evaluate(condition, cc.exprContext())
	if err != nil {
		return errkind.WrapPath(errkind.Expression, "router-rule", err)
	}
	label := expr.Stringify(value)
	cc.SetStageResult("router_result", label)

	routes, _ := getMap(cfg, "routes")
	route, ok := getSlice(routes, label)
	switch {
	case ok:
		result.FinalOutcome = label
	default:
		route, ok = getSlice(cfg, "default-route")
		if !ok {
			result.FinalOutcome = OutcomeNoMatchingRoute
			result.Successful = false
			return nil
		}
		result.FinalOutcome = label
		cc.SetStageResult("route_taken", "default-route")
	}

	if err := e.runRuleList(ctx, route, cc); err != nil {
		return err
	}
	result.Successful = true
	return nil
}

// runAccumulative sums each rule's score-expression into an accumulator,
// then maps the total onto the configured ranges.
func (e *Engine) runAccumulative(ctx context.Context, cfg map[string]any, cc *ChainContext, result *ChainResult) error {
	rules, _ := getSlice(cfg, "rules")
	ruleMaps, _ := asMaps(rules)
	accumulatorName, _ := getString(cfg, "accumulator")
	if accumulatorName == "" {
		accumulatorName = "accumulator"
	}

	total := 0.0
	for _, entry := range ruleMaps {
		if err := checkpoint(ctx); err != nil {
			return err
		}
		name, _ := getString(entry, "name")
		if name == "" {
			name, _ = getString(entry, "id")
		}

		// An optional condition gates the contribution.
		if condition, ok := getString(entry, "condition"); ok && condition != "" {
			triggered, err := e.exprs.EvaluateBool(condition, cc.exprContext())
			if err != nil || !triggered {
				cc.SetStageResult("score_"+name, 0.0)
				continue
			}
		}

		scoreExpr, _ := getString(entry, "score-expression")
		value, err := e.exprs.Evaluate(scoreExpr, cc.exprContext())
		if err != nil {
			return errkind.WrapPath(errkind.Expression, "rule "+name, err)
		}
		score, ok := asFloat(value)
		if !ok {
			return errkind.New(errkind.Expression,
				"score-expression of rule %q produced %T, expected a number", name, value)
		}
		total += score
		cc.SetStageResult("score_"+name, score)
		cc.Variables[accumulatorName] = total
	}
	cc.Variables[accumulatorName] = total

	result.FinalOutcome = matchRange(cfg, total)
	result.Successful = result.FinalOutcome != OutcomeError
	return nil
}

// matchRange picks the first range whose [min, max] covers total.
func matchRange(cfg map[string]any, total float64) string {
	ranges, _ := getSlice(cfg, "ranges")
	rangeMaps, _ := asMaps(ranges)
	for _, r := range rangeMaps {
		min, hasMin := asFloat(r["min"])
		max, hasMax := asFloat(r["max"])
		if hasMin && total < min {
			continue
		}
		if hasMax && total > max {
			continue
		}
		if outcome, ok := getString(r, "outcome"); ok {
			return outcome
		}
	}
	return OutcomeError
}

// runRuleList executes rules in listed order, recording each outcome.
func (e *Engine) runRuleList(ctx context.Context, rules []any, cc *ChainContext) error {
	ruleMaps, ok := asMaps(rules)
	if !ok {
		return errkind.New(errkind.Configuration, "rule list entries must be mappings")
	}
	for _, ruleCfg := range ruleMaps {
		if err := checkpoint(ctx); err != nil {
			return err
		}
		rule, err := RuleFromConfig(ruleCfg)
		if err != nil {
			return err
		}
		triggered := e.evalRule(rule, cc)
		cc.SetStageResult("rule_"+ruleLabel(rule)+"_result", outcomeOf(triggered))
	}
	return nil
}

// bindStageOutputs records stage_<id>_result and binds the stage's
// output-variable: the rule message when triggered, nil otherwise.
func (e *Engine) bindStageOutputs(stage map[string]any, id string, rule *model.Rule, triggered bool, cc *ChainContext) {
	outcome := OutcomeFailure
	if triggered {
		outcome = OutcomeSuccess
	}
	cc.SetStageResult("stage_"+id+"_result", outcome)

	if variable, ok := getString(stage, "output-variable"); ok && variable != "" {
		if triggered {
			cc.Variables[variable] = rule.Message
		} else {
			cc.Variables[variable] = nil
		}
	}
}

func failureAction(stage map[string]any) string {
	action, ok := getString(stage, "failure-action")
	if !ok {
		return "continue"
	}
	return action
}

func outcomeOf(triggered bool) string {
	if triggered {
		return OutcomeTriggered
	}
	return OutcomeNotTriggered
}
