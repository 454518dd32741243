// Copyright 2026 The APEX Authors
// SPDX-License-Identifier: Apache-2.0

package chain

import (
	"context"
	"strings"

	"github.com/apexrules/apex/internal/errkind"
)

// workflowStage is the parsed shape of one complex-workflow stage.
type workflowStage struct {
	id        string
	dependsOn []string
	cfg       map[string]any
}

// runWorkflow executes a DAG of stages in topological order. If stage A
// depends on B, B runs before A; ties keep listed order. Cycles were
// rejected by the validator, but the sort still guards against them.
func (e *Engine) runWorkflow(ctx context.Context, cfg map[string]any, cc *ChainContext, result *ChainResult) error {
	stages, err := parseWorkflowStages(cfg)
	if err != nil {
		return err
	}
	order, err := topoSort(stages)
	if err != nil {
		return err
	}

	for _, stage := range order {
		if err := checkpoint(ctx); err != nil {
			return err
		}
		cc.CurrentStage = stage.id
		terminated, err := e.runWorkflowStage(stage, cc)
		if err != nil {
			return err
		}
		if terminated {
			result.FinalOutcome = OutcomeTerminated
			result.Successful = false
			return nil
		}
	}
	result.FinalOutcome = OutcomeCompleted
	result.Successful = true
	return nil
}

// runWorkflowStage picks the stage's branch and executes its rules. The
// stage result is SUCCESS when every rule triggered, PARTIAL_SUCCESS when
// some did, FAILURE when none did. A non-triggering rule with
// failure-action terminate stops the chain.
func (e *Engine) runWorkflowStage(stage *workflowStage, cc *ChainContext) (terminated bool, err error) {
	rules, err := e.selectBranch(stage, cc)
	if err != nil {
		return false, err
	}

	triggeredCount := 0
	var lastTriggered *stageRuleOutcome
	for _, ruleCfg := range rules {
		rule, err := RuleFromConfig(ruleCfg)
		if err != nil {
			return false, errkind.WrapPath(errkind.Configuration, "stage "+stage.id, err)
		}
		triggered := e.evalRule(rule, cc)
		if triggered {
			triggeredCount++
			lastTriggered = &stageRuleOutcome{message: rule.Message}
		} else if failureAction(ruleCfg) == "terminate" {
			cc.SetStageResult("stage_"+stage.id+"_result", OutcomeFailure)
			return true, nil
		}
	}

	switch {
	case len(rules) > 0 && triggeredCount == len(rules):
		cc.SetStageResult("stage_"+stage.id+"_result", OutcomeSuccess)
	case triggeredCount > 0:
		cc.SetStageResult("stage_"+stage.id+"_result", OutcomePartialSuccess)
	default:
		cc.SetStageResult("stage_"+stage.id+"_result", OutcomeFailure)
	}

	if variable, ok := getString(stage.cfg, "output-variable"); ok && variable != "" {
		if lastTriggered != nil {
			cc.Variables[variable] = lastTriggered.message
		} else {
			cc.Variables[variable] = nil
		}
	}
	return false, nil
}

type stageRuleOutcome struct {
	message string
}

// selectBranch resolves conditional-execution when present, otherwise the
// stage's plain rules list.
func (e *Engine) selectBranch(stage *workflowStage, cc *ChainContext) ([]map[string]any, error) {
	conditional, ok := getMap(stage.cfg, "conditional-execution")
	if !ok {
		rules, _ := getSlice(stage.cfg, "rules")
		ruleMaps, ok := asMaps(rules)
		if !ok {
			return nil, errkind.New(errkind.Configuration,
				"stage %q rules must be a list of mappings", stage.id)
		}
		return ruleMaps, nil
	}

	condition, _ := getString(conditional, "condition")
	truthy, err := e.exprs.EvaluateBool(condition, cc.exprContext())
	if err != nil {
		return nil, errkind.WrapPath(errkind.Expression, "stage "+stage.id, err)
	}
	branch := "on-false"
	if truthy {
		branch = "on-true"
	}
	branchCfg, ok := getMap(conditional, branch)
	if !ok {
		return nil, nil
	}
	rules, _ := getSlice(branchCfg, "rules")
	ruleMaps, ok := asMaps(rules)
	if !ok {
		return nil, errkind.New(errkind.Configuration,
			"stage %q %s rules must be a list of mappings", stage.id, branch)
	}
	return ruleMaps, nil
}

func parseWorkflowStages(cfg map[string]any) ([]*workflowStage, error) {
	raw, _ := getSlice(cfg, "stages")
	stageMaps, ok := asMaps(raw)
	if !ok {
		return nil, errkind.New(errkind.Configuration, "stages must be a list of mappings")
	}
	stages := make([]*workflowStage, 0, len(stageMaps))
	for _, m := range stageMaps {
		id, _ := getString(m, "id")
		stage := &workflowStage{id: id, cfg: m}
		if deps, ok := getSlice(m, "depends-on"); ok {
			for _, dep := range deps {
				name, ok := dep.(string)
				if !ok {
					return nil, errkind.New(errkind.Configuration,
						"stage %q depends-on entries must be strings", id)
				}
				stage.dependsOn = append(stage.dependsOn, name)
			}
		}
		stages = append(stages, stage)
	}
	return stages, nil
}

// topoSort orders stages so dependencies run first, using iterative DFS
// with a visiting set for cycle detection. Ties keep listed order.
func topoSort(stages []*workflowStage) ([]*workflowStage, error) {
	byID := make(map[string]*workflowStage, len(stages))
	for _, stage := range stages {
		byID[stage.id] = stage
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(stages))
	order := make([]*workflowStage, 0, len(stages))

	for _, root := range stages {
		if state[root.id] != unvisited {
			continue
		}
		stack := []*wfFrame{{stage: root}}
		state[root.id] = visiting
		for len(stack) > 0 {
			top := stack[len(stack)-1]
			if top.next < len(top.stage.dependsOn) {
				depID := top.stage.dependsOn[top.next]
				top.next++
				dep, ok := byID[depID]
				if !ok {
					return nil, errkind.New(errkind.Configuration,
						"stage %q depends on unknown stage %q", top.stage.id, depID)
				}
				switch state[depID] {
				case visiting:
					return nil, errkind.New(errkind.Configuration,
						"stage dependency cycle: %s", cycleString(stack, depID))
				case unvisited:
					state[depID] = visiting
					stack = append(stack, &wfFrame{stage: dep})
				}
				continue
			}
			state[top.stage.id] = done
			order = append(order, top.stage)
			stack = stack[:len(stack)-1]
		}
	}
	return order, nil
}

type wfFrame struct {
	stage *workflowStage
	next  int
}

// cycleString renders the dependency chain closing back on repeat.
func cycleString(stack []*wfFrame, repeat string) string {
	var ids []string
	started := false
	for _, f := range stack {
		if f.stage.id == repeat {
			started = true
		}
		if started {
			ids = append(ids, f.stage.id)
		}
	}
	ids = append(ids, repeat)
	return strings.Join(ids, " -> ")
}
