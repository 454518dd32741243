// Copyright 2026 The APEX Authors
// SPDX-License-Identifier: Apache-2.0

package chain

import (
	"context"

	"github.com/apexrules/apex/internal/errkind"
)

// maxFluentDepth bounds the on-success/on-failure tree.
const maxFluentDepth = 20

// runFluent walks the binary decision tree rooted at root-rule: a
// triggering rule descends into on-success, otherwise on-failure. Every
// visited rule records a fluent_rule_<name>_result entry; the last rule's
// outcome decides SUCCESS or FAILURE.
func (e *Engine) runFluent(ctx context.Context, cfg map[string]any, cc *ChainContext, result *ChainResult) error {
	node, ok := getMap(cfg, "root-rule")
	if !ok {
		return errkind.New(errkind.Configuration, "fluent chain requires root-rule")
	}

	lastTriggered := false
	for depth := 0; node != nil; depth++ {
		if depth >= maxFluentDepth {
			return errkind.New(errkind.Configuration,
				"fluent tree exceeds maximum depth %d", maxFluentDepth)
		}
		if err := checkpoint(ctx); err != nil {
			return err
		}

		ruleCfg, ok := getMap(node, "rule")
		if !ok {
			return errkind.New(errkind.Configuration, "fluent node has no rule")
		}
		rule, err := RuleFromConfig(ruleCfg)
		if err != nil {
			return err
		}

		lastTriggered = e.evalRule(rule, cc)
		cc.SetStageResult("fluent_rule_"+ruleLabel(rule)+"_result", outcomeOf(lastTriggered))

		branch := "on-failure"
		if lastTriggered {
			branch = "on-success"
		}
		node, _ = getMap(node, branch)
	}

	if lastTriggered {
		result.FinalOutcome = OutcomeSuccess
	} else {
		result.FinalOutcome = OutcomeFailure
	}
	result.Successful = lastTriggered
	return nil
}
