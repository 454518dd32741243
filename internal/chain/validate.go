// Copyright 2026 The APEX Authors
// SPDX-License-Identifier: Apache-2.0

package chain

import (
	"github.com/apexrules/apex/internal/errkind"
	"github.com/apexrules/apex/internal/model"
)

// Patterns lists every legal chain pattern.
var Patterns = []string{
	PatternConditional, PatternSequential, PatternRouting,
	PatternAccumulative, PatternWorkflow, PatternFluent,
}

// IsPattern reports whether name is a known chain pattern.
func IsPattern(name string) bool {
	for _, p := range Patterns {
		if p == name {
			return true
		}
	}
	return false
}

// ValidateChainConfig checks the pattern-specific configuration shape:
// required keys, list/map shapes, duplicate ids and allowed values. It
// never evaluates expressions.
func ValidateChainConfig(chain *model.RuleChain) error {
	if chain.ID == "" {
		return errkind.New(errkind.Configuration, "rule chain has no id")
	}
	if !IsPattern(chain.Pattern) {
		return errkind.New(errkind.Configuration,
			"rule chain %q has unknown pattern %q", chain.ID, chain.Pattern)
	}
	cfg := chain.Configuration
	if cfg == nil {
		return errkind.New(errkind.Configuration, "rule chain %q has no configuration", chain.ID)
	}

	var err error
	switch chain.Pattern {
	case PatternConditional:
		err = validateConditional(cfg)
	case PatternSequential:
		err = validateSequential(cfg)
	case PatternRouting:
		err = validateRouting(cfg)
	case PatternAccumulative:
		err = validateAccumulative(cfg)
	case PatternWorkflow:
		err = validateWorkflow(cfg)
	case PatternFluent:
		err = validateFluent(cfg)
	}
	if err != nil {
		return errkind.WrapPath(errkind.Configuration, "rule chain "+chain.ID, err)
	}
	return nil
}

func validateConditional(cfg map[string]any) error {
	trigger, ok := getMap(cfg, "trigger-rule")
	if !ok {
		return errkind.New(errkind.Configuration, "conditional chain requires trigger-rule")
	}
	if err := validateRuleShape(trigger); err != nil {
		return err
	}
	for _, branch := range []string{"on-trigger", "on-no-trigger"} {
		if raw, present := cfg[branch]; present {
			rules, ok := raw.([]any)
			if !ok {
				return errkind.New(errkind.Configuration, "%s must be a list", branch)
			}
			if err := validateRuleList(rules); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateSequential(cfg map[string]any) error {
	stages, ok := getSlice(cfg, "stages")
	if !ok || len(stages) == 0 {
		return errkind.New(errkind.Configuration, "sequential chain requires a non-empty stages list")
	}
	stageMaps, ok := asMaps(stages)
	if !ok {
		return errkind.New(errkind.Configuration, "stages must be a list of mappings")
	}
	seen := map[string]bool{}
	for _, stage := range stageMaps {
		id, _ := getString(stage, "id")
		if id == "" {
			return errkind.New(errkind.Configuration, "every stage requires an id")
		}
		if seen[id] {
			return errkind.New(errkind.Configuration, "duplicate stage id %q", id)
		}
		seen[id] = true
		rule, ok := getMap(stage, "rule")
		if !ok {
			return errkind.New(errkind.Configuration, "stage %q requires a rule", id)
		}
		if err := validateRuleShape(rule); err != nil {
			return err
		}
		if err := validateFailureAction(stage); err != nil {
			return err
		}
	}
	return nil
}

func validateRouting(cfg map[string]any) error {
	router, ok := getMap(cfg, "router-rule")
	if !ok {
		return errkind.New(errkind.Configuration, "routing chain requires router-rule")
	}
	if condition, _ := getString(router, "condition"); condition == "" {
		return errkind.New(errkind.Configuration, "router-rule requires a condition")
	}
	routes, ok := getMap(cfg, "routes")
	if !ok || len(routes) == 0 {
		return errkind.New(errkind.Configuration, "routing chain requires a non-empty routes map")
	}
	for label, raw := range routes {
		rules, ok := raw.([]any)
		if !ok {
			return errkind.New(errkind.Configuration, "route %q must be a list of rules", label)
		}
		if err := validateRuleList(rules); err != nil {
			return err
		}
	}
	if raw, present := cfg["default-route"]; present {
		rules, ok := raw.([]any)
		if !ok {
			return errkind.New(errkind.Configuration, "default-route must be a list of rules")
		}
		if err := validateRuleList(rules); err != nil {
			return err
		}
	}
	return nil
}

func validateAccumulative(cfg map[string]any) error {
	rules, ok := getSlice(cfg, "rules")
	if !ok || len(rules) == 0 {
		return errkind.New(errkind.Configuration, "accumulative chain requires a non-empty rules list")
	}
	ruleMaps, ok := asMaps(rules)
	if !ok {
		return errkind.New(errkind.Configuration, "rules must be a list of mappings")
	}
	seen := map[string]bool{}
	for _, entry := range ruleMaps {
		name, _ := getString(entry, "name")
		if name == "" {
			name, _ = getString(entry, "id")
		}
		if name == "" {
			return errkind.New(errkind.Configuration, "every accumulative rule requires a name or id")
		}
		if seen[name] {
			return errkind.New(errkind.Configuration, "duplicate rule %q", name)
		}
		seen[name] = true
		if score, _ := getString(entry, "score-expression"); score == "" {
			return errkind.New(errkind.Configuration, "rule %q requires a score-expression", name)
		}
	}
	ranges, ok := getSlice(cfg, "ranges")
	if !ok || len(ranges) == 0 {
		return errkind.New(errkind.Configuration, "accumulative chain requires a non-empty ranges list")
	}
	rangeMaps, ok := asMaps(ranges)
	if !ok {
		return errkind.New(errkind.Configuration, "ranges must be a list of mappings")
	}
	for _, r := range rangeMaps {
		if outcome, _ := getString(r, "outcome"); outcome == "" {
			return errkind.New(errkind.Configuration, "every range requires an outcome")
		}
	}
	return nil
}

func validateWorkflow(cfg map[string]any) error {
	stages, err := parseWorkflowStages(cfg)
	if err != nil {
		return err
	}
	if len(stages) == 0 {
		return errkind.New(errkind.Configuration, "workflow chain requires a non-empty stages list")
	}
	seen := map[string]bool{}
	for _, stage := range stages {
		if stage.id == "" {
			return errkind.New(errkind.Configuration, "every stage requires an id")
		}
		if seen[stage.id] {
			return errkind.New(errkind.Configuration, "duplicate stage id %q", stage.id)
		}
		seen[stage.id] = true

		conditional, hasConditional := getMap(stage.cfg, "conditional-execution")
		rules, hasRules := getSlice(stage.cfg, "rules")
		switch {
		case hasConditional:
			if condition, _ := getString(conditional, "condition"); condition == "" {
				return errkind.New(errkind.Configuration,
					"stage %q conditional-execution requires a condition", stage.id)
			}
			for _, branch := range []string{"on-true", "on-false"} {
				branchCfg, ok := getMap(conditional, branch)
				if !ok {
					continue
				}
				branchRules, _ := getSlice(branchCfg, "rules")
				if err := validateRuleList(branchRules); err != nil {
					return errkind.WrapPath(errkind.Configuration, "stage "+stage.id, err)
				}
			}
		case hasRules:
			if err := validateRuleList(rules); err != nil {
				return errkind.WrapPath(errkind.Configuration, "stage "+stage.id, err)
			}
		default:
			return errkind.New(errkind.Configuration,
				"stage %q requires rules or conditional-execution", stage.id)
		}
	}
	// Unknown dependencies and cycles fail here, before execution.
	_, err = topoSort(stages)
	return err
}

func validateFluent(cfg map[string]any) error {
	root, ok := getMap(cfg, "root-rule")
	if !ok {
		return errkind.New(errkind.Configuration, "fluent chain requires root-rule")
	}
	return validateFluentNode(root, 0)
}

func validateFluentNode(node map[string]any, depth int) error {
	if depth >= maxFluentDepth {
		return errkind.New(errkind.Configuration,
			"fluent tree exceeds maximum depth %d", maxFluentDepth)
	}
	rule, ok := getMap(node, "rule")
	if !ok {
		return errkind.New(errkind.Configuration, "fluent node requires a rule")
	}
	if err := validateRuleShape(rule); err != nil {
		return err
	}
	for _, branch := range []string{"on-success", "on-failure"} {
		if child, ok := getMap(node, branch); ok {
			if err := validateFluentNode(child, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateRuleList(rules []any) error {
	ruleMaps, ok := asMaps(rules)
	if !ok {
		return errkind.New(errkind.Configuration, "rule list entries must be mappings")
	}
	seen := map[string]bool{}
	for _, rule := range ruleMaps {
		if err := validateRuleShape(rule); err != nil {
			return err
		}
		if id, _ := getString(rule, "id"); id != "" {
			if seen[id] {
				return errkind.New(errkind.Configuration, "duplicate rule id %q", id)
			}
			seen[id] = true
		}
		if err := validateFailureAction(rule); err != nil {
			return err
		}
	}
	return nil
}

func validateRuleShape(rule map[string]any) error {
	if condition, _ := getString(rule, "condition"); condition == "" {
		return errkind.New(errkind.Configuration, "rule requires a condition")
	}
	return nil
}

func validateFailureAction(m map[string]any) error {
	action, present := getString(m, "failure-action")
	if !present || action == "" {
		return nil
	}
	if action != "terminate" && action != "continue" {
		return errkind.New(errkind.Configuration,
			"failure-action must be terminate or continue, got %q", action)
	}
	return nil
}
