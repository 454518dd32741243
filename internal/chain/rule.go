// Copyright 2026 The APEX Authors
// SPDX-License-Identifier: Apache-2.0

package chain

import (
	"log/slog"

	"github.com/mitchellh/mapstructure"
	"github.com/shopspring/decimal"

	"github.com/apexrules/apex/internal/errkind"
	"github.com/apexrules/apex/internal/model"
)

// RuleFromConfig builds a Rule from a pattern configuration sub-map.
func RuleFromConfig(cfg map[string]any) (*model.Rule, error) {
	var rule model.Rule
	if err := mapstructure.Decode(cfg, &rule); err != nil {
		return nil, errkind.Wrap(errkind.Configuration, err)
	}
	if rule.Condition == "" {
		return nil, errkind.New(errkind.Configuration, "rule config has no condition")
	}
	rule.Normalize()
	return &rule, nil
}

// evalRule reports whether the rule triggers. An evaluation error counts
// as non-triggered and is logged with its source location.
func (e *Engine) evalRule(rule *model.Rule, cc *ChainContext) bool {
	triggered, err := e.exprs.EvaluateBool(rule.Condition, cc.exprContext())
	if err != nil {
		e.logger.Warn("rule condition failed, counting as non-triggered",
			slog.String("rule", rule.ID),
			slog.Any("error", err))
		return false
	}
	return triggered
}

// ruleLabel prefers the rule name over the id for stage-result keys.
func ruleLabel(rule *model.Rule) string {
	if rule.Name != "" {
		return rule.Name
	}
	return rule.ID
}

// Config sub-tree accessors. Pattern configurations come from YAML, so
// values are map[string]any, []any and scalars.

func getMap(m map[string]any, key string) (map[string]any, bool) {
	v, ok := m[key].(map[string]any)
	return v, ok
}

func getSlice(m map[string]any, key string) ([]any, bool) {
	v, ok := m[key].([]any)
	return v, ok
}

func getString(m map[string]any, key string) (string, bool) {
	v, ok := m[key].(string)
	return v, ok
}

// asMaps narrows a []any of YAML mappings.
func asMaps(items []any) ([]map[string]any, bool) {
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, false
		}
		out = append(out, m)
	}
	return out, true
}

// asFloat converts the numeric results the expression engine produces.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	if d, ok := v.(decimal.Decimal); ok {
		f, _ := d.Float64()
		return f, true
	}
	return 0, false
}
