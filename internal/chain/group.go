// Copyright 2026 The APEX Authors
// SPDX-License-Identifier: Apache-2.0

package chain

import (
	"sort"

	"github.com/apexrules/apex/internal/errkind"
	"github.com/apexrules/apex/internal/model"
)

// GroupResult is the outcome of one rule-group evaluation.
type GroupResult struct {
	GroupID   string
	Passed    bool
	Evaluated []string
	Triggered []string
}

// EvaluateGroup combines the group's member rules under its operator.
// Members run in priority order; AND short-circuits on the first
// non-triggered rule, OR on the first triggered one. An empty membership
// passes AND and fails OR.
func (e *Engine) EvaluateGroup(group *model.RuleGroup, rules []model.Rule, record map[string]any) (*GroupResult, error) {
	if group.Operator != model.GroupAnd && group.Operator != model.GroupOr {
		return nil, errkind.New(errkind.Configuration,
			"rule group %q has unknown operator %q", group.ID, group.Operator)
	}

	byID := make(map[string]*model.Rule, len(rules))
	for i := range rules {
		byID[rules[i].ID] = &rules[i]
	}
	members := make([]*model.Rule, 0, len(group.RuleIDs))
	for _, id := range group.RuleIDs {
		rule, ok := byID[id]
		if !ok {
			return nil, errkind.New(errkind.Configuration,
				"rule group %q references unknown rule %q", group.ID, id)
		}
		members = append(members, rule)
	}
	sort.SliceStable(members, func(i, j int) bool {
		return members[i].Priority < members[j].Priority
	})

	result := &GroupResult{GroupID: group.ID, Passed: group.Operator == model.GroupAnd}
	cc := NewChainContext(record)
	for _, rule := range members {
		result.Evaluated = append(result.Evaluated, rule.ID)
		triggered := e.evalRule(rule, cc)
		if triggered {
			result.Triggered = append(result.Triggered, rule.ID)
		}
		if group.Operator == model.GroupAnd && !triggered {
			result.Passed = false
			return result, nil
		}
		if group.Operator == model.GroupOr && triggered {
			result.Passed = true
			return result, nil
		}
	}
	return result, nil
}
