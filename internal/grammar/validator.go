// Copyright 2026 The APEX Authors
// SPDX-License-Identifier: Apache-2.0

// Package grammar validates APEX configuration documents: per-document
// structural rules, expression-field parse checks, and cross-file
// dependency analysis with cycle detection and root-cause ranking.
package grammar

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/apexrules/apex/internal/expr"
	"github.com/apexrules/apex/internal/model"
)

// FileResult holds the validation outcome for a single document.
type FileResult struct {
	Path     string
	Valid    bool
	Errors   []string
	Warnings []string
}

func (r *FileResult) addError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	r.Valid = false
}

func (r *FileResult) addWarning(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

var versionPattern = regexp.MustCompile(`^\d+\.\d+(\.\d+)?$`)

// universalMetadataFields must be non-empty strings in every document.
var universalMetadataFields = []string{"id", "name", "version", "description", "type"}

// ValidateDocument runs every per-document check against the raw YAML tree.
// The two section checks are deliberately distinct passes: recognized
// sections come from the compile-time registry, required sections from the
// per-type any-of table. Neither subsumes the other.
func ValidateDocument(path string, raw map[string]any) *FileResult {
	result := &FileResult{Path: path, Valid: true}

	if ext := strings.ToLower(path); ext != "" &&
		!strings.HasSuffix(ext, ".yaml") && !strings.HasSuffix(ext, ".yml") {
		result.addWarning("unexpected file extension for %s: expected .yaml or .yml", path)
	}

	docType := checkMetadata(raw, result)
	if docType == "" {
		return result
	}

	checkSections(raw, docType, result)
	checkRequiredSections(raw, docType, result)
	checkShapes(raw, docType, result)
	checkExpressionFields(raw, result)
	return result
}

// checkMetadata validates the metadata section and returns the document
// type, or "" when validation cannot proceed further.
func checkMetadata(raw map[string]any, result *FileResult) model.DocumentType {
	metaAny, ok := raw["metadata"]
	if !ok {
		result.addError("missing required section: metadata")
		return ""
	}
	meta, ok := metaAny.(map[string]any)
	if !ok {
		result.addError("metadata must be a map, got %T", metaAny)
		return ""
	}

	for _, field := range universalMetadataFields {
		if s, _ := meta[field].(string); strings.TrimSpace(s) == "" {
			result.addError("metadata.%s must be a non-empty string", field)
		}
	}

	typeStr, _ := meta["type"].(string)
	if typeStr != "" && !model.IsDocumentType(typeStr) {
		result.addError("unknown document type %q", typeStr)
		return ""
	}

	if version, _ := meta["version"].(string); version != "" && !versionPattern.MatchString(version) {
		result.addError("metadata.version %q does not match N.N or N.N.N", version)
	}

	// Unknown metadata fields are compatibility warnings, never errors.
	for key := range meta {
		if !model.IsKnownMetadataField(key) {
			result.addWarning("unknown metadata field %q", key)
		}
	}

	docType := model.DocumentType(typeStr)
	for _, field := range model.RequiredMetadataFor(docType) {
		if s, _ := meta[field].(string); strings.TrimSpace(s) == "" {
			result.addError("Missing required field for type '%s': %s", docType, field)
		}
	}
	if typeStr == "" {
		return ""
	}
	return docType
}

// checkSections rejects top-level sections outside the type's recognized
// set from the compile-time registry.
func checkSections(raw map[string]any, docType model.DocumentType, result *FileResult) {
	recognized := map[string]bool{}
	for _, s := range model.SectionsFor(docType) {
		recognized[s] = true
	}
	var unknown []string
	for key := range raw {
		if !recognized[key] {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)
	for _, key := range unknown {
		result.addError("unrecognized section %q for document type '%s'", key, docType)
	}
}

// checkRequiredSections enforces the per-type any-of section groups.
func checkRequiredSections(raw map[string]any, docType model.DocumentType, result *FileResult) {
	for _, group := range model.RequiredSectionsFor(docType) {
		found := false
		for _, section := range group {
			if _, ok := raw[section]; ok {
				found = true
				break
			}
		}
		if !found {
			result.addError("document type '%s' requires at least one of: %s",
				docType, strings.Join(group, ", "))
		}
	}
}

// checkShapes validates list-vs-map structure and field-level invariants of
// the typed sections.
func checkShapes(raw map[string]any, docType model.DocumentType, result *FileResult) {
	if rulesAny, ok := raw["rules"]; ok {
		checkRules(rulesAny, result)
	}
	if enrichAny, ok := raw["enrichments"]; ok {
		checkEnrichments(enrichAny, result)
	}
	for _, section := range []string{"data-sources", "data-sinks"} {
		if srcAny, ok := raw[section]; ok {
			checkDataSources(section, srcAny, result)
		}
	}
	if chainsAny, ok := raw["rule-chains"]; ok {
		checkRuleChains(chainsAny, result)
	}
	if refsAny, ok := raw["data-source-refs"]; ok {
		checkDataSourceRefs(refsAny, result)
	}
}

func checkRules(rulesAny any, result *FileResult) {
	rules, ok := rulesAny.([]any)
	if !ok {
		result.addError("rules must be a list of maps, got %T", rulesAny)
		return
	}
	seen := map[string]bool{}
	now := time.Now()
	for i, entry := range rules {
		rule, ok := entry.(map[string]any)
		if !ok {
			result.addError("rules[%d] must be a map, got %T", i, entry)
			continue
		}
		id, _ := rule["id"].(string)
		if id == "" {
			result.addError("rules[%d] is missing id", i)
		} else if seen[id] {
			result.addError("duplicate rule id %q", id)
		} else {
			seen[id] = true
		}
		if cond, _ := rule["condition"].(string); strings.TrimSpace(cond) == "" {
			result.addError("rules[%d] is missing condition", i)
		}
		if msg, _ := rule["message"].(string); strings.TrimSpace(msg) == "" {
			result.addError("rules[%d] is missing message", i)
		}

		created, createdOK := parseAuditDate(rule["createdDate"])
		modified, modifiedOK := parseAuditDate(rule["modifiedDate"])
		if !createdOK {
			result.addError("rules[%d] is missing createdDate", i)
		}
		if !modifiedOK {
			result.addError("rules[%d] is missing modifiedDate", i)
		}
		if createdOK && modifiedOK {
			if created.After(modified) {
				result.addError("rules[%d]: createdDate must not be after modifiedDate", i)
			}
			if modified.After(now) {
				result.addError("rules[%d]: modifiedDate must not be in the future", i)
			}
		}
	}
}

func parseAuditDate(v any) (time.Time, bool) {
	switch d := v.(type) {
	case time.Time:
		return d, true
	case string:
		for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, d); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

func checkEnrichments(enrichAny any, result *FileResult) {
	enrichments, ok := enrichAny.([]any)
	if !ok {
		result.addError("enrichments must be a list of maps, got %T", enrichAny)
		return
	}
	seen := map[string]bool{}
	for i, entry := range enrichments {
		enrichment, ok := entry.(map[string]any)
		if !ok {
			result.addError("enrichments[%d] must be a map, got %T", i, entry)
			continue
		}
		id, _ := enrichment["id"].(string)
		if id == "" {
			result.addError("enrichments[%d] is missing id", i)
		} else if seen[id] {
			result.addError("duplicate enrichment id %q", id)
		} else {
			seen[id] = true
		}
		typ, _ := enrichment["type"].(string)
		switch typ {
		case model.EnrichmentLookup:
			if _, ok := enrichment["lookupConfig"].(map[string]any); !ok {
				result.addError("enrichments[%d]: lookup-enrichment requires lookupConfig", i)
			}
		case model.EnrichmentCalculation:
			if _, ok := enrichment["calculationConfig"].(map[string]any); !ok {
				result.addError("enrichments[%d]: calculation-enrichment requires calculationConfig", i)
			}
		default:
			result.addError("enrichments[%d]: unknown enrichment type %q", i, typ)
		}
	}
}

func checkDataSources(section string, srcAny any, result *FileResult) {
	sources, ok := srcAny.([]any)
	if !ok {
		result.addError("%s must be a list of maps, got %T", section, srcAny)
		return
	}
	for i, entry := range sources {
		source, ok := entry.(map[string]any)
		if !ok {
			result.addError("%s[%d] must be a map, got %T", section, i, entry)
			continue
		}
		if name, _ := source["name"].(string); name == "" {
			result.addError("%s[%d] is missing name", section, i)
		}
		typ, _ := source["type"].(string)
		legal := false
		for _, st := range model.SourceTypes {
			if string(st) == typ {
				legal = true
				break
			}
		}
		if !legal {
			result.addError("%s[%d]: unknown source type %q", section, i, typ)
		}
		if conn, ok := source["connection"].(map[string]any); ok {
			checkPoolBounds(fmt.Sprintf("%s[%d].connection", section, i), conn, result)
		}
	}
}

// checkPoolBounds enforces 0 <= min <= initial <= max and positive timeouts.
func checkPoolBounds(path string, conn map[string]any, result *FileResult) {
	minSize := intAt(conn, "minPoolSize", 0)
	initial := intAt(conn, "initialPoolSize", minSize)
	maxSize := intAt(conn, "maxPoolSize", initial)
	if minSize < 0 || minSize > initial || initial > maxSize {
		result.addError("%s: pool sizes must satisfy 0 <= min <= initial <= max (min=%d initial=%d max=%d)",
			path, minSize, initial, maxSize)
	}
	for _, key := range []string{"connectionTimeout", "idleTimeout", "maxLifetime", "validationInterval"} {
		if v, ok := conn[key]; ok {
			if intAt(conn, key, 1) <= 0 {
				result.addError("%s.%s must be strictly positive, got %v", path, key, v)
			}
		}
	}
}

func intAt(m map[string]any, key string, def int) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

func checkRuleChains(chainsAny any, result *FileResult) {
	chains, ok := chainsAny.([]any)
	if !ok {
		result.addError("rule-chains must be a list of maps, got %T", chainsAny)
		return
	}
	seen := map[string]bool{}
	for i, entry := range chains {
		chain, ok := entry.(map[string]any)
		if !ok {
			result.addError("rule-chains[%d] must be a map, got %T", i, entry)
			continue
		}
		id, _ := chain["id"].(string)
		if id == "" {
			result.addError("rule-chains[%d] is missing id", i)
		} else if seen[id] {
			result.addError("duplicate rule-chain id %q", id)
		} else {
			seen[id] = true
		}
		if pattern, _ := chain["pattern"].(string); pattern == "" {
			result.addError("rule-chains[%d] is missing pattern", i)
		}
		if _, ok := chain["configuration"].(map[string]any); !ok {
			result.addError("rule-chains[%d] is missing configuration", i)
		}
	}
}

func checkDataSourceRefs(refsAny any, result *FileResult) {
	refs, ok := refsAny.([]any)
	if !ok {
		result.addError("data-source-refs must be a list of maps, got %T", refsAny)
		return
	}
	for i, entry := range refs {
		ref, ok := entry.(map[string]any)
		if !ok {
			result.addError("data-source-refs[%d] must be a map, got %T", i, entry)
			continue
		}
		if name, _ := ref["name"].(string); name == "" {
			result.addError("data-source-refs[%d] is missing name", i)
		}
		if source, _ := ref["source"].(string); source == "" {
			result.addError("data-source-refs[%d] is missing source", i)
		}
	}
}

// expressionFieldNames are the path leaves whose string values carry
// expressions. Every other string field is plain text even if it contains
// the '#' marker.
var expressionFieldNames = map[string]bool{
	"condition":      true,
	"lookup-key":     true,
	"lookupKey":      true,
	"transformation": true,
	"expression":     true,
	"calculation":    true,
	"filter":         true,
	"where-clause":   true,
}

// checkExpressionFields walks the tree and parse-checks expression-bearing
// fields. Only fields containing the '#' expression marker are checked;
// simple property conditions parse on first use instead.
func checkExpressionFields(raw map[string]any, result *FileResult) {
	walkExpressionFields(raw, "", result)
}

func walkExpressionFields(v any, path string, result *FileResult) {
	switch node := v.(type) {
	case map[string]any:
		for key, child := range node {
			childPath := key
			if path != "" {
				childPath = path + "." + key
			}
			if s, ok := child.(string); ok && expressionFieldNames[key] {
				if strings.Contains(s, "#") {
					if _, err := expr.Parse(s); err != nil {
						result.addError("invalid expression at %s: %v", childPath, err)
					}
				}
				continue
			}
			walkExpressionFields(child, childPath, result)
		}
	case []any:
		for i, child := range node {
			walkExpressionFields(child, fmt.Sprintf("%s[%d]", path, i), result)
		}
	}
}
