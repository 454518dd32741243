// Copyright 2026 The APEX Authors
// SPDX-License-Identifier: Apache-2.0

// Package model defines the typed entities behind APEX configuration
// documents: metadata, rules, rule chains, enrichments, data sources and
// sinks. Documents round-trip through gopkg.in/yaml.v3; the grammar
// validator works on the raw tree while loaders bind it to these types.
package model

import (
	"fmt"
	"reflect"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// DocumentType enumerates the recognized configuration document types.
type DocumentType string

const (
	TypeRuleConfig         DocumentType = "rule-config"
	TypeEnrichment         DocumentType = "enrichment"
	TypeDataset            DocumentType = "dataset"
	TypeScenario           DocumentType = "scenario"
	TypeScenarioRegistry   DocumentType = "scenario-registry"
	TypeBootstrap          DocumentType = "bootstrap"
	TypeRuleChain          DocumentType = "rule-chain"
	TypeExternalDataConfig DocumentType = "external-data-config"
	TypePipelineConfig     DocumentType = "pipeline-config"
)

// DocumentTypes lists every legal metadata type value.
var DocumentTypes = []DocumentType{
	TypeRuleConfig, TypeEnrichment, TypeDataset, TypeScenario,
	TypeScenarioRegistry, TypeBootstrap, TypeRuleChain,
	TypeExternalDataConfig, TypePipelineConfig,
}

// Metadata is the required header of every configuration document.
type Metadata struct {
	ID          string `yaml:"id" mapstructure:"id"`
	Name        string `yaml:"name" mapstructure:"name"`
	Version     string `yaml:"version" mapstructure:"version"`
	Description string `yaml:"description" mapstructure:"description"`
	Type        string `yaml:"type" mapstructure:"type"`

	// Type-specific required fields.
	Author         string `yaml:"author,omitempty" mapstructure:"author"`
	BusinessDomain string `yaml:"business-domain,omitempty" mapstructure:"business-domain"`
	Owner          string `yaml:"owner,omitempty" mapstructure:"owner"`
	CreatedBy      string `yaml:"created-by,omitempty" mapstructure:"created-by"`
	Source         string `yaml:"source,omitempty" mapstructure:"source"`
}

// Rule is a named condition with a user-facing message and audit metadata.
type Rule struct {
	ID          string   `yaml:"id" mapstructure:"id"`
	Name        string   `yaml:"name" mapstructure:"name"`
	Condition   string   `yaml:"condition" mapstructure:"condition"`
	Message     string   `yaml:"message" mapstructure:"message"`
	Description string   `yaml:"description,omitempty" mapstructure:"description"`
	Priority    int      `yaml:"priority,omitempty" mapstructure:"priority"`
	Categories  []string `yaml:"categories,omitempty" mapstructure:"categories"`

	// Audit metadata. CreatedDate and ModifiedDate anchor compliance
	// reporting and must never be absent.
	CreatedDate    time.Time `yaml:"createdDate" mapstructure:"createdDate"`
	ModifiedDate   time.Time `yaml:"modifiedDate" mapstructure:"modifiedDate"`
	CreatedByUser  string    `yaml:"createdByUser" mapstructure:"createdByUser"`
	BusinessDomain string    `yaml:"businessDomain,omitempty" mapstructure:"businessDomain"`
	BusinessOwner  string    `yaml:"businessOwner,omitempty" mapstructure:"businessOwner"`
	SourceSystem   string    `yaml:"sourceSystem,omitempty" mapstructure:"sourceSystem"`
	EffectiveDate  *time.Time `yaml:"effectiveDate,omitempty" mapstructure:"effectiveDate"`
	ExpirationDate *time.Time `yaml:"expirationDate,omitempty" mapstructure:"expirationDate"`
}

// DefaultPriority is assigned when a rule omits priority. Lower runs first.
const DefaultPriority = 100

// Normalize applies rule defaults in place.
func (r *Rule) Normalize() {
	if r.Priority == 0 {
		r.Priority = DefaultPriority
	}
	if len(r.Categories) == 0 {
		r.Categories = []string{"default"}
	}
}

// GroupOperator combines rule results within a RuleGroup.
type GroupOperator string

const (
	GroupAnd GroupOperator = "AND"
	GroupOr  GroupOperator = "OR"
)

// RuleGroup is an ordered container over rules combined with AND or OR.
// Evaluation follows priority order; AND short-circuits on the first false
// result, OR on the first true.
type RuleGroup struct {
	ID       string        `yaml:"id" mapstructure:"id"`
	Name     string        `yaml:"name" mapstructure:"name"`
	Operator GroupOperator `yaml:"operator" mapstructure:"operator"`
	RuleIDs  []string      `yaml:"rule-ids" mapstructure:"rule-ids"`
}

// RuleChain names a composition of rules under one of the six execution
// patterns. Configuration holds the pattern-specific sub-tree; the chain
// engine's per-pattern validators check its shape.
type RuleChain struct {
	ID            string         `yaml:"id" mapstructure:"id"`
	Name          string         `yaml:"name" mapstructure:"name"`
	Pattern       string         `yaml:"pattern" mapstructure:"pattern"`
	Enabled       *bool          `yaml:"enabled,omitempty" mapstructure:"enabled"`
	Priority      int            `yaml:"priority,omitempty" mapstructure:"priority"`
	Configuration map[string]any `yaml:"configuration" mapstructure:"configuration"`
}

// IsEnabled treats a missing enabled flag as true.
func (rc *RuleChain) IsEnabled() bool {
	return rc.Enabled == nil || *rc.Enabled
}

// Enrichment declares a lookup or calculation applied to matching records.
type Enrichment struct {
	ID         string `yaml:"id" mapstructure:"id"`
	Type       string `yaml:"type" mapstructure:"type"`
	TargetType string `yaml:"targetType,omitempty" mapstructure:"targetType"`
	Enabled    *bool  `yaml:"enabled,omitempty" mapstructure:"enabled"`
	Priority   int    `yaml:"priority,omitempty" mapstructure:"priority"`
	Condition  string `yaml:"condition,omitempty" mapstructure:"condition"`

	LookupConfig      *LookupConfig      `yaml:"lookupConfig,omitempty" mapstructure:"lookupConfig"`
	FieldMappings     []FieldMapping     `yaml:"fieldMappings,omitempty" mapstructure:"fieldMappings"`
	CalculationConfig *CalculationConfig `yaml:"calculationConfig,omitempty" mapstructure:"calculationConfig"`
}

// Enrichment type values.
const (
	EnrichmentLookup      = "lookup-enrichment"
	EnrichmentCalculation = "calculation-enrichment"
)

// IsEnabled treats a missing enabled flag as true.
func (e *Enrichment) IsEnabled() bool {
	return e.Enabled == nil || *e.Enabled
}

// LookupConfig names the lookup service and the key expression.
type LookupConfig struct {
	LookupService   string `yaml:"lookupService" mapstructure:"lookupService"`
	LookupKey       string `yaml:"lookupKey" mapstructure:"lookupKey"`
	CacheEnabled    bool   `yaml:"cacheEnabled,omitempty" mapstructure:"cacheEnabled"`
	CacheTTLSeconds int    `yaml:"cacheTtlSeconds,omitempty" mapstructure:"cacheTtlSeconds"`
}

// FieldMapping copies one looked-up field into the record.
type FieldMapping struct {
	SourceField  string `yaml:"sourceField" mapstructure:"sourceField"`
	TargetField  string `yaml:"targetField" mapstructure:"targetField"`
	Required     bool   `yaml:"required,omitempty" mapstructure:"required"`
	DefaultValue any    `yaml:"defaultValue,omitempty" mapstructure:"defaultValue"`
}

// CalculationConfig evaluates an expression into a result field.
type CalculationConfig struct {
	Expression  string `yaml:"expression" mapstructure:"expression"`
	ResultField string `yaml:"resultField" mapstructure:"resultField"`
}

// DataSourceRef links a document to an external data-source config file.
// References load transitively and feed the dependency analyzer.
type DataSourceRef struct {
	Name        string `yaml:"name" mapstructure:"name"`
	Source      string `yaml:"source" mapstructure:"source"`
	Enabled     *bool  `yaml:"enabled,omitempty" mapstructure:"enabled"`
	Description string `yaml:"description,omitempty" mapstructure:"description"`
}

// IsEnabled treats a missing enabled flag as true.
func (r *DataSourceRef) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// Document is the root of a configuration file. Which sections may appear
// depends on the metadata type; see SectionsFor.
type Document struct {
	Metadata Metadata `yaml:"metadata" mapstructure:"metadata"`

	Rules          []Rule             `yaml:"rules,omitempty" mapstructure:"rules"`
	RuleGroups     []RuleGroup        `yaml:"rule-groups,omitempty" mapstructure:"rule-groups"`
	RuleChains     []RuleChain        `yaml:"rule-chains,omitempty" mapstructure:"rule-chains"`
	Enrichments    []Enrichment       `yaml:"enrichments,omitempty" mapstructure:"enrichments"`
	DataSources    []DataSourceConfig `yaml:"data-sources,omitempty" mapstructure:"data-sources"`
	DataSinks      []DataSinkConfig   `yaml:"data-sinks,omitempty" mapstructure:"data-sinks"`
	DataSourceRefs []DataSourceRef    `yaml:"data-source-refs,omitempty" mapstructure:"data-source-refs"`

	// Sections carried opaquely for document types whose content the
	// engine does not interpret.
	Data             []map[string]any `yaml:"data,omitempty" mapstructure:"data"`
	Scenario         map[string]any   `yaml:"scenario,omitempty" mapstructure:"scenario"`
	ScenarioRegistry []map[string]any `yaml:"scenario-registry,omitempty" mapstructure:"scenario-registry"`
	Bootstrap        map[string]any   `yaml:"bootstrap,omitempty" mapstructure:"bootstrap"`
	Pipeline         map[string]any   `yaml:"pipeline,omitempty" mapstructure:"pipeline"`
	Configuration    map[string]any   `yaml:"configuration,omitempty" mapstructure:"configuration"`
}

// Parse decodes YAML into both the raw tree and the typed document. The
// raw tree preserves unknown keys for grammar validation; the typed
// document is what loaders consume.
func Parse(data []byte) (*Document, map[string]any, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("yaml parse failed: %w", err)
	}
	doc, err := FromRaw(raw)
	if err != nil {
		return nil, raw, err
	}
	return doc, raw, nil
}

// FromRaw binds an already-parsed YAML tree to the typed document.
func FromRaw(raw map[string]any) (*Document, error) {
	var doc Document
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result: &doc,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			stringToTimeHook,
		),
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("document binding failed: %w", err)
	}
	for i := range doc.Rules {
		doc.Rules[i].Normalize()
	}
	return &doc, nil
}

// Serialize renders the document back to YAML. Parsing the output yields a
// model-equal document (whitespace and comments aside).
func (d *Document) Serialize() ([]byte, error) {
	return yaml.Marshal(d)
}

// timeLayouts are the accepted date formats for audit fields.
var timeLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"}

func stringToTimeHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to != reflect.TypeOf(time.Time{}) {
		return data, nil
	}
	s := data.(string)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return nil, fmt.Errorf("invalid date %q", s)
}
