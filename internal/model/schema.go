// Copyright 2026 The APEX Authors
// SPDX-License-Identifier: Apache-2.0

package model

// The section registry replaces the original runtime annotation scan with a
// compile-time table: each document type declares its recognized top-level
// sections once and the grammar validator consults this registry.

// commonSections may appear in any document type.
var commonSections = []string{"metadata", "data-source-refs"}

// sectionRegistry maps each document type to its type-specific sections.
var sectionRegistry = map[DocumentType][]string{
	TypeRuleConfig:         {"rules", "rule-groups", "enrichments", "rule-chains", "categories"},
	TypeEnrichment:         {"enrichments", "rules"},
	TypeDataset:            {"data", "datasets"},
	TypeScenario:           {"scenario"},
	TypeScenarioRegistry:   {"scenario-registry"},
	TypeBootstrap:          {"bootstrap", "rule-chains", "categories", "data-sources"},
	TypeRuleChain:          {"rule-chains", "rules", "configuration"},
	TypeExternalDataConfig: {"data-sources", "data-sinks", "configuration"},
	TypePipelineConfig:     {"pipeline", "data-sources", "data-sinks", "configuration"},
}

// requiredSectionGroups maps each document type to any-of groups: the
// document must contain at least one section from every group.
var requiredSectionGroups = map[DocumentType][][]string{
	TypeRuleConfig:         {{"rules", "enrichments"}},
	TypeEnrichment:         {{"enrichments"}},
	TypeDataset:            {{"data", "datasets"}},
	TypeScenario:           {{"scenario"}},
	TypeScenarioRegistry:   {{"scenario-registry"}},
	TypeBootstrap:          {{"bootstrap", "rule-chains"}},
	TypeRuleChain:          {{"rule-chains"}},
	TypeExternalDataConfig: {{"data-sources", "data-sinks"}},
	TypePipelineConfig:     {{"pipeline", "data-sources", "data-sinks"}},
}

// requiredMetadataFields maps each document type to metadata fields that
// must be present beyond the universal id/name/version/description/type.
var requiredMetadataFields = map[DocumentType][]string{
	TypeRuleConfig:       {"author"},
	TypeEnrichment:       {"author"},
	TypeRuleChain:        {"author"},
	TypeScenario:         {"business-domain", "owner"},
	TypeScenarioRegistry: {"created-by"},
	TypeDataset:          {"source"},
}

// IsDocumentType reports whether s is a legal metadata type value.
func IsDocumentType(s string) bool {
	for _, t := range DocumentTypes {
		if string(t) == s {
			return true
		}
	}
	return false
}

// SectionsFor returns the recognized top-level sections for a document
// type, including the sections common to all types.
func SectionsFor(t DocumentType) []string {
	specific := sectionRegistry[t]
	out := make([]string, 0, len(commonSections)+len(specific))
	out = append(out, commonSections...)
	out = append(out, specific...)
	return out
}

// RequiredSectionsFor returns the any-of required section groups for a
// document type. The document must contain at least one section from each
// group.
func RequiredSectionsFor(t DocumentType) [][]string {
	return requiredSectionGroups[t]
}

// RequiredMetadataFor returns the type-specific required metadata fields.
func RequiredMetadataFor(t DocumentType) []string {
	return requiredMetadataFields[t]
}

// knownMetadataFields is the full set of understood metadata keys; anything
// else is reported as a warning, never an error.
var knownMetadataFields = map[string]bool{
	"id": true, "name": true, "version": true, "description": true,
	"type": true, "author": true, "business-domain": true, "owner": true,
	"created-by": true, "source": true, "tags": true, "last-modified": true,
}

// IsKnownMetadataField reports whether key is an understood metadata field.
func IsKnownMetadataField(key string) bool {
	return knownMetadataFields[key]
}
