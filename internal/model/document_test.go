// Copyright 2026 The APEX Authors
// SPDX-License-Identifier: Apache-2.0

package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleRuleConfig = `
metadata:
  id: trade-validation
  name: Trade Validation Rules
  version: "1.2.0"
  description: Core trade validation
  type: rule-config
  author: risk-team
rules:
  - id: notional-check
    name: Notional Check
    condition: "notionalAmount > 1000000"
    message: Notional exceeds threshold
    priority: 10
    createdDate: "2024-01-15"
    modifiedDate: "2024-06-01"
    createdByUser: jsmith
  - id: currency-check
    name: Currency Check
    condition: "currency == 'USD'"
    message: Unsupported currency
    createdDate: "2024-01-15"
    modifiedDate: "2024-01-15"
    createdByUser: jsmith
enrichments:
  - id: counterparty-lookup
    type: lookup-enrichment
    priority: 5
    lookupConfig:
      lookupService: counterpartyLookupService
      lookupKey: "#counterpartyId"
      cacheEnabled: true
      cacheTtlSeconds: 300
    fieldMappings:
      - sourceField: name
        targetField: counterpartyName
        required: true
      - sourceField: rating
        targetField: counterpartyRating
        defaultValue: NR
`

func TestParseRuleConfig(t *testing.T) {
	doc, raw, err := Parse([]byte(sampleRuleConfig))
	require.NoError(t, err)
	require.NotNil(t, raw["metadata"])

	assert.Equal(t, "trade-validation", doc.Metadata.ID)
	assert.Equal(t, string(TypeRuleConfig), doc.Metadata.Type)
	require.Len(t, doc.Rules, 2)

	first := doc.Rules[0]
	assert.Equal(t, 10, first.Priority)
	assert.Equal(t, []string{"default"}, first.Categories)
	assert.False(t, first.CreatedDate.IsZero())
	assert.True(t, first.CreatedDate.Before(first.ModifiedDate))

	// Omitted priority gets the default.
	assert.Equal(t, DefaultPriority, doc.Rules[1].Priority)

	require.Len(t, doc.Enrichments, 1)
	e := doc.Enrichments[0]
	assert.True(t, e.IsEnabled())
	require.NotNil(t, e.LookupConfig)
	assert.Equal(t, "counterpartyLookupService", e.LookupConfig.LookupService)
	require.Len(t, e.FieldMappings, 2)
	assert.True(t, e.FieldMappings[0].Required)
	assert.Equal(t, "NR", e.FieldMappings[1].DefaultValue)
}

func TestRoundTrip(t *testing.T) {
	doc, _, err := Parse([]byte(sampleRuleConfig))
	require.NoError(t, err)

	out, err := doc.Serialize()
	require.NoError(t, err)

	again, _, err := Parse(out)
	require.NoError(t, err)
	assert.Equal(t, doc, again)
}

func TestSectionRegistry(t *testing.T) {
	sections := SectionsFor(TypeRuleConfig)
	assert.Contains(t, sections, "metadata")
	assert.Contains(t, sections, "rules")
	assert.Contains(t, sections, "data-source-refs")
	assert.NotContains(t, sections, "pipeline")

	groups := RequiredSectionsFor(TypeRuleConfig)
	require.Len(t, groups, 1)
	assert.ElementsMatch(t, []string{"rules", "enrichments"}, groups[0])

	assert.Equal(t, []string{"author"}, RequiredMetadataFor(TypeRuleConfig))
	assert.ElementsMatch(t, []string{"business-domain", "owner"}, RequiredMetadataFor(TypeScenario))

	assert.True(t, IsDocumentType("rule-config"))
	assert.False(t, IsDocumentType("not-a-type"))
}

func TestDataSinkDefaults(t *testing.T) {
	sink := DataSinkConfig{}
	assert.Equal(t, TxNone, sink.Mode())

	conn := &ConnectionConfig{}
	assert.Equal(t, "SELECT 1", conn.TestQuery())

	var hc *HealthCheckConfig
	assert.True(t, hc.IsEnabled())
	assert.Equal(t, 3, hc.Failures())
	assert.Equal(t, 1, hc.Successes())

	var rm *ResponseMappingConfig
	defaults := rm.Defaults()
	assert.Equal(t, "$.data", defaults.DataPath)
	assert.Equal(t, "$.error", defaults.ErrorPath)
}
