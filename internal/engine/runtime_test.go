// Copyright 2026 The APEX Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apexrules/apex/internal/chain"
	"github.com/apexrules/apex/internal/config"
	"github.com/apexrules/apex/internal/datasink"
	"github.com/apexrules/apex/internal/errkind"
	"github.com/apexrules/apex/internal/model"
	"github.com/apexrules/apex/internal/registry"
)

func newRuntimeFixture(t *testing.T) *Runtime {
	t.Helper()
	rt, err := NewRuntime(config.DefaultEngine(), prometheus.NewRegistry(), slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Shutdown(context.Background()) })
	return rt
}

func TestNewRuntimeRejectsInvalidConfig(t *testing.T) {
	cfg := config.DefaultEngine()
	cfg.Expression.CacheSize = 0
	_, err := NewRuntime(cfg, prometheus.NewRegistry(), slog.Default())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cache_size")
}

func TestRuntimeProcessRecordsChainMetrics(t *testing.T) {
	rt := newRuntimeFixture(t)
	installFixture(rt.Registry())

	for i := 0; i < 2; i++ {
		record := map[string]any{"counterpartyId": "CPTY001", "notionalAmount": 5000000}
		result := rt.Process(context.Background(), record, "notional-check")
		require.True(t, result.Successful)
	}

	m := rt.Metrics()
	assert.Equal(t, 2.0, testutil.ToFloat64(
		m.ChainExecutions.WithLabelValues("notional-check", "conditional", chain.OutcomeTriggered)))
	// The second run reuses the compiled expressions.
	assert.GreaterOrEqual(t, testutil.ToFloat64(m.ExprCacheHits), 1.0)
}

func TestRuntimeProcessUnknownChainSkipsChainMetrics(t *testing.T) {
	rt := newRuntimeFixture(t)
	installFixture(rt.Registry())

	result := rt.Process(context.Background(), map[string]any{}, "nope")
	assert.False(t, result.Successful)
	assert.Equal(t, errkind.Configuration, result.ErrorKind)
	assert.Equal(t, 0, testutil.CollectAndCount(rt.Metrics().ChainExecutions))
}

func TestRuntimeLoadTracksGenerationSerial(t *testing.T) {
	rt := newRuntimeFixture(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "chains.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
metadata:
  id: approval-chains
  name: Approval Chains
  version: "1.0"
  description: Trade approval chains
  type: rule-chain
  author: trading-platform
rule-chains:
  - id: high-value-approval
    name: High Value Approval
    pattern: conditional
    configuration:
      trigger-rule:
        id: high-value
        condition: "#notionalAmount > 1000000"
        message: "High value trade"
`), 0o644))

	require.NoError(t, rt.Load(context.Background(), path))
	assert.Equal(t, 1.0, testutil.ToFloat64(rt.Metrics().GenerationSerial))

	record := map[string]any{"notionalAmount": 2000000}
	result := rt.Process(context.Background(), record, "high-value-approval")
	require.True(t, result.Successful)
	assert.Equal(t, chain.OutcomeTriggered, result.Chain.FinalOutcome)

	require.NoError(t, rt.Reload(context.Background(), path))
	assert.Equal(t, 2.0, testutil.ToFloat64(rt.Metrics().GenerationSerial))
}

func TestRuntimeWriteRecordsSinkMetrics(t *testing.T) {
	rt := newRuntimeFixture(t)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sink, err := datasink.NewDatabaseSinkWithDB(model.DataSinkConfig{
		DataSourceConfig: model.DataSourceConfig{Name: "audit-db"},
		Operations: map[string]string{
			"insertTrade": "INSERT INTO trades (id) VALUES (:id)",
		},
		TransactionMode: model.TxNone,
	}, sqlx.NewDb(db, "sqlmock"), nil)
	require.NoError(t, err)

	gen := registry.NewGeneration()
	gen.Sinks["audit-db"] = sink
	rt.Registry().Install(gen)

	pattern := regexp.QuoteMeta("INSERT INTO trades (id) VALUES (?)")
	mock.ExpectExec(pattern).WithArgs(1).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(pattern).WithArgs(2).WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := rt.Write(context.Background(), "audit-db", "insertTrade",
		[]map[string]any{{"id": 1}, {"id": 2}})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Succeeded)
	assert.NoError(t, mock.ExpectationsWereMet())

	m := rt.Metrics()
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SinkRecordsWritten.WithLabelValues("audit-db")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.SinkRecordsFailed.WithLabelValues("audit-db")))
}

func TestRuntimeWriteUnknownSink(t *testing.T) {
	rt := newRuntimeFixture(t)

	_, err := rt.Write(context.Background(), "nope", "insert", nil)
	require.Error(t, err)
	assert.True(t, errkind.IsKind(err, errkind.Configuration))
}
