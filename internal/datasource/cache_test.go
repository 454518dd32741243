// Copyright 2026 The APEX Authors
// SPDX-License-Identifier: Apache-2.0

package datasource

import (
	"context"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apexrules/apex/internal/errkind"
	"github.com/apexrules/apex/internal/model"
)

func newCacheSource(t *testing.T, patterns map[string]string) (*CacheSource, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	port, err := strconv.Atoi(server.Port())
	require.NoError(t, err)

	disabled := false
	source, err := NewCacheSource(model.DataSourceConfig{
		Name:        "reference-cache",
		Type:        model.SourceCache,
		KeyPatterns: patterns,
		Connection:  &model.ConnectionConfig{Host: server.Host(), Port: port},
		HealthCheck: &model.HealthCheckConfig{Enabled: &disabled},
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { source.Close() })
	return source, server
}

func TestCacheSourceJSONValue(t *testing.T) {
	source, server := newCacheSource(t, map[string]string{
		"findCustomer": "customer:{id}",
	})
	server.Set("customer:C-1", `{"id":"C-1","tier":"GOLD"}`)

	row, found, err := source.QueryOne(context.Background(), "findCustomer", map[string]any{"id": "C-1"})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "GOLD", row["tier"])
}

func TestCacheSourceHashValue(t *testing.T) {
	source, server := newCacheSource(t, map[string]string{
		"findCustomer": "customer:{id}",
	})
	server.HSet("customer:C-2", "id", "C-2", "tier", "SILVER")

	row, found, err := source.QueryOne(context.Background(), "findCustomer", map[string]any{"id": "C-2"})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "SILVER", row["tier"])
}

func TestCacheSourceMissingKey(t *testing.T) {
	source, _ := newCacheSource(t, map[string]string{
		"findCustomer": "customer:{id}",
	})

	row, found, err := source.QueryOne(context.Background(), "findCustomer", map[string]any{"id": "absent"})
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, row)

	rows, err := source.Query(context.Background(), "findCustomer", map[string]any{"id": "absent"})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestCacheSourceUnboundPlaceholder(t *testing.T) {
	source, _ := newCacheSource(t, map[string]string{
		"findCustomer": "customer:{id}:{region}",
	})

	_, _, err := source.QueryOne(context.Background(), "findCustomer", map[string]any{"id": "C-1"})
	require.Error(t, err)
	assert.True(t, errkind.IsKind(err, errkind.Configuration))
}

func TestCacheSourceUnknownOperation(t *testing.T) {
	source, _ := newCacheSource(t, nil)
	_, _, err := source.QueryOne(context.Background(), "nope", nil)
	require.Error(t, err)
	assert.True(t, errkind.IsKind(err, errkind.Configuration))
}
