// Copyright 2026 The APEX Authors
// SPDX-License-Identifier: Apache-2.0

package datasource

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apexrules/apex/internal/errkind"
	"github.com/apexrules/apex/internal/model"
)

func newRestSource(t *testing.T, server *httptest.Server, cfg model.DataSourceConfig) *RestSource {
	t.Helper()
	disabled := false
	cfg.HealthCheck = &model.HealthCheckConfig{Enabled: &disabled}
	if cfg.Connection == nil {
		cfg.Connection = &model.ConnectionConfig{}
	}
	cfg.Connection.BaseURL = server.URL

	source, err := NewRestSource(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { source.Close() })
	return source
}

func TestRestSourceUnwrapsDataPath(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/counterparties/CPTY001", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"OK","data":{"id":"CPTY001","name":"Goldman Sachs","rating":"AAA"}}`))
	}))
	defer server.Close()

	source := newRestSource(t, server, model.DataSourceConfig{
		Name:      "counterparty-api",
		Type:      model.SourceRestAPI,
		Endpoints: map[string]string{"findById": "/counterparties/{id}"},
	})

	row, found, err := source.QueryOne(context.Background(), "findById", map[string]any{"id": "CPTY001"})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Goldman Sachs", row["name"])
	assert.Equal(t, "AAA", row["rating"])
}

func TestRestSourceArrayResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ACTIVE", r.URL.Query().Get("status"))
		w.Write([]byte(`{"data":[{"id":"1"},{"id":"2"}]}`))
	}))
	defer server.Close()

	source := newRestSource(t, server, model.DataSourceConfig{
		Name:      "orders-api",
		Type:      model.SourceRestAPI,
		Endpoints: map[string]string{"list": "/orders"},
	})

	rows, err := source.Query(context.Background(), "list", map[string]any{"status": "ACTIVE"})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestRestSourceNotFoundIsEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	source := newRestSource(t, server, model.DataSourceConfig{
		Name:      "orders-api",
		Type:      model.SourceRestAPI,
		Endpoints: map[string]string{"find": "/orders/{id}"},
	})

	_, found, err := source.QueryOne(context.Background(), "find", map[string]any{"id": "nope"})
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRestSourceErrorPathFailsCall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":"LOOKUP_FAILED","message":"upstream registry unavailable"}`))
	}))
	defer server.Close()

	source := newRestSource(t, server, model.DataSourceConfig{
		Name:      "orders-api",
		Type:      model.SourceRestAPI,
		Endpoints: map[string]string{"find": "/orders/{id}"},
	})

	_, err := source.Query(context.Background(), "find", map[string]any{"id": "1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream registry unavailable")
}

func TestRestSourceServerErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	source := newRestSource(t, server, model.DataSourceConfig{
		Name:      "orders-api",
		Type:      model.SourceRestAPI,
		Endpoints: map[string]string{"find": "/orders"},
	})
	source.retry = RetryPolicy{}

	_, err := source.Query(context.Background(), "find", nil)
	require.Error(t, err)
	assert.True(t, errkind.IsKind(err, errkind.Transient))
}

func TestRestSourceAuthHeaders(t *testing.T) {
	var gotAuth, gotAPIKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAPIKey = r.Header.Get("X-Service-Key")
		w.Write([]byte(`{"data":{}}`))
	}))
	defer server.Close()

	bearer := newRestSource(t, server, model.DataSourceConfig{
		Name:           "secure-api",
		Type:           model.SourceRestAPI,
		Endpoints:      map[string]string{"ping": "/ping"},
		Authentication: &model.AuthenticationConfig{Type: "bearer", Token: "tok-123"},
	})
	_, err := bearer.Query(context.Background(), "ping", nil)
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-123", gotAuth)

	apiKey := newRestSource(t, server, model.DataSourceConfig{
		Name:      "secure-api",
		Type:      model.SourceRestAPI,
		Endpoints: map[string]string{"ping": "/ping"},
		Authentication: &model.AuthenticationConfig{
			Type: "api-key", APIKey: "key-456", Header: "X-Service-Key",
		},
	})
	_, err = apiKey.Query(context.Background(), "ping", nil)
	require.NoError(t, err)
	assert.Equal(t, "key-456", gotAPIKey)
}

func TestRestSourceUnboundPlaceholder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	source := newRestSource(t, server, model.DataSourceConfig{
		Name:      "orders-api",
		Type:      model.SourceRestAPI,
		Endpoints: map[string]string{"find": "/orders/{id}"},
	})

	_, err := source.Query(context.Background(), "find", map[string]any{"wrong": 1})
	require.Error(t, err)
	assert.True(t, errkind.IsKind(err, errkind.Configuration))
}
