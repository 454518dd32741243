// Copyright 2026 The APEX Authors
// SPDX-License-Identifier: Apache-2.0

// Package datasource implements the read side of the external data layer:
// a uniform DataSource interface over databases, REST endpoints, caches,
// file systems and message queues, backed by connection pooling, health
// checking, circuit breaking, classified error handling and retries.
package datasource

import (
	"context"

	"github.com/apexrules/apex/internal/model"
)

// Status is the observable lifecycle state of a data source.
type Status string

const (
	StatusNotInitialized Status = "NotInitialized"
	StatusConnecting     Status = "Connecting"
	StatusConnected      Status = "Connected"
	StatusDegraded       Status = "Degraded"
	StatusUnhealthy      Status = "Unhealthy"
	StatusShutdown       Status = "Shutdown"
	StatusError          Status = "Error"
)

// DataSource is the uniform read interface over every connector family.
// Operation names resolve through the source's queries, endpoints, topics
// or keyPatterns maps depending on the family.
type DataSource interface {
	// Name returns the configured source name.
	Name() string
	// Type returns the connector family.
	Type() model.SourceType
	// Query executes a named operation and returns the result rows.
	Query(ctx context.Context, operation string, params map[string]any) ([]map[string]any, error)
	// QueryOne executes a named operation expecting at most one row.
	// A missing row returns (nil, false, nil).
	QueryOne(ctx context.Context, operation string, params map[string]any) (map[string]any, bool, error)
	// HealthCheck probes liveness within the given context budget.
	HealthCheck(ctx context.Context) error
	// Status reports the current lifecycle state.
	Status() Status
	// Close releases all resources. Idempotent.
	Close() error
}

// Connection is one pooled unit of connectivity. Families wrap their
// native handles (a dedicated SQL connection, an HTTP client, a redis
// connection) behind this contract so the pool stays family-agnostic.
type Connection interface {
	// Ping validates liveness, using the family's test query or endpoint.
	Ping(ctx context.Context) error
	// Close releases the connection.
	Close() error
}

// Factory creates new connections for a pool.
type Factory func(ctx context.Context) (Connection, error)
