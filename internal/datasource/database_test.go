// Copyright 2026 The APEX Authors
// SPDX-License-Identifier: Apache-2.0

package datasource

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apexrules/apex/internal/errkind"
	"github.com/apexrules/apex/internal/model"
)

func newMockSource(t *testing.T, cfg model.DataSourceConfig) (*DatabaseSource, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	disabled := false
	if cfg.HealthCheck == nil {
		cfg.HealthCheck = &model.HealthCheckConfig{Enabled: &disabled}
	}
	if cfg.Connection == nil {
		cfg.Connection = &model.ConnectionConfig{MaxPoolSize: 2}
	}

	source, err := NewDatabaseSourceWithDB(context.Background(), cfg, sqlx.NewDb(db, "sqlmock"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { source.Close() })
	return source, mock
}

func TestDatabaseSourceQuery(t *testing.T) {
	source, mock := newMockSource(t, model.DataSourceConfig{
		Name: "customer-db",
		Type: model.SourceDatabase,
		Queries: map[string]string{
			"findCustomer": "SELECT id, name FROM customers WHERE id = :customerId",
		},
	})

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name FROM customers WHERE id = ?")).
		WithArgs("C-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow("C-1", "Acme Corp"))

	rows, err := source.Query(context.Background(), "findCustomer", map[string]any{"customerId": "C-1"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "C-1", rows[0]["id"])
	assert.Equal(t, "Acme Corp", rows[0]["name"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDatabaseSourceQueryOne(t *testing.T) {
	source, mock := newMockSource(t, model.DataSourceConfig{
		Name:    "customer-db",
		Type:    model.SourceDatabase,
		Queries: map[string]string{"find": "SELECT name FROM customers WHERE id = :id"},
	})

	mock.ExpectQuery(regexp.QuoteMeta("SELECT name FROM customers WHERE id = ?")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"name"}))

	row, found, err := source.QueryOne(context.Background(), "find", map[string]any{"id": "missing"})
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, row)
}

func TestDatabaseSourceUnknownOperation(t *testing.T) {
	source, _ := newMockSource(t, model.DataSourceConfig{
		Name: "customer-db",
		Type: model.SourceDatabase,
	})

	_, err := source.Query(context.Background(), "nope", nil)
	require.Error(t, err)
	assert.True(t, errkind.IsKind(err, errkind.Configuration))
}

func TestDatabaseSourceClassifiesIntegrityViolation(t *testing.T) {
	source, mock := newMockSource(t, model.DataSourceConfig{
		Name:    "customer-db",
		Type:    model.SourceDatabase,
		Queries: map[string]string{"find": "SELECT 1 FROM t WHERE id = :id"},
	})

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM t WHERE id = ?")).
		WithArgs(1).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value"})

	_, err := source.Query(context.Background(), "find", map[string]any{"id": 1})
	require.Error(t, err)
	// Integrity violations are not retried: exactly one query expected.
	assert.True(t, errkind.IsKind(err, errkind.DataIntegrityViolation))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDatabaseSourceRetriesTransientErrors(t *testing.T) {
	source, mock := newMockSource(t, model.DataSourceConfig{
		Name:    "customer-db",
		Type:    model.SourceDatabase,
		Queries: map[string]string{"find": "SELECT 1 FROM t WHERE id = :id"},
	})
	source.retry = RetryPolicy{MaxRetries: 2, RetryDelay: 1}

	query := regexp.QuoteMeta("SELECT 1 FROM t WHERE id = ?")
	mock.ExpectQuery(query).WithArgs(1).
		WillReturnError(&pq.Error{Code: "08006", Message: "connection failure"})
	mock.ExpectQuery(query).WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	rows, err := source.Query(context.Background(), "find", map[string]any{"id": 1})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDatabaseSourceBreakerFailsFastWhenOpen(t *testing.T) {
	source, mock := newMockSource(t, model.DataSourceConfig{
		Name:    "customer-db",
		Type:    model.SourceDatabase,
		Queries: map[string]string{"find": "SELECT 1 FROM t WHERE id = :id"},
		CircuitBreaker: &model.CircuitBreakerConfig{
			Enabled:          true,
			FailureThreshold: 2,
			TimeoutSeconds:   60,
		},
	})
	source.retry = RetryPolicy{}

	query := regexp.QuoteMeta("SELECT 1 FROM t WHERE id = ?")
	for i := 0; i < 2; i++ {
		mock.ExpectQuery(query).WithArgs(1).
			WillReturnError(&pq.Error{Code: "XX000", Message: "backend crash"})
		_, err := source.Query(context.Background(), "find", map[string]any{"id": 1})
		require.Error(t, err)
	}

	// The circuit is open: the next call must not reach the database.
	_, err := source.Query(context.Background(), "find", map[string]any{"id": 1})
	require.Error(t, err)
	assert.True(t, errkind.IsKind(err, errkind.CircuitOpen))
	assert.NoError(t, mock.ExpectationsWereMet())
}
