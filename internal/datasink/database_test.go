// Copyright 2026 The APEX Authors
// SPDX-License-Identifier: Apache-2.0

package datasink

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apexrules/apex/internal/errkind"
	"github.com/apexrules/apex/internal/model"
)

const insertOrder = "INSERT INTO orders (id, amount) VALUES (:id, :amount)"

var insertPattern = regexp.QuoteMeta("INSERT INTO orders (id, amount) VALUES (?, ?)")

func newMockSink(t *testing.T, cfg model.DataSinkConfig, opts ...SinkOption) (*DatabaseSink, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	if cfg.Operations == nil {
		cfg.Operations = map[string]string{"insertOrder": insertOrder}
	}
	sink, err := NewDatabaseSinkWithDB(cfg, sqlx.NewDb(db, "sqlmock"), nil, opts...)
	require.NoError(t, err)
	return sink, mock
}

func records(n int) []map[string]any {
	out := make([]map[string]any, n)
	for i := range out {
		out[i] = map[string]any{"id": i + 1, "amount": (i + 1) * 10}
	}
	return out
}

func TestSinkRowLevelPartialSuccess(t *testing.T) {
	sink, mock := newMockSink(t, model.DataSinkConfig{
		DataSourceConfig: model.DataSourceConfig{Name: "orders-sink"},
		TransactionMode:  model.TxNone,
	})
	defer sink.Close()

	mock.ExpectExec(insertPattern).WithArgs(1, 10).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(insertPattern).WithArgs(2, 20).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value"})
	mock.ExpectExec(insertPattern).WithArgs(3, 30).WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := sink.Write(context.Background(), "insertOrder", records(3))
	require.NoError(t, err)
	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 2, result.Succeeded)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, 1, result.Failed[0].Index)
	assert.True(t, errkind.IsKind(result.Failed[0].Err, errkind.DataIntegrityViolation))
	assert.True(t, result.PartialFailure())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSinkPerRecordUsesTransactions(t *testing.T) {
	sink, mock := newMockSink(t, model.DataSinkConfig{
		DataSourceConfig: model.DataSourceConfig{Name: "orders-sink"},
		TransactionMode:  model.TxPerRecord,
	})
	defer sink.Close()

	mock.ExpectBegin()
	mock.ExpectExec(insertPattern).WithArgs(1, 10).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec(insertPattern).WithArgs(2, 20).
		WillReturnError(&pq.Error{Code: "23502", Message: "null value in column"})
	mock.ExpectRollback()

	result, err := sink.Write(context.Background(), "insertOrder", records(2))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded)
	assert.Len(t, result.Failed, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSinkPerBatchAllOrNothing(t *testing.T) {
	sink, mock := newMockSink(t, model.DataSinkConfig{
		DataSourceConfig: model.DataSourceConfig{Name: "orders-sink"},
		TransactionMode:  model.TxPerBatch,
		Batch:            &model.BatchConfig{Enabled: true, BatchSize: 2},
	})
	defer sink.Close()
	sink.retry.MaxRetries = 0

	// First batch commits, second rolls back whole.
	mock.ExpectBegin()
	mock.ExpectExec(insertPattern).WithArgs(1, 10).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(insertPattern).WithArgs(2, 20).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec(insertPattern).WithArgs(3, 30).
		WillReturnError(&pq.Error{Code: "23514", Message: "check constraint violated"})
	mock.ExpectRollback()

	result, err := sink.Write(context.Background(), "insertOrder", records(4))
	require.NoError(t, err)
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 2, result.Batches)
	assert.Equal(t, 1, result.FailedBatches)
	// The whole failed batch is reported, including the record after the
	// failing one.
	require.Len(t, result.Failed, 2)
	assert.Equal(t, 2, result.Failed[0].Index)
	assert.Equal(t, 3, result.Failed[1].Index)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSinkPerBatchRetriesTransient(t *testing.T) {
	sink, mock := newMockSink(t, model.DataSinkConfig{
		DataSourceConfig: model.DataSourceConfig{Name: "orders-sink"},
		TransactionMode:  model.TxPerBatch,
		Batch:            &model.BatchConfig{Enabled: true, BatchSize: 2, MaxRetries: 2, RetryDelayMillis: 1},
	})
	defer sink.Close()

	mock.ExpectBegin()
	mock.ExpectExec(insertPattern).WithArgs(1, 10).
		WillReturnError(&pq.Error{Code: "40P01", Message: "deadlock detected"})
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectExec(insertPattern).WithArgs(1, 10).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(insertPattern).WithArgs(2, 20).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := sink.Write(context.Background(), "insertOrder", records(2))
	require.NoError(t, err)
	assert.Equal(t, 2, result.Succeeded)
	assert.Zero(t, result.FailedBatches)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSinkGlobalTransaction(t *testing.T) {
	sink, mock := newMockSink(t, model.DataSinkConfig{
		DataSourceConfig: model.DataSourceConfig{Name: "orders-sink"},
		TransactionMode:  model.TxGlobal,
	})

	mock.ExpectBegin()
	mock.ExpectExec(insertPattern).WithArgs(1, 10).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(insertPattern).WithArgs(2, 20).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectClose()

	_, err := sink.Write(context.Background(), "insertOrder", records(1))
	require.NoError(t, err)
	second := []map[string]any{{"id": 2, "amount": 20}}
	_, err = sink.Write(context.Background(), "insertOrder", second)
	require.NoError(t, err)

	require.NoError(t, sink.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSinkGlobalRollbackOnFailure(t *testing.T) {
	sink, mock := newMockSink(t, model.DataSinkConfig{
		DataSourceConfig: model.DataSourceConfig{Name: "orders-sink"},
		TransactionMode:  model.TxGlobal,
	})
	defer sink.Close()

	mock.ExpectBegin()
	mock.ExpectExec(insertPattern).WithArgs(1, 10).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value"})
	mock.ExpectRollback()

	result, err := sink.Write(context.Background(), "insertOrder", records(1))
	require.Error(t, err)
	assert.True(t, errkind.IsKind(err, errkind.DataIntegrityViolation))
	assert.Zero(t, result.Succeeded)
	assert.Len(t, result.Failed, 1)
}

func TestSinkDeadLetterReceivesFailures(t *testing.T) {
	var gotSink, gotOp string
	var gotFailed []FailedRecord
	sink, mock := newMockSink(t, model.DataSinkConfig{
		DataSourceConfig: model.DataSourceConfig{Name: "orders-sink"},
		TransactionMode:  model.TxNone,
	}, WithDeadLetter(func(sink, operation string, failed []FailedRecord) {
		gotSink, gotOp, gotFailed = sink, operation, failed
	}))
	defer sink.Close()

	mock.ExpectExec(insertPattern).WithArgs(1, 10).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value"})

	_, err := sink.Write(context.Background(), "insertOrder", records(1))
	require.NoError(t, err)
	assert.Equal(t, "orders-sink", gotSink)
	assert.Equal(t, "insertOrder", gotOp)
	require.Len(t, gotFailed, 1)
}

func TestSinkUnknownOperation(t *testing.T) {
	sink, _ := newMockSink(t, model.DataSinkConfig{
		DataSourceConfig: model.DataSourceConfig{Name: "orders-sink"},
	})
	defer sink.Close()

	_, err := sink.Write(context.Background(), "nope", records(1))
	require.Error(t, err)
	assert.True(t, errkind.IsKind(err, errkind.Configuration))
}

func TestSinkStats(t *testing.T) {
	stats := NewWriteStats()
	stats.Record(&WriteResult{Total: 3, Succeeded: 2, Batches: 1,
		Failed: []FailedRecord{{Index: 2}}, Duration: 10 * time.Millisecond})
	stats.Record(&WriteResult{Total: 1, Succeeded: 1, Batches: 1, Duration: 2 * time.Millisecond})

	snap := stats.Snapshot()
	assert.Equal(t, int64(3), snap.RecordsWritten)
	assert.Equal(t, int64(1), snap.RecordsFailed)
	assert.Equal(t, 2*time.Millisecond, snap.MinWrite)
	assert.Equal(t, 10*time.Millisecond, snap.MaxWrite)
	assert.Equal(t, 6*time.Millisecond, snap.AvgWrite)
}
