// Copyright 2026 The APEX Authors
// SPDX-License-Identifier: Apache-2.0

package datasink

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/apexrules/apex/internal/datasource"
	"github.com/apexrules/apex/internal/errkind"
	"github.com/apexrules/apex/internal/model"
)

// DatabaseSink writes records through named SQL operations. The
// transaction mode decides the failure unit:
//
//   - none: autocommit per statement, row-level partial success.
//   - per-record: one transaction per record, row-level partial success.
//   - per-batch: one transaction per batch, all-or-nothing with rollback.
//   - global: one transaction across every Write, committed by Commit.
type DatabaseSink struct {
	cfg        model.DataSinkConfig
	db         *sqlx.DB
	batches    *BatchManager
	stats      *WriteStats
	retry      datasource.RetryPolicy
	deadLetter DeadLetterFunc
	logger     *slog.Logger

	globalMu sync.Mutex
	globalTx *sqlx.Tx
	closed   bool
}

// SinkOption customizes sink construction.
type SinkOption func(*DatabaseSink)

// WithDeadLetter installs a callback for records that exhausted all write
// attempts.
func WithDeadLetter(fn DeadLetterFunc) SinkOption {
	return func(s *DatabaseSink) { s.deadLetter = fn }
}

// NewDatabaseSink opens the backend via the configured driver.
func NewDatabaseSink(cfg model.DataSinkConfig, logger *slog.Logger, opts ...SinkOption) (*DatabaseSink, error) {
	conn := cfg.Connection
	if conn == nil {
		return nil, errkind.New(errkind.Configuration, "data sink %q has no connection config", cfg.Name)
	}
	driver := cfg.Implementation
	if driver == "" {
		driver = "postgres"
	}
	dsn := fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		conn.Host, conn.Port, conn.Database, conn.Username, conn.Password, sslModeOr(conn.SSLMode))
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, errkind.WrapPath(errkind.Configuration, cfg.Name, err)
	}
	return NewDatabaseSinkWithDB(cfg, db, logger, opts...)
}

// NewDatabaseSinkWithDB wires a sink over an existing handle; used by the
// loader for custom drivers and by tests with sqlmock.
func NewDatabaseSinkWithDB(cfg model.DataSinkConfig, db *sqlx.DB, logger *slog.Logger, opts ...SinkOption) (*DatabaseSink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Connection != nil && cfg.Connection.MaxPoolSize > 0 {
		db.SetMaxOpenConns(cfg.Connection.MaxPoolSize)
	}

	retry := datasource.RetryPolicyFor(cfg.Name)
	if cfg.Batch != nil {
		if cfg.Batch.MaxRetries > 0 {
			retry.MaxRetries = cfg.Batch.MaxRetries
		}
		if cfg.Batch.RetryDelayMillis > 0 {
			retry.RetryDelay = time.Duration(cfg.Batch.RetryDelayMillis) * time.Millisecond
		}
	}

	s := &DatabaseSink{
		cfg:     cfg,
		db:      db,
		batches: NewBatchManager(cfg.Batch),
		stats:   NewWriteStats(),
		retry:   retry,
		logger:  logger.With(slog.String("sink", cfg.Name)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Name implements DataSink.
func (s *DatabaseSink) Name() string { return s.cfg.Name }

// Type implements DataSink.
func (s *DatabaseSink) Type() model.SourceType { return model.SourceDatabase }

// Stats returns the sink's cumulative write statistics.
func (s *DatabaseSink) Stats() Snapshot { return s.stats.Snapshot() }

// Write implements DataSink.
func (s *DatabaseSink) Write(ctx context.Context, operation string, records []map[string]any) (*WriteResult, error) {
	sqlText, ok := s.cfg.Operations[operation]
	if !ok {
		return nil, errkind.New(errkind.Configuration,
			"data sink %q has no operation named %q", s.cfg.Name, operation)
	}

	started := time.Now()
	result := &WriteResult{Total: len(records)}
	var err error

	switch s.cfg.Mode() {
	case model.TxGlobal:
		err = s.writeGlobal(ctx, sqlText, records, result)
	case model.TxPerBatch:
		err = s.writePerBatch(ctx, sqlText, records, result)
	default: // none and per-record share row-level semantics
		err = s.writeRowLevel(ctx, sqlText, records, result, s.cfg.Mode() == model.TxPerRecord)
	}

	result.Duration = time.Since(started)
	s.stats.Record(result)
	if len(result.Failed) > 0 && s.deadLetter != nil {
		s.deadLetter(s.cfg.Name, operation, result.Failed)
	}
	return result, err
}

// writeRowLevel executes each record independently. Integrity violations
// and other per-row failures are collected; cancellation aborts the rest.
func (s *DatabaseSink) writeRowLevel(ctx context.Context, sqlText string, records []map[string]any, result *WriteResult, transactional bool) error {
	result.Batches = 1
	for i, record := range records {
		if err := ctx.Err(); err != nil {
			s.failRemaining(records, i, errkind.Wrap(errkind.Cancelled, err), result)
			return errkind.Wrap(errkind.Cancelled, err)
		}
		var err error
		if transactional {
			err = s.execInTx(ctx, sqlText, record)
		} else {
			err = s.exec(ctx, s.db, sqlText, record)
		}
		if err != nil {
			classified := datasource.ClassifySQLError(err)
			result.Failed = append(result.Failed, FailedRecord{Index: i, Record: record, Err: classified})
			s.logger.Warn("record write failed",
				slog.Int("index", i), slog.Any("error", classified))
			continue
		}
		result.Succeeded++
	}
	return nil
}

// writePerBatch runs each batch in its own transaction. A failing batch is
// rolled back whole and retried when the failure is transient; records of
// a batch that ultimately fails are all reported failed.
func (s *DatabaseSink) writePerBatch(ctx context.Context, sqlText string, records []map[string]any, result *WriteResult) error {
	offset := 0
	for _, batch := range s.batches.Split(records) {
		result.Batches++
		err := s.retry.Do(ctx, func() error {
			return s.execBatchTx(ctx, sqlText, batch)
		})
		if err != nil {
			result.FailedBatches++
			classified := datasource.ClassifySQLError(err)
			for i, record := range batch {
				result.Failed = append(result.Failed, FailedRecord{
					Index: offset + i, Record: record, Err: classified,
				})
			}
			s.logger.Warn("batch rolled back",
				slog.Int("size", len(batch)), slog.Any("error", classified))
			if errkind.IsKind(classified, errkind.Cancelled) {
				s.failRemaining(records, offset+len(batch), classified, result)
				return classified
			}
		} else {
			result.Succeeded += len(batch)
		}
		offset += len(batch)
	}
	return nil
}

// writeGlobal appends records to the sink-wide transaction. Any failure
// rolls back everything written since the last Commit.
func (s *DatabaseSink) writeGlobal(ctx context.Context, sqlText string, records []map[string]any, result *WriteResult) error {
	s.globalMu.Lock()
	defer s.globalMu.Unlock()

	if s.globalTx == nil {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return datasource.ClassifySQLError(err)
		}
		s.globalTx = tx
	}
	result.Batches = 1
	for _, record := range records {
		if err := s.exec(ctx, s.globalTx, sqlText, record); err != nil {
			classified := datasource.ClassifySQLError(err)
			s.globalTx.Rollback()
			s.globalTx = nil
			result.FailedBatches = 1
			result.Succeeded = 0
			result.Failed = result.Failed[:0]
			s.failRemaining(records, 0, classified, result)
			return classified
		}
		result.Succeeded++
	}
	return nil
}

// Commit finishes the global transaction. A no-op in other modes.
func (s *DatabaseSink) Commit() error {
	s.globalMu.Lock()
	defer s.globalMu.Unlock()
	if s.globalTx == nil {
		return nil
	}
	err := s.globalTx.Commit()
	s.globalTx = nil
	if err != nil {
		return datasource.ClassifySQLError(err)
	}
	return nil
}

func (s *DatabaseSink) execBatchTx(ctx context.Context, sqlText string, batch []map[string]any) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return datasource.ClassifySQLError(err)
	}
	for _, record := range batch {
		if err := s.exec(ctx, tx, sqlText, record); err != nil {
			tx.Rollback()
			return datasource.ClassifySQLError(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return datasource.ClassifySQLError(err)
	}
	return nil
}

func (s *DatabaseSink) execInTx(ctx context.Context, sqlText string, record map[string]any) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := s.exec(ctx, tx, sqlText, record); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *DatabaseSink) exec(ctx context.Context, e sqlx.ExecerContext, sqlText string, record map[string]any) error {
	bound := datasource.ScanNamedParams(sqlText, record, s.logger)
	_, err := e.ExecContext(ctx, s.db.Rebind(bound.SQL), bound.Values...)
	return err
}

func (s *DatabaseSink) failRemaining(records []map[string]any, from int, err error, result *WriteResult) {
	for i := from; i < len(records); i++ {
		result.Failed = append(result.Failed, FailedRecord{Index: i, Record: records[i], Err: err})
	}
}

// HealthCheck implements DataSink.
func (s *DatabaseSink) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close commits any open global transaction, then closes the handle.
func (s *DatabaseSink) Close() error {
	s.globalMu.Lock()
	if s.closed {
		s.globalMu.Unlock()
		return nil
	}
	s.closed = true
	s.globalMu.Unlock()

	if err := s.Commit(); err != nil {
		s.db.Close()
		return err
	}
	return s.db.Close()
}

func sslModeOr(mode string) string {
	if mode == "" {
		return "disable"
	}
	return mode
}
