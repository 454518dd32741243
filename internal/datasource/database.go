// Copyright 2026 The APEX Authors
// SPDX-License-Identifier: Apache-2.0

package datasource

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/apexrules/apex/internal/errkind"
	"github.com/apexrules/apex/internal/model"
)

// DatabaseSource executes named SQL queries against a relational backend.
// Named :param placeholders are scanned in order and bound by ordinal.
type DatabaseSource struct {
	cfg     model.DataSourceConfig
	db      *sqlx.DB
	pool    *Pool
	breaker *Breaker
	health  *HealthChecker
	retry   RetryPolicy
	logger  *slog.Logger
}

// dbConn adapts one dedicated SQL connection to the pool contract.
// Liveness is validated with the configured connectionTestQuery.
type dbConn struct {
	conn      *sqlx.Conn
	testQuery string
}

func (c *dbConn) Ping(ctx context.Context) error {
	rows, err := c.conn.QueryxContext(ctx, c.testQuery)
	if err != nil {
		return err
	}
	return rows.Close()
}

func (c *dbConn) Close() error { return c.conn.Close() }

// NewDatabaseSource opens the backend via the configured driver and wires
// pool, breaker and health loop. The connection is validated lazily.
func NewDatabaseSource(ctx context.Context, cfg model.DataSourceConfig, logger *slog.Logger) (*DatabaseSource, error) {
	conn := cfg.Connection
	if conn == nil {
		return nil, errkind.New(errkind.Configuration, "data source %q has no connection config", cfg.Name)
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
	return NewDatabaseSourceWithDB(ctx, cfg, db, logger)
}

// NewDatabaseSourceWithDB wires a source over an existing handle; used by
// the loader for custom drivers and by tests with sqlmock.
func NewDatabaseSourceWithDB(ctx context.Context, cfg model.DataSourceConfig, db *sqlx.DB, logger *slog.Logger) (*DatabaseSource, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("source", cfg.Name))
	conn := cfg.Connection
	if conn == nil {
		conn = &model.ConnectionConfig{}
	}

	// The pool hands out dedicated connections from the shared handle.
	db.SetMaxOpenConns(poolMax(conn))
	factory := func(ctx context.Context) (Connection, error) {
		c, err := db.Connx(ctx)
		if err != nil {
			return nil, ClassifySQLError(err)
		}
		return &dbConn{conn: c, testQuery: conn.TestQuery()}, nil
	}

	pool, err := NewPool(ctx, poolConfigFrom(conn), factory, logger, poolObserverFor(cfg.Name))
	if err != nil {
		db.Close()
		return nil, err
	}

	s := &DatabaseSource{
		cfg:     cfg,
		db:      db,
		pool:    pool,
		breaker: NewBreaker(cfg.Name, cfg.CircuitBreaker, logger),
		retry:   RetryPolicyFor(cfg.Name),
		logger:  logger,
	}

	s.health = NewHealthChecker(HealthCheckerConfig{
		Interval:         cfg.HealthCheck.Interval(),
		Timeout:          cfg.HealthCheck.Timeout(),
		FailureThreshold: cfg.HealthCheck.Failures(),
		SuccessThreshold: cfg.HealthCheck.Successes(),
		OnCheck:          healthObserverFor(cfg.Name),
	}, s.HealthCheck, logger)
	if cfg.HealthCheck.IsEnabled() {
		s.health.Start()
	}
	return s, nil
}

// Name implements DataSource.
func (s *DatabaseSource) Name() string { return s.cfg.Name }

// Type implements DataSource.
func (s *DatabaseSource) Type() model.SourceType { return model.SourceDatabase }

// Query implements DataSource. SELECTs are retried on transient failures;
// the circuit breaker short-circuits while open.
func (s *DatabaseSource) Query(ctx context.Context, operation string, params map[string]any) ([]map[string]any, error) {
	sqlText, ok := s.cfg.Queries[operation]
	if !ok {
		return nil, errkind.New(errkind.Configuration,
			"data source %q has no query named %q", s.cfg.Name, operation)
	}
	bound := ScanNamedParams(sqlText, params, s.logger)
	rebound := s.db.Rebind(bound.SQL)

	var rows []map[string]any
	err := s.retry.Do(ctx, func() error {
		result, err := s.breaker.Execute(func() (any, error) {
			out, qerr := s.fetch(ctx, rebound, bound.Values)
			if qerr != nil {
				return nil, ClassifySQLError(qerr)
			}
			return out, nil
		})
		if err != nil {
			return err
		}
		rows = result.([]map[string]any)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// QueryOne implements DataSource.
func (s *DatabaseSource) QueryOne(ctx context.Context, operation string, params map[string]any) (map[string]any, bool, error) {
	rows, err := s.Query(ctx, operation, params)
	if err != nil {
		return nil, false, err
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	return rows[0], true, nil
}

func (s *DatabaseSource) fetch(ctx context.Context, query string, args []any) ([]map[string]any, error) {
	conn, err := s.pool.Borrow(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Release(conn)
	dc := conn.(*dbConn)

	rows, err := dc.conn.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []map[string]any{}
	for rows.Next() {
		row := map[string]any{}
		if err := rows.MapScan(row); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// HealthCheck implements DataSource using the configured test query.
func (s *DatabaseSource) HealthCheck(ctx context.Context) error {
	conn, err := s.pool.Borrow(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Release(conn)
	return conn.Ping(ctx)
}

// Status implements DataSource.
func (s *DatabaseSource) Status() Status { return s.health.Status() }

// Close implements DataSource.
func (s *DatabaseSource) Close() error {
	s.health.Stop()
	if err := s.pool.Close(); err != nil {
		s.logger.Warn("pool close failed", slog.Any("error", err))
	}
	return s.db.Close()
}

func poolConfigFrom(conn *model.ConnectionConfig) PoolConfig {
	return PoolConfig{
		Min:                conn.MinPoolSize,
		Initial:            initialOr(conn),
		Max:                poolMax(conn),
		ConnectionTimeout:  conn.ConnectionTimeout(),
		IdleTimeout:        conn.IdleTimeout(),
		MaxLifetime:        conn.MaxLifetime(),
		LeakThreshold:      conn.LeakThreshold(),
		ValidationInterval: conn.ValidationInterval(),
		TestOnBorrow:       conn.TestOnBorrow,
		TestOnReturn:       conn.TestOnReturn,
		TestWhileIdle:      conn.TestWhileIdle,
	}
}

func poolMax(conn *model.ConnectionConfig) int {
	if conn.MaxPoolSize <= 0 {
		return 10
	}
	return conn.MaxPoolSize
}

func initialOr(conn *model.ConnectionConfig) int {
	if conn.InitialPoolSize < conn.MinPoolSize {
		return conn.MinPoolSize
	}
	return conn.InitialPoolSize
}

func sslModeOr(mode string) string {
	if mode == "" {
		return "disable"
	}
	return mode
}
