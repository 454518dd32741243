// Copyright 2026 The APEX Authors
// SPDX-License-Identifier: Apache-2.0

package datasource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/apexrules/apex/internal/errkind"
	"github.com/apexrules/apex/internal/model"
)

// CacheSource looks up records in Redis. Operations map to key patterns
// such as "customer:{id}"; the stored value is expected to be a JSON
// object or a Redis hash.
type CacheSource struct {
	cfg     model.DataSourceConfig
	client  *redis.Client
	breaker *Breaker
	health  *HealthChecker
	logger  *slog.Logger
}

// NewCacheSource connects to Redis using the connection config. The
// go-redis client manages its own connection pool, sized from maxPoolSize.
func NewCacheSource(cfg model.DataSourceConfig, logger *slog.Logger) (*CacheSource, error) {
	conn := cfg.Connection
	if conn == nil || conn.Host == "" {
		return nil, errkind.New(errkind.Configuration,
			"cache source %q requires connection.host", cfg.Name)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("source", cfg.Name))

	port := conn.Port
	if port == 0 {
		port = 6379
	}
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", conn.Host, port),
		Password:     conn.Password,
		PoolSize:     poolMax(conn),
		MinIdleConns: conn.MinPoolSize,
		DialTimeout:  conn.ConnectionTimeout(),
		ReadTimeout:  conn.ConnectionTimeout(),
	})

	s := &CacheSource{
		cfg:     cfg,
		client:  client,
		breaker: NewBreaker(cfg.Name, cfg.CircuitBreaker, logger),
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
func (s *CacheSource) Name() string { return s.cfg.Name }

// Type implements DataSource.
func (s *CacheSource) Type() model.SourceType { return model.SourceCache }

// Query implements DataSource. A missing key yields an empty result.
func (s *CacheSource) Query(ctx context.Context, operation string, params map[string]any) ([]map[string]any, error) {
	row, found, err := s.QueryOne(ctx, operation, params)
	if err != nil {
		return nil, err
	}
	if !found {
		return []map[string]any{}, nil
	}
	return []map[string]any{row}, nil
}

// QueryOne implements DataSource.
func (s *CacheSource) QueryOne(ctx context.Context, operation string, params map[string]any) (map[string]any, bool, error) {
	pattern, ok := s.cfg.KeyPatterns[operation]
	if !ok {
		return nil, false, errkind.New(errkind.Configuration,
			"cache source %q has no key pattern named %q", s.cfg.Name, operation)
	}
	key, err := expandKey(pattern, params)
	if err != nil {
		return nil, false, err
	}

	result, err := s.breaker.Execute(func() (any, error) {
		return s.lookup(ctx, key)
	})
	if err != nil {
		return nil, false, err
	}
	if result == nil {
		return nil, false, nil
	}
	return result.(map[string]any), true, nil
}

// lookup reads key as a string first, falling back to a hash read when
// the value has the wrong Redis type.
func (s *CacheSource) lookup(ctx context.Context, key string) (any, error) {
	raw, err := s.client.Get(ctx, key).Result()
	switch {
	case err == redis.Nil:
		return nil, nil
	case err == nil:
		var row map[string]any
		if jsonErr := json.Unmarshal([]byte(raw), &row); jsonErr != nil {
			return nil, errkind.New(errkind.Fatal,
				"cache value at %q is not a JSON object", key)
		}
		return row, nil
	case strings.Contains(err.Error(), "WRONGTYPE"):
		fields, hashErr := s.client.HGetAll(ctx, key).Result()
		if hashErr != nil {
			return nil, classifyRedisError(hashErr)
		}
		if len(fields) == 0 {
			return nil, nil
		}
		row := make(map[string]any, len(fields))
		for k, v := range fields {
			row[k] = v
		}
		return row, nil
	default:
		return nil, classifyRedisError(err)
	}
}

// HealthCheck implements DataSource with a PING.
func (s *CacheSource) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Status implements DataSource.
func (s *CacheSource) Status() Status { return s.health.Status() }

// Close implements DataSource.
func (s *CacheSource) Close() error {
	s.health.Stop()
	return s.client.Close()
}

// expandKey substitutes every {name} in pattern from params. All
// placeholders must bind; a partial key would silently hit the wrong
// entries.
func expandKey(pattern string, params map[string]any) (string, error) {
	key := pattern
	for name, value := range params {
		key = strings.ReplaceAll(key, "{"+name+"}", fmt.Sprintf("%v", value))
	}
	if i := strings.IndexByte(key, '{'); i >= 0 {
		return "", errkind.New(errkind.Configuration,
			"key pattern has unbound placeholder at %q", key[i:])
	}
	return key, nil
}

func classifyRedisError(err error) error {
	if err == nil {
		return nil
	}
	var classified *errkind.Classified
	if errors.As(err, &classified) {
		return classified
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errkind.Wrap(errkind.Timeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return errkind.Wrap(errkind.Cancelled, err)
	}
	// Network-level failures against Redis are retryable.
	return errkind.Wrap(errkind.Transient, err)
}
