// Copyright 2026 The APEX Authors
// SPDX-License-Identifier: Apache-2.0

package model

import "time"

// SourceType enumerates the connector families.
type SourceType string

const (
	SourceDatabase     SourceType = "database"
	SourceRestAPI      SourceType = "rest-api"
	SourceMessageQueue SourceType = "message-queue"
	SourceCache        SourceType = "cache"
	SourceFileSystem   SourceType = "file-system"
	SourceCustom       SourceType = "custom"
)

// SourceTypes lists every legal data-source type.
var SourceTypes = []SourceType{
	SourceDatabase, SourceRestAPI, SourceMessageQueue,
	SourceCache, SourceFileSystem, SourceCustom,
}

// ConnectionConfig holds transport-level settings shared by all connector
// families. Fields irrelevant to a family are simply ignored by it.
type ConnectionConfig struct {
	Host     string `yaml:"host,omitempty" mapstructure:"host"`
	Port     int    `yaml:"port,omitempty" mapstructure:"port"`
	Database string `yaml:"database,omitempty" mapstructure:"database"`
	Username string `yaml:"username,omitempty" mapstructure:"username"`
	Password string `yaml:"password,omitempty" mapstructure:"password"`
	BaseURL  string `yaml:"baseUrl,omitempty" mapstructure:"baseUrl"`
	BasePath string `yaml:"basePath,omitempty" mapstructure:"basePath"`
	SSLMode  string `yaml:"sslMode,omitempty" mapstructure:"sslMode"`

	// Pool sizing. Invariant: 0 <= min <= initial <= max.
	MinPoolSize     int `yaml:"minPoolSize,omitempty" mapstructure:"minPoolSize"`
	InitialPoolSize int `yaml:"initialPoolSize,omitempty" mapstructure:"initialPoolSize"`
	MaxPoolSize     int `yaml:"maxPoolSize,omitempty" mapstructure:"maxPoolSize"`

	ConnectionTimeoutMillis int `yaml:"connectionTimeout,omitempty" mapstructure:"connectionTimeout"`
	IdleTimeoutMillis       int `yaml:"idleTimeout,omitempty" mapstructure:"idleTimeout"`
	MaxLifetimeMillis       int `yaml:"maxLifetime,omitempty" mapstructure:"maxLifetime"`
	LeakThresholdMillis     int `yaml:"leakDetectionThreshold,omitempty" mapstructure:"leakDetectionThreshold"`

	TestOnBorrow            bool   `yaml:"testOnBorrow,omitempty" mapstructure:"testOnBorrow"`
	TestOnReturn            bool   `yaml:"testOnReturn,omitempty" mapstructure:"testOnReturn"`
	TestWhileIdle           bool   `yaml:"testWhileIdle,omitempty" mapstructure:"testWhileIdle"`
	ValidationIntervalMillis int   `yaml:"validationInterval,omitempty" mapstructure:"validationInterval"`
	ConnectionTestQuery     string `yaml:"connectionTestQuery,omitempty" mapstructure:"connectionTestQuery"`
}

// ConnectionTimeout returns the borrow timeout with its default applied.
func (c *ConnectionConfig) ConnectionTimeout() time.Duration {
	return millisOr(c.ConnectionTimeoutMillis, 30*time.Second)
}

// IdleTimeout returns the idle eviction threshold.
func (c *ConnectionConfig) IdleTimeout() time.Duration {
	return millisOr(c.IdleTimeoutMillis, 10*time.Minute)
}

// MaxLifetime returns the connection replacement age.
func (c *ConnectionConfig) MaxLifetime() time.Duration {
	return millisOr(c.MaxLifetimeMillis, 30*time.Minute)
}

// LeakThreshold returns the borrow duration that triggers a leak warning.
func (c *ConnectionConfig) LeakThreshold() time.Duration {
	return millisOr(c.LeakThresholdMillis, time.Minute)
}

// ValidationInterval returns the liveness sweep throttle.
func (c *ConnectionConfig) ValidationInterval() time.Duration {
	return millisOr(c.ValidationIntervalMillis, 30*time.Second)
}

// TestQuery returns the SQL liveness probe, defaulting to SELECT 1.
func (c *ConnectionConfig) TestQuery() string {
	if c.ConnectionTestQuery == "" {
		return "SELECT 1"
	}
	return c.ConnectionTestQuery
}

func millisOr(ms int, def time.Duration) time.Duration {
	if ms <= 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

// CacheConfig controls the per-source result cache.
type CacheConfig struct {
	Enabled    bool `yaml:"enabled,omitempty" mapstructure:"enabled"`
	TTLSeconds int  `yaml:"ttlSeconds,omitempty" mapstructure:"ttlSeconds"`
	MaxSize    int  `yaml:"maxSize,omitempty" mapstructure:"maxSize"`
}

// HealthCheckConfig controls the background health loop.
type HealthCheckConfig struct {
	Enabled          *bool  `yaml:"enabled,omitempty" mapstructure:"enabled"`
	IntervalSeconds  int    `yaml:"intervalSeconds,omitempty" mapstructure:"intervalSeconds"`
	TimeoutSeconds   int    `yaml:"timeoutSeconds,omitempty" mapstructure:"timeoutSeconds"`
	Query            string `yaml:"query,omitempty" mapstructure:"query"`
	Endpoint         string `yaml:"endpoint,omitempty" mapstructure:"endpoint"`
	FailureThreshold int    `yaml:"failureThreshold,omitempty" mapstructure:"failureThreshold"`
	SuccessThreshold int    `yaml:"successThreshold,omitempty" mapstructure:"successThreshold"`
}

// IsEnabled treats a missing enabled flag as true.
func (h *HealthCheckConfig) IsEnabled() bool {
	return h == nil || h.Enabled == nil || *h.Enabled
}

// Failures returns the consecutive-failure threshold (default 3).
func (h *HealthCheckConfig) Failures() int {
	if h == nil || h.FailureThreshold <= 0 {
		return 3
	}
	return h.FailureThreshold
}

// Successes returns the consecutive-success threshold (default 1).
func (h *HealthCheckConfig) Successes() int {
	if h == nil || h.SuccessThreshold <= 0 {
		return 1
	}
	return h.SuccessThreshold
}

// Interval returns the loop period (default 30s).
func (h *HealthCheckConfig) Interval() time.Duration {
	if h == nil || h.IntervalSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(h.IntervalSeconds) * time.Second
}

// Timeout returns the per-probe budget (default 5s).
func (h *HealthCheckConfig) Timeout() time.Duration {
	if h == nil || h.TimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(h.TimeoutSeconds) * time.Second
}

// AuthenticationConfig covers the supported auth schemes.
type AuthenticationConfig struct {
	Type     string `yaml:"type,omitempty" mapstructure:"type"` // none, basic, bearer, api-key
	Username string `yaml:"username,omitempty" mapstructure:"username"`
	Password string `yaml:"password,omitempty" mapstructure:"password"`
	Token    string `yaml:"token,omitempty" mapstructure:"token"`
	APIKey   string `yaml:"apiKey,omitempty" mapstructure:"apiKey"`
	Header   string `yaml:"header,omitempty" mapstructure:"header"`
}

// CircuitBreakerConfig controls fail-fast behavior after repeated failures.
type CircuitBreakerConfig struct {
	Enabled          bool `yaml:"enabled,omitempty" mapstructure:"enabled"`
	FailureThreshold int  `yaml:"failureThreshold,omitempty" mapstructure:"failureThreshold"`
	TimeoutSeconds   int  `yaml:"timeoutSeconds,omitempty" mapstructure:"timeoutSeconds"`
}

// Threshold returns the consecutive failures that open the breaker.
func (c *CircuitBreakerConfig) Threshold() int {
	if c == nil || c.FailureThreshold <= 0 {
		return 5
	}
	return c.FailureThreshold
}

// OpenTimeout returns how long the breaker stays open before a trial.
func (c *CircuitBreakerConfig) OpenTimeout() time.Duration {
	if c == nil || c.TimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ResponseMappingConfig selects JSONPath roots in REST responses.
type ResponseMappingConfig struct {
	DataPath    string `yaml:"dataPath,omitempty" mapstructure:"dataPath"`
	ErrorPath   string `yaml:"errorPath,omitempty" mapstructure:"errorPath"`
	StatusPath  string `yaml:"statusPath,omitempty" mapstructure:"statusPath"`
	MessagePath string `yaml:"messagePath,omitempty" mapstructure:"messagePath"`
}

// Defaults fills unset paths with the documented defaults.
func (r *ResponseMappingConfig) Defaults() ResponseMappingConfig {
	out := ResponseMappingConfig{
		DataPath:    "$.data",
		ErrorPath:   "$.error",
		StatusPath:  "$.status",
		MessagePath: "$.message",
	}
	if r == nil {
		return out
	}
	if r.DataPath != "" {
		out.DataPath = r.DataPath
	}
	if r.ErrorPath != "" {
		out.ErrorPath = r.ErrorPath
	}
	if r.StatusPath != "" {
		out.StatusPath = r.StatusPath
	}
	if r.MessagePath != "" {
		out.MessagePath = r.MessagePath
	}
	return out
}

// DataSourceConfig is the composite configuration of one external source.
type DataSourceConfig struct {
	Name           string     `yaml:"name" mapstructure:"name"`
	Type           SourceType `yaml:"type" mapstructure:"type"`
	SourceType     string     `yaml:"sourceType,omitempty" mapstructure:"sourceType"`
	Description    string     `yaml:"description,omitempty" mapstructure:"description"`
	Enabled        *bool      `yaml:"enabled,omitempty" mapstructure:"enabled"`
	Implementation string     `yaml:"implementation,omitempty" mapstructure:"implementation"`

	Connection      *ConnectionConfig      `yaml:"connection,omitempty" mapstructure:"connection"`
	Cache           *CacheConfig           `yaml:"cache,omitempty" mapstructure:"cache"`
	HealthCheck     *HealthCheckConfig     `yaml:"healthCheck,omitempty" mapstructure:"healthCheck"`
	Authentication  *AuthenticationConfig  `yaml:"authentication,omitempty" mapstructure:"authentication"`
	CircuitBreaker  *CircuitBreakerConfig  `yaml:"circuitBreaker,omitempty" mapstructure:"circuitBreaker"`
	ResponseMapping *ResponseMappingConfig `yaml:"responseMapping,omitempty" mapstructure:"responseMapping"`
	FileFormat      string                 `yaml:"fileFormat,omitempty" mapstructure:"fileFormat"`

	Queries     map[string]string `yaml:"queries,omitempty" mapstructure:"queries"`
	Endpoints   map[string]string `yaml:"endpoints,omitempty" mapstructure:"endpoints"`
	Topics      map[string]string `yaml:"topics,omitempty" mapstructure:"topics"`
	KeyPatterns map[string]string `yaml:"keyPatterns,omitempty" mapstructure:"keyPatterns"`

	ParameterNames []string `yaml:"parameterNames,omitempty" mapstructure:"parameterNames"`
	Tags           []string `yaml:"tags,omitempty" mapstructure:"tags"`
}

// IsEnabled treats a missing enabled flag as true.
func (c *DataSourceConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// TransactionMode governs sink batching semantics.
type TransactionMode string

const (
	TxNone      TransactionMode = "none"
	TxPerBatch  TransactionMode = "per-batch"
	TxPerRecord TransactionMode = "per-record"
	TxGlobal    TransactionMode = "global"
)

// BatchConfig controls sink batching and memory pressure response.
type BatchConfig struct {
	Enabled                bool `yaml:"enabled,omitempty" mapstructure:"enabled"`
	BatchSize              int  `yaml:"batchSize,omitempty" mapstructure:"batchSize"`
	MaxBatchSize           int  `yaml:"maxBatchSize,omitempty" mapstructure:"maxBatchSize"`
	FlushIntervalMillis    int  `yaml:"flushInterval,omitempty" mapstructure:"flushInterval"`
	MemoryThresholdPercent int  `yaml:"memoryThresholdPercent,omitempty" mapstructure:"memoryThresholdPercent"`
	MaxRetries             int  `yaml:"maxRetries,omitempty" mapstructure:"maxRetries"`
	RetryDelayMillis       int  `yaml:"retryDelay,omitempty" mapstructure:"retryDelay"`
}

// DataSinkConfig is the write-side composite. It extends the source shape
// with named operations and batch/transaction settings.
type DataSinkConfig struct {
	DataSourceConfig `yaml:",inline" mapstructure:",squash"`

	Operations      map[string]string `yaml:"operations,omitempty" mapstructure:"operations"`
	TransactionMode TransactionMode   `yaml:"transactionMode,omitempty" mapstructure:"transactionMode"`
	Batch           *BatchConfig      `yaml:"batch,omitempty" mapstructure:"batch"`
}

// Mode returns the transaction mode with its default applied.
func (c *DataSinkConfig) Mode() TransactionMode {
	if c.TransactionMode == "" {
		return TxNone
	}
	return c.TransactionMode
}
