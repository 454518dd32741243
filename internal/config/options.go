// Copyright 2026 The APEX Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"time"

	"github.com/apexrules/apex/internal/logging"
)

// Engine is the top-level runtime configuration for an APEX process.
type Engine struct {
	Logging    logging.Config `koanf:"logging"`
	Pools      PoolDefaults   `koanf:"pools"`
	Expression Expression     `koanf:"expression"`
	Reload     Reload         `koanf:"reload"`
}

// PoolDefaults are applied to data sources that omit pool settings.
type PoolDefaults struct {
	MinSize                int           `koanf:"min_size"`
	InitialSize            int           `koanf:"initial_size"`
	MaxSize                int           `koanf:"max_size"`
	ConnectionTimeout      time.Duration `koanf:"connection_timeout"`
	IdleTimeout            time.Duration `koanf:"idle_timeout"`
	MaxLifetime            time.Duration `koanf:"max_lifetime"`
	LeakDetectionThreshold time.Duration `koanf:"leak_detection_threshold"`
	ValidationInterval     time.Duration `koanf:"validation_interval"`
}

// Expression configures the shared expression compilation cache.
type Expression struct {
	CacheSize int `koanf:"cache_size"`
}

// Reload configures configuration hot-reload behavior.
type Reload struct {
	Enabled bool `koanf:"enabled"`
}

// DefaultEngine returns the built-in defaults, overridable by file and env.
func DefaultEngine() Engine {
	return Engine{
		Logging: logging.Config{Level: "info", Format: "json"},
		Pools: PoolDefaults{
			MinSize:                1,
			InitialSize:            2,
			MaxSize:                10,
			ConnectionTimeout:      30 * time.Second,
			IdleTimeout:            10 * time.Minute,
			MaxLifetime:            30 * time.Minute,
			LeakDetectionThreshold: time.Minute,
			ValidationInterval:     30 * time.Second,
		},
		Expression: Expression{CacheSize: 1024},
	}
}

// Validate implements Validator.
func (e Engine) Validate() error {
	var errs []error
	pools := NewPath("pools")
	if e.Pools.MinSize < 0 {
		errs = append(errs, NewFieldError(pools.Child("min_size"), "must not be negative"))
	}
	if e.Pools.InitialSize < e.Pools.MinSize {
		errs = append(errs, NewFieldError(pools.Child("initial_size"), "must be >= min_size"))
	}
	if e.Pools.MaxSize < e.Pools.InitialSize {
		errs = append(errs, NewFieldError(pools.Child("max_size"), "must be >= initial_size"))
	}
	for name, d := range map[string]time.Duration{
		"connection_timeout":  e.Pools.ConnectionTimeout,
		"idle_timeout":        e.Pools.IdleTimeout,
		"max_lifetime":        e.Pools.MaxLifetime,
		"validation_interval": e.Pools.ValidationInterval,
	} {
		if d <= 0 {
			errs = append(errs, NewFieldError(pools.Child(name), "must be positive"))
		}
	}
	if e.Expression.CacheSize <= 0 {
		errs = append(errs, NewFieldError(NewPath("expression").Child("cache_size"), "must be positive"))
	}
	return errors.Join(errs...)
}
