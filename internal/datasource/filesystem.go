// Copyright 2026 The APEX Authors
// SPDX-License-Identifier: Apache-2.0

package datasource

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/apexrules/apex/internal/errkind"
	"github.com/apexrules/apex/internal/model"
)

// FileSource reads record sets from local files under connection.basePath.
// Operations map to relative path templates; {name} placeholders bind from
// the parameter map, and parameters not consumed by the template filter the
// loaded rows by equality.
type FileSource struct {
	cfg    model.DataSourceConfig
	base   string
	format string
	health *HealthChecker
	logger *slog.Logger
}

// NewFileSource validates the base path and file format. Supported formats
// are json, yaml and csv; the default is inferred per file extension.
func NewFileSource(cfg model.DataSourceConfig, logger *slog.Logger) (*FileSource, error) {
	conn := cfg.Connection
	if conn == nil || conn.BasePath == "" {
		return nil, errkind.New(errkind.Configuration,
			"file-system source %q requires connection.basePath", cfg.Name)
	}
	format := strings.ToLower(cfg.FileFormat)
	switch format {
	case "", "json", "yaml", "csv":
	default:
		return nil, errkind.New(errkind.Configuration,
			"file-system source %q has unsupported fileFormat %q", cfg.Name, cfg.FileFormat)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("source", cfg.Name))

	s := &FileSource{
		cfg:    cfg,
		base:   conn.BasePath,
		format: format,
		logger: logger,
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
func (s *FileSource) Name() string { return s.cfg.Name }

// Type implements DataSource.
func (s *FileSource) Type() model.SourceType { return model.SourceFileSystem }

// Query implements DataSource.
func (s *FileSource) Query(ctx context.Context, operation string, params map[string]any) ([]map[string]any, error) {
	template, ok := s.cfg.Queries[operation]
	if !ok {
		return nil, errkind.New(errkind.Configuration,
			"file-system source %q has no file mapping named %q", s.cfg.Name, operation)
	}

	used := map[string]bool{}
	rel := template
	for name, value := range params {
		placeholder := "{" + name + "}"
		if strings.Contains(rel, placeholder) {
			rel = strings.ReplaceAll(rel, placeholder, fmt.Sprintf("%v", value))
			used[name] = true
		}
	}
	if i := strings.IndexByte(rel, '{'); i >= 0 {
		return nil, errkind.New(errkind.Configuration,
			"file mapping has unbound placeholder at %q", rel[i:])
	}

	rows, err := s.load(ctx, filepath.Join(s.base, filepath.Clean("/"+rel)))
	if err != nil {
		return nil, err
	}

	// Remaining parameters act as equality filters.
	filtered := rows[:0]
	for _, row := range rows {
		match := true
		for name, want := range params {
			if used[name] {
				continue
			}
			if fmt.Sprintf("%v", row[name]) != fmt.Sprintf("%v", want) {
				match = false
				break
			}
		}
		if match {
			filtered = append(filtered, row)
		}
	}
	return filtered, nil
}

// QueryOne implements DataSource.
func (s *FileSource) QueryOne(ctx context.Context, operation string, params map[string]any) (map[string]any, bool, error) {
	rows, err := s.Query(ctx, operation, params)
	if err != nil {
		return nil, false, err
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	return rows[0], true, nil
}

func (s *FileSource) load(ctx context.Context, path string) ([]map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, errkind.Wrap(errkind.Cancelled, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []map[string]any{}, nil
		}
		return nil, errkind.Wrap(errkind.Fatal, err)
	}

	format := s.format
	if format == "" {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".json":
			format = "json"
		case ".csv":
			format = "csv"
		default:
			format = "yaml"
		}
	}

	switch format {
	case "json":
		var doc any
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, errkind.WrapPath(errkind.Fatal, path, err)
		}
		return toRows(doc)
	case "yaml":
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, errkind.WrapPath(errkind.Fatal, path, err)
		}
		return yamlRows(doc, path)
	case "csv":
		return csvRows(data, path)
	}
	return nil, errkind.New(errkind.Configuration, "unsupported file format %q", format)
}

// HealthCheck implements DataSource by statting the base path.
func (s *FileSource) HealthCheck(_ context.Context) error {
	info, err := os.Stat(s.base)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("base path %q is not a directory", s.base)
	}
	return nil
}

// Status implements DataSource.
func (s *FileSource) Status() Status { return s.health.Status() }

// Close implements DataSource.
func (s *FileSource) Close() error {
	s.health.Stop()
	return nil
}

// yamlRows normalizes YAML documents, whose maps decode as map[string]any
// under yaml.v3 but may nest non-string-keyed maps.
func yamlRows(doc any, path string) ([]map[string]any, error) {
	switch v := doc.(type) {
	case nil:
		return []map[string]any{}, nil
	case map[string]any:
		return []map[string]any{v}, nil
	case []any:
		rows := make([]map[string]any, 0, len(v))
		for _, item := range v {
			row, ok := item.(map[string]any)
			if !ok {
				return nil, errkind.New(errkind.Fatal,
					"%s: element is %T, expected mapping", path, item)
			}
			rows = append(rows, row)
		}
		return rows, nil
	default:
		return nil, errkind.New(errkind.Fatal, "%s: document is %T, expected mapping or list", path, doc)
	}
}

// csvRows reads a header row then one record per line, values as strings.
func csvRows(data []byte, path string) ([]map[string]any, error) {
	reader := csv.NewReader(strings.NewReader(string(data)))
	records, err := reader.ReadAll()
	if err != nil {
		return nil, errkind.WrapPath(errkind.Fatal, path, err)
	}
	if len(records) == 0 {
		return []map[string]any{}, nil
	}
	header := records[0]
	rows := make([]map[string]any, 0, len(records)-1)
	for _, record := range records[1:] {
		row := make(map[string]any, len(header))
		for i, col := range header {
			if i < len(record) {
				row[col] = record[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
