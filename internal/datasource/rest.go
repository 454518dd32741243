// Copyright 2026 The APEX Authors
// SPDX-License-Identifier: Apache-2.0

package datasource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/PaesslerAG/jsonpath"

	"github.com/apexrules/apex/internal/errkind"
	"github.com/apexrules/apex/internal/model"
)

// RestSource queries HTTP endpoints defined as named URL templates.
// Path segments of the form {name} are substituted from the parameter
// map; parameters not referenced by the template are sent as query
// string values. Responses are unwrapped through the configured
// JSONPath response mapping.
type RestSource struct {
	cfg     model.DataSourceConfig
	client  *http.Client
	base    string
	mapping model.ResponseMappingConfig
	breaker *Breaker
	health  *HealthChecker
	retry   RetryPolicy
	logger  *slog.Logger
}

// NewRestSource builds a REST source. The HTTP client reuses its own
// transport-level connection pool sized from the connection config.
func NewRestSource(cfg model.DataSourceConfig, logger *slog.Logger) (*RestSource, error) {
	conn := cfg.Connection
	if conn == nil || conn.BaseURL == "" {
		return nil, errkind.New(errkind.Configuration,
			"rest-api source %q requires connection.baseUrl", cfg.Name)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("source", cfg.Name))

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = poolMax(conn)
	client := &http.Client{
		Transport: transport,
		Timeout:   conn.ConnectionTimeout(),
	}

	s := &RestSource{
		cfg:     cfg,
		client:  client,
		base:    strings.TrimRight(conn.BaseURL, "/") + conn.BasePath,
		mapping: cfg.ResponseMapping.Defaults(),
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
func (s *RestSource) Name() string { return s.cfg.Name }

// Type implements DataSource.
func (s *RestSource) Type() model.SourceType { return model.SourceRestAPI }

// Query implements DataSource. A 404 response yields an empty result,
// not an error.
func (s *RestSource) Query(ctx context.Context, operation string, params map[string]any) ([]map[string]any, error) {
	template, ok := s.cfg.Endpoints[operation]
	if !ok {
		return nil, errkind.New(errkind.Configuration,
			"rest-api source %q has no endpoint named %q", s.cfg.Name, operation)
	}
	target, err := s.expand(template, params)
	if err != nil {
		return nil, err
	}

	var rows []map[string]any
	err = s.retry.Do(ctx, func() error {
		result, err := s.breaker.Execute(func() (any, error) {
			return s.get(ctx, target)
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
func (s *RestSource) QueryOne(ctx context.Context, operation string, params map[string]any) (map[string]any, bool, error) {
	rows, err := s.Query(ctx, operation, params)
	if err != nil {
		return nil, false, err
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	return rows[0], true, nil
}

// expand substitutes {name} placeholders and appends leftover parameters
// as query string values.
func (s *RestSource) expand(template string, params map[string]any) (string, error) {
	used := map[string]bool{}
	path := template
	for name, value := range params {
		placeholder := "{" + name + "}"
		if strings.Contains(path, placeholder) {
			path = strings.ReplaceAll(path, placeholder, url.PathEscape(fmt.Sprintf("%v", value)))
			used[name] = true
		}
	}
	if i := strings.IndexByte(path, '{'); i >= 0 {
		return "", errkind.New(errkind.Configuration,
			"endpoint template has unbound placeholder at %q", path[i:])
	}

	query := url.Values{}
	for name, value := range params {
		if !used[name] {
			query.Set(name, fmt.Sprintf("%v", value))
		}
	}
	target := s.base + path
	if len(query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + query.Encode()
	}
	return target, nil
}

func (s *RestSource) get(ctx context.Context, target string) ([]map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, errkind.Wrap(errkind.Configuration, err)
	}
	req.Header.Set("Accept", "application/json")
	s.authorize(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, classifyHTTPTransport(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errkind.Wrap(errkind.Transient, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return []map[string]any{}, nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests ||
		resp.StatusCode == http.StatusRequestTimeout:
		return nil, errkind.New(errkind.Transient, "upstream returned %d: %s",
			resp.StatusCode, truncate(body, 200))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, errkind.New(errkind.Configuration, "authentication rejected with %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, errkind.New(errkind.Fatal, "upstream returned %d: %s",
			resp.StatusCode, truncate(body, 200))
	}

	return s.unwrap(body)
}

// unwrap applies the response mapping: a non-null errorPath fails the
// call with the mapped message; otherwise rows come from dataPath,
// falling back to the raw document when the path is absent.
func (s *RestSource) unwrap(body []byte) ([]map[string]any, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, errkind.Wrap(errkind.Fatal, err)
	}

	if errVal, err := jsonpath.Get(s.mapping.ErrorPath, doc); err == nil && errVal != nil {
		message := fmt.Sprintf("%v", errVal)
		if msgVal, err := jsonpath.Get(s.mapping.MessagePath, doc); err == nil && msgVal != nil {
			message = fmt.Sprintf("%v", msgVal)
		}
		return nil, errkind.New(errkind.Fatal, "upstream reported error: %s", message)
	}

	data, err := jsonpath.Get(s.mapping.DataPath, doc)
	if err != nil || data == nil {
		data = doc
	}
	return toRows(data)
}

func (s *RestSource) authorize(req *http.Request) {
	auth := s.cfg.Authentication
	if auth == nil {
		return
	}
	switch auth.Type {
	case "basic":
		req.SetBasicAuth(auth.Username, auth.Password)
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+auth.Token)
	case "api-key":
		header := auth.Header
		if header == "" {
			header = "X-API-Key"
		}
		req.Header.Set(header, auth.APIKey)
	}
}

// HealthCheck implements DataSource using the configured endpoint or the
// service root.
func (s *RestSource) HealthCheck(ctx context.Context) error {
	endpoint := "/"
	if s.cfg.HealthCheck != nil && s.cfg.HealthCheck.Endpoint != "" {
		endpoint = s.cfg.HealthCheck.Endpoint
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.base+endpoint, nil)
	if err != nil {
		return err
	}
	s.authorize(req)
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 400 {
		return fmt.Errorf("health endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// Status implements DataSource.
func (s *RestSource) Status() Status { return s.health.Status() }

// Close implements DataSource.
func (s *RestSource) Close() error {
	s.health.Stop()
	s.client.CloseIdleConnections()
	return nil
}

func classifyHTTPTransport(err error) error {
	if errors.Is(err, context.Canceled) {
		return errkind.Wrap(errkind.Cancelled, err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return errkind.Wrap(errkind.Timeout, err)
	}
	return errkind.Wrap(errkind.Transient, err)
}

// toRows normalizes mapped data to a row list: objects become a single
// row, arrays become one row per object element.
func toRows(data any) ([]map[string]any, error) {
	switch v := data.(type) {
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
					"response element is %T, expected object", item)
			}
			rows = append(rows, row)
		}
		return rows, nil
	default:
		return nil, errkind.New(errkind.Fatal, "response data is %T, expected object or array", data)
	}
}

func truncate(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
