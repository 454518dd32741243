// Copyright 2026 The APEX Authors
// SPDX-License-Identifier: Apache-2.0

package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/apexrules/apex/internal/errkind"
	"github.com/apexrules/apex/internal/model"
)

// QueueSource performs request/reply lookups over MQTT. Each operation
// maps to a request topic; the reply arrives on a per-request topic
// derived from a correlation id, so concurrent lookups never cross.
type QueueSource struct {
	cfg     model.DataSourceConfig
	client  mqtt.Client
	breaker *Breaker
	health  *HealthChecker
	logger  *slog.Logger
}

type queueRequest struct {
	CorrelationID string         `json:"correlationId"`
	ReplyTo       string         `json:"replyTo"`
	Params        map[string]any `json:"params"`
}

// NewQueueSource connects to the broker. The paho client reconnects
// automatically; the health loop reflects broker connectivity.
func NewQueueSource(cfg model.DataSourceConfig, logger *slog.Logger) (*QueueSource, error) {
	conn := cfg.Connection
	if conn == nil || conn.Host == "" {
		return nil, errkind.New(errkind.Configuration,
			"message-queue source %q requires connection.host", cfg.Name)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("source", cfg.Name))

	port := conn.Port
	if port == 0 {
		port = 1883
	}
	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", conn.Host, port)).
		SetClientID("apex-" + cfg.Name + "-" + uuid.NewString()[:8]).
		SetUsername(conn.Username).
		SetPassword(conn.Password).
		SetConnectTimeout(conn.ConnectionTimeout()).
		SetAutoReconnect(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warn("broker connection lost", slog.Any("error", err))
		})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, errkind.Wrap(errkind.Transient, token.Error())
	}
	return NewQueueSourceWithClient(cfg, client, logger), nil
}

// NewQueueSourceWithClient wires a source over an already connected
// client; used by tests with a fake broker.
func NewQueueSourceWithClient(cfg model.DataSourceConfig, client mqtt.Client, logger *slog.Logger) *QueueSource {
	if logger == nil {
		logger = slog.Default()
	}
	s := &QueueSource{
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
	return s
}

// Name implements DataSource.
func (s *QueueSource) Name() string { return s.cfg.Name }

// Type implements DataSource.
func (s *QueueSource) Type() model.SourceType { return model.SourceMessageQueue }

// Query implements DataSource.
func (s *QueueSource) Query(ctx context.Context, operation string, params map[string]any) ([]map[string]any, error) {
	topic, ok := s.cfg.Topics[operation]
	if !ok {
		return nil, errkind.New(errkind.Configuration,
			"message-queue source %q has no topic named %q", s.cfg.Name, operation)
	}

	result, err := s.breaker.Execute(func() (any, error) {
		return s.roundTrip(ctx, topic, params)
	})
	if err != nil {
		return nil, err
	}
	return result.([]map[string]any), nil
}

// QueryOne implements DataSource.
func (s *QueueSource) QueryOne(ctx context.Context, operation string, params map[string]any) (map[string]any, bool, error) {
	rows, err := s.Query(ctx, operation, params)
	if err != nil {
		return nil, false, err
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	return rows[0], true, nil
}

func (s *QueueSource) roundTrip(ctx context.Context, topic string, params map[string]any) ([]map[string]any, error) {
	correlationID := uuid.NewString()
	replyTopic := topic + "/reply/" + correlationID
	replies := make(chan []byte, 1)

	token := s.client.Subscribe(replyTopic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		select {
		case replies <- msg.Payload():
		default:
		}
	})
	if token.Wait() && token.Error() != nil {
		return nil, errkind.Wrap(errkind.Transient, token.Error())
	}
	defer s.client.Unsubscribe(replyTopic)

	payload, err := json.Marshal(queueRequest{
		CorrelationID: correlationID,
		ReplyTo:       replyTopic,
		Params:        params,
	})
	if err != nil {
		return nil, errkind.Wrap(errkind.Fatal, err)
	}
	if token := s.client.Publish(topic, 1, false, payload); token.Wait() && token.Error() != nil {
		return nil, errkind.Wrap(errkind.Transient, token.Error())
	}

	select {
	case body := <-replies:
		var doc any
		if err := json.Unmarshal(body, &doc); err != nil {
			return nil, errkind.Wrap(errkind.Fatal, err)
		}
		return toRows(doc)
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errkind.Wrap(errkind.Timeout, ctx.Err())
		}
		return nil, errkind.Wrap(errkind.Cancelled, ctx.Err())
	}
}

// HealthCheck implements DataSource by checking broker connectivity.
func (s *QueueSource) HealthCheck(_ context.Context) error {
	if !s.client.IsConnectionOpen() {
		return fmt.Errorf("broker connection is down")
	}
	return nil
}

// Status implements DataSource.
func (s *QueueSource) Status() Status { return s.health.Status() }

// Close implements DataSource.
func (s *QueueSource) Close() error {
	s.health.Stop()
	s.client.Disconnect(250)
	return nil
}
