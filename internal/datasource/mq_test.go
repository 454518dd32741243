// Copyright 2026 The APEX Authors
// SPDX-License-Identifier: Apache-2.0

package datasource

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apexrules/apex/internal/errkind"
	"github.com/apexrules/apex/internal/model"
)

type fakeToken struct{ err error }

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Error() error                   { return t.err }

func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

// fakeBroker implements mqtt.Client in-process: subscriptions are kept
// by topic and published requests are handed to onRequest.
type fakeBroker struct {
	mu        sync.Mutex
	handlers  map[string]mqtt.MessageHandler
	onRequest func(topic string, req queueRequest)
	lastReq   *queueRequest
	lastTopic string
	connected bool
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{handlers: map[string]mqtt.MessageHandler{}, connected: true}
}

func (b *fakeBroker) IsConnected() bool { return b.IsConnectionOpen() }

func (b *fakeBroker) IsConnectionOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *fakeBroker) Connect() mqtt.Token { return &fakeToken{} }

func (b *fakeBroker) Disconnect(uint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
}

func (b *fakeBroker) Publish(topic string, _ byte, _ bool, payload any) mqtt.Token {
	var req queueRequest
	if err := json.Unmarshal(payload.([]byte), &req); err != nil {
		return &fakeToken{err: err}
	}
	b.mu.Lock()
	b.lastTopic = topic
	b.lastReq = &req
	fn := b.onRequest
	b.mu.Unlock()
	if fn != nil {
		go fn(topic, req)
	}
	return &fakeToken{}
}

func (b *fakeBroker) Subscribe(topic string, _ byte, cb mqtt.MessageHandler) mqtt.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = cb
	return &fakeToken{}
}

func (b *fakeBroker) SubscribeMultiple(map[string]byte, mqtt.MessageHandler) mqtt.Token {
	return &fakeToken{}
}

func (b *fakeBroker) Unsubscribe(topics ...string) mqtt.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, topic := range topics {
		delete(b.handlers, topic)
	}
	return &fakeToken{}
}

func (b *fakeBroker) AddRoute(string, mqtt.MessageHandler) {}

func (b *fakeBroker) OptionsReader() mqtt.ClientOptionsReader { return mqtt.ClientOptionsReader{} }

var _ mqtt.Client = (*fakeBroker)(nil)

// deliver routes a reply to the handler subscribed on topic, if any.
func (b *fakeBroker) deliver(topic string, payload []byte) {
	b.mu.Lock()
	cb := b.handlers[topic]
	b.mu.Unlock()
	if cb != nil {
		cb(b, &fakeMessage{topic: topic, payload: payload})
	}
}

func (b *fakeBroker) subscriptions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers)
}

func newQueueFixture(t *testing.T, broker *fakeBroker) *QueueSource {
	t.Helper()
	disabled := false
	source := NewQueueSourceWithClient(model.DataSourceConfig{
		Name:        "quotes",
		Type:        model.SourceMessageQueue,
		Topics:      map[string]string{"quote": "apex/quotes"},
		HealthCheck: &model.HealthCheckConfig{Enabled: &disabled},
	}, broker, nil)
	t.Cleanup(func() { _ = source.Close() })
	return source
}

func TestQueueSourceRoundTrip(t *testing.T) {
	broker := newFakeBroker()
	broker.onRequest = func(_ string, req queueRequest) {
		broker.deliver(req.ReplyTo, []byte(`[{"symbol":"EURUSD","price":1.0931}]`))
	}
	source := newQueueFixture(t, broker)

	rows, err := source.Query(context.Background(), "quote", map[string]any{"symbol": "EURUSD"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "EURUSD", rows[0]["symbol"])

	broker.mu.Lock()
	req, topic := broker.lastReq, broker.lastTopic
	broker.mu.Unlock()
	require.NotNil(t, req)
	assert.Equal(t, "apex/quotes", topic)
	assert.NotEmpty(t, req.CorrelationID)
	assert.Equal(t, "apex/quotes/reply/"+req.CorrelationID, req.ReplyTo)
	assert.Equal(t, "EURUSD", req.Params["symbol"])

	// The per-request reply subscription is gone once the call returns.
	assert.Zero(t, broker.subscriptions())
}

func TestQueueSourceReplyTimeout(t *testing.T) {
	broker := newFakeBroker()
	source := newQueueFixture(t, broker)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	rows, err := source.Query(ctx, "quote", nil)
	require.Error(t, err)
	assert.Nil(t, rows)
	assert.Equal(t, errkind.Timeout, errkind.KindOf(err))
	assert.Zero(t, broker.subscriptions())
}

func TestQueueSourceIgnoresForeignCorrelation(t *testing.T) {
	broker := newFakeBroker()
	broker.onRequest = func(_ string, req queueRequest) {
		// A reply for another request must never satisfy this one.
		foreign := strings.Replace(req.ReplyTo, req.CorrelationID, "someone-else", 1)
		broker.deliver(foreign, []byte(`[{"symbol":"GBPUSD"}]`))
	}
	source := newQueueFixture(t, broker)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := source.Query(ctx, "quote", nil)
	require.Error(t, err)
	assert.Equal(t, errkind.Timeout, errkind.KindOf(err))
}

func TestQueueSourceUnknownOperation(t *testing.T) {
	source := newQueueFixture(t, newFakeBroker())

	_, err := source.Query(context.Background(), "nope", nil)
	require.Error(t, err)
	assert.Equal(t, errkind.Configuration, errkind.KindOf(err))
}

func TestQueueSourceHealthCheckTracksConnection(t *testing.T) {
	broker := newFakeBroker()
	source := newQueueFixture(t, broker)

	require.NoError(t, source.HealthCheck(context.Background()))
	broker.Disconnect(0)
	require.Error(t, source.HealthCheck(context.Background()))
}
