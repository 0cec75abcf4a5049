package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/s2s/internal/config"
	"github.com/turtacn/s2s/internal/domain/models"
	"github.com/turtacn/s2s/pkg/errors"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func sampleEvent() models.IssuanceEvent {
	return models.IssuanceEvent{
		Kid: "kms:p:l:r:k:v1", Algorithm: "ES256", Audience: "billing", Issuer: "orders",
		JTI: "jti-1", IssuedAt: 100, ExpiresAt: 400, Service: "orders", Timestamp: time.Unix(100, 0).UTC(),
	}
}

func TestKafkaIssuanceSink_RecordIssuance(t *testing.T) {
	w := &fakeWriter{}
	sink := NewIssuanceSinkWithWriter(w, "", nil)

	require.NoError(t, sink.RecordIssuance(context.Background(), sampleEvent()))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "kms:p:l:r:k:v1", string(w.msgs[0].Key))
	assert.Empty(t, w.msgs[0].Headers)

	var got models.IssuanceEvent
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	assert.Equal(t, sampleEvent(), got)
	assert.NotContains(t, string(w.msgs[0].Value), "token")

	require.NoError(t, sink.Close())
	assert.True(t, w.closed)
}

func TestKafkaIssuanceSink_SignsWhenKeyed(t *testing.T) {
	w := &fakeWriter{}
	sink := NewIssuanceSinkWithWriter(w, "audit-secret", nil)
	require.NoError(t, sink.RecordIssuance(context.Background(), sampleEvent()))

	msg := w.msgs[0]
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, SignatureHeader, msg.Headers[0].Key)
	assert.True(t, VerifyPayload(msg.Value, string(msg.Headers[0].Value), "audit-secret"))
	assert.False(t, VerifyPayload(msg.Value, string(msg.Headers[0].Value), "other"))
	assert.False(t, VerifyPayload(msg.Value, "%%%", "audit-secret"))
}

func TestKafkaIssuanceSink_WriteError(t *testing.T) {
	sink := NewIssuanceSinkWithWriter(&fakeWriter{err: fmt.Errorf("broker down")}, "", nil)
	assert.Error(t, sink.RecordIssuance(context.Background(), sampleEvent()))
}

func TestNewKafkaIssuanceSink_Config(t *testing.T) {
	_, err := NewKafkaIssuanceSink(config.KafkaConfig{AuditTopic: "audit"}, nil)
	assert.True(t, errors.Is(err, errors.ErrConfiguration))
	_, err = NewKafkaIssuanceSink(config.KafkaConfig{Brokers: []string{"localhost:9092"}}, nil)
	assert.True(t, errors.Is(err, errors.ErrConfiguration))

	sink, err := NewKafkaIssuanceSink(config.KafkaConfig{Brokers: []string{"localhost:9092"}, AuditTopic: "audit"}, nil)
	require.NoError(t, err)
	assert.NoError(t, sink.Close())
}
