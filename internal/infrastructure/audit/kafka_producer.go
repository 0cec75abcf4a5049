// Package audit publishes token issuance events to Kafka.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/turtacn/s2s/internal/config"
	"github.com/turtacn/s2s/internal/domain/models"
	"github.com/turtacn/s2s/internal/domain/service"
	"github.com/turtacn/s2s/pkg/errors"
	"github.com/turtacn/s2s/pkg/logger"
)

// SignatureHeader carries the HMAC of the message value when signing is on.
const SignatureHeader = "x-s2s-signature"

// MessageWriter is the subset of *kafka.Writer the sink uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaIssuanceSink is a Kafka-backed service.IssuanceSink.
type KafkaIssuanceSink struct {
	writer  MessageWriter
	hmacKey string
	logger  logger.Logger
}

var _ service.IssuanceSink = (*KafkaIssuanceSink)(nil)

// NewKafkaIssuanceSink creates a sink writing to cfg.AuditTopic.
func NewKafkaIssuanceSink(cfg config.KafkaConfig, log logger.Logger) (*KafkaIssuanceSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.Configuration("kafka.brokers", "at least one broker is required for issuance audit")
	}
	if cfg.AuditTopic == "" {
		return nil, errors.Configuration("kafka.audit_topic", "is required for issuance audit")
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.AuditTopic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
		// Issuance must not wait on the broker.
		Async: true,
	}
	return NewIssuanceSinkWithWriter(writer, cfg.AuditHMACKey, log), nil
}

// NewIssuanceSinkWithWriter wraps an existing writer.
func NewIssuanceSinkWithWriter(w MessageWriter, hmacKey string, log logger.Logger) *KafkaIssuanceSink {
	if log == nil {
		log = logger.NewNoopLogger()
	}
	return &KafkaIssuanceSink{writer: w, hmacKey: hmacKey, logger: log.WithComponent("KafkaIssuanceSink")}
}

// RecordIssuance publishes event keyed by kid, so one key's events stay ordered.
func (p *KafkaIssuanceSink) RecordIssuance(ctx context.Context, event models.IssuanceEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		p.logger.Error(ctx, "failed to marshal issuance event", err)
		return err
	}
	msg := kafka.Message{Key: []byte(event.Kid), Value: value, Time: event.Timestamp}
	if p.hmacKey != "" {
		msg.Headers = append(msg.Headers, kafka.Header{Key: SignatureHeader, Value: []byte(signPayload(value, p.hmacKey))})
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error(ctx, "failed to write issuance event to kafka", err, logger.String("kid", event.Kid))
		return err
	}
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaIssuanceSink) Close() error {
	return p.writer.Close()
}
