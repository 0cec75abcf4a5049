// Package consumers contains the Kafka consumers of the S2S agent.
package consumers

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/turtacn/s2s/internal/config"
	"github.com/turtacn/s2s/internal/domain/models"
	"github.com/turtacn/s2s/pkg/errors"
	"github.com/turtacn/s2s/pkg/logger"
)

// Key event types.
const (
	EventRotation   = "rotation"
	EventCompromise = "compromise"
)

// KeyEvent is the message on the rotation topic. Rotation events carry the
// key name and versions; compromise events carry the kid.
type KeyEvent struct {
	Type string `json:"type"`
	models.KeyRotationEvent
	KID string `json:"kid,omitempty"`
}

// KeyEventHandler applies key lifecycle events.
type KeyEventHandler interface {
	HandleRotation(ctx context.Context, event models.KeyRotationEvent) error
	CompromiseKey(ctx context.Context, kid, reason string) error
}

// KeyEventRecorder counts consumed events.
type KeyEventRecorder interface {
	RecordKeyEvent(eventType string, err error)
}

// MessageReader is the subset of *kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

const (
	defaultRetryBackoff    = 500 * time.Millisecond
	defaultMaxRetryBackoff = 30 * time.Second
)

// KeyRotationConsumer listens for key rotation and compromise events and
// drops cached tokens and public keys that they invalidate. Offsets commit in
// order, so a failing event is retried in place until it succeeds; later
// events wait behind it.
type KeyRotationConsumer struct {
	reader     MessageReader
	handler    KeyEventHandler
	recorder   KeyEventRecorder
	logger     logger.Logger
	backoff    time.Duration
	maxBackoff time.Duration

	stopOnce sync.Once
	stopped  chan struct{}
}

// ConsumerOption customizes a KeyRotationConsumer.
type ConsumerOption func(*KeyRotationConsumer)

// WithRetryBackoff sets the first retry delay of a failed event and its cap.
func WithRetryBackoff(initial, max time.Duration) ConsumerOption {
	return func(c *KeyRotationConsumer) {
		c.backoff = initial
		c.maxBackoff = max
	}
}

// NewKeyRotationConsumer creates a consumer reading cfg.RotationTopic.
func NewKeyRotationConsumer(cfg config.KafkaConfig, handler KeyEventHandler, recorder KeyEventRecorder, log logger.Logger, opts ...ConsumerOption) (*KeyRotationConsumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.Configuration("kafka.brokers", "at least one broker is required")
	}
	if cfg.RotationTopic == "" {
		return nil, errors.Configuration("kafka.rotation_topic", "is required")
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.RotationTopic,
		GroupID:        cfg.GroupID,
		MinBytes:       1,
		MaxBytes:       1e6,
		CommitInterval: time.Second,
	})
	return NewKeyRotationConsumerWithReader(reader, handler, recorder, log, opts...), nil
}

// NewKeyRotationConsumerWithReader wraps an existing reader.
func NewKeyRotationConsumerWithReader(reader MessageReader, handler KeyEventHandler, recorder KeyEventRecorder, log logger.Logger, opts ...ConsumerOption) *KeyRotationConsumer {
	if log == nil {
		log = logger.NewNoopLogger()
	}
	c := &KeyRotationConsumer{
		reader:     reader,
		handler:    handler,
		recorder:   recorder,
		logger:     log.WithComponent("KeyRotationConsumer"),
		backoff:    defaultRetryBackoff,
		maxBackoff: defaultMaxRetryBackoff,
		stopped:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.backoff <= 0 {
		c.backoff = defaultRetryBackoff
	}
	if c.maxBackoff < c.backoff {
		c.maxBackoff = c.backoff
	}
	return c
}

// Start runs the consumer loop until ctx is done or the reader is closed.
// It blocks and should be run in a goroutine.
func (c *KeyRotationConsumer) Start(ctx context.Context) {
	c.logger.Info(ctx, "starting key rotation consumer")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || stderrors.Is(err, io.EOF) {
				c.logger.Info(ctx, "key rotation consumer stopped")
				return
			}
			c.logger.Error(ctx, "failed to fetch message from kafka", err)
			continue
		}

		if !c.process(ctx, msg) {
			c.logger.Info(ctx, "key rotation consumer stopped with an unhandled event",
				logger.Int64("offset", msg.Offset))
			return
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error(ctx, "failed to commit kafka message", err, logger.Int64("offset", msg.Offset))
		}
	}
}

// process handles msg until it succeeds or is rejected as malformed. It
// returns false when the consumer stops first; msg then stays uncommitted.
func (c *KeyRotationConsumer) process(ctx context.Context, msg kafka.Message) bool {
	backoff := c.backoff
	for attempt := 1; ; attempt++ {
		err := c.handleMessage(ctx, msg)
		if err == nil || errors.Is(err, errors.ErrInvalidRequest) {
			return true
		}
		c.logger.Warn(ctx, "retrying key event", logger.Merge(
			logger.Int64("offset", msg.Offset),
			logger.Int("attempt", attempt),
			logger.Duration(backoff)))

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-c.stopped:
			timer.Stop()
			return false
		case <-timer.C:
		}
		backoff *= 2
		if backoff > c.maxBackoff {
			backoff = c.maxBackoff
		}
	}
}

// Stop closes the reader, which ends Start, and abandons any retry in progress.
func (c *KeyRotationConsumer) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopped)
		if err := c.reader.Close(); err != nil {
			c.logger.Error(context.Background(), "failed to close kafka reader", err)
		}
	})
}

// handleMessage applies one message. Malformed events come back as
// InvalidRequestError and are committed as poison pills.
func (c *KeyRotationConsumer) handleMessage(ctx context.Context, msg kafka.Message) error {
	var event KeyEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		c.logger.Warn(ctx, "dropping unparsable key event", logger.Fields{"offset": msg.Offset, "error": err.Error()})
		c.record("unknown", err)
		return errors.InvalidRequest("message", "not a key event").WithCause(err)
	}

	var err error
	switch event.Type {
	case EventRotation, "":
		err = c.handler.HandleRotation(ctx, event.KeyRotationEvent)
	case EventCompromise:
		err = c.handler.CompromiseKey(ctx, event.KID, event.Reason)
	default:
		err = errors.InvalidRequest("type", "unknown key event type "+event.Type)
	}
	c.record(event.Type, err)
	if err != nil {
		c.logger.Error(ctx, "failed to handle key event", err, logger.Fields{"type": event.Type, "offset": msg.Offset})
	}
	return err
}

func (c *KeyRotationConsumer) record(eventType string, err error) {
	if c.recorder == nil {
		return
	}
	if eventType == "" {
		eventType = EventRotation
	}
	c.recorder.RecordKeyEvent(eventType, err)
}
