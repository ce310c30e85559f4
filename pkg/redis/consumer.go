package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Stream fields written by the block producer.
const (
	FieldHeight = "height"
	FieldData   = "data"
)

// GroupStream is the subset of Client a StreamConsumer needs.
type GroupStream interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) error
	XReadGroup(ctx context.Context, group, consumer, stream, id string, count int64, block time.Duration) ([]redis.XStream, error)
	XAck(ctx context.Context, stream, group string, ids ...string) (int64, error)
}

// StreamConsumerConfig configures a StreamConsumer.
type StreamConsumerConfig struct {
	Stream   string
	Group    string
	Consumer string

	// Count is the max number of entries per read. Default: 100.
	Count int64

	// Block is how long a read waits for new entries. Default: 5 seconds.
	Block time.Duration

	// RetryInterval is the first wait after a failed read, doubled up to
	// MaxRetryInterval. Defaults: 1s and 30s.
	RetryInterval    time.Duration
	MaxRetryInterval time.Duration

	Logger *zap.Logger
}

// MessageHandler processes one entry. A nil return acknowledges it; an error
// leaves it pending in the group so it is redelivered on the next start.
type MessageHandler func(ctx context.Context, msg Message) error

// Message is a single stream entry.
type Message struct {
	ID     string
	Stream string
	Values map[string]any
}

// StreamConsumer reads a stream through a consumer group with at-least-once delivery.
type StreamConsumer struct {
	stream GroupStream
	config StreamConsumerConfig
	logger *zap.Logger
}

// NewStreamConsumer validates config and applies defaults.
func NewStreamConsumer(stream GroupStream, config StreamConsumerConfig) (*StreamConsumer, error) {
	if stream == nil {
		return nil, errors.New("redis client is required")
	}
	if config.Stream == "" {
		return nil, errors.New("stream name is required")
	}
	if config.Group == "" || config.Consumer == "" {
		return nil, errors.New("consumer group and consumer name are required")
	}

	if config.Count == 0 {
		config.Count = 100
	}
	if config.Block == 0 {
		config.Block = 5 * time.Second
	}
	if config.RetryInterval == 0 {
		config.RetryInterval = time.Second
	}
	if config.MaxRetryInterval == 0 {
		config.MaxRetryInterval = 30 * time.Second
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &StreamConsumer{
		stream: stream,
		config: config,
		logger: logger,
	}, nil
}

// Run creates the group if needed, then calls handler for each entry in
// stream order until ctx is cancelled. Entries delivered to this consumer but
// never acknowledged are replayed first.
func (sc *StreamConsumer) Run(ctx context.Context, handler MessageHandler) error {
	if err := sc.stream.XGroupCreateMkStream(ctx, sc.config.Stream, sc.config.Group, "0"); err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	sc.logger.Info("Consumer group ready",
		zap.String("stream", sc.config.Stream),
		zap.String("group", sc.config.Group),
		zap.String("consumer", sc.config.Consumer))

	// "0" walks this consumer's pending list; once it is empty switch to new entries.
	lastID := "0"
	retryInterval := sc.config.RetryInterval

	for {
		select {
		case <-ctx.Done():
			sc.logger.Info("Stream consumer shutting down",
				zap.String("stream", sc.config.Stream),
				zap.String("group", sc.config.Group))
			return ctx.Err()
		default:
		}

		messages, err := sc.read(ctx, lastID)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			if IsNil(err) {
				continue
			}

			sc.logger.Warn("Error reading from stream, will retry",
				zap.String("stream", sc.config.Stream),
				zap.Error(err),
				zap.Duration("retryIn", retryInterval))

			select {
			case <-time.After(retryInterval):
				retryInterval = min(retryInterval*2, sc.config.MaxRetryInterval)
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		retryInterval = sc.config.RetryInterval

		if lastID != ">" && len(messages) == 0 {
			lastID = ">"
			continue
		}

		for _, msg := range messages {
			if lastID != ">" {
				lastID = msg.ID
			}
			if err := sc.process(ctx, handler, msg); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				sc.logger.Error("Error processing message",
					zap.String("stream", sc.config.Stream),
					zap.String("id", msg.ID),
					zap.Error(err))
			}
		}
	}
}

func (sc *StreamConsumer) read(ctx context.Context, id string) ([]Message, error) {
	block := sc.config.Block
	if id != ">" {
		block = -1 // history reads return immediately
	}
	streams, err := sc.stream.XReadGroup(ctx, sc.config.Group, sc.config.Consumer, sc.config.Stream, id, sc.config.Count, block)
	if err != nil {
		return nil, err
	}

	var messages []Message
	for _, stream := range streams {
		for _, xmsg := range stream.Messages {
			messages = append(messages, Message{
				ID:     xmsg.ID,
				Stream: stream.Stream,
				Values: xmsg.Values,
			})
		}
	}
	return messages, nil
}

func (sc *StreamConsumer) process(ctx context.Context, handler MessageHandler, msg Message) error {
	if err := handler(ctx, msg); err != nil {
		return err
	}
	if _, err := sc.stream.XAck(ctx, sc.config.Stream, sc.config.Group, msg.ID); err != nil {
		sc.logger.Warn("Failed to acknowledge message",
			zap.String("stream", sc.config.Stream),
			zap.String("id", msg.ID),
			zap.Error(err))
	}
	return nil
}

// Data returns the "data" field, or nil when absent.
func (m Message) Data() []byte {
	switch v := m.Values[FieldData].(type) {
	case string:
		return []byte(v)
	case []byte:
		return v
	}
	return nil
}

// Height returns the "height" field, or false when absent or not a number.
func (m Message) Height() (uint64, bool) {
	switch v := m.Values[FieldHeight].(type) {
	case string:
		h, err := strconv.ParseUint(v, 10, 64)
		return h, err == nil
	case uint64:
		return v, true
	case int64:
		return uint64(v), v >= 0
	}
	return 0, false
}
