// Package consumer reads JSON encoded messages of one type from a Kafka topic.
package consumer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
)

type Config struct {
	Brokers []string
	GroupID string
	Topic   string
}

type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// DecodeError reports a message whose payload could not be decoded. The
// message is committed so it is not redelivered.
type DecodeError struct {
	Offset int64
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode message at offset %d: %v", e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

type Consumer[T any] struct {
	reader reader
}

func NewConsumer[T any](cfg Config) *Consumer[T] {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Brokers,
		GroupID: cfg.GroupID,
		Topic:   cfg.Topic,
	})
	return &Consumer[T]{reader: r}
}

// Read blocks until the next message arrives, decodes it and commits it.
func (c *Consumer[T]) Read(ctx context.Context) (T, error) {
	var zero T

	msg, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return zero, err
	}

	var payload T
	decodeErr := json.Unmarshal(msg.Value, &payload)

	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		return zero, err
	}
	if decodeErr != nil {
		return zero, &DecodeError{Offset: msg.Offset, Err: decodeErr}
	}
	return payload, nil
}

func (c *Consumer[T]) Close() error {
	return c.reader.Close()
}
