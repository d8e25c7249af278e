package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/andrej220/guestcheck/internal/checks"
	"github.com/andrej220/guestcheck/internal/lg"
	"github.com/segmentio/kafka-go"
)

type KafkaConfig struct {
	Brokers []string `yaml:"brokers" json:"brokers"`
	Topic   string   `yaml:"topic" json:"topic"`
}

type messageWriter interface {
	WriteMessages(context.Context, ...kafka.Message) error
	Close() error
}

// KafkaPublisher sends reports as JSON messages keyed by run id.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
}

func NewKafkaPublisher(cfg KafkaConfig) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Topic:                  cfg.Topic,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
		},
		topic: cfg.Topic,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, r checks.Report) error {
	value, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   r.RunID[:],
		Value: value,
		Time:  time.Now(),
	})
	if err != nil {
		if errors.Is(err, kafka.UnknownTopicOrPartition) {
			lg.FromContext(ctx).Error("kafka topic does not exist", lg.String("topic", p.topic))
		}
		return fmt.Errorf("publish report %s: %w", r.RunID, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
