// Package kafka wraps the kafka-go writer used for the market-data
// feed. Execution events go out through the sarama broadcaster
// instead; this producer is for the lossy, latest-wins feed stream.
package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

type ProducerConfig struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
}

type Producer struct {
	writer *kafka.Writer
}

func NewProducer(cfg ProducerConfig) *Producer {
	batchTimeout := cfg.BatchTimeout
	if batchTimeout == 0 {
		batchTimeout = 10 * time.Millisecond
	}
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
			Async:        false,
			BatchTimeout: batchTimeout,
			Compression:  kafka.Snappy,
		},
	}
}

// Send publishes one keyed message. Messages with the same key land on
// the same partition, keeping per-symbol ordering.
func (p *Producer) Send(ctx context.Context, key, value []byte) error {
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   key,
		Value: value,
	})
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
