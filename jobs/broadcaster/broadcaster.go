// Package broadcaster drains the durable event outbox to Kafka.
// Delivery is at-least-once: an entry is marked SENT before the
// publish and ACKED only after the broker confirms, so a crash between
// the two re-publishes on the next pass. Consumers dedupe.
package broadcaster

import (
	"context"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"tickbook/persist"
)

type Broadcaster struct {
	symbol   string
	outbox   persist.EventOutbox
	producer sarama.SyncProducer
	topic    string
	interval time.Duration
	log      *zap.Logger
}

func New(
	symbol string,
	outbox persist.EventOutbox,
	brokers []string,
	topic string,
	interval time.Duration,
	log *zap.Logger,
) (*Broadcaster, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Broadcaster{
		symbol:   symbol,
		outbox:   outbox,
		producer: producer,
		topic:    topic,
		interval: interval,
		log:      log,
	}, nil
}

// Start runs the drain loop until the context is cancelled.
func (b *Broadcaster) Start(ctx context.Context) {
	b.log.Info("broadcaster started", zap.String("topic", b.topic))

	go func() {
		ticker := time.NewTicker(b.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				b.drainOnce()
			}
		}
	}()
}

func (b *Broadcaster) drainOnce() {
	err := b.outbox.ScanPending(b.symbol, func(seq uint64, payload []byte) error {
		if err := b.outbox.MarkSent(b.symbol, seq); err != nil {
			return err
		}

		msg := &sarama.ProducerMessage{
			Topic: b.topic,
			Key:   sarama.StringEncoder(b.symbol),
			Value: sarama.ByteEncoder(payload),
		}
		if _, _, err := b.producer.SendMessage(msg); err != nil {
			// Leave the entry SENT-but-unacked; retried next pass.
			b.log.Warn("event publish failed",
				zap.Uint64("seq", seq), zap.Error(err))
			return nil
		}

		return b.outbox.MarkAcked(b.symbol, seq)
	})
	if err != nil {
		b.log.Warn("outbox drain failed", zap.Error(err))
	}
}

func (b *Broadcaster) Close() error {
	return b.producer.Close()
}
