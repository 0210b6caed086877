// Package feed publishes periodic top-of-book updates to Kafka for
// downstream consumers (market-data router, market-making strategy).
// It is strictly read-only over the engine and goes through the same
// exclusion mechanism as every other caller, so each message is a
// consistent view that is at most one interval stale.
package feed

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"tickbook/domain/book"
	"tickbook/infra/kafka"
)

// TopOfBook is the read-only slice of the engine the feed consumes.
// service.OrderService satisfies it.
type TopOfBook interface {
	BestBid() (book.Quote, bool)
	BestAsk() (book.Quote, bool)
	Spread() (int64, bool)
}

// Update is the published JSON payload. Absent sides marshal as null.
type Update struct {
	Symbol  string  `json:"symbol"`
	Bid     *int64  `json:"bid"`
	BidSize *uint64 `json:"bid_size"`
	Ask     *int64  `json:"ask"`
	AskSize *uint64 `json:"ask_size"`
	Spread  *int64  `json:"spread"`
	Ts      int64   `json:"ts"`
}

type Publisher struct {
	symbol   string
	engine   TopOfBook
	producer *kafka.Producer
	interval time.Duration
	log      *zap.Logger
}

func NewPublisher(
	symbol string,
	engine TopOfBook,
	producer *kafka.Producer,
	interval time.Duration,
	log *zap.Logger,
) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{
		symbol:   symbol,
		engine:   engine,
		producer: producer,
		interval: interval,
		log:      log,
	}
}

// Start publishes on a fixed interval until the context is cancelled.
func (p *Publisher) Start(ctx context.Context) {
	p.log.Info("feed publisher started", zap.String("symbol", p.symbol))

	go func() {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.publishOnce(ctx)
			}
		}
	}()
}

func (p *Publisher) publishOnce(ctx context.Context) {
	update := Update{Symbol: p.symbol, Ts: time.Now().UnixNano()}
	if bid, ok := p.engine.BestBid(); ok {
		update.Bid = &bid.Price
		update.BidSize = &bid.Size
	}
	if ask, ok := p.engine.BestAsk(); ok {
		update.Ask = &ask.Price
		update.AskSize = &ask.Size
	}
	if spread, ok := p.engine.Spread(); ok {
		update.Spread = &spread
	}

	payload, err := json.Marshal(update)
	if err != nil {
		p.log.Error("feed encode failed", zap.Error(err))
		return
	}
	if err := p.producer.Send(ctx, []byte(p.symbol), payload); err != nil {
		// Lossy feed, the next tick supersedes this one.
		p.log.Warn("feed publish failed", zap.Error(err))
	}
}
