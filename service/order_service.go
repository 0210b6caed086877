// Package service coordinates the matching engine with persistence.
// OrderService is the ONLY write entry point into the system: every
// mutation and every query goes through its single writer lock.
package service

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"tickbook/domain/book"
	"tickbook/persist"
)

type OrderService struct {
	// One logical writer at a time: submit, cancel, queries and
	// checkpointing all serialize on this lock. The multi-step level
	// walk inside a match must never interleave with another mutation
	// or with snapshot serialization.
	mu sync.Mutex

	symbol   string
	book     *book.OrderBook
	wal      persist.WalStore
	outbox   persist.EventOutbox // optional
	recovery *RecoveryManager
	log      *zap.Logger
}

// NewOrderService wires all dependencies. No globals.
func NewOrderService(
	symbol string,
	b *book.OrderBook,
	wal persist.WalStore,
	outbox persist.EventOutbox,
	recovery *RecoveryManager,
	log *zap.Logger,
) *OrderService {
	if log == nil {
		log = zap.NewNop()
	}
	return &OrderService{
		symbol:   symbol,
		book:     b,
		wal:      wal,
		outbox:   outbox,
		recovery: recovery,
		log:      log,
	}
}

// Submit matches or rests an order request. The WAL record for an
// accepted mutation is appended before the result is returned, so an
// acknowledged operation is always recoverable. The returned events
// always end with exactly one Done.
func (s *OrderService) Submit(req book.OrderRequest) (uint64, []book.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, events := s.book.Submit(req)
	if id == 0 {
		// Validation rejection: no state changed, nothing to log.
		return 0, events, nil
	}

	var op persist.WalOp
	if req.Price == nil {
		op = persist.MarketSubmitted(id, req.Side, req.Quantity)
	} else {
		op = persist.LimitSubmitted(id, req.Side, *req.Price, req.Quantity)
	}
	if _, err := s.wal.AppendOp(s.symbol, op); err != nil {
		// The in-memory mutation stays applied; rolling back would
		// un-execute binding fills. The next checkpoint re-establishes
		// durability.
		s.log.Error("wal append failed, book is ahead of the log",
			zap.Uint64("order_id", id), zap.Error(err))
		return id, events, err
	}

	s.stage(events)
	return id, events, nil
}

// Cancel removes a resting order. The boolean is false when the id is
// unknown or already resolved; cancelling twice is a no-op.
func (s *OrderService) Cancel(orderID uint64) ([]book.Event, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	events, ok := s.book.Cancel(orderID)
	if !ok {
		return nil, false, nil
	}
	if _, err := s.wal.AppendOp(s.symbol, persist.Cancelled(orderID)); err != nil {
		s.log.Error("wal append failed, book is ahead of the log",
			zap.Uint64("order_id", orderID), zap.Error(err))
		return events, true, err
	}
	s.stage(events)
	return events, true, nil
}

// BestBid is a blocking read of the top bid level.
func (s *OrderService) BestBid() (book.Quote, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.book.BestBid()
}

// BestAsk is a blocking read of the top ask level.
func (s *OrderService) BestAsk() (book.Quote, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.book.BestAsk()
}

// Spread is best ask minus best bid, absent when either side is empty.
func (s *OrderService) Spread() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.book.Spread()
}

// Checkpoint serializes the book under the writer lock and persists it
// stamped with the pre-serialization WAL watermark. A failed
// checkpoint leaves the live book unchanged.
func (s *OrderService) Checkpoint() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	watermark, err := s.recovery.Checkpoint(s.book)
	if err != nil {
		s.log.Error("checkpoint failed", zap.Error(err))
		return err
	}
	s.log.Info("checkpoint persisted",
		zap.String("symbol", s.symbol),
		zap.Uint64("watermark", watermark))

	if s.outbox != nil {
		if err := s.outbox.DeleteAcked(s.symbol, ^uint64(0)); err != nil {
			s.log.Warn("outbox gc failed", zap.Error(err))
		}
	}
	return nil
}

// stage copies events into the durable outbox for the broadcaster.
// Outbox failures are logged, not surfaced: event delivery is
// at-least-once and decoupled from matching.
func (s *OrderService) stage(events []book.Event) {
	if s.outbox == nil {
		return
	}
	for _, ev := range events {
		payload, err := json.Marshal(wireEventFrom(s.symbol, ev))
		if err != nil {
			s.log.Error("event encode failed", zap.Error(err))
			continue
		}
		if _, err := s.outbox.EnqueueEvent(s.symbol, payload); err != nil {
			s.log.Error("outbox enqueue failed", zap.Error(err))
		}
	}
}

// WireEvent is the JSON envelope published for every execution event.
type WireEvent struct {
	Symbol   string `json:"symbol"`
	Type     string `json:"type"` // "fill" or "done"
	OrderID  uint64 `json:"order_id,omitempty"`
	Reason   string `json:"reason,omitempty"`
	TakerID  uint64 `json:"taker_id,omitempty"`
	MakerID  uint64 `json:"maker_id,omitempty"`
	Price    int64  `json:"price,omitempty"`
	Quantity uint64 `json:"quantity,omitempty"`
	Ts       int64  `json:"ts"`
}

func wireEventFrom(symbol string, ev book.Event) WireEvent {
	switch e := ev.(type) {
	case book.Fill:
		return WireEvent{
			Symbol:   symbol,
			Type:     "fill",
			TakerID:  e.TakerID,
			MakerID:  e.MakerID,
			Price:    e.Price,
			Quantity: e.Quantity,
			Ts:       e.Ts,
		}
	case book.Done:
		return WireEvent{
			Symbol:  symbol,
			Type:    "done",
			OrderID: e.ID,
			Reason:  e.Reason.String(),
			Ts:      e.Ts,
		}
	default:
		return WireEvent{Symbol: symbol, Type: "unknown"}
	}
}
