// Package persist defines the storage contracts the core depends on:
// snapshot and WAL stores plus the execution-event outbox. The core
// never touches a concrete backend directly; see pebbledb for the
// bundled adapter.
package persist

import (
	"tickbook/domain/book"
	"tickbook/snapshot"
)

// OpKind tags a WAL operation variant.
type OpKind uint8

const (
	OpLimitOrderSubmitted OpKind = iota + 1
	OpMarketOrderSubmitted
	OpOrderCancelled
)

func (k OpKind) String() string {
	switch k {
	case OpLimitOrderSubmitted:
		return "limit_order_submitted"
	case OpMarketOrderSubmitted:
		return "market_order_submitted"
	case OpOrderCancelled:
		return "order_cancelled"
	default:
		return "unknown"
	}
}

// WalOp captures one state-mutating book operation with its original
// order id, so replay can reconstruct the exact pre-crash state.
// Side, Price and Quantity are meaningful per kind: limit carries all
// three, market omits Price, cancel carries only the order id.
type WalOp struct {
	Kind     OpKind    `json:"kind"`
	OrderID  uint64    `json:"order_id"`
	Side     book.Side `json:"side,omitempty"`
	Price    int64     `json:"price,omitempty"`
	Quantity uint64    `json:"quantity,omitempty"`
}

// LimitSubmitted builds the WAL op for an accepted limit submission.
func LimitSubmitted(orderID uint64, side book.Side, price int64, qty uint64) WalOp {
	return WalOp{Kind: OpLimitOrderSubmitted, OrderID: orderID, Side: side, Price: price, Quantity: qty}
}

// MarketSubmitted builds the WAL op for an accepted market submission.
func MarketSubmitted(orderID uint64, side book.Side, qty uint64) WalOp {
	return WalOp{Kind: OpMarketOrderSubmitted, OrderID: orderID, Side: side, Quantity: qty}
}

// Cancelled builds the WAL op for a successful cancel.
func Cancelled(orderID uint64) WalOp {
	return WalOp{Kind: OpOrderCancelled, OrderID: orderID}
}

// WalRecord is a WAL op together with its store-assigned record id.
type WalRecord struct {
	ID uint64
	Op WalOp
}

// WalStore persists the write-ahead log. Record ids are store-assigned,
// strictly increasing per symbol, starting at 1.
type WalStore interface {
	// AppendOp durably appends an op and returns its record id.
	AppendOp(symbol string, op WalOp) (uint64, error)
	// ReplayOps returns all records with id strictly greater than
	// afterID, in ascending id order.
	ReplayOps(symbol string, afterID uint64) ([]WalRecord, error)
	// HighWatermark returns the highest record id persisted for the
	// symbol, 0 when the log is empty.
	HighWatermark(symbol string) (uint64, error)
}

// SnapshotStore persists book snapshots. A successfully loaded
// snapshot is self-consistent: version, both sides, next_order_id and
// watermark all belong to one durable write.
type SnapshotStore interface {
	// LoadSnapshot returns the latest snapshot, or a KindNotFound
	// error when none has been written.
	LoadSnapshot(symbol string) (*snapshot.Data, error)
	SaveSnapshot(symbol string, data *snapshot.Data) error
}

// EventOutbox is the durable staging area between the matching engine
// and the Kafka broadcaster. Entries move NEW -> SENT -> ACKED and are
// garbage collected once acked.
type EventOutbox interface {
	// EnqueueEvent stages a payload and returns its outbox sequence.
	EnqueueEvent(symbol string, payload []byte) (uint64, error)
	// ScanPending visits unacked entries in sequence order.
	ScanPending(symbol string, fn func(seq uint64, payload []byte) error) error
	MarkSent(symbol string, seq uint64) error
	MarkAcked(symbol string, seq uint64) error
	// DeleteAcked drops acked entries with sequence at or below upTo.
	DeleteAcked(symbol string, upTo uint64) error
}
