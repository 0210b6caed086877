package snapshot

import (
	"fmt"

	"tickbook/domain/book"
)

// ErrVersionMismatch is returned by Apply when the snapshot was written
// under a different schema version. Recovery treats it as fatal.
var ErrVersionMismatch = fmt.Errorf("snapshot: schema version mismatch")

// FromBook serializes the live book. The watermark is left at zero;
// the checkpoint path stamps it with the pre-serialization WAL
// position before the durable write.
func FromBook(b *book.OrderBook) *Data {
	data := &Data{
		Version:     SchemaVersion,
		NextOrderID: b.NextID(),
	}
	b.WalkBids(func(price int64, queue []*book.Resting) bool {
		data.BidSide = append(data.BidSide, levelFrom(price, queue))
		return true
	})
	b.WalkAsks(func(price int64, queue []*book.Resting) bool {
		data.AskSide = append(data.AskSide, levelFrom(price, queue))
		return true
	})
	return data
}

// Apply rebuilds the book wholesale from a snapshot: both sides are
// cleared, every level queue is re-created in its recorded order, the
// id index is rebuilt and the allocator restored.
func Apply(b *book.OrderBook, data *Data) error {
	if data.Version != SchemaVersion {
		return fmt.Errorf("%w: have %d, want %d", ErrVersionMismatch, data.Version, SchemaVersion)
	}
	b.Reset()
	for _, lvl := range data.BidSide {
		b.RestoreLevel(book.Buy, lvl.Price, restingFrom(lvl.Orders))
	}
	for _, lvl := range data.AskSide {
		b.RestoreLevel(book.Sell, lvl.Price, restingFrom(lvl.Orders))
	}
	b.SetNextID(data.NextOrderID)
	return nil
}

func levelFrom(price int64, queue []*book.Resting) Level {
	lvl := Level{Price: price, Orders: make([]RestingEntry, 0, len(queue))}
	for _, r := range queue {
		lvl.Orders = append(lvl.Orders, RestingEntry{
			ID:        r.ID,
			Quantity:  r.Quantity,
			Ts:        r.Ts,
			Remaining: r.Remaining,
			Active:    r.Active,
		})
	}
	return lvl
}

func restingFrom(entries []RestingEntry) []book.Resting {
	orders := make([]book.Resting, 0, len(entries))
	for _, e := range entries {
		orders = append(orders, book.Resting{
			ID:        e.ID,
			Quantity:  e.Quantity,
			Ts:        e.Ts,
			Remaining: e.Remaining,
			Active:    e.Active,
		})
	}
	return orders
}
