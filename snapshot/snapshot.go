// Package snapshot holds the serializable book representation and the
// pure codec between it and the live order book. No I/O lives here;
// persistence adapters stamp the WAL watermark at durable-write time.
package snapshot

// SchemaVersion is bumped on any incompatible change to Data. A
// persisted snapshot with a different version is a hard recovery
// failure.
const SchemaVersion uint32 = 1

// Data is the persisted snapshot layout: both sides in price order,
// each level carrying its queue in time priority order, plus the id
// allocator position and the WAL watermark the state reflects.
type Data struct {
	Version          uint32  `json:"version"`
	BidSide          []Level `json:"bid_side"`
	AskSide          []Level `json:"ask_side"`
	NextOrderID      uint64  `json:"next_order_id"`
	WalHighWatermark uint64  `json:"wal_high_watermark"`
}

// Level is one price level. The order of the orders slice encodes time
// priority and must survive the round trip.
type Level struct {
	Price  int64          `json:"price"`
	Orders []RestingEntry `json:"orders"`
}

// RestingEntry mirrors book.Resting field for field.
type RestingEntry struct {
	ID        uint64 `json:"id"`
	Quantity  uint64 `json:"quantity"`
	Ts        int64  `json:"ts"`
	Remaining uint64 `json:"remaining"`
	Active    bool   `json:"active"`
}
