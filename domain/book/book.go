package book

import (
	"time"

	"github.com/google/btree"
	"go.uber.org/zap"
)

const treeDegree = 32

// restingRef locates a queued order for O(1) cancel lookup.
type restingRef struct {
	side  Side
	price int64
}

// OrderBook is the single-symbol matching engine: two price-ordered
// sides, an order-id index and the next-id allocator.
//
// It is NOT safe for concurrent use. All mutation and queries must go
// through one exclusion mechanism (see service.OrderService).
type OrderBook struct {
	bids   *btree.BTreeG[*priceLevel] // Min() is the highest bid
	asks   *btree.BTreeG[*priceLevel] // Min() is the lowest ask
	index  map[uint64]restingRef
	nextID uint64

	now func() int64
	log *zap.Logger
}

// New creates an empty order book. A nil logger disables logging.
func New(log *zap.Logger) *OrderBook {
	if log == nil {
		log = zap.NewNop()
	}
	return &OrderBook{
		bids: btree.NewG(treeDegree, func(a, b *priceLevel) bool {
			return a.price > b.price
		}),
		asks: btree.NewG(treeDegree, func(a, b *priceLevel) bool {
			return a.price < b.price
		}),
		index:  make(map[uint64]restingRef),
		nextID: 1,
		now:    func() int64 { return time.Now().UnixNano() },
		log:    log,
	}
}

// Submit runs an order request through the matching engine and returns
// the assigned order id plus the resulting events. Every submission
// yields exactly one terminal Done event; Fill events may precede it.
//
// A zero-quantity request is rejected before an id is allocated: the
// returned id is 0 and no state changes.
func (b *OrderBook) Submit(req OrderRequest) (uint64, []Event) {
	ts := b.now()
	if req.Quantity == 0 {
		return 0, []Event{Done{ID: 0, Reason: Rejected, Ts: ts}}
	}
	id := b.allocID()
	if req.Price == nil {
		return id, b.applyMarket(id, req.Side, req.Quantity, ts)
	}
	return id, b.applyLimit(id, req.Side, *req.Price, req.Quantity, ts)
}

// ApplyLimit routes a limit submission carrying a pre-assigned order
// id through the normal matching logic. This is the WAL replay entry
// point: replay must re-create the original id, never allocate one.
func (b *OrderBook) ApplyLimit(id uint64, side Side, price int64, qty uint64) []Event {
	b.syncNextID(id)
	return b.applyLimit(id, side, price, qty, b.now())
}

// ApplyMarket is the id-preserving market-order counterpart of ApplyLimit.
func (b *OrderBook) ApplyMarket(id uint64, side Side, qty uint64) []Event {
	b.syncNextID(id)
	return b.applyMarket(id, side, qty, b.now())
}

// Cancel removes a resting order by id. The second return value is
// false when the id is unknown or already resolved; cancelling twice
// is a no-op, not an error.
func (b *OrderBook) Cancel(id uint64) ([]Event, bool) {
	ref, ok := b.index[id]
	if !ok {
		return nil, false
	}
	tree := b.sideTree(ref.side)
	lvl, found := tree.Get(&priceLevel{price: ref.price})
	if !found || !lvl.removeByID(id) {
		// Broken invariant: the index points at a level or entry that
		// is gone. Drop the stale entry and fail this one operation.
		b.log.Warn("order index out of sync with book",
			zap.Uint64("order_id", id),
			zap.Stringer("side", ref.side),
			zap.Int64("price", ref.price))
		delete(b.index, id)
		return nil, false
	}
	delete(b.index, id)
	if len(lvl.queue) == 0 {
		tree.Delete(lvl)
	}
	return []Event{Done{ID: id, Reason: Cancelled, Ts: b.now()}}, true
}

// BestBid returns the highest bid level with nonzero aggregate size.
func (b *OrderBook) BestBid() (Quote, bool) {
	return bestOf(b.bids)
}

// BestAsk returns the lowest ask level with nonzero aggregate size.
func (b *OrderBook) BestAsk() (Quote, bool) {
	return bestOf(b.asks)
}

// Spread is best ask minus best bid, absent when either side is empty.
func (b *OrderBook) Spread() (int64, bool) {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	if !okB || !okA {
		return 0, false
	}
	return ask.Price - bid.Price, true
}

// NextID exposes the allocator position for snapshotting.
func (b *OrderBook) NextID() uint64 { return b.nextID }

// SetNextID restores the allocator. Only the snapshot codec and
// recovery path may call this.
func (b *OrderBook) SetNextID(id uint64) { b.nextID = id }

// Reset clears both sides and the id index, leaving the allocator
// untouched. Used when rebuilding the book from a snapshot.
func (b *OrderBook) Reset() {
	b.bids.Clear(false)
	b.asks.Clear(false)
	b.index = make(map[uint64]restingRef)
}

// WalkBids visits bid levels best-to-worst, passing each level's queue
// in time priority order. The callback returns false to stop. Callers
// must treat the queue as read-only.
func (b *OrderBook) WalkBids(fn func(price int64, queue []*Resting) bool) {
	walk(b.bids, fn)
}

// WalkAsks visits ask levels best-to-worst.
func (b *OrderBook) WalkAsks(fn func(price int64, queue []*Resting) bool) {
	walk(b.asks, fn)
}

// RestoreLevel rebuilds one price level from snapshot data, preserving
// queue order, and re-registers its orders in the id index.
func (b *OrderBook) RestoreLevel(side Side, price int64, orders []Resting) {
	if len(orders) == 0 {
		return
	}
	lvl := b.levelAt(side, price)
	for i := range orders {
		r := orders[i]
		lvl.enqueue(&r)
		b.index[r.ID] = restingRef{side: side, price: price}
	}
}

// RestingCount reports how many orders are queued across both sides.
func (b *OrderBook) RestingCount() int {
	count := 0
	visit := func(_ int64, queue []*Resting) bool {
		count += len(queue)
		return true
	}
	walk(b.bids, visit)
	walk(b.asks, visit)
	return count
}

// IndexLen reports the number of entries in the order-id index.
func (b *OrderBook) IndexLen() int { return len(b.index) }

func (b *OrderBook) allocID() uint64 {
	id := b.nextID
	b.nextID++
	return id
}

// syncNextID keeps the allocator strictly ahead of every replayed id
// so post-recovery allocations never collide.
func (b *OrderBook) syncNextID(id uint64) {
	if id >= b.nextID {
		b.nextID = id + 1
	}
}

// applyMarket matches against the best opposite level only, FIFO.
// Unfilled remainder is rejected, not rested; fills already emitted
// stay binding alongside the Rejected terminal status.
func (b *OrderBook) applyMarket(id uint64, side Side, qty uint64, ts int64) []Event {
	opp := b.sideTree(side.Opposite())
	best, ok := opp.Min()
	if !ok {
		return []Event{Done{ID: id, Reason: Rejected, Ts: ts}}
	}
	events, remaining := b.consumeLevel(best, id, qty, ts)
	if len(best.queue) == 0 {
		opp.Delete(best)
	}
	reason := Filled
	if remaining > 0 {
		reason = Rejected
	}
	return append(events, Done{ID: id, Reason: reason, Ts: ts})
}

// applyLimit walks the opposite side from the best price toward the
// limit, consuming FIFO at each crossing level, then rests any
// remainder at the limit price.
func (b *OrderBook) applyLimit(id uint64, side Side, price int64, qty uint64, ts int64) []Event {
	opp := b.sideTree(side.Opposite())
	var events []Event
	remaining := qty
	for remaining > 0 {
		best, ok := opp.Min()
		if !ok || !crosses(side, price, best.price) {
			break
		}
		evs, rem := b.consumeLevel(best, id, remaining, ts)
		events = append(events, evs...)
		remaining = rem
		if len(best.queue) == 0 {
			opp.Delete(best)
			continue
		}
		if remaining > 0 {
			// Only inactive placeholders left at this level.
			break
		}
	}
	if remaining > 0 {
		b.rest(id, side, price, qty, remaining, ts)
		return append(events, Done{ID: id, Reason: Rested, Ts: ts})
	}
	return append(events, Done{ID: id, Reason: Filled, Ts: ts})
}

// consumeLevel fills the taker against a level's queue in FIFO order.
// Fill price is the level's (maker's) price. Fully consumed makers are
// unlinked from the queue and the id index.
func (b *OrderBook) consumeLevel(lvl *priceLevel, takerID, qty uint64, ts int64) ([]Event, uint64) {
	var events []Event
	remaining := qty
	i := 0
	for i < len(lvl.queue) && remaining > 0 {
		maker := lvl.queue[i]
		if !maker.Active || maker.Remaining == 0 {
			i++
			continue
		}
		fill := min(remaining, maker.Remaining)
		maker.Remaining -= fill
		remaining -= fill
		events = append(events, Fill{
			TakerID:  takerID,
			MakerID:  maker.ID,
			Price:    lvl.price,
			Quantity: fill,
			Ts:       ts,
		})
		if maker.Remaining == 0 {
			delete(b.index, maker.ID)
			lvl.queue = append(lvl.queue[:i], lvl.queue[i+1:]...)
			continue
		}
		i++
	}
	return events, remaining
}

func (b *OrderBook) rest(id uint64, side Side, price int64, qty, remaining uint64, ts int64) {
	lvl := b.levelAt(side, price)
	lvl.enqueue(&Resting{
		ID:        id,
		Quantity:  qty,
		Remaining: remaining,
		Ts:        ts,
		Active:    true,
	})
	b.index[id] = restingRef{side: side, price: price}
}

func (b *OrderBook) levelAt(side Side, price int64) *priceLevel {
	tree := b.sideTree(side)
	if lvl, ok := tree.Get(&priceLevel{price: price}); ok {
		return lvl
	}
	lvl := &priceLevel{price: price}
	tree.ReplaceOrInsert(lvl)
	return lvl
}

func (b *OrderBook) sideTree(side Side) *btree.BTreeG[*priceLevel] {
	if side == Buy {
		return b.bids
	}
	return b.asks
}

// crosses reports whether a level price is within reach of the taker's
// limit: at or below it for a buy, at or above it for a sell.
func crosses(takerSide Side, limit, levelPrice int64) bool {
	if takerSide == Buy {
		return levelPrice <= limit
	}
	return levelPrice >= limit
}

func bestOf(tree *btree.BTreeG[*priceLevel]) (Quote, bool) {
	var q Quote
	found := false
	tree.Ascend(func(lvl *priceLevel) bool {
		if size := lvl.size(); size > 0 {
			q = Quote{Price: lvl.price, Size: size}
			found = true
			return false
		}
		return true
	})
	return q, found
}

func walk(tree *btree.BTreeG[*priceLevel], fn func(price int64, queue []*Resting) bool) {
	tree.Ascend(func(lvl *priceLevel) bool {
		return fn(lvl.price, lvl.queue)
	})
}
