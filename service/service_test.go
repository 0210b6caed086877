package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tickbook/domain/book"
	"tickbook/persist"
	"tickbook/persist/pebbledb"
	"tickbook/snapshot"
)

const testSymbol = "BTC-USD"

type harness struct {
	store  *pebbledb.Store
	book   *book.OrderBook
	rec    *RecoveryManager
	svc    *OrderService
	closed bool
}

func newHarness(t *testing.T, dir string) *harness {
	t.Helper()
	store, err := pebbledb.Open(dir)
	require.NoError(t, err)

	b := book.New(nil)
	rec := NewRecoveryManager(testSymbol, store, store, nil)
	svc := NewOrderService(testSymbol, b, store, store, rec, nil)
	h := &harness{store: store, book: b, rec: rec, svc: svc}
	t.Cleanup(func() {
		if !h.closed {
			h.store.Close()
		}
	})
	return h
}

// reopen simulates a crash: the store is closed without any final
// checkpoint and a fresh process restores from disk.
func (h *harness) reopen(t *testing.T, dir string) *harness {
	t.Helper()
	require.NoError(t, h.store.Close())
	h.closed = true
	fresh := newHarness(t, dir)
	require.NoError(t, fresh.rec.Restore(fresh.book))
	return fresh
}

// bookShape is the snapshot layout with timestamps cleared; replayed
// orders get fresh clock readings, and queue position, not the
// timestamp, is what recovery must preserve.
func bookShape(b *book.OrderBook) *snapshot.Data {
	data := snapshot.FromBook(b)
	for _, side := range [][]snapshot.Level{data.BidSide, data.AskSide} {
		for i := range side {
			for j := range side[i].Orders {
				side[i].Orders[j].Ts = 0
			}
		}
	}
	return data
}

func TestSubmitAppendsWalAndStagesEvents(t *testing.T) {
	h := newHarness(t, t.TempDir())

	id, events, err := h.svc.Submit(book.Limit(book.Buy, 100, 10))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)
	require.Len(t, events, 1)

	hw, err := h.store.HighWatermark(testSymbol)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), hw)

	// One outbox entry per event: the Done for the rested order.
	assert.Equal(t, 1, countPending(t, h.store))

	// A matching submission stages a fill and a done.
	_, events, err = h.svc.Submit(book.Limit(book.Sell, 100, 10))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, 3, countPending(t, h.store))
}

func TestZeroQuantityRejectionIsNotLogged(t *testing.T) {
	h := newHarness(t, t.TempDir())

	id, events, err := h.svc.Submit(book.Limit(book.Buy, 100, 0))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), id)
	require.Len(t, events, 1)
	done, ok := events[0].(book.Done)
	require.True(t, ok)
	assert.Equal(t, book.Rejected, done.Reason)

	hw, err := h.store.HighWatermark(testSymbol)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), hw, "a validation rejection must not reach the log")
	assert.Equal(t, 0, countPending(t, h.store))
}

func TestRejectedMarketOrderIsLogged(t *testing.T) {
	h := newHarness(t, t.TempDir())

	// No liquidity: the order is rejected but consumed an id, so replay
	// must see it to keep the allocator in step.
	id, _, err := h.svc.Submit(book.Market(book.Buy, 5))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)

	records, err := h.store.ReplayOps(testSymbol, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, persist.MarketSubmitted(1, book.Buy, 5), records[0].Op)
}

func TestCancelUnknownIsNotLogged(t *testing.T) {
	h := newHarness(t, t.TempDir())

	_, ok, err := h.svc.Cancel(99)
	require.NoError(t, err)
	assert.False(t, ok)

	hw, err := h.store.HighWatermark(testSymbol)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), hw)
}

func TestRestoreFromWalAlone(t *testing.T) {
	dir := t.TempDir()
	h := newHarness(t, dir)

	_, _, err := h.svc.Submit(book.Limit(book.Sell, 105, 30))
	require.NoError(t, err)
	_, _, err = h.svc.Submit(book.Limit(book.Buy, 95, 10))
	require.NoError(t, err)
	_, _, err = h.svc.Submit(book.Market(book.Buy, 12))
	require.NoError(t, err)
	cancelID, _, err := h.svc.Submit(book.Limit(book.Buy, 90, 5))
	require.NoError(t, err)
	_, ok, err := h.svc.Cancel(cancelID)
	require.NoError(t, err)
	require.True(t, ok)

	want := bookShape(h.book)
	fresh := h.reopen(t, dir)

	assert.Equal(t, want, bookShape(fresh.book))
	assert.Equal(t, h.book.NextID(), fresh.book.NextID())
}

func TestRestoreFromSnapshotPlusWalTail(t *testing.T) {
	dir := t.TempDir()
	h := newHarness(t, dir)

	_, _, err := h.svc.Submit(book.Limit(book.Sell, 105, 30))
	require.NoError(t, err)
	_, _, err = h.svc.Submit(book.Limit(book.Buy, 95, 10))
	require.NoError(t, err)
	require.NoError(t, h.svc.Checkpoint())

	// Operations past the checkpoint live only in the WAL tail.
	_, _, err = h.svc.Submit(book.Limit(book.Buy, 95, 7))
	require.NoError(t, err)
	_, _, err = h.svc.Submit(book.Market(book.Sell, 4))
	require.NoError(t, err)

	want := bookShape(h.book)
	wantNext := h.book.NextID()
	fresh := h.reopen(t, dir)

	assert.Equal(t, want, bookShape(fresh.book))
	assert.Equal(t, wantNext, fresh.book.NextID())

	// Post-recovery traffic keeps matching correctly.
	_, events, err := fresh.svc.Submit(book.Limit(book.Sell, 95, 100))
	require.NoError(t, err)
	fills := 0
	for _, ev := range events {
		if _, isFill := ev.(book.Fill); isFill {
			fills++
		}
	}
	assert.NotZero(t, fills)
}

func TestRecoveredAllocatorNeverReusesIDs(t *testing.T) {
	dir := t.TempDir()
	h := newHarness(t, dir)

	lastID := uint64(0)
	for i := 0; i < 5; i++ {
		id, _, err := h.svc.Submit(book.Limit(book.Buy, int64(10+i), 1))
		require.NoError(t, err)
		lastID = id
	}

	fresh := h.reopen(t, dir)
	id, _, err := fresh.svc.Submit(book.Limit(book.Sell, 200, 1))
	require.NoError(t, err)
	assert.Equal(t, lastID+1, id)
}

func TestCheckpointStampsPreSerializationWatermark(t *testing.T) {
	dir := t.TempDir()
	h := newHarness(t, dir)

	for i := 0; i < 3; i++ {
		_, _, err := h.svc.Submit(book.Limit(book.Buy, 50, 1))
		require.NoError(t, err)
	}
	require.NoError(t, h.svc.Checkpoint())

	data, err := h.store.LoadSnapshot(testSymbol)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), data.WalHighWatermark)
	assert.Equal(t, snapshot.SchemaVersion, data.Version)
	assert.Equal(t, h.book.NextID(), data.NextOrderID)
}

func TestRestoreFailsOnSchemaMismatch(t *testing.T) {
	dir := t.TempDir()
	h := newHarness(t, dir)

	_, _, err := h.svc.Submit(book.Limit(book.Buy, 50, 1))
	require.NoError(t, err)
	require.NoError(t, h.svc.Checkpoint())

	data, err := h.store.LoadSnapshot(testSymbol)
	require.NoError(t, err)
	data.Version = snapshot.SchemaVersion + 1
	require.NoError(t, h.store.SaveSnapshot(testSymbol, data))

	fresh := book.New(nil)
	err = h.rec.Restore(fresh)
	require.Error(t, err)
	assert.Equal(t, persist.KindSchemaMismatch, persist.KindOf(err))
}

func TestCheckpointCollectsAckedOutboxEntries(t *testing.T) {
	h := newHarness(t, t.TempDir())

	_, _, err := h.svc.Submit(book.Limit(book.Buy, 100, 10))
	require.NoError(t, err)
	require.Equal(t, 1, countPending(t, h.store))

	require.NoError(t, h.store.MarkAcked(testSymbol, 1))
	require.NoError(t, h.svc.Checkpoint())

	assert.Equal(t, 0, countPending(t, h.store))
}

func TestQueriesReflectBookState(t *testing.T) {
	h := newHarness(t, t.TempDir())

	_, ok := h.svc.BestBid()
	assert.False(t, ok)

	_, _, err := h.svc.Submit(book.Limit(book.Buy, 95, 10))
	require.NoError(t, err)
	_, _, err = h.svc.Submit(book.Limit(book.Sell, 105, 20))
	require.NoError(t, err)

	bid, ok := h.svc.BestBid()
	require.True(t, ok)
	assert.Equal(t, book.Quote{Price: 95, Size: 10}, bid)

	ask, ok := h.svc.BestAsk()
	require.True(t, ok)
	assert.Equal(t, book.Quote{Price: 105, Size: 20}, ask)

	spread, ok := h.svc.Spread()
	require.True(t, ok)
	assert.Equal(t, int64(10), spread)
}

func countPending(t *testing.T, store *pebbledb.Store) int {
	t.Helper()
	n := 0
	require.NoError(t, store.ScanPending(testSymbol, func(uint64, []byte) error {
		n++
		return nil
	}))
	return n
}
