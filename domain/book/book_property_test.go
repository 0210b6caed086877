package book

import (
	"testing"

	"pgregory.net/rapid"
)

// Drives random operation sequences through the book and checks the
// structural invariants after every step: the book is never crossed,
// the id index matches the queued orders exactly, level sizes are the
// sum of remaining quantities, and no depleted order stays queued.
func TestProperty_BookInvariants(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		b := New(nil)
		var resting []uint64

		numOps := rapid.IntRange(1, 150).Draw(t, "numOps")
		for i := 0; i < numOps; i++ {
			side := Side(rapid.IntRange(0, 1).Draw(t, "side"))

			switch rapid.IntRange(0, 3).Draw(t, "op") {
			case 0, 1: // limit order (weighted: most traffic is limits)
				price := rapid.Int64Range(1, 40).Draw(t, "price")
				qty := uint64(rapid.Int64Range(1, 25).Draw(t, "qty"))
				id, events := b.Submit(Limit(side, price, qty))
				if terminalReason(t, events) == Rested {
					resting = append(resting, id)
				}
			case 2: // market order
				qty := uint64(rapid.Int64Range(1, 25).Draw(t, "qty"))
				_, events := b.Submit(Market(side, qty))
				terminalReason(t, events)
			case 3: // cancel, sometimes of a stale or unknown id
				if len(resting) == 0 {
					b.Cancel(uint64(rapid.Int64Range(1, 500).Draw(t, "id")))
					break
				}
				pick := rapid.IntRange(0, len(resting)-1).Draw(t, "pick")
				b.Cancel(resting[pick])
				resting = append(resting[:pick], resting[pick+1:]...)
			}

			checkInvariants(t, b)
		}
	})
}

func terminalReason(t *rapid.T, events []Event) DoneReason {
	if len(events) == 0 {
		t.Fatalf("submission produced no events")
	}
	done, ok := events[len(events)-1].(Done)
	if !ok {
		t.Fatalf("last event is not a Done: %#v", events[len(events)-1])
	}
	for _, ev := range events[:len(events)-1] {
		if _, isDone := ev.(Done); isDone {
			t.Fatalf("more than one Done event: %#v", events)
		}
	}
	return done.Reason
}

func checkInvariants(t *rapid.T, b *OrderBook) {
	bid, okBid := b.BestBid()
	ask, okAsk := b.BestAsk()
	if okBid && okAsk && bid.Price >= ask.Price {
		t.Fatalf("crossed book: best bid %d >= best ask %d", bid.Price, ask.Price)
	}

	queued := 0
	indexed := 0
	check := func(price int64, queue []*Resting) bool {
		if len(queue) == 0 {
			t.Fatalf("empty level %d left in the book", price)
		}
		var total uint64
		for _, r := range queue {
			if r.Remaining == 0 {
				t.Fatalf("depleted order %d still queued at %d", r.ID, price)
			}
			if r.Remaining > r.Quantity {
				t.Fatalf("order %d remaining %d exceeds quantity %d", r.ID, r.Remaining, r.Quantity)
			}
			if _, ok := b.index[r.ID]; !ok {
				t.Fatalf("queued order %d missing from index", r.ID)
			} else {
				indexed++
			}
			if r.Active {
				total += r.Remaining
			}
		}
		if total == 0 {
			t.Fatalf("level %d has zero aggregate size", price)
		}
		queued += len(queue)
		return true
	}
	b.WalkBids(check)
	b.WalkAsks(check)

	if queued != b.IndexLen() {
		t.Fatalf("index has %d entries, book has %d queued orders", b.IndexLen(), queued)
	}
	if indexed != queued {
		t.Fatalf("only %d of %d queued orders are indexed", indexed, queued)
	}
}
