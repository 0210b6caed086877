package book

// Side of the book an order belongs to.
type Side uint8

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Sell {
		return "SELL"
	}
	return "BUY"
}

// Opposite returns the side an incoming order matches against.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderRequest is an order as submitted by a client or strategy.
// A nil Price means a market order.
type OrderRequest struct {
	Side     Side
	Price    *int64
	Quantity uint64
}

// Limit builds a limit order request.
func Limit(side Side, price int64, qty uint64) OrderRequest {
	return OrderRequest{Side: side, Price: &price, Quantity: qty}
}

// Market builds a market order request.
func Market(side Side, qty uint64) OrderRequest {
	return OrderRequest{Side: side, Quantity: qty}
}

// Resting is an order (or its unmatched remainder) queued at a price
// level. Its price is implicit: the level it lives in.
type Resting struct {
	ID        uint64
	Quantity  uint64
	Remaining uint64
	Ts        int64
	Active    bool
}

// DoneReason is the terminal status of a submitted order.
type DoneReason uint8

const (
	Filled DoneReason = iota
	Rested
	Cancelled
	Rejected
)

func (r DoneReason) String() string {
	switch r {
	case Filled:
		return "FILLED"
	case Rested:
		return "RESTED"
	case Cancelled:
		return "CANCELLED"
	case Rejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// Event is emitted by the matching engine. Exactly one Done event
// terminates every submitted order; Fill events may precede it.
type Event interface {
	event()
}

// Fill records one matched maker/taker pair. Price is always the
// maker's resting price.
type Fill struct {
	TakerID  uint64
	MakerID  uint64
	Price    int64
	Quantity uint64
	Ts       int64
}

// Done is the terminal event for a submitted or cancelled order.
type Done struct {
	ID     uint64
	Reason DoneReason
	Ts     int64
}

func (Fill) event() {}
func (Done) event() {}

// Quote is a top-of-book price level: best price and the aggregate
// remaining size of its active resting orders.
type Quote struct {
	Price int64
	Size  uint64
}
