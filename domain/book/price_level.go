package book

// priceLevel holds the FIFO queue of resting orders at one price.
// Queue position, not the Ts field, is authoritative for time priority.
type priceLevel struct {
	price int64
	queue []*Resting
}

func (l *priceLevel) enqueue(r *Resting) {
	l.queue = append(l.queue, r)
}

// size sums the remaining quantity over active entries.
func (l *priceLevel) size() uint64 {
	var total uint64
	for _, r := range l.queue {
		if r.Active {
			total += r.Remaining
		}
	}
	return total
}

// removeByID unlinks the entry with the given id, preserving the order
// of the rest of the queue. Queues are shallow, so a scan is fine.
func (l *priceLevel) removeByID(id uint64) bool {
	for i, r := range l.queue {
		if r.ID == id {
			l.queue = append(l.queue[:i], l.queue[i+1:]...)
			return true
		}
	}
	return false
}
