package pebbledb

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"tickbook/persist"
)

// Outbox entry states. Entries move NEW -> SENT -> ACKED; only acked
// entries are eligible for garbage collection.
type outboxState uint8

const (
	stateNew outboxState = iota
	stateSent
	stateAcked
)

// Entry value layout: [state:1][payload].

// EnqueueEvent stages an event payload under the next outbox sequence.
func (s *Store) EnqueueEvent(symbol string, payload []byte) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	last, err := s.counter(outboxMaxKey(symbol))
	if err != nil {
		return 0, err
	}
	seq := last + 1

	value := make([]byte, 1+len(payload))
	value[0] = byte(stateNew)
	copy(value[1:], payload)

	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(outboxKey(symbol, seq), value, nil); err != nil {
		return 0, persist.E(persist.KindIO, "enqueue event", err)
	}
	if err := batch.Set(outboxMaxKey(symbol), u64be(seq), nil); err != nil {
		return 0, persist.E(persist.KindIO, "enqueue event", err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return 0, persist.E(persist.KindIO, "enqueue event", err)
	}
	return seq, nil
}

// ScanPending visits unacked entries in sequence order.
func (s *Store) ScanPending(symbol string, fn func(seq uint64, payload []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(outboxPrefix(symbol)),
		UpperBound: []byte(outboxPrefix(symbol) + "~"),
	})
	if err != nil {
		return persist.E(persist.KindIO, "scan outbox", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		value := iter.Value()
		if len(value) < 1 {
			return persist.E(persist.KindCorruptRecord, "scan outbox",
				errors.New("empty outbox entry"))
		}
		if outboxState(value[0]) == stateAcked {
			continue
		}
		seq, err := parseOutboxKey(symbol, iter.Key())
		if err != nil {
			return err
		}
		payload := append([]byte(nil), value[1:]...)
		if err := fn(seq, payload); err != nil {
			return err
		}
	}
	if err := iter.Error(); err != nil {
		return persist.E(persist.KindIO, "scan outbox", err)
	}
	return nil
}

func (s *Store) MarkSent(symbol string, seq uint64) error {
	return s.setState(symbol, seq, stateSent)
}

func (s *Store) MarkAcked(symbol string, seq uint64) error {
	return s.setState(symbol, seq, stateAcked)
}

// DeleteAcked drops acked entries with sequence at or below upTo.
// Called from the checkpoint path once a snapshot has been persisted.
func (s *Store) DeleteAcked(symbol string, upTo uint64) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(outboxPrefix(symbol)),
		UpperBound: []byte(outboxPrefix(symbol) + "~"),
	})
	if err != nil {
		return persist.E(persist.KindIO, "gc outbox", err)
	}
	defer iter.Close()

	batch := s.db.NewBatch()
	defer batch.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		value := iter.Value()
		if len(value) < 1 || outboxState(value[0]) != stateAcked {
			continue
		}
		seq, err := parseOutboxKey(symbol, iter.Key())
		if err != nil {
			return err
		}
		if seq > upTo {
			break
		}
		if err := batch.Delete(append([]byte(nil), iter.Key()...), nil); err != nil {
			return persist.E(persist.KindIO, "gc outbox", err)
		}
	}
	if err := iter.Error(); err != nil {
		return persist.E(persist.KindIO, "gc outbox", err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return persist.E(persist.KindIO, "gc outbox", err)
	}
	return nil
}

func (s *Store) setState(symbol string, seq uint64, state outboxState) error {
	key := outboxKey(symbol, seq)
	value, closer, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return persist.E(persist.KindNotFound, "update outbox state", err)
		}
		return persist.E(persist.KindIO, "update outbox state", err)
	}
	updated := append([]byte(nil), value...)
	closer.Close()
	if len(updated) < 1 {
		return persist.E(persist.KindCorruptRecord, "update outbox state",
			errors.New("empty outbox entry"))
	}
	updated[0] = byte(state)
	if err := s.db.Set(key, updated, pebble.Sync); err != nil {
		return persist.E(persist.KindIO, "update outbox state", err)
	}
	return nil
}

func outboxPrefix(symbol string) string {
	return "outbox/" + symbol + "/"
}

func outboxKey(symbol string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", outboxPrefix(symbol), seq))
}

func outboxMaxKey(symbol string) []byte {
	return []byte("outboxmax/" + symbol)
}

func parseOutboxKey(symbol string, key []byte) (uint64, error) {
	var seq uint64
	suffix := string(key[len(outboxPrefix(symbol)):])
	if _, err := fmt.Sscanf(suffix, "%d", &seq); err != nil {
		return 0, persist.E(persist.KindCorruptRecord, "parse outbox key", err)
	}
	return seq, nil
}
