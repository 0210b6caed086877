// Package pebbledb is the bundled persistence adapter: one pebble
// database backing the snapshot store, the WAL store and the event
// outbox. The core only sees the persist interfaces.
package pebbledb

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"sync"

	"github.com/cockroachdb/pebble"

	"tickbook/persist"
	"tickbook/snapshot"
)

// Store implements persist.SnapshotStore, persist.WalStore and
// persist.EventOutbox on a single pebble DB.
type Store struct {
	db *pebble.DB

	// Serializes the read-increment-write of per-symbol counters.
	mu sync.Mutex
}

var _ persist.SnapshotStore = (*Store)(nil)
var _ persist.WalStore = (*Store)(nil)
var _ persist.EventOutbox = (*Store)(nil)

// Open creates or reopens the store at dir.
func Open(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{
		DisableWAL: false, // we WANT durability
	})
	if err != nil {
		return nil, persist.E(persist.KindIO, "open store", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return persist.E(persist.KindIO, "close store", err)
	}
	return nil
}

// ---------------- WalStore ----------------

// AppendOp frames the op payload with a CRC, assigns the next record
// id and commits both in one synced batch.
func (s *Store) AppendOp(symbol string, op persist.WalOp) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	last, err := s.counter(walMaxKey(symbol))
	if err != nil {
		return 0, err
	}
	id := last + 1

	payload, err := persist.EncodeOp(op)
	if err != nil {
		return 0, err
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(walKey(symbol, id), frame(payload), nil); err != nil {
		return 0, persist.E(persist.KindIO, "append op", err)
	}
	if err := batch.Set(walMaxKey(symbol), u64be(id), nil); err != nil {
		return 0, persist.E(persist.KindIO, "append op", err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return 0, persist.E(persist.KindIO, "append op", err)
	}
	return id, nil
}

// ReplayOps scans records with id > afterID in key order, which is
// ascending id order thanks to the zero-padded key layout.
func (s *Store) ReplayOps(symbol string, afterID uint64) ([]persist.WalRecord, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: walKey(symbol, afterID+1),
		UpperBound: []byte(walPrefix(symbol) + "~"),
	})
	if err != nil {
		return nil, persist.E(persist.KindIO, "replay ops", err)
	}
	defer iter.Close()

	var records []persist.WalRecord
	lastID := afterID
	for iter.First(); iter.Valid(); iter.Next() {
		id, err := parseWalKey(symbol, iter.Key())
		if err != nil {
			return nil, err
		}
		if id <= lastID {
			return nil, persist.E(persist.KindCorruptRecord, "replay ops",
				fmt.Errorf("non-monotonic record id %d", id))
		}
		lastID = id

		payload, err := unframe(iter.Value())
		if err != nil {
			return nil, err
		}
		op, err := persist.DecodeOp(payload)
		if err != nil {
			return nil, err
		}
		records = append(records, persist.WalRecord{ID: id, Op: op})
	}
	if err := iter.Error(); err != nil {
		return nil, persist.E(persist.KindIO, "replay ops", err)
	}
	return records, nil
}

func (s *Store) HighWatermark(symbol string) (uint64, error) {
	return s.counter(walMaxKey(symbol))
}

// ---------------- SnapshotStore ----------------

func (s *Store) SaveSnapshot(symbol string, data *snapshot.Data) error {
	value, err := json.Marshal(data)
	if err != nil {
		return persist.E(persist.KindSerialization, "save snapshot", err)
	}
	if err := s.db.Set(snapKey(symbol), value, pebble.Sync); err != nil {
		return persist.E(persist.KindIO, "save snapshot", err)
	}
	return nil
}

func (s *Store) LoadSnapshot(symbol string) (*snapshot.Data, error) {
	value, closer, err := s.db.Get(snapKey(symbol))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, persist.E(persist.KindNotFound, "load snapshot", err)
		}
		return nil, persist.E(persist.KindIO, "load snapshot", err)
	}
	defer closer.Close()

	var data snapshot.Data
	if err := json.Unmarshal(value, &data); err != nil {
		return nil, persist.E(persist.KindFormatMismatch, "load snapshot", err)
	}
	return &data, nil
}

// ---------------- helpers ----------------

// counter reads a big-endian uint64 key, 0 when absent.
func (s *Store) counter(key []byte) (uint64, error) {
	value, closer, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return 0, nil
		}
		return 0, persist.E(persist.KindIO, "read counter", err)
	}
	defer closer.Close()
	if len(value) != 8 {
		return 0, persist.E(persist.KindCorruptRecord, "read counter",
			fmt.Errorf("counter value length %d", len(value)))
	}
	return binary.BigEndian.Uint64(value), nil
}

// frame prefixes the payload with [len:4][crc:4], both big-endian.
func frame(payload []byte) []byte {
	buf := make([]byte, 8+len(payload))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(payload)))
	binary.BigEndian.PutUint32(buf[4:8], crc32.ChecksumIEEE(payload))
	copy(buf[8:], payload)
	return buf
}

func unframe(value []byte) ([]byte, error) {
	if len(value) < 8 {
		return nil, persist.E(persist.KindCorruptRecord, "read record",
			fmt.Errorf("record too short: %d bytes", len(value)))
	}
	size := binary.BigEndian.Uint32(value[:4])
	want := binary.BigEndian.Uint32(value[4:8])
	payload := value[8:]
	if uint32(len(payload)) != size {
		return nil, persist.E(persist.KindCorruptRecord, "read record",
			fmt.Errorf("record length %d, header says %d", len(payload), size))
	}
	if crc32.ChecksumIEEE(payload) != want {
		return nil, persist.E(persist.KindCorruptRecord, "read record",
			errors.New("crc mismatch"))
	}
	// Copy out: the backing slice is only valid while the iterator or
	// closer is open.
	return append([]byte(nil), payload...), nil
}

func snapKey(symbol string) []byte {
	return []byte("snap/" + symbol)
}

func walPrefix(symbol string) string {
	return "wal/" + symbol + "/"
}

func walKey(symbol string, id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", walPrefix(symbol), id))
}

func walMaxKey(symbol string) []byte {
	return []byte("walmax/" + symbol)
}

func parseWalKey(symbol string, key []byte) (uint64, error) {
	var id uint64
	suffix := string(key[len(walPrefix(symbol)):])
	if _, err := fmt.Sscanf(suffix, "%d", &id); err != nil {
		return 0, persist.E(persist.KindCorruptRecord, "parse wal key", err)
	}
	return id, nil
}

func u64be(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}
