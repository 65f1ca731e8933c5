// Package exit is the durable event outbox. Every event the core emits is
// written here before it is relayed to Kafka; records move NEW -> SENT ->
// ACKED and acknowledged records are deleted.
package exit

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"

	"spotex/domain/event"
)

// -------------------- State --------------------

type ExitState uint8

const (
	StateNew ExitState = iota
	StateSent
	StateAcked
	StateFailed
)

func (s ExitState) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateSent:
		return "SENT"
	case StateAcked:
		return "ACKED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// -------------------- Record --------------------

type ExitRecord struct {
	Seq         uint64
	State       ExitState
	Retries     uint32
	LastAttempt int64
	// Key is the partition key, the pair or user the event belongs to.
	Key     string
	Payload []byte
}

const headerLen = 1 + 4 + 8 + 2

// binary encoding: [state:1][retries:4][lastAttempt:8][keyLen:2][key][payload]
func encodeRecord(r ExitRecord) []byte {
	buf := make([]byte, headerLen+len(r.Key)+len(r.Payload))
	buf[0] = byte(r.State)
	binary.BigEndian.PutUint32(buf[1:5], r.Retries)
	binary.BigEndian.PutUint64(buf[5:13], uint64(r.LastAttempt))
	binary.BigEndian.PutUint16(buf[13:15], uint16(len(r.Key)))
	copy(buf[headerLen:], r.Key)
	copy(buf[headerLen+len(r.Key):], r.Payload)
	return buf
}

func decodeRecord(seq uint64, b []byte) (ExitRecord, error) {
	if len(b) < headerLen {
		return ExitRecord{}, errors.New("exit: record too short")
	}
	kl := int(binary.BigEndian.Uint16(b[13:15]))
	if len(b) < headerLen+kl {
		return ExitRecord{}, errors.New("exit: truncated record key")
	}
	payload := make([]byte, len(b)-headerLen-kl)
	copy(payload, b[headerLen+kl:])
	return ExitRecord{
		Seq:         seq,
		State:       ExitState(b[0]),
		Retries:     binary.BigEndian.Uint32(b[1:5]),
		LastAttempt: int64(binary.BigEndian.Uint64(b[5:13])),
		Key:         string(b[headerLen : headerLen+kl]),
		Payload:     payload,
	}, nil
}

// -------------------- WAL --------------------

type ExitWAL struct {
	db  *pebble.DB
	seq atomic.Uint64
}

func Open(dir string) (*ExitWAL, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("exit: open %s: %w", dir, err)
	}
	w := &ExitWAL{db: db}
	last, err := w.lastSeq()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	w.seq.Store(last)
	return w, nil
}

func (w *ExitWAL) Close() error {
	return w.db.Close()
}

// Push stores events as NEW records in one synced batch. Lossy kinds are skipped.
func (w *ExitWAL) Push(_ context.Context, events ...event.Event) error {
	b := w.db.NewBatch()
	defer b.Close()

	for _, e := range events {
		if e.Kind.Lossy() {
			continue
		}
		payload, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("exit: encode %s: %w", e.Kind, err)
		}
		rec := ExitRecord{State: StateNew, Key: partitionKey(e), Payload: payload}
		if err := b.Set(keyFor(w.seq.Add(1)), encodeRecord(rec), nil); err != nil {
			return err
		}
	}
	return b.Commit(pebble.Sync)
}

func partitionKey(e event.Event) string {
	if e.Pair != "" {
		return e.Pair
	}
	return "user-" + strconv.FormatUint(e.UserID, 10)
}

// UpdateState records a delivery attempt.
func (w *ExitWAL) UpdateState(rec ExitRecord, state ExitState) error {
	rec.State = state
	rec.LastAttempt = time.Now().UnixNano()
	if state == StateFailed {
		rec.Retries++
	}
	return w.db.Set(keyFor(rec.Seq), encodeRecord(rec), pebble.Sync)
}

// Delete removes an ACKED record.
func (w *ExitWAL) Delete(seq uint64) error {
	return w.db.Delete(keyFor(seq), pebble.Sync)
}

// Get returns the current record.
func (w *ExitWAL) Get(seq uint64) (ExitRecord, error) {
	val, closer, err := w.db.Get(keyFor(seq))
	if err != nil {
		return ExitRecord{}, err
	}
	defer closer.Close()
	return decodeRecord(seq, val)
}

// -------------------- Scan --------------------

// ScanPending visits records not yet acknowledged, oldest first, up to limit.
// SENT records are included: a crash between send and ack resends them.
func (w *ExitWAL) ScanPending(limit int, fn func(rec ExitRecord) error) error {
	iter, err := w.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte("event/"),
		UpperBound: []byte("event0"),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	n := 0
	for iter.First(); iter.Valid() && (limit <= 0 || n < limit); iter.Next() {
		seq, err := parseKey(iter.Key())
		if err != nil {
			return err
		}
		rec, err := decodeRecord(seq, iter.Value())
		if err != nil {
			return err
		}
		if rec.State == StateAcked {
			continue
		}
		n++
		if err := fn(rec); err != nil {
			return err
		}
	}
	return iter.Error()
}

// Count returns the number of records still stored.
func (w *ExitWAL) Count() (int, error) {
	n := 0
	err := w.ScanPending(0, func(ExitRecord) error { n++; return nil })
	return n, err
}

func (w *ExitWAL) lastSeq() (uint64, error) {
	iter, err := w.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte("event/"),
		UpperBound: []byte("event0"),
	})
	if err != nil {
		return 0, err
	}
	defer iter.Close()
	if !iter.Last() {
		return 0, iter.Error()
	}
	return parseKey(iter.Key())
}

// -------------------- Helpers --------------------

func keyFor(seq uint64) []byte {
	return []byte(fmt.Sprintf("event/%020d", seq))
}

func parseKey(b []byte) (uint64, error) {
	const prefix = "event/"
	if len(b) <= len(prefix) {
		return 0, fmt.Errorf("exit: bad key %q", b)
	}
	return strconv.ParseUint(string(b[len(prefix):]), 10, 64)
}
