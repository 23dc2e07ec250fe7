// Package exit is the trade outbox: every executed trade is recorded here before
// it is published, and stays until the broker has acknowledged it.
package exit

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
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

// pending reports whether a record still has to be published. SENT counts:
// a crash between send and ack means the broker may never have seen it.
func (s ExitState) pending() bool {
	return s == StateNew || s == StateSent || s == StateFailed
}

// -------------------- Record --------------------

type ExitRecord struct {
	Seq         uint64
	State       ExitState
	Retries     uint32
	LastAttempt int64
	Payload     []byte
}

const recordHeader = 1 + 4 + 8

// binary encoding: [state:1][retries:4][lastAttempt:8][payload]
func encodeRecord(r *ExitRecord) []byte {
	buf := make([]byte, recordHeader+len(r.Payload))
	buf[0] = byte(r.State)
	binary.BigEndian.PutUint32(buf[1:5], r.Retries)
	binary.BigEndian.PutUint64(buf[5:13], uint64(r.LastAttempt))
	copy(buf[recordHeader:], r.Payload)
	return buf
}

// decodeRecord copies out of b, which pebble may reuse.
func decodeRecord(seq uint64, b []byte) (*ExitRecord, error) {
	if len(b) < recordHeader {
		return nil, errors.Newf("exit record %d: %d bytes", seq, len(b))
	}
	payload := make([]byte, len(b)-recordHeader)
	copy(payload, b[recordHeader:])
	return &ExitRecord{
		Seq:         seq,
		State:       ExitState(b[0]),
		Retries:     binary.BigEndian.Uint32(b[1:5]),
		LastAttempt: int64(binary.BigEndian.Uint64(b[5:13])),
		Payload:     payload,
	}, nil
}

// -------------------- WAL --------------------

type ExitWAL struct {
	db *pebble.DB
}

func Open(dir string) (*ExitWAL, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "open outbox %s", dir)
	}
	return &ExitWAL{db: db}, nil
}

func (w *ExitWAL) Close() error {
	return w.db.Close()
}

// -------------------- API --------------------

// PutNew records a trade as NEW. A trade already present keeps its state, and a
// trade at or below the pruned watermark was acknowledged before, so
// re-executing trades during journal replay never publishes them twice. It
// reports whether the record was added.
func (w *ExitWAL) PutNew(seq uint64, payload []byte) (bool, error) {
	hwm, err := w.PrunedThrough()
	if err != nil {
		return false, err
	}
	if seq <= hwm {
		return false, nil
	}

	key := keyFor(seq)
	_, closer, err := w.db.Get(key)
	switch {
	case err == nil:
		_ = closer.Close()
		return false, nil
	case !errors.Is(err, pebble.ErrNotFound):
		return false, errors.Wrapf(err, "lookup trade %d", seq)
	}

	rec := &ExitRecord{Seq: seq, State: StateNew, Payload: payload}
	if err := w.db.Set(key, encodeRecord(rec), pebble.Sync); err != nil {
		return false, errors.Wrapf(err, "put trade %d", seq)
	}
	return true, nil
}

func (w *ExitWAL) MarkSent(seq uint64) error {
	return w.update(seq, func(r *ExitRecord) { r.State = StateSent })
}

func (w *ExitWAL) MarkAcked(seq uint64) error {
	return w.update(seq, func(r *ExitRecord) { r.State = StateAcked })
}

// MarkFailed records a failed publish attempt. The record stays pending.
func (w *ExitWAL) MarkFailed(seq uint64) error {
	return w.update(seq, func(r *ExitRecord) {
		r.State = StateFailed
		r.Retries++
	})
}

func (w *ExitWAL) update(seq uint64, fn func(*ExitRecord)) error {
	rec, err := w.Get(seq)
	if err != nil {
		return err
	}
	fn(rec)
	rec.LastAttempt = time.Now().UnixNano()
	return w.db.Set(keyFor(seq), encodeRecord(rec), pebble.Sync)
}

// Get returns the current record for a trade.
func (w *ExitWAL) Get(seq uint64) (*ExitRecord, error) {
	val, closer, err := w.db.Get(keyFor(seq))
	if err != nil {
		return nil, errors.Wrapf(err, "get trade %d", seq)
	}
	defer closer.Close()

	return decodeRecord(seq, val)
}

// -------------------- Scan --------------------

// ScanPending calls fn for every record not yet acknowledged, oldest first.
// The broadcaster drives publishing from it.
func (w *ExitWAL) ScanPending(fn func(*ExitRecord) error) error {
	var pending []*ExitRecord
	if err := w.scan(func(rec *ExitRecord) error {
		if rec.State.pending() {
			pending = append(pending, rec)
		}
		return nil
	}); err != nil {
		return err
	}

	for _, rec := range pending {
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

// Counts returns how many records are in each state.
func (w *ExitWAL) Counts() (map[ExitState]int, error) {
	out := make(map[ExitState]int, 4)
	err := w.scan(func(rec *ExitRecord) error {
		out[rec.State]++
		return nil
	})
	return out, err
}

// PruneAcked deletes acknowledged records and returns how many went. The
// highest pruned seq is kept as a watermark in the same batch, so PutNew can
// still recognise those trades.
func (w *ExitWAL) PruneAcked() (int, error) {
	hwm, err := w.PrunedThrough()
	if err != nil {
		return 0, err
	}

	b := w.db.NewBatch()
	defer b.Close()

	n := 0
	err = w.scan(func(rec *ExitRecord) error {
		if rec.State != StateAcked {
			return nil
		}
		n++
		hwm = max(hwm, rec.Seq)
		return b.Delete(keyFor(rec.Seq), nil)
	})
	if err != nil || n == 0 {
		return 0, err
	}

	var v [8]byte
	binary.BigEndian.PutUint64(v[:], hwm)
	if err := b.Set([]byte(prunedKey), v[:], nil); err != nil {
		return 0, err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return 0, errors.Wrap(err, "prune acked trades")
	}
	return n, nil
}

// PrunedThrough returns the highest trade seq ever pruned, or 0.
func (w *ExitWAL) PrunedThrough() (uint64, error) {
	val, closer, err := w.db.Get([]byte(prunedKey))
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "read prune watermark")
	}
	defer closer.Close()
	if len(val) != 8 {
		return 0, errors.Newf("prune watermark: %d bytes", len(val))
	}
	return binary.BigEndian.Uint64(val), nil
}

func (w *ExitWAL) scan(fn func(*ExitRecord) error) error {
	iter, err := w.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: []byte(keyPrefix + "~"),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		seq, err := parseKey(iter.Key())
		if err != nil {
			return err
		}
		rec, err := decodeRecord(seq, iter.Value())
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return iter.Error()
}

// -------------------- Helpers --------------------

const (
	keyPrefix = "trade/"
	prunedKey = "meta/pruned_hwm"
)

func keyFor(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", keyPrefix, seq))
}

func parseKey(b []byte) (uint64, error) {
	s := string(b)
	if len(s) <= len(keyPrefix) || s[:len(keyPrefix)] != keyPrefix {
		return 0, errors.Newf("bad outbox key %q", s)
	}
	return strconv.ParseUint(s[len(keyPrefix):], 10, 64)
}
