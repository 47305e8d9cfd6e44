package ledger

import (
	"errors"
	"sync/atomic"
	"time"

	"certtrace/internal/logging"
)

// ErrBadCapacity is returned when a ledger is created with a
// non-positive capacity.
var ErrBadCapacity = errors.New("ledger capacity must be positive")

// Ledger is a fixed-capacity single-producer single-consumer ring of
// incident records. The producer never blocks: when the ring is full
// the oldest unconsumed record is evicted and counted as lost.
//
// Correctness across the trust boundary rests on publish-after-write:
// a slot is fully encoded (payload and CRC included) before head
// advances, so the consumer never trusts a half-written slot. The
// cursors are monotone counters, not ring indices; a slot's index is
// cursor mod capacity.
type Ledger struct {
	capacity uint64
	slots    []byte // capacity * RecordSize, indexed by (cursor % capacity) * RecordSize

	head atomic.Uint64 // next write position, producer-owned
	tail atomic.Uint64 // next read position, advanced by consumer and by eviction

	seq       atomic.Uint32 // last assigned record sequence, producer-owned
	processed atomic.Uint32 // highest sequence marked processed

	evicted   atomic.Uint64 // records lost to overflow
	corrupted atomic.Uint64 // records lost to integrity failure

	now func() time.Time
}

// New creates a ledger with the given slot capacity.
func New(capacity int) (*Ledger, error) {
	if capacity <= 0 {
		return nil, ErrBadCapacity
	}
	return &Ledger{
		capacity: uint64(capacity),
		slots:    make([]byte, capacity*RecordSize),
		now:      time.Now,
	}, nil
}

// Capacity returns the slot count.
func (l *Ledger) Capacity() int { return int(l.capacity) }

// Append writes one incident record and returns its sequence number.
// Payloads longer than MaxPayload are truncated. Append never fails
// and never blocks; on a full ring the oldest unconsumed record is
// evicted first and the loss counted.
func (l *Ledger) Append(typ RecordType, payload []byte) uint32 {
	seq := l.seq.Add(1)
	h := l.head.Load()

	// On a full ring, slot h mod capacity is the slot tail still
	// points at, and the consumer may be copying it as a published
	// record. Evict before encoding: once tail has moved past the
	// slot, the consumer's post-copy recheck retries instead of
	// decoding a frame the producer is overwriting. CAS because the
	// consumer advances tail concurrently; if the consumer won the
	// race there is nothing left to evict.
	for {
		t := l.tail.Load()
		if h-t < l.capacity {
			break
		}
		if l.tail.CompareAndSwap(t, t+1) {
			l.evicted.Add(1)
			logging.LedgerWarn("ledger full: evicted oldest record at position %d (lost so far: %d)", t, l.evicted.Load())
			break
		}
	}

	offset := (h % l.capacity) * RecordSize
	encodeRecord(l.slots[offset:offset+RecordSize], seq, uint32(l.now().Unix()), typ, payload)

	// Publish only after the slot is fully written.
	l.head.Store(h + 1)

	return seq
}

// Drain captures the records appended up to now and returns a lazy,
// finite, non-restartable sequence over them. A later Drain continues
// where this one left off.
func (l *Ledger) Drain() *Drain {
	return &Drain{ledger: l, limit: l.head.Load()}
}

// MarkProcessed records that the consumer finished handling the given
// sequence. Re-marking an already-processed sequence is a no-op.
func (l *Ledger) MarkProcessed(seq uint32) {
	for {
		cur := l.processed.Load()
		if seq <= cur {
			return
		}
		if l.processed.CompareAndSwap(cur, seq) {
			return
		}
	}
}

// Processed returns the highest sequence marked processed.
func (l *Ledger) Processed() uint32 { return l.processed.Load() }

// Stats is a point-in-time summary of ledger activity.
type Stats struct {
	Capacity  int
	Appended  uint64
	Pending   uint64 // records currently in the ring
	Evicted   uint64 // lost to overflow
	Corrupted uint64 // lost to integrity failure
	Lost      uint64 // Evicted + Corrupted
	Processed uint32
}

// Stats returns current counters. Loss is observable here per the
// bounded-ledger contract.
func (l *Ledger) Stats() Stats {
	h := l.head.Load()
	t := l.tail.Load()
	ev := l.evicted.Load()
	co := l.corrupted.Load()
	return Stats{
		Capacity:  int(l.capacity),
		Appended:  h,
		Pending:   h - t,
		Evicted:   ev,
		Corrupted: co,
		Lost:      ev + co,
		Processed: l.processed.Load(),
	}
}

// Drain iterates the unconsumed records present when it was created.
type Drain struct {
	ledger *Ledger
	limit  uint64
}

// Next returns the next record. ok is false when the drain is
// exhausted. A non-nil error is an *IntegrityError for a single
// skipped record; the drain remains usable and the loss is counted.
func (d *Drain) Next() (rec Record, ok bool, err error) {
	l := d.ledger
	for {
		pos := l.tail.Load()
		if pos >= d.limit {
			return Record{}, false, nil
		}

		offset := (pos % l.capacity) * RecordSize
		frame := make([]byte, RecordSize)
		copy(frame, l.slots[offset:offset+RecordSize])

		// If the producer evicted past this position while we copied,
		// the frame may belong to a newer record. Retry from the new
		// tail; the eviction was already counted by the producer.
		if l.tail.Load() != pos {
			continue
		}

		if !l.tail.CompareAndSwap(pos, pos+1) {
			continue
		}

		rec, decodeErr := decodeRecord(frame)
		if decodeErr != nil {
			l.corrupted.Add(1)
			return Record{}, true, decodeErr
		}
		return rec, true, nil
	}
}

// Collect drains every remaining record eagerly, returning the intact
// records and the integrity errors encountered. Intended for the host
// tool's batch path; tests use Next directly.
func (d *Drain) Collect() ([]Record, []error) {
	var recs []Record
	var errs []error
	for {
		rec, ok, err := d.Next()
		if !ok {
			return recs, errs
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		recs = append(recs, rec)
	}
}
