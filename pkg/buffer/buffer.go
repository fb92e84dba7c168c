// Package buffer implements the ordered, sparse packet store and the
// jitter buffer built on top of it: RTP packets identified by 16-bit wire
// sequence numbers are promoted to a monotonic 32-bit extended index,
// held until either the buffer fills in order or a latency bound expires,
// and released as an ordered event stream alongside RFC 3550 receiver
// statistics.
package buffer

import (
	"time"

	"github.com/gammazero/deque"
	"github.com/go-logr/logr"
	"github.com/pion/rtp"

	"github.com/jfdmsc/membrane-rtp-plugin/pkg/seq"
)

// Logger is used for warnings the store itself can recover from (late
// packets). Left disabled unless a caller wires one in.
var Logger logr.Logger = logr.Discard()

// Record is a single packet held by a Store, keyed by its promoted
// extended index.
type Record struct {
	Index      uint32
	WireSeq    uint16
	InsertedAt time.Time
	Packet     *rtp.Packet
	ArrivalTS  time.Time
}

// EventKind distinguishes a released packet from a synthetic
// discontinuity marker standing in for a skipped index.
type EventKind int

const (
	EventBuffer EventKind = iota
	EventDiscontinuity
)

// Event is one entry of a Store release; either a Record (EventBuffer) or
// a bare Index (EventDiscontinuity).
type Event struct {
	Kind   EventKind
	Index  uint32
	Record Record
}

// Store is BufferStore: an ordered, sparse collection of Records keyed by
// extended index, with rollover-aware insertion and two draining
// strategies (contiguous-prefix and dwell-time-bounded).
//
// A Store is not safe for concurrent use; callers confine it to a single
// goroutine (see pkg/receiver).
type Store struct {
	hasAny   bool
	endIndex uint32

	hasBase   bool
	baseIndex int64 // signed to represent the pre-first-drain "-1" sentinel; see SPEC_FULL.md §4.1
	baseFirst uint32

	received    uint64
	totalBytes  uint64

	records map[uint32]Record
	pending deque.Deque[interface{}] // ascending uint32 indices with a stored record
}

// NewStore constructs an empty BufferStore.
func NewStore() *Store {
	s := &Store{
		records: make(map[uint32]Record),
	}
	s.pending.SetMinCapacity(6)
	return s
}

// Received returns the count of packets successfully inserted so far.
func (s *Store) Received() uint64 { return s.received }

// TotalBytes returns the sum of RTP payload lengths successfully
// inserted so far, for byte-rate metrics.
func (s *Store) TotalBytes() uint64 { return s.totalBytes }

// EndIndex returns the highest extended index ever inserted.
func (s *Store) EndIndex() uint32 { return s.endIndex }

// BaseFirst returns the extended index of the very first packet this
// store ever observed. Used by the jitter buffer's "expected" count.
func (s *Store) BaseFirst() uint32 { return s.baseFirst }

// HasAny reports whether the store has ever accepted a packet.
func (s *Store) HasAny() bool { return s.hasAny }

// Promote classifies a wire sequence number without mutating the store,
// exposed so PacketInfoStore-adjacent callers (and tests) can reuse the
// exact classification the store itself uses on Insert.
func (s *Store) Promote(wireSeq uint16) (uint32, seq.Cycle) {
	return seq.Classify(s.endIndex, s.hasAny, wireSeq)
}

// Insert classifies pkt's sequence number, rejecting it with
// ErrLatePacket if its promoted index falls at or below the committed
// low-water mark or is already held by the store. now is the local
// monotonic insertion time recorded as
// Record.InsertedAt.
func (s *Store) Insert(pkt *rtp.Packet, arrivalTS time.Time, now time.Time) (uint32, error) {
	idx, cycle := seq.Classify(s.endIndex, s.hasAny, pkt.SequenceNumber)

	if cycle == seq.Previous {
		s.shiftAll(1 << 16)
		// idx is, by construction of the previous-cycle case, now the
		// lowest index the store has ever seen — lower than the just-
		// shifted baseFirst. Re-anchor rather than let shiftAll's uniform
		// bump leave baseFirst above the packet that defines it, which
		// would undercount "expected" in GetAndUpdateStats.
		s.baseFirst = idx
		if s.hasBase {
			// A real release point exists; it names an already-released
			// packet that must be renumbered along with everything else.
			s.baseIndex += 1 << 16
		} else {
			// No drain has ever committed baseIndex; it is still the
			// bootstrap sentinel "one below the earliest packet seen so
			// far". The arriving packet is, by construction of the
			// previous-cycle case, now the earliest, so re-anchor to it
			// rather than sliding the old sentinel forward.
			s.baseIndex = int64(idx) - 1
		}
	}

	if s.hasBase && int64(idx) <= s.baseIndex {
		return idx, ErrLatePacket
	}
	if _, dup := s.records[idx]; dup {
		return idx, ErrLatePacket
	}

	s.records[idx] = Record{
		Index:      idx,
		WireSeq:    pkt.SequenceNumber,
		InsertedAt: now,
		Packet:     pkt,
		ArrivalTS:  arrivalTS,
	}
	s.insertPending(idx)

	if !s.hasAny {
		s.hasAny = true
		s.baseFirst = idx
		// Seed the "next expected" anchor one below the first-ever
		// packet. hasBase stays false until the first real drain: this
		// value only governs nextExpected(), not the late-rejection check
		// above, until a drain commits it.
		s.baseIndex = int64(idx) - 1
	}
	s.endIndex = maxU32(s.endIndex, idx)
	s.received++
	s.totalBytes += uint64(len(pkt.Payload))

	return idx, nil
}

// ShiftOrdered pops the contiguous prefix immediately following the
// current base index, stopping at the first gap. It never fabricates
// discontinuity markers.
func (s *Store) ShiftOrdered() []Event {
	var out []Event
	for {
		next := s.nextExpected()
		rec, ok := s.records[next]
		if !ok {
			break
		}
		delete(s.records, next)
		s.removePending(next)
		s.advanceBase(next)
		out = append(out, Event{Kind: EventBuffer, Index: next, Record: rec})
	}
	return out
}

// ShiftOlderThan drains every record (and the gaps between them) up to
// and including the lowest-index record whose InsertedAt is older than
// now-latency, repeating as long as the new lowest record is still too
// old. Gaps are emitted as EventDiscontinuity and do not count toward
// Received.
func (s *Store) ShiftOlderThan(latency time.Duration, now time.Time) []Event {
	var out []Event
	for {
		lowest, ts, ok := s.lowestRecord()
		if !ok || !ts.Before(now.Add(-latency)) {
			break
		}
		out = append(out, s.drainThrough(lowest)...)
	}
	return out
}

// FirstRecordTimestamp returns the InsertedAt of the lowest-index record
// currently held, or the zero Value and false if the store is empty.
func (s *Store) FirstRecordTimestamp() (time.Time, bool) {
	_, ts, ok := s.lowestRecord()
	return ts, ok
}

// Empty reports whether the store currently holds no records.
func (s *Store) Empty() bool { return s.pending.Len() == 0 }

// Dump drains every remaining record, interleaved with discontinuity
// markers for any gaps, leaving the store empty. Used at end-of-stream.
func (s *Store) Dump() []Event {
	if s.pending.Len() == 0 {
		return nil
	}
	highest := s.pending.At(s.pending.Len() - 1).(uint32)
	return s.drainThrough(highest)
}

// drainThrough emits every index in (baseIndex, target], deleting stored
// records and marking absent ones as discontinuities, then advances the
// base index to target.
func (s *Store) drainThrough(target uint32) []Event {
	var out []Event
	for idx := s.nextExpected(); ; idx++ {
		if rec, ok := s.records[idx]; ok {
			delete(s.records, idx)
			s.removePending(idx)
			out = append(out, Event{Kind: EventBuffer, Index: idx, Record: rec})
		} else {
			out = append(out, Event{Kind: EventDiscontinuity, Index: idx})
		}
		s.advanceBase(idx)
		if idx == target {
			break
		}
	}
	return out
}

func (s *Store) nextExpected() uint32 {
	return uint32(s.baseIndex + 1)
}

func (s *Store) advanceBase(idx uint32) {
	s.hasBase = true
	s.baseIndex = int64(idx)
}

func (s *Store) lowestRecord() (uint32, time.Time, bool) {
	if s.pending.Len() == 0 {
		return 0, time.Time{}, false
	}
	idx := s.pending.Front().(uint32)
	return idx, s.records[idx].InsertedAt, true
}

func (s *Store) insertPending(idx uint32) {
	n := s.pending.Len()
	if n == 0 || idx > s.pending.Back().(uint32) {
		s.pending.PushBack(idx)
		return
	}
	if idx < s.pending.Front().(uint32) {
		s.pending.PushFront(idx)
		return
	}
	tail := make([]uint32, 0, n)
	inserted := false
	for i := 0; i < n; i++ {
		v := s.pending.PopFront().(uint32)
		if !inserted && idx < v {
			tail = append(tail, idx)
			inserted = true
		}
		tail = append(tail, v)
	}
	if !inserted {
		tail = append(tail, idx)
	}
	for _, v := range tail {
		s.pending.PushBack(v)
	}
}

func (s *Store) removePending(idx uint32) {
	n := s.pending.Len()
	for i := 0; i < n; i++ {
		v := s.pending.PopFront().(uint32)
		if v != idx {
			s.pending.PushBack(v)
		}
	}
}

// shiftAll bumps every stored index (records, pending, endIndex and
// baseFirst) up by delta, used when a late-rollover arrival reveals that
// the store's existing contents actually belong one cycle later than
// assumed. baseIndex is deliberately not touched here: its update depends
// on whether it already names a committed release point, which only the
// caller (Insert) knows.
func (s *Store) shiftAll(delta uint32) {
	shifted := make(map[uint32]Record, len(s.records))
	for idx, rec := range s.records {
		newIdx := idx + delta
		rec.Index = newIdx
		shifted[newIdx] = rec
	}
	s.records = shifted

	n := s.pending.Len()
	for i := 0; i < n; i++ {
		v := s.pending.PopFront().(uint32)
		s.pending.PushBack(v + delta)
	}

	s.baseFirst += delta
	s.endIndex += delta
}

func maxU32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}
