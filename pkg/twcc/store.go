// Package twcc implements the receive side of transport-wide congestion
// control: a per-feedback-window record of packet arrivals
// (PacketInfoStore) and a codec that turns those records into the wire
// format from draft-holmer-rmcat-transport-wide-cc-extensions-01.
package twcc

import (
	"github.com/jfdmsc/membrane-rtp-plugin/pkg/seq"
)

// info is one arrival recorded by a PacketInfoStore.
type info struct {
	arrivedUsec int64
	arrived     bool
}

// PacketInfoStore accumulates arrivals for one feedback window, keyed by
// the same 16-bit-to-32-bit extended index promotion BufferStore uses.
// Unlike BufferStore it never commits a low-water mark: every insert is
// classified against the running high-water mark, and Take resets the
// window unconditionally, re-keying nothing across windows.
//
// Not safe for concurrent use.
type PacketInfoStore struct {
	hasAny   bool
	endIndex uint32
	minIndex uint32

	records map[uint32]info
}

// NewPacketInfoStore constructs an empty PacketInfoStore.
func NewPacketInfoStore() *PacketInfoStore {
	return &PacketInfoStore{records: make(map[uint32]info)}
}

// Insert records wireSeq's arrival time (in microseconds, matching the
// TWCC wire format's resolution) at its promoted extended index.
// Previous-cycle arrivals re-key every already-stored record by +2^16,
// mirroring BufferStore's rollover handling but without a base index to
// reconcile.
func (p *PacketInfoStore) Insert(wireSeq uint16, arrivedUsec int64) uint32 {
	idx, cycle := seq.Classify(p.endIndex, p.hasAny, wireSeq)

	if cycle == seq.Previous {
		shifted := make(map[uint32]info, len(p.records))
		for k, v := range p.records {
			shifted[k+(1<<16)] = v
		}
		p.records = shifted
		p.endIndex += 1 << 16
		p.minIndex += 1 << 16
	}

	first := !p.hasAny
	if first {
		p.hasAny = true
		p.minIndex = idx
	} else if idx < p.minIndex {
		p.minIndex = idx
	}
	if first || idx > p.endIndex {
		p.endIndex = idx
	}
	p.records[idx] = info{arrivedUsec: arrivedUsec, arrived: true}

	return idx
}

// Empty reports whether any packet has been recorded since the last Take.
func (p *PacketInfoStore) Empty() bool { return !p.hasAny }

// BaseSeq returns the lowest extended index recorded in the current
// window. Only meaningful when Empty reports false.
func (p *PacketInfoStore) BaseSeq() uint32 { return p.minIndex }

// MaxSeq returns the highest extended index recorded in the current
// window. Only meaningful when Empty reports false.
func (p *PacketInfoStore) MaxSeq() uint32 { return p.endIndex }

// Arrival reports the recorded microsecond arrival timestamp for idx, and
// whether idx was ever recorded (a gap in [BaseSeq, MaxSeq] that never
// arrived reports false).
func (p *PacketInfoStore) Arrival(idx uint32) (int64, bool) {
	v, ok := p.records[idx]
	if !ok {
		return 0, false
	}
	return v.arrivedUsec, true
}

// Take returns every extended index from BaseSeq to MaxSeq inclusive
// together with its recorded arrival (or a missing arrival for a gap),
// then resets the store to empty. Callers use this to build one feedback
// report per window.
func (p *PacketInfoStore) Take() (base uint32, arrivals []int64) {
	if !p.hasAny {
		return 0, nil
	}
	n := int(p.endIndex-p.minIndex) + 1
	arrivals = make([]int64, n)
	for i := 0; i < n; i++ {
		idx := p.minIndex + uint32(i)
		if v, ok := p.records[idx]; ok {
			arrivals[i] = v.arrivedUsec
		} else {
			arrivals[i] = -1
		}
	}
	base = p.minIndex

	p.hasAny = false
	p.endIndex = 0
	p.minIndex = 0
	p.records = make(map[uint32]info)

	return base, arrivals
}
