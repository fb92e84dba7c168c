package buffer

import (
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"go.uber.org/atomic"
)

// State is the JitterBuffer's lifecycle stage.
type State int

const (
	// StateWaiting is the initial state: the one-shot initial latency
	// timer has not yet elapsed, so nothing is ever released.
	StateWaiting State = iota
	// StateRunning is normal operation: every insert attempts a release.
	StateRunning
	// StateDrained is terminal, entered on end-of-stream.
	StateDrained
)

// Stats mirrors the fields of an RFC 3550 receiver report relevant to a
// single source.
type Stats struct {
	FractionLost      float64
	TotalLost         int32 // clamped to the signed 24-bit range
	HighestSeqNum     uint32
	InterarrivalJitter float64
}

// ReceptionReport converts Stats plus the caller-supplied SSRC/last-SR
// fields into a pion/rtcp ReceptionReport, the wire shape ultimately
// reported upstream.
func (s Stats) ReceptionReport(ssrc uint32, lastSR, delaySinceLastSR uint32) rtcp.ReceptionReport {
	fraction := uint8(0)
	if s.FractionLost > 0 {
		// RFC 3550 §6.4.1's fraction lost is an 8-bit fixed-point value
		// with denominator 256, capped at 255; a FractionLost of exactly
		// 1.0 scales to 256, which overflows uint8 to 0 (reporting no
		// loss) unless clamped first.
		scaled := clampF(s.FractionLost, 0, 1) * 256
		if scaled > 255 {
			scaled = 255
		}
		fraction = uint8(scaled)
	}
	return rtcp.ReceptionReport{
		SSRC:               ssrc,
		FractionLost:       fraction,
		TotalLost:          uint32(s.TotalLost) & 0x00ffffff,
		LastSequenceNumber: s.HighestSeqNum,
		Jitter:             uint32(s.InterarrivalJitter),
		LastSenderReport:   lastSR,
		Delay:              delaySinceLastSR,
	}
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Config configures a JitterBuffer.
type Config struct {
	ClockRate uint32 // Hz
	Latency   time.Duration
}

// JitterBuffer wraps a Store with a latency-bounded release schedule and
// RFC 3550 A.3/A.8 receiver statistics. It is not safe for concurrent use
// except through the small set of atomically-exposed counters
// (ReceivedCount, HighestIndex) intended for lock-free external
// inspection; all other methods must be called from the single goroutine
// that owns the stream (see pkg/receiver).
type JitterBuffer struct {
	cfg   Config
	store *Store

	state State

	expectedPrior uint64
	receivedPrior uint64
	firstTime     time.Time
	hasTransit    bool
	lastTransit   int64
	jitter        float64

	receivedCount atomic.Uint64
	highestIndex  atomic.Uint32
	totalBytes    atomic.Uint64
}

// NewJitterBuffer constructs a JitterBuffer. A zero Latency is a fatal
// configuration error per SPEC_FULL.md §4.2.
func NewJitterBuffer(cfg Config) (*JitterBuffer, error) {
	if cfg.Latency <= 0 {
		return nil, ErrNilLatency
	}
	return &JitterBuffer{
		cfg:   cfg,
		store: NewStore(),
		state: StateWaiting,
	}, nil
}

// State returns the buffer's current lifecycle stage.
func (j *JitterBuffer) State() State { return j.state }

// EnterRunning transitions waiting -> running, called when the initial
// latency timer fires. It is a no-op (aside from ignoring the call) once
// the buffer has left StateWaiting; per SPEC_FULL.md §9 no packet ever
// having arrived is not special-cased, since Store's release operations
// on an empty store are no-ops.
func (j *JitterBuffer) EnterRunning() {
	if j.state == StateWaiting {
		j.state = StateRunning
	}
}

// Insert records pkt's arrival for jitter/loss accounting and feeds it to
// the Store; in StateRunning it then runs a release cycle. arrivalTS is the packet's arrival
// time (from transport metadata or the local clock); now is the local
// monotonic clock used for dwell-time accounting.
//
// Returns the release events produced by the resulting release cycle (nil
// in StateWaiting) and whether the packet was accepted.
func (j *JitterBuffer) Insert(pkt *rtp.Packet, arrivalTS, now time.Time) ([]Event, bool) {
	if j.state == StateDrained {
		return nil, false
	}

	j.updateJitter(pkt, arrivalTS)

	idx, err := j.store.Insert(pkt, arrivalTS, now)
	if err != nil {
		Logger.V(1).Info("dropping late packet", "index", idx, "seq", pkt.SequenceNumber)
		return nil, false
	}
	j.receivedCount.Store(j.store.Received())
	j.highestIndex.Store(j.store.EndIndex())
	j.totalBytes.Store(j.store.TotalBytes())

	if j.state != StateRunning {
		return nil, true
	}
	return j.sendBuffers(now), true
}

// TimerFired is called by the actor when the eviction timer armed by a
// prior release cycle elapses. now is the local monotonic clock.
func (j *JitterBuffer) TimerFired(now time.Time) []Event {
	if j.state != StateRunning {
		return nil
	}
	return j.sendBuffers(now)
}

// sendBuffers implements the release cycle from SPEC_FULL.md §4.2: drain
// anything past its dwell bound, then drain the contiguous ordered
// prefix. Whether to re-arm the eviction timer is reported separately by
// NextTimerDelay.
func (j *JitterBuffer) sendBuffers(now time.Time) []Event {
	tooOld := j.store.ShiftOlderThan(j.cfg.Latency, now)
	ordered := j.store.ShiftOrdered()
	return append(tooOld, ordered...)
}

// NextTimerDelay reports how long the caller should wait before the next
// TimerFired call, and whether a timer needs to be armed at all (it
// should be armed only when the store is non-empty and nothing is
// already scheduled — the actor is responsible for tracking "already
// scheduled").
func (j *JitterBuffer) NextTimerDelay(now time.Time) (time.Duration, bool) {
	first, ok := j.store.FirstRecordTimestamp()
	if !ok {
		return 0, false
	}
	sendAfter := j.cfg.Latency - now.Sub(first)
	if sendAfter < 0 {
		sendAfter = 0
	}
	return sendAfter, true
}

// EndOfStream drains every remaining record (including gaps) and
// transitions to StateDrained. No further Insert/TimerFired calls are
// honored afterward.
func (j *JitterBuffer) EndOfStream() []Event {
	events := j.store.Dump()
	j.state = StateDrained
	return events
}

// updateJitter implements RFC 3550 §A.8's interarrival jitter estimate.
// arrivalTicks is derived from arrivalTS's offset from the stream's first
// observed arrival rather than its absolute UnixNano value: multiplying
// an absolute wall-clock nanosecond count by a clock rate overflows
// int64 well before the division back down to ticks, corrupting every
// transit computation.
func (j *JitterBuffer) updateJitter(pkt *rtp.Packet, arrivalTS time.Time) {
	if !j.hasTransit {
		j.firstTime = arrivalTS
	}
	sinceFirst := arrivalTS.Sub(j.firstTime)
	arrivalTicks := sinceFirst.Nanoseconds() * int64(j.cfg.ClockRate) / int64(time.Second)
	transit := arrivalTicks - int64(pkt.Timestamp)

	if !j.hasTransit {
		j.lastTransit = transit
		j.hasTransit = true
		return
	}
	d := transit - j.lastTransit
	if d < 0 {
		d = -d
	}
	j.jitter += (float64(d) - j.jitter) / 16
	j.lastTransit = transit
}

// GetAndUpdateStats implements RFC 3550 §A.3's per-interval loss
// accounting and returns the receiver-report fields due since the last
// call.
func (j *JitterBuffer) GetAndUpdateStats() Stats {
	expected := uint64(j.store.EndIndex()) - uint64(j.store.BaseFirst()) + 1
	received := j.store.Received()

	lost := int64(expected) - int64(received)
	lost = clampI24(lost)

	expectedInterval := int64(expected) - int64(j.expectedPrior)
	receivedInterval := int64(received) - int64(j.receivedPrior)
	lostInterval := expectedInterval - receivedInterval

	fractionLost := 0.0
	if expectedInterval != 0 && lostInterval > 0 {
		fractionLost = float64(lostInterval) / float64(expectedInterval)
	}

	j.expectedPrior = expected
	j.receivedPrior = received

	return Stats{
		FractionLost:       fractionLost,
		TotalLost:          int32(lost),
		HighestSeqNum:      j.store.EndIndex(),
		InterarrivalJitter: j.jitter,
	}
}

func clampI24(v int64) int64 {
	const max = 1<<23 - 1
	const min = -(1 << 23)
	if v > max {
		return max
	}
	if v < min {
		return min
	}
	return v
}

// ReceivedCount returns the running received-packet count, safe to read
// from outside the actor goroutine.
func (j *JitterBuffer) ReceivedCount() uint64 { return j.receivedCount.Load() }

// HighestIndex returns the running high-water mark, safe to read from
// outside the actor goroutine.
func (j *JitterBuffer) HighestIndex() uint32 { return j.highestIndex.Load() }

// TotalBytes returns the running sum of received RTP payload bytes, safe
// to read from outside the actor goroutine.
func (j *JitterBuffer) TotalBytes() uint64 { return j.totalBytes.Load() }
