package twcc

import (
	"encoding/binary"
	"math"

	"github.com/pion/rtcp"
)

// deltaScaleUsec is the wire tick width for TWCC receive deltas: 250
// microseconds, per draft-holmer-rmcat-transport-wide-cc-extensions-01.
const deltaScaleUsec = 250

// refTimeScaleUsec is the wire tick width for the feedback header's
// reference time field: 64 milliseconds.
const refTimeScaleUsec = 64000

// encodeState accumulates the packed chunk/delta bytes for one feedback
// report. Statuses are packed left to right: a run of more than 7
// identical statuses ended by a different status, or a run of identical
// statuses at the end of the report, becomes a run-length chunk; shorter
// runs merge into status-vector chunks, written with 2-bit symbols (7 per
// chunk) when a large or negative delta is among them and with 1-bit
// symbols (14 per chunk) otherwise.
type encodeState struct {
	payload []byte
	deltas  []byte

	statusList []uint16
	same       bool
	lastStatus uint16
	maxStatus  uint16
}

const noStatus = uint16(0xffff)

func newEncodeState() *encodeState {
	return &encodeState{same: true, lastStatus: noStatus, maxStatus: rtcp.TypeTCCPacketNotReceived}
}

func (e *encodeState) writeHeader(senderSSRC, mediaSSRC uint32, baseSeq, packetCount uint16, refTime uint32, fbPktCount uint8) {
	hdr := make([]byte, 16)
	binary.BigEndian.PutUint32(hdr[0:], senderSSRC)
	binary.BigEndian.PutUint32(hdr[4:], mediaSSRC)
	binary.BigEndian.PutUint16(hdr[8:], baseSeq)
	binary.BigEndian.PutUint16(hdr[10:], packetCount)
	binary.BigEndian.PutUint32(hdr[12:], refTime<<8|uint32(fbPktCount))
	e.payload = append(e.payload, hdr...)
}

func (e *encodeState) writeRunLengthChunk(symbol, runLength uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], symbol<<13|runLength)
	e.payload = append(e.payload, b[:]...)
}

func (e *encodeState) writeStatusVectorChunk(symbolSize uint16, symbols []uint16) {
	var chunk uint16
	numBits := symbolSize + 1
	for i, s := range symbols {
		chunk = setNBitsOfUint16(chunk, numBits, numBits*uint16(i)+2, s)
	}
	chunk = setNBitsOfUint16(chunk, 1, 0, 1)
	chunk = setNBitsOfUint16(chunk, 1, 1, symbolSize)
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], chunk)
	e.payload = append(e.payload, b[:]...)
}

func (e *encodeState) writeDelta(deltaType, delta uint16) {
	if deltaType == rtcp.TypeTCCPacketReceivedSmallDelta {
		e.deltas = append(e.deltas, byte(delta))
		return
	}
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], delta)
	e.deltas = append(e.deltas, b[:]...)
}

func setNBitsOfUint16(src, size, startIndex, val uint16) uint16 {
	if startIndex+size > 16 {
		return 0
	}
	val &= (1 << size) - 1
	return src | (val << (16 - size - startIndex))
}

// pushStatus feeds the next packet's status symbol through the
// chunk-packing state machine, flushing completed chunks as they fill.
func (e *encodeState) pushStatus(status uint16) {
	// A run-length chunk holds at most 2^13-1 statuses.
	const maxRunLength = 1<<13 - 1
	if e.same && status == e.lastStatus && len(e.statusList) == maxRunLength {
		e.writeRunLengthChunk(e.lastStatus, maxRunLength)
		e.statusList = e.statusList[:0]
		e.recomputeState()
	}

	if e.same && status != e.lastStatus && e.lastStatus != noStatus {
		if len(e.statusList) > 7 {
			e.writeRunLengthChunk(e.lastStatus, uint16(len(e.statusList)))
			e.statusList = e.statusList[:0]
			e.lastStatus = noStatus
			e.maxStatus = rtcp.TypeTCCPacketNotReceived
			e.same = true
		} else {
			e.same = false
		}
	}

	e.statusList = append(e.statusList, status)
	if status > e.maxStatus {
		e.maxStatus = status
	}
	e.lastStatus = status

	if !e.same && e.maxStatus == rtcp.TypeTCCPacketReceivedLargeDelta && len(e.statusList) > 6 {
		e.writeStatusVectorChunk(rtcp.TypeTCCSymbolSizeTwoBit, e.statusList[:7])
		e.statusList = e.statusList[7:]
		e.recomputeState()
	} else if !e.same && len(e.statusList) > 13 {
		e.writeStatusVectorChunk(rtcp.TypeTCCSymbolSizeOneBit, e.statusList[:14])
		e.statusList = e.statusList[14:]
		e.recomputeState()
	}
}

// recomputeState re-derives same/lastStatus/maxStatus for whatever is
// left in statusList after a mid-stream flush.
func (e *encodeState) recomputeState() {
	e.same = true
	e.lastStatus = noStatus
	e.maxStatus = rtcp.TypeTCCPacketNotReceived
	for _, s := range e.statusList {
		if s > e.maxStatus {
			e.maxStatus = s
		}
		if e.same && e.lastStatus != noStatus && s != e.lastStatus {
			e.same = false
		}
		e.lastStatus = s
	}
}

// finish flushes whatever remains in statusList as a final chunk.
func (e *encodeState) finish() {
	if len(e.statusList) == 0 {
		return
	}
	switch {
	case e.same:
		e.writeRunLengthChunk(e.lastStatus, uint16(len(e.statusList)))
	case e.maxStatus == rtcp.TypeTCCPacketReceivedLargeDelta:
		e.writeStatusVectorChunk(rtcp.TypeTCCSymbolSizeTwoBit, e.statusList)
	default:
		e.writeStatusVectorChunk(rtcp.TypeTCCSymbolSizeOneBit, e.statusList)
	}
	e.statusList = nil
}

// classifyDelta reports the wire status symbol for a delta (in
// microseconds) since the running reference cursor, and the clamped tick
// value to write.
func classifyDelta(deltaUsec int64) (status, ticks uint16) {
	delta := deltaUsec / deltaScaleUsec
	if delta < 0 || delta > 255 {
		clamped := clampInt16(delta)
		return rtcp.TypeTCCPacketReceivedLargeDelta, uint16(clamped)
	}
	return rtcp.TypeTCCPacketReceivedSmallDelta, uint16(delta)
}

func clampInt16(v int64) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
