package twcc

import (
	"github.com/pion/rtcp"
	"github.com/pkg/errors"
)

// ErrEmptyWindow is returned by Encode when arrivals is empty; there is
// nothing to report.
var ErrEmptyWindow = errors.New("twcc: empty feedback window")

// Encode builds one TWCC feedback packet for the window [baseSeq,
// baseSeq+len(arrivals)-1]. arrivals[i] is the packet's arrival time in
// microseconds, or -1 if it was never received. fbPktCount is the
// feedback packet's own sequence number, incremented by the caller once
// per report.
func Encode(senderSSRC, mediaSSRC uint32, fbPktCount uint8, baseSeq uint32, arrivals []int64) (rtcp.RawPacket, error) {
	if len(arrivals) == 0 {
		return nil, ErrEmptyWindow
	}

	firstArrival := int64(-1)
	for _, a := range arrivals {
		if a >= 0 {
			firstArrival = a
			break
		}
	}

	e := newEncodeState()
	var refTimeUsec int64
	if firstArrival >= 0 {
		refTicks := firstArrival / refTimeScaleUsec
		refTimeUsec = refTicks * refTimeScaleUsec
		e.writeHeader(senderSSRC, mediaSSRC, uint16(baseSeq), uint16(len(arrivals)), uint32(refTicks), fbPktCount)
	} else {
		e.writeHeader(senderSSRC, mediaSSRC, uint16(baseSeq), uint16(len(arrivals)), 0, fbPktCount)
	}

	cursor := refTimeUsec
	for _, a := range arrivals {
		if a < 0 {
			e.pushStatus(rtcp.TypeTCCPacketNotReceived)
			continue
		}
		status, ticks := classifyDelta(a - cursor)
		e.pushStatus(status)
		e.writeDelta(status, ticks)
		// Advance from the packet's actual arrival time, not the
		// tick-quantized wire value: only the decoder, which has no
		// access to the original timestamps, has to compound
		// quantization error across a run of deltas.
		cursor = a
	}
	e.finish()

	return framePacket(e.payload, e.deltas)
}

// framePacket assembles the RTCP header, packs the payload/delta bytes,
// and pads to a 4-byte boundary per RFC 3550 §6.1.
func framePacket(payload, deltas []byte) (rtcp.RawPacket, error) {
	body := append(append([]byte{}, payload...), deltas...)
	unpadded := len(body) + 4
	total := unpadded
	var padSize uint8
	for total%4 != 0 {
		padSize++
		total++
	}
	hdr := rtcp.Header{
		Padding: padSize > 0,
		Length:  uint16(total/4) - 1,
		Count:   rtcp.FormatTCC,
		Type:    rtcp.TypeTransportSpecificFeedback,
	}
	hb, err := hdr.Marshal()
	if err != nil {
		return nil, errors.Wrap(err, "twcc: marshal header")
	}

	pkt := make(rtcp.RawPacket, total)
	copy(pkt, hb)
	copy(pkt[len(hb):], body)
	if padSize > 0 {
		pkt[len(pkt)-1] = padSize
	}
	return pkt, nil
}

// Feedback is the decoded content of one TWCC report: BaseSeq is the
// 16-bit wire sequence number of Arrivals[0], and each entry is the packet's arrival
// time in microseconds, or -1 if it was reported as not received.
type Feedback struct {
	BaseSeq   uint16
	Arrivals  []int64
	FbPktCount uint8
}

// Decode parses a raw TWCC feedback packet, reusing pion/rtcp's own wire
// parser for the header/chunk/delta layout and re-deriving the flat
// per-sequence-number arrival timeline the same way a bandwidth
// estimator consuming this feedback would.
func Decode(raw []byte) (Feedback, error) {
	var report rtcp.TransportLayerCC
	if err := report.Unmarshal(raw); err != nil {
		return Feedback{}, errors.Wrap(err, "twcc: unmarshal")
	}

	arrivals := make([]int64, report.PacketStatusCount)
	for i := range arrivals {
		arrivals[i] = -1
	}

	refTimeUsec := int64(report.ReferenceTime) * refTimeScaleUsec
	cursor := refTimeUsec
	snIdx := 0
	deltaIdx := 0

	for _, chunk := range report.PacketChunks {
		switch c := chunk.(type) {
		case *rtcp.RunLengthChunk:
			for i := uint16(0); i < c.RunLength && snIdx < len(arrivals); i++ {
				if c.PacketStatusSymbol != rtcp.TypeTCCPacketNotReceived && deltaIdx < len(report.RecvDeltas) {
					cursor += report.RecvDeltas[deltaIdx].Delta
					arrivals[snIdx] = cursor
					deltaIdx++
				}
				snIdx++
			}
		case *rtcp.StatusVectorChunk:
			for _, symbol := range c.SymbolList {
				if snIdx >= len(arrivals) {
					break
				}
				if symbol != rtcp.TypeTCCPacketNotReceived && deltaIdx < len(report.RecvDeltas) {
					cursor += report.RecvDeltas[deltaIdx].Delta
					arrivals[snIdx] = cursor
					deltaIdx++
				}
				snIdx++
			}
		}
	}

	return Feedback{
		BaseSeq:    report.BaseSequenceNumber,
		Arrivals:   arrivals,
		FbPktCount: report.FbPktCount,
	}, nil
}
