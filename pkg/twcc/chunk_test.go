package twcc

import (
	"testing"

	"github.com/pion/rtcp"
	"github.com/stretchr/testify/require"
)

func TestWriteRunLengthChunk(t *testing.T) {
	e := newEncodeState()
	e.writeRunLengthChunk(rtcp.TypeTCCPacketNotReceived, 221)
	require.Equal(t, []byte{0, 0xdd}, e.payload)
}

func TestWriteStatusVectorChunkOneBit(t *testing.T) {
	e := newEncodeState()
	symbols := []uint16{
		rtcp.TypeTCCPacketNotReceived,
		rtcp.TypeTCCPacketReceivedSmallDelta,
		rtcp.TypeTCCPacketReceivedSmallDelta,
		rtcp.TypeTCCPacketReceivedSmallDelta,
		rtcp.TypeTCCPacketReceivedSmallDelta,
		rtcp.TypeTCCPacketReceivedSmallDelta,
		rtcp.TypeTCCPacketNotReceived,
		rtcp.TypeTCCPacketNotReceived,
		rtcp.TypeTCCPacketNotReceived,
		rtcp.TypeTCCPacketReceivedSmallDelta,
		rtcp.TypeTCCPacketReceivedSmallDelta,
		rtcp.TypeTCCPacketReceivedSmallDelta,
		rtcp.TypeTCCPacketNotReceived,
		rtcp.TypeTCCPacketNotReceived,
	}
	e.writeStatusVectorChunk(rtcp.TypeTCCSymbolSizeOneBit, symbols)
	require.Equal(t, []byte{0x9F, 0x1C}, e.payload)
}

func TestWriteStatusVectorChunkTwoBit(t *testing.T) {
	e := newEncodeState()
	symbols := []uint16{
		rtcp.TypeTCCPacketNotReceived,
		rtcp.TypeTCCPacketReceivedWithoutDelta,
		rtcp.TypeTCCPacketReceivedSmallDelta,
		rtcp.TypeTCCPacketReceivedSmallDelta,
		rtcp.TypeTCCPacketReceivedSmallDelta,
		rtcp.TypeTCCPacketNotReceived,
		rtcp.TypeTCCPacketNotReceived,
	}
	e.writeStatusVectorChunk(rtcp.TypeTCCSymbolSizeTwoBit, symbols)
	require.Equal(t, []byte{0xcd, 0x50}, e.payload)
}

func TestWriteDeltaSmall(t *testing.T) {
	e := newEncodeState()
	e.writeDelta(rtcp.TypeTCCPacketReceivedSmallDelta, 255)
	require.Equal(t, []byte{0xff}, e.deltas)
}

func TestWriteDeltaLarge(t *testing.T) {
	e := newEncodeState()
	e.writeDelta(rtcp.TypeTCCPacketReceivedLargeDelta, 32767)
	require.Equal(t, []byte{0x7F, 0xFF}, e.deltas)
}

func TestClassifyDelta(t *testing.T) {
	status, ticks := classifyDelta(255 * deltaScaleUsec)
	require.Equal(t, uint16(rtcp.TypeTCCPacketReceivedSmallDelta), status)
	require.Equal(t, uint16(255), ticks)

	status, _ = classifyDelta(256 * deltaScaleUsec)
	require.Equal(t, uint16(rtcp.TypeTCCPacketReceivedLargeDelta), status)

	status, _ = classifyDelta(-deltaScaleUsec)
	require.Equal(t, uint16(rtcp.TypeTCCPacketReceivedLargeDelta), status)
}
