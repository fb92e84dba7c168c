package twcc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	base := int64(1_000_000)
	arrivals := []int64{
		base,
		base + 1_000,
		-1,
		base + 3_000,
		base + 3_500,
	}

	pkt, err := Encode(0x11111111, 0x22222222, 5, 1000, arrivals)
	require.NoError(t, err)
	require.NotEmpty(t, pkt)
	require.Equal(t, 0, len(pkt)%4, "feedback packets must be 4-byte aligned")

	fb, err := Decode(pkt)
	require.NoError(t, err)
	require.Equal(t, uint16(1000), fb.BaseSeq)
	require.Equal(t, uint8(5), fb.FbPktCount)
	require.Len(t, fb.Arrivals, len(arrivals))

	for i, a := range arrivals {
		if a < 0 {
			require.Equal(t, int64(-1), fb.Arrivals[i], "index %d", i)
			continue
		}
		// each delta is truncated to a 250us tick and the decoder sums the
		// truncated deltas, so errors can add up across a run; the
		// arrivals here are whole ticks apart, so each stays within one.
		require.InDelta(t, a, fb.Arrivals[i], deltaScaleUsec, "index %d", i)
	}
}

func TestEncodeRejectsEmptyWindow(t *testing.T) {
	_, err := Encode(1, 2, 0, 0, nil)
	require.ErrorIs(t, err, ErrEmptyWindow)
}

func TestEncodeAllLost(t *testing.T) {
	arrivals := make([]int64, 10)
	for i := range arrivals {
		arrivals[i] = -1
	}
	pkt, err := Encode(1, 2, 0, 500, arrivals)
	require.NoError(t, err)

	fb, err := Decode(pkt)
	require.NoError(t, err)
	for _, a := range fb.Arrivals {
		require.Equal(t, int64(-1), a)
	}
}

func TestEncodeLongRunRoundTrip(t *testing.T) {
	arrivals := make([]int64, 300)
	for i := range arrivals {
		arrivals[i] = int64(i) * 10_000
	}
	pkt, err := Encode(1, 2, 0, 0, arrivals)
	require.NoError(t, err)

	fb, err := Decode(pkt)
	require.NoError(t, err)
	require.Len(t, fb.Arrivals, 300)
	for i := range arrivals {
		require.InDelta(t, arrivals[i], fb.Arrivals[i], deltaScaleUsec)
	}
}
