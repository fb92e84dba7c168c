package buffer

import (
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/require"
)

func pkt(seq uint16, ts uint32) *rtp.Packet {
	return &rtp.Packet{Header: rtp.Header{SequenceNumber: seq, Timestamp: ts}}
}

func TestStoreInOrder(t *testing.T) {
	s := NewStore()
	base := time.Now()

	for i, w := range []uint16{100, 101, 102} {
		_, err := s.Insert(pkt(w, 0), base, base.Add(time.Duration(i)*10*time.Millisecond))
		require.NoError(t, err)
	}

	events := s.ShiftOrdered()
	require.Len(t, events, 3)
	for i, w := range []uint16{100, 101, 102} {
		require.Equal(t, EventBuffer, events[i].Kind)
		require.Equal(t, w, events[i].Record.WireSeq)
	}
}

func TestStoreReorderWithinLatency(t *testing.T) {
	s := NewStore()
	base := time.Now()

	order := []uint16{100, 102, 101}
	for _, w := range order {
		_, err := s.Insert(pkt(w, 0), base, base)
		require.NoError(t, err)
	}

	events := s.ShiftOrdered()
	require.Len(t, events, 3)
	require.Equal(t, uint16(100), events[0].Record.WireSeq)
	require.Equal(t, uint16(101), events[1].Record.WireSeq)
	require.Equal(t, uint16(102), events[2].Record.WireSeq)
}

func TestStoreLossEmitsDiscontinuity(t *testing.T) {
	s := NewStore()
	base := time.Now()

	_, err := s.Insert(pkt(100, 0), base, base)
	require.NoError(t, err)
	_, err = s.Insert(pkt(102, 0), base, base.Add(150*time.Millisecond))
	require.NoError(t, err)

	latency := 200 * time.Millisecond

	// 100 has aged past latency; 102 has not.
	out := s.ShiftOlderThan(latency, base.Add(250*time.Millisecond))
	require.Len(t, out, 1)
	require.Equal(t, uint16(100), out[0].Record.WireSeq)

	// once 102 also ages out, the gap at 101 is emitted before it.
	out = s.ShiftOlderThan(latency, base.Add(400*time.Millisecond))
	require.Len(t, out, 2)
	require.Equal(t, EventDiscontinuity, out[0].Kind)
	require.Equal(t, EventBuffer, out[1].Kind)
	require.Equal(t, uint16(102), out[1].Record.WireSeq)
}

func TestStoreWireRollover(t *testing.T) {
	s := NewStore()
	base := time.Now()

	for _, w := range []uint16{65535, 0, 1} {
		_, err := s.Insert(pkt(w, 0), base, base)
		require.NoError(t, err)
	}

	events := s.ShiftOrdered()
	require.Len(t, events, 3)
	require.Equal(t, uint32(65535), events[0].Index)
	require.Equal(t, uint32(65536), events[1].Index)
	require.Equal(t, uint32(65537), events[2].Index)
}

func TestStoreLateRolloverArrival(t *testing.T) {
	s := NewStore()
	base := time.Now()

	_, err := s.Insert(pkt(0, 0), base, base)
	require.NoError(t, err)
	_, err = s.Insert(pkt(65535, 0), base, base)
	require.NoError(t, err)

	events := s.ShiftOrdered()
	require.Len(t, events, 2)
	require.Equal(t, uint32(65535), events[0].Index)
	require.Equal(t, uint16(65535), events[0].Record.WireSeq)
	require.Equal(t, uint32(65536), events[1].Index)
	require.Equal(t, uint16(0), events[1].Record.WireSeq)
}

func TestStoreRejectsLatePacket(t *testing.T) {
	s := NewStore()
	base := time.Now()

	_, err := s.Insert(pkt(100, 0), base, base)
	require.NoError(t, err)
	s.ShiftOrdered()

	_, err = s.Insert(pkt(100, 0), base, base)
	require.ErrorIs(t, err, ErrLatePacket)
}

func TestStoreRejectsDuplicate(t *testing.T) {
	s := NewStore()
	base := time.Now()

	_, err := s.Insert(pkt(100, 0), base, base)
	require.NoError(t, err)
	_, err = s.Insert(pkt(100, 0), base, base)
	require.ErrorIs(t, err, ErrLatePacket)
}

func TestStoreDumpDrainsEverythingWithGaps(t *testing.T) {
	s := NewStore()
	base := time.Now()

	_, err := s.Insert(pkt(100, 0), base, base)
	require.NoError(t, err)
	_, err = s.Insert(pkt(103, 0), base, base)
	require.NoError(t, err)

	events := s.Dump()
	require.Len(t, events, 4)
	require.Equal(t, EventBuffer, events[0].Kind)
	require.Equal(t, EventDiscontinuity, events[1].Kind)
	require.Equal(t, EventDiscontinuity, events[2].Kind)
	require.Equal(t, EventBuffer, events[3].Kind)
	require.True(t, s.Empty())
}
