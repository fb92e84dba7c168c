package twcc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPacketInfoStoreBasic(t *testing.T) {
	s := NewPacketInfoStore()
	require.True(t, s.Empty())

	s.Insert(100, 1000)
	s.Insert(102, 3000)
	require.False(t, s.Empty())
	require.Equal(t, uint32(100), s.BaseSeq())
	require.Equal(t, uint32(102), s.MaxSeq())

	base, arrivals := s.Take()
	require.Equal(t, uint32(100), base)
	require.Equal(t, []int64{1000, -1, 3000}, arrivals)
	require.True(t, s.Empty())
}

func TestPacketInfoStoreRollover(t *testing.T) {
	s := NewPacketInfoStore()
	s.Insert(65535, 1000)
	s.Insert(0, 2000)
	s.Insert(1, 3000)

	base, arrivals := s.Take()
	require.Equal(t, uint32(65535), base)
	require.Equal(t, []int64{1000, 2000, 3000}, arrivals)
}

func TestPacketInfoStoreLateRolloverArrival(t *testing.T) {
	s := NewPacketInfoStore()
	s.Insert(0, 2000)
	s.Insert(65535, 1000)

	base, arrivals := s.Take()
	require.Equal(t, uint32(65535), base)
	require.Equal(t, []int64{1000, 2000}, arrivals)
}
