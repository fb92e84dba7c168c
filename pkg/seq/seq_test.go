package seq

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsRollover(t *testing.T) {
	require.False(t, IsRollover(100, 105))
	require.False(t, IsRollover(105, 100))
	require.True(t, IsRollover(0, 65535))
	require.True(t, IsRollover(65535, 0))
	require.True(t, IsRollover(65534, 1))
}

func TestClassifyBootstrap(t *testing.T) {
	idx, c := Classify(0, false, 42)
	require.Equal(t, uint32(42), idx)
	require.Equal(t, Current, c)
}

func TestClassifyCurrentCycle(t *testing.T) {
	idx, c := Classify(100, true, 105)
	require.Equal(t, uint32(105), idx)
	require.Equal(t, Current, c)
}

func TestClassifyNextCycle(t *testing.T) {
	// reference sits just before a wrap; wireSeq restarts near zero.
	idx, c := Classify(65534, true, 1)
	require.Equal(t, Next, c)
	require.Equal(t, uint32(65537), idx)
}

func TestClassifyPreviousCycle(t *testing.T) {
	// reference is the very first packet ever seen (wire 0); a wire
	// 65535 arriving after it belongs to the cycle before the reference.
	idx, c := Classify(0, true, 65535)
	require.Equal(t, Previous, c)
	require.Equal(t, uint32(65535), idx)
}
