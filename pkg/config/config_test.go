package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	c, err := New("", nil)
	require.NoError(t, err)
	require.Equal(t, uint32(90000), c.Stream.ClockRate)
	require.Equal(t, 200*time.Millisecond, c.Stream.Latency)
	require.Equal(t, "info", c.LogLevel)
}

func TestNewYAMLOverride(t *testing.T) {
	c, err := New(`
stream:
  clock_rate: 48000
  latency: 100ms
log_level: debug
`, nil)
	require.NoError(t, err)
	require.Equal(t, uint32(48000), c.Stream.ClockRate)
	require.Equal(t, 100*time.Millisecond, c.Stream.Latency)
	require.Equal(t, "debug", c.LogLevel)
}

func TestNewRejectsZeroLatency(t *testing.T) {
	_, err := New(`
stream:
  clock_rate: 48000
  latency: 0s
`, nil)
	require.Error(t, err)
}
