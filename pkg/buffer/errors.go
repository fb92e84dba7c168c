package buffer

import "github.com/pkg/errors"

var (
	// ErrLatePacket is returned by Store.Insert when a packet's promoted
	// index is at or below the store's committed low-water mark, or when
	// the store already holds a record at that index.
	ErrLatePacket = errors.New("buffer: late packet, index at or below base")
	// ErrNilLatency is returned by NewJitterBuffer when constructed
	// without a positive latency bound.
	ErrNilLatency = errors.New("buffer: latency must be non-zero")
)
