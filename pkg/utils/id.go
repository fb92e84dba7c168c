package utils

import (
	"github.com/lithammer/shortuuid/v3"
)

const (
	// StreamPrefix identifies an RTP receive stream's generated ID.
	StreamPrefix = "RS-"
)

// NewGuid returns prefix concatenated with a short, URL-safe unique
// suffix.
func NewGuid(prefix string) string {
	return prefix + shortuuid.New()
}
