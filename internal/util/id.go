package util

import (
	"crypto/rand"
	"encoding/hex"
)

// Entity id prefixes used across the store.
const (
	PrefixProfile   = "usr"
	PrefixProject   = "prj"
	PrefixRoadmap   = "rm"
	PrefixMilestone = "ms"
	PrefixEpic      = "ep"
	PrefixFeature   = "ft"
	PrefixTask      = "tk"
	PrefixShare     = "shr"
)

func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}

// NewToken returns an opaque URL-safe token for share links and
// verification flows. Longer than entity ids on purpose.
func NewToken() string {
	bytes := make([]byte, 32)
	_, _ = rand.Read(bytes)
	return hex.EncodeToString(bytes)
}
