package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a 32-hex-char random id, optionally prefixed for
// readability in logs ("st_", "draft_", "ann_", ...).
func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}
