// Package cache keeps stats-mode feed results between runs and tracks
// archive signatures within a run.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Store is a byte store with per-entry expiry
type Store interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
}

// ResultKey names the result of one archive under one set of decision settings
func ResultKey(signature, digest string) string {
	hash := sha256.Sum256([]byte(signature + "\x00" + digest))
	return "feedclean:result:v1:" + hex.EncodeToString(hash[:])
}
