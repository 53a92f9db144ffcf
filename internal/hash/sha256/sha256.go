// Package sha256 computes the checksums stored with ledger result rows.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Prefix tags every checksum with its algorithm.
const Prefix = "sha256:"

// Hasher implements finalizer.Hasher.
type Hasher struct{}

// New returns a Hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the checksum of data.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return Prefix + hex.EncodeToString(sum[:]), nil
}
