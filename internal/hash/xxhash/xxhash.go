// Package xxhash fingerprints fetched bodies for duplicate-content detection.
package xxhash

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Hasher implements crawler.Hasher using xxHash64.
type Hasher struct{}

// New returns an xxHash64 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the 16-character hex digest of data.
func (*Hasher) Hash(data []byte) (string, error) {
	return fmt.Sprintf("%016x", xxhash.Sum64(data)), nil
}
