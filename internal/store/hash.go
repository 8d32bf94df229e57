package store

import (
	"crypto/sha256"
	"fmt"
)

// ContentHash computes the hex SHA-256 the ledger uses for source and
// output content. Byte-identical content always hashes identically, so
// hash equality stands in for a full comparison.
func ContentHash(content []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(content))
}
