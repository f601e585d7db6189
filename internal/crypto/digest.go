// Package crypto holds content digests for drift detection and the AEAD sealer used by the journal.
package crypto

import (
	"golang.org/x/crypto/blake2b"
)

// Digest is a fixed-size fingerprint of file content.
type Digest [blake2b.Size256]byte

// Sum returns the blake2b-256 digest of content.
func Sum(content []byte) Digest {
	return blake2b.Sum256(content)
}

// IsZero reports whether d was never set.
func (d Digest) IsZero() bool { return d == Digest{} }
