package document

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a 16 lowercase hex character id from a cryptographic
// random source, per spec.md §3.
func NewID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err) // crypto/rand failing means the process can't go on safely
	}
	return hex.EncodeToString(b[:])
}
