// Package storekey builds and bounds the LSM key prefixes spec.md §3
// assigns to documents and vectors, shared by the document and vector
// packages so the two layers agree on layout without importing each
// other.
package storekey

import "fmt"

// DocPrefix is the key prefix for every document in collection.
func DocPrefix(collection string) string {
	return fmt.Sprintf("collection:%s:doc:", collection)
}

// DocKey is the key for one document's record.
func DocKey(collection, id string) string {
	return DocPrefix(collection) + id
}

// VectorPrefix is the key prefix for every vector in collection.
func VectorPrefix(collection string) string {
	return fmt.Sprintf("vector:%s:", collection)
}

// VectorKey is the key for one vector's record.
func VectorKey(collection, id string) string {
	return VectorPrefix(collection) + id
}

// PrefixRangeEnd returns the lexicographically-smallest key that is
// strictly greater than every key with the given prefix, so
// [prefix, PrefixRangeEnd(prefix)) bounds exactly that prefix's keys in
// a range_scan. Returns "" (unbounded) if prefix is all 0xFF bytes.
func PrefixRangeEnd(prefix string) string {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] != 0xFF {
			b[i]++
			return string(b[:i+1])
		}
	}
	return ""
}
