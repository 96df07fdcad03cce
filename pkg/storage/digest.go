package storage

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"

	"github.com/TyKolt/kremis/pkg/kremis"
)

// attributeDigest returns a stable, non-random 64-bit fingerprint of attr's
// bytes, used to bound the key size of the persistent PROPERTIES table
// (spec §4.d). xxhash is seedless and produces the same digest for the same
// bytes on every platform and process — unlike Go's built-in map hasher,
// which is randomized per process and therefore forbidden anywhere in an
// observable path (spec §9).
//
// Digest collisions between distinct attributes on the same node are
// possible (64 bits, no adversarial resistance needed) and are resolved by
// storing the full attribute string alongside the value and comparing it
// whenever an existing entry is appended to; see propertyValue in
// badger_serialization.go.
func attributeDigest(attr kremis.Attribute) uint64 {
	return xxhash.Sum64String(string(attr))
}

func encodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func decodeUint64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}
