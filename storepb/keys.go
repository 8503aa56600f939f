// Package storepb defines the data types shared between the region
// directory engine and the region-server/master RPC surface: row keys,
// region and table descriptors, and the error kinds that cross the RPC
// boundary.
package storepb

import "bytes"

// Key is an opaque, lexicographically ordered row or start/end key. A
// zero-length Key is the sentinel "less than any key".
type Key []byte

// EmptyKey is the sentinel start key denoting "less than any key".
var EmptyKey = Key(nil)

// IsEmpty reports whether k is the empty-key sentinel.
func (k Key) IsEmpty() bool {
	return len(k) == 0
}

// Compare orders keys lexicographically, with the empty key sorting
// before every non-empty key.
func (k Key) Compare(other Key) int {
	return bytes.Compare(k, other)
}

// Less reports whether k sorts strictly before other.
func (k Key) Less(other Key) bool {
	return k.Compare(other) < 0
}

func (k Key) String() string {
	if k.IsEmpty() {
		return "<empty>"
	}
	return string(k)
}
