package mpt

import "bytes"

// ToNibbles converts a byte key to a nibble path, high nibble first.
func ToNibbles(key []byte) []byte {
	return toNibbles(key)
}

// FromNibbles converts an even-length nibble path back to bytes.
func FromNibbles(path []byte) []byte {
	return fromNibbles(path)
}

// CommonPrefixLength returns the length of the longest common prefix of two
// nibble paths.
func CommonPrefixLength(a, b []byte) int {
	return len(lcp(a, b))
}

// CompareNibbles compares two nibble paths lexicographically. Nibbles are
// stored one per byte, so it's just a byte comparison.
func CompareNibbles(a, b []byte) int {
	return bytes.Compare(a, b)
}

// lcp returns the longest common prefix of a and b.
// Note: it does no allocations.
func lcp(a, b []byte) []byte {
	if len(a) < len(b) {
		return lcp(b, a)
	}

	var i int
	for i = 0; i < len(b); i++ {
		if a[i] != b[i] {
			break
		}
	}

	return a[:i]
}

// splitPath splits path for a branch node.
func splitPath(path []byte) (byte, []byte) {
	return path[0], path[1:]
}

// toNibbles mangles path by splitting every byte into 2 containing low- and high- 4-byte part.
func toNibbles(path []byte) []byte {
	result := make([]byte, len(path)*2)
	for i := range path {
		result[i*2] = path[i] >> 4
		result[i*2+1] = path[i] & 0x0F
	}
	return result
}

// fromNibbles performs an operation opposite to toNibbles and runs no path validity checks.
func fromNibbles(path []byte) []byte {
	result := make([]byte, len(path)/2)
	for i := range result {
		result[i] = path[2*i]<<4 + path[2*i+1]
	}
	return result
}

// concat returns a new path made of the given parts.
func concat(parts ...[]byte) []byte {
	var n int
	for i := range parts {
		n += len(parts[i])
	}
	res := make([]byte, 0, n)
	for i := range parts {
		res = append(res, parts[i]...)
	}
	return res
}
