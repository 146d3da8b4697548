package mpt

import (
	"github.com/ethereum/go-ethereum/common"
)

// BaseNode implements basic things every node needs like caching hash and
// serialized representation. It's a basic node building block intended to be
// included into all node types.
type BaseNode struct {
	hash       common.Hash
	bytes      []byte
	hashValid  bool
	bytesValid bool

	// isFlushed is set for nodes that are present in the store under
	// their digest.
	isFlushed bool
}

type flushedNode interface {
	setCache([]byte, common.Hash)
	invalidateCache()
}

func (b *BaseNode) setCache(bs []byte, h common.Hash) {
	b.bytes = bs
	b.hash = h
	b.bytesValid = true
	b.hashValid = true
	b.isFlushed = true
}

// getHash returns a hash of this BaseNode.
func (b *BaseNode) getHash(n Node, h Hasher) common.Hash {
	if !b.hashValid {
		b.hash = h(b.getBytes(n, h))
		b.hashValid = true
	}
	return b.hash
}

// getBytes returns a slice of bytes representing this node.
func (b *BaseNode) getBytes(n Node, h Hasher) []byte {
	if !b.bytesValid {
		b.bytes = encodeNode(n, h)
		b.bytesValid = true
	}
	return b.bytes
}

// invalidateCache sets all cache fields to invalid state.
func (b *BaseNode) invalidateCache() {
	b.bytesValid = false
	b.hashValid = false
	b.isFlushed = false
}

// IsFlushed checks for node flush status.
func (b *BaseNode) IsFlushed() bool {
	return b.isFlushed
}

// SetFlushed sets 'flushed' flag to true for this node.
func (b *BaseNode) SetFlushed() {
	b.isFlushed = true
}
