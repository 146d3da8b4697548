package mpt

import (
	"github.com/ethereum/go-ethereum/common"
)

// LeafNode represents MPT's leaf node: the rest of the key path and the
// value stored under it.
type LeafNode struct {
	BaseNode
	key   []byte
	value []byte
}

var _ Node = (*LeafNode)(nil)

// NewLeafNode returns a leaf node with the given path remainder and value.
func NewLeafNode(key, value []byte) *LeafNode {
	return &LeafNode{
		key:   key,
		value: value,
	}
}

// Type implements Node interface.
func (n *LeafNode) Type() NodeType { return LeafT }

// Hash implements Node interface.
func (n *LeafNode) Hash(h Hasher) common.Hash {
	return n.getHash(n, h)
}

// Bytes implements Node interface.
func (n *LeafNode) Bytes(h Hasher) []byte {
	return n.getBytes(n, h)
}

// Key returns the nibble path remainder of the leaf.
func (n *LeafNode) Key() []byte {
	return n.key
}

// Value returns the leaf value.
func (n *LeafNode) Value() []byte {
	return n.value
}
