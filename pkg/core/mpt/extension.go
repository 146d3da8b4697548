package mpt

import (
	"github.com/ethereum/go-ethereum/common"
)

// ExtensionNode represents MPT's extension node: a shared nibble path
// leading to a single child.
type ExtensionNode struct {
	BaseNode
	key  []byte
	next Node
}

var _ Node = (*ExtensionNode)(nil)

// NewExtensionNode returns extension node with the specified key and next node.
// Note: because it is a part of Trie, key must be mangled, i.e. must contain only bytes with high half = 0.
func NewExtensionNode(key []byte, next Node) *ExtensionNode {
	return &ExtensionNode{
		key:  key,
		next: next,
	}
}

// Type implements Node interface.
func (e *ExtensionNode) Type() NodeType { return ExtensionT }

// Hash implements Node interface.
func (e *ExtensionNode) Hash(h Hasher) common.Hash {
	return e.getHash(e, h)
}

// Bytes implements Node interface.
func (e *ExtensionNode) Bytes(h Hasher) []byte {
	return e.getBytes(e, h)
}

// Key returns the shared nibble path of the extension.
func (e *ExtensionNode) Key() []byte {
	return e.key
}

// Next returns the child node.
func (e *ExtensionNode) Next() Node {
	return e.next
}
