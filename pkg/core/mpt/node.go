package mpt

import (
	"github.com/ethereum/go-ethereum/common"
)

// NodeType represents node type.
type NodeType byte

// Node types definitions.
const (
	BranchT    NodeType = 0x00
	ExtensionT NodeType = 0x01
	HashT      NodeType = 0x02
	LeafT      NodeType = 0x03
	EmptyT     NodeType = 0x04
)

const (
	// childrenCount is the number of children of a branch node.
	childrenCount = 16
	// inlineThreshold is the size starting from which a child node is
	// referenced by its digest instead of being embedded into the parent.
	inlineThreshold = common.HashLength

	// MaxKeyLength is the max length of the key to put in the trie.
	MaxKeyLength = 1024
	// MaxValueLength is the max length of a value in the trie.
	MaxValueLength = 1 << 20
	// maxPathLength is the max length of a nibble path stored in a node.
	maxPathLength = MaxKeyLength * 2
)

// Node represents common interface of all MPT nodes. Encoding of
// branch and extension nodes depends on digests of their children,
// so the Hasher is passed explicitly.
type Node interface {
	Type() NodeType
	// Bytes returns the canonical encoding of the node.
	Bytes(h Hasher) []byte
	// Hash returns the digest of the node encoding.
	Hash(h Hasher) common.Hash
	IsFlushed() bool
	SetFlushed()
}

// reference returns the encoding of n as it's seen from its parent: either
// the node itself (for small nodes) or its digest.
func reference(n Node, h Hasher) []byte {
	switch n := n.(type) {
	case EmptyNode:
		return emptyNodeBytes
	case *HashNode:
		return encodeHashRef(n.hash)
	}
	bs := n.Bytes(h)
	if len(bs) < inlineThreshold {
		return bs
	}
	return encodeHashRef(n.Hash(h))
}

// isStored reports whether n is present in the store under its digest.
func isStored(n Node) bool {
	switch n.(type) {
	case EmptyNode:
		return false
	case *HashNode:
		return true
	}
	return n.IsFlushed()
}
