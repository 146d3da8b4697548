package mpt

import (
	"github.com/ethereum/go-ethereum/common"
)

// HashNode represents a reference to a node stored by its digest.
type HashNode struct {
	BaseNode
}

var _ Node = (*HashNode)(nil)

// NewHashNode returns hash node with the specified hash.
func NewHashNode(h common.Hash) *HashNode {
	return &HashNode{
		BaseNode: BaseNode{
			hash:      h,
			hashValid: true,
			isFlushed: true,
		},
	}
}

// Type implements Node interface.
func (h *HashNode) Type() NodeType { return HashT }

// Hash implements Node interface.
func (h *HashNode) Hash(Hasher) common.Hash {
	return h.hash
}

// Bytes implements Node interface. HashNode has no encoding of its own,
// it must be resolved first.
func (h *HashNode) Bytes(Hasher) []byte {
	panic("can't get bytes of a HashNode")
}
