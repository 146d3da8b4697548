package mpt

import (
	"github.com/ethereum/go-ethereum/common"
)

// BranchNode represents MPT's branch node: one child per nibble and an
// optional value for the key terminating at this node.
type BranchNode struct {
	BaseNode
	Children [childrenCount]Node
	value    []byte
}

var _ Node = (*BranchNode)(nil)

// NewBranchNode returns new branch node.
func NewBranchNode() *BranchNode {
	b := new(BranchNode)
	for i := range childrenCount {
		b.Children[i] = EmptyNode{}
	}
	return b
}

// Type implements Node interface.
func (b *BranchNode) Type() NodeType { return BranchT }

// Hash implements Node interface.
func (b *BranchNode) Hash(h Hasher) common.Hash {
	return b.getHash(b, h)
}

// Bytes implements Node interface.
func (b *BranchNode) Bytes(h Hasher) []byte {
	return b.getBytes(b, h)
}

// Value returns the value stored in the branch, nil if there is none.
func (b *BranchNode) Value() []byte {
	return b.value
}

// splitChildren returns the number of non-empty children and the index of
// the last one.
func (b *BranchNode) splitChildren() (int, byte) {
	var (
		count int
		index byte
	)
	for i := range b.Children {
		if _, ok := b.Children[i].(EmptyNode); !ok {
			count++
			index = byte(i)
		}
	}
	return count, index
}
