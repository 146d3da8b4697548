package mpt

import (
	"github.com/ethereum/go-ethereum/common"
)

// EmptyNode represents empty node.
type EmptyNode struct{}

var _ Node = EmptyNode{}

// Type implements Node interface.
func (e EmptyNode) Type() NodeType { return EmptyT }

// Bytes implements Node interface.
func (e EmptyNode) Bytes(Hasher) []byte {
	return emptyNodeBytes
}

// Hash implements Node interface.
func (e EmptyNode) Hash(h Hasher) common.Hash {
	return h(emptyNodeBytes)
}

// IsFlushed implements Node interface, empty node is never stored.
func (e EmptyNode) IsFlushed() bool { return true }

// SetFlushed implements Node interface.
func (e EmptyNode) SetFlushed() {}
