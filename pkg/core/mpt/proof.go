package mpt

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// GetProof returns a proof for the key in t. Proof consists of serialized
// nodes occurring on path from the root to the place where the key is stored
// or where the path diverges, so it's also valid for missing keys.
func (t *Trie) GetProof(key []byte) ([][]byte, error) {
	countOperation("proof")
	if len(key) > MaxKeyLength {
		return nil, fmt.Errorf("%w: key is too big (%d bytes)", ErrLimitExceeded, len(key))
	}
	t.lock.Lock()
	defer t.lock.Unlock()

	p, err := t.findPath(t.path(key))
	if err != nil {
		return nil, err
	}
	proof := make([][]byte, 0, len(p.Stack))
	for _, n := range p.Stack {
		proof = append(proof, bytes.Clone(n.Bytes(t.hasher)))
	}
	return proof, nil
}

// VerifyProof verifies the proof against the given root using the trie
// parameters (hash function and key hashing).
func (t *Trie) VerifyProof(root common.Hash, key []byte, proof [][]byte) ([]byte, error) {
	countOperation("verify")
	return verifyPath(t.hasher, root, t.path(key), proof)
}

// VerifyProof verifies that the key belongs (or doesn't belong) to the
// Keccak256 trie with the specified root. It returns the value for the key,
// nil value without error means the proof shows that the key is missing.
// ErrInvalidProof is returned if the proof doesn't match the root.
func VerifyProof(root common.Hash, key []byte, proof [][]byte) ([]byte, error) {
	return VerifyProofWith(Keccak256, root, key, proof)
}

// VerifyProofWith is the same as VerifyProof, but uses the given Hasher.
func VerifyProofWith(h Hasher, root common.Hash, key []byte, proof [][]byte) ([]byte, error) {
	return verifyPath(h, root, toNibbles(key), proof)
}

// verifyPath replays the lookup using only proof nodes. Every reference
// made by digest must be resolved with the next unused proof entry.
// Embedded nodes are taken from their parent, they can't reference other
// nodes by digest, so the walk ends inside them. Unused entries are ignored.
func verifyPath(h Hasher, root common.Hash, path []byte, proof [][]byte) ([]byte, error) {
	if len(proof) == 0 {
		if root == EmptyRoot(h) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: empty proof", ErrInvalidProof)
	}
	var (
		next = 1
		curr Node
	)
	if h(proof[0]) != root {
		return nil, fmt.Errorf("%w: root mismatch", ErrInvalidProof)
	}
	curr, err := decodeNode(proof[0])
	if err != nil {
		return nil, fmt.Errorf("%w: root node: %w", ErrInvalidProof, err)
	}
	for {
		var child Node
		switch n := curr.(type) {
		case *LeafNode:
			if bytes.Equal(path, n.key) {
				return bytes.Clone(n.value), nil
			}
			return nil, nil
		case *ExtensionNode:
			if !bytes.HasPrefix(path, n.key) {
				return nil, nil
			}
			path = path[len(n.key):]
			child = n.next
		case *BranchNode:
			if len(path) == 0 {
				return bytes.Clone(n.value), nil
			}
			child = n.Children[path[0]]
			path = path[1:]
		case EmptyNode:
			return nil, nil
		}

		switch c := child.(type) {
		case EmptyNode:
			return nil, nil
		case *HashNode:
			if next == len(proof) {
				return nil, fmt.Errorf("%w: missing node %s", ErrInvalidProof, c.hash)
			}
			data := proof[next]
			next++
			if h(data) != c.hash {
				return nil, fmt.Errorf("%w: node %d doesn't match its reference", ErrInvalidProof, next-1)
			}
			curr, err = decodeNode(data)
			if err != nil {
				return nil, fmt.Errorf("%w: node %d: %w", ErrInvalidProof, next-1, err)
			}
			if _, ok := curr.(EmptyNode); ok {
				return nil, fmt.Errorf("%w: reference to an empty node", ErrInvalidProof)
			}
		default:
			curr = c
		}
	}
}
