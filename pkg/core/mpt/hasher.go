package mpt

import (
	"crypto/sha256"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

// Hasher computes node digests. Any collision-resistant function with
// a 32-byte output can be used.
type Hasher func(data []byte) common.Hash

// Supported hash function names.
const (
	HashKeccak256 = "keccak256"
	HashSha256    = "sha256"
)

// Keccak256 is the Ethereum-compatible default Hasher.
func Keccak256(data []byte) common.Hash {
	var h common.Hash
	d := sha3.NewLegacyKeccak256()
	d.Write(data)
	d.Sum(h[:0])
	return h
}

// Sha256 is a Hasher based on SHA-256.
func Sha256(data []byte) common.Hash {
	return common.Hash(sha256.Sum256(data))
}

// HasherByName returns a Hasher for the given name, empty name means
// Keccak256.
func HasherByName(name string) (Hasher, error) {
	switch name {
	case "", HashKeccak256:
		return Keccak256, nil
	case HashSha256:
		return Sha256, nil
	default:
		return nil, fmt.Errorf("unknown hash function: %s", name)
	}
}

// EmptyRoot returns the root digest of an empty trie for the given Hasher.
func EmptyRoot(h Hasher) common.Hash {
	return h(emptyNodeBytes)
}
