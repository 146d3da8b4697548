package random

import (
	"math/rand/v2"

	"github.com/ethereum/go-ethereum/common"
)

// String returns a random string with the n as its length.
func String(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(Int(65, 90))
	}

	return string(b)
}

// Bytes returns a random byte slice of specified length.
func Bytes(n int) []byte {
	b := make([]byte, n)
	Fill(b)
	return b
}

// Fill fills buffer with random bytes.
func Fill(buf []byte) {
	for i := range buf {
		buf[i] = byte(rand.Uint32())
	}
}

// Hash returns a random common.Hash.
func Hash() common.Hash {
	return common.BytesToHash(Bytes(common.HashLength))
}

// Int returns a random integer in [minI,maxI).
func Int(minI, maxI int) int {
	return minI + rand.IntN(maxI-minI)
}
