package mpt

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when requested trie item is missing.
	ErrNotFound = errors.New("item not found")
	// ErrCorruptStore is returned when a node referenced by digest is
	// missing from the store or can't be decoded.
	ErrCorruptStore = errors.New("corrupt node store")
	// ErrInvalidProof is returned when a proof doesn't match the root it's
	// verified against.
	ErrInvalidProof = errors.New("invalid proof")
	// ErrLimitExceeded is returned for keys and values that are too big.
	ErrLimitExceeded = errors.New("limit exceeded")
	// ErrConstraintViolation is returned when an operation would break the
	// trie invariants.
	ErrConstraintViolation = errors.New("constraint violation")
	// ErrNoCheckpoint is returned by Commit and Revert when there is no
	// outstanding checkpoint.
	ErrNoCheckpoint = fmt.Errorf("%w: no checkpoint", ErrConstraintViolation)
)
