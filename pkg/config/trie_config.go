package config

import (
	"encoding/hex"
	"fmt"

	"github.com/nspcc-dev/mptkv/pkg/core/mpt"
	"github.com/nspcc-dev/mptkv/pkg/core/storage"
	"go.uber.org/zap"
)

// DefaultCacheSize is the default number of node encodings kept in the
// node store cache.
const DefaultCacheSize = 4096

// Trie contains the trie settings.
type Trie struct {
	// HashFunction is either "keccak256" (default) or "sha256".
	HashFunction string `yaml:"HashFunction"`
	// Prefix is a hex-encoded prefix of all trie keys in the database.
	Prefix string `yaml:"Prefix"`
	// KeyHashing enables navigation by key digests instead of raw keys.
	KeyHashing bool `yaml:"KeyHashing"`
	// Pruning enables removal of nodes that are no longer reachable.
	Pruning     bool `yaml:"Pruning"`
	PersistRoot bool `yaml:"PersistRoot"`
	// CacheSize is the number of node cache entries, 0 disables caching.
	CacheSize int `yaml:"CacheSize"`
}

// DefaultTrie returns the default trie settings.
func DefaultTrie() Trie {
	return Trie{
		HashFunction: mpt.HashKeccak256,
		Prefix:       hex.EncodeToString(storage.DataMPT.Bytes()),
		PersistRoot:  true,
		CacheSize:    DefaultCacheSize,
	}
}

// Validate checks the trie settings.
func (t Trie) Validate() error {
	if _, err := mpt.HasherByName(t.HashFunction); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if _, err := hex.DecodeString(t.Prefix); err != nil {
		return fmt.Errorf("%w: Prefix: %w", ErrInvalidConfig, err)
	}
	if t.CacheSize < 0 {
		return fmt.Errorf("%w: negative CacheSize %d", ErrInvalidConfig, t.CacheSize)
	}
	return nil
}

// MPTConfig builds trie configuration over the given store.
func (t Trie) MPTConfig(s storage.Store, log *zap.Logger) (mpt.Config, error) {
	h, err := mpt.HasherByName(t.HashFunction)
	if err != nil {
		return mpt.Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	prefix, err := hex.DecodeString(t.Prefix)
	if err != nil {
		return mpt.Config{}, fmt.Errorf("%w: Prefix: %w", ErrInvalidConfig, err)
	}
	return mpt.Config{
		Store:       s,
		Hasher:      h,
		Prefix:      prefix,
		KeyHashing:  t.KeyHashing,
		Pruning:     t.Pruning,
		PersistRoot: t.PersistRoot,
		CacheSize:   t.CacheSize,
		Log:         log,
	}, nil
}
