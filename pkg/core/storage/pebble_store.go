package storage

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/nspcc-dev/mptkv/pkg/core/storage/dbconfig"
)

// PebbleStore is a Store implementation backed by Pebble.
type PebbleStore struct {
	db *pebble.DB
}

// NewPebbleDBStore opens (or creates) a Pebble database at the configured
// directory.
func NewPebbleDBStore(cfg dbconfig.PebbleDBOptions) (*PebbleStore, error) {
	opts := &pebble.Options{
		ReadOnly:           cfg.ReadOnly,
		ErrorIfNotExists:   cfg.ReadOnly,
		MaxOpenFiles:       1024,
		MemTableSize:       64 << 20,
		BytesPerSync:       512 << 10,
		WALBytesPerSync:    512 << 10,
		DisableWAL:         false,
		FormatMajorVersion: pebble.FormatNewest,
	}
	db, err := pebble.Open(cfg.DataDirectoryPath, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open Pebble instance: %w", err)
	}
	return &PebbleStore{db: db}, nil
}

// Get implements the Store interface.
func (s *PebbleStore) Get(key []byte) ([]byte, error) {
	val, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	res := bytes.Clone(val)
	return res, closer.Close()
}

// PutChangeSet implements the Store interface.
func (s *PebbleStore) PutChangeSet(puts map[string][]byte) error {
	b := s.db.NewBatch()
	defer b.Close()
	for k, v := range puts {
		var err error
		if v != nil {
			err = b.Set([]byte(k), v, nil)
		} else {
			err = b.Delete([]byte(k), nil)
		}
		if err != nil {
			return err
		}
	}
	return b.Commit(pebble.Sync)
}

// Seek implements the Store interface.
func (s *PebbleStore) Seek(rng SeekRange, f func(k, v []byte) bool) {
	rang := seekRangeToPrefixes(rng)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: rang.Start,
		UpperBound: rang.Limit,
	})
	if err != nil {
		return
	}
	defer iter.Close()

	var (
		ok   bool
		next func() bool
	)
	if !rng.Backwards {
		ok = iter.First()
		next = iter.Next
	} else {
		ok = iter.Last()
		next = iter.Prev
	}
	for ; ok; ok = next() {
		if !f(iter.Key(), iter.Value()) {
			break
		}
	}
}

// Close implements the Store interface.
func (s *PebbleStore) Close() error {
	return s.db.Close()
}
