package storage

import (
	"bytes"
	"slices"
)

// MemCachedStore is a wrapper around persistent store that caches all changes
// being made for them to be later flushed in one batch. Deletions are kept
// as nil values until Persist.
type MemCachedStore struct {
	MemoryStore

	// Persistent Store.
	ps Store
}

// NewMemCachedStore creates a new MemCachedStore object.
func NewMemCachedStore(lower Store) *MemCachedStore {
	return &MemCachedStore{
		MemoryStore: *NewMemoryStore(),
		ps:          lower,
	}
}

// Get implements the Store interface.
func (s *MemCachedStore) Get(key []byte) ([]byte, error) {
	s.mut.RLock()
	defer s.mut.RUnlock()
	if val, ok := s.mem[string(key)]; ok {
		if val == nil {
			return nil, ErrKeyNotFound
		}
		return val, nil
	}
	return s.ps.Get(key)
}

// Put puts the given key-value pair into the cache.
func (s *MemCachedStore) Put(key, value []byte) {
	s.mut.Lock()
	s.put(string(key), bytes.Clone(value))
	s.mut.Unlock()
}

// Delete marks the given key as deleted.
func (s *MemCachedStore) Delete(key []byte) {
	s.mut.Lock()
	s.put(string(key), nil)
	s.mut.Unlock()
}

// PutChangeSet implements the Store interface. Changes are kept in memory
// until Persist is called. Never returns an error.
func (s *MemCachedStore) PutChangeSet(puts map[string][]byte) error {
	s.mut.Lock()
	for k, v := range puts {
		s.put(k, bytes.Clone(v))
	}
	s.mut.Unlock()
	return nil
}

// Seek implements the Store interface. Cached changes take priority over
// the data in the lower store.
func (s *MemCachedStore) Seek(rng SeekRange, f func(k, v []byte) bool) {
	s.mut.RLock()
	var res []KeyValue
	for _, kv := range s.MemoryStore.collect(rng) {
		res = append(res, KeyValue{Key: kv.Key, Value: bytes.Clone(kv.Value)})
	}
	s.ps.Seek(rng, func(k, v []byte) bool {
		// Values present in mem (including deleted ones) override the lower store.
		if _, present := s.mem[string(k)]; !present {
			res = append(res, KeyValue{Key: bytes.Clone(k), Value: bytes.Clone(v)})
		}
		return true
	})
	s.mut.RUnlock()

	slices.SortFunc(res, func(a, b KeyValue) int {
		if rng.Backwards {
			return bytes.Compare(b.Key, a.Key)
		}
		return bytes.Compare(a.Key, b.Key)
	})
	for _, kv := range res {
		if !f(kv.Key, kv.Value) {
			break
		}
	}
}

// Persist flushes all the MemoryStore contents into the (supposedly) persistent
// store ps in a single change set. It returns the number of flushed entries.
func (s *MemCachedStore) Persist() (int, error) {
	s.mut.Lock()
	defer s.mut.Unlock()

	keys := len(s.mem)
	if keys == 0 {
		return 0, nil
	}
	err := s.ps.PutChangeSet(s.mem)
	if err == nil {
		s.mem = make(map[string][]byte)
	}
	return keys, err
}

// Close implements Store interface, clears up memory and closes the lower layer
// Store.
func (s *MemCachedStore) Close() error {
	// It's always successful.
	_ = s.MemoryStore.Close()
	return s.ps.Close()
}
