package mpt

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru"
	"github.com/nspcc-dev/mptkv/pkg/core/storage"
	"go.uber.org/zap"
)

// rootKeySuffix is appended to the store prefix to get the key of the
// persisted root pointer. It can't clash with node keys as those are
// exactly common.HashLength bytes long after the prefix.
var rootKeySuffix = []byte("__root__")

// refCountSize is the size of the reference counter appended to the node
// encoding when reference counting is enabled.
const refCountSize = 4

// NodeStore maps node digests to their encodings kept in the underlying
// storage.Store. Encodings are cached in LRU cache when it's enabled.
// With reference counting every entry also holds the number of places in
// the trie the node is referenced from, so identical subtrees share a single
// entry that is removed only when the last reference is released.
type NodeStore struct {
	store    storage.Store
	prefix   []byte
	hasher   Hasher
	refCount bool
	cache    *lru.Cache
	log      *zap.Logger
}

// NewNodeStore creates a NodeStore over s. Every key is prefixed with prefix,
// cacheSize of 0 disables caching. refCount enables reference counting, it
// changes the storage format, so it must be the same for every NodeStore
// opened over the same data.
func NewNodeStore(s storage.Store, prefix []byte, h Hasher, cacheSize int, refCount bool, log *zap.Logger) (*NodeStore, error) {
	ns := &NodeStore{
		store:    s,
		prefix:   prefix,
		hasher:   h,
		refCount: refCount,
		log:      log,
	}
	if cacheSize > 0 {
		c, err := lru.New(cacheSize)
		if err != nil {
			return nil, fmt.Errorf("can't create node cache: %w", err)
		}
		ns.cache = c
	}
	return ns, nil
}

func (s *NodeStore) nodeKey(h common.Hash) []byte {
	return concat(s.prefix, h[:])
}

func (s *NodeStore) rootKey() []byte {
	return concat(s.prefix, rootKeySuffix)
}

// Get resolves the node with the given digest. ErrCorruptStore is returned if
// the node is missing, can't be decoded or doesn't match the digest. Errors
// of the underlying store are returned as is.
func (s *NodeStore) Get(h common.Hash) (Node, error) {
	data, err := s.getBytes(h)
	if err != nil {
		return nil, err
	}
	if actual := s.hasher(data); actual != h {
		s.log.Warn("node digest mismatch",
			zap.Stringer("expected", h),
			zap.Stringer("actual", actual))
		return nil, fmt.Errorf("%w: node %s has digest %s", ErrCorruptStore, h, actual)
	}
	n, err := decodeNode(data)
	if err != nil {
		s.log.Warn("can't decode stored node", zap.Stringer("hash", h), zap.Error(err))
		return nil, fmt.Errorf("%w: node %s: %w", ErrCorruptStore, h, err)
	}
	if f, ok := n.(flushedNode); ok {
		f.setCache(data, h)
	}
	return n, nil
}

func (s *NodeStore) getBytes(h common.Hash) ([]byte, error) {
	if s.cache != nil {
		if data, ok := s.cache.Get(h); ok {
			cacheHits.Inc()
			return data.([]byte), nil
		}
	}
	data, _, err := s.getEntry(h)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			s.log.Warn("missing node", zap.Stringer("hash", h))
			return nil, fmt.Errorf("%w: missing node %s", ErrCorruptStore, h)
		}
		return nil, err
	}
	if s.cache != nil {
		s.cache.Add(h, data)
	}
	return data, nil
}

// getEntry reads the node entry from the underlying store and splits it into
// the encoding and the reference counter.
func (s *NodeStore) getEntry(h common.Hash) ([]byte, int, error) {
	storeReads.Inc()
	data, err := s.store.Get(s.nodeKey(h))
	if err != nil {
		return nil, 0, err
	}
	return s.splitEntry(h, data)
}

func (s *NodeStore) splitEntry(h common.Hash, data []byte) ([]byte, int, error) {
	if !s.refCount {
		return data, 1, nil
	}
	if len(data) <= refCountSize {
		return nil, 0, fmt.Errorf("%w: node %s entry is too short", ErrCorruptStore, h)
	}
	l := len(data) - refCountSize
	return data[:l], int(binary.LittleEndian.Uint32(data[l:])), nil
}

func makeEntry(data []byte, refs int) []byte {
	res := make([]byte, len(data)+refCountSize)
	copy(res, data)
	binary.LittleEndian.PutUint32(res[len(data):], uint32(refs))
	return res
}

// Put writes the given node encodings and, if root is not nil, the root
// pointer in a single atomic change set. With reference counting every node
// gets one more reference.
func (s *NodeStore) Put(nodes map[common.Hash][]byte, root *common.Hash) error {
	if s.refCount {
		refs := make(map[common.Hash]int, len(nodes))
		for h := range nodes {
			refs[h] = 1
		}
		_, err := s.Update(nodes, refs, root)
		return err
	}
	if len(nodes) == 0 && root == nil {
		return nil
	}
	cs := make(map[string][]byte, len(nodes)+1)
	for h, data := range nodes {
		cs[string(s.nodeKey(h))] = data
	}
	if root != nil {
		cs[string(s.rootKey())] = root.Bytes()
	}
	if err := s.store.PutChangeSet(cs); err != nil {
		return err
	}
	s.written(nodes)
	return nil
}

// Update changes reference counters of nodes by the given amounts and, if
// root is not nil, writes the root pointer in a single atomic change set.
// nodes contains encodings of the nodes that may be missing from the store.
// Nodes left without references are removed, the number of removed nodes is
// returned. Without reference counting it's the same as Put.
func (s *NodeStore) Update(nodes map[common.Hash][]byte, refs map[common.Hash]int, root *common.Hash) (int, error) {
	if !s.refCount {
		return 0, s.Put(nodes, root)
	}
	var (
		cs      = make(map[string][]byte, len(refs)+1)
		removed []common.Hash
	)
	for h, delta := range refs {
		if delta == 0 {
			continue
		}
		data, cnt, err := s.getEntry(h)
		if err != nil && !errors.Is(err, storage.ErrKeyNotFound) {
			return 0, err
		}
		if data == nil {
			data = nodes[h]
		}
		if data == nil {
			if delta < 0 {
				s.log.Warn("releasing missing node", zap.Stringer("hash", h), zap.Int("refs", delta))
				continue
			}
			return 0, fmt.Errorf("%w: no encoding for new node %s", ErrCorruptStore, h)
		}
		cnt += delta
		if cnt <= 0 {
			cs[string(s.nodeKey(h))] = nil
			removed = append(removed, h)
			continue
		}
		cs[string(s.nodeKey(h))] = makeEntry(data, cnt)
	}
	if root != nil {
		cs[string(s.rootKey())] = root.Bytes()
	}
	if len(cs) == 0 {
		return 0, nil
	}
	if err := s.store.PutChangeSet(cs); err != nil {
		return 0, err
	}
	s.written(nodes)
	if s.cache != nil {
		for _, h := range removed {
			s.cache.Remove(h)
		}
	}
	prunedNodes.Add(float64(len(removed)))
	return len(removed), nil
}

func (s *NodeStore) written(nodes map[common.Hash][]byte) {
	storeWrites.Add(float64(len(nodes)))
	if s.cache != nil {
		for h, data := range nodes {
			s.cache.Add(h, data)
		}
	}
}

// RefCount returns the number of references to the node, it's always 1 for
// stored nodes without reference counting.
func (s *NodeStore) RefCount(h common.Hash) (int, error) {
	_, cnt, err := s.getEntry(h)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return cnt, nil
}

// Root returns the persisted root pointer. ok is false if there is none.
func (s *NodeStore) Root() (h common.Hash, ok bool, err error) {
	data, err := s.store.Get(s.rootKey())
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return h, false, nil
		}
		return h, false, err
	}
	if len(data) != common.HashLength {
		return h, false, fmt.Errorf("%w: root pointer of %d bytes", ErrCorruptStore, len(data))
	}
	return common.BytesToHash(data), true, nil
}

// Seek iterates over all stored node entries. Keys passed to f are digests
// without the prefix, data is the node encoding. Entries that can't be parsed
// are skipped.
func (s *NodeStore) Seek(f func(h common.Hash, data []byte) bool) {
	s.store.Seek(storage.SeekRange{Prefix: s.prefix}, func(k, v []byte) bool {
		k = k[len(s.prefix):]
		if len(k) != common.HashLength {
			return true
		}
		h := common.BytesToHash(k)
		data, _, err := s.splitEntry(h, v)
		if err != nil {
			return true
		}
		return f(h, data)
	})
}
