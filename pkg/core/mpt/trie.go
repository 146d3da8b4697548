package mpt

import (
	"bytes"
	"errors"
	"fmt"
	"maps"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/nspcc-dev/mptkv/pkg/core/storage"
	"go.uber.org/zap"
)

// Config contains trie parameters.
type Config struct {
	// Store is the underlying key-value storage, it's mandatory.
	Store storage.Store
	// Hasher is used to compute node digests, Keccak256 by default.
	Hasher Hasher
	// Prefix is prepended to every key written to Store,
	// storage.DataMPT by default.
	Prefix []byte
	// KeyHashing makes the trie navigate by Hasher(key) instead of key.
	KeyHashing bool
	// Pruning enables removal of superseded nodes from Store.
	Pruning bool
	// PersistRoot makes every mutation also store the root digest, so that
	// the trie can be restored with Open.
	PersistRoot bool
	// CacheSize is the number of node encodings kept in memory, 0
	// disables the cache.
	CacheSize int
	// Log is the logger to use, no logging is done when it's nil.
	Log *zap.Logger
}

// Trie is an MPT trie storing all key-value pairs. Every mutation is
// persisted to the underlying store immediately.
type Trie struct {
	// lock serializes mutations and lookups, lookups replace hash nodes
	// with resolved ones.
	lock sync.Mutex

	store       *NodeStore
	hasher      Hasher
	log         *zap.Logger
	keyHashing  bool
	pruning     bool
	persistRoot bool

	root Node
	// durable is the digest of the last persisted root.
	durable     common.Hash
	checkpoints []checkpoint
	// stale counts references to stored nodes released by the mutation in
	// progress.
	stale map[common.Hash]int
}

// NewTrie returns new MPT trie with the given root digest. Zero digest
// and the empty root digest both mean an empty trie.
func NewTrie(root common.Hash, cfg Config) (*Trie, error) {
	if cfg.Store == nil {
		return nil, errors.New("no store")
	}
	if cfg.Hasher == nil {
		cfg.Hasher = Keccak256
	}
	if cfg.Prefix == nil {
		cfg.Prefix = []byte{byte(storage.DataMPT)}
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	ns, err := NewNodeStore(cfg.Store, cfg.Prefix, cfg.Hasher, cfg.CacheSize, cfg.Pruning, cfg.Log)
	if err != nil {
		return nil, err
	}
	t := &Trie{
		store:       ns,
		hasher:      cfg.Hasher,
		log:         cfg.Log,
		keyHashing:  cfg.KeyHashing,
		pruning:     cfg.Pruning,
		persistRoot: cfg.PersistRoot,
	}
	if root == (common.Hash{}) {
		root = EmptyRoot(cfg.Hasher)
	}
	t.root = t.rootNode(root)
	t.durable = root
	return t, nil
}

// Open returns the trie with the root persisted in cfg.Store. An empty trie
// is returned if there is no persisted root.
func Open(cfg Config) (*Trie, error) {
	t, err := NewTrie(common.Hash{}, cfg)
	if err != nil {
		return nil, err
	}
	root, ok, err := t.store.Root()
	if err != nil {
		return nil, fmt.Errorf("can't read root: %w", err)
	}
	if ok {
		t.root = t.rootNode(root)
		t.durable = root
	}
	t.log.Info("trie opened", zap.Stringer("root", t.durable), zap.Bool("restored", ok))
	return t, nil
}

func (t *Trie) rootNode(h common.Hash) Node {
	if h == EmptyRoot(t.hasher) {
		return EmptyNode{}
	}
	return NewHashNode(h)
}

// path returns the nibble path the key is stored under.
func (t *Trie) path(key []byte) []byte {
	if t.keyHashing {
		h := t.hasher(key)
		return toNibbles(h[:])
	}
	return toNibbles(key)
}

func checkLimits(key, value []byte) error {
	if len(key) > MaxKeyLength {
		return fmt.Errorf("%w: key is too big (%d bytes)", ErrLimitExceeded, len(key))
	}
	if len(value) > MaxValueLength {
		return fmt.Errorf("%w: value is too big (%d bytes)", ErrLimitExceeded, len(value))
	}
	return nil
}

// Get returns value for the provided key in t. nil is returned for
// missing keys.
func (t *Trie) Get(key []byte) ([]byte, error) {
	countOperation("get")
	if len(key) > MaxKeyLength {
		return nil, fmt.Errorf("%w: key is too big (%d bytes)", ErrLimitExceeded, len(key))
	}
	t.lock.Lock()
	defer t.lock.Unlock()

	r, bs, err := t.getWithPath(t.root, t.path(key))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	t.root = r
	return bytes.Clone(bs), nil
}

// getWithPath returns value the provided path in a subtrie rooting in curr.
// It also returns a current node with all hash nodes along the path
// replaced to their "unhashed" counterparts.
func (t *Trie) getWithPath(curr Node, path []byte) (Node, []byte, error) {
	switch n := curr.(type) {
	case *LeafNode:
		if bytes.Equal(path, n.key) {
			return curr, n.value, nil
		}
	case *BranchNode:
		if len(path) == 0 {
			if n.value == nil {
				break
			}
			return curr, n.value, nil
		}
		i, path := splitPath(path)
		r, bs, err := t.getWithPath(n.Children[i], path)
		if err != nil {
			return nil, nil, err
		}
		n.Children[i] = r
		return n, bs, nil
	case *ExtensionNode:
		if bytes.HasPrefix(path, n.key) {
			r, bs, err := t.getWithPath(n.next, path[len(n.key):])
			if err != nil {
				return nil, nil, err
			}
			n.next = r
			return curr, bs, nil
		}
	case *HashNode:
		r, err := t.store.Get(n.hash)
		if err != nil {
			return nil, nil, err
		}
		return t.getWithPath(r, path)
	case EmptyNode:
	default:
		panic("invalid MPT node type")
	}
	return curr, nil, ErrNotFound
}

// Put puts key-value pair in t. Empty value removes the key.
func (t *Trie) Put(key, value []byte) error {
	if err := checkLimits(key, value); err != nil {
		return err
	}
	t.lock.Lock()
	defer t.lock.Unlock()

	if len(value) == 0 {
		return t.delete(key)
	}
	countOperation("put")
	t.stale = nil
	if err := t.put(key, value); err != nil {
		t.reset()
		return err
	}
	return t.commit()
}

func (t *Trie) put(key, value []byte) error {
	r, err := t.putIntoNode(t.root, t.path(key), bytes.Clone(value))
	if err != nil {
		return err
	}
	t.root = r
	return nil
}

// supersede releases the reference to the stored node n held by its place
// in the trie. It must be called before n is modified.
func (t *Trie) supersede(n Node) {
	if !t.pruning || !isStored(n) {
		return
	}
	if t.stale == nil {
		t.stale = make(map[common.Hash]int)
	}
	t.stale[n.Hash(t.hasher)]++
}

// putIntoLeaf puts val to trie if current node is a Leaf.
// It returns Node if curr needs to be replaced and error if any.
func (t *Trie) putIntoLeaf(curr *LeafNode, path []byte, val []byte) (Node, error) {
	t.supersede(curr)
	if bytes.Equal(path, curr.key) {
		return NewLeafNode(curr.key, val), nil
	}

	pref := lcp(curr.key, path)
	lp := len(pref)
	b := NewBranchNode()
	b.place(curr.key[lp:], curr.value)
	b.place(path[lp:], val)
	return newSubTrie(pref, b), nil
}

// place puts the value into the branch or into a new leaf under it.
func (b *BranchNode) place(path []byte, val []byte) {
	if len(path) == 0 {
		b.value = val
		return
	}
	i, path := splitPath(path)
	b.Children[i] = NewLeafNode(path, val)
}

// putIntoBranch puts val to trie if current node is a Branch.
// It returns Node if curr needs to be replaced and error if any.
func (t *Trie) putIntoBranch(curr *BranchNode, path []byte, val []byte) (Node, error) {
	if len(path) == 0 {
		t.supersede(curr)
		curr.value = val
		curr.invalidateCache()
		return curr, nil
	}
	i, path := splitPath(path)
	r, err := t.putIntoNode(curr.Children[i], path, val)
	if err != nil {
		return nil, err
	}
	t.supersede(curr)
	curr.Children[i] = r
	curr.invalidateCache()
	return curr, nil
}

// putIntoExtension puts val to trie if current node is an Extension.
// It returns Node if curr needs to be replaced and error if any.
func (t *Trie) putIntoExtension(curr *ExtensionNode, path []byte, val []byte) (Node, error) {
	if bytes.HasPrefix(path, curr.key) {
		r, err := t.putIntoNode(curr.next, path[len(curr.key):], val)
		if err != nil {
			return nil, err
		}
		t.supersede(curr)
		curr.next = r
		curr.invalidateCache()
		return curr, nil
	}

	t.supersede(curr)
	pref := lcp(curr.key, path)
	lp := len(pref)
	keyTail := curr.key[lp:]

	b := NewBranchNode()
	i, keyTail := splitPath(keyTail)
	b.Children[i] = newSubTrie(keyTail, curr.next)
	b.place(path[lp:], val)
	return newSubTrie(pref, b), nil
}

// newSubTrie wraps the node into an extension with the given path if it's
// not empty.
func newSubTrie(path []byte, n Node) Node {
	if len(path) == 0 {
		return n
	}
	return NewExtensionNode(bytes.Clone(path), n)
}

func (t *Trie) putIntoNode(curr Node, path []byte, val []byte) (Node, error) {
	switch n := curr.(type) {
	case *LeafNode:
		return t.putIntoLeaf(n, path, val)
	case *BranchNode:
		return t.putIntoBranch(n, path, val)
	case *ExtensionNode:
		return t.putIntoExtension(n, path, val)
	case *HashNode:
		r, err := t.store.Get(n.hash)
		if err != nil {
			return nil, err
		}
		return t.putIntoNode(r, path, val)
	case EmptyNode:
		return NewLeafNode(bytes.Clone(path), val), nil
	default:
		panic("invalid MPT node type")
	}
}

// Delete removes key from trie.
// It returns no error on missing key.
func (t *Trie) Delete(key []byte) error {
	if len(key) > MaxKeyLength {
		return fmt.Errorf("%w: key is too big (%d bytes)", ErrLimitExceeded, len(key))
	}
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.delete(key)
}

func (t *Trie) delete(key []byte) error {
	countOperation("delete")
	t.stale = nil
	changed, err := t.deleteKey(key)
	if err != nil {
		t.reset()
		return err
	}
	if !changed {
		return nil
	}
	return t.commit()
}

// deleteKey removes the key from the in-memory trie and reports whether
// there was anything to remove.
func (t *Trie) deleteKey(key []byte) (bool, error) {
	r, err := t.deleteFromNode(t.root, t.path(key))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	t.root = r
	return true, nil
}

func (t *Trie) deleteFromBranch(b *BranchNode, path []byte) (Node, error) {
	if len(path) == 0 {
		if b.value == nil {
			return nil, ErrNotFound
		}
		t.supersede(b)
		b.value = nil
	} else {
		i, path := splitPath(path)
		r, err := t.deleteFromNode(b.Children[i], path)
		if err != nil {
			return nil, err
		}
		t.supersede(b)
		b.Children[i] = r
	}
	b.invalidateCache()

	count, index := b.splitChildren()
	if count > 1 || (count == 1 && b.value != nil) {
		return b, nil
	}
	if count == 0 {
		// Only the value is left.
		return NewLeafNode(nil, b.value), nil
	}
	c := b.Children[index]
	if h, ok := c.(*HashNode); ok {
		var err error
		c, err = t.store.Get(h.hash)
		if err != nil {
			return nil, err
		}
	}
	switch c := c.(type) {
	case *ExtensionNode:
		t.supersede(c)
		c.key = concat([]byte{index}, c.key)
		c.invalidateCache()
		return c, nil
	case *LeafNode:
		t.supersede(c)
		c.key = concat([]byte{index}, c.key)
		c.invalidateCache()
		return c, nil
	}
	return NewExtensionNode([]byte{index}, c), nil
}

func (t *Trie) deleteFromExtension(n *ExtensionNode, path []byte) (Node, error) {
	if !bytes.HasPrefix(path, n.key) {
		return nil, ErrNotFound
	}
	r, err := t.deleteFromNode(n.next, path[len(n.key):])
	if err != nil {
		return nil, err
	}
	t.supersede(n)
	switch nxt := r.(type) {
	case *ExtensionNode:
		t.supersede(nxt)
		n.key = concat(n.key, nxt.key)
		n.next = nxt.next
	case *LeafNode:
		t.supersede(nxt)
		nxt.key = concat(n.key, nxt.key)
		nxt.invalidateCache()
		return nxt, nil
	default:
		n.next = r
	}
	n.invalidateCache()
	return n, nil
}

func (t *Trie) deleteFromNode(curr Node, path []byte) (Node, error) {
	switch n := curr.(type) {
	case *LeafNode:
		if bytes.Equal(path, n.key) {
			t.supersede(n)
			return EmptyNode{}, nil
		}
		return nil, ErrNotFound
	case *BranchNode:
		return t.deleteFromBranch(n, path)
	case *ExtensionNode:
		return t.deleteFromExtension(n, path)
	case *HashNode:
		newNode, err := t.store.Get(n.hash)
		if err != nil {
			return nil, err
		}
		return t.deleteFromNode(newNode, path)
	case EmptyNode:
		return nil, ErrNotFound
	default:
		panic("invalid MPT node type")
	}
}

// StateRoot returns root hash of t.
func (t *Trie) StateRoot() common.Hash {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.durable
}

// reset drops the in-memory state of the trie, the next access starts
// from the last persisted root.
func (t *Trie) reset() {
	t.root = t.rootNode(t.durable)
	t.stale = nil
}

// commit persists every node of the trie that is not yet stored and
// releases nodes superseded by the last mutation.
func (t *Trie) commit() error {
	var (
		nodes   = make(map[common.Hash][]byte)
		refs    map[common.Hash]int
		written []Node
	)
	if t.pruning {
		refs = make(map[common.Hash]int)
	}
	t.collectNodes(t.root, true, nodes, refs, &written)
	root := t.root.Hash(t.hasher)
	var rootPtr *common.Hash
	if t.persistRoot {
		rootPtr = &root
	}
	var err error
	if t.pruning {
		err = t.updateRefs(nodes, refs, rootPtr)
	} else {
		err = t.store.Put(nodes, rootPtr)
	}
	if err != nil {
		t.reset()
		return fmt.Errorf("can't persist trie: %w", err)
	}
	for _, n := range written {
		n.SetFlushed()
	}
	t.durable = root
	t.stale = nil
	return nil
}

// collectNodes gathers encodings of all nodes under n that need to be
// stored: the root and nodes that are too big to be embedded. refs counts
// the places every written node occupies, it's nil without pruning.
func (t *Trie) collectNodes(n Node, isRoot bool, nodes map[common.Hash][]byte, refs map[common.Hash]int, written *[]Node) {
	switch n.(type) {
	case *HashNode, EmptyNode:
		return
	}
	if n.IsFlushed() {
		if !isRoot && t.pruning && len(n.Bytes(t.hasher)) < inlineThreshold {
			// Former root that is embedded into its parent now.
			t.supersede(n)
			n.(flushedNode).invalidateCache()
		}
		return
	}
	switch n := n.(type) {
	case *BranchNode:
		for i := range n.Children {
			t.collectNodes(n.Children[i], false, nodes, refs, written)
		}
	case *ExtensionNode:
		t.collectNodes(n.next, false, nodes, refs, written)
	}
	bs := n.Bytes(t.hasher)
	if isRoot || len(bs) >= inlineThreshold {
		h := n.Hash(t.hasher)
		nodes[h] = bs
		if refs != nil {
			refs[h]++
		}
		*written = append(*written, n)
	}
}

// updateRefs stores new nodes and applies reference changes made by the last
// mutation. Inside a checkpoint released references are kept until it's
// committed, so that Revert can restore the old root.
func (t *Trie) updateRefs(nodes map[common.Hash][]byte, added map[common.Hash]int, root *common.Hash) error {
	delta := maps.Clone(added)
	if len(t.checkpoints) == 0 {
		for h, c := range t.stale {
			delta[h] -= c
		}
	}
	removed, err := t.store.Update(nodes, delta, root)
	if err != nil {
		return err
	}
	if n := len(t.checkpoints); n > 0 {
		t.checkpoints[n-1].record(t.stale, added)
	}
	if removed > 0 {
		t.log.Debug("pruned trie nodes", zap.Int("count", removed))
	}
	return nil
}

// release drops the given number of references to every node.
func (t *Trie) release(refs map[common.Hash]int, root *common.Hash) error {
	delta := make(map[common.Hash]int, len(refs))
	for h, c := range refs {
		delta[h] = -c
	}
	removed, err := t.store.Update(nil, delta, root)
	if err != nil {
		return fmt.Errorf("can't prune trie: %w", err)
	}
	if removed > 0 {
		t.log.Debug("pruned trie nodes", zap.Int("count", removed))
	}
	return nil
}

// Collapse compresses all stored nodes at depth n to the hash nodes,
// embedded nodes are kept as is.
func (t *Trie) Collapse(depth int) {
	if depth < 0 {
		panic("negative depth")
	}
	t.lock.Lock()
	defer t.lock.Unlock()
	t.root = t.collapse(depth, t.root, true)
}

func (t *Trie) collapse(depth int, node Node, isRoot bool) Node {
	switch node.(type) {
	case *HashNode, EmptyNode:
		return node
	}
	if depth == 0 {
		if node.IsFlushed() && (isRoot || len(node.Bytes(t.hasher)) >= inlineThreshold) {
			return NewHashNode(node.Hash(t.hasher))
		}
		return node
	}

	switch n := node.(type) {
	case *BranchNode:
		for i := range n.Children {
			n.Children[i] = t.collapse(depth-1, n.Children[i], false)
		}
	case *ExtensionNode:
		n.next = t.collapse(depth-1, n.next, false)
	case *LeafNode:
	default:
		panic("invalid MPT node type")
	}
	return node
}
