package mpt

import (
	"bytes"
	"errors"
)

var errStop = errors.New("stop condition is met")

// Traverse traverses MPT nodes (pre-order) starting from the root down to
// its children calling `process` for each node until true is returned from
// `process` function. pathToNode is the nibble path of the node. Hash nodes
// are resolved, but the in-memory trie is not modified, so the whole trie
// is never kept in memory.
func (t *Trie) Traverse(process func(pathToNode []byte, node Node, nodeBytes []byte) bool) error {
	t.lock.Lock()
	defer t.lock.Unlock()

	err := t.traverse(t.root, nil, process)
	if err != nil && !errors.Is(err, errStop) {
		return err
	}
	return nil
}

func (t *Trie) traverse(curr Node, path []byte, process func(pathToNode []byte, node Node, nodeBytes []byte) bool) error {
	switch n := curr.(type) {
	case EmptyNode:
		return nil
	case *HashNode:
		r, err := t.store.Get(n.hash)
		if err != nil {
			return err
		}
		return t.traverse(r, path, process)
	}
	if process(bytes.Clone(path), curr, bytes.Clone(curr.Bytes(t.hasher))) {
		return errStop
	}
	switch n := curr.(type) {
	case *LeafNode:
		return nil
	case *BranchNode:
		for i := range n.Children {
			if err := t.traverse(n.Children[i], concat(path, []byte{byte(i)}), process); err != nil {
				return err
			}
		}
		return nil
	case *ExtensionNode:
		return t.traverse(n.next, concat(path, n.key), process)
	default:
		panic("invalid MPT node type")
	}
}
