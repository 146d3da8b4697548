package mpt

import "bytes"

// Path is the result of a key lookup.
type Path struct {
	// Node is the node holding the value for the key, nil if the key is
	// missing.
	Node Node
	// Remaining is the part of the nibble path that was not consumed when
	// the walk stopped, it's empty if the key was found.
	Remaining []byte
	// Stack contains all nodes visited from the root, the last one is
	// where the walk stopped. Hash nodes are resolved.
	Stack []Node
}

// FindPath walks the trie along the key path and returns the nodes visited.
// It doesn't require the key to be present.
func (t *Trie) FindPath(key []byte) (Path, error) {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.findPath(t.path(key))
}

func (t *Trie) findPath(path []byte) (Path, error) {
	var res Path
	r, err := t.walk(t.root, path, &res)
	if err != nil {
		return Path{}, err
	}
	t.root = r
	return res, nil
}

// walk appends nodes on the path to p.Stack and returns curr with hash nodes
// along the path replaced by the resolved ones.
func (t *Trie) walk(curr Node, path []byte, p *Path) (Node, error) {
	switch n := curr.(type) {
	case *HashNode:
		r, err := t.store.Get(n.hash)
		if err != nil {
			return nil, err
		}
		return t.walk(r, path, p)
	case EmptyNode:
		p.Remaining = path
		return curr, nil
	}
	p.Stack = append(p.Stack, curr)
	switch n := curr.(type) {
	case *LeafNode:
		if bytes.Equal(path, n.key) {
			p.Node = n
			path = nil
		}
	case *BranchNode:
		if len(path) == 0 {
			if n.value != nil {
				p.Node = n
			}
			break
		}
		if _, ok := n.Children[path[0]].(EmptyNode); ok {
			break
		}
		r, err := t.walk(n.Children[path[0]], path[1:], p)
		if err != nil {
			return nil, err
		}
		n.Children[path[0]] = r
		return n, nil
	case *ExtensionNode:
		if !bytes.HasPrefix(path, n.key) {
			break
		}
		r, err := t.walk(n.next, path[len(n.key):], p)
		if err != nil {
			return nil, err
		}
		n.next = r
		return n, nil
	default:
		panic("invalid MPT node type")
	}
	p.Remaining = path
	return curr, nil
}
