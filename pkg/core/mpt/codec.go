package mpt

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
)

// emptyNodeBytes is the encoding of an empty node (empty RLP string).
var emptyNodeBytes = []byte{0x80}

var (
	errInvalidPath   = errors.New("invalid compact path")
	errInvalidRef    = errors.New("invalid child reference")
	errTrailingBytes = errors.New("trailing bytes after node")
)

// encodeNode returns the canonical RLP encoding of n.
func encodeNode(n Node, h Hasher) []byte {
	w := rlp.NewEncoderBuffer(nil)
	switch n := n.(type) {
	case *LeafNode:
		offset := w.List()
		w.WriteBytes(hexPrefixEncode(n.key, true))
		w.WriteBytes(n.value)
		w.ListEnd(offset)
	case *ExtensionNode:
		offset := w.List()
		w.WriteBytes(hexPrefixEncode(n.key, false))
		_, _ = w.Write(reference(n.next, h))
		w.ListEnd(offset)
	case *BranchNode:
		offset := w.List()
		for i := range n.Children {
			_, _ = w.Write(reference(n.Children[i], h))
		}
		w.WriteBytes(n.value)
		w.ListEnd(offset)
	case EmptyNode:
		return emptyNodeBytes
	default:
		panic(fmt.Sprintf("can't encode node of type %d", n.Type()))
	}
	return w.ToBytes()
}

// encodeHashRef returns digest reference encoding.
func encodeHashRef(h common.Hash) []byte {
	res := make([]byte, 1+common.HashLength)
	res[0] = 0x80 + common.HashLength
	copy(res[1:], h[:])
	return res
}

// hexPrefixEncode packs a nibble path into bytes prefixed with a flag
// nibble holding the leaf/extension bit and path parity.
func hexPrefixEncode(path []byte, leaf bool) []byte {
	var flag byte
	if leaf {
		flag = 2
	}
	odd := len(path) & 1
	res := make([]byte, len(path)/2+1)
	res[0] = (flag + byte(odd)) << 4
	if odd == 1 {
		res[0] |= path[0]
		path = path[1:]
	}
	for i := 0; i < len(path); i += 2 {
		res[i/2+1] = path[i]<<4 | path[i+1]
	}
	return res
}

// hexPrefixDecode is the inverse of hexPrefixEncode.
func hexPrefixDecode(data []byte) ([]byte, bool, error) {
	if len(data) == 0 {
		return nil, false, errInvalidPath
	}
	flag := data[0] >> 4
	if flag > 3 {
		return nil, false, fmt.Errorf("%w: flag %d", errInvalidPath, flag)
	}
	var (
		leaf = flag&2 != 0
		odd  = flag&1 != 0
	)
	if !odd && data[0]&0x0F != 0 {
		return nil, false, fmt.Errorf("%w: non-zero padding", errInvalidPath)
	}
	var path []byte
	if odd {
		path = make([]byte, 0, 1+2*(len(data)-1))
		path = append(path, data[0]&0x0F)
	}
	path = append(path, toNibbles(data[1:])...)
	return path, leaf, nil
}

// DecodeNode decodes a node from its canonical encoding. Children referenced
// by digest are returned as HashNodes, embedded ones are decoded in place.
func DecodeNode(data []byte) (Node, error) {
	return decodeNode(data)
}

func decodeNode(data []byte) (Node, error) {
	if bytes.Equal(data, emptyNodeBytes) {
		return EmptyNode{}, nil
	}
	elems, rest, err := rlp.SplitList(data)
	if err != nil {
		return nil, fmt.Errorf("decode error: %w", err)
	}
	if len(rest) != 0 {
		return nil, errTrailingBytes
	}
	switch c, _ := rlp.CountValues(elems); c {
	case 2:
		return decodeShort(elems)
	case childrenCount + 1:
		return decodeFull(elems)
	default:
		return nil, fmt.Errorf("invalid number of list elements: %v", c)
	}
}

func decodeShort(elems []byte) (Node, error) {
	kbuf, rest, err := rlp.SplitString(elems)
	if err != nil {
		return nil, err
	}
	key, leaf, err := hexPrefixDecode(kbuf)
	if err != nil {
		return nil, err
	}
	if len(key) > maxPathLength {
		return nil, fmt.Errorf("path is too big: %d", len(key))
	}
	if leaf {
		val, _, err := rlp.SplitString(rest)
		if err != nil {
			return nil, fmt.Errorf("invalid value node: %w", err)
		}
		if len(val) == 0 {
			return nil, errors.New("empty leaf value")
		}
		return NewLeafNode(key, bytes.Clone(val)), nil
	}
	if len(key) == 0 {
		return nil, errors.New("empty extension path")
	}
	next, _, err := decodeRef(rest)
	if err != nil {
		return nil, err
	}
	switch next.(type) {
	case EmptyNode, *LeafNode, *ExtensionNode:
		return nil, errors.New("extension must point to a branch")
	}
	return NewExtensionNode(key, next), nil
}

func decodeFull(elems []byte) (*BranchNode, error) {
	n := NewBranchNode()
	for i := range childrenCount {
		cld, rest, err := decodeRef(elems)
		if err != nil {
			return nil, fmt.Errorf("child %d: %w", i, err)
		}
		n.Children[i] = cld
		elems = rest
	}
	val, _, err := rlp.SplitString(elems)
	if err != nil {
		return nil, err
	}
	if len(val) > 0 {
		n.value = bytes.Clone(val)
	}
	count, _ := n.splitChildren()
	if n.value != nil {
		count++
	}
	if count < 2 {
		return nil, errors.New("degenerate branch")
	}
	return n, nil
}

func decodeRef(buf []byte) (Node, []byte, error) {
	kind, val, rest, err := rlp.Split(buf)
	if err != nil {
		return nil, buf, err
	}
	switch {
	case kind == rlp.List:
		// Embedded node, it must be smaller than a digest reference.
		if size := len(buf) - len(rest); size >= inlineThreshold {
			return nil, buf, fmt.Errorf("%w: oversized embedded node (%d bytes)", errInvalidRef, size)
		}
		n, err := decodeNode(buf[:len(buf)-len(rest)])
		return n, rest, err
	case kind == rlp.String && len(val) == 0:
		return EmptyNode{}, rest, nil
	case kind == rlp.String && len(val) == common.HashLength:
		return NewHashNode(common.BytesToHash(val)), rest, nil
	default:
		return nil, nil, fmt.Errorf("%w: string of size %d", errInvalidRef, len(val))
	}
}
