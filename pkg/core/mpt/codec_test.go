package mpt

import (
	"encoding/hex"
	"testing"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/nspcc-dev/mptkv/internal/random"
	"github.com/stretchr/testify/require"
)

func TestHexPrefix(t *testing.T) {
	testCases := []struct {
		path    []byte
		leaf    bool
		encoded string
	}{
		{[]byte{1, 2, 3, 4, 5}, false, "112345"},
		{[]byte{0, 1, 2, 3, 4, 5}, false, "00012345"},
		{[]byte{0, 0xf, 1, 0xc, 0xb, 8}, true, "200f1cb8"},
		{[]byte{0xf, 1, 0xc, 0xb, 8}, true, "3f1cb8"},
		{nil, true, "20"},
		{[]byte{7}, false, "17"},
	}
	for _, tc := range testCases {
		actual := hexPrefixEncode(tc.path, tc.leaf)
		require.Equal(t, tc.encoded, hex.EncodeToString(actual))

		path, leaf, err := hexPrefixDecode(actual)
		require.NoError(t, err)
		require.Equal(t, tc.leaf, leaf)
		require.Equal(t, tc.path, path)
	}

	t.Run("invalid", func(t *testing.T) {
		for _, data := range [][]byte{nil, {0x40}, {0x01}, {0x25, 0x12}} {
			_, _, err := hexPrefixDecode(data)
			require.ErrorIs(t, err, errInvalidPath, "%x", data)
		}
	})
}

func testNodeRoundTrip(t *testing.T, n Node) {
	bs := n.Bytes(Keccak256)
	actual, err := DecodeNode(bs)
	require.NoError(t, err)
	require.Equal(t, n.Type(), actual.Type())
	require.Equal(t, bs, actual.Bytes(Keccak256))
	require.Equal(t, n.Hash(Keccak256), actual.Hash(Keccak256))
}

func TestNode_RoundTrip(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		n, err := DecodeNode([]byte{0x80})
		require.NoError(t, err)
		require.Equal(t, EmptyNode{}, n)
	})
	t.Run("leaf", func(t *testing.T) {
		testNodeRoundTrip(t, NewLeafNode([]byte{1, 2, 3}, []byte("value")))
		testNodeRoundTrip(t, NewLeafNode(nil, random.Bytes(100)))
	})
	t.Run("extension", func(t *testing.T) {
		testNodeRoundTrip(t, NewExtensionNode([]byte{1}, NewHashNode(random.Hash())))

		b := NewBranchNode()
		b.Children[0] = NewLeafNode([]byte{1}, []byte{2})
		b.Children[5] = NewLeafNode([]byte{3}, []byte{4})
		testNodeRoundTrip(t, NewExtensionNode([]byte{1, 2, 3}, b))
	})
	t.Run("branch", func(t *testing.T) {
		b := NewBranchNode()
		b.Children[1] = NewHashNode(random.Hash())
		b.Children[0xf] = NewLeafNode(nil, []byte{1})
		b.value = []byte("branch value")
		testNodeRoundTrip(t, b)

		b = NewBranchNode()
		b.Children[2] = NewLeafNode([]byte{1, 2}, random.Bytes(50))
		b.Children[3] = NewLeafNode([]byte{1, 2}, random.Bytes(50))
		testNodeRoundTrip(t, b)

		n, err := DecodeNode(b.Bytes(Keccak256))
		require.NoError(t, err)
		require.IsType(t, (*HashNode)(nil), n.(*BranchNode).Children[2])
		require.Equal(t, b.Children[2].Hash(Keccak256), n.(*BranchNode).Children[2].Hash(Keccak256))
	})
}

func TestNewExtensionNode(t *testing.T) {
	next := NewBranchNode()
	e := NewExtensionNode([]byte{1, 2}, next)
	require.Equal(t, ExtensionT, e.Type())
	require.Equal(t, []byte{1, 2}, e.Key())
	require.Equal(t, Node(next), e.Next())
	require.False(t, e.IsFlushed())
}

func TestNode_Reference(t *testing.T) {
	small := NewLeafNode([]byte{1}, []byte{2})
	require.Equal(t, small.Bytes(Keccak256), reference(small, Keccak256))

	big := NewLeafNode([]byte{1}, random.Bytes(40))
	ref := reference(big, Keccak256)
	require.Equal(t, byte(0xa0), ref[0])
	require.Equal(t, big.Hash(Keccak256).Bytes(), ref[1:])

	require.Equal(t, emptyNodeBytes, reference(EmptyNode{}, Keccak256))
	h := random.Hash()
	require.Equal(t, encodeHashRef(h), reference(NewHashNode(h), Keccak256))
}

func TestEmptyRoot(t *testing.T) {
	require.Equal(t, "56e81f171bcc55a6ff8345e692c0f86e5b48e01b996cadc001622fb5e363b421",
		hex.EncodeToString(EmptyRoot(Keccak256).Bytes()))
	require.Equal(t, Sha256([]byte{0x80}), EmptyRoot(Sha256))
}

func TestHasherByName(t *testing.T) {
	for name, expected := range map[string][]byte{
		"":            Keccak256([]byte{1}).Bytes(),
		HashKeccak256: Keccak256([]byte{1}).Bytes(),
		HashSha256:    Sha256([]byte{1}).Bytes(),
	} {
		h, err := HasherByName(name)
		require.NoError(t, err)
		require.Equal(t, expected, h([]byte{1}).Bytes())
	}
	_, err := HasherByName("md5")
	require.Error(t, err)
}

func encodeList(items ...[]byte) []byte {
	w := rlp.NewEncoderBuffer(nil)
	offset := w.List()
	for _, it := range items {
		_, _ = w.Write(it)
	}
	w.ListEnd(offset)
	return w.ToBytes()
}

func encodeString(b []byte) []byte {
	w := rlp.NewEncoderBuffer(nil)
	w.WriteBytes(b)
	return w.ToBytes()
}

func TestDecodeNode_Invalid(t *testing.T) {
	branchWith := func(children map[int][]byte, value []byte) []byte {
		items := make([][]byte, childrenCount+1)
		for i := range childrenCount {
			items[i] = emptyNodeBytes
			if c, ok := children[i]; ok {
				items[i] = c
			}
		}
		items[childrenCount] = encodeString(value)
		return encodeList(items...)
	}
	validLeaf := NewLeafNode([]byte{1}, []byte{2}).Bytes(Keccak256)

	testCases := map[string][]byte{
		"garbage":           {0x01, 0x02},
		"nil":               nil,
		"trailing bytes":    append(append([]byte{}, validLeaf...), 0x00),
		"wrong item count":  encodeList(encodeString([]byte{0x20}), encodeString([]byte{1}), encodeString([]byte{2})),
		"empty leaf value":  encodeList(encodeString(hexPrefixEncode([]byte{1}, true)), encodeString(nil)),
		"bad path flag":     encodeList(encodeString([]byte{0x40}), encodeString([]byte{1})),
		"empty ext path":    encodeList(encodeString(hexPrefixEncode(nil, false)), encodeHashRef(random.Hash())),
		"ext to leaf":       NewExtensionNode([]byte{1}, NewLeafNode([]byte{2}, []byte{3})).Bytes(Keccak256),
		"ext to empty":      encodeList(encodeString(hexPrefixEncode([]byte{1}, false)), emptyNodeBytes),
		"bad ref size":      encodeList(encodeString(hexPrefixEncode([]byte{1}, false)), encodeString([]byte{1, 2, 3})),
		"single child":      branchWith(map[int][]byte{1: encodeHashRef(random.Hash())}, nil),
		"value only":        branchWith(nil, []byte{1}),
		"oversized inline":  branchWith(map[int][]byte{0: NewLeafNode([]byte{1}, random.Bytes(40)).Bytes(Keccak256), 1: validLeaf}, nil),
		"bad child in list": branchWith(map[int][]byte{0: encodeList(encodeString([]byte{0x40}), encodeString([]byte{1})), 1: validLeaf}, nil),
	}
	for name, data := range testCases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeNode(data)
			require.Error(t, err)
		})
	}
}
