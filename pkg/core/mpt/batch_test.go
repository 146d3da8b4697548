package mpt

import (
	"bytes"
	"encoding/hex"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/nspcc-dev/mptkv/internal/random"
	"github.com/nspcc-dev/mptkv/pkg/core/storage"
	"github.com/stretchr/testify/require"
)

func TestBatchAdd(t *testing.T) {
	b := new(Batch)
	b.Add([]byte{1}, []byte{2})
	b.Add([]byte{2, 16}, []byte{3})
	b.Add([]byte{2, 0}, []byte{4})
	b.Add([]byte{0, 1}, []byte{5})
	b.Add([]byte{2, 0}, []byte{6})
	expected := []keyValue{
		{[]byte{0, 0, 0, 1}, []byte{5}},
		{[]byte{0, 1}, []byte{2}},
		{[]byte{0, 2, 0, 0}, []byte{6}},
		{[]byte{0, 2, 1, 0}, []byte{3}},
	}
	require.Equal(t, expected, b.kv)
	require.Equal(t, 4, b.Len())
	require.Equal(t, Operation{Key: []byte{0, 1}, Value: []byte{5}}, b.Operations()[0])
}

func TestOrderBatch(t *testing.T) {
	ops := []Operation{
		{Key: []byte{0x21}, Value: []byte{1}},
		{Key: []byte{0x02}, Value: []byte{2}},
		{Key: []byte{0x21, 0x00}, Value: []byte{3}},
		{Key: []byte{0x02}, Value: []byte{4}},
		{Key: []byte{}, Value: []byte{5}},
	}
	ordered := OrderBatch(ops)
	require.Equal(t, []Operation{
		{Key: []byte{}, Value: []byte{5}},
		{Key: []byte{0x02}, Value: []byte{2}},
		{Key: []byte{0x02}, Value: []byte{4}},
		{Key: []byte{0x21}, Value: []byte{1}},
		{Key: []byte{0x21, 0x00}, Value: []byte{3}},
	}, ordered)
	// Input is not modified.
	require.Equal(t, []byte{0x21}, ops[0].Key)

	b := NewBatch(ops)
	require.Equal(t, 4, b.Len())
	require.Equal(t, []byte{4}, b.Operations()[1].Value)
}

func TestMapToMPTBatch(t *testing.T) {
	b := MapToMPTBatch(map[string][]byte{"\x02": {2}, "\x01": {1}, "\x01\x00": nil})
	require.Equal(t, []Operation{
		{Key: []byte{1}, Value: []byte{1}},
		{Key: []byte{1, 0}, Value: nil},
		{Key: []byte{2}, Value: []byte{2}},
	}, b.Operations())
}

type pairs = [][2][]byte

func testIncompletePut(t *testing.T, ps pairs, n int, tr1, tr2 *Trie) {
	var b Batch
	for i, p := range ps {
		if i < n {
			if p[1] == nil {
				require.NoError(t, tr1.Delete(p[0]), "item %d", i)
			} else {
				require.NoError(t, tr1.Put(p[0], p[1]), "item %d", i)
			}
		} else if i == n {
			if p[1] == nil {
				require.Error(t, tr1.Delete(p[0]), "item %d", i)
			} else {
				require.Error(t, tr1.Put(p[0], p[1]), "item %d", i)
			}
		}
		b.Add(p[0], p[1])
	}

	num, err := tr2.PutBatch(b)
	if n == len(ps) {
		require.NoError(t, err)
	} else {
		require.Error(t, err)
	}
	require.Equal(t, n, num)
	require.Equal(t, tr1.StateRoot(), tr2.StateRoot())

	t.Run("test restore", func(t *testing.T) {
		tr3, err := NewTrie(tr2.StateRoot(), Config{Store: storage.NewMemCachedStore(tr2.store.store)})
		require.NoError(t, err)
		for _, p := range ps[:n] {
			val, err := tr3.Get(p[0])
			require.NoError(t, err, "key: %s", hex.EncodeToString(p[0]))
			if len(p[1]) == 0 {
				require.Nil(t, val)
				continue
			}
			require.Equal(t, p[1], val)
		}
	})
}

func testPut(t *testing.T, ps pairs, tr1, tr2 *Trie) {
	testIncompletePut(t, ps, len(ps), tr1, tr2)
}

// prepareTries returns two identical tries with the given pairs.
func prepareTries(t *testing.T, ps pairs) (*Trie, *Trie) {
	tr1, tr2 := newTestTrie(t), newTestTrie(t)
	for _, p := range ps {
		require.NoError(t, tr1.Put(p[0], p[1]))
		require.NoError(t, tr2.Put(p[0], p[1]))
	}
	return tr1, tr2
}

func TestTrie_PutBatchLeaf(t *testing.T) {
	prepareLeaf := func(t *testing.T) (*Trie, *Trie) {
		return prepareTries(t, pairs{{[]byte{0}, []byte("value")}})
	}

	t.Run("remove", func(t *testing.T) {
		tr1, tr2 := prepareLeaf(t)
		var ps = pairs{{[]byte{0}, nil}}
		testPut(t, ps, tr1, tr2)
	})
	t.Run("empty value", func(t *testing.T) {
		tr1, tr2 := prepareLeaf(t)
		var ps = pairs{{[]byte{0}, []byte{}}}
		testPut(t, ps, tr1, tr2)
	})
	t.Run("replace", func(t *testing.T) {
		tr1, tr2 := prepareLeaf(t)
		var ps = pairs{{[]byte{0}, []byte("replace")}}
		testPut(t, ps, tr1, tr2)
	})
	t.Run("remove and replace", func(t *testing.T) {
		tr1, tr2 := prepareLeaf(t)
		var ps = pairs{
			{[]byte{0}, nil},
			{[]byte{0, 2}, []byte("replace2")},
		}
		testPut(t, ps, tr1, tr2)
	})
	t.Run("empty value and replace", func(t *testing.T) {
		tr1, tr2 := prepareLeaf(t)
		var ps = pairs{
			{[]byte{0}, []byte{}},
			{[]byte{0, 2}, []byte("replace2")},
		}
		testPut(t, ps, tr1, tr2)
	})
}

func TestTrie_PutBatchExtension(t *testing.T) {
	prepareExtension := func(t *testing.T) (*Trie, *Trie) {
		return prepareTries(t, pairs{{[]byte{1, 2}, []byte("value1")}, {[]byte{1, 2, 4}, []byte("value4")}})
	}

	t.Run("split, key len > 1", func(t *testing.T) {
		tr1, tr2 := prepareExtension(t)
		var ps = pairs{{[]byte{2, 3}, []byte("value2")}}
		testPut(t, ps, tr1, tr2)
	})
	t.Run("split, key len = 1", func(t *testing.T) {
		tr1, tr2 := prepareExtension(t)
		var ps = pairs{{[]byte{1, 3}, []byte("value2")}}
		testPut(t, ps, tr1, tr2)
	})
	t.Run("add to next", func(t *testing.T) {
		tr1, tr2 := prepareExtension(t)
		var ps = pairs{{[]byte{1, 2, 3}, []byte("value2")}}
		testPut(t, ps, tr1, tr2)
	})
	t.Run("add to next with leaf", func(t *testing.T) {
		tr1, tr2 := prepareExtension(t)
		var ps = pairs{
			{[]byte{0}, []byte("value3")},
			{[]byte{1, 2, 3}, []byte("value2")},
		}
		testPut(t, ps, tr1, tr2)
	})
	t.Run("remove value", func(t *testing.T) {
		tr1, tr2 := prepareExtension(t)
		var ps = pairs{{[]byte{1, 2}, nil}}
		testPut(t, ps, tr1, tr2)
	})
	t.Run("remove missing", func(t *testing.T) {
		tr1, tr2 := prepareExtension(t)
		var ps = pairs{{[]byte{1, 2, 3}, nil}, {[]byte{1}, nil}}
		testPut(t, ps, tr1, tr2)
	})
	t.Run("add to next, merge extension", func(t *testing.T) {
		tr1, tr2 := prepareExtension(t)
		var ps = pairs{
			{[]byte{1, 2}, nil},
			{[]byte{1, 2, 3}, []byte("value2")},
		}
		testPut(t, ps, tr1, tr2)
	})
}

func TestTrie_PutBatchBranch(t *testing.T) {
	prepareBranch := func(t *testing.T) (*Trie, *Trie) {
		return prepareTries(t, pairs{
			{[]byte{0x00, 2}, []byte("value1")},
			{[]byte{0x10, 3}, []byte("value2")},
		})
	}

	t.Run("simple add", func(t *testing.T) {
		tr1, tr2 := prepareBranch(t)
		var ps = pairs{{[]byte{0x20, 4}, []byte("value3")}}
		testPut(t, ps, tr1, tr2)
	})
	t.Run("remove 1, transform to extension", func(t *testing.T) {
		tr1, tr2 := prepareBranch(t)
		var ps = pairs{{[]byte{0x00, 2}, nil}}
		testPut(t, ps, tr1, tr2)

		t.Run("non-empty child is hash node", func(t *testing.T) {
			tr1, tr2 := prepareTries(t, pairs{
				{[]byte{0x00, 2}, random.Bytes(40)},
				{[]byte{0x10, 3}, random.Bytes(40)},
			})
			tr1.Collapse(1)
			tr2.Collapse(1)

			var ps = pairs{{[]byte{0x00, 2}, nil}}
			testPut(t, ps, tr1, tr2)
			require.IsType(t, (*LeafNode)(nil), tr1.root)
		})
		t.Run("non-empty child is value", func(t *testing.T) {
			tr1, tr2 := prepareTries(t, pairs{
				{[]byte{0x00, 2}, []byte("value1")},
				{[]byte{0x00}, []byte("value2")},
			})
			tr1.Collapse(1)
			tr2.Collapse(1)

			var ps = pairs{{[]byte{0x00, 2}, nil}}
			testPut(t, ps, tr1, tr2)
		})
	})
	t.Run("remove 2, become empty", func(t *testing.T) {
		tr1, tr2 := prepareBranch(t)
		var ps = pairs{
			{[]byte{0x00, 2}, nil},
			{[]byte{0x10, 3}, nil},
		}
		testPut(t, ps, tr1, tr2)
		require.Equal(t, EmptyRoot(Keccak256), tr2.StateRoot())
	})
}

func TestTrie_PutBatchHash(t *testing.T) {
	prepareHash := func(t *testing.T) (*Trie, *Trie) {
		tr1, tr2 := prepareTries(t, pairs{
			{[]byte{0x10}, random.Bytes(40)},
			{[]byte{0x20}, random.Bytes(40)},
		})
		tr1.Collapse(0)
		tr2.Collapse(0)
		return tr1, tr2
	}

	t.Run("good", func(t *testing.T) {
		tr1, tr2 := prepareHash(t)
		var ps = pairs{{[]byte{2}, []byte("value2")}}
		testPut(t, ps, tr1, tr2)
	})
	t.Run("incomplete, second hash not found", func(t *testing.T) {
		tr1, tr2 := prepareHash(t)
		var ps = pairs{
			{[]byte{0x10}, []byte("replace1")},
			{[]byte{0x20}, []byte("replace2")},
		}
		p, err := tr1.FindPath([]byte{0x20})
		require.NoError(t, err)
		h := p.Node.Hash(tr1.hasher)
		key := string(append(storage.DataMPT.Bytes(), h[:]...))
		for _, tr := range []*Trie{tr1, tr2} {
			require.NoError(t, tr.store.store.PutChangeSet(map[string][]byte{key: nil}))
			tr.Collapse(0)
		}
		testIncompletePut(t, ps, 1, tr1, tr2)
	})
}

func TestTrie_PutBatchEmpty(t *testing.T) {
	t.Run("good", func(t *testing.T) {
		tr1, tr2 := newTestTrie(t), newTestTrie(t)
		var ps = pairs{
			{[]byte{0}, []byte("value0")},
			{[]byte{1}, []byte("value1")},
			{[]byte{3}, []byte("value3")},
		}
		testPut(t, ps, tr1, tr2)
	})
	t.Run("deletions only", func(t *testing.T) {
		var ps = pairs{
			{[]byte{0}, nil},
			{[]byte{2}, nil},
		}
		tr1, tr2 := newTestTrie(t), newTestTrie(t)
		testPut(t, ps, tr1, tr2)
		require.Equal(t, EmptyRoot(Keccak256), tr2.StateRoot())
	})
}

func TestTrie_PutBatchLimits(t *testing.T) {
	tr := newTestTrie(t)
	var b Batch
	b.Add([]byte{1}, []byte{1})
	b.Add([]byte{2}, make([]byte, MaxValueLength+1))
	n, err := tr.PutBatch(b)
	require.ErrorIs(t, err, ErrLimitExceeded)
	require.Equal(t, 0, n)
	require.Equal(t, EmptyRoot(Keccak256), tr.StateRoot())
}

// For the sake of coverage.
func TestTrie_InvalidNodeType(t *testing.T) {
	tr := newTestTrie(t)
	var b Batch
	b.Add([]byte{1}, []byte("value"))
	tr.root = Node(nil)
	require.Panics(t, func() { _, _ = tr.PutBatch(b) })
}

func TestTrie_PutBatch(t *testing.T) {
	tr1, tr2 := newTestTrie(t), newTestTrie(t)
	var ps = pairs{
		{[]byte{1}, []byte{1}},
		{[]byte{2}, []byte{3}},
		{[]byte{4}, []byte{5}},
	}
	testPut(t, ps, tr1, tr2)

	ps = pairs{[2][]byte{{4}, {6}}}
	testPut(t, ps, tr1, tr2)

	ps = pairs{[2][]byte{{4}, nil}}
	testPut(t, ps, tr1, tr2)

	testPut(t, pairs{}, tr1, tr2)
}

func TestTrie_PutBatchOrderIndependence(t *testing.T) {
	var ops []Operation
	for range 200 {
		ops = append(ops, Operation{Key: random.Bytes(random.Int(1, 6)), Value: random.Bytes(random.Int(1, 40))})
	}
	// Some deletions of existing keys.
	for i := range 20 {
		ops = append(ops, Operation{Key: ops[i*3].Key})
	}

	seq := newTestTrie(t, withPruning)
	for _, op := range ops {
		require.NoError(t, seq.Put(op.Key, op.Value))
	}

	b := NewBatch(ops)
	batched := newTestTrie(t, withPruning)
	n, err := batched.PutBatch(b)
	require.NoError(t, err)
	require.Equal(t, b.Len(), n)
	require.Equal(t, seq.StateRoot(), batched.StateRoot())
	require.Equal(t, reachableNodes(t, batched), storedNodes(batched))

	last := make(map[string][]byte)
	for _, op := range ops {
		last[string(op.Key)] = op.Value
	}
	var final []Operation
	for k, v := range last {
		if len(v) != 0 {
			final = append(final, Operation{Key: []byte(k), Value: v})
		}
	}
	rand.Shuffle(len(final), func(i, j int) { final[i], final[j] = final[j], final[i] })
	shuffled := newTestTrie(t)
	for _, op := range final {
		require.NoError(t, shuffled.Put(op.Key, op.Value))
	}
	require.Equal(t, seq.StateRoot(), shuffled.StateRoot())
}

func TestTrie_PutBatchKeyHashing(t *testing.T) {
	seq := newTestTrie(t, func(c *Config) { c.KeyHashing = true })
	batched := newTestTrie(t, func(c *Config) { c.KeyHashing = true })

	var b Batch
	for range 50 {
		k, v := random.Bytes(random.Int(1, 10)), random.Bytes(random.Int(1, 40))
		b.Add(k, v)
		require.NoError(t, seq.Put(k, v))
	}

	ordered := batched.orderByPath(b.kv)
	require.Len(t, ordered, b.Len())
	require.True(t, slices.IsSortedFunc(ordered, func(a, b keyValue) int {
		return bytes.Compare(batched.path(fromNibbles(a.key)), batched.path(fromNibbles(b.key)))
	}))

	n, err := batched.PutBatch(b)
	require.NoError(t, err)
	require.Equal(t, b.Len(), n)
	require.Equal(t, seq.StateRoot(), batched.StateRoot())
	for _, op := range b.Operations() {
		batched.testHas(t, op.Key, op.Value)
	}
}
