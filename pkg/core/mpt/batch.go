package mpt

import (
	"bytes"
	"slices"
	"sort"
)

// Operation is a single pending trie write, empty Value means deletion.
type Operation struct {
	Key   []byte
	Value []byte
}

// OrderBatch returns a copy of ops sorted by the nibble path of their keys.
// The sort is stable, so for duplicate keys the last one still wins when
// operations are applied in order.
func OrderBatch(ops []Operation) []Operation {
	res := slices.Clone(ops)
	slices.SortStableFunc(res, func(a, b Operation) int {
		return CompareNibbles(toNibbles(a.Key), toNibbles(b.Key))
	})
	return res
}

// Batch is a batch of keys to put in trie.
type Batch struct {
	kv []keyValue
}

type keyValue struct {
	key   []byte
	value []byte
}

// MapToMPTBatch makes a Batch from an unordered set of storage changes.
func MapToMPTBatch(m map[string][]byte) Batch {
	var b Batch

	b.kv = make([]keyValue, 0, len(m))

	for k, v := range m {
		b.kv = append(b.kv, keyValue{toNibbles([]byte(k)), v})
	}
	sort.Slice(b.kv, func(i, j int) bool {
		return bytes.Compare(b.kv[i].key, b.kv[j].key) < 0
	})
	return b
}

// NewBatch makes a Batch from operations, later operations override
// earlier ones for the same key.
func NewBatch(ops []Operation) Batch {
	var b Batch
	for _, op := range OrderBatch(ops) {
		b.Add(op.Key, op.Value)
	}
	return b
}

// Add adds a key-value pair to the batch. If there is an item with the same
// key, it is replaced.
func (b *Batch) Add(key []byte, value []byte) {
	path := toNibbles(key)
	i := sort.Search(len(b.kv), func(i int) bool {
		return bytes.Compare(path, b.kv[i].key) <= 0
	})
	if i == len(b.kv) {
		b.kv = append(b.kv, keyValue{path, value})
	} else if bytes.Equal(b.kv[i].key, path) {
		b.kv[i].value = value
	} else {
		b.kv = append(b.kv, keyValue{})
		copy(b.kv[i+1:], b.kv[i:])
		b.kv[i] = keyValue{path, value}
	}
}

// Len returns the number of operations in the batch.
func (b *Batch) Len() int {
	return len(b.kv)
}

// Operations returns batch contents in application order.
func (b *Batch) Operations() []Operation {
	ops := make([]Operation, len(b.kv))
	for i := range b.kv {
		ops[i] = Operation{Key: fromNibbles(b.kv[i].key), Value: b.kv[i].value}
	}
	return ops
}

// PutBatch puts a batch to a trie and persists the result at once. It
// returns the number of operations applied. Operations are applied in the
// order of the paths the trie stores keys under, so with key hashing it
// differs from the batch order. If an error occurs, operations preceding the
// failed one are still persisted.
func (t *Trie) PutBatch(b Batch) (int, error) {
	countOperation("batch")
	for i := range b.kv {
		if err := checkLimits(fromNibbles(b.kv[i].key), b.kv[i].value); err != nil {
			return 0, err
		}
	}
	kv := b.kv
	if t.keyHashing {
		kv = t.orderByPath(kv)
	}
	t.lock.Lock()
	defer t.lock.Unlock()

	t.stale = nil
	n, err := t.applyBatch(kv)
	if err != nil {
		// The in-memory trie may be partially modified, start over.
		t.reset()
		if _, rerr := t.applyBatch(kv[:n]); rerr != nil {
			t.reset()
			return 0, err
		}
	}
	if cerr := t.commit(); cerr != nil {
		return 0, cerr
	}
	return n, err
}

// orderByPath sorts batch entries by the hashed paths of their keys.
func (t *Trie) orderByPath(kv []keyValue) []keyValue {
	type entry struct {
		path []byte
		kv   keyValue
	}
	entries := make([]entry, len(kv))
	for i := range kv {
		entries[i] = entry{t.path(fromNibbles(kv[i].key)), kv[i]}
	}
	slices.SortStableFunc(entries, func(a, b entry) int {
		return bytes.Compare(a.path, b.path)
	})
	res := make([]keyValue, len(entries))
	for i := range entries {
		res[i] = entries[i].kv
	}
	return res
}

func (t *Trie) applyBatch(kv []keyValue) (int, error) {
	for i := range kv {
		key := fromNibbles(kv[i].key)
		if len(kv[i].value) == 0 {
			if _, err := t.deleteKey(key); err != nil {
				return i, err
			}
			continue
		}
		if err := t.put(key, kv[i].value); err != nil {
			return i, err
		}
	}
	return len(kv), nil
}
