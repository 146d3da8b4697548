package state

import (
	"fmt"
	"slices"

	"github.com/nspcc-dev/mptkv/pkg/core/mpt"
	"go.uber.org/zap"
)

type (
	// AccessListEntry is a key with the slots that should be warm before
	// any access to it.
	AccessListEntry struct {
		Key   []byte
		Slots [][]byte
	}

	// Journal tracks keys touched and slots warmed during execution on top
	// of a trie. Its checkpoints are taken, committed and reverted together
	// with the trie ones, so a revert undoes both trie changes and the
	// tracking. Sticky keys stay touched on revert.
	Journal struct {
		trie *mpt.Trie
		log  *zap.Logger

		touched   map[string]map[string]struct{}
		preWarmed map[string]map[string]struct{}
		sticky    map[string]struct{}
		layers    []*journalLayer
	}

	// journalLayer holds the tracking changes made since a checkpoint.
	journalLayer struct {
		keys  []string
		slots []warmSlot
	}

	warmSlot struct {
		key  string
		slot string
	}
)

// NewJournal creates a Journal over tr. Keys given as sticky are never
// untouched by Revert.
func NewJournal(tr *mpt.Trie, log *zap.Logger, sticky ...[]byte) *Journal {
	if log == nil {
		log = zap.NewNop()
	}
	j := &Journal{
		trie:      tr,
		log:       log,
		touched:   make(map[string]map[string]struct{}),
		preWarmed: make(map[string]map[string]struct{}),
		sticky:    make(map[string]struct{}, len(sticky)),
	}
	for _, k := range sticky {
		j.sticky[string(k)] = struct{}{}
	}
	return j
}

// Get returns the trie value for key, it doesn't touch the key.
func (j *Journal) Get(key []byte) ([]byte, error) {
	return j.trie.Get(key)
}

// Put touches the key and puts the value into the trie.
func (j *Journal) Put(key, value []byte) error {
	j.touch(string(key))
	return j.trie.Put(key, value)
}

// Delete touches the key and deletes it from the trie.
func (j *Journal) Delete(key []byte) error {
	j.touch(string(key))
	return j.trie.Delete(key)
}

// Trie returns the underlying trie.
func (j *Journal) Trie() *mpt.Trie {
	return j.trie
}

func (j *Journal) touch(key string) {
	if _, ok := j.touched[key]; ok {
		return
	}
	j.touched[key] = make(map[string]struct{})
	if l := j.top(); l != nil {
		l.keys = append(l.keys, key)
	}
}

func (j *Journal) top() *journalLayer {
	if len(j.layers) == 0 {
		return nil
	}
	return j.layers[len(j.layers)-1]
}

// Checkpoint opens a new checkpoint both in the journal and in the trie.
func (j *Journal) Checkpoint() {
	j.trie.Checkpoint()
	j.layers = append(j.layers, new(journalLayer))
}

// Commit merges the latest checkpoint into the previous one.
func (j *Journal) Commit() error {
	if len(j.layers) == 0 {
		return mpt.ErrNoCheckpoint
	}
	if err := j.trie.Commit(); err != nil {
		return err
	}
	l := j.pop()
	if parent := j.top(); parent != nil {
		parent.keys = append(parent.keys, l.keys...)
		parent.slots = append(parent.slots, l.slots...)
	}
	return nil
}

// Revert rolls the trie back to the latest checkpoint and forgets keys and
// slots touched since then, except for sticky keys.
func (j *Journal) Revert() error {
	if len(j.layers) == 0 {
		return mpt.ErrNoCheckpoint
	}
	if err := j.trie.Revert(); err != nil {
		return err
	}
	l := j.pop()
	for _, s := range l.slots {
		if slots, ok := j.touched[s.key]; ok {
			delete(slots, s.slot)
		}
	}
	for _, k := range l.keys {
		if _, ok := j.sticky[k]; ok {
			continue
		}
		delete(j.touched, k)
	}
	return nil
}

func (j *Journal) pop() *journalLayer {
	l := j.layers[len(j.layers)-1]
	j.layers = j.layers[:len(j.layers)-1]
	return l
}

// Cleanup deletes every touched key whose value is considered empty by
// isEmpty (absent keys get nil value), then resets the touched and
// pre-warmed sets. It can't be called with open checkpoints.
func (j *Journal) Cleanup(isEmpty func(key, value []byte) bool) error {
	if len(j.layers) != 0 {
		return fmt.Errorf("%w: cleanup with %d open checkpoints", mpt.ErrConstraintViolation, len(j.layers))
	}
	keys := make([]string, 0, len(j.touched))
	for k := range j.touched {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var deleted int
	for _, k := range keys {
		val, err := j.trie.Get([]byte(k))
		if err != nil {
			return err
		}
		if !isEmpty([]byte(k), val) {
			continue
		}
		if val != nil {
			if err := j.trie.Delete([]byte(k)); err != nil {
				return err
			}
		}
		deleted++
	}
	j.log.Debug("journal cleanup",
		zap.Int("touched", len(keys)),
		zap.Int("deleted", deleted))
	clear(j.touched)
	clear(j.preWarmed)
	return nil
}

// AddPreWarmed marks the keys and slots from the access list and extra keys
// as warm until the next Cleanup. Pre-warmed entries are not affected by
// Revert.
func (j *Journal) AddPreWarmed(accessList []AccessListEntry, extras [][]byte) {
	for _, e := range accessList {
		slots := j.preWarmedSlots(string(e.Key))
		for _, s := range e.Slots {
			slots[string(s)] = struct{}{}
		}
	}
	for _, k := range extras {
		j.preWarmedSlots(string(k))
	}
}

func (j *Journal) preWarmedSlots(key string) map[string]struct{} {
	slots, ok := j.preWarmed[key]
	if !ok {
		slots = make(map[string]struct{})
		j.preWarmed[key] = slots
	}
	return slots
}

// IsTouched reports whether the key was touched since the last Cleanup.
func (j *Journal) IsTouched(key []byte) bool {
	_, ok := j.touched[string(key)]
	return ok
}

// IsWarmedKey reports whether the key is either touched or pre-warmed.
func (j *Journal) IsWarmedKey(key []byte) bool {
	if j.IsTouched(key) {
		return true
	}
	_, ok := j.preWarmed[string(key)]
	return ok
}

// AddWarmedKey marks the key as warm, it's the same as touching it.
func (j *Journal) AddWarmedKey(key []byte) {
	j.touch(string(key))
}

// IsWarmedSlot reports whether the slot of the key is warm.
func (j *Journal) IsWarmedSlot(key, slot []byte) bool {
	if slots, ok := j.touched[string(key)]; ok {
		if _, ok := slots[string(slot)]; ok {
			return true
		}
	}
	if slots, ok := j.preWarmed[string(key)]; ok {
		_, ok = slots[string(slot)]
		return ok
	}
	return false
}

// AddWarmedSlot marks the slot of the key as warm touching the key if
// needed.
func (j *Journal) AddWarmedSlot(key, slot []byte) {
	k, s := string(key), string(slot)
	j.touch(k)
	slots := j.touched[k]
	if _, ok := slots[s]; ok {
		return
	}
	slots[s] = struct{}{}
	if l := j.top(); l != nil {
		l.slots = append(l.slots, warmSlot{key: k, slot: s})
	}
}
