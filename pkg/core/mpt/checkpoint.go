package mpt

import (
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// checkpoint is a saved trie state. References released after the
// checkpoint was made are kept until it's committed, references added after
// it are dropped on revert.
type checkpoint struct {
	root  common.Hash
	stale map[common.Hash]int
	added map[common.Hash]int
}

func (c *checkpoint) record(stale, added map[common.Hash]int) {
	c.stale = addRefs(c.stale, stale)
	c.added = addRefs(c.added, added)
}

func addRefs(dst, src map[common.Hash]int) map[common.Hash]int {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[common.Hash]int, len(src))
	}
	for h, c := range src {
		dst[h] += c
	}
	return dst
}

// Checkpoint saves the current trie state, it can be restored with Revert
// or dropped with Commit. Checkpoints nest.
func (t *Trie) Checkpoint() {
	countOperation("checkpoint")
	t.lock.Lock()
	defer t.lock.Unlock()
	t.checkpoints = append(t.checkpoints, checkpoint{root: t.durable})
	updateCheckpointDepthMetric(len(t.checkpoints))
}

// IsCheckpoint returns true if there is at least one outstanding checkpoint.
func (t *Trie) IsCheckpoint() bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	return len(t.checkpoints) > 0
}

// Commit drops the last checkpoint keeping all changes made after it.
// ErrNoCheckpoint is returned if there are no checkpoints.
func (t *Trie) Commit() error {
	countOperation("commit")
	t.lock.Lock()
	defer t.lock.Unlock()
	if len(t.checkpoints) == 0 {
		return ErrNoCheckpoint
	}
	cp := t.pop()
	if len(t.checkpoints) > 0 {
		t.checkpoints[len(t.checkpoints)-1].record(cp.stale, cp.added)
		return nil
	}
	t.log.Debug("checkpoint committed",
		zap.Stringer("root", t.durable),
		zap.Int("stale", len(cp.stale)))
	if len(cp.stale) == 0 {
		return nil
	}
	return t.release(cp.stale, nil)
}

// Revert restores the trie state saved by the last checkpoint.
// ErrNoCheckpoint is returned if there are no checkpoints.
func (t *Trie) Revert() error {
	countOperation("revert")
	t.lock.Lock()
	defer t.lock.Unlock()
	if len(t.checkpoints) == 0 {
		return ErrNoCheckpoint
	}
	var (
		last = t.checkpoints[len(t.checkpoints)-1]
		root *common.Hash
	)
	if t.persistRoot && last.root != t.durable {
		root = &last.root
	}
	if len(last.added) > 0 {
		if err := t.release(last.added, root); err != nil {
			return err
		}
	} else if root != nil {
		if err := t.store.Put(nil, root); err != nil {
			return err
		}
	}
	cp := t.pop()
	t.root = t.rootNode(cp.root)
	t.stale = nil
	t.log.Debug("checkpoint reverted",
		zap.Stringer("from", t.durable),
		zap.Stringer("to", cp.root))
	t.durable = cp.root
	return nil
}

func (t *Trie) pop() checkpoint {
	cp := t.checkpoints[len(t.checkpoints)-1]
	t.checkpoints = t.checkpoints[:len(t.checkpoints)-1]
	updateCheckpointDepthMetric(len(t.checkpoints))
	return cp
}
