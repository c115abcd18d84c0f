package composite

import (
	"bytes"
	"sync"

	"github.com/stratadb/strata/pkg/common/iterator"
)

// HierarchicalIterator merges sources that follow the LSM-tree hierarchy.
// Sources must be provided in newest-to-oldest order; when more than one
// source holds the same user key, the entry from the newest source wins and
// the older versions are hidden. Tombstones are surfaced like any other
// entry so callers on the merge path can see them.
type HierarchicalIterator struct {
	// Sources in newest-to-oldest order
	iters []iterator.Iterator

	// Current entry state
	key       []byte
	value     []byte
	seq       uint64
	tombstone bool
	valid     bool

	mu sync.RWMutex
}

// NewHierarchicalIterator creates a merging iterator over the given sources.
// Sources must be ordered newest to oldest.
func NewHierarchicalIterator(iters []iterator.Iterator) *HierarchicalIterator {
	return &HierarchicalIterator{iters: iters}
}

// SeekToFirst positions the iterator at the smallest key across all sources.
func (h *HierarchicalIterator) SeekToFirst() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, it := range h.iters {
		it.SeekToFirst()
	}
	h.advance(nil)
}

// SeekToLast positions the iterator at the largest key across all sources.
func (h *HierarchicalIterator) SeekToLast() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, it := range h.iters {
		it.SeekToLast()
	}

	h.valid = false
	for _, it := range h.iters {
		if !it.Valid() {
			continue
		}
		if !h.valid || bytes.Compare(it.Key(), h.key) > 0 {
			h.capture(it)
			h.valid = true
		}
	}
}

// Seek positions the iterator at the first key >= target.
func (h *HierarchicalIterator) Seek(target []byte) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, it := range h.iters {
		it.Seek(target)
	}
	return h.advance(nil)
}

// Next advances the iterator to the next distinct key.
func (h *HierarchicalIterator) Next() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.valid {
		return false
	}
	prev := h.key
	return h.advance(prev)
}

// Key returns the current key.
func (h *HierarchicalIterator) Key() []byte {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.valid {
		return nil
	}
	return h.key
}

// Value returns the current value.
func (h *HierarchicalIterator) Value() []byte {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.valid {
		return nil
	}
	return h.value
}

// Valid returns true if the iterator is positioned at a valid entry.
func (h *HierarchicalIterator) Valid() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.valid
}

// IsTombstone returns true if the current entry is a deletion marker.
func (h *HierarchicalIterator) IsTombstone() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.valid && h.tombstone
}

// SequenceNumber returns the sequence number of the current entry.
func (h *HierarchicalIterator) SequenceNumber() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.valid {
		return 0
	}
	return h.seq
}

// NumSources returns the number of source iterators.
func (h *HierarchicalIterator) NumSources() int {
	return len(h.iters)
}

// capture copies the current entry of the given source into the iterator state.
func (h *HierarchicalIterator) capture(it iterator.Iterator) {
	h.key = it.Key()
	h.value = it.Value()
	h.seq = it.SequenceNumber()
	h.tombstone = it.IsTombstone()
}

// advance finds the smallest key strictly greater than prev (or the smallest
// key overall when prev is nil) and resolves same-key collisions in favor of
// the newest source. Returns true if a valid entry was found.
func (h *HierarchicalIterator) advance(prev []byte) bool {
	h.valid = false

	var best iterator.Iterator
	for _, it := range h.iters {
		// Skip entries at or below prev; sources may still be positioned
		// on the key we just emitted.
		for it.Valid() && prev != nil && bytes.Compare(it.Key(), prev) <= 0 {
			if !it.Next() {
				break
			}
		}
		if !it.Valid() {
			continue
		}

		if best == nil {
			best = it
			continue
		}
		cmp := bytes.Compare(it.Key(), best.Key())
		if cmp < 0 {
			best = it
		}
		// On cmp == 0 the earlier (newer) source already held in best wins.
	}

	if best == nil {
		return false
	}
	h.capture(best)
	h.valid = true
	return true
}
