// Package compaction folds sorted tables downward through the level
// hierarchy: level 0 by table count, deeper levels by size, merging
// overlapping inputs into non-overlapping outputs one level down.
package compaction

import (
	"bytes"
	"container/heap"
	"errors"
	"fmt"

	"github.com/stratadb/strata/pkg/common/iterator"
)

var (
	// ErrDuplicateEntry signals two inputs carrying the same (key, seq)
	// pair, which a correct table set never produces
	ErrDuplicateEntry = errors.New("duplicate key and sequence across compaction inputs")
)

// mergeSource wraps one positioned input iterator
type mergeSource struct {
	iter iterator.Iterator
}

// sourceHeap orders sources by (key ascending, seq descending) so the
// newest version of each key surfaces first
type sourceHeap []*mergeSource

func (h sourceHeap) Len() int { return len(h) }

func (h sourceHeap) Less(i, j int) bool {
	cmp := bytes.Compare(h[i].iter.Key(), h[j].iter.Key())
	if cmp != 0 {
		return cmp < 0
	}
	return h[i].iter.SequenceNumber() > h[j].iter.SequenceNumber()
}

func (h sourceHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *sourceHeap) Push(x interface{}) { *h = append(*h, x.(*mergeSource)) }

func (h *sourceHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// MergingIterator yields every (key, seq) version from its sources in
// (key ascending, seq descending) order. Deduplication is the caller's
// concern; identical (key, seq) pairs across sources are reported as
// corruption.
type MergingIterator struct {
	h   sourceHeap
	err error

	key       []byte
	value     []byte
	seq       uint64
	tombstone bool
	valid     bool
}

// NewMergingIterator positions every source at its first entry and builds
// the heap. Call Next to reach the first merged entry.
func NewMergingIterator(sources []iterator.Iterator) *MergingIterator {
	m := &MergingIterator{}
	for _, it := range sources {
		it.SeekToFirst()
		if it.Valid() {
			m.h = append(m.h, &mergeSource{iter: it})
		}
	}
	heap.Init(&m.h)
	return m
}

// Next advances to the next merged entry. It returns false at exhaustion
// or on error; check Err afterwards.
func (m *MergingIterator) Next() bool {
	m.valid = false
	if m.err != nil || m.h.Len() == 0 {
		return false
	}

	src := m.h[0]
	it := src.iter

	m.key = append(m.key[:0], it.Key()...)
	m.value = append(m.value[:0], it.Value()...)
	m.seq = it.SequenceNumber()
	m.tombstone = it.IsTombstone()
	m.valid = true

	if it.Next() {
		heap.Fix(&m.h, 0)
	} else {
		heap.Pop(&m.h)
	}

	// The new heap top repeating the emitted (key, seq) means two inputs
	// held the same version
	if m.h.Len() > 0 {
		top := m.h[0].iter
		if top.SequenceNumber() == m.seq && bytes.Equal(top.Key(), m.key) {
			m.err = fmt.Errorf("%w: key %q seq %d", ErrDuplicateEntry, m.key, m.seq)
			m.valid = false
			return false
		}
	}

	return true
}

// Key returns the current key
func (m *MergingIterator) Key() []byte {
	if !m.valid {
		return nil
	}
	return m.key
}

// Value returns the current value, nil for tombstones
func (m *MergingIterator) Value() []byte {
	if !m.valid || m.tombstone {
		return nil
	}
	return m.value
}

// SequenceNumber returns the current entry's sequence number
func (m *MergingIterator) SequenceNumber() uint64 {
	return m.seq
}

// IsTombstone returns true when the current entry is a deletion marker
func (m *MergingIterator) IsTombstone() bool {
	return m.valid && m.tombstone
}

// Valid returns true when positioned at an entry
func (m *MergingIterator) Valid() bool {
	return m.valid
}

// Err returns the first corruption detected during merging
func (m *MergingIterator) Err() error {
	return m.err
}
