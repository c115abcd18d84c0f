// Package bounded provides an iterator wrapper that constrains iteration to
// a [start, end) key range.
package bounded

import (
	"bytes"

	"github.com/stratadb/strata/pkg/common/iterator"
)

// BoundedIterator wraps an iterator and limits it to a specific key range.
// The start bound is inclusive, the end bound exclusive. A nil bound means
// unbounded on that side.
type BoundedIterator struct {
	iterator.Iterator
	start []byte
	end   []byte
}

// NewBoundedIterator creates a new bounded iterator over the given source.
func NewBoundedIterator(iter iterator.Iterator, startKey, endKey []byte) *BoundedIterator {
	bi := &BoundedIterator{Iterator: iter}

	// Copy the bounds to avoid external modification
	if startKey != nil {
		bi.start = append([]byte(nil), startKey...)
	}
	if endKey != nil {
		bi.end = append([]byte(nil), endKey...)
	}
	return bi
}

// SeekToFirst positions at the first key in the bounded range.
func (b *BoundedIterator) SeekToFirst() {
	if b.start != nil {
		b.Iterator.Seek(b.start)
	} else {
		b.Iterator.SeekToFirst()
	}
}

// SeekToLast positions at the last key in the bounded range.
func (b *BoundedIterator) SeekToLast() {
	if b.end == nil {
		b.Iterator.SeekToLast()
		return
	}

	// The source has no reverse positioning primitive, so walk forward to
	// the last key before the exclusive end bound.
	var lastKey []byte
	b.SeekToFirst()
	for b.Iterator.Valid() && bytes.Compare(b.Iterator.Key(), b.end) < 0 {
		lastKey = append(lastKey[:0], b.Iterator.Key()...)
		if !b.Iterator.Next() {
			break
		}
	}
	if lastKey != nil {
		b.Iterator.Seek(lastKey)
	}
}

// Seek positions at the first key >= target within bounds.
func (b *BoundedIterator) Seek(target []byte) bool {
	if b.start != nil && bytes.Compare(target, b.start) < 0 {
		target = b.start
	}
	if b.end != nil && bytes.Compare(target, b.end) >= 0 {
		return false
	}
	if b.Iterator.Seek(target) {
		return b.inBounds()
	}
	return false
}

// Next advances to the next key within bounds.
func (b *BoundedIterator) Next() bool {
	if !b.inBounds() {
		return false
	}
	if !b.Iterator.Next() {
		return false
	}
	return b.inBounds()
}

// Valid returns true if the iterator is positioned at a valid entry within bounds.
func (b *BoundedIterator) Valid() bool {
	return b.Iterator.Valid() && b.inBounds()
}

// Key returns the current key if within bounds.
func (b *BoundedIterator) Key() []byte {
	if !b.Valid() {
		return nil
	}
	return b.Iterator.Key()
}

// Value returns the current value if within bounds.
func (b *BoundedIterator) Value() []byte {
	if !b.Valid() {
		return nil
	}
	return b.Iterator.Value()
}

// IsTombstone returns true if the current entry is a deletion marker.
func (b *BoundedIterator) IsTombstone() bool {
	return b.Valid() && b.Iterator.IsTombstone()
}

// SequenceNumber returns the sequence number of the current entry.
func (b *BoundedIterator) SequenceNumber() uint64 {
	if !b.Valid() {
		return 0
	}
	return b.Iterator.SequenceNumber()
}

// inBounds verifies that the current position is within the bounds.
func (b *BoundedIterator) inBounds() bool {
	if !b.Iterator.Valid() {
		return false
	}
	key := b.Iterator.Key()
	if b.start != nil && bytes.Compare(key, b.start) < 0 {
		return false
	}
	if b.end != nil && bytes.Compare(key, b.end) >= 0 {
		return false
	}
	return true
}
