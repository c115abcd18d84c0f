package memtable

// IteratorAdapter adapts a memtable.Iterator to the common Iterator interface
type IteratorAdapter struct {
	iter *Iterator
}

// NewIteratorAdapter creates a new adapter for a memtable iterator
func NewIteratorAdapter(iter *Iterator) *IteratorAdapter {
	return &IteratorAdapter{iter: iter}
}

// SeekToFirst positions the iterator at the first entry
func (a *IteratorAdapter) SeekToFirst() {
	a.iter.SeekToFirst()
}

// SeekToLast positions the iterator at the last entry
func (a *IteratorAdapter) SeekToLast() {
	a.iter.SeekToFirst()
	if !a.iter.Valid() {
		return
	}

	// The skip list has no back pointers, so walk forward to the last key
	var lastKey []byte
	for a.iter.Valid() {
		lastKey = a.iter.Key()
		a.iter.Next()
	}
	if lastKey != nil {
		a.iter.Seek(lastKey)
	}
}

// Seek positions the iterator at the first entry with key >= target
func (a *IteratorAdapter) Seek(target []byte) bool {
	a.iter.Seek(target)
	return a.iter.Valid()
}

// Next advances the iterator to the next entry
func (a *IteratorAdapter) Next() bool {
	if !a.Valid() {
		return false
	}
	a.iter.Next()
	return a.iter.Valid()
}

// Key returns the current key
func (a *IteratorAdapter) Key() []byte {
	if !a.Valid() {
		return nil
	}
	return a.iter.Key()
}

// Value returns the current value, nil for tombstones
func (a *IteratorAdapter) Value() []byte {
	if !a.Valid() || a.iter.IsTombstone() {
		return nil
	}
	return a.iter.Value()
}

// Valid returns true if the iterator is positioned at a valid entry
func (a *IteratorAdapter) Valid() bool {
	return a.iter != nil && a.iter.Valid()
}

// IsTombstone returns true if the current entry is a deletion marker
func (a *IteratorAdapter) IsTombstone() bool {
	return a.iter != nil && a.iter.IsTombstone()
}

// SequenceNumber returns the sequence number of the current entry
func (a *IteratorAdapter) SequenceNumber() uint64 {
	if !a.Valid() {
		return 0
	}
	return a.iter.Seq()
}

// FlushIterator walks a sealed buffer emitting only the newest version of
// each key, tombstones included. This is the ordering the sorted table
// writer expects: strictly ascending unique keys.
type FlushIterator struct {
	iter    *Iterator
	prevKey []byte
}

// NewFlushIterator creates a flush iterator over a sealed buffer.
func NewFlushIterator(m *MemTable) *FlushIterator {
	return &FlushIterator{iter: m.NewIterator()}
}

// SeekToFirst positions at the newest version of the smallest key.
func (f *FlushIterator) SeekToFirst() {
	f.prevKey = nil
	f.iter.SeekToFirst()
}

// Next advances to the newest version of the next distinct key.
func (f *FlushIterator) Next() bool {
	if !f.iter.Valid() {
		return false
	}

	// Versions of a key are ordered newest first; skip the older ones
	f.prevKey = append(f.prevKey[:0], f.iter.Key()...)
	for {
		f.iter.Next()
		if !f.iter.Valid() {
			return false
		}
		if f.iter.compareKey(f.prevKey) != 0 {
			return true
		}
	}
}

// Valid returns true if the iterator is positioned at an entry.
func (f *FlushIterator) Valid() bool {
	return f.iter.Valid()
}

// Key returns the current key.
func (f *FlushIterator) Key() []byte {
	return f.iter.Key()
}

// Value returns the current value, nil for tombstones.
func (f *FlushIterator) Value() []byte {
	if f.iter.IsTombstone() {
		return nil
	}
	return f.iter.Value()
}

// Seq returns the sequence number of the current entry.
func (f *FlushIterator) Seq() uint64 {
	return f.iter.Seq()
}

// IsTombstone returns true if the current entry is a deletion marker.
func (f *FlushIterator) IsTombstone() bool {
	return f.iter.IsTombstone()
}

// compareKey compares the current key against k.
func (it *Iterator) compareKey(k []byte) int {
	if !it.Valid() {
		return 1
	}
	return it.current.entry.compare(k)
}
