package sstable

import (
	"github.com/stratadb/strata/pkg/sstable/block"
)

// Iterator walks a table's entries in key order. It satisfies the common
// iterator interface used across the read path; cursors are independent and
// restartable.
type Iterator struct {
	reader    *Reader
	indexIter *block.Iterator
	dataIter  *block.Iterator
	entry     Entry
	valid     bool
	err       error
}

// SeekToFirst positions the iterator at the first entry.
func (it *Iterator) SeekToFirst() {
	it.indexIter = it.reader.indexBlock.Iterator()
	it.indexIter.SeekToFirst()
	it.valid = false
	it.err = nil

	if !it.indexIter.Valid() {
		return
	}
	if !it.loadDataBlock() {
		return
	}
	it.dataIter.SeekToFirst()
	it.capture()
}

// SeekToLast positions the iterator at the last entry.
func (it *Iterator) SeekToLast() {
	it.indexIter = it.reader.indexBlock.Iterator()
	it.indexIter.SeekToLast()
	it.valid = false
	it.err = nil

	if !it.indexIter.Valid() {
		return
	}
	if !it.loadDataBlock() {
		return
	}
	it.dataIter.SeekToLast()
	it.capture()
}

// Seek positions the iterator at the first entry with key >= target.
func (it *Iterator) Seek(target []byte) bool {
	it.indexIter = it.reader.indexBlock.Iterator()
	it.valid = false
	it.err = nil

	// Index keys are block last-keys: the first index key >= target names
	// the block where the target would live
	if !it.indexIter.Seek(target) {
		return false
	}
	if !it.loadDataBlock() {
		return false
	}
	if !it.dataIter.Seek(target) {
		// Target sorts after this block's last key; impossible given the
		// index invariant unless the block is corrupt
		return it.advanceBlock()
	}
	it.capture()
	return it.valid
}

// Next advances the iterator to the next entry.
func (it *Iterator) Next() bool {
	if !it.valid {
		return false
	}
	if it.dataIter.Next() {
		it.capture()
		return it.valid
	}
	return it.advanceBlock()
}

// advanceBlock moves to the first entry of the next data block.
func (it *Iterator) advanceBlock() bool {
	it.valid = false
	if !it.indexIter.Next() {
		return false
	}
	if !it.loadDataBlock() {
		return false
	}
	it.dataIter.SeekToFirst()
	it.capture()
	return it.valid
}

func (it *Iterator) loadDataBlock() bool {
	offset, size, err := parseIndexValue(it.indexIter.Value())
	if err != nil {
		it.err = err
		return false
	}
	blockReader, err := it.reader.fetchBlock(offset, size)
	if err != nil {
		it.err = err
		return false
	}
	it.dataIter = blockReader.Iterator()
	return true
}

func (it *Iterator) capture() {
	if !it.dataIter.Valid() {
		it.valid = false
		return
	}
	kind, seq, payload, err := decodeValue(it.dataIter.Value())
	if err != nil {
		it.err = err
		it.valid = false
		return
	}
	it.entry = Entry{
		Key:   it.dataIter.Key(),
		Value: payload,
		Seq:   seq,
		Kind:  kind,
	}
	it.valid = true
}

// Valid returns true if the iterator is positioned at an entry.
func (it *Iterator) Valid() bool {
	return it.valid
}

// Key returns the current key.
func (it *Iterator) Key() []byte {
	if !it.valid {
		return nil
	}
	return it.entry.Key
}

// Value returns the current payload, nil for tombstones.
func (it *Iterator) Value() []byte {
	if !it.valid || it.entry.Kind == KindTombstone {
		return nil
	}
	return it.entry.Value
}

// IsTombstone returns true if the current entry is a deletion marker.
func (it *Iterator) IsTombstone() bool {
	return it.valid && it.entry.Kind == KindTombstone
}

// SequenceNumber returns the sequence number of the current entry.
func (it *Iterator) SequenceNumber() uint64 {
	if !it.valid {
		return 0
	}
	return it.entry.Seq
}

// Err returns the first error the iterator encountered, if any.
func (it *Iterator) Err() error {
	return it.err
}
