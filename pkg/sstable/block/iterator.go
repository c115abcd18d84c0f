package block

import (
	"bytes"
	"encoding/binary"
)

// Iterator walks the entries of one block in key order.
type Iterator struct {
	reader     *Reader
	pos        uint32 // offset of the current entry
	nextPos    uint32 // offset of the entry after the current one
	currentKey []byte
	currentVal []byte
	valid      bool
}

// SeekToFirst positions the iterator at the first entry.
func (it *Iterator) SeekToFirst() {
	it.pos = 0
	it.valid = it.decodeAt(0, nil)
}

// SeekToLast positions the iterator at the last entry.
func (it *Iterator) SeekToLast() {
	// Decode forward from the last restart point
	last := it.reader.restartPoints[len(it.reader.restartPoints)-1]
	if !it.decodeAt(last, nil) {
		it.valid = false
		return
	}
	it.valid = true
	for it.nextPos < uint32(len(it.reader.data)) {
		if !it.decodeAt(it.nextPos, it.currentKey) {
			break
		}
	}
}

// Seek positions the iterator at the first entry with key >= target.
func (it *Iterator) Seek(target []byte) bool {
	// Binary search the restart points for the last full key < target
	points := it.reader.restartPoints
	left, right := 0, len(points)-1
	for left < right {
		mid := (left + right + 1) / 2
		if !it.decodeAt(points[mid], nil) {
			it.valid = false
			return false
		}
		if bytes.Compare(it.currentKey, target) < 0 {
			left = mid
		} else {
			right = mid - 1
		}
	}

	if !it.decodeAt(points[left], nil) {
		it.valid = false
		return false
	}
	it.valid = true

	// Walk forward to the first key >= target
	for bytes.Compare(it.currentKey, target) < 0 {
		if !it.Next() {
			return false
		}
	}
	return true
}

// Next advances the iterator to the next entry.
func (it *Iterator) Next() bool {
	if !it.valid {
		return false
	}
	if it.nextPos >= uint32(len(it.reader.data)) {
		it.valid = false
		return false
	}
	if !it.decodeAt(it.nextPos, it.currentKey) {
		it.valid = false
		return false
	}
	return true
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
	return it.currentKey
}

// Value returns the current value bytes.
func (it *Iterator) Value() []byte {
	if !it.valid {
		return nil
	}
	return it.currentVal
}

// decodeAt decodes the entry at offset, reconstructing the key from
// prevKey when the entry shares a prefix. Returns false on framing errors.
func (it *Iterator) decodeAt(offset uint32, prevKey []byte) bool {
	data := it.reader.data
	if offset >= uint32(len(data)) {
		return false
	}

	pos := int(offset)
	shared, n := binary.Uvarint(data[pos:])
	if n <= 0 {
		return false
	}
	pos += n
	unshared, n := binary.Uvarint(data[pos:])
	if n <= 0 {
		return false
	}
	pos += n
	valueLen, n := binary.Uvarint(data[pos:])
	if n <= 0 {
		return false
	}
	pos += n

	if shared > uint64(len(prevKey)) {
		return false
	}
	end := pos + int(unshared) + int(valueLen)
	if end > len(data) {
		return false
	}

	key := make([]byte, 0, shared+unshared)
	key = append(key, prevKey[:shared]...)
	key = append(key, data[pos:pos+int(unshared)]...)
	pos += int(unshared)

	it.pos = offset
	it.nextPos = uint32(end)
	it.currentKey = key
	it.currentVal = data[pos:end]
	it.valid = true
	return true
}
