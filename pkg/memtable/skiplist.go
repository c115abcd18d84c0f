package memtable

import (
	"bytes"
	"sync/atomic"
	"unsafe"

	"github.com/zhangyunhao116/fastrand"
)

const (
	// MaxHeight is the maximum height of the skip list
	MaxHeight = 12

	// BranchingFactor determines the probability of increasing the height
	BranchingFactor = 4
)

// ValueKind distinguishes live values from deletion markers.
type ValueKind uint8

const (
	// KindValue indicates the entry carries a value
	KindValue ValueKind = iota + 1

	// KindTombstone indicates the entry is a deletion marker
	KindTombstone
)

// entry is one versioned insert. Keys are never updated in place; a newer
// version is a separate entry with a higher sequence number.
type entry struct {
	key   []byte
	value []byte
	kind  ValueKind
	seq   uint64
}

func newEntry(key, value []byte, kind ValueKind, seq uint64) *entry {
	return &entry{
		key:   key,
		value: value,
		kind:  kind,
		seq:   seq,
	}
}

// size returns the approximate in-memory size of the entry
func (e *entry) size() int {
	return len(e.key) + len(e.value) + 16
}

func (e *entry) compare(key []byte) int {
	return bytes.Compare(e.key, key)
}

// compareWithEntry orders by key ascending, then sequence descending so the
// newest version of a key comes first.
func (e *entry) compareWithEntry(other *entry) int {
	cmp := bytes.Compare(e.key, other.key)
	if cmp != 0 {
		return cmp
	}
	if e.seq > other.seq {
		return -1
	} else if e.seq < other.seq {
		return 1
	}
	return 0
}

type node struct {
	entry  *entry
	height int32
	next   [MaxHeight]unsafe.Pointer
}

func newNode(e *entry, height int) *node {
	return &node{
		entry:  e,
		height: int32(height),
	}
}

func (n *node) getNext(level int) *node {
	return (*node)(atomic.LoadPointer(&n.next[level]))
}

func (n *node) setNext(level int, next *node) {
	atomic.StorePointer(&n.next[level], unsafe.Pointer(next))
}

// SkipList stores versioned entries ordered by (key asc, seq desc). Inserts
// come from a single writer; concurrent readers traverse via atomic pointers.
type SkipList struct {
	head      *node
	maxHeight int32
	size      int64
}

// NewSkipList creates an empty skip list.
func NewSkipList() *SkipList {
	return &SkipList{
		head:      newNode(nil, MaxHeight),
		maxHeight: 1,
	}
}

func (s *SkipList) randomHeight() int {
	height := 1
	for height < MaxHeight && fastrand.Uint32n(BranchingFactor) == 0 {
		height++
	}
	return height
}

func (s *SkipList) getCurrentHeight() int {
	return int(atomic.LoadInt32(&s.maxHeight))
}

// Insert adds a new entry. Duplicate (key, seq) pairs are never produced by
// the write path, so ordering within the list stays total.
func (s *SkipList) Insert(e *entry) {
	height := s.randomHeight()
	prev := [MaxHeight]*node{}
	nd := newNode(e, height)

	currHeight := s.getCurrentHeight()
	if height > currHeight {
		if atomic.CompareAndSwapInt32(&s.maxHeight, int32(currHeight), int32(height)) {
			currHeight = height
		}
	}
	for level := currHeight; level < height; level++ {
		prev[level] = s.head
	}

	current := s.head
	for level := currHeight - 1; level >= 0; level-- {
		for next := current.getNext(level); next != nil; next = current.getNext(level) {
			if next.entry.compareWithEntry(e) >= 0 {
				break
			}
			current = next
		}
		prev[level] = current
	}

	for level := 0; level < height; level++ {
		if prev[level] == nil {
			prev[level] = s.head
		}
		nd.setNext(level, prev[level].getNext(level))
		prev[level].setNext(level, nd)
	}

	atomic.AddInt64(&s.size, int64(e.size()))
}

// Find returns the newest entry for the key, or nil if the key is absent.
// Entries for a key are ordered newest first, so the first match wins.
func (s *SkipList) Find(key []byte) *entry {
	current := s.head
	height := s.getCurrentHeight()

	for level := height - 1; level >= 0; level-- {
		for next := current.getNext(level); next != nil; next = current.getNext(level) {
			if next.entry.compare(key) >= 0 {
				break
			}
			current = next
		}
	}

	next := current.getNext(0)
	if next != nil && next.entry.compare(key) == 0 {
		return next.entry
	}
	return nil
}

// ApproximateSize returns the approximate size of the skip list in bytes.
func (s *SkipList) ApproximateSize() int64 {
	return atomic.LoadInt64(&s.size)
}

// Iterator walks the skip list in (key asc, seq desc) order, exposing every
// version including tombstones.
type Iterator struct {
	list    *SkipList
	current *node
}

// NewIterator creates an iterator positioned before the first entry.
func (s *SkipList) NewIterator() *Iterator {
	return &Iterator{
		list:    s,
		current: s.head,
	}
}

// Valid returns true if the iterator is positioned at an entry.
func (it *Iterator) Valid() bool {
	return it.current != nil && it.current != it.list.head
}

// Next advances to the next entry in order.
func (it *Iterator) Next() {
	if it.current == nil {
		return
	}
	it.current = it.current.getNext(0)
}

// SeekToFirst positions the iterator at the first entry.
func (it *Iterator) SeekToFirst() {
	it.current = it.list.head.getNext(0)
}

// Seek positions the iterator at the first entry with a key >= target.
func (it *Iterator) Seek(key []byte) {
	current := it.list.head
	height := it.list.getCurrentHeight()

	for level := height - 1; level >= 0; level-- {
		for next := current.getNext(level); next != nil; next = current.getNext(level) {
			if next.entry.compare(key) >= 0 {
				break
			}
			current = next
		}
	}
	it.current = current.getNext(0)
}

// Key returns the key of the current entry.
func (it *Iterator) Key() []byte {
	if !it.Valid() {
		return nil
	}
	return it.current.entry.key
}

// Value returns the value of the current entry. Tombstones yield nil but
// remain visible so the flush path can persist them.
func (it *Iterator) Value() []byte {
	if !it.Valid() {
		return nil
	}
	return it.current.entry.value
}

// Kind returns the kind of the current entry.
func (it *Iterator) Kind() ValueKind {
	if !it.Valid() {
		return 0
	}
	return it.current.entry.kind
}

// Seq returns the sequence number of the current entry.
func (it *Iterator) Seq() uint64 {
	if !it.Valid() {
		return 0
	}
	return it.current.entry.seq
}

// IsTombstone returns true if the current entry is a deletion marker.
func (it *Iterator) IsTombstone() bool {
	return it.Valid() && it.current.entry.kind == KindTombstone
}
