// Package memtable implements the in-memory write buffer. Mutations land
// here after the WAL accepts them; a full buffer is sealed and handed to the
// background flusher, which persists it as a level 0 sorted table.
package memtable

import (
	"sync"
	"sync/atomic"
	"time"
)

// MemTable is one write buffer generation backed by a skip list. Inserts are
// versioned by sequence number and never modified in place.
type MemTable struct {
	skipList     *SkipList
	generation   uint64
	maxSeq       uint64
	creationTime time.Time
	immutable    atomic.Bool
	mu           sync.RWMutex
}

// NewMemTable creates an empty buffer for the given generation. The
// generation ties the buffer to its WAL file.
func NewMemTable(generation uint64) *MemTable {
	return &MemTable{
		skipList:     NewSkipList(),
		generation:   generation,
		creationTime: time.Now(),
	}
}

// Generation returns the buffer generation.
func (m *MemTable) Generation() uint64 {
	return m.generation
}

// Put adds a key-value pair with the given sequence number.
func (m *MemTable) Put(key, value []byte, seq uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.IsImmutable() {
		return
	}

	m.skipList.Insert(newEntry(key, value, KindValue, seq))
	if seq > m.maxSeq {
		m.maxSeq = seq
	}
}

// Delete inserts a tombstone for the key. The key still reads as deleted
// even if an older version lives in a deeper level.
func (m *MemTable) Delete(key []byte, seq uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.IsImmutable() {
		return
	}

	m.skipList.Insert(newEntry(key, nil, KindTombstone, seq))
	if seq > m.maxSeq {
		m.maxSeq = seq
	}
}

// Get retrieves the newest version of the key.
// Returns (nil, true) if the key was deleted here.
// Get looks up the newest version of key in this buffer. found is false
// when the buffer holds no version at all; tombstone is true when that
// newest version is a deletion marker. A live value may be empty.
func (m *MemTable) Get(key []byte) (value []byte, tombstone, found bool) {
	if m.IsImmutable() {
		// Sealed buffers take no writes, skip the lock
		return m.findLocked(key)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findLocked(key)
}

func (m *MemTable) findLocked(key []byte) (value []byte, tombstone, found bool) {
	e := m.skipList.Find(key)
	if e == nil {
		return nil, false, false
	}
	if e.kind == KindTombstone {
		return nil, true, true
	}
	return e.value, false, true
}

// Contains checks whether this buffer holds any version of the key,
// tombstones included.
func (m *MemTable) Contains(key []byte) bool {
	if m.IsImmutable() {
		return m.skipList.Find(key) != nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.skipList.Find(key) != nil
}

// ApproximateSize returns the approximate size of the buffer in bytes.
func (m *MemTable) ApproximateSize() int64 {
	return m.skipList.ApproximateSize()
}

// SetImmutable seals the buffer. No modifications are accepted afterwards.
func (m *MemTable) SetImmutable() {
	m.immutable.Store(true)
}

// IsImmutable returns whether the buffer is sealed.
func (m *MemTable) IsImmutable() bool {
	return m.immutable.Load()
}

// MaxSequence returns the highest sequence number inserted so far.
func (m *MemTable) MaxSequence() uint64 {
	if m.IsImmutable() {
		return m.maxSeq
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.maxSeq
}

// Age returns the age of the buffer in seconds.
func (m *MemTable) Age() float64 {
	return time.Since(m.creationTime).Seconds()
}

// NewIterator returns an iterator over every version in the buffer.
func (m *MemTable) NewIterator() *Iterator {
	if m.IsImmutable() {
		return m.skipList.NewIterator()
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.skipList.NewIterator()
}
