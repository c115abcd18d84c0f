package memtable

import (
	"bytes"
	"fmt"
	"testing"
)

func TestMemTableBasicOperations(t *testing.T) {
	m := NewMemTable(1)

	m.Put([]byte("key1"), []byte("value1"), 1)
	value, tombstone, found := m.Get([]byte("key1"))
	if !found || tombstone {
		t.Fatalf("key1 after put: tombstone=%v found=%v", tombstone, found)
	}
	if string(value) != "value1" {
		t.Errorf("got value %q, want %q", value, "value1")
	}

	if _, _, found := m.Get([]byte("absent")); found {
		t.Error("absent key should not be found")
	}
}

func TestMemTableNewestVersionWins(t *testing.T) {
	m := NewMemTable(1)

	m.Put([]byte("key"), []byte("old"), 1)
	m.Put([]byte("key"), []byte("new"), 2)

	value, _, found := m.Get([]byte("key"))
	if !found {
		t.Fatal("key not found")
	}
	if string(value) != "new" {
		t.Errorf("got value %q, want the newest version %q", value, "new")
	}
}

func TestMemTableDelete(t *testing.T) {
	m := NewMemTable(1)

	m.Put([]byte("key"), []byte("value"), 1)
	m.Delete([]byte("key"), 2)

	// The tombstone is the newest version: key reads as deleted, and the
	// buffer still reports that it holds a version of the key
	_, tombstone, found := m.Get([]byte("key"))
	if !found {
		t.Fatal("tombstone should report found=true")
	}
	if !tombstone {
		t.Error("deleted key should read as a tombstone")
	}
	if !m.Contains([]byte("key")) {
		t.Error("Contains should see the tombstone")
	}
}

func TestMemTableDeleteBeforePut(t *testing.T) {
	m := NewMemTable(1)

	// Deleting a key this buffer never saw still inserts a tombstone; an
	// older version may live in a deeper level
	m.Delete([]byte("ghost"), 5)

	_, tombstone, found := m.Get([]byte("ghost"))
	if !found || !tombstone {
		t.Errorf("got tombstone=%v found=%v, want both true", tombstone, found)
	}
}

func TestMemTableImmutableRejectsWrites(t *testing.T) {
	m := NewMemTable(1)
	m.Put([]byte("key"), []byte("before"), 1)
	m.SetImmutable()

	m.Put([]byte("key"), []byte("after"), 2)
	m.Delete([]byte("key"), 3)

	value, _, found := m.Get([]byte("key"))
	if !found || string(value) != "before" {
		t.Errorf("sealed buffer changed: got (%q, %v)", value, found)
	}
}

func TestMemTableMaxSequence(t *testing.T) {
	m := NewMemTable(1)
	m.Put([]byte("a"), []byte("1"), 3)
	m.Put([]byte("b"), []byte("2"), 7)
	m.Delete([]byte("c"), 5)

	if got := m.MaxSequence(); got != 7 {
		t.Errorf("max sequence = %d, want 7", got)
	}
}

func TestIteratorOrdering(t *testing.T) {
	m := NewMemTable(1)
	m.Put([]byte("banana"), []byte("1"), 1)
	m.Put([]byte("apple"), []byte("2"), 2)
	m.Put([]byte("cherry"), []byte("3"), 3)
	m.Put([]byte("apple"), []byte("4"), 4)

	it := m.NewIterator()
	it.SeekToFirst()

	// Versions are ordered by key ascending then sequence descending
	want := []struct {
		key string
		seq uint64
	}{
		{"apple", 4},
		{"apple", 2},
		{"banana", 1},
		{"cherry", 3},
	}

	for i, w := range want {
		if !it.Valid() {
			t.Fatalf("iterator exhausted at entry %d", i)
		}
		if string(it.Key()) != w.key || it.Seq() != w.seq {
			t.Errorf("entry %d = (%q, %d), want (%q, %d)", i, it.Key(), it.Seq(), w.key, w.seq)
		}
		it.Next()
	}
	if it.Valid() {
		t.Errorf("unexpected extra entry %q", it.Key())
	}
}

func TestIteratorSeek(t *testing.T) {
	m := NewMemTable(1)
	for i := 0; i < 10; i++ {
		m.Put([]byte(fmt.Sprintf("key-%02d", i)), []byte("v"), uint64(i+1))
	}

	it := m.NewIterator()
	it.Seek([]byte("key-05"))
	if !it.Valid() || string(it.Key()) != "key-05" {
		t.Errorf("seek landed on %q, want key-05", it.Key())
	}

	it.Seek([]byte("key-055"))
	if !it.Valid() || string(it.Key()) != "key-06" {
		t.Errorf("seek landed on %q, want key-06", it.Key())
	}

	it.Seek([]byte("zzz"))
	if it.Valid() {
		t.Error("seek past all keys should invalidate the iterator")
	}
}

func TestFlushIteratorNewestPerKey(t *testing.T) {
	m := NewMemTable(1)
	m.Put([]byte("a"), []byte("a1"), 1)
	m.Put([]byte("a"), []byte("a2"), 4)
	m.Put([]byte("b"), []byte("b1"), 2)
	m.Delete([]byte("b"), 5)
	m.Put([]byte("c"), []byte("c1"), 3)
	m.SetImmutable()

	f := NewFlushIterator(m)
	f.SeekToFirst()

	type flushEntry struct {
		key       string
		value     string
		seq       uint64
		tombstone bool
	}
	want := []flushEntry{
		{"a", "a2", 4, false},
		{"b", "", 5, true},
		{"c", "c1", 3, false},
	}

	var got []flushEntry
	for f.Valid() {
		got = append(got, flushEntry{
			key:       string(f.Key()),
			value:     string(f.Value()),
			seq:       f.Seq(),
			tombstone: f.IsTombstone(),
		})
		f.Next()
	}

	if len(got) != len(want) {
		t.Fatalf("flush emitted %d entries, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestIteratorAdapterSequenceNumbers(t *testing.T) {
	m := NewMemTable(1)
	m.Put([]byte("k"), []byte("v"), 42)

	a := NewIteratorAdapter(m.NewIterator())
	a.SeekToFirst()
	if !a.Valid() {
		t.Fatal("expected valid adapter")
	}
	if a.SequenceNumber() != 42 {
		t.Errorf("sequence number = %d, want 42", a.SequenceNumber())
	}
}

func TestSkipListLargeInsertion(t *testing.T) {
	s := NewSkipList()
	const n = 5000

	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%06d", (i*7919)%n))
		s.Insert(newEntry(key, []byte("v"), KindValue, uint64(i+1)))
	}

	it := s.NewIterator()
	it.SeekToFirst()
	var prev []byte
	count := 0
	for it.Valid() {
		if prev != nil && bytes.Compare(it.Key(), prev) < 0 {
			t.Fatalf("ordering violated at entry %d: %q after %q", count, it.Key(), prev)
		}
		prev = append(prev[:0], it.Key()...)
		count++
		it.Next()
	}
	if count != n {
		t.Errorf("iterated %d entries, want %d", count, n)
	}
}
