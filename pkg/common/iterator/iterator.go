// Package iterator declares the traversal contract shared by every data
// source in the engine: memtables, table files, level sweeps, and the
// merged views built on top of them. Implementations yield entries in
// ascending key order and surface deletion markers rather than hiding
// them, leaving visibility decisions to the caller.
package iterator

// Iterator walks key-value entries in ascending key order. A fresh
// iterator is unpositioned; call SeekToFirst, SeekToLast, or Seek before
// reading. Key and Value return nil when the iterator is not Valid.
type Iterator interface {
	SeekToFirst()
	SeekToLast()

	// Seek positions at the first entry with key >= target and reports
	// whether such an entry exists
	Seek(target []byte) bool

	// Next advances one entry, reporting false at the end
	Next() bool

	Key() []byte
	Value() []byte
	Valid() bool

	// IsTombstone distinguishes a deletion marker from a stored nil value
	IsTombstone() bool

	// SequenceNumber is the entry's version stamp; sources without
	// version information report 0
	SequenceNumber() uint64
}
