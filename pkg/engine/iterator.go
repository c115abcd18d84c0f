package engine

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"github.com/stratadb/strata/pkg/common/iterator"
	"github.com/stratadb/strata/pkg/common/iterator/bounded"
	"github.com/stratadb/strata/pkg/common/iterator/composite"
	"github.com/stratadb/strata/pkg/manifest"
	"github.com/stratadb/strata/pkg/memtable"
	"github.com/stratadb/strata/pkg/sstable"
	"github.com/stratadb/strata/pkg/stats"
)

// Iterator is a merged, tombstone-hidden cursor over the whole engine.
// It pins the version it was created against, so compactions never
// invalidate it. Callers must Close it to release the version.
type Iterator struct {
	inner   iterator.Iterator
	version *manifest.Version
	closed  bool
}

// NewIterator returns a cursor over every live key in ascending order
func (e *Engine) NewIterator() (*Iterator, error) {
	return e.newIterator(nil, nil)
}

// NewRangeIterator returns a cursor over [startKey, endKey). Nil bounds
// are unbounded.
func (e *Engine) NewRangeIterator(startKey, endKey []byte) (*Iterator, error) {
	return e.newIterator(startKey, endKey)
}

// Scan is the range iteration surface: it returns a cursor positioned
// before [startKey, endKey).
func (e *Engine) Scan(startKey, endKey []byte) (*Iterator, error) {
	start := time.Now()
	it, err := e.newIterator(startKey, endKey)
	e.collector.TrackOperationWithLatency(stats.OpScan, uint64(time.Since(start).Nanoseconds()))
	return it, err
}

func (e *Engine) newIterator(startKey, endKey []byte) (*Iterator, error) {
	if err := e.checkActive(); err != nil {
		return nil, err
	}

	v := e.versions.Current()

	sources, err := e.iteratorSources(v)
	if err != nil {
		v.Unref()
		return nil, err
	}

	var inner iterator.Iterator = composite.NewHierarchicalIterator(sources)
	if startKey != nil || endKey != nil {
		inner = bounded.NewBoundedIterator(inner, startKey, endKey)
	}

	return &Iterator{inner: inner, version: v}, nil
}

// iteratorSources builds the merged view's inputs, newest first: live
// buffers, level 0 tables by file id descending, then one iterator per
// deeper level
func (e *Engine) iteratorSources(v *manifest.Version) ([]iterator.Iterator, error) {
	var sources []iterator.Iterator

	for _, m := range e.pool.GetMemTables() {
		sources = append(sources, memtable.NewIteratorAdapter(m.NewIterator()))
	}

	for _, t := range v.Tables(0) {
		r, err := e.cache.get(t)
		if err != nil {
			return nil, fmt.Errorf("failed to open iterator source: %w", err)
		}
		sources = append(sources, r.NewIterator())
	}

	for level := 1; level < v.NumLevels(); level++ {
		tables := v.Tables(level)
		if len(tables) == 0 {
			continue
		}
		sources = append(sources, newLevelIterator(e.cache, tables))
	}

	return sources, nil
}

// SeekToFirst positions at the first visible key
func (it *Iterator) SeekToFirst() {
	it.inner.SeekToFirst()
	it.skipTombstones()
}

// Seek positions at the first visible key >= target
func (it *Iterator) Seek(target []byte) bool {
	it.inner.Seek(target)
	it.skipTombstones()
	return it.Valid()
}

// Next advances to the next visible key
func (it *Iterator) Next() bool {
	if !it.inner.Valid() {
		return false
	}
	it.inner.Next()
	it.skipTombstones()
	return it.Valid()
}

// SeekToLast positions at the last visible key
func (it *Iterator) SeekToLast() {
	// A trailing tombstone hides the last physical key; walk forward
	// remembering the last visible one
	it.inner.SeekToLast()
	if it.inner.Valid() && !it.inner.IsTombstone() {
		return
	}

	var lastVisible []byte
	for it.inner.SeekToFirst(); it.inner.Valid(); it.inner.Next() {
		if !it.inner.IsTombstone() {
			lastVisible = append(lastVisible[:0], it.inner.Key()...)
		}
	}
	if lastVisible == nil {
		return
	}
	it.inner.Seek(lastVisible)
}

func (it *Iterator) skipTombstones() {
	for it.inner.Valid() && it.inner.IsTombstone() {
		it.inner.Next()
	}
}

// Valid returns true when positioned at a visible entry
func (it *Iterator) Valid() bool {
	return !it.closed && it.inner.Valid() && !it.inner.IsTombstone()
}

// Key returns the current key
func (it *Iterator) Key() []byte {
	if !it.Valid() {
		return nil
	}
	return it.inner.Key()
}

// Value returns the current value
func (it *Iterator) Value() []byte {
	if !it.Valid() {
		return nil
	}
	return it.inner.Value()
}

// Close releases the pinned version. The iterator is unusable after.
func (it *Iterator) Close() {
	if it.closed {
		return
	}
	it.closed = true
	it.version.Unref()
}

// levelIterator walks a level's non-overlapping tables in key order,
// presenting them as one ascending cursor
type levelIterator struct {
	cache  *tableCache
	tables []*manifest.TableMeta

	idx int
	cur *sstable.Iterator
}

func newLevelIterator(cache *tableCache, tables []*manifest.TableMeta) *levelIterator {
	return &levelIterator{cache: cache, tables: tables, idx: -1}
}

// openTable positions cur on tables[idx], or invalidates on failure
func (li *levelIterator) openTable(idx int) bool {
	li.cur = nil
	if idx < 0 || idx >= len(li.tables) {
		li.idx = len(li.tables)
		return false
	}
	r, err := li.cache.get(li.tables[idx])
	if err != nil {
		li.idx = len(li.tables)
		return false
	}
	li.idx = idx
	li.cur = r.NewIterator()
	return true
}

func (li *levelIterator) SeekToFirst() {
	if !li.openTable(0) {
		return
	}
	li.cur.SeekToFirst()
	li.skipExhausted()
}

func (li *levelIterator) SeekToLast() {
	if !li.openTable(len(li.tables) - 1) {
		return
	}
	li.cur.SeekToLast()
}

func (li *levelIterator) Seek(target []byte) bool {
	// First table whose MaxKey can hold the target
	idx := sort.Search(len(li.tables), func(i int) bool {
		return bytes.Compare(li.tables[i].MaxKey, target) >= 0
	})
	if !li.openTable(idx) {
		return false
	}
	li.cur.Seek(target)
	li.skipExhausted()
	return li.Valid()
}

func (li *levelIterator) Next() bool {
	if li.cur == nil {
		return false
	}
	li.cur.Next()
	li.skipExhausted()
	return li.Valid()
}

// skipExhausted advances across table boundaries until a valid entry or
// the end of the level
func (li *levelIterator) skipExhausted() {
	for li.cur != nil && !li.cur.Valid() {
		if !li.openTable(li.idx + 1) {
			return
		}
		li.cur.SeekToFirst()
	}
}

func (li *levelIterator) Valid() bool {
	return li.cur != nil && li.cur.Valid()
}

func (li *levelIterator) Key() []byte {
	if !li.Valid() {
		return nil
	}
	return li.cur.Key()
}

func (li *levelIterator) Value() []byte {
	if !li.Valid() {
		return nil
	}
	return li.cur.Value()
}

func (li *levelIterator) IsTombstone() bool {
	return li.Valid() && li.cur.IsTombstone()
}

func (li *levelIterator) SequenceNumber() uint64 {
	if !li.Valid() {
		return 0
	}
	return li.cur.SequenceNumber()
}
