package manifest

import (
	"bytes"
	"fmt"
	"sort"
	"sync/atomic"
)

// TableMeta describes one sorted table file registered in a version
type TableMeta struct {
	Level      int
	FileID     uint64
	Size       uint64
	EntryCount uint64
	MinKey     []byte
	MaxKey     []byte

	refs atomic.Int32
}

// Overlaps reports whether the table's key range intersects [min, max].
// A nil bound is unbounded on that side.
func (t *TableMeta) Overlaps(min, max []byte) bool {
	if min != nil && bytes.Compare(t.MaxKey, min) < 0 {
		return false
	}
	if max != nil && bytes.Compare(t.MinKey, max) > 0 {
		return false
	}
	return true
}

// Contains reports whether key falls inside the table's key range
func (t *TableMeta) Contains(key []byte) bool {
	return bytes.Compare(key, t.MinKey) >= 0 && bytes.Compare(key, t.MaxKey) <= 0
}

// Version is an immutable snapshot of the table hierarchy. Readers hold a
// reference for as long as they iterate; table files are deleted only when
// no version references them.
type Version struct {
	levels [][]*TableMeta

	refs       atomic.Int32
	onObsolete func(*TableMeta)
}

// NewVersion creates an empty version with the given number of levels
func NewVersion(numLevels int) *Version {
	return &Version{
		levels: make([][]*TableMeta, numLevels),
	}
}

// NumLevels returns the level count
func (v *Version) NumLevels() int {
	return len(v.levels)
}

// Tables returns the tables registered at a level. Level 0 is ordered by
// file id descending (newest first); deeper levels are sorted by MinKey.
func (v *Version) Tables(level int) []*TableMeta {
	if level < 0 || level >= len(v.levels) {
		return nil
	}
	return v.levels[level]
}

// AllTables returns every table in the version, shallow-copied per level
func (v *Version) AllTables() []*TableMeta {
	var all []*TableMeta
	for _, level := range v.levels {
		all = append(all, level...)
	}
	return all
}

// TableCount returns the total number of tables across all levels
func (v *Version) TableCount() int {
	n := 0
	for _, level := range v.levels {
		n += len(level)
	}
	return n
}

// LevelSize returns the total byte size of tables at a level
func (v *Version) LevelSize(level int) uint64 {
	var size uint64
	for _, t := range v.Tables(level) {
		size += t.Size
	}
	return size
}

// OverlappingTables returns the tables at a level whose key ranges
// intersect [min, max]
func (v *Version) OverlappingTables(level int, min, max []byte) []*TableMeta {
	var out []*TableMeta
	for _, t := range v.Tables(level) {
		if t.Overlaps(min, max) {
			out = append(out, t)
		}
	}
	return out
}

// FindTable locates the single table at a non-zero level whose range can
// hold key. Levels below 0 keep non-overlapping ranges, so binary search
// on MinKey suffices.
func (v *Version) FindTable(level int, key []byte) *TableMeta {
	tables := v.Tables(level)
	if len(tables) == 0 {
		return nil
	}

	// First table with MinKey > key; the candidate is the one before it
	idx := sort.Search(len(tables), func(i int) bool {
		return bytes.Compare(tables[i].MinKey, key) > 0
	})
	if idx == 0 {
		return nil
	}
	candidate := tables[idx-1]
	if candidate.Contains(key) {
		return candidate
	}
	return nil
}

// KeyCoveredBelow reports whether any level deeper than the given one has
// a table whose key range can hold key. Compaction uses this to decide
// whether a tombstone must be carried forward.
func (v *Version) KeyCoveredBelow(level int, key []byte) bool {
	for l := level + 1; l < len(v.levels); l++ {
		for _, t := range v.Tables(l) {
			if t.Contains(key) {
				return true
			}
		}
	}
	return false
}

// Ref takes a reference on the version and every table it holds
func (v *Version) Ref() {
	v.refs.Add(1)
}

// Unref drops a reference. When the version reaches zero it releases its
// tables; a table that no live version holds is reported obsolete.
func (v *Version) Unref() {
	n := v.refs.Add(-1)
	if n > 0 {
		return
	}
	if n < 0 {
		panic("manifest: version refcount below zero")
	}
	for _, level := range v.levels {
		for _, t := range level {
			if t.refs.Add(-1) == 0 && v.onObsolete != nil {
				v.onObsolete(t)
			}
		}
	}
}

// apply builds the successor version with the edit folded in. Added tables
// gain a table reference for the new version; every table carried over
// gains one as well.
func (v *Version) apply(edit *VersionEdit) (*Version, error) {
	next := NewVersion(len(v.levels))
	next.onObsolete = v.onObsolete

	removed := make(map[TableRef]bool, len(edit.RemovedTables))
	for _, r := range edit.RemovedTables {
		removed[r] = true
	}

	for level, tables := range v.levels {
		for _, t := range tables {
			if !removed[TableRef{Level: level, FileID: t.FileID}] {
				next.levels[level] = append(next.levels[level], t)
			}
		}
	}

	for _, t := range edit.AddedTables {
		if t.Level < 0 || t.Level >= len(next.levels) {
			return nil, fmt.Errorf("version edit adds table %d to invalid level %d", t.FileID, t.Level)
		}
		next.levels[t.Level] = append(next.levels[t.Level], t)
	}

	for level := range next.levels {
		sortLevel(level, next.levels[level])
	}

	for _, level := range next.levels {
		for _, t := range level {
			t.refs.Add(1)
		}
	}

	return next, nil
}

// sortLevel orders level 0 newest first and deeper levels by ascending
// MinKey
func sortLevel(level int, tables []*TableMeta) {
	if level == 0 {
		sort.Slice(tables, func(i, j int) bool {
			return tables[i].FileID > tables[j].FileID
		})
		return
	}
	sort.Slice(tables, func(i, j int) bool {
		return bytes.Compare(tables[i].MinKey, tables[j].MinKey) < 0
	})
}
