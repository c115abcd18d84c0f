package manifest

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
)

const (
	// recordHeaderSize covers the length and checksum fields
	recordHeaderSize = 8

	// maxRecordSize bounds a single edit payload
	maxRecordSize = 64 << 20

	currentFileName = "CURRENT"
	manifestPrefix  = "MANIFEST-"
)

var (
	// ErrManifestClosed is returned for operations on a closed set
	ErrManifestClosed = errors.New("manifest set is closed")
)

// ManifestFileName returns the file name for a manifest generation
func ManifestFileName(generation uint64) string {
	return fmt.Sprintf("%s%06d", manifestPrefix, generation)
}

// Set owns the durable version state: the current Version, the counters
// persisted alongside it, and the append-only manifest log. All mutations
// go through Apply, which serializes log writes and version swaps.
type Set struct {
	dir        string
	numLevels  int
	onObsolete func(*TableMeta)

	nextFileID atomic.Uint64

	mu         sync.Mutex
	current    *Version
	nextSeq    uint64
	generation uint64
	file       *os.File
	closed     bool
}

// Open recovers the version state from the manifest named by CURRENT (or
// starts empty when none exists), then writes a fresh manifest generation
// holding one snapshot edit and swaps CURRENT to it. The onObsolete
// callback fires when a table file is no longer referenced by any version.
func Open(dir string, numLevels int, onObsolete func(*TableMeta)) (*Set, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create manifest directory: %w", err)
	}

	s := &Set{
		dir:        dir,
		numLevels:  numLevels,
		onObsolete: onObsolete,
	}

	base, maxGen, err := s.recover()
	if err != nil {
		return nil, err
	}
	base.onObsolete = onObsolete

	// The set itself holds one version reference and one table reference
	// per live table
	base.Ref()
	for _, t := range base.AllTables() {
		t.refs.Add(1)
	}
	s.current = base

	if err := s.startGeneration(maxGen + 1); err != nil {
		base.Unref()
		return nil, err
	}

	s.removeStaleManifests()
	return s, nil
}

// recover replays the manifest named by CURRENT into a fresh version. A
// corrupt or truncated trailing record is the replay boundary, not an
// error. Returns the recovered version and the highest manifest
// generation seen on disk.
func (s *Set) recover() (*Version, uint64, error) {
	maxGen, err := s.maxGeneration()
	if err != nil {
		return nil, 0, err
	}

	version := NewVersion(s.numLevels)

	gen, err := readCurrent(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return version, maxGen, nil
		}
		return nil, 0, err
	}
	if gen > maxGen {
		maxGen = gen
	}

	path := filepath.Join(s.dir, ManifestFileName(gen))
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return version, maxGen, nil
		}
		return nil, 0, fmt.Errorf("failed to read manifest: %w", err)
	}

	pos := 0
	for pos < len(data) {
		payload, next, ok := readRecord(data, pos)
		if !ok {
			break
		}
		pos = next

		edit, err := DecodeEdit(payload)
		if err != nil {
			break
		}
		s.applyCounters(edit)

		version, err = replayEdit(version, edit)
		if err != nil {
			return nil, 0, err
		}
	}

	// File ids must stay ahead of every recovered table
	for _, t := range version.AllTables() {
		if t.FileID >= s.nextFileID.Load() {
			s.nextFileID.Store(t.FileID + 1)
		}
	}

	return version, maxGen, nil
}

// applyCounters folds an edit's counter fields into the set
func (s *Set) applyCounters(edit *VersionEdit) {
	if edit.NextFileID > s.nextFileID.Load() {
		s.nextFileID.Store(edit.NextFileID)
	}
	if edit.NextSeq > s.nextSeq {
		s.nextSeq = edit.NextSeq
	}
}

// replayEdit folds an edit into a version during recovery, without
// refcount bookkeeping
func replayEdit(v *Version, edit *VersionEdit) (*Version, error) {
	next := NewVersion(len(v.levels))

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
			return nil, fmt.Errorf("manifest adds table %d to invalid level %d", t.FileID, t.Level)
		}
		next.levels[t.Level] = append(next.levels[t.Level], t)
	}
	for level := range next.levels {
		sortLevel(level, next.levels[level])
	}
	return next, nil
}

// startGeneration writes a new manifest file containing one snapshot of
// the current state, then swaps CURRENT to it
func (s *Set) startGeneration(gen uint64) error {
	path := filepath.Join(s.dir, ManifestFileName(gen))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to create manifest: %w", err)
	}

	snapshot := &VersionEdit{
		NextFileID: s.nextFileID.Load(),
		NextSeq:    s.nextSeq,
	}
	for _, t := range s.current.AllTables() {
		snapshot.AddTable(t)
	}

	if err := writeRecord(file, snapshot.Encode()); err != nil {
		file.Close()
		os.Remove(path)
		return err
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(path)
		return fmt.Errorf("failed to sync manifest: %w", err)
	}

	if err := writeCurrent(s.dir, gen); err != nil {
		file.Close()
		os.Remove(path)
		return err
	}

	s.file = file
	s.generation = gen
	return nil
}

// removeStaleManifests deletes manifest generations older than the live
// one. Failures are ignored; stale files are retried on the next open.
func (s *Set) removeStaleManifests() {
	matches, err := filepath.Glob(filepath.Join(s.dir, manifestPrefix+"*"))
	if err != nil {
		return
	}
	live := ManifestFileName(s.generation)
	for _, path := range matches {
		if filepath.Base(path) != live {
			os.Remove(path)
		}
	}
}

// Apply logs the edit durably, then installs the successor version. The
// previous current version is released; the new one carries the set's
// reference.
func (s *Set) Apply(edit *VersionEdit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrManifestClosed
	}

	// Counters in the edit are stamped from the in-memory state so every
	// record is self-contained
	if edit.NextFileID == 0 {
		edit.NextFileID = s.nextFileID.Load()
	}
	if edit.NextSeq == 0 {
		edit.NextSeq = s.nextSeq
	}

	next, err := s.current.apply(edit)
	if err != nil {
		return err
	}

	// The Ref/Unref pair on failure releases the table references apply
	// took for the discarded version
	if err := writeRecord(s.file, edit.Encode()); err != nil {
		next.Ref()
		next.Unref()
		return err
	}
	if err := s.file.Sync(); err != nil {
		next.Ref()
		next.Unref()
		return fmt.Errorf("failed to sync manifest: %w", err)
	}

	s.applyCounters(edit)

	old := s.current
	next.Ref()
	s.current = next
	old.Unref()
	return nil
}

// Current returns the live version with a reference the caller must
// release via Unref
func (s *Set) Current() *Version {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current.Ref()
	return s.current
}

// AllocateFileID hands out the next table file id
func (s *Set) AllocateFileID() uint64 {
	return s.nextFileID.Add(1) - 1
}

// NextSeq returns the persisted sequence floor: every entry below it is
// reflected in tables
func (s *Set) NextSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextSeq
}

// Generation returns the live manifest generation
func (s *Set) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// Close releases the set's version reference and closes the manifest log.
// Tables in the current version are still live on disk; the shutdown
// release must not report them obsolete, or a clean close would unlink
// files the manifest still references.
func (s *Set) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	s.current.onObsolete = nil
	s.current.Unref()
	s.current = nil

	if err := s.file.Sync(); err != nil {
		s.file.Close()
		return fmt.Errorf("failed to sync manifest: %w", err)
	}
	return s.file.Close()
}

// maxGeneration scans the directory for the highest manifest generation
func (s *Set) maxGeneration() (uint64, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, manifestPrefix+"*"))
	if err != nil {
		return 0, fmt.Errorf("failed to list manifests: %w", err)
	}
	var max uint64
	for _, path := range matches {
		var gen uint64
		if _, err := fmt.Sscanf(filepath.Base(path), manifestPrefix+"%d", &gen); err != nil {
			continue
		}
		if gen > max {
			max = gen
		}
	}
	return max, nil
}

// writeRecord appends one length-prefixed, checksummed record
func writeRecord(w io.Writer, payload []byte) error {
	header := make([]byte, recordHeaderSize)
	binary.LittleEndian.PutUint32(header[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(header[4:8], crc32.ChecksumIEEE(payload))
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write manifest record: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("failed to write manifest record: %w", err)
	}
	return nil
}

// readRecord extracts the record starting at pos. ok is false when the
// record is truncated or fails its checksum; that position is the replay
// boundary.
func readRecord(data []byte, pos int) (payload []byte, next int, ok bool) {
	if pos+recordHeaderSize > len(data) {
		return nil, 0, false
	}
	length := int(binary.LittleEndian.Uint32(data[pos : pos+4]))
	checksum := binary.LittleEndian.Uint32(data[pos+4 : pos+8])
	if length > maxRecordSize || pos+recordHeaderSize+length > len(data) {
		return nil, 0, false
	}
	payload = data[pos+recordHeaderSize : pos+recordHeaderSize+length]
	if crc32.ChecksumIEEE(payload) != checksum {
		return nil, 0, false
	}
	return payload, pos + recordHeaderSize + length, true
}

// writeCurrent atomically points CURRENT at a manifest generation
func writeCurrent(dir string, gen uint64) error {
	tmpPath := filepath.Join(dir, currentFileName+".tmp")
	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to create CURRENT temp file: %w", err)
	}
	if _, err := file.WriteString(ManifestFileName(gen) + "\n"); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write CURRENT temp file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync CURRENT temp file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, filepath.Join(dir, currentFileName)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to install CURRENT file: %w", err)
	}
	return nil
}

// readCurrent returns the generation CURRENT names
func readCurrent(dir string) (uint64, error) {
	data, err := os.ReadFile(filepath.Join(dir, currentFileName))
	if err != nil {
		return 0, err
	}
	name := strings.TrimSpace(string(data))
	if !strings.HasPrefix(name, manifestPrefix) {
		return 0, fmt.Errorf("invalid manifest name in CURRENT: %q", name)
	}
	var gen uint64
	if _, err := fmt.Sscanf(name, manifestPrefix+"%d", &gen); err != nil {
		return 0, fmt.Errorf("failed to parse CURRENT contents %q: %w", name, err)
	}
	return gen, nil
}
