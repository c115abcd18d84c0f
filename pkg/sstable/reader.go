package sstable

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/stratadb/strata/pkg/bloom"
	"github.com/stratadb/strata/pkg/sstable/block"
	"github.com/stratadb/strata/pkg/sstable/footer"
)

// Reader serves point lookups and scans from one table file. A reader is
// safe for concurrent use.
type Reader struct {
	path       string
	file       *os.File
	fileSize   int64
	indexBlock *block.Reader
	filter     *bloom.Filter
	entryCount uint64
	mu         sync.RWMutex
}

// OpenReader opens a table file, validating its footer, index, and bloom
// filter. A missing or mismatched magic yields ErrCorruption.
func OpenReader(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open table file: %w", err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat table file: %w", err)
	}
	if stat.Size() < int64(footer.Size) {
		file.Close()
		return nil, fmt.Errorf("%w: file too small (%d bytes)", ErrCorruption, stat.Size())
	}

	footerData := make([]byte, footer.Size)
	if _, err := file.ReadAt(footerData, stat.Size()-int64(footer.Size)); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to read footer: %w", err)
	}
	ft, err := footer.Decode(footerData)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: %v", ErrCorruption, err)
	}

	indexData := make([]byte, ft.IndexSize)
	if _, err := file.ReadAt(indexData, int64(ft.IndexOffset)); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to read index block: %w", err)
	}
	indexBlock, err := block.NewReader(indexData)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: index block: %v", ErrCorruption, err)
	}

	filter, err := readBloomBlock(file, ft)
	if err != nil {
		file.Close()
		return nil, err
	}

	return &Reader{
		path:       path,
		file:       file,
		fileSize:   stat.Size(),
		indexBlock: indexBlock,
		filter:     filter,
		entryCount: ft.EntryCount,
	}, nil
}

func readBloomBlock(file *os.File, ft *footer.Footer) (*bloom.Filter, error) {
	if ft.BloomSize == 0 {
		return nil, nil
	}
	if ft.BloomSize < block.TrailerSize {
		return nil, fmt.Errorf("%w: bloom block too small", ErrCorruption)
	}

	raw := make([]byte, ft.BloomSize)
	if _, err := file.ReadAt(raw, int64(ft.BloomOffset)); err != nil {
		return nil, fmt.Errorf("failed to read bloom block: %w", err)
	}

	payload := raw[:len(raw)-block.TrailerSize]
	want := binary.LittleEndian.Uint64(raw[len(raw)-8:])
	if xxhash.Sum64(payload) != want {
		return nil, fmt.Errorf("%w: bloom block checksum mismatch", ErrCorruption)
	}

	filter, err := bloom.Load(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: bloom filter: %v", ErrCorruption, err)
	}
	return filter, nil
}

// Path returns the table file path.
func (r *Reader) Path() string {
	return r.path
}

// EntryCount returns the number of entries in the table.
func (r *Reader) EntryCount() uint64 {
	return r.entryCount
}

// Size returns the table file size in bytes.
func (r *Reader) Size() int64 {
	return r.fileSize
}

// MayContain consults the bloom filter without touching data blocks.
func (r *Reader) MayContain(key []byte) bool {
	if r.filter == nil {
		return true
	}
	return r.filter.MayContain(key)
}

// Get returns the entry stored for the key. Tombstones are returned like
// any other entry; the caller decides what a deletion means at its level.
// Returns ErrNotFound when the table holds no version of the key.
func (r *Reader) Get(key []byte) (*Entry, error) {
	if !r.MayContain(key) {
		return nil, ErrNotFound
	}

	blockReader, err := r.findBlock(key)
	if err != nil {
		return nil, err
	}
	if blockReader == nil {
		return nil, ErrNotFound
	}

	it := blockReader.Iterator()
	if !it.Seek(key) || !bytes.Equal(it.Key(), key) {
		return nil, ErrNotFound
	}

	kind, seq, payload, err := decodeValue(it.Value())
	if err != nil {
		return nil, err
	}
	return &Entry{
		Key:   append([]byte(nil), key...),
		Value: append([]byte(nil), payload...),
		Seq:   seq,
		Kind:  kind,
	}, nil
}

// findBlock locates and loads the data block that may hold the key. Index
// entries are keyed by each block's last key, so the first index key >= the
// target names the only candidate block.
func (r *Reader) findBlock(key []byte) (*block.Reader, error) {
	it := r.indexBlock.Iterator()
	if !it.Seek(key) {
		return nil, nil
	}
	offset, size, err := parseIndexValue(it.Value())
	if err != nil {
		return nil, err
	}
	return r.fetchBlock(offset, size)
}

func (r *Reader) fetchBlock(offset uint64, size uint32) (*block.Reader, error) {
	data := make([]byte, size)
	r.mu.RLock()
	file := r.file
	r.mu.RUnlock()
	if file == nil {
		return nil, fmt.Errorf("table reader is closed")
	}

	if _, err := file.ReadAt(data, int64(offset)); err != nil {
		return nil, fmt.Errorf("failed to read data block at offset %d: %w", offset, err)
	}
	blockReader, err := block.NewReader(data)
	if err != nil {
		return nil, fmt.Errorf("%w: data block at offset %d: %v", ErrCorruption, offset, err)
	}
	return blockReader, nil
}

func parseIndexValue(value []byte) (uint64, uint32, error) {
	if len(value) < 12 {
		return 0, 0, fmt.Errorf("%w: index entry too short (%d bytes)", ErrCorruption, len(value))
	}
	return binary.LittleEndian.Uint64(value[:8]), binary.LittleEndian.Uint32(value[8:12]), nil
}

// NewIterator returns an iterator over the whole table.
func (r *Reader) NewIterator() *Iterator {
	return &Iterator{reader: r}
}

// Close closes the underlying file. Iterators must not be used afterwards.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}
