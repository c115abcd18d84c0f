package sstable

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
	"github.com/stratadb/strata/pkg/bloom"
	"github.com/stratadb/strata/pkg/config"
	"github.com/stratadb/strata/pkg/sstable/block"
	"github.com/stratadb/strata/pkg/sstable/footer"
)

// WriterOptions tunes table construction.
type WriterOptions struct {
	// BlockSize is the target uncompressed size of a data block
	BlockSize int
	// BloomBitsPerKey sizes the bloom filter
	BloomBitsPerKey int
	// Compression selects the data and index block codec
	Compression config.CompressionType
}

// DefaultWriterOptions derives writer options from the engine config.
func DefaultWriterOptions(cfg *config.Config) WriterOptions {
	return WriterOptions{
		BlockSize:       cfg.DataBlockSize,
		BloomBitsPerKey: cfg.BloomBitsPerKey,
		Compression:     cfg.Compression,
	}
}

// Writer builds a table file. Keys must be added in strictly increasing
// order. The table is written to a temporary file and renamed into place on
// Finish, so a crash never leaves a partial table under the final name.
type Writer struct {
	path      string
	tmpPath   string
	file      *os.File
	opts      WriterOptions
	codec     uint8
	dataBlock *block.Builder
	index     []indexEntry
	bloomB    *bloom.Builder
	offset    uint64
	firstKey  []byte
	lastKey   []byte
	count     uint64
}

type indexEntry struct {
	lastKey []byte
	offset  uint64
	size    uint32
}

// NewWriter creates a writer targeting path.
func NewWriter(path string, opts WriterOptions) (*Writer, error) {
	dir := filepath.Dir(path)
	tmpPath := filepath.Join(dir, fmt.Sprintf(".%s.tmp", filepath.Base(path)))

	file, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary table file: %w", err)
	}

	return &Writer{
		path:      path,
		tmpPath:   tmpPath,
		file:      file,
		opts:      opts,
		codec:     codecFor(opts.Compression),
		dataBlock: block.NewBuilder(),
		bloomB:    bloom.NewBuilder(opts.BloomBitsPerKey),
	}, nil
}

// Add appends a key with a live value.
func (w *Writer) Add(key []byte, seq uint64, value []byte) error {
	return w.add(key, seq, KindValue, value)
}

// AddTombstone appends a deletion marker for the key.
func (w *Writer) AddTombstone(key []byte, seq uint64) error {
	return w.add(key, seq, KindTombstone, nil)
}

func (w *Writer) add(key []byte, seq uint64, kind EntryKind, value []byte) error {
	if w.count > 0 && bytes.Compare(key, w.lastKey) <= 0 {
		return fmt.Errorf("%w: %q after %q", ErrWriterMisorder, key, w.lastKey)
	}

	if err := w.dataBlock.Add(key, encodeValue(kind, seq, value)); err != nil {
		if errors.Is(err, block.ErrKeyOrder) {
			return fmt.Errorf("%w: %q", ErrWriterMisorder, key)
		}
		return err
	}

	if w.count == 0 {
		w.firstKey = append([]byte(nil), key...)
	}
	w.lastKey = append(w.lastKey[:0], key...)
	w.bloomB.AddKey(key)
	w.count++

	if w.dataBlock.EstimatedSize() >= w.opts.BlockSize {
		return w.flushDataBlock()
	}
	return nil
}

// Count returns the number of entries added so far.
func (w *Writer) Count() uint64 {
	return w.count
}

func (w *Writer) flushDataBlock() error {
	if w.dataBlock.Empty() {
		return nil
	}

	lastKey := append([]byte(nil), w.dataBlock.LastKey()...)
	data, err := w.dataBlock.Finish(w.codec)
	if err != nil {
		return fmt.Errorf("failed to serialize data block: %w", err)
	}
	if _, err := w.file.Write(data); err != nil {
		return fmt.Errorf("failed to write data block: %w", err)
	}

	w.index = append(w.index, indexEntry{
		lastKey: lastKey,
		offset:  w.offset,
		size:    uint32(len(data)),
	})
	w.offset += uint64(len(data))
	w.dataBlock.Reset()
	return nil
}

// Finish writes the bloom filter, index, and footer, then syncs the file and
// renames it into place. An empty writer produces an error; callers should
// Abort instead.
func (w *Writer) Finish() error {
	if w.count == 0 {
		w.Abort()
		return errors.New("cannot finish empty table")
	}

	if err := w.flushDataBlock(); err != nil {
		w.Abort()
		return err
	}

	// Bloom block: the serialized filter plus the standard trailer, never
	// compressed
	bloomOffset := w.offset
	bloomData := w.bloomB.Build().Serialize()
	bloomBlock := make([]byte, 0, len(bloomData)+block.TrailerSize)
	bloomBlock = append(bloomBlock, bloomData...)
	bloomBlock = append(bloomBlock, block.CodecNone)
	bloomBlock = binary.LittleEndian.AppendUint64(bloomBlock, xxhash.Sum64(bloomData))
	if _, err := w.file.Write(bloomBlock); err != nil {
		w.Abort()
		return fmt.Errorf("failed to write bloom block: %w", err)
	}
	w.offset += uint64(len(bloomBlock))

	// Index block: one entry per data block, keyed by the block's last key
	indexBuilder := block.NewBuilder()
	for _, ie := range w.index {
		var value [12]byte
		binary.LittleEndian.PutUint64(value[0:8], ie.offset)
		binary.LittleEndian.PutUint32(value[8:12], ie.size)
		if err := indexBuilder.Add(ie.lastKey, value[:]); err != nil {
			w.Abort()
			return fmt.Errorf("failed to build index: %w", err)
		}
	}
	indexOffset := w.offset
	indexData, err := indexBuilder.Finish(w.codec)
	if err != nil {
		w.Abort()
		return fmt.Errorf("failed to serialize index block: %w", err)
	}
	if _, err := w.file.Write(indexData); err != nil {
		w.Abort()
		return fmt.Errorf("failed to write index block: %w", err)
	}
	w.offset += uint64(len(indexData))

	ft := &footer.Footer{
		IndexOffset: indexOffset,
		IndexSize:   uint64(len(indexData)),
		BloomOffset: bloomOffset,
		BloomSize:   uint64(len(bloomBlock)),
		EntryCount:  w.count,
	}
	if _, err := ft.WriteTo(w.file); err != nil {
		w.Abort()
		return fmt.Errorf("failed to write footer: %w", err)
	}

	if err := w.file.Sync(); err != nil {
		w.Abort()
		return fmt.Errorf("failed to sync table file: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close table file: %w", err)
	}
	w.file = nil

	if err := os.Rename(w.tmpPath, w.path); err != nil {
		return fmt.Errorf("failed to rename table file: %w", err)
	}
	return nil
}

// Abort discards the partially written table.
func (w *Writer) Abort() error {
	if w.file != nil {
		w.file.Close()
		w.file = nil
	}
	return os.Remove(w.tmpPath)
}
