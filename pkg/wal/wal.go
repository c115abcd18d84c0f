// Package wal implements the write-ahead log. Every mutation is appended
// here before it reaches the write buffer, one log file per buffer
// generation. Recovery replays the files in generation order and truncates
// at the first corrupt frame.
package wal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/stratadb/strata/pkg/config"
)

const (
	// Frame layout: seq (8B) + key_size (4B) + value_size (4B), then the key
	// and value bytes, then a CRC over everything before it
	frameHeaderSize = 16
	crcSize         = 4

	// value_size sentinel marking a deletion; no value bytes follow
	tombstoneSentinel = 0xFFFFFFFF

	// key_size sentinel marking a batch header frame
	batchSentinel = 0xFFFFFFFE

	// Largest key or value a single frame will carry
	maxFrameDataSize = 1 << 30

	// Accumulated bytes that force an fsync in SyncBatch mode
	batchSyncBytes = 1024 * 1024

	writerBufferSize = 64 * 1024
)

var (
	ErrCorruptFrame   = errors.New("corrupt WAL frame")
	ErrWALClosed      = errors.New("WAL is closed")
	ErrKeyTooLarge    = errors.New("key exceeds maximum frame size")
	ErrValueTooLarge  = errors.New("value exceeds maximum frame size")
	ErrInvalidWALName = errors.New("not a WAL file name")
)

// Entry is a single logical mutation carried by the log.
type Entry struct {
	Seq       uint64
	Key       []byte
	Value     []byte
	Tombstone bool
}

// WAL appends mutation frames to a single log file. One WAL instance covers
// one write buffer generation; rotation creates a fresh instance.
type WAL struct {
	cfg        *config.Config
	path       string
	generation uint64
	file       *os.File
	writer     *bufio.Writer
	offset     int64
	unsynced   int64
	closed     atomic.Bool
	mu         sync.Mutex
}

// FileName returns the log file name for a buffer generation.
func FileName(generation uint64) string {
	return fmt.Sprintf("%020d.wal", generation)
}

// ParseFileName extracts the generation from a WAL file name.
func ParseFileName(name string) (uint64, error) {
	base := filepath.Base(name)
	if !strings.HasSuffix(base, ".wal") {
		return 0, fmt.Errorf("%w: %s", ErrInvalidWALName, name)
	}
	gen, err := strconv.ParseUint(strings.TrimSuffix(base, ".wal"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrInvalidWALName, name)
	}
	return gen, nil
}

// NewWAL creates the log file for the given buffer generation.
func NewWAL(cfg *config.Config, generation uint64) (*WAL, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}

	if err := os.MkdirAll(cfg.WALDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory: %w", err)
	}

	path := filepath.Join(cfg.WALDir, FileName(generation))
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create WAL file: %w", err)
	}

	return &WAL{
		cfg:        cfg,
		path:       path,
		generation: generation,
		file:       file,
		writer:     bufio.NewWriterSize(file, writerBufferSize),
	}, nil
}

// Generation returns the buffer generation this log covers.
func (w *WAL) Generation() uint64 {
	return w.generation
}

// Path returns the log file path.
func (w *WAL) Path() string {
	return w.path
}

// Size returns the number of bytes appended so far.
func (w *WAL) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.offset
}

// Append writes a single entry frame. The caller supplies the sequence
// number. The returned offset is the file position after the frame; once
// the configured sync policy has run, everything before it is durable.
func (w *WAL) Append(e *Entry) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed.Load() {
		return 0, ErrWALClosed
	}

	if err := w.writeEntryFrame(e); err != nil {
		return 0, err
	}
	if err := w.maybeSync(); err != nil {
		return 0, err
	}
	return w.offset, nil
}

// AppendBatch writes a batch header frame followed by the entry frames.
// Replay applies the batch all-or-nothing: a torn tail discards the whole
// batch. Sequence numbers must already be assigned contiguously.
func (w *WAL) AppendBatch(entries []*Entry) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed.Load() {
		return 0, ErrWALClosed
	}
	if len(entries) == 0 {
		return w.offset, nil
	}

	if err := w.writeBatchHeader(entries[0].Seq, uint32(len(entries))); err != nil {
		return 0, err
	}
	for i, e := range entries {
		if err := w.writeEntryFrame(e); err != nil {
			return 0, fmt.Errorf("failed to write batch entry %d: %w", i, err)
		}
	}
	if err := w.maybeSync(); err != nil {
		return 0, err
	}
	return w.offset, nil
}

// Sync flushes buffered frames and forces them to stable storage.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed.Load() {
		return ErrWALClosed
	}
	return w.syncLocked()
}

// Close flushes and closes the log file. The file stays on disk until the
// covering buffer generation has been flushed to a sorted table.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed.Load() {
		return nil
	}

	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush WAL buffer during close: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync WAL file during close: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close WAL file: %w", err)
	}

	w.closed.Store(true)
	return nil
}

func (w *WAL) writeEntryFrame(e *Entry) error {
	if len(e.Key) > maxFrameDataSize {
		return ErrKeyTooLarge
	}
	if len(e.Value) > maxFrameDataSize {
		return ErrValueTooLarge
	}

	valueSize := uint32(len(e.Value))
	if e.Tombstone {
		valueSize = tombstoneSentinel
	}

	frame := make([]byte, 0, frameHeaderSize+len(e.Key)+len(e.Value)+crcSize)
	frame = binary.LittleEndian.AppendUint64(frame, e.Seq)
	frame = binary.LittleEndian.AppendUint32(frame, uint32(len(e.Key)))
	frame = binary.LittleEndian.AppendUint32(frame, valueSize)
	frame = append(frame, e.Key...)
	if !e.Tombstone {
		frame = append(frame, e.Value...)
	}
	frame = binary.LittleEndian.AppendUint32(frame, crc32.ChecksumIEEE(frame))

	return w.writeFrame(frame)
}

func (w *WAL) writeBatchHeader(firstSeq uint64, count uint32) error {
	frame := make([]byte, 0, frameHeaderSize+crcSize)
	frame = binary.LittleEndian.AppendUint64(frame, firstSeq)
	frame = binary.LittleEndian.AppendUint32(frame, batchSentinel)
	frame = binary.LittleEndian.AppendUint32(frame, count)
	frame = binary.LittleEndian.AppendUint32(frame, crc32.ChecksumIEEE(frame))

	return w.writeFrame(frame)
}

func (w *WAL) writeFrame(frame []byte) error {
	if _, err := w.writer.Write(frame); err != nil {
		return fmt.Errorf("failed to write WAL frame: %w", err)
	}
	w.offset += int64(len(frame))
	w.unsynced += int64(len(frame))
	return nil
}

func (w *WAL) maybeSync() error {
	switch w.cfg.WALSyncMode {
	case config.SyncImmediate:
		return w.syncLocked()
	case config.SyncBatch:
		if w.unsynced >= batchSyncBytes {
			return w.syncLocked()
		}
	case config.SyncNone:
	}
	return nil
}

func (w *WAL) syncLocked() error {
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush WAL buffer: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync WAL file: %w", err)
	}
	w.unsynced = 0
	return nil
}

// FindWALFiles returns the log files in dir ordered by generation.
func FindWALFiles(dir string) ([]string, error) {
	pattern := filepath.Join(dir, "*.wal")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to list WAL files: %w", err)
	}

	var files []string
	for _, m := range matches {
		if _, err := ParseFileName(m); err == nil {
			files = append(files, m)
		}
	}
	// Generation numbers are zero padded so lexical order is numeric order
	sort.Strings(files)
	return files, nil
}

// Delete removes the log file for a flushed buffer generation.
func Delete(dir string, generation uint64) error {
	path := filepath.Join(dir, FileName(generation))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete WAL file: %w", err)
	}
	return nil
}
