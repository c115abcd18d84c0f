package wal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
)

// EntryFunc is invoked for each replayed entry in log order.
type EntryFunc func(*Entry) error

// Replay reads one log file and invokes fn for every entry whose sequence
// number is at least minSeq. The first frame that fails its checksum or its
// framing marks the durability boundary: the file is truncated there and
// replay finishes without error. Batches are applied all-or-nothing; a torn
// batch truncates at its header.
func Replay(path string, minSeq uint64, fn EntryFunc) error {
	file, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("failed to open WAL file: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat WAL file: %w", err)
	}

	data, err := io.ReadAll(file)
	if err != nil {
		return fmt.Errorf("failed to read WAL file: %w", err)
	}

	var offset int64
	for offset < int64(len(data)) {
		frameStart := offset

		seq, keySize, valueSize, ok := readFrameHeader(data, offset)
		if !ok {
			return truncateAt(file, stat.Size(), frameStart)
		}

		if keySize == batchSentinel {
			// Batch header frame; valueSize carries the entry count
			next, entries, ok := readBatch(data, offset, valueSize)
			if !ok {
				return truncateAt(file, stat.Size(), frameStart)
			}
			offset = next
			for _, e := range entries {
				if e.Seq < minSeq {
					continue
				}
				if err := fn(e); err != nil {
					return err
				}
			}
			continue
		}

		entry, next, ok := readEntryFrame(data, offset, seq, keySize, valueSize)
		if !ok {
			return truncateAt(file, stat.Size(), frameStart)
		}
		offset = next

		if entry.Seq < minSeq {
			continue
		}
		if err := fn(entry); err != nil {
			return err
		}
	}

	return nil
}

// ReplayDir replays every log file in dir in generation order.
func ReplayDir(dir string, minSeq uint64, fn EntryFunc) error {
	files, err := FindWALFiles(dir)
	if err != nil {
		return err
	}

	for _, path := range files {
		if err := Replay(path, minSeq, fn); err != nil {
			return fmt.Errorf("failed to replay %s: %w", path, err)
		}
	}
	return nil
}

// readFrameHeader decodes the fixed frame header at offset. Returns ok=false
// if the header does not fit or the sizes are implausible.
func readFrameHeader(data []byte, offset int64) (seq uint64, keySize, valueSize uint32, ok bool) {
	if offset+frameHeaderSize > int64(len(data)) {
		return 0, 0, 0, false
	}
	seq = binary.LittleEndian.Uint64(data[offset:])
	keySize = binary.LittleEndian.Uint32(data[offset+8:])
	valueSize = binary.LittleEndian.Uint32(data[offset+12:])

	if keySize != batchSentinel && keySize > maxFrameDataSize {
		return 0, 0, 0, false
	}
	if valueSize != tombstoneSentinel && valueSize > maxFrameDataSize {
		return 0, 0, 0, false
	}
	return seq, keySize, valueSize, true
}

// readEntryFrame decodes a full entry frame, verifying its checksum.
func readEntryFrame(data []byte, offset int64, seq uint64, keySize, valueSize uint32) (*Entry, int64, bool) {
	tombstone := valueSize == tombstoneSentinel
	valueLen := int64(valueSize)
	if tombstone {
		valueLen = 0
	}

	frameLen := int64(frameHeaderSize) + int64(keySize) + valueLen + crcSize
	if offset+frameLen > int64(len(data)) {
		return nil, 0, false
	}

	body := data[offset : offset+frameLen-crcSize]
	want := binary.LittleEndian.Uint32(data[offset+frameLen-crcSize:])
	if crc32.ChecksumIEEE(body) != want {
		return nil, 0, false
	}

	keyStart := offset + frameHeaderSize
	entry := &Entry{
		Seq:       seq,
		Key:       append([]byte(nil), data[keyStart:keyStart+int64(keySize)]...),
		Tombstone: tombstone,
	}
	if !tombstone {
		valStart := keyStart + int64(keySize)
		entry.Value = append([]byte(nil), data[valStart:valStart+valueLen]...)
	}
	return entry, offset + frameLen, true
}

// readBatch validates a batch header and all of its entries before returning
// them. Any missing or corrupt member invalidates the whole batch.
func readBatch(data []byte, offset int64, count uint32) (int64, []*Entry, bool) {
	headerLen := int64(frameHeaderSize + crcSize)
	if offset+headerLen > int64(len(data)) {
		return 0, nil, false
	}

	body := data[offset : offset+frameHeaderSize]
	want := binary.LittleEndian.Uint32(data[offset+frameHeaderSize:])
	if crc32.ChecksumIEEE(body) != want {
		return 0, nil, false
	}

	next := offset + headerLen
	entries := make([]*Entry, 0, count)
	for i := uint32(0); i < count; i++ {
		seq, keySize, valueSize, ok := readFrameHeader(data, next)
		if !ok || keySize == batchSentinel {
			return 0, nil, false
		}
		entry, after, ok := readEntryFrame(data, next, seq, keySize, valueSize)
		if !ok {
			return 0, nil, false
		}
		entries = append(entries, entry)
		next = after
	}
	return next, entries, true
}

// truncateAt cuts the file at the durability boundary so later replays do
// not rescan the corrupt tail.
func truncateAt(file *os.File, size, offset int64) error {
	if offset >= size {
		return nil
	}
	if err := file.Truncate(offset); err != nil {
		return fmt.Errorf("failed to truncate WAL at boundary: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("failed to sync truncated WAL: %w", err)
	}
	return nil
}

// MaxSequence scans a log file and returns the highest sequence number it
// holds, or zero when the file is empty. Corrupt tails are ignored.
func MaxSequence(path string) (uint64, error) {
	var maxSeq uint64
	err := Replay(path, 0, func(e *Entry) error {
		if e.Seq > maxSeq {
			maxSeq = e.Seq
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return maxSeq, nil
}
