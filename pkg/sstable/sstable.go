// Package sstable implements the immutable sorted table file format. A
// table holds prefix-compressed data blocks, a bloom filter, a sparse index
// keyed by each block's last key, and a fixed footer.
package sstable

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/stratadb/strata/pkg/config"
	"github.com/stratadb/strata/pkg/sstable/block"
)

// EntryKind distinguishes live values from deletion markers inside a table.
type EntryKind uint8

const (
	// KindValue marks an entry carrying a value
	KindValue EntryKind = 1
	// KindTombstone marks a deletion
	KindTombstone EntryKind = 2
)

// encodedValueHeader is kind (1B) + sequence (8B)
const encodedValueHeader = 9

var (
	// ErrNotFound indicates a key was not found in the table
	ErrNotFound = errors.New("key not found in table")
	// ErrCorruption indicates table corruption was detected
	ErrCorruption = errors.New("table corruption detected")
	// ErrWriterMisorder indicates keys were added out of order
	ErrWriterMisorder = errors.New("keys must be added in strictly increasing order")
)

// Entry is a decoded table record.
type Entry struct {
	Key   []byte
	Value []byte
	Seq   uint64
	Kind  EntryKind
}

// IsTombstone returns true if the entry is a deletion marker.
func (e *Entry) IsTombstone() bool {
	return e.Kind == KindTombstone
}

// FileName returns the table file name for a level and file id.
func FileName(level int, fileID uint64) string {
	return fmt.Sprintf("%d_%06d.sst", level, fileID)
}

// encodeValue packs kind, sequence, and payload into the block value.
func encodeValue(kind EntryKind, seq uint64, payload []byte) []byte {
	out := make([]byte, encodedValueHeader+len(payload))
	out[0] = byte(kind)
	binary.LittleEndian.PutUint64(out[1:9], seq)
	copy(out[encodedValueHeader:], payload)
	return out
}

// decodeValue unpacks a block value into kind, sequence, and payload.
func decodeValue(data []byte) (EntryKind, uint64, []byte, error) {
	if len(data) < encodedValueHeader {
		return 0, 0, nil, fmt.Errorf("%w: value too short (%d bytes)", ErrCorruption, len(data))
	}
	kind := EntryKind(data[0])
	if kind != KindValue && kind != KindTombstone {
		return 0, 0, nil, fmt.Errorf("%w: unknown entry kind %d", ErrCorruption, kind)
	}
	seq := binary.LittleEndian.Uint64(data[1:9])
	return kind, seq, data[encodedValueHeader:], nil
}

// codecFor maps the configured compression to the block codec tag.
func codecFor(compression config.CompressionType) uint8 {
	switch compression {
	case config.CompressionSnappy:
		return block.CodecSnappy
	case config.CompressionZstd:
		return block.CodecZstd
	default:
		return block.CodecNone
	}
}
