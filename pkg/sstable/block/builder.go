package block

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Builder constructs a serialized block from keys added in strictly
// ascending order. Every RestartInterval-th entry stores its full key; the
// entries between share a prefix with their predecessor.
//
// Entry encoding: shared, unshared, and value length as uvarints, followed
// by the unshared key bytes and the value bytes. The restart point offsets
// and their count trail the entries; the codec tag and checksum trail the
// (possibly compressed) payload.
type Builder struct {
	buf            []byte
	restartPoints  []uint32
	restartCounter int
	lastKey        []byte
	count          int
}

// NewBuilder creates an empty block builder.
func NewBuilder() *Builder {
	return &Builder{
		restartPoints: make([]uint32, 0, 16),
	}
}

// Add appends a key-value pair. Keys must arrive in strictly increasing
// order; equal or smaller keys are rejected.
func (b *Builder) Add(key, value []byte) error {
	if b.count > 0 && bytes.Compare(key, b.lastKey) <= 0 {
		return fmt.Errorf("%w: %q after %q", ErrKeyOrder, key, b.lastKey)
	}

	shared := 0
	if b.restartCounter >= RestartInterval || b.count == 0 {
		b.restartPoints = append(b.restartPoints, uint32(len(b.buf)))
		b.restartCounter = 0
	} else {
		n := len(b.lastKey)
		if len(key) < n {
			n = len(key)
		}
		for shared < n && b.lastKey[shared] == key[shared] {
			shared++
		}
	}

	b.buf = binary.AppendUvarint(b.buf, uint64(shared))
	b.buf = binary.AppendUvarint(b.buf, uint64(len(key)-shared))
	b.buf = binary.AppendUvarint(b.buf, uint64(len(value)))
	b.buf = append(b.buf, key[shared:]...)
	b.buf = append(b.buf, value...)

	b.lastKey = append(b.lastKey[:0], key...)
	b.restartCounter++
	b.count++
	return nil
}

// Count returns the number of entries added.
func (b *Builder) Count() int {
	return b.count
}

// Empty reports whether any entries have been added.
func (b *Builder) Empty() bool {
	return b.count == 0
}

// LastKey returns the most recently added key.
func (b *Builder) LastKey() []byte {
	return b.lastKey
}

// EstimatedSize returns the approximate serialized size before compression.
func (b *Builder) EstimatedSize() int {
	return len(b.buf) + len(b.restartPoints)*4 + 4 + TrailerSize
}

// Reset clears the builder for reuse.
func (b *Builder) Reset() {
	b.buf = b.buf[:0]
	b.restartPoints = b.restartPoints[:0]
	b.restartCounter = 0
	b.lastKey = b.lastKey[:0]
	b.count = 0
}

// Finish serializes the block with the given codec and returns the bytes,
// trailer included.
func (b *Builder) Finish(codec uint8) ([]byte, error) {
	if b.count == 0 {
		return nil, ErrEmptyBlock
	}

	payload := make([]byte, 0, len(b.buf)+len(b.restartPoints)*4+4)
	payload = append(payload, b.buf...)
	for _, p := range b.restartPoints {
		payload = binary.LittleEndian.AppendUint32(payload, p)
	}
	payload = binary.LittleEndian.AppendUint32(payload, uint32(len(b.restartPoints)))

	compressed, err := compress(codec, payload)
	if err != nil {
		return nil, err
	}
	// Fall back to storing raw when compression does not help
	if codec != CodecNone && len(compressed) >= len(payload) {
		compressed = payload
		codec = CodecNone
	}

	out := make([]byte, 0, len(compressed)+TrailerSize)
	out = append(out, compressed...)
	out = append(out, codec)
	// The checksum covers the payload and the codec tag, so a corrupted
	// tag is caught here rather than as a decompression failure
	out = binary.LittleEndian.AppendUint64(out, xxhash.Sum64(out))
	return out, nil
}
