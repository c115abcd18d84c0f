// Package block implements the on-disk block format shared by data and
// index blocks: prefix-compressed entries with restart points, an optional
// compression codec, and a checksum trailer.
package block

import (
	"errors"
)

const (
	// RestartInterval defines how often a full key is stored
	RestartInterval = 16

	// TrailerSize is the codec tag plus the checksum
	TrailerSize = 1 + 8
)

// Compression codecs carried in the block trailer
const (
	CodecNone   uint8 = 0
	CodecSnappy uint8 = 1
	CodecZstd   uint8 = 2
)

var (
	// ErrKeyOrder indicates keys were added out of order
	ErrKeyOrder = errors.New("keys must be added in strictly increasing order")
	// ErrBlockCorrupt indicates a block failed its checksum or framing
	ErrBlockCorrupt = errors.New("corrupt block")
	// ErrUnknownCodec indicates an unrecognized compression tag
	ErrUnknownCodec = errors.New("unknown block compression codec")
	// ErrEmptyBlock indicates an attempt to serialize a block with no entries
	ErrEmptyBlock = errors.New("cannot finish empty block")
)
