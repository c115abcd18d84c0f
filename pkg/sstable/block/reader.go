package block

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Reader holds a verified, decompressed block and exposes iterators over it.
type Reader struct {
	data          []byte // entry bytes only, restart array stripped
	restartPoints []uint32
}

// NewReader verifies the trailer checksum, decompresses the payload, and
// parses the restart point array.
func NewReader(raw []byte) (*Reader, error) {
	if len(raw) < TrailerSize+4 {
		return nil, fmt.Errorf("%w: block too small (%d bytes)", ErrBlockCorrupt, len(raw))
	}

	payload := raw[:len(raw)-TrailerSize]
	codec := raw[len(raw)-TrailerSize]
	want := binary.LittleEndian.Uint64(raw[len(raw)-8:])
	// The checksum spans the payload and the codec tag
	if xxhash.Sum64(raw[:len(raw)-8]) != want {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrBlockCorrupt)
	}

	data, err := decompress(codec, payload)
	if err != nil {
		return nil, err
	}
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: missing restart count", ErrBlockCorrupt)
	}

	numRestarts := binary.LittleEndian.Uint32(data[len(data)-4:])
	restartArrayLen := int(numRestarts)*4 + 4
	if restartArrayLen > len(data) || numRestarts == 0 {
		return nil, fmt.Errorf("%w: invalid restart point count %d", ErrBlockCorrupt, numRestarts)
	}

	entriesEnd := len(data) - restartArrayLen
	restartPoints := make([]uint32, numRestarts)
	for i := range restartPoints {
		restartPoints[i] = binary.LittleEndian.Uint32(data[entriesEnd+i*4:])
		if restartPoints[i] > uint32(entriesEnd) {
			return nil, fmt.Errorf("%w: restart point beyond entry data", ErrBlockCorrupt)
		}
	}

	return &Reader{
		data:          data[:entriesEnd],
		restartPoints: restartPoints,
	}, nil
}

// Iterator returns a fresh iterator over the block.
func (r *Reader) Iterator() *Iterator {
	return &Iterator{reader: r}
}
