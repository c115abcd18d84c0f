// Package footer implements the fixed-size trailer of a sorted table file.
// The footer locates the index and bloom filter blocks and carries the magic
// number that identifies a valid table.
package footer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// Size is the fixed size of the footer in bytes
	Size = 48

	// Magic identifies a sorted table file ("STRATAB1")
	Magic = uint64(0x5354524154414231)
)

var (
	// ErrInvalidMagic indicates the footer magic did not match
	ErrInvalidMagic = errors.New("invalid table magic")
)

// Footer locates the metadata blocks of a table file.
type Footer struct {
	IndexOffset uint64
	IndexSize   uint64
	BloomOffset uint64
	BloomSize   uint64
	EntryCount  uint64
}

// Encode serializes the footer to its fixed wire form.
func (f *Footer) Encode() []byte {
	out := make([]byte, Size)
	binary.LittleEndian.PutUint64(out[0:8], f.IndexOffset)
	binary.LittleEndian.PutUint64(out[8:16], f.IndexSize)
	binary.LittleEndian.PutUint64(out[16:24], f.BloomOffset)
	binary.LittleEndian.PutUint64(out[24:32], f.BloomSize)
	binary.LittleEndian.PutUint64(out[32:40], f.EntryCount)
	binary.LittleEndian.PutUint64(out[40:48], Magic)
	return out
}

// WriteTo writes the footer to w.
func (f *Footer) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(f.Encode())
	return int64(n), err
}

// Decode parses a footer, validating the magic number.
func Decode(data []byte) (*Footer, error) {
	if len(data) < Size {
		return nil, fmt.Errorf("footer too small: %d bytes, expected %d", len(data), Size)
	}

	magic := binary.LittleEndian.Uint64(data[40:48])
	if magic != Magic {
		return nil, fmt.Errorf("%w: %x, expected %x", ErrInvalidMagic, magic, Magic)
	}

	return &Footer{
		IndexOffset: binary.LittleEndian.Uint64(data[0:8]),
		IndexSize:   binary.LittleEndian.Uint64(data[8:16]),
		BloomOffset: binary.LittleEndian.Uint64(data[16:24]),
		BloomSize:   binary.LittleEndian.Uint64(data[24:32]),
		EntryCount:  binary.LittleEndian.Uint64(data[32:40]),
	}, nil
}
