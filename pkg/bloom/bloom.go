// Package bloom implements a cache-line blocked bloom filter used to
// short-circuit sorted table lookups. All probes for a key land in a single
// 64-byte block, so a negative answer costs at most one cache line.
package bloom

import (
	"encoding/binary"
	"errors"
	"math"

	"github.com/cespare/xxhash/v2"
)

const (
	cacheLineSize = 64
	cacheLineBits = cacheLineSize * 8

	// Serialized form appends probes (1 byte) and nLines (4 bytes) to the bits
	trailerSize = 5

	maxProbes = 30
)

var (
	// ErrInvalidFilter indicates that serialized filter data is malformed
	ErrInvalidFilter = errors.New("bloom: invalid filter data")
)

// calculateProbes derives the probe count from the bits-per-key setting.
// The usual ln2 factor applies, clamped to a sane range.
func calculateProbes(bitsPerKey int) uint32 {
	probes := uint32(float64(bitsPerKey) * math.Ln2)
	if probes < 1 {
		return 1
	}
	if probes > maxProbes {
		return maxProbes
	}
	return probes
}

// calculateNumLines sizes the filter for the given key count. The line count
// is forced odd so the line-selection modulo involves more hash bits.
func calculateNumLines(numKeys int, bitsPerKey int) uint32 {
	nLines := (uint64(numKeys)*uint64(bitsPerKey) + cacheLineBits - 1) / cacheLineBits
	return uint32(nLines | 1)
}

// keyHash folds the 64-bit seed hash of a key into the 32 bits the probe
// schedule consumes.
func keyHash(key []byte) uint32 {
	h := xxhash.Sum64(key)
	return uint32(h>>32) ^ uint32(h)
}

// Filter is an immutable bloom filter over a set of keys.
type Filter struct {
	data   []byte // nLines * cacheLineSize filter bits
	nLines uint32
	probes uint32
}

// Builder accumulates key hashes and produces a Filter.
type Builder struct {
	bitsPerKey int
	hashes     []uint32
}

// NewBuilder creates a builder for a filter with the given bits per key.
// A value of 10 yields roughly a 1% false positive rate.
func NewBuilder(bitsPerKey int) *Builder {
	if bitsPerKey < 1 {
		bitsPerKey = 1
	}
	return &Builder{bitsPerKey: bitsPerKey}
}

// AddKey records a key for inclusion in the filter.
func (b *Builder) AddKey(key []byte) {
	b.hashes = append(b.hashes, keyHash(key))
}

// Count returns the number of keys added so far.
func (b *Builder) Count() int {
	return len(b.hashes)
}

// Build constructs the filter from the accumulated keys. Building from zero
// keys yields an empty filter that answers false for every key.
func (b *Builder) Build() *Filter {
	if len(b.hashes) == 0 {
		return &Filter{}
	}

	nLines := calculateNumLines(len(b.hashes), b.bitsPerKey)
	probes := calculateProbes(b.bitsPerKey)
	data := make([]byte, nLines*cacheLineSize)

	for _, h := range b.hashes {
		setBits(data, nLines, probes, h)
	}

	return &Filter{
		data:   data,
		nLines: nLines,
		probes: probes,
	}
}

// setBits sets the probe bits for hash h inside its cache line.
func setBits(data []byte, nLines, probes, h uint32) {
	lineOffset := (h % nLines) * cacheLineSize
	delta := h>>17 | h<<15
	for i := uint32(0); i < probes; i++ {
		// Byte (h/8) mod 64 within the line, bit h mod 8 within the byte
		data[lineOffset+(h>>3)&(cacheLineSize-1)] |= 1 << (h & 7)
		h += delta
	}
}

// MayContain reports whether the key may be in the set. False means the key
// was definitely never added; true may be a false positive.
func (f *Filter) MayContain(key []byte) bool {
	if f.nLines == 0 {
		return false
	}
	h := keyHash(key)
	lineOffset := (h % f.nLines) * cacheLineSize
	delta := h>>17 | h<<15
	for i := uint32(0); i < f.probes; i++ {
		if f.data[lineOffset+(h>>3)&(cacheLineSize-1)]&(1<<(h&7)) == 0 {
			return false
		}
		h += delta
	}
	return true
}

// Size returns the serialized size of the filter in bytes.
func (f *Filter) Size() int {
	if f.nLines == 0 {
		return 0
	}
	return len(f.data) + trailerSize
}

// Serialize encodes the filter as filter bits followed by the probe count
// (1 byte) and the line count (4 bytes, little-endian). An empty filter
// serializes to nil.
func (f *Filter) Serialize() []byte {
	if f.nLines == 0 {
		return nil
	}
	out := make([]byte, len(f.data)+trailerSize)
	copy(out, f.data)
	out[len(f.data)] = byte(f.probes)
	binary.LittleEndian.PutUint32(out[len(f.data)+1:], f.nLines)
	return out
}

// Load reconstructs a filter from its serialized form. Empty input yields an
// empty filter.
func Load(data []byte) (*Filter, error) {
	if len(data) == 0 {
		return &Filter{}, nil
	}
	if len(data) <= trailerSize {
		return nil, ErrInvalidFilter
	}

	n := len(data) - trailerSize
	probes := uint32(data[n])
	nLines := binary.LittleEndian.Uint32(data[n+1:])
	if nLines == 0 || probes == 0 || probes > maxProbes {
		return nil, ErrInvalidFilter
	}
	if uint32(n) != nLines*cacheLineSize {
		return nil, ErrInvalidFilter
	}

	return &Filter{
		data:   data[:n],
		nLines: nLines,
		probes: probes,
	}, nil
}
