package block

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
)

func buildTestBlock(t *testing.T, codec uint8, n int) []byte {
	t.Helper()
	b := NewBuilder()
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%05d", i))
		value := []byte(fmt.Sprintf("value-%05d", i))
		if err := b.Add(key, value); err != nil {
			t.Fatalf("add failed: %v", err)
		}
	}
	data, err := b.Finish(codec)
	if err != nil {
		t.Fatalf("finish failed: %v", err)
	}
	return data
}

func TestBlockRoundTrip(t *testing.T) {
	codecs := map[string]uint8{
		"none":   CodecNone,
		"snappy": CodecSnappy,
		"zstd":   CodecZstd,
	}

	for name, codec := range codecs {
		t.Run(name, func(t *testing.T) {
			data := buildTestBlock(t, codec, 100)

			r, err := NewReader(data)
			if err != nil {
				t.Fatalf("reader failed: %v", err)
			}

			it := r.Iterator()
			i := 0
			for it.SeekToFirst(); it.Valid(); it.Next() {
				wantKey := fmt.Sprintf("key-%05d", i)
				wantVal := fmt.Sprintf("value-%05d", i)
				if string(it.Key()) != wantKey {
					t.Errorf("entry %d key = %q, want %q", i, it.Key(), wantKey)
				}
				if string(it.Value()) != wantVal {
					t.Errorf("entry %d value = %q, want %q", i, it.Value(), wantVal)
				}
				i++
			}
			if i != 100 {
				t.Errorf("iterated %d entries, want 100", i)
			}
		})
	}
}

func TestBuilderRejectsOutOfOrderKeys(t *testing.T) {
	b := NewBuilder()
	if err := b.Add([]byte("banana"), []byte("1")); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if err := b.Add([]byte("apple"), []byte("2")); !errors.Is(err, ErrKeyOrder) {
		t.Errorf("smaller key: got %v, want ErrKeyOrder", err)
	}
	if err := b.Add([]byte("banana"), []byte("3")); !errors.Is(err, ErrKeyOrder) {
		t.Errorf("duplicate key: got %v, want ErrKeyOrder", err)
	}
}

func TestFinishEmptyBlock(t *testing.T) {
	if _, err := NewBuilder().Finish(CodecNone); !errors.Is(err, ErrEmptyBlock) {
		t.Errorf("got %v, want ErrEmptyBlock", err)
	}
}

func TestBlockSeek(t *testing.T) {
	data := buildTestBlock(t, CodecNone, 100)
	r, err := NewReader(data)
	if err != nil {
		t.Fatalf("reader failed: %v", err)
	}
	it := r.Iterator()

	tests := []struct {
		target  string
		wantKey string
		wantOK  bool
	}{
		{"key-00000", "key-00000", true},
		{"key-00050", "key-00050", true},
		{"key-000505", "key-00051", true},
		{"key-00099", "key-00099", true},
		{"a", "key-00000", true},
		{"zzz", "", false},
	}

	for _, tt := range tests {
		ok := it.Seek([]byte(tt.target))
		if ok != tt.wantOK {
			t.Errorf("Seek(%q) = %v, want %v", tt.target, ok, tt.wantOK)
			continue
		}
		if ok && string(it.Key()) != tt.wantKey {
			t.Errorf("Seek(%q) landed on %q, want %q", tt.target, it.Key(), tt.wantKey)
		}
	}
}

func TestBlockSeekToLast(t *testing.T) {
	data := buildTestBlock(t, CodecSnappy, 37)
	r, err := NewReader(data)
	if err != nil {
		t.Fatalf("reader failed: %v", err)
	}

	it := r.Iterator()
	it.SeekToLast()
	if !it.Valid() {
		t.Fatal("expected valid iterator")
	}
	if string(it.Key()) != "key-00036" {
		t.Errorf("last key = %q, want key-00036", it.Key())
	}
	if it.Next() {
		t.Error("Next after last entry should return false")
	}
}

func TestBlockChecksumDetectsCorruption(t *testing.T) {
	data := buildTestBlock(t, CodecNone, 10)

	// Flip a byte in the middle of the payload
	data[len(data)/2] ^= 0xFF
	if _, err := NewReader(data); !errors.Is(err, ErrBlockCorrupt) {
		t.Errorf("got %v, want ErrBlockCorrupt", err)
	}
}

func TestBlockChecksumCoversCodecTag(t *testing.T) {
	data := buildTestBlock(t, CodecSnappy, 10)

	// Flip the codec tag; the checksum must reject the block outright
	// instead of attempting to decompress with the wrong codec
	data[len(data)-TrailerSize] ^= 0xFF
	if _, err := NewReader(data); !errors.Is(err, ErrBlockCorrupt) {
		t.Errorf("got %v, want ErrBlockCorrupt", err)
	}
}

func TestBlockTruncatedData(t *testing.T) {
	data := buildTestBlock(t, CodecNone, 10)
	for _, n := range []int{0, 3, TrailerSize} {
		if _, err := NewReader(data[:n]); err == nil {
			t.Errorf("reader accepted %d-byte block", n)
		}
	}
}

func TestBlockPrefixCompression(t *testing.T) {
	// Keys sharing long prefixes should compress well even without a codec
	b := NewBuilder()
	prefix := bytes.Repeat([]byte("p"), 64)
	for i := 0; i < 64; i++ {
		key := append(append([]byte(nil), prefix...), byte('0'+i/26), byte('a'+i%26))
		if err := b.Add(key, []byte("v")); err != nil {
			t.Fatalf("add failed: %v", err)
		}
	}

	rawSize := 64 * (len(prefix) + 2 + 1)
	if est := b.EstimatedSize(); est >= rawSize {
		t.Errorf("estimated size %d shows no prefix sharing (raw %d)", est, rawSize)
	}

	data, err := b.Finish(CodecNone)
	if err != nil {
		t.Fatalf("finish failed: %v", err)
	}
	r, err := NewReader(data)
	if err != nil {
		t.Fatalf("reader failed: %v", err)
	}

	// Keys must reconstruct exactly across restart boundaries
	it := r.Iterator()
	count := 0
	for it.SeekToFirst(); it.Valid(); it.Next() {
		if !bytes.HasPrefix(it.Key(), prefix) {
			t.Fatalf("key %d lost its prefix: %q", count, it.Key())
		}
		count++
	}
	if count != 64 {
		t.Errorf("iterated %d entries, want 64", count)
	}
}

func TestBuilderReset(t *testing.T) {
	b := NewBuilder()
	if err := b.Add([]byte("key"), []byte("value")); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	b.Reset()

	if !b.Empty() || b.Count() != 0 {
		t.Error("reset builder should be empty")
	}
	// A smaller key is fine after reset
	if err := b.Add([]byte("a"), []byte("v")); err != nil {
		t.Errorf("add after reset failed: %v", err)
	}
}
