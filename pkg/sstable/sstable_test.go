package sstable

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stratadb/strata/pkg/config"
)

func testOptions() WriterOptions {
	return WriterOptions{
		BlockSize:       4 * 1024,
		BloomBitsPerKey: 10,
		Compression:     config.CompressionNone,
	}
}

// buildTable writes n sequential keys and returns the table path.
func buildTable(t *testing.T, opts WriterOptions, n int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), FileName(0, 1))

	w, err := NewWriter(path, opts)
	if err != nil {
		t.Fatalf("failed to create writer: %v", err)
	}
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%06d", i))
		if err := w.Add(key, uint64(i+1), []byte(fmt.Sprintf("value-%06d", i))); err != nil {
			t.Fatalf("add failed: %v", err)
		}
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("finish failed: %v", err)
	}
	return path
}

func TestWriteAndGet(t *testing.T) {
	path := buildTable(t, testOptions(), 1000)

	r, err := OpenReader(path)
	if err != nil {
		t.Fatalf("failed to open reader: %v", err)
	}
	defer r.Close()

	if r.EntryCount() != 1000 {
		t.Errorf("entry count = %d, want 1000", r.EntryCount())
	}

	for _, i := range []int{0, 1, 499, 998, 999} {
		key := []byte(fmt.Sprintf("key-%06d", i))
		e, err := r.Get(key)
		if err != nil {
			t.Fatalf("get %q failed: %v", key, err)
		}
		if string(e.Value) != fmt.Sprintf("value-%06d", i) {
			t.Errorf("get %q = %q", key, e.Value)
		}
		if e.Seq != uint64(i+1) {
			t.Errorf("get %q seq = %d, want %d", key, e.Seq, i+1)
		}
		if e.Kind != KindValue {
			t.Errorf("get %q kind = %d, want value", key, e.Kind)
		}
	}

	for _, absent := range []string{"key-9", "a", "zzz", "key-001000"} {
		if _, err := r.Get([]byte(absent)); !errors.Is(err, ErrNotFound) {
			t.Errorf("get %q = %v, want ErrNotFound", absent, err)
		}
	}
}

func TestWriterCompressionCodecs(t *testing.T) {
	for _, comp := range []config.CompressionType{
		config.CompressionNone,
		config.CompressionSnappy,
		config.CompressionZstd,
	} {
		t.Run(string(comp), func(t *testing.T) {
			opts := testOptions()
			opts.Compression = comp
			path := buildTable(t, opts, 500)

			r, err := OpenReader(path)
			if err != nil {
				t.Fatalf("failed to open reader: %v", err)
			}
			defer r.Close()

			e, err := r.Get([]byte("key-000250"))
			if err != nil {
				t.Fatalf("get failed: %v", err)
			}
			if string(e.Value) != "value-000250" {
				t.Errorf("got %q", e.Value)
			}
		})
	}
}

func TestWriterTombstones(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName(0, 1))
	w, err := NewWriter(path, testOptions())
	if err != nil {
		t.Fatalf("failed to create writer: %v", err)
	}
	if err := w.Add([]byte("alive"), 1, []byte("v")); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if err := w.AddTombstone([]byte("dead"), 2); err != nil {
		t.Fatalf("tombstone failed: %v", err)
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("finish failed: %v", err)
	}

	r, err := OpenReader(path)
	if err != nil {
		t.Fatalf("failed to open reader: %v", err)
	}
	defer r.Close()

	e, err := r.Get([]byte("dead"))
	if err != nil {
		t.Fatalf("get tombstone failed: %v", err)
	}
	if !e.IsTombstone() {
		t.Error("tombstone entry lost its kind")
	}
	if e.Seq != 2 {
		t.Errorf("tombstone seq = %d, want 2", e.Seq)
	}
}

func TestWriterRejectsMisorderedKeys(t *testing.T) {
	w, err := NewWriter(filepath.Join(t.TempDir(), FileName(0, 1)), testOptions())
	if err != nil {
		t.Fatalf("failed to create writer: %v", err)
	}
	defer w.Abort()

	if err := w.Add([]byte("banana"), 1, []byte("v")); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if err := w.Add([]byte("apple"), 2, []byte("v")); !errors.Is(err, ErrWriterMisorder) {
		t.Errorf("smaller key: got %v, want ErrWriterMisorder", err)
	}
	if err := w.Add([]byte("banana"), 3, []byte("v")); !errors.Is(err, ErrWriterMisorder) {
		t.Errorf("duplicate key: got %v, want ErrWriterMisorder", err)
	}
}

func TestWriterAbortLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName(0, 1))

	w, err := NewWriter(path, testOptions())
	if err != nil {
		t.Fatalf("failed to create writer: %v", err)
	}
	if err := w.Add([]byte("key"), 1, []byte("v")); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if err := w.Abort(); err != nil {
		t.Fatalf("abort failed: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("abort left %d files behind", len(entries))
	}
}

func TestFinishIsAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName(0, 1))

	w, err := NewWriter(path, testOptions())
	if err != nil {
		t.Fatalf("failed to create writer: %v", err)
	}
	if err := w.Add([]byte("key"), 1, []byte("v")); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	// Before Finish the final name must not exist
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("table visible under final name before finish")
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("finish failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("table missing after finish: %v", err)
	}

	// No temporary files left
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("directory holds %d files, want 1", len(entries))
	}
}

func TestOpenRejectsCorruptMagic(t *testing.T) {
	path := buildTable(t, testOptions(), 10)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	data[len(data)-1] ^= 0xFF
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	if _, err := OpenReader(path); !errors.Is(err, ErrCorruption) {
		t.Errorf("got %v, want ErrCorruption", err)
	}
}

func TestOpenRejectsTruncatedFile(t *testing.T) {
	path := buildTable(t, testOptions(), 10)

	if err := os.Truncate(path, 20); err != nil {
		t.Fatalf("truncate failed: %v", err)
	}
	if _, err := OpenReader(path); !errors.Is(err, ErrCorruption) {
		t.Errorf("got %v, want ErrCorruption", err)
	}
}

func TestBloomFilterNoFalseNegatives(t *testing.T) {
	path := buildTable(t, testOptions(), 2000)

	r, err := OpenReader(path)
	if err != nil {
		t.Fatalf("failed to open reader: %v", err)
	}
	defer r.Close()

	for i := 0; i < 2000; i++ {
		key := []byte(fmt.Sprintf("key-%06d", i))
		if !r.MayContain(key) {
			t.Fatalf("bloom filter denied stored key %q", key)
		}
	}
}

func TestFileName(t *testing.T) {
	if got := FileName(2, 37); got != "2_000037.sst" {
		t.Errorf("FileName(2, 37) = %q", got)
	}
}
