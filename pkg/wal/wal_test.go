package wal

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stratadb/strata/pkg/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewDefaultConfig(t.TempDir())
	cfg.WALSyncMode = config.SyncImmediate
	return cfg
}

func collectEntries(t *testing.T, dir string, minSeq uint64) []*Entry {
	t.Helper()
	var entries []*Entry
	err := ReplayDir(dir, minSeq, func(e *Entry) error {
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	return entries
}

func TestAppendAndReplay(t *testing.T) {
	cfg := testConfig(t)

	w, err := NewWAL(cfg, 1)
	if err != nil {
		t.Fatalf("failed to create WAL: %v", err)
	}

	puts := []struct {
		seq   uint64
		key   string
		value string
	}{
		{1, "apple", "red"},
		{2, "banana", "yellow"},
		{3, "cherry", "dark red"},
	}
	for _, p := range puts {
		offset, err := w.Append(&Entry{Seq: p.seq, Key: []byte(p.key), Value: []byte(p.value)})
		if err != nil {
			t.Fatalf("append failed: %v", err)
		}
		if offset <= 0 {
			t.Errorf("append returned non-positive offset %d", offset)
		}
	}
	if _, err := w.Append(&Entry{Seq: 4, Key: []byte("banana"), Tombstone: true}); err != nil {
		t.Fatalf("tombstone append failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	entries := collectEntries(t, cfg.WALDir, 0)
	if len(entries) != 4 {
		t.Fatalf("replayed %d entries, want 4", len(entries))
	}
	for i, p := range puts {
		e := entries[i]
		if e.Seq != p.seq || string(e.Key) != p.key || string(e.Value) != p.value || e.Tombstone {
			t.Errorf("entry %d = {%d %q %q %v}, want {%d %q %q false}",
				i, e.Seq, e.Key, e.Value, e.Tombstone, p.seq, p.key, p.value)
		}
	}
	last := entries[3]
	if last.Seq != 4 || string(last.Key) != "banana" || !last.Tombstone || last.Value != nil {
		t.Errorf("tombstone entry = {%d %q %q %v}", last.Seq, last.Key, last.Value, last.Tombstone)
	}
}

func TestReplaySkipsOldSequences(t *testing.T) {
	cfg := testConfig(t)

	w, err := NewWAL(cfg, 1)
	if err != nil {
		t.Fatalf("failed to create WAL: %v", err)
	}
	for seq := uint64(1); seq <= 10; seq++ {
		if _, err := w.Append(&Entry{Seq: seq, Key: []byte(fmt.Sprintf("key-%d", seq)), Value: []byte("v")}); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	entries := collectEntries(t, cfg.WALDir, 6)
	if len(entries) != 5 {
		t.Fatalf("replayed %d entries, want 5", len(entries))
	}
	if entries[0].Seq != 6 {
		t.Errorf("first replayed seq = %d, want 6", entries[0].Seq)
	}
}

func TestReplayTruncatesTornEntry(t *testing.T) {
	cfg := testConfig(t)

	w, err := NewWAL(cfg, 1)
	if err != nil {
		t.Fatalf("failed to create WAL: %v", err)
	}
	if _, err := w.Append(&Entry{Seq: 1, Key: []byte("good"), Value: []byte("entry")}); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	// Simulate a crash mid-append by writing a partial frame at the tail
	path := filepath.Join(cfg.WALDir, FileName(1))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		t.Fatalf("failed to open WAL for corruption: %v", err)
	}
	if _, err := f.Write([]byte{0x02, 0x00, 0x00, 0x00, 0x00}); err != nil {
		t.Fatalf("failed to write torn frame: %v", err)
	}
	f.Close()

	entries := collectEntries(t, cfg.WALDir, 0)
	if len(entries) != 1 {
		t.Fatalf("replayed %d entries, want 1", len(entries))
	}
	if string(entries[0].Key) != "good" {
		t.Errorf("replayed key %q, want %q", entries[0].Key, "good")
	}

	// The torn tail must be gone so a second replay sees a clean file
	stat, err := os.Stat(path)
	if err != nil {
		t.Fatalf("failed to stat WAL: %v", err)
	}
	entriesAgain := collectEntries(t, cfg.WALDir, 0)
	if len(entriesAgain) != 1 {
		t.Fatalf("second replay saw %d entries, want 1", len(entriesAgain))
	}
	statAgain, _ := os.Stat(path)
	if stat.Size() != statAgain.Size() {
		t.Errorf("file size changed between replays: %d vs %d", stat.Size(), statAgain.Size())
	}
}

func TestReplayTruncatesCorruptChecksum(t *testing.T) {
	cfg := testConfig(t)

	w, err := NewWAL(cfg, 1)
	if err != nil {
		t.Fatalf("failed to create WAL: %v", err)
	}
	if _, err := w.Append(&Entry{Seq: 1, Key: []byte("first"), Value: []byte("ok")}); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	offsetBeforeSecond := w.Size()
	if _, err := w.Append(&Entry{Seq: 2, Key: []byte("second"), Value: []byte("damaged")}); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if _, err := w.Append(&Entry{Seq: 3, Key: []byte("third"), Value: []byte("after")}); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	// Flip a byte inside the second entry's value
	path := filepath.Join(cfg.WALDir, FileName(1))
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read WAL: %v", err)
	}
	data[offsetBeforeSecond+frameHeaderSize+2] ^= 0xFF
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("failed to rewrite WAL: %v", err)
	}

	// Everything from the corrupt frame on is discarded, including the
	// intact third entry behind it
	entries := collectEntries(t, cfg.WALDir, 0)
	if len(entries) != 1 {
		t.Fatalf("replayed %d entries, want 1", len(entries))
	}
	if entries[0].Seq != 1 {
		t.Errorf("surviving seq = %d, want 1", entries[0].Seq)
	}
}

func TestBatchReplayAllOrNothing(t *testing.T) {
	cfg := testConfig(t)

	w, err := NewWAL(cfg, 1)
	if err != nil {
		t.Fatalf("failed to create WAL: %v", err)
	}
	batch := []*Entry{
		{Seq: 1, Key: []byte("a"), Value: []byte("1")},
		{Seq: 2, Key: []byte("b"), Value: []byte("2")},
		{Seq: 3, Key: []byte("c"), Tombstone: true},
	}
	if _, err := w.AppendBatch(batch); err != nil {
		t.Fatalf("batch append failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	entries := collectEntries(t, cfg.WALDir, 0)
	if len(entries) != 3 {
		t.Fatalf("replayed %d entries, want 3", len(entries))
	}
	if !entries[2].Tombstone || string(entries[2].Key) != "c" {
		t.Errorf("batch tombstone not preserved: %+v", entries[2])
	}
}

func TestTornBatchDiscardedWhole(t *testing.T) {
	cfg := testConfig(t)

	w, err := NewWAL(cfg, 1)
	if err != nil {
		t.Fatalf("failed to create WAL: %v", err)
	}
	if _, err := w.Append(&Entry{Seq: 1, Key: []byte("before"), Value: []byte("batch")}); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	batchStart := w.Size()
	batch := []*Entry{
		{Seq: 2, Key: []byte("x"), Value: []byte("1")},
		{Seq: 3, Key: []byte("y"), Value: []byte("2")},
	}
	if _, err := w.AppendBatch(batch); err != nil {
		t.Fatalf("batch append failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	// Chop off the last batch member; the header promises two entries
	path := filepath.Join(cfg.WALDir, FileName(1))
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read WAL: %v", err)
	}
	if err := os.WriteFile(path, data[:len(data)-5], 0644); err != nil {
		t.Fatalf("failed to rewrite WAL: %v", err)
	}

	entries := collectEntries(t, cfg.WALDir, 0)
	if len(entries) != 1 {
		t.Fatalf("replayed %d entries, want only the pre-batch entry", len(entries))
	}
	if string(entries[0].Key) != "before" {
		t.Errorf("surviving key = %q, want %q", entries[0].Key, "before")
	}

	// The file must now end at the batch header boundary
	stat, err := os.Stat(path)
	if err != nil {
		t.Fatalf("failed to stat WAL: %v", err)
	}
	if stat.Size() != batchStart {
		t.Errorf("file size after truncation = %d, want %d", stat.Size(), batchStart)
	}
}

func TestReplayDirOrdersByGeneration(t *testing.T) {
	cfg := testConfig(t)

	for gen := uint64(1); gen <= 3; gen++ {
		w, err := NewWAL(cfg, gen)
		if err != nil {
			t.Fatalf("failed to create WAL generation %d: %v", gen, err)
		}
		if _, err := w.Append(&Entry{Seq: gen, Key: []byte(fmt.Sprintf("gen-%d", gen)), Value: []byte("v")}); err != nil {
			t.Fatalf("append failed: %v", err)
		}
		if err := w.Close(); err != nil {
			t.Fatalf("close failed: %v", err)
		}
	}

	entries := collectEntries(t, cfg.WALDir, 0)
	if len(entries) != 3 {
		t.Fatalf("replayed %d entries, want 3", len(entries))
	}
	for i, e := range entries {
		want := fmt.Sprintf("gen-%d", i+1)
		if string(e.Key) != want {
			t.Errorf("entry %d key = %q, want %q", i, e.Key, want)
		}
	}
}

func TestDeleteRemovesGeneration(t *testing.T) {
	cfg := testConfig(t)

	w, err := NewWAL(cfg, 7)
	if err != nil {
		t.Fatalf("failed to create WAL: %v", err)
	}
	if _, err := w.Append(&Entry{Seq: 1, Key: []byte("k"), Value: []byte("v")}); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	if err := Delete(cfg.WALDir, 7); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	files, err := FindWALFiles(cfg.WALDir)
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if len(files) != 0 {
		t.Errorf("found %d files after delete, want 0", len(files))
	}

	// Deleting an absent generation is not an error
	if err := Delete(cfg.WALDir, 7); err != nil {
		t.Errorf("repeat delete failed: %v", err)
	}
}

func TestParseFileName(t *testing.T) {
	name := FileName(42)
	if name != "00000000000000000042.wal" {
		t.Errorf("FileName(42) = %q", name)
	}
	gen, err := ParseFileName(name)
	if err != nil || gen != 42 {
		t.Errorf("ParseFileName(%q) = %d, %v", name, gen, err)
	}

	for _, bad := range []string{"foo.txt", "abc.wal", "CURRENT"} {
		if _, err := ParseFileName(bad); err == nil {
			t.Errorf("ParseFileName(%q) should fail", bad)
		}
	}
}

func TestMaxSequence(t *testing.T) {
	cfg := testConfig(t)

	w, err := NewWAL(cfg, 1)
	if err != nil {
		t.Fatalf("failed to create WAL: %v", err)
	}
	for _, seq := range []uint64{5, 2, 9, 7} {
		if _, err := w.Append(&Entry{Seq: seq, Key: []byte("k"), Value: []byte("v")}); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	maxSeq, err := MaxSequence(filepath.Join(cfg.WALDir, FileName(1)))
	if err != nil {
		t.Fatalf("max sequence scan failed: %v", err)
	}
	if maxSeq != 9 {
		t.Errorf("max sequence = %d, want 9", maxSeq)
	}
}

func TestLargeValues(t *testing.T) {
	cfg := testConfig(t)

	w, err := NewWAL(cfg, 1)
	if err != nil {
		t.Fatalf("failed to create WAL: %v", err)
	}
	big := bytes.Repeat([]byte{0xAB}, 256*1024)
	if _, err := w.Append(&Entry{Seq: 1, Key: []byte("big"), Value: big}); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	entries := collectEntries(t, cfg.WALDir, 0)
	if len(entries) != 1 {
		t.Fatalf("replayed %d entries, want 1", len(entries))
	}
	if !bytes.Equal(entries[0].Value, big) {
		t.Error("large value corrupted through replay")
	}
}
