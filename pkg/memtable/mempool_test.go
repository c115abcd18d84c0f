package memtable

import (
	"fmt"
	"testing"

	"github.com/stratadb/strata/pkg/config"
	"github.com/stratadb/strata/pkg/wal"
)

func poolConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewDefaultConfig(t.TempDir())
	cfg.WriteBufferSize = 1024
	return cfg
}

func TestPoolGetAcrossBuffers(t *testing.T) {
	p := NewPool(poolConfig(t), 1)

	p.Put([]byte("old"), []byte("in-sealed"), 1)
	p.SwitchActive(2)
	p.Put([]byte("new"), []byte("in-active"), 2)

	if v, _, found := p.Get([]byte("old")); !found || string(v) != "in-sealed" {
		t.Errorf("sealed buffer lookup = (%q, %v)", v, found)
	}
	if v, _, found := p.Get([]byte("new")); !found || string(v) != "in-active" {
		t.Errorf("active buffer lookup = (%q, %v)", v, found)
	}
}

func TestPoolActiveShadowsSealed(t *testing.T) {
	p := NewPool(poolConfig(t), 1)

	p.Put([]byte("key"), []byte("v1"), 1)
	p.SwitchActive(2)
	p.Delete([]byte("key"), 2)

	// The active buffer's tombstone must win over the sealed value
	_, tombstone, found := p.Get([]byte("key"))
	if !found || !tombstone {
		t.Errorf("got tombstone=%v found=%v, want both true", tombstone, found)
	}
}

func TestPoolFlushThreshold(t *testing.T) {
	p := NewPool(poolConfig(t), 1)

	if p.IsFlushNeeded() {
		t.Fatal("fresh pool should not need a flush")
	}

	// Cross the 1KB write buffer threshold
	for i := 0; i < 20; i++ {
		p.Put([]byte(fmt.Sprintf("key-%03d", i)), make([]byte, 64), uint64(i+1))
	}
	if !p.IsFlushNeeded() {
		t.Fatal("pool should need a flush after crossing the threshold")
	}

	sealed := p.SwitchActive(2)
	if !sealed.IsImmutable() {
		t.Error("switched-out buffer should be sealed")
	}
	if sealed.Generation() != 1 {
		t.Errorf("sealed generation = %d, want 1", sealed.Generation())
	}
	if p.Active().Generation() != 2 {
		t.Errorf("active generation = %d, want 2", p.Active().Generation())
	}
	if p.IsFlushNeeded() {
		t.Error("flush flag should reset after switch")
	}
}

func TestPoolRetire(t *testing.T) {
	p := NewPool(poolConfig(t), 1)
	p.Put([]byte("key"), []byte("v"), 1)
	sealed := p.SwitchActive(2)

	if p.ImmutableCount() != 1 {
		t.Fatalf("immutable count = %d, want 1", p.ImmutableCount())
	}
	p.Retire(sealed)
	if p.ImmutableCount() != 0 {
		t.Errorf("immutable count after retire = %d, want 0", p.ImmutableCount())
	}

	// The flushed version is gone from memory
	if _, _, found := p.Get([]byte("key")); found {
		t.Error("retired buffer should no longer serve reads")
	}
}

func TestPoolCapacity(t *testing.T) {
	cfg := poolConfig(t)
	cfg.MaxImmutableBuffers = 2
	p := NewPool(cfg, 1)

	p.SwitchActive(2)
	if p.AtCapacity() {
		t.Error("one sealed buffer should be under the limit of 2")
	}
	p.SwitchActive(3)
	if !p.AtCapacity() {
		t.Error("two sealed buffers should hit the limit of 2")
	}
}

func TestPoolGetMemTablesNewestFirst(t *testing.T) {
	p := NewPool(poolConfig(t), 1)
	p.SwitchActive(2)
	p.SwitchActive(3)

	tables := p.GetMemTables()
	if len(tables) != 3 {
		t.Fatalf("got %d tables, want 3", len(tables))
	}
	gens := []uint64{tables[0].Generation(), tables[1].Generation(), tables[2].Generation()}
	if gens[0] != 3 || gens[1] != 2 || gens[2] != 1 {
		t.Errorf("generations = %v, want [3 2 1]", gens)
	}
}

func TestRecoverFromWAL(t *testing.T) {
	cfg := poolConfig(t)

	// Two generations with an overwrite and a delete across them
	w1, err := wal.NewWAL(cfg, 1)
	if err != nil {
		t.Fatalf("failed to create WAL: %v", err)
	}
	w1.Append(&wal.Entry{Seq: 1, Key: []byte("a"), Value: []byte("a1")})
	w1.Append(&wal.Entry{Seq: 2, Key: []byte("b"), Value: []byte("b1")})
	if err := w1.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	w2, err := wal.NewWAL(cfg, 2)
	if err != nil {
		t.Fatalf("failed to create WAL: %v", err)
	}
	w2.Append(&wal.Entry{Seq: 3, Key: []byte("a"), Value: []byte("a2")})
	w2.Append(&wal.Entry{Seq: 4, Key: []byte("b"), Tombstone: true})
	if err := w2.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	recovered, maxSeq, err := RecoverFromWAL(cfg, 0)
	if err != nil {
		t.Fatalf("recovery failed: %v", err)
	}
	if len(recovered) != 2 {
		t.Fatalf("recovered %d buffers, want 2", len(recovered))
	}
	if maxSeq != 4 {
		t.Errorf("max sequence = %d, want 4", maxSeq)
	}
	if recovered[0].Generation != 1 || recovered[1].Generation != 2 {
		t.Errorf("generations = %d, %d, want 1, 2", recovered[0].Generation, recovered[1].Generation)
	}

	// Generation 2 holds the newest versions
	if v, _, found := recovered[1].MemTable.Get([]byte("a")); !found || string(v) != "a2" {
		t.Errorf("recovered a = (%q, %v)", v, found)
	}
	if v, _, found := recovered[1].MemTable.Get([]byte("b")); !found || v != nil {
		t.Errorf("recovered b = (%q, %v), want tombstone", v, found)
	}
	if !recovered[0].MemTable.IsImmutable() {
		t.Error("recovered buffers should be sealed")
	}
}

func TestRecoverFromWALSkipsFlushedSequences(t *testing.T) {
	cfg := poolConfig(t)

	w, err := wal.NewWAL(cfg, 1)
	if err != nil {
		t.Fatalf("failed to create WAL: %v", err)
	}
	w.Append(&wal.Entry{Seq: 1, Key: []byte("flushed"), Value: []byte("old")})
	w.Append(&wal.Entry{Seq: 5, Key: []byte("pending"), Value: []byte("new")})
	if err := w.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	recovered, maxSeq, err := RecoverFromWAL(cfg, 5)
	if err != nil {
		t.Fatalf("recovery failed: %v", err)
	}
	if len(recovered) != 1 {
		t.Fatalf("recovered %d buffers, want 1", len(recovered))
	}
	if maxSeq != 5 {
		t.Errorf("max sequence = %d, want 5", maxSeq)
	}
	if recovered[0].MemTable.Contains([]byte("flushed")) {
		t.Error("entry below the flushed boundary should be skipped")
	}
	if !recovered[0].MemTable.Contains([]byte("pending")) {
		t.Error("entry at the boundary should be replayed")
	}
}
