package memtable

import (
	"sync"
	"sync/atomic"

	"github.com/stratadb/strata/pkg/config"
)

// Pool manages the active write buffer and the sealed buffers awaiting
// flush. Sealed buffers stay readable until the flusher retires them.
type Pool struct {
	cfg          *config.Config
	active       *MemTable
	immutables   []*MemTable
	flushPending atomic.Bool
	mu           sync.RWMutex
}

// NewPool creates a pool with a fresh active buffer for generation.
func NewPool(cfg *config.Config, generation uint64) *Pool {
	return &Pool{
		cfg:        cfg,
		active:     NewMemTable(generation),
		immutables: make([]*MemTable, 0, cfg.MaxImmutableBuffers),
	}
}

// Put adds a key-value pair to the active buffer.
func (p *Pool) Put(key, value []byte, seq uint64) {
	p.mu.RLock()
	p.active.Put(key, value, seq)
	p.mu.RUnlock()

	p.checkFlushCondition()
}

// Delete inserts a tombstone into the active buffer.
func (p *Pool) Delete(key []byte, seq uint64) {
	p.mu.RLock()
	p.active.Delete(key, seq)
	p.mu.RUnlock()

	p.checkFlushCondition()
}

// Get searches the active buffer first, then the sealed buffers newest
// first. The first buffer holding any version of the key answers;
// tombstone reports whether that version is a deletion marker.
func (p *Pool) Get(key []byte) (value []byte, tombstone, found bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if value, tombstone, found := p.active.Get(key); found {
		return value, tombstone, true
	}
	for i := len(p.immutables) - 1; i >= 0; i-- {
		if value, tombstone, found := p.immutables[i].Get(key); found {
			return value, tombstone, true
		}
	}
	return nil, false, false
}

// ImmutableCount returns the number of sealed buffers awaiting flush.
func (p *Pool) ImmutableCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.immutables)
}

func (p *Pool) checkFlushCondition() {
	if p.flushPending.Load() {
		return
	}

	p.mu.RLock()
	full := p.active.ApproximateSize() >= p.cfg.WriteBufferSize
	p.mu.RUnlock()

	if full {
		p.flushPending.Store(true)
	}
}

// IsFlushNeeded reports whether the active buffer has crossed its byte
// threshold since the last switch.
func (p *Pool) IsFlushNeeded() bool {
	return p.flushPending.Load()
}

// SwitchActive seals the active buffer and installs a fresh one for the
// next generation. Returns the sealed buffer for the flush queue.
func (p *Pool) SwitchActive(nextGeneration uint64) *MemTable {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.flushPending.Store(false)

	old := p.active
	old.SetImmutable()
	p.active = NewMemTable(nextGeneration)
	p.immutables = append(p.immutables, old)
	return old
}

// Retire removes a flushed buffer from the sealed list.
func (p *Pool) Retire(m *MemTable) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, im := range p.immutables {
		if im == m {
			p.immutables = append(p.immutables[:i], p.immutables[i+1:]...)
			return
		}
	}
}

// Active returns the current active buffer.
func (p *Pool) Active() *MemTable {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.active
}

// GetMemTables returns all buffers newest first: the active buffer, then
// sealed buffers from most to least recent.
func (p *Pool) GetMemTables() []*MemTable {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]*MemTable, 0, len(p.immutables)+1)
	result = append(result, p.active)
	for i := len(p.immutables) - 1; i >= 0; i-- {
		result = append(result, p.immutables[i])
	}
	return result
}

// TotalSize returns the approximate size of all buffers in the pool.
func (p *Pool) TotalSize() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	total := p.active.ApproximateSize()
	for _, m := range p.immutables {
		total += m.ApproximateSize()
	}
	return total
}

// AtCapacity reports whether the sealed list has reached its configured
// limit; the write path stalls until the flusher catches up.
func (p *Pool) AtCapacity() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.immutables) >= p.cfg.MaxImmutableBuffers
}
