package stats

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// OperationType names a tracked engine operation.
type OperationType string

const (
	OpPut       OperationType = "put"
	OpGet       OperationType = "get"
	OpDelete    OperationType = "delete"
	OpBatch     OperationType = "batch"
	OpFlush     OperationType = "flush"
	OpCompact   OperationType = "compact"
	OpSeek      OperationType = "seek"
	OpScan      OperationType = "scan"
	OpScanRange OperationType = "scan_range"
	OpRecovery  OperationType = "recovery"
)

const numOps = 10

// trackedOps fixes the operation set so counters can live in a flat array
// indexed without locking.
var trackedOps = [numOps]OperationType{
	OpPut, OpGet, OpDelete, OpBatch, OpFlush,
	OpCompact, OpSeek, OpScan, OpScanRange, OpRecovery,
}

var opIndex = func() map[OperationType]int {
	m := make(map[OperationType]int, len(trackedOps))
	for i, op := range trackedOps {
		m[op] = i
	}
	return m
}()

// opRecord holds all per-operation counters. Latency min/max maintain
// themselves with compare-and-swap loops.
type opRecord struct {
	count    atomic.Uint64
	lastNano atomic.Int64

	latCount atomic.Uint64
	latSum   atomic.Uint64
	latMin   atomic.Uint64 // 0 means unset
	latMax   atomic.Uint64
}

func (r *opRecord) observe(latencyNs uint64) {
	r.latCount.Add(1)
	r.latSum.Add(latencyNs)
	for {
		cur := r.latMax.Load()
		if latencyNs <= cur || r.latMax.CompareAndSwap(cur, latencyNs) {
			break
		}
	}
	for {
		cur := r.latMin.Load()
		if cur != 0 && latencyNs >= cur {
			break
		}
		if r.latMin.CompareAndSwap(cur, latencyNs) {
			break
		}
	}
}

// AtomicCollector gathers engine statistics on atomic counters. Operation
// tracking takes no locks; only the open-ended error map is mutex-guarded.
type AtomicCollector struct {
	ops [numOps]opRecord

	memTableSize atomic.Uint64
	bytesRead    atomic.Uint64
	bytesWritten atomic.Uint64
	flushCount   atomic.Uint64
	compactCount atomic.Uint64

	errorsMu sync.RWMutex
	errors   map[string]uint64

	recFiles      atomic.Uint64
	recEntries    atomic.Uint64
	recCorrupted  atomic.Uint64
	recDurationNs atomic.Int64
}

// NewAtomicCollector creates an empty collector.
func NewAtomicCollector() *AtomicCollector {
	return &AtomicCollector{errors: make(map[string]uint64)}
}

func (c *AtomicCollector) record(op OperationType) *opRecord {
	if i, ok := opIndex[op]; ok {
		return &c.ops[i]
	}
	return nil
}

// TrackOperation counts one occurrence of op and stamps its time.
func (c *AtomicCollector) TrackOperation(op OperationType) {
	if r := c.record(op); r != nil {
		r.count.Add(1)
		r.lastNano.Store(time.Now().UnixNano())
	}
}

// TrackOperationWithLatency counts op and folds latencyNs into its
// count/sum/min/max latency figures.
func (c *AtomicCollector) TrackOperationWithLatency(op OperationType, latencyNs uint64) {
	r := c.record(op)
	if r == nil {
		return
	}
	r.count.Add(1)
	r.lastNano.Store(time.Now().UnixNano())
	r.observe(latencyNs)
}

// TrackError counts one occurrence of the named error class.
func (c *AtomicCollector) TrackError(errorType string) {
	c.errorsMu.Lock()
	c.errors[errorType]++
	c.errorsMu.Unlock()
}

// TrackBytes accumulates payload volume on the read or write side.
func (c *AtomicCollector) TrackBytes(isWrite bool, bytes uint64) {
	if isWrite {
		c.bytesWritten.Add(bytes)
	} else {
		c.bytesRead.Add(bytes)
	}
}

// TrackMemTableSize records the current active buffer size.
func (c *AtomicCollector) TrackMemTableSize(size uint64) {
	c.memTableSize.Store(size)
}

// TrackFlush counts one completed flush.
func (c *AtomicCollector) TrackFlush() {
	c.flushCount.Add(1)
}

// TrackCompaction counts one completed compaction.
func (c *AtomicCollector) TrackCompaction() {
	c.compactCount.Add(1)
}

// StartRecovery resets recovery figures and returns the wall-clock start
// to hand back to FinishRecovery.
func (c *AtomicCollector) StartRecovery() time.Time {
	c.recFiles.Store(0)
	c.recEntries.Store(0)
	c.recCorrupted.Store(0)
	c.recDurationNs.Store(0)
	return time.Now()
}

// FinishRecovery records the outcome of a completed recovery.
func (c *AtomicCollector) FinishRecovery(startTime time.Time, filesRecovered, entriesRecovered, corruptedEntries uint64) {
	c.recFiles.Store(filesRecovered)
	c.recEntries.Store(entriesRecovered)
	c.recCorrupted.Store(corruptedEntries)
	c.recDurationNs.Store(time.Since(startTime).Nanoseconds())
}

// GetStats snapshots every figure into a flat map. Operations never seen
// are omitted.
func (c *AtomicCollector) GetStats() map[string]interface{} {
	stats := make(map[string]interface{})

	for i, op := range trackedOps {
		r := &c.ops[i]
		count := r.count.Load()
		if count == 0 {
			continue
		}
		stats[string(op)+"_ops"] = count
		if nano := r.lastNano.Load(); nano != 0 {
			stats["last_"+string(op)+"_time"] = nano
		}
		if latCount := r.latCount.Load(); latCount > 0 {
			latency := map[string]interface{}{
				"count":  latCount,
				"avg_ns": r.latSum.Load() / latCount,
			}
			if v := r.latMin.Load(); v != 0 {
				latency["min_ns"] = v
			}
			if v := r.latMax.Load(); v != 0 {
				latency["max_ns"] = v
			}
			stats[string(op)+"_latency"] = latency
		}
	}

	stats["memtable_size"] = c.memTableSize.Load()
	stats["total_bytes_read"] = c.bytesRead.Load()
	stats["total_bytes_written"] = c.bytesWritten.Load()
	stats["flush_count"] = c.flushCount.Load()
	stats["compaction_count"] = c.compactCount.Load()

	errorStats := make(map[string]uint64)
	c.errorsMu.RLock()
	for errType, n := range c.errors {
		errorStats[errType] = n
	}
	c.errorsMu.RUnlock()
	stats["errors"] = errorStats

	recovery := map[string]interface{}{
		"wal_files_recovered":   c.recFiles.Load(),
		"wal_entries_recovered": c.recEntries.Load(),
		"wal_corrupted_entries": c.recCorrupted.Load(),
	}
	if d := c.recDurationNs.Load(); d > 0 {
		recovery["wal_recovery_duration_ms"] = d / int64(time.Millisecond)
	}
	stats["recovery"] = recovery

	return stats
}

// GetStatsFiltered returns the subset of GetStats whose keys carry the
// given prefix; an empty prefix returns everything.
func (c *AtomicCollector) GetStatsFiltered(prefix string) map[string]interface{} {
	all := c.GetStats()
	if prefix == "" {
		return all
	}
	filtered := make(map[string]interface{})
	for key, value := range all {
		if strings.HasPrefix(key, prefix) {
			filtered[key] = value
		}
	}
	return filtered
}
