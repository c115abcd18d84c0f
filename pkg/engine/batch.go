package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/stratadb/strata/pkg/stats"
	"github.com/stratadb/strata/pkg/telemetry"
	"github.com/stratadb/strata/pkg/wal"
)

// Batch collects puts and deletes for atomic application: all operations
// receive consecutive sequence numbers and share one WAL batch record,
// so crash recovery replays the whole batch or none of it.
type Batch struct {
	ops []batchOp
}

type batchOp struct {
	key       []byte
	value     []byte
	tombstone bool
}

// NewBatch creates an empty batch
func NewBatch() *Batch {
	return &Batch{}
}

// Put queues a key-value write
func (b *Batch) Put(key, value []byte) {
	b.ops = append(b.ops, batchOp{key: key, value: value})
}

// Delete queues a tombstone
func (b *Batch) Delete(key []byte) {
	b.ops = append(b.ops, batchOp{key: key, tombstone: true})
}

// Count returns the number of queued operations
func (b *Batch) Count() int {
	return len(b.ops)
}

// Reset clears the batch for reuse
func (b *Batch) Reset() {
	b.ops = b.ops[:0]
}

// ApplyBatch applies every operation in the batch atomically. An empty
// batch is a no-op.
func (e *Engine) ApplyBatch(b *Batch) error {
	start := time.Now()
	err := e.applyBatch(b)
	e.collector.TrackOperationWithLatency(stats.OpBatch, uint64(time.Since(start).Nanoseconds()))
	e.metrics.RecordOperation(context.Background(), telemetry.OpTypeBatch, start, err)
	return err
}

func (e *Engine) applyBatch(b *Batch) error {
	if b == nil || len(b.ops) == 0 {
		return nil
	}
	for _, op := range b.ops {
		if len(op.key) == 0 {
			return ErrEmptyKey
		}
	}
	if err := e.checkActive(); err != nil {
		return err
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	for e.pool.AtCapacity() {
		if e.State() != StateActive {
			return ErrEngineClosed
		}
		e.writeCond.Wait()
	}

	// Reserve a contiguous sequence range for the batch
	n := uint64(len(b.ops))
	firstSeq := e.nextSeq.Add(n) - n

	entries := make([]*wal.Entry, len(b.ops))
	var bytes uint64
	for i, op := range b.ops {
		entries[i] = &wal.Entry{
			Seq:       firstSeq + uint64(i),
			Key:       op.key,
			Value:     op.value,
			Tombstone: op.tombstone,
		}
		bytes += uint64(len(op.key) + len(op.value))
	}

	if _, err := e.wal.AppendBatch(entries); err != nil {
		return fmt.Errorf("wal batch append failed: %w", err)
	}

	for _, entry := range entries {
		if entry.Tombstone {
			e.pool.Delete(entry.Key, entry.Seq)
		} else {
			e.pool.Put(entry.Key, entry.Value, entry.Seq)
		}
	}
	e.collector.TrackBytes(true, bytes)
	e.metrics.RecordWrite(context.Background(), int64(bytes))
	e.collector.TrackMemTableSize(uint64(e.pool.TotalSize()))

	if e.pool.IsFlushNeeded() {
		if err := e.rotateLocked(); err != nil {
			return err
		}
	}
	return nil
}
