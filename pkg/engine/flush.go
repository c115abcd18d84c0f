package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/stratadb/strata/pkg/manifest"
	"github.com/stratadb/strata/pkg/memtable"
	"github.com/stratadb/strata/pkg/sstable"
	"github.com/stratadb/strata/pkg/stats"
	"github.com/stratadb/strata/pkg/wal"
)

// flushLoop drains the immutable buffer queue in the background. A
// failed flush is retried on the next rotation signal.
func (e *Engine) flushLoop() {
	defer e.wg.Done()

	for {
		select {
		case <-e.closing:
			return
		case <-e.flushCh:
			for e.pool.ImmutableCount() > 0 {
				if err := e.flushOne(); err != nil {
					e.logger.Error("flush failed: %v", err)
					break
				}
			}
		}
	}
}

// flushOne writes the oldest immutable buffer to level 0, commits the
// manifest edit, deletes the retired WAL generation, and releases the
// buffer. It is a no-op when the queue is empty.
func (e *Engine) flushOne() error {
	e.flushMu.Lock()
	defer e.flushMu.Unlock()

	tables := e.pool.GetMemTables()
	if len(tables) <= 1 {
		return nil
	}
	m := tables[len(tables)-1]
	start := time.Now()

	_, err := e.flushMemTable(m)
	if err != nil {
		e.collector.TrackError("flush")
		e.metrics.RecordFlush(context.Background(), start, err)
		return err
	}

	if err := wal.Delete(e.cfg.WALDir, m.Generation()); err != nil {
		e.logger.Warn("failed to delete wal generation %d: %v", m.Generation(), err)
	}
	e.pool.Retire(m)

	e.writeMu.Lock()
	e.writeCond.Broadcast()
	e.writeMu.Unlock()

	e.collector.TrackFlush()
	e.collector.TrackOperation(stats.OpFlush)
	e.metrics.RecordFlush(context.Background(), start, nil)
	if e.compactor != nil {
		e.compactor.Trigger()
	}
	return nil
}

// flushMemTable persists one buffer as a level 0 table and installs it.
// An empty buffer installs nothing. Returns the number of entries
// written.
func (e *Engine) flushMemTable(m *memtable.MemTable) (uint64, error) {
	it := memtable.NewFlushIterator(m)
	it.SeekToFirst()
	if !it.Valid() {
		return 0, nil
	}

	fileID := e.versions.AllocateFileID()
	path := filepath.Join(e.cfg.SSTDir, sstable.FileName(0, fileID))

	w, err := sstable.NewWriter(path, sstable.DefaultWriterOptions(e.cfg))
	if err != nil {
		return 0, fmt.Errorf("failed to create flush output: %w", err)
	}

	var minKey, maxKey []byte
	var count uint64
	for ; it.Valid(); it.Next() {
		key := it.Key()
		if it.IsTombstone() {
			err = w.AddTombstone(key, it.Seq())
		} else {
			err = w.Add(key, it.Seq(), it.Value())
		}
		if err != nil {
			w.Abort()
			return 0, fmt.Errorf("failed to write flush output: %w", err)
		}
		if minKey == nil {
			minKey = append([]byte(nil), key...)
		}
		maxKey = append(maxKey[:0], key...)
		count++
	}

	if err := w.Finish(); err != nil {
		return 0, fmt.Errorf("failed to finish flush output: %w", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("failed to stat flush output: %w", err)
	}

	edit := &manifest.VersionEdit{NextSeq: m.MaxSequence() + 1}
	edit.AddTable(&manifest.TableMeta{
		Level:      0,
		FileID:     fileID,
		Size:       uint64(info.Size()),
		EntryCount: count,
		MinKey:     minKey,
		MaxKey:     append([]byte(nil), maxKey...),
	})
	if err := e.versions.Apply(edit); err != nil {
		os.Remove(path)
		return 0, fmt.Errorf("failed to install flush output: %w", err)
	}

	e.logger.Info("flushed buffer generation %d: %d entries, %d bytes", m.Generation(), count, info.Size())
	return count, nil
}
