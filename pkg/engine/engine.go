// Package engine exposes the public storage engine facade: an embedded
// log-structured merge tree with a write-ahead log, in-memory write
// buffers, sorted table levels, and background flush and compaction.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/stratadb/strata/pkg/common/log"
	"github.com/stratadb/strata/pkg/compaction"
	"github.com/stratadb/strata/pkg/config"
	"github.com/stratadb/strata/pkg/manifest"
	"github.com/stratadb/strata/pkg/memtable"
	"github.com/stratadb/strata/pkg/sstable"
	"github.com/stratadb/strata/pkg/stats"
	"github.com/stratadb/strata/pkg/telemetry"
	"github.com/stratadb/strata/pkg/wal"
)

// State tracks the engine lifecycle
type State int32

const (
	StateRecovering State = iota
	StateActive
	StateClosing
	StateClosed
)

// Engine is the storage engine facade. One Engine owns one database
// directory; all methods are safe for concurrent use.
type Engine struct {
	cfg        *config.Config
	logger     log.Logger
	instanceID string

	state   atomic.Int32
	nextSeq atomic.Uint64

	// writeMu serializes the mutation path: sequence allocation, WAL
	// append, buffer insert, and buffer rotation
	writeMu   sync.Mutex
	writeCond *sync.Cond
	wal       *wal.WAL
	pool      *memtable.Pool
	nextGen   uint64

	versions *manifest.Set
	cache    *tableCache

	// flushMu serializes flush work between the background flusher and
	// FlushAll
	flushMu sync.Mutex
	flushCh chan struct{}
	closing chan struct{}
	wg      sync.WaitGroup

	compactor *compaction.Coordinator
	collector stats.Collector
	metrics   *telemetry.EngineMetrics
}

// Open creates or recovers the engine at cfg.DBPath. A nil cfg uses
// defaults rooted at path; cfg takes precedence when both are given.
func Open(path string, cfg *config.Config) (*Engine, error) {
	if cfg == nil {
		cfg = config.NewDefaultConfig(path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	instanceID := uuid.NewString()
	logger := log.GetDefaultLogger().WithField("instance", instanceID[:8])

	telCfg := telemetry.DefaultConfig()
	telCfg.LoadFromEnv()
	telCfg.InstanceID = instanceID
	tel, err := telemetry.New(telCfg)
	if err != nil {
		logger.Warn("telemetry disabled: %v", err)
		tel = telemetry.NewNoop()
	}

	e := &Engine{
		cfg:        cfg,
		logger:     logger,
		instanceID: instanceID,
		flushCh:    make(chan struct{}, 1),
		closing:    make(chan struct{}),
		collector:  stats.NewAtomicCollector(),
		metrics:    telemetry.NewEngineMetrics(tel),
		cache:      newTableCache(cfg.SSTDir),
	}
	e.writeCond = sync.NewCond(&e.writeMu)
	e.state.Store(int32(StateRecovering))

	if err := e.recover(); err != nil {
		return nil, err
	}

	e.compactor = compaction.NewCoordinator(cfg, e.versions, cfg.SSTDir, logger, e.collector, e.metrics)
	e.compactor.Start()

	e.wg.Add(1)
	go e.flushLoop()

	e.state.Store(int32(StateActive))
	e.compactor.Trigger()
	e.logger.Info("engine open at %s", cfg.DBPath)
	return e, nil
}

// State returns the current lifecycle state
func (e *Engine) State() State {
	return State(e.state.Load())
}

// InstanceID returns the identifier stamped on this open
func (e *Engine) InstanceID() string {
	return e.instanceID
}

func (e *Engine) checkActive() error {
	switch e.State() {
	case StateActive:
		return nil
	case StateRecovering:
		return ErrEngineRecovering
	default:
		return ErrEngineClosed
	}
}

// Put stores a key-value pair. It is durable per the configured WAL sync
// mode before it returns.
func (e *Engine) Put(key, value []byte) error {
	start := time.Now()
	err := e.write(key, value, false)
	e.collector.TrackOperationWithLatency(stats.OpPut, uint64(time.Since(start).Nanoseconds()))
	e.metrics.RecordOperation(context.Background(), telemetry.OpTypePut, start, err)
	if err == nil {
		e.collector.TrackBytes(true, uint64(len(key)+len(value)))
		e.metrics.RecordWrite(context.Background(), int64(len(key)+len(value)))
	}
	return err
}

// Delete removes a key. Deletes are writes; they insert a tombstone.
func (e *Engine) Delete(key []byte) error {
	start := time.Now()
	err := e.write(key, nil, true)
	e.collector.TrackOperationWithLatency(stats.OpDelete, uint64(time.Since(start).Nanoseconds()))
	e.metrics.RecordOperation(context.Background(), telemetry.OpTypeDelete, start, err)
	return err
}

func (e *Engine) write(key, value []byte, tombstone bool) error {
	if len(key) == 0 {
		return ErrEmptyKey
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

	seq := e.nextSeq.Add(1) - 1

	entry := &wal.Entry{Seq: seq, Key: key, Value: value, Tombstone: tombstone}
	if _, err := e.wal.Append(entry); err != nil {
		return fmt.Errorf("wal append failed: %w", err)
	}

	if tombstone {
		e.pool.Delete(key, seq)
	} else {
		e.pool.Put(key, value, seq)
	}
	e.collector.TrackMemTableSize(uint64(e.pool.TotalSize()))

	if e.pool.IsFlushNeeded() {
		if err := e.rotateLocked(); err != nil {
			return err
		}
	}
	return nil
}

// rotateLocked seals the active buffer, starts the next WAL generation,
// and wakes the flusher. Callers hold writeMu.
func (e *Engine) rotateLocked() error {
	if err := e.wal.Close(); err != nil {
		return fmt.Errorf("failed to close wal for rotation: %w", err)
	}

	e.nextGen++
	next, err := wal.NewWAL(e.cfg, e.nextGen)
	if err != nil {
		return fmt.Errorf("failed to rotate wal: %w", err)
	}
	e.wal = next
	e.pool.SwitchActive(e.nextGen)

	select {
	case e.flushCh <- struct{}{}:
	default:
	}
	return nil
}

// Get returns the value for key, or ErrKeyNotFound for absent and
// deleted keys. Read order: active buffer, immutable buffers newest
// first, level 0 newest first, then each deeper level.
func (e *Engine) Get(key []byte) ([]byte, error) {
	start := time.Now()
	value, err := e.get(key)
	e.collector.TrackOperationWithLatency(stats.OpGet, uint64(time.Since(start).Nanoseconds()))
	e.metrics.RecordOperation(context.Background(), telemetry.OpTypeGet, start, err)
	if err == nil {
		e.collector.TrackBytes(false, uint64(len(value)))
		e.metrics.RecordRead(context.Background(), int64(len(value)))
	}
	return value, err
}

func (e *Engine) get(key []byte) ([]byte, error) {
	if err := e.checkActive(); err != nil {
		return nil, err
	}

	if value, tombstone, found := e.pool.Get(key); found {
		if tombstone {
			return nil, ErrKeyNotFound
		}
		return value, nil
	}

	v := e.versions.Current()
	defer v.Unref()

	for _, t := range v.Tables(0) {
		value, tombstone, found, err := e.tableGet(t, key)
		if err != nil {
			return nil, err
		}
		if found {
			if tombstone {
				return nil, ErrKeyNotFound
			}
			return value, nil
		}
	}

	for level := 1; level < v.NumLevels(); level++ {
		t := v.FindTable(level, key)
		if t == nil {
			continue
		}
		value, tombstone, found, err := e.tableGet(t, key)
		if err != nil {
			return nil, err
		}
		if found {
			if tombstone {
				return nil, ErrKeyNotFound
			}
			return value, nil
		}
	}

	return nil, ErrKeyNotFound
}

// tableGet probes one table. A checksum failure is returned to the
// caller and the table is excluded from later reads.
func (e *Engine) tableGet(t *manifest.TableMeta, key []byte) (value []byte, tombstone, found bool, err error) {
	r, err := e.cache.get(t)
	if err != nil {
		return nil, false, false, err
	}

	entry, err := r.Get(key)
	if errors.Is(err, sstable.ErrNotFound) {
		return nil, false, false, nil
	}
	if err != nil {
		if isCorruption(err) {
			e.cache.exclude(t.FileID)
			e.collector.TrackError("corruption")
			e.logger.Error("table %d failed checksum, excluding from reads: %v", t.FileID, err)
		}
		return nil, false, false, err
	}
	if entry.IsTombstone() {
		return nil, true, true, nil
	}
	return entry.Value, false, true, nil
}

// FlushAll seals the active buffer and drains every immutable buffer to
// level 0 before returning.
func (e *Engine) FlushAll() error {
	if err := e.checkActive(); err != nil {
		return err
	}

	e.writeMu.Lock()
	if e.pool.Active().ApproximateSize() > 0 {
		if err := e.rotateLocked(); err != nil {
			e.writeMu.Unlock()
			return err
		}
	}
	e.writeMu.Unlock()

	for e.pool.ImmutableCount() > 0 {
		if err := e.flushOne(); err != nil {
			return err
		}
	}
	return nil
}

// Close drains background work and releases every resource. It blocks
// until in-flight flushes and compactions settle.
func (e *Engine) Close() error {
	if !e.state.CompareAndSwap(int32(StateActive), int32(StateClosing)) {
		return nil
	}

	// Unblock writers parked on buffer capacity
	e.writeMu.Lock()
	e.writeCond.Broadcast()
	e.writeMu.Unlock()

	close(e.closing)
	e.wg.Wait()
	e.compactor.Stop()

	// Flush whatever is still buffered so Close loses nothing
	var firstErr error
	e.writeMu.Lock()
	if e.pool.Active().ApproximateSize() > 0 {
		if err := e.rotateLocked(); err != nil {
			firstErr = err
		}
	}
	e.writeMu.Unlock()
	for e.pool.ImmutableCount() > 0 {
		if err := e.flushOne(); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			break
		}
	}

	if err := e.wal.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := e.versions.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	e.cache.closeAll()

	if err := e.metrics.Shutdown(context.Background()); err != nil {
		e.logger.Warn("telemetry shutdown: %v", err)
	}

	e.state.Store(int32(StateClosed))
	e.logger.Info("engine closed")
	return firstErr
}

func isCorruption(err error) bool {
	return errors.Is(err, sstable.ErrCorruption)
}
