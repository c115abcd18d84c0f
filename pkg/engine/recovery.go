package engine

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/stratadb/strata/pkg/manifest"
	"github.com/stratadb/strata/pkg/memtable"
	"github.com/stratadb/strata/pkg/sstable"
	"github.com/stratadb/strata/pkg/stats"
	"github.com/stratadb/strata/pkg/wal"
)

// recover rebuilds the engine state on open: manifest replay, orphan
// table cleanup, WAL replay past the manifest's durable floor, and a
// flush of everything replayed so the retired WAL generations can be
// deleted before the engine goes active.
func (e *Engine) recover() error {
	startTime := e.collector.StartRecovery()

	if err := os.MkdirAll(e.cfg.SSTDir, 0755); err != nil {
		return fmt.Errorf("failed to create sst directory: %w", err)
	}
	if err := os.MkdirAll(e.cfg.WALDir, 0755); err != nil {
		return fmt.Errorf("failed to create wal directory: %w", err)
	}

	versions, err := manifest.Open(e.cfg.DBPath, e.cfg.MaxLevels, e.cache.drop)
	if err != nil {
		return fmt.Errorf("failed to open manifest: %w", err)
	}
	e.versions = versions

	e.cleanOrphanTables()

	// The manifest floor is authoritative: entries below it are already
	// in tables and must not replay
	minSeq := versions.NextSeq()
	recovered, maxSeq, err := memtable.RecoverFromWAL(e.cfg, minSeq)
	if err != nil {
		versions.Close()
		return fmt.Errorf("wal recovery failed: %w", err)
	}

	seed := minSeq
	if maxSeq+1 > seed {
		seed = maxSeq + 1
	}
	e.nextSeq.Store(seed)

	// Flush replayed buffers straight to level 0 so their WAL
	// generations become deletable
	var entries uint64
	var maxGen uint64
	for _, rt := range recovered {
		if rt.Generation > maxGen {
			maxGen = rt.Generation
		}
		n, err := e.flushMemTable(rt.MemTable)
		if err != nil {
			versions.Close()
			return fmt.Errorf("recovery flush failed: %w", err)
		}
		entries += n
		if err := wal.Delete(e.cfg.WALDir, rt.Generation); err != nil {
			e.logger.Warn("failed to delete recovered wal generation %d: %v", rt.Generation, err)
		}
	}

	e.nextGen = maxGen + 1
	e.pool = memtable.NewPool(e.cfg, e.nextGen)
	e.wal, err = wal.NewWAL(e.cfg, e.nextGen)
	if err != nil {
		versions.Close()
		return fmt.Errorf("failed to create wal: %w", err)
	}

	e.collector.FinishRecovery(startTime, uint64(len(recovered)), entries, 0)
	e.collector.TrackOperation(stats.OpRecovery)
	e.logger.Info("recovery complete: %d wal generations, %d entries, next seq %d",
		len(recovered), entries, seed)
	return nil
}

// cleanOrphanTables deletes table files on disk that the recovered
// manifest does not reference, closing the crash window between table
// creation and edit commit.
func (e *Engine) cleanOrphanTables() {
	v := e.versions.Current()
	defer v.Unref()

	live := make(map[string]bool, v.TableCount())
	for _, t := range v.AllTables() {
		live[sstable.FileName(t.Level, t.FileID)] = true
	}

	matches, err := filepath.Glob(filepath.Join(e.cfg.SSTDir, "*.sst"))
	if err != nil {
		return
	}
	for _, path := range matches {
		name := filepath.Base(path)
		if !live[name] {
			e.logger.Warn("removing orphan table %s", name)
			os.Remove(path)
		}
	}

	// A writer that crashed mid-build leaves its temporary file behind
	tmps, err := filepath.Glob(filepath.Join(e.cfg.SSTDir, ".*.sst.tmp"))
	if err != nil {
		return
	}
	for _, path := range tmps {
		e.logger.Warn("removing abandoned table temp file %s", filepath.Base(path))
		os.Remove(path)
	}
}
