package compaction

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/stratadb/strata/pkg/common/iterator"
	"github.com/stratadb/strata/pkg/config"
	"github.com/stratadb/strata/pkg/manifest"
	"github.com/stratadb/strata/pkg/sstable"
)

// Executor rewrites a compaction's input tables into merged output tables
// at the target level. It never touches the manifest; it returns the edit
// for the caller to apply, so a failed run leaves the version state
// untouched.
type Executor struct {
	cfg    *config.Config
	sstDir string

	// allocFileID hands out table file ids
	allocFileID func() uint64
}

// NewExecutor creates an executor writing into sstDir
func NewExecutor(cfg *config.Config, sstDir string, allocFileID func() uint64) *Executor {
	return &Executor{
		cfg:         cfg,
		sstDir:      sstDir,
		allocFileID: allocFileID,
	}
}

// maxOutputSize is the approximate payload size at which an output table
// is closed and the next one started
func (e *Executor) maxOutputSize() int64 {
	return 2 * e.cfg.WriteBufferSize
}

// tablePath returns the on-disk path of a registered table
func (e *Executor) tablePath(t *manifest.TableMeta) string {
	return filepath.Join(e.sstDir, sstable.FileName(t.Level, t.FileID))
}

// outputState accumulates one in-progress output table
type outputState struct {
	writer    *sstable.Writer
	fileID    uint64
	minKey    []byte
	maxKey    []byte
	count     uint64
	approxLen int64
	path      string
}

// Compact merges the compaction's tables and writes the survivors to the
// target level. For each key only the newest version is kept; a tombstone
// is dropped when no level deeper than the target can hold the key. The
// returned edit removes every input and adds every output.
func (e *Executor) Compact(c *Compaction, v *manifest.Version) (*manifest.VersionEdit, error) {
	inputs := c.Tables()

	readers := make([]*sstable.Reader, 0, len(inputs))
	defer func() {
		for _, r := range readers {
			r.Close()
		}
	}()

	iters := make([]iterator.Iterator, 0, len(inputs))
	for _, t := range inputs {
		r, err := sstable.OpenReader(e.tablePath(t))
		if err != nil {
			return nil, fmt.Errorf("failed to open compaction input %d: %w", t.FileID, err)
		}
		readers = append(readers, r)
		iters = append(iters, r.NewIterator())
	}

	merge := NewMergingIterator(iters)

	var outputs []*manifest.TableMeta
	var out *outputState
	var prevKey []byte

	fail := func(err error) (*manifest.VersionEdit, error) {
		if out != nil {
			out.writer.Abort()
		}
		for _, o := range outputs {
			os.Remove(filepath.Join(e.sstDir, sstable.FileName(c.TargetLevel, o.FileID)))
		}
		return nil, err
	}

	for merge.Next() {
		key := merge.Key()

		// Versions arrive newest first per key; everything after the
		// first occurrence is superseded
		if prevKey != nil && bytes.Equal(key, prevKey) {
			continue
		}
		prevKey = append(prevKey[:0], key...)

		if merge.IsTombstone() && !v.KeyCoveredBelow(c.TargetLevel, key) {
			continue
		}

		if out == nil {
			var err error
			out, err = e.openOutput(c.TargetLevel)
			if err != nil {
				return fail(err)
			}
		}

		if merge.IsTombstone() {
			if err := out.writer.AddTombstone(key, merge.SequenceNumber()); err != nil {
				return fail(fmt.Errorf("failed to write compaction output: %w", err))
			}
		} else {
			if err := out.writer.Add(key, merge.SequenceNumber(), merge.Value()); err != nil {
				return fail(fmt.Errorf("failed to write compaction output: %w", err))
			}
		}

		if out.minKey == nil {
			out.minKey = append([]byte(nil), key...)
		}
		out.maxKey = append(out.maxKey[:0], key...)
		out.count++
		out.approxLen += int64(len(key) + len(merge.Value()) + 16)

		if out.approxLen >= e.maxOutputSize() {
			meta, err := e.finishOutput(c.TargetLevel, out)
			if err != nil {
				return fail(err)
			}
			outputs = append(outputs, meta)
			out = nil
		}
	}

	if err := merge.Err(); err != nil {
		return fail(err)
	}

	if out != nil {
		meta, err := e.finishOutput(c.TargetLevel, out)
		if err != nil {
			return fail(err)
		}
		outputs = append(outputs, meta)
	}

	edit := &manifest.VersionEdit{}
	for _, t := range inputs {
		edit.RemoveTable(t.Level, t.FileID)
	}
	for _, meta := range outputs {
		edit.AddTable(meta)
	}
	return edit, nil
}

// openOutput starts the next output table
func (e *Executor) openOutput(level int) (*outputState, error) {
	fileID := e.allocFileID()
	path := filepath.Join(e.sstDir, sstable.FileName(level, fileID))

	w, err := sstable.NewWriter(path, sstable.DefaultWriterOptions(e.cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create compaction output: %w", err)
	}
	return &outputState{writer: w, fileID: fileID, path: path}, nil
}

// finishOutput seals an output table and returns its metadata
func (e *Executor) finishOutput(level int, out *outputState) (*manifest.TableMeta, error) {
	if err := out.writer.Finish(); err != nil {
		return nil, fmt.Errorf("failed to finish compaction output: %w", err)
	}

	info, err := os.Stat(out.path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat compaction output: %w", err)
	}

	return &manifest.TableMeta{
		Level:      level,
		FileID:     out.fileID,
		Size:       uint64(info.Size()),
		EntryCount: out.count,
		MinKey:     out.minKey,
		MaxKey:     append([]byte(nil), out.maxKey...),
	}, nil
}
