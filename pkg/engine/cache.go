package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/stratadb/strata/pkg/manifest"
	"github.com/stratadb/strata/pkg/sstable"
)

// tableCache keeps one open reader per live table file. Readers open
// lazily and close when the manifest reports the file obsolete. A table
// that fails a checksum at read time is excluded from all later reads.
type tableCache struct {
	sstDir string

	mu       sync.RWMutex
	readers  map[uint64]*sstable.Reader
	excluded map[uint64]bool
}

func newTableCache(sstDir string) *tableCache {
	return &tableCache{
		sstDir:   sstDir,
		readers:  make(map[uint64]*sstable.Reader),
		excluded: make(map[uint64]bool),
	}
}

func (c *tableCache) path(t *manifest.TableMeta) string {
	return filepath.Join(c.sstDir, sstable.FileName(t.Level, t.FileID))
}

// get returns the reader for a table, opening it on first use
func (c *tableCache) get(t *manifest.TableMeta) (*sstable.Reader, error) {
	c.mu.RLock()
	if c.excluded[t.FileID] {
		c.mu.RUnlock()
		return nil, fmt.Errorf("%w: table %d excluded after checksum failure", sstable.ErrCorruption, t.FileID)
	}
	if r, ok := c.readers[t.FileID]; ok {
		c.mu.RUnlock()
		return r, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.readers[t.FileID]; ok {
		return r, nil
	}
	r, err := sstable.OpenReader(c.path(t))
	if err != nil {
		return nil, fmt.Errorf("failed to open table %d: %w", t.FileID, err)
	}
	c.readers[t.FileID] = r
	return r, nil
}

// exclude bars a table from subsequent reads
func (c *tableCache) exclude(fileID uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.excluded[fileID] = true
}

// drop closes the reader and deletes the table file
func (c *tableCache) drop(t *manifest.TableMeta) {
	c.mu.Lock()
	if r, ok := c.readers[t.FileID]; ok {
		r.Close()
		delete(c.readers, t.FileID)
	}
	delete(c.excluded, t.FileID)
	c.mu.Unlock()

	os.Remove(c.path(t))
}

// closeAll closes every cached reader without touching the files
func (c *tableCache) closeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, r := range c.readers {
		r.Close()
		delete(c.readers, id)
	}
}
