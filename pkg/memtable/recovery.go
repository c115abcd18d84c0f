package memtable

import (
	"fmt"

	"github.com/stratadb/strata/pkg/config"
	"github.com/stratadb/strata/pkg/wal"
)

// RecoveredTable pairs a rebuilt buffer with the WAL generation it came
// from, so the caller can delete the log once the buffer is flushed.
type RecoveredTable struct {
	MemTable   *MemTable
	Generation uint64
}

// RecoverFromWAL rebuilds write buffers from the log directory, one buffer
// per WAL generation, in generation order. Entries below minSeq are already
// reflected in sorted tables and are skipped. Returns the buffers and the
// highest sequence number seen.
func RecoverFromWAL(cfg *config.Config, minSeq uint64) ([]*RecoveredTable, uint64, error) {
	files, err := wal.FindWALFiles(cfg.WALDir)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to find WAL files: %w", err)
	}

	var recovered []*RecoveredTable
	var maxSeq uint64

	for _, path := range files {
		gen, err := wal.ParseFileName(path)
		if err != nil {
			continue
		}

		table := NewMemTable(gen)
		err = wal.Replay(path, minSeq, func(e *wal.Entry) error {
			if e.Seq > maxSeq {
				maxSeq = e.Seq
			}
			if e.Tombstone {
				table.Delete(e.Key, e.Seq)
			} else {
				table.Put(e.Key, e.Value, e.Seq)
			}
			return nil
		})
		if err != nil {
			return nil, 0, fmt.Errorf("failed to replay WAL generation %d: %w", gen, err)
		}

		table.SetImmutable()
		recovered = append(recovered, &RecoveredTable{MemTable: table, Generation: gen})
	}

	return recovered, maxSeq, nil
}
