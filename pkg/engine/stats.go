package engine

import (
	"fmt"
)

// GetStats returns a point-in-time statistics snapshot: operation
// counters and latencies from the collector, recovery figures, buffer
// occupancy, per-level table counts and sizes, compaction totals, and
// the current sequence number.
func (e *Engine) GetStats() map[string]interface{} {
	snapshot := e.collector.GetStats()

	snapshot["instance_id"] = e.instanceID
	snapshot["state"] = e.stateName()
	snapshot["next_seq"] = e.nextSeq.Load()

	if e.pool != nil {
		snapshot["active_buffer_bytes"] = e.pool.TotalSize()
		snapshot["immutable_buffers"] = e.pool.ImmutableCount()
	}

	if e.versions != nil {
		v := e.versions.Current()
		for level := 0; level < v.NumLevels(); level++ {
			tables := v.Tables(level)
			if len(tables) == 0 {
				continue
			}
			snapshot[fmt.Sprintf("level_%d_tables", level)] = len(tables)
			snapshot[fmt.Sprintf("level_%d_bytes", level)] = v.LevelSize(level)
		}
		snapshot["total_tables"] = v.TableCount()
		v.Unref()
	}

	if e.compactor != nil {
		cs := e.compactor.Stats()
		snapshot["compaction_runs"] = cs.Runs
		snapshot["compaction_tables_merged"] = cs.TablesMerged
		snapshot["compaction_tables_written"] = cs.TablesWritten
		snapshot["compaction_failures"] = cs.Failures
	}

	return snapshot
}

func (e *Engine) stateName() string {
	switch e.State() {
	case StateRecovering:
		return "recovering"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	default:
		return "closed"
	}
}
