package stats

import "time"

// Provider exposes read access to collected statistics.
type Provider interface {
	GetStats() map[string]interface{}

	// GetStatsFiltered returns only the entries whose keys carry prefix
	GetStatsFiltered(prefix string) map[string]interface{}
}

// Collector is what the engine records into. All methods are safe for
// concurrent use.
type Collector interface {
	Provider

	TrackOperation(op OperationType)
	TrackOperationWithLatency(op OperationType, latencyNs uint64)
	TrackError(errorType string)

	// TrackBytes accumulates payload bytes on the write (true) or read side
	TrackBytes(isWrite bool, bytes uint64)
	TrackMemTableSize(size uint64)
	TrackFlush()
	TrackCompaction()

	// StartRecovery resets recovery figures; its return value feeds
	// FinishRecovery so the pair brackets one recovery pass
	StartRecovery() time.Time
	FinishRecovery(startTime time.Time, filesRecovered, entriesRecovered, corruptedEntries uint64)
}

var _ Collector = (*AtomicCollector)(nil)
