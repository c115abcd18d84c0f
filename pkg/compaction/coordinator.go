package compaction

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stratadb/strata/pkg/common/log"
	"github.com/stratadb/strata/pkg/config"
	"github.com/stratadb/strata/pkg/manifest"
	"github.com/stratadb/strata/pkg/stats"
	"github.com/stratadb/strata/pkg/telemetry"
)

// Stats summarizes coordinator activity
type Stats struct {
	Runs          uint64
	TablesMerged  uint64
	TablesWritten uint64
	Failures      uint64
}

// Coordinator owns the background compaction goroutine. It wakes on an
// explicit trigger (signaled after flushes and its own applies) and on a
// ticker fallback, plans against the current version, and applies the
// resulting edit through the version set.
type Coordinator struct {
	cfg      *config.Config
	set      *manifest.Set
	planner  *Planner
	executor *Executor
	logger   log.Logger
	stats    stats.Collector
	metrics  *telemetry.EngineMetrics

	trigger chan struct{}
	closing chan struct{}
	wg      sync.WaitGroup

	runs          atomic.Uint64
	tablesMerged  atomic.Uint64
	tablesWritten atomic.Uint64
	failures      atomic.Uint64

	startOnce sync.Once
	stopOnce  sync.Once
}

// NewCoordinator wires a coordinator to the version set. File ids for
// compaction outputs come from the set's allocator.
func NewCoordinator(cfg *config.Config, set *manifest.Set, sstDir string, logger log.Logger, collector stats.Collector, metrics *telemetry.EngineMetrics) *Coordinator {
	if logger == nil {
		logger = log.GetDefaultLogger()
	}
	if metrics == nil {
		metrics = telemetry.NewEngineMetrics(telemetry.NewNoop())
	}
	return &Coordinator{
		cfg:      cfg,
		set:      set,
		planner:  NewPlanner(cfg),
		executor: NewExecutor(cfg, sstDir, set.AllocateFileID),
		logger:   logger,
		stats:    collector,
		metrics:  metrics,
		trigger:  make(chan struct{}, 1),
		closing:  make(chan struct{}),
	}
}

// Start launches the background loop
func (c *Coordinator) Start() {
	c.startOnce.Do(func() {
		c.wg.Add(1)
		go c.run()
	})
}

// Stop shuts the loop down and waits for an in-flight compaction to
// finish
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		close(c.closing)
	})
	c.wg.Wait()
}

// Trigger nudges the coordinator without blocking. A pending nudge
// coalesces with new ones.
func (c *Coordinator) Trigger() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

// Stats returns a snapshot of coordinator activity
func (c *Coordinator) Stats() Stats {
	return Stats{
		Runs:          c.runs.Load(),
		TablesMerged:  c.tablesMerged.Load(),
		TablesWritten: c.tablesWritten.Load(),
		Failures:      c.failures.Load(),
	}
}

func (c *Coordinator) run() {
	defer c.wg.Done()

	interval := c.cfg.CompactionCheckInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closing:
			return
		case <-c.trigger:
		case <-ticker.C:
		}

		progressed, err := c.RunOnce()
		if err != nil {
			// A failed run mutated nothing; the next trigger retries it
			c.logger.Error("compaction failed: %v", err)
			continue
		}
		if progressed {
			// One level's overflow may cascade into the next
			c.Trigger()
		}
	}
}

// RunOnce plans and executes at most one compaction against the current
// version. It returns true when a compaction was applied.
func (c *Coordinator) RunOnce() (bool, error) {
	v := c.set.Current()
	defer v.Unref()

	plan := c.planner.Plan(v)
	if plan == nil {
		return false, nil
	}

	c.logger.Info("compacting %d tables from level %d into level %d",
		len(plan.Tables()), plan.SourceLevel, plan.TargetLevel)

	edit, err := c.executor.Compact(plan, v)
	if err != nil {
		c.failures.Add(1)
		return false, err
	}
	if err := c.set.Apply(edit); err != nil {
		c.failures.Add(1)
		return false, err
	}

	c.runs.Add(1)
	c.tablesMerged.Add(uint64(len(plan.Tables())))
	c.tablesWritten.Add(uint64(len(edit.AddedTables)))
	if c.stats != nil {
		c.stats.TrackOperation(stats.OpCompact)
	}
	c.metrics.RecordCompaction(context.Background(), plan.SourceLevel)

	c.logger.Info("compaction wrote %d tables to level %d", len(edit.AddedTables), plan.TargetLevel)
	return true, nil
}
