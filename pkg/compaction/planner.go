package compaction

import (
	"bytes"

	"github.com/stratadb/strata/pkg/config"
	"github.com/stratadb/strata/pkg/manifest"
)

// Compaction describes one unit of work: the source tables, the target
// level, and the target-level tables whose ranges overlap the sources
type Compaction struct {
	SourceLevel int
	TargetLevel int
	Inputs      []*manifest.TableMeta
	Overlaps    []*manifest.TableMeta
}

// Tables returns every table the compaction consumes
func (c *Compaction) Tables() []*manifest.TableMeta {
	out := make([]*manifest.TableMeta, 0, len(c.Inputs)+len(c.Overlaps))
	out = append(out, c.Inputs...)
	out = append(out, c.Overlaps...)
	return out
}

// Planner decides what to compact next
type Planner struct {
	cfg *config.Config
}

// NewPlanner creates a planner bound to the engine configuration
func NewPlanner(cfg *config.Config) *Planner {
	return &Planner{cfg: cfg}
}

// Plan inspects a version and returns the most urgent compaction, or nil
// when nothing is due. Level 0 triggers by table count; deeper levels by
// total size against a geometric threshold. The bottom level is never a
// source.
func (p *Planner) Plan(v *manifest.Version) *Compaction {
	if c := p.planLevel0(v); c != nil {
		return c
	}

	for level := 1; level < v.NumLevels()-1; level++ {
		if v.LevelSize(level) <= p.levelMaxSize(level) {
			continue
		}
		if c := p.planLevel(v, level); c != nil {
			return c
		}
	}
	return nil
}

// planLevel0 compacts every level 0 table at once, since their ranges
// overlap each other
func (p *Planner) planLevel0(v *manifest.Version) *Compaction {
	tables := v.Tables(0)
	if len(tables) < p.cfg.Level0CompactionTrigger {
		return nil
	}

	inputs := make([]*manifest.TableMeta, len(tables))
	copy(inputs, tables)

	min, max := keyRange(inputs)
	return &Compaction{
		SourceLevel: 0,
		TargetLevel: 1,
		Inputs:      inputs,
		Overlaps:    v.OverlappingTables(1, min, max),
	}
}

// planLevel picks the oldest table at an oversized level and pairs it
// with its target-level overlaps
func (p *Planner) planLevel(v *manifest.Version, level int) *Compaction {
	tables := v.Tables(level)
	if len(tables) == 0 {
		return nil
	}

	oldest := tables[0]
	for _, t := range tables[1:] {
		if t.FileID < oldest.FileID {
			oldest = t
		}
	}

	return &Compaction{
		SourceLevel: level,
		TargetLevel: level + 1,
		Inputs:      []*manifest.TableMeta{oldest},
		Overlaps:    v.OverlappingTables(level+1, oldest.MinKey, oldest.MaxKey),
	}
}

// levelMaxSize returns the size threshold for a level: the base size at
// level 1, multiplied geometrically per level below
func (p *Planner) levelMaxSize(level int) uint64 {
	size := uint64(p.cfg.BaseLevelSize)
	for l := 1; l < level; l++ {
		size *= uint64(p.cfg.LevelSizeMultiplier)
	}
	return size
}

// keyRange returns the combined [min, max] range of a table set
func keyRange(tables []*manifest.TableMeta) (min, max []byte) {
	for _, t := range tables {
		if min == nil || bytes.Compare(t.MinKey, min) < 0 {
			min = t.MinKey
		}
		if max == nil || bytes.Compare(t.MaxKey, max) > 0 {
			max = t.MaxKey
		}
	}
	return min, max
}
