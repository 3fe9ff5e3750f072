package mirror

import (
	"context"
	"fmt"
)

// DefaultBatchSize bounds how many new source assets one cycle replicates
// per job, so a large library doesn't get loaded into memory at once.
const DefaultBatchSize = 500

// Engine runs sync cycles against the shared store. It holds no cross-cycle
// state: every cycle re-derives pending work from the tracking tables.
type Engine struct {
	store      Store
	linker     Linker
	uploadRoot string
	logger     Logger
	clock      Clock
	idgen      IDGenerator
	batchSize  int
}

// NewEngine creates an Engine with the provided dependencies. uploadRoot is
// the mount point of the shared upload volume; every artifact path the
// engine touches must resolve inside it.
func NewEngine(store Store, linker Linker, uploadRoot string, logger Logger, clock Clock, idgen IDGenerator) *Engine {
	return &Engine{
		store:      store,
		linker:     linker,
		uploadRoot: uploadRoot,
		logger:     logger,
		clock:      clock,
		idgen:      idgen,
		batchSize:  DefaultBatchSize,
	}
}

// SetBatchSize overrides the per-cycle replication batch size.
func (e *Engine) SetBatchSize(n int) {
	if n > 0 {
		e.batchSize = n
	}
}

// CycleStats aggregates per-phase counters for one full cycle.
type CycleStats struct {
	AssetsCreated   int
	AssetsRecovered int
	AssetsSkipped   int
	AssetsFailed    int
	FacesCopied     int
	AlbumAdded      int
	PersonsRenamed  int
	PersonsUpdated  int
	ThumbsRepaired  int
	FacesReassigned int
	AssetsCleaned   int
	PersonsCleaned  int
	PhaseErrors     int
}

// Empty reports whether the cycle did no work and hit no errors.
func (s CycleStats) Empty() bool {
	return s == CycleStats{}
}

func (s *CycleStats) add(o CycleStats) {
	s.AssetsCreated += o.AssetsCreated
	s.AssetsRecovered += o.AssetsRecovered
	s.AssetsSkipped += o.AssetsSkipped
	s.AssetsFailed += o.AssetsFailed
	s.FacesCopied += o.FacesCopied
	s.AlbumAdded += o.AlbumAdded
	s.PersonsRenamed += o.PersonsRenamed
	s.PersonsUpdated += o.PersonsUpdated
	s.ThumbsRepaired += o.ThumbsRepaired
	s.FacesReassigned += o.FacesReassigned
	s.AssetsCleaned += o.AssetsCleaned
	s.PersonsCleaned += o.PersonsCleaned
	s.PhaseErrors += o.PhaseErrors
}

// RunCycle runs all phases for every job, sequentially. Each phase opens its
// own transaction; a failing phase is logged and counted but never prevents
// the remaining phases, jobs, or the next cycle from running.
func (e *Engine) RunCycle(ctx context.Context, jobs []SyncJob) CycleStats {
	var total CycleStats
	for _, job := range jobs {
		stats := e.runJob(ctx, job)
		total.add(stats)
		if ctx.Err() != nil {
			break
		}
	}

	if total.Empty() {
		e.logger.Debug("cycle complete, nothing to do")
	} else {
		e.logger.Info("cycle complete",
			"assets_created", total.AssetsCreated,
			"assets_recovered", total.AssetsRecovered,
			"assets_skipped", total.AssetsSkipped,
			"assets_failed", total.AssetsFailed,
			"faces_copied", total.FacesCopied,
			"album_added", total.AlbumAdded,
			"persons_renamed", total.PersonsRenamed,
			"persons_updated", total.PersonsUpdated,
			"thumbs_repaired", total.ThumbsRepaired,
			"faces_reassigned", total.FacesReassigned,
			"assets_cleaned", total.AssetsCleaned,
			"persons_cleaned", total.PersonsCleaned,
			"phase_errors", total.PhaseErrors,
		)
	}
	return total
}

// runJob runs the four-plus phases of one job in order.
func (e *Engine) runJob(ctx context.Context, job SyncJob) CycleStats {
	var stats CycleStats

	phases := []struct {
		name string
		run  func(context.Context, SyncJob, *CycleStats) error
	}{
		{"replicate", e.replicateAssets},
		{"albums", e.backfillAlbum},
		{"incremental", e.syncDerivedData},
		{"people", e.syncPeople},
		{"cleanup", e.cleanup},
	}

	for _, p := range phases {
		if ctx.Err() != nil {
			return stats
		}
		if err := p.run(ctx, job, &stats); err != nil {
			stats.PhaseErrors++
			e.logger.Error("phase failed", "job", job.Name, "phase", p.name, "error", err)
		}
	}
	return stats
}

// phaseErr uniformly wraps a phase-transaction failure.
func phaseErr(phase string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s phase: %w", phase, err)
}
