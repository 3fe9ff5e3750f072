package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/stdlib"

	"mirrorsync/internal/config"
	"mirrorsync/internal/database"
	"mirrorsync/internal/database/migrations"
	"mirrorsync/internal/fs"
	"mirrorsync/internal/health"
	"mirrorsync/internal/immich"
	"mirrorsync/internal/mirror"
)

const (
	connectRetries = 30
	connectDelay   = 2 * time.Second
	serverRetries  = 30
	serverDelay    = 10 * time.Second
)

// App is the application layer between the CLI and the sync engine. It
// constructs all dependencies from config and manages their lifecycle on
// Close.
type App struct {
	cfg    *config.Config
	store  *database.PostgresStore
	engine *mirror.Engine
	client *immich.Client
	scans  *immich.ScanManager
	jobs   []mirror.SyncJob
	logger mirror.Logger
	health *health.Server
}

// NewApp creates a fully wired App from the given config. The store is
// migrated and the schema contract plus every job's user, library, and album
// references are validated before this returns. The caller must call Close
// when done.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger := &slogAdapter{l: newLogger(os.Stderr, cfg.LogLevel)}

	store, err := connectStore(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		return nil, err
	}

	// The tracking tables are the only schema this program owns.
	db := stdlib.OpenDBFromPool(store.Pool())
	if err := migrations.MigrateUp(db); err != nil {
		store.Close()
		return nil, fmt.Errorf("migrating tracking tables: %w", err)
	}

	if err := database.ValidateSchemaContract(ctx, store.Pool()); err != nil {
		store.Close()
		return nil, err
	}

	jobs := cfg.SyncJobs()
	if err := validateJobs(ctx, store, jobs); err != nil {
		store.Close()
		return nil, err
	}

	engine := mirror.NewEngine(store, fs.NewOSLinker(), cfg.Sync.UploadRoot,
		logger, mirror.RealClock{}, mirror.UUIDGenerator{})
	engine.SetBatchSize(cfg.Sync.BatchSize)

	client := immich.NewClient(cfg.Server.APIURL, cfg.Server.APIKey)

	return &App{
		cfg:    cfg,
		store:  store,
		engine: engine,
		client: client,
		scans:  immich.NewScanManager(client, logger),
		jobs:   jobs,
		logger: logger,
	}, nil
}

// connectStore opens the pool, retrying while the store comes up. In
// container deployments this process usually starts before Postgres accepts
// connections.
func connectStore(ctx context.Context, dsn string, logger mirror.Logger) (*database.PostgresStore, error) {
	var lastErr error
	for attempt := 1; attempt <= connectRetries; attempt++ {
		store, err := database.NewPostgresStore(ctx, dsn)
		if err == nil {
			return store, nil
		}
		lastErr = err
		logger.Info("waiting for database", "attempt", attempt, "of", connectRetries)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(connectDelay):
		}
	}
	return nil, fmt.Errorf("connecting to database: %w", lastErr)
}

// validateJobs verifies every job's references before the first cycle:
// both users exist, the target library belongs to the target user, and the
// optional album belongs to the target user.
func validateJobs(ctx context.Context, store mirror.Store, jobs []mirror.SyncJob) error {
	return store.RunInTx(ctx, func(tx mirror.Tx) error {
		for _, job := range jobs {
			if ok, err := tx.UserExists(ctx, job.SourceUserID); err != nil {
				return err
			} else if !ok {
				return fmt.Errorf("job %s: source user %s does not exist", job.Name, job.SourceUserID)
			}
			if ok, err := tx.UserExists(ctx, job.TargetUserID); err != nil {
				return err
			} else if !ok {
				return fmt.Errorf("job %s: target user %s does not exist", job.Name, job.TargetUserID)
			}

			owner, ok, err := tx.LibraryOwner(ctx, job.TargetLibraryID)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("job %s: target library %s does not exist", job.Name, job.TargetLibraryID)
			}
			if owner != job.TargetUserID {
				return fmt.Errorf("job %s: target library %s belongs to %s, not target user %s",
					job.Name, job.TargetLibraryID, owner, job.TargetUserID)
			}

			if job.AlbumID != nil {
				owner, ok, err := tx.AlbumOwner(ctx, *job.AlbumID)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("job %s: album %s does not exist", job.Name, *job.AlbumID)
				}
				if owner != job.TargetUserID {
					return fmt.Errorf("job %s: album %s belongs to %s, not target user %s",
						job.Name, *job.AlbumID, owner, job.TargetUserID)
				}
			}
		}
		return nil
	})
}

// Run is the long-lived service mode: wait for the photo server, start the
// liveness listener, then run sync cycles until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if err := a.client.WaitUntilReady(ctx, serverRetries, serverDelay, a.logger); err != nil {
		return err
	}

	hs, err := health.Start(a.cfg.Sync.HealthAddr, a.logger)
	if err != nil {
		return err
	}
	a.health = hs

	interval := time.Duration(a.cfg.Sync.IntervalSeconds) * time.Second
	a.logger.Info("sync loop starting", "interval", interval, "jobs", len(a.jobs))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		a.cycle(ctx)
		select {
		case <-ctx.Done():
			a.logger.Info("sync loop stopping")
			return nil
		case <-ticker.C:
		}
	}
}

// cycle runs one sync cycle plus the selective library scans that replace
// the server's disabled global auto-scan.
func (a *App) cycle(ctx context.Context) {
	a.engine.RunCycle(ctx, a.jobs)
	if ctx.Err() != nil {
		return
	}

	exclude := make(map[string]struct{}, len(a.jobs))
	for _, job := range a.jobs {
		exclude[job.TargetLibraryID.String()] = struct{}{}
	}
	if _, err := a.scans.ScanAllExcept(ctx, exclude); err != nil {
		a.logger.Warn("library scan pass failed", "error", err)
	}
}

// SyncOnce runs a single sync cycle and returns its stats.
func (a *App) SyncOnce(ctx context.Context) mirror.CycleStats {
	return a.engine.RunCycle(ctx, a.jobs)
}

// Engine exposes the engine for the admin commands.
func (a *App) Engine() *mirror.Engine {
	return a.engine
}

// Jobs returns the normalized sync jobs.
func (a *App) Jobs() []mirror.SyncJob {
	return a.jobs
}

// SkippedCount reports the size of the skip list.
func (a *App) SkippedCount(ctx context.Context) (int, error) {
	var n int
	err := a.store.RunInTx(ctx, func(tx mirror.Tx) error {
		var err error
		n, err = tx.SkippedCount(ctx)
		return err
	})
	return n, err
}

// Close releases the health listener and the database pool.
func (a *App) Close() {
	if a.health != nil {
		a.health.Close()
	}
	a.store.Close()
}
