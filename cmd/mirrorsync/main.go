package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"mirrorsync/internal/app"
	"mirrorsync/internal/config"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and wires an App. The caller must defer a.Close().
func newApp(ctx context.Context) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	a, err := app.NewApp(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing: %w", err)
	}
	return a, nil
}

// loadConfig prefers the config file, falling back to the pure-environment
// single-job form when no file exists.
func loadConfig() (*config.Config, error) {
	path := app.ConfigPath()
	if _, err := os.Stat(path); err == nil {
		cfg, err := config.ReadFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		return cfg, nil
	}
	if cfg, ok := config.FromEnv(); ok {
		return cfg, nil
	}
	return nil, fmt.Errorf("no config file at %s and no MIRRORSYNC_* job environment; run 'mirrorsync config init'", path)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

var rootCmd = &cobra.Command{
	Use:           "mirrorsync",
	Short:         "Selective replication sidecar for a shared photo store",
	SilenceUsage:  true,
	SilenceErrors: false,
}

// run command

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the sync service until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		return a.Run(ctx)
	},
}

// sync command

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run a single sync cycle and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		stats := a.SyncOnce(ctx)
		fmt.Printf("Created: %d  Recovered: %d  Skipped: %d  Failed: %d\n",
			stats.AssetsCreated, stats.AssetsRecovered, stats.AssetsSkipped, stats.AssetsFailed)
		fmt.Printf("Faces copied: %d  Reassigned: %d  Album added: %d\n",
			stats.FacesCopied, stats.FacesReassigned, stats.AlbumAdded)
		fmt.Printf("Cleaned: %d assets, %d persons  Phase errors: %d\n",
			stats.AssetsCleaned, stats.PersonsCleaned, stats.PhaseErrors)
		if stats.PhaseErrors > 0 {
			return fmt.Errorf("%d phase(s) failed", stats.PhaseErrors)
		}
		return nil
	},
}

// status command

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show per-target replication counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		summaries, err := a.Engine().TargetSummaries(ctx)
		if err != nil {
			return fmt.Errorf("loading status: %w", err)
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Target User", "Email", "Name", "Assets", "Persons"})
		for _, s := range summaries {
			t.AppendRow(table.Row{s.TargetUserID, s.Email, s.Name, s.Mapped, s.Persons})
		}
		t.Render()

		skipped, err := a.SkippedCount(ctx)
		if err != nil {
			return fmt.Errorf("loading skip list: %w", err)
		}
		fmt.Printf("Skip list entries: %d\n", skipped)
		return nil
	},
}

// dedup command

var (
	dedupMatchTime bool
	dedupApply     bool
)

var dedupCmd = &cobra.Command{
	Use:   "dedup <target-user-id>",
	Short: "Find mirrored assets duplicating the target's own uploads",
	Long: `Find mirrored assets that duplicate assets the target user uploaded
themselves, matched by filename stem and capture date. Dry-run by default;
pass --apply to delete the mirrored copies and add their sources to the
skip list.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		targetUserID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid target user id: %w", err)
		}

		ctx, stop := signalContext()
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		pairs, err := a.Engine().FindDuplicates(ctx, targetUserID, dedupMatchTime)
		if err != nil {
			return fmt.Errorf("finding duplicates: %w", err)
		}
		if len(pairs) == 0 {
			fmt.Println("No duplicates found.")
			return nil
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Captured", "Mirrored Copy", "Own Upload"})
		for _, p := range pairs {
			t.AppendRow(table.Row{
				p.CaptureTime.Format("2006-01-02 15:04:05"),
				p.SyncedPath,
				p.OriginalPath,
			})
		}
		t.Render()

		if !dedupApply {
			fmt.Printf("%d duplicate(s) found. Re-run with --apply to remove them.\n", len(pairs))
			return nil
		}

		removed, err := a.Engine().RemoveDuplicates(ctx, pairs)
		if err != nil {
			return fmt.Errorf("removing duplicates: %w", err)
		}
		fmt.Printf("Removed %d duplicate(s) and recorded them in the skip list.\n", removed)
		return nil
	},
}

// purge command

var purgeApply bool

var purgeCmd = &cobra.Command{
	Use:   "purge <target-user-id>",
	Short: "Remove every mirrored asset and person for a target user",
	Long: `Remove all mirrored assets, persons, mappings, and hardlinks for a
target user. No skip records are written, so the next sync cycle recreates
everything from the source. Requires --apply.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		targetUserID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid target user id: %w", err)
		}
		if !purgeApply {
			return fmt.Errorf("refusing to purge without --apply")
		}

		ctx, stop := signalContext()
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		assets, persons, err := a.Engine().PurgeTarget(ctx, targetUserID)
		if err != nil {
			return fmt.Errorf("purging: %w", err)
		}
		fmt.Printf("Purged %d mirrored asset(s) and %d mirrored person(s).\n", assets, persons)
		return nil
	},
}

// config command

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := app.ConfigPath()
		if err := config.Init(path, config.NewConfig()); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}
		fmt.Printf("Configuration initialized at %s\n", path)
		fmt.Println("Edit it to add database credentials and at least one [[jobs]] entry.")
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := app.ConfigPath()
		cfg, err := config.ReadFromFile(path)
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", path)
		fmt.Printf("Database:      %s@%s:%d/%s\n",
			cfg.Database.Username, cfg.Database.Hostname, cfg.Database.Port, cfg.Database.Name)
		fmt.Printf("Server API:    %s\n", cfg.Server.APIURL)
		fmt.Printf("Upload root:   %s\n", cfg.Sync.UploadRoot)
		fmt.Printf("Interval:      %ds\n", cfg.Sync.IntervalSeconds)
		fmt.Printf("Jobs:          %d\n", len(cfg.Jobs))
		for _, j := range cfg.Jobs {
			fmt.Printf("  - %s: %s -> %s\n", j.Name, j.SourcePathPrefix, j.TargetPathPrefix)
		}
		return nil
	},
}

func init() {
	dedupCmd.Flags().BoolVar(&dedupMatchTime, "match-time", false,
		"match full capture timestamps instead of dates only")
	dedupCmd.Flags().BoolVar(&dedupApply, "apply", false,
		"delete the duplicates instead of listing them")
	purgeCmd.Flags().BoolVar(&purgeApply, "apply", false,
		"actually perform the purge")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(dedupCmd)
	rootCmd.AddCommand(purgeCmd)
	rootCmd.AddCommand(configCmd)
}
