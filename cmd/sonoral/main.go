package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/sonoral/internal/app"
	"github.com/dharsanguruparan/sonoral/internal/config"
	"github.com/dharsanguruparan/sonoral/internal/database"
	"github.com/dharsanguruparan/sonoral/internal/logging"
	"github.com/dharsanguruparan/sonoral/internal/model"
	"github.com/dharsanguruparan/sonoral/internal/reconcile"
	"github.com/dharsanguruparan/sonoral/internal/storage"
)

var envFiles []string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "sonoral: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sonoral",
		Short: "Sonoral operator CLI",
		Long: `Sonoral CLI runs the API and worker in-process and covers maintenance tasks such as
creating the schema, sweeping orphaned files and inspecting stored uploads.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "Additional .env files to load before reading configuration")
	cmd.AddCommand(
		newMigrateCmd(),
		newSweepCmd(),
		newInspectCmd(),
		newRunCmd(),
	)
	return cmd
}

// withApp loads configuration and builds the App for the duration of fn.
func withApp(ctx context.Context, fn func(*app.App) error) error {
	cfg, err := config.Load(envFiles...)
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the audio, users and compositions tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				if err := a.Migrate(cmd.Context()); err != nil {
					return err
				}
				a.Log.Info("schema ready", zap.String("driver", a.Config.Metadata.Driver))
				return nil
			})
		},
	}
}

func newSweepCmd() *cobra.Command {
	var olderThan time.Duration
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Remove stored files that no metadata row references",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				if a.Config.Metadata.Driver == "memory" && !dryRun {
					return errors.New("refusing to sweep against the memory driver; every file would look orphaned")
				}
				report, err := a.Sweeper().Sweep(cmd.Context(), reconcile.SweepOptions{
					OlderThan: olderThan,
					DryRun:    dryRun,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "scanned=%d orphans=%d removed=%d\n", report.Scanned, len(report.Orphans), report.Removed)
				for _, p := range report.Orphans {
					fmt.Fprintln(cmd.OutOrStdout(), p)
				}
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", time.Hour, "Only consider files last modified before this age")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "List orphans without removing them")
	return cmd
}

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <id>",
		Short: "Print the metadata row for an upload and check its file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid id %q", args[0])
			}
			return withApp(cmd.Context(), func(a *app.App) error {
				var rec *model.AssetRecord
				err := a.Pool.WithLease(cmd.Context(), func(q database.Querier) error {
					var err error
					rec, err = a.Store.FindAssetByID(cmd.Context(), q, id)
					return err
				})
				if err != nil {
					return err
				}
				out := struct {
					*model.AssetRecord
					RelativePath string `json:"relative_path"`
					OnDisk       bool   `json:"on_disk"`
					DiskSize     int64  `json:"disk_size,omitempty"`
				}{AssetRecord: rec, RelativePath: rec.RelativePath}
				size, err := a.Backend.Size(cmd.Context(), rec.RelativePath)
				switch {
				case err == nil:
					out.OnDisk, out.DiskSize = true, size
				case !errors.Is(err, storage.ErrNotExist):
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			})
		},
	}
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a service in the foreground",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "api",
			Short: "Serve the HTTP API",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd.Context(), func(a *app.App) error { return a.RunAPI(cmd.Context()) })
			},
		},
		&cobra.Command{
			Use:   "worker",
			Short: "Consume reclaim tasks from redis",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd.Context(), func(a *app.App) error { return a.RunWorker(cmd.Context()) })
			},
		},
	)
	return cmd
}
