package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/matthieugras/pos-client/internal/output"
	"github.com/matthieugras/pos-client/internal/ui"
	"github.com/matthieugras/pos-client/internal/worker"
)

func newFetchCmd(a *app) *cobra.Command {
	var simple, gzip bool
	cmd := &cobra.Command{
		Use:   "fetch [resource...]",
		Short: "Export resources to JSONL files in parallel",
		Long: fmt.Sprintf(`Fetch resources in parallel and write one JSONL file per resource.

Resources: %s (default: all). Workers share one session, so an expired
access token is refreshed once for all of them. If the session cannot be
refreshed the remaining resources are skipped.`, strings.Join(worker.DefaultResourceNames, ", ")),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.fetch(cmd, args, simple, gzip)
		},
	}
	cmd.Flags().BoolVar(&simple, "simple", false, "Use simple output mode (no fancy UI)")
	cmd.Flags().BoolVar(&gzip, "gzip", false, "Compress output files with gzip")
	return cmd
}

func (a *app) fetch(cmd *cobra.Command, names []string, simple, gzip bool) error {
	ctx := cmd.Context()

	jobs, err := worker.BuildJobs(names)
	if err != nil {
		return err
	}

	// Setup file manager
	fileManager, err := output.NewFileManager(a.cfg.OutputDir, gzip, time.Now())
	if err != nil {
		return fmt.Errorf("failed to setup output directory: %w", err)
	}

	pool := worker.NewPool(worker.PoolConfig{
		NumWorkers:  a.cfg.Workers,
		Client:      a.client,
		Backoff:     a.backoff,
		FileManager: fileManager,
	})

	// Cancelling the command (Ctrl+C) stops the pool
	stop := context.AfterFunc(ctx, pool.Stop)
	defer stop()

	pool.SubmitAll(jobs)
	go pool.StopAndWait()

	if simple || !isTerminal() {
		go func() {
			for range pool.StatusUpdates() {
			}
		}()
		ui.RunSimple(cmd.OutOrStdout(), len(jobs), pool.Results())
		return fetchErr(ctx, pool)
	}

	app := ui.NewApp(
		len(jobs),
		a.cfg.Workers,
		pool.Results(),
		pool.StatusUpdates(),
		a.backoff,
		ui.CoordinatorProbe(a.client.Coordinator()),
		pool.Stop,
	)

	// Run UI (blocks until the user quits)
	if err := app.Run(); err != nil {
		return err
	}
	return fetchErr(ctx, pool)
}

// fetchErr is the command's outcome: the error that aborted the pool, or
// the interruption
func fetchErr(ctx context.Context, pool *worker.Pool) error {
	if err := pool.Err(); err != nil {
		return err
	}
	return ctx.Err()
}
