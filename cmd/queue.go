package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.palytt.app/swarm/cmd/providers"
	"go.palytt.app/swarm/pkg/jobs"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var queueCmd = cobra.Command{
	Use:   "queue",
	Short: "Inspect and manage job queues",
}

func init() {
	rootCmd.AddCommand(&queueCmd)
}

// runQueueOp runs a one-shot queue operation and shuts the app down after.
func runQueueOp(lc fx.Lifecycle, shutdown fx.Shutdowner, log *zap.Logger, op func(ctx context.Context) error) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				if err := op(ctx); err != nil {
					log.Error("Queue operation failed", zap.Error(err))
					os.Exit(1)
				}
				if err := shutdown.Shutdown(); err != nil {
					log.Fatal("Failed to shut down", zap.Error(err))
				}
			}()
			return nil
		},
	})
}

var queueStatsCmd = cobra.Command{
	Use:   "stats <queue>",
	Short: "Print queue counters",
	Args:  cobra.ExactArgs(1),
	Run:   providers.NewCmd(runQueueStats),
}

func init() {
	queueCmd.AddCommand(&queueStatsCmd)
}

func runQueueStats(
	args []string,
	lc fx.Lifecycle,
	shutdown fx.Shutdowner,
	log *zap.Logger,
	registry *jobs.Registry,
) {
	runQueueOp(lc, shutdown, log, func(ctx context.Context) error {
		stats, err := registry.Queue(args[0]).GetStats(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("waiting:   %d\n", stats.Waiting)
		fmt.Printf("delayed:   %d\n", stats.Delayed)
		fmt.Printf("active:    %d\n", stats.Active)
		fmt.Printf("completed: %d\n", stats.Completed)
		fmt.Printf("failed:    %d\n", stats.Failed)
		return nil
	})
}

var queuePauseCmd = cobra.Command{
	Use:   "pause <queue>",
	Short: "Stop handing out jobs from a queue",
	Args:  cobra.ExactArgs(1),
	Run:   providers.NewCmd(runQueuePause),
}

var queueResumeCmd = cobra.Command{
	Use:   "resume <queue>",
	Short: "Resume a paused queue",
	Args:  cobra.ExactArgs(1),
	Run:   providers.NewCmd(runQueueResume),
}

func init() {
	queueCmd.AddCommand(&queuePauseCmd)
	queueCmd.AddCommand(&queueResumeCmd)
}

func runQueuePause(
	args []string,
	lc fx.Lifecycle,
	shutdown fx.Shutdowner,
	log *zap.Logger,
	registry *jobs.Registry,
) {
	runQueueOp(lc, shutdown, log, func(ctx context.Context) error {
		if err := registry.Queue(args[0]).Pause(ctx); err != nil {
			return err
		}
		fmt.Println("paused", args[0])
		return nil
	})
}

func runQueueResume(
	args []string,
	lc fx.Lifecycle,
	shutdown fx.Shutdowner,
	log *zap.Logger,
	registry *jobs.Registry,
) {
	runQueueOp(lc, shutdown, log, func(ctx context.Context) error {
		if err := registry.Queue(args[0]).Resume(ctx); err != nil {
			return err
		}
		fmt.Println("resumed", args[0])
		return nil
	})
}

var queueCleanCmd = cobra.Command{
	Use:   "clean <queue>",
	Short: "Purge terminal jobs older than the grace period",
	Args:  cobra.ExactArgs(1),
	Run:   providers.NewCmd(runQueueClean),
}

func init() {
	flags := queueCleanCmd.Flags()
	flags.Duration("grace", time.Hour, "Minimum age of purged jobs")
	flags.String("state", string(jobs.StateCompleted), "Terminal state to purge (completed or dead)")

	queueCmd.AddCommand(&queueCleanCmd)
}

func runQueueClean(
	args []string,
	cmd *cobra.Command,
	lc fx.Lifecycle,
	shutdown fx.Shutdowner,
	log *zap.Logger,
	registry *jobs.Registry,
) {
	grace, err := cmd.Flags().GetDuration("grace")
	if err != nil {
		panic(err)
	}
	state, err := cmd.Flags().GetString("state")
	if err != nil {
		panic(err)
	}
	runQueueOp(lc, shutdown, log, func(ctx context.Context) error {
		removed, err := registry.Queue(args[0]).Clean(ctx, grace, jobs.State(state))
		if err != nil {
			return err
		}
		fmt.Printf("removed %d jobs\n", removed)
		return nil
	})
}

var queueRemoveCmd = cobra.Command{
	Use:   "remove <queue> <job>",
	Short: "Remove a not-yet-running job",
	Args:  cobra.ExactArgs(2),
	Run:   providers.NewCmd(runQueueRemove),
}

func init() {
	queueCmd.AddCommand(&queueRemoveCmd)
}

func runQueueRemove(
	args []string,
	lc fx.Lifecycle,
	shutdown fx.Shutdowner,
	log *zap.Logger,
	registry *jobs.Registry,
) {
	runQueueOp(lc, shutdown, log, func(ctx context.Context) error {
		removed, err := registry.Queue(args[0]).Remove(ctx, args[1])
		if err != nil {
			return err
		}
		if !removed {
			return fmt.Errorf("job %s not found in waiting or delayed state", args[1])
		}
		fmt.Println("removed", args[1])
		return nil
	})
}
