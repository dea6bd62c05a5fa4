package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"github.com/zulandar/floorline/internal/sweep"
	"gorm.io/gorm"
)

func newSweepCmd() *cobra.Command {
	var (
		configPath string
		follow     bool
	)

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Force-close abandoned sessions",
		Long: "Closes active sessions whose heartbeat has been silent longer than the configured " +
			"idle threshold. Runs once by default; --follow keeps running on the configured cron schedule.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(cmd, configPath, follow)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "floorline.yaml", "path to Floorline config file")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep sweeping on the configured schedule")
	return cmd
}

func runSweep(cmd *cobra.Command, configPath string, follow bool) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	idleFor := time.Duration(cfg.Sweep.IdleMinutes) * time.Minute

	sweepOnce := func() {
		closed, err := sweep.ForceCloseAbandoned(gormDB, idleFor, time.Now())
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "sweep: %v\n", err)
			return
		}
		if closed > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "Force-closed %d abandoned session(s)\n", closed)
		}
	}

	if !follow {
		return sweepReport(cmd, gormDB, idleFor)
	}

	c := cron.New()
	if _, err := c.AddFunc(cfg.Sweep.Schedule, sweepOnce); err != nil {
		return fmt.Errorf("sweep: bad schedule %q: %w", cfg.Sweep.Schedule, err)
	}
	c.Start()
	fmt.Fprintf(cmd.OutOrStdout(), "Sweeping on schedule %q (idle threshold %s)\n", cfg.Sweep.Schedule, idleFor)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	<-ctx.Done()
	stopCtx := c.Stop()
	<-stopCtx.Done()
	return nil
}

// sweepReport runs a single sweep and prints the result.
func sweepReport(cmd *cobra.Command, gormDB *gorm.DB, idleFor time.Duration) error {
	closed, err := sweep.ForceCloseAbandoned(gormDB, idleFor, time.Now())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Force-closed %d abandoned session(s)\n", closed)
	return nil
}
