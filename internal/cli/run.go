package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"workmgr/internal/app"
	logx "workmgr/pkg/logx"
	"workmgr/pkg/systemd"
)

func newRunCmd() *cobra.Command {
	var demo bool
	var stopTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(flagConfig)
			if err != nil {
				return fmt.Errorf("load: %w", err)
			}
			log := a.Logger()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			if err := a.Start(ctx); err != nil {
				return fmt.Errorf("start: %w", err)
			}
			if demo {
				if _, err := a.EnqueueDemo(ctx); err != nil {
					log.Warn("demo enqueue failed", logx.Err(err))
				}
			}

			if _, err := systemd.Ready(); err != nil {
				log.Warn("sd_notify READY failed", logx.Err(err))
			}
			go func() { _ = systemd.Watchdog(ctx, log) }()

			reason := app.StopUnknown
			select {
			case sig := <-sigCh:
				reason = app.StopSIGINT
				if sig == syscall.SIGTERM {
					reason = app.StopSIGTERM
				}
			case <-a.Done():
				reason = app.StopFatalError
			}

			_, _ = systemd.Stopping()
			stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
			defer stopCancel()
			stopErr := a.Stop(stopCtx, reason)

			if err := a.Err(); err != nil && reason == app.StopFatalError {
				return fmt.Errorf("fatal: %w", err)
			}
			return stopErr
		},
	}
	cmd.Flags().BoolVar(&demo, "demo", false, "enqueue the sample one-time and periodic requests on start")
	cmd.Flags().DurationVar(&stopTimeout, "stop-timeout", 15*time.Second, "upper bound for graceful shutdown")
	return cmd
}
