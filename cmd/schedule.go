package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/album-publisher/internal/metrics"
)

func newScheduleCmd() *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Publish one pending row per interval until interrupted",
		Long: `Runs a job immediately and then once per interval. SIGINT or SIGTERM
stops the loop once the current job has written its status back. A second
signal exits at once. When metrics.addr is set, /metrics
and /healthz are served for the lifetime of the loop.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := validServices(cmd)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("interval") {
				interval = svc.Config().Runner.Interval
			}
			if interval <= 0 {
				return fmt.Errorf("interval must be > 0, got %s", interval)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			// Restore default handling after the first signal.
			context.AfterFunc(ctx, stop)
			return schedule(ctx, svc, interval)
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "time between runs (default runner.interval)")
	return cmd
}

func schedule(ctx context.Context, svc Services, interval time.Duration) error {
	logger := svc.Logger()
	r, err := svc.Runner(ctx)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	serverDone := make(chan struct{})
	if addr := svc.Config().Metrics.Addr; addr != "" {
		metrics.Init()
		srv := metrics.NewServer(addr, r.LastRun, logger)
		go func() {
			defer close(serverDone)
			if err := srv.Run(ctx); err != nil {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
	} else {
		close(serverDone)
	}

	err = r.RunForever(ctx, interval)
	cancel()
	<-serverDone
	return err
}
