package cmd

import (
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/album-publisher/internal/runner"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Publish the first pending row once",
		Long: `Processes at most one job. Exits 0 when the row was posted or when no
row is pending, and 1 when the job failed or its status could not be
written.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := validServices(cmd)
			if err != nil {
				return err
			}
			r, err := svc.Runner(cmd.Context())
			if err != nil {
				return err
			}
			res, err := r.RunOnce(cmd.Context())
			switch {
			case errors.Is(err, runner.ErrNoPendingJob):
				svc.Logger().Info("nothing to publish")
				return nil
			case err != nil:
				return err
			}
			svc.Logger().Info("run finished",
				zap.String("run_id", res.RunID),
				zap.Int("row", res.Row),
				zap.String("location", res.Location),
			)
			return nil
		},
	}
}
