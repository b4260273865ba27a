// Package cmd defines the albumpub command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/album-publisher/internal/app"
	"github.com/JakeFAU/album-publisher/internal/config"
	"github.com/JakeFAU/album-publisher/internal/logging"
	"github.com/JakeFAU/album-publisher/internal/runner"
)

// errReported marks a failure whose details were already printed.
var errReported = errors.New("failed")

// jobRunner is the part of runner.Runner the commands drive.
type jobRunner interface {
	RunOnce(ctx context.Context) (runner.Result, error)
	RunForever(ctx context.Context, interval time.Duration) error
	LastRun() map[string]any
}

// Services is what the commands need from the application container. Tests
// swap in a fake through newServices.
type Services interface {
	Config() config.Config
	Logger() *zap.Logger
	Runner(ctx context.Context) (jobRunner, error)
	SaveSession(ctx context.Context) (string, error)
	CheckSetup(ctx context.Context) app.SetupReport
	CheckProxy(ctx context.Context) (app.ProxyReport, error)
	Close()
}

type appServices struct {
	*app.App
}

func (s appServices) Runner(ctx context.Context) (jobRunner, error) {
	return s.App.Runner(ctx)
}

var newServices = func(cfg config.Config, logger *zap.Logger) Services {
	return appServices{App: app.New(cfg, logger)}
}

type servicesKey struct{}

// holder keeps the services built for one invocation so they are closed
// even when the command fails.
type holder struct {
	svc Services
}

func (h *holder) close() {
	if h.svc != nil {
		h.svc.Close()
		h.svc = nil
	}
}

type rootFlags struct {
	configPath string
	envFile    string
}

func newRootCmd(h *holder) *cobra.Command {
	var flags rootFlags
	cmd := &cobra.Command{
		Use:   "albumpub",
		Short: "Publish albums listed in a spreadsheet to the site.",
		Long: `albumpub reads the first pending row of the job spreadsheet, downloads
its videos, uploads them as an album through a real browser session, and
writes the outcome back to the row.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := loadServices(flags)
			if err != nil {
				return err
			}
			h.svc = svc
			cmd.SetContext(context.WithValue(cmd.Context(), servicesKey{}, svc))
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "config file (yaml, json, or toml)")
	cmd.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "dotenv file loaded before the environment is read")

	cmd.AddCommand(
		newRunCmd(),
		newScheduleCmd(),
		newSaveSessionCmd(),
		newCheckSetupCmd(),
		newCheckProxyCmd(),
	)
	return cmd
}

func loadServices(flags rootFlags) (Services, error) {
	if flags.envFile != "" {
		if err := godotenv.Load(flags.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", flags.envFile, err)
		}
	}
	cfg, err := config.Read(flags.configPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return newServices(cfg, logger), nil
}

func servicesFrom(cmd *cobra.Command) (Services, error) {
	svc, ok := cmd.Context().Value(servicesKey{}).(Services)
	if !ok || svc == nil {
		return nil, errors.New("application services not initialized")
	}
	return svc, nil
}

// validServices is servicesFrom for commands that need a complete config.
func validServices(cmd *cobra.Command) (Services, error) {
	svc, err := servicesFrom(cmd)
	if err != nil {
		return nil, err
	}
	if err := svc.Config().Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return svc, nil
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	return execute(context.Background(), os.Args[1:])
}

func execute(ctx context.Context, args []string) int {
	var h holder
	defer h.close()
	cmd := newRootCmd(&h)
	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errReported) && !errors.Is(err, context.Canceled) {
			fmt.Fprintln(cmd.ErrOrStderr(), "error:", err)
		}
		return 1
	}
	return 0
}
