package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"ResearchDigest/internal/app"
	"ResearchDigest/internal/config"
	"ResearchDigest/internal/domain"
	"ResearchDigest/internal/logging"
)

// Exit codes reported by the binary.
const (
	ExitOK            = 0
	ExitFailure       = 1
	ExitConfiguration = 2
	ExitCorruption    = 3
)

type globalFlags struct {
	configPath string
	logLevel   string
}

// NewRootCommand assembles the command tree.
func NewRootCommand() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "researchdigest",
		Short:         "Daily and weekly research digests ranked by keyword relevance",
		Long:          "researchdigest collects papers and repositories, scores them against weighted keyword categories, skips what was already delivered and builds a ranked weekly summary from past daily digests.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "path to config YAML (default $RESEARCHDIGEST_CONFIG)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")

	root.AddCommand(
		newDailyCmd(flags),
		newWeeklyCmd(flags),
		newServeCmd(flags),
		newExplainCmd(flags),
		newPruneCmd(flags),
		versionCmd,
	)
	return root
}

// Execute runs the CLI and returns the error that ended it.
func Execute() error {
	return NewRootCommand().Execute()
}

// ExitCode maps an error onto the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, domain.ErrConfiguration):
		return ExitConfiguration
	case errors.Is(err, domain.ErrStoreCorrupt):
		return ExitCorruption
	default:
		return ExitFailure
	}
}

func (f *globalFlags) load() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	if f.logLevel != "" {
		cfg.Logging.Level = f.logLevel
	}
	return cfg, logging.New(cfg.Logging.Level, cfg.Logging.Format), nil
}

func (f *globalFlags) application(ctx context.Context, opts app.Options) (*app.Application, *slog.Logger, error) {
	cfg, logger, err := f.load()
	if err != nil {
		return nil, nil, err
	}
	application, err := app.New(ctx, cfg, logger, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("initialize: %w", err)
	}
	return application, logger, nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
