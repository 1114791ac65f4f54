package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/roach88/thingengine/internal/app"
	"github.com/roach88/thingengine/internal/config"
	"github.com/roach88/thingengine/internal/lifecycle"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	ConfigPath string
	EnvFile    string
	DataDir    string

	// AppOptions are passed to app.New (for testing).
	AppOptions []app.Option
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the engine and its control channel",
		Long: `Start the engine, the control channel and the admin frontend.

Configuration comes from a YAML file (--config) or, for a quick start, from
a data directory alone (--data-dir). ${VAR} references in the config file
are expanded from the environment, which --env can populate from a .env file.

The process stops on SIGINT, SIGTERM or a "stop" request on the control
channel.

Example:
  thingengine run --config /etc/thingengine.yaml
  thingengine run --data-dir ./data --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML config file")
	cmd.Flags().StringVar(&opts.EnvFile, "env", "", "load environment variables from this .env file")
	cmd.Flags().StringVar(&opts.DataDir, "data-dir", "", "writable data directory (used when --config is not given)")
	cmd.MarkFlagsMutuallyExclusive("config", "data-dir")

	return cmd
}

// loadConfig resolves the configuration from flags.
func (opts *RunOptions) loadConfig() (*config.Config, error) {
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil {
			return nil, fmt.Errorf("load env file: %w", err)
		}
	}
	switch {
	case opts.ConfigPath != "":
		return config.Load(opts.ConfigPath)
	case opts.DataDir != "":
		cfg := &config.Config{DataDir: opts.DataDir}
		cfg.ApplyDefaults()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	default:
		return nil, errors.New("one of --config or --data-dir is required")
	}
}

func runEngine(opts *RunOptions, cmd *cobra.Command) error {
	// Configure logging based on verbose flag
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: logLevel,
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	cfg, err := opts.loadConfig()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	appOpts := append([]app.Option{
		app.WithLogger(logger),
		app.WithReadyHook(func() {
			fmt.Fprintf(cmd.OutOrStdout(), "Control channel ready at %s\n", cfg.ControlPath)
		}),
	}, opts.AppOptions...)
	a, err := app.New(cfg, appOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to assemble engine", err)
	}

	// Setup signal handling for graceful shutdown
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			a.Stop()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()

	slog.Info("engine starting",
		"data_dir", cfg.DataDir,
		"control", cfg.ControlPath,
		"db", cfg.Database,
	)

	if err := a.Run(ctx); err != nil {
		var startErr *lifecycle.StartupError
		if errors.As(err, &startErr) {
			return WrapExitError(ExitCommandError, "startup failed", err)
		}
		return WrapExitError(ExitFailure, "engine error", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Engine stopped.")
	return nil
}
