package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/spachava753/tunectl/internal/models"
	"github.com/spachava753/tunectl/internal/orchestrator"
)

type globalFlags struct {
	configPath string
	engineURL  string
	logLevel   string
	envFile    string
	jsonOut    bool
}

func main() {
	// Setup context with manual signal handling
	ctx, cancel := context.WithCancel(context.Background())

	// Listen for interrupt signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	defer func() {
		signal.Stop(sigChan)
		cancel()
	}()

	go func() {
		sig := <-sigChan
		slog.Info("interrupt received, shutting down gracefully...", "signal", sig)
		cancel()
	}()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var flags globalFlags

	root := &cobra.Command{
		Use:           "tunectl",
		Short:         "Drive strategy parameter tuning on the backtest engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "path to tunectl.yaml")
	root.PersistentFlags().StringVar(&flags.engineURL, "engine", "", "engine base URL (overrides config)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "debug, info, warn or error (overrides config)")
	root.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "dotenv file with TUNECTL_* overrides")
	root.PersistentFlags().BoolVar(&flags.jsonOut, "json", false, "print JSON instead of tables")

	root.AddCommand(
		newServeCmd(&flags),
		newTuneCmd(&flags),
		newCacheCmd(&flags),
		newHistoryCmd(&flags),
		newLiveCmd(&flags),
		newBacktestCmd(&flags),
		newVariablesCmd(&flags),
	)
	return root
}

// load reads the configuration, applies flag overrides and configures the
// default logger.
func (f *globalFlags) load() (models.Config, error) {
	cfg, err := orchestrator.LoadConfig(f.configPath, f.envFile)
	if err != nil {
		return cfg, err
	}
	if f.engineURL != "" {
		cfg.Engine.BaseURL = f.engineURL
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return cfg, fmt.Errorf("parsing log level %q: %w", cfg.LogLevel, err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	return cfg, nil
}

func (f *globalFlags) app() (*orchestrator.App, error) {
	cfg, err := f.load()
	if err != nil {
		return nil, err
	}
	return orchestrator.New(cfg), nil
}

func newServeCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and track the cache refresh job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := flags.app()
			if err != nil {
				return err
			}
			return app.Run(cmd.Context())
		},
	}
}
