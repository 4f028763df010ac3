package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-record-service/internal/circuitbreaker"
	"github.com/kjstillabower/weather-record-service/internal/config"
	"github.com/kjstillabower/weather-record-service/internal/observability"
	"github.com/kjstillabower/weather-record-service/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// newRootCmd builds the CLI. Running without a subcommand serves HTTP.
func newRootCmd() *cobra.Command {
	var configDir string
	root := &cobra.Command{
		Use:           "weather-records",
		Short:         "Weather record store with temperature aggregation",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommand(cmd, configDir, serve)
		},
	}
	root.PersistentFlags().StringVar(&configDir, "config-dir", "", "directory holding .env and config/{ENV_NAME}.yaml (default: working directory)")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommand(cmd, configDir, serve)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Create the schema of the configured SQL store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommand(cmd, configDir, migrate)
		},
	})
	return root
}

type runFunc func(ctx context.Context, cfg *config.Config, logger *zap.Logger) error

// runCommand loads config, builds the logger and runs fn, logging its error.
func runCommand(cmd *cobra.Command, configDir string, fn runFunc) error {
	cfg, err := loadConfig(configDir)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "config: %v\n", err)
		return err
	}
	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "logger: %v\n", err)
		return err
	}
	defer func() { _ = observability.FlushLogs(logger) }()

	if err := fn(cmd.Context(), cfg, logger); err != nil {
		logger.Error("command failed", zap.String("command", cmd.Name()), zap.Error(err))
		return err
	}
	return nil
}

func loadConfig(dir string) (*config.Config, error) {
	if dir == "" {
		return config.Load()
	}
	return config.LoadDir(dir)
}

// storeConfig maps service config onto the store factory, reporting breaker
// transitions as metrics and logs.
func storeConfig(cfg *config.Config, logger *zap.Logger) store.Config {
	return store.Config{
		Backend:                 cfg.StoreBackend,
		SQLitePath:              cfg.SQLitePath,
		PostgresDSN:             cfg.DatabaseURL,
		PostgresMaxConns:        cfg.PostgresMaxConns,
		AutoMigrate:             cfg.AutoMigrate,
		BreakerEnabled:          cfg.CircuitBreakerEnabled,
		BreakerFailureThreshold: cfg.CircuitBreakerFailureThreshold,
		BreakerSuccessThreshold: cfg.CircuitBreakerSuccessThreshold,
		BreakerTimeout:          cfg.CircuitBreakerTimeout,
		OnBreakerStateChange: func(component string, from, to circuitbreaker.State) {
			observability.RecordBreakerTransition(component, from.String(), to.String(), int(to))
			logger.Warn("store circuit breaker transition",
				zap.String("component", component),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}
}

var errNoSchema = errors.New("store backend has no schema to migrate")

// migrate creates the schema and exits.
func migrate(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	sc := storeConfig(cfg, logger)
	sc.AutoMigrate = false
	st, err := store.Open(ctx, sc, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	m, ok := st.(store.Migrator)
	if !ok {
		return fmt.Errorf("%s: %w", cfg.StoreBackend, errNoSchema)
	}
	if err := m.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate %s: %w", cfg.StoreBackend, err)
	}
	logger.Info("schema migrated", zap.String("backend", cfg.StoreBackend))
	return nil
}
