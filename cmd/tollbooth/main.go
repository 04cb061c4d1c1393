// Package main is the entry point for the tollbooth binary.
// It provides a CLI for running the rule engine evaluation service.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tollboothapp/tollbooth/pkg/config"
	"github.com/tollboothapp/tollbooth/pkg/engine"
	"github.com/tollboothapp/tollbooth/pkg/logging"
	"github.com/tollboothapp/tollbooth/pkg/storage"
	"github.com/tollboothapp/tollbooth/pkg/telemetry"
)

const (
	defaultConfigPath = "tollbooth.yaml"
	defaultLogLevel   = "info"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command for tollbooth
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tollbooth",
		Short: "Traffic rule engine for intercepting proxies",
		Long: `Tollbooth evaluates ordered rules against captured HTTP flows and
rewrites, serves, drops, or holds them according to the first match.

The serve command exposes the evaluation and rule-test API together with
Prometheus metrics and health endpoints.`,
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newCheckCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the evaluation API server",
		RunE:  runServe,
	}

	serveCmd.Flags().StringP("config", "c", defaultConfigPath, "Path to configuration file (YAML)")
	serveCmd.Flags().StringP("log-level", "l", "", "Log level (debug, info, warn, error)")
	serveCmd.Flags().String("rules", "", "Path to rule set file (overrides config)")

	return serveCmd
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check [rule-file]",
		Short: "Validate a rule set file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rs, err := config.LoadRuleSet(args[0])
			if err != nil {
				return err
			}
			cmd.Printf("rule set valid: %d rules, rules_enabled=%t\n", len(rs.Rules), rs.RulesEnabled)
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the tollbooth version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Println("tollbooth", version)
		},
	}
}

// runServe is the main entry point for the serve command
func runServe(cmd *cobra.Command, _ []string) error {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return fmt.Errorf("failed to get config flag: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.Logging.Level = lvl
	}
	if rules, _ := cmd.Flags().GetString("rules"); rules != "" {
		cfg.Rules.File = rules
	}

	logger := logging.Setup(logging.Config{
		Level:  cfg.Logging.Level,
		Pretty: cfg.Logging.Pretty,
	})

	logger.Info("Starting tollbooth",
		"version", version,
		"config", configPath,
		"storage", cfg.Storage.Backend,
		"rules", cfg.Rules.File,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTelemetry, err := telemetry.SetupProvider(ctx, telemetry.Config{
		ServiceName: "tollbooth",
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Insecure:    cfg.Telemetry.Insecure,
	})
	if err != nil {
		logger.Error("Failed to initialize telemetry", "error", err)
		return err
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Error("Telemetry shutdown error", "error", err)
		}
	}()

	// Storage backend
	var (
		artifacts storage.ArtifactStore
		cursors   storage.CursorStore
	)
	switch cfg.Storage.Backend {
	case "sqlite":
		db, err := storage.NewSQLiteStore(cfg.Storage.Path)
		if err != nil {
			logger.Error("Failed to open sqlite store", "path", cfg.Storage.Path, "error", err)
			return err
		}
		artifacts = db
		cursors = db
	default:
		artifacts = storage.NewMemoryArtifactStore()
		cursors = storage.NewMemoryCursorStore()
	}
	defer func() {
		if err := artifacts.Close(); err != nil {
			logger.Error("Failed to close artifact store", "error", err)
		}
	}()

	metrics := engine.NewMetrics()
	generator := newGeneratorFromEnv(logger)
	eng := engine.New(artifacts, cursors, generator, logger, engine.WithMetrics(metrics))

	// Rule set provider with hot reload
	var rules engine.RuleSetSource
	if cfg.Rules.File != "" {
		provider, err := config.NewRuleSetProvider(cfg.Rules.File, logger, metrics)
		if err != nil {
			logger.Error("Failed to initialize rule set provider", "error", err)
			return err
		}
		defer func() {
			if err := provider.Close(); err != nil {
				logger.Error("Failed to close rule set provider", "error", err)
			}
		}()
		rules = provider
	}

	handler := engine.NewHandler(engine.HandlerConfig{
		Engine:  eng,
		Rules:   rules,
		Tags:    engine.NewRuleSetTagRegistry(rules),
		Logger:  logger,
		Metrics: metrics,
	})

	mux := http.NewServeMux()
	handler.Routes(mux)

	server := &http.Server{
		Handler:      otelhttp.NewHandler(mux, "tollbooth.api"),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	listener, err := net.Listen("tcp", cfg.Server.APIAddress)
	if err != nil {
		logger.Error("Failed to bind listener", "addr", cfg.Server.APIAddress, "error", err)
		return err
	}
	logger.Info("Server listening", "addr", listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case err := <-errCh:
		logger.Error("Server failed", "error", err)
		return err
	case sig := <-sigCh:
		logger.Info("Shutting down", "signal", sig.String())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", "error", err)
	}
	return nil
}
