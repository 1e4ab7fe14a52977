// Command connector runs the event-processing connector: it loads
// configuration, builds the top-level Connector container, and blocks
// until an interrupt or terminate signal arrives.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/flowbroker/connector/config"
	"github.com/flowbroker/connector/internal/connector"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "connector",
		Short: "Event-processing connector: binds message brokers to user-defined flows",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to connector.yaml (defaults to the layered loader search path)")

	root.AddCommand(newRunCmd(&configPath), newValidateCmd(&configPath))
	return root
}

func newRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Load configuration, start the connector, and block until terminated",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConnector(*configPath)
		},
	}
}

func newValidateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load and validate configuration without starting anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			fmt.Printf("config OK: instance=%q apps=%d\n", cfg.InstanceName, len(cfg.Apps))
			return nil
		},
	}
}

func loadConfig(configPath string) (*config.Config, error) {
	logger := newLogger(config.LogConfig{StdoutLogLevel: "INFO"})
	if configPath != "" {
		cfg, err := config.LoadFromFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", configPath, err)
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	loader := config.NewLoader(logger)
	if err := loader.EnsureUserConfig(); err != nil {
		logger.Warn("failed to ensure user config", slog.String("error", err.Error()))
	}
	return loader.Load()
}

func runConnector(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Log)

	conn, err := connector.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("build connector: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := conn.Start(ctx); err != nil {
		logger.Error("one or more apps failed to start", slog.String("error", err.Error()))
	}

	var mgmtSrv *connector.ManagementServer
	if cfg.Management.Enabled {
		mgmtSrv = connector.NewManagementServer(conn, cfg.Management.Port)
		go func() {
			if err := mgmtSrv.Serve(); err != nil {
				logger.Error("management server failed", slog.String("error", err.Error()))
			}
		}()
	}

	var metricsSrv *connector.MetricsServer
	if cfg.Metrics.Enabled {
		metricsSrv = connector.NewMetricsServer(conn, cfg.Metrics.Port)
		go func() {
			if err := metricsSrv.Serve(); err != nil {
				logger.Error("metrics server failed", slog.String("error", err.Error()))
			}
		}()
	}

	logger.Info("connector running", slog.Int("apps", len(conn.GetApps())))
	<-ctx.Done()
	logger.Info("shutdown signal received, stopping")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if mgmtSrv != nil {
		_ = mgmtSrv.Shutdown(shutdownCtx)
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	conn.Stop(shutdownCtx, 30*time.Second)

	logger.Info("connector stopped")
	return nil
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.StdoutLogLevel {
	case "DEBUG":
		level = slog.LevelDebug
	case "WARN":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
