package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hiveplane/hiveplane/internal/actor"
	"github.com/hiveplane/hiveplane/internal/agentstate"
	"github.com/hiveplane/hiveplane/internal/config"
	"github.com/hiveplane/hiveplane/internal/coordinator"
	"github.com/hiveplane/hiveplane/internal/lifecycle"
	"github.com/hiveplane/hiveplane/internal/reslock"
	"github.com/hiveplane/hiveplane/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath string
	listenAddr string
	dataDir    string
	debugLog   bool
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the Hiveplane daemon",
	Long:  `Starts the Hiveplane daemon which provides the HTTP and WebSocket API for agent coordination.`,
	RunE:  runDaemon,
}

func init() {
	daemonCmd.Flags().StringVar(&configPath, "config", config.DefaultPath(), "Path to YAML config file")
	daemonCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address (overrides config)")
	daemonCmd.Flags().StringVar(&dataDir, "data", "", "Data directory (overrides config)")
	daemonCmd.Flags().BoolVar(&debugLog, "debug", false, "Enable debug logging")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.Listen = listenAddr
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}

	logCfg := zap.NewProductionConfig()
	if debugLog {
		logCfg = zap.NewDevelopmentConfig()
	}
	logger, err := logCfg.Build()
	if err != nil {
		return err
	}
	defer logger.Sync()

	registry := actor.NewRegistry(cfg.DataDir, logger)
	coordInst, err := registry.Coordinator()
	if err != nil {
		return err
	}

	coord := coordinator.NewService(coordInst, cfg, logger.Named("coordinator"))
	agents := agentstate.NewService(registry, cfg, logger.Named("agentstate"))
	locks := reslock.NewService(registry, cfg, logger.Named("reslock"))
	souls := lifecycle.NewService(coordInst, cfg, logger.Named("lifecycle"))

	srv := server.NewServer(coord, agents, locks, souls, logger.Named("http"), cfg.Listen)

	// Set up signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		err := srv.Start()
		if err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", zap.Stringer("signal", sig))
	case err := <-serverErr:
		if err != nil {
			logger.Error("server error", zap.Error(err))
			registry.Close()
			return err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", zap.Error(err))
	}
	locks.Stop()
	if err := registry.Close(); err != nil {
		logger.Warn("store close error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
}
