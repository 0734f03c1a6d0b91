package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/heartflot/internal/devicefactory"
	"github.com/srg/heartflot/internal/monitor"
	"github.com/srg/heartflot/internal/store"
	"github.com/srg/heartflot/pkg/config"
)

// loadConfig reads --config and applies command-line overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if backend, _ := cmd.Flags().GetString("backend"); backend != "" {
		cfg.Backend = backend
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// newMonitor wires the configured central and session file into a
// running monitor. The caller must Close it.
func newMonitor(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*monitor.Monitor, error) {
	central, err := devicefactory.NewCentral(cfg, logger)
	if err != nil {
		return nil, err
	}

	mon := monitor.New(central, store.NewFileStore(cfg.StorePath, logger), monitor.Options{
		ScanTimeout:      cfg.ScanTimeout,
		StalenessTimeout: cfg.StalenessTimeout,
		ConnectTimeout:   cfg.ConnectTimeout,
		RecentWindow:     cfg.RecentWindow,
		OverlayOnConnect: cfg.OverlayOnConnect,
	}, logger)
	mon.Start(ctx)
	return mon, nil
}

// signalContext is canceled on Ctrl+C or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
