package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/heartflot/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve monitor state over HTTP and WebSocket",
	Long: `Run the monitor headless and expose it over HTTP.

REST commands live under /api (scan, connect, recording, overlay, sessions);
/ws/state streams every snapshot and /ws/overlay streams overlay changes
for a stream overlay page.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var (
	serveListen  string
	serveScan    bool
	serveConnect string
)

func init() {
	serveCmd.Flags().StringVarP(&serveListen, "listen", "l", "", "Listen address (default server.listen from config)")
	serveCmd.Flags().BoolVar(&serveScan, "scan", false, "Start scanning on startup")
	serveCmd.Flags().StringVar(&serveConnect, "connect", "", "Connect to this sensor on startup")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, level)
	if err != nil {
		return err
	}
	if serveListen != "" {
		cfg.Server.Listen = serveListen
	}

	cmd.SilenceUsage = true

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	mon, err := newMonitor(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer mon.Close()

	switch {
	case serveConnect != "":
		if err := mon.Connect(serveConnect); err != nil {
			return err
		}
	case serveScan:
		if err := mon.StartScan(); err != nil {
			logger.WithField("error", err).Warn("Initial scan failed")
		}
	}

	return server.New(mon, logger).Run(ctx, cfg.Server.Listen)
}
