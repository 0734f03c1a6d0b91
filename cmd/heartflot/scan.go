package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/heartflot/internal/device"
	"github.com/srg/heartflot/internal/monitor"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for heart-rate sensors",
	Long: `Scan for Bluetooth Low Energy devices that advertise the Heart Rate
service and list them by signal strength, strongest first.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var (
	scanDuration time.Duration
	scanFormat   string
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 0, "Scan duration (default scan_timeout from config)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
}

func runScan(cmd *cobra.Command, args []string) error {
	if err := validateFormat(scanFormat); err != nil {
		return err
	}
	logger, err := configureLogger(cmd, logrus.PanicLevel)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if scanDuration > 0 {
		cfg.ScanTimeout = scanDuration
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	mon, err := newMonitor(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer mon.Close()

	devices, err := scanOnce(ctx, mon, cfg.ScanTimeout, func(remaining time.Duration, found int) {
		if scanFormat == "table" {
			fmt.Fprintf(cmd.ErrOrStderr(), "%sScanning for heart-rate sensors (%ds, %d found)", clearLineSequence, int(remaining.Seconds()+0.5), found)
		}
	})
	if scanFormat == "table" {
		fmt.Fprint(cmd.ErrOrStderr(), clearLineSequence)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	if scanFormat == "json" {
		return writeJSON(cmd.OutOrStdout(), devices)
	}
	return writeDevicesTable(cmd.OutOrStdout(), devices)
}

// scanOnce runs one scan to completion and returns the discovered sensors.
// progress is called on every update with the time left and the count so far.
func scanOnce(ctx context.Context, mon *monitor.Monitor, timeout time.Duration, progress func(remaining time.Duration, found int)) ([]device.Peripheral, error) {
	updates, unsubscribe := mon.Subscribe()
	defer unsubscribe()

	if err := mon.StartScan(); err != nil {
		return nil, err
	}
	started := time.Now()
	last := mon.Snapshot()
	since := last.Version

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = mon.StopScan()
			return last.Devices, ctx.Err()
		case snap, ok := <-updates:
			if !ok {
				return last.Devices, monitor.ErrNotRunning
			}
			if snap.Version < since {
				continue
			}
			last = snap
			if snap.Connection.Status == monitor.StatusScanning {
				continue
			}
			if snap.LastError != nil {
				return snap.Devices, reported(snap.LastError)
			}
			return snap.Devices, nil
		case <-ticker.C:
			if progress != nil {
				progress(max(timeout-time.Since(started), 0), len(last.Devices))
			}
		}
	}
}
