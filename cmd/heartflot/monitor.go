package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/heartflot/internal/device"
	"github.com/srg/heartflot/internal/monitor"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor [address]",
	Short: "Connect to a sensor and show live heart rate",
	Long: `Connect to a heart-rate sensor and display live BPM until Ctrl+C.

Without an address, a scan runs first and the strongest sensor found is
used. With --record, a session is recorded from the first sample and
saved on exit or when the sensor goes away.`,
	Example: `  heartflot monitor
  heartflot monitor C4:7C:8D:6A:1F:22 --record
  heartflot monitor --backend sim --record`,
	Args: cobra.MaximumNArgs(1),
	RunE: runMonitor,
}

var (
	monitorRecord  bool
	monitorOverlay bool
)

func init() {
	monitorCmd.Flags().BoolVarP(&monitorRecord, "record", "r", false, "Record a session while connected")
	monitorCmd.Flags().BoolVar(&monitorOverlay, "overlay", false, "Mark the overlay visible (for 'serve' consumers)")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	logger, err := configureLogger(cmd, logrus.PanicLevel)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	address := ""
	if len(args) == 1 {
		address = args[0]
		if err := device.ValidateAddress(address); err != nil {
			return err
		}
	}

	cmd.SilenceUsage = true

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	// the monitor outlives ctx so an active recording can be saved on Ctrl+C
	mon, err := newMonitor(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer mon.Close()

	out := cmd.OutOrStdout()
	if address == "" {
		devices, err := scanOnce(ctx, mon, cfg.ScanTimeout, nil)
		if err != nil {
			return err
		}
		if len(devices) == 0 {
			return fmt.Errorf("no heart-rate sensors found within %s", cfg.ScanTimeout)
		}
		address = devices[0].Address
		fmt.Fprintf(out, "Using %s (%s, %d dBm)\n", devices[0].Name, address, devices[0].RSSI)
	}

	if monitorOverlay {
		if err := mon.ShowOverlay(); err != nil {
			return err
		}
	}
	if err := mon.Connect(address); err != nil {
		return err
	}

	return followMonitor(ctx, mon, newLiveLine(out), monitorRecord, out)
}

// followMonitor renders snapshots until ctx ends or the connection goes
// away. A session in progress is stopped and saved before returning.
func followMonitor(ctx context.Context, mon *monitor.Monitor, line *liveLine, record bool, out io.Writer) error {
	updates, unsubscribe := mon.Subscribe()
	defer unsubscribe()

	var (
		last           monitor.Snapshot
		wasConnected   bool
		recordStarted  bool
		recordingSince time.Time
	)

	finish := func(cause error) error {
		line.Done()
		if last.Recording {
			id := last.SessionID
			if err := mon.StopRecording(); err == nil {
				fmt.Fprintf(out, "Session %s saved (%d samples)\n", shortID(id), last.RecordedSamples)
			}
		}
		return cause
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return finish(nil)

		case <-ticker.C:
			line.Update(renderStatus(last, recordingSince, time.Now()))

		case snap, ok := <-updates:
			if !ok {
				return finish(monitor.ErrNotRunning)
			}
			last = snap

			if snap.Recording && recordingSince.IsZero() {
				recordingSince = time.Now()
			} else if !snap.Recording {
				recordingSince = time.Time{}
			}

			switch snap.Connection.Status {
			case monitor.StatusConnected:
				wasConnected = true
				if record && !recordStarted && snap.CurrentBPM > 0 {
					recordStarted = true
					if err := mon.StartRecording(); err != nil {
						return finish(err)
					}
				}
			case monitor.StatusDisconnected:
				if wasConnected || snap.LastError != nil {
					line.Done()
					if snap.LastError != nil {
						return reported(snap.LastError)
					}
					return device.ErrConnectionLost
				}
			}
			line.Update(renderStatus(snap, recordingSince, time.Now()))
		}
	}
}
