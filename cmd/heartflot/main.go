package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "heartflot",
	Short: "BLE heart-rate monitor",
	Long: `Heart-rate monitor for Bluetooth Low Energy chest straps and watches
that implement the standard Heart Rate service (0x180D).

- Scan for nearby heart-rate sensors
- Connect and display live BPM
- Record sessions and browse, annotate or delete them later
- Serve state and an overlay feed over HTTP and WebSocket`,
	Version: formatVersion(version),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	// Silence Cobra's "Error:" prefix - main() prints clean errors
	rootCmd.SilenceErrors = true
	rootCmd.SetVersionTemplate(fmt.Sprintf("heartflot %s (commit %s, built %s)\n", formatVersion(version), commit, date))

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(serveCmd)

	// Global flags
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolP("verbose", "V", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringP("config", "c", "", "Config file (default ~/.config/heartflot/config.yaml)")
	rootCmd.PersistentFlags().String("backend", "", "BLE backend override (go-ble, tinygo, sim)")

	// Add -v as a short flag for --version
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}
