package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/srg/heartflot/internal/device"
	"github.com/srg/heartflot/internal/session"
)

const sessionTimeLayout = "2006-01-02 15:04"

// formatDuration renders a session length as minutes and seconds, e.g. "72m5s".
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	minutes := int64(d / time.Minute)
	seconds := int64((d % time.Minute) / time.Second)
	return fmt.Sprintf("%dm%ds", minutes, seconds)
}

// formatElapsed renders an offset into a session, omitting zero units:
// "1h2m3s", "2m", "0s".
func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := int64(d / time.Hour)
	m := int64((d % time.Hour) / time.Minute)
	s := int64((d % time.Minute) / time.Second)

	var b strings.Builder
	if h > 0 {
		fmt.Fprintf(&b, "%dh", h)
	}
	if m > 0 {
		fmt.Fprintf(&b, "%dm", m)
	}
	if s > 0 || (h == 0 && m == 0) {
		fmt.Fprintf(&b, "%ds", s)
	}
	return b.String()
}

func truncate(s string, max int) string {
	if len(s) > max {
		return s[:max-3] + "..."
	}
	return s
}

func writeDevicesTable(out io.Writer, devices []device.Peripheral) error {
	if len(devices) == 0 {
		_, err := fmt.Fprintln(out, "No heart-rate sensors discovered")
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tRSSI")
	for _, d := range devices {
		name := d.Name
		if name == "" {
			name = "(unknown)"
		}
		fmt.Fprintf(w, "%s\t%s\t%d dBm\n", truncate(name, 24), d.Address, d.RSSI)
	}
	return w.Flush()
}

func writeSessionsTable(out io.Writer, sessions []session.Session, loc *time.Location) error {
	if len(sessions) == 0 {
		_, err := fmt.Fprintln(out, "No recorded sessions")
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTARTED\tDURATION\tAVG\tMIN\tMAX\tDEVICE\tNOTE")
	for i := range sessions {
		s := &sessions[i]
		st := s.Stats()
		dev := s.Device()
		if dev == "" {
			dev = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			shortID(s.ID),
			s.Start().In(loc).Format(sessionTimeLayout),
			formatDuration(s.Duration()),
			st.Average, st.Min, st.Max,
			truncate(dev, 20),
			truncate(s.Note, 30))
	}
	return w.Flush()
}

// writeSessionDetail prints the summary followed by every sample's offset.
func writeSessionDetail(out io.Writer, s *session.Session, loc *time.Location) error {
	st := s.Stats()
	dev := s.Device()
	if dev == "" {
		dev = "unknown"
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Session:\t%s\n", s.ID)
	fmt.Fprintf(w, "Device:\t%s\n", dev)
	fmt.Fprintf(w, "Started:\t%s\n", s.Start().In(loc).Format(sessionTimeLayout))
	fmt.Fprintf(w, "Duration:\t%s\n", formatDuration(s.Duration()))
	fmt.Fprintf(w, "Heart rate:\tavg %d, min %d, max %d (%d samples)\n", st.Average, st.Min, st.Max, st.Count)
	if s.Note != "" {
		fmt.Fprintf(w, "Note:\t%s\n", s.Note)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if len(s.Samples) == 0 {
		return nil
	}
	fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ELAPSED\tBPM")
	for _, sample := range s.Samples {
		offset := time.Duration(sample.Timestamp-s.StartTime) * time.Millisecond
		fmt.Fprintf(w, "%s\t%d\n", formatElapsed(offset), sample.BPM)
	}
	return w.Flush()
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
