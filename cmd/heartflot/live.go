package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/srg/heartflot/internal/monitor"
	"golang.org/x/term"
)

const clearLineSequence = "\r\033[K"

var (
	bpmColor    = color.New(color.FgRed, color.Bold)
	recColor    = color.New(color.FgHiRed)
	statusColor = color.New(color.FgCyan)
	errorColor  = color.New(color.FgYellow)
)

// liveLine redraws a single status line in place on a terminal, and falls
// back to one line per change when output is redirected.
type liveLine struct {
	out  io.Writer
	tty  bool
	last string
}

func newLiveLine(out io.Writer) *liveLine {
	tty := false
	if f, ok := out.(*os.File); ok {
		tty = term.IsTerminal(int(f.Fd()))
	}
	return &liveLine{out: out, tty: tty}
}

func (l *liveLine) Update(text string) {
	if text == l.last {
		return
	}
	l.last = text
	if l.tty {
		fmt.Fprint(l.out, clearLineSequence+text)
		return
	}
	fmt.Fprintln(l.out, text)
}

// Done ends the in-place line so later output starts on a fresh line.
func (l *liveLine) Done() {
	if l.tty && l.last != "" {
		fmt.Fprintln(l.out)
	}
	l.last = ""
}

// renderStatus is the live line for one snapshot.
func renderStatus(snap monitor.Snapshot, recordingSince time.Time, now time.Time) string {
	var parts []string

	switch snap.Connection.Status {
	case monitor.StatusConnected:
		bpm := "--"
		if snap.CurrentBPM > 0 {
			bpm = fmt.Sprintf("%3d", snap.CurrentBPM)
		}
		parts = append(parts, bpmColor.Sprintf("♥ %s bpm", bpm))
		if p := snap.Connection.Peripheral; p != nil {
			name := p.Name
			if name == "" {
				name = p.Address
			}
			parts = append(parts, statusColor.Sprintf("[%s]", name))
		}
	default:
		parts = append(parts, statusColor.Sprintf("%s...", snap.Connection.Status))
	}

	if snap.Recording {
		elapsed := ""
		if !recordingSince.IsZero() {
			elapsed = " " + formatElapsed(now.Sub(recordingSince).Truncate(time.Second))
		}
		parts = append(parts, recColor.Sprintf("● REC%s (%d samples)", elapsed, snap.RecordedSamples))
	}

	if snap.LastError != nil {
		parts = append(parts, errorColor.Sprintf("! %s", snap.LastError.Message))
	}
	return strings.Join(parts, "  ")
}
