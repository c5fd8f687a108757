// Command kbdsim runs the keystroke core on the desktop: the space bar stands
// in for the trigger button, a host MIDI input or the p key for the UART, and
// a text pane for the USB host.
package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/tuffrabit/tinygo-midikbd/pkg/banner"
)

// logger is the package-wide structured logger. The TUI owns the terminal,
// so output goes to a file or nowhere.
var logger = slog.New(slog.NewTextHandler(io.Discard, nil))

func initLogger(w io.Writer, debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

func main() {
	debug := flag.Bool("debug", false, "enable debug logging")
	logPath := flag.String("log", "", "write logs to this file")
	text := flag.String("text", "", "banner text (default: built-in banner)")
	midiName := flag.String("midi", "", "listen on the MIDI input whose name contains this")
	period := flag.Duration("tick", 10*time.Millisecond, "dispatch tick period")
	flag.Parse()

	if *logPath != "" {
		f, err := os.OpenFile(*logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "kbdsim: open log: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		initLogger(f, *debug)
	}

	b := banner.Default()
	if *text != "" {
		var err error
		if b, err = banner.FromText(*text); err != nil {
			fmt.Fprintf(os.Stderr, "kbdsim: banner: %v\n", err)
			os.Exit(2)
		}
	}

	sim := NewSim(b, logger)

	var inName string
	if *midiName != "" {
		in, err := openMIDIInput(*midiName, sim.Feed, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "kbdsim: %v\n", err)
			os.Exit(1)
		}
		defer in.Close()
		inName = in.Name()
	}

	p := tea.NewProgram(newModel(sim, *period, inName), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		logger.Error("kbdsim: tui failed", "err", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
