// Command kbdctl configures a MIDI banner keyboard over its USB serial
// console: stored banners, device flags, live status and test triggers.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"
)

// logger is the package-wide structured logger. Safe to use before
// initLogger is called.
var logger = slog.Default()

func initLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level:     level,
		AddSource: debug,
	})
	logger = slog.New(h)
	slog.SetDefault(logger)
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: kbdctl [flags] <command> [args]\n\nflags:\n")
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, "\ncommands:\n")
	cmdHelp(nil, os.Stderr, nil)
}

func main() {
	debug := flag.Bool("debug", false, "enable debug logging (adds source location)")
	portName := flag.String("port", "/dev/ttyACM0", "device serial port")
	baud := flag.Int("baud", 115200, "serial baud rate (ignored by USB CDC)")
	timeout := flag.Duration("timeout", 2*time.Second, "response timeout")
	flag.Usage = usage
	flag.Parse()

	initLogger(*debug)

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	port, rw, err := OpenSerial(*portName, *baud, *timeout)
	if err != nil {
		logger.Error("kbdctl: cannot open device", "err", err)
		os.Exit(1)
	}
	defer port.Close()
	logger.Debug("kbdctl: port opened", "port", *portName, "baud", *baud)

	client := NewClient(rw, logger)

	if args[0] == "shell" {
		err = runShell(client, os.Stdin, os.Stdout)
	} else {
		err = runCommand(client, os.Stdout, args)
	}
	if err != nil {
		if errors.Is(err, ErrUsage) || errors.Is(err, ErrUnknownCommand) {
			fmt.Fprintln(os.Stderr, err)
			port.Close()
			os.Exit(2)
		}
		logger.Error("kbdctl: command failed", "command", args[0], "err", err)
		port.Close()
		os.Exit(1)
	}
}
