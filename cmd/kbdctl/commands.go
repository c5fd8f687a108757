package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/shlex"

	"github.com/tuffrabit/tinygo-midikbd/pkg/banner"
	"github.com/tuffrabit/tinygo-midikbd/pkg/config"
	"github.com/tuffrabit/tinygo-midikbd/pkg/trigger"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrUsage          = errors.New("usage")
)

type command struct {
	name  string
	usage string
	args  int // minimum argument count
	run   func(c *Client, out io.Writer, args []string) error
}

var commands []command

func init() {
	commands = []command{
		{"ping", "ping", 0, cmdPing},
		{"version", "version", 0, cmdVersion},
		{"status", "status", 0, cmdStatus},
		{"trigger", "trigger", 0, cmdTrigger},
		{"config", "config [set <field> <value>]", 0, cmdConfig},
		{"banners", "banners", 0, cmdBanners},
		{"banner", "banner <slot>", 1, cmdBanner},
		{"banner-text", "banner-text <slot> <text> [name]", 2, cmdBannerText},
		{"activate", "activate <slot>", 1, cmdActivate},
		{"delete", "delete <slot>", 1, cmdDelete},
		{"storage", "storage", 0, cmdStorage},
		{"reset", "reset", 0, cmdReset},
		{"help", "help", 0, cmdHelp},
	}
}

// runCommand dispatches one command line, already split into words.
func runCommand(c *Client, out io.Writer, args []string) error {
	if len(args) == 0 {
		return nil
	}
	for _, cmd := range commands {
		if cmd.name != args[0] {
			continue
		}
		if len(args)-1 < cmd.args {
			return fmt.Errorf("%w: %s", ErrUsage, cmd.usage)
		}
		return cmd.run(c, out, args[1:])
	}
	return fmt.Errorf("%w: %q", ErrUnknownCommand, args[0])
}

// runShell reads command lines from in until EOF or "quit". Lines are split
// with shell quoting rules so banner text can contain spaces.
func runShell(c *Client, in io.Reader, out io.Writer) error {
	sc := bufio.NewScanner(in)
	fmt.Fprint(out, "> ")
	for sc.Scan() {
		args, err := shlex.Split(sc.Text())
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		} else if len(args) > 0 && (args[0] == "quit" || args[0] == "exit") {
			return nil
		} else if err := runCommand(c, out, args); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
		fmt.Fprint(out, "> ")
	}
	return sc.Err()
}

func parseSlot(s string) (uint8, error) {
	v, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("%w: slot must be 0-255, got %q", ErrUsage, s)
	}
	return uint8(v), nil
}

func cmdPing(c *Client, out io.Writer, _ []string) error {
	name, err := c.Discover()
	if err != nil {
		return err
	}
	if err := c.Ping([]byte{0x12, 0x34}); err != nil {
		return err
	}
	fmt.Fprintf(out, "%s: ok\n", name)
	return nil
}

func cmdVersion(c *Client, out io.Writer, _ []string) error {
	major, minor, cfgVersion, err := c.Version()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "firmware %d.%d, config format %d\n", major, minor, cfgVersion)
	return nil
}

func cmdStatus(c *Client, out io.Writer, _ []string) error {
	s, err := c.Status()
	if err != nil {
		return err
	}
	k := s.Key
	fmt.Fprintf(out, "state     %s", k.State)
	if k.Deferred {
		fmt.Fprint(out, " (trigger deferred)")
	}
	fmt.Fprintf(out, "\ncursor    %d/%d\n", k.Cursor, k.BannerLen)
	if k.HasLast {
		fmt.Fprintf(out, "last      key 0x%02x mod 0x%02x\n", k.Last.Keycode, k.Last.Modifier)
	}
	fmt.Fprintf(out, "triggers  %d (coalesced %d, deferred %d, dropped %d)\n", k.Triggers, k.Coalesced, k.Deferrals, k.Dropped)
	fmt.Fprintf(out, "emitted   %d (advanced %d)\n", k.Emitted, k.Advanced)
	fmt.Fprintf(out, "button    edges %d, triggers %d, bounces %d, spurious %d\n",
		s.Button.Edges, s.Button.Triggers, s.Button.Ignored, s.Button.Spurious)
	fmt.Fprintf(out, "midi      bytes %d, program changes %d, discarded %d\n", s.MIDI.Bytes, s.MIDI.Messages, s.MIDI.Discarded)
	if s.HasProgram {
		fmt.Fprintf(out, "program   ch %d prog %d\n", s.LastProgram.Channel+1, s.LastProgram.Program)
	}
	return nil
}

func cmdTrigger(c *Client, out io.Writer, _ []string) error {
	if err := c.Trigger(); err != nil {
		return err
	}
	fmt.Fprintln(out, "triggered")
	return nil
}

func cmdConfig(c *Client, out io.Writer, args []string) error {
	cfg, err := c.DeviceConfig()
	if err != nil {
		return err
	}
	if len(args) == 0 {
		printConfig(out, &cfg)
		return nil
	}
	if args[0] != "set" || len(args) != 3 {
		return fmt.Errorf("%w: config [set <field> <value>]", ErrUsage)
	}
	if err := setConfigField(&cfg, args[1], args[2]); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := c.SetDeviceConfig(&cfg); err != nil {
		return err
	}
	printConfig(out, &cfg)
	return nil
}

func printConfig(out io.Writer, cfg *config.DeviceConfig) {
	onOff := func(flag uint32) string {
		if cfg.Has(flag) {
			return "on"
		}
		return "off"
	}
	fmt.Fprintf(out, "banner    %d\n", cfg.ActiveBanner)
	fmt.Fprintf(out, "button    %s (edge %s, active-high %s)\n", onOff(config.FlagButtonEnabled), cfg.Edge(), onOff(config.FlagActiveHigh))
	fmt.Fprintf(out, "midi      %s (baud %d, chunk %d)\n", onOff(config.FlagMIDIEnabled), cfg.UARTBaud, cfg.MIDIChunk)
	fmt.Fprintf(out, "released  %s\n", policyName(cfg))
	fmt.Fprintf(out, "tick      %dms, watchdog %dms\n", cfg.TickMs, cfg.WatchdogMs)
}

func policyName(cfg *config.DeviceConfig) string {
	if cfg.Has(config.FlagDropReleasedTrigger) {
		return "drop"
	}
	return "defer"
}

// setConfigField applies one "config set" assignment.
func setConfigField(cfg *config.DeviceConfig, field, value string) error {
	setFlag := func(flag uint32) error {
		on, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%w: %s takes true/false", ErrUsage, field)
		}
		if on {
			cfg.Flags |= flag
		} else {
			cfg.Flags &^= flag
		}
		return nil
	}
	number := func(bits int) (uint64, error) {
		v, err := strconv.ParseUint(value, 10, bits)
		if err != nil {
			return 0, fmt.Errorf("%w: %s takes a %d-bit number", ErrUsage, field, bits)
		}
		return v, nil
	}

	switch field {
	case "button":
		return setFlag(config.FlagButtonEnabled)
	case "midi":
		return setFlag(config.FlagMIDIEnabled)
	case "active-high":
		return setFlag(config.FlagActiveHigh)
	case "released":
		switch value {
		case "defer":
			cfg.Flags &^= config.FlagDropReleasedTrigger
		case "drop":
			cfg.Flags |= config.FlagDropReleasedTrigger
		default:
			return fmt.Errorf("%w: released takes defer or drop", ErrUsage)
		}
	case "edge":
		for _, e := range []trigger.Edge{trigger.EdgeFalling, trigger.EdgeRising, trigger.EdgeBoth} {
			if e.String() == value {
				cfg.EdgeMode = uint8(e)
				return nil
			}
		}
		return fmt.Errorf("%w: edge takes falling, rising or both", ErrUsage)
	case "banner":
		v, err := number(8)
		cfg.ActiveBanner = uint8(v)
		return err
	case "chunk":
		v, err := number(8)
		cfg.MIDIChunk = uint8(v)
		return err
	case "tick":
		v, err := number(8)
		cfg.TickMs = uint8(v)
		return err
	case "watchdog":
		v, err := number(16)
		cfg.WatchdogMs = uint16(v)
		return err
	case "baud":
		v, err := number(32)
		cfg.UARTBaud = uint32(v)
		return err
	default:
		return fmt.Errorf("%w: unknown config field %q", ErrUsage, field)
	}
	return nil
}

func cmdBanners(c *Client, out io.Writer, _ []string) error {
	slots, err := c.Banners()
	if err != nil {
		return err
	}
	if len(slots) == 0 {
		fmt.Fprintln(out, "no banners stored")
		return nil
	}
	for _, slot := range slots {
		bc, err := c.Banner(slot)
		if err != nil {
			return fmt.Errorf("slot %d: %w", slot, err)
		}
		fmt.Fprintf(out, "%3d  %-15s  %d entries\n", slot, bc.GetName(), bc.Count)
	}
	return nil
}

func cmdBanner(c *Client, out io.Writer, args []string) error {
	slot, err := parseSlot(args[0])
	if err != nil {
		return err
	}
	bc, err := c.Banner(slot)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s (%d entries)\n", bc.GetName(), bc.Count)
	for i, e := range bc.Entries[:bc.Count] {
		fmt.Fprintf(out, "%3d  key 0x%02x  mod 0x%02x\n", i, e.Keycode, e.Modifier)
	}
	return nil
}

func cmdBannerText(c *Client, out io.Writer, args []string) error {
	slot, err := parseSlot(args[0])
	if err != nil {
		return err
	}
	b, err := banner.FromText(args[1])
	if err != nil {
		return err
	}
	name := "slot " + args[0]
	if len(args) > 2 {
		name = strings.Join(args[2:], " ")
	}
	bc := config.NewBannerConfig(name, b)
	if err := c.SetBanner(slot, &bc); err != nil {
		return err
	}
	fmt.Fprintf(out, "stored %d entries in slot %d\n", b.Len(), slot)
	return nil
}

func cmdActivate(c *Client, out io.Writer, args []string) error {
	slot, err := parseSlot(args[0])
	if err != nil {
		return err
	}
	if err := c.Activate(slot); err != nil {
		return err
	}
	fmt.Fprintf(out, "slot %d active\n", slot)
	return nil
}

func cmdDelete(c *Client, out io.Writer, args []string) error {
	slot, err := parseSlot(args[0])
	if err != nil {
		return err
	}
	if err := c.Delete(slot); err != nil {
		return err
	}
	fmt.Fprintf(out, "slot %d deleted\n", slot)
	return nil
}

func cmdStorage(c *Client, out io.Writer, _ []string) error {
	s, err := c.StorageStats()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%d banners, %d/%d bytes used, %d free\n", s.BannerCount, s.Used, s.Total, s.Free)
	return nil
}

func cmdReset(c *Client, out io.Writer, _ []string) error {
	if err := c.FactoryReset(); err != nil {
		return err
	}
	fmt.Fprintln(out, "factory reset done")
	return nil
}

func cmdHelp(_ *Client, out io.Writer, _ []string) error {
	for _, cmd := range commands {
		fmt.Fprintf(out, "  %s\n", cmd.usage)
	}
	fmt.Fprintln(out, "  shell")
	return nil
}
