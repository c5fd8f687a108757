package main

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/tuffrabit/tinygo-midikbd/pkg/banner"
	"github.com/tuffrabit/tinygo-midikbd/pkg/config"
	"github.com/tuffrabit/tinygo-midikbd/pkg/keyboard"
	"github.com/tuffrabit/tinygo-midikbd/pkg/keystate"
	"github.com/tuffrabit/tinygo-midikbd/pkg/protocol"
	"github.com/tuffrabit/tinygo-midikbd/pkg/storage"

	"tinygo.org/x/tinyfs"
)

type nopReporter struct{}

func (nopReporter) SendReport(keycode, modifier uint8, peer keyboard.Peer) {}

// loopback answers each written frame with the device handler, optionally
// prefixed with console noise.
type loopback struct {
	handler *protocol.Handler
	noise   string
	in      bytes.Buffer
	out     bytes.Buffer
}

func (l *loopback) Write(p []byte) (int, error) {
	l.in.Write(p)
	for l.in.Len() > 0 {
		frame, err := protocol.ReadFrame(&l.in)
		if err != nil {
			return 0, err
		}
		l.out.WriteString(l.noise)
		if err := protocol.WriteResponse(&l.out, l.handler.Handle(frame)); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

func (l *loopback) Read(p []byte) (int, error) {
	if l.out.Len() == 0 {
		return 0, protocol.ErrTimeout
	}
	return l.out.Read(p)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T) (*Client, *loopback, *keystate.Machine) {
	t.Helper()
	mgr, err := storage.New(tinyfs.NewMemoryDevice(256, 4096, 64), true, quietLogger())
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	t.Cleanup(func() { mgr.Close() })

	machine := keystate.New(banner.Default(), nopReporter{})
	lb := &loopback{handler: protocol.NewHandler(mgr, machine, quietLogger())}
	return NewClient(lb, quietLogger()), lb, machine
}

func TestClientSkipsConsoleNoise(t *testing.T) {
	c, lb, _ := newTestClient(t)
	lb.noise = "time=now level=INFO msg=\"battery: level\" percent=80\n"

	name, err := c.Discover()
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if name != protocol.DeviceName {
		t.Errorf("Discover = %q, want %q", name, protocol.DeviceName)
	}
	if err := c.Ping([]byte{1, 2, 3}); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestClientStatusError(t *testing.T) {
	c, _, _ := newTestClient(t)

	_, err := c.Banner(9)
	if !errors.Is(err, StatusError(protocol.StatusNotFound)) {
		t.Errorf("Banner(9) error = %v, want not found", err)
	}
	if err.Error() != "not found" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestClientTimeout(t *testing.T) {
	c := NewClient(&struct {
		io.Reader
		io.Writer
	}{strings.NewReader(""), io.Discard}, quietLogger())

	if _, err := c.Do(protocol.CmdPing, nil); err == nil {
		t.Error("Expected an error with no response")
	}
}

func TestClientDeviceConfigDefaults(t *testing.T) {
	c, _, _ := newTestClient(t)

	cfg, err := c.DeviceConfig()
	if err != nil {
		t.Fatalf("DeviceConfig failed: %v", err)
	}
	if cfg != config.DefaultDevice() {
		t.Errorf("DeviceConfig = %+v, want defaults", cfg)
	}
}

func TestRunCommands(t *testing.T) {
	c, _, machine := newTestClient(t)

	steps := []struct {
		args []string
		want string
	}{
		{[]string{"banner-text", "3", "hi!", "greeting"}, "stored 3 entries in slot 3"},
		{[]string{"banners"}, "greeting"},
		{[]string{"activate", "3"}, "slot 3 active"},
		{[]string{"trigger"}, "triggered"},
		{[]string{"status"}, "state     pushed"},
		{[]string{"config", "set", "released", "drop"}, "released  drop"},
		{[]string{"config"}, "banner    3"},
		{[]string{"version"}, "config format 1"},
		{[]string{"storage"}, "1 banners"},
		{[]string{"delete", "3"}, "slot 3 deleted"},
		{[]string{"reset"}, "factory reset done"},
	}
	for _, s := range steps {
		var out bytes.Buffer
		if err := runCommand(c, &out, s.args); err != nil {
			t.Fatalf("%v: %v", s.args, err)
		}
		if !strings.Contains(out.String(), s.want) {
			t.Errorf("%v output = %q, want it to contain %q", s.args, out.String(), s.want)
		}
	}

	if got := machine.Snapshot().Triggers; got != 1 {
		t.Errorf("machine saw %d triggers, want 1", got)
	}
}

func TestRunCommandErrors(t *testing.T) {
	c, _, _ := newTestClient(t)

	tests := []struct {
		args []string
		want error
	}{
		{[]string{"bogus"}, ErrUnknownCommand},
		{[]string{"activate"}, ErrUsage},
		{[]string{"delete", "300"}, ErrUsage},
		{[]string{"config", "set", "edge", "sideways"}, ErrUsage},
		{[]string{"config", "set", "nope", "1"}, ErrUsage},
	}
	for _, tt := range tests {
		err := runCommand(c, io.Discard, tt.args)
		if !errors.Is(err, tt.want) {
			t.Errorf("%v: error = %v, want %v", tt.args, err, tt.want)
		}
	}

	err := runCommand(c, io.Discard, []string{"config", "set", "chunk", "0"})
	if !errors.Is(err, config.ErrInvalidChunk) {
		t.Errorf("chunk 0: error = %v, want ErrInvalidChunk", err)
	}
}

func TestShell(t *testing.T) {
	c, _, _ := newTestClient(t)

	in := strings.NewReader("banner-text 1 \"a b\" 'two words'\nbanners\nquit\nping\n")
	var out bytes.Buffer
	if err := runShell(c, in, &out); err != nil {
		t.Fatalf("runShell failed: %v", err)
	}

	got := out.String()
	if !strings.Contains(got, "stored 3 entries in slot 1") {
		t.Errorf("shell output missing store line: %q", got)
	}
	if !strings.Contains(got, "two words") {
		t.Errorf("shell output missing banner name: %q", got)
	}
	if strings.Contains(got, "ok") {
		t.Errorf("shell kept running after quit: %q", got)
	}
}

func TestShellReportsErrors(t *testing.T) {
	c, _, _ := newTestClient(t)

	var out bytes.Buffer
	if err := runShell(c, strings.NewReader("frobnicate\nbanner 7\n"), &out); err != nil {
		t.Fatalf("runShell failed: %v", err)
	}
	if n := strings.Count(out.String(), "error:"); n != 2 {
		t.Errorf("got %d errors in %q, want 2", n, out.String())
	}
}
