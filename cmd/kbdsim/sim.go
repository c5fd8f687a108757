package main

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	gomidi "gitlab.com/gomidi/midi/v2"

	"github.com/tuffrabit/tinygo-midikbd/pkg/banner"
	"github.com/tuffrabit/tinygo-midikbd/pkg/battery"
	"github.com/tuffrabit/tinygo-midikbd/pkg/dispatch"
	"github.com/tuffrabit/tinygo-midikbd/pkg/keyboard"
	"github.com/tuffrabit/tinygo-midikbd/pkg/keystate"
	"github.com/tuffrabit/tinygo-midikbd/pkg/midi"
	"github.com/tuffrabit/tinygo-midikbd/pkg/trigger"
)

// maxTyped bounds the simulated host's text buffer.
const maxTyped = 256

// simLine is the button GPIO level. The simulated button is active low.
type simLine struct {
	high atomic.Bool
}

func (l *simLine) Get() bool { return l.high.Load() }

// simLink is a single host whose link flags are toggled from the keyboard.
type simLink struct {
	connected, bonded, hid atomic.Bool
}

func (l *simLink) Connected(keyboard.Peer) bool  { return l.connected.Load() }
func (l *simLink) Bonded(keyboard.Peer) bool     { return l.bonded.Load() }
func (l *simLink) HIDEnabled(keyboard.Peer) bool { return l.hid.Load() }

// host records what the simulated computer received.
type host struct {
	mu      sync.Mutex
	typed   []string
	battery []uint8
}

func (h *host) SendReport(keycode, modifier uint8, peer keyboard.Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.typed = append(h.typed, describe(banner.Entry{Keycode: keycode, Modifier: modifier}))
	if len(h.typed) > maxTyped {
		h.typed = h.typed[len(h.typed)-maxTyped:]
	}
}

func (h *host) SendLevel(peer keyboard.Peer, level uint8) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.battery = append(h.battery, level)
}

// Sim runs the real keystroke core against simulated hardware.
type Sim struct {
	line    *simLine
	Link    *simLink
	host    *host
	Button  *trigger.Button
	Keys    *keystate.Machine
	Decoder *midi.Decoder
	Battery *battery.Monitor
	Loop    *dispatch.Loop

	feedMu    sync.Mutex
	policy    keystate.Policy
	watchdog  atomic.Uint64
	millivolt atomic.Uint32
}

// NewSim builds the core around b. The link starts fully up.
func NewSim(b *banner.Banner, logger *slog.Logger) *Sim {
	s := &Sim{
		line: &simLine{},
		Link: &simLink{},
		host: &host{},
	}
	s.line.high.Store(true)
	s.Link.connected.Store(true)
	s.Link.bonded.Store(true)
	s.Link.hid.Store(true)

	s.Keys = keystate.New(b, s.host)
	s.Button = trigger.NewButton(s.line, s.Keys, true)
	s.Decoder = midi.NewDecoder(s.Keys)

	s.Battery = battery.NewMonitor(s.host)
	s.Battery.SetEnabled(keyboard.Primary, true)
	s.millivolt.Store(battery.FullMillivolts)

	s.Loop = dispatch.New(dispatch.Config{
		Link:     s.Link,
		Battery:  s.Battery,
		Watchdog: dispatch.WatchdogFunc(func() { s.watchdog.Add(1) }),
		Emitter:  s.Keys,
		Peers:    1,
		Primary:  keyboard.Primary,
		Logger:   logger,
	})
	return s
}

// Press simulates one physical press: the settling edge followed by the
// bounce edge the debounce guard must swallow.
func (s *Sim) Press() {
	s.line.high.Store(false)
	s.Button.OnEdge()
	s.Button.OnEdge()
	s.line.high.Store(true)
	s.Loop.Waker().Notify()
}

// Feed writes raw MIDI bytes to the decoder. Safe for concurrent callers.
func (s *Sim) Feed(p []byte) {
	s.feedMu.Lock()
	s.Decoder.Write(p)
	s.feedMu.Unlock()
	s.Loop.Waker().Notify()
}

// ProgramChange injects a program change on channel ch.
func (s *Sim) ProgramChange(ch, prog uint8) {
	s.Feed(gomidi.ProgramChange(ch, prog))
}

// Toggle flips one link flag: 'c' connected, 'b' bonded, 'h' HID enabled.
func (s *Sim) Toggle(flag rune) {
	var f *atomic.Bool
	switch flag {
	case 'c':
		f = &s.Link.connected
	case 'b':
		f = &s.Link.bonded
	case 'h':
		f = &s.Link.hid
	default:
		return
	}
	f.Store(!f.Load())
	if s.Link.connected.Load() && s.Link.bonded.Load() {
		s.Battery.MarkPending(keyboard.Primary)
	}
}

// TogglePolicy switches between deferring and dropping triggers that arrive
// while the key is Released, and returns the new policy.
func (s *Sim) TogglePolicy() keystate.Policy {
	if s.policy == keystate.DeferReleased {
		s.policy = keystate.DropReleased
	} else {
		s.policy = keystate.DeferReleased
	}
	s.Keys.SetPolicy(s.policy)
	return s.policy
}

// Policy returns the active Released policy.
func (s *Sim) Policy() keystate.Policy {
	return s.policy
}

// Drain lowers the simulated cell voltage by mv.
func (s *Sim) Drain(mv uint32) {
	v := s.millivolt.Load()
	if v < battery.EmptyMillivolts+mv {
		v = battery.EmptyMillivolts
	} else {
		v -= mv
	}
	s.millivolt.Store(v)
	s.Battery.UpdateMillivolts(v)
}

// Tick runs one dispatch iteration.
func (s *Sim) Tick() keystate.Result {
	return s.Loop.Tick()
}

// Typed returns what the host has received as text.
func (s *Sim) Typed() string {
	s.host.mu.Lock()
	defer s.host.mu.Unlock()
	return strings.Join(s.host.typed, "")
}

// BatteryReports returns the levels the host was notified of.
func (s *Sim) BatteryReports() []uint8 {
	s.host.mu.Lock()
	defer s.host.mu.Unlock()
	return append([]uint8(nil), s.host.battery...)
}

// Watchdog returns the number of watchdog refreshes.
func (s *Sim) Watchdog() uint64 {
	return s.watchdog.Load()
}

var keyNames = map[uint8]string{
	banner.KeyLeft:              "Left",
	banner.KeyRight:             "Right",
	banner.KeyUp:                "Up",
	banner.KeyDown:              "Down",
	banner.KeyEsc:               "Esc",
	banner.KeyBackspace:         "BS",
	banner.KeyMediaPlayPause:    "Play",
	banner.KeyMediaPreviousSong: "Prev",
	banner.KeyMediaNextSong:     "Next",
}

var modNames = []struct {
	bit  uint8
	name string
}{
	{banner.ModLCtrl | banner.ModRCtrl, "Ctrl"},
	{banner.ModLShift | banner.ModRShift, "Shift"},
	{banner.ModLAlt | banner.ModRAlt, "Alt"},
	{banner.ModLMeta | banner.ModRMeta, "Meta"},
}

// describe renders an entry as the text it types, or as a bracketed chord.
func describe(e banner.Entry) string {
	if r, ok := banner.RuneForEntry(e); ok {
		if r == '\n' {
			return "⏎"
		}
		return string(r)
	}

	var parts []string
	for _, m := range modNames {
		if e.Modifier&m.bit != 0 {
			parts = append(parts, m.name)
		}
	}
	name, ok := keyNames[e.Keycode]
	if !ok {
		name = fmt.Sprintf("0x%02x", e.Keycode)
	}
	parts = append(parts, name)
	return "<" + strings.Join(parts, "+") + ">"
}
