// Package keyboard delivers single key plus modifier reports to the host.
package keyboard

import (
	"log/slog"

	"github.com/tuffrabit/tinygo-midikbd/pkg/banner"
)

// Keycode follows TinyGo's machine/usb/hid/keyboard encoding: plain keys are
// 0xF000|usage, modifiers are 0xE000|bit.
type Keycode uint16

const (
	keyFlag      Keycode = 0xF000
	modifierFlag Keycode = 0xE000
)

// Key returns the keycode for a HID keyboard page usage ID.
func Key(usage uint8) Keycode {
	return keyFlag | Keycode(usage)
}

// Modifier returns the keycode for a single HID modifier bit.
func Modifier(bit uint8) Keycode {
	return modifierFlag | Keycode(bit)
}

// Peer identifies a connected host. Peer 0 is the primary host.
type Peer uint8

const Primary Peer = 0

// Reporter is the HID transport. SendReport is fire-and-forget.
type Reporter interface {
	SendReport(keycode, modifier uint8, peer Peer)
}

// Keyboard is the subset of a TinyGo HID keyboard the reporter drives.
type Keyboard interface {
	Down(c Keycode) error
	Up(c Keycode) error
	Release() error
}

// HIDReporter types one keystroke per report on a Keyboard: modifiers and
// key go down together, then everything is released.
type HIDReporter struct {
	kb     Keyboard
	logger *slog.Logger

	sent     uint32
	reserved uint32
	failed   uint32
}

// NewHIDReporter wraps kb. A nil logger uses slog.Default().
func NewHIDReporter(kb Keyboard, logger *slog.Logger) *HIDReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &HIDReporter{kb: kb, logger: logger}
}

// SendReport presses the modifier bits and keycode, then releases all keys.
// Errors are logged and counted; there is no acknowledgment to wait for.
// Only one host is attached over USB, so peer is informational.
func (r *HIDReporter) SendReport(keycode, modifier uint8, peer Peer) {
	for bit := uint8(1); bit != 0; bit <<= 1 {
		if modifier&bit == 0 {
			continue
		}
		if err := r.kb.Down(Modifier(bit)); err != nil {
			r.fail("modifier down", keycode, modifier, peer, err)
			return
		}
	}

	if banner.Reserved(keycode) {
		r.reserved++
		r.logger.Debug("hid: keycode outside the keyboard usage table", "keycode", keycode)
	}
	if err := r.kb.Down(Key(keycode)); err != nil {
		r.fail("key down", keycode, modifier, peer, err)
		return
	}
	if err := r.kb.Release(); err != nil {
		r.fail("release", keycode, modifier, peer, err)
		return
	}

	r.sent++
	r.logger.Debug("hid: report sent", "keycode", keycode, "modifier", modifier, "peer", peer)
}

// Sent returns the number of reports delivered without error.
func (r *HIDReporter) Sent() uint32 {
	return r.sent
}

// Reserved returns the number of reports whose keycode is not a defined
// keyboard page usage; most hosts ignore those keys.
func (r *HIDReporter) Reserved() uint32 {
	return r.reserved
}

// Failed returns the number of reports that hit a keyboard error.
func (r *HIDReporter) Failed() uint32 {
	return r.failed
}

func (r *HIDReporter) fail(step string, keycode, modifier uint8, peer Peer, err error) {
	r.failed++
	// Never leave keys latched down on the host.
	_ = r.kb.Release()
	r.logger.Warn("hid: report failed", "step", step, "keycode", keycode, "modifier", modifier, "peer", peer, "err", err)
}
