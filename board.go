//go:build tinygo

package main

import (
	"log/slog"
	"machine"
	hid "machine/usb/hid/keyboard"

	"github.com/tuffrabit/tinygo-midikbd/pkg/board"
	"github.com/tuffrabit/tinygo-midikbd/pkg/keyboard"
	"github.com/tuffrabit/tinygo-midikbd/pkg/trigger"
)

// Pin map, see pkg/board: display on I2C0 (GPIO0/1), button on GPIO2, MIDI
// on UART1 (GPIO4/5), battery divider on ADC0 (GPIO26). UART0's default
// pins are GPIO0/1 and would take the display bus.
const (
	buttonPin  = machine.Pin(board.Button)
	batteryPin = machine.Pin(board.Battery) // cell through a 1:2 divider

	midiTXPin = machine.Pin(board.MIDITX)
	midiRXPin = machine.Pin(board.MIDIRX)

	adcRefMillivolts = 3300
	batteryDivider   = 2
)

// usbKeyboard adapts TinyGo's HID keyboard to keyboard.Keyboard.
type usbKeyboard struct {
	kb *hid.Keyboard
}

func (u usbKeyboard) Down(c keyboard.Keycode) error { return u.kb.Down(hid.Keycode(c)) }
func (u usbKeyboard) Up(c keyboard.Keycode) error   { return u.kb.Up(hid.Keycode(c)) }
func (u usbKeyboard) Release() error                { return u.kb.Release() }

// usbLink reports the single USB host. There is no bonding on USB, so an
// enumerated device counts as bonded with HID notifications enabled.
type usbLink struct{}

func (usbLink) Connected(peer keyboard.Peer) bool {
	return peer == keyboard.Primary && machine.USBDev.InitEndpointComplete
}

func (l usbLink) Bonded(peer keyboard.Peer) bool     { return l.Connected(peer) }
func (l usbLink) HIDEnabled(peer keyboard.Peer) bool { return l.Connected(peer) }

// logNotifier reports battery levels on the console; USB HID has no battery
// service.
type logNotifier struct {
	logger *slog.Logger
}

func (n logNotifier) SendLevel(peer keyboard.Peer, level uint8) {
	n.logger.Info("battery: level", "peer", peer, "percent", level)
}

// batterySensor samples the cell voltage.
type batterySensor struct {
	adc machine.ADC
}

func newBatterySensor() *batterySensor {
	machine.InitADC()
	adc := machine.ADC{Pin: batteryPin}
	adc.Configure(machine.ADCConfig{})
	return &batterySensor{adc: adc}
}

// Millivolts returns the cell voltage.
func (b *batterySensor) Millivolts() uint32 {
	return uint32(b.adc.Get()) * adcRefMillivolts * batteryDivider / 0xFFFF
}

// configureButton installs the edge interrupt. onEdge runs in interrupt
// context.
func configureButton(pin machine.Pin, edge trigger.Edge, activeHigh bool, onEdge func()) error {
	mode := machine.PinInputPullup
	if activeHigh {
		mode = machine.PinInputPulldown
	}
	pin.Configure(machine.PinConfig{Mode: mode})

	change := machine.PinFalling
	switch edge {
	case trigger.EdgeRising:
		change = machine.PinRising
	case trigger.EdgeBoth:
		change = machine.PinToggle
	}
	return pin.SetInterrupt(change, func(machine.Pin) { onEdge() })
}

// configureMIDI sets up UART1 receive at baud. TX stays unused.
func configureMIDI(baud uint32) (*machine.UART, error) {
	if err := board.Validate(board.Pins); err != nil {
		return nil, err
	}
	uart := machine.UART1
	err := uart.Configure(machine.UARTConfig{
		BaudRate: baud,
		TX:       midiTXPin,
		RX:       midiRXPin,
	})
	return uart, err
}
