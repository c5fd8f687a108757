// Package board is the RP2040 pin map shared by the firmware and the debug
// display.
//
//	GPIO0   I2C0 SDA   SSD1306
//	GPIO1   I2C0 SCL   SSD1306
//	GPIO2   input      trigger button
//	GPIO4   UART1 TX   MIDI (unused)
//	GPIO5   UART1 RX   MIDI in
//	GPIO26  ADC0       battery divider
package board

import "fmt"

// GPIO numbers. machine.Pin(n) is GPIOn on the RP2040.
const (
	DisplaySDA = 0
	DisplaySCL = 1
	Button     = 2
	MIDITX     = 4
	MIDIRX     = 5
	Battery    = 26
)

// Function is the peripheral role a pin is muxed to.
type Function uint8

const (
	GPIO Function = iota
	I2C0SDA
	I2C0SCL
	UART1TX
	UART1RX
	ADC
)

func (f Function) String() string {
	switch f {
	case GPIO:
		return "gpio"
	case I2C0SDA:
		return "i2c0-sda"
	case I2C0SCL:
		return "i2c0-scl"
	case UART1TX:
		return "uart1-tx"
	case UART1RX:
		return "uart1-rx"
	case ADC:
		return "adc"
	default:
		return "unknown"
	}
}

// Assignment binds one pin to its user.
type Assignment struct {
	Name     string
	GPIO     uint8
	Function Function
}

// Pins is the firmware pin map.
var Pins = []Assignment{
	{"display sda", DisplaySDA, I2C0SDA},
	{"display scl", DisplaySCL, I2C0SCL},
	{"button", Button, GPIO},
	{"midi tx", MIDITX, UART1TX},
	{"midi rx", MIDIRX, UART1RX},
	{"battery", Battery, ADC},
}

// Supports reports whether the RP2040 can mux gpio to f.
func Supports(gpio uint8, f Function) bool {
	if gpio > 29 {
		return false
	}
	switch f {
	case GPIO:
		return true
	case I2C0SDA, I2C0SCL:
		// I2C0 on pins 0-1, 4-5, 8-9 and so on; SDA even, SCL odd.
		return (gpio/2)%2 == 0 && (gpio%2 == 0) == (f == I2C0SDA)
	case UART1TX, UART1RX:
		// UART1 on 4-5, 8-9, 20-21, 24-25; TX first.
		if gpio%4 > 1 {
			return false
		}
		switch gpio / 4 {
		case 1, 2, 5, 6:
			return (gpio%4 == 0) == (f == UART1TX)
		}
		return false
	case ADC:
		return gpio >= 26 && gpio <= 29
	}
	return false
}

// Validate reports the first pin shared by two users or muxed to a function
// it cannot carry.
func Validate(pins []Assignment) error {
	seen := make(map[uint8]string, len(pins))
	for _, p := range pins {
		if other, ok := seen[p.GPIO]; ok {
			return fmt.Errorf("GPIO%d used by both %s and %s", p.GPIO, other, p.Name)
		}
		seen[p.GPIO] = p.Name
		if !Supports(p.GPIO, p.Function) {
			return fmt.Errorf("GPIO%d cannot be %s for %s", p.GPIO, p.Function, p.Name)
		}
	}
	return nil
}
