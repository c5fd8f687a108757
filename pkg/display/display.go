//go:build tinygo && !nodebug

// Package display provides SSD1306 OLED display support for debug output.
// Incoming frames use the yellow rows (0-1), outgoing responses the blue
// rows (2-3) and the key state machine the remaining four.
//
// To build without display support, use:
//
//	tinygo build -tags=nodebug -target=pico -o firmware.uf2 .
package display

import (
	"image/color"
	"log/slog"
	"machine"
	"time"

	"tinygo.org/x/drivers/ssd1306"
	"tinygo.org/x/tinyfont"
	"tinygo.org/x/tinyfont/proggy"

	"github.com/tuffrabit/tinygo-midikbd/pkg/board"
	"github.com/tuffrabit/tinygo-midikbd/pkg/protocol"
)

const (
	i2cAddress = 0x3C
	sclPin     = machine.Pin(board.DisplaySCL)
	sdaPin     = machine.Pin(board.DisplaySDA)

	screenWidth  = 128
	screenHeight = 64
	rowHeight    = 8
	baseline     = 7

	rowInBytes   = 0
	rowInParsed  = 1
	rowOutBytes  = 2
	rowOutParsed = 3
	rowStatus    = 4
)

var (
	black = color.RGBA{0, 0, 0, 0}
	white = color.RGBA{255, 255, 255, 255}
)

// Manager handles the SSD1306 display for debug output. A nil *Manager is
// valid and draws nothing.
type Manager struct {
	device    *ssd1306.Device
	formatter *FrameFormatter
	status    [4]string
}

// NewManager configures I2C0 and the panel. Returns nil if initialization
// fails; the display is debug only.
func NewManager(logger *slog.Logger) *Manager {
	i2c := machine.I2C0
	if err := i2c.Configure(machine.I2CConfig{
		Frequency: 400000,
		SCL:       sclPin,
		SDA:       sdaPin,
	}); err != nil {
		logger.Warn("display: i2c config failed", "err", err)
		return nil
	}

	// Bus settle
	time.Sleep(10 * time.Millisecond)

	dev := ssd1306.NewI2C(i2c)
	dev.Configure(ssd1306.Config{
		Address: i2cAddress,
		Width:   screenWidth,
		Height:  screenHeight,
	})
	dev.ClearDisplay()

	m := &Manager{
		device:    &dev,
		formatter: NewFrameFormatter(),
	}

	m.drawRow(rowInBytes, "MIDI kbd debug")
	m.drawRow(rowInParsed, "Waiting...")
	m.refresh()

	return m
}

// ShowIncomingFrame displays an incoming serial frame on the yellow rows.
func (m *Manager) ShowIncomingFrame(frame *protocol.Frame) {
	if m == nil {
		return
	}
	bytesStr, parsedStr := m.formatter.FormatIncoming(frame)
	m.drawRow(rowInBytes, "I:"+bytesStr)
	m.drawRow(rowInParsed, " "+parsedStr)
	m.refresh()
}

// ShowOutgoingResponse displays an outgoing serial response on the blue rows.
func (m *Manager) ShowOutgoingResponse(resp *protocol.Response) {
	if m == nil {
		return
	}
	bytesStr, parsedStr := m.formatter.FormatOutgoing(resp)
	m.drawRow(rowOutBytes, "O:"+bytesStr)
	m.drawRow(rowOutParsed, " "+parsedStr)
	m.refresh()
}

// ShowError displays an error message on the blue rows.
func (m *Manager) ShowError(err error) {
	if m == nil {
		return
	}
	m.drawRow(rowOutBytes, "ERR:")
	m.drawRow(rowOutParsed, m.formatter.FormatError(err))
	m.refresh()
}

// ShowStatus redraws the key state rows when they changed.
func (m *Manager) ShowStatus(s *protocol.Status) {
	if m == nil {
		return
	}
	rows := m.formatter.FormatStatus(s)
	if rows == m.status {
		return
	}
	m.status = rows
	for i, r := range rows {
		m.drawRow(rowStatus+i, r)
	}
	m.refresh()
}

// drawRow clears a text row and writes s into it.
func (m *Manager) drawRow(row int, s string) {
	yStart := int16(row * rowHeight)
	for y := yStart; y < yStart+rowHeight; y++ {
		for x := int16(0); x < screenWidth; x++ {
			m.device.SetPixel(x, y, black)
		}
	}
	tinyfont.WriteLine(m.device, &proggy.TinySZ8pt7b, 0, yStart+baseline, Truncate(s, Cols+4), white)
}

func (m *Manager) refresh() {
	m.device.Display()
}
