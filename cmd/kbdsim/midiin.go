package main

import (
	"fmt"
	"log/slog"
	"strings"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
)

// midiInput forwards every message from a host MIDI input to the simulated
// UART, so a real controller can drive the decoder.
type midiInput struct {
	drv  *rtmididrv.Driver
	in   drivers.In
	stop func()
}

// openMIDIInput listens on the first input whose name contains name.
func openMIDIInput(name string, feed func([]byte), logger *slog.Logger) (*midiInput, error) {
	drv, err := rtmididrv.New()
	if err != nil {
		return nil, fmt.Errorf("rtmididrv: %w", err)
	}

	ins, err := drv.Ins()
	if err != nil {
		drv.Close()
		return nil, fmt.Errorf("list inputs: %w", err)
	}
	var found drivers.In
	for _, in := range ins {
		if strings.Contains(in.String(), name) {
			found = in
			break
		}
	}
	if found == nil {
		drv.Close()
		return nil, fmt.Errorf("input %q not found", name)
	}
	if err := found.Open(); err != nil {
		drv.Close()
		return nil, fmt.Errorf("open %q: %w", found.String(), err)
	}

	stop, err := gomidi.ListenTo(found, func(msg gomidi.Message, _ int32) {
		logger.Debug("midi: message", "msg", msg.String())
		feed(msg.Bytes())
	}, gomidi.HandleError(func(listenErr error) {
		logger.Warn("midi: listener error", "device", found.String(), "err", listenErr)
	}))
	if err != nil {
		_ = found.Close()
		drv.Close()
		return nil, fmt.Errorf("listen %q: %w", found.String(), err)
	}

	logger.Info("midi: listening", "device", found.String())
	return &midiInput{drv: drv, in: found, stop: stop}, nil
}

// Name returns the input port name.
func (m *midiInput) Name() string {
	return m.in.String()
}

// Close stops listening and releases the driver.
func (m *midiInput) Close() {
	m.stop()
	_ = m.in.Close()
	m.drv.Close()
}
