//go:build tinygo

package main

import (
	"context"
	"log/slog"
	"machine"
	"machine/usb"
	hid "machine/usb/hid/keyboard"
	"time"

	"github.com/tuffrabit/tinygo-midikbd/pkg/banner"
	"github.com/tuffrabit/tinygo-midikbd/pkg/battery"
	"github.com/tuffrabit/tinygo-midikbd/pkg/config"
	"github.com/tuffrabit/tinygo-midikbd/pkg/dispatch"
	"github.com/tuffrabit/tinygo-midikbd/pkg/display"
	"github.com/tuffrabit/tinygo-midikbd/pkg/keyboard"
	"github.com/tuffrabit/tinygo-midikbd/pkg/keystate"
	"github.com/tuffrabit/tinygo-midikbd/pkg/midi"
	"github.com/tuffrabit/tinygo-midikbd/pkg/protocol"
	"github.com/tuffrabit/tinygo-midikbd/pkg/storage"
	"github.com/tuffrabit/tinygo-midikbd/pkg/trigger"
	"github.com/tuffrabit/tinygo-midikbd/serial"
)

const (
	batteryInterval = 30 * time.Second
	statusInterval  = 250 * time.Millisecond
)

// logger is the firmware-wide logger, written to the USB CDC console.
var logger = slog.Default()

func initLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger = slog.New(slog.NewTextHandler(machine.Serial, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

func main() {
	usb.Product = "MIDI Banner Keyboard"

	// Give the host time to enumerate the CDC console.
	time.Sleep(1 * time.Second)
	initLogger(false)

	store, err := storage.New(machine.Flash, true, logger)
	if err != nil {
		logger.Error("storage unavailable, running on defaults", "err", err)
	}

	cfg := config.DefaultDevice()
	b := banner.Default()
	if store != nil {
		cfg = store.LoadDeviceOrDefault()
		b = store.LoadBannerOrDefault(cfg.ActiveBanner)
	}
	logger.Info("midikbd starting",
		"banner", cfg.ActiveBanner,
		"entries", b.Len(),
		"edge", cfg.Edge(),
		"midi", cfg.Has(config.FlagMIDIEnabled),
		"baud", cfg.UARTBaud,
	)

	reporter := keyboard.NewHIDReporter(usbKeyboard{kb: hid.Port()}, logger)
	keys := keystate.New(b, reporter)
	keys.SetPolicy(cfg.Policy())

	bat := battery.NewMonitor(logNotifier{logger: logger})
	bat.SetEnabled(keyboard.Primary, true)
	sensor := newBatterySensor()

	disp := display.NewManager(logger)

	waker := dispatch.NewWaker()

	var button *trigger.Button
	if cfg.Has(config.FlagButtonEnabled) {
		button = trigger.NewButton(buttonPin, keys, !cfg.Has(config.FlagActiveHigh))
		if err := configureButton(buttonPin, cfg.Edge(), cfg.Has(config.FlagActiveHigh), func() {
			button.OnEdge()
			waker.Notify()
		}); err != nil {
			logger.Error("button interrupt unavailable", "err", err)
		}
	}

	var decoder *midi.Decoder
	var midiUART *midi.UART
	if cfg.Has(config.FlagMIDIEnabled) {
		decoder = midi.NewDecoder(keys)
		decoder.OnProgramChange(func(midi.ProgramChange) { waker.Notify() })

		uart, err := configureMIDI(cfg.UARTBaud)
		if err != nil {
			logger.Error("midi uart unavailable", "err", err)
		} else {
			midiUART = midi.NewUART(uart)
			receiver := midi.NewReceiver(midiUART, decoder, int(cfg.MIDIChunk))
			midiUART.SetHandler(receiver.OnEvent)
			if err := receiver.Start(); err != nil {
				logger.Error("midi receive failed to start", "err", err)
			}
		}
	}

	status := func() protocol.Status {
		var bc protocol.ButtonCounters
		if button != nil {
			bc = button
		}
		var dc protocol.DecoderCounters
		if decoder != nil {
			dc = decoder
		}
		return protocol.Collect(keys, bc, dc)
	}

	ctx := context.Background()

	if store != nil {
		handler := protocol.NewHandler(store, keys, logger)
		if button != nil {
			handler.SetButton(button)
		}
		if decoder != nil {
			handler.SetDecoder(decoder)
		}
		link := serial.NewSerial(machine.Serial, handler, logger)
		if disp != nil {
			link.SetMonitor(disp)
		}
		go func() {
			if err := link.Handle(ctx); err != nil {
				logger.Error("serial link stopped", "err", err)
			}
		}()
	}

	var lastBattery, lastStatus time.Time
	wasConnected := false
	schedule := func() {
		if midiUART != nil {
			midiUART.Poll()
		}

		now := time.Now()
		connected := usbLink{}.Connected(keyboard.Primary)
		if connected && !wasConnected {
			bat.MarkPending(keyboard.Primary)
		}
		wasConnected = connected
		if now.Sub(lastBattery) >= batteryInterval {
			lastBattery = now
			bat.UpdateMillivolts(sensor.Millivolts())
		}

		if disp != nil && now.Sub(lastStatus) >= statusInterval {
			lastStatus = now
			s := status()
			disp.ShowStatus(&s)
		}
	}

	loop := dispatch.New(dispatch.Config{
		Scheduler: dispatch.SchedulerFunc(schedule),
		Link:      usbLink{},
		Battery:   bat,
		Watchdog:  startWatchdog(cfg.WatchdogMs),
		Emitter:   keys,
		Waker:     waker,
		Peers:     1,
		Primary:   keyboard.Primary,
		Idle:      time.Duration(cfg.TickMs) * time.Millisecond,
		Logger:    logger,
	})

	if err := loop.Run(ctx); err != nil {
		logger.Error("dispatch loop stopped", "err", err)
	}
}

func startWatchdog(timeoutMs uint16) dispatch.Watchdog {
	machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: uint32(timeoutMs)})
	if err := machine.Watchdog.Start(); err != nil {
		logger.Warn("watchdog unavailable", "err", err)
		return nil
	}
	return dispatch.WatchdogFunc(machine.Watchdog.Update)
}
