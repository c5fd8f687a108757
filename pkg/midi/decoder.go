// Package midi recognizes MIDI program change messages on a serial byte
// stream and turns each one into a key trigger.
//
// Only status bytes 0xC0-0xCF are recognized and running status is not
// supported, so every program change must carry its own status byte. The
// channel nibble does not affect triggering.
package midi

import (
	"sync/atomic"

	gomidi "gitlab.com/gomidi/midi/v2"

	"github.com/tuffrabit/tinygo-midikbd/pkg/trigger"
)

// ParseState is the decoder position within a message.
type ParseState uint32

const (
	AwaitingStatus ParseState = iota
	AwaitingData
)

func (s ParseState) String() string {
	switch s {
	case AwaitingStatus:
		return "status"
	case AwaitingData:
		return "data"
	default:
		return "unknown"
	}
}

const (
	statusMask          = 0xF0
	statusProgramChange = 0xC0
)

// ProgramChange is a decoded program change message.
type ProgramChange struct {
	Channel uint8
	Program uint8
}

// Stats counts decoder activity since boot.
type Stats struct {
	Bytes     uint32
	Discarded uint32
	Messages  uint32
}

// Decoder is a two-state program change parser. Bytes are fed from a single
// producer (the serial receive path); State, Stats and LastProgram may be
// read concurrently.
type Decoder struct {
	sink     trigger.Sink
	observer func(ProgramChange)

	state  atomic.Uint32
	status byte
	msg    [2]byte

	last      atomic.Uint32 // see storeLast
	bytes     atomic.Uint32
	discarded atomic.Uint32
	messages  atomic.Uint32
}

// NewDecoder returns a decoder in AwaitingStatus feeding sink.
func NewDecoder(sink trigger.Sink) *Decoder {
	return &Decoder{sink: sink}
}

// OnProgramChange registers fn to be called after each decoded message. fn
// runs on the feeding goroutine or interrupt and must not block.
func (d *Decoder) OnProgramChange(fn func(ProgramChange)) {
	d.observer = fn
}

// WriteByte feeds one byte. It never fails.
func (d *Decoder) WriteByte(c byte) error {
	d.bytes.Add(1)

	if ParseState(d.state.Load()) == AwaitingData {
		d.state.Store(uint32(AwaitingStatus))
		d.messages.Add(1)
		pc := d.decode(d.status, c)
		d.storeLast(pc)
		d.sink.OnTrigger()
		if d.observer != nil {
			d.observer(pc)
		}
		return nil
	}

	if c&statusMask == statusProgramChange {
		d.status = c
		d.state.Store(uint32(AwaitingData))
		return nil
	}
	d.discarded.Add(1)
	return nil
}

// Write feeds p byte by byte. It always consumes all of p.
func (d *Decoder) Write(p []byte) (int, error) {
	for _, c := range p {
		d.WriteByte(c)
	}
	return len(p), nil
}

// State returns the current parse state.
func (d *Decoder) State() ParseState {
	return ParseState(d.state.Load())
}

// Reset drops any half-received message.
func (d *Decoder) Reset() {
	d.state.Store(uint32(AwaitingStatus))
}

// Stats returns a snapshot of the counters.
func (d *Decoder) Stats() Stats {
	return Stats{
		Bytes:     d.bytes.Load(),
		Discarded: d.discarded.Load(),
		Messages:  d.messages.Load(),
	}
}

// LastProgram returns the most recent program change, if any.
func (d *Decoder) LastProgram() (ProgramChange, bool) {
	v := d.last.Load()
	if v&validBit == 0 {
		return ProgramChange{}, false
	}
	return ProgramChange{Channel: uint8(v >> 8), Program: uint8(v)}, true
}

const validBit = 1 << 16

func (d *Decoder) storeLast(pc ProgramChange) {
	d.last.Store(validBit | uint32(pc.Channel)<<8 | uint32(pc.Program))
}

// decode interprets a completed message. The data byte is taken as-is even
// when it is not valid MIDI; if gomidi does not accept the pair, the raw
// channel nibble and data byte are reported instead.
func (d *Decoder) decode(status, data byte) ProgramChange {
	d.msg[0], d.msg[1] = status, data

	var pc ProgramChange
	if gomidi.Message(d.msg[:]).GetProgramChange(&pc.Channel, &pc.Program) {
		return pc
	}
	return ProgramChange{Channel: status & 0x0F, Program: data}
}
