package protocol

import (
	"encoding/binary"

	"github.com/tuffrabit/tinygo-midikbd/pkg/banner"
	"github.com/tuffrabit/tinygo-midikbd/pkg/keystate"
	"github.com/tuffrabit/tinygo-midikbd/pkg/midi"
	"github.com/tuffrabit/tinygo-midikbd/pkg/trigger"
)

// StatusSize is the GetStatus payload size.
// Layout:
//
//	[0]:     KeyState
//	[1]:     Flags (bit0 deferred, bit1 has last)
//	[2]:     Cursor
//	[3]:     BannerLen
//	[4]:     Last keycode
//	[5]:     Last modifier
//	[6]:     MIDI last channel
//	[7]:     MIDI last program (0xFF if none)
//	[8-31]:  Triggers, Coalesced, Deferrals, Dropped, Emitted, Advanced (uint32)
//	[32-47]: Button Edges, Triggers, Ignored, Spurious (uint32)
//	[48-59]: MIDI Bytes, Discarded, Messages (uint32)
const StatusSize = 60

const (
	statusDeferred = 1 << 0
	statusHasLast  = 1 << 1
	noProgram      = 0xFF
)

// Status is the live view reported by CmdGetStatus.
type Status struct {
	Key         keystate.Snapshot
	Button      trigger.Stats
	MIDI        midi.Stats
	LastProgram midi.ProgramChange
	HasProgram  bool
}

// Collect gathers a Status from the live components. button and decoder
// may be nil.
func Collect(rt Runtime, button ButtonCounters, decoder DecoderCounters) Status {
	s := Status{Key: rt.Snapshot()}
	if button != nil {
		s.Button = button.Stats()
	}
	if decoder != nil {
		s.MIDI = decoder.Stats()
		s.LastProgram, s.HasProgram = decoder.LastProgram()
	}
	return s
}

// MarshalBinary encodes the status payload.
func (s *Status) MarshalBinary() ([]byte, error) {
	buf := make([]byte, StatusSize)
	buf[0] = uint8(s.Key.State)
	if s.Key.Deferred {
		buf[1] |= statusDeferred
	}
	if s.Key.HasLast {
		buf[1] |= statusHasLast
	}
	buf[2] = uint8(s.Key.Cursor)
	buf[3] = uint8(s.Key.BannerLen)
	buf[4] = s.Key.Last.Keycode
	buf[5] = s.Key.Last.Modifier
	buf[6] = s.LastProgram.Channel
	buf[7] = noProgram
	if s.HasProgram {
		buf[7] = s.LastProgram.Program
	}

	counters := []uint32{
		s.Key.Triggers, s.Key.Coalesced, s.Key.Deferrals,
		s.Key.Dropped, s.Key.Emitted, s.Key.Advanced,
		s.Button.Edges, s.Button.Triggers, s.Button.Ignored, s.Button.Spurious,
		s.MIDI.Bytes, s.MIDI.Discarded, s.MIDI.Messages,
	}
	for i, c := range counters {
		binary.LittleEndian.PutUint32(buf[8+4*i:], c)
	}
	return buf, nil
}

// UnmarshalBinary decodes a status payload.
func (s *Status) UnmarshalBinary(data []byte) error {
	if len(data) < StatusSize {
		return ErrInvalidFrame
	}
	u32 := func(i int) uint32 { return binary.LittleEndian.Uint32(data[8+4*i:]) }

	s.Key = keystate.Snapshot{
		State:     keystate.State(data[0]),
		Deferred:  data[1]&statusDeferred != 0,
		HasLast:   data[1]&statusHasLast != 0,
		Cursor:    int(data[2]),
		BannerLen: int(data[3]),
		Last:      banner.Entry{Keycode: data[4], Modifier: data[5]},
		Triggers:  u32(0),
		Coalesced: u32(1),
		Deferrals: u32(2),
		Dropped:   u32(3),
		Emitted:   u32(4),
		Advanced:  u32(5),
	}
	s.Button = trigger.Stats{
		Edges:    u32(6),
		Triggers: u32(7),
		Ignored:  u32(8),
		Spurious: u32(9),
	}
	s.MIDI = midi.Stats{
		Bytes:     u32(10),
		Discarded: u32(11),
		Messages:  u32(12),
	}
	s.HasProgram = data[7] != noProgram
	s.LastProgram = midi.ProgramChange{}
	if s.HasProgram {
		s.LastProgram = midi.ProgramChange{Channel: data[6], Program: data[7]}
	}
	return nil
}

// StorageStatsSize is the GetStorageStats payload size.
// Layout: [Total:4][Used:4][Free:4][BannerCount:1]
const StorageStatsSize = 13

// StorageStats mirrors storage.Stats on the wire.
type StorageStats struct {
	Total       uint32
	Used        uint32
	Free        uint32
	BannerCount uint8
}

// MarshalBinary encodes the storage stats payload.
func (s *StorageStats) MarshalBinary() ([]byte, error) {
	buf := make([]byte, StorageStatsSize)
	binary.LittleEndian.PutUint32(buf[0:], s.Total)
	binary.LittleEndian.PutUint32(buf[4:], s.Used)
	binary.LittleEndian.PutUint32(buf[8:], s.Free)
	buf[12] = s.BannerCount
	return buf, nil
}

// UnmarshalBinary decodes a storage stats payload.
func (s *StorageStats) UnmarshalBinary(data []byte) error {
	if len(data) < StorageStatsSize {
		return ErrInvalidFrame
	}
	s.Total = binary.LittleEndian.Uint32(data[0:])
	s.Used = binary.LittleEndian.Uint32(data[4:])
	s.Free = binary.LittleEndian.Uint32(data[8:])
	s.BannerCount = data[12]
	return nil
}
