// Package config defines the persisted configuration data structures.
// All structs are designed for zero-allocation binary serialization.
package config

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/tuffrabit/tinygo-midikbd/pkg/banner"
	"github.com/tuffrabit/tinygo-midikbd/pkg/keystate"
	"github.com/tuffrabit/tinygo-midikbd/pkg/trigger"
)

// CurrentVersion is the config format version.
// Bump this when making breaking changes to the config format.
// When firmware boots and finds a different version in flash, configs are wiped.
const CurrentVersion uint16 = 1

const (
	DeviceConfigSize = 16
	BannerConfigSize = 148

	bannerHeaderSize = 20
	maxNameLen       = 15
)

// MIDIBaudRate is the standard MIDI DIN serial rate.
const MIDIBaudRate = 31250

// Device flags
const (
	FlagButtonEnabled uint32 = 1 << iota
	FlagMIDIEnabled
	FlagActiveHigh          // button line reads 1 when pressed
	FlagDropReleasedTrigger // drop instead of defer triggers during Released
)

// Device global settings.
// Total size: 16 bytes
// Layout:
//
//	[0-1]:   Version (uint16)
//	[2-5]:   Flags (uint32)
//	[6]:     ActiveBanner (uint8)
//	[7]:     EdgeMode (uint8)
//	[8]:     MIDIChunk (uint8)
//	[9]:     TickMs (uint8)
//	[10-11]: WatchdogMs (uint16)
//	[12-15]: UARTBaud (uint32)
type DeviceConfig struct {
	Version      uint16 // Config format version
	Flags        uint32 // Feature flags
	ActiveBanner uint8  // Banner slot loaded on boot
	EdgeMode     uint8  // trigger.Edge for the button interrupt
	MIDIChunk    uint8  // Bytes per UART receive
	TickMs       uint8  // Dispatch idle period
	WatchdogMs   uint16 // Watchdog timeout
	UARTBaud     uint32 // MIDI UART baud rate
}

// BannerConfig is one persisted banner slot.
// Total size: 148 bytes
// Layout:
//
//	[0-1]:    Version (uint16)
//	[2]:      Count (uint8)
//	[3]:      Reserved (uint8)
//	[4-19]:   Name ([16]byte)
//	[20-147]: Entries ([64]{Keycode, Modifier})
type BannerConfig struct {
	Version  uint16
	Count    uint8
	Reserved uint8
	Name     [16]byte
	Entries  [banner.MaxEntries]banner.Entry
}

// Errors
var (
	ErrInvalidSize    = errors.New("invalid config size")
	ErrInvalidCount   = errors.New("invalid banner entry count")
	ErrInvalidEdge    = errors.New("invalid edge mode")
	ErrInvalidChunk   = errors.New("invalid MIDI chunk size")
	ErrInvalidTimeout = errors.New("invalid watchdog timeout")
)

// DefaultDevice returns the factory device configuration.
func DefaultDevice() DeviceConfig {
	return DeviceConfig{
		Version:      CurrentVersion,
		Flags:        FlagButtonEnabled | FlagMIDIEnabled,
		ActiveBanner: 0,
		EdgeMode:     uint8(trigger.EdgeFalling),
		MIDIChunk:    1,
		TickMs:       10,
		WatchdogMs:   1000,
		UARTBaud:     MIDIBaudRate,
	}
}

// Has reports whether all bits in flag are set.
func (d *DeviceConfig) Has(flag uint32) bool {
	return d.Flags&flag == flag
}

// Edge returns the configured button interrupt edge.
func (d *DeviceConfig) Edge() trigger.Edge {
	return trigger.Edge(d.EdgeMode)
}

// Policy maps FlagDropReleasedTrigger to a key state policy.
func (d *DeviceConfig) Policy() keystate.Policy {
	if d.Has(FlagDropReleasedTrigger) {
		return keystate.DropReleased
	}
	return keystate.DeferReleased
}

// Validate checks field ranges.
func (d *DeviceConfig) Validate() error {
	if d.EdgeMode > uint8(trigger.EdgeBoth) {
		return ErrInvalidEdge
	}
	if d.MIDIChunk == 0 || d.MIDIChunk > 16 {
		return ErrInvalidChunk
	}
	if d.WatchdogMs == 0 {
		return ErrInvalidTimeout
	}
	return nil
}

// MarshalBinary implements encoding.BinaryMarshaler for DeviceConfig.
func (d *DeviceConfig) MarshalBinary() ([]byte, error) {
	buf := make([]byte, DeviceConfigSize)
	binary.LittleEndian.PutUint16(buf[0:], d.Version)
	binary.LittleEndian.PutUint32(buf[2:], d.Flags)
	buf[6] = d.ActiveBanner
	buf[7] = d.EdgeMode
	buf[8] = d.MIDIChunk
	buf[9] = d.TickMs
	binary.LittleEndian.PutUint16(buf[10:], d.WatchdogMs)
	binary.LittleEndian.PutUint32(buf[12:], d.UARTBaud)
	return buf, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler for DeviceConfig.
func (d *DeviceConfig) UnmarshalBinary(data []byte) error {
	if len(data) < DeviceConfigSize {
		return ErrInvalidSize
	}

	d.Version = binary.LittleEndian.Uint16(data[0:])
	d.Flags = binary.LittleEndian.Uint32(data[2:])
	d.ActiveBanner = data[6]
	d.EdgeMode = data[7]
	d.MIDIChunk = data[8]
	d.TickMs = data[9]
	d.WatchdogMs = binary.LittleEndian.Uint16(data[10:])
	d.UARTBaud = binary.LittleEndian.Uint32(data[12:])
	return nil
}

// NewBannerConfig captures b under name.
func NewBannerConfig(name string, b *banner.Banner) BannerConfig {
	bc := BannerConfig{Version: CurrentVersion}
	bc.SetName(name)
	entries := b.Entries()
	bc.Count = uint8(len(entries))
	copy(bc.Entries[:], entries)
	return bc
}

// Banner builds the runtime banner from the first Count entries.
func (bc *BannerConfig) Banner() (*banner.Banner, error) {
	if bc.Count == 0 || int(bc.Count) > banner.MaxEntries {
		return nil, ErrInvalidCount
	}
	return banner.New(bc.Entries[:bc.Count]...)
}

// Marshal writes the BannerConfig to w in binary format.
// Returns the number of bytes written.
func (bc *BannerConfig) Marshal(w io.Writer) (int, error) {
	header := make([]byte, bannerHeaderSize)
	bc.putHeader(header)
	if _, err := w.Write(header); err != nil {
		return 0, err
	}

	for i := range bc.Entries {
		e := []byte{bc.Entries[i].Keycode, bc.Entries[i].Modifier}
		if _, err := w.Write(e); err != nil {
			return bannerHeaderSize + i*2, err
		}
	}

	return BannerConfigSize, nil
}

// Unmarshal reads the BannerConfig from r in binary format.
func (bc *BannerConfig) Unmarshal(r io.Reader) error {
	header := make([]byte, bannerHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return err
	}
	bc.getHeader(header)

	e := make([]byte, 2)
	for i := range bc.Entries {
		if _, err := io.ReadFull(r, e); err != nil {
			return err
		}
		bc.Entries[i] = banner.Entry{Keycode: e[0], Modifier: e[1]}
	}

	return nil
}

// MarshalBinary implements encoding.BinaryMarshaler for BannerConfig.
func (bc *BannerConfig) MarshalBinary() ([]byte, error) {
	buf := make([]byte, BannerConfigSize)
	bc.putHeader(buf)

	for i := range bc.Entries {
		offset := bannerHeaderSize + i*2
		buf[offset] = bc.Entries[i].Keycode
		buf[offset+1] = bc.Entries[i].Modifier
	}

	return buf, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler for BannerConfig.
func (bc *BannerConfig) UnmarshalBinary(data []byte) error {
	if len(data) < BannerConfigSize {
		return ErrInvalidSize
	}
	bc.getHeader(data)

	for i := range bc.Entries {
		offset := bannerHeaderSize + i*2
		bc.Entries[i] = banner.Entry{Keycode: data[offset], Modifier: data[offset+1]}
	}

	return nil
}

func (bc *BannerConfig) putHeader(buf []byte) {
	binary.LittleEndian.PutUint16(buf[0:], bc.Version)
	buf[2] = bc.Count
	buf[3] = bc.Reserved
	copy(buf[4:20], bc.Name[:])
}

func (bc *BannerConfig) getHeader(buf []byte) {
	bc.Version = binary.LittleEndian.Uint16(buf[0:])
	bc.Count = buf[2]
	bc.Reserved = buf[3]
	copy(bc.Name[:], buf[4:20])
}

// GetName returns the banner name as a string (up to null terminator).
func (bc *BannerConfig) GetName() string {
	for i, b := range bc.Name {
		if b == 0 {
			return string(bc.Name[:i])
		}
	}
	return string(bc.Name[:])
}

// SetName sets the banner name from a string.
// If the name is longer than 15 bytes, it is truncated.
// The name is always null-terminated.
func (bc *BannerConfig) SetName(name string) {
	b := []byte(name)
	if len(b) > maxNameLen {
		b = b[:maxNameLen]
	}
	bc.Name = [16]byte{}
	copy(bc.Name[:], b)
}
