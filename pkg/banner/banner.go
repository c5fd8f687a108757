// Package banner holds the scripted, cyclic sequence of keystrokes the device
// types out, one entry per completed trigger cycle.
package banner

import "errors"

// MaxEntries is the largest banner that fits a persisted banner slot.
const MaxEntries = 64

var (
	ErrEmptyBanner     = errors.New("banner has no entries")
	ErrBannerTooLong   = errors.New("banner exceeds maximum length")
	ErrUnsupportedChar = errors.New("character has no keycode")
)

// Entry is one keystroke: a HID usage ID plus the HID modifier byte.
type Entry struct {
	Keycode  uint8
	Modifier uint8
}

// Cursor is a position in a Banner. The zero Cursor points at the first
// entry; the only other way to obtain one is Banner.Advance, so a cursor is
// always in range for the banner that produced it.
type Cursor struct {
	pos uint16
}

// Index returns the cursor position.
func (c Cursor) Index() int {
	return int(c.pos)
}

// Banner is a fixed, non-empty, circular sequence of entries.
type Banner struct {
	entries []Entry
}

// New builds a banner from entries. The slice is copied.
func New(entries ...Entry) (*Banner, error) {
	if len(entries) == 0 {
		return nil, ErrEmptyBanner
	}
	if len(entries) > MaxEntries {
		return nil, ErrBannerTooLong
	}
	b := &Banner{entries: make([]Entry, len(entries))}
	copy(b.entries, entries)
	return b, nil
}

// MustNew is like New but panics on error. Intended for package-level tables.
func MustNew(entries ...Entry) *Banner {
	b, err := New(entries...)
	if err != nil {
		panic(err)
	}
	return b
}

// Len returns the number of entries.
func (b *Banner) Len() int {
	return len(b.entries)
}

// At returns the entry under the cursor.
func (b *Banner) At(c Cursor) Entry {
	// Wrap anyway so a cursor carried over from a longer banner stays total.
	return b.entries[int(c.pos)%len(b.entries)]
}

// Advance returns the cursor following c, wrapping to the first entry.
func (b *Banner) Advance(c Cursor) Cursor {
	return Cursor{pos: uint16((int(c.pos) + 1) % len(b.entries))}
}

// Entries returns a copy of the banner contents.
func (b *Banner) Entries() []Entry {
	out := make([]Entry, len(b.entries))
	copy(out, b.entries)
	return out
}
