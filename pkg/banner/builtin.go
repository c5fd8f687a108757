package banner

import "fmt"

// DemoText is the text typed by the Demo banner.
const DemoText = "RSL10 ON Semiconductor HID Keyboard Demo \n"

var (
	defaultBanner = MustNew(Entry{Keycode: KeyLeft, Modifier: ModLAlt})
	mediaBanner   = MustNew(Entry{Keycode: KeyMediaPreviousSong})
)

// Default returns the factory banner: a single Alt+Left ("browser back").
func Default() *Banner {
	return defaultBanner
}

// MediaPrevious returns a single-entry banner sending media previous-song.
func MediaPrevious() *Banner {
	return mediaBanner
}

// Demo returns the demo banner spelling out DemoText.
func Demo() *Banner {
	b, err := FromText(DemoText)
	if err != nil {
		panic(err)
	}
	return b
}

type shifted struct {
	key   uint8
	shift bool
}

var punctuation = map[rune]shifted{
	' ':  {KeySpace, false},
	'\n': {KeyEnter, false},
	'\t': {KeyTab, false},
	'-':  {KeyMinus, false},
	'_':  {KeyMinus, true},
	'=':  {KeyEqual, false},
	'+':  {KeyEqual, true},
	'[':  {KeyLeftBrace, false},
	'{':  {KeyLeftBrace, true},
	']':  {KeyRightBrace, false},
	'}':  {KeyRightBrace, true},
	'\\': {KeyBackslash, false},
	'|':  {KeyBackslash, true},
	';':  {KeySemicolon, false},
	':':  {KeySemicolon, true},
	'\'': {KeyApostrophe, false},
	'"':  {KeyApostrophe, true},
	'`':  {KeyGrave, false},
	'~':  {KeyGrave, true},
	',':  {KeyComma, false},
	'<':  {KeyComma, true},
	'.':  {KeyDot, false},
	'>':  {KeyDot, true},
	'/':  {KeySlash, false},
	'?':  {KeySlash, true},
}

// digits shifted on a US layout, indexed by the digit key offset from Key1.
var shiftedDigits = []rune{'!', '@', '#', '$', '%', '^', '&', '*', '(', ')'}

// EntryForRune maps a printable ASCII character to a US-layout keystroke.
func EntryForRune(r rune) (Entry, error) {
	switch {
	case r >= 'a' && r <= 'z':
		return Entry{Keycode: uint8(KeyA + (r - 'a'))}, nil
	case r >= 'A' && r <= 'Z':
		return Entry{Keycode: uint8(KeyA + (r - 'A')), Modifier: ModLShift}, nil
	case r == '0':
		return Entry{Keycode: Key0}, nil
	case r >= '1' && r <= '9':
		return Entry{Keycode: uint8(Key1 + (r - '1'))}, nil
	}
	for i, s := range shiftedDigits {
		if s == r {
			return Entry{Keycode: uint8(Key1 + i), Modifier: ModLShift}, nil
		}
	}
	if p, ok := punctuation[r]; ok {
		e := Entry{Keycode: p.key}
		if p.shift {
			e.Modifier = ModLShift
		}
		return e, nil
	}
	return Entry{}, fmt.Errorf("%w: %q", ErrUnsupportedChar, r)
}

// FromText builds a banner that types s.
func FromText(s string) (*Banner, error) {
	entries := make([]Entry, 0, len(s))
	for _, r := range s {
		e, err := EntryForRune(r)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return New(entries...)
}

var runes = func() map[Entry]rune {
	m := make(map[Entry]rune)
	for r := rune('\t'); r < 0x7f; r++ {
		if e, err := EntryForRune(r); err == nil {
			m[e] = r
		}
	}
	return m
}()

// RuneForEntry is the inverse of EntryForRune.
func RuneForEntry(e Entry) (rune, bool) {
	r, ok := runes[e]
	return r, ok
}
