package banner

// HID keyboard page usage IDs used by the built-in banners and FromText.
const (
	KeyA = 0x04 + iota
	KeyB
	KeyC
	KeyD
	KeyE
	KeyF
	KeyG
	KeyH
	KeyI
	KeyJ
	KeyK
	KeyL
	KeyM
	KeyN
	KeyO
	KeyP
	KeyQ
	KeyR
	KeyS
	KeyT
	KeyU
	KeyV
	KeyW
	KeyX
	KeyY
	KeyZ
	Key1
	Key2
	Key3
	Key4
	Key5
	Key6
	Key7
	Key8
	Key9
	Key0
	KeyEnter
	KeyEsc
	KeyBackspace
	KeyTab
	KeySpace
	KeyMinus
	KeyEqual
	KeyLeftBrace
	KeyRightBrace
	KeyBackslash
)

const (
	KeySemicolon  = 0x33
	KeyApostrophe = 0x34
	KeyGrave      = 0x35
	KeyComma      = 0x36
	KeyDot        = 0x37
	KeySlash      = 0x38

	KeyRight = 0x4f
	KeyLeft  = 0x50
	KeyDown  = 0x51
	KeyUp    = 0x52

	// Media keys as Linux input codes. 0xE8-0xFF are reserved on the HID
	// keyboard page, so only hosts that map them (Linux) react; the standard
	// usages live on the consumer page (0xCD, 0xB6, 0xB5), which the stock
	// TinyGo keyboard interface does not send.
	KeyMediaPlayPause    = 0xe8
	KeyMediaPreviousSong = 0xea
	KeyMediaNextSong     = 0xeb
)

// Reserved reports whether usage is above the last defined keyboard page
// usage (the right GUI modifier, 0xE7).
func Reserved(usage uint8) bool {
	return usage > 0xe7
}

// HID modifier byte bits.
const (
	ModNone   = 0x00
	ModLCtrl  = 0x01
	ModLShift = 0x02
	ModLAlt   = 0x04
	ModLMeta  = 0x08
	ModRCtrl  = 0x10
	ModRShift = 0x20
	ModRAlt   = 0x40
	ModRMeta  = 0x80
)
