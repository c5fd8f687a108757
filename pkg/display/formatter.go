package display

import (
	"fmt"
	"strings"

	"github.com/tuffrabit/tinygo-midikbd/pkg/keystate"
	"github.com/tuffrabit/tinygo-midikbd/pkg/protocol"
)

// Cols is the display width in characters.
const Cols = 16

// FrameFormatter formats protocol traffic and key status for the SSD1306.
// Every string it returns fits a Cols-wide row.
type FrameFormatter struct{}

// NewFrameFormatter returns a formatter.
func NewFrameFormatter() *FrameFormatter {
	return &FrameFormatter{}
}

// FormatIncoming returns the raw bytes row and the decoded row for a request.
func (f *FrameFormatter) FormatIncoming(frame *protocol.Frame) (bytesStr, parsedStr string) {
	bytesStr = f.formatBytes(frame.Cmd, frame.Payload)
	parsedStr = fmt.Sprintf("%s[%d]", commandName(frame.Cmd), len(frame.Payload))
	return bytesStr, parsedStr
}

// FormatOutgoing is FormatIncoming for responses.
func (f *FrameFormatter) FormatOutgoing(resp *protocol.Response) (bytesStr, parsedStr string) {
	bytesStr = f.formatBytes(resp.Status, resp.Payload)
	parsedStr = fmt.Sprintf("%s[%d]", statusName(resp.Status), len(resp.Payload))
	return bytesStr, parsedStr
}

// FormatError clips an error message to the 12 columns beside the "E:" tag.
func (f *FrameFormatter) FormatError(err error) string {
	return clip(err.Error(), 12)
}

func clip(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// FormatStatus renders the key state rows:
//
//	PSH 3/42 D
//	Last 04+02
//	B12 M7 X1
//	E15 C2 Dr0
func (f *FrameFormatter) FormatStatus(s *protocol.Status) [4]string {
	var out [4]string

	line := fmt.Sprintf("%s %d/%d", stateLabel(s.Key.State), s.Key.Cursor, s.Key.BannerLen)
	if s.Key.Deferred {
		line += " D"
	}
	out[0] = Truncate(line, Cols)

	if s.Key.HasLast {
		out[1] = fmt.Sprintf("Last %02X+%02X", s.Key.Last.Keycode, s.Key.Last.Modifier)
	} else {
		out[1] = "Last --"
	}

	out[2] = Truncate(fmt.Sprintf("B%d M%d X%d", s.Button.Triggers, s.MIDI.Messages, s.MIDI.Discarded), Cols)
	out[3] = Truncate(fmt.Sprintf("E%d C%d Dr%d", s.Key.Emitted, s.Key.Coalesced, s.Key.Dropped), Cols)
	return out
}

// formatBytes formats the head of a frame as hex.
// Format: AA CODE LEN_LO LEN_HI [PAYLOAD..] ..
func (f *FrameFormatter) formatBytes(code uint8, payload []byte) string {
	var b strings.Builder

	payloadLen := uint16(len(payload))
	fmt.Fprintf(&b, "%02X %02X %02X%02X ", protocol.SyncByte, code, uint8(payloadLen), uint8(payloadLen>>8))

	// At most 4 payload bytes fit on a row.
	const maxPayloadBytes = 4
	for i := 0; i < len(payload) && i < maxPayloadBytes; i++ {
		fmt.Fprintf(&b, "%02X", payload[i])
	}
	if len(payload) > maxPayloadBytes {
		b.WriteString("..")
	} else if len(payload) > 0 {
		b.WriteString(" ")
	}

	// CRC is not recomputed for display.
	b.WriteString("..")

	return b.String()
}

var commandNames = map[uint8]string{
	protocol.CmdGetDeviceConfig: "GetDevCfg",
	protocol.CmdSetDeviceConfig: "SetDevCfg",
	protocol.CmdGetBanner:       "GetBnr",
	protocol.CmdSetBanner:       "SetBnr",
	protocol.CmdDeleteBanner:    "DelBnr",
	protocol.CmdListBanners:     "LstBnr",
	protocol.CmdGetStorageStats: "GetStor",
	protocol.CmdPing:            "Ping",
	protocol.CmdFactoryReset:    "FctRst",
	protocol.CmdGetVersion:      "GetVer",
	protocol.CmdDiscover:        "Discvr",
	protocol.CmdGetStatus:       "GetSts",
	protocol.CmdTrigger:         "Trig",
	protocol.CmdActivateBanner:  "ActBnr",
}

var statusNames = [...]string{
	protocol.StatusOK:              "OK",
	protocol.StatusError:           "Err",
	protocol.StatusInvalidCmd:      "InvCmd",
	protocol.StatusInvalidData:     "InvData",
	protocol.StatusNotFound:        "NotFnd",
	protocol.StatusNoSpace:         "NoSpace",
	protocol.StatusVersionMismatch: "VerMis",
	protocol.StatusCRCError:        "CRC",
}

func commandName(cmd uint8) string {
	if name, ok := commandNames[cmd]; ok {
		return name
	}
	return fmt.Sprintf("Cmd%02X", cmd)
}

func statusName(status uint8) string {
	if int(status) < len(statusNames) {
		return statusNames[status]
	}
	return fmt.Sprintf("Sts%02X", status)
}

// Truncate limits a string to maxLen characters, adding ".." if truncated.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 2 {
		return s[:maxLen]
	}
	return s[:maxLen-2] + ".."
}

// stateLabel is a three-letter state name.
func stateLabel(s keystate.State) string {
	switch s {
	case keystate.Idle:
		return "IDL"
	case keystate.Pushed:
		return "PSH"
	case keystate.Released:
		return "REL"
	default:
		return "???"
	}
}
