// Package protocol is the framed request/response protocol spoken over the
// USB serial console by kbdctl.
//
// Frame format:
//
//	[SYNC:1][CODE:1][LEN:2][PAYLOAD:LEN][CRC:2]
//
// SYNC is 0xAA. CODE is a command in requests and a status in responses. LEN
// and CRC are little-endian; CRC is CRC16-CCITT (poly 0x1021, init 0xFFFF)
// over CODE, LEN and PAYLOAD.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	SyncByte = 0xAA

	// MaxPayload bounds LEN; anything larger is treated as line noise.
	MaxPayload = 4096

	// Command codes, host to device
	CmdGetDeviceConfig = 0x01
	CmdSetDeviceConfig = 0x02
	CmdGetBanner       = 0x03
	CmdSetBanner       = 0x04
	CmdDeleteBanner    = 0x05
	CmdListBanners     = 0x06
	CmdGetStorageStats = 0x07
	CmdPing            = 0x08
	CmdFactoryReset    = 0x09
	CmdGetVersion      = 0x10
	CmdDiscover        = 0x11
	CmdGetStatus       = 0x20
	CmdTrigger         = 0x21
	CmdActivateBanner  = 0x22

	// Response status codes, device to host
	StatusOK              = 0x00
	StatusError           = 0x01
	StatusInvalidCmd      = 0x02
	StatusInvalidData     = 0x03
	StatusNotFound        = 0x04
	StatusNoSpace         = 0x05
	StatusVersionMismatch = 0x06
	StatusCRCError        = 0x07
)

// Frame represents a protocol frame.
type Frame struct {
	Cmd     uint8
	Payload []byte
}

// Response represents a protocol response.
type Response struct {
	Status  uint8
	Payload []byte
}

// headerSize is SYNC, CODE and LEN.
const headerSize = 4

var (
	ErrInvalidFrame    = errors.New("invalid frame")
	ErrCRCMismatch     = errors.New("CRC mismatch")
	ErrTimeout         = errors.New("timeout")
	ErrPayloadTooLarge = errors.New("payload too large")
)

// ReadFrame reads one request. A leading byte other than SyncByte returns
// ErrInvalidFrame after consuming only that byte, so callers can resync by
// calling again.
func ReadFrame(r io.Reader) (*Frame, error) {
	code, payload, err := readRaw(r)
	if err != nil {
		return nil, err
	}
	return &Frame{Cmd: code, Payload: payload}, nil
}

// ReadResponse reads one response.
func ReadResponse(r io.Reader) (*Response, error) {
	code, payload, err := readRaw(r)
	if err != nil {
		return nil, err
	}
	return &Response{Status: code, Payload: payload}, nil
}

// WriteResponse writes resp as a single frame.
func WriteResponse(w io.Writer, resp *Response) error {
	return writeRaw(w, resp.Status, resp.Payload)
}

// WriteFrame writes a request.
func WriteFrame(w io.Writer, frame *Frame) error {
	return writeRaw(w, frame.Cmd, frame.Payload)
}

func readRaw(r io.Reader) (uint8, []byte, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:1]); err != nil {
		return 0, nil, err
	}
	if hdr[0] != SyncByte {
		return 0, nil, ErrInvalidFrame
	}
	if _, err := io.ReadFull(r, hdr[1:]); err != nil {
		return 0, nil, err
	}

	n := binary.LittleEndian.Uint16(hdr[2:])
	if n > MaxPayload {
		return 0, nil, fmt.Errorf("%w: length %d", ErrInvalidFrame, n)
	}

	// payload followed by the CRC
	body := make([]byte, int(n)+2)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, err
	}
	payload, sum := body[:n], binary.LittleEndian.Uint16(body[n:])

	crc := updateCRC(0xFFFF, hdr[1:])
	if crc = updateCRC(crc, payload); crc != sum {
		return 0, nil, fmt.Errorf("%w: got %04x, want %04x", ErrCRCMismatch, sum, crc)
	}

	if n == 0 {
		return hdr[1], nil, nil
	}
	return hdr[1], payload[:n:n], nil
}

func writeRaw(w io.Writer, code uint8, payload []byte) error {
	if len(payload) > MaxPayload {
		return fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}

	buf := make([]byte, 0, headerSize+len(payload)+2)
	buf = append(buf, SyncByte, code)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(payload)))
	buf = append(buf, payload...)
	buf = binary.LittleEndian.AppendUint16(buf, calcCRC(buf[1:]))

	_, err := w.Write(buf)
	return err
}

var crcTable = func() (t [256]uint16) {
	for i := range t {
		crc := uint16(i) << 8
		for j := 0; j < 8; j++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
		t[i] = crc
	}
	return t
}()

// calcCRC returns the CRC16-CCITT of data.
func calcCRC(data []byte) uint16 {
	return updateCRC(0xFFFF, data)
}

func updateCRC(crc uint16, data []byte) uint16 {
	for _, b := range data {
		crc = crc<<8 ^ crcTable[byte(crc>>8)^b]
	}
	return crc
}
