package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.bug.st/serial"

	"github.com/tuffrabit/tinygo-midikbd/pkg/config"
	"github.com/tuffrabit/tinygo-midikbd/pkg/protocol"
)

// maxSkip bounds how many non-frame bytes (console log text) are skipped
// while hunting for a response.
const maxSkip = 4096

// StatusError is a non-OK response status.
type StatusError uint8

func (e StatusError) Error() string {
	switch uint8(e) {
	case protocol.StatusError:
		return "device error"
	case protocol.StatusInvalidCmd:
		return "command not supported"
	case protocol.StatusInvalidData:
		return "invalid data"
	case protocol.StatusNotFound:
		return "not found"
	case protocol.StatusNoSpace:
		return "flash full"
	case protocol.StatusVersionMismatch:
		return "config version mismatch"
	case protocol.StatusCRCError:
		return "device saw a CRC error"
	default:
		return fmt.Sprintf("status 0x%02x", uint8(e))
	}
}

// Client speaks the config protocol to one device.
type Client struct {
	w      io.Writer
	r      *bufio.Reader
	logger *slog.Logger
}

// NewClient wraps an open link.
func NewClient(rw io.ReadWriter, logger *slog.Logger) *Client {
	return &Client{w: rw, r: bufio.NewReader(rw), logger: logger}
}

// timeoutPort turns go.bug.st/serial's (0, nil) read timeout into an error.
type timeoutPort struct {
	serial.Port
}

func (p timeoutPort) Read(b []byte) (int, error) {
	n, err := p.Port.Read(b)
	if n == 0 && err == nil {
		return 0, protocol.ErrTimeout
	}
	return n, err
}

// OpenSerial opens the device console at name.
func OpenSerial(name string, baud int, timeout time.Duration) (serial.Port, io.ReadWriter, error) {
	p, err := serial.Open(name, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", name, err)
	}
	if err := p.SetReadTimeout(timeout); err != nil {
		p.Close()
		return nil, nil, fmt.Errorf("set timeout on %s: %w", name, err)
	}
	return p, timeoutPort{p}, nil
}

// Do sends one request and returns the raw response.
func (c *Client) Do(cmd uint8, payload []byte) (*protocol.Response, error) {
	if err := protocol.WriteFrame(c.w, &protocol.Frame{Cmd: cmd, Payload: payload}); err != nil {
		return nil, fmt.Errorf("write frame: %w", err)
	}
	c.logger.Debug("kbdctl: sent", "cmd", cmd, "len", len(payload))

	for skipped := 0; ; skipped++ {
		resp, err := protocol.ReadResponse(c.r)
		if errors.Is(err, protocol.ErrInvalidFrame) && skipped < maxSkip {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		c.logger.Debug("kbdctl: received", "status", resp.Status, "len", len(resp.Payload), "skipped", skipped)
		return resp, nil
	}
}

// Call sends one request and returns the payload of an OK response.
func (c *Client) Call(cmd uint8, payload []byte) ([]byte, error) {
	resp, err := c.Do(cmd, payload)
	if err != nil {
		return nil, err
	}
	if resp.Status != protocol.StatusOK {
		return nil, StatusError(resp.Status)
	}
	return resp.Payload, nil
}

func (c *Client) Discover() (string, error) {
	p, err := c.Call(protocol.CmdDiscover, nil)
	return string(p), err
}

func (c *Client) Ping(payload []byte) error {
	p, err := c.Call(protocol.CmdPing, payload)
	if err != nil {
		return err
	}
	if string(p) != string(payload) {
		return fmt.Errorf("ping echo mismatch: sent %x, got %x", payload, p)
	}
	return nil
}

// Version returns firmware major, minor and the config format version.
func (c *Client) Version() (major, minor uint8, cfgVersion uint16, err error) {
	p, err := c.Call(protocol.CmdGetVersion, nil)
	if err != nil {
		return 0, 0, 0, err
	}
	if len(p) < 4 {
		return 0, 0, 0, protocol.ErrInvalidFrame
	}
	return p[0], p[1], uint16(p[2]) | uint16(p[3])<<8, nil
}

func (c *Client) Status() (protocol.Status, error) {
	var s protocol.Status
	p, err := c.Call(protocol.CmdGetStatus, nil)
	if err != nil {
		return s, err
	}
	return s, s.UnmarshalBinary(p)
}

func (c *Client) Trigger() error {
	_, err := c.Call(protocol.CmdTrigger, nil)
	return err
}

func (c *Client) DeviceConfig() (config.DeviceConfig, error) {
	var cfg config.DeviceConfig
	p, err := c.Call(protocol.CmdGetDeviceConfig, nil)
	if err != nil {
		return cfg, err
	}
	return cfg, cfg.UnmarshalBinary(p)
}

func (c *Client) SetDeviceConfig(cfg *config.DeviceConfig) error {
	data, err := cfg.MarshalBinary()
	if err != nil {
		return err
	}
	_, err = c.Call(protocol.CmdSetDeviceConfig, data)
	return err
}

func (c *Client) Banners() ([]uint8, error) {
	p, err := c.Call(protocol.CmdListBanners, nil)
	if err != nil {
		return nil, err
	}
	if len(p) < 1 || len(p) != 1+int(p[0]) {
		return nil, protocol.ErrInvalidFrame
	}
	return p[1:], nil
}

func (c *Client) Banner(slot uint8) (config.BannerConfig, error) {
	var bc config.BannerConfig
	p, err := c.Call(protocol.CmdGetBanner, []byte{slot})
	if err != nil {
		return bc, err
	}
	return bc, bc.UnmarshalBinary(p)
}

func (c *Client) SetBanner(slot uint8, bc *config.BannerConfig) error {
	data, err := bc.MarshalBinary()
	if err != nil {
		return err
	}
	_, err = c.Call(protocol.CmdSetBanner, append([]byte{slot}, data...))
	return err
}

func (c *Client) Activate(slot uint8) error {
	_, err := c.Call(protocol.CmdActivateBanner, []byte{slot})
	return err
}

func (c *Client) Delete(slot uint8) error {
	_, err := c.Call(protocol.CmdDeleteBanner, []byte{slot})
	return err
}

func (c *Client) StorageStats() (protocol.StorageStats, error) {
	var s protocol.StorageStats
	p, err := c.Call(protocol.CmdGetStorageStats, nil)
	if err != nil {
		return s, err
	}
	return s, s.UnmarshalBinary(p)
}

func (c *Client) FactoryReset() error {
	_, err := c.Call(protocol.CmdFactoryReset, nil)
	return err
}
