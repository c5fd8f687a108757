// Package serial runs the configuration protocol over the USB CDC console.
package serial

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/tuffrabit/tinygo-midikbd/pkg/protocol"
)

// DefaultPoll is how long Read sleeps when no byte is buffered.
const DefaultPoll = 5 * time.Millisecond

// Port is a non-blocking byte port. machine.Serial satisfies it.
type Port interface {
	Buffered() int
	ReadByte() (byte, error)
	Write(p []byte) (int, error)
}

// Handler answers one request frame.
type Handler interface {
	Handle(frame *protocol.Frame) *protocol.Response
}

// Monitor mirrors traffic on the debug display.
type Monitor interface {
	ShowIncomingFrame(frame *protocol.Frame)
	ShowOutgoingResponse(resp *protocol.Response)
	ShowError(err error)
}

// Serial is the device side of the protocol link.
type Serial struct {
	port    Port
	handler Handler
	monitor Monitor
	logger  *slog.Logger
	poll    time.Duration
	ctx     context.Context

	frames uint32
	errs   uint32
}

// NewSerial returns a Serial answering requests on port with h.
func NewSerial(port Port, h Handler, logger *slog.Logger) *Serial {
	if logger == nil {
		logger = slog.Default()
	}
	return &Serial{
		port:    port,
		handler: h,
		logger:  logger,
		poll:    DefaultPoll,
		ctx:     context.Background(),
	}
}

// SetMonitor attaches a traffic monitor.
func (s *Serial) SetMonitor(m Monitor) {
	s.monitor = m
}

// Handle serves frames until ctx is cancelled or the port fails.
func (s *Serial) Handle(ctx context.Context) error {
	s.ctx = ctx
	for {
		err := s.ServeFrame()
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, protocol.ErrInvalidFrame), errors.Is(err, protocol.ErrCRCMismatch):
			// Out of sync or line noise; hunt for the next sync byte.
		default:
			return err
		}
	}
}

// ServeFrame reads one request, answers it and writes the response.
func (s *Serial) ServeFrame() error {
	frame, err := protocol.ReadFrame(s)
	if err != nil {
		if errors.Is(err, protocol.ErrCRCMismatch) {
			s.errs++
			s.logger.Warn("serial: dropped frame", "err", err)
			s.show(nil, nil, err)
			// Let the host retry instead of waiting for a timeout.
			if werr := protocol.WriteResponse(s.port, &protocol.Response{Status: protocol.StatusCRCError}); werr != nil {
				return werr
			}
		}
		return err
	}

	s.frames++
	s.show(frame, nil, nil)

	resp := s.handler.Handle(frame)
	s.logger.Debug("serial: frame", "cmd", frame.Cmd, "len", len(frame.Payload), "status", resp.Status)
	s.show(nil, resp, nil)

	return protocol.WriteResponse(s.port, resp)
}

// Read implements io.Reader over the non-blocking port. It waits for at
// least one byte and returns what is buffered, up to len(p).
func (s *Serial) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for s.port.Buffered() == 0 {
		if err := s.ctx.Err(); err != nil {
			return 0, err
		}
		time.Sleep(s.poll)
	}

	n := 0
	for n < len(p) && s.port.Buffered() > 0 {
		c, err := s.port.ReadByte()
		if err != nil {
			if n > 0 {
				return n, nil
			}
			return 0, err
		}
		p[n] = c
		n++
	}
	return n, nil
}

// Frames returns the number of frames answered.
func (s *Serial) Frames() uint32 {
	return s.frames
}

// Errors returns the number of frames dropped on CRC mismatch.
func (s *Serial) Errors() uint32 {
	return s.errs
}

func (s *Serial) show(frame *protocol.Frame, resp *protocol.Response, err error) {
	if s.monitor == nil {
		return
	}
	switch {
	case frame != nil:
		s.monitor.ShowIncomingFrame(frame)
	case resp != nil:
		s.monitor.ShowOutgoingResponse(resp)
	case err != nil:
		s.monitor.ShowError(err)
	}
}

var _ io.Reader = (*Serial)(nil)
