package midi

import (
	"errors"
	"io"
	"sync/atomic"
)

// Event is the bitmask delivered by the serial transport's completion
// callback.
type Event uint32

const (
	EventReceiveComplete Event = 1 << iota
	EventReceiveError
	EventTransmitComplete
)

// MaxChunk is the largest receive chunk a Receiver will arm.
const MaxChunk = 16

var (
	ErrReceiveBusy = errors.New("receive already armed")
	ErrEmptyBuffer = errors.New("receive buffer is empty")
)

// Transport is a serial port whose receive completes once per call and must
// be reissued after every completion.
type Transport interface {
	Receive(buf []byte) error
}

// ReceiverStats counts receive completions and re-arm attempts.
type ReceiverStats struct {
	Completions uint32
	Errors      uint32
	Rearms      uint32
	Failures    uint32
}

// Receiver keeps a one-shot serial receive running and forwards each
// completed chunk to a byte sink, normally a Decoder.
type Receiver struct {
	tr  Transport
	dst io.Writer
	buf [MaxChunk]byte
	n   int

	armed       atomic.Bool
	completions atomic.Uint32
	errs        atomic.Uint32
	rearms      atomic.Uint32
	failures    atomic.Uint32
}

// NewReceiver returns a receiver reading chunks of the given size (clamped to
// 1..MaxChunk) from tr into dst. Call Start to issue the first receive.
func NewReceiver(tr Transport, dst io.Writer, chunk int) *Receiver {
	if chunk < 1 {
		chunk = 1
	}
	if chunk > MaxChunk {
		chunk = MaxChunk
	}
	return &Receiver{tr: tr, dst: dst, n: chunk}
}

// Start arms the first receive.
func (r *Receiver) Start() error {
	return r.arm()
}

// OnEvent is the transport completion callback. A completed chunk is copied
// out, the receive is re-armed, and only then is the chunk decoded. Receive
// errors re-arm without decoding. Other events are ignored.
func (r *Receiver) OnEvent(ev Event) {
	if ev&(EventReceiveComplete|EventReceiveError) == 0 {
		return
	}
	r.armed.Store(false)

	var chunk [MaxChunk]byte
	n := 0
	if ev&EventReceiveComplete != 0 {
		r.completions.Add(1)
		n = copy(chunk[:], r.buf[:r.n])
	} else {
		r.errs.Add(1)
	}

	// Failure here stops MIDI input until the next Start; it is counted,
	// not surfaced.
	_ = r.arm()

	if n > 0 {
		r.dst.Write(chunk[:n])
	}
}

// Armed reports whether a receive is outstanding.
func (r *Receiver) Armed() bool {
	return r.armed.Load()
}

// Stats returns a snapshot of the counters.
func (r *Receiver) Stats() ReceiverStats {
	return ReceiverStats{
		Completions: r.completions.Load(),
		Errors:      r.errs.Load(),
		Rearms:      r.rearms.Load(),
		Failures:    r.failures.Load(),
	}
}

func (r *Receiver) arm() error {
	if err := r.tr.Receive(r.buf[:r.n]); err != nil {
		r.failures.Add(1)
		return err
	}
	r.armed.Store(true)
	r.rearms.Add(1)
	return nil
}
