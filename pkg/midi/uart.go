package midi

// ByteReader is a buffered serial input. TinyGo's machine.UART satisfies it.
type ByteReader interface {
	Buffered() int
	ReadByte() (byte, error)
}

// UART adapts a buffered ByteReader into a one-shot receive Transport.
// Receive arms a buffer; Poll fills it from the reader and raises
// EventReceiveComplete through the handler once it is full. While nothing is
// armed, incoming bytes stay in the reader's FIFO.
type UART struct {
	r       ByteReader
	handler func(Event)
	pending []byte
	filled  int
}

// NewUART wraps r.
func NewUART(r ByteReader) *UART {
	return &UART{r: r}
}

// SetHandler installs the completion callback, usually Receiver.OnEvent.
func (u *UART) SetHandler(fn func(Event)) {
	u.handler = fn
}

// Receive arms buf for the next completion.
func (u *UART) Receive(buf []byte) error {
	if u.pending != nil {
		return ErrReceiveBusy
	}
	if len(buf) == 0 {
		return ErrEmptyBuffer
	}
	u.pending = buf
	u.filled = 0
	return nil
}

// Poll drains available bytes into armed buffers and returns the number of
// completion events raised.
func (u *UART) Poll() int {
	events := 0
	for u.pending != nil && u.r.Buffered() > 0 {
		c, err := u.r.ReadByte()
		if err != nil {
			u.pending = nil
			events++
			u.fire(EventReceiveError)
			return events
		}

		u.pending[u.filled] = c
		u.filled++
		if u.filled == len(u.pending) {
			u.pending = nil
			events++
			u.fire(EventReceiveComplete)
		}
	}
	return events
}

func (u *UART) fire(ev Event) {
	if u.handler != nil {
		u.handler(ev)
	}
}
