package midi

import (
	"errors"
	"testing"
)

type fakeFIFO struct {
	data []byte
	err  error
}

func (f *fakeFIFO) Buffered() int { return len(f.data) }

func (f *fakeFIFO) ReadByte() (byte, error) {
	if f.err != nil {
		return 0, f.err
	}
	c := f.data[0]
	f.data = f.data[1:]
	return c, nil
}

func newUARTPipeline(fifo *fakeFIFO, chunk int) (*UART, *Receiver, *countingSink) {
	sink := &countingSink{}
	uart := NewUART(fifo)
	r := NewReceiver(uart, NewDecoder(sink), chunk)
	uart.SetHandler(r.OnEvent)
	return uart, r, sink
}

func TestUARTPollDecodes(t *testing.T) {
	fifo := &fakeFIFO{data: []byte{0x90, 0xC5, 0x07, 0xC0, 0x01}}
	uart, r, sink := newUARTPipeline(fifo, 1)

	if err := r.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if n := uart.Poll(); n != 5 {
		t.Errorf("Expected 5 completions, got %d", n)
	}
	if sink.n != 2 {
		t.Errorf("Expected 2 triggers, got %d", sink.n)
	}
	if fifo.Buffered() != 0 {
		t.Errorf("Expected FIFO drained, %d bytes left", fifo.Buffered())
	}
}

func TestUARTPartialChunkWaits(t *testing.T) {
	fifo := &fakeFIFO{data: []byte{0xC5}}
	uart, r, sink := newUARTPipeline(fifo, 2)
	r.Start()

	if n := uart.Poll(); n != 0 {
		t.Errorf("Expected no completion for half chunk, got %d", n)
	}

	fifo.data = append(fifo.data, 0x07)
	if n := uart.Poll(); n != 1 {
		t.Errorf("Expected 1 completion, got %d", n)
	}
	if sink.n != 1 {
		t.Errorf("Expected 1 trigger, got %d", sink.n)
	}
}

func TestUARTWithoutReceiveLeavesFIFO(t *testing.T) {
	fifo := &fakeFIFO{data: []byte{0xC5, 0x07}}
	uart, _, sink := newUARTPipeline(fifo, 1)

	// Never started: nothing is armed.
	if n := uart.Poll(); n != 0 {
		t.Errorf("Expected 0 completions, got %d", n)
	}
	if fifo.Buffered() != 2 || sink.n != 0 {
		t.Errorf("Unarmed UART consumed input: buffered=%d triggers=%d", fifo.Buffered(), sink.n)
	}
}

func TestUARTReceiveBusy(t *testing.T) {
	uart := NewUART(&fakeFIFO{})
	buf := make([]byte, 1)

	if err := uart.Receive(buf); err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if err := uart.Receive(buf); !errors.Is(err, ErrReceiveBusy) {
		t.Errorf("Expected ErrReceiveBusy, got %v", err)
	}
	if err := NewUART(&fakeFIFO{}).Receive(nil); !errors.Is(err, ErrEmptyBuffer) {
		t.Errorf("Expected ErrEmptyBuffer, got %v", err)
	}
}

func TestUARTReadErrorRaisesErrorEvent(t *testing.T) {
	fifo := &fakeFIFO{data: []byte{0xC5}, err: errors.New("framing")}
	uart, r, _ := newUARTPipeline(fifo, 1)
	r.Start()

	if n := uart.Poll(); n != 1 {
		t.Errorf("Expected 1 event, got %d", n)
	}
	if got := r.Stats().Errors; got != 1 {
		t.Errorf("Expected 1 receive error, got %d", got)
	}
	if !r.Armed() {
		t.Error("Receiver should re-arm after an error")
	}
}
