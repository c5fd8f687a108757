package dispatch

// Waker wakes a sleeping loop. Notify never blocks, so it may be called from
// interrupt handlers; notifications that arrive while one is already pending
// collapse into one.
type Waker struct {
	ch chan struct{}
}

// NewWaker returns a waker with nothing pending.
func NewWaker() *Waker {
	return &Waker{ch: make(chan struct{}, 1)}
}

// Notify marks the loop runnable.
func (w *Waker) Notify() {
	select {
	case w.ch <- struct{}{}:
	default:
	}
}

// C returns the channel a sleeping loop selects on.
func (w *Waker) C() <-chan struct{} {
	return w.ch
}
