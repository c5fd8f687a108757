// Package trigger turns raw push-button edge interrupts into logical key
// triggers.
//
// Debouncing is done with a single "ignore next edge" flag rather than a
// timer: after a press fires, the next edge is swallowed unconditionally and
// the button re-arms. This relies on the external debounce circuit settling
// after one extra edge; nothing here measures time.
package trigger

import "sync/atomic"

// Edge selects which pin transitions raise the interrupt.
type Edge uint8

const (
	EdgeFalling Edge = iota
	EdgeRising
	EdgeBoth
)

func (e Edge) String() string {
	switch e {
	case EdgeFalling:
		return "falling"
	case EdgeRising:
		return "rising"
	case EdgeBoth:
		return "both"
	default:
		return "unknown"
	}
}

// Sink receives logical triggers. keystate.Machine implements it.
type Sink interface {
	OnTrigger()
}

// Line reads the current level of the button pin. machine.Pin satisfies it.
type Line interface {
	Get() bool
}

// Stats counts what the button has seen since boot.
type Stats struct {
	Edges    uint32 // every OnEdge call
	Triggers uint32 // edges forwarded to the sink
	Ignored  uint32 // edges swallowed by the debounce guard
	Spurious uint32 // armed edges while the line read released
}

// Button is a debounced trigger source. OnEdge is safe to call from
// interrupt context.
type Button struct {
	line      Line
	sink      Sink
	activeLow bool
	armed     atomic.Bool

	edges    atomic.Uint32
	triggers atomic.Uint32
	ignored  atomic.Uint32
	spurious atomic.Uint32
}

// NewButton returns an armed button. With activeLow set, a line reading
// false means pressed.
func NewButton(line Line, sink Sink, activeLow bool) *Button {
	b := &Button{
		line:      line,
		sink:      sink,
		activeLow: activeLow,
	}
	b.armed.Store(true)
	return b
}

// OnEdge handles one hardware edge interrupt.
func (b *Button) OnEdge() {
	b.edges.Add(1)

	// A disarmed button consumes exactly one edge and re-arms.
	if b.armed.CompareAndSwap(false, true) {
		b.ignored.Add(1)
		return
	}

	if !b.pressed() {
		b.spurious.Add(1)
		return
	}

	if !b.armed.CompareAndSwap(true, false) {
		return
	}
	b.triggers.Add(1)
	b.sink.OnTrigger()
}

// Armed reports whether the next pressed edge will fire.
func (b *Button) Armed() bool {
	return b.armed.Load()
}

// Stats returns a snapshot of the counters.
func (b *Button) Stats() Stats {
	return Stats{
		Edges:    b.edges.Load(),
		Triggers: b.triggers.Load(),
		Ignored:  b.ignored.Load(),
		Spurious: b.spurious.Load(),
	}
}

func (b *Button) pressed() bool {
	level := b.line.Get()
	if b.activeLow {
		return !level
	}
	return level
}
