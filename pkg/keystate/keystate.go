// Package keystate owns the shared key state that both trigger sources feed
// and the dispatch loop drains.
//
// The state lives in a single atomic word. OnTrigger may run in interrupt
// context and only ever performs one compare-and-swap; TryEmit runs on the
// main loop. No other code can read-modify-write the state.
package keystate

import (
	"sync"
	"sync/atomic"

	"github.com/tuffrabit/tinygo-midikbd/pkg/banner"
	"github.com/tuffrabit/tinygo-midikbd/pkg/keyboard"
)

// State is the logical key state.
type State uint32

const (
	Idle     State = iota // nothing pending
	Pushed                // trigger seen, waiting to emit
	Released              // emitted, waiting for the cursor advance
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Pushed:
		return "pushed"
	case Released:
		return "released"
	default:
		return "unknown"
	}
}

// Result describes what a TryEmit call did.
type Result uint8

const (
	ResultNone     Result = iota // idle, nothing to do
	ResultNotReady               // link preconditions unmet
	ResultEmitted                // report sent, now Released
	ResultAdvanced               // cursor advanced, now Idle (or Pushed if deferred)
)

func (r Result) String() string {
	switch r {
	case ResultNone:
		return "none"
	case ResultNotReady:
		return "not-ready"
	case ResultEmitted:
		return "emitted"
	case ResultAdvanced:
		return "advanced"
	default:
		return "unknown"
	}
}

// Policy decides what happens to a trigger that arrives while Released.
type Policy uint32

const (
	// DeferReleased remembers one trigger and re-enters Pushed when the
	// cursor advances.
	DeferReleased Policy = iota
	// DropReleased discards triggers until the machine is back to Idle.
	DropReleased
)

const (
	stateMask   = 0xFF
	deferredBit = 1 << 8
)

// Snapshot is a consistent-enough view for status reporting.
type Snapshot struct {
	State     State
	Deferred  bool
	Cursor    int
	BannerLen int
	Last      banner.Entry
	HasLast   bool

	Triggers  uint32
	Coalesced uint32
	Deferrals uint32
	Dropped   uint32
	Emitted   uint32
	Advanced  uint32
}

// Machine is the key state machine.
type Machine struct {
	word     atomic.Uint32
	policy   atomic.Uint32
	reporter keyboard.Reporter

	// Main loop side; never touched from OnTrigger.
	mu      sync.Mutex
	banner  *banner.Banner
	cursor  banner.Cursor
	last    banner.Entry
	hasLast bool
	// rewound is set when the cursor was reset while Released; the next
	// advance then keeps it on entry 0.
	rewound bool

	triggers  atomic.Uint32
	coalesced atomic.Uint32
	deferrals atomic.Uint32
	dropped   atomic.Uint32
	emitted   atomic.Uint32
	advanced  atomic.Uint32
}

// New returns an Idle machine emitting b through r, cursor at 0.
func New(b *banner.Banner, r keyboard.Reporter) *Machine {
	return &Machine{
		banner:   b,
		reporter: r,
	}
}

// SetPolicy selects how triggers during Released are handled.
func (m *Machine) SetPolicy(p Policy) {
	m.policy.Store(uint32(p))
}

// SetBanner replaces the banner and rewinds the cursor. The next keystroke
// types the new banner's first entry, even if the swap lands between an
// emission and its advance.
func (m *Machine) SetBanner(b *banner.Banner) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.banner = b
	m.cursor = banner.Cursor{}
	m.rewound = m.State() == Released
}

// State returns the current state.
func (m *Machine) State() State {
	return State(m.word.Load() & stateMask)
}

// OnTrigger records a logical key trigger. Safe from interrupt context.
func (m *Machine) OnTrigger() {
	m.triggers.Add(1)
	for {
		w := m.word.Load()
		var next uint32
		switch State(w & stateMask) {
		case Idle:
			next = uint32(Pushed)
		case Pushed:
			m.coalesced.Add(1)
			return
		case Released:
			if w&deferredBit != 0 {
				m.coalesced.Add(1)
				return
			}
			if Policy(m.policy.Load()) == DropReleased {
				m.dropped.Add(1)
				return
			}
			next = w | deferredBit
		default:
			return
		}

		if m.word.CompareAndSwap(w, next) {
			if next&deferredBit != 0 {
				m.deferrals.Add(1)
			}
			return
		}
	}
}

// TryEmit is called once per dispatch iteration. When ready is false it does
// nothing. Otherwise a Pushed machine emits the entry under the cursor and
// moves to Released; a Released machine advances the cursor and returns to
// Idle, or straight to Pushed if a trigger was deferred meanwhile.
func (m *Machine) TryEmit(peer keyboard.Peer, ready bool) Result {
	if !ready {
		return ResultNotReady
	}

	w := m.word.Load()
	switch State(w & stateMask) {
	case Pushed:
		// Triggers never change a Pushed word, so this cannot lose one.
		if !m.word.CompareAndSwap(w, uint32(Released)) {
			return ResultNone
		}
		m.mu.Lock()
		e := m.banner.At(m.cursor)
		m.last, m.hasLast = e, true
		m.rewound = false
		m.mu.Unlock()

		m.emitted.Add(1)
		m.reporter.SendReport(e.Keycode, e.Modifier, peer)
		return ResultEmitted

	case Released:
		m.mu.Lock()
		if m.rewound {
			m.rewound = false
		} else {
			m.cursor = m.banner.Advance(m.cursor)
		}
		m.mu.Unlock()

		for {
			w = m.word.Load()
			next := uint32(Idle)
			if w&deferredBit != 0 {
				next = uint32(Pushed)
			}
			if m.word.CompareAndSwap(w, next) {
				break
			}
		}
		m.advanced.Add(1)
		return ResultAdvanced
	}

	return ResultNone
}

// Snapshot returns the current state, cursor and counters.
func (m *Machine) Snapshot() Snapshot {
	w := m.word.Load()

	m.mu.Lock()
	s := Snapshot{
		Cursor:    m.cursor.Index(),
		BannerLen: m.banner.Len(),
		Last:      m.last,
		HasLast:   m.hasLast,
	}
	m.mu.Unlock()

	s.State = State(w & stateMask)
	s.Deferred = w&deferredBit != 0
	s.Triggers = m.triggers.Load()
	s.Coalesced = m.coalesced.Load()
	s.Deferrals = m.deferrals.Load()
	s.Dropped = m.dropped.Load()
	s.Emitted = m.emitted.Load()
	s.Advanced = m.advanced.Load()
	return s
}
