// Package battery tracks the battery level and pushes it to subscribed hosts
// from the dispatch loop.
package battery

import (
	"sync"

	"github.com/tuffrabit/tinygo-midikbd/pkg/keyboard"
)

// MaxPeers is the number of hosts that can hold a battery subscription.
const MaxPeers = 4

// Linear discharge curve endpoints for a single Li-ion cell.
const (
	EmptyMillivolts = 3000
	FullMillivolts  = 4200
)

// Notifier delivers a level notification to one host.
type Notifier interface {
	SendLevel(peer keyboard.Peer, level uint8)
}

// Monitor holds the last measured level and a pending flag per peer. A peer
// is notified on Flush only if it is both pending and subscribed.
type Monitor struct {
	mu       sync.Mutex
	notifier Notifier
	level    uint8
	pending  [MaxPeers]bool
	enabled  [MaxPeers]bool
	sent     uint32
}

// NewMonitor returns a monitor at 100% with nothing pending.
func NewMonitor(n Notifier) *Monitor {
	return &Monitor{notifier: n, level: 100}
}

// Percent converts a cell voltage to a 0-100 level.
func Percent(mv uint32) uint8 {
	if mv <= EmptyMillivolts {
		return 0
	}
	if mv >= FullMillivolts {
		return 100
	}
	return uint8((mv - EmptyMillivolts) * 100 / (FullMillivolts - EmptyMillivolts))
}

// UpdateMillivolts records a new measurement and returns the level.
func (m *Monitor) UpdateMillivolts(mv uint32) uint8 {
	level := Percent(mv)
	m.SetLevel(level)
	return level
}

// SetLevel records a level; a change marks every peer pending.
func (m *Monitor) SetLevel(level uint8) {
	if level > 100 {
		level = 100
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if level == m.level {
		return
	}
	m.level = level
	for i := range m.pending {
		m.pending[i] = true
	}
}

// Level returns the last recorded level.
func (m *Monitor) Level() uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}

// SetEnabled records whether peer subscribed to level notifications.
// Subscribing queues the current level.
func (m *Monitor) SetEnabled(peer keyboard.Peer, enabled bool) {
	if int(peer) >= MaxPeers {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled[peer] = enabled
	if enabled {
		m.pending[peer] = true
	}
}

// MarkPending queues the current level for peer, e.g. after it connects.
func (m *Monitor) MarkPending(peer keyboard.Peer) {
	if int(peer) >= MaxPeers {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[peer] = true
}

// Flush sends the level to peer if one is pending and peer is subscribed.
func (m *Monitor) Flush(peer keyboard.Peer) bool {
	if int(peer) >= MaxPeers {
		return false
	}
	m.mu.Lock()
	if !m.pending[peer] || !m.enabled[peer] {
		m.mu.Unlock()
		return false
	}
	m.pending[peer] = false
	level := m.level
	m.sent++
	m.mu.Unlock()

	m.notifier.SendLevel(peer, level)
	return true
}

// Sent returns the number of notifications delivered.
func (m *Monitor) Sent() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent
}
