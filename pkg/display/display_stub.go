//go:build !tinygo || nodebug

// Package display provides a no-op stub when built with the nodebug tag or
// for the host. The formatter stays available for tests and host tools.
package display

import (
	"log/slog"

	"github.com/tuffrabit/tinygo-midikbd/pkg/protocol"
)

// Manager is a no-op stub.
type Manager struct{}

// NewManager returns nil; all Manager methods accept a nil receiver.
func NewManager(logger *slog.Logger) *Manager {
	return nil
}

// ShowIncomingFrame is a no-op.
func (m *Manager) ShowIncomingFrame(frame *protocol.Frame) {}

// ShowOutgoingResponse is a no-op.
func (m *Manager) ShowOutgoingResponse(resp *protocol.Response) {}

// ShowError is a no-op.
func (m *Manager) ShowError(err error) {}

// ShowStatus is a no-op.
func (m *Manager) ShowStatus(s *protocol.Status) {}
