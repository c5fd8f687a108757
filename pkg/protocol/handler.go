package protocol

import (
	"encoding/binary"
	"errors"
	"log/slog"

	"github.com/tuffrabit/tinygo-midikbd/pkg/banner"
	"github.com/tuffrabit/tinygo-midikbd/pkg/config"
	"github.com/tuffrabit/tinygo-midikbd/pkg/keystate"
	"github.com/tuffrabit/tinygo-midikbd/pkg/midi"
	"github.com/tuffrabit/tinygo-midikbd/pkg/storage"
	"github.com/tuffrabit/tinygo-midikbd/pkg/trigger"
)

// DeviceName is returned by CmdDiscover.
const DeviceName = "midikbd"

// Firmware version reported by CmdGetVersion.
const (
	FirmwareMajor = 0
	FirmwareMinor = 2
)

// Runtime is the live key state machine the handler reports on and drives.
// *keystate.Machine satisfies it.
type Runtime interface {
	Snapshot() keystate.Snapshot
	OnTrigger()
	SetBanner(b *banner.Banner)
	SetPolicy(p keystate.Policy)
}

// ButtonCounters exposes the debounced button statistics.
type ButtonCounters interface {
	Stats() trigger.Stats
}

// DecoderCounters exposes the MIDI decoder statistics.
type DecoderCounters interface {
	Stats() midi.Stats
	LastProgram() (midi.ProgramChange, bool)
}

// Handler processes protocol commands.
type Handler struct {
	storage *storage.Manager
	runtime Runtime
	button  ButtonCounters
	decoder DecoderCounters
	logger  *slog.Logger
}

// NewHandler creates a new protocol handler. rt may be nil on a device that
// only serves configuration.
func NewHandler(sm *storage.Manager, rt Runtime, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		storage: sm,
		runtime: rt,
		logger:  logger,
	}
}

// SetButton attaches the button counters reported by CmdGetStatus.
func (h *Handler) SetButton(b ButtonCounters) {
	h.button = b
}

// SetDecoder attaches the decoder counters reported by CmdGetStatus.
func (h *Handler) SetDecoder(d DecoderCounters) {
	h.decoder = d
}

// Handle processes a command frame and returns a response.
func (h *Handler) Handle(frame *Frame) *Response {
	switch frame.Cmd {
	case CmdPing:
		return h.handlePing(frame.Payload)
	case CmdGetDeviceConfig:
		return h.handleGetDeviceConfig()
	case CmdSetDeviceConfig:
		return h.handleSetDeviceConfig(frame.Payload)
	case CmdGetBanner:
		return h.handleGetBanner(frame.Payload)
	case CmdSetBanner:
		return h.handleSetBanner(frame.Payload)
	case CmdDeleteBanner:
		return h.handleDeleteBanner(frame.Payload)
	case CmdListBanners:
		return h.handleListBanners()
	case CmdGetStorageStats:
		return h.handleGetStorageStats()
	case CmdFactoryReset:
		return h.handleFactoryReset()
	case CmdGetVersion:
		return h.handleGetVersion()
	case CmdDiscover:
		return &Response{Status: StatusOK, Payload: []byte(DeviceName)}
	case CmdGetStatus:
		return h.handleGetStatus()
	case CmdTrigger:
		return h.handleTrigger()
	case CmdActivateBanner:
		return h.handleActivateBanner(frame.Payload)
	default:
		return &Response{Status: StatusInvalidCmd}
	}
}

// handlePing responds with the same payload (echo).
func (h *Handler) handlePing(payload []byte) *Response {
	return &Response{
		Status:  StatusOK,
		Payload: payload,
	}
}

// handleGetDeviceConfig reports the settings the device boots with, which
// are the factory defaults when nothing valid is stored.
func (h *Handler) handleGetDeviceConfig() *Response {
	cfg := h.storage.LoadDeviceOrDefault()

	data, err := cfg.MarshalBinary()
	if err != nil {
		return &Response{Status: StatusError}
	}

	return &Response{
		Status:  StatusOK,
		Payload: data,
	}
}

// handleSetDeviceConfig updates the device configuration.
// Payload: [DeviceConfig:16 bytes]
func (h *Handler) handleSetDeviceConfig(payload []byte) *Response {
	if len(payload) != config.DeviceConfigSize {
		return &Response{Status: StatusInvalidData}
	}

	var cfg config.DeviceConfig
	if err := cfg.UnmarshalBinary(payload); err != nil {
		return &Response{Status: StatusInvalidData}
	}
	if err := cfg.Validate(); err != nil {
		h.logger.Warn("protocol: rejected device config", "err", err)
		return &Response{Status: StatusInvalidData}
	}

	if err := h.storage.SaveDevice(&cfg); err != nil {
		return h.storageError("set device config", err)
	}

	// Pin, UART and tick settings apply on the next boot; the policy is live.
	if h.runtime != nil {
		h.runtime.SetPolicy(cfg.Policy())
	}

	return &Response{Status: StatusOK}
}

// handleGetBanner returns a banner by slot number.
// Payload: [Slot:1 byte]
func (h *Handler) handleGetBanner(payload []byte) *Response {
	if len(payload) != 1 {
		return &Response{Status: StatusInvalidData}
	}

	var bc config.BannerConfig
	if err := h.storage.LoadBanner(payload[0], &bc); err != nil {
		return h.storageError("get banner", err)
	}

	data, err := bc.MarshalBinary()
	if err != nil {
		return &Response{Status: StatusError}
	}

	return &Response{
		Status:  StatusOK,
		Payload: data,
	}
}

// handleSetBanner saves a banner to a slot. Writing the active slot also
// reloads the running banner.
// Payload: [Slot:1 byte][BannerConfig:148 bytes]
func (h *Handler) handleSetBanner(payload []byte) *Response {
	if len(payload) != 1+config.BannerConfigSize {
		return &Response{Status: StatusInvalidData}
	}

	slot := payload[0]

	var bc config.BannerConfig
	if err := bc.UnmarshalBinary(payload[1:]); err != nil {
		return &Response{Status: StatusInvalidData}
	}

	if bc.Version != config.CurrentVersion {
		return &Response{Status: StatusVersionMismatch}
	}

	b, err := bc.Banner()
	if err != nil {
		return &Response{Status: StatusInvalidData}
	}

	if err := h.storage.SaveBanner(slot, &bc); err != nil {
		return h.storageError("set banner", err)
	}

	if h.runtime != nil && h.storage.LoadDeviceOrDefault().ActiveBanner == slot {
		h.runtime.SetBanner(b)
		h.logger.Info("protocol: reloaded active banner", "slot", slot, "entries", b.Len())
	}

	return &Response{Status: StatusOK}
}

// handleDeleteBanner removes a banner from a slot.
// Payload: [Slot:1 byte]
func (h *Handler) handleDeleteBanner(payload []byte) *Response {
	if len(payload) != 1 {
		return &Response{Status: StatusInvalidData}
	}

	if err := h.storage.DeleteBanner(payload[0]); err != nil {
		return h.storageError("delete banner", err)
	}

	return &Response{Status: StatusOK}
}

// handleListBanners returns all occupied banner slots.
// Response: [Count:1 byte][Slot1:1 byte][Slot2:1 byte]...
func (h *Handler) handleListBanners() *Response {
	slots, err := h.storage.ListBanners()
	if err != nil {
		return &Response{Status: StatusError}
	}

	payload := make([]byte, 1+len(slots))
	payload[0] = uint8(len(slots))
	copy(payload[1:], slots)

	return &Response{
		Status:  StatusOK,
		Payload: payload,
	}
}

// handleGetStorageStats returns storage statistics.
func (h *Handler) handleGetStorageStats() *Response {
	stats, err := h.storage.GetStats()
	if err != nil {
		return &Response{Status: StatusError}
	}

	wire := StorageStats{
		Total:       uint32(stats.TotalSpace),
		Used:        uint32(stats.UsedSpace),
		Free:        uint32(stats.FreeSpace),
		BannerCount: uint8(stats.BannerCount),
	}
	payload, _ := wire.MarshalBinary()

	return &Response{
		Status:  StatusOK,
		Payload: payload,
	}
}

// handleFactoryReset wipes all configuration and restores the factory
// banner on the running machine.
func (h *Handler) handleFactoryReset() *Response {
	if err := h.storage.ForceWipe(); err != nil {
		return &Response{Status: StatusError}
	}
	if h.runtime != nil {
		h.runtime.SetBanner(banner.Default())
		h.runtime.SetPolicy(keystate.DeferReleased)
	}
	h.logger.Info("protocol: factory reset")
	return &Response{Status: StatusOK}
}

// handleGetVersion returns firmware and config version info.
// Response: [FirmwareVersionMajor:1][FirmwareVersionMinor:1][ConfigVersion:2]
func (h *Handler) handleGetVersion() *Response {
	payload := make([]byte, 4)
	payload[0] = FirmwareMajor
	payload[1] = FirmwareMinor
	binary.LittleEndian.PutUint16(payload[2:], config.CurrentVersion)

	return &Response{
		Status:  StatusOK,
		Payload: payload,
	}
}

// handleGetStatus returns the key state snapshot and trigger counters.
func (h *Handler) handleGetStatus() *Response {
	if h.runtime == nil {
		return &Response{Status: StatusInvalidCmd}
	}

	s := Collect(h.runtime, h.button, h.decoder)
	payload, _ := s.MarshalBinary()
	return &Response{
		Status:  StatusOK,
		Payload: payload,
	}
}

// handleTrigger injects one trigger, exactly as a button press would.
func (h *Handler) handleTrigger() *Response {
	if h.runtime == nil {
		return &Response{Status: StatusInvalidCmd}
	}
	h.runtime.OnTrigger()
	return &Response{Status: StatusOK}
}

// handleActivateBanner switches the running banner to a stored slot and
// persists the choice.
// Payload: [Slot:1 byte]
func (h *Handler) handleActivateBanner(payload []byte) *Response {
	if len(payload) != 1 {
		return &Response{Status: StatusInvalidData}
	}
	slot := payload[0]

	var bc config.BannerConfig
	if err := h.storage.LoadBanner(slot, &bc); err != nil {
		return h.storageError("activate banner", err)
	}
	b, err := bc.Banner()
	if err != nil {
		return &Response{Status: StatusInvalidData}
	}

	cfg := h.storage.LoadDeviceOrDefault()
	cfg.ActiveBanner = slot
	if err := h.storage.SaveDevice(&cfg); err != nil {
		return h.storageError("activate banner", err)
	}

	if h.runtime != nil {
		h.runtime.SetBanner(b)
	}
	h.logger.Info("protocol: activated banner", "slot", slot, "name", bc.GetName())

	return &Response{Status: StatusOK}
}

// storageError maps a storage error to a response status.
func (h *Handler) storageError(op string, err error) *Response {
	switch {
	case errors.Is(err, storage.ErrBannerNotFound), errors.Is(err, storage.ErrDeviceNotFound):
		return &Response{Status: StatusNotFound}
	case errors.Is(err, storage.ErrFlashFull):
		return &Response{Status: StatusNoSpace}
	case errors.Is(err, storage.ErrInvalidBanner):
		return &Response{Status: StatusInvalidData}
	}
	h.logger.Warn("protocol: storage failure", "op", op, "err", err)
	return &Response{Status: StatusError}
}
