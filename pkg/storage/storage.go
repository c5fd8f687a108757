// Package storage keeps the device settings and banner slots on a LittleFS
// volume. Every file is a fixed-size record from pkg/config, replaced
// atomically through a temp file.
package storage

import (
	"encoding"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/tuffrabit/tinygo-midikbd/pkg/banner"
	"github.com/tuffrabit/tinygo-midikbd/pkg/config"

	"tinygo.org/x/tinyfs"
	"tinygo.org/x/tinyfs/littlefs"
)

const (
	configDir    = "/config"
	bannersDir   = "/config/banners"
	deviceFile   = "/config/device.bin"
	tempSuffix   = ".tmp"
	bannerSuffix = ".bin"

	// Estimated flash use: a banner record plus LittleFS metadata, and the
	// directories with the device record.
	bannerFootprint = 180
	baseFootprint   = 100

	// minFree is the headroom required before a new slot is created.
	minFree = 512
)

var (
	ErrBannerNotFound  = errors.New("banner not found")
	ErrDeviceNotFound  = errors.New("device config not found")
	ErrFlashFull       = errors.New("insufficient flash space")
	ErrInvalidBanner   = errors.New("invalid banner data")
	ErrVersionMismatch = errors.New("config version mismatch")
	ErrFilesystem      = errors.New("filesystem error")
)

// Manager owns the mounted volume.
type Manager struct {
	fs       *littlefs.LFS
	blockDev tinyfs.BlockDevice
	logger   *slog.Logger
	mounted  bool
}

// Stats describes estimated volume usage.
type Stats struct {
	TotalSpace  int64
	UsedSpace   int64
	FreeSpace   int64
	BannerCount int
}

// New mounts blockDev, formatting it first if format is set and the mount
// fails. Stale temp files are removed, and if the stored device record was
// written by a different config version every record is wiped.
func New(blockDev tinyfs.BlockDevice, format bool, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}

	lfs := littlefs.New(blockDev)
	lfs.Configure(&littlefs.Config{
		CacheSize:     512,
		LookaheadSize: 128,
	})
	if err := mount(lfs, format, logger); err != nil {
		return nil, fmt.Errorf("%w: mount: %w", ErrFilesystem, err)
	}

	m := &Manager{
		fs:       lfs,
		blockDev: blockDev,
		logger:   logger,
		mounted:  true,
	}

	if err := m.bootCleanup(); err != nil {
		logger.Warn("storage: boot cleanup failed", "err", err)
	}

	if err := m.checkVersion(); errors.Is(err, ErrVersionMismatch) {
		// Stored banners are restored from the host tool afterwards.
		logger.Warn("storage: wiping configs", "err", err)
		if err := m.wipeAll(); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func mount(lfs *littlefs.LFS, format bool, logger *slog.Logger) error {
	err := lfs.Mount()
	if err == nil || !format {
		return err
	}
	logger.Warn("storage: mount failed, formatting", "err", err)
	if err := lfs.Format(); err != nil {
		return err
	}
	return lfs.Mount()
}

// Close unmounts the volume.
func (m *Manager) Close() error {
	if !m.mounted {
		return nil
	}
	m.mounted = false
	return m.fs.Unmount()
}

// bootCleanup removes temp files left by writes interrupted by a reset.
func (m *Manager) bootCleanup() error {
	for _, dir := range []string{configDir, bannersDir} {
		entries, err := m.readDir(dir)
		if isNotExist(err) {
			continue
		}
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if !strings.HasSuffix(entry.Name(), tempSuffix) {
				continue
			}
			p := path.Join(dir, entry.Name())
			m.logger.Debug("storage: removing stale temp file", "path", p)
			m.fs.Remove(p)
		}
	}
	return nil
}

func (m *Manager) readDir(dir string) ([]os.FileInfo, error) {
	f, err := m.fs.Open(dir)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if !f.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrFilesystem, dir)
	}
	return f.Readdir(-1)
}

// checkVersion returns ErrVersionMismatch when the device record carries a
// foreign version. A missing record is a first boot, not a mismatch.
func (m *Manager) checkVersion() error {
	var cfg config.DeviceConfig
	if err := m.LoadDevice(&cfg); err != nil {
		if errors.Is(err, ErrDeviceNotFound) {
			return nil
		}
		return err
	}
	if cfg.Version != config.CurrentVersion {
		return fmt.Errorf("%w: stored %d, firmware %d", ErrVersionMismatch, cfg.Version, config.CurrentVersion)
	}
	return nil
}

func (m *Manager) wipeAll() error {
	slots, err := m.ListBanners()
	if err != nil {
		return err
	}
	for _, slot := range slots {
		if err := m.DeleteBanner(slot); err != nil {
			m.logger.Warn("storage: delete failed during wipe", "slot", slot, "err", err)
		}
	}
	if err := m.fs.Remove(deviceFile); err != nil && !isNotExist(err) {
		return fmt.Errorf("%w: remove %s: %w", ErrFilesystem, deviceFile, err)
	}
	return nil
}

func (m *Manager) ensureDirs() error {
	for _, dir := range []string{configDir, bannersDir} {
		if err := m.fs.Mkdir(dir, 0755); err != nil && !isExist(err) {
			return fmt.Errorf("%w: mkdir %s: %w", ErrFilesystem, dir, err)
		}
	}
	return nil
}

// LittleFS reports some conditions only through the error text.
func isExist(err error) bool {
	return err != nil && (os.IsExist(err) || strings.Contains(err.Error(), "already exists"))
}

func isNotExist(err error) bool {
	return err != nil && (os.IsNotExist(err) || strings.Contains(err.Error(), "No directory entry"))
}

// readRecord decodes the size-byte record at p into v. A missing file
// returns notFound; a short file returns short.
func (m *Manager) readRecord(p string, size int, v encoding.BinaryUnmarshaler, notFound, short error) error {
	f, err := m.fs.Open(p)
	if isNotExist(err) {
		return notFound
	}
	if err != nil {
		return fmt.Errorf("%w: open %s: %w", ErrFilesystem, p, err)
	}
	defer f.Close()

	buf := make([]byte, size)
	n, err := f.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: read %s: %w", ErrFilesystem, p, err)
	}
	if n != size {
		return short
	}
	return v.UnmarshalBinary(buf)
}

// writeRecord encodes v and atomically replaces p with it.
func (m *Manager) writeRecord(p string, v encoding.BinaryMarshaler) error {
	if err := m.ensureDirs(); err != nil {
		return err
	}
	data, err := v.MarshalBinary()
	if err != nil {
		return err
	}
	return m.atomicWrite(p, data)
}

// LoadDevice reads the device record into cfg.
func (m *Manager) LoadDevice(cfg *config.DeviceConfig) error {
	return m.readRecord(deviceFile, config.DeviceConfigSize, cfg, ErrDeviceNotFound, config.ErrInvalidSize)
}

// LoadDeviceOrDefault returns the stored device record, or the factory
// settings if it is missing or does not validate.
func (m *Manager) LoadDeviceOrDefault() config.DeviceConfig {
	var cfg config.DeviceConfig
	err := m.LoadDevice(&cfg)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		if !errors.Is(err, ErrDeviceNotFound) {
			m.logger.Warn("storage: device config unusable, using defaults", "err", err)
		}
		return config.DefaultDevice()
	}
	return cfg
}

// SaveDevice stamps cfg with the current version and stores it.
func (m *Manager) SaveDevice(cfg *config.DeviceConfig) error {
	cfg.Version = config.CurrentVersion
	return m.writeRecord(deviceFile, cfg)
}

// LoadBanner reads the banner record in slot into bc.
func (m *Manager) LoadBanner(slot uint8, bc *config.BannerConfig) error {
	return m.readRecord(m.bannerPath(slot), config.BannerConfigSize, bc, ErrBannerNotFound, ErrInvalidBanner)
}

// LoadBannerOrDefault returns the runtime banner for slot, or the built-in
// banner if the slot is empty or unusable.
func (m *Manager) LoadBannerOrDefault(slot uint8) *banner.Banner {
	var bc config.BannerConfig
	err := m.LoadBanner(slot, &bc)
	var b *banner.Banner
	if err == nil {
		b, err = bc.Banner()
	}
	if err != nil {
		if !errors.Is(err, ErrBannerNotFound) {
			m.logger.Warn("storage: banner unusable, using default", "slot", slot, "err", err)
		}
		return banner.Default()
	}
	return b
}

// SaveBanner stamps bc with the current version and stores it in slot.
// Creating a new slot fails with ErrFlashFull when space runs low.
func (m *Manager) SaveBanner(slot uint8, bc *config.BannerConfig) error {
	if bc.Count == 0 || int(bc.Count) > banner.MaxEntries {
		return ErrInvalidBanner
	}
	if !m.BannerExists(slot) && !m.CanFitBanner() {
		return ErrFlashFull
	}
	bc.Version = config.CurrentVersion
	return m.writeRecord(m.bannerPath(slot), bc)
}

// DeleteBanner removes slot.
func (m *Manager) DeleteBanner(slot uint8) error {
	err := m.fs.Remove(m.bannerPath(slot))
	if isNotExist(err) {
		return ErrBannerNotFound
	}
	return err
}

// BannerExists reports whether slot holds a record.
func (m *Manager) BannerExists(slot uint8) bool {
	f, err := m.fs.Open(m.bannerPath(slot))
	if err != nil {
		return false
	}
	f.Close()
	return true
}

// ListBanners returns the occupied slots in directory order.
func (m *Manager) ListBanners() ([]uint8, error) {
	entries, err := m.readDir(bannersDir)
	if isNotExist(err) {
		return []uint8{}, nil
	}
	if err != nil {
		return nil, err
	}

	slots := make([]uint8, 0, len(entries))
	for _, entry := range entries {
		// "N.bin.tmp" has the wrong suffix and is skipped here.
		num, ok := strings.CutSuffix(entry.Name(), bannerSuffix)
		if !ok {
			continue
		}
		if slot, err := strconv.ParseUint(num, 10, 8); err == nil {
			slots = append(slots, uint8(slot))
		}
	}
	return slots, nil
}

// GetStats estimates usage from the slot count; LittleFS exposes no free
// space query.
func (m *Manager) GetStats() (*Stats, error) {
	slots, err := m.ListBanners()
	if err != nil {
		return nil, err
	}

	total := m.blockDev.Size()
	used := int64(baseFootprint + len(slots)*bannerFootprint)
	return &Stats{
		TotalSpace:  total,
		UsedSpace:   used,
		FreeSpace:   total - used,
		BannerCount: len(slots),
	}, nil
}

// CanFitBanner reports whether a new slot is likely to fit.
func (m *Manager) CanFitBanner() bool {
	stats, err := m.GetStats()
	return err == nil && stats.FreeSpace > minFree
}

func (m *Manager) bannerPath(slot uint8) string {
	return path.Join(bannersDir, strconv.Itoa(int(slot))+bannerSuffix)
}

// atomicWrite writes data to p+".tmp" and renames it over p. A reset at any
// point leaves either the old record or the new one, plus at most a temp
// file for bootCleanup.
func (m *Manager) atomicWrite(p string, data []byte) (err error) {
	tmp := p + tempSuffix
	m.fs.Remove(tmp)

	defer func() {
		if err != nil {
			m.fs.Remove(tmp)
			err = fmt.Errorf("%w: write %s: %w", ErrFilesystem, p, err)
		}
	}()

	f, err := m.fs.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return err
	}
	if _, err = f.Write(data); err != nil {
		f.Close()
		return err
	}
	if s, ok := f.(interface{ Sync() error }); ok {
		if err = s.Sync(); err != nil {
			f.Close()
			return err
		}
	}
	if err = f.Close(); err != nil {
		return err
	}

	// LittleFS rename does not replace an existing target.
	m.fs.Remove(p)
	return m.fs.Rename(tmp, p)
}

// ForceWipe deletes every stored record.
func (m *Manager) ForceWipe() error {
	return m.wipeAll()
}
