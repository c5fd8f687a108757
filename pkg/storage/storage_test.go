package storage

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/tuffrabit/tinygo-midikbd/pkg/banner"
	"github.com/tuffrabit/tinygo-midikbd/pkg/config"

	"tinygo.org/x/tinyfs"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStorage(t testing.TB) (*Manager, *tinyfs.MemBlockDevice) {
	// 256 byte pages, 4096 byte blocks, 64 blocks = 256KB
	blockDev := tinyfs.NewMemoryDevice(256, 4096, 64)

	mgr, err := New(blockDev, true, discardLogger())
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}

	return mgr, blockDev
}

// fileNames lists the regular entries of dir.
func fileNames(t *testing.T, mgr *Manager, dir string) []string {
	t.Helper()
	entries, err := mgr.readDir(dir)
	if err != nil {
		t.Fatalf("readDir failed: %v", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	return names
}

func TestDeviceConfigSaveLoad(t *testing.T) {
	mgr, _ := newTestStorage(t)
	defer mgr.Close()

	original := config.DefaultDevice()
	original.Version = 0
	original.Flags = config.FlagButtonEnabled | config.FlagDropReleasedTrigger
	original.ActiveBanner = 3
	original.MIDIChunk = 4

	if err := mgr.SaveDevice(&original); err != nil {
		t.Fatalf("SaveDevice failed: %v", err)
	}

	var loaded config.DeviceConfig
	if err := mgr.LoadDevice(&loaded); err != nil {
		t.Fatalf("LoadDevice failed: %v", err)
	}

	if loaded.Version != config.CurrentVersion {
		t.Errorf("Version not set: expected %d, got %d", config.CurrentVersion, loaded.Version)
	}
	if loaded != original {
		t.Errorf("Loaded %+v, want %+v", loaded, original)
	}
}

func TestDeviceNotFound(t *testing.T) {
	mgr, _ := newTestStorage(t)
	defer mgr.Close()

	var cfg config.DeviceConfig
	if err := mgr.LoadDevice(&cfg); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Expected ErrDeviceNotFound, got %v", err)
	}

	if got := mgr.LoadDeviceOrDefault(); got != config.DefaultDevice() {
		t.Errorf("LoadDeviceOrDefault = %+v, want defaults", got)
	}
}

func TestLoadDeviceOrDefaultRejectsInvalid(t *testing.T) {
	mgr, _ := newTestStorage(t)
	defer mgr.Close()

	bad := config.DefaultDevice()
	bad.MIDIChunk = 0
	if err := mgr.SaveDevice(&bad); err != nil {
		t.Fatalf("SaveDevice failed: %v", err)
	}

	if got := mgr.LoadDeviceOrDefault(); got != config.DefaultDevice() {
		t.Errorf("LoadDeviceOrDefault = %+v, want defaults", got)
	}
}

func TestBannerSaveLoad(t *testing.T) {
	mgr, _ := newTestStorage(t)
	defer mgr.Close()

	original := config.NewBannerConfig("Demo", banner.Demo())

	if err := mgr.SaveBanner(0, &original); err != nil {
		t.Fatalf("SaveBanner failed: %v", err)
	}

	var loaded config.BannerConfig
	if err := mgr.LoadBanner(0, &loaded); err != nil {
		t.Fatalf("LoadBanner failed: %v", err)
	}

	if loaded.GetName() != "Demo" {
		t.Errorf("Name: expected 'Demo', got '%s'", loaded.GetName())
	}
	if loaded != original {
		t.Error("Loaded banner differs from saved banner")
	}

	b := mgr.LoadBannerOrDefault(0)
	if b.Len() != len(banner.DemoText) {
		t.Errorf("LoadBannerOrDefault len = %d, want %d", b.Len(), len(banner.DemoText))
	}
}

func TestBannerNotFound(t *testing.T) {
	mgr, _ := newTestStorage(t)
	defer mgr.Close()

	var bc config.BannerConfig
	if err := mgr.LoadBanner(5, &bc); !errors.Is(err, ErrBannerNotFound) {
		t.Errorf("Expected ErrBannerNotFound, got %v", err)
	}

	b := mgr.LoadBannerOrDefault(5)
	if got, want := b.At(banner.Cursor{}), banner.Default().At(banner.Cursor{}); got != want {
		t.Errorf("LoadBannerOrDefault entry = %+v, want %+v", got, want)
	}
}

func TestSaveBannerRejectsEmpty(t *testing.T) {
	mgr, _ := newTestStorage(t)
	defer mgr.Close()

	var bc config.BannerConfig
	if err := mgr.SaveBanner(0, &bc); !errors.Is(err, ErrInvalidBanner) {
		t.Errorf("Expected ErrInvalidBanner, got %v", err)
	}
	if mgr.BannerExists(0) {
		t.Error("Empty banner should not have been written")
	}
}

func TestMultipleBanners(t *testing.T) {
	mgr, _ := newTestStorage(t)
	defer mgr.Close()

	want := []uint8{0, 3, 7, 12, 15}
	for _, slot := range want {
		bc := config.NewBannerConfig("Slot", banner.Default())
		if err := mgr.SaveBanner(slot, &bc); err != nil {
			t.Fatalf("SaveBanner slot %d failed: %v", slot, err)
		}
	}

	slots, err := mgr.ListBanners()
	if err != nil {
		t.Fatalf("ListBanners failed: %v", err)
	}
	if len(slots) != len(want) {
		t.Errorf("Expected %d banners, got %d", len(want), len(slots))
	}

	slotMap := make(map[uint8]bool)
	for _, s := range slots {
		slotMap[s] = true
	}
	for _, expected := range want {
		if !slotMap[expected] {
			t.Errorf("Expected slot %d in list", expected)
		}
	}
}

func TestDeleteBanner(t *testing.T) {
	mgr, _ := newTestStorage(t)
	defer mgr.Close()

	bc := config.NewBannerConfig("ToDelete", banner.MediaPrevious())
	mgr.SaveBanner(1, &bc)

	if !mgr.BannerExists(1) {
		t.Error("Banner should exist before deletion")
	}

	if err := mgr.DeleteBanner(1); err != nil {
		t.Fatalf("DeleteBanner failed: %v", err)
	}

	if mgr.BannerExists(1) {
		t.Error("Banner should not exist after deletion")
	}

	if err := mgr.DeleteBanner(1); !errors.Is(err, ErrBannerNotFound) {
		t.Errorf("Second delete: expected ErrBannerNotFound, got %v", err)
	}

	slots, _ := mgr.ListBanners()
	if len(slots) != 0 {
		t.Errorf("Expected 0 banners after deletion, got %d", len(slots))
	}
}

func TestAtomicWrite(t *testing.T) {
	mgr, _ := newTestStorage(t)
	defer mgr.Close()

	first := config.NewBannerConfig("Original", banner.Default())
	mgr.SaveBanner(0, &first)

	second := config.NewBannerConfig("Updated", banner.MustNew(
		banner.Entry{Keycode: banner.KeyA},
		banner.Entry{Keycode: banner.KeyB},
	))
	mgr.SaveBanner(0, &second)

	var loaded config.BannerConfig
	mgr.LoadBanner(0, &loaded)

	if loaded.GetName() != "Updated" {
		t.Errorf("Expected 'Updated', got '%s'", loaded.GetName())
	}
	if loaded.Count != 2 {
		t.Errorf("Expected 2 entries, got %d", loaded.Count)
	}

	// No temp file may survive a completed write.
	if names := fileNames(t, mgr, bannersDir); len(names) != 1 || names[0] != "0.bin" {
		t.Errorf("Banners dir = %v, want [0.bin]", names)
	}
}

func TestBootCleanupRemovesTempFiles(t *testing.T) {
	blockDev := tinyfs.NewMemoryDevice(256, 4096, 64)

	mgr, err := New(blockDev, true, discardLogger())
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	bc := config.NewBannerConfig("Keep", banner.Default())
	mgr.SaveBanner(2, &bc)

	// Simulate a write interrupted before the rename.
	f, err := mgr.fs.OpenFile(mgr.bannerPath(4)+tempSuffix, os.O_WRONLY|os.O_CREATE)
	if err != nil {
		t.Fatalf("OpenFile failed: %v", err)
	}
	f.Write([]byte{1, 2, 3})
	f.Close()
	mgr.Close()

	mgr2, err := New(blockDev, false, discardLogger())
	if err != nil {
		t.Fatalf("Failed to reopen storage: %v", err)
	}
	defer mgr2.Close()

	if names := fileNames(t, mgr2, bannersDir); len(names) != 1 || names[0] != "2.bin" {
		t.Errorf("Banners dir after cleanup = %v, want [2.bin]", names)
	}
}

func TestVersionPersistsAcrossMount(t *testing.T) {
	blockDev := tinyfs.NewMemoryDevice(256, 4096, 64)

	mgr, err := New(blockDev, true, discardLogger())
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}

	bc := config.NewBannerConfig("Survivor", banner.Default())
	mgr.SaveBanner(0, &bc)
	cfg := config.DefaultDevice()
	mgr.SaveDevice(&cfg)
	mgr.Close()

	// A matching version must not trigger the wipe on the next mount.
	mgr2, err := New(blockDev, false, discardLogger())
	if err != nil {
		t.Fatalf("Failed to reopen storage: %v", err)
	}
	defer mgr2.Close()

	if !mgr2.BannerExists(0) {
		t.Error("Banner should still exist when version matches")
	}

	var device config.DeviceConfig
	if err := mgr2.LoadDevice(&device); err != nil {
		t.Errorf("Device config should exist: %v", err)
	}
	if device.Version != config.CurrentVersion {
		t.Errorf("Device config version should be %d, got %d", config.CurrentVersion, device.Version)
	}
}

func TestVersionMismatchWipe(t *testing.T) {
	blockDev := tinyfs.NewMemoryDevice(256, 4096, 64)

	mgr, err := New(blockDev, true, discardLogger())
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}

	bc := config.NewBannerConfig("Stale", banner.Default())
	mgr.SaveBanner(0, &bc)

	// Write a device config carrying an older format version.
	old := config.DefaultDevice()
	old.Version = config.CurrentVersion + 1
	data, _ := old.MarshalBinary()
	if err := mgr.atomicWrite(deviceFile, data); err != nil {
		t.Fatalf("atomicWrite failed: %v", err)
	}
	mgr.Close()

	mgr2, err := New(blockDev, false, discardLogger())
	if err != nil {
		t.Fatalf("Failed to reopen storage: %v", err)
	}
	defer mgr2.Close()

	if mgr2.BannerExists(0) {
		t.Error("Banner should be wiped on version mismatch")
	}
	var device config.DeviceConfig
	if err := mgr2.LoadDevice(&device); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Expected device config wiped, got %v", err)
	}
}

func TestFactoryReset(t *testing.T) {
	mgr, _ := newTestStorage(t)
	defer mgr.Close()

	cfg := config.DefaultDevice()
	mgr.SaveDevice(&cfg)
	a := config.NewBannerConfig("A", banner.Default())
	b := config.NewBannerConfig("B", banner.Demo())
	mgr.SaveBanner(0, &a)
	mgr.SaveBanner(1, &b)

	if err := mgr.ForceWipe(); err != nil {
		t.Fatalf("ForceWipe failed: %v", err)
	}

	slots, _ := mgr.ListBanners()
	if len(slots) != 0 {
		t.Errorf("Expected 0 banners after reset, got %d", len(slots))
	}

	var device config.DeviceConfig
	if err := mgr.LoadDevice(&device); err == nil {
		t.Error("Expected device config to be wiped")
	}
}

func TestStorageStats(t *testing.T) {
	mgr, blockDev := newTestStorage(t)
	defer mgr.Close()

	stats1, err := mgr.GetStats()
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if stats1.BannerCount != 0 {
		t.Errorf("Expected 0 banners initially, got %d", stats1.BannerCount)
	}
	if stats1.TotalSpace != blockDev.Size() {
		t.Errorf("TotalSpace = %d, want %d", stats1.TotalSpace, blockDev.Size())
	}

	for i := 0; i < 5; i++ {
		bc := config.NewBannerConfig("Banner", banner.Default())
		mgr.SaveBanner(uint8(i), &bc)
	}

	stats2, err := mgr.GetStats()
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if stats2.BannerCount != 5 {
		t.Errorf("Expected 5 banners, got %d", stats2.BannerCount)
	}
	if stats2.UsedSpace <= stats1.UsedSpace {
		t.Errorf("UsedSpace did not grow: %d -> %d", stats1.UsedSpace, stats2.UsedSpace)
	}

	if !mgr.CanFitBanner() {
		t.Error("CanFitBanner should return true with available space")
	}
}

func BenchmarkBannerSave(b *testing.B) {
	mgr, _ := newTestStorage(b)
	defer mgr.Close()

	bc := config.NewBannerConfig("Benchmark", banner.Demo())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		mgr.SaveBanner(uint8(i%16), &bc)
	}
}

func BenchmarkBannerLoad(b *testing.B) {
	mgr, _ := newTestStorage(b)
	defer mgr.Close()

	bc := config.NewBannerConfig("Benchmark", banner.Demo())
	mgr.SaveBanner(0, &bc)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var loaded config.BannerConfig
		mgr.LoadBanner(0, &loaded)
	}
}
