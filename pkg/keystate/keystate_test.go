package keystate

import (
	"sync"
	"testing"

	"github.com/tuffrabit/tinygo-midikbd/pkg/banner"
	"github.com/tuffrabit/tinygo-midikbd/pkg/keyboard"
)

type report struct {
	keycode  uint8
	modifier uint8
	peer     keyboard.Peer
}

type recordingReporter struct {
	mu      sync.Mutex
	reports []report
}

func (r *recordingReporter) SendReport(keycode, modifier uint8, peer keyboard.Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report{keycode, modifier, peer})
}

func (r *recordingReporter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reports)
}

func threeKeys() *banner.Banner {
	return banner.MustNew(
		banner.Entry{Keycode: banner.KeyA},
		banner.Entry{Keycode: banner.KeyB, Modifier: banner.ModLShift},
		banner.Entry{Keycode: banner.KeyC},
	)
}

func TestEmissionCycle(t *testing.T) {
	rep := &recordingReporter{}
	m := New(threeKeys(), rep)

	m.OnTrigger()
	if m.State() != Pushed {
		t.Fatalf("Expected Pushed after trigger, got %v", m.State())
	}

	if res := m.TryEmit(keyboard.Primary, true); res != ResultEmitted {
		t.Fatalf("First tick: expected emitted, got %v", res)
	}
	if m.State() != Released {
		t.Fatalf("Expected Released after emit, got %v", m.State())
	}
	if res := m.TryEmit(keyboard.Primary, true); res != ResultAdvanced {
		t.Fatalf("Second tick: expected advanced, got %v", res)
	}

	if rep.count() != 1 {
		t.Fatalf("Expected 1 report, got %d", rep.count())
	}
	if got := rep.reports[0]; got.keycode != banner.KeyA || got.modifier != 0 {
		t.Errorf("Expected entry 0 (KeyA), got %+v", got)
	}

	s := m.Snapshot()
	if s.State != Idle || s.Cursor != 1 {
		t.Errorf("Expected Idle at cursor 1, got %v at %d", s.State, s.Cursor)
	}
	if !s.HasLast || s.Last.Keycode != banner.KeyA {
		t.Errorf("Expected last entry KeyA, got %+v", s.Last)
	}
}

func TestIdleTryEmitIsNoop(t *testing.T) {
	rep := &recordingReporter{}
	m := New(threeKeys(), rep)

	for i := 0; i < 5; i++ {
		if res := m.TryEmit(keyboard.Primary, true); res != ResultNone {
			t.Fatalf("Idle tick %d returned %v", i, res)
		}
	}
	if rep.count() != 0 || m.Snapshot().Cursor != 0 {
		t.Errorf("Idle machine changed: reports=%d cursor=%d", rep.count(), m.Snapshot().Cursor)
	}
}

func TestPreconditionGating(t *testing.T) {
	rep := &recordingReporter{}
	m := New(threeKeys(), rep)

	m.OnTrigger()
	for i := 0; i < 10; i++ {
		if res := m.TryEmit(keyboard.Primary, false); res != ResultNotReady {
			t.Fatalf("Disconnected tick %d returned %v", i, res)
		}
	}
	if rep.count() != 0 {
		t.Fatalf("Expected no reports while not ready, got %d", rep.count())
	}
	if m.State() != Pushed {
		t.Fatalf("State changed while not ready: %v", m.State())
	}

	if res := m.TryEmit(keyboard.Primary, true); res != ResultEmitted {
		t.Fatalf("First ready tick: expected emitted, got %v", res)
	}
	if rep.count() != 1 {
		t.Errorf("Expected deferred emission, got %d reports", rep.count())
	}

	// Not ready while Released also holds the cursor.
	m.TryEmit(keyboard.Primary, false)
	if m.State() != Released || m.Snapshot().Cursor != 0 {
		t.Errorf("Released machine changed while not ready")
	}
}

func TestBannerWraparound(t *testing.T) {
	rep := &recordingReporter{}
	b := threeKeys()
	m := New(b, rep)

	for i := 0; i < b.Len(); i++ {
		m.OnTrigger()
		m.TryEmit(keyboard.Primary, true)
		m.TryEmit(keyboard.Primary, true)
	}
	if c := m.Snapshot().Cursor; c != 0 {
		t.Fatalf("Expected cursor 0 after %d cycles, got %d", b.Len(), c)
	}

	m.OnTrigger()
	m.TryEmit(keyboard.Primary, true)

	if rep.count() != b.Len()+1 {
		t.Fatalf("Expected %d reports, got %d", b.Len()+1, rep.count())
	}
	if rep.reports[b.Len()] != rep.reports[0] {
		t.Errorf("Cycle N+1 %+v does not repeat cycle 1 %+v", rep.reports[b.Len()], rep.reports[0])
	}
}

func TestCoalescing(t *testing.T) {
	rep := &recordingReporter{}
	m := New(threeKeys(), rep)

	m.OnTrigger()
	m.OnTrigger()
	m.TryEmit(keyboard.Primary, true)
	m.TryEmit(keyboard.Primary, true)
	m.TryEmit(keyboard.Primary, true)

	if rep.count() != 1 {
		t.Errorf("Expected 1 emission for coalesced triggers, got %d", rep.count())
	}
	s := m.Snapshot()
	if s.Triggers != 2 || s.Coalesced != 1 {
		t.Errorf("Expected triggers=2 coalesced=1, got %+v", s)
	}
}

func TestTriggerWhileReleasedIsDeferred(t *testing.T) {
	rep := &recordingReporter{}
	m := New(threeKeys(), rep)

	m.OnTrigger()
	m.TryEmit(keyboard.Primary, true) // emit A
	m.OnTrigger()                     // arrives during Released
	m.OnTrigger()                     // coalesced with the deferred one

	if s := m.Snapshot(); s.State != Released || !s.Deferred {
		t.Fatalf("Expected Released with deferred trigger, got %+v", s)
	}

	if res := m.TryEmit(keyboard.Primary, true); res != ResultAdvanced {
		t.Fatalf("Expected advance, got %v", res)
	}
	if m.State() != Pushed {
		t.Fatalf("Deferred trigger should leave machine Pushed, got %v", m.State())
	}

	m.TryEmit(keyboard.Primary, true) // emit B
	m.TryEmit(keyboard.Primary, true)
	m.TryEmit(keyboard.Primary, true)

	if rep.count() != 2 {
		t.Fatalf("Expected 2 reports, got %d", rep.count())
	}
	if rep.reports[1].keycode != banner.KeyB || rep.reports[1].modifier != banner.ModLShift {
		t.Errorf("Deferred emission should use next entry, got %+v", rep.reports[1])
	}
	s := m.Snapshot()
	if s.Deferrals != 1 || s.Coalesced != 1 {
		t.Errorf("Expected deferrals=1 coalesced=1, got %+v", s)
	}
}

func TestTriggerWhileReleasedDropped(t *testing.T) {
	rep := &recordingReporter{}
	m := New(threeKeys(), rep)
	m.SetPolicy(DropReleased)

	m.OnTrigger()
	m.TryEmit(keyboard.Primary, true)
	m.OnTrigger()
	m.TryEmit(keyboard.Primary, true)

	if m.State() != Idle {
		t.Errorf("Expected Idle with drop policy, got %v", m.State())
	}
	if got := m.Snapshot().Dropped; got != 1 {
		t.Errorf("Expected 1 dropped trigger, got %d", got)
	}
}

func TestSetBannerRewinds(t *testing.T) {
	rep := &recordingReporter{}
	m := New(threeKeys(), rep)

	m.OnTrigger()
	m.TryEmit(keyboard.Primary, true)
	m.TryEmit(keyboard.Primary, true)

	m.SetBanner(banner.Default())
	s := m.Snapshot()
	if s.Cursor != 0 || s.BannerLen != 1 {
		t.Fatalf("Expected rewound single-entry banner, got cursor=%d len=%d", s.Cursor, s.BannerLen)
	}

	m.OnTrigger()
	m.TryEmit(keyboard.Primary, true)
	if got := rep.reports[1]; got.keycode != banner.KeyLeft || got.modifier != banner.ModLAlt {
		t.Errorf("Expected Alt+Left from new banner, got %+v", got)
	}
}

func TestSetBannerBetweenEmitAndAdvance(t *testing.T) {
	rep := &recordingReporter{}
	m := New(banner.Default(), rep)

	m.OnTrigger()
	if res := m.TryEmit(keyboard.Primary, true); res != ResultEmitted {
		t.Fatalf("Expected emitted, got %v", res)
	}

	m.SetBanner(threeKeys())
	if res := m.TryEmit(keyboard.Primary, true); res != ResultAdvanced {
		t.Fatalf("Expected advanced, got %v", res)
	}
	if s := m.Snapshot(); s.State != Idle || s.Cursor != 0 {
		t.Fatalf("Expected idle at cursor 0, got %v at %d", s.State, s.Cursor)
	}

	for i, want := range []uint8{banner.KeyA, banner.KeyB} {
		m.OnTrigger()
		m.TryEmit(keyboard.Primary, true)
		m.TryEmit(keyboard.Primary, true)
		if got := rep.reports[i+1].keycode; got != want {
			t.Errorf("Report %d: expected keycode %#x, got %#x", i+1, want, got)
		}
	}
}

func TestSetBannerBeforeEmitDoesNotRepeat(t *testing.T) {
	rep := &recordingReporter{}
	m := New(banner.Default(), rep)

	m.SetBanner(threeKeys())
	for i := 0; i < 2; i++ {
		m.OnTrigger()
		m.TryEmit(keyboard.Primary, true)
		m.TryEmit(keyboard.Primary, true)
	}
	if rep.reports[0].keycode != banner.KeyA || rep.reports[1].keycode != banner.KeyB {
		t.Errorf("Expected A then B, got %+v", rep.reports)
	}
}

func TestConcurrentTriggersEmitOncePerCycle(t *testing.T) {
	rep := &recordingReporter{}
	m := New(threeKeys(), rep)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.OnTrigger()
			}
		}()
	}
	wg.Wait()

	// Every trigger landed before the first tick, so exactly one cycle runs.
	for i := 0; i < 4; i++ {
		m.TryEmit(keyboard.Primary, true)
	}
	if rep.count() != 1 {
		t.Errorf("Expected 1 report, got %d", rep.count())
	}
	if got := m.Snapshot().Triggers; got != 800 {
		t.Errorf("Expected 800 triggers counted, got %d", got)
	}
}
