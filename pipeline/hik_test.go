package pipeline

import (
	"errors"
	"testing"
	"time"
)

func newTestHik(driver Driver, clock *fakeClock) *hikSource {
	s := newHikSource(1, 0, driver, 5*time.Second, 100*time.Millisecond)
	s.now = clock.Now
	return s
}

func TestHikBGR8Frames(t *testing.T) {
	s := newTestHik(newSimulatedDriver(PixelBGR8Packed), newFakeClock())
	s.Connect()
	if !s.IsConnected() {
		t.Fatal("expected the simulated device to open")
	}

	for i := 0; i < 3; i++ {
		frame := s.GetFrame()
		if frame.Synthetic {
			t.Fatalf("expected a real frame, got %q", frame.Status)
		}
		assertCanonical(t, frame.Mat)
		frame.Close()
	}
}

func TestHikMono8IsExpandedToBGR(t *testing.T) {
	driver := newSimulatedDriver(PixelMono8)
	driver.width, driver.height = 320, 240
	s := newTestHik(driver, newFakeClock())

	frame := s.GetFrame()
	defer frame.Close()
	if frame.Synthetic {
		t.Fatalf("expected a real frame, got %q", frame.Status)
	}
	assertCanonical(t, frame.Mat)
}

func TestHikUnknownPixelFormat(t *testing.T) {
	s := newTestHik(newSimulatedDriver(PixelType(0x0110000c)), newFakeClock())

	frame := s.GetFrame()
	defer frame.Close()
	if !frame.Synthetic || frame.Status != "Raw fmt: 0x0110000c" {
		t.Fatalf("expected a raw format placeholder, got synthetic=%v %q", frame.Synthetic, frame.Status)
	}
	assertCanonical(t, frame.Mat)
	if !s.IsConnected() {
		t.Fatal("an unknown format is not a connection failure")
	}
}

func TestHikGrabFailure(t *testing.T) {
	driver := newSimulatedDriver(PixelBGR8Packed)
	clock := newFakeClock()
	s := newTestHik(driver, clock)
	s.Connect()

	driver.failGrab.Store(true)
	frame := s.GetFrame()
	frame.Close()
	if frame.Status != "Connection Lost" || s.IsConnected() {
		t.Fatalf("expected Connection Lost, got %q connected=%v", frame.Status, s.IsConnected())
	}

	driver.failGrab.Store(false)
	frame = s.GetFrame()
	frame.Close()
	if frame.Status != "No Signal" {
		t.Fatalf("expected No Signal inside the reconnect interval, got %q", frame.Status)
	}

	clock.Advance(5 * time.Second)
	frame = s.GetFrame()
	defer frame.Close()
	if frame.Synthetic || !s.IsConnected() {
		t.Fatalf("expected recovery after the interval, got %q", frame.Status)
	}
}

func TestHikMissingDevice(t *testing.T) {
	s := newTestHik(newSimulatedDriver(PixelBGR8Packed), newFakeClock())
	if err := s.SetSource("9"); err != nil {
		t.Fatalf("set source: %v", err)
	}

	if s.IsConnected() {
		t.Fatal("index 9 does not exist on the simulated driver")
	}
	frame := s.GetFrame()
	defer frame.Close()
	if frame.Status != "No Signal" {
		t.Fatalf("expected No Signal, got %q", frame.Status)
	}
	if info := s.Describe(); info.Index != 9 || info.Kind != "hik" {
		t.Fatalf("unexpected describe %+v", info)
	}
}

func TestHikSetSourceRejectsGarbage(t *testing.T) {
	s := newTestHik(newSimulatedDriver(PixelBGR8Packed), newFakeClock())
	s.Connect()

	for _, source := range []string{"rtsp://nope", "-1", ""} {
		if err := s.SetSource(source); !errors.Is(err, ErrInvalidSource) {
			t.Errorf("%q: expected ErrInvalidSource, got %v", source, err)
		}
	}
	if s.Describe().Index != 0 || !s.IsConnected() {
		t.Fatal("a rejected index should leave the source untouched")
	}
}

func TestHikReleaseIsTerminal(t *testing.T) {
	driver := newSimulatedDriver(PixelBGR8Packed)
	clock := newFakeClock()
	s := newTestHik(driver, clock)
	s.Connect()
	if err := s.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}

	clock.Advance(time.Minute)
	s.Connect()
	frame := s.GetFrame()
	defer frame.Close()
	if s.IsConnected() || driver.open {
		t.Fatal("a released source reopened the device")
	}
	if frame.Status != "No Signal" {
		t.Fatalf("expected No Signal after release, got %q", frame.Status)
	}
}

func TestHikRelease(t *testing.T) {
	driver := newSimulatedDriver(PixelBGR8Packed)
	s := newTestHik(driver, newFakeClock())
	s.Connect()

	if err := s.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if s.IsConnected() || driver.open {
		t.Fatal("release should close the device")
	}
}
