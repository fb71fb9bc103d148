package devin_test

import (
	"errors"
	"testing"
	"time"

	"github.com/vsariola/soundloop"
	"github.com/vsariola/soundloop/devin"
)

func TestListCards(t *testing.T) {
	b := devin.New(devin.WithCards(2))
	ids, names := b.ListCards()
	if len(ids) != 2 || ids[0] != "backend-devin-0" || ids[1] != "backend-devin-1" {
		t.Fatalf("ids got %v, expected backend-devin-0 and backend-devin-1", ids)
	}
	if len(names) != len(ids) {
		t.Fatalf("names got %v, expected one per id", names)
	}
	if !b.Capture() {
		t.Fatalf("devin is a capture backend")
	}
}

func TestPCMInfo(t *testing.T) {
	b := devin.New()
	caps, err := b.PCMInfo("backend-devin-0")
	if err != nil {
		t.Fatalf("PCMInfo error: %v", err)
	}
	if caps != devin.Capabilities {
		t.Fatalf("capabilities got %+v, expected %+v", caps, devin.Capabilities)
	}
	for _, id := range []string{"backend-devin-1", "backend-devin-x", "devin-0", ""} {
		if _, err := b.PCMInfo(id); !errors.Is(err, soundloop.ErrDeviceUnavailable) {
			t.Fatalf("PCMInfo(%q) got %v, expected ErrDeviceUnavailable", id, err)
		}
	}
}

func TestOpen(t *testing.T) {
	b := devin.New()
	p := soundloop.DefaultPresets()
	if _, err := b.Open("backend-devin-0", soundloop.Presets{Channels: 64, Samplerate: 44100, BufferSize: 940}); !errors.Is(err, soundloop.ErrPresetUnsupported) {
		t.Fatalf("Open with 64 channels got %v, expected ErrPresetUnsupported", err)
	}
	if _, err := b.Open("backend-devin-0", soundloop.Presets{Channels: 2, Samplerate: 12705, BufferSize: 32}); !errors.Is(err, soundloop.ErrPresetUnsupported) {
		t.Fatalf("Open with 32 frames got %v, expected ErrPresetUnsupported", err)
	}
	port, err := b.Open("backend-devin-0", p)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if _, err := b.Open("backend-devin-0", p); !errors.Is(err, soundloop.ErrDeviceUnavailable) {
		t.Fatalf("second Open got %v, expected ErrDeviceUnavailable", err)
	}
	buf := make([]byte, p.BufferBytes())
	buf[0] = 1
	if err := port.Transfer(buf); err != nil {
		t.Fatalf("Transfer error: %v", err)
	}
	if buf[0] != 0 {
		t.Fatalf("a port without a source must record silence")
	}
	if err := port.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if err := port.Close(); err != nil {
		t.Fatalf("second Close error: %v", err)
	}
	if err := port.Transfer(buf); err == nil {
		t.Fatalf("Transfer on a closed port succeeded")
	}
}

func TestSineSource(t *testing.T) {
	p := soundloop.Presets{Channels: 2, Samplerate: 8000, BufferSize: 100, Format: soundloop.FormatFloat}
	b := devin.New(devin.WithSource(devin.Sine(1000, 0.5)))
	port, err := b.Open("backend-devin-0", p)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer port.Close()
	buf := make([]byte, p.BufferBytes())
	if err := port.Transfer(buf); err != nil {
		t.Fatalf("Transfer error: %v", err)
	}
	samples := make([]float32, p.BufferSize*p.Channels)
	if err := soundloop.Decode(samples, buf, p.Format); err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	tmp := make([]float32, len(samples))
	if peak := soundloop.Peak(samples, tmp); peak < 0.49 || peak > 0.5 {
		t.Fatalf("peak got %v, expected the amplitude 0.5", peak)
	}
	for f := 0; f < p.BufferSize; f++ {
		if samples[2*f] != samples[2*f+1] {
			t.Fatalf("frame %d differs between channels", f)
		}
	}
}

func TestPacedTransfer(t *testing.T) {
	p := soundloop.Presets{Channels: 1, Samplerate: 8000, BufferSize: 80, Format: soundloop.FormatS16}
	b := devin.New(devin.Paced())
	port, err := b.Open("backend-devin-0", p)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer port.Close()
	buf := make([]byte, p.BufferBytes())
	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := port.Transfer(buf); err != nil {
			t.Fatalf("Transfer error: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Fatalf("5 paced periods of 10ms took %v, expected at least 40ms", elapsed)
	}
}
