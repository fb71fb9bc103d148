package soundcard_test

import (
	"errors"
	"io"
	"log"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vsariola/soundloop"
	"github.com/vsariola/soundloop/devin"
	"github.com/vsariola/soundloop/soundcard"
)

var quiet = soundcard.WithLogger(log.New(io.Discard, "", 0))

func newDevice(t *testing.T, options ...devin.Option) *soundcard.Device {
	t.Helper()
	d, err := soundcard.New(devin.New(options...), quiet)
	if err != nil {
		t.Fatalf("soundcard.New error: %v", err)
	}
	return d
}

func isZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

func TestNewSelectsFirstCard(t *testing.T) {
	d := newDevice(t, devin.WithCards(3))
	if d.Device() != "backend-devin-0" {
		t.Fatalf("device got %q, expected %q", d.Device(), "backend-devin-0")
	}
	ids, names := d.ListCards()
	if len(ids) != 3 || len(names) != 3 {
		t.Fatalf("cards got %v/%v, expected three", ids, names)
	}
	if err := d.SetDevice("backend-devin-2"); err != nil {
		t.Fatalf("SetDevice error: %v", err)
	}
	if d.Device() != "backend-devin-2" {
		t.Fatalf("device got %q, expected %q", d.Device(), "backend-devin-2")
	}
}

func TestTypedErrors(t *testing.T) {
	d := newDevice(t)
	if err := d.SetDevice("backend-devin-7"); !errors.Is(err, soundloop.ErrDeviceUnavailable) {
		t.Fatalf("SetDevice of a missing card got %v, expected ErrDeviceUnavailable", err)
	}
	if _, err := d.PCMInfo("hw:0"); !errors.Is(err, soundloop.ErrDeviceUnavailable) {
		t.Fatalf("PCMInfo of a missing card got %v, expected ErrDeviceUnavailable", err)
	}
	p := soundloop.DefaultPresets()
	p.Channels = 64
	if err := d.SetPresets(p); !errors.Is(err, soundloop.ErrPresetUnsupported) {
		t.Fatalf("SetPresets with 64 channels got %v, expected ErrPresetUnsupported", err)
	}
	p.Channels = 2
	p.BufferSize = 0
	if err := d.SetPresets(p); !errors.Is(err, soundloop.ErrInvalidConfig) {
		t.Fatalf("SetPresets with no frames got %v, expected ErrInvalidConfig", err)
	}
	if d.Presets() != soundloop.DefaultPresets() {
		t.Fatalf("refused presets were applied: %+v", d.Presets())
	}
	if err := d.ProcessPeriod(); !errors.Is(err, soundloop.ErrTransportStopped) {
		t.Fatalf("ProcessPeriod before InitTransport got %v, expected ErrTransportStopped", err)
	}
}

func TestSetPresetsReallocates(t *testing.T) {
	d := newDevice(t)
	p := soundloop.Presets{Channels: 1, Samplerate: 48000, BufferSize: 256, Format: soundloop.FormatFloat}
	if err := d.SetPresets(p); err != nil {
		t.Fatalf("SetPresets error: %v", err)
	}
	for i := 0; i < soundloop.BufferCount; i++ {
		if len(d.BufferAt(i)) != 256*4 {
			t.Fatalf("buffer %d has %v bytes, expected %v", i, len(d.BufferAt(i)), 256*4)
		}
	}
	expected := soundloop.AbsoluteDelay(48000, 256, soundloop.DefaultBPM, soundloop.DefaultDelayFactor)
	if d.AbsoluteDelay() != expected {
		t.Fatalf("absolute delay got %v, expected %v", d.AbsoluteDelay(), expected)
	}
}

func TestBufferRotationBijection(t *testing.T) {
	d := newDevice(t)
	if err := d.InitTransport(); err != nil {
		t.Fatalf("InitTransport error: %v", err)
	}
	defer d.StopTransport()
	for round := 0; round < 3; round++ {
		var seen []int
		for i := 0; i < soundloop.BufferCount; i++ {
			seen = append(seen, d.BufferIndex())
			if err := d.ProcessPeriod(); err != nil {
				t.Fatalf("ProcessPeriod error: %v", err)
			}
		}
		slices.Sort(seen)
		for i, v := range seen {
			if v != i {
				t.Fatalf("round %d visited buffers %v, expected each of the %d exactly once", round, seen, soundloop.BufferCount)
			}
		}
	}
}

func TestNoBufferAliasing(t *testing.T) {
	d := newDevice(t)
	if err := d.InitTransport(); err != nil {
		t.Fatalf("InitTransport error: %v", err)
	}
	defer d.StopTransport()
	for i := 0; i < 2*soundloop.BufferCount; i++ {
		cur, next, prev := d.Buffer(), d.NextBuffer(), d.PrevBuffer()
		if &cur[0] == &next[0] || &cur[0] == &prev[0] || &next[0] == &prev[0] {
			t.Fatalf("period %d: current, next and previous buffers alias", i)
		}
		if err := d.ProcessPeriod(); err != nil {
			t.Fatalf("ProcessPeriod error: %v", err)
		}
	}
}

func TestCaptureFillsBuffer(t *testing.T) {
	d := newDevice(t, devin.WithSource(devin.Sine(440, 0.5)))
	if d.IsPlaying() {
		t.Fatalf("device reports playing before InitTransport")
	}
	if err := d.InitTransport(); err != nil {
		t.Fatalf("InitTransport error: %v", err)
	}
	if !d.IsStarting() || !d.IsPlaying() || !d.IsRecording() {
		t.Fatalf("flags after InitTransport got starting=%v playing=%v recording=%v", d.IsStarting(), d.IsPlaying(), d.IsRecording())
	}
	if err := d.ProcessPeriod(); err != nil {
		t.Fatalf("ProcessPeriod error: %v", err)
	}
	if d.IsStarting() {
		t.Fatalf("device still starting after the first period")
	}
	if isZero(d.PrevBuffer()) {
		t.Fatalf("captured buffer is silent")
	}
	if p := d.Peak(); p < 0.49 || p > 0.5 {
		t.Fatalf("peak of the captured period got %v, expected about 0.5", p)
	}
	d.StopTransport()
	if d.Peak() != 0 {
		t.Fatalf("peak got %v after StopTransport, expected 0", d.Peak())
	}
	if d.IsPlaying() || d.IsRecording() {
		t.Fatalf("device still playing after StopTransport")
	}
	for i := 0; i < soundloop.BufferCount; i++ {
		if !isZero(d.BufferAt(i)) {
			t.Fatalf("buffer %d not zeroed by StopTransport", i)
		}
	}
}

func TestPassThroughSkipsTransfer(t *testing.T) {
	d := newDevice(t, devin.WithSource(devin.Sine(440, 0.5)))
	d.SetFlags(soundcard.Flags{PassThrough: true})
	if err := d.InitTransport(); err != nil {
		t.Fatalf("InitTransport error: %v", err)
	}
	defer d.StopTransport()
	for i := 0; i < 3; i++ {
		if err := d.ProcessPeriod(); err != nil {
			t.Fatalf("ProcessPeriod error: %v", err)
		}
	}
	if !isZero(d.PrevBuffer()) {
		t.Fatalf("pass-through device transferred a buffer")
	}
	if d.NoteOffsetAbsolute() == 0 && d.DelayCounter() == 0 {
		t.Fatalf("pass-through device did not tic")
	}
}

func TestStopWithoutInit(t *testing.T) {
	d := newDevice(t)
	d.StopTransport()
	d.StopTransport()
	if d.IsPlaying() || d.IsStarting() {
		t.Fatalf("device playing after StopTransport without InitTransport")
	}
}

func TestStopResetsNoteOffsets(t *testing.T) {
	d := newDevice(t)
	if err := d.InitTransport(); err != nil {
		t.Fatalf("InitTransport error: %v", err)
	}
	for i := 0; i < 20; i++ {
		if err := d.ProcessPeriod(); err != nil {
			t.Fatalf("ProcessPeriod error: %v", err)
		}
	}
	if d.NoteOffsetAbsolute() == 0 {
		t.Fatalf("20 periods did not advance the note offset")
	}
	d.StopTransport()
	if d.NoteOffset() != 0 || d.NoteOffsetAbsolute() != 0 {
		t.Fatalf("note offsets after stop got %v/%v, expected 0/0", d.NoteOffset(), d.NoteOffsetAbsolute())
	}
	// the device can be started again
	if err := d.InitTransport(); err != nil {
		t.Fatalf("second InitTransport error: %v", err)
	}
	d.StopTransport()
}

func TestInitTwiceIsRefused(t *testing.T) {
	d := newDevice(t)
	if err := d.InitTransport(); err != nil {
		t.Fatalf("InitTransport error: %v", err)
	}
	defer d.StopTransport()
	if err := d.InitTransport(); !errors.Is(err, soundloop.ErrInvalidConfig) {
		t.Fatalf("second InitTransport got %v, expected ErrInvalidConfig", err)
	}
	if err := d.SetPresets(soundloop.DefaultPresets()); !errors.Is(err, soundloop.ErrInvalidConfig) {
		t.Fatalf("SetPresets while running got %v, expected ErrInvalidConfig", err)
	}
}

func TestBusyEndpoint(t *testing.T) {
	backend := devin.New()
	a, err := soundcard.New(backend, quiet)
	if err != nil {
		t.Fatalf("soundcard.New error: %v", err)
	}
	b, err := soundcard.New(backend, quiet)
	if err != nil {
		t.Fatalf("soundcard.New error: %v", err)
	}
	if err := a.InitTransport(); err != nil {
		t.Fatalf("InitTransport error: %v", err)
	}
	if err := b.InitTransport(); !errors.Is(err, soundloop.ErrDeviceUnavailable) {
		t.Fatalf("opening a busy endpoint got %v, expected ErrDeviceUnavailable", err)
	}
	a.StopTransport()
	if err := b.InitTransport(); err != nil {
		t.Fatalf("InitTransport after release error: %v", err)
	}
	b.StopTransport()
}

type (
	stuckBackend struct {
		delay     time.Duration
		err       error
		transfers atomic.Int32
	}
	stuckPort stuckBackend
)

var errBroken = errors.New("broken port")

func (b *stuckBackend) Name() string  { return "stuck" }
func (b *stuckBackend) Capture() bool { return false }
func (b *stuckBackend) ListCards() (ids, names []string) {
	return []string{"stuck-0"}, []string{"stuck"}
}
func (b *stuckBackend) PCMInfo(id string) (soundloop.Capabilities, error) {
	return devin.Capabilities, nil
}
func (b *stuckBackend) Open(id string, p soundloop.Presets) (soundcard.Port, error) {
	return (*stuckPort)(b), nil
}
func (p *stuckPort) Transfer(buf []byte) error {
	time.Sleep(p.delay)
	p.transfers.Add(1)
	return p.err
}
func (p *stuckPort) Close() error { return nil }

func TestSlowTransferCountsXrun(t *testing.T) {
	d, err := soundcard.New(&stuckBackend{delay: 100 * time.Millisecond}, quiet, soundcard.WithTimeout(5*time.Millisecond))
	if err != nil {
		t.Fatalf("soundcard.New error: %v", err)
	}
	if err := d.InitTransport(); err != nil {
		t.Fatalf("InitTransport error: %v", err)
	}
	if err := d.ProcessPeriod(); err != nil {
		t.Fatalf("ProcessPeriod error: %v", err)
	}
	if d.Xruns() != 1 {
		t.Fatalf("xruns got %v, expected 1", d.Xruns())
	}
	d.StopTransport()
}

func TestNonblockingDropsBusyPeriods(t *testing.T) {
	backend := &stuckBackend{delay: 30 * time.Millisecond}
	d, err := soundcard.New(backend, quiet, soundcard.WithTimeout(5*time.Millisecond))
	if err != nil {
		t.Fatalf("soundcard.New error: %v", err)
	}
	d.SetFlags(soundcard.Flags{Nonblocking: true})
	if err := d.InitTransport(); err != nil {
		t.Fatalf("InitTransport error: %v", err)
	}
	defer d.StopTransport()
	const periods = 4
	for i := 0; i < periods; i++ {
		if err := d.ProcessPeriod(); err != nil {
			t.Fatalf("ProcessPeriod error: %v", err)
		}
	}
	deadline := time.Now().Add(5 * time.Second)
	for int64(backend.transfers.Load())+d.Xruns() < periods && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(100 * time.Millisecond) // let any transfer still in flight land
	if got := int64(backend.transfers.Load()) + d.Xruns(); got != periods {
		t.Fatalf("transfers %v + xruns %v got %v, expected %v", backend.transfers.Load(), d.Xruns(), got, periods)
	}
	if d.Xruns() == 0 {
		t.Fatalf("no xruns with a port slower than the period timeout")
	}
}

func TestTransferErrorIsReturned(t *testing.T) {
	d, err := soundcard.New(&stuckBackend{err: errBroken}, quiet)
	if err != nil {
		t.Fatalf("soundcard.New error: %v", err)
	}
	if err := d.InitTransport(); err != nil {
		t.Fatalf("InitTransport error: %v", err)
	}
	defer d.StopTransport()
	if err := d.ProcessPeriod(); !errors.Is(err, errBroken) {
		t.Fatalf("ProcessPeriod got %v, expected the port error", err)
	}
}

type inlineLauncher struct{ launched int }

func (l *inlineLauncher) Launch(task func()) {
	l.launched++
	task()
}

func TestTasksGoToLauncher(t *testing.T) {
	d := newDevice(t)
	l := &inlineLauncher{}
	d.SetTaskLauncher(l)
	if err := d.InitTransport(); err != nil {
		t.Fatalf("InitTransport error: %v", err)
	}
	defer d.StopTransport()
	if err := d.ProcessPeriod(); err != nil {
		t.Fatalf("ProcessPeriod error: %v", err)
	}
	if l.launched != 3 {
		t.Fatalf("launched tasks got %v, expected tic, clear and rotate", l.launched)
	}
	if d.BufferIndex() != 1 {
		t.Fatalf("buffer index got %v, expected 1", d.BufferIndex())
	}
}
