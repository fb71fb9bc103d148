package soundcard

import (
	"fmt"
	"log"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vsariola/soundloop"
)

type (
	// Backend is a driver giving access to audio endpoints. The Device does
	// the buffering and timing; a backend only opens ports and moves one
	// period of raw samples at a time.
	Backend interface {
		Name() string
		// Capture is true if the ports record into the buffer rather than
		// play it.
		Capture() bool
		// ListCards enumerates the endpoints. An unavailable backend returns
		// empty lists.
		ListCards() (ids, names []string)
		PCMInfo(id string) (soundloop.Capabilities, error)
		Open(id string, presets soundloop.Presets) (Port, error)
	}

	// Port is an opened endpoint.
	Port interface {
		// Transfer exchanges one period with the endpoint: a capture port
		// fills buf, a playback port consumes it. It may block until the
		// hardware is ready.
		Transfer(buf []byte) error
		Close() error
	}

	// TaskLauncher runs maintenance work outside the period path, e.g. the
	// engine's task runner.
	TaskLauncher interface {
		Launch(task func())
	}

	// Flags are the transport modifiers of a device.
	Flags struct {
		// Nonblocking makes ProcessPeriod return without waiting for the
		// transfer it started. It still waits for the previous one.
		Nonblocking bool
		// PassThrough skips the backend transfer; buffers still rotate and
		// the clock still tics.
		PassThrough bool
	}

	// Device implements soundloop.Soundcard on top of a Backend.
	Device struct {
		*Clock

		mu      sync.Mutex
		cond    *soundloop.Cond
		backend Backend
		id      string
		presets soundloop.Presets
		buffers MultiBuffer
		flags   Flags
		audio   []soundloop.Processor
		tasks   TaskLauncher

		initialized bool
		starting    bool
		port        Port

		// state shared with the callback goroutine, guarded by mu
		cbWake     bool
		cbDone     bool
		cbStop     bool
		cbIndex    int
		cbErr      error
		cbFinished chan struct{}
	peak       float32 // absolute peak of the last transferred period

		timeout      time.Duration
		probeTimeout time.Duration
		logger       *log.Logger
		xruns        atomic.Int64
	}

	Option func(*Device)
)

const defaultProbeTimeout = 2 * time.Second

var _ soundloop.Soundcard = (*Device)(nil)

func WithLogger(l *log.Logger) Option {
	return func(d *Device) { d.logger = l }
}

// WithTimeout bounds the wait for a backend transfer.
func WithTimeout(t time.Duration) Option {
	return func(d *Device) { d.timeout = t }
}

// WithProbeTimeout bounds ListCards.
func WithProbeTimeout(t time.Duration) Option {
	return func(d *Device) { d.probeTimeout = t }
}

// New creates a device with default presets on the first endpoint the
// backend lists, if any.
func New(backend Backend, options ...Option) (*Device, error) {
	presets := soundloop.DefaultPresets()
	clock, err := NewClock(presets.Samplerate, presets.BufferSize)
	if err != nil {
		return nil, err
	}
	d := &Device{
		Clock:        clock,
		backend:      backend,
		presets:      presets,
		timeout:      soundloop.DefaultWorkerTimeout,
		probeTimeout: defaultProbeTimeout,
		logger:       log.Default(),
	}
	d.cond = soundloop.NewCond(&d.mu)
	for _, o := range options {
		o(d)
	}
	d.buffers.Realloc(presets.BufferBytes())
	if ids, _ := d.ListCards(); len(ids) > 0 {
		d.id = ids[0]
	}
	return d, nil
}

func (d *Device) Backend() Backend { return d.backend }

// ListCards asks the backend for its endpoints, giving up with empty lists
// after the probe timeout.
func (d *Device) ListCards() (ids, names []string) {
	type cards struct{ ids, names []string }
	c := make(chan cards, 1)
	go func() {
		ids, names := d.backend.ListCards()
		c <- cards{ids, names}
	}()
	select {
	case r := <-c:
		return r.ids, r.names
	case <-time.After(d.probeTimeout):
		d.logger.Printf("listing %s cards timed out after %v", d.backend.Name(), d.probeTimeout)
		return nil, nil
	}
}

func (d *Device) PCMInfo(id string) (soundloop.Capabilities, error) {
	return d.backend.PCMInfo(id)
}

func (d *Device) SetDevice(id string) error {
	ids, _ := d.ListCards()
	if !slices.Contains(ids, id) {
		return fmt.Errorf("cannot select %q on %s: %w", id, d.backend.Name(), soundloop.ErrDeviceUnavailable)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.initialized {
		return fmt.Errorf("cannot switch device while the transport runs: %w", soundloop.ErrInvalidConfig)
	}
	d.id = id
	return nil
}

func (d *Device) Device() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.id
}

// SetPresets reallocates the buffers and recomputes the delay/attack tables.
// It is refused while the transport runs.
func (d *Device) SetPresets(p soundloop.Presets) error {
	if err := p.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.initialized {
		return fmt.Errorf("cannot change presets while the transport runs: %w", soundloop.ErrInvalidConfig)
	}
	if d.id != "" {
		caps, err := d.backend.PCMInfo(d.id)
		if err != nil {
			return err
		}
		if err := caps.Supports(p); err != nil {
			return err
		}
	}
	if err := d.Clock.Reconfigure(p.Samplerate, p.BufferSize); err != nil {
		return err
	}
	d.presets = p
	d.buffers.Realloc(p.BufferBytes())
	return nil
}

func (d *Device) Presets() soundloop.Presets {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.presets
}

func (d *Device) SetFlags(f Flags) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.flags = f
}

func (d *Device) Flags() Flags {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.flags
}

// SetTaskLauncher makes ProcessPeriod hand its maintenance tasks to l. With
// no launcher the tasks run inline.
func (d *Device) SetTaskLauncher(l TaskLauncher) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tasks = l
}

func (d *Device) Audio() []soundloop.Processor {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.audio)
}

func (d *Device) SetAudio(audio []soundloop.Processor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.audio = slices.Clone(audio)
}

func (d *Device) IsStarting() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.starting
}

func (d *Device) IsPlaying() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.initialized
}

func (d *Device) IsRecording() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.initialized && d.backend.Capture()
}

// Peak returns the absolute peak of the last transferred period. It is
// measured by the callback, so readers never touch a buffer in flight.
func (d *Device) Peak() float32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.peak
}

// Xruns counts the periods whose transfer did not finish in time.
func (d *Device) Xruns() int64 { return d.xruns.Load() }

// Buffer, NextBuffer and PrevBuffer address the pool relative to the current
// index. They must not be called concurrently with SetPresets.
func (d *Device) Buffer() []byte     { return d.buffers.Buffer() }
func (d *Device) NextBuffer() []byte { return d.buffers.Next() }
func (d *Device) PrevBuffer() []byte { return d.buffers.Prev() }

// BufferIndex returns the index of the current buffer in the pool.
func (d *Device) BufferIndex() int { return d.buffers.Index() }

// BufferAt returns the buffer at index i of the pool.
func (d *Device) BufferAt(i int) []byte { return d.buffers.At(i) }

// InitTransport opens the backend port, clears the buffers, resets the
// counters and starts the callback goroutine.
func (d *Device) InitTransport() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.initialized {
		return fmt.Errorf("cannot init transport of %q twice: %w", d.id, soundloop.ErrInvalidConfig)
	}
	port, err := d.backend.Open(d.id, d.presets)
	if err != nil {
		return fmt.Errorf("cannot open %s device %q: %w", d.backend.Name(), d.id, err)
	}
	d.port = port
	d.buffers.Realloc(d.presets.BufferBytes())
	d.Clock.Reset()
	d.initialized = true
	d.starting = true
	d.cbWake, d.cbDone, d.cbStop, d.cbErr = false, true, false, nil
	d.cbFinished = make(chan struct{})
	go d.callback(port, d.cbFinished)
	return nil
}

// callback is the backend side of the device: it transfers a buffer each
// time ProcessPeriod wakes it.
func (d *Device) callback(port Port, finished chan<- struct{}) {
	defer close(finished)
	var samples, tmp []float32
	d.mu.Lock()
	defer d.mu.Unlock()
	for {
		d.cond.Wait(func() bool { return d.cbWake || d.cbStop })
		if d.cbStop {
			return
		}
		d.cbWake = false
		buf := d.buffers.At(d.cbIndex)
		passThrough := d.flags.PassThrough
		format := d.presets.Format
		d.mu.Unlock()
		var err error
		var peak float32
		if !passThrough {
			err = port.Transfer(buf)
			// the callback owns buf until cbDone is set
			if n := len(buf) / format.SampleSize(); n > 0 {
				samples, tmp = grow(samples, n), grow(tmp, n)
				if soundloop.Decode(samples, buf, format) == nil {
					peak = soundloop.Peak(samples, tmp)
				}
			}
		}
		d.mu.Lock()
		if err != nil && d.cbErr == nil {
			d.cbErr = err
		}
		if !d.cbStop {
			d.peak = peak
		}
		d.cbDone = true
		d.cond.Broadcast()
	}
}

func grow(s []float32, n int) []float32 {
	if cap(s) < n {
		return make([]float32, n)
	}
	return s[:n]
}

// ProcessPeriod waits for the previous transfer, wakes the callback to
// transfer the current buffer and waits for it to finish unless nonblocking.
// A period whose wait times out counts as an xrun. Then it tics the clock,
// clears the buffer producers will use after the next one and rotates the
// pool, either inline or on the task launcher.
func (d *Device) ProcessPeriod() error {
	d.mu.Lock()
	if !d.initialized {
		d.mu.Unlock()
		return fmt.Errorf("cannot process period of %q: %w", d.id, soundloop.ErrTransportStopped)
	}
	index := d.buffers.Index()
	done := func() bool { return d.cbDone || d.cbStop }
	// the callback takes one wake at a time; a period arriving while the
	// previous transfer is still in flight is dropped
	if !d.cond.WaitFor(done, d.timeout) {
		d.xruns.Add(1)
		d.logger.Printf("%s device %q: previous transfer still busy after %v, period dropped", d.backend.Name(), d.id, d.timeout)
	} else {
		d.cbIndex = index
		d.cbWake = true
		d.cbDone = false
		d.cond.Broadcast()
		if !d.flags.Nonblocking && !d.cond.WaitFor(done, d.timeout) {
			d.xruns.Add(1)
			d.logger.Printf("%s device %q: transfer did not finish within %v", d.backend.Name(), d.id, d.timeout)
		}
	}
	err := d.cbErr
	d.cbErr = nil
	d.starting = false
	tasks := d.tasks
	d.mu.Unlock()

	tic := d.Clock.Tic
	clearNext := func() { d.buffers.Clear(index + 2) }
	rotate := d.buffers.Rotate
	if tasks != nil {
		tasks.Launch(tic)
		tasks.Launch(clearNext)
		tasks.Launch(rotate)
	} else {
		tic()
		clearNext()
		rotate()
	}
	if err != nil {
		return fmt.Errorf("%s device %q transfer failed: %w", d.backend.Name(), d.id, err)
	}
	return nil
}

// StopTransport stops the callback goroutine, closes the port, zeroes the
// buffers and resets the note offsets. Without a running transport it only
// clears the flags.
func (d *Device) StopTransport() {
	d.mu.Lock()
	d.starting = false
	if !d.initialized {
		d.mu.Unlock()
		return
	}
	d.initialized = false
	d.peak = 0
	d.cbStop = true
	d.cond.Broadcast()
	port, finished := d.port, d.cbFinished
	d.port = nil
	d.mu.Unlock()

	if err := port.Close(); err != nil {
		d.logger.Printf("closing %s device %q: %v", d.backend.Name(), d.id, err)
	}
	select {
	case <-finished:
	case <-time.After(d.timeout):
		d.logger.Printf("%s device %q: callback did not stop within %v", d.backend.Name(), d.id, d.timeout)
	}
	d.buffers.ClearAll()
	d.Clock.ResetNoteOffsets()
}
