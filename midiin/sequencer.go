// Package midiin implements a MIDI input sequencer device on top of
// gitlab.com/gomidi/midi/v2. It follows the same musical clock as the
// soundcard device, so notes received during a period can be placed on the
// tact grid.
package midiin

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/vsariola/soundloop"
	"github.com/vsariola/soundloop/soundcard"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
)

type (
	// Sequencer records MIDI messages into a double buffer swapped once per
	// period.
	Sequencer struct {
		*soundcard.Clock

		mu          sync.Mutex
		driver      drivers.Driver
		id          string
		in          drivers.In
		stopListen  func()
		samplerate  int
		bufferSize  int
		initialized bool
		starting    bool

		front []Event // events of the last completed period
		back  []Event // events arriving during the current period

		// periods swapped since InitTransport; the current period starts
		// periods*bufferSize frames after the listener started
		periods int
	}

	// Event is a MIDI message with its frame offset from the start of the
	// period it arrived in.
	Event struct {
		Frame   int
		Message midi.Message
	}
)

var _ soundloop.Sequencer = (*Sequencer)(nil)

// New creates a sequencer. driver may be nil, in which case no endpoints are
// listed and messages can only be fed with HandleMessage.
func New(driver drivers.Driver) (*Sequencer, error) {
	clock, err := soundcard.NewClock(soundloop.DefaultSamplerate, soundloop.DefaultBufferSize)
	if err != nil {
		return nil, err
	}
	return &Sequencer{
		Clock:      clock,
		driver:     driver,
		samplerate: soundloop.DefaultSamplerate,
		bufferSize: soundloop.DefaultBufferSize,
	}, nil
}

// SetTiming follows the presets of the soundcard driving the loop.
func (s *Sequencer) SetTiming(samplerate, bufferSize int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.Clock.Reconfigure(samplerate, bufferSize); err != nil {
		return err
	}
	s.samplerate, s.bufferSize = samplerate, bufferSize
	return nil
}

func (s *Sequencer) ListCards() (ids, names []string) {
	if s.driver == nil {
		return nil, nil
	}
	ins, err := s.driver.Ins()
	if err != nil {
		return nil, nil
	}
	for _, in := range ins {
		ids = append(ids, in.String())
		names = append(names, in.String())
	}
	return ids, names
}

// FindByPrefix returns the first endpoint whose name starts with prefix.
func (s *Sequencer) FindByPrefix(prefix string) (string, bool) {
	ids, _ := s.ListCards()
	for _, id := range ids {
		if strings.HasPrefix(id, prefix) {
			return id, true
		}
	}
	return "", false
}

func (s *Sequencer) SetDevice(id string) error {
	ids, _ := s.ListCards()
	if !slices.Contains(ids, id) {
		return fmt.Errorf("cannot select MIDI input %q: %w", id, soundloop.ErrDeviceUnavailable)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return fmt.Errorf("cannot switch MIDI input while the transport runs: %w", soundloop.ErrInvalidConfig)
	}
	s.id = id
	return nil
}

func (s *Sequencer) Device() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

func (s *Sequencer) findIn(id string) (drivers.In, error) {
	ins, err := s.driver.Ins()
	if err != nil {
		return nil, fmt.Errorf("cannot list MIDI inputs: %v: %w", err, soundloop.ErrProbeFailed)
	}
	for _, in := range ins {
		if in.String() == id {
			return in, nil
		}
	}
	return nil, fmt.Errorf("MIDI input %q: %w", id, soundloop.ErrDeviceUnavailable)
}

// InitTransport opens the selected input and starts listening. With no
// device selected the sequencer runs without a port.
func (s *Sequencer) InitTransport() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return fmt.Errorf("cannot init MIDI transport twice: %w", soundloop.ErrInvalidConfig)
	}
	if s.id != "" && s.driver != nil {
		in, err := s.findIn(s.id)
		if err != nil {
			return err
		}
		if err := in.Open(); err != nil {
			return fmt.Errorf("opening MIDI input failed: %v: %w", err, soundloop.ErrDeviceUnavailable)
		}
		stop, err := midi.ListenTo(in, s.HandleMessage)
		if err != nil {
			in.Close()
			return fmt.Errorf("listening to MIDI input failed: %v: %w", err, soundloop.ErrDeviceUnavailable)
		}
		s.in, s.stopListen = in, stop
	}
	s.front, s.back = s.front[:0], s.back[:0]
	s.periods = 0
	s.Clock.Reset()
	s.initialized = true
	s.starting = true
	return nil
}

// HandleMessage records a message; it is called from the driver's goroutine.
// timestampms counts from the start of the transport, as the listener
// reports it.
func (s *Sequencer) HandleMessage(msg midi.Message, timestampms int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return
	}
	frame := int64(timestampms)*int64(s.samplerate)/1000 - int64(s.periods)*int64(s.bufferSize)
	s.back = append(s.back, Event{Frame: int(max(frame, 0)), Message: slices.Clone(msg)})
}

// ProcessPeriod publishes the messages received during the period and tics
// the clock.
func (s *Sequencer) ProcessPeriod() error {
	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		return fmt.Errorf("cannot process MIDI period: %w", soundloop.ErrTransportStopped)
	}
	s.front, s.back = s.back, s.front[:0]
	s.periods++
	s.starting = false
	s.mu.Unlock()
	s.Clock.Tic()
	return nil
}

func (s *Sequencer) StopTransport() {
	s.mu.Lock()
	s.starting = false
	if !s.initialized {
		s.mu.Unlock()
		return
	}
	s.initialized = false
	in, stop := s.in, s.stopListen
	s.in, s.stopListen = nil, nil
	s.front, s.back = s.front[:0], s.back[:0]
	s.mu.Unlock()
	if stop != nil {
		stop()
	}
	if in != nil {
		in.Close()
	}
	s.Clock.ResetNoteOffsets()
}

func (s *Sequencer) IsStarting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starting
}

func (s *Sequencer) IsPlaying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

func (s *Sequencer) IsRecording() bool { return s.IsPlaying() }

// Events returns the messages of the last completed period.
func (s *Sequencer) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.front)
}

// Buffer returns the raw bytes of the last completed period.
func (s *Sequencer) Buffer() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return concat(s.front)
}

// NextBuffer returns the raw bytes received so far in the current period.
func (s *Sequencer) NextBuffer() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return concat(s.back)
}

func concat(events []Event) []byte {
	var ret []byte
	for _, e := range events {
		ret = append(ret, e.Message...)
	}
	return ret
}

// Notes decodes the note on and off messages of the last completed period.
func (s *Sequencer) Notes() []Note {
	var ret []Note
	for _, e := range s.Events() {
		var channel, key, velocity uint8
		switch {
		case e.Message.GetNoteOn(&channel, &key, &velocity):
			ret = append(ret, Note{Frame: e.Frame, On: true, Channel: int(channel), Key: key, Velocity: velocity})
		case e.Message.GetNoteOff(&channel, &key, &velocity):
			ret = append(ret, Note{Frame: e.Frame, Channel: int(channel), Key: key, Velocity: velocity})
		}
	}
	return ret
}

// Note is a decoded note event.
type Note struct {
	Frame    int
	On       bool
	Channel  int
	Key      byte
	Velocity byte
}
