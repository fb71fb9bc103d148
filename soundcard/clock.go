package soundcard

import (
	"fmt"
	"sync"
	"time"

	"github.com/vsariola/soundloop"
)

// Clock is the musical timing state of a device: tempo, the delay/attack
// tables and the counters advanced once per period by Tic. It is shared by
// the soundcard device and the MIDI sequencer device.
type Clock struct {
	mu sync.Mutex

	samplerate  int
	bufferSize  int
	bpm         float64
	delayFactor float64
	tables      soundloop.DelayAttack

	ticCounter   int     // index into the tables, wraps at soundloop.DefaultPeriod
	tactCounter  float64 // tacts since the transport started
	delayCounter float64 // periods elapsed inside the current tact

	noteOffset         int
	noteOffsetAbsolute int
	loopLeft           int
	loopRight          int
	doLoop             bool
	loopOffset         int

	observers []func(noteOffset int)
}

const defaultLoopRight = 64

// NewClock returns a clock at the default tempo. samplerate and bufferSize
// must be valid.
func NewClock(samplerate, bufferSize int) (*Clock, error) {
	if err := soundloop.ValidateTiming(samplerate, bufferSize, soundloop.DefaultBPM, soundloop.DefaultDelayFactor); err != nil {
		return nil, err
	}
	c := &Clock{
		samplerate:  samplerate,
		bufferSize:  bufferSize,
		bpm:         soundloop.DefaultBPM,
		delayFactor: soundloop.DefaultDelayFactor,
		loopRight:   defaultLoopRight,
	}
	c.recompute()
	return c, nil
}

func (c *Clock) recompute() {
	c.tables = soundloop.ComputeDelayAttack(c.samplerate, c.bufferSize, c.bpm, c.delayFactor)
}

// Reconfigure recomputes the tables for new presets.
func (c *Clock) Reconfigure(samplerate, bufferSize int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := soundloop.ValidateTiming(samplerate, bufferSize, c.bpm, c.delayFactor); err != nil {
		return err
	}
	c.samplerate, c.bufferSize = samplerate, bufferSize
	c.recompute()
	return nil
}

func (c *Clock) BPM() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bpm
}

func (c *Clock) SetBPM(bpm float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := soundloop.ValidateTiming(c.samplerate, c.bufferSize, bpm, c.delayFactor); err != nil {
		return err
	}
	c.bpm = bpm
	c.recompute()
	return nil
}

func (c *Clock) DelayFactor() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.delayFactor
}

func (c *Clock) SetDelayFactor(factor float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := soundloop.ValidateTiming(c.samplerate, c.bufferSize, c.bpm, factor); err != nil {
		return err
	}
	c.delayFactor = factor
	c.recompute()
	return nil
}

func (c *Clock) AbsoluteDelay() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tables.AbsoluteDelay
}

// Delay returns the length, in periods, of the current tact.
func (c *Clock) Delay() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tables.Delay[c.ticCounter]
}

// Attack returns the frame offset of the current tact inside its buffer.
func (c *Clock) Attack() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tables.Attack[c.ticCounter]
}

// Tables returns a copy of the delay and attack tables.
func (c *Clock) Tables() soundloop.DelayAttack {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tables
}

func (c *Clock) DelayCounter() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.delayCounter
}

func (c *Clock) TicCounter() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ticCounter
}

func (c *Clock) TactCounter() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tactCounter
}

// Tic advances the clock by one period. When the periods spent in the
// current tact reach its delay, the note offset moves to the next tact
// (wrapping at the loop end) and the observers are notified. The fractional
// remainder is carried into the next tact.
func (c *Clock) Tic() {
	c.mu.Lock()
	c.delayCounter++
	delay := c.tables.Delay[c.ticCounter]
	if c.delayCounter < delay {
		c.mu.Unlock()
		return
	}
	c.delayCounter -= delay
	next := c.noteOffset + 1
	if c.doLoop && next >= c.loopRight {
		next = c.loopLeft
		c.loopOffset += c.loopRight - c.loopLeft
	}
	c.noteOffset = next
	c.noteOffsetAbsolute++
	c.tactCounter++
	c.ticCounter = (c.ticCounter + 1) % soundloop.DefaultPeriod
	observers := c.observers
	c.mu.Unlock()
	for _, o := range observers {
		o(next)
	}
}

// OffsetChanged notifies the observers about a note offset.
func (c *Clock) OffsetChanged(noteOffset int) {
	c.mu.Lock()
	observers := c.observers
	c.mu.Unlock()
	for _, o := range observers {
		o(noteOffset)
	}
}

// AddObserver registers f to be called synchronously, from the goroutine
// calling Tic, whenever the note offset changes.
func (c *Clock) AddObserver(f func(noteOffset int)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, f)
}

// Reset zeroes the counters at transport start.
func (c *Clock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticCounter = 0
	c.tactCounter = 0
	c.delayCounter = 0
}

// ResetNoteOffsets zeroes the note offsets at transport stop.
func (c *Clock) ResetNoteOffsets() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.noteOffset = 0
	c.noteOffsetAbsolute = 0
	c.loopOffset = 0
}

func (c *Clock) NoteOffset() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.noteOffset
}

func (c *Clock) SetNoteOffset(offset int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.noteOffset = offset
}

func (c *Clock) NoteOffsetAbsolute() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.noteOffsetAbsolute
}

func (c *Clock) SetNoteOffsetAbsolute(offset int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.noteOffsetAbsolute = offset
}

func (c *Clock) Loop() (left, right int, doLoop bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loopLeft, c.loopRight, c.doLoop
}

func (c *Clock) SetLoop(left, right int, doLoop bool) error {
	if left < 0 || right <= left {
		return fmt.Errorf("loop [%d, %d) is empty: %w", left, right, soundloop.ErrInvalidConfig)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loopLeft, c.loopRight, c.doLoop = left, right, doLoop
	return nil
}

// LoopOffset is the number of tacts skipped back by loop wraps since the
// note offsets were last reset.
func (c *Clock) LoopOffset() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loopOffset
}

// Uptime converts the absolute note offset to wall-clock time.
func (c *Clock) Uptime() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	frames := float64(c.noteOffsetAbsolute) * c.tables.AbsoluteDelay * float64(c.bufferSize)
	return time.Duration(frames / float64(c.samplerate) * float64(time.Second))
}
