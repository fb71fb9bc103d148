/*
Package soundloop contains the contracts of a real-time audio scheduling engine:
soundcard and sequencer devices, the processors scheduled by the audio loop,
and the delay/attack computation that keeps buffer boundaries and musical tact
boundaries in sync.

The concrete device lives in package soundcard (with backends in devin and
oto), the scheduler in package engine.
*/
package soundloop

import "time"

type (
	// Transport is the part of a device the audio loop drives once per
	// period.
	Transport interface {
		// InitTransport allocates and clears the buffers, resets the timing
		// counters and arms the device. Calling it on an already initialized
		// device is not allowed; check IsPlaying first.
		InitTransport() error
		// ProcessPeriod advances the device by one hardware period.
		ProcessPeriod() error
		// StopTransport halts the device. It is safe to call at any time.
		StopTransport()

		IsStarting() bool
		IsPlaying() bool
		IsRecording() bool
	}

	// Timing is the musical clock shared by soundcards and sequencers.
	Timing interface {
		Tic()
		OffsetChanged(noteOffset int)

		BPM() float64
		SetBPM(bpm float64) error
		DelayFactor() float64
		SetDelayFactor(factor float64) error
		AbsoluteDelay() float64
		Delay() float64
		Attack() int
		DelayCounter() float64

		NoteOffset() int
		SetNoteOffset(offset int)
		NoteOffsetAbsolute() int
		SetNoteOffsetAbsolute(offset int)
		Loop() (left, right int, doLoop bool)
		SetLoop(left, right int, doLoop bool) error
		LoopOffset() int
		Uptime() time.Duration
	}

	// Soundcard is the capability interface every audio device implements.
	Soundcard interface {
		Transport
		Timing

		SetDevice(id string) error
		Device() string
		ListCards() (ids, names []string)
		PCMInfo(id string) (Capabilities, error)

		SetPresets(p Presets) error
		Presets() Presets

		// Buffer returns the buffer currently exchanged with the hardware,
		// NextBuffer the one producers should write into.
		Buffer() []byte
		NextBuffer() []byte
		PrevBuffer() []byte

		Audio() []Processor
		SetAudio(audio []Processor)
	}

	// Sequencer is a MIDI device following the same musical clock as a
	// soundcard.
	Sequencer interface {
		Transport
		Timing

		SetDevice(id string) error
		Device() string
		ListCards() (ids, names []string)

		Buffer() []byte
		NextBuffer() []byte
	}

	// Processor is the DSP side of a scheduled unit: a recall, a channel with
	// its recalls, or a whole audio with its channels. Process is called once
	// per stage and active scope every period.
	Processor interface {
		Process(stage Stage, scope Scope, run RunID)
	}

	// ProcessorFunc adapts a function to the Processor interface.
	ProcessorFunc func(stage Stage, scope Scope, run RunID)

	// Stage is one of the three passes run over every unit per period.
	Stage int

	// Scope is a capability a unit can be active for.
	Scope int

	// RunID correlates an active scope with one play session. The zero value
	// means no session.
	RunID uint64
)

const (
	StagePre Stage = iota
	StageInter
	StagePost
	NumStages
)

const (
	ScopePlayback Scope = iota
	ScopeSequencer
	ScopeNotation
	NumScopes
)

func (f ProcessorFunc) Process(stage Stage, scope Scope, run RunID) { f(stage, scope, run) }

func (s Stage) String() string {
	switch s {
	case StagePre:
		return "pre"
	case StageInter:
		return "inter"
	case StagePost:
		return "post"
	}
	return "unknown"
}

func (s Scope) String() string {
	switch s {
	case ScopePlayback:
		return "playback"
	case ScopeSequencer:
		return "sequencer"
	case ScopeNotation:
		return "notation"
	}
	return "unknown"
}
