//go:build !headless

package oto

import (
	"fmt"
	"sync"

	"github.com/ebitengine/oto/v3"
	"github.com/vsariola/soundloop"
	"github.com/vsariola/soundloop/soundcard"
)

type (
	// Backend plays the device buffers through github.com/ebitengine/oto/v3.
	// oto allows one context per process, so the first Open fixes the
	// presets for the lifetime of the program.
	Backend struct {
		mu      sync.Mutex
		context *oto.Context
		presets soundloop.Presets
		busy    bool
	}

	otoPort struct {
		backend *Backend
		player  *oto.Player
		queue   *queue
	}
)

// queueDepth is how many periods may wait for the player.
const queueDepth = 2

func New() *Backend { return &Backend{} }

func (b *Backend) Name() string  { return "oto" }
func (b *Backend) Capture() bool { return false }

func (b *Backend) ListCards() (ids, names []string) {
	return []string{DefaultID}, []string{"default output"}
}

func (b *Backend) PCMInfo(id string) (soundloop.Capabilities, error) {
	if id != DefaultID {
		return soundloop.Capabilities{}, fmt.Errorf("oto: no endpoint %q: %w", id, soundloop.ErrDeviceUnavailable)
	}
	return Capabilities, nil
}

func otoFormat(f soundloop.Format) (oto.Format, error) {
	switch f {
	case soundloop.FormatS16:
		return oto.FormatSignedInt16LE, nil
	case soundloop.FormatFloat:
		return oto.FormatFloat32LE, nil
	}
	return 0, fmt.Errorf("oto: format %v: %w", f, soundloop.ErrPresetUnsupported)
}

func (b *Backend) Open(id string, presets soundloop.Presets) (soundcard.Port, error) {
	if _, err := b.PCMInfo(id); err != nil {
		return nil, err
	}
	if err := Capabilities.Supports(presets); err != nil {
		return nil, fmt.Errorf("oto: %w", err)
	}
	format, err := otoFormat(presets.Format)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.busy {
		return nil, fmt.Errorf("oto: endpoint %q is busy: %w", id, soundloop.ErrDeviceUnavailable)
	}
	if b.context == nil {
		context, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   presets.Samplerate,
			ChannelCount: presets.Channels,
			Format:       format,
			BufferSize:   presets.Period() * queueDepth,
		})
		if err != nil {
			return nil, fmt.Errorf("cannot create oto context: %v: %w", err, soundloop.ErrDeviceUnavailable)
		}
		<-ready
		b.context = context
		b.presets = presets
	} else if b.presets != presets {
		return nil, fmt.Errorf("oto: context already runs with %+v: %w", b.presets, soundloop.ErrPresetUnsupported)
	}
	q := newQueue(queueDepth)
	player := b.context.NewPlayer(q)
	player.Play()
	b.busy = true
	return &otoPort{backend: b, player: player, queue: q}, nil
}

func (p *otoPort) Transfer(buf []byte) error {
	return p.queue.Push(buf)
}

func (p *otoPort) Close() error {
	p.queue.Close()
	err := p.player.Close()
	p.backend.mu.Lock()
	p.backend.busy = false
	p.backend.mu.Unlock()
	if err != nil {
		return fmt.Errorf("cannot close oto player: %w", err)
	}
	return nil
}
