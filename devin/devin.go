// Package devin is a virtual capture backend. Its endpoints record from a
// Source function instead of hardware, optionally paced to wall-clock time,
// which makes it usable both headless and in tests.
package devin

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/vsariola/soundloop"
	"github.com/vsariola/soundloop/soundcard"
)

type (
	// Source fills one captured period. buf is in the raw format of the
	// presets.
	Source func(buf []byte, presets soundloop.Presets)

	Backend struct {
		cards  int
		source Source
		paced  bool

		mu   sync.Mutex
		open map[string]bool
	}

	Option func(*Backend)

	port struct {
		backend  *Backend
		id       string
		presets  soundloop.Presets
		source   Source
		period   time.Duration
		deadline time.Time
		paced    bool
		closed   bool
		mu       sync.Mutex
	}
)

const idPrefix = "backend-devin-"

var Capabilities = soundloop.Capabilities{
	ChannelsMin: 1, ChannelsMax: 32,
	RateMin: 8000, RateMax: 192000,
	BufferMin: soundloop.MinBufferSize, BufferMax: 16384,
}

// WithCards sets the number of endpoints listed.
func WithCards(n int) Option {
	return func(b *Backend) { b.cards = n }
}

func WithSource(s Source) Option {
	return func(b *Backend) { b.source = s }
}

// Paced makes every transfer wait until one period of wall-clock time has
// passed since the previous one, like real hardware would.
func Paced() Option {
	return func(b *Backend) { b.paced = true }
}

func New(options ...Option) *Backend {
	b := &Backend{cards: 1, open: map[string]bool{}}
	for _, o := range options {
		o(b)
	}
	return b
}

func (b *Backend) Name() string  { return "devin" }
func (b *Backend) Capture() bool { return true }

func (b *Backend) ListCards() (ids, names []string) {
	for i := 0; i < b.cards; i++ {
		ids = append(ids, idPrefix+strconv.Itoa(i))
		names = append(names, fmt.Sprintf("virtual capture device %d", i))
	}
	return ids, names
}

func (b *Backend) index(id string) (int, bool) {
	s, ok := strings.CutPrefix(id, idPrefix)
	if !ok {
		return 0, false
	}
	i, err := strconv.Atoi(s)
	if err != nil || i < 0 || i >= b.cards {
		return 0, false
	}
	return i, true
}

func (b *Backend) PCMInfo(id string) (soundloop.Capabilities, error) {
	if _, ok := b.index(id); !ok {
		return soundloop.Capabilities{}, fmt.Errorf("devin: no endpoint %q: %w", id, soundloop.ErrDeviceUnavailable)
	}
	return Capabilities, nil
}

// Open opens an endpoint for capture. Each endpoint can be opened once.
func (b *Backend) Open(id string, presets soundloop.Presets) (soundcard.Port, error) {
	if _, ok := b.index(id); !ok {
		return nil, fmt.Errorf("devin: no endpoint %q: %w", id, soundloop.ErrDeviceUnavailable)
	}
	if err := Capabilities.Supports(presets); err != nil {
		return nil, fmt.Errorf("devin: %w", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.open[id] {
		return nil, fmt.Errorf("devin: endpoint %q is busy: %w", id, soundloop.ErrDeviceUnavailable)
	}
	b.open[id] = true
	return &port{
		backend: b,
		id:      id,
		presets: presets,
		source:  b.source,
		period:  presets.Period(),
		paced:   b.paced,
	}, nil
}

func (p *port) Transfer(buf []byte) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return fmt.Errorf("devin: endpoint %q is closed", p.id)
	}
	p.mu.Unlock()
	if p.paced {
		now := time.Now()
		if p.deadline.IsZero() {
			p.deadline = now
		}
		p.deadline = p.deadline.Add(p.period)
		if wait := p.deadline.Sub(now); wait > 0 {
			time.Sleep(wait)
		} else if -wait > p.period {
			// fell behind by more than a period; do not try to catch up
			p.deadline = now
		}
	}
	if p.source == nil {
		clear(buf)
		return nil
	}
	p.source(buf, p.presets)
	return nil
}

func (p *port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.backend.mu.Lock()
	delete(p.backend.open, p.id)
	p.backend.mu.Unlock()
	return nil
}
