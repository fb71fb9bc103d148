package soundloop

import "fmt"

type (
	// Format is the sample format of the device buffers.
	Format int

	// Presets are the negotiated stream parameters of a device.
	Presets struct {
		Channels   int    `yaml:"channels"`
		Samplerate int    `yaml:"samplerate"`
		BufferSize int    `yaml:"buffersize"` // in frames
		Format     Format `yaml:"format"`
	}

	// Capabilities are the ranges a device endpoint reports when probed.
	Capabilities struct {
		ChannelsMin, ChannelsMax int
		RateMin, RateMax         int
		BufferMin, BufferMax     int
	}
)

const (
	FormatS8 Format = iota
	FormatS16
	FormatS24
	FormatS32
	FormatS64
	FormatFloat
	FormatDouble
	numFormats
)

const (
	DefaultSamplerate  = 44100
	DefaultBufferSize  = 940
	DefaultChannels    = 2
	DefaultFormat      = FormatS16
	DefaultBPM         = 120.0
	DefaultDelayFactor = 1.0

	// DefaultPeriod is the number of tacts after which the tic counter wraps.
	DefaultPeriod = 64

	// BufferCount is the number of buffers in a device's buffer pool.
	BufferCount = 8

	// MaxDelayFactor is the largest delay factor a device accepts.
	MaxDelayFactor = 16.0
)

var formatNames = [...]string{"s8", "s16", "s24", "s32", "s64", "float", "double"}

func DefaultPresets() Presets {
	return Presets{
		Channels:   DefaultChannels,
		Samplerate: DefaultSamplerate,
		BufferSize: DefaultBufferSize,
		Format:     DefaultFormat,
	}
}

// SampleSize returns the number of bytes one sample occupies. 24-bit samples
// are stored in 32-bit words.
func (f Format) SampleSize() int {
	switch f {
	case FormatS8:
		return 1
	case FormatS16:
		return 2
	case FormatS24, FormatS32, FormatFloat:
		return 4
	case FormatS64, FormatDouble:
		return 8
	}
	return 0
}

func (f Format) String() string {
	if f < 0 || f >= numFormats {
		return fmt.Sprintf("Format(%d)", int(f))
	}
	return formatNames[f]
}

func (f Format) MarshalText() ([]byte, error) {
	if f < 0 || f >= numFormats {
		return nil, fmt.Errorf("unknown sample format %d: %w", int(f), ErrInvalidConfig)
	}
	return []byte(formatNames[f]), nil
}

func (f *Format) UnmarshalText(text []byte) error {
	for i, n := range formatNames {
		if n == string(text) {
			*f = Format(i)
			return nil
		}
	}
	return fmt.Errorf("unknown sample format %q: %w", text, ErrInvalidConfig)
}

// Validate reports whether the presets can be used to allocate buffers.
func (p Presets) Validate() error {
	switch {
	case p.Channels < 1:
		return fmt.Errorf("channels must be positive, got %d: %w", p.Channels, ErrInvalidConfig)
	case p.Samplerate < 1:
		return fmt.Errorf("samplerate must be positive, got %d: %w", p.Samplerate, ErrInvalidConfig)
	case p.BufferSize < 1:
		return fmt.Errorf("buffer size must be positive, got %d: %w", p.BufferSize, ErrInvalidConfig)
	case p.Format < 0 || p.Format >= numFormats:
		return fmt.Errorf("unknown sample format %d: %w", int(p.Format), ErrInvalidConfig)
	}
	return nil
}

// BufferBytes is the size in bytes of one period buffer.
func (p Presets) BufferBytes() int {
	return p.Channels * p.BufferSize * p.Format.SampleSize()
}

// Supports checks the presets against the probed ranges.
func (c Capabilities) Supports(p Presets) error {
	if p.Channels < c.ChannelsMin || p.Channels > c.ChannelsMax {
		return fmt.Errorf("%d channels not in [%d, %d]: %w", p.Channels, c.ChannelsMin, c.ChannelsMax, ErrPresetUnsupported)
	}
	if p.Samplerate < c.RateMin || p.Samplerate > c.RateMax {
		return fmt.Errorf("samplerate %d not in [%d, %d]: %w", p.Samplerate, c.RateMin, c.RateMax, ErrPresetUnsupported)
	}
	if p.BufferSize < c.BufferMin || p.BufferSize > c.BufferMax {
		return fmt.Errorf("buffer size %d not in [%d, %d]: %w", p.BufferSize, c.BufferMin, c.BufferMax, ErrPresetUnsupported)
	}
	return nil
}
