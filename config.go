package soundloop

import (
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"
)

type (
	// Config describes an engine setup; it is usually read from a .yml file.
	Config struct {
		Backend     string     `yaml:"backend"`
		Device      string     `yaml:"device,omitempty"`
		Presets     Presets    `yaml:"presets"`
		BPM         float64    `yaml:"bpm"`
		DelayFactor float64    `yaml:"delayfactor"`
		Loop        LoopConfig `yaml:"loop,omitempty"`

		Nonblocking   bool `yaml:"nonblocking,omitempty"`
		PassThrough   bool `yaml:"passthrough,omitempty"`
		SuperThreaded bool `yaml:"superthreaded"`

		// WorkerTimeout bounds every wait of the scheduler on a worker or on
		// the backend callback.
		WorkerTimeout time.Duration `yaml:"workertimeout"`
		// NotifyRate is how many status snapshots per second are published.
		NotifyRate float64 `yaml:"notifyrate"`

		StatusAddress string `yaml:"statusaddress,omitempty"`
		MIDIInput     string `yaml:"midiinput,omitempty"`
	}

	LoopConfig struct {
		Left    int  `yaml:"left"`
		Right   int  `yaml:"right"`
		Enabled bool `yaml:"enabled"`
	}
)

const (
	// DefaultWorkerTimeout is several dozen periods at the default presets;
	// a correct processor never gets near it.
	DefaultWorkerTimeout = time.Second
	DefaultNotifyRate    = 30.0
)

func DefaultConfig() Config {
	return Config{
		Backend:       "devin",
		Presets:       DefaultPresets(),
		BPM:           DefaultBPM,
		DelayFactor:   DefaultDelayFactor,
		SuperThreaded: true,
		WorkerTimeout: DefaultWorkerTimeout,
		NotifyRate:    DefaultNotifyRate,
	}
}

// LoadConfig reads a yaml config. Missing fields keep their default values.
func LoadConfig(r io.Reader) (Config, error) {
	c := DefaultConfig()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && err != io.EOF {
		return Config{}, fmt.Errorf("cannot decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Validate() error {
	if err := c.Presets.Validate(); err != nil {
		return err
	}
	if err := ValidateTiming(c.Presets.Samplerate, c.Presets.BufferSize, c.BPM, c.DelayFactor); err != nil {
		return err
	}
	if c.Loop.Enabled && (c.Loop.Left < 0 || c.Loop.Right <= c.Loop.Left) {
		return fmt.Errorf("loop [%d, %d) is empty: %w", c.Loop.Left, c.Loop.Right, ErrInvalidConfig)
	}
	if c.WorkerTimeout <= 0 {
		return fmt.Errorf("worker timeout must be positive, got %v: %w", c.WorkerTimeout, ErrInvalidConfig)
	}
	if !(c.NotifyRate > 0) {
		return fmt.Errorf("notify rate must be positive, got %v: %w", c.NotifyRate, ErrInvalidConfig)
	}
	return nil
}

// Marshal writes the config as yaml.
func (c Config) Marshal() ([]byte, error) {
	b, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("cannot encode config: %w", err)
	}
	return b, nil
}

// Period is the wall-clock duration of one buffer.
func (p Presets) Period() time.Duration {
	return time.Duration(float64(p.BufferSize) / float64(p.Samplerate) * float64(time.Second))
}
