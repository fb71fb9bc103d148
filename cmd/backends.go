// Package cmd holds the pieces shared by the command line tools: the backend
// registry, the MIDI driver selection and a test tone processor.
package cmd

import (
	"fmt"
	"slices"

	"github.com/vsariola/soundloop"
	"github.com/vsariola/soundloop/devin"
	"github.com/vsariola/soundloop/oto"
	"github.com/vsariola/soundloop/soundcard"
)

// Backends lists the backends by name, in order of preference.
var Backends = []string{"oto", "devin"}

// NewBackend creates the backend called name. The devin backend is paced to
// wall-clock time, so it can stand in for hardware.
func NewBackend(name string) (soundcard.Backend, error) {
	switch name {
	case "oto":
		return oto.New(), nil
	case "devin":
		return devin.New(devin.Paced(), devin.WithSource(devin.Sine(220, 0.25))), nil
	}
	return nil, fmt.Errorf("unknown backend %q, expected one of %v: %w", name, Backends, soundloop.ErrInvalidConfig)
}

// OpenDevice creates a device on the backend of c, selects the device and
// applies the presets and timing of c. If the backend fails, the remaining
// backends are tried in order.
func OpenDevice(c soundloop.Config) (*soundcard.Device, error) {
	order := append([]string{c.Backend}, slices.DeleteFunc(slices.Clone(Backends), func(s string) bool { return s == c.Backend })...)
	var errs []error
	for _, name := range order {
		d, err := openDevice(name, c)
		if err == nil {
			return d, nil
		}
		errs = append(errs, err)
		if c.Device != "" {
			// an explicit device only exists on its own backend
			break
		}
	}
	return nil, fmt.Errorf("cannot open any backend: %v", errs)
}

func openDevice(name string, c soundloop.Config) (*soundcard.Device, error) {
	backend, err := NewBackend(name)
	if err != nil {
		return nil, err
	}
	d, err := soundcard.New(backend, soundcard.WithTimeout(c.WorkerTimeout))
	if err != nil {
		return nil, err
	}
	if c.Device != "" {
		if err := d.SetDevice(c.Device); err != nil {
			return nil, err
		}
	} else if d.Device() == "" {
		return nil, fmt.Errorf("backend %s has no devices: %w", name, soundloop.ErrDeviceUnavailable)
	}
	if err := d.SetPresets(c.Presets); err != nil {
		return nil, err
	}
	if err := d.SetBPM(c.BPM); err != nil {
		return nil, err
	}
	if err := d.SetDelayFactor(c.DelayFactor); err != nil {
		return nil, err
	}
	if c.Loop.Enabled {
		if err := d.SetLoop(c.Loop.Left, c.Loop.Right, true); err != nil {
			return nil, err
		}
	}
	d.SetFlags(soundcard.Flags{Nonblocking: c.Nonblocking, PassThrough: c.PassThrough})
	return d, nil
}
