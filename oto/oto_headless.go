//go:build headless

package oto

import (
	"fmt"

	"github.com/vsariola/soundloop"
	"github.com/vsariola/soundloop/soundcard"
)

// Backend stands in for the oto backend in headless builds.
type Backend struct{}

func New() *Backend { return &Backend{} }

func (b *Backend) Name() string                     { return "oto" }
func (b *Backend) Capture() bool                    { return false }
func (b *Backend) ListCards() (ids, names []string) { return nil, nil }

func (b *Backend) PCMInfo(id string) (soundloop.Capabilities, error) {
	return soundloop.Capabilities{}, fmt.Errorf("oto: headless build: %w", soundloop.ErrDeviceUnavailable)
}

func (b *Backend) Open(id string, presets soundloop.Presets) (soundcard.Port, error) {
	return nil, fmt.Errorf("oto: headless build: %w", soundloop.ErrDeviceUnavailable)
}
