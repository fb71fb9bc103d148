//go:build !cgo

package cmd

import "gitlab.com/gomidi/midi/v2/drivers"

func NewMIDIDriver() drivers.Driver {
	// with no cgo, we cannot use MIDI, so the sequencer runs without a driver
	return nil
}
