//go:build cgo

package cmd

import (
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
)

// NewMIDIDriver opens the rtmidi driver. There's not much we can do if this
// fails, so nil is returned to indicate no driver available.
func NewMIDIDriver() drivers.Driver {
	driver, err := rtmididrv.New()
	if err != nil {
		return nil
	}
	return driver
}
