// Package oto is a playback backend for the soundcard device built on
// github.com/ebitengine/oto/v3. Building with the headless tag replaces it
// with a backend that lists no endpoints.
package oto

import "github.com/vsariola/soundloop"

// DefaultID is the only endpoint: the system's default output.
const DefaultID = "oto-default-0"

var Capabilities = soundloop.Capabilities{
	ChannelsMin: 1, ChannelsMax: 2,
	RateMin: 8000, RateMax: 192000,
	BufferMin: soundloop.MinBufferSize, BufferMax: 16384,
}
