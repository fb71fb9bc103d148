package devin

import (
	"math"
	"slices"

	"github.com/vsariola/soundloop"
)

// Sine returns a Source recording a sine tone on every channel.
func Sine(freq float64, amplitude float32) Source {
	var phase float64
	var tmp []float32
	return func(buf []byte, p soundloop.Presets) {
		n := p.BufferSize * p.Channels
		tmp = slices.Grow(tmp[:0], n)[:n]
		step := freq / float64(p.Samplerate)
		for f := 0; f < p.BufferSize; f++ {
			v := amplitude * float32(math.Sin(2*math.Pi*phase))
			for c := 0; c < p.Channels; c++ {
				tmp[f*p.Channels+c] = v
			}
			phase += step
			if phase >= 1 {
				phase--
			}
		}
		soundloop.Encode(buf, tmp, p.Format)
	}
}
