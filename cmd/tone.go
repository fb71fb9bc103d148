package cmd

import (
	"math"

	"github.com/vsariola/soundloop"
)

// Tone is a processor mixing a sine tone into the next buffer of a soundcard
// in the post stage of playback. It retriggers at the attack frame of every
// buffer, so the attack table can be heard.
type Tone struct {
	Soundcard soundloop.Soundcard
	Freq      float64
	Gain      float32

	phase    float64
	elapsed  float64 // seconds since the last attack
	mix, tmp []float32
	tone     []float32
}

func (t *Tone) Process(stage soundloop.Stage, scope soundloop.Scope, run soundloop.RunID) {
	if stage != soundloop.StagePost || scope != soundloop.ScopePlayback {
		return
	}
	p := t.Soundcard.Presets()
	buf := t.Soundcard.NextBuffer()
	n := p.BufferSize * p.Channels
	if len(buf) < n*p.Format.SampleSize() {
		return
	}
	t.mix = resize(t.mix, n)
	t.tmp = resize(t.tmp, n)
	t.tone = resize(t.tone, n)
	attack := t.Soundcard.Attack()
	step := t.Freq / float64(p.Samplerate)
	for f := 0; f < p.BufferSize; f++ {
		if f == attack {
			t.phase, t.elapsed = 0, 0
		}
		v := float32(math.Exp(-8*t.elapsed) * math.Sin(2*math.Pi*t.phase))
		for c := 0; c < p.Channels; c++ {
			t.tone[f*p.Channels+c] = v
		}
		t.phase = math.Mod(t.phase+step, 1)
		t.elapsed += 1 / float64(p.Samplerate)
	}
	if err := soundloop.Decode(t.mix, buf, p.Format); err != nil {
		return
	}
	soundloop.Mix(t.mix, t.tone, t.tmp, t.Gain)
	soundloop.Encode(buf, t.mix, p.Format)
}

func resize(s []float32, n int) []float32 {
	if cap(s) < n {
		return make([]float32, n)
	}
	return s[:n]
}
