package soundloop

import (
	"fmt"
	"math"
)

// TableSize is the length of the delay and attack tables.
const TableSize = 2 * DefaultPeriod

// DelayAttack holds the per-tact timing tables of a device. Attack[i] is the
// frame offset inside a buffer where tact i begins; Delay[i] is the number of
// buffers, possibly fractional, tact i lasts.
type DelayAttack struct {
	AbsoluteDelay float64
	TactFrames    int
	Delay         [TableSize]float64
	Attack        [TableSize]int
}

// MinBufferSize is the smallest buffer for which the rounding of the tact
// length, at most half a frame per tact over TableSize tacts, keeps the
// delay table within one buffer of the elapsed time.
const MinBufferSize = TableSize / 2

// ValidateTiming refuses inputs ComputeDelayAttack cannot work with.
func ValidateTiming(samplerate, bufferSize int, bpm, delayFactor float64) error {
	switch {
	case samplerate <= 0:
		return fmt.Errorf("samplerate must be positive, got %d: %w", samplerate, ErrInvalidConfig)
	case bufferSize < MinBufferSize:
		return fmt.Errorf("buffer size must be at least %d, got %d: %w", MinBufferSize, bufferSize, ErrInvalidConfig)
	case !(bpm > 0) || math.IsInf(bpm, 0):
		return fmt.Errorf("bpm must be positive, got %v: %w", bpm, ErrInvalidConfig)
	case !(delayFactor > 0) || delayFactor > MaxDelayFactor:
		return fmt.Errorf("delay factor must be in (0, %v], got %v: %w", MaxDelayFactor, delayFactor, ErrInvalidConfig)
	}
	return nil
}

// AbsoluteDelay is the number of buffer periods one tact (1/16 of a beat)
// lasts, scaled by the delay factor.
func AbsoluteDelay(samplerate, bufferSize int, bpm, delayFactor float64) float64 {
	buffersPerSecond := float64(samplerate) / float64(bufferSize)
	return 60.0 * (buffersPerSecond / bpm) * (1.0 / 16.0) * (1.0 / delayFactor)
}

// ComputeDelayAttack fills the tables for the given timing. The inputs must
// have passed ValidateTiming.
func ComputeDelayAttack(samplerate, bufferSize int, bpm, delayFactor float64) (ret DelayAttack) {
	delay := AbsoluteDelay(samplerate, bufferSize, bpm, delayFactor)
	tactFrames := int(math.Round(delay * float64(bufferSize)))
	ret.AbsoluteDelay = delay
	ret.TactFrames = tactFrames
	ret.Attack[0] = int(math.Floor(0.25 * float64(bufferSize)))
	for i := 0; i < TableSize; i++ {
		// whole buffers elapsed until the next tact starts, minus the exact
		// tact length, gives where the next tact lands inside its buffer
		raw := int((float64((ret.Attack[i]+tactFrames)/bufferSize) - delay) * float64(bufferSize))
		next := min(raw, bufferSize-1)
		if raw < 0 {
			// spread the undershoot over both tacts so the rounding error
			// does not pin the attack at zero
			ret.Attack[i] = clampFrame(ret.Attack[i]-raw/2, bufferSize)
			next = clampFrame(next-next/2, bufferSize)
		}
		if i+1 < TableSize {
			ret.Attack[i+1] = next
		}
	}
	ret.Attack[0] = ret.Attack[TableSize-1]
	for i := 0; i < TableSize; i++ {
		ret.Delay[i] = float64(tactFrames+ret.Attack[i]-ret.Attack[(i+1)%TableSize]) / float64(bufferSize)
	}
	return ret
}

func clampFrame(v, bufferSize int) int {
	if v < 0 {
		return 0
	}
	if v >= bufferSize {
		return bufferSize - 1
	}
	return v
}
