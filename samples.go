package soundloop

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/viterin/vek/vek32"
)

// Encode converts interleaved float samples in [-1, 1] to the raw format of a
// device buffer. Values outside the range are clipped. dst must hold
// len(src)*format.SampleSize() bytes.
func Encode(dst []byte, src []float32, format Format) error {
	size := format.SampleSize()
	if size == 0 {
		return fmt.Errorf("cannot encode to format %v: %w", format, ErrInvalidConfig)
	}
	if len(dst) < len(src)*size {
		return fmt.Errorf("cannot encode %d samples into %d bytes", len(src), len(dst))
	}
	le := binary.LittleEndian
	for i, v := range src {
		f := float64(v)
		o := dst[i*size:]
		switch format {
		case FormatS8:
			o[0] = byte(int8(scale(f, math.MaxInt8)))
		case FormatS16:
			le.PutUint16(o, uint16(int16(scale(f, math.MaxInt16))))
		case FormatS24:
			le.PutUint32(o, uint32(int32(scale(f, 1<<23-1))))
		case FormatS32:
			le.PutUint32(o, uint32(int32(scale(f, math.MaxInt32))))
		case FormatS64:
			le.PutUint64(o, uint64(int64(scale(f, 1<<53))))
		case FormatFloat:
			le.PutUint32(o, math.Float32bits(v))
		case FormatDouble:
			le.PutUint64(o, math.Float64bits(f))
		}
	}
	return nil
}

// Decode is the inverse of Encode.
func Decode(dst []float32, src []byte, format Format) error {
	size := format.SampleSize()
	if size == 0 {
		return fmt.Errorf("cannot decode format %v: %w", format, ErrInvalidConfig)
	}
	if len(src) < len(dst)*size {
		return fmt.Errorf("cannot decode %d samples from %d bytes", len(dst), len(src))
	}
	le := binary.LittleEndian
	for i := range dst {
		o := src[i*size:]
		switch format {
		case FormatS8:
			dst[i] = float32(int8(o[0])) / math.MaxInt8
		case FormatS16:
			dst[i] = float32(int16(le.Uint16(o))) / math.MaxInt16
		case FormatS24:
			dst[i] = float32(int32(le.Uint32(o))) / (1<<23 - 1)
		case FormatS32:
			dst[i] = float32(float64(int32(le.Uint32(o))) / math.MaxInt32)
		case FormatS64:
			dst[i] = float32(float64(int64(le.Uint64(o))) / (1 << 53))
		case FormatFloat:
			dst[i] = math.Float32frombits(le.Uint32(o))
		case FormatDouble:
			dst[i] = float32(math.Float64frombits(le.Uint64(o)))
		}
	}
	return nil
}

// Mix adds src scaled by gain into dst. tmp is scratch space of at least
// len(src) samples, so mixing does not allocate.
func Mix(dst, src, tmp []float32, gain float32) {
	n := min(len(dst), len(src))
	scaled := vek32.MulNumber_Into(tmp[:n], src[:n], gain)
	vek32.Add_Inplace(dst[:n], scaled)
}

// Peak returns the largest absolute sample value. tmp is scratch space of at
// least len(buf) samples.
func Peak(buf, tmp []float32) float32 {
	if len(buf) == 0 {
		return 0
	}
	t := tmp[:len(buf)]
	copy(t, buf)
	vek32.Abs_Inplace(t)
	return vek32.Max(t)
}

func scale(v float64, max float64) float64 {
	if v < -1 {
		return -max
	}
	if v > 1 {
		return max
	}
	return math.Round(v * max)
}
