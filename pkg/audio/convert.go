package audio

import (
	"encoding/binary"
	"math"
)

// AppendPCM16 converts float samples in [-1.0, 1.0] to int16 and appends them
// to dst. Values outside the range are clamped; NaN becomes silence.
func AppendPCM16(dst []int16, src []float32) []int16 {
	for _, f := range src {
		dst = append(dst, floatToSample(f))
	}
	return dst
}

// FloatToPCM16 converts float samples in [-1.0, 1.0] to a new int16 slice.
func FloatToPCM16(src []float32) []int16 {
	return AppendPCM16(make([]int16, 0, len(src)), src)
}

// PCM16ToFloat converts int16 samples to float32 normalised to [-1.0, 1.0).
func PCM16ToFloat(src []int16) []float32 {
	out := make([]float32, len(src))
	for i, s := range src {
		out[i] = float32(s) / 32768.0
	}
	return out
}

func floatToSample(f float32) int16 {
	if f != f {
		return 0
	}
	v := math.Round(float64(f) * 32767)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// SamplesToBytes encodes samples as little-endian 16-bit PCM.
func SamplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// BytesToSamples decodes little-endian 16-bit PCM. A trailing odd byte is
// ignored.
func BytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}
