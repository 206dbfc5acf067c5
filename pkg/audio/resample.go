package audio

import "math"

// Resample converts input sampled at inputRate to targetRate using linear
// interpolation and returns a newly allocated slice.
//
// The output has at most floor(len(input)*targetRate/inputRate) samples. An
// output position whose right-hand neighbour lies past the end of input stops
// the conversion, so a trailing partial window is dropped rather than padded.
// Non-positive rates yield an empty result.
func Resample(input []float32, inputRate, targetRate float64) []float32 {
	return ResampleInto(nil, input, inputRate, targetRate)
}

// ResampleInto is [Resample] appending to dst. Passing dst[:0] of a buffer
// with enough capacity makes the conversion allocation-free, which is what the
// capture callback relies on.
func ResampleInto(dst, input []float32, inputRate, targetRate float64) []float32 {
	if inputRate <= 0 || targetRate <= 0 || len(input) == 0 {
		return dst
	}
	n := ResampledLen(len(input), inputRate, targetRate)
	for i := range n {
		x := float64(i) * inputRate / targetRate
		x1 := math.Floor(x)
		x2 := math.Ceil(x)
		if int(x2) >= len(input) {
			break
		}
		y1 := input[int(x1)]
		y2 := input[int(x2)]
		dst = append(dst, y1+(y2-y1)*float32(x-x1))
	}
	return dst
}

// ResampledLen is the upper bound on the number of samples [Resample] produces
// from n input samples. Non-positive rates yield zero.
func ResampledLen(n int, inputRate, targetRate float64) int {
	if inputRate <= 0 || targetRate <= 0 || n <= 0 {
		return 0
	}
	return int(math.Floor(float64(n) * targetRate / inputRate))
}

// ResamplePCM16 resamples 16-bit mono samples from srcRate to dstRate using
// linear interpolation. Unlike [Resample] the tail is held rather than
// dropped, so the output length is exactly len(samples)*dstRate/srcRate. If
// the rates match, or either is non-positive, samples is returned unchanged.
func ResamplePCM16(samples []int16, srcRate, dstRate int) []int16 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) == 0 {
		return samples
	}
	dstLen := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if dstLen == 0 {
		return nil
	}

	out := make([]int16, dstLen)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstLen {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := samples[srcIdx]
		s1 := s0
		if srcIdx+1 < len(samples) {
			s1 = samples[srcIdx+1]
		}
		out[i] = int16(float64(s0)*(1-frac) + float64(s1)*frac)
	}
	return out
}
