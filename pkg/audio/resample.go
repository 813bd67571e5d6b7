package audio

// Downsample converts samples from srcRate to dstRate using linear
// interpolation, preserving amplitude scale. When the rates already match the
// input slice is returned unchanged — the common fast path when capture
// hardware happens to run at the session input rate.
//
// Capture hardware rates are not controllable cross-platform (48 kHz is
// typical) while the live session mandates 16 kHz input; sending unconverted
// audio makes the remote side reject or silently misinterpret the stream.
func Downsample(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 {
		return samples
	}
	if srcRate == dstRate || len(samples) < 2 {
		return samples
	}

	dstLen := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if dstLen == 0 {
		return nil
	}

	out := make([]float32, dstLen)
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
		out[i] = float32(float64(s0)*(1-frac) + float64(s1)*frac)
	}
	return out
}
