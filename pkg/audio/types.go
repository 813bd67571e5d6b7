package audio

import "time"

// Frame represents a single block of captured audio flowing through the
// pipeline. Frames are the atomic unit of audio transport — produced by a
// capture source once per processing tick and consumed immediately by the
// encode-and-send path.
type Frame struct {
	// Samples holds single-channel audio samples in the range [-1, 1].
	Samples []float32

	// SampleRate in Hz (e.g., 48000 for typical capture hardware, 16000 for
	// the live-session input format).
	SampleRate int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the playback duration of the frame.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}
