// Package audio provides the PCM codec and resampling primitives shared by
// the capture and playback pipelines.
//
// The live-session wire format is 16-bit little-endian PCM, mono, transported
// as base64 inside JSON messages. Capture hardware produces float samples at
// an uncontrollable native rate, so every outbound frame passes through
// [Downsample] and [EncodePCM16]; every inbound chunk passes through
// [DecodePCM16] before playback scheduling. All functions are pure.
package audio

import (
	"encoding/base64"
	"errors"
	"fmt"
)

// ErrDecode indicates that inbound media data could not be decoded. Decode
// failures are isolated per chunk: callers log and drop the offending chunk
// rather than aborting the stream.
var ErrDecode = errors.New("audio: malformed media data")

// EncodePCM16 converts float samples in [-1, 1] to 16-bit little-endian PCM.
// Out-of-range samples are clamped before scaling.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := int16(s * 32767)
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// DecodePCM16 converts 16-bit little-endian PCM bytes back to float samples.
// Returns [ErrDecode] if the byte count is not sample-aligned.
func DecodePCM16(data []byte) ([]float32, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("%w: odd byte count %d", ErrDecode, len(data))
	}
	samples := make([]float32, len(data)/2)
	for i := range samples {
		v := int16(data[i*2]) | int16(data[i*2+1])<<8
		s := float32(v) / 32767
		if s < -1 {
			s = -1
		}
		samples[i] = s
	}
	return samples, nil
}

// EncodeBase64 encodes raw bytes using standard base64, the transport
// encoding used for both outbound mic frames and inbound playback chunks.
func EncodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeBase64 decodes a standard base64 payload. Returns [ErrDecode] on
// malformed input.
func DecodeBase64(s string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return data, nil
}
