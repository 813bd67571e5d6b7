package audio_test

import (
	"errors"
	"math"
	"testing"

	"github.com/loqui-ai/loqui/pkg/audio"
)

func TestEncodePCM16_RoundTrip(t *testing.T) {
	t.Parallel()
	in := []float32{0, 0.25, -0.25, 0.5, -0.5, 0.999, -0.999, 1, -1}
	got, err := audio.DecodePCM16(audio.EncodePCM16(in))
	if err != nil {
		t.Fatalf("DecodePCM16: %v", err)
	}
	if len(got) != len(in) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(in))
	}
	// One quantisation step of int16 PCM.
	const tolerance = 1.0 / 32767
	for i := range in {
		if diff := math.Abs(float64(got[i] - in[i])); diff > tolerance {
			t.Errorf("sample %d: got %f, want %f (diff %f)", i, got[i], in[i], diff)
		}
	}
}

func TestEncodePCM16_ClampsOutOfRange(t *testing.T) {
	t.Parallel()
	out := audio.EncodePCM16([]float32{2.5, -2.5})
	got, err := audio.DecodePCM16(out)
	if err != nil {
		t.Fatalf("DecodePCM16: %v", err)
	}
	if got[0] != 1 {
		t.Errorf("positive overflow: got %f, want 1", got[0])
	}
	if got[1] != -1 {
		t.Errorf("negative overflow: got %f, want -1", got[1])
	}
}

func TestEncodePCM16_LittleEndian(t *testing.T) {
	t.Parallel()
	// 0.5 * 32767 = 16383 = 0x3FFF → bytes FF 3F.
	out := audio.EncodePCM16([]float32{0.5})
	if out[0] != 0xFF || out[1] != 0x3F {
		t.Errorf("got bytes %02X %02X, want FF 3F", out[0], out[1])
	}
}

func TestDecodePCM16_OddByteCount(t *testing.T) {
	t.Parallel()
	_, err := audio.DecodePCM16([]byte{0x01, 0x02, 0x03})
	if !errors.Is(err, audio.ErrDecode) {
		t.Fatalf("err = %v; want ErrDecode", err)
	}
}

func TestDecodePCM16_Empty(t *testing.T) {
	t.Parallel()
	got, err := audio.DecodePCM16(nil)
	if err != nil {
		t.Fatalf("DecodePCM16(nil): %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d samples, want 0", len(got))
	}
}

func TestBase64_RoundTrip(t *testing.T) {
	t.Parallel()
	in := []byte{0x00, 0x7F, 0x80, 0xFF}
	got, err := audio.DecodeBase64(audio.EncodeBase64(in))
	if err != nil {
		t.Fatalf("DecodeBase64: %v", err)
	}
	if len(got) != len(in) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(in))
	}
	for i := range in {
		if got[i] != in[i] {
			t.Errorf("byte %d: got %02X, want %02X", i, got[i], in[i])
		}
	}
}

func TestDecodeBase64_Malformed(t *testing.T) {
	t.Parallel()
	_, err := audio.DecodeBase64("not!!valid@@base64")
	if !errors.Is(err, audio.ErrDecode) {
		t.Fatalf("err = %v; want ErrDecode", err)
	}
}
