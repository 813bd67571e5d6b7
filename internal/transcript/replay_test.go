package transcript_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/loqui-ai/loqui/internal/transcript"
	"github.com/loqui-ai/loqui/pkg/audio"
	"github.com/loqui-ai/loqui/pkg/playback"
)

type nopVoice struct{}

func (nopVoice) Stop() {}

// replayOutput records scheduled starts against a fixed clock position.
type replayOutput struct {
	mu     sync.Mutex
	now    time.Duration
	starts []time.Duration
}

func (o *replayOutput) Now() time.Duration { return o.now }

func (o *replayOutput) Play(samples []float32, rate int, at time.Duration) (playback.Voice, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.starts = append(o.starts, at)
	return nopVoice{}, nil
}

func TestReplay_FreshTimelineStartsNow(t *testing.T) {
	t.Parallel()
	clock := newTestClock()
	r := newReconciler(clock)

	chunk := audio.EncodePCM16(make([]float32, 2400)) // 100ms at 24kHz
	r.AppendAssistantAudio(chunk)
	r.AppendAssistantAudio(chunk)
	it := r.Items()[0]

	// The shared output clock is mid-session; a replay must start at "now",
	// not at the live scheduler's cursor.
	out := &replayOutput{now: 42 * time.Second}
	if _, err := transcript.Replay(out, 24000, it); err != nil {
		t.Fatalf("Replay: %v", err)
	}

	if len(out.starts) != 2 {
		t.Fatalf("scheduled %d chunks, want 2", len(out.starts))
	}
	if out.starts[0] != 42*time.Second {
		t.Errorf("first chunk starts at %v; want 42s", out.starts[0])
	}
	if want := 42*time.Second + 100*time.Millisecond; out.starts[1] != want {
		t.Errorf("second chunk starts at %v; want %v", out.starts[1], want)
	}
}

func TestReplay_NoAudio(t *testing.T) {
	t.Parallel()
	clock := newTestClock()
	r := newReconciler(clock)
	r.AddUserTurn("text only")

	_, err := transcript.Replay(&replayOutput{}, 24000, r.Items()[0])
	if !errors.Is(err, transcript.ErrNoAudio) {
		t.Fatalf("err = %v; want ErrNoAudio", err)
	}
	if _, err := transcript.Replay(&replayOutput{}, 24000, nil); !errors.Is(err, transcript.ErrNoAudio) {
		t.Fatalf("nil item err = %v; want ErrNoAudio", err)
	}
}
