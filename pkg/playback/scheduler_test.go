package playback_test

import (
	"sync"
	"testing"
	"time"

	"github.com/loqui-ai/loqui/pkg/audio"
	"github.com/loqui-ai/loqui/pkg/playback"
)

const testRate = 24000

// fakeVoice records whether Stop was called.
type fakeVoice struct {
	mu      sync.Mutex
	stopped bool
}

func (v *fakeVoice) Stop() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stopped = true
}

func (v *fakeVoice) isStopped() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stopped
}

// playCall records one Play invocation on the fake output.
type playCall struct {
	at    time.Duration
	dur   time.Duration
	voice *fakeVoice
}

// fakeOutput is an Output with a manually advanced clock.
type fakeOutput struct {
	mu    sync.Mutex
	now   time.Duration
	plays []playCall
}

func (o *fakeOutput) Now() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.now
}

func (o *fakeOutput) advance(d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.now += d
}

func (o *fakeOutput) Play(samples []float32, rate int, at time.Duration) (playback.Voice, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	v := &fakeVoice{}
	o.plays = append(o.plays, playCall{
		at:    at,
		dur:   time.Duration(len(samples)) * time.Second / time.Duration(rate),
		voice: v,
	})
	return v, nil
}

func (o *fakeOutput) calls() []playCall {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]playCall, len(o.plays))
	copy(out, o.plays)
	return out
}

// chunk builds an encoded PCM chunk of n samples.
func chunk(n int) []byte {
	return audio.EncodePCM16(make([]float32, n))
}

func TestEnqueue_BackToBackNoGapNoOverlap(t *testing.T) {
	t.Parallel()
	out := &fakeOutput{}
	s := playback.New(out, testRate)

	// Three chunks enqueued faster than real time: each must start exactly
	// where the previous one ends.
	for range 3 {
		s.Enqueue(chunk(2400)) // 100ms each
	}

	calls := out.calls()
	if len(calls) != 3 {
		t.Fatalf("got %d scheduled chunks, want 3", len(calls))
	}
	for i := 1; i < len(calls); i++ {
		prevEnd := calls[i-1].at + calls[i-1].dur
		if calls[i].at < prevEnd {
			t.Errorf("chunk %d overlaps: starts %v, previous ends %v", i, calls[i].at, prevEnd)
		}
		if calls[i].at > prevEnd {
			t.Errorf("chunk %d gaps: starts %v, previous ends %v", i, calls[i].at, prevEnd)
		}
	}
}

func TestEnqueue_LateChunkStartsAtNow(t *testing.T) {
	t.Parallel()
	out := &fakeOutput{}
	s := playback.New(out, testRate)

	s.Enqueue(chunk(2400)) // ends at 100ms
	out.advance(500 * time.Millisecond)
	s.Enqueue(chunk(2400)) // queue drained; must start at now, not at 100ms

	calls := out.calls()
	if got, want := calls[1].at, 500*time.Millisecond; got != want {
		t.Errorf("late chunk starts at %v; want %v", got, want)
	}
}

func TestEnqueue_ArbitraryGapsMonotone(t *testing.T) {
	t.Parallel()
	out := &fakeOutput{}
	s := playback.New(out, testRate)

	gaps := []time.Duration{0, 30 * time.Millisecond, 0, 250 * time.Millisecond, 10 * time.Millisecond}
	for _, g := range gaps {
		out.advance(g)
		nowAtCall := out.Now()
		s.Enqueue(chunk(1200)) // 50ms

		calls := out.calls()
		last := calls[len(calls)-1]
		if len(calls) > 1 {
			prev := calls[len(calls)-2]
			prevEnd := prev.at + prev.dur
			if last.at < prevEnd {
				t.Fatalf("chunk %d overlaps: starts %v before previous end %v",
					len(calls)-1, last.at, prevEnd)
			}
			// No unnecessary gap: start is never later than the larger of
			// now-at-call and the previous end.
			limit := prevEnd
			if nowAtCall > limit {
				limit = nowAtCall
			}
			if last.at > limit {
				t.Fatalf("chunk %d starts %v; want <= %v", len(calls)-1, last.at, limit)
			}
		}
	}
}

func TestFlush_StopsEverythingAndResetsCursor(t *testing.T) {
	t.Parallel()
	out := &fakeOutput{}
	s := playback.New(out, testRate)

	s.Enqueue(chunk(2400))
	s.Enqueue(chunk(2400))
	out.advance(50 * time.Millisecond) // first chunk mid-play
	s.Flush()

	for i, c := range out.calls() {
		if !c.voice.isStopped() {
			t.Errorf("chunk %d not stopped by Flush", i)
		}
	}
	if got := s.Pending(); got != 0 {
		t.Errorf("Pending after Flush = %d; want 0", got)
	}

	// New chunk after flush starts fresh at the current clock position.
	s.Enqueue(chunk(2400))
	calls := out.calls()
	if got, want := calls[len(calls)-1].at, 50*time.Millisecond; got != want {
		t.Errorf("post-flush chunk starts at %v; want %v", got, want)
	}
}

func TestFlush_Idempotent(t *testing.T) {
	t.Parallel()
	out := &fakeOutput{}
	s := playback.New(out, testRate)

	s.Enqueue(chunk(2400))
	s.Flush()
	s.Flush() // second flush on empty state must be a no-op

	if got := s.Pending(); got != 0 {
		t.Errorf("Pending = %d; want 0", got)
	}
	s.Enqueue(chunk(2400))
	calls := out.calls()
	if got := calls[len(calls)-1].at; got != out.Now() {
		t.Errorf("chunk after double flush starts at %v; want %v", got, out.Now())
	}
}

func TestEnqueue_UndecodableChunkDropped(t *testing.T) {
	t.Parallel()
	out := &fakeOutput{}
	s := playback.New(out, testRate)

	s.Enqueue([]byte{0x01}) // odd byte count
	if len(out.calls()) != 0 {
		t.Fatal("undecodable chunk was scheduled")
	}

	// The stream continues: the next valid chunk schedules normally.
	s.Enqueue(chunk(1200))
	if len(out.calls()) != 1 {
		t.Fatal("valid chunk after bad one was not scheduled")
	}
}

func TestPending_PrunesFinishedEntries(t *testing.T) {
	t.Parallel()
	out := &fakeOutput{}
	s := playback.New(out, testRate)

	s.Enqueue(chunk(2400)) // 100ms
	if got := s.Pending(); got != 1 {
		t.Fatalf("Pending = %d; want 1", got)
	}
	out.advance(200 * time.Millisecond)
	if got := s.Pending(); got != 0 {
		t.Errorf("Pending after playout = %d; want 0", got)
	}
}
