// Package playback schedules decoded model audio onto a shared output
// timeline with no gaps and no overlaps.
//
// The remote session streams audio chunks with no buffering control of its
// own; the [Scheduler] turns that stream into back-to-back playback by
// maintaining a monotonic cursor: each new chunk starts at
// max(clock now, cursor) and the cursor advances by the chunk's duration.
// Barge-in discards everything via [Scheduler.Flush].
//
// The output clock and timeline are owned exclusively by the Scheduler; no
// other component schedules audio on the same [Output].
package playback

import (
	"log/slog"
	"sync"
	"time"

	"github.com/loqui-ai/loqui/pkg/audio"
)

// Output abstracts an audio output device and its clock. Implementations must
// be safe for concurrent use.
type Output interface {
	// Now returns the current position of the output clock. The clock must be
	// monotonic for the lifetime of the Output.
	Now() time.Duration

	// Play schedules samples for playback starting at the given clock
	// position and returns a handle that can stop the entry early.
	Play(samples []float32, sampleRate int, at time.Duration) (Voice, error)
}

// Voice is a single scheduled playback entry.
type Voice interface {
	// Stop cancels the entry, whether it is still pending or already audible.
	// Stop is idempotent.
	Stop()
}

// entry tracks one scheduled chunk until it finishes playing.
type entry struct {
	voice Voice
	end   time.Duration
}

// Scheduler sequences inbound PCM chunks onto an [Output]. All methods are
// safe for concurrent use.
type Scheduler struct {
	out  Output
	rate int

	mu      sync.Mutex
	next    time.Duration // cursor: earliest start for the next chunk
	entries []entry
}

// New creates a Scheduler that decodes inbound chunks as 16-bit little-endian
// PCM at sampleRate and plays them on out.
func New(out Output, sampleRate int) *Scheduler {
	return &Scheduler{out: out, rate: sampleRate}
}

// Enqueue decodes one PCM chunk and schedules it immediately after the last
// scheduled chunk, or at the current clock position if the queue has drained.
// A chunk that fails to decode or schedule is logged and dropped; the stream
// continues.
func (s *Scheduler) Enqueue(pcm []byte) {
	samples, err := audio.DecodePCM16(pcm)
	if err != nil {
		slog.Warn("playback: dropping undecodable chunk", "err", err, "bytes", len(pcm))
		return
	}
	if len(samples) == 0 {
		return
	}
	duration := time.Duration(len(samples)) * time.Second / time.Duration(s.rate)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.out.Now()
	start := s.next
	if now > start {
		start = now
	}

	voice, err := s.out.Play(samples, s.rate, start)
	if err != nil {
		slog.Warn("playback: dropping unplayable chunk", "err", err, "bytes", len(pcm))
		return
	}

	s.pruneLocked(now)
	s.entries = append(s.entries, entry{voice: voice, end: start + duration})
	s.next = start + duration
}

// Flush immediately stops all scheduled and playing entries and resets the
// cursor to the current clock position. Invoked on barge-in: queued model
// audio must be discarded at once to avoid overlapping the user's speech.
// Idempotent — flushing an empty scheduler only resets the cursor.
func (s *Scheduler) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.entries {
		e.voice.Stop()
	}
	s.entries = s.entries[:0]
	s.next = s.out.Now()
}

// Pending reports how many entries are scheduled or playing, judged against
// the current clock position.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(s.out.Now())
	return len(s.entries)
}

// pruneLocked drops tracking state for entries that have finished playing.
// Callers must hold s.mu.
func (s *Scheduler) pruneLocked(now time.Duration) {
	kept := s.entries[:0]
	for _, e := range s.entries {
		if e.end > now {
			kept = append(kept, e)
		}
	}
	s.entries = kept
}
