package transcript

import (
	"errors"

	"github.com/loqui-ai/loqui/pkg/playback"
)

// ErrNoAudio is returned when a replay is requested for an item that carries
// no audio (user items, or assistant turns that produced text only).
var ErrNoAudio = errors.New("transcript: item has no audio")

// Replay schedules an item's recorded audio chunks back-to-back on a fresh
// timeline starting now. The returned scheduler owns its own cursor, so a
// replay never disturbs live playback state; callers keep it to flush the
// replay early.
func Replay(out playback.Output, sampleRate int, it *Item) (*playback.Scheduler, error) {
	if it == nil || len(it.audio) == 0 {
		return nil, ErrNoAudio
	}
	s := playback.New(out, sampleRate)
	for _, chunk := range it.audio {
		s.Enqueue(chunk)
	}
	return s, nil
}
