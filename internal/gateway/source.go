package gateway

import (
	"context"
	"sync"

	"github.com/loqui-ai/loqui/pkg/audio"
	"github.com/loqui-ai/loqui/pkg/capture"
)

// sourceBuffer is the frame channel depth. At the typical ~85ms per client
// chunk this is several seconds of backlog before pushes start dropping.
const sourceBuffer = 64

// wsSource adapts inbound binary WebSocket frames to a [capture.Source].
// The connection's read loop pushes decoded frames; the capture pipeline
// consumes them.
type wsSource struct {
	frames chan audio.Frame

	mu      sync.Mutex
	started bool
	closed  bool
}

var _ capture.Source = (*wsSource)(nil)

func newWSSource() *wsSource {
	return &wsSource{frames: make(chan audio.Frame, sourceBuffer)}
}

// Start implements [capture.Source].
func (s *wsSource) Start(context.Context) (<-chan audio.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil, capture.ErrAlreadyRunning
	}
	// Re-arm after a previous session stopped this source.
	if s.closed {
		s.frames = make(chan audio.Frame, sourceBuffer)
		s.closed = false
	}
	s.started = true
	return s.frames, nil
}

// Stop implements [capture.Source].
func (s *wsSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.frames)
	}
	s.started = false
	return nil
}

// push hands a frame to the pipeline. Frames are dropped when the buffer is
// full or the source is stopped; mic audio is stale the moment it queues.
func (s *wsSource) push(frame audio.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.started {
		return
	}
	select {
	case s.frames <- frame:
	default:
	}
}
