// Package capture owns the outbound media pipelines: microphone frames and
// intermittent video frames, encoded into the live-session wire format.
//
// A [Source] abstracts the microphone hardware. It emits fixed-size sample
// windows at the hardware's native rate on a long-lived channel; the
// [Pipeline] resamples each window to the session input rate, encodes it, and
// hands it to the session's outbound sender. Muting is a live flag read on
// every tick — frames produced while muted are dropped, never queued, so no
// backlog accumulates.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/loqui-ai/loqui/pkg/audio"
	"github.com/loqui-ai/loqui/pkg/live"
)

// ErrHardwareDenied indicates microphone (or camera) access was refused or no
// device exists. The session must not start.
var ErrHardwareDenied = errors.New("capture: hardware access denied")

// ErrAlreadyRunning is returned by Start on a pipeline that is already running.
var ErrAlreadyRunning = errors.New("capture: pipeline already running")

// Source abstracts a microphone stream. Start acquires exclusive access to
// the device and returns a channel of fixed-size frames at the hardware's
// native sample rate; Stop releases the device and closes the channel.
// Implementations must make Stop idempotent.
type Source interface {
	Start(ctx context.Context) (<-chan audio.Frame, error)
	Stop() error
}

// SendFunc delivers one encoded chunk to the session's outbound sender.
type SendFunc func(live.MediaChunk) error

// Pipeline converts captured frames into outbound audio chunks. All exported
// methods are safe for concurrent use.
type Pipeline struct {
	src        Source
	targetRate int
	send       SendFunc

	// enabled is read fresh on every processing tick, not captured at setup
	// time — the run loop is long-lived and must observe toggles made after
	// it started. Toggling takes effect on the next tick at the latest.
	enabled atomic.Bool

	mu      sync.Mutex
	running bool
	done    chan struct{}
}

// New creates a Pipeline that resamples frames from src to targetRate and
// hands encoded chunks to send. The pipeline starts enabled (unmuted).
func New(src Source, targetRate int, send SendFunc) *Pipeline {
	p := &Pipeline{
		src:        src,
		targetRate: targetRate,
		send:       send,
	}
	p.enabled.Store(true)
	return p
}

// Start acquires the microphone and begins emitting chunks. Returns
// [ErrHardwareDenied] (wrapped) if the device cannot be acquired and
// [ErrAlreadyRunning] if the pipeline is active.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return ErrAlreadyRunning
	}

	frames, err := p.src.Start(ctx)
	if err != nil {
		return fmt.Errorf("capture: start source: %w", err)
	}

	p.running = true
	p.done = make(chan struct{})
	go p.run(frames)
	return nil
}

// run is the processing loop: one iteration per capture tick. It exits when
// the source closes its frame channel (i.e., after Stop releases the device).
func (p *Pipeline) run(frames <-chan audio.Frame) {
	defer close(p.done)

	for frame := range frames {
		// Live flag read at tick time: while muted, frames are dropped here,
		// not queued.
		if !p.enabled.Load() {
			continue
		}

		samples := audio.Downsample(frame.Samples, frame.SampleRate, p.targetRate)
		if len(samples) == 0 {
			continue
		}

		chunk := live.MediaChunk{
			MIMEType: live.MIMEAudioPCM,
			Data:     audio.EncodeBase64(audio.EncodePCM16(samples)),
		}
		if err := p.send(chunk); err != nil {
			// Stale audio is not worth retransmitting — the next tick
			// supersedes this frame.
			slog.Warn("capture: send failed, frame dropped", "err", err)
		}
	}
}

// SetEnabled toggles frame emission without touching the hardware stream.
// The change takes effect on the next processing tick at the latest.
func (p *Pipeline) SetEnabled(enabled bool) {
	p.enabled.Store(enabled)
}

// Enabled reports whether frame emission is currently enabled.
func (p *Pipeline) Enabled() bool {
	return p.enabled.Load()
}

// Stop releases the hardware stream and waits for the processing loop to
// drain. Calling Stop on an already-stopped pipeline is a no-op.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	done := p.done
	p.mu.Unlock()

	if err := p.src.Stop(); err != nil {
		slog.Warn("capture: source stop", "err", err)
	}
	<-done
}
