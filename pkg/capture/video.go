package capture

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"log/slog"
	"sync"
	"time"

	"github.com/loqui-ai/loqui/pkg/audio"
	"github.com/loqui-ai/loqui/pkg/live"
)

// DefaultFrameInterval is the cadence at which video frames are captured and
// sent. One frame per second is deliberate: the video sub-stream is
// independent of and unsynchronised with the audio stream, and the remote
// side needs only periodic visual context.
const DefaultFrameInterval = time.Second

// DefaultJPEGQuality is the compression quality for outbound frames.
const DefaultJPEGQuality = 70

// Grabber produces the current frame of a camera or screen source.
type Grabber interface {
	Grab(ctx context.Context) (image.Image, error)
}

// VideoPipeline sends one JPEG-compressed frame per interval over the same
// duplex channel as the audio stream. All exported methods are safe for
// concurrent use.
type VideoPipeline struct {
	grab     Grabber
	send     SendFunc
	interval time.Duration
	quality  int

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// VideoOption configures a [VideoPipeline].
type VideoOption func(*VideoPipeline)

// WithFrameInterval overrides [DefaultFrameInterval]. Useful in tests.
func WithFrameInterval(d time.Duration) VideoOption {
	return func(v *VideoPipeline) {
		if d > 0 {
			v.interval = d
		}
	}
}

// WithJPEGQuality overrides [DefaultJPEGQuality].
func WithJPEGQuality(q int) VideoOption {
	return func(v *VideoPipeline) {
		if q > 0 && q <= 100 {
			v.quality = q
		}
	}
}

// NewVideo creates a VideoPipeline that grabs frames from grab and hands
// encoded chunks to send.
func NewVideo(grab Grabber, send SendFunc, opts ...VideoOption) *VideoPipeline {
	v := &VideoPipeline{
		grab:     grab,
		send:     send,
		interval: DefaultFrameInterval,
		quality:  DefaultJPEGQuality,
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Start begins the fixed-interval frame loop. Returns [ErrAlreadyRunning] if
// the pipeline is active.
func (v *VideoPipeline) Start(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.running {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	v.running = true
	v.cancel = cancel
	v.done = make(chan struct{})
	go v.run(runCtx)
	return nil
}

func (v *VideoPipeline) run(ctx context.Context) {
	defer close(v.done)

	ticker := time.NewTicker(v.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			v.sendFrame(ctx)
		}
	}
}

// sendFrame grabs, compresses, and sends a single frame. Failures are logged
// and the frame is skipped; the next tick supersedes it.
func (v *VideoPipeline) sendFrame(ctx context.Context) {
	img, err := v.grab.Grab(ctx)
	if err != nil {
		slog.Debug("video: grab failed, frame skipped", "err", err)
		return
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: v.quality}); err != nil {
		slog.Warn("video: jpeg encode failed, frame skipped", "err", err)
		return
	}

	chunk := live.MediaChunk{
		MIMEType: live.MIMEImageJPEG,
		Data:     audio.EncodeBase64(buf.Bytes()),
	}
	if err := v.send(chunk); err != nil {
		slog.Warn("video: send failed, frame dropped", "err", err)
	}
}

// Stop cancels the frame loop and waits for it to exit. Calling Stop on an
// already-stopped pipeline is a no-op.
func (v *VideoPipeline) Stop() {
	v.mu.Lock()
	if !v.running {
		v.mu.Unlock()
		return
	}
	v.running = false
	cancel := v.cancel
	done := v.done
	v.mu.Unlock()

	cancel()
	<-done
}
