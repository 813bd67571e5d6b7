package gateway

import (
	"sync"
	"time"

	"github.com/loqui-ai/loqui/pkg/audio"
	"github.com/loqui-ai/loqui/pkg/playback"
)

// wsOutput implements [playback.Output] over the connection's outbound
// queue. Its clock starts at zero when the connection opens; Play arms a
// timer for the scheduled start and ships the chunk as a binary frame when
// it fires, so the playback scheduler's gapless timeline is honoured
// server-side and the client can simply play frames as they arrive.
type wsOutput struct {
	epoch time.Time
	send  func(pcm []byte) bool
}

var _ playback.Output = (*wsOutput)(nil)

func newWSOutput(send func(pcm []byte) bool) *wsOutput {
	return &wsOutput{epoch: time.Now(), send: send}
}

// Now implements [playback.Output].
func (o *wsOutput) Now() time.Duration {
	return time.Since(o.epoch)
}

// Play implements [playback.Output].
func (o *wsOutput) Play(samples []float32, _ int, at time.Duration) (playback.Voice, error) {
	pcm := audio.EncodePCM16(samples)
	delay := at - o.Now()
	if delay < 0 {
		delay = 0
	}
	v := &wsVoice{}
	v.timer = time.AfterFunc(delay, func() {
		if !v.cancelled() {
			o.send(pcm)
		}
	})
	return v, nil
}

// wsVoice is a pending frame delivery. Stop cancels it if the frame has not
// shipped yet; frames already on the wire cannot be recalled.
type wsVoice struct {
	timer *time.Timer

	mu       sync.Mutex
	stopFlag bool
}

func (v *wsVoice) Stop() {
	v.mu.Lock()
	v.stopFlag = true
	v.mu.Unlock()
	v.timer.Stop()
}

func (v *wsVoice) cancelled() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stopFlag
}
