package gateway

import (
	"bytes"
	"context"
	"errors"
	"image"
	_ "image/jpeg" // register the decoder for uploaded frames
	"sync"

	"github.com/loqui-ai/loqui/pkg/capture"
)

// errNoFrame is returned by Grab before the client has uploaded any frame.
// The video pipeline skips the tick and tries again on the next one.
var errNoFrame = errors.New("gateway: no video frame received yet")

// wsGrabber adapts client-uploaded frames to a [capture.Grabber]. video_frame
// commands replace the current frame; Grab returns whatever is current, so
// the pipeline's sampling cadence is decoupled from the client's upload rate.
type wsGrabber struct {
	mu     sync.Mutex
	latest image.Image
}

var _ capture.Grabber = (*wsGrabber)(nil)

// push decodes an uploaded frame and makes it current. On a decode failure
// the previous frame stays current.
func (g *wsGrabber) push(data []byte) error {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return err
	}
	g.mu.Lock()
	g.latest = img
	g.mu.Unlock()
	return nil
}

// Grab implements [capture.Grabber].
func (g *wsGrabber) Grab(context.Context) (image.Image, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.latest == nil {
		return nil, errNoFrame
	}
	return g.latest, nil
}
