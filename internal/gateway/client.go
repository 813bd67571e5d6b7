package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/loqui-ai/loqui/internal/session"
	"github.com/loqui-ai/loqui/internal/transcript"
	"github.com/loqui-ai/loqui/pkg/audio"
	"github.com/loqui-ai/loqui/pkg/capture"
	"github.com/loqui-ai/loqui/pkg/playback"
)

const (
	// writeTimeout bounds a single outbound frame write.
	writeTimeout = 10 * time.Second

	// sendBuffer is the outbound queue depth per client.
	sendBuffer = 256

	// defaultHWRate is assumed for binary mic frames until the client's
	// hello declares otherwise.
	defaultHWRate = 48000
)

// outbound is one queued WebSocket frame.
type outbound struct {
	typ     websocket.MessageType
	payload []byte
}

// client owns one WebSocket connection and the session pipeline behind it.
type client struct {
	srv     *Server
	conn    *websocket.Conn
	subject string
	log     *slog.Logger

	source  *wsSource
	grabber *wsGrabber
	rec     *transcript.Reconciler
	mgr     *session.Manager

	sendCh chan outbound

	mu        sync.Mutex
	hwRate    int
	closed    bool
	replay    *playback.Scheduler
	openedAt  time.Time
	inSession bool
}

func (s *Server) newClient(conn *websocket.Conn, subject string) *client {
	c := &client{
		srv:     s,
		conn:    conn,
		subject: subject,
		log:     s.log.With("subject", subject),
		source:  newWSSource(),
		grabber: &wsGrabber{},
		sendCh:  make(chan outbound, sendBuffer),
		hwRate:  defaultHWRate,
	}

	recOpts := []transcript.Option{}
	if s.cfg.MergeWindow > 0 {
		recOpts = append(recOpts, transcript.WithMergeWindow(s.cfg.MergeWindow))
	}
	if s.cfg.DisableFencing {
		recOpts = append(recOpts, transcript.WithDelimiter(""))
	} else if s.cfg.Delimiter != "" {
		recOpts = append(recOpts, transcript.WithDelimiter(s.cfg.Delimiter))
	}
	c.rec = transcript.New(recOpts...)

	out := newWSOutput(func(pcm []byte) bool {
		ok := c.enqueue(websocket.MessageBinary, pcm)
		if ok {
			s.metrics.AudioChunksOut.Add(context.Background(), 1)
		}
		return ok
	})

	// Frames normally come from the client over the socket; a server-side
	// grabber, when configured, takes precedence.
	var video capture.Grabber = c.grabber
	if s.cfg.Video != nil {
		video = s.cfg.Video
	}

	cfg := session.Config{
		Provider:     s.cfg.Provider,
		Session:      s.cfg.Session,
		Source:       c.source,
		InputRate:    s.cfg.InputRate,
		Output:       out,
		OutputRate:   s.cfg.OutputRate,
		Transcript:   c.rec,
		GraceDelay:   s.cfg.QuotaGrace,
		Video:        video,
		VideoOptions: s.cfg.VideoOptions,
		Logger:       c.log,
		OnState:      c.onState,
		OnTranscript: c.onTranscript,
	}
	if s.quota != nil {
		cfg.Quota = s.quota(subject)
	}
	c.mgr = session.New(cfg)
	return c
}

// run services the connection until the peer disconnects or ctx ends, then
// releases the pipeline.
func (c *client) run(ctx context.Context) {
	go c.writeLoop(ctx)

	c.readLoop(ctx)

	_ = c.mgr.Stop()
	c.flushReplay()
	_ = c.source.Stop()

	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	close(c.sendCh)
}

// readLoop dispatches inbound frames: binary is mic audio, text is a
// command.
func (c *client) readLoop(ctx context.Context) {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || ctx.Err() != nil {
				c.log.Debug("client disconnected")
			} else {
				c.log.Warn("read failed", "err", err)
			}
			return
		}

		switch typ {
		case websocket.MessageBinary:
			c.handleMicFrame(ctx, data)
		case websocket.MessageText:
			c.handleCommand(ctx, data)
		}
	}
}

// writeLoop ships queued frames until the queue closes or a write fails.
func (c *client) writeLoop(ctx context.Context) {
	for ob := range c.sendCh {
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		err := c.conn.Write(wctx, ob.typ, ob.payload)
		cancel()
		if err != nil {
			c.log.Debug("write failed", "err", err)
			return
		}
	}
}

func (c *client) handleMicFrame(ctx context.Context, data []byte) {
	samples, err := audio.DecodePCM16(data)
	if err != nil {
		c.srv.metrics.DecodeErrors.Add(ctx, 1)
		c.log.Warn("dropping undecodable mic frame", "err", err, "bytes", len(data))
		return
	}
	c.mu.Lock()
	rate := c.hwRate
	c.mu.Unlock()

	c.source.push(audio.Frame{Samples: samples, SampleRate: rate})
	c.srv.metrics.AudioChunksIn.Add(ctx, 1)
}

func (c *client) handleCommand(ctx context.Context, data []byte) {
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("malformed command: " + err.Error())
		return
	}

	switch msg.Type {
	case cmdHello:
		if msg.SampleRate > 0 {
			c.mu.Lock()
			c.hwRate = msg.SampleRate
			c.mu.Unlock()
		}

	case cmdStart:
		if err := c.mgr.Start(ctx); err != nil {
			c.log.Warn("session start failed", "err", err)
			c.sendError(err.Error())
		}

	case cmdStop:
		_ = c.mgr.Stop()

	case cmdMute:
		if msg.Enabled != nil {
			c.mgr.SetMicEnabled(*msg.Enabled)
		}

	case cmdText:
		if err := c.mgr.SendText(msg.Text); err != nil {
			c.sendError(err.Error())
		}

	case cmdReplay:
		c.flushReplay()
		sched, err := c.mgr.Replay(msg.ItemID)
		if err != nil {
			c.sendError(err.Error())
			return
		}
		c.mu.Lock()
		c.replay = sched
		c.mu.Unlock()

	case cmdVideoStart:
		if err := c.mgr.StartVideo(ctx); err != nil {
			c.sendError(err.Error())
		}

	case cmdVideoStop:
		c.mgr.StopVideo()

	case cmdVideoFrame:
		frame, err := audio.DecodeBase64(msg.Data)
		if err == nil {
			err = c.grabber.push(frame)
		}
		if err != nil {
			c.srv.metrics.DecodeErrors.Add(ctx, 1)
			c.log.Warn("dropping undecodable video frame", "err", err)
		}

	default:
		c.log.Warn("unknown command", "type", msg.Type)
	}
}

// onState pushes lifecycle transitions to the client and keeps the session
// gauges current.
func (c *client) onState(s session.State) {
	ctx := context.Background()
	c.mu.Lock()
	switch s {
	case session.StateOpen:
		c.openedAt = time.Now()
		c.inSession = true
		c.srv.metrics.ActiveSessions.Add(ctx, 1)
	case session.StateIdle:
		if c.inSession {
			c.inSession = false
			c.srv.metrics.ActiveSessions.Add(ctx, -1)
			c.srv.metrics.SessionDuration.Record(ctx, time.Since(c.openedAt).Seconds())
		}
	}
	c.mu.Unlock()

	c.sendJSON(serverMessage{Type: updState, State: s.String()})
}

// onTranscript pushes the visible transcript projection.
func (c *client) onTranscript() {
	c.sendJSON(serverMessage{Type: updTranscript, Entries: c.rec.Visible()})
}

func (c *client) sendError(msg string) {
	c.sendJSON(serverMessage{Type: updError, Error: msg})
}

func (c *client) sendJSON(v serverMessage) {
	payload, err := json.Marshal(v)
	if err != nil {
		c.log.Error("marshal update", "err", err)
		return
	}
	c.enqueue(websocket.MessageText, payload)
}

// enqueue queues a frame for delivery. Frames are dropped once the client
// is gone or the queue is full; a slow consumer must not stall the
// pipeline.
func (c *client) enqueue(typ websocket.MessageType, payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.sendCh <- outbound{typ: typ, payload: payload}:
		return true
	default:
		c.log.Warn("outbound queue full, dropping frame")
		return false
	}
}

func (c *client) flushReplay() {
	c.mu.Lock()
	sched := c.replay
	c.replay = nil
	c.mu.Unlock()
	if sched != nil {
		sched.Flush()
	}
}
