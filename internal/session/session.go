// Package session coordinates one live voice conversation: microphone
// capture, the provider session, playback scheduling, transcript
// reconciliation and the demo quota.
//
// A [Manager] owns at most one live session at a time and walks it through
// an explicit state machine: Idle → Connecting → Open → Closing → Idle.
// Every teardown path funnels through [Manager.Stop], so resources are
// released exactly once regardless of who initiated the close.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loqui-ai/loqui/internal/quota"
	"github.com/loqui-ai/loqui/internal/transcript"
	"github.com/loqui-ai/loqui/pkg/capture"
	"github.com/loqui-ai/loqui/pkg/live"
	"github.com/loqui-ai/loqui/pkg/playback"
)

// State is the lifecycle state of a [Manager].
type State int

const (
	// StateIdle means no session exists. Start is allowed.
	StateIdle State = iota
	// StateConnecting means the microphone is armed and the provider dial is
	// in flight.
	StateConnecting
	// StateOpen means the duplex session is live.
	StateOpen
	// StateClosing means teardown is in progress.
	StateClosing
)

// String implements [fmt.Stringer].
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// VideoState reports whether frame sharing is active.
type VideoState int

const (
	VideoOff VideoState = iota
	VideoOn
)

var (
	// ErrActive is returned by Start while a session already exists.
	ErrActive = errors.New("session: already active")
	// ErrNotOpen is returned by operations that require an open session.
	ErrNotOpen = errors.New("session: not open")
	// ErrNoVideoSource is returned by StartVideo when no frame grabber is
	// configured.
	ErrNoVideoSource = errors.New("session: no video source configured")
	// ErrVideoActive is returned by StartVideo while video is already running.
	ErrVideoActive = errors.New("session: video already active")
	// ErrStopped is returned by Start when Stop was called while the provider
	// dial was still in flight.
	ErrStopped = errors.New("session: stopped while connecting")
	// ErrQuotaExhausted is returned by Start while the demo allowance is
	// locked out.
	ErrQuotaExhausted = errors.New("session: demo limit reached")
)

const (
	// DefaultInputRate is the sample rate the provider expects for mic audio.
	DefaultInputRate = 16000
	// DefaultOutputRate is the sample rate of provider playback audio.
	DefaultOutputRate = 24000
	// DefaultGraceDelay is how long the final assistant reply may keep
	// playing after the demo quota locks out before the session is closed.
	DefaultGraceDelay = 2 * time.Second
	// quotaTimeout bounds quota store round-trips on the event loop.
	quotaTimeout = 5 * time.Second
)

// Config assembles the collaborators of a [Manager]. Provider, Source,
// Output and Transcript are required; the rest have working defaults.
type Config struct {
	Provider live.Provider
	Session  live.SessionConfig

	// Source is the microphone. Its frames are downsampled to InputRate and
	// streamed to the provider while the session is open and unmuted.
	Source    capture.Source
	InputRate int

	// Output receives scheduled playback audio at OutputRate.
	Output     playback.Output
	OutputRate int

	Transcript *transcript.Reconciler

	// Quota, when set, counts completed assistant turns and triggers the
	// grace-delayed shutdown once the demo limit is reached.
	Quota      *quota.Tracker
	GraceDelay time.Duration

	// Video, when set, enables StartVideo.
	Video        capture.Grabber
	VideoOptions []capture.VideoOption

	Logger *slog.Logger

	// OnState is invoked after every state transition. OnTranscript is
	// invoked whenever the transcript changed. Both may be nil and must not
	// block; they are called from the manager's goroutines.
	OnState      func(State)
	OnTranscript func()
}

// Manager drives the session lifecycle. Safe for concurrent use.
type Manager struct {
	cfg Config
	log *slog.Logger

	mu    sync.Mutex
	state State
	// gen is bumped on every Start and Stop; asynchronous callbacks carry
	// the generation they were created under and no-op when it is stale.
	gen    uint64
	handle live.SessionHandle
	mic    *capture.Pipeline
	sched  *playback.Scheduler
	video  *capture.VideoPipeline
	grace  *time.Timer
	// micEnabled is the desired mute state; it survives across sessions and
	// is applied to each new capture pipeline.
	micEnabled bool
}

// New creates a Manager. Zero-valued optional fields get defaults.
func New(cfg Config) *Manager {
	if cfg.InputRate <= 0 {
		cfg.InputRate = DefaultInputRate
	}
	if cfg.OutputRate <= 0 {
		cfg.OutputRate = DefaultOutputRate
	}
	if cfg.GraceDelay <= 0 {
		cfg.GraceDelay = DefaultGraceDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{cfg: cfg, log: cfg.Logger, micEnabled: true}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start arms the microphone, dials the provider and enters StateOpen.
// The microphone is acquired before the dial so a hardware denial surfaces
// without a wasted connection; a dial failure releases it again.
func (m *Manager) Start(ctx context.Context) error {
	// A locked-out subject does not get a new session; the allowance resets
	// only when the lock window elapses.
	if m.cfg.Quota != nil {
		locked, err := m.cfg.Quota.Locked(ctx)
		if err != nil {
			m.log.Warn("checking quota before start", "err", err)
		} else if locked {
			return ErrQuotaExhausted
		}
	}

	m.mu.Lock()
	if m.state != StateIdle {
		m.mu.Unlock()
		return ErrActive
	}
	m.state = StateConnecting
	m.gen++
	gen := m.gen
	mic := capture.New(m.cfg.Source, m.cfg.InputRate, m.sendMedia(gen))
	mic.SetEnabled(m.micEnabled)
	m.mic = mic
	m.mu.Unlock()
	m.notifyState(StateConnecting)

	if err := mic.Start(ctx); err != nil {
		m.reset(gen)
		return fmt.Errorf("session: starting capture: %w", err)
	}

	handle, err := m.cfg.Provider.Connect(ctx, m.cfg.Session)
	if err != nil {
		mic.Stop()
		m.reset(gen)
		return fmt.Errorf("session: connect: %w", err)
	}

	sched := playback.New(m.cfg.Output, m.cfg.OutputRate)

	m.mu.Lock()
	if m.gen != gen || m.state != StateConnecting {
		// Stop won the race while the dial was in flight; the session is
		// already torn down, so the late handle must not be kept.
		m.mu.Unlock()
		_ = handle.Close()
		mic.Stop()
		return ErrStopped
	}
	m.handle = handle
	m.sched = sched
	m.state = StateOpen
	m.mu.Unlock()
	m.notifyState(StateOpen)

	if m.cfg.Quota != nil {
		m.cfg.Quota.OnLockout(func() { m.scheduleGraceStop(gen) })
	}

	go m.eventLoop(gen, handle, sched)
	return nil
}

// Stop tears the session down from any state. It synchronously stops
// capture and video, cancels the grace timer, closes the provider handle,
// flushes pending playback and finalizes open transcript items. Calling
// Stop with no active session is a no-op.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if m.state == StateIdle {
		m.mu.Unlock()
		return nil
	}
	m.state = StateClosing
	m.gen++
	handle, mic, sched, video, grace := m.handle, m.mic, m.sched, m.video, m.grace
	m.handle, m.mic, m.sched, m.video, m.grace = nil, nil, nil, nil, nil
	m.mu.Unlock()
	m.notifyState(StateClosing)

	if grace != nil {
		grace.Stop()
	}
	if video != nil {
		video.Stop()
	}
	if mic != nil {
		mic.Stop()
	}
	if handle != nil {
		_ = handle.Close()
	}
	if sched != nil {
		sched.Flush()
	}
	m.cfg.Transcript.CloseOpen()
	m.notifyTranscript()

	m.mu.Lock()
	m.state = StateIdle
	m.mu.Unlock()
	m.notifyState(StateIdle)
	return nil
}

// SendText submits a typed user turn. Only valid in StateOpen. The turn is
// final when sent, so it lands in the transcript already complete.
func (m *Manager) SendText(text string) error {
	m.mu.Lock()
	if m.state != StateOpen {
		m.mu.Unlock()
		return ErrNotOpen
	}
	handle := m.handle
	m.mu.Unlock()

	if err := handle.SendText(text); err != nil {
		return fmt.Errorf("session: send text: %w", err)
	}
	m.cfg.Transcript.AddUserTurn(text)
	m.notifyTranscript()
	return nil
}

// SetMicEnabled toggles the mute flag. The setting persists across
// sessions; while a session is open it takes effect on the next capture
// tick.
func (m *Manager) SetMicEnabled(enabled bool) {
	m.mu.Lock()
	m.micEnabled = enabled
	mic := m.mic
	m.mu.Unlock()
	if mic != nil {
		mic.SetEnabled(enabled)
	}
}

// MicEnabled reports the mute flag.
func (m *Manager) MicEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.micEnabled
}

// StartVideo begins streaming frames from the configured grabber.
func (m *Manager) StartVideo(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateOpen {
		m.mu.Unlock()
		return ErrNotOpen
	}
	if m.cfg.Video == nil {
		m.mu.Unlock()
		return ErrNoVideoSource
	}
	if m.video != nil {
		m.mu.Unlock()
		return ErrVideoActive
	}
	video := capture.NewVideo(m.cfg.Video, m.sendMedia(m.gen), m.cfg.VideoOptions...)
	m.video = video
	m.mu.Unlock()

	if err := video.Start(ctx); err != nil {
		m.mu.Lock()
		if m.video == video {
			m.video = nil
		}
		m.mu.Unlock()
		return fmt.Errorf("session: starting video: %w", err)
	}
	return nil
}

// StopVideo stops frame sharing. Audio continues unaffected.
func (m *Manager) StopVideo() {
	m.mu.Lock()
	video := m.video
	m.video = nil
	m.mu.Unlock()
	if video != nil {
		video.Stop()
	}
}

// Video reports whether frame sharing is active.
func (m *Manager) Video() VideoState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.video != nil {
		return VideoOn
	}
	return VideoOff
}

// Replay schedules a transcript item's recorded audio on a fresh timeline.
// The returned scheduler is independent of live playback; callers may flush
// it to cut the replay short.
func (m *Manager) Replay(itemID string) (*playback.Scheduler, error) {
	return transcript.Replay(m.cfg.Output, m.cfg.OutputRate, m.cfg.Transcript.Item(itemID))
}

// sendMedia returns the SendFunc wired into capture pipelines. Chunks
// produced before the session opens or after it closes are dropped.
func (m *Manager) sendMedia(gen uint64) capture.SendFunc {
	return func(chunk live.MediaChunk) error {
		m.mu.Lock()
		handle := m.handle
		open := m.gen == gen && m.state == StateOpen
		m.mu.Unlock()
		if !open || handle == nil {
			return nil
		}
		return handle.SendMedia(chunk)
	}
}

// eventLoop drains the session's inbound events and applies them to the
// playback scheduler and the transcript. It exits when the events channel
// closes and, if this side did not initiate the close, tears the session
// down.
func (m *Manager) eventLoop(gen uint64, handle live.SessionHandle, sched *playback.Scheduler) {
	rec := m.cfg.Transcript
	for ev := range handle.Events() {
		if !m.current(gen) {
			continue
		}
		switch ev.Type {
		case live.EventAudio:
			sched.Enqueue(ev.Audio)
			rec.AppendAssistantAudio(ev.Audio)
		case live.EventOutputText:
			rec.AppendAssistantText(ev.Text)
		case live.EventInputText:
			rec.AppendUserText(ev.Text)
		case live.EventInterrupted:
			// Barge-in: cut playback immediately and close the reply as-is.
			sched.Flush()
			rec.FinalizeAssistant()
		case live.EventTurnComplete:
			rec.FinalizeAssistant()
			m.recordTurn()
		}
		m.notifyTranscript()
	}

	if !m.current(gen) {
		return
	}
	if err := handle.Err(); err != nil {
		m.log.Warn("session ended by remote", "err", err)
	}
	_ = m.Stop()
}

// recordTurn counts one completed assistant turn against the demo quota.
// Store failures are logged and otherwise ignored so a flaky backend never
// kills a healthy session.
func (m *Manager) recordTurn() {
	if m.cfg.Quota == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), quotaTimeout)
	defer cancel()
	if _, err := m.cfg.Quota.RecordTurn(ctx); err != nil {
		m.log.Warn("recording quota turn", "err", err)
	}
}

// scheduleGraceStop arms the grace timer after a quota lockout. The session
// stays open for GraceDelay so the final reply finishes playing.
func (m *Manager) scheduleGraceStop(gen uint64) {
	m.mu.Lock()
	if m.gen != gen || m.state != StateOpen || m.grace != nil {
		m.mu.Unlock()
		return
	}
	m.grace = time.AfterFunc(m.cfg.GraceDelay, func() {
		if m.current(gen) {
			_ = m.Stop()
		}
	})
	m.mu.Unlock()
	m.log.Info("demo limit reached, closing after grace delay", "delay", m.cfg.GraceDelay)
}

// reset returns to StateIdle after a failed Start.
func (m *Manager) reset(gen uint64) {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return
	}
	m.state = StateIdle
	m.handle, m.mic, m.sched = nil, nil, nil
	m.mu.Unlock()
	m.notifyState(StateIdle)
}

// current reports whether gen is still the active generation.
func (m *Manager) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen == gen
}

func (m *Manager) notifyState(s State) {
	if m.cfg.OnState != nil {
		m.cfg.OnState(s)
	}
}

func (m *Manager) notifyTranscript() {
	if m.cfg.OnTranscript != nil {
		m.cfg.OnTranscript()
	}
}
