// Package live defines the Provider and SessionHandle abstractions for
// real-time duplex sessions with a hosted multimodal model.
//
// A live session is a persistent bidirectional channel carrying multiplexed
// audio, text, and video-frame messages. There is no request/response cycle:
// the client streams encoded media continuously while inbound events —
// synthesised audio, partial transcriptions, interruption and turn-boundary
// signals — arrive independently and unordered relative to each other except
// within a single party's own stream.
//
// The central abstraction is SessionHandle: exactly one outstanding handle
// exists per active session, and opening a new session requires tearing down
// the old one first. All implementations must be safe for concurrent use.
package live

import (
	"context"
	"errors"
)

// MIME types accepted by [SessionHandle.SendMedia].
const (
	// MIMEAudioPCM is the mandated input audio format: 16-bit little-endian
	// PCM, mono, 16 kHz, base64-encoded.
	MIMEAudioPCM = "audio/pcm;rate=16000"

	// MIMEImageJPEG is the format for intermittent video frames.
	MIMEImageJPEG = "image/jpeg"
)

// ErrSessionClosed is returned by send operations on a closed session.
var ErrSessionClosed = errors.New("live: session closed")

// ErrRemoteClosed indicates the remote side closed the channel unsolicited.
// The session cannot be resumed; callers must tear down and reconnect.
var ErrRemoteClosed = errors.New("live: remote closed session")

// ErrRemote indicates the remote side reported an in-band protocol error.
var ErrRemote = errors.New("live: remote error")

// MediaChunk is the wire-transport unit for outbound audio and video frames.
// Immutable once constructed.
type MediaChunk struct {
	// MIMEType identifies the payload format, e.g. [MIMEAudioPCM].
	MIMEType string

	// Data is the base64-encoded payload.
	Data string
}

// SessionConfig is the configuration sent when opening a session.
type SessionConfig struct {
	// Voice selects the model's synthesised voice identity.
	Voice string

	// Instructions is the behavioural system prompt for the session.
	Instructions string

	// DisableInputTranscription turns off partial transcription of user
	// speech. Transcription is enabled by default in both directions.
	DisableInputTranscription bool

	// DisableOutputTranscription turns off partial transcription of the
	// model's audio output.
	DisableOutputTranscription bool
}

// SessionHandle represents an open duplex session. It is an interface so that
// test code can supply mock implementations without a network connection.
//
// The session is the hot path of the voice pipeline — every method must
// return quickly. Inbound traffic is channel-based so the caller's audio tick
// never blocks on network reads. Callers must call Close when done; Close is
// idempotent.
type SessionHandle interface {
	// SendMedia delivers an encoded media chunk (mic audio or a video frame)
	// to the model. Returns [ErrSessionClosed] after Close. Send failures are
	// not worth retrying — stale audio is superseded by the next tick.
	SendMedia(chunk MediaChunk) error

	// SendText submits a complete text turn on behalf of the user. Unlike
	// streamed audio, text input is final when sent and does not produce
	// input-transcription events.
	SendText(text string) error

	// Events returns the read-only channel on which inbound session events
	// arrive. The channel preserves arrival order and is closed when the
	// session ends. After it closes, call [SessionHandle.Err] to check
	// whether the session ended cleanly. Consumers must drain promptly to
	// avoid stalling the receive loop.
	Events() <-chan Event

	// Err returns the error that terminated the session, or nil if it ended
	// cleanly (explicit Close). Valid only after the Events channel closes.
	Err() error

	// Close terminates the session and releases all resources. Calling Close
	// more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over a live-session backend.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Connect establishes a new duplex session with the given configuration.
	// The returned SessionHandle is ready to accept media immediately.
	// The caller owns the handle and is responsible for calling Close.
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)
}
