// Package gateway bridges browser and device clients to the voice pipeline
// over a WebSocket. Binary frames carry raw PCM16 microphone audio at the
// rate the client declared in its hello; JSON text frames carry commands
// inbound and state, transcript and error updates outbound. Scheduled
// playback audio flows back to the client as binary frames.
package gateway

import "github.com/loqui-ai/loqui/internal/transcript"

// Client command types.
const (
	cmdHello      = "hello"
	cmdStart      = "start"
	cmdStop       = "stop"
	cmdMute       = "mute"
	cmdText       = "text"
	cmdReplay     = "replay"
	cmdVideoStart = "video_start"
	cmdVideoStop  = "video_stop"
	cmdVideoFrame = "video_frame"
)

// Server update types.
const (
	updState      = "state"
	updTranscript = "transcript"
	updError      = "error"
)

// clientMessage is a JSON command from the client.
type clientMessage struct {
	Type string `json:"type"`

	// SampleRate declares the hardware rate of subsequent binary mic frames.
	// Only meaningful on hello.
	SampleRate int `json:"sample_rate,omitempty"`

	// Enabled carries the mic flag on mute commands: true means live audio.
	Enabled *bool `json:"enabled,omitempty"`

	// Text is the typed turn on text commands.
	Text string `json:"text,omitempty"`

	// ItemID selects the transcript item on replay commands.
	ItemID string `json:"item_id,omitempty"`

	// Data is a base64-encoded JPEG on video_frame commands. The client owns
	// the camera and uploads frames at its own pace; the video pipeline
	// samples the most recent one per tick.
	Data string `json:"data,omitempty"`
}

// serverMessage is a JSON update to the client.
type serverMessage struct {
	Type string `json:"type"`

	// State is the session lifecycle state on state updates.
	State string `json:"state,omitempty"`

	// Entries is the visible transcript on transcript updates.
	Entries []transcript.Entry `json:"entries,omitempty"`

	// Error is a human-readable failure description on error updates.
	Error string `json:"error,omitempty"`
}
