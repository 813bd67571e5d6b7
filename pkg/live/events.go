package live

// EventType discriminates the inbound event union delivered by a session.
type EventType int

const (
	// EventAudio carries a chunk of synthesised model speech as raw 16-bit
	// little-endian PCM at 24 kHz, already base64-decoded.
	EventAudio EventType = iota + 1

	// EventOutputText carries a partial transcription of the model's audio
	// output. Fragments accumulate until the next turn boundary.
	EventOutputText

	// EventInputText carries a partial transcription of the user's speech.
	// The remote side emits these as a rapid burst with no explicit
	// user-turn boundary signal.
	EventInputText

	// EventInterrupted signals barge-in: the user started speaking while the
	// model's audio was still playing. All queued model audio must be
	// discarded immediately.
	EventInterrupted

	// EventTurnComplete signals the end of the model's current turn.
	EventTurnComplete
)

// String returns a short name for the event type, used in logs.
func (t EventType) String() string {
	switch t {
	case EventAudio:
		return "audio"
	case EventOutputText:
		return "output_text"
	case EventInputText:
		return "input_text"
	case EventInterrupted:
		return "interrupted"
	case EventTurnComplete:
		return "turn_complete"
	default:
		return "unknown"
	}
}

// Event is a single inbound session event. Exactly one payload field is set,
// determined by Type.
type Event struct {
	Type EventType

	// Audio is the decoded PCM payload for [EventAudio].
	Audio []byte

	// Text is the transcription fragment for [EventOutputText] and
	// [EventInputText].
	Text string
}
