// Package live defines the provider-neutral interface to a hosted
// conversational speech service.
//
// A [Provider] opens bidirectional streaming sessions; a [Session] accepts
// outbound PCM audio frames and delivers inbound server activity as a single
// ordered stream of tagged [Event] values. Concrete implementations live in
// the gemini and openai subpackages; a mock implementation for tests lives in
// the mock subpackage.
package live

import "context"

// InputMIMEType is the media-type label attached to every outbound audio
// frame: mono little-endian 16-bit PCM at 16 kHz.
const InputMIMEType = "audio/pcm;rate=16000"

// Config carries the session parameters shared by all providers.
type Config struct {
	// Voice is the provider-specific voice identity (e.g. "Kore").
	Voice string

	// Instructions is the system instruction text, including any knowledge
	// base content appended at connect time. Injected once; never mutated
	// for the lifetime of the session.
	Instructions string
}

// EventKind tags the variants of the inbound event stream.
type EventKind int

const (
	// EventInputTranscription carries a partial transcription fragment of
	// the user's speech.
	EventInputTranscription EventKind = iota

	// EventOutputTranscription carries a partial transcription fragment of
	// the model's spoken reply.
	EventOutputTranscription

	// EventTurnComplete signals the end of a conversational turn.
	EventTurnComplete

	// EventAudio carries one independently decodable block of synthesized
	// PCM bytes (24 kHz mono s16le), already base64-decoded off the wire.
	EventAudio

	// EventInterrupted signals that the model's reply was cut off; all
	// in-flight and scheduled playback must stop immediately.
	EventInterrupted

	// EventError carries a server-reported error. Terminal for the session.
	EventError

	// EventClosed is the final event on the stream: the session has ended
	// and the Events channel closes after its delivery.
	EventClosed
)

// String returns the human-readable name of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventInputTranscription:
		return "input_transcription"
	case EventOutputTranscription:
		return "output_transcription"
	case EventTurnComplete:
		return "turn_complete"
	case EventAudio:
		return "audio"
	case EventInterrupted:
		return "interrupted"
	case EventError:
		return "error"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is one tagged message from the live session. Exactly one payload
// field is meaningful, selected by Kind. Events are delivered in server
// arrival order; consumers must handle each independently and not assume
// one-per-turn.
type Event struct {
	Kind EventKind

	// Text is the transcription fragment for the transcription kinds.
	Text string

	// Audio is the decoded PCM payload for EventAudio.
	Audio []byte

	// Err is the failure for EventError.
	Err error
}

// Session is an open bidirectional stream to the speech service.
//
// Implementations must be safe for concurrent use.
type Session interface {
	// SendAudio delivers a raw PCM audio frame (16 kHz, s16le, mono) to the
	// model. Best-effort: the caller treats errors as droppable.
	SendAudio(pcm []byte) error

	// Events returns the stream of inbound events. The channel is closed
	// after an EventClosed delivery when the session ends for any reason.
	Events() <-chan Event

	// Err returns the first transport-level error that terminated the
	// session, or nil.
	Err() error

	// Close terminates the session and releases all resources. Idempotent.
	Close() error
}

// Provider opens live sessions against one concrete speech service.
type Provider interface {
	// Connect establishes a session. It resolves once the remote side has
	// accepted the setup payload; SendAudio is valid immediately after.
	Connect(ctx context.Context, cfg Config) (Session, error)

	// Name identifies the provider in logs and configuration (e.g.
	// "gemini-live").
	Name() string
}
