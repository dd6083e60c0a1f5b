package player

import "github.com/aquilesboica/ia-teacher/pkg/audio"

// Sink receives audio at the moment the scheduler determines it should be
// audible. Implementations hand the PCM to an output device, a WebSocket
// peer, or a test recorder.
//
// Implementations must be safe for concurrent use; the scheduler may call
// Play and Stop from different goroutines.
type Sink interface {
	// Play begins rendering the buffer identified by h.
	Play(h Handle, buf *audio.Buffer) error

	// Stop aborts rendering of the buffer identified by h before its
	// natural end. Called once per interrupted handle.
	Stop(h Handle) error
}

// NullSink discards all audio. Useful when only the timing and state
// semantics of the scheduler are wanted.
type NullSink struct{}

var _ Sink = NullSink{}

func (NullSink) Play(Handle, *audio.Buffer) error { return nil }
func (NullSink) Stop(Handle) error                { return nil }
