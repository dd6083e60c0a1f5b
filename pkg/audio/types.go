package audio

import "time"

// Input and output rates used by the live tutoring pipeline. The hosted
// speech service consumes 16 kHz mono and produces 24 kHz mono.
const (
	InputSampleRate  = 16000
	OutputSampleRate = 24000
)

// AudioFrame represents a single frame of audio data flowing through the
// pipeline. Frames are the atomic unit of audio transport — captured from the
// microphone in fixed-size blocks, encoded and sent to the live session, and
// discarded once transmitted.
type AudioFrame struct {
	// PCM audio data, little-endian int16 samples.
	Data []byte

	// SampleRate in Hz (e.g., 16000 for live-session input).
	SampleRate int

	// Channels: 1 for mono (live-session input), 2 for stereo capture devices.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the play time of the frame, derived from its sample count,
// rate, and channel layout. Returns 0 for frames with no format information.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	samples := len(f.Data) / 2 / f.Channels
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}
