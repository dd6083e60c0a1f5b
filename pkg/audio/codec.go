// Package audio provides the PCM codec layer shared by the capture and
// playback pipelines: wire (base64) encoding of raw byte buffers, conversion
// between float and little-endian int16 sample formats, and decoding of raw
// PCM bytes into playable [Buffer] values.
package audio

import (
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

// ErrMalformedEncoding is returned by [DecodeWire] when the input is not
// valid base64.
var ErrMalformedEncoding = errors.New("audio: malformed wire encoding")

// ErrDecode is returned by [DecodeBuffer] when the byte length is not a
// whole multiple of the sample frame size.
var ErrDecode = errors.New("audio: byte length is not frame-aligned")

// EncodeWire encodes raw bytes into the text representation used on the live
// session wire. The encoding is deterministic, lossless, and reversible via
// [DecodeWire].
func EncodeWire(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// DecodeWire is the inverse of [EncodeWire]. It returns an error wrapping
// [ErrMalformedEncoding] when s is not valid base64.
func DecodeWire(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEncoding, err)
	}
	return b, nil
}

// Float32ToInt16 converts float samples in [-1, 1] to int16 by scaling with
// 32768. Out-of-range input is clamped to the int16 range rather than left to
// wrap around.
func Float32ToInt16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		v := int32(s * 32768)
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		out[i] = int16(v)
	}
	return out
}

// Int16ToBytes serialises int16 samples as little-endian PCM bytes.
func Int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// BytesToInt16 deserialises little-endian PCM bytes into int16 samples.
// Trailing odd bytes are ignored.
func BytesToInt16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return out
}

// Buffer is a decoded, playable block of audio: a float waveform at a fixed
// sample rate and channel count. Ownership transfers to the playback
// scheduler once enqueued.
type Buffer struct {
	// Samples holds the interleaved float waveform in [-1, 1].
	Samples []float32

	// SampleRate in Hz.
	SampleRate int

	// Channels is the number of interleaved channels.
	Channels int
}

// DecodeBuffer reinterprets raw little-endian int16 PCM bytes as a float
// waveform at the given rate and channel count. It returns an error wrapping
// [ErrDecode] if len(b) is not a whole multiple of the sample frame size
// (2 bytes × channels).
func DecodeBuffer(b []byte, sampleRate, channels int) (*Buffer, error) {
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("audio: invalid format %dHz/%dch", sampleRate, channels)
	}
	frameSize := 2 * channels
	if len(b)%frameSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes, frame size %d", ErrDecode, len(b), frameSize)
	}

	samples := make([]float32, len(b)/2)
	for i := range samples {
		s := int16(b[i*2]) | int16(b[i*2+1])<<8
		samples[i] = float32(s) / 32768
	}
	return &Buffer{
		Samples:    samples,
		SampleRate: sampleRate,
		Channels:   channels,
	}, nil
}

// Duration returns the play time of the buffer. A zero-length buffer has
// zero duration but still occupies a scheduling slot in the player.
func (b *Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 || b.Channels <= 0 {
		return 0
	}
	frames := len(b.Samples) / b.Channels
	return time.Duration(frames) * time.Second / time.Duration(b.SampleRate)
}

// PCM16 converts the float waveform back to little-endian int16 PCM bytes,
// clamping out-of-range samples. Used by sinks that consume raw PCM.
func (b *Buffer) PCM16() []byte {
	return Int16ToBytes(Float32ToInt16(b.Samples))
}
