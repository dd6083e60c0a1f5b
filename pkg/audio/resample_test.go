package audio_test

import (
	"encoding/binary"
	"testing"

	"github.com/aquilesboica/ia-teacher/pkg/audio"
)

// samplesToBytes converts a slice of int16 samples to little-endian byte representation.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// bytesToSamples converts a little-endian byte slice to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func TestStereoToMono(t *testing.T) {
	// Two stereo frames: L=100,R=200 and L=-100,R=-200
	stereo := samplesToBytes([]int16{100, 200, -100, -200})
	mono := audio.StereoToMono(stereo)
	got := bytesToSamples(mono)
	want := []int16{150, -150}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestStereoToMono_Clamping(t *testing.T) {
	stereo := samplesToBytes([]int16{32767, 32767})
	mono := audio.StereoToMono(stereo)
	got := bytesToSamples(mono)
	if len(got) != 1 {
		t.Fatalf("length mismatch: got %d, want 1", len(got))
	}
	if got[0] != 32767 {
		t.Errorf("got %d, want 32767", got[0])
	}
}

func TestResampleMono16_SameRate(t *testing.T) {
	pcm := samplesToBytes([]int16{100, 200, 300})
	out := audio.ResampleMono16(pcm, 16000, 16000)
	if len(out) != len(pcm) {
		t.Fatalf("length mismatch: got %d, want %d", len(out), len(pcm))
	}
}

func TestResampleMono16_Downsample(t *testing.T) {
	// 6 samples at 48kHz → 2 samples at 16kHz (1/3).
	pcm := samplesToBytes([]int16{300, 300, 300, 600, 600, 600})
	out := audio.ResampleMono16(pcm, 48000, 16000)
	got := bytesToSamples(out)
	if len(got) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(got))
	}
	if got[0] != 300 {
		t.Errorf("first sample: got %d, want 300", got[0])
	}
}

func TestResampleStereo16_Downsample(t *testing.T) {
	// 4 stereo frames at 32kHz → 2 frames at 16kHz.
	pcm := samplesToBytes([]int16{100, 200, 100, 200, 300, 400, 300, 400})
	out := audio.ResampleStereo16(pcm, 32000, 16000)
	got := bytesToSamples(out)
	if len(got) != 4 {
		t.Fatalf("expected 2 stereo frames (4 samples), got %d samples", len(got))
	}
	if got[0] != 100 || got[1] != 200 {
		t.Errorf("first frame: got L=%d R=%d, want L=100 R=200", got[0], got[1])
	}
}

func TestFormatConverter_FastPath(t *testing.T) {
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: 16000, Channels: 1}}
	in := audio.AudioFrame{Data: samplesToBytes([]int16{1, 2, 3}), SampleRate: 16000, Channels: 1}
	out := conv.Convert(in)
	if &out.Data[0] != &in.Data[0] {
		t.Error("fast path should return the input slice unchanged")
	}
}

func TestFormatConverter_StereoDownmixAndResample(t *testing.T) {
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: 16000, Channels: 1}}
	in := audio.AudioFrame{
		Data:       samplesToBytes(make([]int16, 96)), // 48 stereo frames @ 48kHz
		SampleRate: 48000,
		Channels:   2,
	}
	out := conv.Convert(in)
	if out.SampleRate != 16000 || out.Channels != 1 {
		t.Fatalf("got %dHz/%dch, want 16000Hz/1ch", out.SampleRate, out.Channels)
	}
	// 48 frames at 48kHz → 16 mono samples at 16kHz.
	if len(out.Data) != 32 {
		t.Errorf("got %d bytes, want 32", len(out.Data))
	}
}

func TestFormatConverter_OddByteCountDropsFrame(t *testing.T) {
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: 16000, Channels: 1}}
	out := conv.Convert(audio.AudioFrame{Data: []byte{1, 2, 3}, SampleRate: 16000, Channels: 1})
	if len(out.Data) != 0 {
		t.Errorf("expected dropped frame, got %d bytes", len(out.Data))
	}
}
