package capture_test

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/aquilesboica/ia-teacher/pkg/audio"
	"github.com/aquilesboica/ia-teacher/pkg/capture"
	"github.com/aquilesboica/ia-teacher/pkg/live/mock"
)

// frame builds a mono 16 kHz frame of n samples with a constant value.
func frame(n int, value int16) audio.AudioFrame {
	data := make([]byte, n*2)
	for i := range n {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(value))
	}
	return audio.AudioFrame{Data: data, SampleRate: audio.InputSampleRate, Channels: 1}
}

// waitBlocks polls until the session has received want blocks.
func waitBlocks(t *testing.T, sess *mock.Session, want int) [][]byte {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		sent := sess.Sent()
		if len(sent) >= want {
			return sent
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %d blocks (got %d)", want, len(sess.Sent()))
	return nil
}

func TestPipeline_BlocksAndForwards(t *testing.T) {
	t.Parallel()

	src := capture.NewMockSource(capture.Config{})
	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer src.Close()

	sess := mock.NewSession()
	p := capture.NewPipeline(src, capture.WithBlockSize(8))
	if err := p.Attach(sess); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	defer p.Detach()

	// 20 samples in two frames: two full 8-sample blocks, 4 samples pending.
	if err := src.Push(frame(12, 100)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := src.Push(frame(8, 100)); err != nil {
		t.Fatalf("Push: %v", err)
	}

	sent := waitBlocks(t, sess, 2)
	if len(sent) != 2 {
		t.Fatalf("expected exactly 2 blocks, got %d", len(sent))
	}
	for i, block := range sent {
		if len(block) != 16 {
			t.Errorf("block %d is %d bytes; want 16", i, len(block))
		}
	}
	if p.SentBlocks() != 2 {
		t.Errorf("SentBlocks = %d; want 2", p.SentBlocks())
	}
}

func TestPipeline_ConvertsToTargetFormat(t *testing.T) {
	t.Parallel()

	src := capture.NewMockSource(capture.Config{SampleRate: 48000, Channels: 2})
	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer src.Close()

	sess := mock.NewSession()
	p := capture.NewPipeline(src, capture.WithBlockSize(4))
	if err := p.Attach(sess); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	defer p.Detach()

	// 24 stereo frames at 48kHz downmix and resample to 8 mono samples at
	// 16kHz: two 4-sample blocks.
	in := audio.AudioFrame{Data: make([]byte, 24*2*2), SampleRate: 48000, Channels: 2}
	if err := src.Push(in); err != nil {
		t.Fatalf("Push: %v", err)
	}

	sent := waitBlocks(t, sess, 2)
	for i, block := range sent {
		if len(block) != 8 {
			t.Errorf("block %d is %d bytes; want 8", i, len(block))
		}
	}
}

func TestPipeline_SendErrorDoesNotStopCapture(t *testing.T) {
	t.Parallel()

	src := capture.NewMockSource(capture.Config{})
	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer src.Close()

	sess := mock.NewSession()
	sess.SendErr = context.DeadlineExceeded

	errCount := make(chan error, 8)
	p := capture.NewPipeline(src,
		capture.WithBlockSize(4),
		capture.WithBlockFunc(func(_ int, err error) { errCount <- err }),
	)
	if err := p.Attach(sess); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	defer p.Detach()

	if err := src.Push(frame(8, 1)); err != nil {
		t.Fatalf("Push: %v", err)
	}

	// Both blocks are attempted even though every send fails.
	for range 2 {
		select {
		case err := <-errCount:
			if err == nil {
				t.Error("expected send error to be reported")
			}
		case <-time.After(3 * time.Second):
			t.Fatal("timeout waiting for block callback")
		}
	}
	if p.SentBlocks() != 0 {
		t.Errorf("SentBlocks = %d; want 0 when every send fails", p.SentBlocks())
	}
}

func TestPipeline_DetachIdempotent(t *testing.T) {
	t.Parallel()

	src := capture.NewMockSource(capture.Config{})
	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer src.Close()

	p := capture.NewPipeline(src)
	if err := p.Attach(mock.NewSession()); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	p.Detach()
	p.Detach() // second call must not panic or block
}

func TestPipeline_AttachTwice_ReturnsError(t *testing.T) {
	t.Parallel()

	src := capture.NewMockSource(capture.Config{})
	p := capture.NewPipeline(src)
	if err := p.Attach(mock.NewSession()); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	defer p.Detach()

	if err := p.Attach(mock.NewSession()); err == nil {
		t.Fatal("second Attach should return an error")
	}
}

func TestPipeline_ReattachAfterDetach(t *testing.T) {
	t.Parallel()

	src := capture.NewMockSource(capture.Config{})
	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer src.Close()

	p := capture.NewPipeline(src, capture.WithBlockSize(4))
	if err := p.Attach(mock.NewSession()); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	p.Detach()

	sess := mock.NewSession()
	if err := p.Attach(sess); err != nil {
		t.Fatalf("re-Attach: %v", err)
	}
	defer p.Detach()

	if err := src.Push(frame(4, 7)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	waitBlocks(t, sess, 1)
}
