package capture

import (
	"context"
	"fmt"
	"sync"

	"github.com/aquilesboica/ia-teacher/pkg/audio"
)

var _ Source = (*MockSource)(nil)

func init() {
	RegisterBackend("mock", func(cfg Config) (Source, error) {
		return NewMockSource(cfg), nil
	})
}

// MockSource is an in-memory Source. Tests push frames with Push; the mock
// also serves as the capture backend on machines with no audio device.
type MockSource struct {
	cfg    Config
	frames chan audio.AudioFrame

	mu      sync.Mutex
	started bool
	stopped bool
	closed  bool
}

// NewMockSource creates a mock source with the given configuration. Zero
// fields default to 16 kHz mono.
func NewMockSource(cfg Config) *MockSource {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = audio.InputSampleRate
	}
	if cfg.Channels == 0 {
		cfg.Channels = 1
	}
	return &MockSource{
		cfg:    cfg,
		frames: make(chan audio.AudioFrame, 32),
	}
}

// Push delivers one frame to the Frames channel. Returns an error when the
// source is not capturing.
func (m *MockSource) Push(frame audio.AudioFrame) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started || m.stopped {
		return fmt.Errorf("capture: mock source not capturing")
	}
	m.frames <- frame
	return nil
}

func (m *MockSource) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("capture: mock source closed")
	}
	if m.started && !m.stopped {
		return fmt.Errorf("capture: mock source already started")
	}
	m.started = true

	// Honor context cancellation the way a device loop would.
	go func() {
		<-ctx.Done()
		_ = m.Stop()
	}()
	return nil
}

func (m *MockSource) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started || m.stopped {
		return nil
	}
	m.stopped = true
	close(m.frames)
	return nil
}

func (m *MockSource) Frames() <-chan audio.AudioFrame { return m.frames }

func (m *MockSource) Config() Config { return m.cfg }

func (m *MockSource) Name() string { return "mock" }

func (m *MockSource) Close() error {
	_ = m.Stop()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
