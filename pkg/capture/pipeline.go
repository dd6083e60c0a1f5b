package capture

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/aquilesboica/ia-teacher/pkg/audio"
	"github.com/aquilesboica/ia-teacher/pkg/live"
)

// DefaultBlockSize is the number of 16 kHz samples accumulated before a block
// is sent upstream. 4096 samples is 256ms of speech.
const DefaultBlockSize = 4096

// PipelineOption is a functional option for configuring a Pipeline.
type PipelineOption func(*Pipeline)

// WithBlockSize overrides the samples-per-block threshold.
func WithBlockSize(samples int) PipelineOption {
	return func(p *Pipeline) { p.blockSize = samples }
}

// WithPipelineLogger sets the logger for send diagnostics.
func WithPipelineLogger(log *slog.Logger) PipelineOption {
	return func(p *Pipeline) { p.log = log }
}

// WithBlockFunc registers a callback invoked after every block handed to the
// session, successful or not. Used to feed metrics.
func WithBlockFunc(fn func(bytes int, err error)) PipelineOption {
	return func(p *Pipeline) { p.onBlock = fn }
}

// Pipeline moves audio from a Source into a live session. Frames are
// converted to 16 kHz mono, accumulated into fixed-size blocks, and sent
// upstream. Sends are best effort: a failed block is logged and dropped, and
// capture continues.
type Pipeline struct {
	src       Source
	conv      audio.FormatConverter
	blockSize int
	log       *slog.Logger
	onBlock   func(int, error)

	mu       sync.Mutex
	detach   chan struct{}
	done     chan struct{}
	attached bool

	sentBlocks atomic.Int64
}

// NewPipeline creates a Pipeline reading from src.
func NewPipeline(src Source, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		src:       src,
		blockSize: DefaultBlockSize,
		log:       slog.Default(),
		conv: audio.FormatConverter{
			Target: audio.Format{SampleRate: audio.InputSampleRate, Channels: 1},
		},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Attach starts forwarding captured audio into sess. Only one session can be
// attached at a time.
func (p *Pipeline) Attach(sess live.Session) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.attached {
		return fmt.Errorf("capture: pipeline already attached")
	}
	p.attached = true
	p.detach = make(chan struct{})
	p.done = make(chan struct{})

	go p.run(sess, p.detach, p.done)
	return nil
}

// Detach stops forwarding and waits for the forwarding goroutine to exit.
// Frames captured while detached are discarded. Idempotent.
func (p *Pipeline) Detach() {
	p.mu.Lock()
	if !p.attached {
		p.mu.Unlock()
		return
	}
	p.attached = false
	detach, done := p.detach, p.done
	p.mu.Unlock()

	close(detach)
	<-done
}

// SentBlocks reports how many blocks have been successfully sent upstream.
func (p *Pipeline) SentBlocks() int64 { return p.sentBlocks.Load() }

func (p *Pipeline) run(sess live.Session, detach <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	blockBytes := p.blockSize * 2 // s16le
	pending := make([]byte, 0, blockBytes*2)

	for {
		select {
		case <-detach:
			return
		case frame, ok := <-p.src.Frames():
			if !ok {
				return
			}
			converted := p.conv.Convert(frame)
			pending = append(pending, converted.Data...)

			for len(pending) >= blockBytes {
				block := make([]byte, blockBytes)
				copy(block, pending[:blockBytes])
				pending = pending[blockBytes:]

				err := sess.SendAudio(block)
				if err != nil {
					p.log.Warn("audio block dropped", "bytes", len(block), "error", err)
				} else {
					p.sentBlocks.Add(1)
				}
				if p.onBlock != nil {
					p.onBlock(len(block), err)
				}
			}
		}
	}
}
