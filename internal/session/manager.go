// Package session coordinates one live tutoring conversation: it owns the
// transport session, the capture pipeline, the playback scheduler, and the
// transcript aggregator, and drives the teacher state machine.
//
// The lifecycle is Idle → Connecting → Connected → Idle. Listening and
// speaking are orthogonal flags layered on top of Connected, not sub-states.
// Any transport error or close, or an explicit Stop, forces a full teardown;
// there is no automatic reconnect.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aquilesboica/ia-teacher/internal/knowledge"
	"github.com/aquilesboica/ia-teacher/internal/observe"
	"github.com/aquilesboica/ia-teacher/internal/transcript"
	"github.com/aquilesboica/ia-teacher/pkg/audio"
	"github.com/aquilesboica/ia-teacher/pkg/audio/player"
	"github.com/aquilesboica/ia-teacher/pkg/capture"
	"github.com/aquilesboica/ia-teacher/pkg/live"
	"github.com/google/uuid"
)

// DefaultInstructions is the built-in tutoring persona, used when no override
// is configured.
const DefaultInstructions = `
You are "Prof. Sterling", an advanced AI English Tutor.
Your personality is bright, professional, and very encouraging.

CONVERSATION FLOW:
1. Speak ONLY in English.
2. Use the uploaded Knowledge Base (PDF) to answer student questions.
3. If no PDF is uploaded, politely ask the student to provide a lesson document so you can begin teaching.
4. Correct the student's grammar mistakes gently.
5. Keep spoken responses brief and natural.
6. When explaining complex topics, break them down into simple steps.
`

// ErrNotIdle is returned by Start when a session is already active.
var ErrNotIdle = errors.New("session: not idle")

// ErrStopped is returned by Start when Stop was called while the connection
// was still being established.
var ErrStopped = errors.New("session: stopped before connect completed")

// PermissionError wraps a device acquisition failure. It aborts the connect
// attempt and leaves the manager idle.
type PermissionError struct {
	Err error
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("session: device acquisition: %v", e.Err)
}

func (e *PermissionError) Unwrap() error { return e.Err }

// Snapshot is the rendering-boundary view of the session.
type Snapshot struct {
	SessionID  string          `json:"session_id,omitempty"`
	Connecting bool            `json:"connecting"`
	Connected  bool            `json:"connected"`
	Listening  bool            `json:"listening"`
	Speaking   bool            `json:"speaking"`
	Transcript transcript.View `json:"transcript"`
}

// Config carries the manager's collaborators and session parameters.
type Config struct {
	// Provider opens live sessions. Required.
	Provider live.Provider

	// Source captures microphone audio. Required.
	Source capture.Source

	// Sink renders scheduled playback. Defaults to [player.NullSink].
	Sink player.Sink

	// Knowledge supplies grounding material appended to the instructions at
	// connect time. Optional.
	Knowledge *knowledge.Store

	// Instructions overrides [DefaultInstructions] when non-empty.
	Instructions string

	// Voice is the provider voice identity.
	Voice string

	// BlockSize is the samples-per-block threshold of the capture pipeline.
	// Zero selects [capture.DefaultBlockSize].
	BlockSize int

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Logger defaults to [slog.Default].
	Logger *slog.Logger

	// OnChange, when set, is invoked with a fresh snapshot after every state
	// or transcript change. Called from manager goroutines; must not block.
	OnChange func(Snapshot)

	// Clock overrides the playback scheduler's wall clock. Used in tests.
	Clock player.Clock
}

type phase int

const (
	phaseIdle phase = iota
	phaseConnecting
	phaseConnected
)

// Manager is the session coordinator. Safe for concurrent use.
type Manager struct {
	provider  live.Provider
	source    capture.Source
	scheduler *player.Scheduler
	pipeline  *capture.Pipeline
	words     *transcript.Aggregator
	knowledge *knowledge.Store
	metrics   *observe.Metrics
	log       *slog.Logger
	onChange  func(Snapshot)

	instructions string
	voice        string

	mu       sync.Mutex
	phase    phase
	epoch    uint64 // bumped by every Start and every abort; stale Starts check it
	sess     live.Session
	id       string
	speaking bool
	loopDone chan struct{}
}

// New creates an idle Manager.
func New(cfg Config) *Manager {
	if cfg.Sink == nil {
		cfg.Sink = player.NullSink{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Instructions == "" {
		cfg.Instructions = DefaultInstructions
	}

	m := &Manager{
		provider:     cfg.Provider,
		source:       cfg.Source,
		words:        transcript.New(),
		knowledge:    cfg.Knowledge,
		metrics:      cfg.Metrics,
		log:          cfg.Logger,
		onChange:     cfg.OnChange,
		instructions: cfg.Instructions,
		voice:        cfg.Voice,
	}

	schedOpts := []player.Option{
		player.WithLogger(cfg.Logger),
		player.WithSpeakingFunc(m.setSpeaking),
	}
	if cfg.Clock != nil {
		schedOpts = append(schedOpts, player.WithClock(cfg.Clock))
	}
	m.scheduler = player.New(cfg.Sink, schedOpts...)

	pipeOpts := []capture.PipelineOption{
		capture.WithPipelineLogger(cfg.Logger),
		capture.WithBlockFunc(func(_ int, err error) {
			status := "ok"
			if err != nil {
				status = "dropped"
			}
			cfg.Metrics.RecordCaptureBlock(context.Background(), status)
		}),
	}
	if cfg.BlockSize > 0 {
		pipeOpts = append(pipeOpts, capture.WithBlockSize(cfg.BlockSize))
	}
	m.pipeline = capture.NewPipeline(cfg.Source, pipeOpts...)

	return m
}

// Start opens a new session. Valid only from Idle. Device acquisition runs
// first; its failure surfaces as a [PermissionError] and leaves the manager
// idle. A transport failure after the device was acquired releases the device
// before returning.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.phase != phaseIdle {
		m.mu.Unlock()
		return ErrNotIdle
	}
	m.phase = phaseConnecting
	m.epoch++
	epoch := m.epoch
	m.id = uuid.NewString()
	m.mu.Unlock()
	m.notify()

	if err := m.source.Start(ctx); err != nil {
		m.abortStart(epoch)
		return &PermissionError{Err: err}
	}

	connectStart := time.Now()
	sess, err := m.provider.Connect(ctx, live.Config{
		Voice:        m.voice,
		Instructions: m.composeInstructions(),
	})
	if err != nil {
		_ = m.source.Stop()
		m.abortStart(epoch)
		m.metrics.RecordTransportError(ctx, m.provider.Name())
		return fmt.Errorf("session: connect: %w", err)
	}
	m.metrics.ConnectDuration.Record(ctx, time.Since(connectStart).Seconds())

	if err := m.pipeline.Attach(sess); err != nil {
		_ = sess.Close()
		_ = m.source.Stop()
		m.abortStart(epoch)
		return fmt.Errorf("session: attach capture: %w", err)
	}

	loopDone := make(chan struct{})
	m.mu.Lock()
	// Stop may have aborted this attempt while Connect was in flight; a
	// stale epoch means the resources acquired above must be released, not
	// promoted to a connected session.
	if m.epoch != epoch || m.phase != phaseConnecting {
		m.mu.Unlock()
		_ = sess.Close()
		m.pipeline.Detach()
		_ = m.source.Stop()
		go audio.Drain(m.source.Frames())
		return ErrStopped
	}
	m.phase = phaseConnected
	m.sess = sess
	m.loopDone = loopDone
	m.mu.Unlock()

	m.metrics.ActiveSessions.Add(ctx, 1)
	m.log.Info("session started", "session_id", m.SessionID(), "provider", m.provider.Name())
	m.notify()

	go m.eventLoop(sess, loopDone)
	return nil
}

// abortStart returns the manager to Idle after a failed or cancelled connect
// attempt. A stale epoch means Stop already reset the state (and a newer
// Start may own it now), so nothing is touched.
func (m *Manager) abortStart(epoch uint64) {
	m.mu.Lock()
	if m.epoch != epoch || m.phase != phaseConnecting {
		m.mu.Unlock()
		return
	}
	m.phase = phaseIdle
	m.id = ""
	m.mu.Unlock()
	m.notify()
}

// composeInstructions appends the knowledge base, when loaded, to the
// persona. The document is injected once here; later uploads only affect the
// next session.
func (m *Manager) composeInstructions() string {
	base := m.instructions
	if m.knowledge == nil {
		return base
	}
	if doc := m.knowledge.Instruction(); doc != "" {
		return base + "\n\n" + doc
	}
	return base
}

// eventLoop dispatches inbound session events until the stream closes, then
// tears the session down.
func (m *Manager) eventLoop(sess live.Session, done chan struct{}) {
	defer close(done)

	ctx := context.Background()
	for ev := range sess.Events() {
		switch ev.Kind {
		case live.EventAudio:
			buf, err := audio.DecodeBuffer(ev.Audio, audio.OutputSampleRate, 1)
			if err != nil {
				// Corrupt chunks are dropped, never fatal.
				m.log.Warn("dropping malformed audio chunk", "bytes", len(ev.Audio), "error", err)
				continue
			}
			if _, err := m.scheduler.Schedule(buf); err != nil {
				m.log.Warn("chunk not scheduled", "error", err)
				continue
			}
			m.metrics.PlaybackChunks.Add(ctx, 1)

		case live.EventInputTranscription:
			m.words.AddInput(ev.Text)
			m.notify()

		case live.EventOutputTranscription:
			m.words.AddOutput(ev.Text)
			m.notify()

		case live.EventTurnComplete:
			m.words.CompleteTurn()
			m.metrics.Turns.Add(ctx, 1)
			m.notify()

		case live.EventInterrupted:
			m.scheduler.Interrupt()
			m.metrics.Interruptions.Add(ctx, 1)

		case live.EventError:
			m.log.Error("live session error", "error", ev.Err)
			m.metrics.RecordTransportError(ctx, m.provider.Name())

		case live.EventClosed:
			// Terminal; the range ends after this delivery.
		}
	}

	m.teardown(sess, false)
}

// Stop ends the session and releases all resources. Idempotent; a no-op when
// idle.
func (m *Manager) Stop() {
	m.mu.Lock()
	switch m.phase {
	case phaseIdle:
		m.mu.Unlock()
		return
	case phaseConnecting:
		// Abort the in-flight Start: bump the epoch so it unwinds whatever
		// it has acquired when it reaches the connected transition.
		m.epoch++
		m.phase = phaseIdle
		m.id = ""
		m.mu.Unlock()
		m.notify()
		return
	}
	sess := m.sess
	m.mu.Unlock()

	m.teardown(sess, true)
}

// teardown closes everything in dependency order: the logical session first
// so no capture callback can send after close, then capture detach, device
// stop, and scheduler clear. waitLoop is false when called from the event
// loop itself.
func (m *Manager) teardown(sess live.Session, waitLoop bool) {
	m.mu.Lock()
	// Only a connected session owns the resources torn down here; the
	// connecting phase is handled by Stop/abortStart and never reaches this
	// path, so the gauge decrement below always matches an increment.
	if m.phase != phaseConnected || m.sess != sess {
		m.mu.Unlock()
		return
	}
	m.phase = phaseIdle
	m.sess = nil
	id := m.id
	m.id = ""
	loopDone := m.loopDone
	m.loopDone = nil
	m.mu.Unlock()

	if sess != nil {
		_ = sess.Close()
	}
	m.pipeline.Detach()
	_ = m.source.Stop()
	// A device loop may still hold buffered frames; drain so it can exit.
	go audio.Drain(m.source.Frames())
	m.scheduler.Interrupt()

	if waitLoop && loopDone != nil {
		<-loopDone
	}

	m.metrics.ActiveSessions.Add(context.Background(), -1)
	m.log.Info("session stopped", "session_id", id)
	m.notify()
}

// Close stops the session and releases the scheduler. The manager cannot be
// restarted afterwards.
func (m *Manager) Close() error {
	m.Stop()
	return m.scheduler.Close()
}

// SessionID returns the active session's identifier, or "".
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.id
}

// Snapshot returns the rendering-boundary view of the current state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	s := Snapshot{
		SessionID:  m.id,
		Connecting: m.phase == phaseConnecting,
		Connected:  m.phase == phaseConnected,
		Listening:  m.phase == phaseConnected,
		Speaking:   m.phase == phaseConnected && m.speaking,
	}
	m.mu.Unlock()
	s.Transcript = m.words.Snapshot()
	return s
}

func (m *Manager) setSpeaking(v bool) {
	m.mu.Lock()
	m.speaking = v
	m.mu.Unlock()
	m.notify()
}

func (m *Manager) notify() {
	if m.onChange != nil {
		m.onChange(m.Snapshot())
	}
}
