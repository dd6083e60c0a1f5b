// Package player schedules synthesized audio buffers onto a gapless playback
// timeline.
//
// The model delivers audio faster than real time, so buffers cannot simply be
// played on arrival. The [Scheduler] keeps a timeline cursor: each buffer is
// scheduled to start at the cursor (or immediately, if the cursor has fallen
// behind wall time) and the cursor advances by the buffer's duration.
// Consecutive buffers therefore play back to back with no gap and no overlap.
//
// An interruption stops everything: all in-flight and pending buffers are
// cancelled, the active set empties, and the cursor resets so the next buffer
// starts immediately.
package player

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aquilesboica/ia-teacher/pkg/audio"
)

// Handle identifies one scheduled buffer for the lifetime of the scheduler.
type Handle uint64

// Option is a functional option for configuring a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the wall clock. Used in tests to drive the timeline
// deterministically.
func WithClock(c Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithLogger sets the logger for scheduling diagnostics.
func WithLogger(log *slog.Logger) Option {
	return func(s *Scheduler) { s.log = log }
}

// WithSpeakingFunc registers a callback invoked whenever the speaking state
// flips. The callback runs outside the scheduler lock.
func WithSpeakingFunc(fn func(speaking bool)) Option {
	return func(s *Scheduler) { s.onSpeaking = fn }
}

// entry tracks one scheduled buffer from Schedule to completion.
type entry struct {
	buf     *audio.Buffer
	started bool
	timer   Timer
}

// Scheduler owns the playback timeline.
type Scheduler struct {
	sink       Sink
	clock      Clock
	log        *slog.Logger
	onSpeaking func(bool)

	mu     sync.Mutex
	cursor time.Time // end of the last scheduled buffer; zero after reset
	active map[Handle]*entry
	nextID Handle
	gen    uint64 // bumped on every interruption; stale timers check it
	closed bool
}

// New creates a Scheduler that delivers audio to sink.
func New(sink Sink, opts ...Option) *Scheduler {
	s := &Scheduler{
		sink:   sink,
		clock:  SystemClock(),
		log:    slog.Default(),
		active: make(map[Handle]*entry),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Schedule places buf on the timeline and returns its handle. The buffer
// starts at the current cursor position, or immediately if the cursor is in
// the past; it never starts earlier than any previously scheduled buffer
// ends.
func (s *Scheduler) Schedule(buf *audio.Buffer) (Handle, error) {
	s.mu.Lock()

	if s.closed {
		s.mu.Unlock()
		return 0, fmt.Errorf("player: scheduler closed")
	}

	// Zero-duration buffers still occupy a slot: they are scheduled, enter
	// the active set, and complete through the normal path.
	dur := buf.Duration()

	now := s.clock.Now()
	start := s.cursor
	if start.Before(now) {
		start = now
	}
	s.cursor = start.Add(dur)

	s.nextID++
	h := s.nextID
	e := &entry{buf: buf}
	s.active[h] = e
	notify := len(s.active) == 1

	gen := s.gen
	e.timer = s.clock.AfterFunc(start.Sub(now), func() { s.begin(h, gen) })

	s.mu.Unlock()

	if notify {
		s.notifySpeaking(true)
	}
	return h, nil
}

// begin fires when a buffer's start time arrives.
func (s *Scheduler) begin(h Handle, gen uint64) {
	s.mu.Lock()
	if s.closed || gen != s.gen {
		s.mu.Unlock()
		return
	}
	e, ok := s.active[h]
	if !ok {
		s.mu.Unlock()
		return
	}
	e.started = true
	e.timer = s.clock.AfterFunc(e.buf.Duration(), func() { s.complete(h, gen) })
	buf := e.buf
	s.mu.Unlock()

	if err := s.sink.Play(h, buf); err != nil {
		s.log.Warn("audio sink play failed", "handle", h, "error", err)
	}
}

// complete fires when a buffer's end time arrives. A completion belonging to
// an earlier generation is a no-op: the interruption already removed it.
func (s *Scheduler) complete(h Handle, gen uint64) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	if _, ok := s.active[h]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.active, h)
	notify := len(s.active) == 0
	s.mu.Unlock()

	if notify {
		s.notifySpeaking(false)
	}
}

// Interrupt cancels every pending and in-flight buffer and resets the
// timeline so the next Schedule call starts immediately.
func (s *Scheduler) Interrupt() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	s.gen++
	stopped := make([]Handle, 0, len(s.active))
	for h, e := range s.active {
		if e.timer != nil {
			e.timer.Stop()
		}
		if e.started {
			stopped = append(stopped, h)
		}
	}
	notify := len(s.active) > 0
	s.active = make(map[Handle]*entry)
	s.cursor = time.Time{}
	s.mu.Unlock()

	for _, h := range stopped {
		if err := s.sink.Stop(h); err != nil {
			s.log.Warn("audio sink stop failed", "handle", h, "error", err)
		}
	}
	if notify {
		s.notifySpeaking(false)
	}
}

// Speaking reports whether any buffer is pending or in flight.
func (s *Scheduler) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active) > 0
}

// ActiveCount reports the number of pending and in-flight buffers.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Close interrupts playback and rejects further scheduling. Idempotent.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	s.Interrupt()

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) notifySpeaking(v bool) {
	if s.onSpeaking != nil {
		s.onSpeaking(v)
	}
}
