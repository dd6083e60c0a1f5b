// Package mock provides an in-memory implementation of the live interfaces
// for tests. The mock session records outbound audio and lets the test script
// inbound events.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/aquilesboica/ia-teacher/pkg/live"
)

var _ live.Provider = (*Provider)(nil)
var _ live.Session = (*Session)(nil)

// Provider hands out mock sessions. The zero value is usable.
type Provider struct {
	mu sync.Mutex

	// ConnectErr, when set, is returned by Connect instead of a session.
	ConnectErr error

	sessions []*Session
	lastCfg  live.Config
}

// NewProvider creates an empty mock provider.
func NewProvider() *Provider { return &Provider{} }

// Name identifies the provider in logs and configuration.
func (p *Provider) Name() string { return "mock" }

// Connect creates a new mock Session and records the config it was opened with.
func (p *Provider) Connect(_ context.Context, cfg live.Config) (live.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	s := NewSession()
	p.sessions = append(p.sessions, s)
	p.lastCfg = cfg
	return s, nil
}

// LastConfig returns the config passed to the most recent Connect call.
func (p *Provider) LastConfig() live.Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastCfg
}

// LastSession returns the most recently opened session, or nil.
func (p *Provider) LastSession() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.sessions) == 0 {
		return nil
	}
	return p.sessions[len(p.sessions)-1]
}

// SessionCount reports how many sessions Connect has handed out.
func (p *Provider) SessionCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

// Session is a scriptable live.Session. Tests feed inbound events with Emit
// and inspect outbound audio with Sent.
type Session struct {
	mu     sync.Mutex
	events chan live.Event
	sent   [][]byte
	errVal error
	closed bool

	// SendErr, when set, is returned by every SendAudio call.
	SendErr error
}

// NewSession creates an open mock session.
func NewSession() *Session {
	return &Session{events: make(chan live.Event, 64)}
}

// Emit delivers one inbound event to the session consumer.
func (s *Session) Emit(ev live.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.events <- ev
}

// EmitAudio is shorthand for Emit with an audio payload.
func (s *Session) EmitAudio(pcm []byte) {
	s.Emit(live.Event{Kind: live.EventAudio, Audio: pcm})
}

// Fail records err and terminates the session the way a transport failure
// would: an EventError followed by EventClosed and channel close.
func (s *Session) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.errVal = err
	s.events <- live.Event{Kind: live.EventError, Err: err}
	s.events <- live.Event{Kind: live.EventClosed}
	close(s.events)
}

// SendAudio records the chunk for later inspection.
func (s *Session) SendAudio(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("mock: session closed")
	}
	if s.SendErr != nil {
		return s.SendErr
	}
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	s.sent = append(s.sent, cp)
	return nil
}

// Sent returns a copy of all audio chunks delivered via SendAudio.
func (s *Session) Sent() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.sent))
	copy(out, s.sent)
	return out
}

// Events returns the inbound event stream.
func (s *Session) Events() <-chan live.Event { return s.events }

// Err returns the recorded terminal error, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Closed reports whether Close or Fail has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close ends the session, emitting the terminal EventClosed. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.events <- live.Event{Kind: live.EventClosed}
	close(s.events)
	return nil
}
