// Package openai implements the live.Provider interface for OpenAI's
// Realtime API.
//
// It establishes a bidirectional WebSocket connection to the OpenAI Realtime
// endpoint and exchanges JSON events according to the Realtime API protocol.
// Audio travels as base64-encoded PCM16 chunks. The provider maps the
// Realtime event vocabulary onto the neutral live.Event stream: transcript
// deltas become partial transcription fragments, response.done becomes the
// turn-complete marker, and input_audio_buffer.speech_started during an
// active response becomes the interruption signal.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/aquilesboica/ia-teacher/pkg/audio"
	"github.com/aquilesboica/ia-teacher/pkg/live"
	"github.com/coder/websocket"
)

// Compile-time assertions that Provider and session satisfy the live interfaces.
var _ live.Provider = (*Provider)(nil)
var _ live.Session = (*session)(nil)

const (
	defaultModel   = "gpt-4o-realtime-preview"
	defaultBaseURL = "wss://api.openai.com/v1/realtime"

	eventBufferSize = 64
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the OpenAI model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements live.Provider for OpenAI's Realtime API.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
}

// New creates a new OpenAI Realtime Provider with the given API key and options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   defaultModel,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Name identifies the provider in logs and configuration.
func (p *Provider) Name() string { return "openai-realtime" }

// Connect establishes a new OpenAI Realtime session with the given
// configuration. The returned Session is ready to accept audio immediately
// after the session.update message is sent.
func (p *Provider) Connect(ctx context.Context, cfg live.Config) (live.Session, error) {
	wsURL := fmt.Sprintf("%s?model=%s", p.baseURL, p.model)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + p.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai: dial: %w", err)
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:   conn,
		events: make(chan live.Event, eventBufferSize),
		ctx:    sessCtx,
		cancel: sessCancel,
	}

	if err := sess.sendSessionUpdate(cfg); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "session update failed")
		return nil, fmt.Errorf("openai: session update: %w", err)
	}

	go sess.receiveLoop()

	return sess, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Voice                   string           `json:"voice,omitempty"`
	Instructions            string           `json:"instructions,omitempty"`
	InputAudioFormat        string           `json:"input_audio_format"`
	OutputAudioFormat       string           `json:"output_audio_format"`
	InputAudioTranscription *json.RawMessage `json:"input_audio_transcription,omitempty"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16
}

// serverErrorDetail represents the nested error object in an OpenAI Realtime
// error event: {"type":"error","error":{"type":"...","code":"...","message":"..."}}.
type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverEvent struct {
	Type string `json:"type"`

	// response.audio.delta / response.audio_transcript.delta
	Delta string `json:"delta,omitempty"`

	// conversation.item.input_audio_transcription.completed
	Transcript string `json:"transcript,omitempty"`

	// error event
	Error *serverErrorDetail `json:"error,omitempty"`
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn   *websocket.Conn
	events chan live.Event

	mu     sync.Mutex
	errVal error
	closed bool

	// responding is true between the first response.audio.delta of a reply
	// and its response.done. A speech_started event in that window means the
	// user barged in, which maps to an interruption.
	responding bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// transcriptionDefaults enables input transcription with the service default
// model.
var transcriptionDefaults = json.RawMessage(`{"model":"whisper-1"}`)

// sendSessionUpdate sends a session.update event to configure voice,
// instructions, audio formats, and input transcription.
func (s *session) sendSessionUpdate(cfg live.Config) error {
	params := sessionParams{
		InputAudioFormat:        "pcm16",
		OutputAudioFormat:       "pcm16",
		InputAudioTranscription: &transcriptionDefaults,
	}
	if cfg.Voice != "" {
		params.Voice = cfg.Voice
	}
	if cfg.Instructions != "" {
		params.Instructions = cfg.Instructions
	}
	return s.writeJSON(sessionUpdateMessage{Type: "session.update", Session: params})
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("openai: marshal: %w", err)
	}
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// receiveLoop reads events from the WebSocket and dispatches them.
// It owns the events channel: it emits the final EventClosed and closes the
// channel when it exits.
func (s *session) receiveLoop() {
	defer s.finish()

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.setErr(err)
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}

		s.handleServerEvent(&evt)
	}
}

func (s *session) handleServerEvent(evt *serverEvent) {
	switch evt.Type {
	case "response.audio.delta":
		if evt.Delta == "" {
			return
		}
		pcm, err := audio.DecodeWire(evt.Delta)
		if err != nil || len(pcm) == 0 {
			return
		}
		s.setResponding(true)
		s.emit(live.Event{Kind: live.EventAudio, Audio: pcm})

	case "response.audio_transcript.delta":
		if evt.Delta == "" {
			return
		}
		s.emit(live.Event{Kind: live.EventOutputTranscription, Text: evt.Delta})

	case "conversation.item.input_audio_transcription.completed":
		if evt.Transcript == "" {
			return
		}
		s.emit(live.Event{Kind: live.EventInputTranscription, Text: evt.Transcript})

	case "input_audio_buffer.speech_started":
		if s.setResponding(false) {
			s.emit(live.Event{Kind: live.EventInterrupted})
		}

	case "response.done":
		s.setResponding(false)
		s.emit(live.Event{Kind: live.EventTurnComplete})

	case "error":
		msg := "unknown error"
		if evt.Error != nil && evt.Error.Message != "" {
			msg = evt.Error.Message
		}
		s.emit(live.Event{Kind: live.EventError, Err: fmt.Errorf("openai: %s", msg)})
	}
}

// setResponding updates the in-reply flag and reports whether it was
// previously set.
func (s *session) setResponding(v bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	was := s.responding
	s.responding = v
	return was
}

// emit delivers one event, giving up when the session is shutting down.
func (s *session) emit(ev live.Event) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

func (s *session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVal == nil {
		s.errVal = err
	}
}

// finish emits the terminal events and closes the stream exactly once.
func (s *session) finish() {
	s.closeOnce.Do(func() {
		if err := s.Err(); err != nil {
			select {
			case s.events <- live.Event{Kind: live.EventError, Err: err}:
			default:
			}
		}
		select {
		case s.events <- live.Event{Kind: live.EventClosed}:
		default:
		}
		close(s.events)
	})
}

// ── Session methods ────────────────────────────────────────────────────────────

// SendAudio delivers a raw PCM16 audio chunk to the model.
func (s *session) SendAudio(pcm []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("openai: session closed")
	}
	s.mu.Unlock()

	return s.writeJSON(appendAudioMessage{
		Type:  "input_audio_buffer.append",
		Audio: audio.EncodeWire(pcm),
	})
}

// Events returns the channel on which inbound session events arrive.
func (s *session) Events() <-chan live.Event { return s.events }

// Err returns the first non-nil error that caused the session to terminate.
func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close terminates the session and releases all resources. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
