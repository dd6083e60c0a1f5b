package openai_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aquilesboica/ia-teacher/pkg/live"
	"github.com/aquilesboica/ia-teacher/pkg/live/openai"
	"github.com/coder/websocket"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startRealtimeServer launches a test WebSocket server emulating the OpenAI
// Realtime endpoint. The server is automatically closed when the test
// finishes.
func startRealtimeServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("readJSON: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("readJSON unmarshal: %v", err)
	}
}

func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeJSON: %v (may be expected on close)", err)
	}
}

func newProvider(srv *httptest.Server) *openai.Provider {
	return openai.New("test-api-key", openai.WithBaseURL(wsURL(srv)))
}

func waitEvent(t *testing.T, events <-chan live.Event, kind live.EventKind) live.Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("events channel closed while waiting for %v", kind)
			}
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %v event", kind)
		}
	}
}

// ── Connect / session.update ───────────────────────────────────────────────────

func TestConnect_SendsSessionUpdate(t *testing.T) {
	t.Parallel()

	type sessionUpdate struct {
		Type    string `json:"type"`
		Session struct {
			Voice                   string          `json:"voice"`
			Instructions            string          `json:"instructions"`
			InputAudioFormat        string          `json:"input_audio_format"`
			OutputAudioFormat       string          `json:"output_audio_format"`
			InputAudioTranscription *map[string]any `json:"input_audio_transcription"`
		} `json:"session"`
	}

	received := make(chan sessionUpdate, 1)

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var msg sessionUpdate
		readJSON(t, conn, &msg)
		received <- msg
		<-conn.CloseRead(context.Background()).Done()
	})

	p := newProvider(srv)
	sess, err := p.Connect(context.Background(), live.Config{
		Voice:        "alloy",
		Instructions: "You are a patient teacher.",
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	select {
	case msg := <-received:
		if msg.Type != "session.update" {
			t.Errorf("type = %q; want session.update", msg.Type)
		}
		if msg.Session.Voice != "alloy" {
			t.Errorf("voice = %q; want alloy", msg.Session.Voice)
		}
		if msg.Session.Instructions != "You are a patient teacher." {
			t.Errorf("instructions = %q", msg.Session.Instructions)
		}
		if msg.Session.InputAudioFormat != "pcm16" || msg.Session.OutputAudioFormat != "pcm16" {
			t.Errorf("audio formats = %q/%q; want pcm16/pcm16",
				msg.Session.InputAudioFormat, msg.Session.OutputAudioFormat)
		}
		if msg.Session.InputAudioTranscription == nil {
			t.Error("input_audio_transcription should be present")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for session.update")
	}
}

func TestConnect_SendsAuthHeaders(t *testing.T) {
	t.Parallel()

	headers := make(chan http.Header, 1)

	srv := startRealtimeServer(t, func(conn *websocket.Conn, r *http.Request) {
		headers <- r.Header.Clone()
		var raw map[string]any
		readJSON(t, conn, &raw)
		<-conn.CloseRead(context.Background()).Done()
	})

	p := openai.New("secret-key", openai.WithBaseURL(wsURL(srv)))
	sess, err := p.Connect(context.Background(), live.Config{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	select {
	case h := <-headers:
		if got := h.Get("Authorization"); got != "Bearer secret-key" {
			t.Errorf("Authorization = %q; want Bearer secret-key", got)
		}
		if got := h.Get("OpenAI-Beta"); got != "realtime=v1" {
			t.Errorf("OpenAI-Beta = %q; want realtime=v1", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout")
	}
}

func TestConnect_IncludesModelInURL(t *testing.T) {
	t.Parallel()

	urlQuery := make(chan string, 1)

	srv := startRealtimeServer(t, func(conn *websocket.Conn, r *http.Request) {
		urlQuery <- r.URL.RawQuery
		var raw map[string]any
		readJSON(t, conn, &raw)
		<-conn.CloseRead(context.Background()).Done()
	})

	p := openai.New("key", openai.WithModel("custom-realtime"), openai.WithBaseURL(wsURL(srv)))
	sess, err := p.Connect(context.Background(), live.Config{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	select {
	case q := <-urlQuery:
		if !strings.Contains(q, "model=custom-realtime") {
			t.Errorf("URL query %q should contain model=custom-realtime", q)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout")
	}
}

// ── SendAudio ──────────────────────────────────────────────────────────────────

func TestSendAudio_EncodesAndSends(t *testing.T) {
	t.Parallel()

	type appendMsg struct {
		Type  string `json:"type"`
		Audio string `json:"audio"`
	}

	audioMsg := make(chan appendMsg, 1)

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		// Consume session.update.
		var raw map[string]any
		readJSON(t, conn, &raw)

		var msg appendMsg
		readJSON(t, conn, &msg)
		audioMsg <- msg

		<-conn.CloseRead(context.Background()).Done()
	})

	p := newProvider(srv)
	sess, err := p.Connect(context.Background(), live.Config{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	wantPCM := []byte{0x01, 0x02, 0x03, 0x04}
	if err := sess.SendAudio(wantPCM); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	select {
	case msg := <-audioMsg:
		if msg.Type != "input_audio_buffer.append" {
			t.Errorf("type = %q; want input_audio_buffer.append", msg.Type)
		}
		got, err := base64.StdEncoding.DecodeString(msg.Audio)
		if err != nil {
			t.Fatalf("base64 decode: %v", err)
		}
		if string(got) != string(wantPCM) {
			t.Errorf("decoded audio = %v; want %v", got, wantPCM)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for audio message")
	}
}

func TestSendAudio_AfterClose_ReturnsError(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		<-conn.CloseRead(context.Background()).Done()
	})

	p := newProvider(srv)
	sess, err := p.Connect(context.Background(), live.Config{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := sess.SendAudio([]byte{1, 2, 3}); err == nil {
		t.Fatal("SendAudio after Close should return an error")
	}
}

// ── Inbound events ─────────────────────────────────────────────────────────────

func TestEvents_AudioDelta(t *testing.T) {
	t.Parallel()

	wantPCM := []byte{0xAA, 0xBB, 0xCC, 0xDD}
	encoded := base64.StdEncoding.EncodeToString(wantPCM)

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)

		writeJSON(t, conn, map[string]any{
			"type":  "response.audio.delta",
			"delta": encoded,
		})

		<-conn.CloseRead(context.Background()).Done()
	})

	p := newProvider(srv)
	sess, err := p.Connect(context.Background(), live.Config{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	ev := waitEvent(t, sess.Events(), live.EventAudio)
	if string(ev.Audio) != string(wantPCM) {
		t.Errorf("audio = %v; want %v", ev.Audio, wantPCM)
	}
}

func TestEvents_TranscriptDeltaAndDone(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)

		writeJSON(t, conn, map[string]any{
			"type":  "response.audio_transcript.delta",
			"delta": "Hi there",
		})
		writeJSON(t, conn, map[string]any{
			"type": "response.done",
		})

		<-conn.CloseRead(context.Background()).Done()
	})

	p := newProvider(srv)
	sess, err := p.Connect(context.Background(), live.Config{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	events := sess.Events()
	ev := waitEvent(t, events, live.EventOutputTranscription)
	if ev.Text != "Hi there" {
		t.Errorf("text = %q; want Hi there", ev.Text)
	}
	waitEvent(t, events, live.EventTurnComplete)
}

func TestEvents_InputTranscriptionCompleted(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)

		writeJSON(t, conn, map[string]any{
			"type":       "conversation.item.input_audio_transcription.completed",
			"transcript": "Hello",
		})

		<-conn.CloseRead(context.Background()).Done()
	})

	p := newProvider(srv)
	sess, err := p.Connect(context.Background(), live.Config{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	ev := waitEvent(t, sess.Events(), live.EventInputTranscription)
	if ev.Text != "Hello" {
		t.Errorf("text = %q; want Hello", ev.Text)
	}
}

func TestEvents_SpeechStartedDuringResponse_MapsToInterrupted(t *testing.T) {
	t.Parallel()

	pcm := base64.StdEncoding.EncodeToString([]byte{1, 2, 3, 4})

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)

		// Audio delta marks the reply as in-flight; speech_started then
		// signals a barge-in.
		writeJSON(t, conn, map[string]any{
			"type":  "response.audio.delta",
			"delta": pcm,
		})
		writeJSON(t, conn, map[string]any{
			"type": "input_audio_buffer.speech_started",
		})

		<-conn.CloseRead(context.Background()).Done()
	})

	p := newProvider(srv)
	sess, err := p.Connect(context.Background(), live.Config{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	events := sess.Events()
	waitEvent(t, events, live.EventAudio)
	waitEvent(t, events, live.EventInterrupted)
}

func TestEvents_SpeechStartedWhenIdle_NoInterruption(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)

		// No response in flight: speech_started must not interrupt.
		writeJSON(t, conn, map[string]any{
			"type": "input_audio_buffer.speech_started",
		})
		writeJSON(t, conn, map[string]any{
			"type":       "conversation.item.input_audio_transcription.completed",
			"transcript": "marker",
		})

		<-conn.CloseRead(context.Background()).Done()
	})

	p := newProvider(srv)
	sess, err := p.Connect(context.Background(), live.Config{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	// The transcription marker arrives after speech_started; if an
	// interruption event had been emitted it would precede the marker.
	ev := <-sess.Events()
	if ev.Kind == live.EventInterrupted {
		t.Fatal("speech_started with no response in flight should not interrupt")
	}
	if ev.Kind != live.EventInputTranscription || ev.Text != "marker" {
		t.Fatalf("unexpected event %v (text %q)", ev.Kind, ev.Text)
	}
}

func TestEvents_ServerError(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)

		writeJSON(t, conn, map[string]any{
			"type": "error",
			"error": map[string]any{
				"type":    "invalid_request_error",
				"message": "rate limited",
			},
		})

		<-conn.CloseRead(context.Background()).Done()
	})

	p := newProvider(srv)
	sess, err := p.Connect(context.Background(), live.Config{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	ev := waitEvent(t, sess.Events(), live.EventError)
	if ev.Err == nil || !strings.Contains(ev.Err.Error(), "rate limited") {
		t.Errorf("error = %v; want rate limited", ev.Err)
	}
}

// ── Close ──────────────────────────────────────────────────────────────────────

func TestClose_Idempotent(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		<-conn.CloseRead(context.Background()).Done()
	})

	p := newProvider(srv)
	sess, err := p.Connect(context.Background(), live.Config{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if err := sess.Close(); err != nil {
		t.Fatalf("first Close() returned error: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("second Close() returned error: %v", err)
	}
}

func TestName(t *testing.T) {
	t.Parallel()
	p := openai.New("key")
	if p.Name() != "openai-realtime" {
		t.Errorf("Name() = %q; want openai-realtime", p.Name())
	}
}
