// Package web serves the rendering boundary over HTTP: a JSON snapshot of the
// tutoring session, a websocket push feed of state changes, knowledge base
// uploads, session control, and the operational endpoints (health, metrics).
//
// The server renders nothing itself. Clients poll GET /state or subscribe to
// /ws and draw whatever the snapshot says.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aquilesboica/ia-teacher/internal/health"
	"github.com/aquilesboica/ia-teacher/internal/knowledge"
	"github.com/aquilesboica/ia-teacher/internal/observe"
	"github.com/aquilesboica/ia-teacher/internal/session"
)

// maxUploadBytes caps knowledge PDF uploads at 32 MiB.
const maxUploadBytes = 32 << 20

// Controller is the session surface the web layer drives. Implemented by
// [session.Manager].
type Controller interface {
	Start(ctx context.Context) error
	Stop()
	Snapshot() session.Snapshot
}

// Option is a functional option for configuring a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) { s.log = log }
}

// WithMetrics sets the metrics instance used by the HTTP middleware.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithCheckers adds readiness checkers to /readyz.
func WithCheckers(checkers ...health.Checker) Option {
	return func(s *Server) { s.checkers = append(s.checkers, checkers...) }
}

// Server is the state-feed HTTP server.
type Server struct {
	ctl      Controller
	store    *knowledge.Store
	log      *slog.Logger
	metrics  *observe.Metrics
	checkers []health.Checker

	mu   sync.Mutex
	subs map[chan session.Snapshot]struct{}
}

// NewServer creates a Server driving ctl. The knowledge store may be nil, in
// which case the /knowledge endpoints return 404.
func NewServer(ctl Controller, store *knowledge.Store, opts ...Option) *Server {
	s := &Server{
		ctl:   ctl,
		store: store,
		log:   slog.Default(),
		subs:  make(map[chan session.Snapshot]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Handler builds the full route table wrapped in the observability
// middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /state", s.handleState)
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("POST /session/start", s.handleSessionStart)
	mux.HandleFunc("POST /session/stop", s.handleSessionStop)
	mux.HandleFunc("GET /knowledge", s.handleKnowledgeGet)
	mux.HandleFunc("POST /knowledge", s.handleKnowledgeUpload)
	mux.HandleFunc("DELETE /knowledge", s.handleKnowledgeClear)
	mux.Handle("GET /metrics", promhttp.Handler())

	health.New(s.checkers...).Register(mux)

	return observe.Middleware(s.metrics)(mux)
}

// Publish pushes a snapshot to every websocket subscriber. Wire this to
// [session.Config.OnChange]. Slow subscribers drop intermediate snapshots;
// the feed guarantees a recent state, not every transition.
func (s *Server) Publish(snap session.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- snap:
		default:
			// Full buffer: replace the stale snapshot with the fresh one.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

// ─── Session state ───────────────────────────────────────────────────────────

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctl.Snapshot())
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ch := s.subscribe()
	defer s.unsubscribe(ch)

	// Inbound frames are ignored; the read loop only detects disconnects.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	// Every subscriber starts from the current state.
	if err := wsjson.Write(ctx, conn, s.ctl.Snapshot()); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-ch:
			if err := wsjson.Write(ctx, conn, snap); err != nil {
				return
			}
		}
	}
}

func (s *Server) subscribe() chan session.Snapshot {
	ch := make(chan session.Snapshot, 8)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()
	return ch
}

func (s *Server) unsubscribe(ch chan session.Snapshot) {
	s.mu.Lock()
	delete(s.subs, ch)
	s.mu.Unlock()
}

// ─── Session control ─────────────────────────────────────────────────────────

func (s *Server) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	err := s.ctl.Start(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, s.ctl.Snapshot())
	case errors.Is(err, session.ErrNotIdle):
		writeError(w, http.StatusConflict, "session already active")
	case errors.Is(err, session.ErrStopped):
		writeError(w, http.StatusConflict, "session stopped while connecting")
	default:
		var perm *session.PermissionError
		if errors.As(err, &perm) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		s.log.Error("session start failed", "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

func (s *Server) handleSessionStop(w http.ResponseWriter, _ *http.Request) {
	s.ctl.Stop()
	writeJSON(w, http.StatusOK, s.ctl.Snapshot())
}

// ─── Knowledge base ──────────────────────────────────────────────────────────

// knowledgeInfo is the JSON shape of a loaded document.
type knowledgeInfo struct {
	FileName string `json:"file_name"`
	Pages    int    `json:"pages"`
	Chars    int    `json:"chars"`
}

func (s *Server) handleKnowledgeGet(w http.ResponseWriter, _ *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, "knowledge base disabled")
		return
	}
	base := s.store.Get()
	if base == nil {
		writeError(w, http.StatusNotFound, "no document loaded")
		return
	}
	writeJSON(w, http.StatusOK, knowledgeInfo{
		FileName: base.FileName,
		Pages:    base.Pages,
		Chars:    len(base.Text),
	})
}

func (s *Server) handleKnowledgeUpload(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, "knowledge base disabled")
		return
	}
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "malformed multipart form: "+err.Error())
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, `missing "file" form field`)
		return
	}
	defer file.Close()

	base, err := knowledge.ExtractPDF(file, header.Size, header.Filename)
	if err != nil {
		// Extraction failure is the client's problem, not a server fault.
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	s.store.Set(base)
	s.log.Info("knowledge document loaded", "file", base.FileName, "pages", base.Pages)

	writeJSON(w, http.StatusOK, knowledgeInfo{
		FileName: base.FileName,
		Pages:    base.Pages,
		Chars:    len(base.Text),
	})
}

func (s *Server) handleKnowledgeClear(w http.ResponseWriter, _ *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, "knowledge base disabled")
		return
	}
	s.store.Clear()
	w.WriteHeader(http.StatusNoContent)
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		io.WriteString(w, `{"error":"encoding failed"}`)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
