// Package app wires all subsystems into a running tutoring server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves until the context is cancelled, and Shutdown tears
// everything down in order.
//
// For testing, inject doubles via functional options (WithProvider,
// WithSource, WithSink). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aquilesboica/ia-teacher/internal/config"
	"github.com/aquilesboica/ia-teacher/internal/health"
	"github.com/aquilesboica/ia-teacher/internal/knowledge"
	"github.com/aquilesboica/ia-teacher/internal/session"
	"github.com/aquilesboica/ia-teacher/internal/web"
	"github.com/aquilesboica/ia-teacher/pkg/audio/player"
	"github.com/aquilesboica/ia-teacher/pkg/capture"
	"github.com/aquilesboica/ia-teacher/pkg/live"
	"github.com/aquilesboica/ia-teacher/pkg/live/gemini"
	"github.com/aquilesboica/ia-teacher/pkg/live/mock"
	"github.com/aquilesboica/ia-teacher/pkg/live/openai"
)

// shutdownTimeout bounds graceful HTTP server shutdown.
const shutdownTimeout = 10 * time.Second

// DefaultRegistry returns a registry with all built-in live providers.
func DefaultRegistry() *config.Registry {
	r := config.NewRegistry()
	r.RegisterLive("gemini-live", func(e config.ProviderEntry) (live.Provider, error) {
		var opts []gemini.Option
		if e.Model != "" {
			opts = append(opts, gemini.WithModel(e.Model))
		}
		if e.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(e.BaseURL))
		}
		return gemini.New(e.APIKey, opts...), nil
	})
	r.RegisterLive("openai-realtime", func(e config.ProviderEntry) (live.Provider, error) {
		var opts []openai.Option
		if e.Model != "" {
			opts = append(opts, openai.WithModel(e.Model))
		}
		if e.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(e.BaseURL))
		}
		return openai.New(e.APIKey, opts...), nil
	})
	r.RegisterLive("mock", func(config.ProviderEntry) (live.Provider, error) {
		return mock.NewProvider(), nil
	})
	return r
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithProvider injects a live provider instead of creating one from config.
func WithProvider(p live.Provider) Option {
	return func(a *App) { a.provider = p }
}

// WithSource injects a capture source instead of creating one from config.
func WithSource(s capture.Source) Option {
	return func(a *App) { a.source = s }
}

// WithSink injects a playback sink. Default is [player.NullSink].
func WithSink(s player.Sink) Option {
	return func(a *App) { a.sink = s }
}

// WithRegistry overrides the provider registry.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	registry *config.Registry

	provider  live.Provider
	source    capture.Source
	sink      player.Sink
	store     *knowledge.Store
	manager   *session.Manager
	webServer *web.Server
	httpSrv   *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Initialisation is
// synchronous: provider construction, capture device creation, optional
// knowledge PDF loading, and HTTP route assembly all happen here; only Run
// starts serving.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.registry == nil {
		a.registry = DefaultRegistry()
	}
	if a.sink == nil {
		a.sink = player.NullSink{}
	}

	// ── 1. Live provider ─────────────────────────────────────────────────
	if a.provider == nil {
		p, err := a.registry.CreateLive(cfg.Live)
		if err != nil {
			return nil, fmt.Errorf("app: create live provider: %w", err)
		}
		a.provider = p
	}

	// ── 2. Capture source ────────────────────────────────────────────────
	if a.source == nil {
		src, err := capture.NewSource(cfg.Audio.Backend, capture.Config{
			Device: cfg.Audio.Device,
		})
		if err != nil {
			return nil, fmt.Errorf("app: create capture source: %w", err)
		}
		a.source = src
		a.closers = append(a.closers, src.Close)
	}

	// ── 3. Knowledge base ────────────────────────────────────────────────
	a.store = knowledge.NewStore()
	if path := cfg.Teacher.KnowledgePDF; path != "" {
		base, err := knowledge.ExtractFile(path)
		if err != nil {
			return nil, fmt.Errorf("app: load knowledge pdf: %w", err)
		}
		a.store.Set(base)
		slog.Info("knowledge base loaded", "file", base.FileName, "pages", base.Pages)
	}

	// ── 4. Session manager ───────────────────────────────────────────────
	a.manager = session.New(session.Config{
		Provider:     a.provider,
		Source:       a.source,
		Sink:         a.sink,
		Knowledge:    a.store,
		Instructions: cfg.Teacher.Instructions,
		Voice:        cfg.Live.Voice,
		BlockSize:    cfg.Audio.BlockSize,
		OnChange:     func(snap session.Snapshot) { a.publish(snap) },
	})
	a.closers = append(a.closers, a.manager.Close)

	// ── 5. Web server ────────────────────────────────────────────────────
	a.webServer = web.NewServer(a.manager, a.store,
		web.WithCheckers(health.Checker{
			Name: "capture",
			Check: func(context.Context) error {
				if a.source == nil {
					return errors.New("no capture source")
				}
				return nil
			},
		}),
	)
	a.httpSrv = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.webServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// publish forwards a snapshot to the websocket feed. Guarded because the
// manager can fire before the web server exists in partially constructed
// test apps.
func (a *App) publish(snap session.Snapshot) {
	if a.webServer != nil {
		a.webServer.Publish(snap)
	}
}

// Manager exposes the session coordinator, mainly for tests.
func (a *App) Manager() *session.Manager { return a.manager }

// Handler exposes the HTTP route table, mainly for tests.
func (a *App) Handler() http.Handler { return a.webServer.Handler() }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP until ctx is cancelled, then shuts down gracefully. Returns
// nil on clean shutdown.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("serving", "addr", a.httpSrv.Addr, "provider", a.provider.Name())
		if err := a.httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.httpSrv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	a.Shutdown()
	return err
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the active session and tears down all subsystems in
// reverse-init order. Idempotent.
func (a *App) Shutdown() {
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		a.manager.Stop()

		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
}
