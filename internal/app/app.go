// Package app wires the virevo subsystems into a running call-handling
// server.
//
// App owns the full lifecycle: New creates and connects all subsystems
// (document store, cross-worker store, vault, knowledge router, session
// manager, per-call supervisors), Run serves telephony webhooks and media
// streams until the context is cancelled, and Shutdown tears everything
// down in order.
package app

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/Radicalscale/virevo/internal/bargein"
	"github.com/Radicalscale/virevo/internal/call"
	"github.com/Radicalscale/virevo/internal/config"
	"github.com/Radicalscale/virevo/internal/deadair"
	"github.com/Radicalscale/virevo/internal/flow"
	"github.com/Radicalscale/virevo/internal/knowledge"
	"github.com/Radicalscale/virevo/internal/observe"
	"github.com/Radicalscale/virevo/internal/orchestrator"
	"github.com/Radicalscale/virevo/internal/player"
	"github.com/Radicalscale/virevo/internal/vault"
	"github.com/Radicalscale/virevo/pkg/docstore"
	"github.com/Radicalscale/virevo/pkg/docstore/postgres"
	"github.com/Radicalscale/virevo/pkg/provider/llm"
	"github.com/Radicalscale/virevo/pkg/provider/stt"
	"github.com/Radicalscale/virevo/pkg/provider/telephony"
	"github.com/Radicalscale/virevo/pkg/provider/tts"
	"github.com/Radicalscale/virevo/pkg/store"
	"github.com/Radicalscale/virevo/pkg/store/memstore"
	"github.com/Radicalscale/virevo/pkg/store/redisstore"
)

// Providers holds one interface value per pipeline stage. Nil means the
// provider is not configured. Populated by cmd/virevo/main.go via the
// config registry.
type Providers struct {
	LLM       llm.Provider
	STT       stt.Provider
	TTS       tts.Provider
	Telephony telephony.Provider
}

// App owns all subsystem lifetimes and serves the virevo call pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers

	docs           docstore.Store
	store          store.Store
	vault          *vault.Vault
	audioPublisher player.AudioPublisher

	calls    *call.Manager
	bargein  *bargein.Supervisor
	player   *player.Player
	knowl    *knowledge.Router
	webhook  *flow.WebhookExecutor
	sessions *CallSessionManager

	httpServer *http.Server

	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New, used to inject test doubles.
type Option func(*App)

// WithDocStore injects a document store instead of creating one from config.
func WithDocStore(s docstore.Store) Option {
	return func(a *App) { a.docs = s }
}

// WithStore injects a cross-worker store instead of creating one from config.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithAudioPublisher injects an [player.AudioPublisher] instead of the
// built-in HTTP publisher.
func WithAudioPublisher(p player.AudioPublisher) Option {
	return func(a *App) { a.audioPublisher = p }
}

// New creates an App by wiring all subsystems together. Use Option
// functions to inject test doubles for any subsystem.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}

	if err := a.initDocStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init docstore: %w", err)
	}
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}
	if err := a.initVault(); err != nil {
		return nil, fmt.Errorf("app: init vault: %w", err)
	}

	a.calls = call.NewManager(a.docs, a.store, a.vault)
	a.webhook = flow.NewWebhookExecutor(&http.Client{Timeout: 10 * time.Second})

	if a.audioPublisher == nil {
		a.audioPublisher = newHTTPAudioPublisher(cfg.Server.PublicBaseURL)
	}
	a.player = player.New(providers.TTS, providers.Telephony, a.audioPublisher, a.store)
	a.bargein = bargein.New(a.player, a.store)
	a.knowl = knowledge.New(nil, a.docs, nil, cfg.Knowledge.TopK)

	a.sessions = newCallSessionManager(a)

	a.httpServer = &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: observe.Middleware(observe.DefaultMetrics())(a.routes()),
	}

	return a, nil
}

func (a *App) initDocStore(ctx context.Context) error {
	if a.docs != nil {
		return nil
	}
	if a.cfg.Database.PostgresDSN == "" {
		return fmt.Errorf("database.postgres_dsn is required when no docstore is injected")
	}
	s, err := postgres.NewStore(ctx, a.cfg.Database.PostgresDSN)
	if err != nil {
		return err
	}
	a.docs = s
	a.closers = append(a.closers, func() error { s.Close(); return nil })
	return nil
}

func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	if a.cfg.Store.RedisURL == "" {
		slog.Warn("store.redis_url is empty; running single-worker with an in-process store")
		a.store = memstore.New()
		return nil
	}
	s, err := redisstore.New(ctx, a.cfg.Store.RedisURL)
	if err != nil {
		slog.Warn("redis store unreachable; running single-worker with an in-process store", "err", err)
		a.store = memstore.New()
		return nil
	}
	a.store = s
	a.closers = append(a.closers, s.Close)
	return nil
}

func (a *App) initVault() error {
	if a.vault != nil {
		return nil
	}
	if a.cfg.Vault.MasterKeyEnv == "" {
		return fmt.Errorf("vault.master_key_env is required")
	}
	raw := os.Getenv(a.cfg.Vault.MasterKeyEnv)
	if raw == "" {
		return fmt.Errorf("environment variable %s is not set", a.cfg.Vault.MasterKeyEnv)
	}
	// Derive a 32-byte AES-256 key via SHA-256 so operators can supply any
	// passphrase length rather than generating raw key bytes by hand.
	key := sha256.Sum256([]byte(raw))
	v, err := vault.New(a.docs, key[:])
	if err != nil {
		return err
	}
	a.vault = v
	return nil
}

// Run serves HTTP (telephony webhooks + media streams) until ctx is
// cancelled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("app: http server listening", "addr", a.httpServer.Addr)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Shutdown tears down the HTTP server and all subsystems, in order.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		if shutErr := a.httpServer.Shutdown(ctx); shutErr != nil {
			err = shutErr
		}
		a.sessions.Stop()
		for i := len(a.closers) - 1; i >= 0; i-- {
			if cerr := a.closers[i](); cerr != nil && err == nil {
				err = cerr
			}
		}
	})
	return err
}

// CallManager returns the session manager (C1), exposed for tests.
func (a *App) CallManager() *call.Manager { return a.calls }

// orchestratorFor builds a fresh [orchestrator.Orchestrator] for a single
// call. It is cheap to construct, so one is built per call rather than
// shared, avoiding any shared interpreter/sentence-sink state across calls.
// da is the call's dead-air supervisor, so webhook execution can suspend its
// silence timer (§4.9).
func (a *App) orchestratorFor(sink orchestrator.SentenceSink, da *deadair.Supervisor) *orchestrator.Orchestrator {
	interp := flow.NewInterpreter(a.providers.LLM, a.webhook, a.knowl)
	return orchestrator.New(a.providers.LLM, interp, sink, a.bargein, a.knowl, da)
}
