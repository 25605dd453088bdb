// Package app wires all voxgate subsystems into a running gateway.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context is cancelled, and Shutdown
// tears everything down in reverse-init order.
//
// For testing, inject mock implementations via functional options
// (WithSessionStore, WithCheckpointStore, etc.). When an option is not
// provided, New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/voxgate/voxgate/internal/channel"
	discordchannel "github.com/voxgate/voxgate/internal/channel/discord"
	linechannel "github.com/voxgate/voxgate/internal/channel/line"
	"github.com/voxgate/voxgate/internal/checkpoint"
	"github.com/voxgate/voxgate/internal/config"
	"github.com/voxgate/voxgate/internal/gateway"
	"github.com/voxgate/voxgate/internal/health"
	"github.com/voxgate/voxgate/internal/observe"
	"github.com/voxgate/voxgate/internal/persona"
	"github.com/voxgate/voxgate/internal/resilience"
	"github.com/voxgate/voxgate/internal/session"
	"github.com/voxgate/voxgate/internal/tools"
	"github.com/voxgate/voxgate/internal/transport/mediaroom"
	"github.com/voxgate/voxgate/internal/transport/webhook"
	"github.com/voxgate/voxgate/internal/transport/ws"
	"github.com/voxgate/voxgate/internal/turn"
	"github.com/voxgate/voxgate/pkg/memory"
	"github.com/voxgate/voxgate/pkg/memory/inmem"
	memsqlite "github.com/voxgate/voxgate/pkg/memory/sqlite"
	"github.com/voxgate/voxgate/pkg/provider/llm"
	"github.com/voxgate/voxgate/pkg/provider/tts"
)

// shutdownGrace bounds the HTTP servers' graceful drain in Run.
const shutdownGrace = 10 * time.Second

// Providers holds one interface value per provider slot. Populated by
// main.go via the config registry. TTS may be nil; chat-only deployments
// stream text frames without audio.
type Providers struct {
	LLM llm.Provider
	TTS tts.Provider
}

// App owns all subsystem lifetimes and serves the gateway's HTTP surfaces.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems — initialised in New, torn down in Shutdown.
	metrics     *observe.Metrics
	sessions    session.Store
	checkpoints checkpoint.Store
	memories    memory.Store
	tools       *tools.Host
	personas    *persona.Library
	summarizer  *checkpoint.Manager
	orch        *turn.Orchestrator
	credentials *gateway.CredentialStore
	watcher     *config.Watcher
	gateway     *gateway.Gateway
	handler     http.Handler

	// closers are called in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSessionStore injects a session store instead of creating one from config.
func WithSessionStore(s session.Store) Option {
	return func(a *App) { a.sessions = s }
}

// WithCheckpointStore injects a checkpoint store instead of creating one from config.
func WithCheckpointStore(s checkpoint.Store) Option {
	return func(a *App) { a.checkpoints = s }
}

// WithMemoryStore injects the store backing the memory tools.
func WithMemoryStore(s memory.Store) Option {
	return func(a *App) { a.memories = s }
}

// WithCredentialStore injects a credential store instead of loading the
// channels file. The file watcher is skipped.
func WithCredentialStore(s *gateway.CredentialStore) Option {
	return func(a *App) { a.credentials = s }
}

// WithMetrics injects a metrics set instead of using the process default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option
// functions to inject test doubles for any subsystem.
//
// Initialisation is synchronous and ordered: stores first, then the tool
// host and persona library, then the orchestrator, and finally the gateway
// and its HTTP surfaces. Anything that opened a resource before a later
// step failed is closed on the way out.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.LLM == nil {
		return nil, fmt.Errorf("app: an LLM provider is required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.init(ctx); err != nil {
		// Unwind whatever was opened before the failing step.
		_ = a.Shutdown(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	// ── 1. Session store ─────────────────────────────────────────────────
	if err := a.initSessions(ctx); err != nil {
		return fmt.Errorf("app: init sessions: %w", err)
	}

	// ── 2. Checkpoint store ──────────────────────────────────────────────
	if err := a.initCheckpoints(ctx); err != nil {
		return fmt.Errorf("app: init checkpoints: %w", err)
	}

	// ── 3. Tool host + memory store ──────────────────────────────────────
	if err := a.initTools(ctx); err != nil {
		return fmt.Errorf("app: init tools: %w", err)
	}

	// ── 4. Personas ──────────────────────────────────────────────────────
	lib, err := persona.LoadDir(a.cfg.Gateway.PersonaDir)
	if err != nil {
		return fmt.Errorf("app: load personas: %w", err)
	}
	a.personas = lib

	// ── 5. Orchestrator ──────────────────────────────────────────────────
	a.initOrchestrator()

	// ── 6. Credentials + gateway ─────────────────────────────────────────
	if err := a.initGateway(); err != nil {
		return fmt.Errorf("app: init gateway: %w", err)
	}

	// ── 7. HTTP surfaces ─────────────────────────────────────────────────
	a.initHTTP()

	return nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initSessions creates the session store the config flags select.
func (a *App) initSessions(ctx context.Context) error {
	if a.sessions != nil {
		return nil // injected
	}

	backend := a.cfg.Gateway.SessionBackend()
	switch backend {
	case config.BackendSQLite:
		store, err := session.NewSQLiteStore(ctx, a.cfg.Gateway.SQLiteFile)
		if err != nil {
			return err
		}
		a.sessions = store

	case config.BackendEmbedded:
		store, err := session.NewEmbeddedStore(a.cfg.Gateway.RedisFile)
		if err != nil {
			return err
		}
		a.sessions = store

	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{Addr: a.cfg.Gateway.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return fmt.Errorf("ping redis %s: %w", a.cfg.Gateway.RedisAddr, err)
		}
		a.sessions = session.NewRedisStore(client)

	default:
		a.sessions = session.NewMemoryStore()
	}

	a.closers = append(a.closers, a.sessions.Close)
	slog.Info("session store ready", "backend", backend)
	return nil
}

// initCheckpoints creates the conversation checkpoint store: postgres when a
// database is configured, in-process otherwise.
func (a *App) initCheckpoints(ctx context.Context) error {
	if a.checkpoints != nil {
		return nil // injected
	}

	if a.cfg.DB.Enabled() {
		store, err := checkpoint.NewPGStore(ctx, a.cfg.DB.DSN())
		if err != nil {
			return err
		}
		a.checkpoints = store
		slog.Info("checkpoint store ready", "backend", "postgres", "host", a.cfg.DB.Host)
	} else {
		a.checkpoints = checkpoint.NewMemoryStore()
		slog.Info("checkpoint store ready", "backend", "memory")
	}

	a.closers = append(a.closers, a.checkpoints.Close)
	return nil
}

// initTools sets up the memory store, builds the tool host, registers the
// builtin memory tools, and connects any configured external tool servers.
func (a *App) initTools(ctx context.Context) error {
	if a.memories == nil {
		if a.cfg.Gateway.UseSQLite {
			// Memories live beside the session database.
			store, err := memsqlite.New(ctx, a.cfg.Gateway.SQLiteFile+".memories")
			if err != nil {
				return err
			}
			a.memories = store
		} else {
			a.memories = inmem.New()
		}
		a.closers = append(a.closers, a.memories.Close)
	}

	host := tools.New()
	a.tools = host
	a.closers = append(a.closers, host.Close)

	for _, tool := range tools.NewMemoryTools(a.memories) {
		if err := host.RegisterBuiltin(tool); err != nil {
			return fmt.Errorf("register builtin tool: %w", err)
		}
	}

	specs, err := tools.ParseServerSpecs(a.cfg.Gateway.ToolServers)
	if err != nil {
		return err
	}
	for _, spec := range specs {
		if err := host.RegisterServer(ctx, spec); err != nil {
			return fmt.Errorf("register tool server %q: %w", spec.Name, err)
		}
		slog.Info("registered tool server", "name", spec.Name)
	}
	return nil
}

// initOrchestrator wraps the providers in circuit breakers and builds the
// turn orchestrator plus its summarization manager.
func (a *App) initOrchestrator() {
	llmProvider := resilience.NewLLMWithFallback(a.providers.LLM, a.cfg.LLM.Provider, resilience.FallbackConfig{})

	summarizer := checkpoint.NewLLMSummarizer(llmProvider, a.cfg.LLM.SummarizationMaxTokens)
	var mgrOpts []checkpoint.ManagerOption
	if a.cfg.LLM.SummarizationTriggerTokens > 0 {
		mgrOpts = append(mgrOpts, checkpoint.WithTriggerTokens(a.cfg.LLM.SummarizationTriggerTokens))
	}
	a.summarizer = checkpoint.NewManager(a.checkpoints, summarizer, mgrOpts...)
	a.closers = append(a.closers, a.summarizer.Close)

	turnOpts := []turn.Option{
		turn.WithTools(a.tools),
		turn.WithSummarizer(a.summarizer),
		turn.WithPersonas(a.personas),
		turn.WithReflex(turn.NewReflexMatcher()),
		turn.WithMetrics(a.metrics),
	}
	if a.providers.TTS != nil {
		ttsProvider := resilience.NewTTSWithFallback(a.providers.TTS, a.cfg.TTS.Provider, resilience.FallbackConfig{})
		turnOpts = append(turnOpts, turn.WithTTS(ttsProvider))
	}
	if a.cfg.LLM.Model != "" {
		turnOpts = append(turnOpts, turn.WithModel(a.cfg.LLM.Model))
	}
	if a.cfg.LLM.Temperature > 0 {
		turnOpts = append(turnOpts, turn.WithTemperature(a.cfg.LLM.Temperature))
	}
	if a.cfg.LLM.MaxTokens > 0 {
		turnOpts = append(turnOpts, turn.WithMaxTokens(a.cfg.LLM.MaxTokens))
	}
	if a.cfg.TTS.VoiceID != "" {
		turnOpts = append(turnOpts, turn.WithDefaultVoice(a.cfg.TTS.VoiceID))
	}

	a.orch = turn.New(llmProvider, a.checkpoints, turnOpts...)
	a.closers = append(a.closers, func() error {
		a.orch.Close()
		return nil
	})
}

// initGateway loads channel credentials, derives the admission policy, and
// assembles the inbound router with its platform adapters.
func (a *App) initGateway() error {
	if a.credentials == nil && a.cfg.Gateway.ChannelsConfigFile != "" {
		creds, err := gateway.LoadCredentials(a.cfg.Gateway.ChannelsConfigFile)
		if err != nil {
			return err
		}
		a.credentials = creds

		watcher, err := config.NewWatcher(a.cfg.Gateway.ChannelsConfigFile, func() error {
			if err := creds.Reload(); err != nil {
				return err
			}
			slog.Info("channel credentials reloaded", "path", a.cfg.Gateway.ChannelsConfigFile)
			return nil
		})
		if err != nil {
			return err
		}
		a.watcher = watcher
		a.closers = append(a.closers, func() error {
			watcher.Stop()
			return nil
		})
	}

	adapters, err := channel.NewRegistry(linechannel.New(), discordchannel.New())
	if err != nil {
		return err
	}

	gwOpts := []gateway.Option{gateway.WithAdapters(adapters)}
	if a.credentials != nil {
		gwOpts = append(gwOpts, gateway.WithCredentials(a.credentials))
	}
	a.gateway = gateway.New(a.sessions, a.orch, a.defaultPolicy(), gwOpts...)
	return nil
}

// defaultPolicy derives admission rules from the credential store: a tenant
// may use exactly the channels it holds credentials on. Without a channels
// file there are no tenants and the webhook surface denies everything, which
// is the safe default for an unconfigured deployment.
func (a *App) defaultPolicy() *gateway.Policy {
	rules := make(map[string]gateway.Rule)
	if a.credentials != nil {
		for tenant, channels := range a.credentials.Tenants() {
			rules[tenant] = gateway.Rule{AllowedChannels: channels}
		}
	}
	return gateway.NewPolicy(rules)
}

// initHTTP assembles the HTTP mux: chat WebSocket, webhook intake, media
// room tokens, and health probes, all wrapped in the metrics middleware.
func (a *App) initHTTP() {
	mux := http.NewServeMux()

	chat := ws.NewHandler(a.sessions, a.orch)
	mux.Handle("GET /ws", chat)

	if a.credentials != nil {
		hooks := webhook.NewHandler(a.gateway, a.credentials,
			webhook.WithParser("line", linechannel.ParseWebhook),
		)
		hooks.Register(mux)
	}

	if a.cfg.Gateway.MediaURL != "" {
		keys := &mediaKeys{
			store: a.credentials,
			fallback: channel.Credentials{
				Token:  a.cfg.Gateway.MediaAPIKey,
				Secret: a.cfg.Gateway.MediaAPISecret,
			},
		}
		mediaroom.NewHandler(keys, a.cfg.Gateway.MediaURL).Register(mux)
	}

	health.New(a.healthCheckers()).Register(mux)

	a.handler = observe.Middleware(a.metrics)(mux)
}

// healthCheckers names the readiness probes: one per stateful dependency.
func (a *App) healthCheckers() []health.Checker {
	probe := session.Key{Tenant: "healthz", Channel: "probe", UserExternalID: "probe"}
	return []health.Checker{
		health.CheckerFunc("sessions", func(ctx context.Context) error {
			// Deleting a missing session is a no-op on every backend, so
			// this exercises the connection without leaving state behind.
			return a.sessions.Delete(ctx, probe)
		}),
		health.CheckerFunc("checkpoints", func(ctx context.Context) error {
			_, err := a.checkpoints.Load(ctx, "healthz-probe")
			return err
		}),
		health.CheckerFunc("llm", func(context.Context) error {
			if a.providers.LLM == nil {
				return errors.New("no llm provider configured")
			}
			return nil
		}),
	}
}

// mediaKeys resolves media-room signing keys. Tenants with a "mediaroom"
// entry in the channels file use their own key pair; everyone else falls
// back to the gateway-wide pair from config.
type mediaKeys struct {
	store    gateway.CredentialResolver
	fallback channel.Credentials
}

var _ gateway.CredentialResolver = (*mediaKeys)(nil)

func (m *mediaKeys) Resolve(tenant, channelName, targetID string) (channel.Credentials, error) {
	if m.store != nil {
		if creds, err := m.store.Resolve(tenant, channelName, targetID); err == nil {
			return creds, nil
		}
	}
	if m.fallback.Token == "" || m.fallback.Secret == "" {
		return channel.Credentials{}, fmt.Errorf("app: no media credentials for tenant %q", tenant)
	}
	return m.fallback, nil
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Handler returns the assembled HTTP handler. Tests drive it through
// httptest without binding a port.
func (a *App) Handler() http.Handler { return a.handler }

// Run serves HTTP until ctx is cancelled. The main listener carries the
// chat, webhook, media and health surfaces; when a metrics address is
// configured, a second listener serves Prometheus /metrics so scrapes never
// compete with chat traffic.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	main := &http.Server{
		Addr:              a.cfg.Gateway.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error { return serve(ctx, main, "gateway") })

	if addr := a.cfg.Gateway.MetricsAddr; addr != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("GET /metrics", promhttp.Handler())
		metrics := &http.Server{
			Addr:              addr,
			Handler:           metricsMux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error { return serve(ctx, metrics, "metrics") })
	}

	slog.Info("app running", "listen_addr", a.cfg.Gateway.ListenAddr, "metrics_addr", a.cfg.Gateway.MetricsAddr)
	if err := g.Wait(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return ctx.Err()
}

// serve runs one HTTP server and drains it when ctx is cancelled.
func serve(ctx context.Context, srv *http.Server, name string) error {
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return fmt.Errorf("app: %s server: %w", name, err)
	case <-ctx.Done():
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		slog.Warn("server drain incomplete", "server", name, "err", err)
		return srv.Close()
	}
	return nil
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
