// Command voxgate is the conversational AI gateway server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/voxgate/voxgate/internal/app"
	"github.com/voxgate/voxgate/internal/config"
	"github.com/voxgate/voxgate/internal/observe"
	"github.com/voxgate/voxgate/pkg/provider/llm"
	"github.com/voxgate/voxgate/pkg/provider/llm/anyllm"
	llmmock "github.com/voxgate/voxgate/pkg/provider/llm/mock"
	oaillm "github.com/voxgate/voxgate/pkg/provider/llm/openai"
	"github.com/voxgate/voxgate/pkg/provider/tts"
	"github.com/voxgate/voxgate/pkg/provider/tts/elevenlabs"
	ttsmock "github.com/voxgate/voxgate/pkg/provider/tts/mock"
	oaitts "github.com/voxgate/voxgate/pkg/provider/tts/openai"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "voxgate: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.Gateway.LogLevel.Level(),
	}))
	slog.SetDefault(logger)

	slog.Info("voxgate starting",
		"listen_addr", cfg.Gateway.ListenAddr,
		"log_level", cfg.Gateway.LogLevel,
		"session_backend", cfg.Gateway.SessionBackend(),
		"llm_provider", cfg.LLM.Provider,
		"tts_provider", cfg.TTS.Provider,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "voxgate",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Application ───────────────────────────────────────────────────────────
	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// version is stamped by the release build; "dev" otherwise.
var version = "dev"

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives its config section and constructs the provider from
// the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	// openai gets the native client; the rest ride the any-llm multi-backend.
	reg.RegisterLLM("openai", func(cfg config.LLMConfig) (llm.Provider, error) {
		var opts []oaillm.Option
		if cfg.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(cfg.BaseURL))
		}
		if cfg.RequestTimeout > 0 {
			opts = append(opts, oaillm.WithTimeout(cfg.RequestTimeout))
		}
		return oaillm.New(cfg.APIKey, cfg.Model, opts...)
	})

	for _, name := range []string{"anthropic", "gemini", "deepseek", "mistral", "groq"} {
		providerName := name
		reg.RegisterLLM(providerName, func(cfg config.LLMConfig) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if cfg.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(cfg.APIKey))
			}
			if cfg.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(cfg.BaseURL))
			}
			return anyllm.New(providerName, cfg.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(cfg config.LLMConfig) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if cfg.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(cfg.BaseURL))
		}
		return anyllm.New("ollama", cfg.Model, opts...)
	})

	reg.RegisterLLM("mock", func(config.LLMConfig) (llm.Provider, error) {
		return &llmmock.Provider{}, nil
	})

	// ── TTS ───────────────────────────────────────────────────────────────────
	reg.RegisterTTS("elevenlabs", func(cfg config.TTSConfig) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if model := cfg.StreamingModel(); model != "" {
			opts = append(opts, elevenlabs.WithModel(model))
		}
		if cfg.OutputFormat != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(cfg.OutputFormat))
		}
		if cfg.Timeout > 0 {
			opts = append(opts, elevenlabs.WithTimeout(cfg.Timeout))
		}
		return elevenlabs.New(cfg.APIKey, opts...)
	})

	reg.RegisterTTS("openai", func(cfg config.TTSConfig) (tts.Provider, error) {
		var opts []oaitts.Option
		if cfg.OutputFormat != "" {
			opts = append(opts, oaitts.WithResponseFormat(cfg.OutputFormat))
		}
		if cfg.Timeout > 0 {
			opts = append(opts, oaitts.WithTimeout(cfg.Timeout))
		}
		return oaitts.New(cfg.APIKey, cfg.ModelID, opts...)
	})

	reg.RegisterTTS("mock", func(config.TTSConfig) (tts.Provider, error) {
		return &ttsmock.Provider{}, nil
	})
}

// buildProviders instantiates the configured providers from the registry.
// The LLM slot is mandatory; TTS is optional and missing config leaves the
// gateway in text-only mode.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	providers := &app.Providers{}

	llmProvider, err := reg.CreateLLM(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("llm provider %q: %w", cfg.LLM.Provider, err)
	}
	providers.LLM = llmProvider

	if cfg.TTS.Provider != "" {
		ttsProvider, err := reg.CreateTTS(cfg.TTS)
		if err != nil {
			return nil, fmt.Errorf("tts provider %q: %w", cfg.TTS.Provider, err)
		}
		providers.TTS = ttsProvider
	}

	return providers, nil
}
