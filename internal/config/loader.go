package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "gemini", "deepseek", "mistral", "groq", "ollama", "mock"},
	"tts": {"elevenlabs", "openai", "mock"},
}

// keyedProviders lists the hosted providers that cannot work without an API
// key. Local and mock providers are absent on purpose.
var keyedProviders = map[string][]string{
	"llm": {"openai", "anthropic", "gemini", "deepseek", "mistral", "groq"},
	"tts": {"elevenlabs", "openai"},
}

// Load assembles a [Config] from the process environment and validates it.
// It is a convenience wrapper around [LoadFromEnv] with [os.Getenv].
func Load() (*Config, error) {
	return LoadFromEnv(os.Getenv)
}

// LoadFromEnv assembles a [Config] using getenv for variable lookup.
// Useful in tests where the environment is a map. Malformed values are
// collected and returned as a single joined error.
func LoadFromEnv(getenv func(string) string) (*Config, error) {
	p := &envParser{getenv: getenv}

	cfg := &Config{
		LLM: LLMConfig{
			Provider:                   p.str("LLM_PROVIDER", "mock"),
			APIKey:                     p.str("LLM_API_KEY", ""),
			BaseURL:                    p.str("LLM_BASE_URL", ""),
			Model:                      p.str("LLM_MODEL", ""),
			Temperature:                p.float("LLM_TEMPERATURE", 0),
			MaxTokens:                  p.integer("LLM_MAX_TOKENS", 0),
			SummarizationTriggerTokens: p.integer("LLM_SUMMARIZATION_TRIGGER_TOKENS", 0),
			SummarizationMaxTokens:     p.integer("LLM_SUMMARIZATION_MAX_TOKENS", 0),
			SummarizationSummaryTokens: p.integer("LLM_SUMMARIZATION_SUMMARY_TOKENS", 0),
			RequestTimeout:             p.duration("LLM_REQUEST_TIMEOUT", DefaultLLMTimeout),
			MaxRetries:                 p.integer("LLM_MAX_RETRIES", defaultLLMRetries),
		},
		TTS: TTSConfig{
			Provider:         p.str("TTS_PROVIDER", ""),
			APIKey:           p.str("TTS_API_KEY", ""),
			ModelID:          p.str("TTS_MODEL_ID", ""),
			StreamingModelID: p.str("TTS_STREAMING_MODEL_ID", ""),
			OutputFormat:     p.str("TTS_OUTPUT_FORMAT", ""),
			VoiceID:          p.str("TTS_VOICE_ID", ""),
			Stability:        p.float("TTS_STABILITY", 0),
			SimilarityBoost:  p.float("TTS_SIMILARITY_BOOST", 0),
			Style:            p.float("TTS_STYLE", 0),
			UseSpeakerBoost:  p.boolean("TTS_USE_SPEAKER_BOOST", false),
			Timeout:          p.duration("TTS_TIMEOUT", DefaultTTSTimeout),
		},
		DB: DBConfig{
			Host:     p.str("DB_HOST", ""),
			Port:     p.integer("DB_PORT", defaultDBPort),
			User:     p.str("DB_USER", ""),
			Password: p.str("DB_PASSWORD", ""),
			Name:     p.str("DB_NAME", ""),
		},
		Gateway: GatewayConfig{
			ListenAddr:         p.str("GATEWAY_LISTEN_ADDR", DefaultListenAddr),
			MetricsAddr:        p.str("GATEWAY_METRICS_ADDR", ""),
			LogLevel:           LogLevel(p.str("GATEWAY_LOG_LEVEL", string(LogInfo))),
			UseSQLite:          p.boolean("GATEWAY_USE_SQLITE", false),
			SQLiteFile:         p.str("GATEWAY_SQLITE_FILE", "voxgate-sessions.db"),
			RedisAddr:          p.str("GATEWAY_REDIS_ADDR", ""),
			RedisEmbedded:      p.boolean("GATEWAY_REDIS_EMBEDDED", false),
			RedisFile:          p.str("GATEWAY_REDIS_FILE", ""),
			ChannelsConfigFile: p.str("GATEWAY_CHANNELS_CONFIG_FILE", ""),
			PersonaDir:         p.str("GATEWAY_PERSONA_DIR", ""),
			ToolServers:        p.str("GATEWAY_TOOL_SERVERS", ""),
			MediaURL:           p.str("GATEWAY_MEDIA_URL", ""),
			MediaAPIKey:        p.str("GATEWAY_MEDIA_API_KEY", ""),
			MediaAPISecret:     p.str("GATEWAY_MEDIA_API_SECRET", ""),
		},
	}

	if err := errors.Join(p.errs...); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Gateway
	if cfg.Gateway.LogLevel != "" && !cfg.Gateway.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("GATEWAY_LOG_LEVEL %q is invalid; valid values: debug, info, warn, error", cfg.Gateway.LogLevel))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("llm", cfg.LLM.Provider)
	validateProviderName("tts", cfg.TTS.Provider)

	// LLM
	if cfg.LLM.Provider != "" && cfg.LLM.Provider != "mock" && cfg.LLM.Model == "" {
		errs = append(errs, fmt.Errorf("LLM_MODEL is required when LLM_PROVIDER is %q", cfg.LLM.Provider))
	}
	if requiresAPIKey("llm", cfg.LLM.Provider) && cfg.LLM.APIKey == "" {
		errs = append(errs, fmt.Errorf("LLM_API_KEY is required when LLM_PROVIDER is %q", cfg.LLM.Provider))
	}
	if cfg.LLM.Temperature < 0 || cfg.LLM.Temperature > 2 {
		errs = append(errs, fmt.Errorf("LLM_TEMPERATURE %.2f is out of range [0, 2]", cfg.LLM.Temperature))
	}
	if cfg.LLM.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("LLM_MAX_TOKENS must not be negative, got %d", cfg.LLM.MaxTokens))
	}
	if cfg.LLM.SummarizationTriggerTokens < 0 || cfg.LLM.SummarizationMaxTokens < 0 || cfg.LLM.SummarizationSummaryTokens < 0 {
		errs = append(errs, errors.New("LLM_SUMMARIZATION_* token counts must not be negative"))
	}
	if cfg.LLM.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("LLM_MAX_RETRIES must not be negative, got %d", cfg.LLM.MaxRetries))
	}

	// TTS
	if requiresAPIKey("tts", cfg.TTS.Provider) && cfg.TTS.APIKey == "" {
		errs = append(errs, fmt.Errorf("TTS_API_KEY is required when TTS_PROVIDER is %q", cfg.TTS.Provider))
	}
	for _, v := range []struct {
		name  string
		value float64
	}{
		{"TTS_STABILITY", cfg.TTS.Stability},
		{"TTS_SIMILARITY_BOOST", cfg.TTS.SimilarityBoost},
		{"TTS_STYLE", cfg.TTS.Style},
	} {
		if v.value < 0 || v.value > 1 {
			errs = append(errs, fmt.Errorf("%s %.2f is out of range [0, 1]", v.name, v.value))
		}
	}

	// DB
	if cfg.DB.Host != "" {
		if cfg.DB.User == "" {
			errs = append(errs, errors.New("DB_USER is required when DB_HOST is set"))
		}
		if cfg.DB.Name == "" {
			errs = append(errs, errors.New("DB_NAME is required when DB_HOST is set"))
		}
		if cfg.DB.Port < 1 || cfg.DB.Port > 65535 {
			errs = append(errs, fmt.Errorf("DB_PORT %d is out of range [1, 65535]", cfg.DB.Port))
		}
	}

	// Session backend cross-checks
	if cfg.Gateway.UseSQLite && (cfg.Gateway.RedisEmbedded || cfg.Gateway.RedisAddr != "") {
		slog.Warn("both SQLite and Redis session backends are configured; SQLite wins",
			"backend", cfg.Gateway.SessionBackend(),
		)
	}
	if cfg.Gateway.RedisEmbedded && cfg.Gateway.RedisAddr != "" {
		slog.Warn("GATEWAY_REDIS_EMBEDDED overrides GATEWAY_REDIS_ADDR",
			"redis_addr", cfg.Gateway.RedisAddr,
		)
	}

	// Mock LLM availability warning
	if cfg.LLM.Provider == "mock" {
		slog.Warn("LLM_PROVIDER is mock; completions will be canned responses")
	}

	// Media room availability
	if cfg.Gateway.MediaURL != "" && cfg.Gateway.MediaAPIKey == "" && cfg.Gateway.ChannelsConfigFile == "" {
		slog.Warn("GATEWAY_MEDIA_URL is set but no signing keys are configured; room tokens cannot be minted")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}

// requiresAPIKey reports whether the named provider is a hosted service that
// cannot authenticate without a key.
func requiresAPIKey(kind, name string) bool {
	return slices.Contains(keyedProviders[kind], name)
}

// envParser reads typed values out of the environment, collecting parse
// failures instead of stopping at the first.
type envParser struct {
	getenv func(string) string
	errs   []error
}

func (p *envParser) str(name, def string) string {
	if v := strings.TrimSpace(p.getenv(name)); v != "" {
		return v
	}
	return def
}

func (p *envParser) integer(name string, def int) int {
	v := strings.TrimSpace(p.getenv(name))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %q is not an integer", name, v))
		return def
	}
	return n
}

func (p *envParser) float(name string, def float64) float64 {
	v := strings.TrimSpace(p.getenv(name))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %q is not a number", name, v))
		return def
	}
	return f
}

func (p *envParser) boolean(name string, def bool) bool {
	v := strings.TrimSpace(p.getenv(name))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %q is not a boolean", name, v))
		return def
	}
	return b
}

// duration accepts either a Go duration string ("45s", "2m") or a bare
// number of seconds ("45"), matching how deployments commonly write both.
func (p *envParser) duration(name string, def time.Duration) time.Duration {
	v := strings.TrimSpace(p.getenv(name))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		if d < 0 {
			p.errs = append(p.errs, fmt.Errorf("%s: %q must not be negative", name, v))
			return def
		}
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			p.errs = append(p.errs, fmt.Errorf("%s: %q must not be negative", name, v))
			return def
		}
		return time.Duration(secs) * time.Second
	}
	p.errs = append(p.errs, fmt.Errorf("%s: %q is not a duration", name, v))
	return def
}
