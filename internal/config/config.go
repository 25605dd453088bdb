// Package config provides the configuration schema, environment loader, and
// provider registry for the voxgate server.
package config

import (
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"time"
)

// Defaults applied by [Load] when the corresponding variable is unset.
const (
	DefaultListenAddr = ":8080"
	DefaultLLMTimeout = 30 * time.Second
	DefaultTTSTimeout = 15 * time.Second

	defaultLLMRetries = 2
	defaultDBPort     = 5432
)

// LogLevel controls log verbosity for the voxgate server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l to the slog level it names. Unrecognised levels map to Info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// SessionBackend identifies which session store implementation the gateway
// runs. Derived from the GATEWAY_* selection flags, never set directly.
type SessionBackend string

const (
	// BackendMemory keeps sessions in process memory. The default.
	BackendMemory SessionBackend = "memory"

	// BackendSQLite persists sessions to a local SQLite file.
	BackendSQLite SessionBackend = "sqlite"

	// BackendRedis stores sessions in an external Redis instance.
	BackendRedis SessionBackend = "redis"

	// BackendEmbedded runs an in-process Redis-compatible store with an
	// optional snapshot file.
	BackendEmbedded SessionBackend = "embedded"
)

// Config is the root configuration for voxgate, assembled from environment
// variables by [Load]. Variables outside the recognised set are ignored.
type Config struct {
	LLM     LLMConfig
	TTS     TTSConfig
	DB      DBConfig
	Gateway GatewayConfig
}

// LLMConfig selects and tunes the completion backend.
type LLMConfig struct {
	// Provider selects the completion backend: openai, anthropic, gemini,
	// ollama, or mock. From LLM_PROVIDER; defaults to mock.
	Provider string

	// APIKey authenticates against the provider API. From LLM_API_KEY.
	// Required for hosted providers, unused by ollama and mock.
	APIKey string

	// BaseURL overrides the provider's default API endpoint. From
	// LLM_BASE_URL. For ollama this is the local server address.
	BaseURL string

	// Model is the completion model id (e.g., "gpt-4o-mini"). From LLM_MODEL.
	Model string

	// Temperature is the default sampling temperature in [0, 2]. Zero keeps
	// the orchestrator default. From LLM_TEMPERATURE.
	Temperature float64

	// MaxTokens caps response generation. Zero keeps the orchestrator
	// default. From LLM_MAX_TOKENS.
	MaxTokens int

	// SummarizationTriggerTokens is the thread context size above which a
	// background summarization pass runs. Zero keeps the checkpoint manager
	// default. From LLM_SUMMARIZATION_TRIGGER_TOKENS.
	SummarizationTriggerTokens int

	// SummarizationMaxTokens bounds generation of the summarization request
	// itself. From LLM_SUMMARIZATION_MAX_TOKENS.
	SummarizationMaxTokens int

	// SummarizationSummaryTokens is the soft length target the summarizer is
	// asked to keep the rolling summary under. From
	// LLM_SUMMARIZATION_SUMMARY_TOKENS.
	SummarizationSummaryTokens int

	// RequestTimeout bounds a single completion request. From
	// LLM_REQUEST_TIMEOUT; accepts a Go duration ("45s") or plain seconds.
	RequestTimeout time.Duration

	// MaxRetries is the retry budget for transient provider failures.
	// From LLM_MAX_RETRIES.
	MaxRetries int
}

// TTSConfig selects and tunes the speech synthesis backend. An empty Provider
// disables audio output entirely; text turns are unaffected.
type TTSConfig struct {
	// Provider selects the synthesis backend: elevenlabs, openai, or mock.
	// From TTS_PROVIDER; empty means no TTS.
	Provider string

	// APIKey authenticates against the provider API. From TTS_API_KEY.
	APIKey string

	// ModelID is the synthesis model for one-shot requests. From TTS_MODEL_ID.
	ModelID string

	// StreamingModelID is the model used on streaming connections. Falls back
	// to ModelID when empty. From TTS_STREAMING_MODEL_ID.
	StreamingModelID string

	// OutputFormat names the audio container/encoding (e.g., "pcm_16000").
	// From TTS_OUTPUT_FORMAT; empty keeps the provider default.
	OutputFormat string

	// VoiceID is the default voice when neither the persona nor the request
	// picks one. From TTS_VOICE_ID.
	VoiceID string

	// Stability, SimilarityBoost, and Style tune voice rendering in [0, 1].
	// From TTS_STABILITY, TTS_SIMILARITY_BOOST, and TTS_STYLE.
	Stability       float64
	SimilarityBoost float64
	Style           float64

	// UseSpeakerBoost enables additional speaker similarity processing.
	// From TTS_USE_SPEAKER_BOOST.
	UseSpeakerBoost bool

	// Timeout bounds synthesis of a single sentence. From TTS_TIMEOUT;
	// accepts a Go duration or plain seconds. Defaults to 15 seconds.
	Timeout time.Duration
}

// StreamingModel returns the model to use on streaming connections,
// falling back to the one-shot model id.
func (t TTSConfig) StreamingModel() string {
	if t.StreamingModelID != "" {
		return t.StreamingModelID
	}
	return t.ModelID
}

// DBConfig holds the PostgreSQL connection settings for the remote
// checkpoint store. When Host is empty the in-memory store is used.
type DBConfig struct {
	// Host is the database server hostname. From DB_HOST.
	Host string

	// Port is the database server port. From DB_PORT; defaults to 5432.
	Port int

	// User is the database role to connect as. From DB_USER.
	User string

	// Password authenticates User. From DB_PASSWORD.
	Password string

	// Name is the database to open. From DB_NAME.
	Name string
}

// Enabled reports whether a relational checkpoint backend is configured.
func (d DBConfig) Enabled() bool {
	return d.Host != ""
}

// DSN assembles a postgres:// connection URL from the parts. The password is
// URL-escaped, so it may contain any byte.
func (d DBConfig) DSN() string {
	port := d.Port
	if port == 0 {
		port = defaultDBPort
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(d.Host, strconv.Itoa(port)),
		Path:   "/" + d.Name,
	}
	if d.User != "" {
		if d.Password != "" {
			u.User = url.UserPassword(d.User, d.Password)
		} else {
			u.User = url.User(d.User)
		}
	}
	return u.String()
}

// GatewayConfig holds the serving surfaces and backend selection flags.
type GatewayConfig struct {
	// ListenAddr is the TCP address the HTTP server listens on.
	// From GATEWAY_LISTEN_ADDR; defaults to ":8080".
	ListenAddr string

	// MetricsAddr is the address the Prometheus /metrics endpoint listens
	// on. From GATEWAY_METRICS_ADDR; empty disables the metrics server.
	MetricsAddr string

	// LogLevel controls verbosity. From GATEWAY_LOG_LEVEL; defaults to info.
	LogLevel LogLevel

	// UseSQLite selects the SQLite session backend. From GATEWAY_USE_SQLITE.
	UseSQLite bool

	// SQLiteFile is the SQLite database path. From GATEWAY_SQLITE_FILE;
	// defaults to "voxgate-sessions.db" when UseSQLite is set.
	SQLiteFile string

	// RedisAddr points at an external Redis for sessions ("host:port").
	// From GATEWAY_REDIS_ADDR.
	RedisAddr string

	// RedisEmbedded runs an in-process Redis-compatible session store
	// instead of dialing RedisAddr. From GATEWAY_REDIS_EMBEDDED.
	RedisEmbedded bool

	// RedisFile is the snapshot path for the embedded store. From
	// GATEWAY_REDIS_FILE; empty keeps the embedded store memory-only.
	RedisFile string

	// ChannelsConfigFile is the path to the channels credentials JSON.
	// From GATEWAY_CHANNELS_CONFIG_FILE; empty disables outbound channel
	// delivery and webhook signature verification.
	ChannelsConfigFile string

	// PersonaDir is the directory of persona YAML files. From
	// GATEWAY_PERSONA_DIR; empty means only the built-in default persona.
	PersonaDir string

	// ToolServers is the raw GATEWAY_TOOL_SERVERS value: a comma-separated
	// list of name=command or name=url entries parsed by the tools package.
	ToolServers string

	// MediaURL is the media server URL handed to clients alongside minted
	// room tokens. From GATEWAY_MEDIA_URL; empty disables the token endpoint.
	MediaURL string

	// MediaAPIKey and MediaAPISecret are the fallback signing key pair for
	// room tokens, used for tenants without a mediaroom entry in the
	// channels file. From GATEWAY_MEDIA_API_KEY and GATEWAY_MEDIA_API_SECRET.
	MediaAPIKey    string
	MediaAPISecret string
}

// SessionBackend returns the session store implementation the flags select.
// SQLite wins over both Redis modes; the embedded store wins over a remote
// address.
func (g GatewayConfig) SessionBackend() SessionBackend {
	switch {
	case g.UseSQLite:
		return BackendSQLite
	case g.RedisEmbedded:
		return BackendEmbedded
	case g.RedisAddr != "":
		return BackendRedis
	}
	return BackendMemory
}
