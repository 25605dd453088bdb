// Package openai provides a TTS provider backed by the OpenAI speech API.
// It implements the tts.Provider interface.
//
// The speech endpoint operates in batch mode (one HTTP call per utterance
// rather than a streaming socket), so Synthesize issues a single request and
// re-chunks the response body into fixed-size PCM slices as it arrives.
package openai

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/voxgate/voxgate/pkg/fault"
	"github.com/voxgate/voxgate/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

const (
	defaultModel  = "gpt-4o-mini-tts"
	defaultVoice  = "alloy"
	defaultFormat = "pcm"

	// pcmChunkSize is the size of each PCM chunk emitted on the audio channel.
	pcmChunkSize = 4096

	audioChanBuf = 64
)

// knownVoices is the voice catalogue of the OpenAI speech API. The API has no
// listing endpoint, so ListVoices serves this fixed set.
var knownVoices = []string{
	"alloy", "ash", "ballad", "coral", "echo",
	"fable", "nova", "onyx", "sage", "shimmer",
}

// config holds optional configuration for the provider.
type config struct {
	baseURL string
	format  string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithResponseFormat sets the audio container ("pcm", "mp3", "opus", ...).
// Defaults to raw PCM, which is what the audio frame stream carries.
func WithResponseFormat(format string) Option {
	return func(c *config) {
		c.format = format
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// Provider implements tts.Provider using the OpenAI speech API.
type Provider struct {
	client oai.Client
	model  string
	format string
}

// New constructs a new OpenAI TTS Provider. An empty model selects
// gpt-4o-mini-tts.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	if model == "" {
		model = defaultModel
	}

	cfg := &config{format: defaultFormat}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Provider{
		client: oai.NewClient(reqOpts...),
		model:  model,
		format: cfg.format,
	}, nil
}

// Synthesize renders a single sentence via the speech endpoint and emits the
// response body as fixed-size chunks. Voice settings on the profile are
// ignored; the OpenAI voices are not tunable.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (<-chan []byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fault.New(fault.KindInputValidation, "openai.Synthesize", errors.New("text must not be empty"))
	}

	resp, err := p.client.Audio.Speech.New(ctx, oai.AudioSpeechNewParams{
		Model:          oai.SpeechModel(p.model),
		Input:          text,
		Voice:          oai.AudioSpeechNewParamsVoice(voiceFor(voice)),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormat(p.format),
	})
	if err != nil {
		return nil, classify("openai.Synthesize", err)
	}

	audioCh := make(chan []byte, audioChanBuf)

	go func() {
		defer close(audioCh)
		defer resp.Body.Close()
		emitChunks(ctx, resp.Body, audioCh)
	}()

	return audioCh, nil
}

// voiceFor maps a voice profile to an OpenAI voice name, defaulting to alloy.
func voiceFor(voice tts.VoiceProfile) string {
	if voice.ID == "" {
		return defaultVoice
	}
	return voice.ID
}

// emitChunks reads r in pcmChunkSize slices and forwards them until EOF, a
// read error, or ctx cancellation. The final chunk may be shorter.
func emitChunks(ctx context.Context, r io.Reader, out chan<- []byte) {
	for {
		buf := make([]byte, pcmChunkSize)
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			select {
			case out <- buf[:n]:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// ListVoices returns the fixed OpenAI voice catalogue.
func (p *Provider) ListVoices(_ context.Context) ([]tts.VoiceProfile, error) {
	profiles := make([]tts.VoiceProfile, 0, len(knownVoices))
	for _, name := range knownVoices {
		profiles = append(profiles, tts.VoiceProfile{
			ID:       name,
			Name:     name,
			Provider: "openai",
		})
	}
	return profiles, nil
}

// classify maps an OpenAI API error to a fault kind. Rejected credentials are
// permanent; everything else is treated as retriable upstream trouble.
func classify(op string, err error) error {
	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden {
			return fault.New(fault.KindProviderAuth, op, err)
		}
	}
	return fault.New(fault.KindProviderTransient, op, err)
}
