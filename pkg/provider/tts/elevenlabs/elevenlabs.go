// Package elevenlabs provides an ElevenLabs-backed TTS provider using the
// ElevenLabs streaming WebSocket API. It implements the tts.Provider interface.
//
// Each Synthesize call opens a dedicated stream-input connection, sends the
// sentence followed by an end-of-input marker, and emits decoded PCM chunks
// until the server signals the final frame. The response pipeline calls
// Synthesize once per sentence, so connections are short-lived by design.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/voxgate/voxgate/pkg/fault"
	"github.com/voxgate/voxgate/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

const (
	wsEndpointFmt  = "wss://api.elevenlabs.io/v1/text-to-speech/%s/stream-input"
	voicesEndpoint = "https://api.elevenlabs.io/v1/voices"

	defaultModel     = "eleven_flash_v2_5"
	defaultOutputFmt = "pcm_16000"
	defaultTimeout   = 30 * time.Second

	audioChanBuf = 64
)

// defaultSettings is used when neither the voice profile nor the provider
// carries explicit settings.
var defaultSettings = tts.VoiceSettings{Stability: 0.5, SimilarityBoost: 0.75}

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithOutputFormat sets the audio output format (e.g., "pcm_16000", "pcm_24000").
func WithOutputFormat(format string) Option {
	return func(p *Provider) {
		p.outputFormat = format
	}
}

// WithDefaultSettings sets the voice settings applied when a voice profile
// does not carry its own.
func WithDefaultSettings(vs tts.VoiceSettings) Option {
	return func(p *Provider) {
		p.defaults = vs
	}
}

// WithTimeout sets the HTTP timeout for catalogue requests. It does not bound
// synthesis; callers bound that through ctx.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// Provider implements tts.Provider backed by the ElevenLabs streaming API.
// It is safe for concurrent use; each Synthesize call owns its connection.
type Provider struct {
	apiKey       string
	model        string
	outputFormat string
	defaults     tts.VoiceSettings
	httpClient   *http.Client
}

// New creates a new ElevenLabs Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
		defaults:     defaultSettings,
		httpClient:   &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ─── WebSocket message types ───

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style,omitempty"`
	UseSpeakerBoost bool    `json:"use_speaker_boost,omitempty"`
}

// boiMessage is the initial "begin of input" handshake. ElevenLabs requires
// the first text value to be a single space.
type boiMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key"`
}

// textMessage is the JSON payload for the sentence itself. An empty Text
// marks end of input and asks the server to flush remaining audio.
type textMessage struct {
	Text                 string `json:"text"`
	TryTriggerGeneration bool   `json:"try_trigger_generation,omitempty"`
}

// audioResponse is a message received from ElevenLabs over the WebSocket.
type audioResponse struct {
	Audio   string `json:"audio"` // base64-encoded PCM
	IsFinal bool   `json:"isFinal"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// ─── Synthesize ───

// Synthesize renders a single sentence over a fresh stream-input connection.
// The returned channel emits raw PCM chunks and is closed when the server
// reports the final frame, on ctx cancellation, or on a mid-stream failure.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (<-chan []byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fault.New(fault.KindInputValidation, "elevenlabs.Synthesize", errors.New("text must not be empty"))
	}
	if voice.ID == "" {
		return nil, fault.New(fault.KindInputValidation, "elevenlabs.Synthesize", errors.New("voice.ID must not be empty"))
	}

	conn, resp, err := websocket.Dial(ctx, buildVoiceURL(voice.ID, p.model, p.outputFormat), nil)
	if err != nil {
		return nil, p.classifyDial(resp, err)
	}

	// BOI authenticates the stream and pins the voice settings for its lifetime.
	boi := boiMessage{
		Text:          " ",
		VoiceSettings: p.settingsFor(voice),
		XiAPIKey:      p.apiKey,
	}
	if err := writeJSON(ctx, conn, boi); err != nil {
		conn.Close(websocket.StatusInternalError, "handshake failed")
		return nil, fault.Errorf(fault.KindProviderTransient, "elevenlabs.Synthesize", "send BOI: %w", err)
	}

	// ElevenLabs buffers input until it sees a flush or end-of-input marker,
	// so the sentence and the empty EOS message go out back to back.
	if err := writeJSON(ctx, conn, textMessage{Text: text + " ", TryTriggerGeneration: true}); err != nil {
		conn.Close(websocket.StatusInternalError, "write failed")
		return nil, fault.Errorf(fault.KindProviderTransient, "elevenlabs.Synthesize", "send text: %w", err)
	}
	if err := writeJSON(ctx, conn, textMessage{Text: ""}); err != nil {
		conn.Close(websocket.StatusInternalError, "write failed")
		return nil, fault.Errorf(fault.KindProviderTransient, "elevenlabs.Synthesize", "send EOS: %w", err)
	}

	audioCh := make(chan []byte, audioChanBuf)

	go func() {
		defer close(audioCh)
		defer conn.Close(websocket.StatusNormalClosure, "done")

		for {
			_, msg, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var ar audioResponse
			if err := json.Unmarshal(msg, &ar); err != nil {
				continue
			}
			if ar.Error != "" {
				return
			}
			if ar.Audio != "" {
				pcm, err := base64.StdEncoding.DecodeString(ar.Audio)
				if err == nil && len(pcm) > 0 {
					select {
					case audioCh <- pcm:
					case <-ctx.Done():
						return
					}
				}
			}
			if ar.IsFinal {
				return
			}
		}
	}()

	return audioCh, nil
}

// settingsFor resolves the effective voice settings: the profile's own
// settings when present, the provider defaults otherwise.
func (p *Provider) settingsFor(voice tts.VoiceProfile) *voiceSettings {
	vs := p.defaults
	if voice.Settings != nil {
		vs = *voice.Settings
	}
	return &voiceSettings{
		Stability:       vs.Stability,
		SimilarityBoost: vs.SimilarityBoost,
		Style:           vs.Style,
		UseSpeakerBoost: vs.UseSpeakerBoost,
	}
}

// classifyDial maps a failed WebSocket dial to a fault kind. A 401/403
// handshake response means the key was rejected; everything else is transient.
func (p *Provider) classifyDial(resp *http.Response, err error) error {
	if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
		return fault.Errorf(fault.KindProviderAuth, "elevenlabs.Synthesize", "dial: status %d: %w", resp.StatusCode, err)
	}
	return fault.Errorf(fault.KindProviderTransient, "elevenlabs.Synthesize", "dial: %w", err)
}

// writeJSON marshals v and writes it as a single text frame.
func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// ─── ListVoices ───

// voicesResponse is the top-level response from GET /v1/voices.
type voicesResponse struct {
	Voices []elevenLabsVoice `json:"voices"`
}

// elevenLabsVoice is a single voice entry from the ElevenLabs API.
type elevenLabsVoice struct {
	VoiceID  string            `json:"voice_id"`
	Name     string            `json:"name"`
	Category string            `json:"category"`
	Labels   map[string]string `json:"labels"`
}

// ListVoices returns all voices available from ElevenLabs for the configured
// API key. The readiness probe uses this as a liveness check against the
// upstream service.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, voicesEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fault.Errorf(fault.KindProviderTransient, "elevenlabs.ListVoices", "%w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fault.Errorf(fault.KindProviderAuth, "elevenlabs.ListVoices", "status %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fault.Errorf(fault.KindProviderTransient, "elevenlabs.ListVoices", "unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices read: %w", err)
	}
	profiles, err := parseVoicesResponse(body)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices decode: %w", err)
	}
	return profiles, nil
}

// ─── helpers ───

// buildVoiceURL constructs the stream-input WebSocket URL for a voice. The
// model and output format travel as query parameters.
func buildVoiceURL(voiceID, model, outputFormat string) string {
	q := url.Values{}
	q.Set("model_id", model)
	q.Set("output_format", outputFormat)
	return fmt.Sprintf(wsEndpointFmt, voiceID) + "?" + q.Encode()
}

// parseVoicesResponse parses a raw JSON byte slice (matching the ElevenLabs
// /v1/voices response) into a slice of VoiceProfile values.
func parseVoicesResponse(data []byte) ([]tts.VoiceProfile, error) {
	var vr voicesResponse
	if err := json.Unmarshal(data, &vr); err != nil {
		return nil, err
	}
	profiles := make([]tts.VoiceProfile, 0, len(vr.Voices))
	for _, v := range vr.Voices {
		meta := make(map[string]string, len(v.Labels)+1)
		for k, val := range v.Labels {
			meta[k] = val
		}
		if v.Category != "" {
			meta["category"] = v.Category
		}
		profiles = append(profiles, tts.VoiceProfile{
			ID:       v.VoiceID,
			Name:     v.Name,
			Provider: "elevenlabs",
			Metadata: meta,
		})
	}
	return profiles, nil
}
