// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., ElevenLabs or the
// OpenAI speech API) and presents a uniform per-utterance interface. The
// primary entry point is Synthesize, which accepts one complete sentence and
// returns a channel of raw PCM audio bytes as they become available. The
// response pipeline feeds Synthesize one sentence at a time from its bounded
// queue, so providers never see partial fragments and never need to split
// text themselves.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// VoiceSettings tunes how a voice renders speech. Providers that do not
// support a given knob ignore it.
type VoiceSettings struct {
	// Stability controls consistency between renditions, 0.0 to 1.0.
	// Lower values sound more expressive, higher values more monotone.
	Stability float64

	// SimilarityBoost controls adherence to the original voice, 0.0 to 1.0.
	SimilarityBoost float64

	// Style exaggerates the speaking style of the voice, 0.0 to 1.0.
	// Non-zero values add latency on most backends.
	Style float64

	// UseSpeakerBoost enables additional speaker similarity processing.
	UseSpeakerBoost bool
}

// VoiceProfile identifies a synthesisable voice on a specific provider.
type VoiceProfile struct {
	// ID is the provider-assigned voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider names the backend this profile belongs to, e.g. "elevenlabs".
	Provider string

	// Settings overrides the provider's default rendering settings for this
	// voice. Nil means use the provider defaults.
	Settings *VoiceSettings

	// Metadata carries provider-specific labels (accent, age, category, ...).
	Metadata map[string]string
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders one complete sentence as speech and returns a channel
	// that emits raw PCM audio byte slices as they are synthesised.
	//
	// The returned channel is closed by the implementation when the sentence
	// has been fully synthesised, when ctx is cancelled, or when the backend
	// fails mid-stream. The caller must drain the channel to avoid blocking
	// the provider's internal goroutines.
	//
	// Returns a non-nil error only if synthesis cannot be started (bad input,
	// unreachable backend, rejected credentials). Errors after the first byte
	// are signalled by closing the channel early; callers should check
	// ctx.Err() to distinguish cancellation from provider failure.
	Synthesize(ctx context.Context, text string, voice VoiceProfile) (<-chan []byte, error)

	// ListVoices returns all voice profiles available from this provider. The
	// list reflects the provider's current catalogue and may change between
	// calls if the underlying service adds or removes voices.
	ListVoices(ctx context.Context) ([]VoiceProfile, error)
}
