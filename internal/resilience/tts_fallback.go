package resilience

import (
	"context"

	"github.com/voxgate/voxgate/pkg/provider/tts"
)

// TTSWithFallback implements [tts.Provider] with automatic failover across
// multiple TTS backends. Each backend has its own circuit breaker. Failover
// is per sentence: a sentence that fails on the primary is retried in full on
// the next healthy fallback, so the caller never receives audio stitched
// from two voices mid-sentence.
type TTSWithFallback struct {
	group *FallbackGroup[tts.Provider]
}

var _ tts.Provider = (*TTSWithFallback)(nil)

// NewTTSWithFallback creates a [TTSWithFallback] with primary as the
// preferred backend.
func NewTTSWithFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSWithFallback {
	return &TTSWithFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional TTS provider as a fallback.
func (f *TTSWithFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// Synthesize renders one sentence on the first healthy provider. Only the
// initial call is covered by failover; errors after the first audio byte are
// signalled by the provider closing the channel early.
func (f *TTSWithFallback) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (<-chan []byte, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) (<-chan []byte, error) {
		return p.Synthesize(ctx, text, voice)
	})
}

// ListVoices returns available voices from the first healthy provider.
func (f *TTSWithFallback) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) ([]tts.VoiceProfile, error) {
		return p.ListVoices(ctx)
	})
}
