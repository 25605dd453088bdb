// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to feed controlled audio chunks to consumers and to verify
// which sentences and voice profiles reach the TTS backend.
//
// Example:
//
//	p := &mock.Provider{
//	    SynthesizeChunks: [][]byte{[]byte("audio1"), []byte("audio2")},
//	    ListVoicesResult: []tts.VoiceProfile{{ID: "v1", Name: "Alice"}},
//	}
//	ch, _ := p.Synthesize(ctx, "Hello there.", voice)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/voxgate/voxgate/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Text is the sentence passed to Synthesize.
	Text string
	// Voice is the VoiceProfile passed to Synthesize.
	Voice tts.VoiceProfile
}

// Provider is a configurable mock implementation of tts.Provider.
//
// By default each Synthesize call emits a single chunk containing the UTF-8
// bytes of the input sentence, which lets tests match audio back to the
// sentence that produced it. Set SynthesizeChunks to emit fixed chunks
// instead, SynthesizeErr to fail the call synchronously, and SynthesizeDelay
// to slow emission down for back-pressure and interruption tests.
//
// The zero value is ready to use. All fields must be set before the provider
// is shared between goroutines.
type Provider struct {
	mu sync.Mutex

	// SynthesizeChunks, when non-nil, is emitted on every Synthesize call in
	// place of the default text-derived chunk.
	SynthesizeChunks [][]byte

	// SynthesizeErr, when non-nil, is returned synchronously by Synthesize.
	SynthesizeErr error

	// SynthesizeDelay is waited before each emitted chunk. The wait aborts on
	// ctx cancellation, leaving the channel closed early.
	SynthesizeDelay time.Duration

	// ListVoicesResult is returned by ListVoices.
	ListVoicesResult []tts.VoiceProfile

	// ListVoicesErr, when non-nil, is returned by ListVoices.
	ListVoicesErr error

	// SynthesizeCalls records every Synthesize invocation in order.
	SynthesizeCalls []SynthesizeCall

	// ListVoicesCalls counts ListVoices invocations.
	ListVoicesCalls int
}

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (<-chan []byte, error) {
	p.mu.Lock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Text: text, Voice: voice})
	err := p.SynthesizeErr
	chunks := p.SynthesizeChunks
	delay := p.SynthesizeDelay
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if chunks == nil {
		chunks = [][]byte{[]byte(text)}
	}

	out := make(chan []byte, len(chunks))
	go func() {
		defer close(out)
		for _, c := range chunks {
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return
				}
			}
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// ListVoices implements tts.Provider.
func (p *Provider) ListVoices(_ context.Context) ([]tts.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ListVoicesCalls++
	if p.ListVoicesErr != nil {
		return nil, p.ListVoicesErr
	}
	return p.ListVoicesResult, nil
}

// Calls returns a snapshot of the recorded Synthesize invocations.
func (p *Provider) Calls() []SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SynthesizeCall, len(p.SynthesizeCalls))
	copy(out, p.SynthesizeCalls)
	return out
}

// Reset clears all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = nil
	p.ListVoicesCalls = 0
}
