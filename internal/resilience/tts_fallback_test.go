package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/voxgate/voxgate/pkg/provider/tts"
	ttsmock "github.com/voxgate/voxgate/pkg/provider/tts/mock"
)

func drainAudio(ch <-chan []byte) []byte {
	var out []byte
	for b := range ch {
		out = append(out, b...)
	}
	return out
}

func TestTTSWithFallback_SynthesizePrimarySuccess(t *testing.T) {
	primary := &ttsmock.Provider{}
	secondary := &ttsmock.Provider{}

	f := NewTTSWithFallback(primary, "primary", FallbackConfig{})
	f.AddFallback("secondary", secondary)

	ch, err := f.Synthesize(context.Background(), "Hello there.", tts.VoiceProfile{ID: "v1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := string(drainAudio(ch)); got != "Hello there." {
		t.Errorf("audio = %q, want the sentence bytes", got)
	}
	if len(secondary.Calls()) != 0 {
		t.Errorf("secondary called %d times, want 0", len(secondary.Calls()))
	}
}

func TestTTSWithFallback_SynthesizeFailsOver(t *testing.T) {
	primary := &ttsmock.Provider{SynthesizeErr: errTest}
	secondary := &ttsmock.Provider{
		SynthesizeChunks: [][]byte{[]byte("backup audio")},
	}

	f := NewTTSWithFallback(primary, "primary", FallbackConfig{})
	f.AddFallback("secondary", secondary)

	ch, err := f.Synthesize(context.Background(), "Hello there.", tts.VoiceProfile{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := string(drainAudio(ch)); got != "backup audio" {
		t.Errorf("audio = %q, want backup audio", got)
	}
	if len(primary.Calls()) != 1 {
		t.Errorf("primary called %d times, want 1", len(primary.Calls()))
	}
	// The failed sentence is retried in full on the fallback.
	calls := secondary.Calls()
	if len(calls) != 1 || calls[0].Text != "Hello there." {
		t.Errorf("secondary calls = %+v, want the full sentence", calls)
	}
}

func TestTTSWithFallback_AllFail(t *testing.T) {
	primary := &ttsmock.Provider{SynthesizeErr: errTest}
	secondary := &ttsmock.Provider{SynthesizeErr: errTest}

	f := NewTTSWithFallback(primary, "primary", FallbackConfig{})
	f.AddFallback("secondary", secondary)

	_, err := f.Synthesize(context.Background(), "Hello.", tts.VoiceProfile{})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestTTSWithFallback_OpenBreakerSkipsPrimary(t *testing.T) {
	primary := &ttsmock.Provider{SynthesizeErr: errTest}
	secondary := &ttsmock.Provider{}

	f := NewTTSWithFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2},
	})
	f.AddFallback("secondary", secondary)

	// Two failures open the primary's breaker.
	for i := 0; i < 2; i++ {
		ch, err := f.Synthesize(context.Background(), "Hi.", tts.VoiceProfile{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		drainAudio(ch)
	}

	primaryCalls := len(primary.Calls())
	ch, err := f.Synthesize(context.Background(), "Hi again.", tts.VoiceProfile{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	drainAudio(ch)

	if len(primary.Calls()) != primaryCalls {
		t.Error("primary should be skipped while its breaker is open")
	}
}

func TestTTSWithFallback_ListVoicesFailsOver(t *testing.T) {
	primary := &ttsmock.Provider{ListVoicesErr: errTest}
	secondary := &ttsmock.Provider{
		ListVoicesResult: []tts.VoiceProfile{{ID: "v2", Name: "Backup"}},
	}

	f := NewTTSWithFallback(primary, "primary", FallbackConfig{})
	f.AddFallback("secondary", secondary)

	voices, err := f.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(voices) != 1 || voices[0].ID != "v2" {
		t.Errorf("voices = %+v, want the fallback catalogue", voices)
	}
}
