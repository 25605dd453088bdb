package pipeline

import "testing"

func TestStripForSpeech(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain text untouched", "Hello, world.", "Hello, world."},
		{"cjk untouched", "こんにちは。", "こんにちは。"},
		{"accented punctuation untouched", "¿Qué tal?", "¿Qué tal?"},
		{"emoticon removed", "Nice 😀", "Nice"},
		{"pictograph removed", "Check 🎉 this", "Check  this"},
		{"transport removed", "🚀 launch", "launch"},
		{"supplemental removed", "🤖 beep", "beep"},
		{"extended-a removed", "🪐 orbit", "orbit"},
		{"misc symbol removed", "☀ sunny", "sunny"},
		{"dingbat with selector removed", "done ✔️", "done"},
		{"flag removed", "🇩🇪 Germany", "Germany"},
		{"zwj family sequence removed", "👨‍👩‍👧", ""},
		{"only emoji yields empty", "👍🎉", ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := StripForSpeech(tc.in); got != tc.want {
				t.Errorf("StripForSpeech(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
