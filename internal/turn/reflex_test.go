package turn

import (
	"testing"
	"time"
)

func fixedClock() time.Time {
	return time.Date(2026, time.March, 7, 15, 4, 0, 0, time.UTC)
}

func TestReflexMatcher_Match(t *testing.T) {
	t.Parallel()

	m := NewReflexMatcher(WithClock(fixedClock))

	tests := []struct {
		name      string
		input     string
		wantReply string
		wantOK    bool
	}{
		{
			name:      "canonical greeting",
			input:     "hello",
			wantReply: "Hi! How can I help you?",
			wantOK:    true,
		},
		{
			name:      "case and punctuation ignored",
			input:     "  Hello!!!  ",
			wantReply: GreetingReply,
			wantOK:    true,
		},
		{
			name:      "emoji stripped before matching",
			input:     "Hello! 👋",
			wantReply: GreetingReply,
			wantOK:    true,
		},
		{
			name:      "acknowledgement",
			input:     "ok",
			wantReply: "Got it. Anything else I can help with?",
			wantOK:    true,
		},
		{
			name:      "thanks",
			input:     "Thank you so much",
			wantReply: "You're welcome!",
			wantOK:    true,
		},
		{
			name:      "farewell",
			input:     "bye",
			wantReply: "Goodbye! Have a great day.",
			wantOK:    true,
		},
		{
			name:      "time uses injected clock",
			input:     "what time is it?",
			wantReply: "It is 3:04 PM.",
			wantOK:    true,
		},
		{
			name:      "date uses injected clock",
			input:     "What day is it",
			wantReply: "Today is Saturday, March 7, 2026.",
			wantOK:    true,
		},
		{
			name:      "misspelled greeting within distance one",
			input:     "helo",
			wantReply: GreetingReply,
			wantOK:    true,
		},
		{
			name:      "misspelled thanks within distance one",
			input:     "thannks",
			wantReply: "You're welcome!",
			wantOK:    true,
		},
		{
			name:   "short words never fuzzy match",
			input:  "no",
			wantOK: false,
		},
		{
			name:   "substantive question goes elsewhere",
			input:  "tell me about the roman empire",
			wantOK: false,
		},
		{
			name:   "empty input",
			input:  "",
			wantOK: false,
		},
		{
			name:   "punctuation only",
			input:  "!!!",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			reply, ok := m.Match(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("Match(%q) ok = %v, want %v", tt.input, ok, tt.wantOK)
			}
			if tt.wantOK && reply != tt.wantReply {
				t.Errorf("Match(%q) reply = %q, want %q", tt.input, reply, tt.wantReply)
			}
		})
	}
}

func TestReflexMatcher_DefaultClock(t *testing.T) {
	t.Parallel()

	m := NewReflexMatcher()
	reply, ok := m.Match("current time")
	if !ok {
		t.Fatal("expected a reflex match for a time question")
	}
	if reply == "" {
		t.Error("expected a non-empty time reply")
	}
}
