package turn

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/antzucaro/matchr"
)

// GreetingReply is the canonical reflex answer to a greeting.
const GreetingReply = "Hi! How can I help you?"

// reflexKind groups the fixed patterns the reflex path can answer without
// any external context.
type reflexKind int

const (
	reflexGreeting reflexKind = iota
	reflexAcknowledge
	reflexThanks
	reflexFarewell
	reflexTime
	reflexDate
)

// minFuzzyPatternLen keeps Levenshtein matching away from very short
// patterns, where distance 1 reaches unrelated words ("ok" vs "no").
const minFuzzyPatternLen = 4

// reflexKinds fixes the fuzzy-pass order so overlapping near-matches
// resolve deterministically.
var reflexKinds = []reflexKind{
	reflexGreeting, reflexAcknowledge, reflexThanks,
	reflexFarewell, reflexTime, reflexDate,
}

var reflexPatterns = map[reflexKind][]string{
	reflexGreeting: {
		"hi", "hello", "hey", "howdy", "yo", "hi there", "hello there",
		"hey there", "good morning", "good afternoon", "good evening",
	},
	reflexAcknowledge: {
		"ok", "okay", "got it", "sure", "alright", "cool", "sounds good",
		"makes sense", "understood",
	},
	reflexThanks: {
		"thanks", "thank you", "thanks a lot", "thank you so much", "thx",
		"many thanks",
	},
	reflexFarewell: {
		"bye", "goodbye", "bye bye", "see you", "see ya", "later",
		"good night", "gotta go", "talk to you later",
	},
	reflexTime: {
		"what time is it", "whats the time", "what is the time",
		"current time", "time please", "do you have the time",
	},
	reflexDate: {
		"what date is it", "whats the date", "what is the date",
		"current date", "what day is it", "whats todays date",
		"todays date", "what is today", "what day is today",
	},
}

// ReflexMatcher answers a small fixed set of inputs deterministically,
// without an LLM call. Matching is case-folded and punctuation-trimmed,
// exact first, then fuzzy with Levenshtein distance 1 for longer patterns
// so close misspellings ("helo", "thansk") still hit.
type ReflexMatcher struct {
	exact map[string]reflexKind
	clock func() time.Time
}

// ReflexOption configures a ReflexMatcher.
type ReflexOption func(*ReflexMatcher)

// WithClock overrides the time source for time/date answers.
func WithClock(clock func() time.Time) ReflexOption {
	return func(m *ReflexMatcher) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// NewReflexMatcher builds the matcher with the fixed pattern set.
func NewReflexMatcher(opts ...ReflexOption) *ReflexMatcher {
	m := &ReflexMatcher{
		exact: make(map[string]reflexKind),
		clock: time.Now,
	}
	for kind, patterns := range reflexPatterns {
		for _, p := range patterns {
			m.exact[p] = kind
		}
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Match reports whether input is answerable on the reflex path and returns
// the canned reply.
func (m *ReflexMatcher) Match(input string) (reply string, ok bool) {
	norm := normalizeReflex(input)
	if norm == "" {
		return "", false
	}
	if kind, found := m.exact[norm]; found {
		return m.reply(kind), true
	}
	// Fuzzy pass over the longer patterns only.
	for _, kind := range reflexKinds {
		for _, p := range reflexPatterns[kind] {
			if len(p) < minFuzzyPatternLen {
				continue
			}
			if matchr.Levenshtein(norm, p) <= 1 {
				return m.reply(kind), true
			}
		}
	}
	return "", false
}

func (m *ReflexMatcher) reply(kind reflexKind) string {
	switch kind {
	case reflexGreeting:
		return GreetingReply
	case reflexAcknowledge:
		return "Got it. Anything else I can help with?"
	case reflexThanks:
		return "You're welcome!"
	case reflexFarewell:
		return "Goodbye! Have a great day."
	case reflexTime:
		return fmt.Sprintf("It is %s.", m.clock().Format("3:04 PM"))
	case reflexDate:
		return fmt.Sprintf("Today is %s.", m.clock().Format("Monday, January 2, 2006"))
	default:
		return GreetingReply
	}
}

// normalizeReflex lowercases, drops punctuation and symbols, and collapses
// whitespace, so "Hello!!" and " hello " both hit the "hello" pattern.
func normalizeReflex(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
