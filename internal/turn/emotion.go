package turn

import (
	"strings"
	"unicode"

	"github.com/voxgate/voxgate/pkg/types"
)

// EmotionFeatures carries optional acoustic features extracted from the
// user's audio. Zero values mean the feature was not measured.
type EmotionFeatures struct {
	// Energy is normalized RMS energy in [0, 1].
	Energy float64

	// SpeechRate is words per second.
	SpeechRate float64
}

// EmotionDetector classifies the affect of one user turn from keywords,
// punctuation, and optional audio features. The result is attached to turn
// metadata only; it never changes how the turn is dispatched.
type EmotionDetector struct{}

// NewEmotionDetector returns the keyword-and-feature classifier.
func NewEmotionDetector() *EmotionDetector {
	return &EmotionDetector{}
}

var emotionKeywords = map[types.Emotion][]string{
	types.EmotionFrustrated: {
		"frustrated", "annoying", "annoyed", "ridiculous", "terrible",
		"awful", "worst", "hate", "useless", "broken", "not working",
		"doesnt work", "doesn't work", "still not", "fed up", "sick of",
		"wtf", "ugh", "come on",
	},
	types.EmotionHappy: {
		"great", "awesome", "love", "perfect", "wonderful", "amazing",
		"excellent", "fantastic", "brilliant", "haha", "lol", ":)", "😀",
		"😊", "🎉",
	},
	types.EmotionUrgent: {
		"urgent", "asap", "immediately", "right now", "emergency",
		"hurry", "quickly", "critical", "deadline", "now!",
	},
	types.EmotionConfused: {
		"confused", "dont understand", "don't understand", "unclear",
		"makes no sense", "what do you mean", "lost me", "huh",
		"i dont get", "i don't get",
	},
}

// emotionOrder breaks score ties: operational urgency beats sentiment.
var emotionOrder = []types.Emotion{
	types.EmotionUrgent,
	types.EmotionFrustrated,
	types.EmotionConfused,
	types.EmotionHappy,
}

// Detect scores text against each emotion's signals and returns the winner,
// or neutral when nothing scores. features may be nil.
func (d *EmotionDetector) Detect(text string, features *EmotionFeatures) types.Emotion {
	lower := strings.ToLower(text)
	scores := make(map[types.Emotion]int, len(emotionKeywords))

	for emotion, words := range emotionKeywords {
		for _, w := range words {
			if strings.Contains(lower, w) {
				scores[emotion] += 2
			}
		}
	}

	// Punctuation signals.
	exclaims := strings.Count(text, "!")
	if exclaims >= 2 {
		scores[types.EmotionFrustrated]++
		scores[types.EmotionUrgent]++
	}
	if strings.Contains(text, "??") {
		scores[types.EmotionConfused] += 2
	}
	if shoutingRatio(text) > 0.5 {
		scores[types.EmotionFrustrated] += 2
	}

	// Acoustic signals.
	if features != nil {
		if features.Energy > 0.8 {
			scores[types.EmotionUrgent]++
			scores[types.EmotionFrustrated]++
		}
		if features.SpeechRate > 3.5 {
			scores[types.EmotionUrgent] += 2
		}
	}

	best := types.EmotionNeutral
	bestScore := 0
	for _, e := range emotionOrder {
		if s := scores[e]; s > bestScore {
			best, bestScore = e, s
		}
	}
	return best
}

// shoutingRatio is the share of letters written in upper case, ignoring
// short inputs where capitals carry no signal.
func shoutingRatio(s string) float64 {
	var upper, letters int
	for _, r := range s {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	if letters < 8 {
		return 0
	}
	return float64(upper) / float64(letters)
}
