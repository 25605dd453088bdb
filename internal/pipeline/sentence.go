package pipeline

import (
	"strings"
	"unicode/utf8"
)

// sentenceDelimiters are the runes that may terminate a speakable sentence.
// Covers ASCII terminators, CJK full stops and full-width punctuation, and
// newline so list-style replies flush line by line.
const sentenceDelimiters = ".!?。！？\n"

// SentenceBuffer accumulates streamed text fragments and slices off complete
// sentences for downstream synthesis.
//
// After each append the buffer scans for the last delimiter in the
// accumulated text and, when one is present, cuts everything up to and
// including it as a single utterance. Cutting at the last delimiter rather
// than the first means a fragment carrying several short sentences ("Yes.
// Sure. One moment") yields one synthesis call instead of three, which keeps
// the TTS queue shallow on chatty models.
//
// SentenceBuffer is not safe for concurrent use; it is owned by the single
// producer goroutine of a turn.
type SentenceBuffer struct {
	buf strings.Builder
}

// Append adds a text fragment and returns a completed sentence when the
// accumulated text contains a delimiter. The returned sentence is trimmed of
// surrounding whitespace; ok is false when no delimiter has arrived yet or
// the completed slice was whitespace only.
func (b *SentenceBuffer) Append(text string) (sentence string, ok bool) {
	if text != "" {
		b.buf.WriteString(text)
	}
	s := b.buf.String()
	idx := strings.LastIndexAny(s, sentenceDelimiters)
	if idx < 0 {
		return "", false
	}
	_, size := utf8.DecodeRuneInString(s[idx:])
	cut := s[:idx+size]
	rest := s[idx+size:]

	b.buf.Reset()
	b.buf.WriteString(rest)

	sentence = strings.TrimSpace(cut)
	return sentence, sentence != ""
}

// Flush drains any residual text that never received a terminating delimiter.
// ok is false when the residue is empty or whitespace only.
func (b *SentenceBuffer) Flush() (sentence string, ok bool) {
	sentence = strings.TrimSpace(b.buf.String())
	b.buf.Reset()
	return sentence, sentence != ""
}

// Len reports the number of buffered bytes awaiting a delimiter.
func (b *SentenceBuffer) Len() int {
	return b.buf.Len()
}
