package pipeline

import (
	"strings"
	"unicode"
)

// pictographs covers the Unicode blocks that TTS engines render as garbage or
// skip with an audible gap: emoji, dingbats, transport symbols, regional
// indicator flags, plus the variation selector and zero-width joiner that
// stitch emoji sequences together.
var pictographs = &unicode.RangeTable{
	R16: []unicode.Range16{
		{Lo: 0x200D, Hi: 0x200D, Stride: 1}, // zero-width joiner
		{Lo: 0x2600, Hi: 0x26FF, Stride: 1}, // miscellaneous symbols
		{Lo: 0x2700, Hi: 0x27BF, Stride: 1}, // dingbats
		{Lo: 0xFE0F, Hi: 0xFE0F, Stride: 1}, // variation selector-16
	},
	R32: []unicode.Range32{
		{Lo: 0x1F1E6, Hi: 0x1F1FF, Stride: 1}, // regional indicators (flags)
		{Lo: 0x1F300, Hi: 0x1F5FF, Stride: 1}, // misc symbols and pictographs
		{Lo: 0x1F600, Hi: 0x1F64F, Stride: 1}, // emoticons
		{Lo: 0x1F680, Hi: 0x1F6FF, Stride: 1}, // transport and map
		{Lo: 0x1F900, Hi: 0x1F9FF, Stride: 1}, // supplemental symbols
		{Lo: 0x1FA70, Hi: 0x1FAFF, Stride: 1}, // symbols extended-A
	},
}

// StripForSpeech removes pictographic runes from a sentence before it is
// handed to the TTS provider. The text stream keeps the original runes; only
// the synthesis input is cleaned.
func StripForSpeech(s string) string {
	if !strings.ContainsFunc(s, isPictograph) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if isPictograph(r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

func isPictograph(r rune) bool {
	return unicode.Is(pictographs, r)
}
