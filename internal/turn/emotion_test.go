package turn

import (
	"testing"

	"github.com/voxgate/voxgate/pkg/types"
)

func TestEmotionDetector_Detect(t *testing.T) {
	t.Parallel()

	d := NewEmotionDetector()

	tests := []struct {
		name     string
		text     string
		features *EmotionFeatures
		want     types.Emotion
	}{
		{
			name: "plain request is neutral",
			text: "can you summarize this document for me",
			want: types.EmotionNeutral,
		},
		{
			name: "positive keyword",
			text: "that is awesome, thanks",
			want: types.EmotionHappy,
		},
		{
			name: "celebration emoji",
			text: "it worked 🎉",
			want: types.EmotionHappy,
		},
		{
			name: "frustration keywords stack",
			text: "this is still not working",
			want: types.EmotionFrustrated,
		},
		{
			name: "all caps reads as frustration",
			text: "THIS IS COMPLETELY BROKEN",
			want: types.EmotionFrustrated,
		},
		{
			name: "urgency beats positivity on a tie",
			text: "great, but i need it asap",
			want: types.EmotionUrgent,
		},
		{
			name: "double question marks read as confusion",
			text: "what?? i don't understand this at all",
			want: types.EmotionConfused,
		},
		{
			name:     "high energy audio tips toward urgency",
			text:     "please check on my order",
			features: &EmotionFeatures{Energy: 0.9},
			want:     types.EmotionUrgent,
		},
		{
			name:     "fast speech reads as urgency",
			text:     "okay let me explain the situation",
			features: &EmotionFeatures{SpeechRate: 4.2},
			want:     types.EmotionUrgent,
		},
		{
			name:     "calm audio adds nothing",
			text:     "please check on my order",
			features: &EmotionFeatures{Energy: 0.2, SpeechRate: 1.5},
			want:     types.EmotionNeutral,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := d.Detect(tt.text, tt.features); got != tt.want {
				t.Errorf("Detect(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestShoutingRatio_IgnoresShortInputs(t *testing.T) {
	t.Parallel()

	if r := shoutingRatio("OK GO"); r != 0 {
		t.Errorf("shoutingRatio(short caps) = %v, want 0", r)
	}
	if r := shoutingRatio("ABSOLUTELY NOT HAPPENING"); r <= 0.5 {
		t.Errorf("shoutingRatio(long caps) = %v, want > 0.5", r)
	}
}
