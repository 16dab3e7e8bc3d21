package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseReply(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		prefix string
		want   []Translation
	}{
		{
			name:   "single pair",
			raw:    "Hola, ¿cómo estás?\n[EN] Hello, how are you?",
			prefix: "[EN]",
			want:   []Translation{{TargetText: "Hola, ¿cómo estás?", NativeText: "Hello, how are you?"}},
		},
		{
			name:   "multiple pairs keep order",
			raw:    "Buenos días.\n[EN] Good morning.\n¿Dormiste bien?\n[EN] Did you sleep well?",
			prefix: "[EN]",
			want: []Translation{
				{TargetText: "Buenos días.", NativeText: "Good morning."},
				{TargetText: "¿Dormiste bien?", NativeText: "Did you sleep well?"},
			},
		},
		{
			name:   "target without native half",
			raw:    "Hola.\nAdiós.\n[EN] Goodbye.",
			prefix: "[EN]",
			want: []Translation{
				{TargetText: "Hola."},
				{TargetText: "Adiós.", NativeText: "Goodbye."},
			},
		},
		{
			name:   "orphan native prefix",
			raw:    "[EN] Hello there.",
			prefix: "[EN]",
			want:   []Translation{{NativeText: "Hello there."}},
		},
		{
			name:   "blank lines ignored",
			raw:    "Hola.\n\n\n[EN] Hello.\n\n",
			prefix: "[EN]",
			want:   []Translation{{TargetText: "Hola.", NativeText: "Hello."}},
		},
		{
			name:   "no prefix configured",
			raw:    "line one\nline two",
			prefix: "",
			want:   []Translation{{TargetText: "line one"}, {TargetText: "line two"}},
		},
		{
			name:   "plain text without convention",
			raw:    "Just a reply with no translation.",
			prefix: "[EN]",
			want:   []Translation{{TargetText: "Just a reply with no translation."}},
		},
		{
			name:   "whitespace only",
			raw:    "   \n  ",
			prefix: "[EN]",
			want:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseReply(tt.raw, tt.prefix))
		})
	}
}

func TestParseReplyIsPure(t *testing.T) {
	raw := "Hola.\n[EN] Hello.\nAdiós.\n[EN] Goodbye."
	first := ParseReply(raw, "[EN]")
	second := ParseReply(raw, "[EN]")
	assert.Equal(t, first, second)
}
