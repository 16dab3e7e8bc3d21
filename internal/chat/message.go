// Package chat implements the turn orchestration engine: durable
// bounded history, window building, media lifecycle, response parsing,
// and the single-flight turn state machine with its enrichment fan-out.
package chat

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"lingua/internal/gemini"
)

// Role classifies a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleError     Role = "error"
	RoleStatus    Role = "status"
)

// Translation is one (target-language, native-language) sentence pair.
type Translation struct {
	TargetText string `json:"target"`
	NativeText string `json:"native"`
}

// ReplySuggestion is one suggested learner reply.
type ReplySuggestion struct {
	TargetText string `json:"target"`
	NativeText string `json:"native"`
}

// MediaBlob holds raw media bytes with their type.
type MediaBlob struct {
	Data     []byte
	MIMEType string
}

// Message is one conversation turn unit. Three independent variants of
// the same logical attachment may be present: DisplayMedia
// (full-fidelity), TransportMedia (size-reduced, model-facing), and
// RemoteRef (uploaded object reference).
type Message struct {
	ID        string
	Timestamp time.Time
	Role      Role

	Text         string
	Translations []Translation
	RawResponse  string

	DisplayMedia   *MediaBlob
	TransportMedia *MediaBlob
	RemoteRef      *gemini.FileRef

	IsGeneratingImage   bool
	ImageGenError       string
	GenerationStartedAt time.Time

	Thinking    bool
	ChatSummary string

	ReplySuggestions []ReplySuggestion
	SpeechCache      map[string][]byte
}

// NewMessage creates a message with a fresh id and timestamp.
func NewMessage(role Role) Message {
	return Message{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Role:      role,
	}
}

// HasAttachment reports whether any media variant is present.
func (m *Message) HasAttachment() bool {
	return m.DisplayMedia != nil || m.TransportMedia != nil || m.RemoteRef != nil
}

// IsRealTurn reports whether the message counts toward the history
// window budget: a finalized user or assistant turn.
func (m *Message) IsRealTurn() bool {
	return (m.Role == RoleUser || m.Role == RoleAssistant) && !m.Thinking
}

// ContentText returns the sendable text: joined translations when
// parsed, else the plain text.
func (m *Message) ContentText() string {
	if len(m.Translations) == 0 {
		return m.Text
	}
	var b strings.Builder
	for i, tr := range m.Translations {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(tr.TargetText)
	}
	return b.String()
}
